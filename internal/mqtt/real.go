package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/panel-controls/internal/panel"
)

// DefaultBufferSize is the number of messages kept while disconnected.
const DefaultBufferSize = 256

const publishTimeout = 5 * time.Second

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	BufferSize  int
}

// publishClient is the part of paho.Client the publisher uses.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker.
// Messages published while disconnected are buffered and replayed in order
// once the connection is (re-)established.
type RealPublisher struct {
	client publishClient
	topics Topics
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	connected     bool
	everConnected bool
	buffer        *ringBuffer
}

// NewRealPublisher creates a publisher and starts connecting in the background.
// It never blocks on the broker: until the first connection succeeds every
// message is buffered.
func NewRealPublisher(opts Options, logger *slog.Logger) (*RealPublisher, error) {
	p := newPublisher(opts, logger, time.Now)

	will, err := FormatSystemPayload(WillEvent(p.now()))
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(false).
		SetBinaryWill(p.topics.System(), will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.onConnectionLost(err) })

	client := paho.NewClient(co)
	p.client = client
	client.Connect()

	return p, nil
}

func newPublisher(opts Options, logger *slog.Logger, now func() time.Time) *RealPublisher {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &RealPublisher{
		topics: Topics{Prefix: opts.TopicPrefix},
		logger: logger.With("component", "mqtt", "broker", opts.Broker),
		now:    now,
		buffer: newRingBuffer(size),
	}
}

// Publish sends a control event to the MQTT broker.
func (p *RealPublisher) Publish(event panel.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: p.topics.Control(event.Control), payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.send(bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		if p.buffer.push(msg) {
			p.logger.Warn("buffer full, dropping oldest", "capacity", p.buffer.capacity)
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.publish(msg)
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// onConnect replays buffered messages and announces a reconnection.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	p.connected = true
	reconnected := p.everConnected
	p.everConnected = true
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	p.logger.Info("connected", "buffered", len(pending), "reconnect", reconnected)

	for _, msg := range pending {
		if err := p.publish(msg); err != nil {
			p.logger.Warn("replay failed", "err", err)
		}
	}

	if reconnected {
		// Retained so it replaces the OFFLINE will left by the broker.
		ev := SystemEvent{Timestamp: p.now(), Event: "RECONNECTED", Retained: true}
		if err := p.PublishSystem(ev); err != nil {
			p.logger.Warn("failed to publish reconnect event", "err", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.logger.Warn("connection lost, buffering", "err", err)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
