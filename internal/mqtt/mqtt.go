// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/panel-controls/internal/panel"
)

// Topics derives every topic from one prefix.
type Topics struct {
	Prefix string
}

// Control is the topic for one control's events, e.g. "panel/controls/volume".
func (t Topics) Control(name string) string {
	return t.Prefix + "/controls/" + name
}

// System is the topic for system lifecycle events.
func (t Topics) System() string {
	return t.Prefix + "/system"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a control event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event panel.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Control ControlPayload `json:"control"`
}

// ControlPayload contains the control event details.
type ControlPayload struct {
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Event     string `json:"event"`
}

// FormatPayload creates the JSON payload for a control event.
// Timestamps keep millisecond precision so gestures can be ordered.
func FormatPayload(event panel.Event) ([]byte, error) {
	payload := Payload{
		Control: ControlPayload{
			Timestamp: event.Timestamp.UTC().Format(timestampFormat),
			Name:      event.Control,
			Kind:      string(event.Kind),
			Event:     event.Type,
		},
	}
	return json.Marshal(payload)
}

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillEvent is registered as the last will and published by the broker
// when the connection drops without a clean disconnect.
func WillEvent(now time.Time) SystemEvent {
	return SystemEvent{
		Timestamp: now,
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
		Retained:  true,
	}
}

// NopPublisher discards every event. It stands in when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(panel.Event) error       { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }
func (NopPublisher) Close() error                    { return nil }
func (NopPublisher) IsConnected() bool               { return false }
