// Command panel-controls polls front-panel buttons, rotary encoders and
// switches on GPIO lines and publishes their events to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/panel-controls/internal/config"
	"github.com/sweeney/panel-controls/internal/gpio"
	"github.com/sweeney/panel-controls/internal/mqtt"
	"github.com/sweeney/panel-controls/internal/panel"
	"github.com/sweeney/panel-controls/internal/status"
	"github.com/sweeney/panel-controls/internal/trace"
	"github.com/sweeney/panel-controls/internal/web"
)

const defaultConfigPath = "/etc/panel-controls/config.yaml"

type options struct {
	configPath string
	printState bool
	overrides  config.FlagOverrides
}

// parseFlags parses args. Only flags given on the command line end up in the
// overrides, so the config file wins otherwise.
func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("panel-controls", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "YAML config file")
	poll := fs.Duration("poll", 0, "Polling interval (overrides poll_ms)")
	heartbeat := fs.Duration("heartbeat", 0, "Heartbeat interval, 0 to disable (overrides heartbeat_ms)")
	chip := fs.String("chip", "", "Default GPIO chip")
	broker := fs.String("broker", "", "MQTT broker address, empty to disable")
	prefix := fs.String("topic-prefix", "", "MQTT topic prefix")
	httpAddr := fs.String("http", "", "HTTP status address, empty to disable")
	record := fs.String("record", "", "Record raw line reads to this trace file")
	logLevel := fs.String("log-level", "", "Log level: error, warn, info or debug")
	printState := fs.Bool("print-state", false, "Print raw line levels and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	opts := options{configPath: *configPath, printState: *printState}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			opts.overrides.Poll = poll
		case "heartbeat":
			opts.overrides.Heartbeat = heartbeat
		case "chip":
			opts.overrides.Chip = chip
		case "broker":
			opts.overrides.Broker = broker
		case "topic-prefix":
			opts.overrides.TopicPrefix = prefix
		case "http":
			opts.overrides.HTTPAddr = httpAddr
		case "record":
			opts.overrides.TracePath = record
		case "log-level":
			opts.overrides.LogLevel = logLevel
		}
	})
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	opts.overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

func setupLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func openRealSwitch(lc gpio.LineConfig) (gpio.Switch, error) {
	sw, err := gpio.NewRealSwitch(lc)
	if err != nil {
		return nil, err
	}
	return sw, nil
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := setupLogger(os.Stdout, level)

	startTime := time.Now()

	if opts.printState {
		p, err := panel.New(&cfg, openRealSwitch, startTime)
		if err != nil {
			return fmt.Errorf("init panel: %w", err)
		}
		defer p.Close()
		return printState(os.Stdout, p)
	}

	open := panel.Opener(openRealSwitch)
	var recorder *trace.Recorder
	if cfg.Trace.Path != "" {
		recorder, err = trace.NewRecorder(cfg.Trace.Path)
		if err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("trace close error", "path", cfg.Trace.Path, "err", err)
			}
			logger.Info("trace closed", "path", cfg.Trace.Path, "frames", recorder.Frames())
		}()
		open = recorder.Wrap(open)
	}

	p, err := panel.New(&cfg, open, startTime)
	if err != nil {
		return fmt.Errorf("init panel: %w", err)
	}
	defer p.Close()

	// Initialize MQTT
	var publisher interface {
		mqtt.Publisher
		mqtt.ConnectionStatus
	} = mqtt.NopPublisher{}
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = rp
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(startTime, status.Config{
		PollMs:      cfg.Poll().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
		TracePath:   cfg.Trace.Path,
	})
	tracker.Update(p.States(), p.EventCountsSnapshot())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.Warn("failed to publish startup event", "err", err)
	} else {
		logger.Info("published startup event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP status server
	var hub *web.Hub
	if cfg.HTTP.Addr != "" {
		hub = web.NewHub(logger, web.HubConfig{})
		go hub.Run(ctx)

		srv := web.New(cfg.HTTP.Addr, tracker, hub, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"poll", cfg.Poll(),
		"heartbeat", cfg.Heartbeat(),
		"broker", cfg.MQTT.Broker,
		"buttons", len(cfg.Buttons),
		"encoders", len(cfg.Encoders),
		"switches", len(cfg.Switches),
	)

	ticker := time.NewTicker(cfg.Poll())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		panel:      p,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		hub:        hub,
		recorder:   recorder,
		heartbeat:  cfg.Heartbeat(),
		now:        time.Now,
		logger:     logger,
	}, ticker.C, sigCh)
}

// loop holds everything runLoop touches. hub and recorder may be nil.
type loop struct {
	panel      *panel.Panel
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	hub        *web.Hub
	recorder   *trace.Recorder
	heartbeat  time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func runLoop(l loop, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			l.logger.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			l.refreshConnection()
			snap := l.tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  l.now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := l.publisher.PublishSystem(event); err != nil {
				l.logger.Warn("failed to publish shutdown event", "err", err)
			} else {
				l.logger.Info("published shutdown event")
			}
			return nil

		case <-tick:
			l.step(l.now())
		}
	}
}

// step runs one poll tick.
func (l loop) step(t time.Time) {
	if l.recorder != nil {
		l.recorder.Tick(t)
	}

	events, err := l.panel.Poll(t)
	if err != nil {
		// Failing controls are skipped for this tick only.
		l.logger.Warn("poll error", "err", err)
		l.tracker.AddPollError()
	}

	for _, event := range events {
		l.logger.Info("event", "control", event.Control, "kind", event.Kind, "event", event.Type)
		if err := l.publisher.Publish(event); err != nil {
			l.logger.Warn("publish error", "control", event.Control, "err", err)
		}
	}
	if l.hub != nil && len(events) > 0 {
		l.hub.BroadcastEvents(events)
	}

	// Update status tracker for HTTP consumers
	l.tracker.AddEvents(events)
	l.tracker.Update(l.panel.States(), l.panel.EventCountsSnapshot())
	l.refreshConnection()

	if hb := l.panel.CheckHeartbeat(t, l.heartbeat); hb != nil {
		l.logger.Info("heartbeat", "uptime", hb.Uptime, "events", hb.Counts.Total())

		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		snap := l.tracker.Snapshot()
		hbEvent := mqtt.SystemEvent{
			Timestamp:  hb.Timestamp,
			Event:      "HEARTBEAT",
			RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
		}
		if err := l.publisher.PublishSystem(hbEvent); err != nil {
			l.logger.Warn("heartbeat publish error", "err", err)
		}
	}
}

func (l loop) refreshConnection() {
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// printState writes one line per input with its raw level.
func printState(w io.Writer, p *panel.Panel) error {
	levels, err := p.ReadRaw()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	for _, lv := range levels {
		name := lv.Control
		if lv.Channel != "" {
			name += "-" + lv.Channel
		}
		fmt.Fprintf(w, "%s: %s\n", name, levelString(lv.Active))
	}
	return nil
}

func levelString(active bool) string {
	if active {
		return "HIGH"
	}
	return "LOW"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
