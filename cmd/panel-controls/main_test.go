package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/panel-controls/internal/config"
	"github.com/sweeney/panel-controls/internal/gpio"
	"github.com/sweeney/panel-controls/internal/mqtt"
	"github.com/sweeney/panel-controls/internal/panel"
	"github.com/sweeney/panel-controls/internal/status"
	"github.com/sweeney/panel-controls/internal/trace"
	"github.com/sweeney/panel-controls/internal/web"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.IP != "" {
		t.Errorf("IP: got %q, want empty", info.IP)
	}
}

// --- flags and config ---

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != defaultConfigPath {
		t.Errorf("configPath: got %q, want %q", opts.configPath, defaultConfigPath)
	}
	if opts.printState {
		t.Error("printState should default to false")
	}
	if !reflect.DeepEqual(opts.overrides, config.FlagOverrides{}) {
		t.Errorf("expected no overrides, got %+v", opts.overrides)
	}
}

func TestParseFlagsOnlySetFlagsOverride(t *testing.T) {
	opts, err := parseFlags([]string{
		"-config", "/tmp/panel.yaml",
		"-poll", "10ms",
		"-broker", "",
		"-record", "/tmp/panel.trace",
		"-print-state",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != "/tmp/panel.yaml" || !opts.printState {
		t.Errorf("unexpected options: %+v", opts)
	}
	o := opts.overrides
	if o.Poll == nil || *o.Poll != 10*time.Millisecond {
		t.Errorf("Poll override: got %v", o.Poll)
	}
	if o.Broker == nil || *o.Broker != "" {
		t.Error("an explicitly empty -broker must still override")
	}
	if o.TracePath == nil || *o.TracePath != "/tmp/panel.trace" {
		t.Errorf("TracePath override: got %v", o.TracePath)
	}
	if o.Heartbeat != nil || o.HTTPAddr != nil || o.LogLevel != nil || o.Chip != nil || o.TopicPrefix != nil {
		t.Errorf("unset flags must not override: %+v", o)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	if _, err := parseFlags([]string{"-poll", "soon"}); err == nil {
		t.Error("expected error for bad duration")
	}
	if _, err := parseFlags([]string{"extra"}); err == nil {
		t.Error("expected error for positional argument")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"error", slog.LevelError, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
poll_ms: 20
buttons:
  - name: play
    line: 17
    debounce_ms: 10
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	poll := 7 * time.Millisecond
	broker := ""
	cfg, err := loadConfig(options{configPath: path, overrides: config.FlagOverrides{Poll: &poll, Broker: &broker}})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.PollMS != 7 {
		t.Errorf("PollMS: got %d, want 7", cfg.PollMS)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("Broker: got %q, want empty", cfg.MQTT.Broker)
	}
	if len(cfg.Buttons) != 1 || cfg.Buttons[0].DebounceMS != 10 {
		t.Errorf("unexpected buttons: %+v", cfg.Buttons)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("poll_ms: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(options{configPath: path}); err == nil {
		t.Error("expected error for a config without controls")
	}
	if _, err := loadConfig(options{configPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected error for a missing file")
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// fakeLines hands out scripted switches keyed by line offset.
type fakeLines map[int]*gpio.FakeSwitch

func (f fakeLines) open(lc gpio.LineConfig) (gpio.Switch, error) {
	sw, ok := f[lc.Offset]
	if !ok {
		return nil, fmt.Errorf("no line %d", lc.Offset)
	}
	return sw, nil
}

const F, T = false, true

// testLines scripts the play button; every other line stays low.
func testLines(play ...bool) fakeLines {
	if len(play) == 0 {
		play = []bool{F}
	}
	return fakeLines{
		17: gpio.NewFakeSwitch(gpio.Levels(play...)),
		5:  gpio.NewFakeSwitch(gpio.Levels(F)),
		6:  gpio.NewFakeSwitch(gpio.Levels(F)),
		22: gpio.NewFakeSwitch(gpio.Levels(F)),
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Buttons = []config.ButtonConfig{{Name: "play", Line: 17}}
	cfg.Encoders = []config.EncoderConfig{{Name: "volume", LineA: 5, LineB: 6, Divisor: 2, Counter: config.CounterInt8}}
	cfg.Switches = []config.SwitchConfig{{Name: "lid", Line: 22}}
	return &cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoop(t *testing.T, open panel.Opener, pub *mqtt.FakePublisher, heartbeat time.Duration, clock func() time.Time) loop {
	t.Helper()
	p, err := panel.New(testConfig(), open, t0)
	if err != nil {
		t.Fatalf("panel.New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return loop{
		panel:      p,
		publisher:  pub,
		mqttStatus: pub,
		tracker:    status.NewTracker(t0, status.Config{Broker: "tcp://localhost:1883"}),
		heartbeat:  heartbeat,
		now:        clock,
		logger:     discardLogger(),
	}
}

// runRunLoop drives runLoop for nTicks and then delivers signal.
func runRunLoop(t *testing.T, l loop, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(l, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return after signal")
		return nil
	}
}

func TestRunLoopNoEventsWhenIdle(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, testLines().open, pub, 0, fakeClock(t0, 10*time.Millisecond))

	if err := runRunLoop(t, l, 5, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 control events, got %v", pub.EventTypes())
	}
	if got := pub.SystemEventNames(); !reflect.DeepEqual(got, []string{"SHUTDOWN"}) {
		t.Errorf("system events: got %v, want [SHUTDOWN]", got)
	}
}

func TestRunLoopButtonClick(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, testLines(F, T, T, T, F, F, F).open, pub, 0, fakeClock(t0, 10*time.Millisecond))
	l.hub = web.NewHub(discardLogger(), web.HubConfig{})

	if err := runRunLoop(t, l, 7, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []string{"play:PRESSED", "play:CLICKED"}
	if got := pub.EventTypes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	if !pub.Events[0].Timestamp.Equal(t0.Add(20 * time.Millisecond)) {
		t.Errorf("PRESSED timestamp: got %v", pub.Events[0].Timestamp)
	}

	snap := l.tracker.Snapshot()
	if snap.Counts["play"]["CLICKED"] != 1 || len(snap.Recent) != 2 {
		t.Errorf("tracker not updated: counts %v, recent %d", snap.Counts, len(snap.Recent))
	}
	if snap.Controls[0].Last != "CLICKED" {
		t.Errorf("last event: got %q, want CLICKED", snap.Controls[0].Last)
	}
}

func TestRunLoopPollErrorContinues(t *testing.T) {
	lines := testLines(F, T, T, T, F, F, F)
	lines[22].ReadError = fmt.Errorf("line fault")

	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, lines.open, pub, 0, fakeClock(t0, 10*time.Millisecond))

	if err := runRunLoop(t, l, 7, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if got := pub.EventTypes(); !reflect.DeepEqual(got, []string{"play:PRESSED", "play:CLICKED"}) {
		t.Errorf("events: got %v", got)
	}
	snap := l.tracker.Snapshot()
	if snap.PollErrors != 7 {
		t.Errorf("PollErrors: got %d, want 7", snap.PollErrors)
	}
	if snap.Controls[2].Errors != 7 {
		t.Errorf("lid errors: got %d, want 7", snap.Controls[2].Errors)
	}
	if got := pub.SystemEventNames(); len(got) != 1 || got[0] != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN after errors, got %v", got)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishError = fmt.Errorf("broker unavailable")
	l := newTestLoop(t, testLines(F, T, T, T, F, F, F).open, pub, 0, fakeClock(t0, 10*time.Millisecond))

	if err := runRunLoop(t, l, 7, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	// Publish fails without recording, but the loop keeps going.
	if len(pub.Events) != 0 {
		t.Errorf("expected 0 recorded events (publish failed), got %d", len(pub.Events))
	}
	if l.tracker.Snapshot().Counts.Total() != 2 {
		t.Error("events should still be counted when publishing fails")
	}
	if got := pub.SystemEventNames(); len(got) != 1 || got[0] != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN despite publish errors, got %v", got)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")

	// Ticks at t0, +5m, +10m, +15m; the 15 minute heartbeat fires on the last.
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	l := newTestLoop(t, testLines().open, pub, 15*time.Minute, fakeClock(t0, 5*time.Minute))

	if err := runRunLoop(t, l, 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if got := pub.SystemEventNames(); !reflect.DeepEqual(got, []string{"HEARTBEAT", "SHUTDOWN"}) {
		t.Fatalf("system events: got %v, want [HEARTBEAT SHUTDOWN]", got)
	}
	hb := pub.SystemEvents[0]
	if !hb.Timestamp.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("heartbeat timestamp: got %v", hb.Timestamp)
	}
	if hb.Retained {
		t.Error("HEARTBEAT should not be retained")
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(pub.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if sj.Status.Event != "HEARTBEAT" {
		t.Errorf("payload event: got %q", sj.Status.Event)
	}
	if sj.Status.Network == nil || sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("heartbeat missing network info: %+v", sj.Status.Network)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("heartbeat should report the MQTT connection")
	}
	if len(sj.Status.Controls) != 3 {
		t.Errorf("heartbeat controls: got %d, want 3", len(sj.Status.Controls))
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	for _, tt := range []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	} {
		t.Run(tt.want, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()
			l := newTestLoop(t, testLines().open, pub, 0, fakeClock(t0, 10*time.Millisecond))

			if err := runRunLoop(t, l, 2, tt.sig); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}

			if len(pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
			}
			se := pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" || se.Reason != tt.want {
				t.Errorf("got %s/%s, want SHUTDOWN/%s", se.Event, se.Reason, tt.want)
			}
			if !se.Retained {
				t.Error("expected Retained=true for SHUTDOWN")
			}
		})
	}
}

func TestRunLoopRecordsTrace(t *testing.T) {
	var buf bytes.Buffer
	rec := trace.NewRecorderWriter(&buf)

	pub := mqtt.NewFakePublisher()
	lines := testLines(F, T, T, T, F, F, F)
	l := newTestLoop(t, rec.Wrap(lines.open), pub, 0, fakeClock(t0, 10*time.Millisecond))
	l.recorder = rec

	if err := runRunLoop(t, l, 7, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// One tick frame and four reads per tick.
	if n := rec.Frames(); n != 35 {
		t.Errorf("Frames: got %d, want 35", n)
	}
	tr, err := trace.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Ticks) != 7 || !tr.Ticks[2].Equal(t0.Add(20*time.Millisecond)) {
		t.Errorf("unexpected ticks: %v", tr.Ticks)
	}
	if tr.Lines("play") != 7 || tr.Lines("volume-b") != 7 {
		t.Errorf("unexpected reads: play %d, volume-b %d", tr.Lines("play"), tr.Lines("volume-b"))
	}
}

func TestPrintState(t *testing.T) {
	lines := testLines(T)
	lines[6].Set(true)
	p, err := panel.New(testConfig(), lines.open, t0)
	if err != nil {
		t.Fatalf("panel.New: %v", err)
	}
	defer p.Close()

	var out bytes.Buffer
	if err := printState(&out, p); err != nil {
		t.Fatalf("printState: %v", err)
	}
	want := "play: HIGH\nvolume-a: LOW\nvolume-b: HIGH\nlid: LOW\n"
	if out.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestPrintStateReadError(t *testing.T) {
	lines := testLines()
	lines[22].ReadError = fmt.Errorf("line fault")
	p, err := panel.New(testConfig(), lines.open, t0)
	if err != nil {
		t.Fatalf("panel.New: %v", err)
	}
	defer p.Close()

	if err := printState(io.Discard, p); err == nil {
		t.Error("expected read error")
	}
}
