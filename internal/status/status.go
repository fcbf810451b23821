// Package status provides a thread-safe status tracker for the panel-controls daemon.
// It is written by the poll loop and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/panel-controls/internal/panel"
)

// RecentEvents is how many control events a snapshot keeps.
const RecentEvents = 20

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	TopicPrefix string
	HTTPAddr    string
	TracePath   string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Controls      []panel.ControlState
	Counts        panel.EventCounts
	Recent        []panel.Event // newest last
	PollErrors    int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets control states and event counts.
// Called from the poll loop on every tick; the tracker keeps the slices it is given.
func (t *Tracker) Update(controls []panel.ControlState, counts panel.EventCounts) {
	t.mu.Lock()
	t.snap.Controls = controls
	t.snap.Counts = counts
	t.mu.Unlock()
}

// AddEvents appends control events to the recent list, dropping the oldest.
func (t *Tracker) AddEvents(events []panel.Event) {
	if len(events) == 0 {
		return
	}
	t.mu.Lock()
	recent := append(append([]panel.Event(nil), t.snap.Recent...), events...)
	if len(recent) > RecentEvents {
		recent = recent[len(recent)-RecentEvents:]
	}
	t.snap.Recent = recent
	t.mu.Unlock()
}

// AddPollError counts a tick on which at least one control failed.
func (t *Tracker) AddPollError() {
	t.mu.Lock()
	t.snap.PollErrors++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
