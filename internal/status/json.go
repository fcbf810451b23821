package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/panel-controls/internal/panel"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string                    `json:"event,omitempty"`
	Reason        string                    `json:"reason,omitempty"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	StartTime     string                    `json:"start_time"`
	Timestamp     string                    `json:"timestamp"`
	MQTT          MQTTStatus                `json:"mqtt"`
	Controls      []ControlJSON             `json:"controls"`
	Counts        map[string]map[string]int `json:"event_counts"`
	PollErrors    int                       `json:"poll_errors"`
	Recent        []EventJSON               `json:"recent_events,omitempty"`
	Network       *NetworkJSON              `json:"network,omitempty"`
	Config        ConfigJSON                `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ControlJSON is the JSON representation of one control.
type ControlJSON struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Active      bool   `json:"active"`
	ActiveB     *bool  `json:"active_b,omitempty"`
	Holding     *bool  `json:"holding,omitempty"`
	Pending     *bool  `json:"click_pending,omitempty"`
	Counter     *int64 `json:"counter,omitempty"`
	LastEvent   string `json:"last_event,omitempty"`
	LastEventAt string `json:"last_event_at,omitempty"`
	Errors      int    `json:"errors"`
}

// EventJSON is the JSON representation of a control event.
type EventJSON struct {
	Timestamp string `json:"timestamp"`
	Control   string `json:"control"`
	Kind      string `json:"kind"`
	Event     string `json:"event"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
	TracePath   string `json:"trace_path,omitempty"`
}

const millisFormat = "2006-01-02T15:04:05.000Z07:00"

// NewEventJSON converts a control event for JSON consumers.
func NewEventJSON(e panel.Event) EventJSON {
	return EventJSON{
		Timestamp: e.Timestamp.UTC().Format(millisFormat),
		Control:   e.Control,
		Kind:      string(e.Kind),
		Event:     e.Type,
	}
}

func buildControl(c panel.ControlState) ControlJSON {
	out := ControlJSON{
		Name:      c.Name,
		Kind:      string(c.Kind),
		Active:    c.Active,
		LastEvent: c.Last,
		Errors:    c.Errors,
	}
	if !c.LastAt.IsZero() {
		out.LastEventAt = c.LastAt.UTC().Format(millisFormat)
	}
	switch c.Kind {
	case panel.KindButton:
		holding, pending := c.Holding, c.Pending
		out.Holding = &holding
		out.Pending = &pending
	case panel.KindEncoder:
		b, counter := c.ActiveB, c.Counter
		out.ActiveB = &b
		out.Counter = &counter
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	controls := make([]ControlJSON, 0, len(snap.Controls))
	for _, c := range snap.Controls {
		controls = append(controls, buildControl(c))
	}

	counts := map[string]map[string]int(snap.Counts)
	if counts == nil {
		counts = map[string]map[string]int{}
	}

	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Controls:      controls,
		Counts:        counts,
		PollErrors:    snap.PollErrors,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
			TracePath:   snap.Config.TracePath,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
// It includes the recent control events.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)
	for _, e := range snap.Recent {
		inner.Recent = append(inner.Recent, NewEventJSON(e))
	}

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
