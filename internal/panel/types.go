// Package panel polls a named set of controls together on every tick.
// Like controls, it has no side effects beyond reading its inputs, and time is
// always passed in.
package panel

import "time"

// Kind identifies the recognizer behind a control.
type Kind string

const (
	KindButton  Kind = "button"
	KindEncoder Kind = "encoder"
	KindSwitch  Kind = "switch"
)

// Event is a non-idle result of one control's update.
type Event struct {
	Timestamp time.Time
	Control   string
	Kind      Kind
	Type      string // e.g. CLICKED, CLOCKWISE, RISE
}

// ControlState is a point-in-time view of one control.
type ControlState struct {
	Name    string
	Kind    Kind
	Active  bool  // button pressed, switch high, or encoder channel A high
	ActiveB bool  // encoder channel B high
	Holding bool  // button only
	Pending bool  // button waiting for a possible second click
	Counter int64 // encoder pulses since the last turn
	Last    string
	LastAt  time.Time
	Errors  int
}

// EventCounts counts events per control and type since startup.
type EventCounts map[string]map[string]int

func (c EventCounts) add(control, typ string) {
	m, ok := c[control]
	if !ok {
		m = make(map[string]int)
		c[control] = m
	}
	m[typ]++
}

func (c EventCounts) clone() EventCounts {
	out := make(EventCounts, len(c))
	for control, m := range c {
		cm := make(map[string]int, len(m))
		for typ, n := range m {
			cm[typ] = n
		}
		out[control] = cm
	}
	return out
}

// Total returns the number of events across all controls.
func (c EventCounts) Total() int {
	n := 0
	for _, m := range c {
		for _, v := range m {
			n += v
		}
	}
	return n
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

// RawLevel is an undebounced read of one line.
type RawLevel struct {
	Control string
	Channel string // "a" or "b" for encoders, empty otherwise
	Active  bool
}
