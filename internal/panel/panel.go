package panel

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/panel-controls/internal/config"
	"github.com/sweeney/panel-controls/internal/gpio"
)

// Opener requests one input line.
type Opener func(gpio.LineConfig) (gpio.Switch, error)

// Panel owns every configured control and polls them in config order:
// buttons, then encoders, then switches.
type Panel struct {
	controls      []control
	states        map[string]*ControlState
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// New opens every line described by cfg and builds the controls.
// Lines opened before a failure are closed again.
func New(cfg *config.Config, open Opener, startTime time.Time) (*Panel, error) {
	p := &Panel{
		states:        make(map[string]*ControlState),
		startTime:     startTime,
		eventCounts:   make(EventCounts),
		lastHeartbeat: startTime,
	}

	fail := func(err error) (*Panel, error) {
		p.Close()
		return nil, err
	}

	for _, bc := range cfg.Buttons {
		sw, err := open(cfg.ButtonLine(bc))
		if err != nil {
			return fail(fmt.Errorf("button %q: %w", bc.Name, err))
		}
		c, err := newButtonControl(bc, sw)
		if err != nil {
			sw.Close()
			return fail(fmt.Errorf("button %q: %w", bc.Name, err))
		}
		p.add(c)
	}

	for _, ec := range cfg.Encoders {
		la, lb := cfg.EncoderLines(ec)
		a, err := open(la)
		if err != nil {
			return fail(fmt.Errorf("encoder %q channel a: %w", ec.Name, err))
		}
		b, err := open(lb)
		if err != nil {
			a.Close()
			return fail(fmt.Errorf("encoder %q channel b: %w", ec.Name, err))
		}
		c, err := newEncoderControl(ec, a, b)
		if err != nil {
			a.Close()
			b.Close()
			return fail(fmt.Errorf("encoder %q: %w", ec.Name, err))
		}
		p.add(c)
	}

	for _, sc := range cfg.Switches {
		sw, err := open(cfg.SwitchLine(sc))
		if err != nil {
			return fail(fmt.Errorf("switch %q: %w", sc.Name, err))
		}
		c, err := newSwitchControl(sc, sw)
		if err != nil {
			sw.Close()
			return fail(fmt.Errorf("switch %q: %w", sc.Name, err))
		}
		p.add(c)
	}

	return p, nil
}

func (p *Panel) add(c control) {
	p.controls = append(p.controls, c)
	p.states[c.name()] = &ControlState{Name: c.name(), Kind: c.kind()}
}

// Poll updates every control once at now and returns the reportable events.
// A failing control is skipped for this tick and its error is included in the
// joined error; the other controls are still updated.
func (p *Panel) Poll(now time.Time) ([]Event, error) {
	var events []Event
	var errs []error

	for _, c := range p.controls {
		st := p.states[c.name()]
		typ, report, err := c.update(now)
		if err != nil {
			st.Errors++
			errs = append(errs, fmt.Errorf("%s %q: %w", c.kind(), c.name(), err))
			continue
		}
		c.fill(st)
		if !report {
			continue
		}
		st.Last = typ
		st.LastAt = now
		p.eventCounts.add(c.name(), typ)
		events = append(events, Event{
			Timestamp: now,
			Control:   c.name(),
			Kind:      c.kind(),
			Type:      typ,
		})
	}

	return events, errors.Join(errs...)
}

// States returns a copy of every control's state in poll order.
func (p *Panel) States() []ControlState {
	out := make([]ControlState, 0, len(p.controls))
	for _, c := range p.controls {
		out = append(out, *p.states[c.name()])
	}
	return out
}

// EventCountsSnapshot returns a copy of the current event counts.
func (p *Panel) EventCountsSnapshot() EventCounts {
	return p.eventCounts.clone()
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed or
// if interval is <= 0 (disabled).
func (p *Panel) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(p.lastHeartbeat) < interval {
		return nil
	}

	p.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(p.startTime),
		Counts:    p.eventCounts.clone(),
	}
}

// ReadRaw reads every line without debouncing.
func (p *Panel) ReadRaw() ([]RawLevel, error) {
	var out []RawLevel
	for _, c := range p.controls {
		levels, err := c.raw()
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", c.kind(), c.name(), err)
		}
		out = append(out, levels...)
	}
	return out, nil
}

// Close releases every line.
func (p *Panel) Close() error {
	var errs []error
	for _, c := range p.controls {
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", c.kind(), c.name(), err))
		}
	}
	p.controls = nil
	return errors.Join(errs...)
}
