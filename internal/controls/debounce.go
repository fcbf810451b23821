package controls

import "time"

// DebounceEvent is reported by every Debouncer update.
type DebounceEvent string

const (
	DebounceLow  DebounceEvent = "LOW"
	DebounceHigh DebounceEvent = "HIGH"
	DebounceRise DebounceEvent = "RISE"
	DebounceFall DebounceEvent = "FALL"
)

// IsEdge reports whether the event is a committed transition.
func (e DebounceEvent) IsEdge() bool {
	return e == DebounceRise || e == DebounceFall
}

type debouncePhase uint8

const (
	stableLow debouncePhase = iota
	stableHigh
	risingDisturbance
	fallingDisturbance
)

// debounceState is a value so callers in this package can roll it back.
type debounceState struct {
	phase debouncePhase
	since time.Time // start of the current disturbance
}

// Debouncer filters a raw input against transient noise.
//
// A raw level that disagrees with the stable level starts a disturbance.
// The disturbance is committed as RISE/FALL once the raw level has held for
// the debounce window, and cancelled as soon as a read returns to the old
// stable level. Until then the old stable level keeps being reported.
type Debouncer struct {
	input  InputSwitch
	window time.Duration
	state  debounceState
}

// NewDebouncer creates a Debouncer that starts stable low.
// A zero window commits a change on the poll after it is first seen.
func NewDebouncer(input InputSwitch, window time.Duration) *Debouncer {
	return &Debouncer{
		input:  input,
		window: window,
	}
}

// Update reads the input and advances the machine to now.
// On error nothing is changed.
func (d *Debouncer) Update(now time.Time) (DebounceEvent, error) {
	if d.input == nil {
		panic("controls: debouncer used after Release")
	}

	raw, err := d.input.IsActive()
	if err != nil {
		return "", inputFailure(err)
	}

	switch d.state.phase {
	case stableLow:
		if raw {
			d.state = debounceState{phase: risingDisturbance, since: now}
		}
		return DebounceLow, nil

	case stableHigh:
		if !raw {
			d.state = debounceState{phase: fallingDisturbance, since: now}
		}
		return DebounceHigh, nil

	case risingDisturbance:
		if !raw {
			d.state = debounceState{phase: stableLow}
			return DebounceLow, nil
		}
		done, err := elapsed(d.state.since, now, d.window)
		if err != nil {
			return "", err
		}
		if !done {
			return DebounceLow, nil
		}
		d.state = debounceState{phase: stableHigh}
		return DebounceRise, nil

	case fallingDisturbance:
		if raw {
			d.state = debounceState{phase: stableHigh}
			return DebounceHigh, nil
		}
		done, err := elapsed(d.state.since, now, d.window)
		if err != nil {
			return "", err
		}
		if !done {
			return DebounceHigh, nil
		}
		d.state = debounceState{phase: stableLow}
		return DebounceFall, nil
	}

	panic("controls: unknown debounce phase")
}

// Poll is Update with the time taken from clock.
func (d *Debouncer) Poll(clock Clock) (DebounceEvent, error) {
	return d.Update(clock())
}

// IsHigh reports whether the debounced level is active.
func (d *Debouncer) IsHigh() bool {
	return d.state.phase == stableHigh || d.state.phase == fallingDisturbance
}

// IsLow reports whether the debounced level is inactive.
func (d *Debouncer) IsLow() bool {
	return !d.IsHigh()
}

// Disturbed reports whether a change is pending confirmation.
func (d *Debouncer) Disturbed() bool {
	return d.state.phase == risingDisturbance || d.state.phase == fallingDisturbance
}

// Window returns the debounce window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// Input returns the wrapped input without giving up ownership.
func (d *Debouncer) Input() InputSwitch {
	return d.input
}

// Release hands the wrapped input back to the caller.
// The Debouncer must not be used afterwards.
func (d *Debouncer) Release() InputSwitch {
	in := d.input
	d.input = nil
	return in
}
