package controls

import (
	"errors"
	"fmt"
	"time"
)

// ButtonEvent is reported by every Button update.
type ButtonEvent string

const (
	// ButtonIdle means nothing happened this tick.
	ButtonIdle    ButtonEvent = "IDLE"
	ButtonPressed ButtonEvent = "PRESSED"
	// ButtonReleased is only reported with double-click enabled: a short press
	// ended and its click is pending until the gap window expires (CLICKED) or
	// a second press completes (DOUBLE_CLICKED).
	ButtonReleased      ButtonEvent = "RELEASED"
	ButtonClicked       ButtonEvent = "CLICKED"
	ButtonDoubleClicked ButtonEvent = "DOUBLE_CLICKED"
	ButtonHoldStarted   ButtonEvent = "HOLD_STARTED"
	ButtonHolding       ButtonEvent = "HOLDING"
	ButtonHoldFinished  ButtonEvent = "HOLD_FINISHED"
)

// DoubleClickConfig enables double-click detection.
type DoubleClickConfig struct {
	// MaxPressDuration is the longest press that still counts as part of a double click.
	MaxPressDuration time.Duration
	// MaxGapDuration is how long after a release a second press may start.
	MaxGapDuration time.Duration
}

// HoldConfig enables hold detection.
type HoldConfig struct {
	// CaptureDuration is how long a press lasts before it becomes a hold.
	CaptureDuration time.Duration
	// PeriodDuration is the interval between HOLDING events.
	PeriodDuration time.Duration
}

// ButtonConfig configures a Button. Nil DoubleClick or Hold disables that gesture.
type ButtonConfig struct {
	Debounce    time.Duration
	DoubleClick *DoubleClickConfig
	Hold        *HoldConfig
}

// Validate checks the configuration.
func (c ButtonConfig) Validate() error {
	if c.Debounce < 0 {
		return errors.New("debounce must be >= 0")
	}
	if dc := c.DoubleClick; dc != nil {
		if dc.MaxPressDuration <= 0 {
			return errors.New("double click max press duration must be > 0")
		}
		if dc.MaxGapDuration <= 0 {
			return errors.New("double click max gap duration must be > 0")
		}
	}
	if h := c.Hold; h != nil {
		if h.CaptureDuration <= 0 {
			return errors.New("hold capture duration must be > 0")
		}
		if h.PeriodDuration <= 0 {
			return errors.New("hold period duration must be > 0")
		}
	}
	return nil
}

type buttonPhase uint8

const (
	buttonIdle buttonPhase = iota
	buttonPressed
	buttonHolding
	// buttonReleased waits for a second press within the gap window.
	buttonReleased
	// buttonClickOwed reports a click that could not be reported on its own tick.
	buttonClickOwed
)

type buttonState struct {
	phase   buttonPhase
	since   time.Time // press start, or release time in buttonReleased
	pending bool      // an earlier click is waiting for this press to finish
	periods int       // HOLDING events reported in the current hold
}

// Button recognises gestures from one debounced input.
type Button struct {
	input *Debouncer
	cfg   ButtonConfig
	state buttonState
}

// NewButton creates an idle Button.
func NewButton(input InputSwitch, cfg ButtonConfig) (*Button, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("button config: %w", err)
	}
	return &Button{
		input: NewDebouncer(input, cfg.Debounce),
		cfg:   cfg,
	}, nil
}

// Update reads the input and advances the button to now.
// On error the button and its debouncer are left unchanged.
func (b *Button) Update(now time.Time) (ButtonEvent, error) {
	saved := b.input.state

	level, err := b.input.Update(now)
	if err != nil {
		return "", err
	}

	next, event, err := b.step(level, now)
	if err != nil {
		b.input.state = saved
		return "", err
	}
	b.state = next
	return event, nil
}

// Poll is Update with the time taken from clock.
func (b *Button) Poll(clock Clock) (ButtonEvent, error) {
	return b.Update(clock())
}

func (b *Button) step(level DebounceEvent, now time.Time) (buttonState, ButtonEvent, error) {
	s := b.state
	down := level == DebounceRise || level == DebounceHigh

	switch s.phase {
	case buttonIdle:
		if down {
			return buttonState{phase: buttonPressed, since: now}, ButtonPressed, nil
		}
		return s, ButtonIdle, nil

	case buttonPressed:
		if !down {
			return b.release(s, now)
		}
		return b.press(s, now)

	case buttonHolding:
		if !down {
			return buttonState{}, ButtonHoldFinished, nil
		}
		due := b.cfg.Hold.CaptureDuration + time.Duration(s.periods+1)*b.cfg.Hold.PeriodDuration
		tick, err := elapsed(s.since, now, due)
		if err != nil {
			return s, "", err
		}
		if tick {
			s.periods++
			return s, ButtonHolding, nil
		}
		return s, ButtonIdle, nil

	case buttonReleased:
		expired, err := elapsed(s.since, now, b.cfg.DoubleClick.MaxGapDuration)
		if err != nil {
			return s, "", err
		}
		if expired {
			// A press seen on this tick is picked up by the idle phase next tick.
			return buttonState{}, ButtonClicked, nil
		}
		if down {
			return buttonState{phase: buttonPressed, since: now, pending: true}, ButtonPressed, nil
		}
		return s, ButtonIdle, nil

	case buttonClickOwed:
		return buttonState{}, ButtonClicked, nil
	}

	panic("controls: unknown button phase")
}

// press handles a tick while the button stays down.
func (b *Button) press(s buttonState, now time.Time) (buttonState, ButtonEvent, error) {
	holdDue := false
	if b.cfg.Hold != nil {
		var err error
		holdDue, err = elapsed(s.since, now, b.cfg.Hold.CaptureDuration)
		if err != nil {
			return s, "", err
		}
	}

	if s.pending {
		long, err := elapsed(s.since, now, b.cfg.DoubleClick.MaxPressDuration)
		if err != nil {
			return s, "", err
		}
		if long || holdDue {
			// Too long for a double click: the first click stands on its own.
			s.pending = false
			return s, ButtonClicked, nil
		}
		return s, ButtonIdle, nil
	}

	if holdDue {
		return buttonState{phase: buttonHolding, since: s.since}, ButtonHoldStarted, nil
	}
	return s, ButtonIdle, nil
}

// release handles the tick on which a press (not a hold) ends.
func (b *Button) release(s buttonState, now time.Time) (buttonState, ButtonEvent, error) {
	if b.cfg.DoubleClick == nil {
		return buttonState{}, ButtonClicked, nil
	}

	long, err := elapsed(s.since, now, b.cfg.DoubleClick.MaxPressDuration)
	if err != nil {
		return s, "", err
	}

	switch {
	case s.pending && !long:
		return buttonState{}, ButtonDoubleClicked, nil
	case s.pending:
		return buttonState{phase: buttonClickOwed}, ButtonClicked, nil
	case long:
		return buttonState{}, ButtonClicked, nil
	default:
		return buttonState{phase: buttonReleased, since: now}, ButtonReleased, nil
	}
}

// IsPressed reports whether the debounced input is active.
func (b *Button) IsPressed() bool {
	return b.input.IsHigh()
}

// IsReleased reports whether the debounced input is inactive.
func (b *Button) IsReleased() bool {
	return b.input.IsLow()
}

// IsHolding reports whether the button is in a hold.
func (b *Button) IsHolding() bool {
	return b.state.phase == buttonHolding
}

// ClickPending reports whether a click is waiting for a possible second press.
func (b *Button) ClickPending() bool {
	return b.state.phase == buttonReleased || b.state.pending || b.state.phase == buttonClickOwed
}

// Input returns the wrapped input without giving up ownership.
func (b *Button) Input() InputSwitch {
	return b.input.Input()
}

// Release hands the wrapped input back to the caller.
// The Button must not be used afterwards.
func (b *Button) Release() InputSwitch {
	return b.input.Release()
}
