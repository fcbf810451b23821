package controls

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/constraints"
)

// EncoderEvent is reported by every Encoder update.
type EncoderEvent string

const (
	EncoderNoTurn           EncoderEvent = "NO_TURN"
	EncoderClockwise        EncoderEvent = "CLOCKWISE"
	EncoderCounterClockwise EncoderEvent = "COUNTER_CLOCKWISE"
)

// EncoderConfig configures an Encoder with counter type C.
type EncoderConfig[C constraints.Signed] struct {
	// Debounce is the window applied to both channels.
	Debounce time.Duration
	// Divisor is the number of pulses per reported turn.
	Divisor C
}

// Validate checks the configuration.
func (c EncoderConfig[C]) Validate() error {
	if c.Debounce < 0 {
		return errors.New("debounce must be >= 0")
	}
	if c.Divisor <= 0 {
		return errors.New("divisor must be > 0")
	}
	// One tick can add two pulses before the counter is folded back.
	if c.Divisor+2 < c.Divisor {
		return fmt.Errorf("divisor %d leaves no headroom in the counter type", c.Divisor)
	}
	return nil
}

// Encoder decodes a two-channel rotary encoder.
//
// Channel A is advanced before channel B on every tick. An edge on A is
// signed by B's level from before this tick; an edge on B is signed by A's
// level after this tick. Simultaneous edges on both channels therefore count
// differently from a four-state gray-code table.
type Encoder[C constraints.Signed] struct {
	a, b    *Debouncer
	divisor C
	counter C
}

// NewEncoder creates an Encoder with both channels stable low and a zero counter.
func NewEncoder[C constraints.Signed](a, b InputSwitch, cfg EncoderConfig[C]) (*Encoder[C], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("encoder config: %w", err)
	}
	return &Encoder[C]{
		a:       NewDebouncer(a, cfg.Debounce),
		b:       NewDebouncer(b, cfg.Debounce),
		divisor: cfg.Divisor,
	}, nil
}

// Update reads both channels and advances the encoder to now.
// A turn is reported once the counter reaches the divisor in either direction;
// the counter then keeps only the remainder (counter % divisor), so a tick
// that overshoots by one pulse carries it into the next turn.
// On error both channels and the counter are left unchanged.
func (e *Encoder[C]) Update(now time.Time) (EncoderEvent, error) {
	savedA := e.a.state

	bBefore := e.b.IsHigh()
	edgeA, err := e.a.Update(now)
	if err != nil {
		return "", err
	}
	edgeB, err := e.b.Update(now)
	if err != nil {
		e.a.state = savedA
		return "", err
	}

	e.counter += pulse[C](edgeA, bBefore, 1)
	e.counter += pulse[C](edgeB, e.a.IsHigh(), -1)

	if e.counter < e.divisor && e.counter > -e.divisor {
		return EncoderNoTurn, nil
	}

	turn := EncoderClockwise
	if e.counter < 0 {
		turn = EncoderCounterClockwise
	}
	e.counter %= e.divisor
	return turn, nil
}

// Poll is Update with the time taken from clock.
func (e *Encoder[C]) Poll(clock Clock) (EncoderEvent, error) {
	return e.Update(clock())
}

// pulse returns the signed contribution of one channel's edge given the
// other channel's debounced level.
func pulse[C constraints.Signed](edge DebounceEvent, antagonistHigh bool, direction C) C {
	switch edge {
	case DebounceRise:
		if antagonistHigh {
			return -direction
		}
		return direction
	case DebounceFall:
		if antagonistHigh {
			return direction
		}
		return -direction
	default:
		return 0
	}
}

// Counter returns the pulses accumulated since the last turn.
func (e *Encoder[C]) Counter() C {
	return e.counter
}

// Divisor returns the pulses per turn.
func (e *Encoder[C]) Divisor() C {
	return e.divisor
}

// IsHighA reports channel A's debounced level.
func (e *Encoder[C]) IsHighA() bool {
	return e.a.IsHigh()
}

// IsHighB reports channel B's debounced level.
func (e *Encoder[C]) IsHighB() bool {
	return e.b.IsHigh()
}

// Inputs returns both wrapped inputs without giving up ownership.
func (e *Encoder[C]) Inputs() (InputSwitch, InputSwitch) {
	return e.a.Input(), e.b.Input()
}

// Release hands both wrapped inputs back to the caller.
// The Encoder must not be used afterwards.
func (e *Encoder[C]) Release() (InputSwitch, InputSwitch) {
	return e.a.Release(), e.b.Release()
}
