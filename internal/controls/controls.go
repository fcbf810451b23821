// Package controls turns noisy switch and encoder inputs into clean events.
//
// It contains three layered state machines: a Debouncer that filters a raw
// boolean input, a Button that recognises gestures on top of one Debouncer,
// and an Encoder that counts turns from two Debouncers.
//
// This package has NO external side effects (no GPIO, MQTT, OS, or sleeps).
// Time is always injected: callers pass the current time.Time to Update, or a
// Clock to Poll. Each machine produces exactly one event per call and is not
// safe for concurrent use.
package controls

import (
	"fmt"
	"time"
)

// InputSwitch reads the raw logic level of an input.
type InputSwitch interface {
	// IsActive returns true when the input is in its active state.
	IsActive() (bool, error)
}

// Clock returns the current time. It is only ever read.
type Clock func() time.Time

// SystemClock is the wall/monotonic clock of the host.
var SystemClock Clock = time.Now

// elapsed reports whether at least d has passed from from to to.
// It fails instead of clamping when to precedes from.
func elapsed(from, to time.Time, d time.Duration) (bool, error) {
	if to.Before(from) {
		return false, &Error{
			Kind: TimeFailure,
			Err:  fmt.Errorf("%w: %s is %s before %s", ErrTimeWentBackwards, to.Format(time.RFC3339Nano), from.Sub(to), from.Format(time.RFC3339Nano)),
		}
	}
	return to.Sub(from) >= d, nil
}
