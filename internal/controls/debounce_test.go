package controls

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/sweeney/panel-controls/internal/gpio"
)

var testEpoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// tick returns the n-th millisecond after testEpoch.
func tick(n int) time.Time {
	return testEpoch.Add(time.Duration(n) * time.Millisecond)
}

// tickClock returns a Clock that yields tick(1), tick(2), ... on successive calls.
func tickClock() Clock {
	n := 0
	return func() time.Time {
		n++
		return tick(n)
	}
}

func expectDebounce(t *testing.T, d *Debouncer, clock Clock, want DebounceEvent, wantHigh bool) {
	t.Helper()
	got, err := d.Poll(clock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if d.IsHigh() != wantHigh {
		t.Errorf("expected IsHigh=%v after %s", wantHigh, got)
	}
	if d.IsLow() == d.IsHigh() {
		t.Error("IsLow must be the negation of IsHigh")
	}
}

func TestDebouncerSteadyTransitions(t *testing.T) {
	sw := gpio.NewFakeSwitch(gpio.Levels(false, true, true, true, true, true, false, false, false, false, false))
	d := NewDebouncer(sw, 3*time.Millisecond)
	clock := tickClock()

	for i := 0; i < 4; i++ {
		expectDebounce(t, d, clock, DebounceLow, false)
	}
	expectDebounce(t, d, clock, DebounceRise, true)
	for i := 0; i < 4; i++ {
		expectDebounce(t, d, clock, DebounceHigh, true)
	}
	expectDebounce(t, d, clock, DebounceFall, false)
	expectDebounce(t, d, clock, DebounceLow, false)
}

func TestDebouncerIgnoresBounce(t *testing.T) {
	sw := gpio.NewFakeSwitch(gpio.Levels(
		false, true, false, true, true, true, true, true,
		false, true, false, false, false, false, false,
	))
	d := NewDebouncer(sw, 3*time.Millisecond)
	clock := tickClock()

	for i := 0; i < 6; i++ {
		expectDebounce(t, d, clock, DebounceLow, false)
	}
	expectDebounce(t, d, clock, DebounceRise, true)
	for i := 0; i < 6; i++ {
		expectDebounce(t, d, clock, DebounceHigh, true)
	}
	expectDebounce(t, d, clock, DebounceFall, false)
	expectDebounce(t, d, clock, DebounceLow, false)
}

func TestDebouncerReversalCancelsDisturbance(t *testing.T) {
	sw := gpio.NewFakeSwitch(gpio.Levels(true, false, true, true))
	d := NewDebouncer(sw, 2*time.Millisecond)

	// Disturbance starts at t=1
	if ev, _ := d.Update(tick(1)); ev != DebounceLow {
		t.Fatalf("expected LOW, got %s", ev)
	}
	if !d.Disturbed() {
		t.Fatal("expected disturbance after first active read")
	}

	// Back at the stable level: disturbance cancelled
	d.Update(tick(2))
	if d.Disturbed() {
		t.Fatal("expected disturbance cancelled by reversal")
	}

	// New disturbance at t=3; t=4 is only 1ms later, so no commit
	d.Update(tick(3))
	if ev, _ := d.Update(tick(4)); ev != DebounceLow {
		t.Errorf("expected LOW before window elapses from the new disturbance, got %s", ev)
	}
}

func TestDebouncerZeroWindow(t *testing.T) {
	sw := gpio.NewFakeSwitch(gpio.Levels(true, true))
	d := NewDebouncer(sw, 0)

	if ev, _ := d.Update(tick(1)); ev != DebounceLow {
		t.Errorf("expected LOW on first disagreeing read, got %s", ev)
	}
	if ev, _ := d.Update(tick(1)); ev != DebounceRise {
		t.Errorf("expected RISE on the next read, got %s", ev)
	}
}

func TestDebouncerInputError(t *testing.T) {
	fault := errors.New("Some error")
	sw := gpio.NewFakeSwitch([]gpio.Sample{{Err: fault}, {Active: true}})
	d := NewDebouncer(sw, 3*time.Millisecond)
	clock := tickClock()

	_, err := d.Poll(clock)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsInputFailure(err) {
		t.Errorf("expected input failure, got %v", err)
	}
	if !errors.Is(err, fault) {
		t.Errorf("expected wrapped input error, got %v", err)
	}
	if d.IsHigh() || d.Disturbed() {
		t.Error("failed update must not change state")
	}

	expectDebounce(t, d, clock, DebounceLow, false)
}

func TestDebouncerTimeWentBackwards(t *testing.T) {
	sw := gpio.NewFakeSwitch(gpio.Levels(true))
	d := NewDebouncer(sw, 3*time.Millisecond)

	d.Update(tick(5))

	_, err := d.Update(tick(3))
	if !IsTimeFailure(err) {
		t.Fatalf("expected time failure, got %v", err)
	}
	if !errors.Is(err, ErrTimeWentBackwards) {
		t.Errorf("expected ErrTimeWentBackwards, got %v", err)
	}
	if !d.Disturbed() {
		t.Error("failed update must keep the pending disturbance")
	}

	// Window measured from the original disturbance at t=5
	if ev, _ := d.Update(tick(7)); ev != DebounceLow {
		t.Errorf("expected LOW at t=7, got %s", ev)
	}
	if ev, _ := d.Update(tick(8)); ev != DebounceRise {
		t.Errorf("expected RISE at t=8, got %s", ev)
	}
}

func TestDebouncerSettledIsIdempotent(t *testing.T) {
	sw := gpio.NewFakeSwitch(gpio.Levels(true))
	d := NewDebouncer(sw, 3*time.Millisecond)
	clock := tickClock()

	for i := 0; i < 3; i++ {
		d.Poll(clock)
	}
	expectDebounce(t, d, clock, DebounceRise, true)
	for i := 0; i < 50; i++ {
		expectDebounce(t, d, clock, DebounceHigh, true)
	}
}

// TestDebouncerNeverCommitsShortRuns drives random raw input and checks that
// every committed edge was preceded by an uninterrupted run of at least the window.
func TestDebouncerNeverCommitsShortRuns(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const window = 5 * time.Millisecond

	levels := make([]bool, 2000)
	for i := range levels {
		// Mostly sticky input with frequent glitches
		if i > 0 && rng.Intn(4) != 0 {
			levels[i] = levels[i-1]
		} else {
			levels[i] = rng.Intn(2) == 0
		}
	}

	d := NewDebouncer(gpio.NewFakeSwitch(gpio.Levels(levels...)), window)
	runStart := tick(0)
	stable := false

	for i, raw := range levels {
		now := tick(i)
		if i > 0 && raw != levels[i-1] {
			runStart = now
		}

		ev, err := d.Update(now)
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}

		switch ev {
		case DebounceRise, DebounceFall:
			if now.Sub(runStart) < window {
				t.Fatalf("tick %d: %s after a run of only %v", i, ev, now.Sub(runStart))
			}
			if (ev == DebounceRise) != raw {
				t.Fatalf("tick %d: %s disagrees with raw level %v", i, ev, raw)
			}
			stable = raw
		case DebounceHigh, DebounceLow:
			if (ev == DebounceHigh) != stable {
				t.Fatalf("tick %d: %s without a committed edge", i, ev)
			}
		}
	}
}

func TestDebouncerRelease(t *testing.T) {
	sw := gpio.NewFakeSwitch(gpio.Levels(false))
	d := NewDebouncer(sw, time.Millisecond)

	if d.Input() != sw {
		t.Error("Input should return the wrapped switch")
	}
	if got := d.Release(); got != sw {
		t.Error("Release should return the wrapped switch")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic when updating a released debouncer")
		}
	}()
	d.Update(tick(1))
}
