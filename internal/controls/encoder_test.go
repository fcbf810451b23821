package controls

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/sweeney/panel-controls/internal/gpio"
)

func TestEncoderConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EncoderConfig[int8]
		wantErr bool
	}{
		{"zero divisor", EncoderConfig[int8]{Divisor: 0}, true},
		{"negative divisor", EncoderConfig[int8]{Divisor: -4}, true},
		{"negative debounce", EncoderConfig[int8]{Debounce: -1, Divisor: 4}, true},
		{"no headroom", EncoderConfig[int8]{Divisor: 127}, true},
		{"one short of headroom", EncoderConfig[int8]{Divisor: 126}, true},
		{"largest", EncoderConfig[int8]{Divisor: 125}, false},
		{"typical", EncoderConfig[int8]{Debounce: time.Millisecond, Divisor: 4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			_, err = NewEncoder(gpio.NewFakeSwitch(nil), gpio.NewFakeSwitch(nil), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEncoder() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncoderQuadratureTurns(t *testing.T) {
	a := gpio.NewFakeSwitch(gpio.Levels(T, T, F, F, T, T, F, F, T, T, F, F, T, T, F, F, T, T, F, F))
	b := gpio.NewFakeSwitch(gpio.Levels(F, T, T, F, F, T, T, F, F, F, F, T, T, F, F, T, T, F, F, T))
	e, err := NewEncoder(a, b, EncoderConfig[int32]{Debounce: time.Millisecond, Divisor: 4})
	if err != nil {
		t.Fatal(err)
	}

	want := []EncoderEvent{
		EncoderNoTurn, EncoderNoTurn, EncoderNoTurn, EncoderNoTurn, EncoderClockwise,
		EncoderNoTurn, EncoderNoTurn, EncoderNoTurn, EncoderClockwise, EncoderNoTurn,
		EncoderNoTurn, EncoderNoTurn, EncoderNoTurn, EncoderNoTurn, EncoderNoTurn,
		EncoderCounterClockwise, EncoderNoTurn, EncoderNoTurn, EncoderNoTurn, EncoderCounterClockwise,
	}

	clock := tickClock()
	for i, w := range want {
		got, err := e.Poll(clock)
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Errorf("tick %d: expected %s, got %s (counter %d)", i, w, got, e.Counter())
		}
	}
}

func TestEncoderSimultaneousRise(t *testing.T) {
	a := gpio.NewFakeSwitch(gpio.Levels(F, T, T))
	b := gpio.NewFakeSwitch(gpio.Levels(F, T, T))
	e, err := NewEncoder(a, b, EncoderConfig[int64]{Divisor: 2})
	if err != nil {
		t.Fatal(err)
	}

	clock := tickClock()
	want := []EncoderEvent{EncoderNoTurn, EncoderNoTurn, EncoderClockwise}
	for i, w := range want {
		got, err := e.Poll(clock)
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Errorf("tick %d: expected %s, got %s", i, w, got)
		}
	}
	if !e.IsHighA() || !e.IsHighB() {
		t.Error("expected both channels high")
	}
	if e.Counter() != 0 {
		t.Errorf("expected counter folded to 0, got %d", e.Counter())
	}
}

func TestEncoderOvershootKeepsRemainder(t *testing.T) {
	// Each simultaneous edge adds two pulses: 2, then 4 against a divisor of 3.
	a := gpio.NewFakeSwitch(gpio.Levels(F, T, T, F, F))
	b := gpio.NewFakeSwitch(gpio.Levels(F, T, T, F, F))
	e, err := NewEncoder(a, b, EncoderConfig[int8]{Divisor: 3})
	if err != nil {
		t.Fatal(err)
	}

	clock := tickClock()
	want := []EncoderEvent{EncoderNoTurn, EncoderNoTurn, EncoderNoTurn, EncoderNoTurn, EncoderClockwise}
	for i, w := range want {
		got, err := e.Poll(clock)
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Errorf("tick %d: expected %s, got %s (counter %d)", i, w, got, e.Counter())
		}
		if i == 2 && e.Counter() != 2 {
			t.Errorf("tick 2: expected counter 2, got %d", e.Counter())
		}
	}
	if e.Counter() != 1 {
		t.Errorf("expected remainder 1 after the turn, got %d", e.Counter())
	}
}

func TestEncoderInputErrors(t *testing.T) {
	fault := errors.New("Some error")
	a := gpio.NewFakeSwitch([]gpio.Sample{{Err: fault}, {Active: true}, {Active: true}})
	b := gpio.NewFakeSwitch([]gpio.Sample{{Err: fault}, {Active: true}})
	e, err := NewEncoder(a, b, EncoderConfig[int16]{Debounce: 5 * time.Millisecond, Divisor: 4})
	if err != nil {
		t.Fatal(err)
	}
	clock := tickClock()

	// A fails first
	if _, err := e.Poll(clock); !IsInputFailure(err) {
		t.Fatalf("expected input failure from A, got %v", err)
	}

	// A reads fine, B fails: A must be rolled back
	if _, err := e.Poll(clock); !errors.Is(err, fault) {
		t.Fatalf("expected input failure from B, got %v", err)
	}
	if e.a.Disturbed() {
		t.Error("channel A must be rolled back when channel B fails")
	}

	ev, err := e.Poll(clock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != EncoderNoTurn {
		t.Errorf("expected NO_TURN, got %s", ev)
	}
	if e.Counter() != 0 {
		t.Errorf("expected counter 0, got %d", e.Counter())
	}
}

func TestEncoderTimeErrorLeavesCounter(t *testing.T) {
	a := gpio.NewFakeSwitch(gpio.Levels(T))
	b := gpio.NewFakeSwitch(gpio.Levels(F))
	e, err := NewEncoder(a, b, EncoderConfig[int32]{Debounce: 3 * time.Millisecond, Divisor: 4})
	if err != nil {
		t.Fatal(err)
	}

	e.Update(tick(5))
	if _, err := e.Update(tick(1)); !IsTimeFailure(err) {
		t.Fatalf("expected time failure, got %v", err)
	}
	if e.Counter() != 0 || e.IsHighA() {
		t.Error("failed update must leave the encoder unchanged")
	}

	e.Update(tick(8))
	if !e.IsHighA() || e.Counter() != 1 {
		t.Errorf("expected A high with one pulse, got high=%v counter=%d", e.IsHighA(), e.Counter())
	}
}

// TestEncoderCounterStaysInRange drives random input on both channels and
// checks that the counter never reaches the divisor after an update.
func TestEncoderCounterStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 5000
	la := make([]bool, n)
	lb := make([]bool, n)
	for i := range la {
		la[i] = rng.Intn(2) == 0
		lb[i] = rng.Intn(2) == 0
	}

	e, err := NewEncoder(gpio.NewFakeSwitch(gpio.Levels(la...)), gpio.NewFakeSwitch(gpio.Levels(lb...)),
		EncoderConfig[int8]{Divisor: 3})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		before := e.Counter()
		ev, err := e.Update(tick(i))
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
		c := e.Counter()
		if c >= e.Divisor() || c <= -e.Divisor() {
			t.Fatalf("tick %d: counter %d out of range", i, c)
		}
		if ev == EncoderNoTurn && (c-before > 2 || before-c > 2) {
			t.Fatalf("tick %d: counter moved from %d to %d in one tick", i, before, c)
		}
	}
}

func TestEncoderRelease(t *testing.T) {
	a := gpio.NewFakeSwitch(gpio.Levels(F))
	b := gpio.NewFakeSwitch(gpio.Levels(F))
	e, err := NewEncoder(a, b, EncoderConfig[int32]{Divisor: 4})
	if err != nil {
		t.Fatal(err)
	}

	ia, ib := e.Inputs()
	if ia != a || ib != b {
		t.Error("Inputs should return the wrapped switches in order")
	}
	ra, rb := e.Release()
	if ra != a || rb != b {
		t.Error("Release should return the wrapped switches in order")
	}
}
