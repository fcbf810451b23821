package panel

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/constraints"

	"github.com/sweeney/panel-controls/internal/config"
	"github.com/sweeney/panel-controls/internal/controls"
	"github.com/sweeney/panel-controls/internal/gpio"
)

// control adapts one recognizer to the panel.
type control interface {
	name() string
	kind() Kind
	// update returns the event type and whether it is worth reporting.
	update(now time.Time) (string, bool, error)
	fill(s *ControlState)
	raw() ([]RawLevel, error)
	close() error
}

type buttonControl struct {
	id  string
	sw  gpio.Switch
	btn *controls.Button
}

func newButtonControl(cfg config.ButtonConfig, sw gpio.Switch) (*buttonControl, error) {
	btn, err := controls.NewButton(sw, cfg.Controls())
	if err != nil {
		return nil, err
	}
	return &buttonControl{id: cfg.Name, sw: sw, btn: btn}, nil
}

func (c *buttonControl) name() string { return c.id }
func (c *buttonControl) kind() Kind   { return KindButton }

func (c *buttonControl) update(now time.Time) (string, bool, error) {
	ev, err := c.btn.Update(now)
	if err != nil {
		return "", false, err
	}
	return string(ev), ev != controls.ButtonIdle, nil
}

func (c *buttonControl) fill(s *ControlState) {
	s.Active = c.btn.IsPressed()
	s.Holding = c.btn.IsHolding()
	s.Pending = c.btn.ClickPending()
}

func (c *buttonControl) raw() ([]RawLevel, error) {
	v, err := c.sw.IsActive()
	if err != nil {
		return nil, err
	}
	return []RawLevel{{Control: c.id, Active: v}}, nil
}

func (c *buttonControl) close() error {
	c.btn.Release()
	return c.sw.Close()
}

type switchControl struct {
	id  string
	sw  gpio.Switch
	deb *controls.Debouncer
}

func newSwitchControl(cfg config.SwitchConfig, sw gpio.Switch) (*switchControl, error) {
	if cfg.DebounceMS < 0 {
		return nil, errors.New("debounce must be >= 0")
	}
	return &switchControl{id: cfg.Name, sw: sw, deb: controls.NewDebouncer(sw, cfg.Debounce())}, nil
}

func (c *switchControl) name() string { return c.id }
func (c *switchControl) kind() Kind   { return KindSwitch }

func (c *switchControl) update(now time.Time) (string, bool, error) {
	ev, err := c.deb.Update(now)
	if err != nil {
		return "", false, err
	}
	return string(ev), ev.IsEdge(), nil
}

func (c *switchControl) fill(s *ControlState) {
	s.Active = c.deb.IsHigh()
}

func (c *switchControl) raw() ([]RawLevel, error) {
	v, err := c.sw.IsActive()
	if err != nil {
		return nil, err
	}
	return []RawLevel{{Control: c.id, Active: v}}, nil
}

func (c *switchControl) close() error {
	c.deb.Release()
	return c.sw.Close()
}

// encoderControl instantiates the decoder with the configured counter type.
type encoderControl[C constraints.Signed] struct {
	id   string
	a, b gpio.Switch
	enc  *controls.Encoder[C]
}

func newEncoderControl(cfg config.EncoderConfig, a, b gpio.Switch) (control, error) {
	switch cfg.CounterType() {
	case config.CounterInt8:
		return buildEncoder[int8](cfg, a, b)
	case config.CounterInt16:
		return buildEncoder[int16](cfg, a, b)
	case config.CounterInt32:
		return buildEncoder[int32](cfg, a, b)
	case config.CounterInt64:
		return buildEncoder[int64](cfg, a, b)
	default:
		return nil, fmt.Errorf("unsupported counter type %q", cfg.Counter)
	}
}

func buildEncoder[C constraints.Signed](cfg config.EncoderConfig, a, b gpio.Switch) (control, error) {
	divisor := C(cfg.Divisor)
	if int64(divisor) != cfg.Divisor {
		return nil, fmt.Errorf("divisor %d overflows %s", cfg.Divisor, cfg.CounterType())
	}
	enc, err := controls.NewEncoder(a, b, controls.EncoderConfig[C]{Debounce: cfg.Debounce(), Divisor: divisor})
	if err != nil {
		return nil, err
	}
	return &encoderControl[C]{id: cfg.Name, a: a, b: b, enc: enc}, nil
}

func (c *encoderControl[C]) name() string { return c.id }
func (c *encoderControl[C]) kind() Kind   { return KindEncoder }

func (c *encoderControl[C]) update(now time.Time) (string, bool, error) {
	ev, err := c.enc.Update(now)
	if err != nil {
		return "", false, err
	}
	return string(ev), ev != controls.EncoderNoTurn, nil
}

func (c *encoderControl[C]) fill(s *ControlState) {
	s.Active = c.enc.IsHighA()
	s.ActiveB = c.enc.IsHighB()
	s.Counter = int64(c.enc.Counter())
}

func (c *encoderControl[C]) raw() ([]RawLevel, error) {
	va, err := c.a.IsActive()
	if err != nil {
		return nil, fmt.Errorf("channel a: %w", err)
	}
	vb, err := c.b.IsActive()
	if err != nil {
		return nil, fmt.Errorf("channel b: %w", err)
	}
	return []RawLevel{
		{Control: c.id, Channel: "a", Active: va},
		{Control: c.id, Channel: "b", Active: vb},
	}, nil
}

func (c *encoderControl[C]) close() error {
	c.enc.Release()
	return errors.Join(c.a.Close(), c.b.Close())
}
