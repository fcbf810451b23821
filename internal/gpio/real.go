//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealSwitch reads a line from actual hardware using the Linux GPIO character device.
type RealSwitch struct {
	line *gpiocdev.Line
	cfg  LineConfig
}

// NewRealSwitch requests the line as an input with the configured bias and polarity.
func NewRealSwitch(cfg LineConfig) (*RealSwitch, error) {
	chip := cfg.Chip
	if chip == "" {
		chip = DefaultChip
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, biasOption(cfg.Bias)}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	if cfg.Consumer != "" {
		opts = append(opts, gpiocdev.WithConsumer(cfg.Consumer))
	}

	line, err := gpiocdev.RequestLine(chip, cfg.Offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", chip, cfg.Offset, err)
	}

	return &RealSwitch{line: line, cfg: cfg}, nil
}

func biasOption(b Bias) gpiocdev.LineReqOption {
	switch b {
	case BiasPullUp:
		return gpiocdev.WithPullUp
	case BiasDisabled:
		return gpiocdev.WithBiasDisabled
	default:
		return gpiocdev.WithPullDown
	}
}

// IsActive returns the logical level. The kernel applies active-low inversion.
func (r *RealSwitch) IsActive() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line %d: %w", r.cfg.Offset, err)
	}
	return v == 1, nil
}

// Close releases the line.
// Reconfigures it to input with pull-down (matching Pi boot defaults) before
// closing so external hardware does not see a floating pin during reboot.
func (r *RealSwitch) Close() error {
	if r.line == nil {
		return nil
	}

	var errs []error
	if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line %d: %w", r.cfg.Offset, err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line %d: %w", r.cfg.Offset, err))
	}
	r.line = nil

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
