// Package gpio provides switch inputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Switch reads the logical level of a single input line.
// It satisfies controls.InputSwitch.
type Switch interface {
	// IsActive returns the logical level (active-low lines are already inverted).
	IsActive() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Bias selects the line's pull resistor.
type Bias string

const (
	BiasPullUp   Bias = "pull-up"
	BiasPullDown Bias = "pull-down"
	BiasDisabled Bias = "disabled"
)

// LineConfig describes one input line.
type LineConfig struct {
	Chip      string // e.g. "gpiochip0"
	Offset    int    // line offset (BCM number on a Raspberry Pi)
	ActiveLow bool   // true when a closed contact pulls the line low
	Bias      Bias
	Consumer  string // label shown by gpioinfo
}

// DefaultChip is the Raspberry Pi header chip.
const DefaultChip = "gpiochip0"
