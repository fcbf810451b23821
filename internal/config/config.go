// Package config loads the panel description and daemon settings.
//
// A YAML file is the primary configuration surface. Flags override a small set
// of daemon settings on top of it. Defaults and validation live here so the
// rest of the code can assume a well-formed Config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/panel-controls/internal/controls"
	"github.com/sweeney/panel-controls/internal/gpio"
)

// Counter types accepted by encoders[].counter.
const (
	CounterInt8  = "int8"
	CounterInt16 = "int16"
	CounterInt32 = "int32"
	CounterInt64 = "int64"
)

// Config is the top-level YAML configuration.
type Config struct {
	// PollMS is the interval between two panel ticks.
	PollMS int `yaml:"poll_ms"`
	// HeartbeatMS is the interval between heartbeat events (0 disables).
	HeartbeatMS int `yaml:"heartbeat_ms"`
	// Chip is the default GPIO chip for every line.
	Chip string `yaml:"chip"`

	Logging LoggingConfig `yaml:"logging"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`
	Trace   TraceConfig   `yaml:"trace"`

	Buttons  []ButtonConfig  `yaml:"buttons,omitempty"`
	Encoders []EncoderConfig `yaml:"encoders,omitempty"`
	Switches []SwitchConfig  `yaml:"switches,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // error, warn, info or debug
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`       // empty disables publishing
	TopicPrefix string `yaml:"topic_prefix"` // events go to <prefix>/<control>
	ClientID    string `yaml:"client_id"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

type TraceConfig struct {
	Path string `yaml:"path,omitempty"` // raw samples are recorded here when set
}

// InputConfig holds the settings shared by every physical line.
type InputConfig struct {
	Chip       string `yaml:"chip,omitempty"`
	ActiveLow  bool   `yaml:"active_low"`
	Bias       string `yaml:"bias,omitempty"` // pull-up (default), pull-down or disabled
	DebounceMS int    `yaml:"debounce_ms"`
}

type ButtonConfig struct {
	Name        string `yaml:"name"`
	Line        int    `yaml:"line"`
	InputConfig `yaml:",inline"`
	DoubleClick *DoubleClickConfig `yaml:"double_click,omitempty"`
	Hold        *HoldConfig        `yaml:"hold,omitempty"`
}

type DoubleClickConfig struct {
	MaxPressMS int `yaml:"max_press_ms"`
	MaxGapMS   int `yaml:"max_gap_ms"`
}

type HoldConfig struct {
	CaptureMS int `yaml:"capture_ms"`
	PeriodMS  int `yaml:"period_ms"`
}

type EncoderConfig struct {
	Name        string `yaml:"name"`
	LineA       int    `yaml:"line_a"`
	LineB       int    `yaml:"line_b"`
	InputConfig `yaml:",inline"`
	Divisor     int64  `yaml:"divisor"`
	Counter     string `yaml:"counter,omitempty"` // int8, int16, int32 (default) or int64
}

type SwitchConfig struct {
	Name        string `yaml:"name"`
	Line        int    `yaml:"line"`
	InputConfig `yaml:",inline"`
}

// DefaultConfig returns a Config with every daemon setting populated and no controls.
func DefaultConfig() Config {
	return Config{
		PollMS:      5,
		HeartbeatMS: int((15 * time.Minute).Milliseconds()),
		Chip:        gpio.DefaultChip,
		Logging: LoggingConfig{
			Level: "info",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://192.168.1.200:1883",
			TopicPrefix: "panel",
			ClientID:    "panel-controls",
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
	}
}

// Load reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of DefaultConfig.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries flag values that override the file.
// A nil pointer leaves the file value alone; a non-nil pointer is applied even if zero.
type FlagOverrides struct {
	Poll      *time.Duration
	Heartbeat *time.Duration
	Chip      *string

	Broker      *string
	TopicPrefix *string

	HTTPAddr  *string
	TracePath *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Poll != nil {
		cfg.PollMS = int(o.Poll.Milliseconds())
	}
	if o.Heartbeat != nil {
		cfg.HeartbeatMS = int(o.Heartbeat.Milliseconds())
	}
	if o.Chip != nil {
		cfg.Chip = *o.Chip
	}
	if o.Broker != nil {
		cfg.MQTT.Broker = *o.Broker
	}
	if o.TopicPrefix != nil {
		cfg.MQTT.TopicPrefix = *o.TopicPrefix
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.TracePath != nil {
		cfg.Trace.Path = *o.TracePath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// It is called after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if c.PollMS <= 0 {
		return errors.New("poll_ms must be > 0")
	}
	if c.HeartbeatMS < 0 {
		return errors.New("heartbeat_ms must be >= 0")
	}
	if c.Chip == "" {
		return errors.New("chip must not be empty")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "error", "warn", "warning", "info", "debug":
	default:
		return fmt.Errorf("logging.level %q must be one of error, warn, info, debug", c.Logging.Level)
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.TopicPrefix == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
		if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
			return fmt.Errorf("mqtt.topic_prefix %q must not contain wildcards", c.MQTT.TopicPrefix)
		}
	}

	if len(c.Buttons)+len(c.Encoders)+len(c.Switches) == 0 {
		return errors.New("no controls configured (buttons, encoders, switches)")
	}

	names := make(map[string]string)
	lines := make(map[string]string)
	claim := func(kind, name string, chip string, line int) error {
		key := fmt.Sprintf("%s/%d", c.chipOr(chip), line)
		if owner, ok := lines[key]; ok {
			return fmt.Errorf("%s %q: line %s already used by %q", kind, name, key, owner)
		}
		lines[key] = name
		return nil
	}
	named := func(kind, name string) error {
		if err := validateName(name); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		if owner, ok := names[name]; ok {
			return fmt.Errorf("%s %q: name already used by a %s", kind, name, owner)
		}
		names[name] = kind
		return nil
	}

	for i, b := range c.Buttons {
		kind := fmt.Sprintf("buttons[%d]", i)
		if err := named(kind, b.Name); err != nil {
			return err
		}
		if err := b.InputConfig.validate(); err != nil {
			return fmt.Errorf("%s %q: %w", kind, b.Name, err)
		}
		if err := b.Controls().Validate(); err != nil {
			return fmt.Errorf("%s %q: %w", kind, b.Name, err)
		}
		if err := claim(kind, b.Name, b.Chip, b.Line); err != nil {
			return err
		}
	}

	for i, e := range c.Encoders {
		kind := fmt.Sprintf("encoders[%d]", i)
		if err := named(kind, e.Name); err != nil {
			return err
		}
		if err := e.InputConfig.validate(); err != nil {
			return fmt.Errorf("%s %q: %w", kind, e.Name, err)
		}
		if err := validateDivisor(e.CounterType(), e.Divisor); err != nil {
			return fmt.Errorf("%s %q: %w", kind, e.Name, err)
		}
		if err := claim(kind, e.Name, e.Chip, e.LineA); err != nil {
			return err
		}
		if err := claim(kind, e.Name, e.Chip, e.LineB); err != nil {
			return err
		}
	}

	for i, s := range c.Switches {
		kind := fmt.Sprintf("switches[%d]", i)
		if err := named(kind, s.Name); err != nil {
			return err
		}
		if err := s.InputConfig.validate(); err != nil {
			return fmt.Errorf("%s %q: %w", kind, s.Name, err)
		}
		if err := claim(kind, s.Name, s.Chip, s.Line); err != nil {
			return err
		}
	}

	return nil
}

// Poll returns the tick interval.
func (c *Config) Poll() time.Duration {
	return time.Duration(c.PollMS) * time.Millisecond
}

// Heartbeat returns the heartbeat interval (0 when disabled).
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}

func (c *Config) chipOr(chip string) string {
	if chip != "" {
		return chip
	}
	return c.Chip
}

// ButtonLine returns the GPIO request for a button.
func (c *Config) ButtonLine(b ButtonConfig) gpio.LineConfig {
	return b.InputConfig.line(c.chipOr(b.Chip), b.Line, b.Name)
}

// EncoderLines returns the GPIO requests for both encoder channels.
func (c *Config) EncoderLines(e EncoderConfig) (a, b gpio.LineConfig) {
	chip := c.chipOr(e.Chip)
	return e.InputConfig.line(chip, e.LineA, e.Name+"-a"), e.InputConfig.line(chip, e.LineB, e.Name+"-b")
}

// SwitchLine returns the GPIO request for a switch.
func (c *Config) SwitchLine(s SwitchConfig) gpio.LineConfig {
	return s.InputConfig.line(c.chipOr(s.Chip), s.Line, s.Name)
}

// Debounce returns the debounce window.
func (i InputConfig) Debounce() time.Duration {
	return time.Duration(i.DebounceMS) * time.Millisecond
}

func (i InputConfig) validate() error {
	if i.DebounceMS < 0 {
		return errors.New("debounce_ms must be >= 0")
	}
	switch gpio.Bias(i.Bias) {
	case "", gpio.BiasPullUp, gpio.BiasPullDown, gpio.BiasDisabled:
	default:
		return fmt.Errorf("bias %q must be one of %s, %s, %s", i.Bias, gpio.BiasPullUp, gpio.BiasPullDown, gpio.BiasDisabled)
	}
	return nil
}

func (i InputConfig) line(chip string, offset int, consumer string) gpio.LineConfig {
	bias := gpio.Bias(i.Bias)
	if bias == "" {
		bias = gpio.BiasPullUp
	}
	return gpio.LineConfig{
		Chip:      chip,
		Offset:    offset,
		ActiveLow: i.ActiveLow,
		Bias:      bias,
		Consumer:  consumer,
	}
}

// Controls converts the file representation into a recognizer config.
func (b ButtonConfig) Controls() controls.ButtonConfig {
	cfg := controls.ButtonConfig{Debounce: b.Debounce()}
	if dc := b.DoubleClick; dc != nil {
		cfg.DoubleClick = &controls.DoubleClickConfig{
			MaxPressDuration: time.Duration(dc.MaxPressMS) * time.Millisecond,
			MaxGapDuration:   time.Duration(dc.MaxGapMS) * time.Millisecond,
		}
	}
	if h := b.Hold; h != nil {
		cfg.Hold = &controls.HoldConfig{
			CaptureDuration: time.Duration(h.CaptureMS) * time.Millisecond,
			PeriodDuration:  time.Duration(h.PeriodMS) * time.Millisecond,
		}
	}
	return cfg
}

// CounterType returns the configured counter type, defaulting to int32.
func (e EncoderConfig) CounterType() string {
	if e.Counter == "" {
		return CounterInt32
	}
	return e.Counter
}

// validateDivisor checks that divisor fits the counter type with room for
// one tick's worth of pulses.
func validateDivisor(counter string, divisor int64) error {
	var max int64
	switch counter {
	case CounterInt8:
		max = math.MaxInt8
	case CounterInt16:
		max = math.MaxInt16
	case CounterInt32:
		max = math.MaxInt32
	case CounterInt64:
		max = math.MaxInt64
	default:
		return fmt.Errorf("counter %q must be one of %s, %s, %s, %s", counter, CounterInt8, CounterInt16, CounterInt32, CounterInt64)
	}
	if divisor <= 0 {
		return errors.New("divisor must be > 0")
	}
	if divisor > max-2 {
		return fmt.Errorf("divisor %d leaves no headroom in %s", divisor, counter)
	}
	return nil
}

// validateName rejects names that cannot be used as a single MQTT topic level.
func validateName(name string) error {
	if name == "" {
		return errors.New("name must not be empty")
	}
	if strings.ContainsAny(name, "/+# ") {
		return fmt.Errorf("name %q must not contain '/', '+', '#' or spaces", name)
	}
	return nil
}
