package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sweeney/panel-controls/internal/gpio"
	"github.com/sweeney/panel-controls/internal/panel"
)

// Reader streams frames from a trace file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
}

// NewReader opens the trace file at path.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: newDecoder(f)}, nil
}

// Next returns the next frame, or io.EOF at the end of the file.
func (r *Reader) Next() (Frame, error) {
	var f Frame
	if err := r.decoder.Decode(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Trace is a recording split into poll ticks and per-line read scripts.
type Trace struct {
	Ticks []time.Time
	lines map[string][]gpio.Sample
}

// Load reads a whole trace file.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads frames from r until EOF.
func Decode(r io.Reader) (*Trace, error) {
	t := &Trace{lines: make(map[string][]gpio.Sample)}
	dec := newDecoder(r)
	for n := 0; ; n++ {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return t, nil
			}
			return nil, fmt.Errorf("frame %d: %w", n, err)
		}
		switch f.Kind {
		case FrameTick:
			t.Ticks = append(t.Ticks, f.Time)
		case FrameRead:
			s := gpio.Sample{Active: f.Active}
			if f.Err != "" {
				s.Err = errors.New(f.Err)
			}
			t.lines[f.Line] = append(t.lines[f.Line], s)
		default:
			return nil, fmt.Errorf("frame %d: unknown kind %d", n, f.Kind)
		}
	}
}

// Lines returns how many reads were recorded for the line.
func (t *Trace) Lines(line string) int {
	return len(t.lines[line])
}

// Opener returns switches that play back each line's recorded reads.
// Controls poll their lines in a fixed order, so replaying the same config
// with the same ticks consumes every script in step. A line with no recorded
// reads stays inactive.
func (t *Trace) Opener() panel.Opener {
	return func(lc gpio.LineConfig) (gpio.Switch, error) {
		samples := t.lines[lc.Consumer]
		if len(samples) == 0 {
			samples = gpio.Levels(false)
		}
		return gpio.NewFakeSwitch(append([]gpio.Sample(nil), samples...)), nil
	}
}

// Replay polls p once per recorded tick. Poll errors are passed to onErr
// when it is non-nil. It returns every event in order.
func (t *Trace) Replay(p *panel.Panel, onErr func(time.Time, error)) []panel.Event {
	var events []panel.Event
	for _, now := range t.Ticks {
		evs, err := p.Poll(now)
		if err != nil && onErr != nil {
			onErr(now, err)
		}
		events = append(events, evs...)
	}
	return events
}
