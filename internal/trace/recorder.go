package trace

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sweeney/panel-controls/internal/gpio"
	"github.com/sweeney/panel-controls/internal/panel"
)

// Recorder writes frames to a trace file.
// It is safe for concurrent use. Write errors never reach the caller's reads;
// the first one is kept and returned by Close.
type Recorder struct {
	mu      sync.Mutex
	closer  io.Closer
	encoder *cbor.Encoder
	now     func() time.Time
	err     error
	frames  int
	closed  bool
}

// NewRecorder creates (or truncates) the trace file at path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	r := NewRecorderWriter(f)
	r.closer = f
	return r, nil
}

// NewRecorderWriter records to w. Close does not close w.
func NewRecorderWriter(w io.Writer) *Recorder {
	return &Recorder{
		encoder: newEncoder(w),
		now:     time.Now,
	}
}

// Tick records the start of a poll at now.
func (r *Recorder) Tick(now time.Time) {
	r.write(Frame{Kind: FrameTick, Time: now})
}

func (r *Recorder) write(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if err := r.encoder.Encode(f); err != nil {
		if r.err == nil {
			r.err = err
		}
		return
	}
	r.frames++
}

// Frames returns how many frames were written.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Wrap returns an Opener whose switches record every read.
func (r *Recorder) Wrap(open panel.Opener) panel.Opener {
	return func(lc gpio.LineConfig) (gpio.Switch, error) {
		sw, err := open(lc)
		if err != nil {
			return nil, err
		}
		return &recordingSwitch{sw: sw, line: lc.Consumer, rec: r}, nil
	}
}

// Close stops recording. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	err := r.err
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}

type recordingSwitch struct {
	sw   gpio.Switch
	line string
	rec  *Recorder
}

func (s *recordingSwitch) IsActive() (bool, error) {
	active, err := s.sw.IsActive()
	f := Frame{Kind: FrameRead, Time: s.rec.now(), Line: s.line, Active: active}
	if err != nil {
		f.Active = false
		f.Err = err.Error()
	}
	s.rec.write(f)
	return active, err
}

func (s *recordingSwitch) Close() error {
	return s.sw.Close()
}
