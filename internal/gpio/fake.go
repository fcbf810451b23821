package gpio

import "errors"

// FakeSwitch is a test double that returns scripted levels.
type FakeSwitch struct {
	// Samples contains scripted reads. Each call to IsActive consumes the next sample.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Reads counts calls to IsActive.
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by IsActive without consuming a sample.
	ReadError error
}

// Sample represents a single scripted read.
type Sample struct {
	Active bool
	Err    error // returned instead of Active when set
}

// NewFakeSwitch creates a FakeSwitch with the given samples.
func NewFakeSwitch(samples []Sample) *FakeSwitch {
	return &FakeSwitch{Samples: samples}
}

// Levels builds error-free samples from a list of levels.
func Levels(levels ...bool) []Sample {
	out := make([]Sample, len(levels))
	for i, l := range levels {
		out[i] = Sample{Active: l}
	}
	return out
}

// IsActive returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeSwitch) IsActive() (bool, error) {
	f.Reads++
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	if sample.Err != nil {
		return false, sample.Err
	}
	return sample.Active, nil
}

// Close marks the switch as closed.
func (f *FakeSwitch) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds the switch to the beginning of samples.
func (f *FakeSwitch) Reset() {
	f.index = 0
	f.Reads = 0
	f.Closed = false
}

// Set replaces the script with a single level that repeats forever.
func (f *FakeSwitch) Set(active bool) {
	f.Samples = []Sample{{Active: active}}
	f.index = 0
}
