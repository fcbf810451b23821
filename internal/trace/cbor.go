// Package trace records raw line reads to a CBOR file and replays them
// through a panel, so a misbehaving switch can be captured on the device and
// studied off it.
package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FrameKind tells tick frames from read frames.
type FrameKind uint8

const (
	// FrameTick marks the start of a poll; Time is the tick time passed to Poll.
	FrameTick FrameKind = 1
	// FrameRead is one IsActive call on a line.
	FrameRead FrameKind = 2
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameTick:
		return "TICK"
	case FrameRead:
		return "READ"
	default:
		return "UNKNOWN"
	}
}

// Frame is one record in a trace file. Integer keys keep it compact.
type Frame struct {
	Kind   FrameKind `cbor:"1,keyasint"`
	Time   time.Time `cbor:"2,keyasint"`
	Line   string    `cbor:"3,keyasint,omitempty"` // consumer label, e.g. "volume-a"
	Active bool      `cbor:"4,keyasint,omitempty"`
	Err    string    `cbor:"5,keyasint,omitempty"`
}

var (
	frameEncMode cbor.EncMode
	frameDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	frameEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	frameDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR decoder mode: %v", err))
	}
}

// EncodeFrame encodes a single frame.
func EncodeFrame(f Frame) ([]byte, error) {
	return frameEncMode.Marshal(f)
}

// DecodeFrame decodes a single frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := frameDecMode.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return frameEncMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return frameDecMode.NewDecoder(r)
}
