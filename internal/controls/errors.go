package controls

import "errors"

// ErrTimeWentBackwards is wrapped by TimeFailure errors when a timestamp
// precedes the reference it is compared against.
var ErrTimeWentBackwards = errors.New("timestamp went backwards")

// ErrorKind tags an Error with its origin.
type ErrorKind uint8

const (
	// InputFailure means the input switch could not be read.
	InputFailure ErrorKind = iota + 1
	// TimeFailure means two timestamps could not be compared.
	TimeFailure
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case InputFailure:
		return "input failure"
	case TimeFailure:
		return "time failure"
	default:
		return "unknown failure"
	}
}

// Error is returned by every Update call that fails.
// The machine that returned it is left exactly as it was before the call.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsInputFailure reports whether err carries an InputFailure.
func IsInputFailure(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == InputFailure
}

// IsTimeFailure reports whether err carries a TimeFailure.
func IsTimeFailure(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == TimeFailure
}

func inputFailure(err error) error {
	return &Error{Kind: InputFailure, Err: err}
}
