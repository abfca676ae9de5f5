package convert

import (
	"errors"
	"fmt"
)

// Failure kinds. Every *Error matches exactly one of them with errors.Is.
var (
	ErrMissingInput = errors.New("input file not found")
	ErrDecode       = errors.New("cannot decode source")
	ErrConversion   = errors.New("cannot convert field")
	ErrWrite        = errors.New("cannot write output")

	// ErrChecksumMismatch marks a written file whose contents changed.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Error describes a failed conversion step.
type Error struct {
	Op   string // Step that failed: "convert", "write", "copy", "run", "verify"
	Path string // File involved
	Kind error  // One of the failure kinds above
	Err  error  // Underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, path string, kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}
