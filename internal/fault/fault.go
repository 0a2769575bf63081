// Package fault reports unrecoverable heap states.
//
// Metadata corruption and caller misuse (double free, foreign offsets, zero
// sizes) leave the heap in a state no caller can repair, so they panic with
// a *CorruptionError instead of returning an error.
package fault

import (
	"errors"
	"fmt"
)

// ErrMisuse marks faults caused by invalid arguments rather than damaged
// metadata.
var ErrMisuse = errors.New("invalid heap operation")

// CorruptionError describes a fatal heap fault.
//
// The underlying cause can be accessed via errors.Unwrap.
type CorruptionError struct {
	Op     string
	Offset uint64
	Size   uint64
	cause  error
}

// New returns a CorruptionError for op on the extent [off, off+size).
func New(op string, off, size uint64, cause error) *CorruptionError {
	return &CorruptionError{Op: op, Offset: off, Size: size, cause: cause}
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("heap corruption: %s offset=%#x size=%d: %v", e.Op, e.Offset, e.Size, e.cause)
}

func (e *CorruptionError) Unwrap() error { return e.cause }

// Panic panics with a CorruptionError.
func Panic(op string, off, size uint64, cause error) {
	panic(New(op, off, size, cause))
}

// Misuse panics with a CorruptionError wrapping ErrMisuse.
func Misuse(op string, off, size uint64, format string, args ...any) {
	panic(New(op, off, size, fmt.Errorf("%w: %s", ErrMisuse, fmt.Sprintf(format, args...))))
}

// Recover converts a CorruptionError panic into an error stored in *err.
// Other panics are re-raised. Use it as a deferred call.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	ce, ok := r.(*CorruptionError)
	if !ok {
		panic(r)
	}
	*err = ce
}
