package heapcore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/heapcore/internal/arena"
	"github.com/hupe1980/heapcore/internal/extent"
	"github.com/hupe1980/heapcore/internal/fault"
	"github.com/hupe1980/heapcore/internal/resource"
	"github.com/hupe1980/heapcore/internal/slab"
)

var (
	// ErrOutOfMemory is returned when the region or a slab cannot be extended,
	// either because the reservation or the memory limit is exhausted.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrClosed is returned by operations on a closed heap or pool.
	ErrClosed = errors.New("heap closed")

	// ErrInvalidSize is returned by Alloc for sizes outside [1, MaxAllocSize].
	ErrInvalidSize = errors.New("invalid allocation size")

	// ErrPointerType is returned by NewPool for element types that hold Go
	// pointers. Slab memory is invisible to the garbage collector.
	ErrPointerType = errors.New("pool element type contains pointers")

	// ErrMisuse is the cause of the CorruptionError raised when a caller frees
	// memory the heap did not hand out.
	ErrMisuse = fault.ErrMisuse
)

// CorruptionError is the panic value raised when heap metadata is found to be
// inconsistent, or a caller frees an extent twice or one it never owned.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type CorruptionError = fault.CorruptionError

// RecoverCorruption converts a *CorruptionError panic into *err. Other
// panics propagate. Use it in a deferred call:
//
//	defer heapcore.RecoverCorruption(&err)
func RecoverCorruption(err *error) {
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

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Exhaustion unification.
	if errors.Is(err, arena.ErrOutOfMemory) ||
		errors.Is(err, extent.ErrExhausted) ||
		errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}

	// Lifecycle.
	if errors.Is(err, arena.ErrClosed) || errors.Is(err, slab.ErrClosed) || errors.Is(err, extent.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
