package mmap

import (
	"fmt"
	"sync"
)

// Reservation is a contiguous address range committed and decommitted at
// its tail.
type Reservation struct {
	mu        sync.Mutex
	data      []byte // whole reserved range
	committed int
	page      int
	closed    bool
	release   func([]byte) error
}

// Reserve reserves max bytes of address space without committing any of it.
// max is rounded up to the page size.
func Reserve(max int) (*Reservation, error) {
	return ReservePages(max, 0)
}

// ReservePages is like Reserve with a commit granularity of page bytes,
// which must be a multiple of the OS page size. Zero selects the OS page
// size.
func ReservePages(max, page int) (*Reservation, error) {
	if max <= 0 || page < 0 {
		return nil, ErrInvalidSize
	}
	osPage := PageSize()
	if page == 0 {
		page = osPage
	}
	if page%osPage != 0 {
		return nil, fmt.Errorf("%w: page size %d is not a multiple of %d", ErrInvalidSize, page, osPage)
	}
	max = roundUp(max, page)

	data, release, err := osReserve(max)
	if err != nil {
		return nil, fmt.Errorf("mmap: reserve %d bytes: %w", max, err)
	}
	return &Reservation{data: data, page: page, release: release}, nil
}

// Grow commits at least n more bytes, rounded up to whole pages, and
// returns the new committed length.
func (r *Reservation) Grow(n int) (int, error) {
	if n <= 0 {
		return 0, ErrInvalidSize
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	n = roundUp(n, r.page)
	if r.committed+n > len(r.data) {
		return r.committed, fmt.Errorf("%w: %d committed, %d requested, %d reserved",
			ErrExhausted, r.committed, n, len(r.data))
	}
	if err := osCommit(r.data[r.committed : r.committed+n]); err != nil {
		return r.committed, fmt.Errorf("mmap: commit %d bytes: %w", n, err)
	}
	r.committed += n
	return r.committed, nil
}

// Shrink decommits n bytes from the tail and returns the new committed
// length. n must be a multiple of the page size.
func (r *Reservation) Shrink(n int) (int, error) {
	if n <= 0 || n%r.page != 0 {
		return 0, ErrInvalidSize
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if n > r.committed {
		return r.committed, fmt.Errorf("%w: %d committed, %d requested", ErrShrink, r.committed, n)
	}
	if err := osDecommit(r.data[r.committed-n : r.committed]); err != nil {
		return r.committed, fmt.Errorf("mmap: decommit %d bytes: %w", n, err)
	}
	r.committed -= n
	return r.committed, nil
}

// Len returns the committed length.
func (r *Reservation) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// Cap returns the reserved length.
func (r *Reservation) Cap() int {
	return len(r.data)
}

// Bytes returns the whole reserved range. Only the first Len bytes are
// accessible.
func (r *Reservation) Bytes() []byte {
	return r.data
}

// PageSize returns the commit granularity.
func (r *Reservation) PageSize() int {
	return r.page
}

// Close releases the reservation. It is idempotent.
func (r *Reservation) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.committed = 0
	if r.release != nil {
		return r.release(r.data)
	}
	return nil
}
