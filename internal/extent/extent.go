package extent

import (
	"fmt"
	"os"
	"sync"

	"github.com/hupe1980/heapcore/internal/mmap"
)

var (
	// ErrExhausted is returned when a Source cannot grow any further.
	ErrExhausted = mmap.ErrExhausted
	// ErrShrink is returned when shrinking past the start of a Source.
	ErrShrink = mmap.ErrShrink
	// ErrInvalidSize is returned for non-positive or unaligned sizes.
	ErrInvalidSize = mmap.ErrInvalidSize
	// ErrClosed is returned after Close.
	ErrClosed = mmap.ErrClosed
)

// Source is a contiguous region that grows and shrinks at its tail.
type Source interface {
	// Grow maps at least n more bytes, rounded up to whole pages, and
	// returns the new mapped length.
	Grow(n int) (int, error)
	// Shrink unmaps n bytes from the tail. n must be a page multiple.
	Shrink(n int) (int, error)
	// Len returns the mapped length.
	Len() int
	// Bytes returns the region. Its base never moves; only the first Len
	// bytes may be touched.
	Bytes() []byte
	// PageSize returns the mapping granularity.
	PageSize() int
	// Close releases the region.
	Close() error
}

var _ Source = (*mmap.Reservation)(nil)

// Reserve returns a Source backed by max bytes of reserved address space.
func Reserve(max int) (Source, error) {
	return ReservePages(max, 0)
}

// ReservePages is like Reserve with a commit granularity of page bytes, a
// multiple of the OS page size. Zero selects the OS page size.
func ReservePages(max, page int) (Source, error) {
	r, err := mmap.ReservePages(max, page)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Memory is a Source over a fixed-capacity Go-heap buffer.
type Memory struct {
	mu     sync.Mutex
	buf    []byte
	n      int
	page   int
	closed bool
}

// NewMemory returns a Memory source holding up to max bytes in page-sized
// steps. A non-positive page selects the OS page size.
func NewMemory(max, page int) *Memory {
	if page <= 0 {
		page = os.Getpagesize()
	}
	max = roundUp(max, page)
	return &Memory{buf: make([]byte, max), page: page}
}

func (m *Memory) Grow(n int) (int, error) {
	if n <= 0 {
		return 0, ErrInvalidSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	n = roundUp(n, m.page)
	if m.n+n > len(m.buf) {
		return m.n, fmt.Errorf("%w: %d mapped, %d requested, capacity %d", ErrExhausted, m.n, n, len(m.buf))
	}
	m.n += n
	return m.n, nil
}

func (m *Memory) Shrink(n int) (int, error) {
	if n <= 0 || n%m.page != 0 {
		return 0, ErrInvalidSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if n > m.n {
		return m.n, fmt.Errorf("%w: %d mapped, %d requested", ErrShrink, m.n, n)
	}
	clear(m.buf[m.n-n : m.n])
	m.n -= n
	return m.n, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func (m *Memory) Bytes() []byte { return m.buf }

func (m *Memory) PageSize() int { return m.page }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.n = 0
	return nil
}

func roundUp(n, page int) int {
	return (n + page - 1) / page * page
}
