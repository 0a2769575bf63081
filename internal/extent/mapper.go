package extent

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/heapcore/internal/mmap"
)

// Region is an independently mapped block.
type Region interface {
	Bytes() []byte
	Close() error
}

// Mapper maps Regions.
type Mapper interface {
	// Map returns a zeroed, page-aligned region of at least size bytes.
	Map(size int) (Region, error)
}

// AnonMapper maps anonymous OS memory advised for random access.
type AnonMapper struct{}

func (AnonMapper) Map(size int) (Region, error) {
	m, err := mmap.MapAnon(size)
	if err != nil {
		return nil, err
	}
	if err := m.Advise(mmap.AccessRandom); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("extent: advise %d-byte region: %w", size, err)
	}
	return m, nil
}

// HeapMapper allocates regions on the Go heap.
type HeapMapper struct{}

func (HeapMapper) Map(size int) (Region, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return &heapRegion{buf: make([]byte, size)}, nil
}

type heapRegion struct {
	buf    []byte
	closed atomic.Bool
}

func (r *heapRegion) Bytes() []byte {
	if r.closed.Load() {
		return nil
	}
	return r.buf
}

func (r *heapRegion) Close() error {
	r.closed.Store(true)
	return nil
}
