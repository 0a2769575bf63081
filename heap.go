package heapcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/heapcore/internal/arena"
	"github.com/hupe1980/heapcore/internal/extent"
	"github.com/hupe1980/heapcore/internal/fault"
	"github.com/hupe1980/heapcore/internal/resource"
	"github.com/hupe1980/heapcore/internal/varint"
)

// MaxAllocSize is the largest size Alloc accepts.
const MaxAllocSize = varint.MaxLength

// Heap is a general-purpose allocator over one contiguous region plus any
// number of typed slab pools. A Heap is safe for concurrent use.
type Heap struct {
	arena   *arena.Arena
	mapper  Mapper
	rc      *resource.Controller
	opts    options
	log     *Logger
	metrics MetricsCollector
	timed   bool

	mu     sync.Mutex
	pools  []poolHandle
	closed atomic.Bool
}

// poolHandle is the untyped view of a Pool[T] the heap keeps for stats,
// dumps and Close.
type poolHandle interface {
	stats() PoolStats
	occupancy() *roaring.Bitmap
	close() error
}

// New creates a heap. By default the region is a 1 GiB address space
// reservation of which only the used prefix is committed.
func New(optFns ...Option) (h *Heap, err error) {
	o := applyOptions(optFns)
	ctx := context.Background()

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes: o.memoryLimit,
		DumpBytesPerSec:  o.dumpRateLimit,
	})

	src := o.source
	if src == nil {
		if src, err = extent.ReservePages(o.reservation, o.pageSize); err != nil {
			o.logger.LogOpen(ctx, 0, 0, err)
			return nil, translateError(err)
		}
	}
	budgeted := extent.NewBudgeted(src, rc)

	a, err := arena.New(budgeted,
		arena.WithAlignment(o.alignment),
		arena.WithChunkCapacity(o.chunkCapacity),
		arena.WithInitialSize(o.initialSize),
		arena.WithShrinkThreshold(o.shrinkThreshold),
		arena.WithLogger(o.logger.WithComponent("arena").Logger),
		arena.WithObserver(o.metricsCollector),
	)
	if err != nil {
		err = errors.Join(translateError(err), budgeted.Close())
		o.logger.LogOpen(ctx, 0, 0, err)
		return nil, err
	}

	h = &Heap{
		arena:   a,
		mapper:  extent.NewBudgetedMapper(o.mapper, rc),
		rc:      rc,
		opts:    o,
		log:     o.logger,
		metrics: o.metricsCollector,
	}
	_, noop := o.metricsCollector.(NoopMetricsCollector)
	h.timed = !noop

	h.log.LogOpen(ctx, a.Stats().Mapped, a.UsableStart(), nil)
	return h, nil
}

// Alloc returns size zeroed bytes from the region. The slice's capacity is
// size rounded up to the alignment; Free relies on it, so the slice must be
// passed back unsliced at the front.
//
// Alloc returns ErrInvalidSize for sizes outside [1, MaxAllocSize] and an
// error wrapping ErrOutOfMemory when the region cannot grow.
func (h *Heap) Alloc(size int) ([]byte, error) {
	if size <= 0 || size > MaxAllocSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	var start time.Time
	if h.timed {
		start = time.Now()
	}
	off, err := h.arena.Allocate(uint64(size))
	if h.timed {
		h.metrics.RecordAlloc(size, time.Since(start), err)
	}
	if err != nil {
		err = translateError(err)
		if errors.Is(err, ErrOutOfMemory) {
			h.log.LogAllocFailure(context.Background(), size, err)
		}
		return nil, err
	}

	b := h.arena.Bytes(off, h.arena.AlignedSize(uint64(size)))
	clear(b)
	return b[:size], nil
}

// Free returns b to the heap. b must have been returned by Alloc and not
// freed since. Freeing anything else panics with a *CorruptionError.
func (h *Heap) Free(b []byte) {
	if h.closed.Load() {
		fault.Misuse("free", 0, uint64(cap(b)), "heap closed")
	}
	off, ok := h.arena.OffsetOf(b)
	if !ok {
		fault.Misuse("free", off, uint64(cap(b)), "slice does not point into the heap")
	}

	var start time.Time
	if h.timed {
		start = time.Now()
	}
	h.arena.Deallocate(off, uint64(cap(b)))
	if h.timed {
		h.metrics.RecordFree(cap(b), time.Since(start))
	}
}

// Offset returns the position of b relative to UsableStart. The first
// allocation from a fresh heap sits at offset 0.
func (h *Heap) Offset(b []byte) uint64 {
	off, ok := h.arena.OffsetOf(b)
	if !ok || off < h.arena.UsableStart() {
		fault.Misuse("offset", off, uint64(cap(b)), "slice does not point into the heap")
	}
	return off - h.arena.UsableStart()
}

// UsableStart returns the region offset of the first byte Alloc can hand
// out. Everything below it holds chunk metadata.
func (h *Heap) UsableStart() uint64 { return h.arena.UsableStart() }

// Stats returns a snapshot of heap accounting.
func (h *Heap) Stats() Stats {
	as := h.arena.Stats()
	s := Stats{
		MappedBytes:   as.Mapped,
		UsedBytes:     as.Used,
		MetadataBytes: as.Metadata,
		Chunks:        as.Chunks,
		Allocs:        as.Allocs,
		Frees:         as.Frees,
		Extends:       as.Extends,
		Contracts:     as.Contracts,
		Splits:        as.Splits,
		MemoryUsage:   h.rc.MemoryUsage(),
		MemoryPeak:    h.rc.MemoryPeak(),
		MemoryLimit:   h.rc.MemoryLimit(),
	}
	for _, p := range h.poolSnapshot() {
		ps := p.stats()
		s.SlabBytes += ps.MappedBytes
		s.Pools = append(s.Pools, ps)
	}
	return s
}

// Verify checks the region metadata for consistency. It blocks allocation
// while it runs.
func (h *Heap) Verify() error {
	if h.closed.Load() {
		return ErrClosed
	}
	return translateError(h.arena.Verify())
}

// Close unmaps every pool and the region. Slices and pointers handed out
// become invalid.
func (h *Heap) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	stats := h.Stats()

	h.mu.Lock()
	pools := h.pools
	h.pools = nil
	h.mu.Unlock()

	var errs []error
	for _, p := range pools {
		if err := p.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.arena.Close(); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	h.log.LogClose(context.Background(), stats, err)
	return err
}

func (h *Heap) String() string {
	return h.Stats().String()
}

func (h *Heap) register(p poolHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return ErrClosed
	}
	h.pools = append(h.pools, p)
	return nil
}

func (h *Heap) unregister(p poolHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, q := range h.pools {
		if q == p {
			h.pools = append(h.pools[:i], h.pools[i+1:]...)
			return
		}
	}
}

func (h *Heap) poolSnapshot() []poolHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]poolHandle(nil), h.pools...)
}
