package arena

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/heapcore/internal/chunk"
	"github.com/hupe1980/heapcore/internal/extent"
	"github.com/hupe1980/heapcore/internal/fault"
	"github.com/hupe1980/heapcore/internal/spinlock"
)

var (
	// ErrOutOfMemory is returned when the source cannot supply more space.
	ErrOutOfMemory = errors.New("arena: out of memory")
	// ErrCorrupt marks inconsistent ring metadata.
	ErrCorrupt = errors.New("arena: inconsistent metadata")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("arena: closed")
	// ErrConfig is returned by New for invalid options.
	ErrConfig = errors.New("arena: invalid configuration")
)

// maxSplitRetries bounds how often one free may split a chunk.
const maxSplitRetries = 4

// Stats is a snapshot of arena accounting.
//
// Note on semantics:
//   - Mapped: bytes currently obtained from the source
//   - Used: bytes handed out to callers (after alignment)
//   - Metadata: bytes holding run streams
//   - Chunks: chunks linked into the ring
type Stats struct {
	Mapped    uint64
	Used      uint64
	Metadata  uint64
	Chunks    int
	Allocs    uint64 // Historical
	Frees     uint64 // Historical
	Extends   uint64 // Historical
	Contracts uint64 // Historical
	Splits    uint64 // Historical
}

type atomicStats struct {
	allocs    atomic.Uint64
	frees     atomic.Uint64
	extends   atomic.Uint64
	contracts atomic.Uint64
	splits    atomic.Uint64
}

// slot is one entry of the chunk pool.
type slot struct {
	c      *chunk.Chunk // nil when recycled
	stream uint64       // arena offset of c's run stream
}

// Arena allocates extents from an extent.Source.
type Arena struct {
	src  extent.Source
	base []byte
	page uint64
	opts options
	log  *slog.Logger

	// ring guards slots, freeSlots, first, last and spare, and every
	// chunk's Start and length.
	ring      spinlock.RWLock
	slots     []slot
	freeSlots []chunk.Index
	first     chunk.Index
	last      chunk.Index
	spare     chunk.Index
	usable    uint64

	// used counts every allocated byte, metadata included.
	mapped   atomic.Uint64
	used     atomic.Uint64
	metadata atomic.Uint64
	stats    atomicStats
	closed   atomic.Bool
}

// New creates an Arena over src, which must not have any bytes mapped yet.
func New(src extent.Source, opts ...Option) (*Arena, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	page := uint64(src.PageSize())
	if page == 0 || bits.OnesCount64(page) != 1 {
		return nil, fmt.Errorf("%w: page size %d is not a power of two", ErrConfig, page)
	}
	if bits.OnesCount64(o.alignment) != 1 || o.alignment > page {
		return nil, fmt.Errorf("%w: alignment %d", ErrConfig, o.alignment)
	}
	if o.chunkCap < MinChunkCapacity {
		return nil, fmt.Errorf("%w: chunk capacity %d below %d", ErrConfig, o.chunkCap, MinChunkCapacity)
	}
	o.chunkCap = alignUp(o.chunkCap, o.alignment)
	o.shrinkThreshold = max(o.shrinkThreshold/page*page, page)
	if src.Len() != 0 {
		return nil, fmt.Errorf("%w: source already has %d bytes mapped", ErrConfig, src.Len())
	}

	a := &Arena{
		src:   src,
		page:  page,
		opts:  o,
		log:   o.logger,
		first: chunk.None,
		last:  chunk.None,
		spare: chunk.None,
	}

	meta := 2 * o.chunkCap
	want := max(uint64(max(o.initialSize, 0)), meta+o.alignment)
	if want > chunk.MaxLen {
		return nil, fmt.Errorf("%w: initial size %d exceeds %d", ErrConfig, want, uint64(chunk.MaxLen))
	}
	n, err := src.Grow(int(want))
	if err != nil {
		return nil, fmt.Errorf("%w: initial grow of %d bytes: %w", ErrOutOfMemory, want, err)
	}
	a.base = src.Bytes()
	a.mapped.Store(uint64(n))

	// Offset 0 holds the first chunk's stream followed by the spare's.
	a.first = a.newSlot(0, 0)
	a.last = a.first
	a.spare = a.newSlot(o.chunkCap, 0)

	c := a.slots[a.first].c
	if err := c.Append(meta, true); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := c.Append(uint64(n)-meta, false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	a.used.Store(meta)
	a.metadata.Store(meta)
	a.usable = meta

	a.log.Debug("arena created",
		"mapped", n,
		"page_size", page,
		"chunk_capacity", o.chunkCap,
		"usable_start", meta,
	)
	return a, nil
}

// UsableStart returns the first offset that can ever be handed out.
func (a *Arena) UsableStart() uint64 { return a.usable }

// Alignment returns the allocation granule.
func (a *Arena) Alignment() uint64 { return a.opts.alignment }

// PageSize returns the source's page size.
func (a *Arena) PageSize() uint64 { return a.page }

// AlignedSize returns the number of bytes an allocation of size occupies.
func (a *Arena) AlignedSize(size uint64) uint64 { return alignUp(size, a.opts.alignment) }

// Bytes returns the n bytes at offset off. The slice is valid until the
// extent is deallocated.
func (a *Arena) Bytes(off, n uint64) []byte {
	return a.base[off : off+n : off+n]
}

// OffsetOf returns the offset of b's first byte. ok is false when b does
// not point into the mapped region.
func (a *Arena) OffsetOf(b []byte) (off uint64, ok bool) {
	if cap(b) == 0 {
		return 0, false
	}
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.base)))
	if p < base {
		return 0, false
	}
	off = uint64(p - base)
	return off, off < a.mapped.Load()
}

// Allocate reserves size bytes and returns their offset.
func (a *Arena) Allocate(size uint64) (uint64, error) {
	if size == 0 || size > chunk.MaxLen {
		fault.Misuse("alloc", 0, size, "size out of range")
	}
	if a.closed.Load() {
		return 0, ErrClosed
	}
	n := a.AlignedSize(size)
	if n+a.opts.chunkCap > chunk.MaxLen {
		return 0, fmt.Errorf("%w: %d bytes exceed the largest chunk extent", ErrOutOfMemory, size)
	}

	a.ring.RLock()
	off, ok, _, err := a.findLocked(n)
	if ok {
		a.used.Add(n)
		err = a.checkLocked(n)
	}
	a.ring.RUnlock()
	if err != nil {
		fault.Panic("alloc", off, n, err)
	}
	if ok {
		a.stats.allocs.Add(1)
		return off, nil
	}

	a.ring.Lock()
	defer a.ring.Unlock()

	// Another walker may have grown the region meanwhile.
	off, ok, err = a.fitLocked(n)
	if err != nil {
		fault.Panic("alloc", off, n, err)
	}
	if !ok {
		if err := a.growLocked(n); err != nil {
			return 0, err
		}
		if off, ok, err = a.fitLocked(n); !ok {
			fault.Panic("alloc", 0, n, errors.Join(fmt.Errorf("%w: no fit after extension", ErrCorrupt), err))
		}
	}
	a.used.Add(n)
	if err := a.checkLocked(n); err != nil {
		fault.Panic("alloc", off, n, err)
	}
	a.stats.allocs.Add(1)

	if err := a.ensureSpareLocked(); err != nil {
		a.log.Warn("arena spare chunk unavailable", "error", err)
	}
	return off, nil
}

// Deallocate releases size bytes at off. Freeing an extent that is not
// allocated panics.
func (a *Arena) Deallocate(off, size uint64) {
	if size == 0 || size > chunk.MaxLen {
		fault.Misuse("free", off, size, "size out of range")
	}
	if off < a.usable || off%a.opts.alignment != 0 {
		fault.Misuse("free", off, size, "offset not returned by Allocate")
	}
	n := a.AlignedSize(size)

	for attempt := 0; ; attempt++ {
		a.ring.RLock()
		if attempt == 0 {
			if err := a.claimLocked(off, n); err != nil {
				a.ring.RUnlock()
				fault.Panic("free", off, n, err)
			}
		}
		idx, done, full, err := a.releaseLocked(off, n)
		last := idx == a.last
		a.ring.RUnlock()

		switch {
		case err != nil:
			fault.Panic("free", off, n, err)
		case done:
			a.stats.frees.Add(1)
			if last {
				a.shrink()
			}
			return
		case !full:
			fault.Panic("free", off, n, fmt.Errorf("%w: offset outside every chunk", chunk.ErrDoubleFree))
		case attempt >= maxSplitRetries:
			fault.Panic("free", off, n, fmt.Errorf("%w: chunk stream still full after %d splits", ErrCorrupt, attempt))
		}
		a.split(off)
	}
}

// claimLocked rejects extents overlapping a run stream and lowers the used
// counter before the edit, which keeps it at or below the true allocated
// total for concurrent checks.
func (a *Arena) claimLocked(off, n uint64) error {
	for _, s := range a.slots {
		if s.c == nil {
			continue
		}
		if off < s.stream+a.opts.chunkCap && s.stream < off+n {
			return fmt.Errorf("%w: extent overlaps chunk metadata at %#x", fault.ErrMisuse, s.stream)
		}
	}
	for {
		used := a.used.Load()
		if used < n {
			return fmt.Errorf("%w: %d bytes used", chunk.ErrDoubleFree, used)
		}
		if a.used.CompareAndSwap(used, used-n) {
			return nil
		}
	}
}

// findLocked walks the ring first-fit. full is the first chunk that had a
// fit but no stream room to take it. The caller holds the ring lock.
func (a *Arena) findLocked(n uint64) (off uint64, ok bool, full chunk.Index, err error) {
	full = chunk.None
	for i := a.first; i != chunk.None; i = a.slots[i].c.Next {
		c := a.slots[i].c

		c.Lock.Lock()
		off, ok, err = c.FindBySize(n)
		c.Lock.Unlock()

		if errors.Is(err, chunk.ErrFull) {
			if full == chunk.None {
				full = i
			}
			continue
		}
		if err != nil {
			return c.Start, false, full, err
		}
		if ok {
			return off, true, full, nil
		}
	}
	return 0, false, full, nil
}

// releaseLocked frees [off, off+n) in the chunk that covers it. full reports
// that the chunk's stream had no room for the edit.
func (a *Arena) releaseLocked(off, n uint64) (idx chunk.Index, done, full bool, err error) {
	for i := a.first; i != chunk.None; i = a.slots[i].c.Next {
		c := a.slots[i].c
		if !c.Contains(off) {
			continue
		}

		c.Lock.Lock()
		ok, err := c.FindByOffset(off, n)
		c.Lock.Unlock()

		switch {
		case errors.Is(err, chunk.ErrFull):
			return i, false, true, nil
		case err != nil:
			return i, false, false, err
		case !ok:
			return i, false, false, fmt.Errorf("%w: chunk at %#x rejected covered offset", ErrCorrupt, c.Start)
		}
		return i, true, false, nil
	}
	return chunk.None, false, false, nil
}

// checkLocked asserts that used never exceeds mapped. mapped only changes
// under the exclusive ring lock, so any ring lock makes the comparison
// stable.
func (a *Arena) checkLocked(n uint64) error {
	if used, mapped := a.used.Load(), a.mapped.Load(); used > mapped {
		return fmt.Errorf("%w: %d bytes used of %d mapped after %d-byte edit", ErrCorrupt, used, mapped, n)
	}
	return nil
}

// Stats returns a snapshot of the arena accounting.
func (a *Arena) Stats() Stats {
	a.ring.RLock()
	chunks := len(a.slots) - len(a.freeSlots)
	if a.spare != chunk.None {
		chunks--
	}
	mapped := a.mapped.Load()
	meta := a.metadata.Load()
	used := a.used.Load()
	a.ring.RUnlock()

	return Stats{
		Mapped:    mapped,
		Used:      used - meta,
		Metadata:  meta,
		Chunks:    chunks,
		Allocs:    a.stats.allocs.Load(),
		Frees:     a.stats.frees.Load(),
		Extends:   a.stats.extends.Load(),
		Contracts: a.stats.contracts.Load(),
		Splits:    a.stats.splits.Load(),
	}
}

// Close releases the source. The arena must not be used afterwards.
func (a *Arena) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.ring.Lock()
	defer a.ring.Unlock()
	return a.src.Close()
}

func (a *Arena) String() string {
	s := a.Stats()
	return fmt.Sprintf(
		"Arena{chunks: %d, mapped: %.2f MB, used: %.2f MB, metadata: %.2f KB, allocs: %d, frees: %d}",
		s.Chunks,
		float64(s.Mapped)/(1024*1024),
		float64(s.Used)/(1024*1024),
		float64(s.Metadata)/1024,
		s.Allocs,
		s.Frees,
	)
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
