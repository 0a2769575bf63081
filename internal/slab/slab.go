package slab

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/heapcore/internal/extent"
	"github.com/hupe1980/heapcore/internal/fault"
	"github.com/hupe1980/heapcore/internal/spinlock"
)

const (
	// DefaultSlabSize is the default mapping size of one slab.
	DefaultSlabSize = 64 << 10
	// MinSlots is the fewest slots a slab may hold.
	MinSlots = 8

	none = -1
)

var (
	// ErrConfig is returned by New for invalid parameters.
	ErrConfig = errors.New("slab: invalid configuration")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("slab: pool closed")
	// ErrDoubleFree marks a slot released twice.
	ErrDoubleFree = errors.New("slab: slot is not allocated")
)

// Observer receives slab mapping notifications.
type Observer interface {
	RecordSlabMap(bytes int)
	RecordSlabUnmap(bytes int)
}

type noopObserver struct{}

func (noopObserver) RecordSlabMap(int)   {}
func (noopObserver) RecordSlabUnmap(int) {}

type options struct {
	slabSize int
	mapper   extent.Mapper
	logger   *slog.Logger
	observer Observer
}

// Option configures a Pool.
type Option func(*options)

// WithSlabSize sets the slab mapping size. It is rounded up to a power of
// two of at least one page, and grown until a slab holds MinSlots objects.
func WithSlabSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.slabSize = n
		}
	}
}

// WithMapper sets where slab memory comes from.
func WithMapper(m extent.Mapper) Option {
	return func(o *options) {
		if m != nil {
			o.mapper = m
		}
	}
}

// WithLogger sets the logger used when slabs are mapped or unmapped.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the mapping observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// header describes one mapped slab.
type header struct {
	region extent.Region
	bits   *bitset.BitSet // view of the bitmap words inside region
	base   unsafe.Pointer // first byte of region
	first  uintptr        // offset of slot 0 from base
	start  uintptr        // address of slot 0
	end    uintptr        // address past the last slot
	next   int

	lock  spinlock.RWLock
	count atomic.Int64 // occupied slots, -1 when unknown
	full  atomic.Bool
}

// Pool allocates objects of one size.
type Pool struct {
	objSize  uintptr
	align    uintptr
	slabSize int
	slots    int // per slab
	words    int // bitmap words per slab
	mapper   extent.Mapper
	log      *slog.Logger
	observer Observer

	// chain guards slabs, free, head, tail and hold.
	chain  spinlock.RWLock
	slabs  []*header
	free   []int
	head   int
	tail   int
	closed atomic.Bool

	// hold is set after an empty tail was released next to a slab at least
	// half occupied. The next such tail stays mapped until its predecessor
	// drops below half.
	hold bool

	mapped atomic.Int64
}

// New creates a pool for objects of objSize bytes aligned to align.
func New(objSize, align int, opts ...Option) (*Pool, error) {
	o := options{
		slabSize: DefaultSlabSize,
		mapper:   extent.AnonMapper{},
		logger:   slog.New(slog.DiscardHandler),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if objSize <= 0 {
		return nil, fmt.Errorf("%w: object size %d", ErrConfig, objSize)
	}
	if align <= 0 || bits.OnesCount(uint(align)) != 1 {
		return nil, fmt.Errorf("%w: alignment %d", ErrConfig, align)
	}

	p := &Pool{
		objSize:  uintptr(alignUp(objSize, align)),
		align:    uintptr(align),
		mapper:   o.mapper,
		log:      o.logger,
		observer: o.observer,
		head:     none,
		tail:     none,
	}

	size := max(nextPow2(o.slabSize), os.Getpagesize())
	for {
		p.slots, p.words = layout(size, int(p.objSize), align)
		if p.slots >= MinSlots {
			break
		}
		size *= 2
	}
	p.slabSize = size
	return p, nil
}

// layout returns how many slots fit into a slab of size bytes after the
// bitmap and worst-case alignment padding.
func layout(size, objSize, align int) (slots, words int) {
	for slots = size / objSize; slots > 0; slots-- {
		words = (slots + 63) / 64
		if words*8+align-1+slots*objSize <= size {
			return slots, words
		}
	}
	return 0, 0
}

// ObjectSize returns the slot size in bytes.
func (p *Pool) ObjectSize() int { return int(p.objSize) }

// SlabSize returns the mapping size of one slab.
func (p *Pool) SlabSize() int { return p.slabSize }

// Capacity returns the number of slots per slab.
func (p *Pool) Capacity() int { return p.slots }

// Allocate returns a pointer to a free slot. Slots are zero when their
// slab is first mapped; reused slots keep their previous contents.
func (p *Pool) Allocate() (unsafe.Pointer, error) {
	for {
		if p.closed.Load() {
			return nil, ErrClosed
		}

		p.chain.RLock()
		for i := p.head; i != none; i = p.slabs[i].next {
			if ptr := p.slabs[i].take(p); ptr != nil {
				p.chain.RUnlock()
				return ptr, nil
			}
		}
		p.chain.RUnlock()

		if err := p.grow(); err != nil {
			return nil, err
		}
	}
}

// take claims the first clear slot, or returns nil if the slab is full.
func (h *header) take(p *Pool) unsafe.Pointer {
	if h.full.Load() {
		return nil
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	slot, ok := h.bits.NextClear(0)
	if !ok || slot >= uint(p.slots) {
		h.full.Store(true)
		return nil
	}
	h.bits.Set(slot)
	if n := h.count.Load(); n >= 0 {
		h.count.Store(n + 1)
	}
	return unsafe.Add(h.base, h.first+uintptr(slot)*p.objSize)
}

// grow maps a new slab at the tail unless another slab has room.
func (p *Pool) grow() error {
	p.chain.Lock()
	defer p.chain.Unlock()

	for i := p.head; i != none; i = p.slabs[i].next {
		if !p.slabs[i].full.Load() {
			return nil
		}
	}

	region, err := p.mapper.Map(p.slabSize)
	if err != nil {
		return fmt.Errorf("slab: map %d bytes: %w", p.slabSize, err)
	}
	mem := region.Bytes()
	if len(mem) < p.slabSize {
		_ = region.Close()
		return fmt.Errorf("slab: mapper returned %d of %d bytes", len(mem), p.slabSize)
	}

	base := unsafe.Pointer(&mem[0])
	words := unsafe.Slice((*uint64)(base), p.words)
	clear(words)
	addr := uintptr(base)
	start := (addr + uintptr(p.words*8) + p.align - 1) &^ (p.align - 1)

	h := &header{
		region: region,
		bits:   bitset.From(words),
		base:   base,
		first:  start - addr,
		start:  start,
		end:    start + uintptr(p.slots)*p.objSize,
		next:   none,
	}
	h.count.Store(0)

	idx := len(p.slabs)
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
		p.slabs[idx] = h
	} else {
		p.slabs = append(p.slabs, h)
	}
	if p.tail == none {
		p.head = idx
	} else {
		p.slabs[p.tail].next = idx
	}
	p.tail = idx

	p.mapped.Add(int64(p.slabSize))
	p.observer.RecordSlabMap(p.slabSize)
	p.log.Debug("slab mapped",
		"object_size", p.objSize,
		"slab_size", p.slabSize,
		"slots", p.slots,
	)
	return nil
}

// Deallocate returns the slot at ptr to the pool. Pointers that were not
// returned by Allocate and slots released twice panic.
func (p *Pool) Deallocate(ptr unsafe.Pointer) {
	addr := uintptr(ptr)

	p.chain.RLock()
	idx, h := p.owner(addr)
	if h == nil {
		p.chain.RUnlock()
		fault.Misuse("slab free", uint64(addr), uint64(p.objSize), "pointer outside every slab")
	}
	rel := addr - h.start
	if rel%p.objSize != 0 {
		p.chain.RUnlock()
		fault.Misuse("slab free", uint64(addr), uint64(p.objSize), "pointer not at a slot boundary")
	}
	slot := uint(rel / p.objSize)

	h.lock.Lock()
	if !h.bits.Test(slot) {
		h.lock.Unlock()
		p.chain.RUnlock()
		fault.Panic("slab free", uint64(addr), uint64(p.objSize), ErrDoubleFree)
	}
	h.bits.Clear(slot)
	h.count.Store(-1)
	h.full.Store(false)
	h.lock.Unlock()

	tail := idx == p.tail || (p.tail != p.head && p.slabs[p.tail].occupied() == 0)
	p.chain.RUnlock()

	if tail {
		p.shrink()
	}
}

func (p *Pool) owner(addr uintptr) (int, *header) {
	for i := p.head; i != none; i = p.slabs[i].next {
		if h := p.slabs[i]; addr >= h.start && addr < h.end {
			return i, h
		}
	}
	return none, nil
}

// shrink unmaps empty tail slabs that have a predecessor. A tail whose
// predecessor is at least half occupied is released only when no release is
// being held.
func (p *Pool) shrink() {
	p.chain.Lock()
	defer p.chain.Unlock()

	for p.tail != none && p.tail != p.head {
		h := p.slabs[p.tail]
		if h.occupied() != 0 {
			return
		}

		prev := p.head
		for p.slabs[prev].next != p.tail {
			prev = p.slabs[prev].next
		}
		if 2*p.slabs[prev].occupied() >= p.slots {
			if p.hold {
				return
			}
			p.hold = true
		} else {
			p.hold = false
		}
		p.slabs[prev].next = none
		p.free = append(p.free, p.tail)
		p.slabs[p.tail] = nil
		p.tail = prev

		if err := h.region.Close(); err != nil {
			p.log.Warn("slab unmap failed", "error", err)
		}
		p.mapped.Add(-int64(p.slabSize))
		p.observer.RecordSlabUnmap(p.slabSize)
		p.log.Debug("slab unmapped",
			"object_size", p.objSize,
			"slab_size", p.slabSize,
		)
	}
}

// occupied returns the number of occupied slots, recomputing the cached
// count if needed.
func (h *header) occupied() int {
	if n := h.count.Load(); n >= 0 {
		return int(n)
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	n := h.bits.Count()
	h.count.Store(int64(n))
	return int(n)
}

// Count returns the number of live objects.
func (p *Pool) Count() int {
	p.chain.RLock()
	defer p.chain.RUnlock()

	total := 0
	for i := p.head; i != none; i = p.slabs[i].next {
		total += p.slabs[i].occupied()
	}
	return total
}

// Slabs returns the length of the slab chain.
func (p *Pool) Slabs() int {
	p.chain.RLock()
	defer p.chain.RUnlock()

	n := 0
	for i := p.head; i != none; i = p.slabs[i].next {
		n++
	}
	return n
}

// MappedBytes returns the bytes currently mapped for slabs.
func (p *Pool) MappedBytes() int64 { return p.mapped.Load() }

// Occupancy returns the occupied slots as global slot numbers, where slot s
// of the n-th slab in the chain is n*Capacity()+s.
func (p *Pool) Occupancy() *roaring.Bitmap {
	p.chain.RLock()
	defer p.chain.RUnlock()

	rb := roaring.New()
	pos := 0
	for i := p.head; i != none; i = p.slabs[i].next {
		h := p.slabs[i]
		base := uint32(pos * p.slots)

		h.lock.RLock()
		for s, ok := h.bits.NextSet(0); ok && s < uint(p.slots); s, ok = h.bits.NextSet(s + 1) {
			rb.Add(base + uint32(s))
		}
		h.lock.RUnlock()
		pos++
	}
	return rb
}

// Close unmaps every slab. Pointers handed out by the pool become invalid.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.chain.Lock()
	defer p.chain.Unlock()

	var errs []error
	for i := p.head; i != none; i = p.slabs[i].next {
		if err := p.slabs[i].region.Close(); err != nil {
			errs = append(errs, err)
		}
		p.observer.RecordSlabUnmap(p.slabSize)
	}
	p.slabs, p.free = nil, nil
	p.head, p.tail = none, none
	p.mapped.Store(0)
	return errors.Join(errs...)
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
