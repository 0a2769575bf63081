package heapcore

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/heapcore/internal/slab"
)

// Pool hands out fixed-size objects of type T from slabs mapped outside
// the Go heap. T must not contain Go pointers (pointers, slices, strings,
// maps, channels, functions or interfaces), because the garbage collector
// does not scan slab memory.
//
// A Pool is safe for concurrent use.
type Pool[T any] struct {
	h    *Heap
	sp   *slab.Pool
	name string
}

// NewPool creates a pool for T registered with h. Stats and Dump report it
// and h.Close unmaps it.
//
// Example:
//
//	type node struct{ key, left, right uint32 }
//
//	nodes, _ := heapcore.NewPool[node](h)
//	n, _ := nodes.Get()
//	defer nodes.Put(n)
func NewPool[T any](h *Heap) (*Pool[T], error) {
	typ := reflect.TypeFor[T]()
	if hasPointers(typ) {
		return nil, fmt.Errorf("%w: %s", ErrPointerType, typ)
	}
	if h.closed.Load() {
		return nil, ErrClosed
	}

	name := typ.String()
	sp, err := slab.New(max(int(typ.Size()), 1), typ.Align(),
		slab.WithSlabSize(h.opts.slabSize),
		slab.WithMapper(h.mapper),
		slab.WithLogger(h.log.WithPool(name).Logger),
		slab.WithObserver(h.metrics),
	)
	if err != nil {
		return nil, translateError(err)
	}

	p := &Pool[T]{h: h, sp: sp, name: name}
	if err := h.register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a zeroed object. It returns an error wrapping ErrOutOfMemory
// when no slab can be mapped.
func (p *Pool[T]) Get() (*T, error) {
	ptr, err := p.sp.Allocate()
	if err != nil {
		return nil, translateError(err)
	}
	obj := (*T)(ptr)
	var zero T
	*obj = zero
	return obj, nil
}

// Put returns obj to the pool. obj must have come from Get on this pool and
// not been returned since; anything else panics with a *CorruptionError.
func (p *Pool[T]) Put(obj *T) {
	p.sp.Deallocate(unsafe.Pointer(obj))
}

// Len returns the number of live objects.
func (p *Pool[T]) Len() int { return p.sp.Count() }

// Slabs returns the number of slabs currently mapped.
func (p *Pool[T]) Slabs() int { return p.sp.Slabs() }

// Name returns the element type name.
func (p *Pool[T]) Name() string { return p.name }

// Close unmaps every slab and detaches the pool from its heap. Objects
// handed out become invalid.
func (p *Pool[T]) Close() error {
	p.h.unregister(p)
	return p.close()
}

func (p *Pool[T]) close() error {
	return p.sp.Close()
}

func (p *Pool[T]) stats() PoolStats {
	return PoolStats{
		Name:        p.name,
		ObjectSize:  p.sp.ObjectSize(),
		Capacity:    p.sp.Capacity(),
		Slabs:       p.sp.Slabs(),
		Live:        p.sp.Count(),
		MappedBytes: p.sp.MappedBytes(),
	}
}

func (p *Pool[T]) occupancy() *roaring.Bitmap {
	return p.sp.Occupancy()
}

// hasPointers reports whether values of t hold references the garbage
// collector must trace.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Slice,
		reflect.String, reflect.Chan, reflect.Func, reflect.Interface:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
