package heapcore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type node struct {
	Key         uint64
	Left, Right uint32
	Flags       [3]byte
}

func TestNewPool_RejectsPointers(t *testing.T) {
	h := newTestHeap(t)

	_, err := NewPool[*int](h)
	assert.ErrorIs(t, err, ErrPointerType)
	_, err = NewPool[string](h)
	assert.ErrorIs(t, err, ErrPointerType)
	_, err = NewPool[struct {
		ID   uint32
		Tags []string
	}](h)
	assert.ErrorIs(t, err, ErrPointerType)
	_, err = NewPool[[4]any](h)
	assert.ErrorIs(t, err, ErrPointerType)

	_, err = NewPool[[0]*int](h)
	assert.NoError(t, err)
	_, err = NewPool[[16]float32](h)
	assert.NoError(t, err)
}

func TestPool_GetPut(t *testing.T) {
	h := newTestHeap(t)
	nodes, err := NewPool[node](h)
	require.NoError(t, err)
	assert.Equal(t, "heapcore.node", nodes.Name())

	n, err := nodes.Get()
	require.NoError(t, err)
	assert.Equal(t, node{}, *n)
	n.Key, n.Left = 42, 7
	assert.Equal(t, 1, nodes.Len())
	assert.Equal(t, 1, nodes.Slabs())

	nodes.Put(n)
	assert.Equal(t, 0, nodes.Len())

	m, err := nodes.Get()
	require.NoError(t, err)
	assert.Equal(t, node{}, *m)
	nodes.Put(m)
}

func TestPool_ZeroSize(t *testing.T) {
	h := newTestHeap(t)
	p, err := NewPool[struct{}](h)
	require.NoError(t, err)

	a, err := p.Get()
	require.NoError(t, err)
	b, err := p.Get()
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	p.Put(a)
	p.Put(b)
}

func TestPool_ChainGrowth(t *testing.T) {
	h := newTestHeap(t, WithSlabSize(testPage))
	p, err := NewPool[[64]byte](h)
	require.NoError(t, err)

	first, err := p.Get()
	require.NoError(t, err)
	total := 3*h.Stats().Pools[0].Capacity + 1

	objs := []*[64]byte{first}
	for i := 1; i < total; i++ {
		o, err := p.Get()
		require.NoError(t, err)
		o[0] = byte(i)
		objs = append(objs, o)
	}
	assert.Equal(t, 4, p.Slabs())
	assert.Equal(t, total, p.Len())
	for i, o := range objs {
		assert.Equal(t, byte(i), o[0])
		p.Put(o)
	}
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 1, p.Slabs())
}

func TestPool_DoubleFree(t *testing.T) {
	h := newTestHeap(t)
	p, err := NewPool[uint64](h)
	require.NoError(t, err)

	v, err := p.Get()
	require.NoError(t, err)
	keep, err := p.Get()
	require.NoError(t, err)
	p.Put(v)

	requireCorruption(t, func() { p.Put(v) })

	var foreign uint64
	ce := requireCorruption(t, func() { p.Put(&foreign) })
	assert.ErrorIs(t, ce, ErrMisuse)
	p.Put(keep)
}

func TestPool_MemoryLimit(t *testing.T) {
	h := newTestHeap(t, WithMemoryLimit(2*testPage), WithSlabSize(64<<10))
	p, err := NewPool[uint64](h)
	require.NoError(t, err)

	_, err = p.Get()
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestPool_StatsAndClose(t *testing.T) {
	h := newTestHeap(t)
	a, err := NewPool[uint32](h)
	require.NoError(t, err)
	b, err := NewPool[node](h)
	require.NoError(t, err)

	_, err = a.Get()
	require.NoError(t, err)

	s := h.Stats()
	require.Len(t, s.Pools, 2)
	assert.Equal(t, "uint32", s.Pools[0].Name)
	assert.Equal(t, 1, s.Pools[0].Live)
	assert.Equal(t, 0, s.Pools[1].Slabs)
	assert.Equal(t, s.Pools[0].MappedBytes, s.SlabBytes)

	require.NoError(t, a.Close())
	_, err = a.Get()
	assert.ErrorIs(t, err, ErrClosed)

	s = h.Stats()
	require.Len(t, s.Pools, 1)
	assert.Equal(t, "heapcore.node", s.Pools[0].Name)
	assert.Zero(t, s.SlabBytes)

	require.NoError(t, h.Close())
	_, err = b.Get()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_Concurrent(t *testing.T) {
	h := newTestHeap(t, WithSlabSize(testPage))
	p, err := NewPool[node](h)
	require.NoError(t, err)

	var g errgroup.Group
	for w := range 4 {
		g.Go(func() error {
			var live []*node
			for i := range 1000 {
				n, err := p.Get()
				if err != nil {
					return err
				}
				n.Key = uint64(w)<<32 | uint64(i)
				live = append(live, n)
				if i%3 == 2 {
					p.Put(live[0])
					live = live[1:]
				}
			}
			for _, n := range live {
				p.Put(n)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, p.Len())
}

func TestHeap_Dump(t *testing.T) {
	for _, c := range []DumpCompression{DumpPlain, DumpLZ4, DumpZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			h := newTestHeap(t, WithDumpRateLimit(1<<30))
			p, err := NewPool[node](h)
			require.NoError(t, err)

			for range 5 {
				_, err := p.Get()
				require.NoError(t, err)
			}
			b, err := h.Alloc(100)
			require.NoError(t, err)
			_, err = h.Alloc(50)
			require.NoError(t, err)
			h.Free(b)

			var buf bytes.Buffer
			require.NoError(t, h.Dump(&buf, WithDumpCompression(c)))

			sum, err := ScanDump(&buf)
			require.NoError(t, err)
			assert.Equal(t, h.UsableStart(), sum.Header.UsableStart)
			assert.Equal(t, 1, sum.Chunks)
			assert.Equal(t, uint64(testPage), sum.AllocatedBytes+sum.FreeBytes)
			assert.Equal(t, uint64(2*DefaultChunkCapacity+52), sum.AllocatedBytes)
			require.Len(t, sum.Pools, 1)
			assert.Equal(t, 5, sum.Pools[0].Live)
			assert.Equal(t, uint64(5), sum.Occupancy["heapcore.node"].GetCardinality())
		})
	}
}
