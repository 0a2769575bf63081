package chunk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunk(t *testing.T, capacity int, start uint64, runs ...Run) *Chunk {
	t.Helper()
	c := New(make([]byte, capacity), start)
	for _, r := range runs {
		require.NoError(t, c.Append(r.Length, r.Allocated))
	}
	return c
}

func runsOf(t *testing.T, c *Chunk) []Run {
	t.Helper()
	var out []Run
	require.NoError(t, c.Runs(func(r Run) bool {
		out = append(out, r)
		return true
	}))
	return out
}

func used(n uint64) Run { return Run{Length: n, Allocated: true} }
func free(n uint64) Run { return Run{Length: n} }

func lengths(runs []Run) []Run {
	out := make([]Run, len(runs))
	for i, r := range runs {
		out[i] = Run{Length: r.Length, Allocated: r.Allocated}
	}
	return out
}

func TestAppend_Coalesces(t *testing.T) {
	c := newChunk(t, 64, 0, free(100), free(28), used(8))

	assert.Equal(t, []Run{free(128), used(8)}, lengths(runsOf(t, c)))
	assert.Equal(t, uint64(136), c.Len())

	require.NoError(t, c.Append(0, true))
	assert.Equal(t, uint64(136), c.Len())
}

func TestAppend_Range(t *testing.T) {
	c := newChunk(t, 64, 0, free(MaxLen))
	assert.ErrorIs(t, c.Append(1, true), ErrRange)
}

func TestFindBySize_FirstFit(t *testing.T) {
	c := newChunk(t, 64, 1000,
		used(8), free(16), used(8), free(64), used(8), free(32))

	off, ok, err := c.FindBySize(20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1000+8+16+8), off, "first run >= 20 is the 64-byte run")

	assert.Equal(t, []Run{used(8), free(16), used(28), free(44), used(8), free(32)}, lengths(runsOf(t, c)))
}

func TestFindBySize_Exact(t *testing.T) {
	c := newChunk(t, 64, 0, used(8), free(16), used(8), free(40))

	off, ok, err := c.FindBySize(16)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(8), off)
	assert.Equal(t, []Run{used(32), free(40)}, lengths(runsOf(t, c)))
}

func TestFindBySize_FirstRun(t *testing.T) {
	c := newChunk(t, 64, 0, free(4096))

	off, ok, err := c.FindBySize(100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, off)

	off, ok, err = c.FindBySize(50)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), off)

	assert.Equal(t, []Run{used(150), free(3946)}, lengths(runsOf(t, c)))
}

func TestFindBySize_NotFound(t *testing.T) {
	c := newChunk(t, 64, 0, used(8), free(16), used(8), free(12))

	_, ok, err := c.FindBySize(17)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(16), c.LargestFree())

	_, _, err = c.FindBySize(0)
	assert.ErrorIs(t, err, ErrRange)
}

func TestFindBySize_Full(t *testing.T) {
	c := newChunk(t, 3, 0, used(8), free(100))

	// merging the allocation into the first run keeps the stream at 2 records,
	// but 100 -> 90 is still one byte, so this fits
	_, ok, err := c.FindBySize(10)
	require.NoError(t, err)
	require.True(t, ok)

	c = newChunk(t, 2, 0, free(100))
	before := append([]byte(nil), c.stream[:c.count]...)
	_, _, err = c.FindBySize(10)
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, before, c.stream[:c.count], "failed edit must leave the stream untouched")
}

func TestFindByOffset_Cases(t *testing.T) {
	tests := []struct {
		name string
		off  uint64
		size uint64
		want []Run
	}{
		{"exact merges both neighbours", 16, 32, []Run{free(64)}},
		{"head merges previous", 16, 8, []Run{free(24), used(24), free(16)}},
		{"tail merges next", 40, 8, []Run{free(16), used(24), free(24)}},
		{"inside", 24, 8, []Run{free(16), used(8), free(8), used(16), free(16)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newChunk(t, 64, 0, free(16), used(32), free(16))

			ok, err := c.FindByOffset(tt.off, tt.size)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, lengths(runsOf(t, c)))

			_, err = c.Verify()
			require.NoError(t, err)
		})
	}
}

func TestFindByOffset_NoNeighbours(t *testing.T) {
	tests := []struct {
		name string
		off  uint64
		size uint64
		want []Run
	}{
		{"exact", 0, 32, []Run{free(32)}},
		{"head", 0, 8, []Run{free(8), used(24)}},
		{"tail", 24, 8, []Run{used(24), free(8)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newChunk(t, 64, 0, used(32))
			ok, err := c.FindByOffset(tt.off, tt.size)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, lengths(runsOf(t, c)))
		})
	}
}

func TestFindByOffset_Outside(t *testing.T) {
	c := newChunk(t, 64, 4096, used(32), free(32))

	ok, err := c.FindByOffset(100, 8)
	require.NoError(t, err)
	assert.False(t, ok, "offset before chunk start")

	ok, err = c.FindByOffset(4096+64, 8)
	require.NoError(t, err)
	assert.False(t, ok, "offset past chunk end")
}

func TestFindByOffset_DoubleFree(t *testing.T) {
	c := newChunk(t, 64, 0, free(4096))

	off, ok, err := c.FindBySize(64)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.FindByOffset(off, 64)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.FindByOffset(off, 64)
	assert.ErrorIs(t, err, ErrDoubleFree)
	assert.Equal(t, []Run{free(4096)}, lengths(runsOf(t, c)))
}

func TestFindByOffset_Overrun(t *testing.T) {
	c := newChunk(t, 64, 0, used(16), free(16))
	_, err := c.FindByOffset(8, 16)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFindByOffset_Full(t *testing.T) {
	c := newChunk(t, 2, 0, used(32))
	_, err := c.FindByOffset(8, 8)
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, []Run{used(32)}, lengths(runsOf(t, c)))
}

func TestTrimLast(t *testing.T) {
	c := newChunk(t, 64, 0, used(100), free(5000))

	n, err := c.TrimLast(8192, false)
	require.NoError(t, err)
	assert.Zero(t, n, "run shorter than minimum")

	n, err = c.TrimLast(10, true)
	require.NoError(t, err)
	assert.Zero(t, n, "flag mismatch")

	n, err = c.TrimLastAligned(4096, false, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), n)
	assert.Equal(t, []Run{used(100), free(904)}, lengths(runsOf(t, c)))
	assert.Equal(t, uint64(1004), c.Len())

	n, err = c.TrimLast(1, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(904), n)
	assert.Equal(t, []Run{used(100)}, lengths(runsOf(t, c)))
	assert.Equal(t, uint64(100), c.Len())
}

func TestSplitInto(t *testing.T) {
	c := newChunk(t, 64, 512, used(8), free(8), used(8), free(8), used(8), free(8))
	dst := New(make([]byte, 64), 0)

	require.NoError(t, c.SplitInto(dst))

	head, tail := runsOf(t, c), runsOf(t, dst)
	assert.Equal(t, []Run{used(8), free(8), used(8)}, lengths(head))
	assert.Equal(t, []Run{free(8), used(8), free(8)}, lengths(tail))
	assert.Equal(t, c.End(), dst.Start)
	assert.Equal(t, uint64(48), c.Len()+dst.Len())
	assert.Equal(t, uint64(512+24), tail[0].Offset)

	single := newChunk(t, 64, 0, free(64))
	assert.ErrorIs(t, single.SplitInto(New(make([]byte, 64), 0)), ErrFull)
}

func TestVerify_Corrupt(t *testing.T) {
	c := newChunk(t, 64, 0, used(8), free(8))

	// force two adjacent free runs
	c.stream[0] = 0x08
	_, err := c.Verify()
	assert.ErrorIs(t, err, ErrCorrupt)

	c = newChunk(t, 64, 0, used(8), free(8))
	c.length = 20
	_, err = c.Verify()
	assert.ErrorIs(t, err, ErrCorrupt)
}

// TestTiling runs a random allocate/free workload and checks the tiling
// invariants after every step.
func TestTiling(t *testing.T) {
	const extent = 1 << 16
	c := newChunk(t, 16384, 0, free(extent))
	rng := rand.New(rand.NewSource(42))

	type extentRef struct{ off, size uint64 }
	var live []extentRef
	var allocated uint64

	for step := range 5000 {
		if len(live) == 0 || rng.Intn(3) > 0 {
			size := uint64(rng.Intn(256) + 1)
			off, ok, err := c.FindBySize(size)
			require.NoError(t, err, "step %d", step)
			if ok {
				live = append(live, extentRef{off, size})
				allocated += size
			}
		} else {
			i := rng.Intn(len(live))
			e := live[i]
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]

			ok, err := c.FindByOffset(e.off, e.size)
			require.NoError(t, err, "step %d", step)
			require.True(t, ok)
			allocated -= e.size
		}

		got, err := c.Verify()
		require.NoError(t, err, "step %d", step)
		require.Equal(t, allocated, got, "step %d", step)
	}

	for _, e := range live {
		ok, err := c.FindByOffset(e.off, e.size)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, []Run{free(extent)}, lengths(runsOf(t, c)))
}
