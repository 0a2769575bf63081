package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/heapcore/internal/mmap"
	"github.com/hupe1980/heapcore/internal/resource"
)

func TestMemory(t *testing.T) {
	m := NewMemory(4096, 1024)
	assert.Equal(t, 1024, m.PageSize())
	assert.Len(t, m.Bytes(), 4096)

	n, err := m.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)

	n, err = m.Grow(2048)
	require.NoError(t, err)
	assert.Equal(t, 3072, n)

	_, err = m.Grow(2048)
	assert.ErrorIs(t, err, ErrExhausted)

	m.Bytes()[2048] = 1
	n, err = m.Shrink(1024)
	require.NoError(t, err)
	assert.Equal(t, 2048, n)
	assert.Zero(t, m.Bytes()[2048])

	_, err = m.Shrink(100)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = m.Shrink(4096)
	assert.ErrorIs(t, err, ErrShrink)

	require.NoError(t, m.Close())
	_, err = m.Grow(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReserve(t *testing.T) {
	src, err := Reserve(1 << 20)
	require.NoError(t, err)
	defer src.Close()

	n, err := src.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, src.PageSize(), n)
	src.Bytes()[0] = 1
}

func TestBudgeted(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 2048})
	b := NewBudgeted(NewMemory(8192, 1024), rc)

	_, err := b.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), rc.MemoryUsage())

	_, err = b.Grow(1024)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), rc.MemoryUsage())

	_, err = b.Grow(1)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Equal(t, 2048, b.Len())

	_, err = b.Shrink(1024)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), rc.MemoryUsage())

	require.NoError(t, b.Close())
	assert.Zero(t, rc.MemoryUsage())
	assert.Equal(t, int64(2048), rc.MemoryPeak())
}

func TestBudgeted_SourceFailureReleases(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	b := NewBudgeted(NewMemory(1024, 1024), rc)

	_, err := b.Grow(1024)
	require.NoError(t, err)
	_, err = b.Grow(1024)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int64(1024), rc.MemoryUsage())
}

func TestMappers(t *testing.T) {
	for name, m := range map[string]Mapper{
		"anon": AnonMapper{},
		"heap": HeapMapper{},
	} {
		t.Run(name, func(t *testing.T) {
			r, err := m.Map(4096)
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(r.Bytes()), 4096)
			r.Bytes()[4095] = 1
			require.NoError(t, r.Close())
			require.NoError(t, r.Close())
			assert.Nil(t, r.Bytes())
		})
	}
}

func TestAnonMapper_MultiPage(t *testing.T) {
	page := mmap.PageSize()
	r, err := AnonMapper{}.Map(8 * page)
	require.NoError(t, err)
	defer r.Close()

	b := r.Bytes()
	require.GreaterOrEqual(t, len(b), 8*page)
	for i := 0; i < len(b); i += page {
		assert.Zero(t, b[i])
		b[i] = byte(i / page)
	}
	for i := 0; i < len(b); i += page {
		assert.Equal(t, byte(i/page), b[i])
	}
}

func TestBudgetedMapper(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 8192})
	m := NewBudgetedMapper(HeapMapper{}, rc)

	r1, err := m.Map(4096)
	require.NoError(t, err)
	_, err = m.Map(4096)
	require.NoError(t, err)

	_, err = m.Map(4096)
	assert.ErrorIs(t, err, ErrExhausted)

	require.NoError(t, r1.Close())
	require.NoError(t, r1.Close())
	assert.Equal(t, int64(4096), rc.MemoryUsage())
}
