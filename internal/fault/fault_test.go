package fault

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorruptionError(t *testing.T) {
	err := New("free", 0x40, 8, io.ErrUnexpectedEOF)
	assert.Equal(t, "heap corruption: free offset=0x40 size=8: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestPanicAndRecover(t *testing.T) {
	run := func(f func()) (err error) {
		defer Recover(&err)
		f()
		return nil
	}

	err := run(func() { Panic("alloc", 0, 16, io.EOF) })
	var ce *CorruptionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "alloc", ce.Op)
	assert.Equal(t, uint64(16), ce.Size)

	err = run(func() { Misuse("free", 1, 0, "zero size") })
	assert.ErrorIs(t, err, ErrMisuse)

	assert.NoError(t, run(func() {}))
	assert.PanicsWithValue(t, "boom", func() { _ = run(func() { panic("boom") }) })
}
