package spinlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRWLock_States(t *testing.T) {
	var l RWLock

	readers, writer := l.State()
	assert.Zero(t, readers)
	assert.False(t, writer)

	l.RLock()
	l.RLock()
	readers, writer = l.State()
	assert.Equal(t, 2, readers)
	assert.False(t, writer)

	assert.False(t, l.TryLock(), "writer must wait for readers")

	l.RUnlock()
	l.RUnlock()

	require.True(t, l.TryLock())
	readers, writer = l.State()
	assert.Zero(t, readers)
	assert.True(t, writer)

	assert.False(t, l.TryRLock(), "reader must wait for writer")
	assert.False(t, l.TryLock())

	l.Unlock()
	readers, writer = l.State()
	assert.Zero(t, readers)
	assert.False(t, writer)
}

func TestRWLock_Misuse(t *testing.T) {
	t.Run("unlock idle", func(t *testing.T) {
		var l RWLock
		assert.Panics(t, l.Unlock)
	})

	t.Run("unlock while reading", func(t *testing.T) {
		var l RWLock
		l.RLock()
		assert.Panics(t, l.Unlock)
	})

	t.Run("runlock idle", func(t *testing.T) {
		var l RWLock
		assert.Panics(t, l.RUnlock)
	})

	t.Run("runlock while writing", func(t *testing.T) {
		var l RWLock
		l.Lock()
		assert.Panics(t, l.RUnlock)
	})
}

func TestRWLock_MutualExclusion(t *testing.T) {
	var (
		l       RWLock
		wg      sync.WaitGroup
		counter int
	)

	const workers, iterations = 8, 2000
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range iterations {
				if (w+i)%4 == 0 {
					l.RLock()
					_ = counter
					l.RUnlock()
					continue
				}
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	writes := 0
	for w := range workers {
		for i := range iterations {
			if (w+i)%4 != 0 {
				writes++
			}
		}
	}
	assert.Equal(t, writes, counter)
}
