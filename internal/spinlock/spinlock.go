// Package spinlock provides a compact reader/writer spinlock.
//
// The lock state fits in 16 bits: bit 15 is the writer flag and bits 0..14
// count active readers. Acquisition busy-waits with compare-and-swap and
// yields the processor after a short burst of failed attempts. There is no
// queueing and no fairness: a steady stream of readers can starve a writer.
// Critical sections guarded by this lock are expected to be a handful of
// instructions long.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

const (
	writerBit  = 1 << 15
	readerMask = writerBit - 1

	// MaxReaders is the number of concurrent readers the lock word can count.
	MaxReaders = readerMask

	spinsBeforeYield = 64
)

// RWLock is a reader/writer spinlock. The zero value is unlocked.
//
// Only the low 16 bits of the word are used; sync/atomic has no 16-bit type.
type RWLock struct {
	word atomic.Uint32
}

// Lock acquires the lock for writing.
func (l *RWLock) Lock() {
	for spins := 0; ; spins++ {
		if l.word.CompareAndSwap(0, writerBit) {
			return
		}
		backoff(spins)
	}
}

// TryLock acquires the write lock if it is idle.
func (l *RWLock) TryLock() bool {
	return l.word.CompareAndSwap(0, writerBit)
}

// Unlock releases a write lock.
func (l *RWLock) Unlock() {
	if !l.word.CompareAndSwap(writerBit, 0) {
		panic("spinlock: Unlock of lock not held for writing")
	}
}

// RLock acquires the lock for reading.
func (l *RWLock) RLock() {
	for spins := 0; ; spins++ {
		if l.TryRLock() {
			return
		}
		backoff(spins)
	}
}

// TryRLock acquires a read lock unless a writer holds the lock.
func (l *RWLock) TryRLock() bool {
	old := l.word.Load()
	if old&writerBit != 0 {
		return false
	}
	if old&readerMask == MaxReaders {
		panic("spinlock: too many readers")
	}
	return l.word.CompareAndSwap(old, old+1)
}

// RUnlock releases a read lock.
func (l *RWLock) RUnlock() {
	for {
		old := l.word.Load()
		if old&writerBit != 0 || old&readerMask == 0 {
			panic("spinlock: RUnlock of lock not held for reading")
		}
		if l.word.CompareAndSwap(old, old-1) {
			return
		}
	}
}

// State reports the number of readers and whether a writer holds the lock.
func (l *RWLock) State() (readers int, writer bool) {
	w := l.word.Load()
	return int(w & readerMask), w&writerBit != 0
}

func backoff(spins int) {
	if spins%spinsBeforeYield == spinsBeforeYield-1 {
		runtime.Gosched()
	}
}
