package arena

import (
	"fmt"

	"github.com/hupe1980/heapcore/internal/chunk"
)

// Verify checks the ring against its invariants: every chunk's run stream
// is well formed, chunks tile [0, mapped) in ring order, and the used and
// metadata counters match the decoded streams. It blocks all allocation
// while it runs.
func (a *Arena) Verify() error {
	a.ring.Lock()
	defer a.ring.Unlock()

	var (
		expect    uint64
		allocated uint64
		prev      = chunk.None
		linked    int
	)
	for i := a.first; i != chunk.None; i = a.slots[i].c.Next {
		if linked++; linked > len(a.slots) {
			return fmt.Errorf("%w: ring cycle at chunk %d", ErrCorrupt, i)
		}
		c := a.slots[i].c
		if c.Prev != prev {
			return fmt.Errorf("%w: chunk %d links back to %d, want %d", ErrCorrupt, i, c.Prev, prev)
		}
		if c.Start != expect {
			return fmt.Errorf("%w: chunk %d starts at %#x, previous chunk ends at %#x", ErrCorrupt, i, c.Start, expect)
		}
		n, err := c.Verify()
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		allocated += n
		expect = c.End()
		prev = i
	}
	if prev != a.last {
		return fmt.Errorf("%w: ring ends at chunk %d, last is %d", ErrCorrupt, prev, a.last)
	}

	mapped := a.mapped.Load()
	if expect != mapped || uint64(a.src.Len()) != mapped {
		return fmt.Errorf("%w: chunks cover %d bytes, mapped %d, source %d", ErrCorrupt, expect, mapped, a.src.Len())
	}
	if used := a.used.Load(); used != allocated {
		return fmt.Errorf("%w: used counter %d, allocated runs %d", ErrCorrupt, used, allocated)
	}

	streams := linked
	if a.spare != chunk.None {
		if a.slots[a.spare].c.Count() != 0 {
			return fmt.Errorf("%w: spare chunk %d is not empty", ErrCorrupt, a.spare)
		}
		streams++
	}
	if meta := a.metadata.Load(); meta != uint64(streams)*a.opts.chunkCap {
		return fmt.Errorf("%w: metadata counter %d for %d streams of %d bytes", ErrCorrupt, meta, streams, a.opts.chunkCap)
	}
	return nil
}

// Walk calls fn for every chunk in ring order with its header and runs,
// until fn returns false. The runs slice is reused between calls. Allocation
// proceeds concurrently; each chunk is read under its own lock.
func (a *Arena) Walk(fn func(chunk.Info, []chunk.Run) bool) error {
	a.ring.RLock()
	defer a.ring.RUnlock()

	var runs []chunk.Run
	for i := a.first; i != chunk.None; i = a.slots[i].c.Next {
		c := a.slots[i].c
		runs = runs[:0]

		c.Lock.RLock()
		info := c.Info()
		err := c.Runs(func(r chunk.Run) bool {
			runs = append(runs, r)
			return true
		})
		c.Lock.RUnlock()

		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if !fn(info, runs) {
			return nil
		}
	}
	return nil
}
