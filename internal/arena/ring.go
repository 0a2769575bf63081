package arena

import (
	"errors"
	"fmt"

	"github.com/hupe1980/heapcore/internal/chunk"
	"github.com/hupe1980/heapcore/internal/fault"
	"github.com/hupe1980/heapcore/internal/varint"
)

// newSlot binds a chunk to the stream at offset stream and returns its pool
// index. Recycled slots are reused first.
func (a *Arena) newSlot(stream, start uint64) chunk.Index {
	end := stream + a.opts.chunkCap
	c := chunk.New(a.base[stream:end:end], start)

	if n := len(a.freeSlots); n > 0 {
		idx := a.freeSlots[n-1]
		a.freeSlots = a.freeSlots[:n-1]
		a.slots[idx] = slot{c: c, stream: stream}
		return idx
	}
	a.slots = append(a.slots, slot{c: c, stream: stream})
	return chunk.Index(len(a.slots) - 1)
}

func (a *Arena) linkAfterLocked(at, idx chunk.Index) {
	c := a.slots[idx].c
	prev := a.slots[at].c

	c.Prev, c.Next = at, prev.Next
	if prev.Next != chunk.None {
		a.slots[prev.Next].c.Prev = idx
	} else {
		a.last = idx
	}
	prev.Next = idx
}

func (a *Arena) unlinkLocked(idx chunk.Index) {
	c := a.slots[idx].c
	if c.Prev != chunk.None {
		a.slots[c.Prev].c.Next = c.Next
	} else {
		a.first = c.Next
	}
	if c.Next != chunk.None {
		a.slots[c.Next].c.Prev = c.Prev
	} else {
		a.last = c.Prev
	}
	c.Prev, c.Next = chunk.None, chunk.None
}

// growLocked maps room for an n-byte allocation plus one chunk stream and
// attaches it to the tail of the ring.
func (a *Arena) growLocked(n uint64) error {
	want := alignUp(n+a.opts.chunkCap, a.page)
	before := a.mapped.Load()
	if want > chunk.MaxLen {
		return fmt.Errorf("%w: grow of %d bytes exceeds the chunk extent limit", ErrOutOfMemory, want)
	}

	after, err := a.src.Grow(int(want))
	if err != nil {
		return fmt.Errorf("%w: grow by %d bytes: %w", ErrOutOfMemory, want, err)
	}
	added := uint64(after) - before
	a.mapped.Store(uint64(after))

	if err := a.attachLocked(before, added); err != nil {
		if _, serr := a.src.Shrink(int(added)); serr != nil {
			a.log.Error("arena rollback failed", "bytes", added, "error", serr)
		}
		a.mapped.Store(before)
		return err
	}

	a.stats.extends.Add(1)
	a.opts.observer.RecordExtend(int(added))
	a.log.Debug("arena extended",
		"bytes", added,
		"mapped", after,
		"request", n,
	)
	return nil
}

// attachLocked adds the free range [start, start+added) to the ring. The
// last chunk takes it when its stream has room for the append and the split
// that follows; otherwise the spare chunk does; otherwise a new chunk is
// carved whose stream opens the range.
func (a *Arena) attachLocked(start, added uint64) error {
	last := a.slots[a.last].c
	if last.End() != start {
		return fmt.Errorf("%w: ring ends at %#x, region at %#x", ErrCorrupt, last.End(), start)
	}

	if last.Room(2 * varint.MaxEncodedLen) {
		err := last.Append(added, false)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, chunk.ErrFull), errors.Is(err, chunk.ErrRange):
		default:
			fault.Panic("extend", start, added, err)
		}
	}

	if a.spare != chunk.None {
		idx := a.spare
		c := a.slots[idx].c
		c.Start = start
		if err := c.Append(added, false); err != nil {
			fault.Panic("extend", start, added, err)
		}
		a.spare = chunk.None
		a.linkAfterLocked(a.last, idx)
		return nil
	}

	capB := a.opts.chunkCap
	idx := a.newSlot(start, start)
	c := a.slots[idx].c
	if err := c.Append(capB, true); err != nil {
		fault.Panic("extend", start, added, err)
	}
	if err := c.Append(added-capB, false); err != nil {
		fault.Panic("extend", start, added, err)
	}
	a.used.Add(capB)
	a.metadata.Add(capB)
	a.linkAfterLocked(a.last, idx)
	return nil
}

// ensureSpareLocked allocates a stream for a new spare chunk if the spare
// has been consumed.
func (a *Arena) ensureSpareLocked() error {
	if a.spare != chunk.None {
		return nil
	}
	capB := a.opts.chunkCap

	off, ok, _, err := a.findLocked(capB)
	if err != nil {
		fault.Panic("spare", off, capB, err)
	}
	if !ok {
		if err := a.growLocked(capB); err != nil {
			return err
		}
		if off, ok, _, err = a.findLocked(capB); !ok {
			fault.Panic("spare", 0, capB, errors.Join(fmt.Errorf("%w: no fit after extension", ErrCorrupt), err))
		}
	}
	a.used.Add(capB)
	a.metadata.Add(capB)
	a.spare = a.newSlot(off, 0)
	return nil
}

// fitLocked is findLocked for holders of the exclusive ring lock. A chunk
// whose stream is too full to take the edit is split and the walk retried.
func (a *Arena) fitLocked(n uint64) (uint64, bool, error) {
	for attempt := 0; ; attempt++ {
		off, ok, full, err := a.findLocked(n)
		if ok || err != nil || full == chunk.None || attempt >= maxSplitRetries {
			return off, ok, err
		}
		if err := a.splitLocked(full); err != nil {
			a.log.Warn("arena chunk split failed", "start", a.slots[full].c.Start, "error", err)
			return 0, false, nil
		}
	}
}

// split moves half of the run stream of the chunk covering off into the
// spare chunk.
func (a *Arena) split(off uint64) {
	a.ring.Lock()
	defer a.ring.Unlock()

	idx := chunk.None
	for i := a.first; i != chunk.None; i = a.slots[i].c.Next {
		if a.slots[i].c.Contains(off) {
			idx = i
			break
		}
	}
	if idx == chunk.None {
		fault.Panic("split", off, 0, fmt.Errorf("%w: offset outside every chunk", chunk.ErrDoubleFree))
	}
	if a.slots[idx].c.Room(3 * varint.MaxEncodedLen) {
		// split by another walker
		return
	}
	if err := a.splitLocked(idx); err != nil {
		fault.Panic("split", off, 0, err)
	}
}

func (a *Arena) splitLocked(idx chunk.Index) error {
	if err := a.ensureSpareLocked(); err != nil {
		return err
	}
	c := a.slots[idx].c
	dst := a.spare
	if err := c.SplitInto(a.slots[dst].c); err != nil {
		fault.Panic("split", c.Start, c.Len(), err)
	}
	a.spare = chunk.None
	a.linkAfterLocked(idx, dst)
	a.stats.splits.Add(1)

	a.log.Debug("arena chunk split",
		"start", c.Start,
		"split_at", a.slots[dst].c.Start,
	)

	if err := a.ensureSpareLocked(); err != nil {
		a.log.Warn("arena spare chunk unavailable", "error", err)
	}
	return nil
}

// shrink returns whole free pages at the tail of the ring to the source.
func (a *Arena) shrink() {
	a.ring.Lock()
	defer a.ring.Unlock()

	for {
		idx := a.last
		c := a.slots[idx].c

		cut, err := c.TrimLastAligned(a.opts.shrinkThreshold, false, a.page)
		if err != nil {
			fault.Panic("shrink", c.End(), 0, err)
		}
		if cut == 0 {
			return
		}

		after, err := a.src.Shrink(int(cut))
		if err != nil {
			a.log.Warn("arena shrink failed", "bytes", cut, "error", err)
			if err := c.Append(cut, false); err != nil {
				fault.Panic("shrink", c.End(), cut, err)
			}
			return
		}
		a.mapped.Store(uint64(after))
		a.stats.contracts.Add(1)
		a.opts.observer.RecordContract(int(cut))
		a.log.Debug("arena contracted",
			"bytes", cut,
			"mapped", after,
		)

		if c.Len() != 0 || idx == a.first {
			return
		}
		a.retireLocked(idx)
	}
}

// retireLocked unlinks the empty chunk idx. It becomes the spare if there is
// none; otherwise its stream is freed and the slot recycled. Streams below the
// usable start are never freed: such a chunk replaces the spare and the old
// spare's stream is freed instead.
func (a *Arena) retireLocked(idx chunk.Index) {
	a.unlinkLocked(idx)
	s := a.slots[idx]
	end := s.stream + a.opts.chunkCap

	if a.spare == chunk.None {
		s.c.Reset(a.base[s.stream:end:end], 0)
		a.spare = idx
		return
	}
	if s.stream < a.usable {
		s.c.Reset(a.base[s.stream:end:end], 0)
		idx, a.spare = a.spare, idx
		s = a.slots[idx]
		end = s.stream + a.opts.chunkCap
	}

	capB := a.opts.chunkCap
	for i := a.first; i != chunk.None; i = a.slots[i].c.Next {
		c := a.slots[i].c
		if !c.Contains(s.stream) {
			continue
		}

		ok, err := c.FindByOffset(s.stream, capB)
		if errors.Is(err, chunk.ErrFull) {
			// Split into the spare and keep the retired chunk as the new
			// spare; its stream stays allocated.
			if err := c.SplitInto(a.slots[a.spare].c); err != nil {
				fault.Panic("retire", c.Start, c.Len(), err)
			}
			a.linkAfterLocked(i, a.spare)
			a.stats.splits.Add(1)
			s.c.Reset(a.base[s.stream:end:end], 0)
			a.spare = idx
			return
		}
		if err != nil || !ok {
			fault.Panic("retire", s.stream, capB, errors.Join(fmt.Errorf("%w: stream run not allocated", ErrCorrupt), err))
		}

		a.used.Add(^(capB - 1))
		a.metadata.Add(^(capB - 1))
		a.slots[idx] = slot{}
		a.freeSlots = append(a.freeSlots, idx)
		a.log.Debug("arena chunk retired", "stream", s.stream)
		return
	}
	fault.Panic("retire", s.stream, capB, fmt.Errorf("%w: stream outside every chunk", ErrCorrupt))
}
