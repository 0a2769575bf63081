package chunk

import (
	"errors"
	"fmt"

	"github.com/hupe1980/heapcore/internal/spinlock"
	"github.com/hupe1980/heapcore/internal/varint"
)

// Index addresses a chunk inside the pool that owns it.
type Index int32

// None is the nil Index.
const None Index = -1

// MaxLen is the largest extent a single chunk may cover. Keeping every chunk
// below the largest run length guarantees that merging runs never overflows
// a record.
const MaxLen = varint.MaxLength

var (
	// ErrFull is returned when an edit does not fit into the run stream.
	ErrFull = errors.New("chunk: run stream full")
	// ErrCorrupt is returned when the run stream violates its invariants.
	ErrCorrupt = errors.New("chunk: corrupt run stream")
	// ErrDoubleFree is returned when freeing an extent that is not allocated.
	ErrDoubleFree = errors.New("chunk: extent is not allocated")
	// ErrRange is returned for zero or oversized lengths.
	ErrRange = errors.New("chunk: length out of range")
)

// Run is one decoded extent.
type Run struct {
	Offset    uint64
	Length    uint64
	Allocated bool
}

// Info is a snapshot of a chunk's header.
type Info struct {
	Start    uint64
	Length   uint64
	Count    int
	Capacity int
}

// Chunk is one free-list metadata page.
type Chunk struct {
	// Prev and Next link the chunk into its ring.
	Prev, Next Index
	// Start is the absolute arena offset of the chunk's first run.
	Start uint64
	// Lock guards the run stream.
	Lock spinlock.RWLock

	stream      []byte
	count       int
	length      uint64
	largestFree int64 // -1 when unknown
}

// New returns an empty chunk that encodes its runs into stream.
func New(stream []byte, start uint64) *Chunk {
	c := &Chunk{}
	c.Reset(stream, start)
	return c
}

// Reset empties the chunk and rebinds it to stream.
func (c *Chunk) Reset(stream []byte, start uint64) {
	c.Prev, c.Next = None, None
	c.Start = start
	c.stream = stream
	c.count = 0
	c.length = 0
	c.largestFree = -1
}

// Len returns the number of arena bytes the chunk covers.
func (c *Chunk) Len() uint64 { return c.length }

// End returns the first offset past the chunk.
func (c *Chunk) End() uint64 { return c.Start + c.length }

// Count returns the number of stream bytes in use.
func (c *Chunk) Count() int { return c.count }

// Cap returns the stream capacity in bytes.
func (c *Chunk) Cap() int { return len(c.stream) }

// Room reports whether n more stream bytes are available.
func (c *Chunk) Room(n int) bool { return c.count+n <= len(c.stream) }

// Contains reports whether off lies inside the chunk.
func (c *Chunk) Contains(off uint64) bool {
	return off >= c.Start && off < c.End()
}

// Info returns a header snapshot.
func (c *Chunk) Info() Info {
	return Info{Start: c.Start, Length: c.length, Count: c.count, Capacity: len(c.stream)}
}

// LargestFree returns the cached largest free run, or -1 if it is unknown.
func (c *Chunk) LargestFree() int64 { return c.largestFree }

// record is a run together with its position in the stream.
type record struct {
	pos    int
	n      int
	length uint64
	alloc  bool
}

func (r record) end() int { return r.pos + r.n }

// span is a run about to be encoded.
type span struct {
	length uint64
	alloc  bool
}

func (c *Chunk) at(pos int) (record, error) {
	length, alloc, n, err := varint.Decode(c.stream, pos, c.count)
	if err != nil {
		return record{}, fmt.Errorf("%w: record at %d: %w", ErrCorrupt, pos, err)
	}
	if length == 0 {
		return record{}, fmt.Errorf("%w: zero-length run at %d", ErrCorrupt, pos)
	}
	return record{pos: pos, n: n, length: uint64(length), alloc: alloc}, nil
}

func (c *Chunk) last() (record, error) {
	var r record
	for pos := 0; pos < c.count; {
		next, err := c.at(pos)
		if err != nil {
			return record{}, err
		}
		r = next
		pos = r.end()
	}
	return r, nil
}

// replace swaps stream bytes [from, to) for the encodings of spans.
func (c *Chunk) replace(from, to int, spans ...span) error {
	size := 0
	for _, s := range spans {
		if s.length == 0 || s.length > varint.MaxLength {
			return fmt.Errorf("%w: run length %d", ErrCorrupt, s.length)
		}
		size += varint.Len(uint32(s.length))
	}

	delta := size - (to - from)
	if c.count+delta > len(c.stream) {
		return ErrFull
	}
	if err := varint.Shift(c.stream, delta, to, c.count); err != nil {
		return fmt.Errorf("%w: %w", ErrFull, err)
	}

	pos := from
	for _, s := range spans {
		n, err := varint.Encode(c.stream, pos, uint32(s.length), s.alloc)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		pos += n
	}
	c.count += delta
	return nil
}

func adjacent(prev, r record) error {
	return fmt.Errorf("%w: adjacent runs at %d and %d share flag %t", ErrCorrupt, prev.pos, r.pos, r.alloc)
}

// FindBySize allocates size bytes from the first free run large enough to
// hold them and returns the absolute offset of the new extent. ok is false if
// no run fits.
func (c *Chunk) FindBySize(size uint64) (off uint64, ok bool, err error) {
	if size == 0 || size > MaxLen {
		return 0, false, ErrRange
	}
	if c.largestFree >= 0 && uint64(c.largestFree) < size {
		return 0, false, nil
	}

	var (
		prev    record
		hasPrev bool
		largest uint64
	)
	off = c.Start
	for pos := 0; pos < c.count; {
		r, err := c.at(pos)
		if err != nil {
			return 0, false, err
		}
		if hasPrev && prev.alloc == r.alloc {
			return 0, false, adjacent(prev, r)
		}

		if !r.alloc && r.length >= size {
			var next record
			hasNext := r.end() < c.count
			if hasNext {
				if next, err = c.at(r.end()); err != nil {
					return 0, false, err
				}
				if !next.alloc {
					return 0, false, adjacent(r, next)
				}
			}
			if err := c.take(prev, hasPrev, r, next, hasNext, size); err != nil {
				return 0, false, err
			}
			return off, true, nil
		}

		if !r.alloc && r.length > largest {
			largest = r.length
		}
		prev, hasPrev = r, true
		off += r.length
		pos = r.end()
	}

	c.largestFree = int64(largest)
	return 0, false, nil
}

// take marks the first size bytes of the free run r as allocated, merging
// with the allocated neighbours.
func (c *Chunk) take(prev record, hasPrev bool, r, next record, hasNext bool, size uint64) error {
	if r.length > size {
		rest := span{r.length - size, false}
		if hasPrev {
			return c.replace(prev.pos, r.end(), span{prev.length + size, true}, rest)
		}
		return c.replace(r.pos, r.end(), span{size, true}, rest)
	}

	from, to, total := r.pos, r.end(), size
	if hasPrev {
		from = prev.pos
		total += prev.length
	}
	if hasNext {
		to = next.end()
		total += next.length
	}
	return c.replace(from, to, span{total, true})
}

// FindByOffset frees size bytes at the absolute offset off. It reports false
// when off lies outside the chunk.
func (c *Chunk) FindByOffset(off, size uint64) (bool, error) {
	if !c.Contains(off) {
		return false, nil
	}
	if size == 0 || size > MaxLen {
		return false, ErrRange
	}

	var (
		prev    record
		hasPrev bool
	)
	start := c.Start
	for pos := 0; pos < c.count; {
		r, err := c.at(pos)
		if err != nil {
			return false, err
		}
		if hasPrev && prev.alloc == r.alloc {
			return false, adjacent(prev, r)
		}

		end := start + r.length
		if off < end {
			if !r.alloc {
				return false, fmt.Errorf("%w: offset %#x lies in free run [%#x, %#x)", ErrDoubleFree, off, start, end)
			}
			if off+size > end {
				return false, fmt.Errorf("%w: extent [%#x, %#x) exceeds allocated run [%#x, %#x)",
					ErrCorrupt, off, off+size, start, end)
			}

			var next record
			hasNext := r.end() < c.count
			if hasNext {
				if next, err = c.at(r.end()); err != nil {
					return false, err
				}
				if next.alloc {
					return false, adjacent(r, next)
				}
			}
			if err := c.release(prev, hasPrev, r, next, hasNext, off-start, end-(off+size), size); err != nil {
				return false, err
			}
			c.largestFree = -1
			return true, nil
		}

		prev, hasPrev = r, true
		start = end
		pos = r.end()
	}
	return false, fmt.Errorf("%w: runs end at %#x before chunk end %#x", ErrCorrupt, start, c.End())
}

// release frees size bytes of the allocated run r, head bytes after its start
// and tail bytes before its end, coalescing with the free neighbours.
func (c *Chunk) release(prev record, hasPrev bool, r, next record, hasNext bool, head, tail, size uint64) error {
	switch {
	case head == 0 && tail == 0:
		from, to, total := r.pos, r.end(), size
		if hasPrev {
			from = prev.pos
			total += prev.length
		}
		if hasNext {
			to = next.end()
			total += next.length
		}
		return c.replace(from, to, span{total, false})

	case head == 0:
		from, freed := r.pos, size
		if hasPrev {
			from = prev.pos
			freed += prev.length
		}
		return c.replace(from, r.end(), span{freed, false}, span{tail, true})

	case tail == 0:
		to, freed := r.end(), size
		if hasNext {
			to = next.end()
			freed += next.length
		}
		return c.replace(r.pos, to, span{head, true}, span{freed, false})

	default:
		return c.replace(r.pos, r.end(), span{head, true}, span{size, false}, span{tail, true})
	}
}

// Append extends the chunk by size bytes at its end, merging with the final
// run when the flags match.
func (c *Chunk) Append(size uint64, allocated bool) error {
	if size == 0 {
		return nil
	}
	if c.length+size > MaxLen {
		return ErrRange
	}

	var err error
	if c.count == 0 {
		err = c.replace(0, 0, span{size, allocated})
	} else {
		var last record
		if last, err = c.last(); err != nil {
			return err
		}
		if last.alloc == allocated {
			err = c.replace(last.pos, last.end(), span{last.length + size, allocated})
		} else {
			err = c.replace(c.count, c.count, span{size, allocated})
		}
	}
	if err != nil {
		return err
	}

	c.length += size
	if !allocated {
		c.largestFree = -1
	}
	return nil
}

// TrimLast removes the final run if it has the given flag and is at least
// minSize long. It returns the removed length, or 0 if nothing changed.
func (c *Chunk) TrimLast(minSize uint64, allocated bool) (uint64, error) {
	return c.TrimLastAligned(minSize, allocated, 1)
}

// TrimLastAligned is like TrimLast but only removes a multiple of granule
// bytes; any remainder stays behind as the final run.
func (c *Chunk) TrimLastAligned(minSize uint64, allocated bool, granule uint64) (uint64, error) {
	if c.count == 0 || granule == 0 {
		return 0, nil
	}
	last, err := c.last()
	if err != nil {
		return 0, err
	}
	if last.alloc != allocated || last.length < minSize {
		return 0, nil
	}

	cut := last.length - last.length%granule
	if cut == 0 {
		return 0, nil
	}
	if cut == last.length {
		c.count = last.pos
	} else if err := c.replace(last.pos, last.end(), span{last.length - cut, allocated}); err != nil {
		return 0, err
	}

	c.length -= cut
	c.largestFree = -1
	return cut, nil
}

// SplitInto moves the second half of the run stream into the empty chunk dst,
// which then covers the tail of the original extent. Callers link dst into
// the ring right after c.
func (c *Chunk) SplitInto(dst *Chunk) error {
	if dst.count != 0 {
		return fmt.Errorf("chunk: split target is not empty")
	}

	split, covered := -1, uint64(0)
	for pos := 0; pos < c.count; {
		if pos > 0 && pos >= c.count/2 {
			split = pos
			break
		}
		r, err := c.at(pos)
		if err != nil {
			return err
		}
		covered += r.length
		pos = r.end()
	}
	if split < 0 {
		return ErrFull
	}

	moved := c.count - split
	if moved > len(dst.stream) {
		return ErrFull
	}
	copy(dst.stream, c.stream[split:c.count])
	dst.count = moved
	dst.Start = c.Start + covered
	dst.length = c.length - covered
	dst.largestFree = -1

	c.count = split
	c.length = covered
	c.largestFree = -1
	return nil
}

// Runs calls fn for each run in order until fn returns false.
func (c *Chunk) Runs(fn func(Run) bool) error {
	off := c.Start
	for pos := 0; pos < c.count; {
		r, err := c.at(pos)
		if err != nil {
			return err
		}
		if !fn(Run{Offset: off, Length: r.length, Allocated: r.alloc}) {
			return nil
		}
		off += r.length
		pos = r.end()
	}
	return nil
}

// Verify decodes the whole stream and checks the tiling invariants. It
// returns the number of allocated bytes.
func (c *Chunk) Verify() (allocated uint64, err error) {
	var (
		prev    record
		hasPrev bool
		total   uint64
	)
	for pos := 0; pos < c.count; {
		r, err := c.at(pos)
		if err != nil {
			return 0, err
		}
		if hasPrev && prev.alloc == r.alloc {
			return 0, adjacent(prev, r)
		}
		if r.alloc {
			allocated += r.length
		}
		total += r.length
		prev, hasPrev = r, true
		pos = r.end()
	}
	if total != c.length {
		return 0, fmt.Errorf("%w: runs cover %d bytes, chunk length is %d", ErrCorrupt, total, c.length)
	}
	return allocated, nil
}
