package dump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// Summary is a parsed dump.
type Summary struct {
	Header         Header
	Chunks         int
	Runs           int
	AllocatedBytes uint64
	FreeBytes      uint64
	Pools          []Pool
	Occupancy      map[string]*roaring.Bitmap
}

// Scan parses a dump produced by Writer. Framing is removed automatically.
func Scan(r io.Reader) (*Summary, error) {
	rc, err := Open(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s := &Summary{Occupancy: make(map[string]*roaring.Bitmap)}
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: line %d: %s", ErrFormat, line, fmt.Sprintf(format, args...))
	}

	var pool string
	ended := false
	for sc.Scan() {
		line++
		text := sc.Text()
		if line == 1 {
			if text != magicLine {
				return nil, fail("missing %q", magicLine)
			}
			continue
		}

		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "heap":
			h := &s.Header
			if _, err := fmt.Sscanf(text, "heap mapped=0x%x used=0x%x metadata=0x%x usable=0x%x chunks=%d pools=%d",
				&h.Mapped, &h.Used, &h.Metadata, &h.UsableStart, &h.Chunks, &h.Pools); err != nil {
				return nil, fail("header: %v", err)
			}
		case "chunk":
			s.Chunks++
		case "run":
			var off, length uint64
			var state string
			if _, err := fmt.Sscanf(strings.TrimSpace(text), "run offset=0x%x length=0x%x %s", &off, &length, &state); err != nil {
				return nil, fail("run: %v", err)
			}
			s.Runs++
			switch state {
			case "allocated":
				s.AllocatedBytes += length
			case "free":
				s.FreeBytes += length
			default:
				return nil, fail("run state %q", state)
			}
		case "pool":
			var p Pool
			if _, err := fmt.Sscanf(text, "pool name=%s object_size=%d capacity=%d slabs=%d live=%d",
				&p.Name, &p.ObjectSize, &p.Capacity, &p.Slabs, &p.Live); err != nil {
				return nil, fail("pool: %v", err)
			}
			s.Pools = append(s.Pools, p)
			pool = p.Name
			s.Occupancy[pool] = roaring.New()
		case "occupied":
			rb, ok := s.Occupancy[pool]
			if !ok || len(fields) != 2 {
				return nil, fail("occupancy outside a pool")
			}
			for _, part := range strings.Split(fields[1], ",") {
				lo, hi, err := parseRange(part)
				if err != nil {
					return nil, fail("occupancy %q: %v", part, err)
				}
				rb.AddRange(uint64(lo), uint64(hi)+1)
			}
		case endLine:
			ended = true
		default:
			return nil, fail("unknown record %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !ended {
		return nil, fmt.Errorf("%w: truncated dump", ErrFormat)
	}
	return s, nil
}

func parseRange(s string) (lo, hi uint32, err error) {
	a, b, found := strings.Cut(s, "-")
	l, err := strconv.ParseUint(a, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return uint32(l), uint32(l), nil
	}
	h, err := strconv.ParseUint(b, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	if h < l {
		return 0, 0, fmt.Errorf("descending range")
	}
	return uint32(l), uint32(h), nil
}
