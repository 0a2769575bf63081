package dump

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/heapcore/internal/chunk"
)

const (
	magicLine = "heapcore dump v1"
	endLine   = "end"

	rangesPerLine = 16
)

// ErrFormat is returned when parsing malformed dump text.
var ErrFormat = errors.New("dump: malformed dump")

// Header carries heap-wide counters.
type Header struct {
	Mapped      uint64
	Used        uint64
	Metadata    uint64
	UsableStart uint64
	Chunks      int
	Pools       int
}

// Pool describes one object pool.
type Pool struct {
	Name       string
	ObjectSize int
	Capacity   int
	Slabs      int
	Live       int
}

// Writer emits a dump.
type Writer struct {
	sink io.WriteCloser
	bw   *bufio.Writer
	err  error
}

// NewWriter starts a dump on w with the given framing.
func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	sink, err := compressor(w, c)
	if err != nil {
		return nil, err
	}
	dw := &Writer{sink: sink, bw: bufio.NewWriter(sink)}
	dw.printf("%s\n", magicLine)
	return dw, dw.err
}

func (w *Writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.bw, format, args...)
}

// WriteHeader writes the heap counters.
func (w *Writer) WriteHeader(h Header) error {
	w.printf("heap mapped=0x%016x used=0x%016x metadata=0x%016x usable=0x%016x chunks=%d pools=%d\n",
		h.Mapped, h.Used, h.Metadata, h.UsableStart, h.Chunks, h.Pools)
	return w.err
}

// WriteChunk writes one chunk and its runs.
func (w *Writer) WriteChunk(info chunk.Info, runs []chunk.Run) error {
	w.printf("chunk start=0x%016x length=0x%016x count=%d capacity=%d\n",
		info.Start, info.Length, info.Count, info.Capacity)
	for _, r := range runs {
		state := "free"
		if r.Allocated {
			state = "allocated"
		}
		w.printf("  run offset=0x%016x length=0x%016x %s\n", r.Offset, r.Length, state)
	}
	return w.err
}

// WritePool writes one object pool and its occupied slots. Spaces in the
// pool name are replaced with underscores.
func (w *Writer) WritePool(p Pool, occupied *roaring.Bitmap) error {
	w.printf("pool name=%s object_size=%d capacity=%d slabs=%d live=%d\n",
		strings.ReplaceAll(p.Name, " ", "_"), p.ObjectSize, p.Capacity, p.Slabs, p.Live)
	if occupied == nil || occupied.IsEmpty() {
		return w.err
	}

	var ranges []string
	flush := func() {
		w.printf("  occupied %s\n", strings.Join(ranges, ","))
		ranges = ranges[:0]
	}

	it := occupied.Iterator()
	lo := it.Next()
	hi := lo
	for {
		more := it.HasNext()
		var v uint32
		if more {
			v = it.Next()
			if v == hi+1 {
				hi = v
				continue
			}
		}
		if lo == hi {
			ranges = append(ranges, fmt.Sprintf("%d", lo))
		} else {
			ranges = append(ranges, fmt.Sprintf("%d-%d", lo, hi))
		}
		if len(ranges) == rangesPerLine {
			flush()
		}
		if !more {
			break
		}
		lo, hi = v, v
	}
	if len(ranges) > 0 {
		flush()
	}
	return w.err
}

// Close terminates the dump and flushes any framing. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	w.printf("%s\n", endLine)
	if w.err == nil {
		w.err = w.bw.Flush()
	}
	if err := w.sink.Close(); w.err == nil {
		w.err = err
	}
	return w.err
}
