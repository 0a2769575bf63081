package heapcore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/heapcore/internal/chunk"
	"github.com/hupe1980/heapcore/internal/dump"
	"github.com/hupe1980/heapcore/internal/resource"
)

// DumpCompression selects the framing of a dump.
type DumpCompression = dump.Compression

const (
	// DumpPlain writes plain text.
	DumpPlain = dump.CompressionNone
	// DumpLZ4 writes an LZ4 frame.
	DumpLZ4 = dump.CompressionLZ4
	// DumpZSTD writes a Zstandard frame.
	DumpZSTD = dump.CompressionZSTD
)

// DumpSummary is the parsed content of a dump.
type DumpSummary = dump.Summary

type dumpOptions struct {
	ctx         context.Context
	compression DumpCompression
}

// DumpOption configures Dump.
type DumpOption func(*dumpOptions)

// WithDumpCompression selects the dump framing (default plain text).
func WithDumpCompression(c DumpCompression) DumpOption {
	return func(o *dumpOptions) {
		o.compression = c
	}
}

// WithDumpContext bounds a rate-limited dump by ctx.
func WithDumpContext(ctx context.Context) DumpOption {
	return func(o *dumpOptions) {
		o.ctx = ctx
	}
}

// Dump writes every chunk with its runs and every pool with its occupied
// slots to w. Allocation continues while the dump runs, so chunks are each
// consistent but the dump as a whole is not a snapshot.
//
// Output is throttled when WithDumpRateLimit is set.
func (h *Heap) Dump(w io.Writer, optFns ...DumpOption) (err error) {
	o := dumpOptions{ctx: context.Background()}
	for _, fn := range optFns {
		fn(&o)
	}
	if h.closed.Load() {
		return ErrClosed
	}

	stats := h.Stats()
	pools := h.poolSnapshot()
	defer func() { h.log.LogDump(o.ctx, stats.Chunks, len(pools), err) }()

	dw, err := dump.NewWriter(resource.NewRateLimitedWriter(o.ctx, w, h.rc), o.compression)
	if err != nil {
		return err
	}

	if err := dw.WriteHeader(dump.Header{
		Mapped:      stats.MappedBytes,
		Used:        stats.UsedBytes,
		Metadata:    stats.MetadataBytes,
		UsableStart: h.arena.UsableStart(),
		Chunks:      stats.Chunks,
		Pools:       len(pools),
	}); err != nil {
		return errors.Join(err, dw.Close())
	}

	var werr error
	if err := h.arena.Walk(func(info chunk.Info, runs []chunk.Run) bool {
		werr = dw.WriteChunk(info, runs)
		return werr == nil
	}); err != nil {
		return errors.Join(translateError(err), dw.Close())
	}
	if werr != nil {
		return errors.Join(werr, dw.Close())
	}

	for _, p := range pools {
		ps := p.stats()
		if err := dw.WritePool(dump.Pool{
			Name:       ps.Name,
			ObjectSize: ps.ObjectSize,
			Capacity:   ps.Capacity,
			Slabs:      ps.Slabs,
			Live:       ps.Live,
		}, p.occupancy()); err != nil {
			return errors.Join(err, dw.Close())
		}
	}
	return dw.Close()
}

// ScanDump parses a dump written by Dump, detecting its compression.
func ScanDump(r io.Reader) (*DumpSummary, error) {
	return dump.Scan(r)
}
