// Package heapcore provides a general-purpose memory allocator over a single
// contiguous, growable region, plus typed fixed-size object pools.
//
// Free space is tracked as run-length-encoded varint streams: each chunk of
// metadata describes a contiguous span of the region as a sequence of
// (length, allocated) runs. Chunks form a ring that tiles the region from
// offset 0. Allocation is first fit across the ring; when nothing fits the
// region grows at its tail, and a free tail larger than the shrink threshold
// is returned to the operating system.
//
// # Quick Start
//
//	h, err := heapcore.New()
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	buf, err := h.Alloc(100) // zeroed, len 100
//	if err != nil {
//	    return err
//	}
//	defer h.Free(buf)
//
// # Object Pools
//
// Pools serve objects of one pointer-free type from power-of-two slabs with
// an occupancy bitmap:
//
//	type node struct{ key, left, right uint32 }
//
//	nodes, _ := heapcore.NewPool[node](h)
//	n, _ := nodes.Get()
//	nodes.Put(n)
//
// # Errors and Corruption
//
// Exhaustion of the reservation or of the memory limit is reported as an
// error wrapping ErrOutOfMemory. Freeing memory twice, or freeing memory the
// heap never handed out, panics with a *CorruptionError, as does any
// inconsistency found in the run streams. RecoverCorruption turns such a
// panic back into an error.
//
// # Diagnostics
//
// Stats reports accounting, Verify checks every invariant of the chunk ring,
// and Dump writes the full run and slab layout, optionally LZ4 or Zstandard
// compressed, for offline inspection with heapctl.
package heapcore
