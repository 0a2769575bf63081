// Package arena is a general-purpose allocator over one contiguous region.
//
// The region comes from an extent.Source and is described by a ring of
// chunks. Each chunk covers a contiguous range of the region and records it
// as a varint run stream of alternating allocated and free extents. The run
// streams themselves live inside the region as allocated metadata runs: the
// first chunk's stream and one spare stream sit at offset 0, and chunks
// added later carve their stream out of the space they cover.
//
// # Allocation
//
// Allocate walks the ring first-fit. When no chunk has room the region is
// grown at its tail and the new space is appended to the last chunk, or to a
// fresh chunk when the last chunk's stream is out of room. Deallocate
// coalesces with free neighbours; when the last chunk ends in a free run of
// at least the shrink threshold, whole pages are returned to the source.
//
// # Concurrency Model
//
// A ring-level reader/writer spinlock separates walkers (Allocate and
// Deallocate, shared) from structural changes (growth, shrink, chunk
// splits, Verify, exclusive). Every run-stream edit additionally holds the
// chunk's own lock, so walkers on different chunks never contend.
//
// # Failure Model
//
// Exhausting the source is reported as an error wrapping ErrOutOfMemory.
// Corrupt metadata, double frees and foreign offsets panic with a
// *fault.CorruptionError: the heap cannot be trusted afterwards.
package arena
