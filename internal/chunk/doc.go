// Package chunk implements the free-list chunk: a fixed-capacity metadata
// buffer that tiles a contiguous slice of the arena into alternating free and
// allocated extents.
//
// A chunk does not keep per-block headers. Its state is a stream of varint run
// records (see package varint) that, decoded in order from the chunk's start
// offset, describe every byte of the slice it covers:
//
//	Start                                                   Start+Len()
//	|<- alloc 96 ->|<-- free 160 -->|<- alloc 32 ->|<-- free 3808 -->|
//
// Two invariants hold after every successful edit:
//
//   - the run lengths sum exactly to Len()
//   - no two adjacent runs share the allocated flag
//
// Every edit is computed in full before it is committed with a single
// shift-and-encode of the stream. If the stream has no room for the result
// the edit returns ErrFull and leaves the chunk untouched. Decoding errors and
// invariant violations found mid-edit are reported as ErrCorrupt; callers treat
// them as fatal.
//
// Chunk methods are not synchronised. Callers hold Lock for writing while
// editing and for reading while inspecting.
package chunk
