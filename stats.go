package heapcore

import (
	"fmt"
	"strings"
)

// Stats is a snapshot of heap accounting.
//
// Note on semantics:
//   - MappedBytes: bytes of the arena region currently committed
//   - UsedBytes: bytes handed out by Alloc, after alignment
//   - MetadataBytes: bytes of the region holding chunk run streams
//   - SlabBytes: bytes mapped for pool slabs
//   - MemoryUsage/MemoryPeak: region plus slabs, as seen by the memory budget
type Stats struct {
	MappedBytes   uint64
	UsedBytes     uint64
	MetadataBytes uint64
	Chunks        int

	Allocs    uint64 // Historical
	Frees     uint64 // Historical
	Extends   uint64 // Historical
	Contracts uint64 // Historical
	Splits    uint64 // Historical

	SlabBytes   int64
	MemoryUsage int64
	MemoryPeak  int64
	MemoryLimit int64 // 0 if unlimited

	Pools []PoolStats
}

// PoolStats describes one typed pool.
type PoolStats struct {
	Name       string
	ObjectSize int
	Capacity   int // slots per slab
	Slabs      int
	Live       int

	MappedBytes int64
}

// String returns a human-readable summary.
func (s Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb,
		"Heap{chunks: %d, mapped: %.2f MB, used: %.2f MB, metadata: %.2f KB, slabs: %.2f MB, allocs: %d, frees: %d}",
		s.Chunks,
		float64(s.MappedBytes)/(1024*1024),
		float64(s.UsedBytes)/(1024*1024),
		float64(s.MetadataBytes)/1024,
		float64(s.SlabBytes)/(1024*1024),
		s.Allocs,
		s.Frees,
	)
	for _, p := range s.Pools {
		fmt.Fprintf(&sb, "\n  Pool{%s, size: %d, slabs: %d, live: %d}", p.Name, p.ObjectSize, p.Slabs, p.Live)
	}
	return sb.String()
}
