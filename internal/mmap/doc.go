// Package mmap obtains raw address space from the operating system.
//
// Two kinds of mapping are provided:
//
//   - Reservation: one contiguous range of address space reserved up front
//     with no access rights. Pages are committed at the tail with Grow and
//     decommitted from the tail with Shrink, so the base address never moves
//     and offsets handed out by the arena stay valid for the life of the
//     reservation. This stands in for adjusting a data-segment break.
//   - Mapping: an independent read-write anonymous mapping, used for slabs
//     that are mapped and unmapped individually.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), mprotect(2) and madvise(2) through
//     golang.org/x/sys/unix.
//   - Other platforms: memory is taken from the Go heap. Grow and Shrink still
//     enforce page granularity and bounds, but shrinking does not return
//     memory to the operating system.
//
// # Thread Safety
//
// Reservation serialises Grow and Shrink internally. Mapping.Close is
// idempotent. Callers must not touch memory after it has been shrunk away or
// unmapped.
package mmap
