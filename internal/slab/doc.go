// Package slab implements a fixed-size object pool over independently
// mapped slabs.
//
// Each slab is one power-of-two sized mapping holding an occupancy bitmap
// (one bit per slot, 1 = occupied) followed by the element region. Slabs form
// a singly linked chain. Allocate takes the first clear bit in the first slab
// that is not full, mapping a new slab at the tail when every slab is full.
// Deallocate clears the bit; an empty tail slab is unmapped when its
// predecessor is under half occupied. Beside a fuller predecessor the first
// empty tail is still unmapped, and the next one is kept until the
// predecessor drains below half.
//
// The bitmap lives inside the mapping, so its memory is accounted and
// released with the slab. Slab headers (chain link, lock, cached count and
// full flag) are kept on the Go heap, addressed by index.
package slab
