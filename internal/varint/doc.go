// Package varint implements the run record codec used by free-list chunks.
//
// A run record describes one extent of the arena as a (length, allocated)
// pair. Lengths are 31-bit magnitudes serialised as a little-endian base-128
// varint whose first byte also carries the allocated flag:
//
//	byte 0:   C A L5 L4 L3 L2 L1 L0   (C = continuation, A = allocated)
//	byte i>0: C L6 L5 L4 L3 L2 L1 L0
//
// Encodings are canonical: a record never ends in an all-zero payload group.
// A length of zero is reserved as the end-of-stream sentinel and is never
// written by Encode.
//
// Edits to a record stream are done in place: callers compute the encoded
// size of the replacement records with Len, open or close the gap with Shift,
// and then Encode the new records into it.
package varint
