// Package dump writes and reads human-readable heap dumps.
//
// A dump is line oriented text: a header with the heap counters, one block
// per chunk listing its runs in offset order, and one block per object pool
// listing occupied slots as ranges. Offsets and lengths are printed as
// 64-bit hexadecimal values. The text may be wrapped in an LZ4 or Zstandard
// frame; Open detects the framing from its magic bytes.
package dump
