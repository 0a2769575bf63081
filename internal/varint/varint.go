package varint

import "errors"

const (
	// MaxLength is the largest run length a record can carry.
	MaxLength = 1<<31 - 1

	// MaxEncodedLen is the size of the longest record.
	MaxEncodedLen = 5

	contBit   = 0x80
	allocBit  = 0x40
	firstMask = 0x3f
	firstBits = 6
	groupMask = 0x7f
	groupBits = 7
)

var (
	// ErrZeroLength is returned when encoding a zero-length run.
	ErrZeroLength = errors.New("varint: zero length run")
	// ErrRange is returned for lengths above MaxLength.
	ErrRange = errors.New("varint: length out of range")
	// ErrTruncated is returned when a record runs past the end of the stream.
	ErrTruncated = errors.New("varint: truncated record")
	// ErrNonCanonical is returned when a record carries redundant trailing groups.
	ErrNonCanonical = errors.New("varint: non-canonical record")
	// ErrOverflow is returned when a write or shift would leave the buffer.
	ErrOverflow = errors.New("varint: buffer overflow")
)

// Len returns the number of bytes Encode writes for length.
func Len(length uint32) int {
	switch {
	case length < 1<<6:
		return 1
	case length < 1<<13:
		return 2
	case length < 1<<20:
		return 3
	case length < 1<<27:
		return 4
	default:
		return 5
	}
}

// Encode writes the canonical record for (length, allocated) at buf[pos:] and
// returns the number of bytes written. The caller must have reserved room.
func Encode(buf []byte, pos int, length uint32, allocated bool) (int, error) {
	if length == 0 {
		return 0, ErrZeroLength
	}
	if length > MaxLength {
		return 0, ErrRange
	}
	n := Len(length)
	if pos < 0 || pos+n > len(buf) {
		return 0, ErrOverflow
	}

	b := byte(length & firstMask)
	if allocated {
		b |= allocBit
	}
	v := length >> firstBits
	i := pos
	for {
		if v != 0 {
			b |= contBit
		}
		buf[i] = b
		i++
		if v == 0 {
			break
		}
		b = byte(v & groupMask)
		v >>= groupBits
	}
	return n, nil
}

// Decode reads one record starting at buf[pos]. end is the logical end of
// the stream; bytes at or past end are never read.
func Decode(buf []byte, pos, end int) (length uint32, allocated bool, n int, err error) {
	if end > len(buf) {
		end = len(buf)
	}
	if pos < 0 || pos >= end {
		return 0, false, 0, ErrTruncated
	}

	b := buf[pos]
	allocated = b&allocBit != 0
	v := uint64(b & firstMask)
	shift := uint(firstBits)
	n = 1
	for b&contBit != 0 {
		if n == MaxEncodedLen {
			return 0, false, 0, ErrRange
		}
		if pos+n >= end {
			return 0, false, 0, ErrTruncated
		}
		b = buf[pos+n]
		n++
		v |= uint64(b&groupMask) << shift
		shift += groupBits
	}
	if n > 1 && b&groupMask == 0 {
		return 0, false, 0, ErrNonCanonical
	}
	if v > MaxLength {
		return 0, false, 0, ErrRange
	}
	return uint32(v), allocated, n, nil
}

// Shift moves buf[insertPos:endPos] by delta bytes: forward to open a gap,
// backward to close one. Bytes uncovered by the move are left as they were.
func Shift(buf []byte, delta, insertPos, endPos int) error {
	if insertPos < 0 || insertPos > endPos || endPos > len(buf) {
		return ErrOverflow
	}
	if delta == 0 || insertPos == endPos {
		if endPos+delta > len(buf) || insertPos+delta < 0 {
			return ErrOverflow
		}
		return nil
	}
	dst := insertPos + delta
	if dst < 0 || endPos+delta > len(buf) {
		return ErrOverflow
	}
	copy(buf[dst:], buf[insertPos:endPos])
	return nil
}
