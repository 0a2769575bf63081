package mmap

import (
	"errors"
	"os"
)

// AccessPattern provides hints to the kernel about how memory will be used.
type AccessPattern int

const (
	// AccessDefault is the default access pattern (no specific advice).
	AccessDefault AccessPattern = iota
	// AccessSequential expects memory to be accessed sequentially.
	AccessSequential
	// AccessRandom expects memory to be accessed randomly.
	AccessRandom
	// AccessWillNeed expects memory to be accessed in the near future.
	AccessWillNeed
	// AccessDontNeed lets the kernel drop the pages' contents.
	AccessDontNeed
)

var (
	// ErrClosed is returned when using a closed mapping or reservation.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for non-positive or unaligned sizes.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrExhausted is returned when a reservation cannot grow any further.
	ErrExhausted = errors.New("mmap: reservation exhausted")
	// ErrShrink is returned when shrinking past the start of a reservation.
	ErrShrink = errors.New("mmap: shrink below zero")
)

// PageSize returns the operating system page size.
func PageSize() int {
	return os.Getpagesize()
}

func roundUp(n, page int) int {
	return (n + page - 1) / page * page
}
