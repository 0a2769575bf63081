//go:build !unix

package mmap

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	return make([]byte, size), nil, nil
}

func osReserve(size int) ([]byte, func([]byte) error, error) {
	return make([]byte, size), nil, nil
}

func osCommit([]byte) error { return nil }

func osDecommit(b []byte) error {
	clear(b)
	return nil
}

func osAdvise([]byte, AccessPattern) error { return nil }
