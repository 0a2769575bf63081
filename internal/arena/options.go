package arena

import (
	"log/slog"
)

const (
	// DefaultAlignment is the default allocation granule in bytes.
	DefaultAlignment = 4
	// DefaultChunkCapacity is the default run-stream size of a chunk.
	DefaultChunkCapacity = 512
	// MinChunkCapacity is the smallest accepted run-stream size.
	MinChunkCapacity = 64
)

// Observer receives notifications about region growth and shrinkage.
type Observer interface {
	RecordExtend(bytes int)
	RecordContract(bytes int)
}

type noopObserver struct{}

func (noopObserver) RecordExtend(int)   {}
func (noopObserver) RecordContract(int) {}

type options struct {
	alignment       uint64
	chunkCap        uint64
	shrinkThreshold uint64
	initialSize     int
	logger          *slog.Logger
	observer        Observer
}

func defaultOptions() options {
	return options{
		alignment: DefaultAlignment,
		chunkCap:  DefaultChunkCapacity,
		logger:    slog.New(slog.DiscardHandler),
		observer:  noopObserver{},
	}
}

// Option configures an Arena.
type Option func(*options)

// WithAlignment sets the allocation granule. It must be a power of two no
// larger than the source's page size.
func WithAlignment(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.alignment = uint64(n)
		}
	}
}

// WithChunkCapacity sets the run-stream size of every chunk.
func WithChunkCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkCap = uint64(n)
		}
	}
}

// WithShrinkThreshold sets the smallest free tail returned to the source.
// It is rounded down to whole pages, with a minimum of one page.
func WithShrinkThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shrinkThreshold = uint64(n)
		}
	}
}

// WithInitialSize sets how many bytes are mapped up front.
func WithInitialSize(n int) Option {
	return func(o *options) {
		o.initialSize = n
	}
}

// WithLogger sets the logger used on slow paths.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the growth observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}
