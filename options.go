package heapcore

import (
	"log/slog"

	"github.com/hupe1980/heapcore/internal/arena"
	"github.com/hupe1980/heapcore/internal/extent"
	"github.com/hupe1980/heapcore/internal/slab"
)

const (
	// DefaultReservation is the address space reserved for the arena region.
	// Only the committed prefix consumes memory.
	DefaultReservation = 1 << 30

	// DefaultAlignment is the allocation granule.
	DefaultAlignment = arena.DefaultAlignment

	// DefaultChunkCapacity is the byte capacity of one chunk's run stream.
	DefaultChunkCapacity = arena.DefaultChunkCapacity

	// DefaultSlabSize is the mapping size of one pool slab.
	DefaultSlabSize = slab.DefaultSlabSize
)

// ExtentSource provides the contiguous arena region. The heap grows and
// shrinks it at the tail only.
type ExtentSource = extent.Source

// Mapper maps the independent regions that back pool slabs.
type Mapper = extent.Mapper

// Region is one mapping returned by a Mapper.
type Region = extent.Region

// NewMemorySource returns an ExtentSource backed by the Go heap, holding at
// most capacity bytes in units of page. It suits tests and platforms without
// virtual memory reservation.
func NewMemorySource(capacity, page int) ExtentSource {
	return extent.NewMemory(capacity, page)
}

// AnonMapper returns a Mapper that backs slabs with anonymous OS mappings.
func AnonMapper() Mapper { return extent.AnonMapper{} }

// HeapMapper returns a Mapper that backs slabs with Go heap buffers.
func HeapMapper() Mapper { return extent.HeapMapper{} }

type options struct {
	pageSize         int
	reservation      int
	alignment        int
	chunkCapacity    int
	initialSize      int
	shrinkThreshold  int
	slabSize         int
	memoryLimit      int64
	dumpRateLimit    int64
	source           ExtentSource
	mapper           Mapper
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures heap construction.
type Option func(*options)

// WithPageSize sets the granule in which the arena region grows and
// shrinks. It must be a power of two and a multiple of the OS page size.
// Ignored when WithExtentSource is set.
func WithPageSize(n int) Option {
	return func(o *options) {
		o.pageSize = n
	}
}

// WithReservation sets the address space reserved for the arena region.
// It bounds how far the region can grow. Ignored when WithExtentSource is set.
func WithReservation(n int) Option {
	return func(o *options) {
		o.reservation = n
	}
}

// WithAlignment sets the allocation granule (default 4). Every allocation
// size is rounded up to it and every offset is a multiple of it.
func WithAlignment(n int) Option {
	return func(o *options) {
		o.alignment = n
	}
}

// WithChunkCapacity sets the byte capacity of one chunk's run stream.
// Smaller chunks split more often; larger chunks walk longer streams.
func WithChunkCapacity(n int) Option {
	return func(o *options) {
		o.chunkCapacity = n
	}
}

// WithInitialSize commits n bytes of the region at construction.
func WithInitialSize(n int) Option {
	return func(o *options) {
		o.initialSize = n
	}
}

// WithShrinkThreshold sets the free tail size at which the heap returns
// memory to the source. It is raised to at least one page.
func WithShrinkThreshold(n int) Option {
	return func(o *options) {
		o.shrinkThreshold = n
	}
}

// WithSlabSize sets the mapping size of pool slabs.
func WithSlabSize(n int) Option {
	return func(o *options) {
		o.slabSize = n
	}
}

// WithMemoryLimit caps the bytes mapped for the region and all slabs
// together. Exceeding it fails allocation with ErrOutOfMemory.
//
// Example:
//
//	h, _ := heapcore.New(heapcore.WithMemoryLimit(256 << 20))
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithDumpRateLimit caps Dump output throughput in bytes per second.
func WithDumpRateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.dumpRateLimit = bytesPerSec
	}
}

// WithExtentSource supplies the arena region. The heap owns it and closes
// it on Close. The source must be empty.
func WithExtentSource(src ExtentSource) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithMapper supplies the mapper for pool slabs.
func WithMapper(m Mapper) Option {
	return func(o *options) {
		o.mapper = m
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &heapcore.BasicMetricsCollector{}
//	h, _ := heapcore.New(heapcore.WithMetricsCollector(metrics))
//	// ... use h ...
//	stats := metrics.GetStats()
//	fmt.Printf("Allocs: %d, Avg latency: %dns\n", stats.AllocCount, stats.AllocAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for slow-path events.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := heapcore.NewJSONLogger(slog.LevelInfo)
//	h, _ := heapcore.New(heapcore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		reservation:      DefaultReservation,
		alignment:        DefaultAlignment,
		chunkCapacity:    DefaultChunkCapacity,
		slabSize:         DefaultSlabSize,
		mapper:           extent.AnonMapper{},
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.mapper == nil {
		o.mapper = extent.AnonMapper{}
	}
	return o
}
