package heapcore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    allocCounter   prometheus.Counter
//	    mappedGauge    prometheus.Gauge
//	}
//
//	func (p *PrometheusCollector) RecordAlloc(size int, duration time.Duration, err error) {
//	    p.allocCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
//
// Region and slab callbacks run while the heap holds internal locks; they
// must not call back into the heap.
type MetricsCollector interface {
	// RecordAlloc is called after each Alloc.
	// duration is the time taken, err is nil if successful.
	RecordAlloc(size int, duration time.Duration, err error)

	// RecordFree is called after each Free.
	RecordFree(size int, duration time.Duration)

	// RecordExtend is called when the arena region grows by bytes.
	RecordExtend(bytes int)

	// RecordContract is called when bytes are returned from the arena region.
	RecordContract(bytes int)

	// RecordSlabMap is called when a pool maps a slab.
	RecordSlabMap(bytes int)

	// RecordSlabUnmap is called when a pool unmaps a slab.
	RecordSlabUnmap(bytes int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAlloc(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordFree(int, time.Duration)         {}
func (NoopMetricsCollector) RecordExtend(int)                      {}
func (NoopMetricsCollector) RecordContract(int)                    {}
func (NoopMetricsCollector) RecordSlabMap(int)                     {}
func (NoopMetricsCollector) RecordSlabUnmap(int)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount      atomic.Int64
	AllocErrors     atomic.Int64
	AllocBytes      atomic.Int64
	AllocTotalNanos atomic.Int64
	FreeCount       atomic.Int64
	FreeBytes       atomic.Int64
	FreeTotalNanos  atomic.Int64
	ExtendCount     atomic.Int64
	ExtendBytes     atomic.Int64
	ContractCount   atomic.Int64
	ContractBytes   atomic.Int64
	SlabMapCount    atomic.Int64
	SlabUnmapCount  atomic.Int64
	SlabBytes       atomic.Int64
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(size int, duration time.Duration, err error) {
	b.AllocCount.Add(1)
	b.AllocTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AllocErrors.Add(1)
		return
	}
	b.AllocBytes.Add(int64(size))
}

// RecordFree implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFree(size int, duration time.Duration) {
	b.FreeCount.Add(1)
	b.FreeBytes.Add(int64(size))
	b.FreeTotalNanos.Add(duration.Nanoseconds())
}

// RecordExtend implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExtend(bytes int) {
	b.ExtendCount.Add(1)
	b.ExtendBytes.Add(int64(bytes))
}

// RecordContract implements MetricsCollector.
func (b *BasicMetricsCollector) RecordContract(bytes int) {
	b.ContractCount.Add(1)
	b.ContractBytes.Add(int64(bytes))
}

// RecordSlabMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSlabMap(bytes int) {
	b.SlabMapCount.Add(1)
	b.SlabBytes.Add(int64(bytes))
}

// RecordSlabUnmap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSlabUnmap(bytes int) {
	b.SlabUnmapCount.Add(1)
	b.SlabBytes.Add(-int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AllocCount:     b.AllocCount.Load(),
		AllocErrors:    b.AllocErrors.Load(),
		AllocBytes:     b.AllocBytes.Load(),
		AllocAvgNanos:  avg(b.AllocTotalNanos.Load(), b.AllocCount.Load()),
		FreeCount:      b.FreeCount.Load(),
		FreeBytes:      b.FreeBytes.Load(),
		FreeAvgNanos:   avg(b.FreeTotalNanos.Load(), b.FreeCount.Load()),
		ExtendCount:    b.ExtendCount.Load(),
		ExtendBytes:    b.ExtendBytes.Load(),
		ContractCount:  b.ContractCount.Load(),
		ContractBytes:  b.ContractBytes.Load(),
		SlabMapCount:   b.SlabMapCount.Load(),
		SlabUnmapCount: b.SlabUnmapCount.Load(),
		SlabBytes:      b.SlabBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AllocCount     int64
	AllocErrors    int64
	AllocBytes     int64
	AllocAvgNanos  int64
	FreeCount      int64
	FreeBytes      int64
	FreeAvgNanos   int64
	ExtendCount    int64
	ExtendBytes    int64
	ContractCount  int64
	ContractBytes  int64
	SlabMapCount   int64
	SlabUnmapCount int64
	SlabBytes      int64
}

// MultiMetricsCollector fans every event out to each collector in order.
type MultiMetricsCollector []MetricsCollector

// RecordAlloc implements MetricsCollector.
func (m MultiMetricsCollector) RecordAlloc(size int, duration time.Duration, err error) {
	for _, c := range m {
		c.RecordAlloc(size, duration, err)
	}
}

// RecordFree implements MetricsCollector.
func (m MultiMetricsCollector) RecordFree(size int, duration time.Duration) {
	for _, c := range m {
		c.RecordFree(size, duration)
	}
}

// RecordExtend implements MetricsCollector.
func (m MultiMetricsCollector) RecordExtend(bytes int) {
	for _, c := range m {
		c.RecordExtend(bytes)
	}
}

// RecordContract implements MetricsCollector.
func (m MultiMetricsCollector) RecordContract(bytes int) {
	for _, c := range m {
		c.RecordContract(bytes)
	}
}

// RecordSlabMap implements MetricsCollector.
func (m MultiMetricsCollector) RecordSlabMap(bytes int) {
	for _, c := range m {
		c.RecordSlabMap(bytes)
	}
}

// RecordSlabUnmap implements MetricsCollector.
func (m MultiMetricsCollector) RecordSlabUnmap(bytes int) {
	for _, c := range m {
		c.RecordSlabUnmap(bytes)
	}
}
