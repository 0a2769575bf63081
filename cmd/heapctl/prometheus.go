package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/heapcore"
)

// promCollector exports heap events as Prometheus metrics.
type promCollector struct {
	registry *prometheus.Registry

	opLatency *prometheus.HistogramVec
	opBytes   *prometheus.CounterVec
	allocErrs prometheus.Counter
	region    *prometheus.CounterVec
	slabBytes prometheus.Gauge
}

var _ heapcore.MetricsCollector = (*promCollector)(nil)

func newPromCollector() *promCollector {
	c := &promCollector{
		registry: prometheus.NewRegistry(),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heapcore_op_duration_seconds",
			Help:    "Latency of heap operations.",
			Buckets: prometheus.ExponentialBuckets(50e-9, 4, 10),
		}, []string{"op"}),
		opBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heapcore_op_bytes_total",
			Help: "Bytes allocated and freed.",
		}, []string{"op"}),
		allocErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heapcore_alloc_errors_total",
			Help: "Allocations that failed.",
		}),
		region: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heapcore_region_bytes_total",
			Help: "Bytes the region grew or shrank by.",
		}, []string{"direction"}),
		slabBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heapcore_slab_bytes",
			Help: "Bytes currently mapped for pool slabs.",
		}),
	}
	c.registry.MustRegister(c.opLatency, c.opBytes, c.allocErrs, c.region, c.slabBytes)
	return c
}

func (c *promCollector) RecordAlloc(size int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("alloc").Observe(d.Seconds())
	if err != nil {
		c.allocErrs.Inc()
		return
	}
	c.opBytes.WithLabelValues("alloc").Add(float64(size))
}

func (c *promCollector) RecordFree(size int, d time.Duration) {
	c.opLatency.WithLabelValues("free").Observe(d.Seconds())
	c.opBytes.WithLabelValues("free").Add(float64(size))
}

func (c *promCollector) RecordExtend(bytes int) {
	c.region.WithLabelValues("extend").Add(float64(bytes))
}

func (c *promCollector) RecordContract(bytes int) {
	c.region.WithLabelValues("contract").Add(float64(bytes))
}

func (c *promCollector) RecordSlabMap(bytes int)   { c.slabBytes.Add(float64(bytes)) }
func (c *promCollector) RecordSlabUnmap(bytes int) { c.slabBytes.Sub(float64(bytes)) }

// serveMetrics exposes the collector on addr until the returned stop
// function is called.
func serveMetrics(addr string, c *promCollector) (stop func() error, err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			printVerbose("metrics server: %v\n", err)
		}
	}()
	printVerbose("Serving metrics on http://%s/metrics\n", ln.Addr())

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}
