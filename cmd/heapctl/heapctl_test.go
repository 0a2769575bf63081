package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}

func testConfig() runConfig {
	return runConfig{
		Workers:     2,
		Ops:         2000,
		MaxSize:     512,
		PoolObjects: true,
		Seed:        1,
		Reservation: 64 << 20,
		ChunkCap:    128,
		Compression: "none",
	}
}

func TestRunWorkload(t *testing.T) {
	report, err := runWorkload(testConfig())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Workers)
	assert.Equal(t, uint64(0), report.Final.UsedBytes)
	require.Len(t, report.Final.Pools, 1)
	assert.Equal(t, 0, report.Final.Pools[0].Live)
	assert.NotZero(t, report.Metrics.AllocCount)
	assert.Equal(t, report.Metrics.AllocCount, report.Metrics.FreeCount)
}

func TestRunWorkload_Invalid(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0
	_, err := runWorkload(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Compression = "gzip"
	_, err = runWorkload(cfg)
	assert.Error(t, err)
}

func TestRunThenCat(t *testing.T) {
	for _, c := range []string{"none", "lz4", "zstd"} {
		t.Run(c, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "heap.dump")
			cfg := testConfig()
			cfg.DumpPath = path
			cfg.Compression = c

			report, err := runWorkload(cfg)
			require.NoError(t, err)
			assert.Equal(t, path, report.DumpPath)

			jsonOut = true
			t.Cleanup(func() { jsonOut = false })

			out, err := captureOutput(t, func() error { return runCat(path) })
			require.NoError(t, err)

			var sum CatSummary
			require.NoError(t, json.Unmarshal([]byte(out), &sum))
			assert.Equal(t, report.Peak.Chunks, sum.Chunks)
			assert.Equal(t, report.Peak.MappedBytes, sum.AllocatedBytes+sum.FreeBytes)
			require.Len(t, sum.Pools, 1)
			assert.Equal(t, "main.record", sum.Pools[0].Name)
			assert.Equal(t, uint64(sum.Pools[0].Live), sum.Pools[0].Occupied)
		})
	}
}

func TestCatRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.dump.lz4")
	cfg := testConfig()
	cfg.DumpPath = path
	cfg.Compression = "lz4"
	_, err := runWorkload(cfg)
	require.NoError(t, err)

	catRaw = true
	t.Cleanup(func() { catRaw = false })

	out, err := captureOutput(t, func() error { return runCat(path) })
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "heapcore dump v1\n"))
	assert.True(t, strings.HasSuffix(out, "end\n"))
}

func TestPromCollector(t *testing.T) {
	c := newPromCollector()
	c.RecordAlloc(100, time.Microsecond, nil)
	c.RecordAlloc(5, time.Microsecond, errors.New("out of memory"))
	c.RecordFree(100, time.Microsecond)
	c.RecordExtend(8192)
	c.RecordSlabMap(4096)
	c.RecordSlabMap(4096)
	c.RecordSlabUnmap(4096)

	assert.Equal(t, 100.0, promtest.ToFloat64(c.opBytes.WithLabelValues("alloc")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.allocErrs))
	assert.Equal(t, 8192.0, promtest.ToFloat64(c.region.WithLabelValues("extend")))
	assert.Equal(t, 4096.0, promtest.ToFloat64(c.slabBytes))

	families, err := c.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	stop, err := serveMetrics("127.0.0.1:0", c)
	require.NoError(t, err)
	require.NoError(t, stop())
}
