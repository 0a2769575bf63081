package heapcore_test

import (
	"bytes"
	"errors"
	"fmt"
	"log"

	"github.com/hupe1980/heapcore"
)

// Example demonstrates allocating and freeing raw memory.
func Example() {
	h, err := heapcore.New(heapcore.WithExtentSource(heapcore.NewMemorySource(1<<20, 4096)))
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	a, _ := h.Alloc(100)
	b, _ := h.Alloc(50)
	fmt.Println(h.Offset(a), h.Offset(b))

	h.Free(a)
	c, _ := h.Alloc(90)
	fmt.Println(h.Offset(c))

	h.Free(b)
	h.Free(c)
	fmt.Println(h.Stats().UsedBytes)
	// Output:
	// 0 100
	// 0
	// 0
}

// ExampleNewPool demonstrates a typed object pool.
func ExampleNewPool() {
	h, err := heapcore.New(
		heapcore.WithExtentSource(heapcore.NewMemorySource(1<<20, 4096)),
		heapcore.WithMapper(heapcore.HeapMapper()),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	type point struct{ X, Y float64 }

	points, err := heapcore.NewPool[point](h)
	if err != nil {
		log.Fatal(err)
	}

	p, _ := points.Get()
	p.X, p.Y = 3, 4
	fmt.Println(*p, points.Len())

	points.Put(p)
	fmt.Println(points.Len())
	// Output:
	// {3 4} 1
	// 0
}

// ExampleRecoverCorruption demonstrates turning a double free into an error.
func ExampleRecoverCorruption() {
	h, err := heapcore.New(heapcore.WithExtentSource(heapcore.NewMemorySource(1<<20, 4096)))
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	b, _ := h.Alloc(16)
	h.Free(b)

	freeTwice := func() (err error) {
		defer heapcore.RecoverCorruption(&err)
		h.Free(b)
		return nil
	}
	var ce *heapcore.CorruptionError
	fmt.Println(errors.As(freeTwice(), &ce), ce.Op)
	// Output: true free
}

// ExampleHeap_Dump demonstrates writing and reading back a compressed dump.
func ExampleHeap_Dump() {
	h, err := heapcore.New(heapcore.WithExtentSource(heapcore.NewMemorySource(1<<20, 4096)))
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	_, _ = h.Alloc(256)

	var buf bytes.Buffer
	if err := h.Dump(&buf, heapcore.WithDumpCompression(heapcore.DumpZSTD)); err != nil {
		log.Fatal(err)
	}
	sum, err := heapcore.ScanDump(&buf)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(sum.Chunks, sum.Runs, sum.AllocatedBytes)
	// Output: 1 2 1280
}

// ExampleBasicMetricsCollector demonstrates in-memory metrics.
func ExampleBasicMetricsCollector() {
	metrics := &heapcore.BasicMetricsCollector{}
	h, err := heapcore.New(
		heapcore.WithExtentSource(heapcore.NewMemorySource(1<<20, 4096)),
		heapcore.WithMetricsCollector(metrics),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	b, _ := h.Alloc(10)
	h.Free(b)

	s := metrics.GetStats()
	fmt.Println(s.AllocCount, s.AllocBytes, s.FreeCount)
	// Output: 1 10 1
}
