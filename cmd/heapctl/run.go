package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/heapcore"
)

type runConfig struct {
	Workers     int
	Ops         int
	MaxSize     int
	PoolObjects bool
	Seed        uint64
	Reservation int
	MemoryLimit int64
	ChunkCap    int
	DumpPath    string
	Compression string
	DumpRate    int64
	MetricsAddr string
}

var runCfg runConfig

func init() {
	cmd := newRunCmd()
	f := cmd.Flags()
	f.IntVarP(&runCfg.Workers, "workers", "w", 4, "Concurrent workers")
	f.IntVarP(&runCfg.Ops, "ops", "n", 10000, "Operations per worker")
	f.IntVar(&runCfg.MaxSize, "max-size", 4096, "Largest allocation in bytes")
	f.BoolVar(&runCfg.PoolObjects, "pool", true, "Mix pool Get/Put into the workload")
	f.Uint64Var(&runCfg.Seed, "seed", 1, "Random seed")
	f.IntVar(&runCfg.Reservation, "reservation", heapcore.DefaultReservation, "Address space reserved for the region")
	f.Int64Var(&runCfg.MemoryLimit, "memory-limit", 0, "Cap on mapped bytes (0 = unlimited)")
	f.IntVar(&runCfg.ChunkCap, "chunk-capacity", heapcore.DefaultChunkCapacity, "Run stream bytes per chunk")
	f.StringVar(&runCfg.DumpPath, "dump", "", "Write a dump to this file before freeing the survivors")
	f.StringVar(&runCfg.Compression, "compression", "none", "Dump compression: none, lz4, zstd")
	f.Int64Var(&runCfg.DumpRate, "dump-rate", 0, "Dump throughput limit in bytes/s (0 = unlimited)")
	f.StringVar(&runCfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic allocation workload",
		Long: `The run command drives a fresh heap with random Alloc/Free traffic from
several workers, optionally mixed with typed pool traffic, then verifies the
heap and prints its accounting.

Example:
  heapctl run --workers 8 --ops 100000
  heapctl run --dump heap.dump.zst --compression zstd
  heapctl run --memory-limit 67108864 --json
  heapctl run --ops 1000000 --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(runCfg)
		},
	}
}

// record is the pool element used by the workload.
type record struct {
	ID       uint64
	Size     uint32
	Checksum uint32
}

// RunReport is the outcome of a workload.
type RunReport struct {
	Workers  int
	Ops      int
	Elapsed  time.Duration
	Peak     heapcore.Stats
	Final    heapcore.Stats
	Metrics  heapcore.BasicMetricsStats
	DumpPath string `json:",omitempty"`
}

func runRun(cfg runConfig) error {
	report, err := runWorkload(cfg)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(report)
	}

	printInfo("Workload: %d workers x %d ops in %s\n", report.Workers, report.Ops, report.Elapsed.Round(time.Millisecond))
	printInfo("Peak:  %s\n", report.Peak)
	printInfo("Final: %s\n", report.Final)
	printInfo("Allocs: %d (errors %d, avg %s)  Frees: %d (avg %s)\n",
		report.Metrics.AllocCount, report.Metrics.AllocErrors, time.Duration(report.Metrics.AllocAvgNanos),
		report.Metrics.FreeCount, time.Duration(report.Metrics.FreeAvgNanos))
	printInfo("Region: %d extends (%s), %d contracts (%s)\n",
		report.Metrics.ExtendCount, formatBytes(report.Metrics.ExtendBytes),
		report.Metrics.ContractCount, formatBytes(report.Metrics.ContractBytes))
	printInfo("Memory peak: %s\n", formatBytes(report.Final.MemoryPeak))
	if report.DumpPath != "" {
		printInfo("Dump written to %s\n", report.DumpPath)
	}
	return nil
}

func runWorkload(cfg runConfig) (*RunReport, error) {
	if cfg.Workers <= 0 || cfg.Ops < 0 || cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("workers and max-size must be positive, ops non-negative")
	}
	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	metrics := &heapcore.BasicMetricsCollector{}
	prom := newPromCollector()
	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, prom)
		if err != nil {
			return nil, fmt.Errorf("failed to serve metrics: %w", err)
		}
		defer stop()
	}

	h, err := heapcore.New(
		heapcore.WithReservation(cfg.Reservation),
		heapcore.WithMemoryLimit(cfg.MemoryLimit),
		heapcore.WithChunkCapacity(cfg.ChunkCap),
		heapcore.WithDumpRateLimit(cfg.DumpRate),
		heapcore.WithMetricsCollector(heapcore.MultiMetricsCollector{metrics, prom}),
		heapcore.WithLogger(newLogger()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heap: %w", err)
	}
	defer h.Close()

	records, err := heapcore.NewPool[record](h)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	start := time.Now()
	survivors := make([][][]byte, cfg.Workers)
	kept := make([][]*record, cfg.Workers)

	var g errgroup.Group
	for w := range cfg.Workers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(w)))
			var live [][]byte
			var objs []*record
			for i := range cfg.Ops {
				switch op := rng.IntN(10); {
				case cfg.PoolObjects && op == 0:
					r, err := records.Get()
					if err != nil {
						return err
					}
					r.ID = uint64(w)<<32 | uint64(i)
					objs = append(objs, r)
				case cfg.PoolObjects && op == 1 && len(objs) > 0:
					j := rng.IntN(len(objs))
					records.Put(objs[j])
					objs[j] = objs[len(objs)-1]
					objs = objs[:len(objs)-1]
				case op < 6 || len(live) == 0:
					b, err := h.Alloc(1 + rng.IntN(cfg.MaxSize))
					if err != nil {
						return err
					}
					b[0] = byte(w)
					live = append(live, b)
				default:
					j := rng.IntN(len(live))
					if live[j][0] != byte(w) {
						return fmt.Errorf("worker %d: allocation overwritten", w)
					}
					h.Free(live[j])
					live[j] = live[len(live)-1]
					live = live[:len(live)-1]
				}
			}
			survivors[w], kept[w] = live, objs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("workload failed: %w", err)
	}
	elapsed := time.Since(start)

	if err := h.Verify(); err != nil {
		return nil, fmt.Errorf("heap verification failed: %w", err)
	}
	report := &RunReport{
		Workers: cfg.Workers,
		Ops:     cfg.Ops,
		Elapsed: elapsed,
		Peak:    h.Stats(),
	}

	if cfg.DumpPath != "" {
		if err := writeDump(h, cfg.DumpPath, compression); err != nil {
			return nil, err
		}
		report.DumpPath = cfg.DumpPath
	}

	for w := range cfg.Workers {
		for _, b := range survivors[w] {
			h.Free(b)
		}
		for _, r := range kept[w] {
			records.Put(r)
		}
	}
	if err := h.Verify(); err != nil {
		return nil, fmt.Errorf("heap verification failed: %w", err)
	}
	report.Final = h.Stats()
	report.Metrics = metrics.GetStats()
	return report, nil
}

func writeDump(h *heapcore.Heap, path string, c heapcore.DumpCompression) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	printVerbose("Writing %s dump to %s\n", c, path)
	if err := h.Dump(f, heapcore.WithDumpCompression(c)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dump: %w", err)
	}
	return f.Close()
}

func parseCompression(s string) (heapcore.DumpCompression, error) {
	for _, c := range []heapcore.DumpCompression{heapcore.DumpPlain, heapcore.DumpLZ4, heapcore.DumpZSTD} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", s)
}
