package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hupe1980/heapcore/internal/dump"
)

var catRaw bool

func init() {
	cmd := newCatCmd()
	cmd.Flags().BoolVar(&catRaw, "raw", false, "Print the decompressed dump text instead of a summary")
	rootCmd.AddCommand(cmd)
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <dump>",
		Short: "Summarize a heap dump",
		Long: `The cat command reads a dump written by "heapctl run --dump" or
Heap.Dump, detecting LZ4 or Zstandard framing, and prints a summary of the
region and the pools.

Example:
  heapctl cat heap.dump
  heapctl cat heap.dump.zst --raw
  heapctl cat heap.dump --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCat(args[0])
		},
	}
}

func runCat(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	if catRaw {
		rc, err := dump.Open(f)
		if err != nil {
			return fmt.Errorf("failed to open dump: %w", err)
		}
		defer rc.Close()
		_, err = io.Copy(os.Stdout, rc)
		return err
	}

	sum, err := dump.Scan(f)
	if err != nil {
		return fmt.Errorf("failed to read dump: %w", err)
	}
	if jsonOut {
		return printJSON(catSummary(sum))
	}

	h := sum.Header
	printInfo("Region:\n")
	printInfo("  Mapped: %s\n", formatBytes(int64(h.Mapped)))
	printInfo("  Used: %s\n", formatBytes(int64(h.Used)))
	printInfo("  Metadata: %s\n", formatBytes(int64(h.Metadata)))
	printInfo("  Usable start: %#x\n", h.UsableStart)
	printInfo("  Chunks: %d (%d runs)\n", sum.Chunks, sum.Runs)
	printInfo("  Allocated runs: %s  Free runs: %s\n\n",
		formatBytes(int64(sum.AllocatedBytes)), formatBytes(int64(sum.FreeBytes)))

	if len(sum.Pools) > 0 {
		printInfo("Pools:\n")
	}
	for _, p := range sum.Pools {
		printInfo("  %s: %d live, %d slabs of %d x %d B\n", p.Name, p.Live, p.Slabs, p.Capacity, p.ObjectSize)
		if occ := sum.Occupancy[p.Name]; occ != nil && !occ.IsEmpty() {
			printVerbose("    occupied slots %d..%d\n", occ.Minimum(), occ.Maximum())
		}
	}
	return nil
}

// CatSummary is the JSON form of a dump summary.
type CatSummary struct {
	Header         dump.Header
	Chunks         int
	Runs           int
	AllocatedBytes uint64
	FreeBytes      uint64
	Pools          []CatPool
}

// CatPool describes one pool in a dump.
type CatPool struct {
	dump.Pool
	Occupied uint64
}

func catSummary(sum *dump.Summary) CatSummary {
	out := CatSummary{
		Header:         sum.Header,
		Chunks:         sum.Chunks,
		Runs:           sum.Runs,
		AllocatedBytes: sum.AllocatedBytes,
		FreeBytes:      sum.FreeBytes,
	}
	for _, p := range sum.Pools {
		cp := CatPool{Pool: p}
		if occ := sum.Occupancy[p.Name]; occ != nil {
			cp.Occupied = occ.GetCardinality()
		}
		out.Pools = append(out.Pools, cp)
	}
	sort.Slice(out.Pools, func(i, j int) bool { return out.Pools[i].Name < out.Pools[j].Name })
	return out
}
