// Package resource bounds the memory a heap may map and the rate at which
// diagnostic dumps are written.
//
//	┌──────────────────────────────────────────────┐
//	│                  Controller                  │
//	├───────────────────────┬──────────────────────┤
//	│  Memory budget        │  Dump IO limiter     │
//	│  (weighted semaphore) │  (token bucket)      │
//	├───────────────────────┼──────────────────────┤
//	│  AcquireMemory        │  AcquireIO           │
//	│  ReleaseMemory        │  RateLimitedWriter   │
//	│  MemoryUsage          │                      │
//	└───────────────────────┴──────────────────────┘
//
// AcquireMemory never blocks: the arena either gets the pages it asked for
// or fails immediately with ErrMemoryLimitExceeded, which the heap surfaces
// as an out-of-memory error.
//
// All methods accept a nil Controller and become no-ops, so callers can
// thread an optional controller through without nil checks.
package resource
