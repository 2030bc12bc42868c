// Package parallel provides the data-parallel scheduling used by the
// attention kernels. Work is partitioned into independent units with no
// shared mutable state; each unit runs to completion on one worker.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Number of worker goroutines to use.
	MinUnits   int  // Minimum units before spawning workers is worthwhile.
}

// DefaultConfig returns sensible defaults based on CPU count.
// Attention work units (one batch element and query block each) are coarse,
// so even two units justify a second worker.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
		MinUnits:   2,
	}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too
// small. f must not share mutable state across invocations.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinUnits || cfg.NumWorkers < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	workers := cfg.NumWorkers
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	var next int
	var mu sync.Mutex

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				i := next
				next++
				mu.Unlock()
				if i >= n {
					return
				}
				f(i)
			}
		}()
	}
	wg.Wait()
}

// ForUnits executes f(b, u) for every pair in [0, batch) x [0, units).
// This is the (batch element, query block) fan-out of the kernels.
func ForUnits(batch, units int, f func(b, u int), cfg Config) {
	n := batch * units
	For(n, func(k int) {
		f(k/units, k%units)
	}, cfg)
}
