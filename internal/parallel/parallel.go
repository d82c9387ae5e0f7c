// Package parallel runs data-parallel loops over index ranges.
//
// Work is split into contiguous, disjoint chunks so callers can write
// per-index output slots without locking.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the element count below which loops run inline.
// Goroutine fan-out costs more than it saves for small inputs.
const DefaultThreshold = 1024

// DefaultWorkers returns the number of workers used when none is configured.
func DefaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// For calls fn over [0, n) split into at most workers chunks.
// It runs fn(0, n) inline when n < threshold or workers <= 1.
// All chunks have completed when For returns.
func For(n, workers, threshold int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if workers <= 1 || n < threshold {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	g.Wait()
}
