// Package bench times the grid search against the all-pairs oracle.
package bench

import (
	"context"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/stat"

	"particle-nns/internal/bruteforce"
	"particle-nns/internal/nns"
)

// SparseDensity is the points-per-cell level above which the grid's
// advantage over all-pairs starts to shrink.
const SparseDensity = 2.0

// Options controls a benchmark run.
type Options struct {
	Iterations    int // full cycles per method, default 1000
	OracleWorkers int // brute-force parallelism, <= 1 is sequential
}

func (o Options) withDefaults() Options {
	if o.Iterations <= 0 {
		o.Iterations = 1000
	}
	return o
}

// Summary holds per-iteration timing statistics for one method.
type Summary struct {
	Total  time.Duration `json:"total"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
}

func summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	var total, lo, hi float64 = 0, samples[0], samples[0]
	for _, s := range samples {
		total += s
		lo = min(lo, s)
		hi = max(hi, s)
	}
	mean, std := stat.MeanStdDev(samples, nil)
	if len(samples) < 2 {
		std = 0
	}
	return Summary{
		Total:  time.Duration(total),
		Mean:   time.Duration(mean),
		StdDev: time.Duration(std),
		Min:    time.Duration(lo),
		Max:    time.Duration(hi),
	}
}

// Report is the outcome of Run.
type Report struct {
	Iterations int `json:"iterations"`
	Points     int `json:"points"`

	Grid       Summary     `json:"grid"`
	BruteForce Summary     `json:"bruteForce"`
	Phases     nns.Timings `json:"phases"` // mean per phase
	Speedup    float64     `json:"speedup"`

	GridNeighbors  int `json:"gridNeighbors"`
	BruteNeighbors int `json:"bruteNeighbors"`

	Density float64 `json:"density"` // points per non-buffer cell
	Sparse  bool    `json:"sparse"`
}

// Run times opts.Iterations grid cycles followed by the same number of
// brute-force passes over points. It stops early with ctx.Err() when ctx is
// cancelled.
func Run(ctx context.Context, e *nns.Engine, points []nns.Vec3, opts Options) (Report, error) {
	opts = opts.withDefaults()
	rep := Report{Iterations: opts.Iterations, Points: len(points)}

	if cells := e.Geometry().NonBufferCells; cells > 0 {
		rep.Density = float64(len(points)) / float64(cells)
	}
	rep.Sparse = rep.Density < SparseDensity

	gridSamples := make([]float64, 0, opts.Iterations)
	var phases [5]float64
	for i := 0; i < opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		start := time.Now()
		res, err := e.Run(points)
		if err != nil {
			return rep, fmt.Errorf("bench: grid cycle %d: %w", i, err)
		}
		gridSamples = append(gridSamples, float64(time.Since(start)))

		t := res.Timings
		phases[0] += float64(t.Hash)
		phases[1] += float64(t.Sort)
		phases[2] += float64(t.Ranges)
		phases[3] += float64(t.Reorder)
		phases[4] += float64(t.Query)
		rep.GridNeighbors = res.Total()
	}

	radius := e.Radius()
	bruteSamples := make([]float64, 0, opts.Iterations)
	for i := 0; i < opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		start := time.Now()
		res := bruteforce.CountNeighbors(points, radius, false, opts.OracleWorkers)
		bruteSamples = append(bruteSamples, float64(time.Since(start)))
		rep.BruteNeighbors = bruteforce.Total(res.Counts)
	}

	n := float64(opts.Iterations)
	rep.Phases = nns.Timings{
		Hash:    time.Duration(phases[0] / n),
		Sort:    time.Duration(phases[1] / n),
		Ranges:  time.Duration(phases[2] / n),
		Reorder: time.Duration(phases[3] / n),
		Query:   time.Duration(phases[4] / n),
	}
	rep.Grid = summarize(gridSamples)
	rep.BruteForce = summarize(bruteSamples)
	if rep.Grid.Total > 0 {
		rep.Speedup = float64(rep.BruteForce.Total) / float64(rep.Grid.Total)
	}
	return rep, nil
}

// Write prints the report in the demo's plain-text layout.
func (r Report) Write(w io.Writer, g nns.Geometry) error {
	bw := &errWriter{w: w}
	bw.printf("Running %d iterations of NNS and all-to-all\n\n", r.Iterations)
	bw.printf("Grid:                      %d x %d x %d cells (%d total)\n", g.CellDimX, g.CellDimY, g.CellDimZ, g.CellCount)
	bw.printf("Particle count:            %d\n\n", r.Points)
	bw.printf("Average particles per non buffer cell: %.2f (%.1f is not sparse)\n", r.Density, SparseDensity)
	if !r.Sparse {
		bw.printf("At greater densities the NNS performance gain will decrease\n")
	}
	bw.printf("\n")
	bw.printf("NNS time        %8.3f ms  (mean %s, stddev %s)\n", ms(r.Grid.Total), r.Grid.Mean, r.Grid.StdDev)
	bw.printf("  hash %s  sort %s  ranges %s  reorder %s  query %s\n",
		r.Phases.Hash, r.Phases.Sort, r.Phases.Ranges, r.Phases.Reorder, r.Phases.Query)
	bw.printf("All-to-all time %8.3f ms  (mean %s, stddev %s)\n", ms(r.BruteForce.Total), r.BruteForce.Mean, r.BruteForce.StdDev)
	bw.printf("\nPerformance difference: %.1fx\n", r.Speedup)
	if r.GridNeighbors != r.BruteNeighbors {
		bw.printf("Neighbour totals differ: grid %d, all-to-all %d\n", r.GridNeighbors, r.BruteNeighbors)
	}
	return bw.err
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// errWriter keeps the first write error and drops later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
