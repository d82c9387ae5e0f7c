// Package metrics holds the Prometheus collectors for query cycles.
//
// Labels are bounded: phase names come from a fixed set, never from input.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"particle-nns/internal/nns"
)

// Phase label values.
const (
	PhaseHash    = "hash"
	PhaseSort    = "sort"
	PhaseRanges  = "ranges"
	PhaseReorder = "reorder"
	PhaseQuery   = "query"
	PhaseCycle   = "cycle"
	PhaseOracle  = "bruteforce"
)

var (
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nns_phase_duration_seconds",
		Help:    "Time spent in each phase of a query cycle",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"phase"})

	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nns_cycles_total",
		Help: "Completed query cycles",
	})

	pointsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nns_points",
		Help: "Points in the current set",
	})

	outOfBoundsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nns_out_of_bounds_points",
		Help: "Points clamped into the overflow cell in the last cycle",
	})

	nonEmptyCellsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nns_nonempty_cells",
		Help: "Occupied cells in the last cycle",
	})

	neighborsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nns_neighbors_total",
		Help: "Sum of neighbour counts in the last cycle",
	})

	verifyMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nns_verify_mismatches_total",
		Help: "Neighbours reported by the oracle but missed by the grid",
	})
)

// RecordCycle records one completed cycle.
func RecordCycle(res *nns.Result, stats nns.GridStats) {
	t := res.Timings
	phaseDuration.WithLabelValues(PhaseHash).Observe(t.Hash.Seconds())
	phaseDuration.WithLabelValues(PhaseSort).Observe(t.Sort.Seconds())
	phaseDuration.WithLabelValues(PhaseRanges).Observe(t.Ranges.Seconds())
	phaseDuration.WithLabelValues(PhaseReorder).Observe(t.Reorder.Seconds())
	phaseDuration.WithLabelValues(PhaseQuery).Observe(t.Query.Seconds())
	phaseDuration.WithLabelValues(PhaseCycle).Observe(t.Total().Seconds())

	cyclesTotal.Inc()
	pointsGauge.Set(float64(len(res.Counts)))
	outOfBoundsGauge.Set(float64(res.OutOfBounds))
	nonEmptyCellsGauge.Set(float64(stats.NonEmptyCells))
	neighborsGauge.Set(float64(res.Total()))
}

// RecordOracle records a brute-force pass.
func RecordOracle(d time.Duration) {
	phaseDuration.WithLabelValues(PhaseOracle).Observe(d.Seconds())
}

// RecordMismatches adds missed neighbours found by verification.
func RecordMismatches(n int) {
	if n > 0 {
		verifyMismatches.Add(float64(n))
	}
}
