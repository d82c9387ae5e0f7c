package nns

import (
	"cmp"
	"slices"
)

// Sort groups the pairs by cell id in ascending order. Pairs sharing a cell
// have no defined relative order.
func (e *Engine) Sort() {
	switch e.opts.sort {
	case SortCounting:
		e.countingSort()
	default:
		slices.SortFunc(e.pairs, func(a, b CellIndexPair) int {
			return cmp.Compare(a.CellID, b.CellID)
		})
	}
}

// countingSort places pairs by prefix sums over the cell histogram.
// Cell ids are dense and bounded by CellCount, so one pass suffices.
func (e *Engine) countingSort() {
	if e.histogram == nil {
		e.histogram = make([]int, e.geom.CellCount+1)
		e.scratch = make([]CellIndexPair, e.pointCount)
	}
	counts := e.histogram
	clear(counts)

	for _, p := range e.pairs {
		counts[p.CellID+1]++
	}
	for c := 1; c < len(counts); c++ {
		counts[c] += counts[c-1]
	}
	for _, p := range e.pairs {
		e.scratch[counts[p.CellID]] = p
		counts[p.CellID]++
	}

	e.pairs, e.scratch = e.scratch, e.pairs
}
