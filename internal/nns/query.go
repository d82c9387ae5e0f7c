package nns

import "particle-nns/internal/parallel"

// Result holds per-point neighbour counts keyed by original index.
type Result struct {
	Counts []int

	// Neighbors lists neighbour original indices per point. Nil unless the
	// engine was built WithNeighborLists.
	Neighbors [][]int

	OutOfBounds int
	Timings     Timings
}

// Total returns the sum of all counts. Every neighbour pair is counted
// twice, once from each side.
func (r *Result) Total() int {
	total := 0
	for _, c := range r.Counts {
		total += c
	}
	return total
}

// Radius returns the interaction radius, equal to the cell length.
func (e *Engine) Radius() float64 {
	return e.geom.CellLength
}

// CountNeighbors runs the query pass over the reordered points. Hash, Sort,
// FindCellStartEnd and Reorder must have run for the current point set.
func (e *Engine) CountNeighbors() *Result {
	res := &Result{
		Counts:      make([]int, e.pointCount),
		OutOfBounds: e.OutOfBounds(),
	}
	if e.opts.neighborLists {
		res.Neighbors = make([][]int, e.pointCount)
	}

	r2 := e.geom.CellLength * e.geom.CellLength
	parallel.For(e.pointCount, e.opts.workers, e.opts.parallelThreshold, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			e.countAt(i, r2, res)
		}
	})
	return res
}

// countAt counts neighbours of the point at sorted position i and writes the
// result into the slot of its original index. Each i owns exactly one slot.
func (e *Engine) countAt(i int, r2 float64, res *Result) {
	g := &e.geom
	self := e.pairs[i]
	here := e.sorted[i]
	overflow := g.OverflowCell()

	var list []int
	count := 0

	scan := func(cell int) {
		start := e.cellStart[cell]
		if start == EmptyCell {
			return
		}
		end := int(e.cellEnd[cell])
		for j := int(start); j < end; j++ {
			if j == i {
				continue
			}
			if here.DistSq(e.sorted[j]) < r2 {
				count++
				if res.Neighbors != nil {
					list = append(list, e.pairs[j].Index)
				}
			}
		}
	}

	if self.CellID == overflow {
		// Overflow members have no grid position; they only see each other.
		scan(overflow)
	} else {
		cx, cy, cz := g.Unflatten(self.CellID)
		for dz := -1; dz <= 1; dz++ {
			z := cz + dz
			if z < 0 || z >= g.CellDimZ {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				y := cy + dy
				if y < 0 || y >= g.CellDimY {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					x := cx + dx
					if x < 0 || x >= g.CellDimX {
						continue
					}
					cell := g.Flatten(x, y, z)
					if cell == overflow {
						continue
					}
					scan(cell)
				}
			}
		}
	}

	res.Counts[self.Index] = count
	if res.Neighbors != nil {
		res.Neighbors[self.Index] = list
	}
}
