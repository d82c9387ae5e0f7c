// Package bruteforce is the O(n²) all-pairs reference for the grid search.
// It exists to validate the grid engine and to give it a baseline to beat.
package bruteforce

import (
	"math"
	"slices"

	"particle-nns/internal/nns"
	"particle-nns/internal/parallel"
)

// Result holds per-point neighbour counts in original order.
type Result struct {
	Counts    []int
	Neighbors [][]int // ascending original indices; nil unless requested
}

// CountNeighbors compares every point with every other point and counts
// those strictly closer than radius. workers <= 1 runs sequentially.
func CountNeighbors(points []nns.Vec3, radius float64, withLists bool, workers int) *Result {
	n := len(points)
	res := &Result{Counts: make([]int, n)}
	if withLists {
		res.Neighbors = make([][]int, n)
	}

	r2 := radius * radius
	parallel.For(n, workers, parallel.DefaultThreshold/8, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			here := points[i]
			count := 0
			var list []int
			for j := range points {
				if j == i {
					continue
				}
				if here.DistSq(points[j]) < r2 {
					count++
					if withLists {
						list = append(list, j)
					}
				}
			}
			res.Counts[i] = count
			if withLists {
				res.Neighbors[i] = list
			}
		}
	})
	return res
}

// Total returns the sum of counts.
func Total(counts []int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}

// MismatchKind tells which side of a comparison lacked a neighbour.
type MismatchKind uint8

const (
	// MissingFromGrid is an oracle neighbour the grid did not report.
	MissingFromGrid MismatchKind = iota
	// UnexpectedInGrid is a grid neighbour the oracle did not report.
	UnexpectedInGrid
)

func (k MismatchKind) String() string {
	if k == UnexpectedInGrid {
		return "unexpected"
	}
	return "missing"
}

// Mismatch is one neighbour relation the two methods disagree on.
// A pair that is missed is usually reported once from each side.
type Mismatch struct {
	Point    int          `json:"point"`
	Other    int          `json:"other"`
	Distance float64      `json:"distance"`
	Kind     MismatchKind `json:"kind"`
}

// Compare diffs grid neighbour lists against oracle lists for each point.
// Both slices are indexed by original point index.
func Compare(points []nns.Vec3, grid, oracle [][]int) []Mismatch {
	var out []Mismatch
	for i := range oracle {
		var got []int
		if i < len(grid) {
			got = slices.Clone(grid[i])
			slices.Sort(got)
		}
		want := oracle[i]

		for _, j := range want {
			if _, found := slices.BinarySearch(got, j); !found {
				out = append(out, mismatch(points, i, j, MissingFromGrid))
			}
		}
		for _, j := range got {
			if !slices.Contains(want, j) {
				out = append(out, mismatch(points, i, j, UnexpectedInGrid))
			}
		}
	}
	return out
}

func mismatch(points []nns.Vec3, i, j int, kind MismatchKind) Mismatch {
	return Mismatch{
		Point:    i,
		Other:    j,
		Distance: math.Sqrt(points[i].DistSq(points[j])),
		Kind:     kind,
	}
}
