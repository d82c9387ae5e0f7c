package main

import (
	"fmt"
	"io"
	"strings"

	"particle-nns/internal/bruteforce"
	"particle-nns/internal/nns"
)

// printLimit caps verbose listings once they pass printThreshold entries.
const (
	printThreshold = 100
	printLimit     = 10
)

func listLimit(w io.Writer, n int) int {
	if n > printThreshold {
		fmt.Fprintln(w, "Count is high will only print 10")
		return printLimit
	}
	return n
}

// verboseCycle runs the phases one at a time and prints each intermediate
// table.
func verboseCycle(w io.Writer, e *nns.Engine, points []nns.Vec3) (*nns.Result, error) {
	if err := e.Hash(points); err != nil {
		return nil, err
	}
	printPairs(w, e.Pairs())

	e.Sort()
	printPairs(w, e.Pairs())

	e.FindCellStartEnd()
	printRanges(w, e)

	if err := e.Reorder(points); err != nil {
		return nil, err
	}
	res := e.CountNeighbors()
	printCounts(w, "Neighbor", res.Counts, res.Neighbors)
	return res, nil
}

func printPairs(w io.Writer, pairs []nns.CellIndexPair) {
	n := listLimit(w, len(pairs))
	for _, p := range pairs[:n] {
		fmt.Fprintf(w, "Cell %d, Index %d\n", p.CellID, p.Index)
	}
	fmt.Fprint(w, "\n\n")
}

func printRanges(w io.Writer, e *nns.Engine) {
	cells := e.Geometry().CellCount
	n := listLimit(w, cells)
	for cell := 0; cell < n; cell++ {
		start, end, ok := e.CellRange(cell)
		if !ok {
			fmt.Fprintf(w, "Cell %d: Empty\n", cell)
			continue
		}
		fmt.Fprintf(w, "Cell %d: Start %d, End %d\n", cell, start, end)
	}
	fmt.Fprint(w, "\n\n")
}

func printCounts(w io.Writer, label string, counts []int, lists [][]int) {
	n := listLimit(w, len(counts))
	for i := 0; i < n; i++ {
		if lists == nil || len(lists[i]) == 0 {
			fmt.Fprintf(w, "Particle %d, %s count %d\n", i, label, counts[i])
			continue
		}
		ids := make([]string, len(lists[i]))
		for k, j := range lists[i] {
			ids[k] = fmt.Sprint(j)
		}
		fmt.Fprintf(w, "Particle %d, %s count %d\t{ %s }\n", i, label, counts[i], strings.Join(ids, ", "))
	}
	fmt.Fprint(w, "\n\n")
}

func printOracle(w io.Writer, oracle *bruteforce.Result) {
	printCounts(w, "NeighborN2", oracle.Counts, oracle.Neighbors)
}

// check reports every oracle neighbour the grid missed and returns the
// number of misses.
func check(w io.Writer, points []nns.Vec3, res *nns.Result, oracle *bruteforce.Result) int {
	fmt.Fprintln(w, "Checking for differences between NNS and all-to-all")

	missed := 0
	last := -1
	for _, m := range bruteforce.Compare(points, res.Neighbors, oracle.Neighbors) {
		if m.Kind != bruteforce.MissingFromGrid {
			continue
		}
		if m.Point != last {
			fmt.Fprintf(w, "Particle %d\n", m.Point)
			last = m.Point
		}
		fmt.Fprintf(w, "\tNNS didnt find %d, distance of %.2f\n", m.Other, m.Distance)
		missed++
	}

	if missed > 0 {
		fmt.Fprintf(w, "\tFound %d errors (some may be mirrors of each other)\n", missed)
	} else {
		fmt.Fprintln(w, "\tSuccess!")
	}
	fmt.Fprint(w, "\n\n")
	return missed
}
