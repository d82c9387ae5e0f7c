package nns

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var perfConfig = GridConfig{DimX: 40, DimY: 40, DimZ: 30, CellLength: 5, Buffer: 10}

// uniformPoints scatters n points over the unbuffered volume of cfg.
func uniformPoints(n int, cfg GridConfig, seed int64) []Vec3 {
	rng := rand.New(rand.NewSource(seed))
	points := make([]Vec3, n)
	for i := range points {
		points[i] = Vec3{
			X: (rng.Float64() - 0.5) * cfg.DimX,
			Y: (rng.Float64() - 0.5) * cfg.DimY,
			Z: (rng.Float64() - 0.5) * cfg.DimZ,
		}
	}
	return points
}

func buildTables(t *testing.T, points []Vec3, cfg GridConfig, opts ...Option) *Engine {
	t.Helper()
	e, err := New(len(points), cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Hash(points))
	e.Sort()
	e.FindCellStartEnd()
	require.NoError(t, e.Reorder(points))
	return e
}

func TestSortGroupsByCell(t *testing.T) {
	points := uniformPoints(800, perfConfig, 1)

	for _, s := range []SortStrategy{SortComparison, SortCounting} {
		t.Run(s.String(), func(t *testing.T) {
			e := buildTables(t, points, perfConfig, WithSortStrategy(s), WithWorkers(1))
			pairs := e.Pairs()
			for i := 1; i < len(pairs); i++ {
				require.LessOrEqual(t, pairs[i-1].CellID, pairs[i].CellID, "position %d", i)
			}
		})
	}
}

func TestCountingSortIsStable(t *testing.T) {
	points := uniformPoints(500, demoConfig, 2)
	e := buildTables(t, points, demoConfig, WithSortStrategy(SortCounting))

	pairs := e.Pairs()
	for i := 1; i < len(pairs); i++ {
		if pairs[i-1].CellID == pairs[i].CellID {
			require.Less(t, pairs[i-1].Index, pairs[i].Index)
		}
	}
}

func TestBucketCompleteness(t *testing.T) {
	points := uniformPoints(800, perfConfig, 3)
	points = append(points, Vec3{X: 500}, Vec3{Y: -500}) // two overflow points

	for _, s := range []SortStrategy{SortComparison, SortCounting} {
		t.Run(s.String(), func(t *testing.T) {
			e := buildTables(t, points, perfConfig, WithSortStrategy(s))
			seen := make([]int, len(points))
			covered := 0

			for c := 0; c < e.Geometry().CellCount; c++ {
				start, end, ok := e.CellRange(c)
				if !ok {
					assert.Equal(t, uint32(EmptyCell), e.cellEnd[c], "cell %d end without start", c)
					continue
				}
				require.Less(t, start, end, "cell %d", c)
				for j := start; j < end; j++ {
					p := e.Pairs()[j]
					require.Equal(t, c, p.CellID)
					seen[p.Index]++
				}
				covered += int(end - start)
			}

			assert.Equal(t, len(points), covered)
			for i, n := range seen {
				assert.Equal(t, 1, n, "point %d", i)
			}

			start, end, ok := e.CellRange(e.Geometry().OverflowCell())
			require.True(t, ok)
			assert.Equal(t, uint32(2), end-start)
			assert.Equal(t, 2, e.OutOfBounds())
		})
	}
}

func TestStrategiesAgree(t *testing.T) {
	points := uniformPoints(2000, perfConfig, 4)
	a := buildTables(t, points, perfConfig, WithSortStrategy(SortComparison))
	b := buildTables(t, points, perfConfig, WithSortStrategy(SortCounting))

	assert.Equal(t, a.cellStart, b.cellStart)
	assert.Equal(t, a.cellEnd, b.cellEnd)

	// Within a cell the comparison sort may permute points, so compare
	// cell membership rather than positions.
	for i := range a.Pairs() {
		assert.Equal(t, a.Pairs()[i].CellID, b.Pairs()[i].CellID)
	}
}

func TestFindCellStartEndOpensCellZero(t *testing.T) {
	points := []Vec3{
		{X: 1, Y: 1, Z: 1},
		{X: -10, Y: -10, Z: -7.5}, // buffer corner, cell 0
		{X: -9, Y: -9, Z: -7},     // cell 0
	}
	e := buildTables(t, points, demoConfig)

	start, end, ok := e.CellRange(0)
	require.True(t, ok)
	assert.Equal(t, uint32(0), start)
	assert.Equal(t, uint32(2), end)
}

func TestFindCellStartEndResetsStaleCells(t *testing.T) {
	e, err := New(2, demoConfig)
	require.NoError(t, err)

	first := []Vec3{{X: -9, Y: -9, Z: -7}, {X: -8, Y: -9, Z: -7}}
	_, err = e.Run(first)
	require.NoError(t, err)
	_, _, ok := e.CellRange(0)
	require.True(t, ok)

	second := []Vec3{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 1, Z: 1}}
	_, err = e.Run(second)
	require.NoError(t, err)

	_, _, ok = e.CellRange(0)
	assert.False(t, ok, "cell 0 must be empty after the points moved")
	assert.Equal(t, uint32(EmptyCell), e.cellEnd[0])
}

func TestReorderGathersBySortedPairs(t *testing.T) {
	points := uniformPoints(300, demoConfig, 5)
	e := buildTables(t, points, demoConfig, WithWorkers(4), WithParallelThreshold(1))

	for i, p := range e.Pairs() {
		require.Equal(t, points[p.Index], e.Sorted()[i], "position %d", i)
	}
}

func TestCellRangeOutsideGrid(t *testing.T) {
	e, err := New(0, demoConfig)
	require.NoError(t, err)
	e.FindCellStartEnd()

	for _, c := range []int{-1, 0, 47, 48} {
		_, _, ok := e.CellRange(c)
		assert.False(t, ok, "cell %d", c)
	}
}

func TestStats(t *testing.T) {
	points := []Vec3{
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 1.5, Y: 0.5, Z: 0.5},
		{X: 2.5, Y: 0.5, Z: 0.5},
		{X: -2.5, Y: 0.5, Z: 0.5},
		{X: 100},
	}
	e := buildTables(t, points, demoConfig)

	s := e.Stats()
	assert.Equal(t, 48, s.TotalCells)
	assert.Equal(t, 3, s.NonEmptyCells)
	assert.Equal(t, 1, s.OverflowPoints)
	assert.Equal(t, 3, s.MaxInCell)
	assert.InDelta(t, 5.0/3.0, s.AvgPerNonEmpty, 1e-9)
	assert.Equal(t, 4, s.NonBufferCells)
	assert.InDelta(t, 1.25, s.AvgPerNonBufferCell, 1e-9)
}

func TestOccupancy(t *testing.T) {
	points := []Vec3{
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 1.5, Y: 0.5, Z: 0.5},
		{X: 2.5, Y: 0.5, Z: 0.5},
		{X: -2.5, Y: 0.5, Z: 0.5},
		{X: 100},
	}
	e := buildTables(t, points, demoConfig)
	assert.Equal(t, []CellOccupancy{{Cell: 25, Count: 1}, {Cell: 26, Count: 3}, {Cell: 47, Count: 1}}, e.Occupancy())

	// Unchecked hashing keeps the engine's own cell for x=100.
	e = buildTables(t, []Vec3{{}, {X: 100}}, demoConfig, WithBoundsPolicy(PolicyUnchecked))
	assert.Equal(t, []CellOccupancy{{Cell: 26, Count: 1}, {Cell: 46, Count: 1}}, e.Occupancy())

	e = buildTables(t, nil, demoConfig)
	assert.Empty(t, e.Occupancy())
}
