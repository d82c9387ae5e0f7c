package nns_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"particle-nns/internal/bruteforce"
	"particle-nns/internal/nns"
	"particle-nns/internal/particles"
)

var demoConfig = nns.GridConfig{DimX: 10, DimY: 10, DimZ: 5, CellLength: 5, Buffer: 5}

func run(t *testing.T, points []nns.Vec3, cfg nns.GridConfig, opts ...nns.Option) *nns.Result {
	t.Helper()
	e, err := nns.New(len(points), cfg, opts...)
	require.NoError(t, err)
	res, err := e.Run(points)
	require.NoError(t, err)
	return res
}

func TestCountNeighborsSmall(t *testing.T) {
	tests := []struct {
		name   string
		points []nns.Vec3
		want   []int
	}{
		{
			name:   "same cell",
			points: []nns.Vec3{{X: 0.5, Y: 0.5, Z: 0.5}, {X: 2.5, Y: 0.5, Z: 0.5}},
			want:   []int{1, 1},
		},
		{
			name:   "adjacent cells",
			points: []nns.Vec3{{X: -0.5}, {X: 0.5}},
			want:   []int{1, 1},
		},
		{
			name:   "exactly one radius apart",
			points: []nns.Vec3{{}, {X: 5}},
			want:   []int{0, 0},
		},
		{
			name:   "diagonal cells",
			points: []nns.Vec3{{X: -0.5, Y: -0.5, Z: -0.5}, {X: 0.5, Y: 0.5, Z: 0.5}},
			want:   []int{1, 1},
		},
		{
			name:   "coincident",
			points: []nns.Vec3{{X: 1}, {X: 1}, {X: 1}},
			want:   []int{2, 2, 2},
		},
		{
			name:   "single point",
			points: []nns.Vec3{{X: 3, Y: -2, Z: 1}},
			want:   []int{0},
		},
		{
			name:   "empty",
			points: []nns.Vec3{},
			want:   []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.points, demoConfig)
			assert.Equal(t, tt.want, res.Counts)
		})
	}
}

func TestOverflowPoints(t *testing.T) {
	points := []nns.Vec3{
		{},
		{X: 1000},
		{X: 1000.5},
		{X: -4.9, Y: 0, Z: 0},
	}

	e, err := nns.New(len(points), demoConfig, nns.WithNeighborLists(true))
	require.NoError(t, err)
	res, err := e.Run(points)
	require.NoError(t, err)

	overflow := e.Geometry().OverflowCell()
	assert.Equal(t, overflow, e.HashPoint(points[1]))
	assert.Equal(t, 2, res.OutOfBounds)

	// Overflow members see each other and nothing else.
	assert.Equal(t, []int{1, 1, 1, 1}, res.Counts)
	assert.Equal(t, []int{2}, res.Neighbors[1])
	assert.Equal(t, []int{1}, res.Neighbors[2])
	assert.Equal(t, []int{3}, res.Neighbors[0])
}

func TestMatchesBruteForce(t *testing.T) {
	points := particles.Generate(50, 10, 10, 5, particles.NewRand(42))

	e, err := nns.New(len(points), demoConfig, nns.WithNeighborLists(true))
	require.NoError(t, err)
	res, err := e.Run(points)
	require.NoError(t, err)

	oracle := bruteforce.CountNeighbors(points, e.Radius(), true, 1)

	assert.Equal(t, bruteforce.Total(oracle.Counts), res.Total())
	assert.Equal(t, oracle.Counts, res.Counts)
	assert.Empty(t, bruteforce.Compare(points, res.Neighbors, oracle.Neighbors))

	sortLists := cmpopts.SortSlices(func(a, b int) bool { return a < b })
	if diff := cmp.Diff(oracle.Neighbors, res.Neighbors, sortLists, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("neighbour lists differ (-oracle +grid):\n%s", diff)
	}
}

func TestMatchesBruteForceLarge(t *testing.T) {
	cfg := nns.GridConfig{DimX: 60, DimY: 60, DimZ: 60, CellLength: 5, Buffer: 10}
	rng := rand.New(rand.NewSource(7))
	points := make([]nns.Vec3, 3600)
	for i := range points {
		points[i] = nns.Vec3{
			X: (rng.Float64() - 0.5) * cfg.DimX,
			Y: (rng.Float64() - 0.5) * cfg.DimY,
			Z: (rng.Float64() - 0.5) * cfg.DimZ,
		}
	}
	oracle := bruteforce.CountNeighbors(points, cfg.CellLength, false, 4)

	tests := []struct {
		name string
		opts []nns.Option
	}{
		{"sequential comparison", []nns.Option{nns.WithWorkers(1)}},
		{"sequential counting", []nns.Option{nns.WithWorkers(1), nns.WithSortStrategy(nns.SortCounting)}},
		{"parallel", []nns.Option{nns.WithWorkers(8), nns.WithParallelThreshold(1)}},
		{"parallel counting strict", []nns.Option{
			nns.WithWorkers(3),
			nns.WithParallelThreshold(1),
			nns.WithSortStrategy(nns.SortCounting),
			nns.WithBoundsPolicy(nns.PolicyStrict),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, points, cfg, tt.opts...)
			assert.Equal(t, oracle.Counts, res.Counts)
		})
	}
}

func TestRunIsIdempotent(t *testing.T) {
	points := particles.Generate(800, 40, 40, 30, particles.NewRand(9))
	cfg := nns.GridConfig{DimX: 40, DimY: 40, DimZ: 30, CellLength: 5, Buffer: 10}

	e, err := nns.New(len(points), cfg, nns.WithNeighborLists(true))
	require.NoError(t, err)

	first, err := e.Run(points)
	require.NoError(t, err)
	second, err := e.Run(points)
	require.NoError(t, err)

	assert.Equal(t, first.Counts, second.Counts)
	assert.Equal(t, first.Neighbors, second.Neighbors)
}

func TestRunTracksMovingPoints(t *testing.T) {
	e, err := nns.New(2, demoConfig)
	require.NoError(t, err)

	res, err := e.Run([]nns.Vec3{{X: -4}, {X: 4}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, res.Counts)

	res, err = e.Run([]nns.Vec3{{X: -1}, {X: 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, res.Counts)
}

func TestRunRecordsTimings(t *testing.T) {
	points := particles.Generate(200, 10, 10, 5, particles.NewRand(3))
	res := run(t, points, demoConfig)

	tm := res.Timings
	assert.Equal(t, tm.Hash+tm.Sort+tm.Ranges+tm.Reorder+tm.Query, tm.Total())
	assert.Positive(t, tm.Total())
}
