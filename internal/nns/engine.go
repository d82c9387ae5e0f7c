package nns

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"particle-nns/internal/parallel"
)

// EmptyCell marks a cell with no points in the range table.
const EmptyCell = math.MaxUint32

// CellIndexPair ties a point's original index to the cell it hashed into.
type CellIndexPair struct {
	CellID int // Grid cell
	Index  int // Original point index
}

// Engine buckets a fixed-size point set into grid cells and answers
// radius queries over the buckets.
//
// An Engine owns its tables exclusively. Phases mutate them in place, so a
// single Engine must not run two cycles concurrently.
type Engine struct {
	geom       Geometry
	opts       options
	pointCount int

	pairs     []CellIndexPair
	cellStart []uint32
	cellEnd   []uint32
	sorted    []Vec3 // coordinates in cell-sorted order

	// Counting sort buffers, allocated on first use.
	scratch   []CellIndexPair
	histogram []int

	outOfBounds atomic.Int64 // points clamped into the overflow cell this cycle
}

// New builds an engine for pointCount points over the grid described by cfg.
func New(pointCount int, cfg GridConfig, opts ...Option) (*Engine, error) {
	geom, err := NewGeometry(cfg)
	if err != nil {
		return nil, err
	}
	if pointCount < 0 || uint64(pointCount) >= EmptyCell {
		return nil, &ConfigError{Field: "pointCount", Value: float64(pointCount), Reason: "must be in [0, 2^32-1)"}
	}

	o := applyOptions(opts)
	if geom.OverflowInVolume {
		o.logger.Warn("overflow cell overlaps the simulation volume; points there miss grid neighbours",
			zap.Int("overflowCell", geom.OverflowCell()),
			zap.Float64("buffer", geom.Buffer),
			zap.Float64("cellLength", geom.CellLength),
		)
	}

	return &Engine{
		geom:       geom,
		opts:       o,
		pointCount: pointCount,
		pairs:      make([]CellIndexPair, pointCount),
		cellStart:  make([]uint32, geom.CellCount),
		cellEnd:    make([]uint32, geom.CellCount),
		sorted:     make([]Vec3, pointCount),
	}, nil
}

// Geometry returns the grid layout.
func (e *Engine) Geometry() Geometry {
	return e.geom
}

// PointCount returns the point set size the engine was built for.
func (e *Engine) PointCount() int {
	return e.pointCount
}

// Policy returns the configured bounds policy.
func (e *Engine) Policy() BoundsPolicy {
	return e.opts.policy
}

// Pairs returns the cell/index pairs in their current order. The slice is
// owned by the engine and is rewritten by the next cycle.
func (e *Engine) Pairs() []CellIndexPair {
	return e.pairs
}

// Sorted returns the coordinates in cell-sorted order, index-aligned with
// Pairs after Reorder. Owned by the engine.
func (e *Engine) Sorted() []Vec3 {
	return e.sorted
}

// CellRange returns the half-open range of sorted positions held by cell.
// ok is false for empty cells and ids outside the grid.
func (e *Engine) CellRange(cell int) (start, end uint32, ok bool) {
	if cell < 0 || cell >= e.geom.CellCount {
		return 0, 0, false
	}
	start = e.cellStart[cell]
	if start == EmptyCell {
		return 0, 0, false
	}
	return start, e.cellEnd[cell], true
}

// OutOfBounds returns how many points the last Hash clamped into the
// overflow cell.
func (e *Engine) OutOfBounds() int {
	return int(e.outOfBounds.Load())
}

// HashPoint returns the cell id for p under the engine's bounds policy.
func (e *Engine) HashPoint(p Vec3) int {
	cell, _ := e.hashPoint(p)
	return cell
}

// hashPoint returns the cell for p and false when p was clamped into the
// overflow cell.
func (e *Engine) hashPoint(p Vec3) (int, bool) {
	g := &e.geom
	x, y, z := g.CellCoords(p)

	if e.opts.policy != PolicyUnchecked && !g.InBounds(x, y, z) {
		if e.opts.policy == PolicyStrict {
			e.opts.logger.Warn("point outside buffered volume",
				zap.Float64("x", p.X),
				zap.Float64("y", p.Y),
				zap.Float64("z", p.Z),
				zap.Int("overflowCell", g.OverflowCell()),
			)
		}
		return g.OverflowCell(), false
	}

	cell := g.Flatten(x, y, z)
	if cell < 0 || cell >= g.CellCount {
		if e.opts.policy == PolicyStrict {
			e.opts.logger.Error("flattened cell id out of range",
				zap.Int("cell", cell),
				zap.Int("cellCount", g.CellCount),
				zap.Ints("coords", []int{x, y, z}),
			)
		}
		return g.OverflowCell(), false
	}
	return cell, true
}

// Hash assigns every point to a cell, writing one pair per point in
// original order.
func (e *Engine) Hash(points []Vec3) error {
	if len(points) != e.pointCount {
		return fmt.Errorf("%w: engine built for %d points, got %d", ErrPointCountMismatch, e.pointCount, len(points))
	}

	e.outOfBounds.Store(0)
	parallel.For(len(points), e.opts.workers, e.opts.parallelThreshold, func(lo, hi int) {
		var clamped int64
		for i := lo; i < hi; i++ {
			cell, ok := e.hashPoint(points[i])
			if !ok {
				clamped++
			}
			e.pairs[i] = CellIndexPair{CellID: cell, Index: i}
		}
		if clamped > 0 {
			e.outOfBounds.Add(clamped)
		}
	})
	return nil
}

// FindCellStartEnd rebuilds the range table from the sorted pairs.
// Pairs must be grouped by cell id in ascending order.
func (e *Engine) FindCellStartEnd() {
	for i := range e.cellStart {
		e.cellStart[i] = EmptyCell
		e.cellEnd[i] = EmptyCell
	}
	if e.pointCount == 0 {
		return
	}

	current := e.pairs[0].CellID
	e.cellStart[current] = 0
	for i := 1; i < e.pointCount; i++ {
		cell := e.pairs[i].CellID
		if cell != current {
			e.cellEnd[current] = uint32(i)
			e.cellStart[cell] = uint32(i)
			current = cell
		}
	}
	e.cellEnd[current] = uint32(e.pointCount)
}

// Reorder gathers points into cell-sorted order using the sorted pairs.
func (e *Engine) Reorder(points []Vec3) error {
	if len(points) != e.pointCount {
		return fmt.Errorf("%w: engine built for %d points, got %d", ErrPointCountMismatch, e.pointCount, len(points))
	}

	parallel.For(e.pointCount, e.opts.workers, e.opts.parallelThreshold, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			e.sorted[i] = points[e.pairs[i].Index]
		}
	})
	return nil
}

// Timings records the wall time of each phase of a cycle.
type Timings struct {
	Hash    time.Duration `json:"hash"`
	Sort    time.Duration `json:"sort"`
	Ranges  time.Duration `json:"ranges"`
	Reorder time.Duration `json:"reorder"`
	Query   time.Duration `json:"query"`
}

// Total is the sum of all phases.
func (t Timings) Total() time.Duration {
	return t.Hash + t.Sort + t.Ranges + t.Reorder + t.Query
}

// Run executes one full query cycle over points.
func (e *Engine) Run(points []Vec3) (*Result, error) {
	var t Timings

	mark := time.Now()
	if err := e.Hash(points); err != nil {
		return nil, err
	}
	t.Hash = time.Since(mark)

	mark = time.Now()
	e.Sort()
	t.Sort = time.Since(mark)

	mark = time.Now()
	e.FindCellStartEnd()
	t.Ranges = time.Since(mark)

	mark = time.Now()
	if err := e.Reorder(points); err != nil {
		return nil, err
	}
	t.Reorder = time.Since(mark)

	mark = time.Now()
	res := e.CountNeighbors()
	t.Query = time.Since(mark)

	res.Timings = t
	return res, nil
}
