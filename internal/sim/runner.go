// Package sim drives repeated query cycles over static point sets and
// publishes each result as an immutable snapshot.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"particle-nns/internal/bench"
	"particle-nns/internal/bruteforce"
	"particle-nns/internal/metrics"
	"particle-nns/internal/nns"
	"particle-nns/internal/parallel"
	"particle-nns/internal/particles"
)

// ErrNoSnapshot is returned by operations that need a completed cycle.
var ErrNoSnapshot = errors.New("sim: no cycle has completed yet")

// Config configures a Runner.
type Config struct {
	Grid        nns.GridConfig
	Points      int
	Seed        int64         // 0 = time-based
	TickRate    time.Duration // interval between background cycles
	ReseedEvery int           // regenerate points every N cycles, 0 = never
	Options     []nns.Option  // engine options, also used for one-off queries
	Logger      *zap.Logger
	CycleLog    *CycleLog // optional
}

// Runner owns an engine and the current point set.
//
// Cycles are serialised by mu. Readers use Latest, which never blocks.
type Runner struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	engine   *nns.Engine
	points   []nns.Vec3
	seed     int64
	runID    string
	sequence uint64

	latest atomic.Pointer[Snapshot]

	loopMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewRunner validates cfg and seeds the first point set. No cycle runs
// until Step or Start is called.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Points < 0 {
		return nil, fmt.Errorf("sim: points must be >= 0, got %d", cfg.Points)
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	engine, err := nns.New(cfg.Points, cfg.Grid, cfg.Options...)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:    cfg,
		logger: cfg.Logger.Named("sim"),
		engine: engine,
	}
	r.reseedLocked(cfg.Seed)
	return r, nil
}

// Geometry returns the grid layout shared by all cycles.
func (r *Runner) Geometry() nns.Geometry {
	return r.engine.Geometry()
}

// Latest returns the most recent snapshot, or nil before the first cycle.
func (r *Runner) Latest() *Snapshot {
	return r.latest.Load()
}

// reseedLocked regenerates the point set and starts a new run.
func (r *Runner) reseedLocked(seed int64) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := r.cfg.Grid
	r.seed = seed
	r.points = particles.Generate(r.cfg.Points, g.DimX, g.DimY, g.DimZ, particles.NewRand(seed))
	r.runID = uuid.NewString()
}

// Step runs one cycle over the current point set and publishes it.
func (r *Runner) Step() (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if every := uint64(r.cfg.ReseedEvery); every > 0 && r.sequence > 0 && r.sequence%every == 0 {
		r.reseedLocked(0)
		r.logger.Debug("point set reseeded", zap.String("runId", r.runID), zap.Int64("seed", r.seed))
	}
	return r.stepLocked()
}

func (r *Runner) stepLocked() (*Snapshot, error) {
	res, err := r.engine.Run(r.points)
	if err != nil {
		return nil, fmt.Errorf("sim: cycle %d: %w", r.sequence+1, err)
	}
	r.sequence++

	stats := r.engine.Stats()
	snap := &Snapshot{
		Sequence:       r.sequence,
		RunID:          r.runID,
		Seed:           r.seed,
		Timestamp:      time.Now(),
		Points:         r.points,
		Counts:         res.Counts,
		Neighbors:      res.Neighbors,
		Cells:          r.engine.Occupancy(),
		Stats:          stats,
		Timings:        res.Timings,
		OutOfBounds:    res.OutOfBounds,
		TotalNeighbors: res.Total(),
	}
	r.latest.Store(snap)

	metrics.RecordCycle(res, stats)
	if r.cfg.CycleLog != nil {
		r.cfg.CycleLog.Emit(snap.record())
	}
	if snap.OutOfBounds > 0 {
		r.logger.Warn("points outside buffered volume",
			zap.Uint64("seq", snap.Sequence),
			zap.Int("count", snap.OutOfBounds))
	}
	return snap, nil
}

// Reseed replaces the point set with one generated from seed (0 = time)
// and runs a cycle on it immediately.
func (r *Runner) Reseed(seed int64) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reseedLocked(seed)
	r.logger.Info("point set reseeded", zap.String("runId", r.runID), zap.Int64("seed", r.seed))
	return r.stepLocked()
}

// Query runs a one-off cycle over caller points on a temporary engine with
// the runner's geometry and options. The runner's state is untouched.
func (r *Runner) Query(points []nns.Vec3, withLists bool) (*nns.Result, error) {
	opts := append(r.engineOptions(), nns.WithNeighborLists(withLists))
	e, err := nns.New(len(points), r.cfg.Grid, opts...)
	if err != nil {
		return nil, err
	}
	return e.Run(points)
}

func (r *Runner) engineOptions() []nns.Option {
	return append([]nns.Option(nil), r.cfg.Options...)
}

// VerifyReport compares the latest snapshot with the all-pairs oracle.
type VerifyReport struct {
	Sequence    uint64                `json:"sequence"`
	RunID       string                `json:"runId"`
	Points      int                   `json:"points"`
	GridTotal   int                   `json:"gridTotal"`
	OracleTotal int                   `json:"oracleTotal"`
	Mismatches  []bruteforce.Mismatch `json:"mismatches"`
	Truncated   bool                  `json:"truncated"`
	Duration    time.Duration         `json:"duration"`
}

// OK reports whether the grid found exactly the oracle's neighbours.
func (v VerifyReport) OK() bool {
	return len(v.Mismatches) == 0 && v.GridTotal == v.OracleTotal
}

// MaxReportedMismatches caps VerifyReport.Mismatches.
const MaxReportedMismatches = 100

// Verify recomputes the latest snapshot's neighbour lists on both the grid
// and the oracle and diffs them. Out-of-volume points usually show up as
// missing neighbours.
func (r *Runner) Verify() (VerifyReport, error) {
	snap := r.Latest()
	if snap == nil {
		return VerifyReport{}, ErrNoSnapshot
	}

	start := time.Now()
	grid, err := r.Query(snap.Points, true)
	if err != nil {
		return VerifyReport{}, err
	}
	oracleStart := time.Now()
	oracle := bruteforce.CountNeighbors(snap.Points, r.engine.Radius(), true, parallel.DefaultWorkers())
	metrics.RecordOracle(time.Since(oracleStart))

	mismatches := bruteforce.Compare(snap.Points, grid.Neighbors, oracle.Neighbors)
	missing := 0
	for _, m := range mismatches {
		if m.Kind == bruteforce.MissingFromGrid {
			missing++
		}
	}
	metrics.RecordMismatches(missing)

	rep := VerifyReport{
		Sequence:    snap.Sequence,
		RunID:       snap.RunID,
		Points:      len(snap.Points),
		GridTotal:   grid.Total(),
		OracleTotal: bruteforce.Total(oracle.Counts),
		Mismatches:  mismatches,
		Duration:    time.Since(start),
	}
	if len(rep.Mismatches) > MaxReportedMismatches {
		rep.Mismatches = rep.Mismatches[:MaxReportedMismatches]
		rep.Truncated = true
	}
	if rep.Mismatches == nil {
		rep.Mismatches = []bruteforce.Mismatch{}
	}
	if !rep.OK() {
		r.logger.Warn("grid and oracle disagree",
			zap.Uint64("seq", rep.Sequence),
			zap.Int("gridTotal", rep.GridTotal),
			zap.Int("oracleTotal", rep.OracleTotal),
			zap.Int("mismatches", len(mismatches)))
	}
	return rep, nil
}

// Bench times the grid against the oracle on the latest snapshot's points,
// using a temporary engine so the cycle loop keeps running.
func (r *Runner) Bench(ctx context.Context, opts bench.Options) (bench.Report, error) {
	snap := r.Latest()
	if snap == nil {
		return bench.Report{}, ErrNoSnapshot
	}
	e, err := nns.New(len(snap.Points), r.cfg.Grid, r.engineOptions()...)
	if err != nil {
		return bench.Report{}, err
	}
	return bench.Run(ctx, e, snap.Points, opts)
}

// Start runs a cycle every TickRate until Stop. It is a no-op when the loop
// is already running.
func (r *Runner) Start() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})

	go r.loop(r.stopCh, r.done)
	r.logger.Info("cycle loop started",
		zap.Duration("tickRate", r.cfg.TickRate),
		zap.Int("points", r.cfg.Points),
		zap.Int("cells", r.engine.Geometry().CellCount))
}

func (r *Runner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Step(); err != nil {
				r.logger.Error("cycle failed", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (r *Runner) Stop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
	<-r.done
	r.logger.Info("cycle loop stopped", zap.Uint64("cycles", r.Cycles()))
}

// Running reports whether the background loop is active.
func (r *Runner) Running() bool {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	return r.running
}

// Cycles returns the number of completed cycles.
func (r *Runner) Cycles() uint64 {
	if s := r.Latest(); s != nil {
		return s.Sequence
	}
	return 0
}
