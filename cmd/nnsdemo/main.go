// =============================================================================
// PARTICLE NNS - DEMO
// =============================================================================
// Runs one verbose grid cycle over a random point set and checks it against
// the all-pairs oracle, or with -perf times both over many iterations.
//
// USAGE:
//   go run ./cmd/nnsdemo                       # demo preset, verbose
//   go run ./cmd/nnsdemo -preset perf          # timing comparison
//   go run ./cmd/nnsdemo -scatter out.png      # also draw the point set
// =============================================================================
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"particle-nns/internal/bench"
	"particle-nns/internal/bruteforce"
	"particle-nns/internal/config"
	"particle-nns/internal/logging"
	"particle-nns/internal/metrics"
	"particle-nns/internal/nns"
	"particle-nns/internal/parallel"
	"particle-nns/internal/particles"
	"particle-nns/internal/render"
)

func main() {
	preset := flag.String("preset", config.PresetDemo, "configuration preset (demo, perf, perf-mt)")
	seed := flag.Int64("seed", 0, "point set seed, 0 = NNS_SEED or time-based")
	perf := flag.Bool("perf", false, "run the timing comparison instead of the verbose cycle")
	iterations := flag.Int("iterations", 0, "timing iterations, 0 = NNS_ITERATIONS")
	scatterPath := flag.String("scatter", "", "write an x/y scatter PNG to this path")
	histogramPath := flag.String("histogram", "", "write a neighbour count histogram PNG to this path")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	cfg, err := config.Load(*preset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	if *seed != 0 {
		cfg.Grid.Seed = *seed
	}
	if *perf {
		cfg.Bench.Enabled = true
	}
	if *iterations > 0 {
		cfg.Bench.Iterations = *iterations
	}
	if cfg.Grid.Seed == 0 {
		cfg.Grid.Seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *scatterPath, *histogramPath); err != nil {
		logger.Fatal("demo failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.AppConfig, logger *zap.Logger, scatterPath, histogramPath string) error {
	points := particles.Generate(cfg.Grid.Points, cfg.Grid.DimX, cfg.Grid.DimY, cfg.Grid.DimZ,
		particles.NewRand(cfg.Grid.Seed))

	opts := cfg.Engine.Options(logger)
	if !cfg.Bench.Enabled {
		opts = append(opts, nns.WithNeighborLists(true))
	}
	engine, err := nns.New(len(points), cfg.Grid.NNS(), opts...)
	if err != nil {
		return err
	}

	logger.Info("point set ready",
		zap.String("preset", cfg.Preset),
		zap.Int64("seed", cfg.Grid.Seed),
		zap.Int("points", len(points)),
		zap.Int("cells", engine.Geometry().CellCount),
		zap.Int("workers", cfg.Engine.Workers),
		zap.Stringer("policy", engine.Policy()),
	)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var counts []int
	if cfg.Bench.Enabled {
		workers := cfg.Engine.Workers
		if workers == 0 {
			workers = parallel.DefaultWorkers()
		}
		rep, err := bench.Run(ctx, engine, points, bench.Options{
			Iterations:    cfg.Bench.Iterations,
			OracleWorkers: workers,
		})
		if err != nil {
			return err
		}
		if err := rep.Write(out, engine.Geometry()); err != nil {
			return err
		}
		counts, err = lastCounts(engine, points)
		if err != nil {
			return err
		}
	} else {
		res, err := verboseCycle(out, engine, points)
		if err != nil {
			return err
		}
		oracle := bruteforce.CountNeighbors(points, engine.Geometry().CellLength, true, 1)
		printOracle(out, oracle)
		metrics.RecordMismatches(check(out, points, res, oracle))
		counts = res.Counts
	}

	if scatterPath != "" {
		if err := writeFile(scatterPath, func(f *os.File) error {
			return render.WriteScatterPNG(f, points, counts, engine.Geometry(), render.DefaultScatterOptions())
		}); err != nil {
			return err
		}
		logger.Info("scatter written", zap.String("path", scatterPath))
	}
	if histogramPath != "" && len(counts) > 0 {
		if err := writeFile(histogramPath, func(f *os.File) error {
			return render.WriteHistogramPNG(f, counts, render.DefaultHistogramWidth, render.DefaultHistogramHeight)
		}); err != nil {
			return err
		}
		logger.Info("histogram written", zap.String("path", histogramPath))
	}
	return nil
}

// lastCounts runs one more cycle so the images reflect the grid result.
func lastCounts(engine *nns.Engine, points []nns.Vec3) ([]int, error) {
	res, err := engine.Run(points)
	if err != nil {
		return nil, err
	}
	metrics.RecordCycle(res, engine.Stats())
	return res.Counts, nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
