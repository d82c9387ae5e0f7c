package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"particle-nns/internal/api"
	"particle-nns/internal/config"
	"particle-nns/internal/logging"
	"particle-nns/internal/sim"
)

func main() {
	preset := flag.String("preset", config.PresetDemo, "configuration preset (demo, perf, perf-mt)")
	flag.Parse()

	// Load .env from the parent directory, then the working directory.
	envErr := godotenv.Load("../.env")
	if envErr != nil {
		envErr = godotenv.Load(".env")
	}

	appConfig, err := config.Load(*preset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(logging.Config{Format: appConfig.Log.Format, Level: appConfig.Log.Level})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("no .env file found, using environment variables only")
	}

	gridCfg := appConfig.Grid
	serverCfg := appConfig.Server
	runnerCfg := appConfig.Runner

	logger.Info("particle NNS server",
		zap.String("preset", appConfig.Preset),
		zap.Float64s("dims", []float64{gridCfg.DimX, gridCfg.DimY, gridCfg.DimZ}),
		zap.Float64("cellLength", gridCfg.CellLength),
		zap.Float64("buffer", gridCfg.Buffer),
		zap.Int("points", gridCfg.Points),
		zap.Duration("tickRate", runnerCfg.TickRate),
		zap.Int("workers", appConfig.Engine.Workers),
	)

	// Debug server
	debugCfg := appConfig.Debug
	debugServer := api.StartDebugServer(api.DebugConfig{
		Enabled:       debugCfg.Enabled,
		ListenAddr:    debugCfg.ListenAddr,
		BasicAuthUser: debugCfg.BasicAuthUser,
		BasicAuthPass: debugCfg.BasicAuthPass,
	}, logger)

	// Cycle log
	var cycleLog *sim.CycleLog
	if runnerCfg.CycleLogPath != "" {
		cycleLog, err = sim.OpenCycleLog(runnerCfg.CycleLogPath, runnerCfg.CycleLogRate)
		if err != nil {
			logger.Warn("cycle log disabled", zap.Error(err))
		} else {
			cycleLog.Start()
			logger.Info("cycle log", zap.String("path", runnerCfg.CycleLogPath))
		}
	}

	runner, err := sim.NewRunner(sim.Config{
		Grid:        gridCfg.NNS(),
		Points:      gridCfg.Points,
		Seed:        gridCfg.Seed,
		TickRate:    runnerCfg.TickRate,
		ReseedEvery: runnerCfg.ReseedEvery,
		Options:     appConfig.Engine.Options(logger),
		Logger:      logger,
		CycleLog:    cycleLog,
	})
	if err != nil {
		logger.Fatal("failed to create runner", zap.Error(err))
	}
	runner.Start()
	logger.Info("cycle runner started")

	server := api.NewServer(runner, api.ServerConfig{
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: serverCfg.RateLimitRPS,
			Burst:             serverCfg.RateLimitBurst,
		},
		CORSOrigins:        serverCfg.CORSOrigins,
		MaxQueryPoints:     serverCfg.MaxQueryPoints,
		MaxBenchIterations: appConfig.Bench.Iterations,
	}, logger)

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		logger.Info("API server", zap.String("url", "http://localhost"+addr))
		serveErr <- server.Start(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-serveErr:
		if err != nil {
			logger.Error("API server stopped", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("API shutdown", zap.Error(err))
	}
	runner.Stop()
	if cycleLog != nil {
		cycleLog.Stop()
		stats := cycleLog.Stats()
		logger.Info("cycle log closed", zap.Uint64("written", stats.Written), zap.Uint64("dropped", stats.Dropped))
	}
	if debugServer != nil {
		debugServer.Shutdown(ctx)
	}
	logger.Info("goodbye")
}
