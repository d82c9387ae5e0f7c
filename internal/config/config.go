// Package config provides centralized configuration management.
// This is the single source of truth for grid, engine and service settings.
//
// Values come from three layers, later layers winning:
//  1. section defaults (Default*)
//  2. the named preset (NNS_PRESET)
//  3. NNS_* environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"particle-nns/internal/nns"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "NNS"

// =============================================================================
// GRID CONFIGURATION
// =============================================================================

// GridConfig describes the simulation volume and the point set.
type GridConfig struct {
	DimX       float64 `envconfig:"DIM_X"`
	DimY       float64 `envconfig:"DIM_Y"`
	DimZ       float64 `envconfig:"DIM_Z"`
	CellLength float64 `envconfig:"CELL_LENGTH"` // Also the interaction radius
	Buffer     float64 `envconfig:"BUFFER"`
	Points     int     `envconfig:"POINTS"`
	Seed       int64   `envconfig:"SEED"` // 0 = time-based
}

// DefaultGrid returns the demo volume.
func DefaultGrid() GridConfig {
	return GridConfig{
		DimX:       10,
		DimY:       10,
		DimZ:       5,
		CellLength: 5,
		Buffer:     5,
		Points:     10,
	}
}

// NNS converts the section into the engine's grid description.
func (g GridConfig) NNS() nns.GridConfig {
	return nns.GridConfig{
		DimX:       g.DimX,
		DimY:       g.DimY,
		DimZ:       g.DimZ,
		CellLength: g.CellLength,
		Buffer:     g.Buffer,
	}
}

// =============================================================================
// ENGINE CONFIGURATION
// =============================================================================

// EngineConfig tunes how the engine runs a cycle.
type EngineConfig struct {
	Policy            nns.BoundsPolicy `envconfig:"POLICY"`
	Sort              nns.SortStrategy `envconfig:"SORT"`
	Workers           int              `envconfig:"WORKERS"` // 0 = GOMAXPROCS
	ParallelThreshold int              `envconfig:"PARALLEL_THRESHOLD"`
	NeighborLists     bool             `envconfig:"NEIGHBOR_LISTS"`
}

// DefaultEngine returns single-threaded settings with the safe policy.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		Policy:            nns.PolicySafe,
		Sort:              nns.SortComparison,
		Workers:           1,
		ParallelThreshold: 1024,
	}
}

// Options converts the section into engine options.
func (e EngineConfig) Options(logger *zap.Logger) []nns.Option {
	return []nns.Option{
		nns.WithBoundsPolicy(e.Policy),
		nns.WithSortStrategy(e.Sort),
		nns.WithWorkers(e.Workers),
		nns.WithParallelThreshold(e.ParallelThreshold),
		nns.WithNeighborLists(e.NeighborLists),
		nns.WithLogger(logger),
	}
}

// =============================================================================
// RUNNER CONFIGURATION
// =============================================================================

// RunnerConfig controls the background cycle loop.
type RunnerConfig struct {
	TickRate     time.Duration `envconfig:"TICK_RATE"`
	ReseedEvery  int           `envconfig:"RESEED_EVERY"` // 0 = never
	CycleLogPath string        `envconfig:"CYCLE_LOG"`    // empty = disabled
	CycleLogRate float64       `envconfig:"CYCLE_LOG_RATE"`
}

// DefaultRunner returns a 10 Hz loop with the cycle log disabled.
func DefaultRunner() RunnerConfig {
	return RunnerConfig{
		TickRate:     100 * time.Millisecond,
		CycleLogRate: 20,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `envconfig:"PORT"`
	CORSOrigins    []string `envconfig:"CORS_ORIGINS"`
	RateLimitRPS   float64  `envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `envconfig:"RATE_LIMIT_BURST"`
	MaxQueryPoints int      `envconfig:"MAX_QUERY_POINTS"` // cap for POST /api/query
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		MaxQueryPoints: 100_000,
	}
}

// DebugConfig configures the pprof/metrics server.
type DebugConfig struct {
	Enabled       bool   `envconfig:"DEBUG_ENABLED"`
	ListenAddr    string `envconfig:"DEBUG_ADDR"` // keep on localhost
	BasicAuthUser string `envconfig:"DEBUG_USER"`
	BasicAuthPass string `envconfig:"DEBUG_PASS"`
}

// DefaultDebug binds the debug server to localhost.
func DefaultDebug() DebugConfig {
	return DebugConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// =============================================================================
// LOGGING & BENCH
// =============================================================================

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Format string `envconfig:"LOG_FORMAT"` // json | text
	Level  string `envconfig:"LOG_LEVEL"`
}

// DefaultLog returns console logging at info.
func DefaultLog() LogConfig {
	return LogConfig{Format: "text", Level: "info"}
}

// BenchConfig controls the perf comparison.
type BenchConfig struct {
	Enabled    bool `envconfig:"PERF"`
	Iterations int  `envconfig:"ITERATIONS"`
}

// DefaultBench returns the perf loop settings.
func DefaultBench() BenchConfig {
	return BenchConfig{Iterations: 1000}
}

// =============================================================================
// PRESETS
// =============================================================================

// Preset names.
const (
	PresetDemo   = "demo"
	PresetPerf   = "perf"
	PresetPerfMT = "perf-mt"
)

// ErrUnknownPreset is returned for preset names not in Presets.
var ErrUnknownPreset = errors.New("unknown preset")

// Presets lists the known preset names.
func Presets() []string {
	return []string{PresetDemo, PresetPerf, PresetPerfMT}
}

// ApplyPreset overwrites the grid, engine and bench sections with a preset.
func (c *AppConfig) ApplyPreset(name string) error {
	switch strings.ToLower(name) {
	case "", PresetDemo:
		c.Grid = DefaultGrid()
		c.Engine = DefaultEngine()
		c.Bench.Enabled = false
	case PresetPerf:
		c.Grid = GridConfig{DimX: 40, DimY: 40, DimZ: 30, CellLength: 5, Buffer: 10, Points: 800}
		c.Engine = DefaultEngine()
		c.Bench.Enabled = true
	case PresetPerfMT:
		c.Grid = GridConfig{DimX: 60, DimY: 60, DimZ: 60, CellLength: 5, Buffer: 10, Points: 3600}
		c.Engine = DefaultEngine()
		c.Engine.Workers = 0
		c.Bench.Enabled = true
	default:
		return fmt.Errorf("%w %q (want one of %s)", ErrUnknownPreset, name, strings.Join(Presets(), ", "))
	}
	c.Preset = strings.ToLower(name)
	if c.Preset == "" {
		c.Preset = PresetDemo
	}
	return nil
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Preset string
	Grid   GridConfig
	Engine EngineConfig
	Runner RunnerConfig
	Server ServerConfig
	Debug  DebugConfig
	Log    LogConfig
	Bench  BenchConfig
}

// Default returns the demo preset with every section at its default.
func Default() AppConfig {
	return AppConfig{
		Preset: PresetDemo,
		Grid:   DefaultGrid(),
		Engine: DefaultEngine(),
		Runner: DefaultRunner(),
		Server: DefaultServer(),
		Debug:  DefaultDebug(),
		Log:    DefaultLog(),
		Bench:  DefaultBench(),
	}
}

// Load builds the configuration from the preset named by NNS_PRESET (or
// preset when the variable is unset) and NNS_* overrides, then validates it.
func Load(preset string) (AppConfig, error) {
	cfg := Default()
	if v, ok := os.LookupEnv(EnvPrefix + "_PRESET"); ok {
		preset = v
	}
	if err := cfg.ApplyPreset(preset); err != nil {
		return AppConfig{}, err
	}

	sections := []any{&cfg.Grid, &cfg.Engine, &cfg.Runner, &cfg.Server, &cfg.Debug, &cfg.Log, &cfg.Bench}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix, s); err != nil {
			return AppConfig{}, fmt.Errorf("config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c AppConfig) Validate() error {
	if _, err := nns.NewGeometry(c.Grid.NNS()); err != nil {
		return fmt.Errorf("config: grid: %w", err)
	}
	if c.Grid.Points < 0 {
		return fmt.Errorf("config: points must be >= 0, got %d", c.Grid.Points)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Engine.Workers)
	}
	if c.Runner.TickRate <= 0 {
		return fmt.Errorf("config: tick rate must be positive, got %s", c.Runner.TickRate)
	}
	if c.Runner.ReseedEvery < 0 {
		return fmt.Errorf("config: reseed interval must be >= 0, got %d", c.Runner.ReseedEvery)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port out of range: %d", c.Server.Port)
	}
	if c.Bench.Iterations <= 0 {
		return fmt.Errorf("config: iterations must be positive, got %d", c.Bench.Iterations)
	}
	return nil
}
