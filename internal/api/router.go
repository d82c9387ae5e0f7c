package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"particle-nns/internal/bench"
	"particle-nns/internal/nns"
	"particle-nns/internal/sim"
)

// RunnerInterface is the subset of *sim.Runner the API calls. Tests
// substitute a mock.
type RunnerInterface interface {
	// Latest returns the newest published snapshot, nil before the first cycle.
	Latest() *sim.Snapshot
	// Geometry returns the grid layout.
	Geometry() nns.Geometry
	// Step runs one cycle now.
	Step() (*sim.Snapshot, error)
	// Reseed replaces the point set and runs a cycle.
	Reseed(seed int64) (*sim.Snapshot, error)
	// Query runs a one-off cycle over caller points.
	Query(points []nns.Vec3, withLists bool) (*nns.Result, error)
	// Verify diffs the latest snapshot against the oracle.
	Verify() (sim.VerifyReport, error)
	// Bench times grid against oracle on the latest points.
	Bench(ctx context.Context, opts bench.Options) (bench.Report, error)
	// Running reports whether the background loop is active.
	Running() bool
	// Cycles returns the completed cycle count.
	Cycles() uint64
}

var _ RunnerInterface = (*sim.Runner)(nil)

// RouterConfig carries the router's dependencies.
//
//	router := api.NewRouter(api.RouterConfig{
//	    Runner:          mockRunner,
//	    RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	Runner RunnerInterface // required

	// RateLimiter is used as-is when set; otherwise one is built from
	// RateLimitConfig (or DefaultRateLimitConfig). A limiter built here is
	// never stopped, so long-lived callers should pass their own.
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	CORSOrigins []string // nil = DefaultOrigins

	MaxQueryPoints     int // POST /api/query cap, default 100000
	MaxBenchIterations int // GET /api/bench cap, default 1000

	DisableLogging bool // drop the request logger, for benchmarks
	Logger         *zap.Logger
}

type routerHandlers struct {
	runner             RunnerInterface
	logger             *zap.Logger
	maxQueryPoints     int
	maxBenchIterations int
}

// NewRouter builds the HTTP router. It starts no goroutines beyond the
// rate limiter's cleanup loop and opens no listeners.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting before CORS to reject early.
	limiter := cfg.RateLimiter
	if limiter == nil {
		rlc := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rlc = *cfg.RateLimitConfig
		}
		limiter = NewIPRateLimiter(rlc)
	}
	r.Use(limiter.Middleware)

	origins := cfg.CORSOrigins
	if origins == nil {
		origins = DefaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	h := &routerHandlers{
		runner:             cfg.Runner,
		logger:             cfg.Logger,
		maxQueryPoints:     cfg.MaxQueryPoints,
		maxBenchIterations: cfg.MaxBenchIterations,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.maxQueryPoints <= 0 {
		h.maxQueryPoints = 100_000
	}
	if h.maxBenchIterations <= 0 {
		h.maxBenchIterations = 1000
	}

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", h.handleSnapshot)
		r.Get("/stats", h.handleStats)
		r.Get("/cells", h.handleCells)
		r.Get("/verify", h.handleVerify)
		r.Get("/bench", h.handleBench)

		r.Post("/query", h.handleQuery)
		r.Post("/reseed", h.handleReseed)
		r.Post("/step", h.handleStep)

		r.Get("/render.png", h.handleRender)
		r.Get("/histogram.png", h.handleHistogram)
	})

	return r
}
