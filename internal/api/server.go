package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ServerConfig configures NewServer.
type ServerConfig struct {
	RateLimit          RateLimitConfig
	CORSOrigins        []string
	MaxQueryPoints     int
	MaxBenchIterations int
}

// Server is the HTTP API plus the websocket hub.
type Server struct {
	runner      RunnerInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	logger      *zap.Logger
}

// NewServer wires the router and websocket hub. Background workers do not
// start until Start, so tests can use Router directly.
func NewServer(runner RunnerInterface, cfg ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:      runner,
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
		logger:      logger.Named("api"),
	}
	s.wsHub = NewWebSocketHub(NewOriginChecker(cfg.CORSOrigins), s.logger)

	s.router = NewRouter(RouterConfig{
		Runner:             runner,
		RateLimiter:        s.rateLimiter,
		CORSOrigins:        cfg.CORSOrigins,
		MaxQueryPoints:     cfg.MaxQueryPoints,
		MaxBenchIterations: cfg.MaxBenchIterations,
		Logger:             s.logger,
	})
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the hub and broadcast loop and serves HTTP on addr until
// Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.runner)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API server starting", zap.String("addr", ln.Addr().String()))

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Router returns the handler for httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests, closes websocket clients and stops
// the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Stop()
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
