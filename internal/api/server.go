// Package api implements the HTTP layer for RespirIA.
// Handlers are methods on *Server. Each handler file is responsible for one
// resource group and only imports the dependencies it actually uses.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nyashahama/respiria-backend/internal/analysis"
)

// Analyzer is the subset of *analysis.Service the handlers use. Tests may
// pass the real service wired to stub clients.
type Analyzer interface {
	Analyze(ctx context.Context, r analysis.SensorReading) (analysis.Result, error)
	AnalyzeWithAudio(ctx context.Context, r analysis.SensorReading) (analysis.Result, error)
	AnalyzeBatch(ctx context.Context, readings []analysis.SensorReading) ([]analysis.Result, error)
	HasContext() bool
}

// Config holds values read from environment variables at startup.
type Config struct {
	// AllowedOrigins feeds the CORS handler. Default: all origins.
	AllowedOrigins []string

	// AudioDir is where synthesized files live; served under /audio/.
	AudioDir string

	// RemoteConfigured is reported by /health.
	RemoteConfigured bool

	// RequestTimeout bounds each request. It must exceed the model timeout
	// plus synthesis time. Default: 90s.
	RequestTimeout time.Duration
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	svc    Analyzer
	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(svc Analyzer, cfg Config, logger *slog.Logger) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = "output_audio"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}

	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	// ── Info & health ─────────────────────────────────────────────────────────
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	// ── Analysis ──────────────────────────────────────────────────────────────
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/analyze-with-audio", s.handleAnalyzeWithAudio)
	r.Post("/batch-analyze", s.handleBatchAnalyze)

	// ── Audio files ───────────────────────────────────────────────────────────
	r.Get("/audio/{filename}", s.handleGetAudio)

	return r
}
