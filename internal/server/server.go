// Package server exposes the transcription pipeline over HTTP.
//
// Routes:
//
//	GET  /health             service status payload
//	GET  /healthz, /readyz   liveness and readiness probes
//	GET  /supported_formats  accepted upload extensions and size limit
//	POST /transcribe         multipart upload (field "audio_file") → audio/midi
//	GET  /metrics            Prometheus metrics, when enabled
//
// Errors are JSON objects of the form {"error": "..."}.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/notescribe/internal/config"
	"github.com/MrWong99/notescribe/internal/health"
	"github.com/MrWong99/notescribe/internal/observe"
	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// Option is a functional option for [New].
type Option func(*Server)

// WithMetrics records HTTP and pipeline metrics to m. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithGatherer serves g on /metrics when telemetry.metrics_enabled is set.
// Defaults to [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the logger used for request failures. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server routes HTTP requests to the live transcriber. Its limits and
// transcriber can be replaced at runtime with [Server.SetConfig] and
// [Server.SetTranscriber].
type Server struct {
	router   chi.Router
	pool     *Pool
	cfg      atomic.Pointer[config.Config]
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// New builds the router for cfg serving t. The server takes ownership of t.
func New(cfg *config.Config, t *transcribe.Transcriber, opts ...Option) *Server {
	s := &Server{
		pool:     NewPool(t),
		gatherer: prometheus.DefaultGatherer,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.pool.log = s.log
	s.cfg.Store(cfg)
	s.router = s.routes(cfg)
	return s
}

func (s *Server) routes(cfg *config.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	health.New(cfg.Telemetry.ServiceName,
		health.Checker{Name: "transcriber", Check: s.pool.Ready},
	).Register(r)

	r.Get("/supported_formats", s.handleSupportedFormats)
	r.Post("/transcribe", s.handleTranscribe)

	// Telemetry changes require a restart, so the route set is fixed here.
	if cfg.Telemetry.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Config returns the configuration currently in effect.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// SetConfig applies new upload limits, timeouts and resampling settings to
// subsequent requests.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// SetTranscriber swaps in t. The previous transcriber finishes its in-flight
// requests and is then closed.
func (s *Server) SetTranscriber(t *transcribe.Transcriber) {
	s.pool.Swap(t)
}

// Close closes the transcriber after in-flight requests finish or ctx ends.
func (s *Server) Close(ctx context.Context) error {
	return s.pool.Close(ctx)
}
