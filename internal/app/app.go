// Package app wires the notescribe subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the transcriber and the
// HTTP server from a [config.Config], Run serves requests until its context
// ends, Reload applies hot configuration changes and Shutdown tears
// everything down in order.
//
// For testing, inject a detector registry, metrics or a pre-bound listener via
// functional options (WithRegistry, WithMetrics, WithListener). When an option
// is not provided, New uses the built-in defaults.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/notescribe/internal/config"
	"github.com/MrWong99/notescribe/internal/observe"
	"github.com/MrWong99/notescribe/internal/server"
	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// App owns all subsystem lifetimes of the transcription service.
type App struct {
	cfg      *config.Config
	reg      *config.Registry
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	level    *slog.LevelVar
	listener net.Listener

	srv     *server.Server
	httpSrv *http.Server

	// reloadMu serialises Reload calls.
	reloadMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the detector registry. Defaults to
// [config.DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the Prometheus gatherer served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLevelVar lets Reload adjust the log level of the handler built on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It loads the configured detector through the
// registry and builds the HTTP server; nothing listens until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(cfg.Server.LogLevel.SlogLevel())

	t, err := a.newTranscriber(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: init transcriber: %w", err)
	}

	srvOpts := []server.Option{server.WithMetrics(a.metrics)}
	if a.gatherer != nil {
		srvOpts = append(srvOpts, server.WithGatherer(a.gatherer))
	}
	a.srv = server.New(cfg, t, srvOpts...)

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

func (a *App) newTranscriber(cfg *config.Config) (*transcribe.Transcriber, error) {
	return cfg.NewTranscriber(a.reg, transcribe.WithMetrics(a.metrics))
}

// Handler returns the HTTP handler serving all routes.
func (a *App) Handler() http.Handler {
	return a.srv
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	return a.srv.Config()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails. When ctx is
// done, Run returns ctx.Err(); call Shutdown afterwards to drain requests.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	tlsCfg := a.cfg.Server.TLS
	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			a.httpSrv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			errCh <- a.httpSrv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
			return
		}
		errCh <- a.httpSrv.Serve(ln)
	}()

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"tls", tlsCfg != nil,
		"detector", a.cfg.Detection.Detector,
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies a changed configuration. It has the signature expected by
// [config.NewWatcher].
//
// Log level and limits apply immediately. Pipeline changes build a new
// transcriber that replaces the current one once it is ready; if it cannot be
// built the previous pipeline stays active. Changes that need a restart are
// only logged.
func (a *App) Reload(old, new *config.Config, diff config.ConfigDiff) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if diff.LogLevelChanged {
		a.level.Set(diff.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	applied := new
	if diff.PipelineChanged {
		t, err := a.newTranscriber(new)
		if err != nil {
			slog.Error("reload: keeping previous pipeline", "err", err)
			// Keep the running pipeline's sections but take the new limits.
			keep := *a.srv.Config()
			keep.Server = new.Server
			applied = &keep
		} else {
			a.srv.SetTranscriber(t)
			slog.Info("reload: pipeline replaced", "detector", new.Detection.Detector)
		}
	}
	a.srv.SetConfig(applied)

	if diff.RestartRequired {
		slog.Warn("reload: some changes take effect only after a restart",
			"old_listen_addr", old.Server.ListenAddr,
			"new_listen_addr", new.Server.ListenAddr,
		)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// AddCloser registers fn to run during Shutdown after the server stopped.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Shutdown stops accepting requests, waits for in-flight ones, closes the
// transcriber and runs the registered closers in order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}
		if err := a.srv.Close(ctx); err != nil {
			slog.Warn("transcriber close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
