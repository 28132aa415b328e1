package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/MrWong99/notescribe/internal/app"
	"github.com/MrWong99/notescribe/internal/config"
	"github.com/MrWong99/notescribe/internal/observe"
)

var (
	watchConfig   bool
	watchInterval time.Duration
	shutdownGrace time.Duration
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription HTTP service",
		Long: `Run the HTTP service exposing /transcribe, /supported_formats, the health
probes and, when enabled, Prometheus metrics on /metrics.

Example:
  notescribe serve --config config.yaml`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().BoolVar(&watchConfig, "watch", true, "Reload the config file when it changes")
	cmd.Flags().DurationVar(&watchInterval, "watch-interval", 5*time.Second, "Polling interval of the config watcher")
	cmd.Flags().DurationVar(&shutdownGrace, "shutdown-timeout", 15*time.Second, "Time allowed for in-flight requests on shutdown")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lv := new(slog.LevelVar)
	newLogger(lv, cfg.Server.LogLevel)
	slog.Info("notescribe starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	providers, shutdownTelemetry, err := observe.InitProvider(cmd.Context(), observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Registry:       reg,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg,
		app.WithRegistry(config.DefaultRegistry()),
		app.WithMetrics(metrics),
		app.WithGatherer(reg),
		app.WithLevelVar(lv),
	)
	if err != nil {
		return err
	}
	application.AddCloser(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTelemetry(ctx)
	})

	if watchConfig && configPath != "" {
		w, err := config.NewWatcher(configPath, application.Reload, config.WithInterval(watchInterval))
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		application.AddCloser(func() error { w.Stop(); return nil })
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		slog.Info("shutdown signal received, stopping")
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	return runErr
}
