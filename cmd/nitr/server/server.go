// Package server wires a configured script host to the HTTP listener under a supervisor.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/atlanticdynamic/nitr/internal/config"
	"github.com/atlanticdynamic/nitr/internal/script/host"
	"github.com/atlanticdynamic/nitr/internal/script/lifecycle"
	"github.com/atlanticdynamic/nitr/internal/server/apps"
	"github.com/atlanticdynamic/nitr/internal/server/apps/script"
	"github.com/atlanticdynamic/nitr/internal/server/httpserver"
	"github.com/atlanticdynamic/nitr/internal/server/metrics"
	"github.com/atlanticdynamic/nitr/internal/server/watcher"
	"github.com/robbyt/go-supervisor/supervisor"
)

// Run boots the scripts described by cfg and serves until ctx is cancelled or the process
// receives a shutdown signal. Script boot failures are returned before anything listens.
func Run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	logHandler := logger.Handler()

	hostCfg, err := cfg.HostConfig()
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	hostOpts := []host.Option{host.WithLogHandler(logHandler)}
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		hostOpts = append(hostOpts, host.WithObserver(collector))
	}

	h, err := host.New(ctx, hostCfg, hostOpts...)
	if err != nil {
		return fmt.Errorf("failed to boot scripts: %w", err)
	}
	defer h.Close()

	runnables, err := buildRunnables(logger, cfg, h, collector)
	if err != nil {
		return err
	}

	super, err := supervisor.New(
		supervisor.WithContext(ctx),
		supervisor.WithLogHandler(logHandler),
		supervisor.WithRunnables(runnables...),
	)
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}
	if err := super.Run(); err != nil {
		return fmt.Errorf("failed to run server: %w", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}

func buildRunnables(
	logger *slog.Logger,
	cfg *config.Config,
	h *host.Host,
	collector *metrics.Collector,
) ([]supervisor.Runnable, error) {
	var runnables []supervisor.Runnable

	if h.ReloadMode() == lifecycle.ReloadWatch {
		w, err := watcher.NewRunner(h.HandlerPath(), h, watcher.WithLogHandler(logger.Handler()))
		if err != nil {
			return nil, fmt.Errorf("failed to create handler watcher: %w", err)
		}
		runnables = append(runnables, w)
	}

	app, err := script.New("script", h, logger)
	if err != nil {
		return nil, err
	}

	var metricsHandler http.Handler
	if collector != nil {
		metricsHandler = collector.Handler()
	}
	routes, err := httpserver.Routes(apps.Handler(app, logger), cfg.Metrics.Path, metricsHandler)
	if err != nil {
		return nil, err
	}

	srv, err := httpserver.New(cfg.Server.ListenAddr, routes, httpserver.Timeouts{
		ReadTimeout:  cfg.Server.ReadTimeout.AsDuration(),
		WriteTimeout: cfg.Server.WriteTimeout.AsDuration(),
		IdleTimeout:  cfg.Server.IdleTimeout.AsDuration(),
		DrainTimeout: cfg.Server.DrainTimeout.AsDuration(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP server: %w", err)
	}
	return append(runnables, srv), nil
}
