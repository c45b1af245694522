// Package httpserver runs the nitr HTTP listener under the supervisor.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/robbyt/go-supervisor/runnables/httpserver"
	"github.com/robbyt/go-supervisor/supervisor"
)

var (
	_ supervisor.Runnable  = (*HTTPServer)(nil)
	_ supervisor.Stateable = (*HTTPServer)(nil)
)

// Timeouts are applied to the listener when positive.
type Timeouts struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	DrainTimeout time.Duration
}

type serverImplementation interface {
	Run(ctx context.Context) error
	Stop()
	GetState() string
	IsRunning() bool
	GetStateChan(ctx context.Context) <-chan string
}

// HTTPServer serves a fixed route table on one address.
type HTTPServer struct {
	address string
	routes  []httpserver.Route
	server  serverImplementation
	logger  *slog.Logger
}

// Routes builds the route table: the script handler on every path, plus the metrics
// handler on metricsPath when it is not nil.
func Routes(script http.Handler, metricsPath string, metrics http.Handler) ([]httpserver.Route, error) {
	root, err := httpserver.NewRoute("script", "/", script.ServeHTTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create script route: %w", err)
	}
	routes := []httpserver.Route{*root}

	if metrics != nil {
		m, err := httpserver.NewRoute("metrics", metricsPath, metrics.ServeHTTP)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics route: %w", err)
		}
		routes = append(routes, *m)
	}
	return routes, nil
}

// New creates an HTTPServer.
func New(address string, routes []httpserver.Route, timeouts Timeouts, logger *slog.Logger) (*HTTPServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{
		address: address,
		routes:  routes,
		logger:  logger.WithGroup("httpserver"),
	}

	configCallback := func() (*httpserver.Config, error) {
		var opts []httpserver.ConfigOption
		if timeouts.ReadTimeout > 0 {
			opts = append(opts, httpserver.WithReadTimeout(timeouts.ReadTimeout))
		}
		if timeouts.WriteTimeout > 0 {
			opts = append(opts, httpserver.WithWriteTimeout(timeouts.WriteTimeout))
		}
		if timeouts.IdleTimeout > 0 {
			opts = append(opts, httpserver.WithIdleTimeout(timeouts.IdleTimeout))
		}
		if timeouts.DrainTimeout > 0 {
			opts = append(opts, httpserver.WithDrainTimeout(timeouts.DrainTimeout))
		}

		cfg, err := httpserver.NewConfig(s.address, s.routes, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP server config: %w", err)
		}
		return cfg, nil
	}

	runner, err := httpserver.NewRunner(
		httpserver.WithConfigCallback(configCallback),
		httpserver.WithLogHandler(s.logger.Handler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP server runner: %w", err)
	}
	s.server = runner
	return s, nil
}

func (s *HTTPServer) String() string {
	return fmt.Sprintf("HTTPServer[%s]", s.address)
}

func (s *HTTPServer) Run(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", "address", s.address, "routes", len(s.routes))
	return s.server.Run(ctx)
}

func (s *HTTPServer) Stop() {
	s.logger.Info("Stopping HTTP server", "address", s.address)
	s.server.Stop()
}

func (s *HTTPServer) GetState() string {
	return s.server.GetState()
}

func (s *HTTPServer) IsRunning() bool {
	return s.server.IsRunning()
}

func (s *HTTPServer) GetStateChan(ctx context.Context) <-chan string {
	return s.server.GetStateChan(ctx)
}

// Address returns the listen address.
func (s *HTTPServer) Address() string {
	return s.address
}
