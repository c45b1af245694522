package main

import (
	"io"
	"log/slog"

	"github.com/atlanticdynamic/nitr/internal/config"
	"github.com/atlanticdynamic/nitr/internal/logging"
	"github.com/atlanticdynamic/nitr/internal/logging/writers"
)

// SetupLogger configures the default logger based on provided log level
func SetupLogger(logLevel string) {
	logging.SetupLogger(logLevel)
}

// configureLogging installs the logger described by the config as the slog default. The
// returned closer releases a log file.
func configureLogging(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	w, err := writers.CreateWriter(cfg.Output)
	if err != nil {
		return nil, nil, err
	}
	handler, err := logging.NewHandler(cfg.Format, cfg.Level, w)
	if err != nil {
		_ = w.Close()
		return nil, nil, err
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, w, nil
}
