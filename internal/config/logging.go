package config

import (
	"fmt"

	"github.com/atlanticdynamic/nitr/internal/logging"
	"github.com/atlanticdynamic/nitr/internal/logging/writers"
)

// LoggingConfig selects the log encoding, verbosity and destination.
type LoggingConfig struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Output string `toml:"output" env_interpolation:"yes"`
}

func (l *LoggingConfig) applyDefaults() {
	if l.Format == "" {
		l.Format = string(logging.FormatText)
	}
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Output == "" {
		l.Output = string(writers.WriterTypeStderr)
	}
}

// Validate checks the format, level and output names.
func (l LoggingConfig) Validate() []error {
	var errs []error
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := writers.Validate(l.Output); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errs
}
