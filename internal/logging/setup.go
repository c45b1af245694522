// Package logging builds the slog handlers shared by the server and the CLI.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Format selects the handler encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	ErrUnknownLevel  = errors.New("unknown log level")
	ErrUnknownFormat = errors.New("unknown log format")
)

// verbosity is derived from a level name. "trace" is debug plus caller
// reporting.
type verbosity struct {
	level     slog.Level
	caller    bool
	timestamp bool
}

func parseLevel(name string) (verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return verbosity{level: slog.LevelDebug, caller: true, timestamp: true}, nil
	case "debug":
		return verbosity{level: slog.LevelDebug, timestamp: true}, nil
	case "info", "":
		return verbosity{level: slog.LevelInfo}, nil
	case "warn", "warning":
		return verbosity{level: slog.LevelWarn}, nil
	case "error":
		return verbosity{level: slog.LevelError}, nil
	default:
		return verbosity{level: slog.LevelInfo}, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
	}
}

// ParseLevel returns the slog level for a level name. The empty string is info.
func ParseLevel(name string) (slog.Level, error) {
	v, err := parseLevel(name)
	return v.level, err
}

// ParseFormat returns the Format for a name. The empty string is text.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// NewHandler returns a handler for the named format and level, rejecting unknown names.
func NewHandler(format, level string, writer io.Writer) (slog.Handler, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if _, err := parseLevel(level); err != nil {
		return nil, err
	}
	if f == FormatJSON {
		return SetupHandlerJSON(level, writer), nil
	}
	return SetupHandlerText(level, writer), nil
}

// SetupHandlerText configures a charmbracelet text handler. Unknown levels fall back to info.
func SetupHandlerText(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}
	v, _ := parseLevel(logLevel)

	return log.NewWithOptions(writer, log.Options{
		ReportTimestamp: v.timestamp,
		ReportCaller:    v.caller,
		Level:           charmLevel(v.level),
	})
}

// SetupHandlerJSON configures a JSON handler. Unknown levels fall back to info.
func SetupHandlerJSON(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stdout
	}
	v, _ := parseLevel(logLevel)

	return slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     v.level,
		AddSource: v.caller,
	})
}

// SetupLogger installs a text handler on stderr as the slog default.
func SetupLogger(logLevel string) {
	slog.SetDefault(slog.New(SetupHandlerText(logLevel, nil)))
}

func charmLevel(l slog.Level) log.Level {
	switch {
	case l <= slog.LevelDebug:
		return log.DebugLevel
	case l <= slog.LevelInfo:
		return log.InfoLevel
	case l <= slog.LevelWarn:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}
