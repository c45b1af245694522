package engine

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Standard library names accepted by WithStdlibs.
const (
	LibTable     = "table"
	LibString    = "string"
	LibMath      = "math"
	LibCoroutine = "coroutine"
	LibOS        = "os"
)

// DefaultStdlibs are opened when no explicit list is configured. The base library is
// always opened.
var DefaultStdlibs = []string{LibTable, LibString, LibMath, LibCoroutine, LibOS}

const (
	defaultCallStackSize  = 256
	defaultRegistryMax    = 1024 * 1024
	defaultSampleInterval = time.Millisecond
	defaultQueueDepth     = 64
)

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the logger used for engine diagnostics and the script print function.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger != nil {
			e.logger = logger
		}
		return nil
	}
}

// WithLogHandler builds the engine logger from a slog.Handler.
func WithLogHandler(handler slog.Handler) Option {
	return func(e *Engine) error {
		if handler != nil {
			e.logger = slog.New(handler)
		}
		return nil
	}
}

// WithStdlibs replaces the set of standard libraries opened besides the base library.
func WithStdlibs(names ...string) Option {
	return func(e *Engine) error {
		for _, n := range names {
			if _, ok := stdlibOpeners[n]; !ok {
				return fmt.Errorf("unknown standard library %q", n)
			}
		}
		e.stdlibs = append([]string(nil), names...)
		return nil
	}
}

// WithMemoryCeiling limits heap growth during a single call. Zero disables the limit.
func WithMemoryCeiling(bytes uint64) Option {
	return func(e *Engine) error {
		e.memCeiling.Store(bytes)
		return nil
	}
}

// WithSampleInterval sets how often the memory watchdog samples the heap.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("sample interval must be positive, got %s", d)
		}
		e.sampleInterval = d
		return nil
	}
}

// WithCallStackSize sets the interpreter call stack depth.
func WithCallStackSize(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("call stack size must be positive, got %d", n)
		}
		e.callStackSize = n
		return nil
	}
}

// WithRegistryMaxSize caps the interpreter value stack.
func WithRegistryMaxSize(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("registry size must be positive, got %d", n)
		}
		e.registryMax = n
		return nil
	}
}

// WithPrintWriter redirects the script print function to w instead of the logger.
func WithPrintWriter(w io.Writer) Option {
	return func(e *Engine) error {
		e.printWriter = w
		return nil
	}
}
