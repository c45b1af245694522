package host

import (
	"io"
	"log/slog"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/capability"
	"github.com/atlanticdynamic/nitr/internal/script/lifecycle"
)

// Config describes the scripts and bindings of one host.
type Config struct {
	ConfigPath   string
	HandlerPath  string
	Capabilities capability.Set
	ReloadMode   lifecycle.ReloadMode
	Stdlibs      []string
	MemoryLimit  uint64
	BodyLimit    int64

	DatabasePath string
	LockTimeout  time.Duration

	TemplateDir string

	FetchTimeout time.Duration
	FetchRetries int
}

// Observer receives call and reload measurements.
type Observer interface {
	ObserveCall(outcome string, d time.Duration)
	ObserveGateWait(d time.Duration)
	ObserveReload(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, time.Duration) {}
func (nopObserver) ObserveGateWait(time.Duration)     {}
func (nopObserver) ObserveReload(string)              {}

// Option configures a Host.
type Option func(*Host)

// WithLogHandler sets the handler used by the host and its components.
func WithLogHandler(handler slog.Handler) Option {
	return func(h *Host) {
		if handler != nil {
			h.logHandler = handler
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(h *Host) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithDebugWriter sets the destination of the debug binding. The default is stderr.
func WithDebugWriter(w io.Writer) Option {
	return func(h *Host) {
		h.debugWriter = w
	}
}
