// Package host composes the engine, the capability bindings and the handler lifecycle
// into one runtime that answers HTTP requests.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/bindings/database"
	"github.com/atlanticdynamic/nitr/internal/script/bindings/dbg"
	"github.com/atlanticdynamic/nitr/internal/script/bindings/fetch"
	"github.com/atlanticdynamic/nitr/internal/script/bindings/jsonlib"
	"github.com/atlanticdynamic/nitr/internal/script/bindings/template"
	"github.com/atlanticdynamic/nitr/internal/script/capability"
	"github.com/atlanticdynamic/nitr/internal/script/engine"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"github.com/atlanticdynamic/nitr/internal/script/lifecycle"
	"github.com/atlanticdynamic/nitr/internal/script/marshal"
	lua "github.com/yuin/gopher-lua"
)

// Call outcomes reported to the observer.
const (
	OutcomeOK           = "ok"
	OutcomeNotLoaded    = "not_loaded"
	OutcomeReloadError  = "reload_error"
	OutcomeScriptError  = "script_error"
	OutcomeMarshalError = "marshal_error"
	OutcomeMemoryLimit  = "memory_limit"
	OutcomeCancelled    = "cancelled"
)

// Reload results reported to the observer.
const (
	ReloadChanged   = "changed"
	ReloadUnchanged = "unchanged"
	ReloadFailed    = "failed"
)

// Host is a booted script runtime.
type Host struct {
	cfg         Config
	logHandler  slog.Handler
	logger      *slog.Logger
	observer    Observer
	debugWriter io.Writer

	engine    *engine.Engine
	lifecycle *lifecycle.Manager
	db        *database.Handle
	templates *template.Renderer
}

// New boots a host: it creates the engine, opens the database when the capability is
// enabled, installs the bindings and loads both scripts. Any failure is fatal.
func New(ctx context.Context, cfg Config, opts ...Option) (*Host, error) {
	h := &Host{
		cfg:        cfg,
		logHandler: slog.Default().Handler(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = slog.New(h.logHandler).WithGroup("host")

	engineOpts := []engine.Option{
		engine.WithLogHandler(h.logHandler),
		engine.WithMemoryCeiling(cfg.MemoryLimit),
	}
	if len(cfg.Stdlibs) > 0 {
		engineOpts = append(engineOpts, engine.WithStdlibs(cfg.Stdlibs...))
	}
	e, err := engine.New(engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create script engine: %w", err)
	}
	h.engine = e

	if err := h.boot(ctx); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Host) boot(ctx context.Context) error {
	if h.cfg.Capabilities.Has(capability.Database) {
		db, err := database.Open(ctx, h.cfg.DatabasePath,
			database.WithLockTimeout(h.cfg.LockTimeout),
			database.WithLogger(slog.New(h.logHandler).WithGroup("database")),
		)
		if err != nil {
			return err
		}
		h.db = db
	}

	h.templates = template.NewRenderer(h.cfg.TemplateDir)

	lm, err := lifecycle.New(h.engine, h.logHandler,
		lifecycle.WithReloadMode(h.cfg.ReloadMode),
		lifecycle.WithReloadHook(h.reloadHook),
	)
	if err != nil {
		return err
	}
	h.lifecycle = lm

	return h.engine.Do(ctx, func(L *lua.LState) error {
		if err := capability.Install(L, h.cfg.Capabilities, h.loaders()); err != nil {
			return err
		}

		var injected lua.LValue = lua.LNil
		if h.cfg.Capabilities.Has(capability.Database) {
			injected = L.GetGlobal(capability.Database.Global())
		}
		if err := lm.LoadConfig(L, h.cfg.ConfigPath, injected); err != nil {
			return err
		}
		if h.cfg.HandlerPath != "" {
			if err := lm.LoadHandler(L, h.cfg.HandlerPath); err != nil {
				return err
			}
		} else {
			h.logger.Warn("No handler script configured, requests will fail")
		}
		return lm.Serve()
	})
}

func (h *Host) loaders() map[capability.Set]capability.Loader {
	loaders := map[capability.Set]capability.Loader{
		capability.Debug:    dbg.Loader(h.debugWriter),
		capability.JSON:     jsonlib.Loader,
		capability.Template: template.Loader(h.templates),
		capability.Fetch: fetch.Loader(fetch.NewClient(
			fetch.WithTimeout(h.cfg.FetchTimeout),
			fetch.WithRetries(h.cfg.FetchRetries),
			fetch.WithLogger(slog.New(h.logHandler).WithGroup("fetch")),
		)),
	}
	if h.db != nil {
		loaders[capability.Database] = database.Loader(h.db)
	}
	return loaders
}

func (h *Host) reloadHook(changed bool, err error) {
	switch {
	case err != nil:
		h.observer.ObserveReload(ReloadFailed)
	case changed:
		// templates are re-read along with a new handler version
		h.templates.Reset()
		h.observer.ObserveReload(ReloadChanged)
	default:
		h.observer.ObserveReload(ReloadUnchanged)
	}
}

// Call runs the handler for one request. The returned error is for the logger only.
func (h *Host) Call(ctx context.Context, r *http.Request) (*marshal.Response, error) {
	start := time.Now()
	var resp *marshal.Response
	var outcome string

	err := h.engine.Do(ctx, func(L *lua.LState) error {
		h.observer.ObserveGateWait(time.Since(start))

		slot := h.lifecycle.Slot()
		if slot == nil {
			outcome = OutcomeNotLoaded
			return errz.ErrHandlerNotLoaded
		}
		if err := h.lifecycle.ReloadHandler(L); err != nil {
			outcome = OutcomeReloadError
			return err
		}

		req := marshal.NewRequest(r, marshal.WithBodyLimit(h.cfg.BodyLimit))
		ret, err := h.engine.Execute(L, slot.Load(), h.lifecycle.Config(L), req.ToLua(L))
		if err != nil {
			outcome = classify(err)
			return err
		}

		resp, err = marshal.ToResponse(ret)
		if err != nil {
			outcome = OutcomeMarshalError
			return err
		}
		outcome = OutcomeOK
		return nil
	})
	if outcome == "" {
		outcome = OutcomeCancelled
		if errors.Is(err, errz.ErrEngineClosed) {
			outcome = OutcomeScriptError
		}
	}
	h.observer.ObserveCall(outcome, time.Since(start))
	return resp, err
}

func classify(err error) string {
	switch {
	case errors.Is(err, errz.ErrMemoryLimitExceeded):
		return OutcomeMemoryLimit
	case errors.Is(err, errz.ErrMarshal):
		return OutcomeMarshalError
	default:
		return OutcomeScriptError
	}
}

// MarkStale signals that the handler source changed on disk.
func (h *Host) MarkStale() {
	h.lifecycle.MarkStale()
}

// State returns the lifecycle state.
func (h *Host) State() string {
	return h.lifecycle.State()
}

// HandlerPath returns the configured handler script.
func (h *Host) HandlerPath() string {
	return h.cfg.HandlerPath
}

// ReloadMode returns the configured reload mode.
func (h *Host) ReloadMode() lifecycle.ReloadMode {
	return h.lifecycle.Mode()
}

// Capabilities returns the installed capability set.
func (h *Host) Capabilities() capability.Set {
	return h.cfg.Capabilities
}

// HandlerVersion returns the version of the loaded handler, or 0 when none is loaded.
func (h *Host) HandlerVersion() uint64 {
	if slot := h.lifecycle.Slot(); slot != nil {
		return slot.Version()
	}
	return 0
}

// PlaybackLogs replays the lifecycle log history to handler.
func (h *Host) PlaybackLogs(handler slog.Handler) error {
	return h.lifecycle.PlaybackLogs(handler)
}

// Close stops the engine and closes the database.
func (h *Host) Close() {
	if h.engine != nil {
		h.engine.Close()
	}
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			h.logger.Warn("Failed to close database", "error", err)
		}
	}
}
