// Package lifecycle loads the configuration and handler scripts and keeps the handler
// current across reloads.
//
// All methods that take an *lua.LState must run inside engine.Do.
package lifecycle

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	"github.com/atlanticdynamic/nitr/internal/script/engine"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"github.com/robbyt/go-fsm"
	"github.com/robbyt/go-loglater"
	lua "github.com/yuin/gopher-lua"
)

// ReloadHook observes the outcome of every reload attempt that read the source.
type ReloadHook func(changed bool, err error)

// Manager tracks the lifecycle of one configuration record and one handler slot.
type Manager struct {
	engine  *engine.Engine
	fsm     *fsm.Machine
	logger  *slog.Logger
	history *loglater.LogCollector
	mode    ReloadMode
	hook    ReloadHook

	mu     sync.Mutex
	config *lua.LTable
	slot   *Slot
	digest [sha256.Size]byte
	stale  atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithReloadMode sets the reload mode. The default is ReloadNever.
func WithReloadMode(mode ReloadMode) Option {
	return func(m *Manager) {
		m.mode = mode
	}
}

// WithReloadHook sets a function called after each reload attempt.
func WithReloadHook(hook ReloadHook) Option {
	return func(m *Manager) {
		m.hook = hook
	}
}

// New creates a Manager in the Uninitialized state. Log records are kept for
// PlaybackLogs and forwarded to handler.
func New(e *engine.Engine, handler slog.Handler, opts ...Option) (*Manager, error) {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	machine, err := fsm.New(handler, StateUninitialized, transitions)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle state machine: %w", err)
	}

	collector := loglater.NewLogCollector(handler)
	m := &Manager{
		engine:  e,
		fsm:     machine,
		logger:  slog.New(collector).WithGroup("lifecycle"),
		history: collector,
		mode:    ReloadNever,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() string {
	return m.fsm.GetState()
}

// Mode returns the reload mode.
func (m *Manager) Mode() ReloadMode {
	return m.mode
}

// PlaybackLogs replays every record logged by the manager to handler.
func (m *Manager) PlaybackLogs(handler slog.Handler) error {
	return m.history.PlayLogs(handler)
}

func (m *Manager) fail(err error) error {
	if terr := m.fsm.Transition(StateError); terr != nil {
		m.logger.Debug("Failed to enter error state", "error", terr)
	}
	m.logger.Error("Lifecycle failure", "error", err)
	return err
}

// LoadConfig evaluates the configuration script at path to a function, calls it once with
// args and keeps the returned table. An empty path yields an empty configuration.
// Every failure wraps errz.ErrScriptLoad.
func (m *Manager) LoadConfig(L *lua.LState, path string, args ...lua.LValue) error {
	if path == "" {
		m.mu.Lock()
		m.config = L.NewTable()
		m.mu.Unlock()
		return m.fsm.Transition(StateConfigLoaded)
	}

	chunk, err := m.engine.LoadFile(L, path)
	if err != nil {
		return m.fail(err)
	}
	fn, err := m.engine.EvalFunction(L, chunk)
	if err != nil {
		return m.fail(fmt.Errorf("config script %s: %w", path, err))
	}
	ret, err := m.engine.Execute(L, fn, args...)
	if err != nil {
		return m.fail(fmt.Errorf("%w: config script %s: %w", errz.ErrScriptLoad, path, err))
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return m.fail(fmt.Errorf("%w: %w: config script %s returned %s",
			errz.ErrScriptLoad, errz.ErrNotATable, path, ret.Type().String()))
	}

	m.mu.Lock()
	m.config = tbl
	m.mu.Unlock()

	if err := m.fsm.Transition(StateConfigLoaded); err != nil {
		return m.fail(err)
	}
	m.logger.Info("Configuration loaded", "path", path)
	return nil
}

// Config returns a deep copy of the configuration table for one call. The stored record
// is never handed to scripts.
func (m *Manager) Config(L *lua.LState) *lua.LTable {
	m.mu.Lock()
	cfg := m.config
	m.mu.Unlock()
	if cfg == nil {
		return L.NewTable()
	}
	return deepCopy(L, cfg, make(map[*lua.LTable]*lua.LTable))
}

func deepCopy(L *lua.LState, src *lua.LTable, seen map[*lua.LTable]*lua.LTable) *lua.LTable {
	if dst, ok := seen[src]; ok {
		return dst
	}
	dst := L.CreateTable(src.Len(), 0)
	seen[src] = dst
	bridge.Each(src, func(k, v lua.LValue) {
		if kt, ok := k.(*lua.LTable); ok {
			k = deepCopy(L, kt, seen)
		}
		if vt, ok := v.(*lua.LTable); ok {
			v = deepCopy(L, vt, seen)
		}
		dst.RawSet(k, v)
	})
	if mt, ok := src.Metatable.(*lua.LTable); ok {
		dst.Metatable = mt
	}
	return dst
}

// LoadHandler evaluates the handler script at path to a function and binds it to a new
// slot. The path must name a regular, readable file.
func (m *Manager) LoadHandler(L *lua.LState, path string) error {
	fn, digest, err := m.evalHandler(L, path)
	if err != nil {
		return m.fail(err)
	}

	m.mu.Lock()
	m.slot = newSlot(path, fn)
	m.digest = digest
	m.mu.Unlock()

	if err := m.fsm.Transition(StateHandlerLoaded); err != nil {
		return m.fail(err)
	}
	m.logger.Info("Handler loaded", "path", path, "reload", m.mode)
	return nil
}

// Serve marks the end of startup.
func (m *Manager) Serve() error {
	return m.fsm.Transition(StateServing)
}

// Slot returns the handler slot, or nil when no handler is loaded.
func (m *Manager) Slot() *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot
}

// MarkStale records that the handler source changed. In watch mode the next
// ReloadHandler reads it again.
func (m *Manager) MarkStale() {
	m.stale.Store(true)
}

// ReloadHandler refreshes the handler according to the reload mode. A failure is
// returned for the current call only; the working handler stays in the slot.
func (m *Manager) ReloadHandler(L *lua.LState) error {
	slot := m.Slot()
	if slot == nil {
		return nil
	}
	switch m.mode {
	case ReloadAlways:
	case ReloadWatch:
		if !m.stale.CompareAndSwap(true, false) {
			return nil
		}
	default:
		return nil
	}

	if err := m.fsm.Transition(StateReloading); err == nil {
		defer func() {
			if err := m.fsm.Transition(StateServing); err != nil {
				m.logger.Debug("Failed to return to serving", "error", err)
			}
		}()
	}

	changed, err := m.reload(L, slot)
	if m.hook != nil {
		m.hook(changed, err)
	}
	if err != nil {
		if m.mode == ReloadWatch {
			m.stale.Store(true)
		}
		m.logger.Warn("Handler reload failed, keeping previous version",
			"path", slot.Path(), "version", slot.Version(), "error", err)
		return err
	}
	if changed {
		m.logger.Info("Handler reloaded", "path", slot.Path(), "version", slot.Version())
	}
	return nil
}

func (m *Manager) reload(L *lua.LState, slot *Slot) (bool, error) {
	src, err := readRegular(slot.Path())
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(src)

	m.mu.Lock()
	same := digest == m.digest
	m.mu.Unlock()
	if same {
		return false, nil
	}

	fn, err := m.compileHandler(L, slot.Path(), src)
	if err != nil {
		return false, err
	}
	slot.Swap(fn)

	m.mu.Lock()
	m.digest = digest
	m.mu.Unlock()
	return true, nil
}

func (m *Manager) evalHandler(L *lua.LState, path string) (*lua.LFunction, [sha256.Size]byte, error) {
	src, err := readRegular(path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	fn, err := m.compileHandler(L, path, src)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return fn, sha256.Sum256(src), nil
}

func (m *Manager) compileHandler(L *lua.LState, path string, src []byte) (*lua.LFunction, error) {
	chunk, err := m.engine.Compile(L, path, string(src))
	if err != nil {
		return nil, err
	}
	fn, err := m.engine.EvalFunction(L, chunk)
	if err != nil {
		return nil, fmt.Errorf("handler script %s: %w", path, err)
	}
	return fn, nil
}

func readRegular(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errz.ErrScriptLoad, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", errz.ErrScriptLoad, path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errz.ErrScriptLoad, err)
	}
	return src, nil
}
