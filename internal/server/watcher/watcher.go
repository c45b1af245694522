// Package watcher marks the handler stale when its file changes on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/robbyt/go-fsm"
	"github.com/robbyt/go-supervisor/supervisor"
)

var (
	_ supervisor.Runnable   = (*Runner)(nil)
	_ supervisor.Reloadable = (*Runner)(nil)
	_ supervisor.Stateable  = (*Runner)(nil)
)

// Target is notified of handler changes.
type Target interface {
	MarkStale()
}

const changeOps = fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove

// Runner watches the directory that holds the handler script and forwards events that
// name the script itself. Watching the directory keeps the watch alive across editors
// that save by renaming a new file over the old one.
type Runner struct {
	path   string
	target Target
	logger *slog.Logger
	fsm    *fsm.Machine

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogHandler sets the log handler for the Runner.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Runner) {
		if handler != nil {
			r.logger = slog.New(handler).WithGroup("watcher")
		}
	}
}

// NewRunner creates a Runner for the handler script at path.
func NewRunner(path string, target Target, opts ...Option) (*Runner, error) {
	if path == "" {
		return nil, errors.New("watcher requires a handler path")
	}
	if target == nil {
		return nil, errors.New("watcher requires a target")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve handler path: %w", err)
	}

	r := &Runner{
		path:   abs,
		target: target,
		logger: slog.Default().WithGroup("watcher"),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	machine, err := fsm.New(r.logger.Handler(), fsm.StatusNew, fsm.TypicalTransitions)
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}
	r.fsm = machine
	return r, nil
}

func (r *Runner) String() string {
	return "watcher.Runner"
}

// Run watches until ctx is cancelled or Stop is called.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.fsm.Transition(fsm.StatusBooting); err != nil {
		return fmt.Errorf("failed to transition to booting state: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.setError()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			r.logger.Warn("Failed to close file watcher", "error", err)
		}
	}()

	if err := w.Add(filepath.Dir(r.path)); err != nil {
		r.setError()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(r.path), err)
	}

	if err := r.fsm.Transition(fsm.StatusRunning); err != nil {
		return fmt.Errorf("failed to transition to running state: %w", err)
	}
	r.logger.Info("Watching handler script", "path", r.path)

	r.loop(ctx, w)

	if r.fsm.GetState() != fsm.StatusStopping {
		if err := r.fsm.Transition(fsm.StatusStopping); err != nil {
			r.logger.Error("Failed to transition to stopping state", "error", err)
		}
	}
	if err := r.fsm.Transition(fsm.StatusStopped); err != nil {
		return fmt.Errorf("failed to transition to stopped state: %w", err)
	}
	return nil
}

func (r *Runner) loop(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&changeOps == 0 || filepath.Clean(event.Name) != r.path {
				continue
			}
			r.logger.Debug("Handler script changed", "op", event.Op.String())
			r.target.MarkStale()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (r *Runner) setError() {
	if err := r.fsm.Transition(fsm.StatusError); err != nil {
		r.logger.Error("Failed to transition to error state", "error", err)
	}
}

// Reload marks the handler stale without a file event, so a SIGHUP forces a re-read.
func (r *Runner) Reload() {
	r.logger.Debug("Reload requested")
	r.target.MarkStale()
}

// Stop ends Run. A stop requested before Run makes Run return as soon as it starts
// watching.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		if r.fsm.GetState() == fsm.StatusRunning {
			if err := r.fsm.Transition(fsm.StatusStopping); err != nil {
				r.logger.Debug("Failed to transition to stopping state", "error", err)
			}
		}
		close(r.stop)
	})
}

func (r *Runner) GetState() string {
	return r.fsm.GetState()
}

func (r *Runner) GetStateChan(ctx context.Context) <-chan string {
	return r.fsm.GetStateChan(ctx)
}

func (r *Runner) IsRunning() bool {
	return r.fsm.GetState() == fsm.StatusRunning
}
