// Package engine owns the single interpreter instance and serializes access to it.
//
// Every use of the interpreter goes through Do, which enqueues a task on the engine's
// actor goroutine. Tasks run one at a time in arrival order, so the interpreter never
// sees concurrent access.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/errz"
	lua "github.com/yuin/gopher-lua"
)

const (
	taskPending int32 = iota
	taskRunning
	taskAbandoned
)

type task struct {
	ctx    context.Context
	fn     func(*lua.LState) error
	state  atomic.Int32
	result chan error
}

// Engine is a sandboxed interpreter driven by a single goroutine.
type Engine struct {
	L *lua.LState

	logger         *slog.Logger
	printWriter    io.Writer
	stdlibs        []string
	callStackSize  int
	registryMax    int
	sampleInterval time.Duration
	memCeiling     atomic.Uint64

	tasks     chan *task
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates the interpreter, opens the configured standard libraries and starts the
// actor goroutine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:         slog.Default().WithGroup("engine"),
		stdlibs:        DefaultStdlibs,
		callStackSize:  defaultCallStackSize,
		registryMax:    defaultRegistryMax,
		sampleInterval: defaultSampleInterval,
		tasks:          make(chan *task, defaultQueueDepth),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   e.callStackSize,
		RegistryMaxSize: e.registryMax,
	})
	if err := openSandbox(L, e.stdlibs, e.printHandler()); err != nil {
		L.Close()
		return nil, err
	}
	e.L = L

	go e.loop()
	return e, nil
}

// SetMemoryCeiling changes the per-call heap growth limit. Zero disables it.
func (e *Engine) SetMemoryCeiling(bytes uint64) {
	e.memCeiling.Store(bytes)
}

// MemoryCeiling returns the current per-call heap growth limit.
func (e *Engine) MemoryCeiling() uint64 {
	return e.memCeiling.Load()
}

// Do runs fn on the actor goroutine with exclusive access to the interpreter. A task
// whose context ends before it is dequeued is dropped and Do returns the context error.
// Once started, fn runs to completion and Do waits for it.
func (e *Engine) Do(ctx context.Context, fn func(*lua.LState) error) error {
	if e.closed.Load() {
		return errz.ErrEngineClosed
	}
	t := &task{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case e.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return errz.ErrEngineClosed
	}

	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskPending, taskAbandoned) {
			return ctx.Err()
		}
		return <-t.result
	case <-e.stopped:
		if t.state.CompareAndSwap(taskPending, taskAbandoned) {
			return errz.ErrEngineClosed
		}
		return <-t.result
	}
}

func (e *Engine) loop() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.drain()
			return
		case t := <-e.tasks:
			e.run(t)
		}
	}
}

func (e *Engine) run(t *task) {
	if !t.state.CompareAndSwap(taskPending, taskRunning) {
		return
	}
	if err := t.ctx.Err(); err != nil {
		t.result <- err
		return
	}
	t.result <- e.safeRun(t.fn)
}

func (e *Engine) safeRun(fn func(*lua.LState) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered panic in engine task", "panic", r)
			err = fmt.Errorf("%w: panic: %v", errz.ErrScriptRuntime, r)
			e.L.SetTop(0)
		}
	}()
	return fn(e.L)
}

func (e *Engine) drain() {
	for {
		select {
		case t := <-e.tasks:
			if t.state.CompareAndSwap(taskPending, taskAbandoned) {
				t.result <- errz.ErrEngineClosed
			}
		default:
			return
		}
	}
}

// Close stops the actor and closes the interpreter. Queued tasks fail with ErrEngineClosed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		<-e.stopped
		e.L.Close()
	})
}
