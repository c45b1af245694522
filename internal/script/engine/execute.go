package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/metrics"
	"strings"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/errz"
	lua "github.com/yuin/gopher-lua"
)

const (
	heapMetric     = "/memory/classes/heap/objects:bytes"
	liveHeapMetric = "/gc/heap/live:bytes"
)

// Compile turns source into a callable chunk. Syntax errors are ErrScriptLoad.
func (e *Engine) Compile(L *lua.LState, name, source string) (*lua.LFunction, error) {
	fn, err := L.Load(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errz.ErrScriptLoad, name, err)
	}
	return fn, nil
}

// LoadFile reads path, which must be a regular readable file, and compiles it.
func (e *Engine) LoadFile(L *lua.LState, path string) (*lua.LFunction, error) {
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
	return e.Compile(L, path, string(src))
}

// EvalFunction runs a compiled chunk and requires its result to be a function.
func (e *Engine) EvalFunction(L *lua.LState, chunk *lua.LFunction) (*lua.LFunction, error) {
	ret, err := e.Execute(L, chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errz.ErrScriptLoad, err)
	}
	fn, ok := ret.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %w: got %s", errz.ErrScriptLoad, errz.ErrNotAFunction, ret.Type().String())
	}
	return fn, nil
}

// Execute calls fn in protected mode and returns its first result. It must only be
// called from inside Do. Script failures are *errz.RuntimeError; a call that grew the heap
// past the ceiling fails with errz.ErrMemoryLimitExceeded. The interpreter stays usable
// after any failure.
func (e *Engine) Execute(L *lua.LState, fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	scope := &Scope{}
	ctx, cancel := context.WithCancelCause(context.WithValue(context.Background(), scopeKey{}, scope))
	stopWatch := e.watchMemory(ctx, cancel)

	base := L.GetTop()
	L.SetContext(ctx)
	err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)

	stopWatch()
	cause := context.Cause(ctx)
	cancel(nil)
	L.RemoveContext()

	var ret lua.LValue = lua.LNil
	if err == nil && L.GetTop() > base {
		ret = L.Get(-1)
	}
	L.SetTop(base)

	if cerr := scope.close(); cerr != nil {
		e.logger.Warn("Failed to release call resources", "error", cerr)
	}

	if err == nil {
		return ret, nil
	}
	if errors.Is(cause, errz.ErrMemoryLimitExceeded) {
		runtime.GC()
		return lua.LNil, errz.ErrMemoryLimitExceeded
	}
	return lua.LNil, classify(err)
}

func classify(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg := ""
		if apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		if msg == "" && apiErr.Cause != nil {
			msg = apiErr.Cause.Error()
		}
		return errz.NewRuntimeError(msg, apiErr.StackTrace)
	}
	return errz.NewRuntimeError(err.Error(), "")
}

// watchMemory samples the heap until the returned stop function is called. The sampled
// figure includes garbage and other goroutines' allocations, so a sample past the ceiling
// only triggers a collection; ctx is cancelled with ErrMemoryLimitExceeded when the live
// heap after that collection still exceeds the ceiling. Cancellation aborts the
// interpreter at its next instruction.
func (e *Engine) watchMemory(ctx context.Context, cancel context.CancelCauseFunc) func() {
	ceiling := e.memCeiling.Load()
	if ceiling == 0 {
		return func() {}
	}

	baseline := heapBytes()
	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(e.sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !exceeds(heapBytes(), baseline, ceiling) {
					continue
				}
				runtime.GC()
				live := liveHeapBytes()
				if !exceeds(live, baseline, ceiling) {
					continue
				}
				e.logger.Warn("Script call exceeded memory ceiling",
					"ceiling", ceiling, "growth", live-baseline)
				cancel(errz.ErrMemoryLimitExceeded)
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-finished
	}
}

func exceeds(current, baseline, ceiling uint64) bool {
	return current > baseline && current-baseline > ceiling
}

// heapBytes is cheap to read but counts unswept garbage.
func heapBytes() uint64 {
	return readHeapMetric(heapMetric)
}

// liveHeapBytes is the heap marked live by the most recent collection.
func liveHeapBytes() uint64 {
	return readHeapMetric(liveHeapMetric)
}

func readHeapMetric(name string) uint64 {
	sample := []metrics.Sample{{Name: name}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return ms.HeapAlloc
	}
	return sample[0].Value.Uint64()
}
