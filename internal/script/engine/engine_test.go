package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func compile(t *testing.T, e *Engine, L *lua.LState, src string) *lua.LFunction {
	t.Helper()
	fn, err := e.Compile(L, "test", src)
	require.NoError(t, err)
	return fn
}

// blockActor occupies the actor until the returned function is called.
func blockActor(t *testing.T, e *Engine) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = e.Do(context.Background(), func(*lua.LState) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	return func() { close(release) }
}

func TestDo_SerializesTasks(t *testing.T) {
	e := newTestEngine(t)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Do(context.Background(), func(*lua.LState) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestDo_RunsInArrivalOrder(t *testing.T) {
	e := newTestEngine(t)
	release := blockActor(t, e)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Do(context.Background(), func(*lua.LState) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		require.Eventually(t, func() bool { return len(e.tasks) == i+1 }, time.Second, time.Millisecond)
	}
	release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDo_DropsTaskCancelledWhileQueued(t *testing.T) {
	e := newTestEngine(t)
	release := blockActor(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Do(ctx, func(*lua.LState) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return len(e.tasks) == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}

	release()
	require.NoError(t, e.Do(context.Background(), func(*lua.LState) error { return nil }))
	assert.False(t, ran.Load())
}

func TestDo_ReturnsTaskError(t *testing.T) {
	e := newTestEngine(t)
	want := errors.New("task failed")
	err := e.Do(context.Background(), func(*lua.LState) error { return want })
	require.ErrorIs(t, err, want)
}

func TestDo_RecoversPanic(t *testing.T) {
	e := newTestEngine(t)
	err := e.Do(context.Background(), func(*lua.LState) error { panic("boom") })
	require.ErrorIs(t, err, errz.ErrScriptRuntime)

	require.NoError(t, e.Do(context.Background(), func(*lua.LState) error { return nil }))
}

func TestClose(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	e.Close()
	e.Close()

	err = e.Do(context.Background(), func(*lua.LState) error { return nil })
	require.ErrorIs(t, err, errz.ErrEngineClosed)
}

func TestExecute(t *testing.T) {
	e := newTestEngine(t)

	t.Run("returns first result", func(t *testing.T) {
		err := e.Do(context.Background(), func(L *lua.LState) error {
			fn := compile(t, e, L, `return function(a, b) return a + b, "ignored" end`)
			inner, err := e.EvalFunction(L, fn)
			require.NoError(t, err)

			ret, err := e.Execute(L, inner, lua.LNumber(2), lua.LNumber(3))
			require.NoError(t, err)
			assert.Equal(t, lua.LNumber(5), ret)
			assert.Equal(t, 0, L.GetTop())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("no result is nil", func(t *testing.T) {
		err := e.Do(context.Background(), func(L *lua.LState) error {
			ret, err := e.Execute(L, compile(t, e, L, `local x = 1`))
			require.NoError(t, err)
			assert.Equal(t, lua.LNil, ret)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("script error", func(t *testing.T) {
		err := e.Do(context.Background(), func(L *lua.LState) error {
			_, err := e.Execute(L, compile(t, e, L, `error("boom")`))
			return err
		})
		require.ErrorIs(t, err, errz.ErrScriptRuntime)
		var re *errz.RuntimeError
		require.ErrorAs(t, err, &re)
		assert.Contains(t, re.Message, "boom")
		assert.Nil(t, re.Kind())
	})

	t.Run("binding error kind survives", func(t *testing.T) {
		err := e.Do(context.Background(), func(L *lua.LState) error {
			L.SetGlobal("fail", L.NewFunction(func(L *lua.LState) int {
				L.RaiseError("%s", errz.Raise(errz.ErrMarshal, "bad value"))
				return 0
			}))
			_, err := e.Execute(L, compile(t, e, L, `fail()`))
			return err
		})
		require.ErrorIs(t, err, errz.ErrScriptRuntime)
		require.ErrorIs(t, err, errz.ErrMarshal)
	})
}

func TestEvalFunction_NotAFunction(t *testing.T) {
	e := newTestEngine(t)
	err := e.Do(context.Background(), func(L *lua.LState) error {
		_, err := e.EvalFunction(L, compile(t, e, L, `return 42`))
		return err
	})
	require.ErrorIs(t, err, errz.ErrNotAFunction)
}

func TestCompile_SyntaxError(t *testing.T) {
	e := newTestEngine(t)
	err := e.Do(context.Background(), func(L *lua.LState) error {
		_, err := e.Compile(L, "broken", `return function(`)
		return err
	})
	require.ErrorIs(t, err, errz.ErrScriptLoad)
}

func TestLoadFile(t *testing.T) {
	e := newTestEngine(t)
	err := e.Do(context.Background(), func(L *lua.LState) error {
		_, err := e.LoadFile(L, t.TempDir())
		return err
	})
	require.ErrorIs(t, err, errz.ErrScriptLoad)

	err = e.Do(context.Background(), func(L *lua.LState) error {
		_, err := e.LoadFile(L, "/nonexistent/handler.lua")
		return err
	})
	require.ErrorIs(t, err, errz.ErrScriptLoad)
}

func TestExecute_MemoryCeiling(t *testing.T) {
	e := newTestEngine(t, WithMemoryCeiling(16<<20))

	err := e.Do(context.Background(), func(L *lua.LState) error {
		_, err := e.Execute(L, compile(t, e, L, `
			local t = {}
			for i = 1, 100000000 do
				t[i] = string.rep("x", 1024) .. i
			end
			return #t
		`))
		return err
	})
	require.ErrorIs(t, err, errz.ErrMemoryLimitExceeded)

	err = e.Do(context.Background(), func(L *lua.LState) error {
		ret, err := e.Execute(L, compile(t, e, L, `return 1 + 1`))
		require.NoError(t, err)
		assert.Equal(t, lua.LNumber(2), ret)
		return nil
	})
	require.NoError(t, err)
}

func TestExecute_MemoryCeilingIgnoresGarbage(t *testing.T) {
	e := newTestEngine(t, WithMemoryCeiling(2<<20))

	for i := range 3 {
		err := e.Do(context.Background(), func(L *lua.LState) error {
			ret, err := e.Execute(L, compile(t, e, L, `
				local n = 0
				for i = 1, 200000 do
					local t = {i, i + 1, i + 2, i + 3}
					n = n + t[4]
				end
				return n
			`))
			if err != nil {
				return err
			}
			assert.Equal(t, lua.LNumber(20000700000), ret)
			return nil
		})
		require.NoError(t, err, "run %d", i)
	}
}

func TestSandbox(t *testing.T) {
	var out bytes.Buffer
	e := newTestEngine(t, WithPrintWriter(&out))

	err := e.Do(context.Background(), func(L *lua.LState) error {
		ret, err := e.Execute(L, compile(t, e, L, `
			print("hello", 1)
			return dofile == nil and loadfile == nil and io == nil
				and os.execute == nil and os.getenv == nil
				and type(os.time) == "function" and type(os.date) == "function"
				and type(string.format) == "function" and type(coroutine.create) == "function"
		`))
		require.NoError(t, err)
		assert.Equal(t, lua.LTrue, ret)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\t1\n", out.String())
}

func TestWithStdlibs(t *testing.T) {
	e := newTestEngine(t, WithStdlibs(LibString))
	err := e.Do(context.Background(), func(L *lua.LState) error {
		ret, err := e.Execute(L, compile(t, e, L, `return math == nil and os == nil and string ~= nil`))
		require.NoError(t, err)
		assert.Equal(t, lua.LTrue, ret)
		return nil
	})
	require.NoError(t, err)

	_, err = New(WithStdlibs("io"))
	require.Error(t, err)
	assert.False(t, IsStdlib("io"))
	assert.True(t, IsStdlib(LibCoroutine))
}

type closeRecorder struct {
	closed *[]string
	name   string
}

func (c closeRecorder) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func TestScope_ReleasesTrackedResources(t *testing.T) {
	e := newTestEngine(t)
	var closed []string

	err := e.Do(context.Background(), func(L *lua.LState) error {
		assert.False(t, Track(L, closeRecorder{&closed, "outside"}))

		L.SetGlobal("open", L.NewFunction(func(L *lua.LState) int {
			Track(L, closeRecorder{&closed, L.CheckString(1)})
			return 0
		}))
		_, err := e.Execute(L, compile(t, e, L, `open("a") open("b")`))
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, closed)
}
