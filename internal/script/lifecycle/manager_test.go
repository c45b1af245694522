package lifecycle

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/atlanticdynamic/nitr/internal/script/engine"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

type fixture struct {
	engine  *engine.Engine
	manager *Manager
	dir     string
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	e, err := engine.New()
	require.NoError(t, err)
	t.Cleanup(e.Close)

	logs := &bytes.Buffer{}
	handler := slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})
	m, err := New(e, handler, opts...)
	require.NoError(t, err)
	return &fixture{engine: e, manager: m, dir: t.TempDir(), logs: logs}
}

func (f *fixture) write(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func (f *fixture) do(t *testing.T, fn func(L *lua.LState) error) error {
	t.Helper()
	return f.engine.Do(context.Background(), fn)
}

// call runs the handler in the slot with the given argument.
func (f *fixture) call(t *testing.T, slot *Slot, arg lua.LValue) lua.LValue {
	t.Helper()
	var ret lua.LValue
	require.NoError(t, f.do(t, func(L *lua.LState) error {
		if err := f.manager.ReloadHandler(L); err != nil {
			return err
		}
		var err error
		ret, err = f.engine.Execute(L, slot.Load(), f.manager.Config(L), arg)
		return err
	}))
	return ret
}

func (f *fixture) boot(t *testing.T, configPath, handlerPath string) {
	t.Helper()
	require.NoError(t, f.do(t, func(L *lua.LState) error {
		if err := f.manager.LoadConfig(L, configPath); err != nil {
			return err
		}
		if err := f.manager.LoadHandler(L, handlerPath); err != nil {
			return err
		}
		return f.manager.Serve()
	}))
}

func TestLoadConfig(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "config.lua", `return function(db) return {name = "svc", injected = db} end`)

	err := f.do(t, func(L *lua.LState) error {
		return f.manager.LoadConfig(L, path, lua.LString("handle"))
	})
	require.NoError(t, err)
	assert.Equal(t, StateConfigLoaded, f.manager.State())

	require.NoError(t, f.do(t, func(L *lua.LState) error {
		cfg := f.manager.Config(L)
		assert.Equal(t, lua.LString("svc"), cfg.RawGetString("name"))
		assert.Equal(t, lua.LString("handle"), cfg.RawGetString("injected"))
		return nil
	}))
}

func TestLoadConfig_Failures(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "syntax error", src: `return function(`},
		{name: "not a function", src: `return {}`},
		{name: "raises", src: `return function() error("bad config") end`},
		{name: "not a table", src: `return function() return 42 end`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			path := f.write(t, "config.lua", tt.src)
			err := f.do(t, func(L *lua.LState) error { return f.manager.LoadConfig(L, path) })
			require.ErrorIs(t, err, errz.ErrScriptLoad)
			assert.Equal(t, StateError, f.manager.State())
		})
	}

	f := newFixture(t)
	err := f.do(t, func(L *lua.LState) error { return f.manager.LoadConfig(L, filepath.Join(f.dir, "missing.lua")) })
	require.ErrorIs(t, err, errz.ErrScriptLoad)
}

func TestLoadHandler_RequiresRegularFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.do(t, func(L *lua.LState) error { return f.manager.LoadConfig(L, "") }))

	err := f.do(t, func(L *lua.LState) error { return f.manager.LoadHandler(L, f.dir) })
	require.ErrorIs(t, err, errz.ErrScriptLoad)
	assert.Nil(t, f.manager.Slot())
}

func TestConfig_IsCopiedPerCall(t *testing.T) {
	f := newFixture(t)
	cfg := f.write(t, "config.lua", `return function() return {count = 0, nested = {n = 1}} end`)
	handler := f.write(t, "handler.lua", `return function(config, req)
		config.count = config.count + 1
		config.nested.n = config.nested.n + 1
		return config.count * 10 + config.nested.n
	end`)
	f.boot(t, cfg, handler)

	slot := f.manager.Slot()
	assert.Equal(t, lua.LNumber(12), f.call(t, slot, lua.LNil))
	assert.Equal(t, lua.LNumber(12), f.call(t, slot, lua.LNil), "the stored record never changes")

	t.Run("copy keeps the record's key order", func(t *testing.T) {
		f := newFixture(t)
		cfg := f.write(t, "config.lua", `return function()
			return {alpha = 1, beta = 2, gamma = 3, delta = 4, eps = 5, nested = {x = 1, y = 2, z = 3}}
		end`)
		handler := f.write(t, "handler.lua", `return function(config)
			local keys = {}
			for k in pairs(config) do keys[#keys + 1] = k end
			return table.concat(keys, ",")
		end`)
		f.boot(t, cfg, handler)

		keyOrder := func(tbl *lua.LTable) []string {
			var keys []string
			for k, _ := tbl.Next(lua.LNil); k != lua.LNil; k, _ = tbl.Next(k) {
				keys = append(keys, k.String())
			}
			return keys
		}
		want := []string{"alpha", "beta", "gamma", "delta", "eps", "nested"}
		require.NoError(t, f.do(t, func(L *lua.LState) error {
			assert.Equal(t, want, keyOrder(f.manager.config))
			for range 30 {
				cp := f.manager.Config(L)
				require.Equal(t, want, keyOrder(cp))
				nested, ok := cp.RawGetString("nested").(*lua.LTable)
				require.True(t, ok)
				require.Equal(t, []string{"x", "y", "z"}, keyOrder(nested))
			}
			return nil
		}))

		slot := f.manager.Slot()
		for range 30 {
			require.Equal(t, lua.LString("alpha,beta,gamma,delta,eps,nested"), f.call(t, slot, lua.LNil))
		}
	})
}

func TestReload_Never(t *testing.T) {
	f := newFixture(t)
	handler := f.write(t, "handler.lua", `return function() return "v1" end`)
	f.boot(t, "", handler)
	slot := f.manager.Slot()

	f.write(t, "handler.lua", `return function() return "v2" end`)
	assert.Equal(t, lua.LString("v1"), f.call(t, slot, lua.LNil))
	assert.Equal(t, uint64(1), slot.Version())
}

func TestReload_Always(t *testing.T) {
	var hooks []bool
	f := newFixture(t, WithReloadMode(ReloadAlways), WithReloadHook(func(changed bool, err error) {
		hooks = append(hooks, changed)
	}))
	handler := f.write(t, "handler.lua", `return function() return "v1" end`)
	f.boot(t, "", handler)
	slot := f.manager.Slot()

	t.Run("unchanged source is idempotent", func(t *testing.T) {
		assert.Equal(t, lua.LString("v1"), f.call(t, slot, lua.LNil))
		assert.Equal(t, lua.LString("v1"), f.call(t, slot, lua.LNil))
		assert.Equal(t, uint64(1), slot.Version())
	})

	t.Run("new source is visible through the same slot", func(t *testing.T) {
		f.write(t, "handler.lua", `return function() return "v2" end`)
		assert.Equal(t, lua.LString("v2"), f.call(t, slot, lua.LNil))
		assert.Same(t, slot, f.manager.Slot())
		assert.Equal(t, uint64(2), slot.Version())
	})

	t.Run("failed reload keeps the working handler", func(t *testing.T) {
		f.write(t, "handler.lua", `return function(`)
		err := f.do(t, func(L *lua.LState) error { return f.manager.ReloadHandler(L) })
		require.ErrorIs(t, err, errz.ErrScriptLoad)

		require.NoError(t, os.Remove(handler))
		err = f.do(t, func(L *lua.LState) error { return f.manager.ReloadHandler(L) })
		require.ErrorIs(t, err, errz.ErrScriptLoad)

		require.NoError(t, f.do(t, func(L *lua.LState) error {
			ret, err := f.engine.Execute(L, slot.Load())
			require.NoError(t, err)
			assert.Equal(t, lua.LString("v2"), ret)
			return nil
		}))
		assert.Equal(t, StateServing, f.manager.State())
	})

	assert.Equal(t, []bool{false, false, true, false, false}, hooks)
}

func TestReload_Watch(t *testing.T) {
	f := newFixture(t, WithReloadMode(ReloadWatch))
	handler := f.write(t, "handler.lua", `return function() return "v1" end`)
	f.boot(t, "", handler)
	slot := f.manager.Slot()

	f.write(t, "handler.lua", `return function() return "v2" end`)
	assert.Equal(t, lua.LString("v1"), f.call(t, slot, lua.LNil), "no reload without a notification")

	f.manager.MarkStale()
	assert.Equal(t, lua.LString("v2"), f.call(t, slot, lua.LNil))

	f.write(t, "handler.lua", `return 1`)
	f.manager.MarkStale()
	err := f.do(t, func(L *lua.LState) error { return f.manager.ReloadHandler(L) })
	require.ErrorIs(t, err, errz.ErrNotAFunction)

	f.write(t, "handler.lua", `return function() return "v3" end`)
	assert.Equal(t, lua.LString("v3"), f.call(t, slot, lua.LNil), "a failed reload is retried")
}

func TestPlaybackLogs(t *testing.T) {
	f := newFixture(t)
	handler := f.write(t, "handler.lua", `return function() end`)
	f.boot(t, "", handler)

	var replay bytes.Buffer
	require.NoError(t, f.manager.PlaybackLogs(slog.NewTextHandler(&replay, nil)))
	assert.Contains(t, replay.String(), "Handler loaded")
}

func TestParseReloadMode(t *testing.T) {
	for in, want := range map[string]ReloadMode{"": ReloadNever, "Always": ReloadAlways, "watch": ReloadWatch} {
		got, err := ParseReloadMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseReloadMode("sometimes")
	require.Error(t, err)
}
