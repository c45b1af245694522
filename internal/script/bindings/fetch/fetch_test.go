package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/engine"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		url     string
		wantErr bool
	}{
		{name: "lower case method", method: "get", url: "http://example.com/a"},
		{name: "custom token method", method: "purge", url: "https://example.com"},
		{name: "method with space", method: "GE T", url: "http://example.com", wantErr: true},
		{name: "empty method", method: "", url: "http://example.com", wantErr: true},
		{name: "not a url", method: "GET", url: "not a url", wantErr: true},
		{name: "relative", method: "GET", url: "/path", wantErr: true},
		{name: "unsupported scheme", method: "GET", url: "ftp://example.com/file", wantErr: true},
		{name: "missing host", method: "GET", url: "http:///path", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(tt.method, tt.url, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Regexp(t, `^[A-Z]+$`, req.Method)
		})
	}
}

func TestParseRequest_Headers(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	good := L.NewTable()
	L.SetField(good, "x-token", lua.LString("abc"))
	L.SetField(good, "X-Count", lua.LNumber(3))
	req, err := ParseRequest("GET", "http://example.com", good)
	require.NoError(t, err)
	assert.Equal(t, "abc", req.Headers.Get("X-Token"))
	assert.Equal(t, "3", req.Headers.Get("X-Count"))

	badName := L.NewTable()
	L.SetField(badName, "bad header", lua.LString("v"))
	_, err = ParseRequest("GET", "http://example.com", badName)
	require.Error(t, err)

	badValue := L.NewTable()
	L.SetField(badValue, "X-Flag", lua.LTrue)
	_, err = ParseRequest("GET", "http://example.com", badValue)
	require.Error(t, err)
}

type fixture struct {
	engine *engine.Engine
}

func newFixture(t *testing.T, client *Client) *fixture {
	t.Helper()
	e, err := engine.New()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	require.NoError(t, e.Do(context.Background(), func(L *lua.LState) error {
		L.SetGlobal("fetch", Loader(client)(L))
		return nil
	}))
	return &fixture{engine: e}
}

func (f *fixture) run(t *testing.T, src string, args ...lua.LValue) (lua.LValue, error) {
	t.Helper()
	var ret lua.LValue
	err := f.engine.Do(context.Background(), func(L *lua.LState) error {
		chunk, err := f.engine.Compile(L, "fetch_test", src)
		if err != nil {
			return err
		}
		fn, err := f.engine.EvalFunction(L, chunk)
		if err != nil {
			return err
		}
		ret, err = f.engine.Execute(L, fn, args...)
		return err
	})
	return ret, err
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Echo", r.Header.Get("X-Token"))
		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"ok":true,"n":2}`)
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/fail":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
		default:
			_, _ = io.WriteString(w, "hello")
		}
	}))
	defer srv.Close()

	f := newFixture(t, NewClient(WithTimeout(5*time.Second)))

	t.Run("text and metadata", func(t *testing.T) {
		ret, err := f.run(t, `return function(base)
			local r = fetch("get", base .. "/text?x=1", {["x-token"] = "t1"})
			return table.concat({
				r.status, r.headers["X-Method"], r.headers["X-Echo"],
				r.url.scheme, r.url.path, r.url.query, tostring(r.contentLength),
				r:text(),
			}, "|")
		end`, lua.LString(srv.URL))
		require.NoError(t, err)
		assert.Equal(t, lua.LString("200|GET|t1|http|/text|x=1|5|hello"), ret)
	})

	t.Run("json", func(t *testing.T) {
		ret, err := f.run(t, `return function(base)
			local body = fetch("GET", base .. "/json").json()
			return body.ok and body.n == 2
		end`, lua.LString(srv.URL))
		require.NoError(t, err)
		assert.Equal(t, lua.LTrue, ret)
	})

	t.Run("chunked read then empty", func(t *testing.T) {
		ret, err := f.run(t, `return function(base)
			local r = fetch("GET", base .. "/text")
			local first = r:read()
			local second = r:read()
			return first .. tostring(second) .. "|" .. r:text()
		end`, lua.LString(srv.URL))
		require.NoError(t, err)
		assert.Equal(t, lua.LString("hellonil|"), ret)
	})

	t.Run("json on empty body", func(t *testing.T) {
		_, err := f.run(t, `return function(base)
			return fetch("GET", base .. "/empty"):json()
		end`, lua.LString(srv.URL))
		require.ErrorIs(t, err, errz.ErrMarshal)
	})

	t.Run("server errors are responses", func(t *testing.T) {
		ret, err := f.run(t, `return function(base)
			local r = fetch("POST", base .. "/fail")
			return r.status .. ":" .. r:text()
		end`, lua.LString(srv.URL))
		require.NoError(t, err)
		assert.Equal(t, lua.LString("502:upstream down"), ret)
	})

	t.Run("connection failure is a runtime error", func(t *testing.T) {
		_, err := f.run(t, `return function()
			return fetch("GET", "http://127.0.0.1:1/")
		end`)
		require.ErrorIs(t, err, errz.ErrScriptRuntime)
		assert.NotErrorIs(t, err, errz.ErrMarshal)
	})
}

func TestFetch_InvalidInputNeverReachesNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, NewClient())
	scripts := []string{
		`return function() return fetch("get", "not a url") end`,
		`return function(base) return fetch("GE T", base) end`,
		`return function(base) return fetch("GET", base, {["bad name"] = "x"}) end`,
		`return function(base) return fetch("GET", base, "headers") end`,
		`return function(base) return fetch(nil, base) end`,
	}
	for _, src := range scripts {
		_, err := f.run(t, src, lua.LString(srv.URL))
		require.ErrorIs(t, err, errz.ErrMarshal, src)
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetch_HoldsEngineDuringNetworkCall(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		_, _ = io.WriteString(w, "slow")
	}))
	defer srv.Close()

	f := newFixture(t, NewClient())

	var secondStarted atomic.Bool
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.run(t, `return function(base) return fetch("GET", base):text() end`, lua.LString(srv.URL))
		firstErr <- err
	}()
	<-arrived

	secondErr := make(chan error, 1)
	go func() {
		secondErr <- f.engine.Do(context.Background(), func(*lua.LState) error {
			secondStarted.Store(true)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, secondStarted.Load(), "second call must wait for the in-flight fetch")

	close(release)
	require.NoError(t, <-firstErr)
	require.NoError(t, <-secondErr)
	assert.True(t, secondStarted.Load())
}
