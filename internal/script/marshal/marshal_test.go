package marshal

import (
	"bufio"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestNewRequest_URI(t *testing.T) {
	t.Run("origin form falls back to host header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/items?id=3", nil)
		r.Host = "api.example.com:8443"
		got := NewRequest(r).URI
		assert.Equal(t, URI{
			Scheme:    "http",
			Host:      "api.example.com",
			Port:      8443,
			Path:      "/items",
			Authority: "api.example.com:8443",
			Query:     "id=3",
		}, got)
	})

	t.Run("tls without port", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = "secure.example.com"
		r.TLS = &tls.ConnectionState{}
		got := NewRequest(r).URI
		assert.Equal(t, "https", got.Scheme)
		assert.Equal(t, "secure.example.com", got.Host)
		assert.Equal(t, 0, got.Port)
	})

	t.Run("absolute form", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "http://proxy.example.com:81/a%20b", nil)
		got := NewRequest(r).URI
		assert.Equal(t, "proxy.example.com", got.Host)
		assert.Equal(t, 81, got.Port)
		assert.Equal(t, "/a%20b", got.Path)
	})
}

func TestNewRequest_HeadersLastValueWins(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Add("X-Multi", "first")
	r.Header.Add("X-Multi", "second")
	r.Header.Set("x-lower", "v")

	req := NewRequest(r)
	assert.Equal(t, "second", req.Headers["X-Multi"])
	assert.Equal(t, "v", req.Headers["X-Lower"])
	assert.Equal(t, http.MethodPost, req.Method)
}

func runWithRequest(t *testing.T, r *http.Request, src string) (*lua.LState, error) {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	L.SetGlobal("req", NewRequest(r, WithChunkSize(4)).ToLua(L))
	return L, L.DoString(src)
}

func TestRequest_ToLua(t *testing.T) {
	r := httptest.NewRequest("PATCH", "/p?x=1", strings.NewReader(`{"a":[1,2]}`))
	r.Header.Set("X-Id", "42")
	r.RemoteAddr = "10.0.0.1:5555"

	L, err := runWithRequest(t, r, `
		method = req.method
		remote = req.remoteAddr
		remote2 = req.remote_addr
		path = req.uri.path
		query = req.uri.query
		id = req.headers["X-Id"]
		local body = req:json()
		second = body.a[2]
		after = req.read()
	`)
	require.NoError(t, err)
	assert.Equal(t, lua.LString("PATCH"), L.GetGlobal("method"))
	assert.Equal(t, lua.LString("10.0.0.1:5555"), L.GetGlobal("remote"))
	assert.Equal(t, lua.LString("10.0.0.1:5555"), L.GetGlobal("remote2"))
	assert.Equal(t, lua.LString("/p"), L.GetGlobal("path"))
	assert.Equal(t, lua.LString("x=1"), L.GetGlobal("query"))
	assert.Equal(t, lua.LString("42"), L.GetGlobal("id"))
	assert.Equal(t, lua.LNumber(2), L.GetGlobal("second"))
	assert.Equal(t, lua.LNil, L.GetGlobal("after"), "chunked read after a full read is end of stream")
}

func TestRequest_MixedBodyReads(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("abcdefghij"))
	L, err := runWithRequest(t, r, `
		first = req:read()
		rest = req:text()
		again = req:text()
	`)
	require.NoError(t, err)
	assert.Equal(t, lua.LString("abcd"), L.GetGlobal("first"))
	assert.Equal(t, lua.LString("efghij"), L.GetGlobal("rest"))
	assert.Equal(t, lua.LString(""), L.GetGlobal("again"))
}

func TestRequest_JSONOnEmptyBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	_, err := runWithRequest(t, r, `req:json()`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), errz.ErrMarshal.Error())
}

func TestRequest_IsReadOnly(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := runWithRequest(t, r, `req.method = "POST"`)
	require.Error(t, err)
}

func TestNewRequest_HeaderNamesAreCanonical(t *testing.T) {
	raw := "GET /x HTTP/1.1\r\nHost: example.com\r\nx-request-id: abc\r\nCONTENT-type: text/plain\r\n\r\n"
	r, err := http.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	req := NewRequest(r)
	assert.Equal(t, "abc", req.Headers["X-Request-Id"])
	assert.Equal(t, "text/plain", req.Headers["Content-Type"])
	assert.NotContains(t, req.Headers, "x-request-id")
}

func evalResponse(t *testing.T, src string) (*Response, error) {
	t.Helper()
	L := lua.NewState()
	defer L.Close()
	require.NoError(t, L.DoString(src))
	return ToResponse(L.Get(-1))
}

func TestToResponse_HeaderOrder(t *testing.T) {
	want := []Header{
		{Name: "X-A", Value: "1"},
		{Name: "X-B", Value: "2"},
		{Name: "X-C", Value: "3"},
		{Name: "X-D", Value: "4"},
		{Name: "X-E", Value: "5"},
	}
	for range 30 {
		resp, err := evalResponse(t, `return {headers = {
			["X-A"] = "1", ["X-B"] = "2", ["X-C"] = "3", ["X-D"] = "4", ["X-E"] = "5",
		}}`)
		require.NoError(t, err)
		require.Equal(t, want, resp.Headers)
	}
}

func TestToResponse_Scenario(t *testing.T) {
	resp, err := evalResponse(t, `return {status = 201, headers = {["X-Id"] = "42"}, body = "ok"}`)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	resp.Write(rec)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("X-Id"))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestToResponse_Defaults(t *testing.T) {
	resp, err := evalResponse(t, `return {}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, resp.Body)
	assert.Empty(t, resp.Headers)

	resp, err = evalResponse(t, `return {body = 12, headers = {["X-Count"] = 3}}`)
	require.NoError(t, err)
	assert.Equal(t, "12", string(resp.Body))
	assert.Equal(t, []Header{{Name: "X-Count", Value: "3"}}, resp.Headers)
}

func TestToResponse_Errors(t *testing.T) {
	for _, src := range []string{
		`return nil`,
		`return "ok"`,
		`return {status = 42}`,
		`return {status = 200.5}`,
		`return {status = "200"}`,
		`return {headers = "x"}`,
		`return {headers = {["bad name"] = "v"}}`,
		`return {headers = {["X-Bad"] = "line\nbreak"}}`,
		`return {headers = {["X-Flag"] = true}}`,
		`return {body = {}}`,
	} {
		_, err := evalResponse(t, src)
		require.ErrorIs(t, err, errz.ErrMarshal, src)
	}
}

func TestFixedResponses(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHandlerNotLoaded(rec)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, BodyHandlerNotLoaded, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteInternalError(rec)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, BodyInternalError, rec.Body.String())
}
