// Package fetch implements the fetch capability: outbound HTTP requests from scripts.
//
// The network call runs inside the script call, so the engine stays occupied until the
// response headers arrive. Response bodies are released when the call ends.
package fetch

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/bindings"
	"github.com/atlanticdynamic/nitr/internal/script/body"
	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	"github.com/atlanticdynamic/nitr/internal/script/engine"
	"github.com/hashicorp/go-retryablehttp"
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/net/http/httpguts"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 0
)

// Client performs fetch calls.
type Client struct {
	http      *retryablehttp.Client
	logger    *slog.Logger
	bodyLimit int64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the timeout of a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.HTTPClient.Timeout = d
		}
	}
}

// WithRetries sets how many times a failed attempt is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.http.RetryMax = n
		}
	}
}

// WithRetryWait bounds the wait between retries.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.http.RetryWaitMin = minWait
		c.http.RetryWaitMax = maxWait
	}
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
			c.http.Logger = logger
		}
	}
}

// WithBodyLimit caps how many response bytes a script can read. Zero means no limit.
func WithBodyLimit(n int64) Option {
	return func(c *Client) {
		c.bodyLimit = n
	}
}

// NewClient creates a fetch client backed by go-retryablehttp.
func NewClient(opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = DefaultRetries
	rc.HTTPClient.Timeout = DefaultTimeout
	// hand every response, including 5xx, to the script
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	logger := slog.Default().WithGroup("fetch")
	rc.Logger = logger

	c := &Client{http: rc, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Loader returns the capability loader for the fetch function.
func Loader(c *Client) func(L *lua.LState) lua.LValue {
	return func(L *lua.LState) lua.LValue {
		return L.NewFunction(c.fetch)
	}
}

// Request is a validated fetch request.
type Request struct {
	Method  string
	URL     *url.URL
	Headers http.Header
}

// ParseRequest validates the fetch arguments without touching the network.
func ParseRequest(method, rawURL string, headers *lua.LTable) (*Request, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" || !httpguts.ValidHeaderFieldName(m) {
		return nil, fmt.Errorf("invalid http method %q", method)
	}

	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}

	req := &Request{Method: m, URL: u, Headers: make(http.Header)}
	if headers == nil {
		return req, nil
	}

	var herr error
	bridge.Each(headers, func(k, v lua.LValue) {
		if herr != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok || !httpguts.ValidHeaderFieldName(string(name)) {
			herr = fmt.Errorf("invalid header name %s", k.String())
			return
		}
		var value string
		switch vv := v.(type) {
		case lua.LString:
			value = string(vv)
		case lua.LNumber:
			value = vv.String()
		default:
			herr = fmt.Errorf("header %s must be a string or number, got %s", name, bridge.TypeName(v))
			return
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			herr = fmt.Errorf("invalid value for header %s", name)
			return
		}
		req.Headers.Set(string(name), value)
	})
	if herr != nil {
		return nil, herr
	}
	return req, nil
}

func (c *Client) fetch(L *lua.LState) int {
	method := L.Get(1)
	rawURL := L.Get(2)
	ms, ok1 := method.(lua.LString)
	us, ok2 := rawURL.(lua.LString)
	if !ok1 || !ok2 {
		bindings.RaiseMarshal(L, "fetch expects (method, url, headers?), got (%s, %s)",
			bridge.TypeName(method), bridge.TypeName(rawURL))
		return 0
	}

	var headers *lua.LTable
	switch h := L.Get(3).(type) {
	case *lua.LNilType:
	case *lua.LTable:
		headers = h
	default:
		bindings.RaiseMarshal(L, "fetch headers must be a table, got %s", bridge.TypeName(h))
		return 0
	}

	req, err := ParseRequest(string(ms), string(us), headers)
	if err != nil {
		bindings.RaiseMarshal(L, "%v", err)
		return 0
	}

	resp, err := c.Do(L, req)
	if err != nil {
		L.RaiseError("fetch %s %s failed: %v", req.Method, req.URL.Redacted(), err)
		return 0
	}
	L.Push(c.responseValue(L, resp))
	return 1
}

// Do sends req using the context of the running call.
func (c *Client) Do(L *lua.LState, req *Request) (*http.Response, error) {
	rreq, err := retryablehttp.NewRequestWithContext(engine.CallContext(L), req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	rreq.Header = req.Headers

	start := time.Now()
	resp, err := c.http.Do(rreq)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Fetch completed",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"duration", time.Since(start))
	return resp, nil
}

func (c *Client) responseValue(L *lua.LState, resp *http.Response) *lua.LUserData {
	var src io.Reader = resp.Body
	if !engine.Track(L, resp.Body) {
		// outside a managed call the body is buffered now so it can be closed
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			bindings.RaiseMarshal(L, "failed to read response body: %v", err)
		}
		src = strings.NewReader(string(data))
	}
	cursor := body.NewCursor(src, body.WithLimit(c.bodyLimit))

	finalURL := resp.Request.URL
	ud := L.NewUserData()
	ud.Value = resp
	bindings.UserDataIndex(L, ud, func(key string) lua.LValue {
		switch key {
		case "status":
			return lua.LNumber(resp.StatusCode)
		case "url":
			return urlTable(L, finalURL)
		case "headers":
			return headerTable(L, resp.Header)
		case "contentLength", "content_length":
			if resp.ContentLength < 0 {
				return lua.LNil
			}
			return lua.LNumber(resp.ContentLength)
		case "read", "text", "json":
			return bindings.BodyFunc(L, ud, cursor, key)
		}
		return nil
	})
	return ud
}

func urlTable(L *lua.LState, u *url.URL) *lua.LTable {
	port, _ := strconv.Atoi(u.Port())
	return bindings.URITable(L, u.Scheme, u.Hostname(), port, u.EscapedPath(), u.Host, u.RawQuery)
}

// headerTable maps each header name to its last value.
func headerTable(L *lua.LState, h http.Header) *lua.LTable {
	t := L.NewTable()
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		L.SetField(t, name, lua.LString(values[len(values)-1]))
	}
	return t
}
