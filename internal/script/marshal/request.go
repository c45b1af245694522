// Package marshal converts inbound HTTP requests into script values and handler results
// into HTTP responses.
package marshal

import (
	"net"
	"net/http"
	"strconv"

	"github.com/atlanticdynamic/nitr/internal/script/bindings"
	"github.com/atlanticdynamic/nitr/internal/script/body"
	lua "github.com/yuin/gopher-lua"
)

// Request is the script view of one inbound request.
type Request struct {
	RemoteAddr string
	Method     string
	URI        URI
	Headers    map[string]string

	cursor *body.Cursor
}

// URI holds the decomposed request target.
type URI struct {
	Scheme    string
	Host      string
	Port      int
	Path      string
	Authority string
	Query     string
}

// Option configures request conversion.
type Option func(*options)

type options struct {
	chunkSize int
	bodyLimit int64
}

// WithChunkSize sets the size of chunks returned by read().
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithBodyLimit caps the bytes a script can read from the request body.
func WithBodyLimit(n int64) Option {
	return func(o *options) { o.bodyLimit = n }
}

// NewRequest captures r. The body is read lazily, at most once.
func NewRequest(r *http.Request, opts ...Option) *Request {
	o := options{chunkSize: body.DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[len(values)-1]
		}
	}

	return &Request{
		RemoteAddr: r.RemoteAddr,
		Method:     r.Method,
		URI:        requestURI(r),
		Headers:    headers,
		cursor:     body.NewCursor(r.Body, body.WithChunkSize(o.chunkSize), body.WithLimit(o.bodyLimit)),
	}
}

// requestURI fills scheme and authority from the connection when the request line is
// in origin form. Port is 0 when the authority carries none.
func requestURI(r *http.Request) URI {
	u := URI{
		Scheme: r.URL.Scheme,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.RawQuery,
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}

	u.Authority = r.URL.Host
	if u.Authority == "" {
		u.Authority = r.Host
	}
	u.Host = u.Authority
	if host, port, err := net.SplitHostPort(u.Authority); err == nil {
		u.Host = host
		u.Port, _ = strconv.Atoi(port)
	}
	return u
}

// Body returns the request body cursor.
func (r *Request) Body() *body.Cursor {
	return r.cursor
}

// ToLua exposes the request as read-only userdata.
func (r *Request) ToLua(L *lua.LState) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = r
	bindings.UserDataIndex(L, ud, func(key string) lua.LValue {
		switch key {
		case "remoteAddr", "remote_addr":
			return lua.LString(r.RemoteAddr)
		case "method":
			return lua.LString(r.Method)
		case "uri":
			return bindings.URITable(L, r.URI.Scheme, r.URI.Host, r.URI.Port,
				r.URI.Path, r.URI.Authority, r.URI.Query)
		case "headers":
			t := L.CreateTable(0, len(r.Headers))
			for name, value := range r.Headers {
				L.SetField(t, name, lua.LString(value))
			}
			return t
		case "read", "text", "json":
			return bindings.BodyFunc(L, ud, r.cursor, key)
		}
		return nil
	})
	return ud
}
