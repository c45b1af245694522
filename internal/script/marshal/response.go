package marshal

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/net/http/httpguts"
)

// Fixed wire bodies for failures. Error details are never written to the client.
const (
	BodyHandlerNotLoaded = "HTTP handler not loaded"
	BodyInternalError    = "Internal Server Error"
)

// DefaultStatus is used when the handler result has no status.
const DefaultStatus = http.StatusOK

const (
	minStatus = 100
	maxStatus = 999
)

// Header is one response header in the order the script supplied it.
type Header struct {
	Name  string
	Value string
}

// Response is a converted handler result.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// ToResponse converts a handler result. The value must be a table with optional status,
// headers and body fields.
func ToResponse(lv lua.LValue) (*Response, error) {
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: handler must return a table, got %s", errz.ErrMarshal, bridge.TypeName(lv))
	}

	resp := &Response{Status: DefaultStatus, Body: []byte{}}

	switch status := tbl.RawGetString("status").(type) {
	case *lua.LNilType:
	case lua.LNumber:
		f := float64(status)
		if f != math.Trunc(f) || f < minStatus || f > maxStatus {
			return nil, fmt.Errorf("%w: invalid status %v", errz.ErrMarshal, f)
		}
		resp.Status = int(f)
	default:
		return nil, fmt.Errorf("%w: status must be a number, got %s", errz.ErrMarshal, bridge.TypeName(status))
	}

	switch headers := tbl.RawGetString("headers").(type) {
	case *lua.LNilType:
	case *lua.LTable:
		var herr error
		bridge.Each(headers, func(k, v lua.LValue) {
			if herr != nil {
				return
			}
			var h Header
			h, herr = toHeader(k, v)
			if herr == nil {
				resp.Headers = append(resp.Headers, h)
			}
		})
		if herr != nil {
			return nil, herr
		}
	default:
		return nil, fmt.Errorf("%w: headers must be a table, got %s", errz.ErrMarshal, bridge.TypeName(headers))
	}

	switch b := tbl.RawGetString("body").(type) {
	case *lua.LNilType:
	case lua.LString:
		resp.Body = []byte(b)
	case lua.LNumber:
		resp.Body = []byte(b.String())
	default:
		return nil, fmt.Errorf("%w: body must be a string, got %s", errz.ErrMarshal, bridge.TypeName(b))
	}

	return resp, nil
}

func toHeader(k, v lua.LValue) (Header, error) {
	name, ok := k.(lua.LString)
	if !ok || !httpguts.ValidHeaderFieldName(string(name)) {
		return Header{}, fmt.Errorf("%w: invalid header name %s", errz.ErrMarshal, k.String())
	}
	var value string
	switch vv := v.(type) {
	case lua.LString:
		value = string(vv)
	case lua.LNumber:
		value = vv.String()
	default:
		return Header{}, fmt.Errorf("%w: header %s must be a string, got %s",
			errz.ErrMarshal, name, bridge.TypeName(v))
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return Header{}, fmt.Errorf("%w: invalid value for header %s", errz.ErrMarshal, name)
	}
	return Header{Name: string(name), Value: value}, nil
}

// Write sends the response.
func (r *Response) Write(w http.ResponseWriter) {
	h := w.Header()
	for _, hdr := range r.Headers {
		h.Set(hdr.Name, hdr.Value)
	}
	if h.Get("Content-Length") == "" {
		h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

// WriteHandlerNotLoaded writes the fixed response used when no handler is loaded.
func WriteHandlerNotLoaded(w http.ResponseWriter) {
	writeFixed(w, http.StatusInternalServerError, BodyHandlerNotLoaded)
}

// WriteInternalError writes the fixed response used for every failed call.
func WriteInternalError(w http.ResponseWriter) {
	writeFixed(w, http.StatusInternalServerError, BodyInternalError)
}

func writeFixed(w http.ResponseWriter, status int, msg string) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Length", strconv.Itoa(len(msg)))
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
