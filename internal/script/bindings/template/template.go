// Package template implements the template capability. Templates are files under one
// directory; .html and .htm files are parsed with html/template, everything else with
// text/template.
package template

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/atlanticdynamic/nitr/internal/script/bindings"
	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
	lua "github.com/yuin/gopher-lua"
)

// DefaultDir is used when no template directory is configured.
const DefaultDir = "scripts/templates"

type executor interface {
	Execute(w io.Writer, data any) error
}

// Renderer loads templates from a directory and caches them by path.
type Renderer struct {
	dir   string
	mu    sync.Mutex
	cache map[string]executor
}

// NewRenderer creates a Renderer rooted at dir.
func NewRenderer(dir string) *Renderer {
	if dir == "" {
		dir = DefaultDir
	}
	return &Renderer{dir: dir, cache: make(map[string]executor)}
}

// Dir returns the template root.
func (r *Renderer) Dir() string { return r.dir }

// Render executes the template at name with data. Unknown or unparsable templates are
// errz.ErrMarshal; execution failures are returned as is.
func (r *Renderer) Render(name string, data any) (string, error) {
	tmpl, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// Reset drops every cached template.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

func (r *Renderer) lookup(name string) (executor, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || !filepath.IsLocal(clean) {
		return nil, fmt.Errorf("%w: invalid template path %q", errz.ErrMarshal, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[clean]; ok {
		return t, nil
	}

	src, err := os.ReadFile(filepath.Join(r.dir, clean))
	if err != nil {
		return nil, fmt.Errorf("%w: template %q not found: %w", errz.ErrMarshal, name, err)
	}

	var t executor
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".html", ".htm":
		t, err = htmltemplate.New(clean).Parse(string(src))
	default:
		t, err = texttemplate.New(clean).Parse(string(src))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: template %q: %w", errz.ErrMarshal, name, err)
	}
	r.cache[clean] = t
	return t, nil
}

// Loader builds the template module table bound to r.
func Loader(r *Renderer) func(L *lua.LState) lua.LValue {
	return func(L *lua.LState) lua.LValue {
		return bindings.NewModule(L, map[string]bindings.Func{
			"render": func(L *lua.LState, base int) int {
				name := L.CheckString(base)
				var data any
				if arg := L.Get(base + 1); arg != lua.LNil {
					tbl, ok := arg.(*lua.LTable)
					if !ok {
						bindings.RaiseMarshal(L, "template data must be a table, got %s", bridge.TypeName(arg))
						return 0
					}
					data = bridge.FromLua(tbl).Interface()
				}
				out, err := r.Render(name, data)
				if err != nil {
					if errors.Is(err, errz.ErrMarshal) {
						bindings.RaiseErr(L, err)
						return 0
					}
					L.RaiseError("%s", err.Error())
					return 0
				}
				L.Push(lua.LString(out))
				return 1
			},
		})
	}
}
