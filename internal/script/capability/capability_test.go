package capability

import (
	"testing"

	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestSetAlgebra(t *testing.T) {
	a := Debug | Fetch
	b := Fetch | JSON

	assert.Equal(t, Debug|Fetch|JSON, a.Union(b))
	assert.Equal(t, Fetch, a.Intersect(b))
	assert.Equal(t, Debug|JSON, a.SymmetricDiff(b))
	assert.True(t, a.Has(Fetch))
	assert.False(t, a.Has(JSON))
	assert.False(t, a.Has(None))
	assert.True(t, None.IsNone())
	assert.True(t, All.IsAll())
	assert.False(t, a.IsAll())
	assert.Equal(t, 5, All.Len())
	assert.Equal(t, []Set{Debug, Fetch, Template, JSON, Database}, All.List())
}

func TestNamesAndGlobals(t *testing.T) {
	assert.Equal(t, "database", Database.Name())
	assert.Equal(t, "db", Database.Global())
	assert.Equal(t, "fetch", Fetch.Global())
	assert.Equal(t, "", (Debug | JSON).Global())
	assert.Equal(t, "debug|json", (Debug | JSON).String())
	assert.Equal(t, "all", All.String())
	assert.Equal(t, "none", None.String())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  Set
	}{
		{name: "empty", input: nil, want: None},
		{name: "none", input: []string{"none"}, want: None},
		{name: "all", input: []string{"all"}, want: All},
		{name: "mixed case and alias", input: []string{"Fetch", " db "}, want: Fetch | Database},
		{name: "duplicates", input: []string{"json", "json"}, want: JSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Parse([]string{"shell"})
	require.ErrorIs(t, err, errz.ErrCapabilityUnavailable)
}

func TestInstall(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	loaders := map[Set]Loader{
		Fetch: func(L *lua.LState) lua.LValue { return lua.LString("fetch-binding") },
		JSON:  func(L *lua.LState) lua.LValue { return L.NewTable() },
	}

	require.NoError(t, Install(L, Fetch, loaders))
	assert.Equal(t, lua.LString("fetch-binding"), L.GetGlobal("fetch"))
	assert.Equal(t, lua.LNil, L.GetGlobal("json"), "capabilities outside the set stay undefined")
	assert.Equal(t, lua.LNil, L.GetGlobal("db"))

	err := Install(L, Database, loaders)
	require.ErrorIs(t, err, errz.ErrCapabilityUnavailable)
}
