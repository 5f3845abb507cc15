package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"inspect", "json", "re", "strings"}, Names())
}

func TestByNameUnknown(t *testing.T) {
	_, err := ByName([]string{"json", "os"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown module "os"`)
}

func TestLoadModules(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	mods, err := ByName([]string{"json", "re"})
	require.NoError(t, err)
	require.NoError(t, LoadModules(L, mods))

	err = L.DoString(`
		local json = require("json")
		local re = require("re")
		local t = json.decode('{"a": [1, 2]}')
		result = json.encode(t.a) .. "|" .. tostring(re.match("abc123", "[0-9]+"))
	`)
	require.NoError(t, err)
	assert.Equal(t, "[1,2]|123", L.GetGlobal("result").String())
}

func TestBuiltinStrings(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	require.NoError(t, LoadModules(L, Builtin()))
	require.NoError(t, L.DoString(`
		local strings = require("strings")
		result = strings.trim_space("  padded  ")
	`))
	assert.Equal(t, "padded", L.GetGlobal("result").String())
}
