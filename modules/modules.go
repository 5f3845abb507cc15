// Package modules holds the Lua modules guests are allowed to require. Every
// module here is pure computation: none of them reach the filesystem, the
// network or other processes.
package modules

import (
	"fmt"
	"sort"

	luajson "github.com/layeh/gopher-json"
	log "github.com/sirupsen/logrus"
	"github.com/vadv/gopher-lua-libs/inspect"
	"github.com/vadv/gopher-lua-libs/strings"
	"github.com/yuin/gluare"
	lua "github.com/yuin/gopher-lua"
)

type PreloadFunc func(L *lua.LState)

var registry = map[string]PreloadFunc{
	"json": luajson.Preload,
	"re": func(L *lua.LState) {
		L.PreloadModule("re", gluare.Loader)
	},
	"strings": strings.Preload,
	"inspect": inspect.Preload,
}

// Names lists the modules that can be allowed, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Builtin returns every known module
func Builtin() []PreloadFunc {
	mods, _ := ByName(Names())
	return mods
}

// ByName returns the preload functions for the given module names. An unknown
// name is an error so a typo in the configuration doesn't silently disable a module.
func ByName(names []string) ([]PreloadFunc, error) {
	var mods []PreloadFunc
	for _, name := range names {
		preload, found := registry[name]
		if !found {
			return nil, fmt.Errorf("unknown module %q, allowed modules are %v", name, Names())
		}

		log.WithField("module", name).Trace("module allowed")
		mods = append(mods, preload)
	}

	return mods, nil
}

func LoadModules(L *lua.LState, mods []PreloadFunc) error {
	for _, preload := range mods {
		preload(L)
	}

	return nil
}
