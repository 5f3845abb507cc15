package executor

import (
	"bytes"
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/numkem/hookscript/bridge"
	"github.com/numkem/hookscript/exchange"
	"github.com/numkem/hookscript/modules"
)

// LuaEngine runs scripts with gopher-lua. Only the base, table, string, math and
// package libraries are opened; require can only reach the preloaded modules.
type LuaEngine struct {
	callStackSize int
	modules       []modules.PreloadFunc
}

// NewLuaEngine creates the engine. mods are preloaded in every state and can be
// pulled in by guests with require.
func NewLuaEngine(callStackSize int, mods []modules.PreloadFunc) *LuaEngine {
	return &LuaEngine{
		callStackSize: callStackSize,
		modules:       mods,
	}
}

func (*LuaEngine) Name() string {
	return EXECUTOR_ENGINE_LUA
}

func (*LuaEngine) Libraries() bool {
	return true
}

// Compile parses the source into a function prototype. Prototypes are immutable
// and can be instantiated in any number of states.
func (le *LuaEngine) Compile(name string, source []byte) (Program, error) {
	chunk, err := parse.Parse(bytes.NewReader(source), name)
	if err != nil {
		return nil, err
	}

	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, err
	}

	return &luaProgram{engine: le, proto: proto}, nil
}

type luaProgram struct {
	engine *LuaEngine
	proto  *lua.FunctionProto
}

func (p *luaProgram) Run(ctx context.Context, env *Env) error {
	opts := lua.Options{SkipOpenLibs: true}
	if p.engine.callStackSize > 0 {
		opts.CallStackSize = p.engine.callStackSize
	}

	L := lua.NewState(opts)
	defer L.Close()

	if err := openSafeLibs(L); err != nil {
		return fmt.Errorf("failed to open Lua libraries: %w", err)
	}

	if err := modules.LoadModules(L, p.engine.modules); err != nil {
		return fmt.Errorf("failed to load modules: %w", err)
	}

	bindLuaGlobals(L, env)

	L.SetContext(ctx)
	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if apiErr, ok := err.(*lua.ApiError); ok && apiErr.Object != nil {
			return fmt.Errorf("%s", apiErr.Object.String())
		}
		return err
	}

	return nil
}

func openSafeLibs(L *lua.LState) error {
	for _, pair := range []struct {
		n string
		f lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(pair.f),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.n)); err != nil {
			return err
		}
	}

	// No file access from the base library
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)

	// require only resolves preloaded modules
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		pkg.RawSetString("path", lua.LString(""))
		pkg.RawSetString("cpath", lua.LString(""))

		if loaders, ok := pkg.RawGetString("loaders").(*lua.LTable); ok {
			for loaders.Len() > 1 {
				loaders.Remove(loaders.Len())
			}
		}
	}

	return nil
}

func bindLuaGlobals(L *lua.LState, env *Env) {
	call := func(fname string, fn func(any) error) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			v, err := luaToGo(L.Get(1), 0)
			if err == nil {
				err = fn(v)
			}
			if err != nil {
				L.RaiseError("%s: %s", fname, err.Error())
			}

			return 0
		})
	}

	L.SetGlobal("setResult", call("setResult", env.Bridge.SetResult))
	L.SetGlobal("print", call("print", env.Bridge.Print))
	L.SetGlobal("printerr", call("printerr", env.Bridge.PrintErr))

	L.SetGlobal("header", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		v, found := env.Headers.Get(name)
		if !found {
			L.Push(lua.LNil)
			return 1
		}

		L.Push(goToLua(L, v))
		return 1
	}))

	headers := L.NewTable()
	for _, h := range env.Headers.Headers() {
		if headers.RawGetString(h.Name) != lua.LNil {
			continue
		}
		headers.RawSetString(h.Name, goToLua(L, h.Value()))
	}
	L.SetGlobal("headers", headers)

	bindExchange(env.Exchange, func(name string, v any) {
		L.SetGlobal(name, goToLua(L, v))
	})
}

// bindExchange hands the read-only exchange fields to set
func bindExchange(ex *exchange.Exchange, set func(name string, v any)) {
	if ex == nil {
		return
	}

	set("status", ex.Status)
	set("body", ex.Body)
	set("method", ex.Method)
	set("url", ex.URL)
}

const maxLuaDepth = 64

func luaToGo(v lua.LValue, depth int) (any, error) {
	if depth > maxLuaDepth {
		return nil, fmt.Errorf("table nesting deeper than %d", maxLuaDepth)
	}

	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		return float64(val), nil
	case lua.LString:
		return string(val), nil
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			if hasHashKeys(val, n) {
				return nil, &bridge.ConversionError{Reason: "a table mixing array items and keys"}
			}

			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				item, err := luaToGo(val.RawGetInt(i), depth+1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, item)
			}
			return arr, nil
		}

		obj := make(map[string]any)
		var err error
		val.ForEach(func(k, item lua.LValue) {
			if err != nil {
				return
			}
			var converted any
			converted, err = luaToGo(item, depth+1)
			obj[k.String()] = converted
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	}

	return nil, fmt.Errorf("cannot convert Lua %s to a string", v.Type().String())
}

// hasHashKeys reports whether the table has keys besides the integers 1..n
func hasHashKeys(t *lua.LTable, n int) bool {
	mixed := false
	t.ForEach(func(k, _ lua.LValue) {
		if num, ok := k.(lua.LNumber); ok {
			if i := int(num); lua.LNumber(i) == num && i >= 1 && i <= n {
				return
			}
		}
		mixed = true
	})

	return mixed
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case bool:
		return lua.LBool(val)
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	}

	return lua.LString(fmt.Sprint(v))
}
