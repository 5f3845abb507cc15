package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// JSEngine runs scripts with goja. Each run gets its own runtime; a watcher
// goroutine interrupts it when the invocation context ends.
type JSEngine struct {
	maxCallStackSize int
}

func NewJSEngine(maxCallStackSize int) *JSEngine {
	return &JSEngine{maxCallStackSize: maxCallStackSize}
}

func (*JSEngine) Name() string {
	return EXECUTOR_ENGINE_JS
}

// Libraries is false: there is no module system to resolve them with
func (*JSEngine) Libraries() bool {
	return false
}

func (je *JSEngine) Compile(name string, source []byte) (Program, error) {
	prog, err := goja.Compile(name, string(source), false)
	if err != nil {
		return nil, err
	}

	return &jsProgram{engine: je, prog: prog}, nil
}

type jsProgram struct {
	engine *JSEngine
	prog   *goja.Program
}

func (p *jsProgram) Run(ctx context.Context, env *Env) error {
	vm := goja.New()
	if p.engine.maxCallStackSize > 0 {
		vm.SetMaxCallStackSize(p.engine.maxCallStackSize)
	}

	if err := sandboxJS(vm); err != nil {
		return err
	}
	if err := bindJSGlobals(vm, env); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	_, err := vm.RunProgram(p.prog)
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("interrupted: %v", interrupted.Value())
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return errors.New(ex.Value().String())
	}

	return err
}

func sandboxJS(vm *goja.Runtime) error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	// Timers never fire: the invocation ends when the script returns
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := vm.Set(name, noop); err != nil {
			return err
		}
	}

	return nil
}

func bindJSGlobals(vm *goja.Runtime, env *Env) error {
	call := func(fname string, fn func(any) error) func(goja.FunctionCall) goja.Value {
		return func(c goja.FunctionCall) goja.Value {
			if err := fn(c.Argument(0).Export()); err != nil {
				panic(vm.NewTypeError("%s: %s", fname, err.Error()))
			}

			return goja.Undefined()
		}
	}

	headers := vm.NewObject()
	for _, h := range env.Headers.Headers() {
		if headers.Get(h.Name) != nil {
			continue
		}
		if err := headers.Set(h.Name, goToJS(vm, h.Value())); err != nil {
			return err
		}
	}
	freeze, ok := goja.AssertFunction(vm.Get("Object").ToObject(vm).Get("freeze"))
	if !ok {
		return errors.New("Object.freeze is not a function")
	}
	if _, err := freeze(goja.Undefined(), headers); err != nil {
		return err
	}

	globals := map[string]any{
		"setResult": call("setResult", env.Bridge.SetResult),
		"print":     call("print", env.Bridge.Print),
		"printerr":  call("printerr", env.Bridge.PrintErr),
		"header": func(c goja.FunctionCall) goja.Value {
			v, found := env.Headers.Get(c.Argument(0).String())
			if !found {
				return goja.Undefined()
			}

			return goToJS(vm, v)
		},
		"headers": headers,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return err
		}
	}

	var err error
	bindExchange(env.Exchange, func(name string, v any) {
		if err == nil {
			err = vm.Set(name, v)
		}
	})

	return err
}

func goToJS(vm *goja.Runtime, v any) goja.Value {
	if values, ok := v.([]string); ok {
		items := make([]any, len(values))
		for i, s := range values {
			items[i] = s
		}
		return vm.NewArray(items...)
	}

	return vm.ToValue(v)
}
