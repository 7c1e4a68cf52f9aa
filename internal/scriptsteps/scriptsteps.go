// Package scriptsteps loads step definitions authored in JavaScript. A
// script calls Given/When/Then/Step(pattern, fn); fn receives the scenario
// scope followed by the extracted parameters. fail(msg) signals an
// assertion failure, any other thrown error marks the step errored.
package scriptsteps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"
	"pkt.systems/gherk/internal/gherkin"
	"pkt.systems/gherk/internal/stepdef"
	"pkt.systems/pslog"
)

const prelude = `
function fail(msg) {
	var e = new Error(msg === undefined ? "assertion failed" : String(msg));
	e.assertion = true;
	throw e;
}
`

type loader struct {
	// goja runtimes are single-threaded; the lock serializes step actions
	// so scripted steps stay safe under parallel scenario execution.
	mu     sync.Mutex
	vm     *goja.Runtime
	logger pslog.Base
}

// Load evaluates the given script files and registers every step definition
// they declare.
func Load(reg *stepdef.Registry, paths []string, logger pslog.Base) error {
	if len(paths) == 0 {
		return nil
	}
	l := &loader{vm: goja.New(), logger: logger}
	l.registerConsole()
	if _, err := l.vm.RunString(prelude); err != nil {
		return fmt.Errorf("script prelude: %w", err)
	}

	register := func(role gherkin.Role) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) != 2 {
				panic(l.vm.NewGoError(fmt.Errorf("step registration requires (pattern, fn)")))
			}
			pattern := call.Arguments[0].String()
			fn, ok := goja.AssertFunction(call.Arguments[1])
			if !ok {
				panic(l.vm.NewGoError(fmt.Errorf("second argument to %q must be a function", pattern)))
			}
			if err := reg.Register(role, pattern, l.action(fn)); err != nil {
				panic(l.vm.NewGoError(err))
			}
			return goja.Undefined()
		}
	}
	l.vm.Set("Given", register(gherkin.RoleGiven))
	l.vm.Set("When", register(gherkin.RoleWhen))
	l.vm.Set("Then", register(gherkin.RoleThen))
	l.vm.Set("Step", register(gherkin.RoleNone))

	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("load steps %s: %w", path, err)
		}
		if _, err := l.vm.RunScript(path, string(src)); err != nil {
			return fmt.Errorf("steps %s: %w", path, err)
		}
	}
	return nil
}

func (l *loader) registerConsole() {
	console := l.vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]any, 0, len(call.Arguments)*2)
		for i, arg := range call.Arguments {
			parts = append(parts, fmt.Sprintf("arg%d", i), arg.String())
		}
		if l.logger != nil {
			l.logger.Debug("js console", parts...)
		}
		return goja.Undefined()
	})
	l.vm.Set("console", console)
}

func (l *loader) action(fn goja.Callable) stepdef.Action {
	return func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		callArgs := make([]goja.Value, 0, len(args)+1)
		callArgs = append(callArgs, l.scopeObject(sc))
		for _, a := range args {
			callArgs = append(callArgs, l.vm.ToValue(a))
		}
		if _, err := fn(goja.Undefined(), callArgs...); err != nil {
			return classify(err)
		}
		return nil
	}
}

// scopeObject exposes the scenario scope to scripts as {get, set, has}.
func (l *loader) scopeObject(sc *stepdef.Scope) *goja.Object {
	obj := l.vm.NewObject()
	obj.Set("get", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		v, ok := sc.Get(call.Arguments[0].String())
		if !ok {
			return goja.Undefined()
		}
		return l.vm.ToValue(v)
	})
	obj.Set("set", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return goja.Undefined()
		}
		sc.Set(call.Arguments[0].String(), call.Arguments[1].Export())
		return goja.Undefined()
	})
	obj.Set("has", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return l.vm.ToValue(false)
		}
		_, ok := sc.Get(call.Arguments[0].String())
		return l.vm.ToValue(ok)
	})
	return obj
}

// classify maps a thrown fail(...) to an assertion failure and everything
// else to a step error.
func classify(err error) error {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}
	if obj, ok := ex.Value().(*goja.Object); ok {
		if flag := obj.Get("assertion"); flag != nil && flag.ToBoolean() {
			msg := "assertion failed"
			if m := obj.Get("message"); m != nil {
				msg = m.String()
			}
			return stepdef.Failf("%s", msg)
		}
	}
	return err
}
