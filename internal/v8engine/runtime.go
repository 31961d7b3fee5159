//go:build v8

package v8engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/wptworker/internal/core"
)

// v8Runtime implements core.JSRuntime for the V8 engine.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context

	// gcFn is the engine's gc function, taken off the global object so
	// the bootstrap can define its own.
	gcFn *v8.Function
}

var (
	_ core.JSRuntime = (*v8Runtime)(nil)
	_ core.Collector = (*v8Runtime)(nil)
)

// Eval evaluates JavaScript and discards the result. Exceptions come back
// as *core.ScriptError.
func (r *v8Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return scriptError(err)
}

// scriptError converts a V8 exception into a ScriptError. v8go hands back
// String() of the thrown value and, for objects carrying one, its stack.
// An Error's String() is "name: message", so the first ": " splits it; a
// value without a stack keeps the whole string as the message.
func scriptError(err error) error {
	if err == nil {
		return nil
	}
	var jsErr *v8.JSError
	if !errors.As(err, &jsErr) {
		return err
	}
	se := &core.ScriptError{Name: "Error", Message: jsErr.Message}
	if jsErr.StackTrace == "" {
		return se
	}
	se.Stack = jsErr.StackTrace
	if name, msg, ok := strings.Cut(jsErr.Message, ": "); ok && !strings.Contains(name, "\n") {
		se.Name, se.Message = name, msg
	} else if !strings.ContainsAny(jsErr.Message, " \n") && jsErr.Message != "" {
		se.Name, se.Message = jsErr.Message, ""
	}
	return se
}

// takeGC removes the engine's global gc function and keeps it for
// CollectGarbage. It is a no-op unless --expose-gc is set.
func (r *v8Runtime) takeGC() error {
	val, err := r.ctx.Global().Get("gc")
	if err != nil {
		return err
	}
	if !val.IsFunction() {
		return nil
	}
	fn, err := val.AsFunction()
	if err != nil {
		return err
	}
	r.gcFn = fn
	_, err = r.ctx.RunScript("delete globalThis.gc;", "gc.js")
	return err
}

// CollectGarbage runs a full collection through the engine's gc function.
func (r *v8Runtime) CollectGarbage() {
	if r.gcFn == nil {
		return
	}
	_, _ = r.gcFn.Call(v8.Undefined(r.iso))
}

// eval runs js and converts exceptions like Eval does.
func (r *v8Runtime) eval(js, origin string) (*v8.Value, error) {
	val, err := r.ctx.RunScript(js, origin)
	if err != nil {
		return nil, scriptError(err)
	}
	return val, nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.eval(js, "eval_string.js")
	if err != nil || val == nil {
		return "", err
	}
	return val.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.eval(js, "eval_bool.js")
	if err != nil || val == nil {
		return false, err
	}
	return val.Boolean(), nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *v8Runtime) EvalInt(js string) (int, error) {
	val, err := r.eval(js, "eval_int.js")
	if err != nil || val == nil {
		return 0, err
	}
	return int(val.Integer()), nil
}

// RegisterFunc exposes fn as a global function. fn may take string, int,
// int64, float64 and bool arguments and return nothing, one such value, or
// (value, error). A non-nil error, like a short argument list, throws a
// TypeError in JS so both engines fail host calls the same way.
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return fmt.Errorf("registering %s: expected function, got %T", name, fn)
	}
	fnType := fnVal.Type()
	if fnType.NumOut() > 2 {
		return fmt.Errorf("registering %s: too many results", name)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		val, msg := r.callHost(name, fnVal, info.Args())
		if msg != "" {
			jsMsg, _ := v8.NewValue(r.iso, msg)
			r.iso.ThrowException(jsMsg)
			return nil
		}
		return val
	})

	rawName := "__raw_" + name
	if err := r.ctx.Global().Set(rawName, tmpl.GetFunction(r.ctx)); err != nil {
		return err
	}
	// Host failures are thrown as strings and rewrapped here as TypeErrors.
	return r.Eval(fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			try {
				return raw.apply(this, arguments);
			} catch (e) {
				if (typeof e === 'string') throw new TypeError(e);
				throw e;
			}
		};
		delete globalThis[%q];
	})()`, rawName, name, rawName))
}

// callHost invokes fn with args converted to its parameter types. A
// non-empty message means the call must throw.
func (r *v8Runtime) callHost(name string, fn reflect.Value, args []*v8.Value) (*v8.Value, string) {
	fnType := fn.Type()
	if len(args) < fnType.NumIn() {
		return nil, fmt.Sprintf("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(args))
	}
	in := make([]reflect.Value, fnType.NumIn())
	for i := range in {
		in[i] = fromJS(args[i], fnType.In(i))
	}
	out := fn.Call(in)
	switch len(out) {
	case 0:
		return nil, ""
	case 2:
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, fmt.Sprintf("calling %s: %s", name, err)
		}
	}
	return toJS(r.iso, out[0]), ""
}

// SetGlobal sets a global variable on the JS context. Values other than
// scalars and V8 handles go through JSON.
func (r *v8Runtime) SetGlobal(name string, value any) error {
	var (
		val *v8.Value
		err error
	)
	switch v := value.(type) {
	case nil:
		val = v8.Undefined(r.iso)
	case *v8.Value:
		val = v
	case *v8.Object:
		val = v.Value
	case string, int32, float64, bool:
		val, err = v8.NewValue(r.iso, v)
	case int:
		val = toJS(r.iso, reflect.ValueOf(v))
	case int64:
		val = toJS(r.iso, reflect.ValueOf(v))
	default:
		data, merr := json.Marshal(value)
		if merr != nil {
			return fmt.Errorf("converting value for %q: %w", name, merr)
		}
		val, err = v8.JSONParse(r.ctx, string(data))
	}
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, val)
}

// RunMicrotasks pumps the V8 microtask queue, then reports promise
// rejections still unhandled once it is empty.
func (r *v8Runtime) RunMicrotasks() {
	for {
		r.ctx.PerformMicrotaskCheckpoint()
		if !r.notifyRejections() {
			return
		}
	}
}

// notifyRejections calls __notifyRejections and reports whether it
// dispatched anything.
func (r *v8Runtime) notifyRejections() bool {
	val, err := r.ctx.Global().Get("__notifyRejections")
	if err != nil || !val.IsFunction() {
		return false
	}
	fn, err := val.AsFunction()
	if err != nil {
		return false
	}
	res, err := fn.Call(v8.Undefined(r.iso))
	return err == nil && res != nil && res.Boolean()
}

func fromJS(val *v8.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	}
	return reflect.Zero(t)
}

// toJS converts a scalar result. Integers outside int32 become doubles.
func toJS(iso *v8.Isolate, val reflect.Value) *v8.Value {
	var (
		v   *v8.Value
		err error
	)
	switch val.Kind() {
	case reflect.String:
		v, err = v8.NewValue(iso, val.String())
	case reflect.Int, reflect.Int64, reflect.Int32:
		if n := val.Int(); n >= -1<<31 && n < 1<<31 {
			v, err = v8.NewValue(iso, int32(n))
		} else {
			v, err = v8.NewValue(iso, float64(n))
		}
	case reflect.Float64, reflect.Float32:
		v, err = v8.NewValue(iso, val.Float())
	case reflect.Bool:
		v, err = v8.NewValue(iso, val.Bool())
	}
	if err != nil {
		return nil
	}
	return v
}
