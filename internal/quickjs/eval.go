//go:build !v8

package quickjs

import (
	"encoding/json"
	"errors"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"

	"github.com/cryguy/wptworker/internal/core"
)

// evalGlobal evaluates js as a global script. A thrown value comes back as
// a *core.ScriptError read from the value itself.
func evalGlobal(vm *quickjs.VM, js string) error {
	h, ok := cHandles(vm)
	if !ok {
		v, err := vm.EvalValue(js, quickjs.EvalGlobal)
		if err != nil {
			return core.ParseScriptError(err)
		}
		v.Free()
		return nil
	}

	src, err := libc.CString(js)
	if err != nil {
		return err
	}
	defer libc.Xfree(h.tls, src)
	name, err := libc.CString("<eval>")
	if err != nil {
		return err
	}
	defer libc.Xfree(h.tls, name)

	v := lib.XJS_Eval(h.tls, h.ctx, src, libc.Tsize_t(len(js)), name, int32(quickjs.EvalGlobal))
	lib.XFreeValue(h.tls, h.ctx, v)
	if lib.XJS_HasException(h.tls, h.ctx) == 0 {
		return nil
	}
	return h.takeException()
}

// takeException clears the pending exception and describes it with
// __serializeError, the same serializer asynchronous failures go through.
// Before that exists the engine's String() of the value is parsed.
func (h handles) takeException() *core.ScriptError {
	exc := lib.XJS_GetException(h.tls, h.ctx)
	defer lib.XFreeValue(h.tls, h.ctx, exc)

	if res, ok := h.call("__serializeError", exc); ok {
		payload := h.toString(res)
		lib.XFreeValue(h.tls, h.ctx, res)
		var info core.ErrorInfo
		if json.Unmarshal([]byte(payload), &info) == nil {
			return &core.ScriptError{Name: info.Name, Message: info.Message, Stack: info.Stack}
		}
	}
	return core.ParseScriptError(errors.New(h.toString(exc)))
}
