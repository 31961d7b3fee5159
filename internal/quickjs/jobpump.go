//go:build !v8

package quickjs

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// handles are the C-level pointers behind a *quickjs.VM. The quickjs Go
// wrapper keeps them unexported, so the job queue, GC, rejection tracker
// and exception access are reached through the C API with these.
type handles struct {
	tls *libc.TLS
	rt  uintptr
	ctx uintptr
}

// executePendingJobs runs every pending job (Promise reactions) in the VM's
// runtime. Returns the number of jobs executed.
func executePendingJobs(vm *quickjs.VM) int {
	h, ok := cHandles(vm)
	if !ok {
		return 0
	}
	count := 0
	for lib.XJS_ExecutePendingJob(h.tls, h.rt, 0) > 0 {
		count++
	}
	return count
}

// collectGarbage runs JS_RunGC on the VM's runtime.
func collectGarbage(vm *quickjs.VM) bool {
	h, ok := cHandles(vm)
	if !ok {
		return false
	}
	lib.XJS_RunGC(h.tls, h.rt)
	return true
}

// cHandles pulls the unexported context, runtime and tls values out of a
// *quickjs.VM.
//
// Layout as of modernc.org/quickjs v0.17.1:
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func cHandles(vm *quickjs.VM) (h handles, ok bool) {
	vmVal := reflect.ValueOf(vm).Elem()

	ctxField := vmVal.FieldByName("cContext")
	if !ctxField.IsValid() {
		return h, false
	}
	h.ctx = uintptr(ctxField.Uint())

	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return h, false
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	cRuntimeField := rtVal.FieldByName("cRuntime")
	if !cRuntimeField.IsValid() {
		return h, false
	}
	h.rt = uintptr(cRuntimeField.Uint())

	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return h, false
	}
	h.tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))
	return h, h.ctx != 0 && h.rt != 0
}

// fp returns the C function pointer ccgo code expects for a Go function.
func fp(f any) uintptr {
	type iface [2]uintptr
	return (*iface)(unsafe.Pointer(&f))[1]
}

// clearException drops the pending exception, if any, and reports whether
// there was one.
func (h handles) clearException() bool {
	if lib.XJS_HasException(h.tls, h.ctx) == 0 {
		return false
	}
	lib.XFreeValue(h.tls, h.ctx, lib.XJS_GetException(h.tls, h.ctx))
	return true
}

// call invokes the global function name with args. ok is false when name
// is not a function or the call threw; otherwise the caller owns res.
func (h handles) call(name string, args ...lib.TJSValue) (res lib.TJSValue, ok bool) {
	cname, err := libc.CString(name)
	if err != nil {
		return res, false
	}
	defer libc.Xfree(h.tls, cname)

	global := lib.XJS_GetGlobalObject(h.tls, h.ctx)
	defer lib.XFreeValue(h.tls, h.ctx, global)
	fn := lib.XJS_GetPropertyStr(h.tls, h.ctx, global, cname)
	defer lib.XFreeValue(h.tls, h.ctx, fn)
	if h.clearException() || lib.XJS_IsFunction(h.tls, h.ctx, fn) == 0 {
		return res, false
	}

	var argv uintptr
	if len(args) > 0 {
		argv = libc.Xmalloc(h.tls, libc.Tsize_t(uintptr(len(args))*unsafe.Sizeof(args[0])))
		if argv == 0 {
			return res, false
		}
		defer libc.Xfree(h.tls, argv)
		copy(unsafe.Slice((*lib.TJSValue)(unsafe.Pointer(argv)), len(args)), args)
	}
	res = lib.XJS_Call(h.tls, h.ctx, fn, global, int32(len(args)), argv)
	if h.clearException() {
		lib.XFreeValue(h.tls, h.ctx, res)
		return res, false
	}
	return res, true
}

// toString converts v with JS String().
func (h handles) toString(v lib.TJSValue) string {
	p := lib.XToCString(h.tls, h.ctx, v)
	if p == 0 {
		h.clearException()
		return ""
	}
	defer lib.XJS_FreeCString(h.tls, h.ctx, p)
	return libc.GoString(p)
}
