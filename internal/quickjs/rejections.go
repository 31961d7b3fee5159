//go:build !v8

package quickjs

import (
	"sync"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// rejection is a change in a promise's handled state reported by the
// engine. Both values are owned until the next flush.
type rejection struct {
	promise lib.TJSValue
	reason  lib.TJSValue
	handled bool
}

var (
	rejectionsMu sync.Mutex
	// rejections is keyed by JSContext pointer.
	rejections = map[uintptr][]rejection{}
)

// trackRejections installs the engine's host promise rejection tracker on
// the VM's runtime.
func trackRejections(vm *quickjs.VM) bool {
	h, ok := cHandles(vm)
	if !ok {
		return false
	}
	lib.XJS_SetHostPromiseRejectionTracker(h.tls, h.rt, fp(rejectionTracker), 0)
	return true
}

// rejectionTracker runs inside the engine while a promise is being
// settled or handled, so it only queues.
func rejectionTracker(tls *libc.TLS, ctx uintptr, promise, reason lib.TJSValue, isHandled int32, _ uintptr) {
	rj := rejection{
		promise: lib.XDupValue(tls, ctx, promise),
		reason:  lib.XDupValue(tls, ctx, reason),
		handled: isHandled != 0,
	}
	rejectionsMu.Lock()
	rejections[ctx] = append(rejections[ctx], rj)
	rejectionsMu.Unlock()
}

func takeRejections(ctx uintptr) []rejection {
	rejectionsMu.Lock()
	defer rejectionsMu.Unlock()
	queued := rejections[ctx]
	delete(rejections, ctx)
	return queued
}

// flushRejections hands queued changes to __hostRejection(promise, reason,
// handled) and then lets __notifyRejections fire unhandledrejection for
// whatever is still unhandled. It reports whether anything was queued.
func flushRejections(vm *quickjs.VM) bool {
	h, ok := cHandles(vm)
	if !ok {
		return false
	}
	queued := takeRejections(h.ctx)
	if len(queued) == 0 {
		return false
	}
	for _, rj := range queued {
		var flag int32
		if rj.handled {
			flag = 1
		}
		if res, ok := h.call("__hostRejection", rj.promise, rj.reason, lib.XNewInt32(h.tls, h.ctx, flag)); ok {
			lib.XFreeValue(h.tls, h.ctx, res)
		}
		lib.XFreeValue(h.tls, h.ctx, rj.promise)
		lib.XFreeValue(h.tls, h.ctx, rj.reason)
	}
	if res, ok := h.call("__notifyRejections"); ok {
		lib.XFreeValue(h.tls, h.ctx, res)
	}
	return true
}

// dropRejections releases anything still queued for vm. It must run
// before the VM is closed.
func dropRejections(vm *quickjs.VM) {
	h, ok := cHandles(vm)
	if !ok {
		return
	}
	for _, rj := range takeRejections(h.ctx) {
		lib.XFreeValue(h.tls, h.ctx, rj.promise)
		lib.XFreeValue(h.tls, h.ctx, rj.reason)
	}
}
