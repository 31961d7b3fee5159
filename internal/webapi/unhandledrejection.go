package webapi

import (
	"fmt"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// unhandledRejectionJS keeps the set of rejected promises nobody handles.
// __hostRejection records changes; __notifyRejections runs once the
// microtask queue is empty and fires a cancelable unhandledrejection event
// per promise. A reason nobody cancels is reported as an uncaught error.
const unhandledRejectionJS = `
(function() {

class PromiseRejectionEvent extends Event {
	constructor(type, init) {
		if (!init || !('promise' in init)) {
			throw new TypeError("Failed to construct 'PromiseRejectionEvent': required member promise is undefined.");
		}
		super(type, init);
		this._promise = init.promise;
		this._reason = init.reason;
	}
	get promise() { return this._promise; }
	get reason() { return this._reason; }
	get [Symbol.toStringTag]() { return 'PromiseRejectionEvent'; }
}

var pending = new Map();

globalThis.__hostRejection = function(promise, reason, handled) {
	if (handled) pending.delete(promise);
	else pending.set(promise, reason);
};

globalThis.__notifyRejections = function() {
	if (pending.size === 0) return false;
	var list = Array.from(pending);
	pending.clear();
	list.forEach(function(entry) {
		var ev = new PromiseRejectionEvent('unhandledrejection', { promise: entry[0], reason: entry[1], cancelable: true });
		if (globalThis.dispatchEvent(ev)) globalThis.__uncaught(entry[1]);
	});
	return true;
};

globalThis.PromiseRejectionEvent = PromiseRejectionEvent;

})();
`

// rejectionObserverJS is used when the engine cannot report rejections.
// Promise becomes a subclass whose instances are observed from creation,
// which covers the executor, Promise.reject and every then() result. Its
// instances are awaited through then(), so await counts as handling.
// Promises the engine creates itself (async function results) are not
// seen.
const rejectionObserverJS = `
(function() {

var NativePromise = Promise;
var nativeThen = NativePromise.prototype.then;
var handled = new WeakSet();
var observing = false;

function observe(p) {
	observing = true;
	try {
		nativeThen.call(p, undefined, function(reason) {
			if (!handled.has(p)) globalThis.__hostRejection(p, reason, false);
		});
	} finally {
		observing = false;
	}
}

NativePromise.prototype.then = function then(onFulfilled, onRejected) {
	if (typeof onRejected === 'function' && !handled.has(this)) {
		handled.add(this);
		globalThis.__hostRejection(this, undefined, true);
	}
	return nativeThen.call(this, onFulfilled, onRejected);
};

class Promise extends NativePromise {
	constructor(executor) {
		super(executor);
		if (!observing) observe(this);
	}
	static [Symbol.hasInstance](v) { return v instanceof NativePromise; }
}

Object.defineProperty(globalThis, 'Promise', { value: Promise, writable: true, enumerable: false, configurable: true });

})();
`

// SetupUnhandledRejection installs PromiseRejectionEvent and rejection
// tracking. Must run after SetupEvents and SetupTimers.
func SetupUnhandledRejection(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(unhandledRejectionJS); err != nil {
		return fmt.Errorf("evaluating unhandledrejection.js: %w", err)
	}
	if tr, ok := rt.(core.RejectionTracker); ok {
		if err := tr.TrackRejections(); err == nil {
			return nil
		}
	}
	if err := rt.Eval(rejectionObserverJS); err != nil {
		return fmt.Errorf("evaluating rejection observer: %w", err)
	}
	return nil
}
