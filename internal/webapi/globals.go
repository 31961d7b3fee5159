package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// globalsJS defines structuredClone, queueMicrotask and navigator.
const globalsJS = `
(function() {

function cloneError(msg) {
	return new DOMException(msg, 'DataCloneError');
}

var typedArrays = [Int8Array, Uint8Array, Uint8ClampedArray, Int16Array, Uint16Array,
	Int32Array, Uint32Array, Float32Array, Float64Array];
if (typeof BigInt64Array !== 'undefined') typedArrays.push(BigInt64Array, BigUint64Array);

function clone(value, memory) {
	var type = typeof value;
	if (value === null || type === 'undefined' || type === 'boolean' || type === 'number' ||
	    type === 'string' || type === 'bigint') {
		return value;
	}
	if (type === 'symbol' || type === 'function') {
		throw cloneError(String(value) + ' could not be cloned.');
	}
	if (memory.has(value)) return memory.get(value);

	var out;
	if (value instanceof Boolean) out = new Boolean(value.valueOf());
	else if (value instanceof Number) out = new Number(value.valueOf());
	else if (value instanceof String) out = new String(value.valueOf());
	else if (value instanceof Date) out = new Date(value.getTime());
	else if (value instanceof RegExp) out = new RegExp(value.source, value.flags);
	else if (value instanceof ArrayBuffer) out = value.slice(0);
	else if (value instanceof DataView) {
		out = new DataView(clone(value.buffer, memory), value.byteOffset, value.byteLength);
	} else if (ArrayBuffer.isView(value)) {
		var ctor = typedArrays.find(function(T) { return value instanceof T; });
		if (!ctor) throw cloneError('value could not be cloned.');
		out = new ctor(clone(value.buffer, memory), value.byteOffset, value.length);
	} else if (typeof Blob !== 'undefined' && value instanceof Blob) {
		out = value.slice(0, value.size, value.type);
		if (typeof File !== 'undefined' && value instanceof File) {
			out = new File([out], value.name, { type: value.type, lastModified: value.lastModified });
		}
	} else if (value instanceof Error) {
		var ErrCtor = globalThis[value.name] && globalThis[value.name].prototype instanceof Error ? globalThis[value.name] : Error;
		if (value instanceof DOMException) out = new DOMException(value.message, value.name);
		else out = new ErrCtor(value.message);
		if (value.stack !== undefined) out.stack = String(value.stack);
	} else if (value instanceof Map) {
		out = new Map();
		memory.set(value, out);
		value.forEach(function(v, k) { out.set(clone(k, memory), clone(v, memory)); });
		return out;
	} else if (value instanceof Set) {
		out = new Set();
		memory.set(value, out);
		value.forEach(function(v) { out.add(clone(v, memory)); });
		return out;
	} else if (value instanceof Promise || value instanceof WeakMap || value instanceof WeakSet ||
	           (typeof WeakRef !== 'undefined' && value instanceof WeakRef)) {
		throw cloneError(Object.prototype.toString.call(value) + ' could not be cloned.');
	} else if (Array.isArray(value)) {
		out = new Array(value.length);
		memory.set(value, out);
		Object.keys(value).forEach(function(k) { out[k] = clone(value[k], memory); });
		return out;
	} else {
		var proto = Object.getPrototypeOf(value);
		if (proto !== null && proto !== Object.prototype && typeof value.constructor === 'function' &&
		    value.constructor !== Object && Object.prototype.toString.call(value) !== '[object Object]') {
			throw cloneError(Object.prototype.toString.call(value) + ' could not be cloned.');
		}
		out = {};
		memory.set(value, out);
		Object.keys(value).forEach(function(k) { out[k] = clone(value[k], memory); });
		return out;
	}
	memory.set(value, out);
	return out;
}

globalThis.structuredClone = function structuredClone(value, options) {
	if (arguments.length === 0) throw new TypeError("Failed to execute 'structuredClone': 1 argument required");
	return clone(value, new Map());
};

globalThis.queueMicrotask = function queueMicrotask(fn) {
	if (typeof fn !== 'function') throw new TypeError("Failed to execute 'queueMicrotask': parameter 1 is not of type 'Function'");
	Promise.resolve().then(function() {
		try { fn(); } catch (e) { globalThis.__uncaught(e); }
	});
};

Object.defineProperty(globalThis, 'navigator', {
	value: { userAgent: __userAgent, language: 'en-US', languages: ['en-US'], onLine: true, hardwareConcurrency: 1 },
	writable: true,
	configurable: true
});

})();
`

// UserAgent is reported as navigator.userAgent and sent with fetch requests.
const UserAgent = "wptworker/1.0"

// SetupGlobals registers performance.now(), structuredClone, queueMicrotask
// and navigator.
func SetupGlobals(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	startTime := time.Now()
	if err := rt.RegisterFunc("__performanceNow", func() float64 {
		return float64(time.Since(startTime).Nanoseconds()) / 1e6
	}); err != nil {
		return err
	}
	if err := rt.SetGlobal("__performanceOrigin", float64(startTime.UnixNano())/1e6); err != nil {
		return err
	}
	if err := rt.SetGlobal("__userAgent", UserAgent); err != nil {
		return err
	}
	if err := rt.Eval(`
		globalThis.performance = {
			now: function() { return __performanceNow(); },
			get timeOrigin() { return __performanceOrigin; },
			toJSON: function() { return { timeOrigin: __performanceOrigin }; }
		};
	`); err != nil {
		return fmt.Errorf("setting up performance: %w", err)
	}
	if err := rt.Eval(globalsJS); err != nil {
		return fmt.Errorf("evaluating globals.js: %w", err)
	}
	return nil
}
