package webapi

import (
	"fmt"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// eventsJS defines Event, EventTarget, the event subclasses used by the
// network APIs, DOMException and AbortSignal/AbortController. It also turns
// the global object into an event target and installs __uncaught, the
// funnel for exceptions that escape asynchronous callbacks.
const eventsJS = `
(function() {

var domExceptionCodes = {
	IndexSizeError: 1, HierarchyRequestError: 3, WrongDocumentError: 4,
	InvalidCharacterError: 5, NoModificationAllowedError: 7, NotFoundError: 8,
	NotSupportedError: 9, InUseAttributeError: 10, InvalidStateError: 11,
	SyntaxError: 12, InvalidModificationError: 13, NamespaceError: 14,
	InvalidAccessError: 15, TypeMismatchError: 17, SecurityError: 18,
	NetworkError: 19, AbortError: 20, URLMismatchError: 21,
	QuotaExceededError: 22, TimeoutError: 23, InvalidNodeTypeError: 24,
	DataCloneError: 25
};

class DOMException extends Error {
	constructor(message, options) {
		super(message === undefined ? '' : String(message));
		var name = 'Error';
		if (options !== undefined && options !== null && typeof options === 'object') {
			if (options.name !== undefined) name = String(options.name);
			if ('cause' in options) this.cause = options.cause;
		} else if (options !== undefined) {
			name = String(options);
		}
		Object.defineProperty(this, 'name', { value: name, configurable: true, writable: true });
	}
	get code() { return domExceptionCodes[this.name] || 0; }
	get [Symbol.toStringTag]() { return 'DOMException'; }
}
(function() {
	var legacy = ['INDEX_SIZE_ERR', 1, 'DOMSTRING_SIZE_ERR', 2, 'HIERARCHY_REQUEST_ERR', 3,
		'WRONG_DOCUMENT_ERR', 4, 'INVALID_CHARACTER_ERR', 5, 'NO_DATA_ALLOWED_ERR', 6,
		'NO_MODIFICATION_ALLOWED_ERR', 7, 'NOT_FOUND_ERR', 8, 'NOT_SUPPORTED_ERR', 9,
		'INUSE_ATTRIBUTE_ERR', 10, 'INVALID_STATE_ERR', 11, 'SYNTAX_ERR', 12,
		'INVALID_MODIFICATION_ERR', 13, 'NAMESPACE_ERR', 14, 'INVALID_ACCESS_ERR', 15,
		'VALIDATION_ERR', 16, 'TYPE_MISMATCH_ERR', 17, 'SECURITY_ERR', 18, 'NETWORK_ERR', 19,
		'ABORT_ERR', 20, 'URL_MISMATCH_ERR', 21, 'QUOTA_EXCEEDED_ERR', 22, 'TIMEOUT_ERR', 23,
		'INVALID_NODE_TYPE_ERR', 24, 'DATA_CLONE_ERR', 25];
	for (var i = 0; i < legacy.length; i += 2) {
		Object.defineProperty(DOMException, legacy[i], { value: legacy[i + 1], enumerable: true });
		Object.defineProperty(DOMException.prototype, legacy[i], { value: legacy[i + 1], enumerable: true });
	}
})();

class Event {
	constructor(type, init) {
		if (arguments.length === 0) throw new TypeError("Failed to construct 'Event': 1 argument required");
		init = init || {};
		this._type = String(type);
		this._bubbles = !!init.bubbles;
		this._cancelable = !!init.cancelable;
		this._composed = !!init.composed;
		this._canceled = false;
		this._stop = false;
		this._stopImmediate = false;
		this._dispatching = false;
		this._inPassive = false;
		this._target = null;
		this._currentTarget = null;
		this._phase = 0;
		this._trusted = false;
		this._timeStamp = typeof performance !== 'undefined' ? performance.now() : Date.now();
	}
	get type() { return this._type; }
	get target() { return this._target; }
	get srcElement() { return this._target; }
	get currentTarget() { return this._currentTarget; }
	get eventPhase() { return this._phase; }
	get bubbles() { return this._bubbles; }
	get cancelable() { return this._cancelable; }
	get composed() { return this._composed; }
	get defaultPrevented() { return this._canceled; }
	get returnValue() { return !this._canceled; }
	set returnValue(v) { if (!v) this.preventDefault(); }
	get cancelBubble() { return this._stop; }
	set cancelBubble(v) { if (v) this._stop = true; }
	get isTrusted() { return this._trusted; }
	get timeStamp() { return this._timeStamp; }
	composedPath() { return this._dispatching && this._currentTarget ? [this._currentTarget] : []; }
	preventDefault() { if (this._cancelable && !this._inPassive) this._canceled = true; }
	stopPropagation() { this._stop = true; }
	stopImmediatePropagation() { this._stop = true; this._stopImmediate = true; }
	get [Symbol.toStringTag]() { return 'Event'; }
}
Event.NONE = 0;
Event.CAPTURING_PHASE = 1;
Event.AT_TARGET = 2;
Event.BUBBLING_PHASE = 3;

function flattenOptions(options) {
	if (typeof options === 'boolean') return { capture: options };
	return options || {};
}

class EventTarget {
	constructor() {
		Object.defineProperty(this, '_listeners', { value: {}, writable: true, configurable: true });
	}
	addEventListener(type, callback, options) {
		if (callback === null || callback === undefined) return;
		options = flattenOptions(options);
		var capture = !!options.capture;
		var signal = options.signal;
		if (signal && signal.aborted) return;
		type = String(type);
		var list = this._listeners[type] || (this._listeners[type] = []);
		for (var i = 0; i < list.length; i++) {
			if (list[i].callback === callback && list[i].capture === capture) return;
		}
		var entry = { callback: callback, capture: capture, once: !!options.once, passive: !!options.passive, removed: false };
		list.push(entry);
		if (signal) {
			var self = this;
			signal.addEventListener('abort', function() {
				self.removeEventListener(type, callback, { capture: capture });
			});
		}
	}
	removeEventListener(type, callback, options) {
		var capture = !!flattenOptions(options).capture;
		var list = this._listeners[String(type)];
		if (!list) return;
		for (var i = 0; i < list.length; i++) {
			if (list[i].callback === callback && list[i].capture === capture) {
				list[i].removed = true;
				list.splice(i, 1);
				return;
			}
		}
	}
	dispatchEvent(event) {
		if (!(event instanceof Event)) throw new TypeError("Failed to execute 'dispatchEvent': parameter 1 is not of type 'Event'");
		if (event._dispatching) throw new DOMException('The event is already being dispatched.', 'InvalidStateError');
		event._dispatching = true;
		event._target = this;
		event._currentTarget = this;
		event._phase = Event.AT_TARGET;
		var list = (this._listeners[event._type] || []).slice();
		for (var i = 0; i < list.length; i++) {
			var entry = list[i];
			if (entry.removed) continue;
			if (entry.once) this.removeEventListener(event._type, entry.callback, { capture: entry.capture });
			event._inPassive = entry.passive;
			try {
				if (typeof entry.callback === 'function') {
					entry.callback.call(this, event);
				} else if (entry.callback && typeof entry.callback.handleEvent === 'function') {
					entry.callback.handleEvent(event);
				}
			} catch (e) {
				globalThis.__reportListenerError(e);
			}
			event._inPassive = false;
			if (event._stopImmediate) break;
		}
		event._dispatching = false;
		event._currentTarget = null;
		event._phase = Event.NONE;
		event._stop = false;
		event._stopImmediate = false;
		return !event._canceled;
	}
	get [Symbol.toStringTag]() { return 'EventTarget'; }
}

// Defines an on<type> attribute backed by a single listener that keeps
// the position of the first assignment.
function defineEventHandler(proto, name) {
	var slot = '_on' + name;
	Object.defineProperty(proto, 'on' + name, {
		get: function() { return this[slot] ? this[slot].fn : null; },
		set: function(fn) {
			if (typeof fn !== 'function' && (typeof fn !== 'object' || fn === null)) fn = null;
			if (!this[slot]) {
				if (fn === null) return;
				var holder = { fn: fn };
				Object.defineProperty(this, slot, { value: holder, writable: true, configurable: true });
				this.addEventListener(name, function(ev) {
					var h = holder.fn;
					if (typeof h === 'function') return h.call(this, ev);
				});
				return;
			}
			this[slot].fn = fn;
		},
		configurable: true,
		enumerable: true
	});
}

class CustomEvent extends Event {
	constructor(type, init) {
		super(type, init);
		this._detail = init && init.detail !== undefined ? init.detail : null;
	}
	get detail() { return this._detail; }
	get [Symbol.toStringTag]() { return 'CustomEvent'; }
}

class ErrorEvent extends Event {
	constructor(type, init) {
		super(type, init);
		init = init || {};
		this._message = init.message !== undefined ? String(init.message) : '';
		this._filename = init.filename !== undefined ? String(init.filename) : '';
		this._lineno = init.lineno >>> 0;
		this._colno = init.colno >>> 0;
		this._error = init.error !== undefined ? init.error : undefined;
	}
	get message() { return this._message; }
	get filename() { return this._filename; }
	get lineno() { return this._lineno; }
	get colno() { return this._colno; }
	get error() { return this._error; }
	get [Symbol.toStringTag]() { return 'ErrorEvent'; }
}

class MessageEvent extends Event {
	constructor(type, init) {
		super(type, init);
		init = init || {};
		this._data = init.data !== undefined ? init.data : null;
		this._origin = init.origin !== undefined ? String(init.origin) : '';
		this._lastEventId = init.lastEventId !== undefined ? String(init.lastEventId) : '';
		this._source = init.source !== undefined ? init.source : null;
		this._ports = init.ports ? Array.from(init.ports) : [];
	}
	get data() { return this._data; }
	get origin() { return this._origin; }
	get lastEventId() { return this._lastEventId; }
	get source() { return this._source; }
	get ports() { return this._ports; }
	get [Symbol.toStringTag]() { return 'MessageEvent'; }
}

class CloseEvent extends Event {
	constructor(type, init) {
		super(type, init);
		init = init || {};
		this._wasClean = !!init.wasClean;
		this._code = init.code !== undefined ? (Number(init.code) & 0xffff) : 0;
		this._reason = init.reason !== undefined ? String(init.reason) : '';
	}
	get wasClean() { return this._wasClean; }
	get code() { return this._code; }
	get reason() { return this._reason; }
	get [Symbol.toStringTag]() { return 'CloseEvent'; }
}

class ProgressEvent extends Event {
	constructor(type, init) {
		super(type, init);
		init = init || {};
		this._lengthComputable = !!init.lengthComputable;
		this._loaded = Number(init.loaded) || 0;
		this._total = Number(init.total) || 0;
	}
	get lengthComputable() { return this._lengthComputable; }
	get loaded() { return this._loaded; }
	get total() { return this._total; }
	get [Symbol.toStringTag]() { return 'ProgressEvent'; }
}

class AbortSignal extends EventTarget {
	constructor() {
		if (!AbortSignal._constructing) throw new TypeError('Illegal constructor');
		super();
		this._aborted = false;
		this._reason = undefined;
		this._algorithms = [];
	}
	static _create() {
		AbortSignal._constructing = true;
		try { return new AbortSignal(); } finally { AbortSignal._constructing = false; }
	}
	get aborted() { return this._aborted; }
	get reason() { return this._reason; }
	throwIfAborted() { if (this._aborted) throw this._reason; }
	_addAlgorithm(fn) {
		if (this._aborted) return;
		this._algorithms.push(fn);
	}
	_signalAbort(reason) {
		if (this._aborted) return;
		this._aborted = true;
		this._reason = reason !== undefined ? reason : new DOMException('This operation was aborted', 'AbortError');
		var algorithms = this._algorithms;
		this._algorithms = [];
		for (var i = 0; i < algorithms.length; i++) algorithms[i](this._reason);
		this.dispatchEvent(new Event('abort'));
	}
	static abort(reason) {
		var signal = AbortSignal._create();
		signal._signalAbort(reason);
		return signal;
	}
	static timeout(ms) {
		var signal = AbortSignal._create();
		setTimeout(function() {
			signal._signalAbort(new DOMException('The operation timed out.', 'TimeoutError'));
		}, Number(ms) || 0);
		return signal;
	}
	static any(signals) {
		var result = AbortSignal._create();
		signals = Array.from(signals);
		for (var i = 0; i < signals.length; i++) {
			if (signals[i].aborted) {
				result._signalAbort(signals[i].reason);
				return result;
			}
		}
		signals.forEach(function(s) {
			s._addAlgorithm(function(reason) { result._signalAbort(reason); });
		});
		return result;
	}
	get [Symbol.toStringTag]() { return 'AbortSignal'; }
}
defineEventHandler(AbortSignal.prototype, 'abort');

class AbortController {
	constructor() { this._signal = AbortSignal._create(); }
	get signal() { return this._signal; }
	abort(reason) { this._signal._signalAbort(reason); }
	get [Symbol.toStringTag]() { return 'AbortController'; }
}

globalThis.DOMException = DOMException;
globalThis.Event = Event;
globalThis.EventTarget = EventTarget;
globalThis.CustomEvent = CustomEvent;
globalThis.ErrorEvent = ErrorEvent;
globalThis.MessageEvent = MessageEvent;
globalThis.CloseEvent = CloseEvent;
globalThis.ProgressEvent = ProgressEvent;
globalThis.AbortSignal = AbortSignal;
globalThis.AbortController = AbortController;
globalThis.__defineEventHandler = defineEventHandler;

// The global object dispatches 'error' events for uncaught exceptions.
var globalTarget = new EventTarget();
globalThis.addEventListener = function(type, cb, opts) { return globalTarget.addEventListener(type, cb, opts); };
globalThis.removeEventListener = function(type, cb, opts) { return globalTarget.removeEventListener(type, cb, opts); };
globalThis.dispatchEvent = function(ev) { return globalTarget.dispatchEvent(ev); };

globalThis.__serializeError = function(e) {
	if (e !== null && typeof e === 'object') {
		return JSON.stringify({
			name: e.name !== undefined ? String(e.name) : 'Error',
			message: e.message !== undefined ? String(e.message) : String(e),
			stack: e.stack !== undefined ? String(e.stack) : ''
		});
	}
	return JSON.stringify({ name: 'Error', message: String(e), stack: '' });
};

var reporting = false;
globalThis.__uncaught = function(e) {
	if (reporting) {
		__hostUncaught(globalThis.__serializeError(e));
		return;
	}
	reporting = true;
	var unhandled = true;
	try {
		var msg = e !== null && typeof e === 'object' && e.message !== undefined ? String(e.message) : String(e);
		unhandled = globalTarget.dispatchEvent(new ErrorEvent('error', { error: e, message: msg, cancelable: true }));
	} finally {
		reporting = false;
	}
	if (unhandled) __hostUncaught(globalThis.__serializeError(e));
};
globalThis.__reportListenerError = function(e) { globalThis.__uncaught(e); };
globalThis.reportError = function(e) {
	if (arguments.length === 0) throw new TypeError("Failed to execute 'reportError': 1 argument required");
	globalThis.__uncaught(e);
};

})();
`

// SetupEvents evaluates the event model, DOMException and abort polyfills.
// __hostUncaught is registered by the bootstrap that owns message delivery.
func SetupEvents(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(eventsJS); err != nil {
		return fmt.Errorf("evaluating events.js: %w", err)
	}
	return nil
}
