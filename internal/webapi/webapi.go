package webapi

import (
	"fmt"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// webAPIsJS defines Headers, Request and Response on top of the body
// helpers from bodytypes.js.
const webAPIsJS = `
(function() {

var tokenRe = /^[!#$%&'*+\-.^_\x60|~0-9A-Za-z]+$/;

function normalizeValue(value) {
	return String(value).replace(/^[\t\n\r ]+|[\t\n\r ]+$/g, '');
}

function validateName(name) {
	if (!tokenRe.test(name)) throw new TypeError('Invalid header name: "' + name + '"');
}

function validateValue(value) {
	for (var i = 0; i < value.length; i++) {
		var c = value.charCodeAt(i);
		if (c === 0 || c === 0x0a || c === 0x0d || c > 0xff) throw new TypeError('Invalid header value: "' + value + '"');
	}
}

class Headers {
	constructor(init) {
		this._list = [];
		this._guard = 'none';
		if (init === undefined || init === null) return;
		if (typeof init !== 'object' && typeof init !== 'function') {
			throw new TypeError("Failed to construct 'Headers': The provided value is not of type 'HeadersInit'.");
		}
		if (init instanceof Headers) {
			var self = this;
			init._list.forEach(function(e) { self._list.push([e[0], e[1]]); });
			return;
		}
		if (typeof init[Symbol.iterator] === 'function') {
			for (var pair of init) {
				if (pair === null || typeof pair !== 'object' || typeof pair[Symbol.iterator] !== 'function') {
					throw new TypeError("Failed to construct 'Headers': The provided value cannot be converted to a sequence.");
				}
				var arr = Array.from(pair);
				if (arr.length !== 2) throw new TypeError("Failed to construct 'Headers': Invalid value");
				this.append(arr[0], arr[1]);
			}
			return;
		}
		var keys = Reflect.ownKeys(init);
		for (var i = 0; i < keys.length; i++) {
			var key = keys[i];
			if (typeof key === 'symbol') continue;
			var desc = Reflect.getOwnPropertyDescriptor(init, key);
			if (!desc || !desc.enumerable) continue;
			this.append(key, init[key]);
		}
	}
	_checkMutable() {
		if (this._guard === 'immutable') throw new TypeError('Headers are immutable');
	}
	append(name, value) {
		name = String(name);
		value = normalizeValue(value);
		validateName(name);
		validateValue(value);
		this._checkMutable();
		this._list.push([name.toLowerCase(), value]);
	}
	delete(name) {
		name = String(name);
		validateName(name);
		this._checkMutable();
		var key = name.toLowerCase();
		this._list = this._list.filter(function(e) { return e[0] !== key; });
	}
	get(name) {
		name = String(name);
		validateName(name);
		var key = name.toLowerCase();
		var values = this._list.filter(function(e) { return e[0] === key; }).map(function(e) { return e[1]; });
		return values.length === 0 ? null : values.join(', ');
	}
	getSetCookie() {
		return this._list.filter(function(e) { return e[0] === 'set-cookie'; }).map(function(e) { return e[1]; });
	}
	has(name) {
		name = String(name);
		validateName(name);
		var key = name.toLowerCase();
		return this._list.some(function(e) { return e[0] === key; });
	}
	set(name, value) {
		name = String(name);
		value = normalizeValue(value);
		validateName(name);
		validateValue(value);
		this._checkMutable();
		var key = name.toLowerCase();
		var idx = -1;
		for (var i = 0; i < this._list.length; i++) if (this._list[i][0] === key) { idx = i; break; }
		if (idx === -1) { this._list.push([key, value]); return; }
		this._list[idx] = [key, value];
		this._list = this._list.filter(function(e, j) { return j <= idx || e[0] !== key; });
	}
	_sorted() {
		var names = [];
		this._list.forEach(function(e) { if (names.indexOf(e[0]) === -1) names.push(e[0]); });
		names.sort();
		var out = [];
		var self = this;
		names.forEach(function(n) {
			if (n === 'set-cookie') {
				self.getSetCookie().forEach(function(v) { out.push([n, v]); });
			} else {
				out.push([n, self.get(n)]);
			}
		});
		return out;
	}
	forEach(callback, thisArg) {
		var pairs = this._sorted();
		for (var i = 0; i < pairs.length; i++) {
			callback.call(thisArg, pairs[i][1], pairs[i][0], this);
			pairs = this._sorted();
		}
	}
	entries() { return new HeadersIterator(this, 'entries'); }
	keys() { return new HeadersIterator(this, 'keys'); }
	values() { return new HeadersIterator(this, 'values'); }
	[Symbol.iterator]() { return this.entries(); }
	get [Symbol.toStringTag]() { return 'Headers'; }
}

class HeadersIterator {
	constructor(headers, kind) {
		this._headers = headers;
		this._kind = kind;
		this._index = 0;
	}
	next() {
		var pairs = this._headers._sorted();
		if (this._index >= pairs.length) return { value: undefined, done: true };
		var pair = pairs[this._index++];
		if (this._kind === 'keys') return { value: pair[0], done: false };
		if (this._kind === 'values') return { value: pair[1], done: false };
		return { value: [pair[0], pair[1]], done: false };
	}
	[Symbol.iterator]() { return this; }
	get [Symbol.toStringTag]() { return 'Headers Iterator'; }
}

function immutableHeaders(h) {
	h._guard = 'immutable';
	return h;
}

var forbiddenMethods = { CONNECT: true, TRACE: true, TRACK: true };
var normalizedMethods = { DELETE: true, GET: true, HEAD: true, OPTIONS: true, POST: true, PUT: true };

function normalizeMethod(method) {
	method = String(method);
	if (!tokenRe.test(method)) throw new TypeError("'" + method + "' is not a valid HTTP method.");
	var upper = method.toUpperCase();
	if (forbiddenMethods[upper]) throw new TypeError("'" + method + "' HTTP method is unsupported.");
	return normalizedMethods[upper] ? upper : method;
}

function enumValue(value, allowed, what) {
	value = String(value);
	if (allowed.indexOf(value) === -1) throw new TypeError("The provided value '" + value + "' is not a valid enum value of type " + what + '.');
	return value;
}

// __resolveURL parses input against the run's global origin.
globalThis.__resolveURL = function(input) {
	try {
		return __resolveAgainstOrigin(String(globalThis.__runID), String(input));
	} catch (e) {
		throw new TypeError('Failed to parse URL from ' + input);
	}
};

class Request {
	constructor(input, init) {
		if (arguments.length === 0) throw new TypeError("Failed to construct 'Request': 1 argument required, but only 0 present.");
		if (init !== undefined && init !== null && typeof init !== 'object') {
			throw new TypeError("Failed to construct 'Request': cannot convert to dictionary.");
		}
		init = init || {};
		var source = input instanceof Request ? input : null;
		var url;
		if (source) {
			url = source._url;
		} else {
			url = __resolveURL(input);
			var parsed = new URL(url);
			if (parsed.username || parsed.password) {
				throw new TypeError("Failed to construct 'Request': Request cannot be constructed from a URL that includes credentials: " + input);
			}
		}
		this._url = url;
		this._method = init.method !== undefined ? normalizeMethod(init.method) : (source ? source._method : 'GET');
		this._mode = init.mode !== undefined ? enumValue(init.mode, ['same-origin', 'no-cors', 'cors', 'navigate'], 'RequestMode') : (source ? source._mode : 'cors');
		if (this._mode === 'navigate') throw new TypeError("Failed to construct 'Request': Cannot construct a Request with a RequestInit whose mode member is set as 'navigate'.");
		this._credentials = init.credentials !== undefined ? enumValue(init.credentials, ['omit', 'same-origin', 'include'], 'RequestCredentials') : (source ? source._credentials : 'same-origin');
		this._cache = init.cache !== undefined ? enumValue(init.cache, ['default', 'no-store', 'reload', 'no-cache', 'force-cache', 'only-if-cached'], 'RequestCache') : (source ? source._cache : 'default');
		if (this._cache === 'only-if-cached' && this._mode !== 'same-origin') {
			throw new TypeError("Failed to construct 'Request': 'only-if-cached' can be set only with 'same-origin' mode");
		}
		this._redirect = init.redirect !== undefined ? enumValue(init.redirect, ['follow', 'error', 'manual'], 'RequestRedirect') : (source ? source._redirect : 'follow');
		this._referrer = source ? source._referrer : 'about:client';
		if (init.referrer !== undefined) {
			var ref = String(init.referrer);
			this._referrer = ref === '' ? '' : __resolveURL(ref);
		}
		this._referrerPolicy = init.referrerPolicy !== undefined ? enumValue(init.referrerPolicy, ['', 'no-referrer', 'no-referrer-when-downgrade', 'same-origin', 'origin', 'strict-origin', 'origin-when-cross-origin', 'strict-origin-when-cross-origin', 'unsafe-url'], 'ReferrerPolicy') : (source ? source._referrerPolicy : '');
		this._integrity = init.integrity !== undefined ? String(init.integrity) : (source ? source._integrity : '');
		this._keepalive = init.keepalive !== undefined ? !!init.keepalive : (source ? source._keepalive : false);
		this._duplex = init.duplex !== undefined ? enumValue(init.duplex, ['half'], 'RequestDuplex') : 'half';

		var parentSignal = init.signal !== undefined ? init.signal : (source ? source._signal : null);
		if (parentSignal !== null && parentSignal !== undefined && !(parentSignal instanceof AbortSignal)) {
			throw new TypeError("Failed to construct 'Request': member signal is not of type AbortSignal.");
		}
		this._signal = AbortSignal.any(parentSignal ? [parentSignal] : []);

		this._headers = new Headers(init.headers !== undefined ? init.headers : (source ? source._headers : undefined));
		this._headers._guard = 'request';

		var hasInitBody = init.body !== undefined && init.body !== null;
		if ((hasInitBody || (source && (source._bodyBytes !== null || source._bodyStream !== null))) &&
			(this._method === 'GET' || this._method === 'HEAD')) {
			throw new TypeError("Failed to construct 'Request': Request with GET/HEAD method cannot have body.");
		}
		this._bodyUsed = false;
		this._bodyBytes = null;
		this._bodyStream = null;
		if (hasInitBody) {
			var type = __setBody(this, init.body);
			if (this._bodyStream !== null && init.duplex === undefined) {
				throw new TypeError("Failed to construct 'Request': The duplex member must be specified for a request with a streaming body");
			}
			if (type !== null && !this._headers.has('content-type')) this._headers.append('content-type', type);
		} else if (source && (source._bodyBytes !== null || source._bodyStream !== null)) {
			if (source.bodyUsed || (source._bodyStream !== null && source._bodyStream.locked)) {
				throw new TypeError("Failed to construct 'Request': Cannot construct a Request with a Request object that has already been used.");
			}
			this._bodyBytes = source._bodyBytes;
			this._bodyStream = source._bodyStream;
			source._bodyUsed = true;
		}
	}
	get method() { return this._method; }
	get url() { return this._url; }
	get headers() { return this._headers; }
	get destination() { return ''; }
	get referrer() {
		if (this._referrer === '') return '';
		if (this._referrer === 'about:client') return 'about:client';
		return this._referrer;
	}
	get referrerPolicy() { return this._referrerPolicy; }
	get mode() { return this._mode; }
	get credentials() { return this._credentials; }
	get cache() { return this._cache; }
	get redirect() { return this._redirect; }
	get integrity() { return this._integrity; }
	get keepalive() { return this._keepalive; }
	get isReloadNavigation() { return false; }
	get isHistoryNavigation() { return false; }
	get signal() { return this._signal; }
	get duplex() { return this._duplex; }
	clone() {
		if (this.bodyUsed) throw new TypeError("Failed to execute 'clone' on 'Request': Request body is already used");
		var out = Object.create(Request.prototype);
		Object.keys(this).forEach(function(k) { out[k] = this[k]; }, this);
		out._headers = new Headers(this._headers);
		out._headers._guard = this._headers._guard;
		out._signal = AbortSignal.any([this._signal]);
		__cloneBody(this, out);
		return out;
	}
	get [Symbol.toStringTag]() { return 'Request'; }
}
__mixinBody(Request);

var nullBodyStatus = { 101: true, 103: true, 204: true, 205: true, 304: true };
var redirectStatus = { 301: true, 302: true, 303: true, 307: true, 308: true };

function initResponse(res, init) {
	if (init !== undefined && init !== null && typeof init !== 'object') {
		throw new TypeError("Failed to construct 'Response': cannot convert to dictionary.");
	}
	init = init || {};
	var status = init.status === undefined ? 200 : Number(init.status);
	if (!(status >= 200 && status <= 599) || Math.floor(status) !== status) {
		throw new RangeError("Failed to construct 'Response': The status provided (" + init.status + ') is outside the range [200, 599].');
	}
	var statusText = init.statusText === undefined ? '' : String(init.statusText);
	if (!/^[\t\x20-\x7e\x80-\xff]*$/.test(statusText)) {
		throw new TypeError("Failed to construct 'Response': Invalid statusText");
	}
	res._status = status;
	res._statusText = statusText;
	res._type = 'default';
	res._urlList = [];
	res._headers = new Headers(init.headers);
	res._headers._guard = 'response';
	res._bodyUsed = false;
	res._bodyBytes = null;
	res._bodyStream = null;
}

class Response {
	constructor(body, init) {
		initResponse(this, init);
		if (body !== undefined && body !== null) {
			if (nullBodyStatus[this._status]) {
				throw new TypeError("Failed to construct 'Response': Response with null body status cannot have body");
			}
			var type = __setBody(this, body);
			if (type !== null && !this._headers.has('content-type')) this._headers.append('content-type', type);
		}
	}
	get type() { return this._type; }
	get url() {
		var u = this._urlList.length ? this._urlList[this._urlList.length - 1] : '';
		var hash = u.indexOf('#');
		return hash === -1 ? u : u.slice(0, hash);
	}
	get redirected() { return this._urlList.length > 1; }
	get status() { return this._status; }
	get ok() { return this._status >= 200 && this._status <= 299; }
	get statusText() { return this._statusText; }
	get headers() { return this._headers; }
	clone() {
		if (this.bodyUsed) throw new TypeError("Failed to execute 'clone' on 'Response': Response body is already used");
		var out = Object.create(Response.prototype);
		out._status = this._status;
		out._statusText = this._statusText;
		out._type = this._type;
		out._urlList = this._urlList.slice();
		out._headers = new Headers(this._headers);
		out._headers._guard = this._headers._guard;
		__cloneBody(this, out);
		return out;
	}
	static error() {
		var res = new Response(null, { status: 200 });
		res._status = 0;
		res._type = 'error';
		immutableHeaders(res._headers);
		return res;
	}
	static redirect(url, status) {
		var target = __resolveURL(url);
		status = status === undefined ? 302 : Number(status);
		if (!redirectStatus[status]) throw new RangeError("Failed to execute 'redirect' on 'Response': Invalid status code");
		var res = new Response(null, { status: status });
		res._headers.set('location', target);
		immutableHeaders(res._headers);
		return res;
	}
	static json(data, init) {
		var text = JSON.stringify(data);
		if (text === undefined) throw new TypeError("Failed to execute 'json' on 'Response': The data is not JSON serializable");
		var res = new Response(null, init);
		if (nullBodyStatus[res._status]) throw new TypeError("Failed to execute 'json' on 'Response': Response with null body status cannot have body");
		res._bodyBytes = new TextEncoder().encode(text);
		if (!res._headers.has('content-type')) res._headers.set('content-type', 'application/json');
		return res;
	}
	get [Symbol.toStringTag]() { return 'Response'; }
}
__mixinBody(Response);

// __networkResponse builds the Response handed back by fetch().
globalThis.__networkResponse = function(status, statusText, headerPairs, bytes, urlList) {
	var res = Object.create(Response.prototype);
	res._status = status;
	res._statusText = statusText;
	res._type = 'basic';
	res._urlList = urlList;
	res._headers = new Headers(headerPairs);
	res._headers._guard = 'immutable';
	res._bodyUsed = false;
	res._bodyStream = null;
	res._bodyBytes = nullBodyStatus[status] ? null : bytes;
	return res;
};

globalThis.Headers = Headers;
globalThis.Request = Request;
globalThis.Response = Response;

})();
`

// SetupWebAPIs registers the origin-relative URL resolver and evaluates
// Headers, Request and Response. Must run after SetupBodyTypes.
func SetupWebAPIs(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__resolveAgainstOrigin", func(runIDStr, input string) (string, error) {
		base := ""
		if state := core.GetRunState(core.ParseRunID(runIDStr)); state != nil {
			base = state.GetOrigin()
		}
		return ResolveURL(input, base)
	}); err != nil {
		return err
	}
	if err := rt.Eval(webAPIsJS); err != nil {
		return fmt.Errorf("evaluating webapi.js: %w", err)
	}
	return nil
}
