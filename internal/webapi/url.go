package webapi

import (
	"encoding/json"
	"fmt"

	"github.com/nlnwa/whatwg-url/url"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// URLRecord is the JSON structure exchanged with the JS URL class.
type URLRecord struct {
	Href     string `json:"href"`
	Origin   string `json:"origin"`
	Protocol string `json:"protocol"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Hostname string `json:"hostname"`
	Port     string `json:"port"`
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
}

func newURLRecord(u *url.Url) *URLRecord {
	return &URLRecord{
		Href:     u.Href(false),
		Origin:   Origin(u),
		Protocol: u.Protocol(),
		Username: u.Username(),
		Password: u.Password(),
		Host:     u.Host(),
		Hostname: u.Hostname(),
		Port:     u.Port(),
		Pathname: u.Pathname(),
		Search:   u.Search(),
		Hash:     u.Hash(),
	}
}

// Origin serializes the origin of u. Opaque origins serialize as "null".
func Origin(u *url.Url) string {
	switch u.Scheme() {
	case "http", "https", "ws", "wss", "ftp":
		return u.Scheme() + "://" + u.Host()
	case "blob":
		inner, err := url.Parse(u.Pathname())
		if err == nil && (inner.Scheme() == "http" || inner.Scheme() == "https") {
			return Origin(inner)
		}
	}
	return "null"
}

// ParseURL parses input with the WHATWG URL parser, relative to base when
// base is non-empty.
func ParseURL(input, base string) (*URLRecord, error) {
	var u *url.Url
	var err error
	if base != "" {
		u, err = url.ParseRef(base, input)
	} else {
		u, err = url.Parse(input)
	}
	if err != nil {
		return nil, fmt.Errorf("Invalid URL: %s", input)
	}
	return newURLRecord(u), nil
}

// ResolveURL resolves input against base and returns the serialized URL.
func ResolveURL(input, base string) (string, error) {
	rec, err := ParseURL(input, base)
	if err != nil {
		return "", err
	}
	return rec.Href, nil
}

// SetURLComponent applies a URL setter (protocol, host, search, ...) to
// href and returns the updated record.
func SetURLComponent(href, component, value string) (*URLRecord, error) {
	u, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("Invalid URL: %s", href)
	}
	switch component {
	case "href":
		if u, err = url.Parse(value); err != nil {
			return nil, fmt.Errorf("Invalid URL: %s", value)
		}
	case "protocol":
		u.SetProtocol(value)
	case "username":
		u.SetUsername(value)
	case "password":
		u.SetPassword(value)
	case "host":
		u.SetHost(value)
	case "hostname":
		u.SetHostname(value)
	case "port":
		u.SetPort(value)
	case "pathname":
		u.SetPathname(value)
	case "search":
		u.SetSearch(value)
	case "hash":
		u.SetHash(value)
	default:
		return nil, fmt.Errorf("unknown URL component %q", component)
	}
	return newURLRecord(u), nil
}

func recordJSON(rec *URLRecord, err error) (string, error) {
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// urlJS defines URL and URLSearchParams. Parsing and setters run in Go;
// the urlencoded form handling stays in JS.
const urlJS = `
(function() {

var hex = '0123456789ABCDEF';

function wellFormed(s) {
	return s.replace(/[\uD800-\uDBFF](?![\uDC00-\uDFFF])|(^|[^\uD800-\uDBFF])[\uDC00-\uDFFF]/g, function(m, pre) {
		return (pre || '') + '�';
	});
}

function formEncode(s) {
	var bytes = new TextEncoder().encode(wellFormed(String(s)));
	var out = '';
	for (var i = 0; i < bytes.length; i++) {
		var b = bytes[i];
		if (b === 0x20) out += '+';
		else if ((b >= 0x30 && b <= 0x39) || (b >= 0x41 && b <= 0x5a) || (b >= 0x61 && b <= 0x7a) ||
		         b === 0x2a || b === 0x2d || b === 0x2e || b === 0x5f) out += String.fromCharCode(b);
		else out += '%' + hex[b >> 4] + hex[b & 15];
	}
	return out;
}

function isHex(c) {
	return (c >= 0x30 && c <= 0x39) || (c >= 0x41 && c <= 0x46) || (c >= 0x61 && c <= 0x66);
}

function formDecode(s) {
	var bytes = new TextEncoder().encode(s.replace(/\+/g, ' '));
	var out = new Uint8Array(bytes.length);
	var n = 0;
	for (var i = 0; i < bytes.length; i++) {
		if (bytes[i] === 0x25 && i + 2 < bytes.length && isHex(bytes[i + 1]) && isHex(bytes[i + 2])) {
			out[n++] = parseInt(String.fromCharCode(bytes[i + 1], bytes[i + 2]), 16);
			i += 2;
		} else {
			out[n++] = bytes[i];
		}
	}
	return new TextDecoder().decode(out.subarray(0, n));
}

function parseForm(input) {
	var list = [];
	if (!input) return list;
	var pairs = input.split('&');
	for (var i = 0; i < pairs.length; i++) {
		if (pairs[i] === '') continue;
		var eq = pairs[i].indexOf('=');
		var name = eq === -1 ? pairs[i] : pairs[i].slice(0, eq);
		var value = eq === -1 ? '' : pairs[i].slice(eq + 1);
		list.push([formDecode(name), formDecode(value)]);
	}
	return list;
}

class URLSearchParams {
	constructor(init) {
		this._list = [];
		this._url = null;
		if (init === undefined || init === null) return;
		if (typeof init === 'object' || typeof init === 'function') {
			if (typeof init[Symbol.iterator] === 'function') {
				for (var pair of init) {
					var p = Array.from(pair);
					if (p.length !== 2) throw new TypeError("Failed to construct 'URLSearchParams': Sequence initializer must only contain pair elements");
					this._list.push([wellFormed(String(p[0])), wellFormed(String(p[1]))]);
				}
			} else {
				for (var key of Reflect.ownKeys(init)) {
					var desc = Reflect.getOwnPropertyDescriptor(init, key);
					if (desc === undefined || !desc.enumerable || typeof key === 'symbol') continue;
					this._list.push([wellFormed(key), wellFormed(String(init[key]))]);
				}
			}
		} else {
			var s = String(init);
			if (s.charAt(0) === '?') s = s.slice(1);
			this._list = parseForm(s);
		}
	}
	_update() {
		if (this._url) this._url._setQueryFromParams(this.toString());
	}
	get size() { return this._list.length; }
	append(name, value) {
		this._list.push([wellFormed(String(name)), wellFormed(String(value))]);
		this._update();
	}
	delete(name, value) {
		name = String(name);
		var checkValue = value !== undefined;
		if (checkValue) value = String(value);
		this._list = this._list.filter(function(e) { return !(e[0] === name && (!checkValue || e[1] === value)); });
		this._update();
	}
	get(name) {
		name = String(name);
		for (var i = 0; i < this._list.length; i++) if (this._list[i][0] === name) return this._list[i][1];
		return null;
	}
	getAll(name) {
		name = String(name);
		return this._list.filter(function(e) { return e[0] === name; }).map(function(e) { return e[1]; });
	}
	has(name, value) {
		name = String(name);
		var checkValue = value !== undefined;
		if (checkValue) value = String(value);
		return this._list.some(function(e) { return e[0] === name && (!checkValue || e[1] === value); });
	}
	set(name, value) {
		name = wellFormed(String(name));
		value = wellFormed(String(value));
		var found = false;
		this._list = this._list.filter(function(e) {
			if (e[0] !== name) return true;
			if (found) return false;
			found = true;
			e[1] = value;
			return true;
		});
		if (!found) this._list.push([name, value]);
		this._update();
	}
	sort() {
		var indexed = this._list.map(function(e, i) { return [e, i]; });
		indexed.sort(function(a, b) {
			var x = a[0][0], y = b[0][0];
			var n = Math.min(x.length, y.length);
			for (var i = 0; i < n; i++) {
				var d = x.charCodeAt(i) - y.charCodeAt(i);
				if (d !== 0) return d;
			}
			return x.length - y.length || a[1] - b[1];
		});
		this._list = indexed.map(function(p) { return p[0]; });
		this._update();
	}
	forEach(callback, thisArg) {
		for (var i = 0; i < this._list.length; i++) callback.call(thisArg, this._list[i][1], this._list[i][0], this);
	}
	*entries() { for (var i = 0; i < this._list.length; i++) yield [this._list[i][0], this._list[i][1]]; }
	*keys() { for (var i = 0; i < this._list.length; i++) yield this._list[i][0]; }
	*values() { for (var i = 0; i < this._list.length; i++) yield this._list[i][1]; }
	[Symbol.iterator]() { return this.entries(); }
	toString() {
		return this._list.map(function(e) { return formEncode(e[0]) + '=' + formEncode(e[1]); }).join('&');
	}
	get [Symbol.toStringTag]() { return 'URLSearchParams'; }
}

function parseRecord(json) {
	return JSON.parse(json);
}

class URL {
	constructor(url, base) {
		if (arguments.length === 0) throw new TypeError("Failed to construct 'URL': 1 argument required");
		var rec;
		try {
			rec = base === undefined ? parseRecord(__urlParse(String(url), '', false))
				: parseRecord(__urlParse(String(url), String(base), true));
		} catch (e) {
			throw new TypeError("Failed to construct 'URL': Invalid URL");
		}
		this._rec = rec;
		this._params = new URLSearchParams(rec.search);
		this._params._url = this;
	}
	static canParse(url, base) {
		try {
			if (base === undefined) __urlParse(String(url), '', false);
			else __urlParse(String(url), String(base), true);
			return true;
		} catch (e) {
			return false;
		}
	}
	static parse(url, base) {
		try { return new URL(url, base); } catch (e) { return null; }
	}
	_set(component, value) {
		try {
			this._rec = parseRecord(__urlSet(this._rec.href, component, wellFormed(String(value))));
		} catch (e) {
			if (component === 'href') throw new TypeError("Failed to set the 'href' property on 'URL': Invalid URL");
			return;
		}
		if (component === 'href' || component === 'search') {
			this._params._list = parseForm(this._rec.search.slice(1));
		}
	}
	_setQueryFromParams(serialized) {
		this._rec = parseRecord(__urlSet(this._rec.href, 'search', serialized));
	}
	get href() { return this._rec.href; }
	set href(v) { this._set('href', v); }
	get origin() { return this._rec.origin; }
	get protocol() { return this._rec.protocol; }
	set protocol(v) { this._set('protocol', v); }
	get username() { return this._rec.username; }
	set username(v) { this._set('username', v); }
	get password() { return this._rec.password; }
	set password(v) { this._set('password', v); }
	get host() { return this._rec.host; }
	set host(v) { this._set('host', v); }
	get hostname() { return this._rec.hostname; }
	set hostname(v) { this._set('hostname', v); }
	get port() { return this._rec.port; }
	set port(v) { this._set('port', v); }
	get pathname() { return this._rec.pathname; }
	set pathname(v) { this._set('pathname', v); }
	get search() { return this._rec.search; }
	set search(v) { this._set('search', v); }
	get searchParams() { return this._params; }
	get hash() { return this._rec.hash; }
	set hash(v) { this._set('hash', v); }
	toString() { return this._rec.href; }
	toJSON() { return this._rec.href; }
	get [Symbol.toStringTag]() { return 'URL'; }
}

globalThis.URL = URL;
globalThis.URLSearchParams = URLSearchParams;
globalThis.__formEncode = formEncode;
globalThis.__parseForm = parseForm;

})();
`

// SetupURL registers the Go-backed WHATWG URL parser and evaluates the
// URL and URLSearchParams classes.
func SetupURL(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__urlParse", func(input, base string, hasBase bool) (string, error) {
		if hasBase && base == "" {
			return "", fmt.Errorf("Invalid base URL")
		}
		return recordJSON(ParseURL(input, base))
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__urlSet", func(href, component, value string) (string, error) {
		return recordJSON(SetURLComponent(href, component, value))
	}); err != nil {
		return err
	}
	if err := rt.Eval(urlJS); err != nil {
		return fmt.Errorf("evaluating url.js: %w", err)
	}
	return nil
}
