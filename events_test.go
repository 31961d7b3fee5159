package wptworker

import (
	"reflect"
	"regexp"
	"slices"
	"strings"
	"testing"
)

func TestTimers(t *testing.T) {
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, `
		var order = [];
		await new Promise(function(resolve) {
			setTimeout(function() { order.push('late'); resolve(); }, 30);
			setTimeout(function() { order.push('early'); }, 5);
			var cancelled = setTimeout(function() { order.push('cancelled'); }, 10);
			clearTimeout(cancelled);
			queueMicrotask(function() { order.push('micro'); });
		});
		var ticks = 0;
		await new Promise(function(resolve) {
			var id = setInterval(function() {
				ticks++;
				if (ticks === 3) { clearInterval(id); resolve(); }
			}, 2);
		});
		order.push('ticks:' + ticks);
		return order;
	`, &got)
	want := []string{"micro", "early", "late", "ticks:3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestAbortSignal(t *testing.T) {
	r := newTestRunner(t, nil)
	var got map[string]any
	runJSON(t, r, `
		var ctl = new AbortController();
		var fired = 0;
		ctl.signal.addEventListener('abort', function() { fired++; });
		ctl.abort();
		ctl.abort();
		var other = new AbortController();
		var combined = AbortSignal.any([other.signal, new AbortController().signal]);
		other.abort('why');
		var timed = AbortSignal.timeout(5);
		await new Promise(function(resolve) { timed.onabort = resolve; });
		var thrown = '';
		try { AbortSignal.abort().throwIfAborted(); } catch (e) { thrown = e.name; }
		return {
			fired: fired,
			reason: ctl.signal.reason.name,
			any: combined.reason,
			timeout: timed.reason.name,
			thrown: thrown
		};
	`, &got)
	want := map[string]any{
		"fired":   float64(1),
		"reason":  "AbortError",
		"any":     "why",
		"timeout": "TimeoutError",
		"thrown":  "AbortError",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEventTarget(t *testing.T) {
	r := newTestRunner(t, nil)
	var got struct {
		Calls     []string `json:"calls"`
		Detail    int      `json:"detail"`
		Cancelled bool     `json:"cancelled"`
		Code      int      `json:"code"`
	}
	runJSON(t, r, `
		var target = new EventTarget();
		var calls = [];
		function a() { calls.push('a'); }
		target.addEventListener('ping', a);
		target.addEventListener('ping', a);
		target.addEventListener('ping', function() { calls.push('once'); }, { once: true });
		target.addEventListener('ping', function(e) { e.preventDefault(); calls.push('b'); });
		var detail = 0;
		target.addEventListener('custom', function(e) { detail = e.detail; });
		var notCancelled = target.dispatchEvent(new Event('ping', { cancelable: true }));
		target.dispatchEvent(new Event('ping'));
		target.dispatchEvent(new CustomEvent('custom', { detail: 7 }));
		return {
			calls: calls,
			detail: detail,
			cancelled: !notCancelled,
			code: new DOMException('m', 'NotFoundError').code
		};
	`, &got)
	if !reflect.DeepEqual(got.Calls, []string{"a", "once", "b", "a", "b"}) {
		t.Errorf("calls = %v", got.Calls)
	}
	if got.Detail != 7 || !got.Cancelled || got.Code != 8 {
		t.Errorf("detail/cancelled/code = %d %v %d", got.Detail, got.Cancelled, got.Code)
	}
}

func TestUnhandledRejection_Handled(t *testing.T) {
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, `
		var seen = [];
		await new Promise(function(resolve) {
			addEventListener('unhandledrejection', function(e) {
				e.preventDefault();
				seen.push(e.constructor.name + ':' + e.reason);
				resolve();
			});
			Promise.reject('nobody');
		});
		return seen;
	`, &got)
	if !reflect.DeepEqual(got, []string{"PromiseRejectionEvent:nobody"}) {
		t.Errorf("got %v", got)
	}
}

func TestUnhandledRejection_Uncaught(t *testing.T) {
	r := newTestRunner(t, nil)
	rep := runSource(t, r, `
var t = async_test('wait');
Promise.reject(new Error('dangling'));
setTimeout(function() { t.done(); }, 200);
`)
	if rep.Error == nil {
		t.Fatalf("expected an uncaught error, report = %+v", rep)
	}
	if !strings.Contains(rep.Error.Message, "dangling") {
		t.Errorf("error message = %q", rep.Error.Message)
	}
}

func TestUnhandledRejection_Shapes(t *testing.T) {
	r := newTestRunner(t, nil)
	tests := []struct {
		name string
		src  string
		// engineCreated promises are only visible when the engine reports
		// rejections itself.
		engineCreated bool
	}{
		{name: "executor", src: `new Promise(function(_, reject) { reject(new Error('boom')); });`},
		{name: "executor throws", src: `new Promise(function() { throw new Error('boom'); });`},
		{name: "then callback", src: `Promise.resolve().then(function() { throw new Error('boom'); });`},
		{name: "Promise.reject", src: `Promise.reject(new Error('boom'));`},
		{name: "async function", src: `(async function() { throw new Error('boom'); })();`, engineCreated: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.engineCreated && EngineName == "v8" {
				t.Skip("v8go has no promise reject callback")
			}
			rep := runSource(t, r, tt.src+"\ntest(function() {}, 'sync');")
			if rep.Error == nil {
				t.Fatalf("expected an error message, report = %+v", rep)
			}
			if rep.Error.Name != "Error" || rep.Error.Message != "boom" {
				t.Errorf("error = %+v", rep.Error)
			}
			if rep.Completion != nil {
				t.Error("completion sent after error")
			}
		})
	}
}

func TestUnhandledRejection_HandledInTime(t *testing.T) {
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, `
		var caught = [];
		try { await Promise.reject(new Error('a')); } catch (e) { caught.push(e.message); }
		try { await new Promise(function(_, reject) { reject(new Error('b')); }); } catch (e) { caught.push(e.message); }
		try { await (async function() { throw new Error('c'); })(); } catch (e) { caught.push(e.message); }
		var late = Promise.reject(new Error('d'));
		await null;
		await late.catch(function(e) { caught.push(e.message); });
		return caught;
	`, &got)
	if !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Errorf("caught = %v", got)
	}
}

func TestReportError(t *testing.T) {
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, `
		var seen = [];
		addEventListener('error', function(e) {
			e.preventDefault();
			seen.push(e.message, e.error.name);
		});
		reportError(new TypeError('reported'));
		return seen;
	`, &got)
	if !reflect.DeepEqual(got, []string{"reported", "TypeError"}) {
		t.Errorf("got %v", got)
	}
}

func TestBase64AndEncoding(t *testing.T) {
	r := newTestRunner(t, nil)
	var got map[string]any
	runJSON(t, r, `
		function errName(fn) { try { fn(); return 'none'; } catch (e) { return e.name; } }
		var buf = new Uint8Array(8);
		var into = new TextEncoder().encodeInto('é!', buf);
		var fatal = errName(function() {
			new TextDecoder('utf-8', { fatal: true }).decode(new Uint8Array([0xff]));
		});
		return {
			btoa: btoa('hi?'),
			atob: atob(' aGk/ '),
			badAtob: errName(function() { atob('a'); }),
			badBtoa: errName(function() { btoa('☃'); }),
			read: into.read,
			written: into.written,
			label: new TextDecoder('latin1').encoding,
			sjis: new TextDecoder('shift_jis').decode(new Uint8Array([0x82, 0xa0])),
			bom: new TextDecoder().decode(new Uint8Array([0xef, 0xbb, 0xbf, 0x41])),
			fatal: fatal,
			badLabel: errName(function() { new TextDecoder('nope'); })
		};
	`, &got)
	want := map[string]any{
		"btoa":     "aGk/",
		"atob":     "hi?",
		"badAtob":  "InvalidCharacterError",
		"badBtoa":  "InvalidCharacterError",
		"read":     float64(2),
		"written":  float64(3),
		"label":    "windows-1252",
		"sjis":     "あ",
		"bom":      "A",
		"fatal":    "TypeError",
		"badLabel": "RangeError",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCrypto(t *testing.T) {
	r := newTestRunner(t, nil)
	var got struct {
		Filled  bool   `json:"filled"`
		Same    bool   `json:"same"`
		UUID    string `json:"uuid"`
		Digest  string `json:"digest"`
		Quota   string `json:"quota"`
		Float   string `json:"float"`
		BadAlgo string `json:"badAlgo"`
	}
	runJSON(t, r, `
		function errName(fn) { try { fn(); return 'none'; } catch (e) { return e.name; } }
		var arr = new Uint32Array(16);
		var ret = crypto.getRandomValues(arr);
		var hash = new Uint8Array(await crypto.subtle.digest('SHA-256', new TextEncoder().encode('abc')));
		var bad = '';
		try { await crypto.subtle.digest('MD5', new Uint8Array(1)); } catch (e) { bad = e.name; }
		return {
			filled: arr.some(function(v) { return v !== 0; }),
			same: ret === arr,
			uuid: crypto.randomUUID(),
			digest: Array.from(hash).map(function(b) { return b.toString(16).padStart(2, '0'); }).join(''),
			quota: errName(function() { crypto.getRandomValues(new Uint8Array(65537)); }),
			float: errName(function() { crypto.getRandomValues(new Float32Array(1)); }),
			badAlgo: bad
		};
	`, &got)
	if !got.Filled || !got.Same {
		t.Errorf("getRandomValues filled=%v same=%v", got.Filled, got.Same)
	}
	if !regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`).MatchString(got.UUID) {
		t.Errorf("randomUUID = %q", got.UUID)
	}
	if got.Digest != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("digest = %s", got.Digest)
	}
	if got.Quota != "QuotaExceededError" || got.Float != "TypeMismatchError" || got.BadAlgo != "NotSupportedError" {
		t.Errorf("errors = %q %q %q", got.Quota, got.Float, got.BadAlgo)
	}
}

func TestStructuredClone(t *testing.T) {
	r := newTestRunner(t, nil)
	var got map[string]any
	runJSON(t, r, `
		var src = { n: 1, list: [1, 2], when: new Date(0), map: new Map([['k', 'v']]) };
		src.self = src;
		var copy = structuredClone(src);
		var fnErr = '';
		try { structuredClone(function() {}); } catch (e) { fnErr = e.name; }
		return {
			distinct: copy !== src && copy.list !== src.list,
			cycle: copy.self === copy,
			date: copy.when instanceof Date && copy.when.getTime() === 0,
			map: copy.map.get('k'),
			fnErr: fnErr
		};
	`, &got)
	want := map[string]any{
		"distinct": true,
		"cycle":    true,
		"date":     true,
		"map":      "v",
		"fnErr":    "DataCloneError",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConsole_Levels(t *testing.T) {
	r := newTestRunner(t, nil)
	rep := runSource(t, r, `
console.warn('careful', 1, { a: true });
console.error('bad', null);
console.count();
console.count();
console.assert(false, 'nope');
test(function() {}, 'noop');
`)
	requireOK(t, rep)
	var lines []string
	for _, e := range rep.Logs {
		lines = append(lines, e.Level+" "+strings.SplitN(e.Message, "\n", 2)[0])
	}
	want := []string{
		`warn careful 1 {"a":true}`,
		"error bad null",
		"info default: 1",
		"info default: 2",
		"error Assertion failed: nope",
	}
	start := slices.Index(lines, want[0])
	if start < 0 || len(lines)-start < len(want) || !reflect.DeepEqual(lines[start:start+len(want)], want) {
		t.Errorf("logs = %q, want a run of %q", lines, want)
	}
}
