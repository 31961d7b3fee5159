package webapi

import (
	"fmt"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// bodyTypesJS provides body extraction, multipart encoding and parsing, and
// the Body mixin shared by Request and Response. A body is either a byte
// buffer (_bodyBytes) or a ReadableStream (_bodyStream); the stream is
// created lazily from the buffer the first time .body is read.
const bodyTypesJS = `
(function() {

function latin1(bytes) {
	var parts = [];
	for (var i = 0; i < bytes.length; i += 8192) {
		parts.push(String.fromCharCode.apply(null, bytes.subarray(i, Math.min(i + 8192, bytes.length))));
	}
	return parts.join('');
}

function fromLatin1(s) {
	var out = new Uint8Array(s.length);
	for (var i = 0; i < s.length; i++) out[i] = s.charCodeAt(i) & 0xff;
	return out;
}

var utf8 = new TextDecoder();
var encoder = new TextEncoder();

function escapeMultipartName(s) {
	return s.replace(/\n/g, '%0A').replace(/\r/g, '%0D').replace(/"/g, '%22');
}

function newBoundary() {
	var s = '';
	for (var i = 0; i < 24; i++) s += Math.floor(Math.random() * 10);
	return '----formdata-wptworker-' + s;
}

function encodeMultipart(fd, boundary) {
	var chunks = [];
	fd._entries.forEach(function(entry) {
		var name = entry[0].replace(/\r\n|\r|\n/g, '\r\n');
		var value = entry[1];
		var head = '--' + boundary + '\r\nContent-Disposition: form-data; name="' + escapeMultipartName(name) + '"';
		if (typeof value === 'string') {
			chunks.push(encoder.encode(head + '\r\n\r\n' + value.replace(/\r\n|\r|\n/g, '\r\n') + '\r\n'));
			return;
		}
		head += '; filename="' + escapeMultipartName(value.name) + '"\r\nContent-Type: ' +
			(value.type || 'application/octet-stream') + '\r\n\r\n';
		chunks.push(encoder.encode(head));
		chunks.push(value._bytes);
		chunks.push(encoder.encode('\r\n'));
	});
	chunks.push(encoder.encode('--' + boundary + '--\r\n'));
	return __concatBytes(chunks);
}

function mimeParam(contentType, param) {
	var parts = contentType.split(';');
	for (var i = 1; i < parts.length; i++) {
		var eq = parts[i].indexOf('=');
		if (eq === -1) continue;
		if (parts[i].slice(0, eq).trim().toLowerCase() !== param) continue;
		var v = parts[i].slice(eq + 1).trim();
		if (v.length >= 2 && v[0] === '"' && v[v.length - 1] === '"') v = v.slice(1, -1);
		return v;
	}
	return null;
}

function mimeEssence(contentType) {
	return contentType.split(';')[0].trim().toLowerCase();
}

function headerParam(header, param) {
	var re = new RegExp(';\\s*' + param + '="([^"]*)"', 'i');
	var m = header.match(re);
	return m ? utf8.decode(fromLatin1(m[1])) : null;
}

function parseMultipart(bytes, contentType) {
	var boundary = mimeParam(contentType, 'boundary');
	if (!boundary) throw new TypeError('Missing multipart boundary');
	var s = latin1(bytes);
	var delim = '--' + boundary;
	var fail = function() { return new TypeError('Failed to parse body as FormData.'); };
	if (s.indexOf(delim) !== 0) throw fail();
	var fd = new FormData();
	var pos = delim.length;
	for (;;) {
		if (s.substr(pos, 2) === '--') return fd;
		if (s.substr(pos, 2) !== '\r\n') throw fail();
		pos += 2;
		var headerEnd = s.indexOf('\r\n\r\n', pos);
		if (headerEnd === -1) throw fail();
		var name = null, filename = null, type = '';
		s.slice(pos, headerEnd).split('\r\n').forEach(function(line) {
			var colon = line.indexOf(':');
			if (colon === -1) return;
			var key = line.slice(0, colon).trim().toLowerCase();
			var value = line.slice(colon + 1).trim();
			if (key === 'content-disposition') {
				name = headerParam(value, 'name');
				filename = headerParam(value, 'filename');
			} else if (key === 'content-type') {
				type = value;
			}
		});
		if (name === null) throw fail();
		var bodyStart = headerEnd + 4;
		var next = s.indexOf('\r\n' + delim, bodyStart);
		if (next === -1) throw fail();
		var content = fromLatin1(s.slice(bodyStart, next));
		if (filename !== null) fd.append(name, new File([content], filename, { type: type }));
		else fd.append(name, utf8.decode(content));
		pos = next + 2 + delim.length;
	}
}

// __extractBody returns { bytes, stream, type } for a BodyInit value.
globalThis.__extractBody = function(init) {
	if (init instanceof ReadableStream) {
		if (init._disturbed || init.locked) throw new TypeError('ReadableStream is disturbed or locked');
		return { bytes: null, stream: init, type: null };
	}
	if (init instanceof Blob) {
		return { bytes: init._bytes.slice(), stream: null, type: init.type || null };
	}
	if (init instanceof ArrayBuffer) {
		return { bytes: new Uint8Array(init.slice(0)), stream: null, type: null };
	}
	if (ArrayBuffer.isView(init)) {
		return { bytes: new Uint8Array(init.buffer.slice(init.byteOffset, init.byteOffset + init.byteLength)), stream: null, type: null };
	}
	if (init instanceof FormData) {
		var boundary = newBoundary();
		return { bytes: encodeMultipart(init, boundary), stream: null, type: 'multipart/form-data; boundary=' + boundary };
	}
	if (init instanceof URLSearchParams) {
		return { bytes: encoder.encode(init.toString()), stream: null, type: 'application/x-www-form-urlencoded;charset=UTF-8' };
	}
	return { bytes: encoder.encode(String(init)), stream: null, type: 'text/plain;charset=UTF-8' };
};

function bytesStream(bytes) {
	return new ReadableStream({
		type: 'bytes',
		start: function(c) {
			if (bytes.byteLength > 0) c.enqueue(bytes.slice());
			c.close();
		}
	});
}

function hasBody(obj) { return obj._bodyBytes !== null || obj._bodyStream !== null; }

function isUsed(obj) {
	return obj._bodyUsed || (obj._bodyStream !== null && obj._bodyStream._disturbed);
}

function consume(obj) {
	if (isUsed(obj)) return Promise.reject(new TypeError('Body has already been consumed.'));
	if (obj._bodyStream !== null && obj._bodyStream.locked) return Promise.reject(new TypeError('Body stream is locked.'));
	obj._bodyUsed = true;
	if (obj._bodyStream !== null) return __readAllBytes(obj._bodyStream);
	return Promise.resolve(obj._bodyBytes === null ? new Uint8Array(0) : obj._bodyBytes.slice());
}

function contentType(obj) {
	return obj._headers.get('content-type') || '';
}

// __cloneBody copies the body of src onto dst, teeing streams.
globalThis.__cloneBody = function(src, dst) {
	if (isUsed(src) || (src._bodyStream !== null && src._bodyStream.locked)) {
		throw new TypeError('Cannot clone a body that has been used.');
	}
	dst._bodyUsed = false;
	dst._bodyBytes = src._bodyBytes;
	dst._bodyStream = null;
	if (src._bodyStream !== null) {
		var branches = src._bodyStream.tee();
		src._bodyStream = branches[0];
		dst._bodyStream = branches[1];
	}
};

// __setBody installs an extracted body and returns its content type.
globalThis.__setBody = function(obj, init) {
	obj._bodyUsed = false;
	obj._bodyBytes = null;
	obj._bodyStream = null;
	if (init === null || init === undefined) return null;
	var body = __extractBody(init);
	obj._bodyBytes = body.bytes;
	obj._bodyStream = body.stream;
	return body.type;
};

// __bodyBytes resolves the full body of obj, or null if it has none.
globalThis.__bodyBytes = function(obj) {
	if (!hasBody(obj)) return Promise.resolve(null);
	return consume(obj);
};

globalThis.__mixinBody = function(Class) {
	var proto = Class.prototype;
	Object.defineProperty(proto, 'body', {
		configurable: true,
		get: function() {
			if (!hasBody(this)) return null;
			if (this._bodyStream === null) {
				this._bodyStream = bytesStream(this._bodyBytes);
				if (this._bodyUsed) this._bodyStream._disturbed = true;
			}
			return this._bodyStream;
		}
	});
	Object.defineProperty(proto, 'bodyUsed', {
		configurable: true,
		get: function() { return isUsed(this); }
	});
	proto.arrayBuffer = function() { return consume(this).then(function(b) { return b.buffer; }); };
	proto.bytes = function() { return consume(this); };
	proto.text = function() { return consume(this).then(function(b) { return utf8.decode(b); }); };
	proto.json = function() { return consume(this).then(function(b) { return JSON.parse(utf8.decode(b)); }); };
	proto.blob = function() {
		var type = contentType(this);
		return consume(this).then(function(b) { return new Blob([b], { type: type }); });
	};
	proto.formData = function() {
		var ct = contentType(this);
		return consume(this).then(function(b) {
			var essence = mimeEssence(ct);
			if (essence === 'multipart/form-data') return parseMultipart(b, ct);
			if (essence === 'application/x-www-form-urlencoded') {
				var fd = new FormData();
				new URLSearchParams(utf8.decode(b)).forEach(function(v, k) { fd.append(k, v); });
				return fd;
			}
			throw new TypeError('Could not parse content as FormData.');
		});
	};
};

})();
`

// SetupBodyTypes evaluates the body helpers. Must run after SetupStreams
// and SetupFormData.
func SetupBodyTypes(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(bodyTypesJS); err != nil {
		return fmt.Errorf("evaluating bodytypes.js: %w", err)
	}
	return nil
}
