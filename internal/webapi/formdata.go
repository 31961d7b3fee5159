package webapi

import (
	"fmt"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// formdataJS defines Blob, File and FormData. Blob contents are held as a
// single Uint8Array so slicing works on byte offsets.
const formdataJS = `
(function() {

function concatBytes(list) {
	var total = 0;
	for (var i = 0; i < list.length; i++) total += list[i].byteLength;
	var out = new Uint8Array(total);
	var off = 0;
	for (var j = 0; j < list.length; j++) { out.set(list[j], off); off += list[j].byteLength; }
	return out;
}
globalThis.__concatBytes = concatBytes;

function normalizeType(type) {
	if (type === undefined) return '';
	type = String(type);
	for (var i = 0; i < type.length; i++) {
		var c = type.charCodeAt(i);
		if (c < 0x20 || c > 0x7e) return '';
	}
	return type.toLowerCase();
}

function partBytes(part, endings) {
	if (part instanceof Blob) return part._bytes;
	if (part instanceof ArrayBuffer) return new Uint8Array(part.slice(0));
	if (ArrayBuffer.isView(part)) return new Uint8Array(part.buffer.slice(part.byteOffset, part.byteOffset + part.byteLength));
	var s = String(part);
	if (endings === 'native') s = s.replace(/\r\n|\r/g, '\n');
	return new TextEncoder().encode(s);
}

var utf8 = new TextDecoder();

class Blob {
	constructor(parts, options) {
		options = options === undefined || options === null ? {} : options;
		if (typeof options !== 'object' && typeof options !== 'function') {
			throw new TypeError("Failed to construct 'Blob': The provided value is not of type 'BlobPropertyBag'.");
		}
		var endings = options.endings === undefined ? 'transparent' : String(options.endings);
		if (endings !== 'transparent' && endings !== 'native') {
			throw new TypeError("Failed to construct 'Blob': The provided value '" + endings + "' is not a valid enum value of type EndingType.");
		}
		var list = [];
		if (parts !== undefined) {
			if (parts === null || typeof parts !== 'object' || typeof parts[Symbol.iterator] !== 'function') {
				throw new TypeError("Failed to construct 'Blob': The provided value cannot be converted to a sequence.");
			}
			for (var part of parts) list.push(partBytes(part, endings));
		}
		this._bytes = concatBytes(list);
		this._type = normalizeType(options.type);
	}
	get size() { return this._bytes.byteLength; }
	get type() { return this._type; }
	slice(start, end, contentType) {
		var size = this._bytes.byteLength;
		var from = start === undefined ? 0 : Math.trunc(Number(start)) || 0;
		var to = end === undefined ? size : Math.trunc(Number(end)) || 0;
		from = from < 0 ? Math.max(size + from, 0) : Math.min(from, size);
		to = to < 0 ? Math.max(size + to, 0) : Math.min(to, size);
		var out = Object.create(Blob.prototype);
		out._bytes = this._bytes.slice(from, Math.max(from, to));
		out._type = normalizeType(contentType);
		return out;
	}
	text() { return Promise.resolve(utf8.decode(this._bytes)); }
	arrayBuffer() { return Promise.resolve(this._bytes.slice().buffer); }
	bytes() { return Promise.resolve(this._bytes.slice()); }
	stream() {
		var bytes = this._bytes;
		return new ReadableStream({
			type: 'bytes',
			start: function(c) {
				if (bytes.byteLength > 0) c.enqueue(bytes.slice());
				c.close();
			}
		});
	}
	get [Symbol.toStringTag]() { return 'Blob'; }
}

class File extends Blob {
	constructor(parts, name, options) {
		if (arguments.length < 2) {
			throw new TypeError("Failed to construct 'File': 2 arguments required, but only " + arguments.length + ' present.');
		}
		super(parts, options);
		this._name = String(name);
		var lm = options && options.lastModified !== undefined ? Number(options.lastModified) : Date.now();
		this._lastModified = isNaN(lm) ? 0 : Math.trunc(lm);
	}
	get name() { return this._name; }
	get lastModified() { return this._lastModified; }
	get webkitRelativePath() { return ''; }
	get [Symbol.toStringTag]() { return 'File'; }
}

function toEntryValue(value, filename, argc) {
	if (value instanceof Blob) {
		if (value instanceof File && argc < 3) return value;
		var name = argc >= 3 ? String(filename) : (value instanceof File ? value.name : 'blob');
		var f = new File([], name, { type: value.type, lastModified: value instanceof File ? value.lastModified : undefined });
		f._bytes = value._bytes;
		return f;
	}
	if (argc >= 3) throw new TypeError("parameter 2 is not of type 'Blob'.");
	return __toUSVString(value);
}

globalThis.__toUSVString = function(v) {
	var s = String(v);
	if (typeof s.toWellFormed === 'function') return s.toWellFormed();
	return s.replace(/[\uD800-\uDBFF](?![\uDC00-\uDFFF])|(^|[^\uD800-\uDBFF])[\uDC00-\uDFFF]/g, function(m) {
		return m.length === 2 ? m[0] + '�' : '�';
	});
};

class FormData {
	constructor(form) {
		if (form !== undefined) throw new TypeError("Failed to construct 'FormData': form elements are not supported.");
		this._entries = [];
	}
	append(name, value, filename) {
		if (arguments.length < 2) throw new TypeError("Failed to execute 'append' on 'FormData': 2 arguments required.");
		this._entries.push([__toUSVString(name), toEntryValue(value, filename, arguments.length)]);
	}
	delete(name) {
		name = __toUSVString(name);
		this._entries = this._entries.filter(function(e) { return e[0] !== name; });
	}
	get(name) {
		name = __toUSVString(name);
		for (var i = 0; i < this._entries.length; i++) if (this._entries[i][0] === name) return this._entries[i][1];
		return null;
	}
	getAll(name) {
		name = __toUSVString(name);
		return this._entries.filter(function(e) { return e[0] === name; }).map(function(e) { return e[1]; });
	}
	has(name) {
		name = __toUSVString(name);
		return this._entries.some(function(e) { return e[0] === name; });
	}
	set(name, value, filename) {
		if (arguments.length < 2) throw new TypeError("Failed to execute 'set' on 'FormData': 2 arguments required.");
		name = __toUSVString(name);
		var entry = [name, toEntryValue(value, filename, arguments.length)];
		var idx = -1;
		for (var i = 0; i < this._entries.length; i++) if (this._entries[i][0] === name) { idx = i; break; }
		if (idx === -1) { this._entries.push(entry); return; }
		this._entries[idx] = entry;
		this._entries = this._entries.filter(function(e, j) { return j <= idx || e[0] !== name; });
	}
	forEach(callback, thisArg) {
		for (var i = 0; i < this._entries.length; i++) {
			callback.call(thisArg, this._entries[i][1], this._entries[i][0], this);
		}
	}
	*entries() {
		for (var i = 0; i < this._entries.length; i++) yield [this._entries[i][0], this._entries[i][1]];
	}
	*keys() { for (var e of this.entries()) yield e[0]; }
	*values() { for (var e of this.entries()) yield e[1]; }
	[Symbol.iterator]() { return this.entries(); }
	get [Symbol.toStringTag]() { return 'FormData'; }
}

globalThis.Blob = Blob;
globalThis.File = File;
globalThis.FormData = FormData;

})();
`

// SetupFormData evaluates the Blob, File and FormData classes.
func SetupFormData(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(formdataJS); err != nil {
		return fmt.Errorf("evaluating formdata.js: %w", err)
	}
	return nil
}
