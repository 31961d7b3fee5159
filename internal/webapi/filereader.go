package webapi

import (
	"fmt"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// fileReaderJS defines FileReader. Reads complete in a later task so the
// loadstart, progress, load and loadend events fire asynchronously.
const fileReaderJS = `
(function() {

var EMPTY = 0, LOADING = 1, DONE = 2;

function dataURL(bytes, type) {
	return 'data:' + (type || 'application/octet-stream') + ';base64,' + __bytesToB64(bytes);
}

function binaryString(bytes) {
	var parts = [];
	for (var i = 0; i < bytes.length; i += 8192) {
		parts.push(String.fromCharCode.apply(null, bytes.subarray(i, Math.min(i + 8192, bytes.length))));
	}
	return parts.join('');
}

function decodeText(bytes, label, type) {
	var encoding = label;
	if (encoding === undefined) {
		var m = /;\s*charset=("?)([^";]+)\1/i.exec(type || '');
		encoding = m ? m[2] : 'utf-8';
	}
	try {
		return new TextDecoder(encoding).decode(bytes);
	} catch (e) {
		return new TextDecoder('utf-8').decode(bytes);
	}
}

class FileReader extends EventTarget {
	constructor() {
		super();
		this._readyState = EMPTY;
		this._result = null;
		this._error = null;
		this._generation = 0;
	}
	get readyState() { return this._readyState; }
	get result() { return this._result; }
	get error() { return this._error; }

	_fire(type, loaded, total) {
		this.dispatchEvent(new ProgressEvent(type, { lengthComputable: true, loaded: loaded, total: total }));
	}

	_read(blob, kind, arg) {
		if (!(blob instanceof Blob)) {
			throw new TypeError("Failed to execute 'read' on 'FileReader': parameter 1 is not of type 'Blob'.");
		}
		if (this._readyState === LOADING) {
			throw new DOMException('The object is already busy reading Blobs.', 'InvalidStateError');
		}
		this._readyState = LOADING;
		this._result = null;
		this._error = null;
		var gen = ++this._generation;
		var self = this;
		var bytes = blob._bytes;
		var type = blob.type;
		setTimeout(function() {
			if (gen !== self._generation) return;
			self._fire('loadstart', 0, bytes.byteLength);
			if (gen !== self._generation) return;
			if (bytes.byteLength > 0) self._fire('progress', bytes.byteLength, bytes.byteLength);
			if (gen !== self._generation) return;
			var result;
			switch (kind) {
			case 'arraybuffer': result = bytes.slice().buffer; break;
			case 'binarystring': result = binaryString(bytes); break;
			case 'dataurl': result = dataURL(bytes, type); break;
			default: result = decodeText(bytes, arg, type);
			}
			self._readyState = DONE;
			self._result = result;
			self._fire('load', bytes.byteLength, bytes.byteLength);
			if (self._readyState !== LOADING) self._fire('loadend', bytes.byteLength, bytes.byteLength);
		}, 0);
	}

	readAsArrayBuffer(blob) { this._read(blob, 'arraybuffer'); }
	readAsBinaryString(blob) { this._read(blob, 'binarystring'); }
	readAsDataURL(blob) { this._read(blob, 'dataurl'); }
	readAsText(blob, encoding) { this._read(blob, 'text', encoding === undefined ? undefined : String(encoding)); }

	abort() {
		if (this._readyState === EMPTY || this._readyState === DONE) {
			this._result = null;
			return;
		}
		this._generation++;
		this._readyState = DONE;
		this._result = null;
		this._error = new DOMException('The operation was aborted.', 'AbortError');
		this._fire('abort', 0, 0);
		if (this._readyState !== LOADING) this._fire('loadend', 0, 0);
	}
	get [Symbol.toStringTag]() { return 'FileReader'; }
}

FileReader.EMPTY = FileReader.prototype.EMPTY = EMPTY;
FileReader.LOADING = FileReader.prototype.LOADING = LOADING;
FileReader.DONE = FileReader.prototype.DONE = DONE;
['loadstart', 'progress', 'load', 'abort', 'error', 'loadend'].forEach(function(name) {
	__defineEventHandler(FileReader.prototype, name);
});

globalThis.FileReader = FileReader;

})();
`

// SetupFileReader evaluates the FileReader class. Must run after
// SetupFormData and SetupEvents.
func SetupFileReader(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(fileReaderJS); err != nil {
		return fmt.Errorf("evaluating filereader.js: %w", err)
	}
	return nil
}
