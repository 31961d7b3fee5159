package webapi

import (
	"fmt"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// textStreamsJS defines TextEncoderStream and TextDecoderStream as
// readable/writable pairs over a TransformStream.
const textStreamsJS = `
(function() {

function pair(target, transformer) {
	var ts = new TransformStream(transformer);
	target._readable = ts.readable;
	target._writable = ts.writable;
}

class TextEncoderStream {
	constructor() {
		var encoder = new TextEncoder();
		var pendingHigh = '';
		pair(this, {
			transform: function(chunk, controller) {
				var s = pendingHigh + String(chunk);
				pendingHigh = '';
				var last = s.charCodeAt(s.length - 1);
				if (last >= 0xd800 && last <= 0xdbff) {
					pendingHigh = s[s.length - 1];
					s = s.slice(0, -1);
				}
				if (s.length > 0) controller.enqueue(encoder.encode(s));
			},
			flush: function(controller) {
				if (pendingHigh) controller.enqueue(new Uint8Array([0xef, 0xbf, 0xbd]));
			}
		});
	}
	get encoding() { return 'utf-8'; }
	get readable() { return this._readable; }
	get writable() { return this._writable; }
	get [Symbol.toStringTag]() { return 'TextEncoderStream'; }
}

class TextDecoderStream {
	constructor(label, options) {
		var decoder = new TextDecoder(label, options);
		this._decoder = decoder;
		pair(this, {
			transform: function(chunk, controller) {
				if (!(chunk instanceof ArrayBuffer) && !ArrayBuffer.isView(chunk)) {
					throw new TypeError('The provided value is not of type (ArrayBuffer or ArrayBufferView)');
				}
				var text = decoder.decode(chunk, { stream: true });
				if (text.length > 0) controller.enqueue(text);
			},
			flush: function(controller) {
				var text = decoder.decode();
				if (text.length > 0) controller.enqueue(text);
			}
		});
	}
	get encoding() { return this._decoder.encoding; }
	get fatal() { return this._decoder.fatal; }
	get ignoreBOM() { return this._decoder.ignoreBOM; }
	get readable() { return this._readable; }
	get writable() { return this._writable; }
	get [Symbol.toStringTag]() { return 'TextDecoderStream'; }
}

globalThis.TextEncoderStream = TextEncoderStream;
globalThis.TextDecoderStream = TextDecoderStream;

})();
`

// SetupTextStreams evaluates the text stream classes. Must run after
// SetupStreams and SetupEncoding.
func SetupTextStreams(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(textStreamsJS); err != nil {
		return fmt.Errorf("evaluating textstreams.js: %w", err)
	}
	return nil
}
