package webapi

import (
	"fmt"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// streamsJS implements ReadableStream (default and BYOB readers),
// WritableStream, TransformStream and the queuing strategies. Chunks are
// delivered through promise reactions, so every state change becomes
// visible at the next microtask checkpoint.
const streamsJS = `
(function() {

function deferred() {
	var d = {};
	d.promise = new Promise(function(resolve, reject) { d.resolve = resolve; d.reject = reject; });
	d.promise.catch(function() {});
	return d;
}

function sizeOf(strategy) {
	if (strategy && typeof strategy.size === 'function') return strategy.size;
	return function() { return 1; };
}

function highWaterMarkOf(strategy, fallback) {
	if (!strategy || strategy.highWaterMark === undefined) return fallback;
	var hwm = Number(strategy.highWaterMark);
	if (isNaN(hwm) || hwm < 0) throw new RangeError('Invalid highWaterMark');
	return hwm;
}

// --- ReadableStream ---

class ReadableStreamDefaultController {
	constructor(stream) { this._stream = stream; }
	get desiredSize() {
		var s = this._stream;
		if (s._state === 'errored') return null;
		if (s._state === 'closed') return 0;
		return s._hwm - s._queueSize;
	}
	get byobRequest() { return null; }
	enqueue(chunk) {
		var s = this._stream;
		if (s._closeRequested || s._state !== 'readable') throw new TypeError('Cannot enqueue a chunk into a closed stream');
		if (s._type === 'bytes') {
			if (!ArrayBuffer.isView(chunk)) throw new TypeError('chunk must be an ArrayBufferView');
			chunk = new Uint8Array(chunk.buffer.slice(chunk.byteOffset, chunk.byteOffset + chunk.byteLength));
		}
		if (s._readRequests.length > 0) {
			s._readRequests.shift().resolve({ value: chunk, done: false });
		} else {
			var size = 1;
			try { size = s._size(chunk); } catch (e) { s._error(e); throw e; }
			s._queue.push({ chunk: chunk, size: size });
			s._queueSize += size;
		}
		s._servePending();
		s._pullIfNeeded();
	}
	close() {
		var s = this._stream;
		if (s._closeRequested || s._state !== 'readable') throw new TypeError('Cannot close a closed stream');
		s._closeRequested = true;
		if (s._queue.length === 0) s._close();
	}
	error(e) {
		if (this._stream._state === 'readable') this._stream._error(e);
	}
}

class ReadableStreamDefaultReader {
	constructor(stream) {
		if (!(stream instanceof ReadableStream)) throw new TypeError('not a ReadableStream');
		if (stream._reader) throw new TypeError('ReadableStream is locked');
		this._stream = stream;
		stream._reader = this;
		this._closed = deferred();
		if (stream._state === 'closed') this._closed.resolve(undefined);
		else if (stream._state === 'errored') this._closed.reject(stream._storedError);
	}
	get closed() { return this._closed.promise; }
	read() {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Reader has been released'));
		s._disturbed = true;
		if (s._queue.length > 0) {
			var entry = s._queue.shift();
			s._queueSize -= entry.size;
			if (s._closeRequested && s._queue.length === 0) s._close();
			else s._pullIfNeeded();
			return Promise.resolve({ value: entry.chunk, done: false });
		}
		if (s._state === 'closed') return Promise.resolve({ value: undefined, done: true });
		if (s._state === 'errored') return Promise.reject(s._storedError);
		var d = deferred();
		s._readRequests.push(d);
		s._pullIfNeeded();
		return d.promise;
	}
	cancel(reason) {
		if (!this._stream) return Promise.reject(new TypeError('Reader has been released'));
		return this._stream._cancel(reason);
	}
	releaseLock() {
		var s = this._stream;
		if (!s) return;
		var err = new TypeError('Reader was released');
		var pending = s._readRequests;
		s._readRequests = [];
		pending.forEach(function(d) { d.reject(err); });
		if (s._state === 'readable') this._closed.reject(err);
		else { this._closed = deferred(); this._closed.reject(err); }
		s._reader = null;
		this._stream = null;
	}
	get [Symbol.toStringTag]() { return 'ReadableStreamDefaultReader'; }
}

class ReadableStreamBYOBReader extends ReadableStreamDefaultReader {
	constructor(stream) {
		if (stream._type !== 'bytes') throw new TypeError('BYOB readers require a byte stream');
		super(stream);
	}
	read(view) {
		if (!ArrayBuffer.isView(view) || view.byteLength === 0) {
			return Promise.reject(new TypeError('read() requires a non-empty ArrayBufferView'));
		}
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Reader has been released'));
		var Ctor = view.constructor;
		var target = new Uint8Array(view.buffer, view.byteOffset, view.byteLength);
		return super.read().then(function(result) {
			if (result.done) return { value: new Ctor(view.buffer, view.byteOffset, 0), done: true };
			var chunk = result.value;
			var n = Math.min(chunk.byteLength, target.byteLength);
			target.set(chunk.subarray(0, n));
			if (n < chunk.byteLength && s._state === 'readable') {
				var rest = chunk.subarray(n);
				s._queue.unshift({ chunk: rest, size: rest.byteLength });
				s._queueSize += rest.byteLength;
			}
			var elements = Math.floor(n / (Ctor.BYTES_PER_ELEMENT || 1));
			return { value: new Ctor(view.buffer, view.byteOffset, elements), done: false };
		});
	}
	get [Symbol.toStringTag]() { return 'ReadableStreamBYOBReader'; }
}

class ReadableStream {
	constructor(source, strategy) {
		source = source === undefined || source === null ? {} : source;
		this._state = 'readable';
		this._reader = null;
		this._disturbed = false;
		this._storedError = undefined;
		this._queue = [];
		this._queueSize = 0;
		this._readRequests = [];
		this._closeRequested = false;
		this._pulling = false;
		this._pullAgain = false;
		this._started = false;
		this._type = source.type === undefined ? undefined : String(source.type);
		if (this._type !== undefined && this._type !== 'bytes') throw new RangeError('Invalid type: ' + this._type);
		this._size = this._type === 'bytes' ? function(c) { return c.byteLength; } : sizeOf(strategy);
		this._hwm = highWaterMarkOf(strategy, this._type === 'bytes' ? 0 : 1);
		this._source = source;
		this._controller = new ReadableStreamDefaultController(this);
		var self = this;
		var started = typeof source.start === 'function' ? source.start.call(source, this._controller) : undefined;
		Promise.resolve(started).then(function() {
			self._started = true;
			self._pullIfNeeded();
		}, function(e) { if (self._state === 'readable') self._error(e); });
	}
	get locked() { return this._reader !== null; }
	getReader(options) {
		var mode = options && options.mode !== undefined ? String(options.mode) : undefined;
		if (mode === undefined) return new ReadableStreamDefaultReader(this);
		if (mode === 'byob') return new ReadableStreamBYOBReader(this);
		throw new TypeError('Invalid reader mode: ' + mode);
	}
	cancel(reason) {
		if (this._reader) return Promise.reject(new TypeError('Cannot cancel a locked stream'));
		return this._cancel(reason);
	}
	_cancel(reason) {
		this._disturbed = true;
		if (this._state === 'closed') return Promise.resolve();
		if (this._state === 'errored') return Promise.reject(this._storedError);
		this._queue = [];
		this._queueSize = 0;
		this._close();
		var src = this._source;
		try {
			var r = typeof src.cancel === 'function' ? src.cancel.call(src, reason) : undefined;
			return Promise.resolve(r).then(function() {});
		} catch (e) {
			return Promise.reject(e);
		}
	}
	_close() {
		if (this._state !== 'readable') return;
		this._state = 'closed';
		var pending = this._readRequests;
		this._readRequests = [];
		pending.forEach(function(d) { d.resolve({ value: undefined, done: true }); });
		if (this._reader) this._reader._closed.resolve(undefined);
	}
	_error(e) {
		if (this._state !== 'readable') return;
		this._state = 'errored';
		this._storedError = e;
		this._queue = [];
		this._queueSize = 0;
		var pending = this._readRequests;
		this._readRequests = [];
		pending.forEach(function(d) { d.reject(e); });
		if (this._reader) this._reader._closed.reject(e);
	}
	_servePending() {
		while (this._readRequests.length > 0 && this._queue.length > 0) {
			var entry = this._queue.shift();
			this._queueSize -= entry.size;
			this._readRequests.shift().resolve({ value: entry.chunk, done: false });
		}
		if (this._closeRequested && this._queue.length === 0) this._close();
	}
	_pullIfNeeded() {
		if (!this._started || this._state !== 'readable' || this._closeRequested) return;
		if (typeof this._source.pull !== 'function') return;
		var want = this._readRequests.length > 0 || this._controller.desiredSize > 0;
		if (!want) return;
		if (this._pulling) { this._pullAgain = true; return; }
		this._pulling = true;
		var self = this;
		var r;
		try { r = this._source.pull.call(this._source, this._controller); }
		catch (e) { this._error(e); return; }
		Promise.resolve(r).then(function() {
			self._pulling = false;
			if (self._pullAgain) { self._pullAgain = false; self._pullIfNeeded(); }
		}, function(e) { self._error(e); });
	}
	tee() {
		var reader = this.getReader();
		var c1, c2, canceled1 = false, canceled2 = false, reason1, reason2;
		var cancelDone = deferred();
		function cancelBoth() {
			if (canceled1 && canceled2) reader.cancel([reason1, reason2]).then(cancelDone.resolve, cancelDone.reject);
		}
		var b1 = new ReadableStream({
			start: function(c) { c1 = c; },
			cancel: function(r) { canceled1 = true; reason1 = r; cancelBoth(); return cancelDone.promise; }
		});
		var b2 = new ReadableStream({
			start: function(c) { c2 = c; },
			cancel: function(r) { canceled2 = true; reason2 = r; cancelBoth(); return cancelDone.promise; }
		});
		function clone(chunk) {
			return ArrayBuffer.isView(chunk) ? new chunk.constructor(chunk.buffer.slice(chunk.byteOffset, chunk.byteOffset + chunk.byteLength)) : chunk;
		}
		(function pump() {
			reader.read().then(function(result) {
				if (result.done) {
					if (!canceled1) try { c1.close(); } catch (e) {}
					if (!canceled2) try { c2.close(); } catch (e) {}
					cancelDone.resolve();
					return;
				}
				if (!canceled1) c1.enqueue(result.value);
				if (!canceled2) c2.enqueue(clone(result.value));
				pump();
			}, function(e) {
				c1.error(e);
				c2.error(e);
				cancelDone.resolve();
			});
		})();
		return [b1, b2];
	}
	pipeTo(dest, options) {
		if (!(dest instanceof WritableStream)) return Promise.reject(new TypeError('pipeTo requires a WritableStream'));
		if (this._reader) return Promise.reject(new TypeError('ReadableStream is locked'));
		if (dest._writer) return Promise.reject(new TypeError('WritableStream is locked'));
		options = options || {};
		var reader = this.getReader();
		var writer = dest.getWriter();
		var signal = options.signal;
		var done = deferred();
		var finished = false;
		function finish(err, isError) {
			if (finished) return;
			finished = true;
			writer.releaseLock();
			reader.releaseLock();
			if (isError) done.reject(err); else done.resolve();
		}
		if (signal) {
			var onAbort = function() {
				var reason = signal.reason;
				var tasks = [];
				if (!options.preventAbort) tasks.push(writer.abort(reason));
				if (!options.preventCancel) tasks.push(reader.cancel(reason));
				Promise.all(tasks).then(function() { finish(reason, true); }, function() { finish(reason, true); });
			};
			if (signal.aborted) { onAbort(); return done.promise; }
			signal.addEventListener('abort', onAbort, { once: true });
		}
		(function pump() {
			if (finished) return;
			reader.read().then(function(result) {
				if (finished) return;
				if (result.done) {
					if (options.preventClose) finish();
					else writer.close().then(function() { finish(); }, function(e) { finish(e, true); });
					return;
				}
				writer.write(result.value).then(pump, function(e) {
					if (!options.preventCancel) reader.cancel(e).catch(function() {});
					finish(e, true);
				});
			}, function(e) {
				if (!options.preventAbort) writer.abort(e).then(function() { finish(e, true); }, function() { finish(e, true); });
				else finish(e, true);
			});
		})();
		return done.promise;
	}
	pipeThrough(transform, options) {
		if (!transform || !(transform.writable instanceof WritableStream) || !(transform.readable instanceof ReadableStream)) {
			throw new TypeError('pipeThrough requires a { writable, readable } pair');
		}
		if (this._reader) throw new TypeError('ReadableStream is locked');
		this.pipeTo(transform.writable, options);
		return transform.readable;
	}
	values(options) {
		var reader = this.getReader();
		var preventCancel = !!(options && options.preventCancel);
		return {
			next: function() {
				return reader.read().then(function(r) {
					if (r.done) reader.releaseLock();
					return r;
				});
			},
			return: function(value) {
				var p = preventCancel ? Promise.resolve() : reader.cancel(value);
				return p.then(function() { reader.releaseLock(); return { value: value, done: true }; });
			},
			[Symbol.asyncIterator]: function() { return this; }
		};
	}
	[Symbol.asyncIterator](options) { return this.values(options); }
	static from(iterable) {
		if (iterable === null || iterable === undefined) throw new TypeError('ReadableStream.from requires an iterable');
		var it;
		if (typeof iterable[Symbol.asyncIterator] === 'function') it = iterable[Symbol.asyncIterator]();
		else if (typeof iterable[Symbol.iterator] === 'function') it = iterable[Symbol.iterator]();
		else throw new TypeError('ReadableStream.from requires an iterable');
		return new ReadableStream({
			pull: function(c) {
				return Promise.resolve(it.next()).then(function(r) {
					if (r.done) { c.close(); return; }
					return Promise.resolve(r.value).then(function(v) { c.enqueue(v); });
				});
			},
			cancel: function(reason) {
				if (typeof it.return === 'function') return Promise.resolve(it.return(reason)).then(function() {});
			}
		}, { highWaterMark: 0 });
	}
	get [Symbol.toStringTag]() { return 'ReadableStream'; }
}

// --- WritableStream ---

class WritableStreamDefaultController {
	constructor(stream) {
		this._stream = stream;
		this._abort = new AbortController();
	}
	get signal() { return this._abort.signal; }
	error(e) {
		if (this._stream._state === 'writable') this._stream._error(e);
	}
}

class WritableStreamDefaultWriter {
	constructor(stream) {
		if (!(stream instanceof WritableStream)) throw new TypeError('not a WritableStream');
		if (stream._writer) throw new TypeError('WritableStream is locked');
		this._stream = stream;
		stream._writer = this;
		this._closed = deferred();
		if (stream._state === 'closed') this._closed.resolve(undefined);
		else if (stream._state === 'errored') this._closed.reject(stream._storedError);
	}
	get closed() { return this._closed.promise; }
	get desiredSize() {
		var s = this._stream;
		if (!s) throw new TypeError('Writer has been released');
		if (s._state === 'errored') return null;
		if (s._state === 'closed') return 0;
		return s._hwm - s._queueSize;
	}
	get ready() {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Writer has been released'));
		if (s._state === 'errored') return Promise.reject(s._storedError);
		if (s._hwm - s._queueSize > 0) return Promise.resolve();
		return s._readyPromise();
	}
	write(chunk) {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Writer has been released'));
		return s._write(chunk);
	}
	close() {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Writer has been released'));
		return s._closeStream();
	}
	abort(reason) {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('Writer has been released'));
		return s._abortStream(reason);
	}
	releaseLock() {
		var s = this._stream;
		if (!s) return;
		var err = new TypeError('Writer was released');
		if (s._state === 'writable') this._closed.reject(err);
		s._writer = null;
		this._stream = null;
	}
	get [Symbol.toStringTag]() { return 'WritableStreamDefaultWriter'; }
}

class WritableStream {
	constructor(sink, strategy) {
		sink = sink === undefined || sink === null ? {} : sink;
		if (sink.type !== undefined) throw new RangeError('Invalid type');
		this._sink = sink;
		this._state = 'writable';
		this._writer = null;
		this._storedError = undefined;
		this._queue = [];
		this._queueSize = 0;
		this._size = sizeOf(strategy);
		this._hwm = highWaterMarkOf(strategy, 1);
		this._writing = false;
		this._closing = null;
		this._waiters = [];
		this._controller = new WritableStreamDefaultController(this);
		var self = this;
		this._started = false;
		var started = typeof sink.start === 'function' ? sink.start.call(sink, this._controller) : undefined;
		Promise.resolve(started).then(function() {
			self._started = true;
			self._advance();
		}, function(e) { self._error(e); });
	}
	get locked() { return this._writer !== null; }
	getWriter() { return new WritableStreamDefaultWriter(this); }
	abort(reason) {
		if (this._writer) return Promise.reject(new TypeError('Cannot abort a locked stream'));
		return this._abortStream(reason);
	}
	close() {
		if (this._writer) return Promise.reject(new TypeError('Cannot close a locked stream'));
		return this._closeStream();
	}
	_readyPromise() {
		var d = deferred();
		this._waiters.push(d);
		return d.promise;
	}
	_write(chunk) {
		if (this._state === 'errored') return Promise.reject(this._storedError);
		if (this._state !== 'writable' || this._closing) return Promise.reject(new TypeError('Cannot write to a closing or closed stream'));
		var size;
		try { size = this._size(chunk); } catch (e) { this._error(e); return Promise.reject(e); }
		var d = deferred();
		this._queue.push({ chunk: chunk, size: size, done: d });
		this._queueSize += size;
		this._advance();
		return d.promise;
	}
	_advance() {
		if (!this._started || this._writing || this._state !== 'writable') return;
		var self = this;
		if (this._queue.length === 0) {
			if (this._closing) {
				this._writing = true;
				var sink = this._sink;
				var closing = this._closing;
				var r;
				try { r = typeof sink.close === 'function' ? sink.close.call(sink) : undefined; }
				catch (e) { this._error(e); closing.reject(e); return; }
				Promise.resolve(r).then(function() {
					self._writing = false;
					self._state = 'closed';
					if (self._writer) self._writer._closed.resolve(undefined);
					closing.resolve();
				}, function(e) {
					self._writing = false;
					self._error(e);
					closing.reject(e);
				});
			}
			return;
		}
		var entry = this._queue[0];
		this._writing = true;
		var w;
		try { w = typeof this._sink.write === 'function' ? this._sink.write.call(this._sink, entry.chunk, this._controller) : undefined; }
		catch (e) { w = Promise.reject(e); }
		Promise.resolve(w).then(function() {
			self._writing = false;
			self._queue.shift();
			self._queueSize -= entry.size;
			entry.done.resolve();
			if (self._hwm - self._queueSize > 0) {
				var waiters = self._waiters;
				self._waiters = [];
				waiters.forEach(function(d) { d.resolve(); });
			}
			self._advance();
		}, function(e) {
			self._writing = false;
			entry.done.reject(e);
			self._error(e);
		});
	}
	_closeStream() {
		if (this._state === 'errored') return Promise.reject(this._storedError);
		if (this._state !== 'writable' || this._closing) return Promise.reject(new TypeError('Cannot close a closing or closed stream'));
		this._closing = deferred();
		var p = this._closing.promise;
		this._advance();
		return p;
	}
	_abortStream(reason) {
		if (this._state === 'closed') return Promise.resolve();
		if (this._state === 'errored') return Promise.resolve();
		this._controller._abort.abort(reason);
		var err = reason;
		var sink = this._sink;
		this._error(err);
		try {
			var r = typeof sink.abort === 'function' ? sink.abort.call(sink, reason) : undefined;
			return Promise.resolve(r).then(function() {});
		} catch (e) {
			return Promise.reject(e);
		}
	}
	_error(e) {
		if (this._state !== 'writable') return;
		this._state = 'errored';
		this._storedError = e;
		var queue = this._queue;
		this._queue = [];
		this._queueSize = 0;
		queue.forEach(function(entry) { entry.done.reject(e); });
		var waiters = this._waiters;
		this._waiters = [];
		waiters.forEach(function(d) { d.reject(e); });
		if (this._closing) this._closing.reject(e);
		if (this._writer) this._writer._closed.reject(e);
	}
	get [Symbol.toStringTag]() { return 'WritableStream'; }
}

// --- TransformStream ---

class TransformStreamDefaultController {
	constructor(ts) { this._ts = ts; }
	get desiredSize() { return this._ts._readableController.desiredSize; }
	enqueue(chunk) { this._ts._readableController.enqueue(chunk); }
	error(e) {
		try { this._ts._readableController.error(e); } catch (_) {}
		this._ts.writable._error(e);
	}
	terminate() {
		try { this._ts._readableController.close(); } catch (_) {}
		this._ts.writable._error(new TypeError('TransformStream terminated'));
	}
}

class TransformStream {
	constructor(transformer, writableStrategy, readableStrategy) {
		transformer = transformer === undefined || transformer === null ? {} : transformer;
		var self = this;
		var controller = new TransformStreamDefaultController(this);
		var startDone = deferred();
		this.readable = new ReadableStream({
			start: function(c) { self._readableController = c; return startDone.promise; },
			cancel: function(reason) {
				if (typeof transformer.cancel === 'function') return transformer.cancel.call(transformer, reason);
				self.writable._error(reason);
			}
		}, readableStrategy === undefined ? { highWaterMark: 0 } : readableStrategy);
		this.writable = new WritableStream({
			start: function() { return startDone.promise; },
			write: function(chunk) {
				if (typeof transformer.transform === 'function') return transformer.transform.call(transformer, chunk, controller);
				controller.enqueue(chunk);
			},
			close: function() {
				var r = typeof transformer.flush === 'function' ? transformer.flush.call(transformer, controller) : undefined;
				return Promise.resolve(r).then(function() {
					try { self._readableController.close(); } catch (_) {}
				}, function(e) {
					self._readableController.error(e);
					throw e;
				});
			},
			abort: function(reason) {
				try { self._readableController.error(reason); } catch (_) {}
				if (typeof transformer.cancel === 'function') return transformer.cancel.call(transformer, reason);
			}
		}, writableStrategy);
		var started = typeof transformer.start === 'function' ? transformer.start.call(transformer, controller) : undefined;
		Promise.resolve(started).then(function() { startDone.resolve(); }, function(e) { startDone.reject(e); });
	}
	get [Symbol.toStringTag]() { return 'TransformStream'; }
}

class ByteLengthQueuingStrategy {
	constructor(init) { this._hwm = init.highWaterMark; }
	get highWaterMark() { return this._hwm; }
	get size() { return function size(chunk) { return chunk.byteLength; }; }
}

class CountQueuingStrategy {
	constructor(init) { this._hwm = init.highWaterMark; }
	get highWaterMark() { return this._hwm; }
	get size() { return function size() { return 1; }; }
}

globalThis.ReadableStream = ReadableStream;
globalThis.ReadableStreamDefaultReader = ReadableStreamDefaultReader;
globalThis.ReadableStreamBYOBReader = ReadableStreamBYOBReader;
globalThis.ReadableStreamDefaultController = ReadableStreamDefaultController;
globalThis.WritableStream = WritableStream;
globalThis.WritableStreamDefaultWriter = WritableStreamDefaultWriter;
globalThis.WritableStreamDefaultController = WritableStreamDefaultController;
globalThis.TransformStream = TransformStream;
globalThis.TransformStreamDefaultController = TransformStreamDefaultController;
globalThis.ByteLengthQueuingStrategy = ByteLengthQueuingStrategy;
globalThis.CountQueuingStrategy = CountQueuingStrategy;

// __readAllBytes drains a stream into a single Uint8Array.
globalThis.__readAllBytes = function(stream) {
	var reader = stream.getReader();
	var chunks = [];
	var total = 0;
	function next() {
		return reader.read().then(function(r) {
			if (r.done) {
				reader.releaseLock();
				var out = new Uint8Array(total);
				var off = 0;
				chunks.forEach(function(c) { out.set(c, off); off += c.byteLength; });
				return out;
			}
			var c = r.value;
			if (!(c instanceof Uint8Array)) {
				if (ArrayBuffer.isView(c) || c instanceof ArrayBuffer) {
					throw new TypeError('body stream chunks must be Uint8Array');
				}
				throw new TypeError('body stream chunk is not a Uint8Array');
			}
			chunks.push(c);
			total += c.byteLength;
			return next();
		});
	}
	return next();
};

})();
`

// SetupStreams evaluates the Streams API polyfills.
func SetupStreams(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(streamsJS); err != nil {
		return fmt.Errorf("evaluating streams.js: %w", err)
	}
	return nil
}
