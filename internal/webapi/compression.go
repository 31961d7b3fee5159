package webapi

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

const maxDecompressedSize = 128 * 1024 * 1024 // 128 MB

var errTrailingData = errors.New("junk found after end of compressed data")

// compressionJS defines CompressionStream and DecompressionStream as
// TransformStreams that buffer their input and run the codec on flush.
const compressionJS = `
(function() {

var formats = ['deflate', 'deflate-raw', 'gzip'];

function codecStream(kind, format, fn) {
	if (format === undefined) {
		throw new TypeError("Failed to construct '" + kind + "': 1 argument required, but only 0 present.");
	}
	format = String(format);
	if (formats.indexOf(format) === -1) {
		throw new TypeError("Failed to construct '" + kind + "': Unsupported compression format: '" + format + "'");
	}
	var chunks = [];
	return new TransformStream({
		transform: function(chunk) {
			if (!(chunk instanceof ArrayBuffer) && !ArrayBuffer.isView(chunk)) {
				throw new TypeError('The provided value is not of type (ArrayBuffer or ArrayBufferView)');
			}
			chunks.push(__toBytes(chunk).slice());
		},
		flush: function(controller) {
			var out;
			try {
				out = __b64ToBytes(fn(format, __bytesToB64(__concatBytes(chunks))));
			} catch (e) {
				throw new TypeError(String(e && e.message || e).replace(/^calling __\w+: /, ''));
			}
			chunks = [];
			if (out.byteLength > 0) controller.enqueue(out);
		}
	});
}

class CompressionStream {
	constructor(format) {
		var ts = codecStream('CompressionStream', format, __compress);
		this._readable = ts.readable;
		this._writable = ts.writable;
	}
	get readable() { return this._readable; }
	get writable() { return this._writable; }
	get [Symbol.toStringTag]() { return 'CompressionStream'; }
}

class DecompressionStream {
	constructor(format) {
		var ts = codecStream('DecompressionStream', format, __decompress);
		this._readable = ts.readable;
		this._writable = ts.writable;
	}
	get readable() { return this._readable; }
	get writable() { return this._writable; }
	get [Symbol.toStringTag]() { return 'DecompressionStream'; }
}

globalThis.CompressionStream = CompressionStream;
globalThis.DecompressionStream = DecompressionStream;

})();
`

// newCompressWriter creates a compression writer for the given format.
func newCompressWriter(w io.Writer, format string) (io.WriteCloser, error) {
	switch format {
	case "gzip":
		return gzip.NewWriter(w), nil
	case "deflate":
		return zlib.NewWriter(w), nil
	case "deflate-raw":
		return flate.NewWriter(w, flate.DefaultCompression)
	case "br":
		return brotli.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// isZlibHeader reports whether b starts with a valid zlib stream header.
func isZlibHeader(b []byte) bool {
	return len(b) >= 2 && b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// newDecompressReader wraps r in a decoder for format. When sniff is set a
// "deflate" stream without a zlib header is read as raw deflate, which is
// what some servers send for Content-Encoding: deflate.
func newDecompressReader(format string, r io.Reader, sniff bool) (io.Reader, error) {
	switch format {
	case "gzip":
		return gzip.NewReader(r)
	case "deflate":
		if sniff {
			br := bufio.NewReader(r)
			head, _ := br.Peek(2)
			if !isZlibHeader(head) {
				return flate.NewReader(br), nil
			}
			return zlib.NewReader(br)
		}
		return zlib.NewReader(r)
	case "deflate-raw":
		return flate.NewReader(r), nil
	case "br":
		return brotli.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported content coding %q", format)
	}
}

// Compress encodes data in format.
func Compress(format string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := newCompressWriter(&buf, format)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress decodes a complete format stream. Truncated input and bytes
// after the end of the stream are errors.
func Decompress(format string, data []byte) ([]byte, error) {
	src := bytes.NewReader(data)
	r, err := newDecompressReader(format, src, false)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if gz, ok := r.(*gzip.Reader); ok {
		gz.Multistream(false)
	}
	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressedSize {
		return nil, errors.New("output exceeds maximum allowed size")
	}
	if src.Len() > 0 {
		return nil, errTrailingData
	}
	return out, nil
}

// SetupCompression registers the Go codecs and evaluates
// CompressionStream and DecompressionStream. Must run after SetupStreams
// and SetupEncoding.
func SetupCompression(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__compress", func(format, dataB64 string) (string, error) {
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", err
		}
		out, err := Compress(format, data)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(out), nil
	}); err != nil {
		return fmt.Errorf("registering __compress: %w", err)
	}
	if err := rt.RegisterFunc("__decompress", func(format, dataB64 string) (string, error) {
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", err
		}
		out, err := Decompress(format, data)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(out), nil
	}); err != nil {
		return fmt.Errorf("registering __decompress: %w", err)
	}
	if err := rt.Eval(compressionJS); err != nil {
		return fmt.Errorf("evaluating compression.js: %w", err)
	}
	return nil
}
