package webapi

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// encodingJS wires atob/btoa, TextEncoder/TextDecoder and the base64
// buffer helpers to their Go implementations.
const encodingJS = `
(function() {

globalThis.btoa = function btoa(data) {
	if (arguments.length === 0) throw new TypeError("Failed to execute 'btoa': 1 argument required");
	var s = String(data);
	for (var i = 0; i < s.length; i++) {
		if (s.charCodeAt(i) > 0xff) {
			throw new DOMException('The string to be encoded contains characters outside of the Latin1 range.', 'InvalidCharacterError');
		}
	}
	return __btoa(s);
};

globalThis.atob = function atob(data) {
	if (arguments.length === 0) throw new TypeError("Failed to execute 'atob': 1 argument required");
	try {
		return __atob(String(data));
	} catch (e) {
		throw new DOMException('The string to be decoded is not correctly encoded.', 'InvalidCharacterError');
	}
};

function latin1(bytes) {
	var parts = [];
	for (var i = 0; i < bytes.length; i += 8192) {
		parts.push(String.fromCharCode.apply(null, bytes.subarray(i, Math.min(i + 8192, bytes.length))));
	}
	return parts.join('');
}

function toBytes(data) {
	if (data instanceof Uint8Array) return data;
	if (data instanceof ArrayBuffer) return new Uint8Array(data);
	if (typeof SharedArrayBuffer !== 'undefined' && data instanceof SharedArrayBuffer) return new Uint8Array(data);
	if (ArrayBuffer.isView(data)) return new Uint8Array(data.buffer, data.byteOffset, data.byteLength);
	throw new TypeError('parameter is not of type ArrayBuffer or ArrayBufferView');
}

globalThis.__toBytes = toBytes;
globalThis.__bytesToB64 = function(data) { return __btoa(latin1(toBytes(data))); };
globalThis.__b64ToBytes = function(b64) {
	var bin = __atob(b64);
	var bytes = new Uint8Array(bin.length);
	for (var i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
	return bytes;
};

class TextEncoder {
	get encoding() { return 'utf-8'; }
	encode(input) {
		return __b64ToBytes(__textEncode(input === undefined ? '' : String(input)));
	}
	encodeInto(source, destination) {
		if (!(destination instanceof Uint8Array)) throw new TypeError('destination is not a Uint8Array');
		source = String(source);
		var read = 0, written = 0;
		for (var i = 0; i < source.length; i++) {
			var cp = source.codePointAt(i);
			var units = cp > 0xffff ? 2 : 1;
			if (cp >= 0xd800 && cp <= 0xdfff) cp = 0xfffd;
			var n = cp < 0x80 ? 1 : cp < 0x800 ? 2 : cp < 0x10000 ? 3 : 4;
			if (written + n > destination.length) break;
			if (n === 1) {
				destination[written] = cp;
			} else if (n === 2) {
				destination[written] = 0xc0 | (cp >> 6);
				destination[written + 1] = 0x80 | (cp & 0x3f);
			} else if (n === 3) {
				destination[written] = 0xe0 | (cp >> 12);
				destination[written + 1] = 0x80 | ((cp >> 6) & 0x3f);
				destination[written + 2] = 0x80 | (cp & 0x3f);
			} else {
				destination[written] = 0xf0 | (cp >> 18);
				destination[written + 1] = 0x80 | ((cp >> 12) & 0x3f);
				destination[written + 2] = 0x80 | ((cp >> 6) & 0x3f);
				destination[written + 3] = 0x80 | (cp & 0x3f);
			}
			written += n;
			read += units;
			i += units - 1;
		}
		return { read: read, written: written };
	}
	get [Symbol.toStringTag]() { return 'TextEncoder'; }
}

// utf8Tail returns how many trailing bytes form an incomplete UTF-8 sequence.
function utf8Tail(bytes) {
	var n = bytes.length;
	for (var back = 1; back <= 3 && back <= n; back++) {
		var b = bytes[n - back];
		if ((b & 0xc0) === 0x80) continue;
		var need = b >= 0xf0 ? 4 : b >= 0xe0 ? 3 : b >= 0xc0 ? 2 : 1;
		return need > back ? back : 0;
	}
	return 0;
}

class TextDecoder {
	constructor(label, options) {
		label = label === undefined ? 'utf-8' : String(label);
		var name = __textDecoderLabel(label);
		if (name === '' || name === 'replacement') {
			throw new RangeError("Failed to construct 'TextDecoder': The encoding label provided ('" + label + "') is invalid.");
		}
		options = options || {};
		this._encoding = name;
		this._fatal = !!options.fatal;
		this._ignoreBOM = !!options.ignoreBOM;
		this._pending = null;
		this._bomChecked = false;
	}
	get encoding() { return this._encoding; }
	get fatal() { return this._fatal; }
	get ignoreBOM() { return this._ignoreBOM; }
	decode(input, options) {
		var stream = !!(options && options.stream);
		var bytes = input === undefined || input === null ? new Uint8Array(0) : toBytes(input);
		if (this._pending) {
			var merged = new Uint8Array(this._pending.length + bytes.length);
			merged.set(this._pending);
			merged.set(bytes, this._pending.length);
			bytes = merged;
			this._pending = null;
		}
		var keep = 0;
		if (stream) {
			if (this._encoding === 'utf-8') keep = utf8Tail(bytes);
			else if (this._encoding === 'utf-16le' || this._encoding === 'utf-16be') keep = bytes.length % 2;
			if (!this._bomChecked && bytes.length < 3) keep = bytes.length;
		}
		if (keep > 0) {
			this._pending = bytes.slice(bytes.length - keep);
			bytes = bytes.subarray(0, bytes.length - keep);
		}
		var stripBOM = !this._ignoreBOM && !this._bomChecked;
		if (bytes.length > 0) this._bomChecked = true;
		var out;
		try {
			out = __textDecode(this._encoding, __bytesToB64(bytes), this._fatal, stripBOM);
		} catch (e) {
			this._pending = null;
			this._bomChecked = false;
			throw new TypeError("Failed to execute 'decode' on 'TextDecoder': The encoded data was not valid.");
		}
		if (!stream) {
			this._bomChecked = false;
			this._pending = null;
		}
		return out;
	}
	get [Symbol.toStringTag]() { return 'TextDecoder'; }
}

globalThis.TextEncoder = TextEncoder;
globalThis.TextDecoder = TextDecoder;

})();
`

// Atob implements forgiving-base64 decode. The result holds one byte per
// character. ok is false when the input is not valid base64.
func Atob(s string) (string, bool) {
	raw, ok := decodeForgivingBase64(s)
	if !ok {
		return "", false
	}
	return latin1String(raw), true
}

// decodeForgivingBase64 decodes s after stripping ASCII whitespace, with
// optional padding.
func decodeForgivingBase64(s string) ([]byte, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\f', '\r', ' ':
			return -1
		}
		return r
	}, s)
	if len(s)%4 == 0 {
		s = strings.TrimSuffix(s, "=")
		s = strings.TrimSuffix(s, "=")
	}
	if len(s)%4 == 1 {
		return nil, false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/') {
			return nil, false
		}
	}
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Btoa base64-encodes a string whose characters are all in the Latin-1 range.
func Btoa(s string) (string, error) {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return "", fmt.Errorf("btoa: character U+%04X outside of the Latin1 range", r)
		}
		buf = append(buf, byte(r))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// latin1String maps each byte to the code point of the same value.
func latin1String(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < utf8.RuneSelf {
			sb.WriteByte(c)
		} else {
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

// EncodingName resolves a WHATWG encoding label to its canonical name,
// or "" for unknown labels.
func EncodingName(label string) string {
	label = strings.ToLower(strings.Trim(label, "\t\n\f\r "))
	enc, err := htmlindex.Get(label)
	if err != nil {
		return ""
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return ""
	}
	if name == "iso-8859-1" || name == "us-ascii" {
		return "windows-1252"
	}
	return name
}

var errInvalidEncoding = errors.New("invalid encoded data")

// DecodeText decodes data in the named encoding. When stripBOM is set a
// leading byte order mark for the encoding is removed. With fatal set,
// malformed input is an error instead of U+FFFD.
func DecodeText(name string, data []byte, fatal, stripBOM bool) (string, error) {
	switch name {
	case "utf-8":
		if stripBOM {
			data = bytes.TrimPrefix(data, []byte{0xef, 0xbb, 0xbf})
		}
		if utf8.Valid(data) {
			return string(data), nil
		}
		if fatal {
			return "", errInvalidEncoding
		}
		return decodeUTF8Lossy(data), nil
	case "utf-16le":
		if stripBOM {
			data = bytes.TrimPrefix(data, []byte{0xff, 0xfe})
		}
	case "utf-16be":
		if stripBOM {
			data = bytes.TrimPrefix(data, []byte{0xfe, 0xff})
		}
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", errInvalidEncoding
	}
	if fatal && bytes.Contains(out, []byte("�")) && !bytes.Contains(data, []byte("�")) {
		return "", errInvalidEncoding
	}
	return string(out), nil
}

// decodeUTF8Lossy replaces each maximal invalid subsequence with U+FFFD,
// following the WHATWG UTF-8 decoder.
func decodeUTF8Lossy(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
			i += size
			continue
		}
		sb.WriteRune(utf8.RuneError)
		i += invalidPrefix(data[i:])
	}
	return sb.String()
}

// invalidPrefix returns the length of the maximal subpart of an ill-formed
// sequence at the start of b (at least 1).
func invalidPrefix(b []byte) int {
	lead := b[0]
	var need int
	lo, hi := byte(0x80), byte(0xbf)
	switch {
	case lead >= 0xc2 && lead <= 0xdf:
		need = 1
	case lead == 0xe0:
		need, lo = 2, 0xa0
	case lead >= 0xe1 && lead <= 0xec, lead == 0xee, lead == 0xef:
		need = 2
	case lead == 0xed:
		need, hi = 2, 0x9f
	case lead == 0xf0:
		need, lo = 3, 0x90
	case lead >= 0xf1 && lead <= 0xf3:
		need = 3
	case lead == 0xf4:
		need, hi = 3, 0x8f
	default:
		return 1
	}
	n := 1
	for k := 0; k < need && n < len(b); k++ {
		c := b[n]
		if c < lo || c > hi {
			break
		}
		lo, hi = 0x80, 0xbf
		n++
	}
	return n
}

// encodeUTF8B64 encodes a string as UTF-8 and returns it as base64.
func encodeUTF8B64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.ToValidUTF8(s, "�")))
}

// SetupEncoding registers the Go-backed base64 and text codecs.
func SetupEncoding(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__btoa", Btoa); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__atob", func(s string) (string, error) {
		out, ok := Atob(s)
		if !ok {
			return "", errInvalidEncoding
		}
		return out, nil
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__textEncode", encodeUTF8B64); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__textDecoderLabel", EncodingName); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__textDecode", func(name, b64 string, fatal, stripBOM bool) (string, error) {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return "", err
		}
		return DecodeText(name, data, fatal, stripBOM)
	}); err != nil {
		return err
	}
	if err := rt.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding.js: %w", err)
	}
	return nil
}
