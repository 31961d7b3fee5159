package webapi

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"

	"github.com/google/uuid"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// maxRandomBytes is the getRandomValues quota.
const maxRandomBytes = 65536

// cryptoJS defines the global crypto object: getRandomValues, randomUUID
// and a crypto.subtle limited to digest. Test harness helpers and fetch
// tests use these for tokens and body checksums.
const cryptoJS = `
(function() {

var integerArrays = ['Int8Array', 'Uint8Array', 'Uint8ClampedArray', 'Int16Array', 'Uint16Array',
	'Int32Array', 'Uint32Array', 'BigInt64Array', 'BigUint64Array'];

function isIntegerArray(v) {
	if (!ArrayBuffer.isView(v) || v instanceof DataView) return false;
	var tag = Object.prototype.toString.call(v).slice(8, -1);
	return integerArrays.indexOf(tag) !== -1;
}

class SubtleCrypto {
	digest(algorithm, data) {
		try {
			var name = typeof algorithm === 'string' ? algorithm : algorithm && algorithm.name;
			if (name === undefined) throw new TypeError("Failed to execute 'digest' on 'SubtleCrypto': Algorithm: name: Missing or not a string");
			var b64 = __cryptoDigest(String(name), __bytesToB64(__toBytes(data)));
			var out = __b64ToBytes(b64);
			return Promise.resolve(out.buffer.slice(out.byteOffset, out.byteOffset + out.byteLength));
		} catch (e) {
			if (e instanceof TypeError && /unsupported algorithm/.test(e.message)) {
				return Promise.reject(new DOMException('Algorithm: Unrecognized name', 'NotSupportedError'));
			}
			return Promise.reject(e);
		}
	}
	get [Symbol.toStringTag]() { return 'SubtleCrypto'; }
}

class Crypto {
	getRandomValues(array) {
		if (!isIntegerArray(array)) {
			throw new DOMException("Failed to execute 'getRandomValues' on 'Crypto': The provided ArrayBufferView is of type '" +
				Object.prototype.toString.call(array).slice(8, -1) + "', which is not an integer array type.", 'TypeMismatchError');
		}
		if (array.byteLength > 65536) {
			throw new DOMException("Failed to execute 'getRandomValues' on 'Crypto': The ArrayBufferView's byte length (" +
				array.byteLength + ') exceeds the number of bytes of entropy available via this API (65536).', 'QuotaExceededError');
		}
		if (array.byteLength === 0) return array;
		var bytes = __b64ToBytes(__cryptoRandomBytes(array.byteLength));
		new Uint8Array(array.buffer, array.byteOffset, array.byteLength).set(bytes);
		return array;
	}
	randomUUID() { return __cryptoRandomUUID(); }
	get subtle() { return subtle; }
	get [Symbol.toStringTag]() { return 'Crypto'; }
}

var subtle = Object.create(SubtleCrypto.prototype);

globalThis.Crypto = Crypto;
globalThis.SubtleCrypto = SubtleCrypto;
globalThis.crypto = Object.create(Crypto.prototype);

})();
`

// SetupCrypto registers the Go random source and digests and evaluates the
// crypto global. Must run after SetupEncoding.
func SetupCrypto(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__cryptoRandomBytes", func(n int) (string, error) {
		if n <= 0 || n > maxRandomBytes {
			return "", fmt.Errorf("getRandomValues: byte length must be 1-%d", maxRandomBytes)
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		return base64.StdEncoding.EncodeToString(buf), nil
	}); err != nil {
		return err
	}

	if err := rt.RegisterFunc("__cryptoRandomUUID", func() (string, error) {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}); err != nil {
		return err
	}

	if err := rt.RegisterFunc("__cryptoDigest", func(algo, dataB64 string) (string, error) {
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", fmt.Errorf("digest: invalid base64 data")
		}
		newHash := HashFuncFromAlgo(algo)
		if newHash == nil {
			return "", fmt.Errorf("digest: unsupported algorithm %q", algo)
		}
		h := newHash()
		h.Write(data)
		return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
	}); err != nil {
		return err
	}

	if err := rt.Eval(cryptoJS); err != nil {
		return fmt.Errorf("evaluating crypto.js: %w", err)
	}
	return nil
}

// HashFuncFromAlgo returns the hash constructor for a WebCrypto digest
// name, or nil if the name is not a supported digest.
func HashFuncFromAlgo(algo string) func() hash.Hash {
	switch NormalizeAlgo(algo) {
	case "SHA-1":
		return sha1.New
	case "SHA-256":
		return sha256.New
	case "SHA-384":
		return sha512.New384
	case "SHA-512":
		return sha512.New
	default:
		return nil
	}
}

// NormalizeAlgo maps digest names to their canonical form. Matching is
// case-insensitive as WebCrypto requires.
func NormalizeAlgo(name string) string {
	switch upperASCII(name) {
	case "SHA-1":
		return "SHA-1"
	case "SHA-256":
		return "SHA-256"
	case "SHA-384":
		return "SHA-384"
	case "SHA-512":
		return "SHA-512"
	default:
		return name
	}
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
