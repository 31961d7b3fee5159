package webapi

import (
	"errors"
	"strings"
)

var errInvalidDataURL = errors.New("invalid data: URL")

// percentDecode decodes %XX escapes byte-wise, leaving malformed escapes
// untouched.
func percentDecode(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHexDigit(s[i+1]) && isHexDigit(s[i+2]) {
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return out
}

func isHexDigit(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// DecodeDataURL splits a data: URL into its MIME type and body. A missing
// MIME type defaults to text/plain;charset=US-ASCII.
func DecodeDataURL(raw string) (string, []byte, error) {
	if len(raw) < 5 || !strings.EqualFold(raw[:5], "data:") {
		return "", nil, errInvalidDataURL
	}
	rest := raw[5:]
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		rest = rest[:i]
	}
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, errInvalidDataURL
	}
	mime := strings.Trim(rest[:comma], " \t\n\f\r")
	body := percentDecode(rest[comma+1:])

	if semi := strings.LastIndexByte(mime, ';'); semi >= 0 {
		param := strings.Trim(mime[semi+1:], " ")
		if strings.EqualFold(param, "base64") {
			decoded, ok := decodeForgivingBase64(string(body))
			if !ok {
				return "", nil, errInvalidDataURL
			}
			body = decoded
			mime = strings.TrimRight(mime[:semi], " ")
		}
	}
	if mime == "" || strings.HasPrefix(mime, ";") {
		mime = "text/plain" + mime
		if !strings.Contains(strings.ToLower(mime), "charset=") {
			mime = "text/plain;charset=US-ASCII"
		}
	}
	return mime, body, nil
}
