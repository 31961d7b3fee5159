package webapi

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

func TestDecodeDataURL(t *testing.T) {
	cases := []struct {
		raw  string
		mime string
		body string
	}{
		{"data:,Hello%2C%20World!", "text/plain;charset=US-ASCII", "Hello, World!"},
		{"data:text/plain;base64,SGVsbG8=", "text/plain", "Hello"},
		{"data:text/html,<b>x</b>#frag", "text/html", "<b>x</b>"},
		{"DATA:;charset=utf-8,abc", "text/plain;charset=utf-8", "abc"},
		{"data:application/octet-stream;base64,AA%3D%3D", "application/octet-stream", "\x00"},
	}
	for _, tc := range cases {
		mime, body, err := DecodeDataURL(tc.raw)
		if err != nil {
			t.Fatalf("DecodeDataURL(%q): %v", tc.raw, err)
		}
		if mime != tc.mime {
			t.Errorf("DecodeDataURL(%q) mime = %q, want %q", tc.raw, mime, tc.mime)
		}
		if string(body) != tc.body {
			t.Errorf("DecodeDataURL(%q) body = %q, want %q", tc.raw, body, tc.body)
		}
	}
}

func TestDecodeDataURL_Invalid(t *testing.T) {
	for _, raw := range []string{"data:text/plain", "http://x/", "data:;base64,%%%"} {
		if _, _, err := DecodeDataURL(raw); err == nil {
			t.Errorf("DecodeDataURL(%q) succeeded, want error", raw)
		}
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("web platform ", 100))
	for _, format := range []string{"gzip", "deflate", "deflate-raw"} {
		packed, err := Compress(format, data)
		if err != nil {
			t.Fatalf("Compress(%s): %v", format, err)
		}
		out, err := Decompress(format, packed)
		if err != nil {
			t.Fatalf("Decompress(%s): %v", format, err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("%s round trip mismatch", format)
		}
	}
}

func TestDecompress_TrailingData(t *testing.T) {
	packed, err := Compress("gzip", []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	packed = append(packed, 0x01, 0x02)
	if _, err := Decompress("gzip", packed); !errors.Is(err, errTrailingData) {
		t.Fatalf("Decompress with trailing bytes: err = %v, want errTrailingData", err)
	}
}

func TestDecodeContent(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte("gzipped"))
	_ = zw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte("brotli"))
	_ = bw.Close()

	cases := []struct {
		encoding string
		body     []byte
		want     string
	}{
		{"gzip", gz.Bytes(), "gzipped"},
		{"x-gzip", gz.Bytes(), "gzipped"},
		{"br", br.Bytes(), "brotli"},
		{"identity", []byte("plain"), "plain"},
		{"", []byte("plain"), "plain"},
	}
	for _, tc := range cases {
		r, err := DecodeContent(tc.encoding, bytes.NewReader(tc.body))
		if err != nil {
			t.Fatalf("DecodeContent(%q): %v", tc.encoding, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("reading %q body: %v", tc.encoding, err)
		}
		if string(got) != tc.want {
			t.Errorf("DecodeContent(%q) = %q, want %q", tc.encoding, got, tc.want)
		}
	}
}

func TestDecodeContent_Unknown(t *testing.T) {
	if _, err := DecodeContent("zstd", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for unsupported coding")
	}
}

func TestParseURL(t *testing.T) {
	rec, err := ParseURL("../b?x=1#h", "http://web-platform.test:8000/a/c/d.html")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if rec.Href != "http://web-platform.test:8000/a/b?x=1#h" {
		t.Errorf("Href = %q", rec.Href)
	}
	if rec.Origin != "http://web-platform.test:8000" {
		t.Errorf("Origin = %q", rec.Origin)
	}
	if rec.Pathname != "/a/b" || rec.Search != "?x=1" || rec.Hash != "#h" {
		t.Errorf("components = %q %q %q", rec.Pathname, rec.Search, rec.Hash)
	}

	if _, err := ParseURL("not a url", ""); err == nil {
		t.Error("ParseURL without base accepted a relative reference")
	}
}

func TestResolveURL_Origin(t *testing.T) {
	got, err := ResolveURL("data.txt", "http://web-platform.test:8000/fetch/basic.any.js")
	if err != nil {
		t.Fatalf("ResolveURL: %v", err)
	}
	if got != "http://web-platform.test:8000/fetch/data.txt" {
		t.Errorf("ResolveURL = %q", got)
	}
}

func TestOrigin_Opaque(t *testing.T) {
	rec, err := ParseURL("data:text/plain,x", "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Origin != "null" {
		t.Errorf("data: origin = %q, want null", rec.Origin)
	}
}

func TestHashFuncFromAlgo(t *testing.T) {
	h := HashFuncFromAlgo("sha-256")
	if h == nil {
		t.Fatal("sha-256 not recognized")
	}
	d := h()
	d.Write([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := hex.EncodeToString(d.Sum(nil)); got != want {
		t.Errorf("sha-256(abc) = %s", got)
	}
	if HashFuncFromAlgo("MD5") != nil {
		t.Error("MD5 should not be a supported digest")
	}
	if NormalizeAlgo("Sha-512") != "SHA-512" {
		t.Errorf("NormalizeAlgo(Sha-512) = %q", NormalizeAlgo("Sha-512"))
	}
}

func parseStream(t *testing.T, p *sseParser, stream string) []sseEvent {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(stream))
	sc.Split(scanSSELines)
	var out []sseEvent
	for sc.Scan() {
		if ev, ok := p.line(sc.Text()); ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestSSEParser(t *testing.T) {
	p := &sseParser{retry: defaultSSERetry}
	events := parseStream(t, p, ": comment\r\ndata: one\r\ndata:two\r\n\r\nevent: ping\nid: 7\ndata\n\nretry: 25\rdata: last\r\r")
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Name != "message" || events[0].Data != "one\ntwo" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Name != "ping" || events[1].Data != "" || events[1].LastEventID != "7" {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[2].Data != "last" || events[2].LastEventID != "7" {
		t.Errorf("event 2 = %+v", events[2])
	}
	if p.retry != 25*time.Millisecond {
		t.Errorf("retry = %v, want 25ms", p.retry)
	}
}

func TestSSEParser_IncompleteEventDropped(t *testing.T) {
	p := &sseParser{retry: defaultSSERetry}
	events := parseStream(t, p, "data: done\n\ndata: partial")
	if len(events) != 1 || events[0].Data != "done" {
		t.Fatalf("events = %+v", events)
	}
}

func TestSSEParser_BadRetryIgnored(t *testing.T) {
	p := &sseParser{retry: defaultSSERetry}
	parseStream(t, p, "retry: 1x\n\nretry: -5\n\n")
	if p.retry != defaultSSERetry {
		t.Errorf("retry = %v, want default", p.retry)
	}
}

func TestIsEventStream(t *testing.T) {
	if !isEventStream("text/event-stream; charset=utf-8") {
		t.Error("text/event-stream with params not recognized")
	}
	if isEventStream("text/plain") || isEventStream("") {
		t.Error("non event-stream type accepted")
	}
}
