package webapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// skippedRequestHeaders are managed by net/http and never copied from the
// JS request.
var skippedRequestHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
	"upgrade":           true,
	"te":                true,
	"trailer":           true,
}

// FetchTransport is the http.RoundTripper used by fetch. Content decoding
// is done by fetch itself, so transparent gzip is disabled.
var FetchTransport http.RoundTripper = &http.Transport{
	Proxy:              http.ProxyFromEnvironment,
	DisableCompression: true,
	ForceAttemptHTTP2:  true,
	IdleConnTimeout:    90 * time.Second,
}

const maxRedirects = 20

const fetchJS = `
(function() {
globalThis.__fetchPromises = {};

globalThis.fetch = function fetch(input, init) {
	var request;
	try {
		request = new Request(input, init);
	} catch (e) {
		return Promise.reject(e);
	}
	var signal = request.signal;
	if (signal.aborted) return Promise.reject(signal.reason);
	var runID = String(globalThis.__runID);
	return __bodyBytes(request).then(function(bytes) {
		if (signal.aborted) throw signal.reason;
		var args = JSON.stringify({
			url: request.url,
			method: request.method,
			headers: request.headers._list,
			body: bytes === null ? null : __bytesToB64(bytes),
			redirect: request.redirect,
			credentials: request.credentials
		});
		return new Promise(function(resolve, reject) {
			var fetchID;
			try {
				fetchID = __fetchStart(runID, args);
			} catch (e) {
				var msg = e && e.message ? String(e.message).replace(/^calling __fetchStart: /, '') : String(e);
				reject(new TypeError('fetch failed: ' + msg));
				return;
			}
			var onAbort = function() {
				__fetchAbort(runID, fetchID);
				var p = globalThis.__fetchPromises[fetchID];
				if (!p) return;
				delete globalThis.__fetchPromises[fetchID];
				p.reject(signal.reason);
			};
			globalThis.__fetchPromises[fetchID] = {
				resolve: resolve, reject: reject, url: request.url,
				redirect: request.redirect, signal: signal, onAbort: onAbort
			};
			signal.addEventListener('abort', onAbort, { once: true });
		});
	});
};

globalThis.__fetchResolve = function(fetchID, status, statusText, headersJSON, bodyB64, redirected, finalURL) {
	var p = globalThis.__fetchPromises[fetchID];
	delete globalThis.__fetchPromises[fetchID];
	if (!p) return;
	p.signal.removeEventListener('abort', p.onAbort);
	try {
		if (p.redirect === 'manual' && status >= 300 && status < 400) {
			var opaque = __networkResponse(0, '', [], null, [p.url]);
			opaque._type = 'opaqueredirect';
			p.resolve(opaque);
			return;
		}
		var urlList = redirected ? [p.url, finalURL] : [finalURL || p.url];
		p.resolve(__networkResponse(status, statusText, JSON.parse(headersJSON), __b64ToBytes(bodyB64), urlList));
	} catch (e) {
		p.reject(e);
	}
};

globalThis.__fetchReject = function(fetchID, errMsg) {
	var p = globalThis.__fetchPromises[fetchID];
	delete globalThis.__fetchPromises[fetchID];
	if (!p) return;
	p.signal.removeEventListener('abort', p.onAbort);
	p.reject(new TypeError('fetch failed: ' + errMsg));
};
})();
`

// fetchArgs is the request description handed over by the JS fetch().
type fetchArgs struct {
	URL         string      `json:"url"`
	Method      string      `json:"method"`
	Headers     [][2]string `json:"headers"`
	Body        *string     `json:"body"`
	Redirect    string      `json:"redirect"`
	Credentials string      `json:"credentials"`
}

// cookieJar returns the per-run cookie jar, creating it on first use.
func cookieJar(state *core.RunState) http.CookieJar {
	if state == nil {
		return nil
	}
	jar, _ := state.ExtOrInit("fetch.jar", func() any {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil
		}
		return jar
	}).(http.CookieJar)
	return jar
}

// statusText strips the numeric code from an http.Response status line.
func statusText(resp *http.Response) string {
	return strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
}

// headerPairs serializes response headers as lower-cased name/value pairs,
// keeping repeated fields separate.
func headerPairs(h http.Header) string {
	pairs := make([][2]string, 0, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		for _, v := range values {
			pairs = append(pairs, [2]string{lower, v})
		}
	}
	out, _ := json.Marshal(pairs)
	return string(out)
}

// DecodeContent wraps body in decoders for each coding in a
// Content-Encoding header, last applied first.
func DecodeContent(contentEncoding string, body io.Reader) (io.Reader, error) {
	codings := strings.Split(contentEncoding, ",")
	r := body
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		switch coding {
		case "", "identity":
			continue
		case "x-gzip":
			coding = "gzip"
		}
		dr, err := newDecompressReader(coding, r, true)
		if err != nil {
			return nil, err
		}
		r = dr
	}
	return r, nil
}

// dataURLResult answers a data: URL without touching the network.
func dataURLResult(raw string) eventloop.FetchResult {
	mime, body, err := DecodeDataURL(raw)
	if err != nil {
		return eventloop.FetchResult{Err: err}
	}
	hdrs, _ := json.Marshal([][2]string{{"content-type", mime}})
	return eventloop.FetchResult{
		Status:      http.StatusOK,
		StatusText:  "OK",
		HeadersJSON: string(hdrs),
		BodyB64:     base64.StdEncoding.EncodeToString(body),
		FinalURL:    raw,
	}
}

// SetupFetch registers Go-backed fetch helpers and evaluates the JS polyfill.
// Responses are fully buffered before they are handed to JS.
func SetupFetch(rt core.JSRuntime, cfg core.EngineConfig, el *eventloop.EventLoop) error {
	timeout := time.Duration(cfg.FetchTimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBytes := int64(cfg.MaxResponseBytes)
	if maxBytes == 0 {
		maxBytes = 32 * 1024 * 1024
	}

	// __fetchStart(runIDStr, argsJSON) -> fetchID
	if err := rt.RegisterFunc("__fetchStart", func(runIDStr, argsJSON string) (string, error) {
		runID := core.ParseRunID(runIDStr)
		state := core.GetRunState(runID)
		if state != nil && !state.TakeFetch() {
			return "", errors.New("exceeded maximum fetch requests")
		}

		var args fetchArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("parsing arguments: %w", err)
		}

		scheme := strings.ToLower(args.URL[:max(strings.IndexByte(args.URL, ':'), 0)])
		resultCh := make(chan eventloop.FetchResult, 1)
		fetchCtx, fetchCancel := context.WithCancel(context.Background())
		fetchID := core.RegisterFetchCancel(runID, fetchCancel)

		switch scheme {
		case "http", "https":
		case "data":
			resultCh <- dataURLResult(args.URL)
			fetchCancel()
			core.RemoveFetchCancel(runID, fetchID)
			el.AddPendingFetch(&eventloop.PendingFetch{ResultCh: resultCh, FetchID: fetchID})
			el.Notify()
			return fetchID, nil
		default:
			fetchCancel()
			core.RemoveFetchCancel(runID, fetchID)
			return "", fmt.Errorf("unsupported URL scheme %q", scheme)
		}

		var body io.Reader
		if args.Body != nil {
			decoded, err := base64.StdEncoding.DecodeString(*args.Body)
			if err != nil {
				fetchCancel()
				core.RemoveFetchCancel(runID, fetchID)
				return "", fmt.Errorf("decoding body: %w", err)
			}
			body = bytes.NewReader(decoded)
		}

		httpReq, err := http.NewRequestWithContext(fetchCtx, args.Method, args.URL, body)
		if err != nil {
			fetchCancel()
			core.RemoveFetchCancel(runID, fetchID)
			return "", err
		}
		for _, h := range args.Headers {
			if skippedRequestHeaders[h[0]] {
				continue
			}
			httpReq.Header.Add(h[0], h[1])
		}
		if httpReq.Header.Get("Accept") == "" {
			httpReq.Header.Set("Accept", "*/*")
		}
		if httpReq.Header.Get("Accept-Encoding") == "" {
			httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
		}
		if httpReq.Header.Get("User-Agent") == "" {
			httpReq.Header.Set("User-Agent", UserAgent)
		}

		redirectMode := args.Redirect
		client := &http.Client{
			Timeout:   timeout,
			Transport: FetchTransport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				switch redirectMode {
				case "manual":
					return http.ErrUseLastResponse
				case "error":
					return errors.New("unexpected redirect")
				}
				if len(via) >= maxRedirects {
					return errors.New("redirect count exceeded")
				}
				return nil
			},
		}
		if args.Credentials != "omit" {
			client.Jar = cookieJar(state)
		}

		requestURL := args.URL
		go func() {
			defer fetchCancel()
			defer el.Notify()
			resp, httpErr := client.Do(httpReq)
			core.RemoveFetchCancel(runID, fetchID)
			if httpErr != nil {
				if fetchCtx.Err() != nil {
					resultCh <- eventloop.FetchResult{Err: errors.New("the operation was aborted")}
					return
				}
				resultCh <- eventloop.FetchResult{Err: httpErr}
				return
			}
			defer func() { _ = resp.Body.Close() }()

			reader, decErr := DecodeContent(resp.Header.Get("Content-Encoding"), resp.Body)
			if decErr != nil {
				resultCh <- eventloop.FetchResult{Err: fmt.Errorf("decoding body: %w", decErr)}
				return
			}
			respBody, readErr := io.ReadAll(io.LimitReader(reader, maxBytes+1))
			if readErr != nil {
				resultCh <- eventloop.FetchResult{Err: fmt.Errorf("reading body: %w", readErr)}
				return
			}
			if int64(len(respBody)) > maxBytes {
				resultCh <- eventloop.FetchResult{Err: fmt.Errorf("response body exceeds %d bytes", maxBytes)}
				return
			}

			finalURL := requestURL
			if resp.Request != nil && resp.Request.URL != nil {
				finalURL = resp.Request.URL.String()
			}
			resultCh <- eventloop.FetchResult{
				Status:      resp.StatusCode,
				StatusText:  statusText(resp),
				HeadersJSON: headerPairs(resp.Header),
				BodyB64:     base64.StdEncoding.EncodeToString(respBody),
				Redirected:  finalURL != requestURL,
				FinalURL:    finalURL,
			}
		}()

		el.AddPendingFetch(&eventloop.PendingFetch{ResultCh: resultCh, FetchID: fetchID})
		return fetchID, nil
	}); err != nil {
		return err
	}

	// __fetchAbort(runIDStr, fetchID)
	if err := rt.RegisterFunc("__fetchAbort", func(runIDStr, fetchID string) {
		core.CallFetchCancel(core.ParseRunID(runIDStr), fetchID)
	}); err != nil {
		return err
	}

	if err := rt.Eval(fetchJS); err != nil {
		return fmt.Errorf("evaluating fetch.js: %w", err)
	}
	return nil
}
