package wptworker

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

func newFetchServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "plain text")
	})
	mux.HandleFunc("/fetch/data.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello from the server")
	})
	mux.HandleFunc("/gzip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = io.WriteString(zw, "gzip body")
		_ = zw.Close()
	})
	mux.HandleFunc("/br", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = io.WriteString(bw, "brotli body")
		_ = bw.Close()
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/text", http.StatusFound)
	})
	mux.HandleFunc("/headers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"x-test":          r.Header.Get("X-Test"),
			"user-agent":      r.Header.Get("User-Agent"),
			"accept-encoding": r.Header.Get("Accept-Encoding"),
		})
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/set-cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil {
			_, _ = io.WriteString(w, "none")
			return
		}
		_, _ = io.WriteString(w, c.Value)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_Basic(t *testing.T) {
	srv := newFetchServer(t)
	r := newTestRunner(t, nil)
	var got struct {
		Status     int    `json:"status"`
		StatusText string `json:"statusText"`
		Type       string `json:"type"`
		Body       string `json:"body"`
		CT         string `json:"ct"`
		URL        string `json:"url"`
		Missing    int    `json:"missing"`
		MissingOK  bool   `json:"missingOK"`
	}
	runJSON(t, r, fmt.Sprintf(`
		var base = %q;
		var res = await fetch(base + '/text');
		var missing = await fetch(base + '/missing');
		return {
			status: res.status,
			statusText: res.statusText,
			type: res.type,
			body: await res.text(),
			ct: res.headers.get('content-type'),
			url: res.url,
			missing: missing.status,
			missingOK: missing.ok
		};
	`, srv.URL), &got)
	if got.Status != 200 || got.StatusText != "OK" || got.Type != "basic" {
		t.Errorf("response = %+v", got)
	}
	if got.Body != "plain text" || got.CT != "text/plain" || got.URL != srv.URL+"/text" {
		t.Errorf("body/ct/url = %q %q %q", got.Body, got.CT, got.URL)
	}
	if got.Missing != 404 || got.MissingOK {
		t.Errorf("missing = %d ok=%v", got.Missing, got.MissingOK)
	}
}

func TestFetch_ContentEncoding(t *testing.T) {
	srv := newFetchServer(t)
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, fmt.Sprintf(`
		var base = %q;
		return [await (await fetch(base + '/gzip')).text(), await (await fetch(base + '/br')).text()];
	`, srv.URL), &got)
	if len(got) != 2 || got[0] != "gzip body" || got[1] != "brotli body" {
		t.Errorf("decoded bodies = %q", got)
	}
}

func TestFetch_RequestHeadersAndBody(t *testing.T) {
	srv := newFetchServer(t)
	r := newTestRunner(t, nil)
	var got struct {
		Headers map[string]string `json:"headers"`
		Method  string            `json:"method"`
		CT      string            `json:"ct"`
		Echo    string            `json:"echo"`
		Bytes   []int             `json:"bytes"`
	}
	runJSON(t, r, fmt.Sprintf(`
		var base = %q;
		var headers = await (await fetch(base + '/headers', { headers: { 'X-Test': 'yes' } })).json();
		var echo = await fetch(base + '/echo', { method: 'PUT', body: JSON.stringify({ k: 1 }), headers: { 'content-type': 'application/json' } });
		var bin = await fetch(base + '/echo', { method: 'POST', body: new Uint8Array([0, 255, 7]) });
		return {
			headers: headers,
			method: echo.headers.get('x-method'),
			ct: echo.headers.get('x-content-type'),
			echo: await echo.text(),
			bytes: Array.from(new Uint8Array(await bin.arrayBuffer()))
		};
	`, srv.URL), &got)
	if got.Headers["x-test"] != "yes" || got.Headers["user-agent"] == "" {
		t.Errorf("request headers = %v", got.Headers)
	}
	if got.Headers["accept-encoding"] != "gzip, deflate, br" {
		t.Errorf("accept-encoding = %q", got.Headers["accept-encoding"])
	}
	if got.Method != "PUT" || got.CT != "application/json" || got.Echo != `{"k":1}` {
		t.Errorf("echo = %+v", got)
	}
	if len(got.Bytes) != 3 || got.Bytes[1] != 255 {
		t.Errorf("binary echo = %v", got.Bytes)
	}
}

func TestFetch_Redirects(t *testing.T) {
	srv := newFetchServer(t)
	r := newTestRunner(t, nil)
	var got struct {
		Redirected bool   `json:"redirected"`
		URL        string `json:"url"`
		Body       string `json:"body"`
		Manual     string `json:"manual"`
		ManualCode int    `json:"manualCode"`
		Error      string `json:"error"`
	}
	runJSON(t, r, fmt.Sprintf(`
		var base = %q;
		var follow = await fetch(base + '/redirect');
		var manual = await fetch(base + '/redirect', { redirect: 'manual' });
		var err = '';
		try { await fetch(base + '/redirect', { redirect: 'error' }); } catch (e) { err = e.name; }
		return {
			redirected: follow.redirected,
			url: follow.url,
			body: await follow.text(),
			manual: manual.type,
			manualCode: manual.status,
			error: err
		};
	`, srv.URL), &got)
	if !got.Redirected || got.URL != srv.URL+"/text" || got.Body != "plain text" {
		t.Errorf("follow = %+v", got)
	}
	if got.Manual != "opaqueredirect" || got.ManualCode != 0 {
		t.Errorf("manual = %q %d", got.Manual, got.ManualCode)
	}
	if got.Error != "TypeError" {
		t.Errorf("redirect error = %q", got.Error)
	}
}

func TestFetch_Abort(t *testing.T) {
	srv := newFetchServer(t)
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, fmt.Sprintf(`
		var base = %q;
		var out = [];
		var pre = new AbortController();
		pre.abort();
		try { await fetch(base + '/text', { signal: pre.signal }); } catch (e) { out.push(e.name); }
		var ctl = new AbortController();
		var p = fetch(base + '/slow', { signal: ctl.signal });
		setTimeout(function() { ctl.abort(); }, 20);
		try { await p; } catch (e) { out.push(e.name); }
		try { await fetch(base + '/slow', { signal: AbortSignal.timeout(20) }); } catch (e) { out.push(e.name); }
		return out;
	`, srv.URL), &got)
	want := []string{"AbortError", "AbortError", "TimeoutError"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("abort errors = %v, want %v", got, want)
	}
}

func TestFetch_Cookies(t *testing.T) {
	srv := newFetchServer(t)
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, fmt.Sprintf(`
		var base = %q;
		var before = await (await fetch(base + '/cookie')).text();
		await fetch(base + '/set-cookie');
		var after = await (await fetch(base + '/cookie')).text();
		var omitted = await (await fetch(base + '/cookie', { credentials: 'omit' })).text();
		return [before, after, omitted];
	`, srv.URL), &got)
	if len(got) != 3 || got[0] != "none" || got[1] != "abc" || got[2] != "none" {
		t.Errorf("cookies = %v", got)
	}

	// A new run starts with an empty jar.
	var fresh string
	runJSON(t, r, fmt.Sprintf(`return await (await fetch(%q + '/cookie')).text();`, srv.URL), &fresh)
	if fresh != "none" {
		t.Errorf("cookie leaked across runs: %q", fresh)
	}
}

func TestFetch_DataURLAndSchemes(t *testing.T) {
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, `
		var res = await fetch('data:text/plain;base64,aGVsbG8=');
		var bad = '';
		try { await fetch('ftp://example.com/x'); } catch (e) { bad = e.name; }
		return [await res.text(), res.headers.get('content-type'), bad];
	`, &got)
	if len(got) != 3 || got[0] != "hello" || got[1] != "text/plain" || got[2] != "TypeError" {
		t.Errorf("got %v", got)
	}
}

func TestFetch_Budget(t *testing.T) {
	srv := newFetchServer(t)
	r := newTestRunner(t, func(cfg *Config) { cfg.Engine.MaxFetchRequests = 2 })
	var got []string
	runJSON(t, r, fmt.Sprintf(`
		var base = %q;
		var out = [];
		for (var i = 0; i < 3; i++) {
			try { await fetch(base + '/text'); out.push('ok'); } catch (e) { out.push(e.name); }
		}
		return out;
	`, srv.URL), &got)
	if len(got) != 3 || got[0] != "ok" || got[1] != "ok" || got[2] != "TypeError" {
		t.Errorf("budget = %v", got)
	}
}

func TestFetch_RelativeToTestFile(t *testing.T) {
	srv := newFetchServer(t)
	r := newTestRunner(t, func(cfg *Config) { cfg.BaseURL = srv.URL + "/" })
	rep, err := r.RunFile(context.Background(), filepath.Join(r.CorpusRoot(), "fetch", "relative.any.js"))
	if err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	requireOK(t, rep)
	if rep.Passed() != 2 {
		t.Errorf("passed = %d, want 2", rep.Passed())
	}
}
