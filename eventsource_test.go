package wptworker

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
)

func newSSEServer(t *testing.T) *httptest.Server {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": hello\n\ndata: first\n\nevent: custom\ndata: a\ndata: b\nid: 9\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/reconnect", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if hits.Add(1) == 1 {
			_, _ = io.WriteString(w, "retry: 10\nid: first-id\ndata: one\n\n")
			return
		}
		_, _ = io.WriteString(w, "data: "+r.Header.Get("Last-Event-ID")+"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/wrong-type", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "data: nope\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEventSource_Stream(t *testing.T) {
	srv := newSSEServer(t)
	r := newTestRunner(t, nil)
	var got struct {
		Events [][]string `json:"events"`
		State  int        `json:"state"`
	}
	runJSON(t, r, fmt.Sprintf(`
		var es = new EventSource(%q);
		var events = [];
		await new Promise(function(resolve) {
			es.onopen = function() { events.push(['open', String(es.readyState)]); };
			es.onmessage = function(e) { events.push(['message', e.data, e.lastEventId]); };
			es.addEventListener('custom', function(e) {
				events.push(['custom', e.data, e.lastEventId]);
				resolve();
			});
		});
		es.close();
		return { events: events, state: es.readyState };
	`, srv.URL+"/stream"), &got)
	want := [][]string{{"open", "1"}, {"message", "first", ""}, {"custom", "a\nb", "9"}}
	if !reflect.DeepEqual(got.Events, want) {
		t.Errorf("events = %q, want %q", got.Events, want)
	}
	if got.State != 2 {
		t.Errorf("readyState = %d", got.State)
	}
}

func TestEventSource_Reconnect(t *testing.T) {
	srv := newSSEServer(t)
	r := newTestRunner(t, nil)
	var got []string
	runJSON(t, r, fmt.Sprintf(`
		var es = new EventSource(%q);
		var seen = [];
		await new Promise(function(resolve) {
			es.onerror = function() { seen.push('error:' + es.readyState); };
			es.onmessage = function(e) {
				seen.push(e.data);
				if (seen.length >= 3) resolve();
			};
		});
		es.close();
		return seen;
	`, srv.URL+"/reconnect"), &got)
	want := []string{"one", "error:0", "first-id"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEventSource_WrongContentType(t *testing.T) {
	srv := newSSEServer(t)
	r := newTestRunner(t, nil)
	var got []int
	runJSON(t, r, fmt.Sprintf(`
		var es = new EventSource(%q);
		var messages = 0;
		es.onmessage = function() { messages++; };
		await new Promise(function(resolve) { es.onerror = resolve; });
		return [es.readyState, messages];
	`, srv.URL+"/wrong-type"), &got)
	if !reflect.DeepEqual(got, []int{2, 0}) {
		t.Errorf("readyState/messages = %v", got)
	}
}

func TestEventSource_RelativeURL(t *testing.T) {
	r := newTestRunner(t, nil)
	var got []any
	runJSON(t, r, `
		var es = new EventSource('events', { withCredentials: true });
		var out = [es.url, es.withCredentials, EventSource.CLOSED];
		es.close();
		return out;
	`, &got)
	want := []any{"http://web-platform.test:8000/sample/events", true, float64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
