package webapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// maxEventSources bounds the open EventSource connections of one run.
const maxEventSources = 16

// defaultSSERetry is the reconnection delay before a retry field is seen.
const defaultSSERetry = 3 * time.Second

// eventSourceJS defines EventSource. Stream events arrive through
// globalThis.__esEvent, posted by the connection goroutine.
const eventSourceJS = `
(function() {

var CONNECTING = 0, OPEN = 1, CLOSED = 2;
var sources = {};

class EventSource extends EventTarget {
	constructor(url, init) {
		super();
		if (arguments.length === 0) throw new TypeError("Failed to construct 'EventSource': 1 argument required, but only 0 present.");
		var target;
		try {
			target = __resolveURL(url);
		} catch (e) {
			throw new DOMException("Failed to construct 'EventSource': Cannot open an EventSource to '" + url + "'. The URL is invalid.", 'SyntaxError');
		}
		this._url = target;
		this._withCredentials = !!(init && init.withCredentials);
		this._readyState = CONNECTING;
		this._id = __esConnect(String(globalThis.__runID), target, this._withCredentials);
		sources[this._id] = this;
	}
	get url() { return this._url; }
	get withCredentials() { return this._withCredentials; }
	get readyState() { return this._readyState; }
	close() {
		if (this._readyState === CLOSED) return;
		this._readyState = CLOSED;
		delete sources[this._id];
		__esClose(String(globalThis.__runID), this._id);
	}
	get [Symbol.toStringTag]() { return 'EventSource'; }
}

[['CONNECTING', CONNECTING], ['OPEN', OPEN], ['CLOSED', CLOSED]].forEach(function(c) {
	Object.defineProperty(EventSource, c[0], { value: c[1], enumerable: true });
	Object.defineProperty(EventSource.prototype, c[0], { value: c[1], enumerable: true });
});
['open', 'message', 'error'].forEach(function(name) {
	__defineEventHandler(EventSource.prototype, name);
});

globalThis.__esEvent = function(id, type, name, data, lastEventId) {
	var es = sources[id];
	if (!es || es._readyState === CLOSED) return;
	switch (type) {
	case 'open':
		es._readyState = OPEN;
		es.dispatchEvent(new Event('open'));
		break;
	case 'event':
		es.dispatchEvent(new MessageEvent(name, { data: data, origin: new URL(es._url).origin, lastEventId: lastEventId }));
		break;
	case 'reconnect':
		es._readyState = CONNECTING;
		es.dispatchEvent(new Event('error'));
		break;
	case 'fail':
		es._readyState = CLOSED;
		delete sources[id];
		es.dispatchEvent(new Event('error'));
		break;
	}
};

globalThis.EventSource = EventSource;

})();
`

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	Name        string
	Data        string
	LastEventID string
}

// sseParser implements the event stream interpretation rules. It keeps
// the last event ID and the reconnection time across connections.
type sseParser struct {
	lastEventID string
	retry       time.Duration

	eventType string
	data      strings.Builder
	hasData   bool
	pendingID *string
}

// line processes one line of the stream and returns an event when a
// blank line completes one.
func (p *sseParser) line(line string) (sseEvent, bool) {
	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return sseEvent{}, false
	}
	field, value := line, ""
	if i := strings.IndexByte(line, ':'); i >= 0 {
		field, value = line[:i], strings.TrimPrefix(line[i+1:], " ")
	}
	switch field {
	case "event":
		p.eventType = value
	case "data":
		if p.hasData {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(value)
		p.hasData = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.pendingID = &value
		}
	case "retry":
		if ms, err := strconv.ParseUint(value, 10, 63); err == nil {
			p.retry = time.Duration(ms) * time.Millisecond
		}
	}
	return sseEvent{}, false
}

func (p *sseParser) dispatch() (sseEvent, bool) {
	if p.pendingID != nil {
		p.lastEventID = *p.pendingID
		p.pendingID = nil
	}
	defer func() {
		p.eventType = ""
		p.data.Reset()
		p.hasData = false
	}()
	if !p.hasData {
		return sseEvent{}, false
	}
	name := p.eventType
	if name == "" {
		name = "message"
	}
	return sseEvent{Name: name, Data: p.data.String(), LastEventID: p.lastEventID}, true
}

// scanSSELines splits on CRLF, LF or CR.
func scanSSELines(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		switch b {
		case '\n':
			return i + 1, data[:i], nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if atEOF {
				return i + 1, data[:i], nil
			}
			return 0, nil, nil
		}
	}
	if atEOF && len(data) > 0 {
		// An unterminated final line never completes an event.
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// esConn tracks one EventSource for the lifetime of a run.
type esConn struct {
	id     string
	cancel context.CancelFunc
}

type esRegistry struct {
	mu    sync.Mutex
	conns map[string]*esConn
	next  int
}

func (r *esRegistry) add(c *esConn) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) >= maxEventSources {
		return "", errors.New("EventSource: maximum connection limit reached")
	}
	r.next++
	c.id = strconv.Itoa(r.next)
	r.conns[c.id] = c
	return c.id, nil
}

func (r *esRegistry) take(id string) *esConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[id]
	delete(r.conns, id)
	return c
}

func (r *esRegistry) closeAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*esConn)
	r.mu.Unlock()
	for _, c := range conns {
		c.cancel()
	}
}

func eventSources(state *core.RunState) *esRegistry {
	reg, _ := state.ExtOrInit("eventSources", func() any {
		reg := &esRegistry{conns: make(map[string]*esConn)}
		state.RegisterCleanup(reg.closeAll)
		return reg
	}).(*esRegistry)
	return reg
}

func esEventJS(id, typ string, args ...string) string {
	all := append([]string{id, typ}, args...)
	enc, _ := json.Marshal(all)
	return fmt.Sprintf("globalThis.__esEvent.apply(null, %s)", enc)
}

// isEventStream reports whether a Content-Type names text/event-stream.
func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/event-stream"
}

// runEventSource connects, reads and reconnects until the stream is
// failed or ctx is canceled.
func runEventSource(ctx context.Context, el *eventloop.EventLoop, log zerolog.Logger, client *http.Client, id, target, origin string) {
	defer el.Release()
	post := func(js string) {
		el.Post(func(rt core.JSRuntime) error { return rt.Eval(js) })
	}
	p := &sseParser{retry: defaultSSERetry}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			post(esEventJS(id, "fail"))
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if p.lastEventID != "" {
			req.Header.Set("Last-Event-ID", p.lastEventID)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Str("url", target).Msg("eventsource connect failed")
				post(esEventJS(id, "fail"))
			}
			return
		}
		if resp.StatusCode != http.StatusOK || !isEventStream(resp.Header.Get("Content-Type")) {
			_ = resp.Body.Close()
			post(esEventJS(id, "fail"))
			return
		}
		post(esEventJS(id, "open"))

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), MaxWSMessageBytes)
		sc.Split(scanSSELines)
		first := true
		for sc.Scan() {
			line := sc.Text()
			if first {
				line = strings.TrimPrefix(line, "\ufeff")
				first = false
			}
			if ev, ok := p.line(line); ok {
				post(esEventJS(id, "event", ev.Name, ev.Data, ev.LastEventID))
			}
		}
		_ = resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		post(esEventJS(id, "reconnect"))
		select {
		case <-time.After(p.retry):
		case <-ctx.Done():
			return
		}
	}
}

// EventSourceSetup returns a setup function for EventSource. Connection
// goroutines hold the event loop open until the source is closed or fails.
func EventSourceSetup(log zerolog.Logger) SetupFunc {
	return func(rt core.JSRuntime, el *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__esConnect", func(runIDStr, target string, withCredentials bool) (string, error) {
			state := core.GetRunState(core.ParseRunID(runIDStr))
			if state == nil {
				return "", errors.New("no active run")
			}
			origin := ""
			if u, err := ParseURL(state.GetOrigin(), ""); err == nil {
				origin = u.Origin
			}
			client := &http.Client{Transport: FetchTransport}
			if withCredentials || sameOrigin(target, origin) {
				client.Jar = cookieJar(state)
			}
			ctx, cancel := context.WithCancel(context.Background())
			c := &esConn{cancel: cancel}
			id, err := eventSources(state).add(c)
			if err != nil {
				cancel()
				return "", err
			}
			el.Hold()
			go runEventSource(ctx, el, log, client, id, target, origin)
			return id, nil
		}); err != nil {
			return err
		}

		if err := rt.RegisterFunc("__esClose", func(runIDStr, id string) {
			state := core.GetRunState(core.ParseRunID(runIDStr))
			if state == nil {
				return
			}
			if c := eventSources(state).take(id); c != nil {
				c.cancel()
			}
		}); err != nil {
			return err
		}

		if err := rt.Eval(eventSourceJS); err != nil {
			return fmt.Errorf("evaluating eventsource.js: %w", err)
		}
		return nil
	}
}

func sameOrigin(target, origin string) bool {
	u, err := ParseURL(target, "")
	return err == nil && origin != "" && u.Origin == origin
}
