package webapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// WsHandshakeTimeout bounds the opening handshake.
const WsHandshakeTimeout = 30 * time.Second

// MaxWSMessageBytes is the largest message a socket will read.
const MaxWSMessageBytes = 32 * 1024 * 1024

// webSocketJS defines the WebSocket client. Network events arrive through
// globalThis.__wsEvent, which the Go side invokes as event loop tasks.
const webSocketJS = `
(function() {

var CONNECTING = 0, OPEN = 1, CLOSING = 2, CLOSED = 3;
var sockets = {};
var tokenRe = /^[!#$%&'*+\-.^_\x60|~0-9A-Za-z]+$/;

function syntaxError(msg) { return new DOMException(msg, 'SyntaxError'); }

function byteLength(s) { return new TextEncoder().encode(s).byteLength; }

class WebSocket extends EventTarget {
	constructor(url, protocols) {
		super();
		if (arguments.length === 0) throw new TypeError("Failed to construct 'WebSocket': 1 argument required, but only 0 present.");
		var parsed;
		try {
			parsed = new URL(__resolveURL(url));
		} catch (e) {
			throw syntaxError("Failed to construct 'WebSocket': The URL '" + url + "' is invalid.");
		}
		if (parsed.protocol === 'http:') parsed.protocol = 'ws:';
		else if (parsed.protocol === 'https:') parsed.protocol = 'wss:';
		if (parsed.protocol !== 'ws:' && parsed.protocol !== 'wss:') {
			throw syntaxError("Failed to construct 'WebSocket': The URL's scheme must be either 'http', 'https', 'ws', or 'wss'.");
		}
		if (parsed.hash !== '' || parsed.href.endsWith('#')) {
			throw syntaxError("Failed to construct 'WebSocket': The URL contains a fragment identifier.");
		}
		if (protocols === undefined) protocols = [];
		else if (typeof protocols === 'string' || typeof protocols[Symbol.iterator] !== 'function') protocols = [String(protocols)];
		else protocols = Array.from(protocols, String);
		var seen = {};
		protocols.forEach(function(p) {
			if (!tokenRe.test(p)) throw syntaxError("Failed to construct 'WebSocket': The subprotocol '" + p + "' is invalid.");
			var key = p.toLowerCase();
			if (seen[key]) throw syntaxError("Failed to construct 'WebSocket': The subprotocol '" + p + "' is duplicated.");
			seen[key] = true;
		});
		this._url = parsed.href;
		this._readyState = CONNECTING;
		this._bufferedAmount = 0;
		this._binaryType = 'blob';
		this._protocol = '';
		this._extensions = '';
		this._id = __wsConnect(String(globalThis.__runID), this._url, JSON.stringify(protocols));
		sockets[this._id] = this;
	}
	get url() { return this._url; }
	get readyState() { return this._readyState; }
	get bufferedAmount() { return this._bufferedAmount; }
	get protocol() { return this._protocol; }
	get extensions() { return this._extensions; }
	get binaryType() { return this._binaryType; }
	set binaryType(v) {
		v = String(v);
		if (v === 'blob' || v === 'arraybuffer') this._binaryType = v;
	}
	send(data) {
		if (this._readyState === CONNECTING) {
			throw new DOMException("Failed to execute 'send' on 'WebSocket': Still in CONNECTING state.", 'InvalidStateError');
		}
		var text = null, bytes = null;
		if (data instanceof Blob) bytes = data._bytes;
		else if (data instanceof ArrayBuffer || ArrayBuffer.isView(data)) bytes = __toBytes(data);
		else text = __toUSVString(data);
		var size = text !== null ? byteLength(text) : bytes.byteLength;
		this._bufferedAmount += size;
		if (this._readyState !== OPEN) return;
		var runID = String(globalThis.__runID);
		if (text !== null) __wsSend(runID, this._id, text, false, size);
		else __wsSend(runID, this._id, __bytesToB64(bytes), true, size);
	}
	close(code, reason) {
		if (code !== undefined) {
			code = Number(code);
			if (!(code === 1000 || (code >= 3000 && code <= 4999)) || Math.floor(code) !== code) {
				throw new DOMException("Failed to execute 'close' on 'WebSocket': The code must be either 1000, or between 3000 and 4999. " + code + ' is neither.', 'InvalidAccessError');
			}
		}
		reason = reason === undefined ? '' : __toUSVString(reason);
		if (byteLength(reason) > 123) {
			throw syntaxError("Failed to execute 'close' on 'WebSocket': The message must not be greater than 123 bytes.");
		}
		if (this._readyState === CLOSING || this._readyState === CLOSED) return;
		this._readyState = CLOSING;
		__wsClose(String(globalThis.__runID), this._id, code === undefined ? -1 : code, reason);
	}
	get [Symbol.toStringTag]() { return 'WebSocket'; }
}

[['CONNECTING', CONNECTING], ['OPEN', OPEN], ['CLOSING', CLOSING], ['CLOSED', CLOSED]].forEach(function(c) {
	Object.defineProperty(WebSocket, c[0], { value: c[1], enumerable: true });
	Object.defineProperty(WebSocket.prototype, c[0], { value: c[1], enumerable: true });
});
['open', 'message', 'error', 'close'].forEach(function(name) {
	__defineEventHandler(WebSocket.prototype, name);
});

globalThis.__wsEvent = function(id, type, a, b, c) {
	var ws = sockets[id];
	if (!ws) return;
	switch (type) {
	case 'open':
		if (ws._readyState !== CONNECTING) return;
		ws._readyState = OPEN;
		ws._protocol = a;
		ws._extensions = b;
		ws.dispatchEvent(new Event('open'));
		break;
	case 'message':
		if (ws._readyState !== OPEN) return;
		var data = a;
		if (b) {
			var bytes = __b64ToBytes(a);
			data = ws._binaryType === 'blob' ? new Blob([bytes]) : bytes.buffer;
		}
		ws.dispatchEvent(new MessageEvent('message', { data: data, origin: new URL(ws._url).origin }));
		break;
	case 'sent':
		ws._bufferedAmount = Math.max(0, ws._bufferedAmount - a);
		break;
	case 'close':
		delete sockets[id];
		var wasOpen = ws._readyState;
		ws._readyState = CLOSED;
		if (!c && wasOpen !== CLOSED) ws.dispatchEvent(new Event('error'));
		ws.dispatchEvent(new CloseEvent('close', { code: a, reason: b, wasClean: c }));
		break;
	}
};

globalThis.WebSocket = WebSocket;

})();
`

// wsFrame is one queued outgoing message or a close request.
type wsFrame struct {
	typ    websocket.MessageType
	data   []byte
	size   int
	close  bool
	code   int
	reason string
}

// wsConn tracks one client socket for the lifetime of a run.
type wsConn struct {
	id     string
	cancel context.CancelFunc
	out    chan wsFrame
	done   chan struct{}
	opened atomic.Bool
	once   sync.Once
}

// queue hands f to the socket goroutine unless it has already exited.
func (c *wsConn) queue(f wsFrame) {
	select {
	case c.out <- f:
	case <-c.done:
	}
}

// wsRegistry holds the open sockets of a run.
type wsRegistry struct {
	mu    sync.Mutex
	conns map[string]*wsConn
	next  int
}

func (r *wsRegistry) add(c *wsConn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	c.id = strconv.Itoa(r.next)
	r.conns[c.id] = c
	return c.id
}

func (r *wsRegistry) get(id string) *wsConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[id]
}

func (r *wsRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *wsRegistry) closeAll() {
	r.mu.Lock()
	conns := make([]*wsConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.cancel()
	}
}

func sockets(state *core.RunState) *wsRegistry {
	reg, _ := state.ExtOrInit("webSockets", func() any {
		reg := &wsRegistry{conns: make(map[string]*wsConn)}
		state.RegisterCleanup(reg.closeAll)
		return reg
	}).(*wsRegistry)
	return reg
}

// wsEventJS renders a __wsEvent call. Values are JSON encoded, which is
// valid JS literal syntax.
func wsEventJS(id, typ string, args ...any) string {
	all := append([]any{id, typ}, args...)
	parts := make([]byte, 0, 64)
	for i, a := range all {
		if i > 0 {
			parts = append(parts, ',')
		}
		enc, _ := json.Marshal(a)
		parts = append(parts, enc...)
	}
	return fmt.Sprintf("globalThis.__wsEvent(%s)", parts)
}

// closeDetails maps a read error to the close event fields.
func closeDetails(err error) (code int, reason string, clean bool) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.StatusNoStatusRcvd {
			return int(websocket.StatusNoStatusRcvd), "", true
		}
		return int(ce.Code), ce.Reason, true
	}
	return int(websocket.StatusAbnormalClosure), "", false
}

// runSocket dials url and pumps frames in both directions until the
// connection ends. Every JS-visible effect is posted to el.
func runSocket(ctx context.Context, el *eventloop.EventLoop, log zerolog.Logger, reg *wsRegistry, c *wsConn, target string, protocols []string, origin string) {
	defer el.Release()
	defer reg.remove(c.id)
	defer close(c.done)
	post := func(js string) {
		el.Post(func(rt core.JSRuntime) error { return rt.Eval(js) })
	}

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, WsHandshakeTimeout)
	conn, resp, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		Subprotocols: protocols,
		HTTPHeader:   header,
	})
	cancelDial()
	if err != nil {
		log.Debug().Err(err).Str("url", target).Msg("websocket dial failed")
		post(wsEventJS(c.id, "close", int(websocket.StatusAbnormalClosure), "", false))
		return
	}
	c.opened.Store(true)
	conn.SetReadLimit(MaxWSMessageBytes)
	extensions := ""
	if resp != nil {
		extensions = resp.Header.Get("Sec-WebSocket-Extensions")
	}
	post(wsEventJS(c.id, "open", conn.Subprotocol(), extensions))

	readDone := make(chan error, 1)
	go func() {
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				readDone <- err
				return
			}
			if typ == websocket.MessageBinary {
				post(wsEventJS(c.id, "message", base64.StdEncoding.EncodeToString(data), true))
			} else {
				post(wsEventJS(c.id, "message", string(data), false))
			}
		}
	}()

	for {
		select {
		case f := <-c.out:
			if f.close {
				code := websocket.StatusNoStatusRcvd
				if f.code >= 0 {
					code = websocket.StatusCode(f.code)
				}
				go func() { _ = conn.Close(code, f.reason) }()
				continue
			}
			if err := conn.Write(ctx, f.typ, f.data); err != nil {
				log.Debug().Err(err).Str("url", target).Msg("websocket write failed")
				continue
			}
			post(wsEventJS(c.id, "sent", f.size))
		case err := <-readDone:
			code, reason, clean := closeDetails(err)
			post(wsEventJS(c.id, "close", code, reason, clean))
			return
		case <-ctx.Done():
			_ = conn.CloseNow()
			return
		}
	}
}

// WebSocketSetup returns a setup function for the WebSocket client. Socket
// goroutines hold the event loop open until the connection closes.
func WebSocketSetup(log zerolog.Logger) SetupFunc {
	return func(rt core.JSRuntime, el *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__wsConnect", func(runIDStr, target, protocolsJSON string) (string, error) {
			state := core.GetRunState(core.ParseRunID(runIDStr))
			if state == nil {
				return "", errors.New("no active run")
			}
			var protocols []string
			if err := json.Unmarshal([]byte(protocolsJSON), &protocols); err != nil {
				return "", err
			}
			origin := ""
			if u, err := ParseURL(state.GetOrigin(), ""); err == nil {
				origin = u.Origin
			}
			reg := sockets(state)
			ctx, cancel := context.WithCancel(context.Background())
			c := &wsConn{cancel: cancel, out: make(chan wsFrame, 64), done: make(chan struct{})}
			id := reg.add(c)
			el.Hold()
			go runSocket(ctx, el, log, reg, c, target, protocols, origin)
			return id, nil
		}); err != nil {
			return err
		}

		if err := rt.RegisterFunc("__wsSend", func(runIDStr, id, data string, binary bool, size int) {
			state := core.GetRunState(core.ParseRunID(runIDStr))
			if state == nil {
				return
			}
			c := sockets(state).get(id)
			if c == nil {
				return
			}
			f := wsFrame{typ: websocket.MessageText, data: []byte(data), size: size}
			if binary {
				raw, err := base64.StdEncoding.DecodeString(data)
				if err != nil {
					return
				}
				f = wsFrame{typ: websocket.MessageBinary, data: raw, size: size}
			}
			c.queue(f)
		}); err != nil {
			return err
		}

		if err := rt.RegisterFunc("__wsClose", func(runIDStr, id string, code int, reason string) {
			state := core.GetRunState(core.ParseRunID(runIDStr))
			if state == nil {
				return
			}
			c := sockets(state).get(id)
			if c == nil {
				return
			}
			c.once.Do(func() {
				if !c.opened.Load() {
					c.cancel()
					return
				}
				c.queue(wsFrame{close: true, code: code, reason: reason})
			})
		}); err != nil {
			return err
		}

		if err := rt.Eval(webSocketJS); err != nil {
			return fmt.Errorf("evaluating websocket.js: %w", err)
		}
		return nil
	}
}
