package webapi

import (
	"time"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// timersJS keeps timer callbacks in globalThis.__timerCallbacks; the Go
// event loop decides when each one fires.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};

	function schedule(handler, timeout, args, repeat) {
		var fn = handler;
		if (typeof fn !== 'function') {
			var code = String(handler);
			fn = function() { (0, eval)(code); };
		}
		var delay = Number(timeout);
		if (!(delay > 0)) delay = 0;
		var id = __timerRegister(Math.floor(delay), repeat);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args, interval: repeat };
		return id;
	}

	globalThis.setTimeout = function setTimeout(handler, timeout) {
		return schedule(handler, timeout, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function setInterval(handler, timeout) {
		return schedule(handler, timeout, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		id = Number(id);
		if (!(id > 0)) return;
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
})();
`

// SetupTimers registers Go-backed setTimeout/setInterval/clearTimeout/clearInterval.
func SetupTimers(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, isInterval bool) int {
		return el.RegisterTimer(time.Duration(delayMs)*time.Millisecond, isInterval)
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__timerClear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return err
	}
	return rt.Eval(timersJS)
}
