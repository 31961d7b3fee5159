package webapi

import (
	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// consoleJS builds the console object on top of __console.
const consoleJS = `
(function() {
	function format(args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) {
			var arg = args[i];
			if (typeof arg === 'string') {
				parts.push(arg);
			} else if (arg instanceof Error) {
				parts.push(arg.stack ? String(arg.stack) : arg.name + ': ' + arg.message);
			} else if (typeof arg === 'object' && arg !== null) {
				try { parts.push(JSON.stringify(arg)); } catch (e) { parts.push(Object.prototype.toString.call(arg)); }
			} else {
				parts.push(String(arg));
			}
		}
		return parts.join(' ');
	}
	function emit(level, args) {
		__console(String(globalThis.__runID || ''), level, format(args));
	}

	var counters = {};
	var timers = {};
	var con = {};
	['log', 'info', 'warn', 'error', 'debug', 'trace'].forEach(function(level) {
		con[level] = function() { emit(level, arguments); };
	});
	con.assert = function(cond) {
		if (cond) return;
		var rest = Array.prototype.slice.call(arguments, 1);
		emit('error', ['Assertion failed' + (rest.length ? ':' : '')].concat(rest));
	};
	con.count = function(label) {
		label = label === undefined ? 'default' : String(label);
		counters[label] = (counters[label] || 0) + 1;
		emit('info', [label + ': ' + counters[label]]);
	};
	con.countReset = function(label) { counters[label === undefined ? 'default' : String(label)] = 0; };
	con.time = function(label) { timers[label === undefined ? 'default' : String(label)] = performance.now(); };
	con.timeEnd = function(label) {
		label = label === undefined ? 'default' : String(label);
		if (timers[label] === undefined) return;
		emit('info', [label + ': ' + (performance.now() - timers[label]).toFixed(3) + 'ms']);
		delete timers[label];
	};
	con.timeLog = function(label) {
		label = label === undefined ? 'default' : String(label);
		if (timers[label] === undefined) return;
		emit('info', [label + ': ' + (performance.now() - timers[label]).toFixed(3) + 'ms'].concat(Array.prototype.slice.call(arguments, 1)));
	};
	con.dir = con.dirxml = con.table = function(obj) { emit('log', [obj]); };
	con.group = con.groupCollapsed = function() { if (arguments.length) emit('log', arguments); };
	con.groupEnd = function() {};
	globalThis.console = con;
})();
`

// ConsoleSetup returns a setup function that captures console output into
// the run's log buffer and mirrors it to log at debug level.
func ConsoleSetup(log zerolog.Logger) SetupFunc {
	return func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__console", func(runIDStr, level, message string) {
			runID := core.ParseRunID(runIDStr)
			core.AddLog(runID, level, message)
			log.Debug().Uint64("run", runID).Str("level", level).Msg(message)
		}); err != nil {
			return err
		}
		return rt.Eval(consoleJS)
	}
}
