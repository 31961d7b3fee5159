// Package harness implements the bootstrap that turns a fresh JavaScript
// environment into a WPT worker: it installs the API bindings and the
// globals testharness.js expects, evaluates the harness and the test's
// scripts in order, and relays results to the owner as messages.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
	"github.com/cryguy/wptworker/internal/webapi"
)

// Env is the per-run environment the bootstrap operates on. Each run gets
// its own; nothing in it is shared with other runs.
type Env struct {
	Runtime core.JSRuntime
	Loop    *eventloop.EventLoop
	RunID   uint64
	// Collect runs a full garbage collection. It backs the global gc();
	// nil leaves gc undefined.
	Collect func()
}

// Options configures a Bootstrap.
type Options struct {
	// CorpusRoot is the directory test paths are relative to.
	CorpusRoot string
	// HarnessPath overrides <CorpusRoot>/../runner/resources/testharness.cjs.
	HarnessPath string
	// Bindings replaces the default binding list when non-nil.
	Bindings []core.Binding
	Logger   zerolog.Logger
}

// Bootstrap prepares environments and runs jobs in them. It is safe for
// concurrent use; the harness source is read once per path.
type Bootstrap struct {
	root        string
	harnessPath string
	bindings    []core.Binding
	log         zerolog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Bootstrap.
func New(opts Options) *Bootstrap {
	hp := opts.HarnessPath
	if hp == "" {
		hp = DefaultHarnessPath(opts.CorpusRoot)
	}
	bindings := opts.Bindings
	if bindings == nil {
		bindings = webapi.Bindings()
	}
	return &Bootstrap{
		root:        opts.CorpusRoot,
		harnessPath: hp,
		bindings:    bindings,
		log:         opts.Logger,
		cache:       make(map[string]string),
	}
}

// CorpusRoot returns the configured corpus root.
func (b *Bootstrap) CorpusRoot() string { return b.root }

// harnessSource returns the harness script, reading it on first use.
func (b *Bootstrap) harnessSource() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if src, ok := b.cache[b.harnessPath]; ok {
		return src, nil
	}
	data, err := os.ReadFile(b.harnessPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", core.ErrHarnessNotFound, b.harnessPath)
		}
		return "", fmt.Errorf("reading harness: %w", err)
	}
	b.cache[b.harnessPath] = string(data)
	return string(data), nil
}

// bindingsJS defines each binding with an explicit descriptor so the
// surface under test replaces whatever the engine provides.
func bindingsJS(bindings []core.Binding) string {
	var sb strings.Builder
	sb.WriteString("(function() {\n")
	for _, bd := range bindings {
		expr := bd.Expr
		if expr == "" {
			expr = "globalThis[" + core.JsEscape(bd.Name) + "]"
		}
		fmt.Fprintf(&sb, "Object.defineProperty(globalThis, %s, { value: (%s), writable: true, enumerable: %t, configurable: true });\n",
			core.JsEscape(bd.Name), expr, bd.Enumerable)
	}
	sb.WriteString("})();")
	return sb.String()
}

// globalsJS defines self, GLOBAL, window, location and Window.
func globalsJS(pageURL string) string {
	return `globalThis.self = globalThis;
globalThis.GLOBAL = {
	isWorker() { return false; },
	isShadowRealm() { return false; },
	isWindow() { return false; }
};
globalThis.window = globalThis;
globalThis.location = new URL(` + core.JsEscape(pageURL) + `);
globalThis.Window = Object.getPrototypeOf(globalThis).constructor;`
}

// callbacksJS hooks testharness.js result and completion reporting.
const callbacksJS = `(function() {
	function str(v) { return v === undefined || v === null ? '' : String(v); }
	add_result_callback(function(result) {
		__wpt_post(JSON.stringify({
			type: 'result',
			result: { status: result.status, name: str(result.name), message: str(result.message), stack: str(result.stack) }
		}));
	});
	add_completion_callback(function(_, status) {
		__wpt_post(JSON.stringify({
			type: 'completion',
			status: { status: status.status, message: str(status.message), stack: str(status.stack) }
		}));
	});
})();`

const gcJS = `globalThis.gc = function gc() { __gc(); };`

// step is one script the bootstrap evaluates.
type step struct {
	name   string
	source string
}

// install registers the host functions the bootstrap scripts call.
func (b *Bootstrap) install(env Env, r *relay) error {
	rt := env.Runtime
	if err := rt.RegisterFunc("__wpt_post", func(payload string) {
		var msg core.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			b.log.Warn().Err(err).Msg("malformed harness message")
			return
		}
		switch msg.Type {
		case core.MessageResult:
			if msg.Result != nil {
				r.result(*msg.Result)
			}
		case core.MessageCompletion:
			if msg.Status != nil {
				r.complete(*msg.Status)
			}
		}
	}); err != nil {
		return fmt.Errorf("registering __wpt_post: %w", err)
	}
	if err := rt.RegisterFunc("__hostUncaught", func(payload string) {
		var info core.ErrorInfo
		if err := json.Unmarshal([]byte(payload), &info); err != nil {
			info = core.ErrorInfo{Name: "Error", Message: payload}
		}
		r.fail(info)
	}); err != nil {
		return fmt.Errorf("registering __hostUncaught: %w", err)
	}
	if env.Collect != nil {
		collect := env.Collect
		if err := rt.RegisterFunc("__gc", func() { collect() }); err != nil {
			return fmt.Errorf("registering __gc: %w", err)
		}
	}
	if env.Loop != nil {
		env.Loop.SetErrorHandler(func(err error) {
			r.fail(core.ParseScriptError(err).Info())
		})
	}
	return nil
}

// Run performs the bootstrap sequence for job on env and drains the event
// loop until the relay has sent a terminal message. A failing test file is
// reported through sink and Run returns nil; errors are reserved for
// problems the caller has to handle (bad paths, an idle loop without
// completion, ctx ending). An unreadable harness is both: the Error message
// goes to sink and the read error is returned.
func (b *Bootstrap) Run(ctx context.Context, env Env, job *core.Job, sink core.Sink) error {
	urlPath, err := URLPath(b.root, job.Path)
	if err != nil {
		return err
	}
	r := newRelay(sink, b.log)
	harnessSrc, err := b.harnessSource()
	if err != nil {
		r.fail(core.ErrorInfo{Name: "Error", Message: err.Error()})
		return err
	}
	if err := b.install(env, r); err != nil {
		return err
	}
	rt := env.Runtime
	log := b.log.With().Str("path", urlPath).Logger()

	steps := []step{
		{"bindings", bindingsJS(b.bindings)},
		{"globals", globalsJS(job.URL)},
		{"harness", harnessSrc},
		{"callbacks", callbacksJS},
	}
	if !b.runSteps(rt, r, log, steps) {
		return nil
	}

	origin, err := GlobalOrigin(job.URL, urlPath)
	if err != nil {
		r.fail(core.ErrorInfo{Name: "TypeError", Message: err.Error()})
		return nil
	}
	if state := core.GetRunState(env.RunID); state != nil {
		state.SetOrigin(origin)
	}

	steps = steps[:0]
	for i, src := range job.InitScripts {
		steps = append(steps, step{fmt.Sprintf("init script %d", i), src})
	}
	for i, src := range job.Meta.Scripts {
		steps = append(steps, step{fmt.Sprintf("meta script %d", i), src})
	}
	if env.Collect != nil {
		steps = append(steps, step{"gc", gcJS})
	}
	steps = append(steps, step{"test", job.Test})
	if !b.runSteps(rt, r, log, steps) {
		return nil
	}

	if env.Loop == nil {
		if r.Finished() {
			return nil
		}
		return core.ErrStalled
	}
	if err := env.Loop.Drain(ctx, rt, r.Finished); err != nil {
		return err
	}
	if !r.Finished() {
		return core.ErrStalled
	}
	return nil
}

// runSteps evaluates steps in order. It stops at the first exception,
// reports it through r and returns false.
func (b *Bootstrap) runSteps(rt core.JSRuntime, r *relay, log zerolog.Logger, steps []step) bool {
	for _, s := range steps {
		if err := rt.Eval(s.source); err != nil {
			info := core.ParseScriptError(err).Info()
			log.Debug().Str("step", s.name).Str("error", info.Name+": "+info.Message).Msg("bootstrap step threw")
			r.fail(info)
			return false
		}
		rt.RunMicrotasks()
	}
	return true
}
