package harness

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// fakeRuntime records evaluated sources. onEval lets a test react to a
// specific script the way the engine would, typically by calling one of
// the registered host functions.
type fakeRuntime struct {
	mu     sync.Mutex
	evals  []string
	funcs  map[string]any
	fail   map[string]error
	onEval func(src string)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{funcs: make(map[string]any), fail: make(map[string]error)}
}

func (f *fakeRuntime) Eval(js string) error {
	f.mu.Lock()
	f.evals = append(f.evals, js)
	err := f.fail[js]
	hook := f.onEval
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(js)
	}
	return nil
}
func (f *fakeRuntime) EvalString(string) (string, error) { return "", nil }
func (f *fakeRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (f *fakeRuntime) EvalInt(string) (int, error)       { return 0, nil }
func (f *fakeRuntime) SetGlobal(string, any) error       { return nil }
func (f *fakeRuntime) RunMicrotasks()                    {}

func (f *fakeRuntime) RegisterFunc(name string, fn any) error {
	f.mu.Lock()
	f.funcs[name] = fn
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) post(payload string) {
	f.mu.Lock()
	fn := f.funcs["__wpt_post"].(func(string))
	f.mu.Unlock()
	fn(payload)
}

func (f *fakeRuntime) uncaught(payload string) {
	f.mu.Lock()
	fn := f.funcs["__hostUncaught"].(func(string))
	f.mu.Unlock()
	fn(payload)
}

// index returns the position of the first evaluated script containing substr.
func (f *fakeRuntime) index(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, js := range f.evals {
		if strings.Contains(js, substr) {
			return i
		}
	}
	return -1
}

const (
	resultJSON     = `{"type":"result","result":{"status":0,"name":"basic","message":"","stack":""}}`
	completionJSON = `{"type":"completion","status":{"status":0}}`
)

type collector struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (c *collector) sink(m core.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) types() []core.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.MessageType, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Type
	}
	return out
}

func testJob() *core.Job {
	return &core.Job{
		InitScripts: []string{"/*init-1*/", "/*init-2*/"},
		Meta:        core.Meta{Scripts: []string{"/*meta-1*/"}},
		Test:        "/*test*/",
		URL:         "http://web-platform.test:8000/",
		Path:        filepath.Join("testdata", "tests", "fetch", "basic.any.js"),
	}
}

func newTestBootstrap() *Bootstrap {
	return New(Options{CorpusRoot: filepath.Join("testdata", "tests"), Logger: zerolog.Nop()})
}

func TestURLPath(t *testing.T) {
	tests := []struct {
		root, path, want string
	}{
		{"/repo/test/wpt/tests", "/repo/test/wpt/tests/fetch/api/basic.html", "/fetch/api/basic.html"},
		{"/repo/test/wpt/tests/", "/repo/test/wpt/tests/a.any.js", "/a.any.js"},
		{"/repo/tests", "/repo/tests", "/"},
		{"/", "/x/y.js", "/x/y.js"},
	}
	for _, tt := range tests {
		got, err := URLPath(tt.root, tt.path)
		if err != nil {
			t.Errorf("URLPath(%q, %q) error: %v", tt.root, tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("URLPath(%q, %q) = %q, want %q", tt.root, tt.path, got, tt.want)
		}
	}
}

func TestURLPath_OutsideCorpus(t *testing.T) {
	for _, p := range []string{"/other/file.js", "/repo/testsuite/file.js"} {
		if _, err := URLPath("/repo/tests", p); !errors.Is(err, core.ErrOutsideCorpus) {
			t.Errorf("URLPath(%q) error = %v, want ErrOutsideCorpus", p, err)
		}
	}
}

func TestGlobalOrigin(t *testing.T) {
	got, err := GlobalOrigin("http://web-platform.test:8000/", "/fetch/api/basic.any.js")
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://web-platform.test:8000/fetch/api/basic.any.js" {
		t.Errorf("GlobalOrigin = %q", got)
	}
	if _, err := GlobalOrigin("not a url", "/x.js"); err == nil {
		t.Error("expected error for invalid base")
	}
}

func TestDefaultHarnessPath(t *testing.T) {
	got := DefaultHarnessPath("/repo/test/wpt/tests")
	if got != filepath.FromSlash("/repo/test/wpt/runner/resources/testharness.cjs") {
		t.Errorf("DefaultHarnessPath = %q", got)
	}
}

func TestBindingsJS(t *testing.T) {
	js := bindingsJS([]core.Binding{
		{Name: "fetch", Enumerable: true},
		{Name: "Blob"},
		{Name: "Headers", Expr: "globalThis.__Headers"},
	})
	if !strings.Contains(js, `Object.defineProperty(globalThis, "fetch", { value: (globalThis["fetch"]), writable: true, enumerable: true, configurable: true })`) {
		t.Errorf("fetch descriptor missing:\n%s", js)
	}
	if !strings.Contains(js, `"Blob", { value: (globalThis["Blob"]), writable: true, enumerable: false`) {
		t.Errorf("Blob descriptor missing:\n%s", js)
	}
	if !strings.Contains(js, `value: (globalThis.__Headers)`) {
		t.Errorf("custom expression not used:\n%s", js)
	}
}

func TestGlobalsJS_EscapesURL(t *testing.T) {
	js := globalsJS(`http://x/"); evil("`)
	if !strings.Contains(js, `new URL("http://x/\"); evil(\"")`) {
		t.Errorf("URL not escaped:\n%s", js)
	}
}

func TestRun_Order(t *testing.T) {
	rt := newFakeRuntime()
	rt.onEval = func(src string) {
		if src == "/*test*/" {
			rt.post(resultJSON)
			rt.post(completionJSON)
		}
	}
	runID := core.NewRunState(10)
	defer core.ClearRunState(runID)

	var c collector
	collected := 0
	env := Env{Runtime: rt, RunID: runID, Collect: func() { collected++ }}
	if err := newTestBootstrap().Run(context.Background(), env, testJob(), c.sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	order := []string{
		`Object.defineProperty(globalThis, "fetch"`,
		`globalThis.location = new URL("http://web-platform.test:8000/")`,
		"__harnessLoaded",
		"add_completion_callback",
		"/*init-1*/",
		"/*init-2*/",
		"/*meta-1*/",
		"globalThis.gc",
		"/*test*/",
	}
	prev := -1
	for _, s := range order {
		i := rt.index(s)
		if i < 0 {
			t.Fatalf("script containing %q was not evaluated", s)
		}
		if i <= prev {
			t.Errorf("script containing %q evaluated out of order (%d after %d)", s, i, prev)
		}
		prev = i
	}

	got := c.types()
	if len(got) != 2 || got[0] != core.MessageResult || got[1] != core.MessageCompletion {
		t.Fatalf("messages = %v", got)
	}
	if c.msgs[0].Result.Name != "basic" || c.msgs[0].Result.Status != core.StatusPass {
		t.Errorf("result = %+v", *c.msgs[0].Result)
	}
	if origin := core.GetRunState(runID).GetOrigin(); origin != "http://web-platform.test:8000/fetch/basic.any.js" {
		t.Errorf("origin = %q", origin)
	}

	rt.funcs["__gc"].(func())()
	if collected != 1 {
		t.Errorf("gc did not reach the collector")
	}
}

func TestRun_NoCollector(t *testing.T) {
	rt := newFakeRuntime()
	rt.onEval = func(src string) {
		if src == "/*test*/" {
			rt.post(completionJSON)
		}
	}
	var c collector
	if err := newTestBootstrap().Run(context.Background(), Env{Runtime: rt}, testJob(), c.sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rt.index("globalThis.gc") >= 0 {
		t.Error("gc defined without a collector")
	}
	if _, ok := rt.funcs["__gc"]; ok {
		t.Error("__gc registered without a collector")
	}
}

func TestRun_TestThrows(t *testing.T) {
	rt := newFakeRuntime()
	rt.fail["/*meta-1*/"] = errors.New("ReferenceError: helper is not defined\n    at meta.js:1")

	var c collector
	if err := newTestBootstrap().Run(context.Background(), Env{Runtime: rt}, testJob(), c.sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rt.index("/*test*/") >= 0 {
		t.Error("test evaluated after a meta script threw")
	}
	if len(c.msgs) != 1 || c.msgs[0].Type != core.MessageError {
		t.Fatalf("messages = %v", c.types())
	}
	e := c.msgs[0].Error
	if e.Name != "ReferenceError" || e.Message != "helper is not defined" || e.Stack != "    at meta.js:1" {
		t.Errorf("error = %+v", *e)
	}
}

func TestRun_UncaughtAfterCompletionDropped(t *testing.T) {
	rt := newFakeRuntime()
	rt.onEval = func(src string) {
		if src == "/*test*/" {
			rt.post(completionJSON)
			rt.uncaught(`{"name":"Error","message":"late","stack":""}`)
			rt.post(resultJSON)
		}
	}
	var c collector
	if err := newTestBootstrap().Run(context.Background(), Env{Runtime: rt}, testJob(), c.sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := c.types()
	if len(got) != 1 || got[0] != core.MessageCompletion {
		t.Errorf("messages = %v, want only completion", got)
	}
}

func TestRun_UncaughtEndsRun(t *testing.T) {
	rt := newFakeRuntime()
	el := eventloop.New()
	rt.onEval = func(src string) {
		if src == "/*test*/" {
			el.Post(func(core.JSRuntime) error {
				rt.uncaught(`{"name":"TypeError","message":"async boom","stack":""}`)
				return nil
			})
			el.Hold()
		}
	}
	var c collector
	err := newTestBootstrap().Run(context.Background(), Env{Runtime: rt, Loop: el}, testJob(), c.sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.msgs) != 1 || c.msgs[0].Type != core.MessageError || c.msgs[0].Error.Message != "async boom" {
		t.Fatalf("messages = %+v", c.msgs)
	}
}

func TestRun_CompletionFromLoop(t *testing.T) {
	rt := newFakeRuntime()
	el := eventloop.New()
	rt.onEval = func(src string) {
		if src == "/*test*/" {
			go func() {
				time.Sleep(10 * time.Millisecond)
				el.Post(func(core.JSRuntime) error {
					rt.post(resultJSON)
					rt.post(completionJSON)
					return nil
				})
			}()
			el.Hold()
		}
	}
	var c collector
	if err := newTestBootstrap().Run(context.Background(), Env{Runtime: rt, Loop: el}, testJob(), c.sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := c.types(); len(got) != 2 || got[1] != core.MessageCompletion {
		t.Errorf("messages = %v", got)
	}
}

func TestRun_LoopErrorHandler(t *testing.T) {
	rt := newFakeRuntime()
	el := eventloop.New()
	rt.onEval = func(src string) {
		if src == "/*test*/" {
			el.Post(func(core.JSRuntime) error {
				return errors.New("RangeError: out of range")
			})
		}
	}
	var c collector
	if err := newTestBootstrap().Run(context.Background(), Env{Runtime: rt, Loop: el}, testJob(), c.sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.msgs) != 1 || c.msgs[0].Error == nil || c.msgs[0].Error.Name != "RangeError" {
		t.Fatalf("messages = %+v", c.msgs)
	}
}

func TestRun_Stalled(t *testing.T) {
	var c collector
	err := newTestBootstrap().Run(context.Background(), Env{Runtime: newFakeRuntime(), Loop: eventloop.New()}, testJob(), c.sink)
	if !errors.Is(err, core.ErrStalled) {
		t.Errorf("err = %v, want ErrStalled", err)
	}
	err = newTestBootstrap().Run(context.Background(), Env{Runtime: newFakeRuntime()}, testJob(), c.sink)
	if !errors.Is(err, core.ErrStalled) {
		t.Errorf("without loop err = %v, want ErrStalled", err)
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	rt := newFakeRuntime()
	el := eventloop.New()
	el.Hold()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var c collector
	err := newTestBootstrap().Run(ctx, Env{Runtime: rt, Loop: el}, testJob(), c.sink)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestRun_OutsideCorpus(t *testing.T) {
	job := testJob()
	job.Path = filepath.Join("elsewhere", "x.js")
	var c collector
	err := newTestBootstrap().Run(context.Background(), Env{Runtime: newFakeRuntime()}, job, c.sink)
	if !errors.Is(err, core.ErrOutsideCorpus) {
		t.Errorf("err = %v, want ErrOutsideCorpus", err)
	}
	if len(c.msgs) != 0 {
		t.Errorf("messages sent for rejected path: %v", c.types())
	}
}

func TestRun_HarnessMissing(t *testing.T) {
	b := New(Options{CorpusRoot: filepath.Join("testdata", "tests"), HarnessPath: filepath.Join("testdata", "missing.cjs"), Logger: zerolog.Nop()})
	var c collector
	rt := newFakeRuntime()
	err := b.Run(context.Background(), Env{Runtime: rt}, testJob(), c.sink)
	if !errors.Is(err, core.ErrHarnessNotFound) {
		t.Errorf("err = %v, want ErrHarnessNotFound", err)
	}
	if len(c.msgs) != 1 || c.msgs[0].Type != core.MessageError {
		t.Fatalf("messages = %v, want one error", c.types())
	}
	if msg := c.msgs[0].Error.Message; !strings.Contains(msg, "missing.cjs") {
		t.Errorf("error message = %q", msg)
	}
	if len(rt.evals) != 0 {
		t.Errorf("evaluated %d scripts without a harness", len(rt.evals))
	}
}

func TestRun_BadBaseURL(t *testing.T) {
	job := testJob()
	job.URL = "::not a url::"
	var c collector
	if err := newTestBootstrap().Run(context.Background(), Env{Runtime: newFakeRuntime()}, job, c.sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.msgs) != 1 || c.msgs[0].Type != core.MessageError {
		t.Errorf("messages = %v", c.types())
	}
}

func TestRelay(t *testing.T) {
	var c collector
	r := newRelay(c.sink, zerolog.Nop())
	r.result(core.TestResult{Name: "a"})
	r.result(core.TestResult{Name: "b"})
	if r.Finished() {
		t.Fatal("finished before completion")
	}
	r.complete(core.HarnessStatus{Status: core.HarnessOK})
	r.complete(core.HarnessStatus{Status: core.HarnessError})
	r.fail(core.ErrorInfo{Name: "Error"})
	r.result(core.TestResult{Name: "c"})
	if !r.Finished() {
		t.Fatal("not finished after completion")
	}
	got := c.types()
	want := []core.MessageType{core.MessageResult, core.MessageResult, core.MessageCompletion}
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %s, want %s", i, got[i], want[i])
		}
	}
}
