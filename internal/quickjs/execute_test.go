//go:build !v8

package quickjs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/harness"
)

var corpusRoot = filepath.Join("..", "..", "testdata", "wpt", "tests")

func newTestEngine(t *testing.T, cfg core.EngineConfig) *Engine {
	t.Helper()
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 1
	}
	boot := harness.New(harness.Options{CorpusRoot: corpusRoot, Logger: zerolog.Nop()})
	e, err := NewEngine(cfg, boot, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

func loadJob(t *testing.T, rel string) *core.Job {
	t.Helper()
	path := filepath.Join(corpusRoot, filepath.FromSlash(rel))
	src, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return &core.Job{Test: string(src), URL: "http://web-platform.test:8000/", Path: path}
}

func runJob(t *testing.T, e *Engine, job *core.Job) ([]core.Message, *core.RunInfo, error) {
	t.Helper()
	var msgs []core.Message
	info, err := e.Run(context.Background(), job, func(m core.Message) { msgs = append(msgs, m) })
	return msgs, info, err
}

func TestEngine_Pass(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	msgs, info, err := runJob(t, e, loadJob(t, "basic/pass.any.js"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Type != core.MessageResult || msgs[0].Result.Name != "ok" || msgs[0].Result.Status != core.StatusPass {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Type != core.MessageCompletion || msgs[1].Status.Status != core.HarnessOK {
		t.Errorf("second message = %+v", msgs[1])
	}
	if info.Duration <= 0 {
		t.Error("duration not recorded")
	}
}

func TestEngine_Throws(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	msgs, _, err := runJob(t, e, loadJob(t, "basic/throws.any.js"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != core.MessageError {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Error.Message != "boom" {
		t.Errorf("error message = %q, want boom", msgs[0].Error.Message)
	}
}

func TestEngine_FailingAssertion(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	msgs, _, err := runJob(t, e, loadJob(t, "basic/fail.any.js"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Result.Status != core.StatusFail || msgs[0].Result.Name != "broken" {
		t.Errorf("first result = %+v", *msgs[0].Result)
	}
	if msgs[1].Result.Status != core.StatusPass {
		t.Errorf("second result = %+v", *msgs[1].Result)
	}
}

func TestEngine_InitScripts(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	job := loadJob(t, "basic/init.any.js")
	job.InitScripts = []string{"globalThis.a = 1", "globalThis.b = globalThis.a + 1"}
	msgs, _, err := runJob(t, e, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Result.Status != core.StatusPass {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestEngine_Globals(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	msgs, _, err := runJob(t, e, loadJob(t, "basic/globals.any.js"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, m := range msgs {
		if m.Type == core.MessageResult && m.Result.Status != core.StatusPass {
			t.Errorf("%s: %s", m.Result.Name, m.Result.Message)
		}
		if m.Type == core.MessageError {
			t.Errorf("unexpected error: %+v", *m.Error)
		}
	}
}

func TestEngine_Async(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	msgs, _, err := runJob(t, e, loadJob(t, "basic/async.any.js"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(msgs) != 3 || msgs[2].Type != core.MessageCompletion {
		t.Fatalf("messages = %+v", msgs)
	}
	for _, m := range msgs[:2] {
		if m.Result.Status != core.StatusPass {
			t.Errorf("%s: %s", m.Result.Name, m.Result.Message)
		}
	}
}

func TestEngine_AsyncThrow(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	msgs, _, err := runJob(t, e, loadJob(t, "basic/async-throw.any.js"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != core.MessageError {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Error.Name != "TypeError" || msgs[0].Error.Message != "async boom" {
		t.Errorf("error = %+v", *msgs[0].Error)
	}
}

func TestEngine_Timeout(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{ExecutionTimeout: 200})
	msgs, _, err := runJob(t, e, loadJob(t, "basic/hang.any.js"))
	if !errors.Is(err, core.ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages delivered after interrupt: %+v", msgs)
	}

	// The pool keeps serving after an interrupted run.
	msgs, _, err = runJob(t, e, loadJob(t, "basic/pass.any.js"))
	if err != nil || len(msgs) != 2 {
		t.Fatalf("run after timeout: err=%v msgs=%+v", err, msgs)
	}
}

func TestEngine_Console(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	job := loadJob(t, "basic/pass.any.js")
	job.InitScripts = []string{`console.log("from init", 1)`}
	_, info, err := runJob(t, e, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(info.Logs) != 1 || info.Logs[0].Message != "from init 1" || info.Logs[0].Level != "log" {
		t.Errorf("logs = %+v", info.Logs)
	}
}

func TestEngine_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fetch/data.txt":
			fmt.Fprint(w, "hello from the server")
		case "/echo":
			body, _ := io.ReadAll(r.Body)
			w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newTestEngine(t, core.EngineConfig{})
	job := loadJob(t, "fetch/relative.any.js")
	job.URL = srv.URL + "/"
	msgs, _, err := runJob(t, e, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v", msgs)
	}
	for _, m := range msgs[:2] {
		if m.Result.Status != core.StatusPass {
			t.Errorf("%s: %s", m.Result.Name, m.Result.Message)
		}
	}
}

func TestEngine_OutsideCorpus(t *testing.T) {
	e := newTestEngine(t, core.EngineConfig{})
	job := &core.Job{Test: "", URL: "http://x/", Path: "/elsewhere/test.any.js"}
	if _, _, err := runJob(t, e, job); !errors.Is(err, core.ErrOutsideCorpus) {
		t.Errorf("err = %v, want ErrOutsideCorpus", err)
	}
}

func TestEngine_Shutdown(t *testing.T) {
	boot := harness.New(harness.Options{CorpusRoot: corpusRoot, Logger: zerolog.Nop()})
	e, err := NewEngine(core.EngineConfig{PoolSize: 1}, boot, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	e.Shutdown()
	if _, _, err := runJob(t, e, loadJob(t, "basic/pass.any.js")); !errors.Is(err, core.ErrPoolClosed) {
		t.Errorf("err = %v, want ErrPoolClosed", err)
	}
}
