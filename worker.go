// Package wptworker runs Web Platform Tests files one at a time inside an
// isolated embedded JavaScript environment (QuickJS by default, V8 with
// -tags v8). The environment's fetch, WebSocket, FormData and related
// globals are implemented in Go; results come back as an ordered stream of
// messages.
package wptworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/harness"
	"github.com/cryguy/wptworker/internal/webapi"
	"github.com/cryguy/wptworker/internal/wptfile"
)

// DefaultBaseURL is the page location used when Config.BaseURL is empty.
const DefaultBaseURL = "http://web-platform.test:8000/"

// Config configures a Runner.
type Config struct {
	Engine EngineConfig

	// CorpusRoot is the directory holding the WPT tests. Defaults to
	// <cwd>/test/wpt/tests.
	CorpusRoot string
	// HarnessPath overrides <CorpusRoot>/../runner/resources/testharness.cjs.
	HarnessPath string

	// BaseURL, InitScripts, Transform and Variant apply to RunFile.
	BaseURL     string
	InitScripts []string
	Transform   string
	Variant     string

	// ExtraBindings are defined after the default API bindings.
	ExtraBindings []Binding

	// LongTimeoutFactor multiplies Engine.ExecutionTimeout for files
	// marked timeout=long. Defaults to 6.
	LongTimeoutFactor int

	Logger zerolog.Logger
}

func (cfg Config) withDefaults() (Config, error) {
	if cfg.CorpusRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return cfg, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.CorpusRoot = filepath.Join(wd, "test", "wpt", "tests")
	}
	root, err := filepath.Abs(cfg.CorpusRoot)
	if err != nil {
		return cfg, fmt.Errorf("resolving corpus root: %w", err)
	}
	cfg.CorpusRoot = root
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.LongTimeoutFactor > 0 {
		cfg.Engine.LongTimeoutFactor = cfg.LongTimeoutFactor
	}
	cfg.Engine = cfg.Engine.Defaults()
	return cfg, nil
}

// Runner executes test files, each in a fresh environment.
type Runner struct {
	cfg     Config
	backend core.EngineBackend
	log     zerolog.Logger
}

// NewRunner creates a Runner and warms its environment pool.
func NewRunner(cfg Config) (*Runner, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	bindings := append(webapi.Bindings(), cfg.ExtraBindings...)
	boot := harness.New(harness.Options{
		CorpusRoot:  cfg.CorpusRoot,
		HarnessPath: cfg.HarnessPath,
		Bindings:    bindings,
		Logger:      cfg.Logger,
	})
	backend, err := newBackend(cfg.Engine, boot, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("starting %s engine: %w", EngineName, err)
	}
	return &Runner{cfg: cfg, backend: backend, log: cfg.Logger}, nil
}

// CorpusRoot returns the absolute corpus root.
func (r *Runner) CorpusRoot() string { return r.cfg.CorpusRoot }

// Stream runs job and sends every message to out in order. out is closed
// when the run ends. Sends give up once ctx is done.
func (r *Runner) Stream(ctx context.Context, job *Job, out chan<- Message) error {
	defer close(out)
	_, err := r.backend.Run(ctx, job, func(m Message) {
		select {
		case out <- m:
		case <-ctx.Done():
		}
	})
	return err
}

// Run executes job and collects its messages into a Report. A test file
// that fails or throws is described by the report; the error is reserved
// for runs that could not finish (timeouts, stalls, bad paths).
func (r *Runner) Run(ctx context.Context, job *Job) (*Report, error) {
	rep := &Report{Path: job.Path}
	info, err := r.backend.Run(ctx, job, rep.add)
	if info != nil {
		rep.Logs = info.Logs
		rep.Duration = info.Duration
	}
	if err != nil {
		r.log.Debug().Err(err).Str("path", job.Path).Msg("run failed")
	}
	return rep, err
}

// Load reads a test file into a Job using the Runner's file options.
func (r *Runner) Load(path string) (*Job, error) {
	return wptfile.Load(r.cfg.CorpusRoot, path, wptfile.Options{
		BaseURL:     r.cfg.BaseURL,
		InitScripts: r.cfg.InitScripts,
		Transform:   r.cfg.Transform,
		Variant:     r.cfg.Variant,
	})
}

// RunFile loads the test at path and runs it.
func (r *Runner) RunFile(ctx context.Context, path string) (*Report, error) {
	job, err := r.Load(path)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, job)
}

// Shutdown releases the environment pool.
func (r *Runner) Shutdown() {
	r.backend.Shutdown()
}

// Report is the collected outcome of one run.
type Report struct {
	Path       string
	Results    []TestResult
	Completion *HarnessStatus
	Error      *ErrorInfo
	Logs       []LogEntry
	Duration   time.Duration
}

func (rep *Report) add(m Message) {
	switch m.Type {
	case MessageResult:
		rep.Results = append(rep.Results, *m.Result)
	case MessageCompletion:
		rep.Completion = m.Status
	case MessageError:
		rep.Error = m.Error
	}
}

// Passed returns the number of passing cases.
func (rep *Report) Passed() int {
	n := 0
	for _, res := range rep.Results {
		if res.Status == StatusPass {
			n++
		}
	}
	return n
}

// Failed returns the number of cases that did not pass.
func (rep *Report) Failed() int {
	return len(rep.Results) - rep.Passed()
}

// OK reports whether the file completed cleanly with every case passing.
func (rep *Report) OK() bool {
	return rep.Error == nil && rep.Completion != nil &&
		rep.Completion.Status == HarnessOK && rep.Failed() == 0
}
