//go:build v8

package v8engine

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/harness"
	"github.com/cryguy/wptworker/internal/webapi"
)

// Engine runs WPT jobs in V8 isolates taken from a warm pool.
type Engine struct {
	config core.EngineConfig
	boot   *harness.Bootstrap
	log    zerolog.Logger
	pool   *v8Pool
}

var _ core.EngineBackend = (*Engine)(nil)

// NewEngine builds the warm pool and returns a ready Engine.
func NewEngine(cfg core.EngineConfig, boot *harness.Bootstrap, log zerolog.Logger) (*Engine, error) {
	cfg = cfg.Defaults()
	log = log.With().Str("engine", "v8").Logger()
	pool, err := newV8Pool(cfg.PoolSize, webapi.SetupAll(cfg, log), cfg.MemoryLimitMB, log)
	if err != nil {
		return nil, err
	}
	return &Engine{config: cfg, boot: boot, log: log, pool: pool}, nil
}

// Run executes job in a fresh isolate. Messages reach sink in order; once
// the watchdog terminates execution nothing more is delivered.
func (e *Engine) Run(ctx context.Context, job *core.Job, sink core.Sink) (info *core.RunInfo, err error) {
	start := time.Now()
	info = &core.RunInfo{}

	w, err := e.pool.get()
	if err != nil {
		return nil, fmt.Errorf("acquiring environment: %w", err)
	}
	defer e.pool.release(w)

	timeout := e.config.Timeout(job.Meta.Long())
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var terminated atomic.Bool
	stop := context.AfterFunc(runCtx, func() {
		terminated.Store(true)
		w.iso.TerminateExecution()
	})

	runID := core.NewRunState(e.config.MaxFetchRequests)
	defer func() {
		stop()
		if r := recover(); r != nil {
			if terminated.Load() {
				err = fmt.Errorf("%w (limit: %v)", core.ErrTimedOut, timeout)
			} else {
				err = fmt.Errorf("v8 panic: %v", r)
			}
		}
		if state := core.ClearRunState(runID); state != nil {
			info.Logs = state.SnapshotLogs()
		}
		info.Duration = time.Since(start)
	}()

	if err := w.rt.SetGlobal("__runID", strconv.FormatUint(runID, 10)); err != nil {
		return info, fmt.Errorf("setting run id: %w", err)
	}

	guarded := func(m core.Message) {
		if terminated.Load() {
			return
		}
		sink(m)
	}
	env := harness.Env{
		Runtime: w.rt,
		Loop:    w.eventLoop,
		RunID:   runID,
		Collect: w.rt.CollectGarbage,
	}
	err = e.boot.Run(runCtx, env, job, guarded)
	if terminated.Load() {
		if ctx.Err() != nil {
			return info, ctx.Err()
		}
		e.log.Debug().Str("path", job.Path).Dur("limit", timeout).Msg("run terminated")
		return info, fmt.Errorf("%w (limit: %v)", core.ErrTimedOut, timeout)
	}
	return info, err
}

// Shutdown disposes every pooled isolate.
func (e *Engine) Shutdown() {
	e.pool.dispose()
}
