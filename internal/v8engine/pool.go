//go:build v8

package v8engine

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	v8 "github.com/tommie/v8go"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
	"github.com/cryguy/wptworker/internal/webapi"
)

// exposeGC turns on the engine's global gc function. V8 flags must be set
// before the first isolate is created.
var exposeGC sync.Once

// v8Worker is a single V8 isolate+context pair with the web platform
// installed.
type v8Worker struct {
	iso       *v8.Isolate
	ctx       *v8.Context
	rt        *v8Runtime
	eventLoop *eventloop.EventLoop
}

func (w *v8Worker) close() {
	w.eventLoop.Reset()
	w.ctx.Close()
	w.iso.Dispose()
}

// v8Pool keeps pre-warmed workers ready. Every worker serves exactly one
// run; the pool builds a replacement in the background when one is taken.
type v8Pool struct {
	workers       chan *v8Worker
	setupFns      []webapi.SetupFunc
	memoryLimitMB int
	log           zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// newV8Pool creates a pool of size warm workers.
func newV8Pool(size int, setupFns []webapi.SetupFunc, memoryLimitMB int, log zerolog.Logger) (*v8Pool, error) {
	exposeGC.Do(func() { v8.SetFlags("--expose-gc") })

	pool := &v8Pool{
		workers:       make(chan *v8Worker, size),
		setupFns:      setupFns,
		memoryLimitMB: memoryLimitMB,
		log:           log,
	}
	for i := 0; i < size; i++ {
		w, err := pool.newWorker()
		if err != nil {
			pool.dispose()
			return nil, fmt.Errorf("creating pool worker %d: %w", i, err)
		}
		pool.workers <- w
	}
	return pool, nil
}

// newWorker creates an isolate+context and runs all setup functions on it.
func (p *v8Pool) newWorker() (*v8Worker, error) {
	var iso *v8.Isolate
	if p.memoryLimitMB > 0 {
		heapSize := uint64(p.memoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	rt := &v8Runtime{iso: iso, ctx: ctx}
	el := eventloop.New()

	fail := func(err error) (*v8Worker, error) {
		ctx.Close()
		iso.Dispose()
		return nil, err
	}
	if err := rt.takeGC(); err != nil {
		return fail(fmt.Errorf("detaching gc: %w", err))
	}
	if err := webapi.Apply(rt, el, p.setupFns); err != nil {
		return fail(fmt.Errorf("setup: %w", err))
	}
	return &v8Worker{iso: iso, ctx: ctx, rt: rt, eventLoop: el}, nil
}

// get takes a warm worker, building one on the spot when none is ready.
func (p *v8Pool) get() (*v8Worker, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, core.ErrPoolClosed
	}
	select {
	case w := <-p.workers:
		return w, nil
	default:
	}
	return p.newWorker()
}

// release disposes a used worker and starts building its replacement.
func (p *v8Pool) release(w *v8Worker) {
	w.close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		nw, err := p.newWorker()
		if err != nil {
			p.log.Error().Err(err).Msg("refilling v8 pool")
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			nw.close()
			return
		}
		select {
		case p.workers <- nw:
		default:
			nw.close()
		}
	}()
}

// dispose stops refills and closes all idle workers.
func (p *v8Pool) dispose() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	for {
		select {
		case w := <-p.workers:
			w.close()
		default:
			return
		}
	}
}
