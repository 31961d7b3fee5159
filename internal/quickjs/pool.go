//go:build !v8

package quickjs

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"modernc.org/quickjs"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
	"github.com/cryguy/wptworker/internal/webapi"
)

// qjsWorker is a single QuickJS VM with the web platform installed.
type qjsWorker struct {
	vm        *quickjs.VM
	rt        *qjsRuntime
	eventLoop *eventloop.EventLoop
}

func (w *qjsWorker) close() {
	w.eventLoop.Reset()
	dropRejections(w.vm)
	w.vm.Close()
}

// qjsPool keeps pre-warmed workers ready. Every worker serves exactly one
// run; the pool builds a replacement in the background when one is taken.
type qjsPool struct {
	workers       chan *qjsWorker
	setupFns      []webapi.SetupFunc
	memoryLimitMB int
	log           zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// newQJSPool creates a pool of size warm workers.
func newQJSPool(size int, setupFns []webapi.SetupFunc, memoryLimitMB int, log zerolog.Logger) (*qjsPool, error) {
	pool := &qjsPool{
		workers:       make(chan *qjsWorker, size),
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

// newWorker creates a QuickJS VM and runs all setup functions on it.
func (p *qjsPool) newWorker() (*qjsWorker, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if p.memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(p.memoryLimitMB) * 1024 * 1024)
	}

	rt := &qjsRuntime{vm: vm}
	el := eventloop.New()
	if err := webapi.Apply(rt, el, p.setupFns); err != nil {
		dropRejections(vm)
		vm.Close()
		return nil, fmt.Errorf("setup: %w", err)
	}
	return &qjsWorker{vm: vm, rt: rt, eventLoop: el}, nil
}

// get takes a warm worker, building one on the spot when none is ready.
func (p *qjsPool) get() (*qjsWorker, error) {
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

// release closes a used worker and starts building its replacement.
func (p *qjsPool) release(w *qjsWorker) {
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
			p.log.Error().Err(err).Msg("refilling quickjs pool")
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
func (p *qjsPool) dispose() {
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
