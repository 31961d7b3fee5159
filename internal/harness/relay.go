package harness

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
)

// relay forwards messages to a sink. It sends at most one terminal message
// (a completion or an error) and drops everything after it.
type relay struct {
	mu        sync.Mutex
	sink      core.Sink
	log       zerolog.Logger
	completed bool
	failed    bool
	results   int
}

func newRelay(sink core.Sink, log zerolog.Logger) *relay {
	return &relay{sink: sink, log: log}
}

func (r *relay) result(res core.TestResult) {
	r.mu.Lock()
	if r.completed || r.failed {
		r.mu.Unlock()
		r.log.Debug().Str("test", res.Name).Msg("dropping result after terminal message")
		return
	}
	r.results++
	r.mu.Unlock()
	r.sink(core.ResultMessage(res))
}

func (r *relay) complete(st core.HarnessStatus) {
	r.mu.Lock()
	if r.completed || r.failed {
		r.mu.Unlock()
		r.log.Debug().Msg("dropping duplicate completion")
		return
	}
	r.completed = true
	r.mu.Unlock()
	r.sink(core.CompletionMessage(st))
}

func (r *relay) fail(info core.ErrorInfo) {
	r.mu.Lock()
	if r.completed || r.failed {
		r.mu.Unlock()
		r.log.Debug().Str("name", info.Name).Str("message", info.Message).Msg("dropping error after terminal message")
		return
	}
	r.failed = true
	r.mu.Unlock()
	r.sink(core.ErrorMessage(info))
}

// Finished reports whether a completion or error has been sent.
func (r *relay) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed || r.failed
}
