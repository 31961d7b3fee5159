package core

import "context"

// EngineBackend is the interface that engine implementations (QuickJS, V8)
// must satisfy. The root wptworker.Runner delegates to one of these based
// on build tags.
type EngineBackend interface {
	// Run executes one job in a fresh environment, delivering messages to
	// sink in order. A failing test file is reported through sink, not as
	// an error.
	Run(ctx context.Context, job *Job, sink Sink) (*RunInfo, error)
	Shutdown()
}
