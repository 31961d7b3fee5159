//go:build v8

package wptworker

import (
	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/harness"
	"github.com/cryguy/wptworker/internal/v8engine"
)

// EngineName identifies the compiled-in JavaScript engine.
const EngineName = "v8"

func newBackend(cfg core.EngineConfig, boot *harness.Bootstrap, log zerolog.Logger) (core.EngineBackend, error) {
	return v8engine.NewEngine(cfg, boot, log)
}
