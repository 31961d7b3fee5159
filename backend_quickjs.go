//go:build !v8

package wptworker

import (
	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/harness"
	"github.com/cryguy/wptworker/internal/quickjs"
)

// EngineName identifies the compiled-in JavaScript engine.
const EngineName = "quickjs"

func newBackend(cfg core.EngineConfig, boot *harness.Bootstrap, log zerolog.Logger) (core.EngineBackend, error) {
	return quickjs.NewEngine(cfg, boot, log)
}
