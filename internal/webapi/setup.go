package webapi

import (
	"github.com/rs/zerolog"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/eventloop"
)

// SetupFunc installs one slice of the web platform into a fresh runtime.
type SetupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// SetupAll returns the setup functions for a worker runtime in dependency
// order. Later entries may rely on globals defined by earlier ones.
func SetupAll(cfg core.EngineConfig, log zerolog.Logger) []SetupFunc {
	return []SetupFunc{
		SetupGlobals,
		SetupEvents,
		SetupEncoding,
		SetupCrypto,
		SetupTimers,
		SetupURL,
		SetupStreams,
		SetupTextStreams,
		SetupFormData,
		SetupBodyTypes,
		SetupWebAPIs,
		SetupFileReader,
		SetupCompression,
		func(rt core.JSRuntime, el *eventloop.EventLoop) error {
			return SetupFetch(rt, cfg, el)
		},
		WebSocketSetup(log),
		EventSourceSetup(log),
		SetupUnhandledRejection,
		ConsoleSetup(log),
	}
}

// Apply runs fns in order against rt.
func Apply(rt core.JSRuntime, el *eventloop.EventLoop, fns []SetupFunc) error {
	for _, fn := range fns {
		if err := fn(rt, el); err != nil {
			return err
		}
	}
	return nil
}
