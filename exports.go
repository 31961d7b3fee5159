package wptworker

import "github.com/cryguy/wptworker/internal/core"

// Type aliases re-exporting internal/core types so callers can use
// wptworker.Job, wptworker.Message, etc. without importing the internal
// package.

type EngineConfig = core.EngineConfig
type Job = core.Job
type Meta = core.Meta
type Binding = core.Binding
type Message = core.Message
type MessageType = core.MessageType
type ErrorInfo = core.ErrorInfo
type TestResult = core.TestResult
type TestStatus = core.TestStatus
type HarnessStatus = core.HarnessStatus
type HarnessCode = core.HarnessCode
type LogEntry = core.LogEntry
type JSRuntime = core.JSRuntime

const (
	MessageError      = core.MessageError
	MessageResult     = core.MessageResult
	MessageCompletion = core.MessageCompletion

	StatusPass               = core.StatusPass
	StatusFail               = core.StatusFail
	StatusTimeout            = core.StatusTimeout
	StatusNotRun             = core.StatusNotRun
	StatusPreconditionFailed = core.StatusPreconditionFailed

	HarnessOK                 = core.HarnessOK
	HarnessError              = core.HarnessError
	HarnessTimeout            = core.HarnessTimeout
	HarnessPreconditionFailed = core.HarnessPreconditionFailed
)

// Errors re-exported from core.
var (
	ErrOutsideCorpus   = core.ErrOutsideCorpus
	ErrHarnessNotFound = core.ErrHarnessNotFound
	ErrTimedOut        = core.ErrTimedOut
	ErrStalled         = core.ErrStalled
	ErrPoolClosed      = core.ErrPoolClosed
)
