package core

import (
	"errors"
	"strings"
)

var (
	// ErrOutsideCorpus is returned when a test path is not under the corpus root.
	ErrOutsideCorpus = errors.New("test path is outside the corpus root")
	// ErrHarnessNotFound is returned when the shared harness script cannot be read.
	ErrHarnessNotFound = errors.New("harness script not found")
	// ErrTimedOut is returned when a run exceeds its execution timeout.
	ErrTimedOut = errors.New("execution timed out")
	// ErrStalled is returned when the event loop went idle before the
	// harness reported completion.
	ErrStalled = errors.New("event loop idle before completion")
	// ErrPoolClosed is returned by a backend after Shutdown.
	ErrPoolClosed = errors.New("engine pool closed")
)

// ScriptError is an exception thrown by JavaScript code.
type ScriptError struct {
	Name    string
	Message string
	Stack   string
}

func (e *ScriptError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Info converts the error into the wire form used by error messages.
func (e *ScriptError) Info() ErrorInfo {
	return ErrorInfo{Name: e.Name, Message: e.Message, Stack: e.Stack}
}

// ParseScriptError turns an engine evaluation error into a ScriptError.
// Engines report exceptions as "Name: message" on the first line with
// the stack trace on the following lines. A first line without a
// recognisable name keeps the whole line as the message.
func ParseScriptError(err error) *ScriptError {
	if err == nil {
		return nil
	}
	var se *ScriptError
	if errors.As(err, &se) {
		return se
	}
	text := strings.TrimPrefix(err.Error(), "Uncaught ")
	first, rest, _ := strings.Cut(text, "\n")
	se = &ScriptError{Name: "Error", Message: first, Stack: rest}
	if name, msg, ok := strings.Cut(first, ": "); ok && isErrorName(name) {
		se.Name = name
		se.Message = msg
	} else if isErrorName(first) {
		se.Name = first
		se.Message = ""
	}
	return se
}

func isErrorName(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	return strings.HasSuffix(s, "Error") || strings.HasSuffix(s, "Exception")
}
