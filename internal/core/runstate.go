package core

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const MaxLogEntries = 1000
const MaxLogMessageSize = 4096

// RunState holds per-run mutable state (logs, fetch budget, global origin,
// open sockets). The engine creates it before evaluating the bootstrap and
// clears it when the run ends.
type RunState struct {
	mu         sync.Mutex
	Logs       []LogEntry
	FetchCount int
	MaxFetches int

	// Origin is the URL relative fetch, Request and WebSocket inputs are
	// resolved against. It is set once by the bootstrap.
	Origin string

	// In-flight fetch cancellation: maps fetchID -> cancel function.
	FetchCancels map[string]context.CancelFunc
	NextFetchID  int64

	// Extension storage for webapi packages. Each package stores its own
	// typed state using well-known string keys (e.g. "webSockets").
	ext      map[string]any
	cleanups []func()
}

// Lock and Unlock guard the exported fields for host goroutines.
func (rs *RunState) Lock()   { rs.mu.Lock() }
func (rs *RunState) Unlock() { rs.mu.Unlock() }

// SetExt stores a value in the extension map under the given key.
func (rs *RunState) SetExt(key string, val any) {
	rs.mu.Lock()
	if rs.ext == nil {
		rs.ext = make(map[string]any)
	}
	rs.ext[key] = val
	rs.mu.Unlock()
}

// GetExt retrieves a value from the extension map.
func (rs *RunState) GetExt(key string) any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.ext[key]
}

// ExtOrInit returns the extension value for key, storing the result of
// init first if the key is unset.
func (rs *RunState) ExtOrInit(key string, init func() any) any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if v, ok := rs.ext[key]; ok {
		return v
	}
	if rs.ext == nil {
		rs.ext = make(map[string]any)
	}
	v := init()
	rs.ext[key] = v
	return v
}

// RegisterCleanup adds a cleanup function to be called when the run state
// is cleared. Cleanups are called in reverse registration order.
func (rs *RunState) RegisterCleanup(fn func()) {
	rs.mu.Lock()
	rs.cleanups = append(rs.cleanups, fn)
	rs.mu.Unlock()
}

// SetOrigin records the global origin for the run.
func (rs *RunState) SetOrigin(origin string) {
	rs.mu.Lock()
	rs.Origin = origin
	rs.mu.Unlock()
}

// GetOrigin returns the global origin, or "" when none was set.
func (rs *RunState) GetOrigin() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.Origin
}

// TakeFetch consumes one unit of the fetch budget. It reports false once
// the budget is exhausted.
func (rs *RunState) TakeFetch() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.MaxFetches > 0 && rs.FetchCount >= rs.MaxFetches {
		return false
	}
	rs.FetchCount++
	return true
}

var (
	runCounter atomic.Uint64
	runStates  sync.Map // uint64 -> *RunState
)

// NewRunState creates a new run state and returns its unique ID.
func NewRunState(maxFetches int) uint64 {
	id := runCounter.Add(1)
	runStates.Store(id, &RunState{MaxFetches: maxFetches})
	return id
}

// GetRunState returns the state for the given run ID, or nil.
func GetRunState(id uint64) *RunState {
	v, ok := runStates.Load(id)
	if !ok {
		return nil
	}
	return v.(*RunState)
}

// ClearRunState removes the state for the given run ID and returns it.
// It runs registered cleanup functions and cancels in-flight fetches.
func ClearRunState(id uint64) *RunState {
	v, ok := runStates.LoadAndDelete(id)
	if !ok {
		return nil
	}
	state := v.(*RunState)

	state.mu.Lock()
	cleanups := state.cleanups
	state.cleanups = nil
	cancels := state.FetchCancels
	state.FetchCancels = nil
	state.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	for _, cancel := range cancels {
		cancel()
	}
	return state
}

// AddLog appends a log entry to the run state identified by id.
func AddLog(id uint64, level, message string) {
	state := GetRunState(id)
	if state == nil {
		return
	}
	if len(message) > MaxLogMessageSize {
		message = message[:MaxLogMessageSize] + "...(truncated)"
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.Logs) >= MaxLogEntries {
		return
	}
	state.Logs = append(state.Logs, LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
}

// SnapshotLogs returns a copy of the logs captured so far.
func (rs *RunState) SnapshotLogs() []LogEntry {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]LogEntry(nil), rs.Logs...)
}

// RegisterFetchCancel stores a cancel function for an in-flight fetch and
// returns the unique fetchID string key.
func RegisterFetchCancel(runID uint64, cancel context.CancelFunc) string {
	state := GetRunState(runID)
	if state == nil {
		return ""
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.NextFetchID++
	id := strconv.FormatInt(state.NextFetchID, 10)
	if state.FetchCancels == nil {
		state.FetchCancels = make(map[string]context.CancelFunc)
	}
	state.FetchCancels[id] = cancel
	return id
}

// RemoveFetchCancel removes and returns the cancel function for a fetch.
func RemoveFetchCancel(runID uint64, fetchID string) context.CancelFunc {
	state := GetRunState(runID)
	if state == nil {
		return nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	cancel := state.FetchCancels[fetchID]
	delete(state.FetchCancels, fetchID)
	return cancel
}

// CallFetchCancel calls the cancel function for the given fetch, if present.
func CallFetchCancel(runID uint64, fetchID string) {
	if cancel := RemoveFetchCancel(runID, fetchID); cancel != nil {
		cancel()
	}
}

// ParseRunID parses a run ID string to uint64.
func ParseRunID(s string) uint64 {
	if s == "" || s == "undefined" {
		return 0
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// BoolToInt converts a bool to 1 (true) or 0 (false) for JS interop,
// since some JS engines cannot marshal Go bool return values directly.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// JsEscape escapes a string for safe embedding in JavaScript source code.
func JsEscape(s string) string {
	return strconv.Quote(s)
}
