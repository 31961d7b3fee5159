package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/wptworker/internal/core"
)

// FetchResult holds the pre-serialized outcome of an in-flight HTTP fetch.
// The fetch goroutine reads the response body, serializes headers, and encodes
// the body as base64 before sending, so the event loop only passes strings to JS.
type FetchResult struct {
	Status      int
	StatusText  string
	HeadersJSON string
	BodyB64     string
	Redirected  bool
	FinalURL    string
	Err         error
}

// PendingFetch represents an in-flight HTTP request whose result will be
// delivered to JS via the event loop when the response arrives.
type PendingFetch struct {
	ResultCh <-chan FetchResult
	FetchID  string
}

// Task is host work queued from another goroutine. It runs on the
// goroutine that owns the runtime.
type Task func(rt core.JSRuntime) error

// timerEntry represents a pending setTimeout or setInterval callback.
// The actual callback is stored in globalThis.__timerCallbacks[id] on the
// JS side. Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// EventLoop manages Go-backed timers for setTimeout/setInterval, pending
// fetch requests and host tasks that need to run on the JS thread.
type EventLoop struct {
	mu             sync.Mutex
	timers         map[int]*timerEntry
	nextID         int
	pendingFetches []*PendingFetch
	tasks          []Task
	holds          int
	wake           chan struct{}
	onError        func(error)
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
		wake:   make(chan struct{}, 1),
	}
}

// SetErrorHandler installs the function that receives errors escaping
// timer, fetch and task callbacks.
func (el *EventLoop) SetErrorHandler(fn func(error)) {
	el.mu.Lock()
	el.onError = fn
	el.mu.Unlock()
}

func (el *EventLoop) report(err error) {
	if err == nil {
		return
	}
	el.mu.Lock()
	fn := el.onError
	el.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Notify wakes a Drain that is waiting for host events.
func (el *EventLoop) Notify() {
	select {
	case el.wake <- struct{}{}:
	default:
	}
}

// RegisterTimer creates a timer entry and returns its ID.
// The actual JS callback is stored in globalThis.__timerCallbacks[id].
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	if delay < 0 {
		delay = 0
	}
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// AddPendingFetch registers a pending fetch whose result will be delivered
// to JS when the HTTP response arrives. The producer must call Notify after
// sending on the result channel.
func (el *EventLoop) AddPendingFetch(pf *PendingFetch) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.pendingFetches = append(el.pendingFetches, pf)
}

// Post queues a task from any goroutine.
func (el *EventLoop) Post(task Task) {
	el.mu.Lock()
	el.tasks = append(el.tasks, task)
	el.mu.Unlock()
	el.Notify()
}

// Hold marks a host resource (such as an open socket) that may post tasks
// later. Drain does not treat the loop as idle while holds remain.
func (el *EventLoop) Hold() {
	el.mu.Lock()
	el.holds++
	el.mu.Unlock()
}

// Release drops a hold taken with Hold.
func (el *EventLoop) Release() {
	el.mu.Lock()
	if el.holds > 0 {
		el.holds--
	}
	el.mu.Unlock()
	el.Notify()
}

// DrainPendingFetches does non-blocking reads on all pending fetch channels.
// For each completed fetch, it resolves/rejects via JS globals and removes
// it from the list. Returns true if any fetch was completed.
func (el *EventLoop) DrainPendingFetches(rt core.JSRuntime) bool {
	el.mu.Lock()
	if len(el.pendingFetches) == 0 {
		el.mu.Unlock()
		return false
	}
	pending := el.pendingFetches
	el.pendingFetches = nil
	el.mu.Unlock()

	var remaining []*PendingFetch
	didWork := false
	for _, pf := range pending {
		select {
		case result := <-pf.ResultCh:
			var js string
			if result.Err != nil {
				js = fmt.Sprintf(`globalThis.__fetchReject(%q, %q)`,
					pf.FetchID, result.Err.Error())
			} else {
				js = fmt.Sprintf(`globalThis.__fetchResolve(%q, %d, %q, %q, %q, %v, %q)`,
					pf.FetchID, result.Status, result.StatusText,
					result.HeadersJSON, result.BodyB64,
					result.Redirected, result.FinalURL)
			}
			el.report(rt.Eval(js))
			rt.RunMicrotasks()
			didWork = true
		default:
			remaining = append(remaining, pf)
		}
	}

	el.mu.Lock()
	// Callbacks may have added new pending fetches during resolution.
	el.pendingFetches = append(remaining, el.pendingFetches...)
	el.mu.Unlock()
	return didWork
}

// RunTasks runs every queued host task. Returns true if any task ran.
func (el *EventLoop) RunTasks(rt core.JSRuntime) bool {
	el.mu.Lock()
	tasks := el.tasks
	el.tasks = nil
	el.mu.Unlock()
	for _, task := range tasks {
		el.report(task(rt))
		rt.RunMicrotasks()
	}
	return len(tasks) > 0
}

// fireTimer fires a timer callback by invoking the JS-side callback map.
// Exceptions are handed to globalThis.__uncaught when it exists.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		try {
			entry.fn.apply(null, entry.args || []);
		} catch (e) {
			if (typeof globalThis.__uncaught !== 'function') throw e;
			globalThis.__uncaught(e);
		}
	})()`, id, id)
	el.report(rt.Eval(js))
}

// nextTimer returns the earliest live timer, or nil.
func (el *EventLoop) nextTimer() *timerEntry {
	var next *timerEntry
	for _, t := range el.timers {
		if t.cleared {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	return next
}

// Drain runs timers, fetch resolutions and host tasks until done reports
// true, nothing is left that could produce more work, or ctx ends.
// Must be called on the runtime's goroutine (JS engines are single-threaded).
func (el *EventLoop) Drain(ctx context.Context, rt core.JSRuntime, done func() bool) error {
	for {
		if done != nil && done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if el.RunTasks(rt) || el.DrainPendingFetches(rt) {
			continue
		}

		el.mu.Lock()
		next := el.nextTimer()
		waiting := len(el.pendingFetches) > 0 || el.holds > 0 || len(el.tasks) > 0
		el.mu.Unlock()

		if next == nil && !waiting {
			return nil
		}

		if next != nil {
			if wait := time.Until(next.deadline); wait > 0 {
				if err := el.sleep(ctx, wait); err != nil {
					return err
				}
				continue
			}
			el.mu.Lock()
			if next.cleared {
				el.mu.Unlock()
				continue
			}
			timerID := next.id
			if next.interval > 0 {
				next.deadline = time.Now().Add(next.interval)
			} else {
				delete(el.timers, next.id)
			}
			el.mu.Unlock()

			el.fireTimer(rt, timerID)
			rt.RunMicrotasks()
			continue
		}

		select {
		case <-el.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sleep waits for d, a host event or ctx cancellation.
func (el *EventLoop) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-el.wake:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// HasPending returns true if there are any active timers, pending fetches,
// queued tasks or holds.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.pendingFetches) > 0 || len(el.tasks) > 0 || el.holds > 0
}

// Reset clears all timers, pending fetches and tasks.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.nextID = 0
	el.pendingFetches = nil
	el.tasks = nil
	el.holds = 0
}
