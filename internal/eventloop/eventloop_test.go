package eventloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cryguy/wptworker/internal/core"
)

// fakeRuntime records evaluated sources instead of running them.
type fakeRuntime struct {
	mu         sync.Mutex
	evals      []string
	microtasks int
	evalErr    error
}

func (f *fakeRuntime) Eval(js string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, js)
	return f.evalErr
}
func (f *fakeRuntime) EvalString(string) (string, error) { return "", nil }
func (f *fakeRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (f *fakeRuntime) EvalInt(string) (int, error)       { return 0, nil }
func (f *fakeRuntime) RegisterFunc(string, any) error    { return nil }
func (f *fakeRuntime) SetGlobal(string, any) error       { return nil }
func (f *fakeRuntime) RunMicrotasks() {
	f.mu.Lock()
	f.microtasks++
	f.mu.Unlock()
}

func (f *fakeRuntime) count(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, js := range f.evals {
		if strings.Contains(js, substr) {
			n++
		}
	}
	return n
}

func TestEventLoop_New(t *testing.T) {
	el := New()
	if el.HasPending() {
		t.Error("new event loop should have nothing pending")
	}
}

func TestEventLoop_RegisterAndClearTimer(t *testing.T) {
	el := New()
	id1 := el.RegisterTimer(100*time.Millisecond, false)
	id2 := el.RegisterTimer(100*time.Millisecond, true)
	if id1 != 1 || id2 != 2 {
		t.Fatalf("timer IDs = %d, %d, want 1, 2", id1, id2)
	}
	el.ClearTimer(id1)
	el.ClearTimer(id2)
	el.ClearTimer(999)
	if el.HasPending() {
		t.Error("cleared timers should not be pending")
	}
}

func TestEventLoop_Drain_Empty(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}
	if err := el.Drain(context.Background(), rt, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(rt.evals) != 0 {
		t.Errorf("evals = %d, want 0", len(rt.evals))
	}
}

func TestEventLoop_Drain_FiresTimersInOrder(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}
	el.RegisterTimer(20*time.Millisecond, false)
	el.RegisterTimer(0, false)
	if err := el.Drain(context.Background(), rt, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(rt.evals) != 2 {
		t.Fatalf("evals = %d, want 2", len(rt.evals))
	}
	if !strings.Contains(rt.evals[0], "__timerCallbacks[2]") {
		t.Errorf("first fired timer = %q, want id 2", rt.evals[0])
	}
	if rt.microtasks < 2 {
		t.Errorf("microtasks = %d, want >= 2", rt.microtasks)
	}
}

func TestEventLoop_Drain_StopsWhenDone(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}
	el.RegisterTimer(time.Millisecond, true)
	fired := 0
	err := el.Drain(context.Background(), rt, func() bool {
		fired = rt.count("__timerCallbacks")
		return fired >= 3
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if fired != 3 {
		t.Errorf("interval fired %d times, want 3", fired)
	}
}

func TestEventLoop_Drain_ContextCancel(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}
	el.RegisterTimer(time.Hour, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := el.Drain(ctx, rt, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Drain did not return promptly after cancellation")
	}
}

func TestEventLoop_PendingFetchResolves(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}
	ch := make(chan FetchResult, 1)
	el.AddPendingFetch(&PendingFetch{ResultCh: ch, FetchID: "7"})
	go func() {
		time.Sleep(10 * time.Millisecond)
		ch <- FetchResult{Status: 200, StatusText: "OK", HeadersJSON: "[]"}
		el.Notify()
	}()
	if err := el.Drain(context.Background(), rt, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if rt.count(`__fetchResolve("7", 200`) != 1 {
		t.Errorf("fetch not resolved, evals = %v", rt.evals)
	}
}

func TestEventLoop_PendingFetchRejects(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}
	ch := make(chan FetchResult, 1)
	ch <- FetchResult{Err: errors.New("connection refused")}
	el.AddPendingFetch(&PendingFetch{ResultCh: ch, FetchID: "1"})
	if !el.DrainPendingFetches(rt) {
		t.Fatal("DrainPendingFetches reported no work")
	}
	if rt.count(`__fetchReject("1", "connection refused")`) != 1 {
		t.Errorf("fetch not rejected, evals = %v", rt.evals)
	}
}

func TestEventLoop_HoldKeepsLoopAlive(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}
	el.Hold()
	ran := false
	go func() {
		time.Sleep(10 * time.Millisecond)
		el.Post(func(_ core.JSRuntime) error {
			ran = true
			return nil
		})
		el.Release()
	}()
	if err := el.Drain(context.Background(), rt, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !ran {
		t.Error("posted task did not run before Drain returned")
	}
}

func TestEventLoop_ErrorHandler(t *testing.T) {
	el := New()
	rt := &fakeRuntime{evalErr: errors.New("ReferenceError: x is not defined")}
	var got []error
	el.SetErrorHandler(func(err error) { got = append(got, err) })
	el.RegisterTimer(0, false)
	el.Post(func(_ core.JSRuntime) error { return errors.New("task failed") })
	if err := el.Drain(context.Background(), rt, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("reported errors = %v, want 2", got)
	}
}

func TestEventLoop_Reset(t *testing.T) {
	el := New()
	el.RegisterTimer(time.Second, false)
	el.Hold()
	el.Post(func(_ core.JSRuntime) error { return nil })
	el.Reset()
	if el.HasPending() {
		t.Error("Reset should clear all pending work")
	}
	if id := el.RegisterTimer(0, false); id != 1 {
		t.Errorf("timer ID after Reset = %d, want 1", id)
	}
}
