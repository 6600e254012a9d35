package handler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claudebench/claudebench/internal/cberr"
	"github.com/claudebench/claudebench/internal/store/storetest"
)

func newRuntime() (*Runtime, *storetest.Fake) {
	f := storetest.New()
	r := NewRuntime(f, "test-instance", func(ctx context.Context, eventType string, payload map[string]interface{}) error {
		return nil
	}, time.Minute, nil)
	return r, f
}

func TestInvokeHappyPath(t *testing.T) {
	r, _ := newRuntime()
	d := Descriptor{
		Event: "test.echo",
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echoed": params["msg"]}, nil
		},
	}

	result, err := r.Invoke(context.Background(), d, map[string]interface{}{"msg": "hi"}, nil, "")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result["echoed"] != "hi" {
		t.Fatalf("result = %v, want echoed=hi", result)
	}
}

func TestInvokeValidatesInput(t *testing.T) {
	r, _ := newRuntime()
	d := Descriptor{
		Event:       "test.requires",
		InputSchema: Schema{Fields: []Field{{Name: "id", Type: TypeString, Required: true}}},
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	}
	if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, ""); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestInvokeRateLimitsAfterThreshold(t *testing.T) {
	r, _ := newRuntime()
	d := Descriptor{
		Event:     "test.limited",
		RateLimit: 2,
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	}

	for i := 0; i < 2; i++ {
		if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, ""); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	_, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "")
	if !cberr.Is(err, cberr.KindRateLimited) {
		t.Fatalf("expected KindRateLimited on the 3rd call, got %v", err)
	}
}

func TestInvokeRateLimitScopesByCallerKey(t *testing.T) {
	r, _ := newRuntime()
	d := Descriptor{
		Event:     "test.percaller",
		RateLimit: 1,
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	}
	if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "worker-a"); err != nil {
		t.Fatalf("worker-a first call: %v", err)
	}
	if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "worker-b"); err != nil {
		t.Fatalf("worker-b first call should have its own bucket: %v", err)
	}
	if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "worker-a"); !cberr.Is(err, cberr.KindRateLimited) {
		t.Fatalf("worker-a second call should be rate limited, got %v", err)
	}
}

func TestInvokeCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	r, _ := newRuntime()
	boom := cberr.New(cberr.KindInternal, "boom")
	d := Descriptor{
		Event:       "test.flaky",
		CircuitOpen: 2,
		Fallback:    map[string]interface{}{"fallback": true},
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return nil, boom
		},
	}

	for i := 0; i < 2; i++ {
		if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, ""); err != boom {
			t.Fatalf("call %d: expected the body's own error, got %v", i, err)
		}
	}

	result, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "")
	if err != nil {
		t.Fatalf("expected the open circuit to return the fallback without error, got %v", err)
	}
	if result["fallback"] != true {
		t.Fatalf("expected the fallback result, got %v", result)
	}
}

func TestInvokeCircuitOpenWithoutFallbackReturnsCircuitOpenError(t *testing.T) {
	r, _ := newRuntime()
	d := Descriptor{
		Event:       "test.flakynofallback",
		CircuitOpen: 1,
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return nil, cberr.New(cberr.KindInternal, "boom")
		},
	}
	if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, ""); err == nil {
		t.Fatal("expected the first failing call to return its own error")
	}
	_, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "")
	if !cberr.Is(err, cberr.KindCircuitOpen) {
		t.Fatalf("expected KindCircuitOpen once the breaker trips, got %v", err)
	}
}

func TestInvokeCachesResponse(t *testing.T) {
	r, _ := newRuntime()
	var calls int32
	d := Descriptor{
		Event:      "test.cached",
		CacheTTLMs: 60_000,
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return map[string]interface{}{"value": "computed"}, nil
		},
	}

	params := map[string]interface{}{"key": "x"}
	if _, err := r.Invoke(context.Background(), d, params, nil, ""); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := r.Invoke(context.Background(), d, params, nil, ""); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("body invoked %d times, want 1 (second call should hit the cache)", got)
	}
}

func TestInvokeTimesOutSlowBody(t *testing.T) {
	r, _ := newRuntime()
	d := Descriptor{
		Event:     "test.slow",
		TimeoutMs: 10,
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			select {
			case <-time.After(time.Second):
				return map[string]interface{}{}, nil
			case <-ec.Ctx.Done():
				return nil, ec.Ctx.Err()
			}
		},
	}
	_, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "")
	if !cberr.Is(err, cberr.KindTimeout) {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
}

func TestInvokeRecoversBodyPanic(t *testing.T) {
	r, _ := newRuntime()
	d := Descriptor{
		Event: "test.panicky",
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			panic("boom")
		},
	}
	_, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "")
	if !cberr.Is(err, cberr.KindInternal) {
		t.Fatalf("expected a recovered panic to surface as KindInternal, got %v", err)
	}
}

func TestInvokeValidatesOutput(t *testing.T) {
	r, _ := newRuntime()
	d := Descriptor{
		Event:        "test.badoutput",
		OutputSchema: Schema{Fields: []Field{{Name: "id", Type: TypeString, Required: true}}},
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	}
	_, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, "")
	if !cberr.Is(err, cberr.KindInternal) {
		t.Fatalf("expected an output-schema violation to surface as KindInternal, got %v", err)
	}
}

type fakePersistHook struct {
	calls int
	event string
}

func (h *fakePersistHook) Persist(ctx context.Context, event string, params, result map[string]interface{}) error {
	h.calls++
	h.event = event
	return nil
}

func TestInvokeCallsPersistHookWhenOptedIn(t *testing.T) {
	f := storetest.New()
	hook := &fakePersistHook{}
	r := NewRuntime(f, "test-instance", func(ctx context.Context, eventType string, payload map[string]interface{}) error {
		return nil
	}, time.Minute, hook)

	d := Descriptor{
		Event:   "test.persisted",
		Persist: true,
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"ok": true}, nil
		},
	}
	if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, ""); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if hook.calls != 1 || hook.event != "test.persisted" {
		t.Fatalf("expected the persist hook called once for test.persisted, got calls=%d event=%s", hook.calls, hook.event)
	}
}

func TestInvokeSkipsPersistHookWhenNotOptedIn(t *testing.T) {
	f := storetest.New()
	hook := &fakePersistHook{}
	r := NewRuntime(f, "test-instance", func(ctx context.Context, eventType string, payload map[string]interface{}) error {
		return nil
	}, time.Minute, hook)

	d := Descriptor{
		Event: "test.notpersisted",
		Body: func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		},
	}
	if _, err := r.Invoke(context.Background(), d, map[string]interface{}{}, nil, ""); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if hook.calls != 0 {
		t.Fatalf("expected persist hook not called, got %d calls", hook.calls)
	}
}
