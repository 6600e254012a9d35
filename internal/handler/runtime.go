// Package handler is the Handler Runtime (spec.md §4.6): every public
// operation is wrapped, in order, by validation, rate limiting, a
// timeout, a per-event circuit breaker, an optional response cache, body
// execution, metrics emission, and an optional persistence hook. The
// pipeline is composed as a plain value (spec.md §9: no decorator
// reflection, no runtime class wrapping).
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/claudebench/claudebench/internal/cberr"
	"github.com/claudebench/claudebench/internal/observability"
	"github.com/claudebench/claudebench/internal/store"
)

// CallerMetadata is opaque caller-supplied context (transport identity,
// tenant, trace id) threaded through to the body and the persist hook.
type CallerMetadata map[string]interface{}

// PersistHook mirrors a handler's result into the external relational
// store, when the descriptor opts in (spec.md §4.6.8). The full relational
// schema for finished-task history is out of scope (spec.md §1); this is
// the single narrow seam a pgx-backed implementation plugs into.
type PersistHook interface {
	Persist(ctx context.Context, event string, params, result map[string]interface{}) error
}

// EventContext is handed to every handler body (spec.md §4.6.6).
type EventContext struct {
	Ctx        context.Context
	InstanceID string
	Caller     CallerMetadata
	Adapter    store.Adapter
	Publish    func(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Body is a handler's implementation.
type Body func(ec *EventContext, params map[string]interface{}) (map[string]interface{}, error)

// Descriptor is a handler's self-declared shape (spec.md §4.8).
type Descriptor struct {
	Event        string
	Description  string
	InputSchema  Schema
	OutputSchema Schema
	Body         Body

	RateLimit     int // invocations per rate-limit window; 0 disables
	TimeoutMs     int // 0 disables
	CircuitOpen   int // consecutive failures to open; 0 uses the default
	CacheTTLMs    int // 0 disables the response cache
	Persist       bool
	Fallback      map[string]interface{} // returned by an open circuit
}

// Runtime wraps descriptors with the decorator pipeline and executes them.
type Runtime struct {
	adapter      store.Adapter
	instanceID   string
	publish      func(ctx context.Context, eventType string, payload map[string]interface{}) error
	persist      PersistHook
	rateLimiters *limiterRegistry

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

func NewRuntime(adapter store.Adapter, instanceID string, publish func(ctx context.Context, eventType string, payload map[string]interface{}) error, rateLimitWindow time.Duration, persist PersistHook) *Runtime {
	return &Runtime{
		adapter:      adapter,
		instanceID:   instanceID,
		publish:      publish,
		persist:      persist,
		rateLimiters: newLimiterRegistry(rateLimitWindow),
		breakers:     make(map[string]*circuitBreaker),
	}
}

func (r *Runtime) breaker(event string, threshold int) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[event]
	if !ok {
		b = newCircuitBreaker(threshold, 30*time.Second)
		r.breakers[event] = b
	}
	return b
}

// Invoke runs the full pipeline for a single descriptor invocation
// (spec.md §4.6, steps 1-8). callerKey optionally scopes the rate limiter
// to a specific caller in addition to the event name.
func (r *Runtime) Invoke(ctx context.Context, d Descriptor, params map[string]interface{}, caller CallerMetadata, callerKey string) (map[string]interface{}, error) {
	start := time.Now()
	defer func() {
		observability.HandlerLatency.WithLabelValues(d.Event).Observe(time.Since(start).Seconds())
	}()

	// 1. Validation
	if err := d.InputSchema.Validate(params); err != nil {
		return nil, err
	}

	// 2. Rate limit
	limitKey := d.Event
	if callerKey != "" {
		limitKey = d.Event + ":" + callerKey
	}
	if !r.rateLimiters.allow(limitKey, d.RateLimit) {
		observability.HandlerCounters.WithLabelValues("ratelimit", d.Event, "rejected").Inc()
		return nil, cberr.New(cberr.KindRateLimited, "rate limit exceeded").WithEvent(d.Event)
	}
	observability.HandlerCounters.WithLabelValues("ratelimit", d.Event, "allowed").Inc()

	// 4. Circuit breaker (checked before spending a cache lookup or
	// running the body, consistent with spec.md's ordering)
	cb := r.breaker(d.Event, d.CircuitOpen)
	observability.CircuitState.WithLabelValues(d.Event).Set(float64(cb.currentState()))
	admit, state := cb.allow()
	if !admit {
		observability.HandlerCounters.WithLabelValues("circuit", d.Event, "rejected").Inc()
		if d.Fallback != nil {
			observability.HandlerCounters.WithLabelValues("circuit", d.Event, "fallback").Inc()
			return d.Fallback, nil
		}
		return nil, cberr.WithDetail(cberr.KindCircuitOpen, "circuit open", cberr.Detail{"state": state.String()})
	}

	// 5. Optional response cache
	var cacheKey string
	if d.CacheTTLMs > 0 {
		cacheKey = responseCacheKey(d.Event, params)
		if cached, ok, err := r.adapter.Get(ctx, cacheKey); err == nil && ok {
			var result map[string]interface{}
			if json.Unmarshal([]byte(cached), &result) == nil {
				return result, nil
			}
		}
	}

	// 3 + 6. Timeout-bounded body execution
	bodyCtx := ctx
	var cancel context.CancelFunc
	if d.TimeoutMs > 0 {
		bodyCtx, cancel = context.WithTimeout(ctx, time.Duration(d.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	ec := &EventContext{Ctx: bodyCtx, InstanceID: r.instanceID, Caller: caller, Adapter: r.adapter, Publish: r.publish}
	result, bodyErr := r.runBody(bodyCtx, d, ec, params)

	if bodyErr != nil {
		cb.recordFailure()
		observability.CircuitState.WithLabelValues(d.Event).Set(float64(cb.currentState()))
		if cberr.Is(bodyErr, cberr.KindTimeout) {
			observability.HandlerCounters.WithLabelValues("timeout", d.Event, "timedOut").Inc()
		}
		observability.HandlerCounters.WithLabelValues("circuit", d.Event, "failure").Inc()
		return nil, bodyErr
	}
	cb.recordSuccess()
	observability.CircuitState.WithLabelValues(d.Event).Set(float64(cb.currentState()))
	observability.HandlerCounters.WithLabelValues("circuit", d.Event, "success").Inc()

	// Output validation
	if err := d.OutputSchema.Validate(result); err != nil {
		return nil, cberr.Internal(d.Event, err)
	}

	if d.CacheTTLMs > 0 && cacheKey != "" {
		if encoded, err := json.Marshal(result); err == nil {
			_ = r.adapter.Set(ctx, cacheKey, string(encoded), time.Duration(d.CacheTTLMs)*time.Millisecond)
		}
	}

	// 8. Persistence hook
	if d.Persist && r.persist != nil {
		if err := r.persist.Persist(ctx, d.Event, params, result); err != nil {
			observability.PersistHookFailures.Inc()
			log.Warn().Err(err).Str("event", d.Event).Msg("handler: persist hook failed")
		}
	}

	observability.HandlerCounters.WithLabelValues("body", d.Event, "completed").Inc()
	return result, nil
}

func (r *Runtime) runBody(ctx context.Context, d Descriptor, ec *EventContext, params map[string]interface{}) (result map[string]interface{}, err error) {
	done := make(chan struct{})
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = cberr.Internal(d.Event, fmt.Errorf("panic: %v", rec))
			}
			close(done)
		}()
		result, err = d.Body(ec, params)
	}()

	select {
	case <-done:
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return nil, cberr.New(cberr.KindTimeout, "handler timed out").WithEvent(d.Event)
		}
		return result, err
	case <-ctx.Done():
		return nil, cberr.New(cberr.KindTimeout, "handler timed out").WithEvent(d.Event)
	}
}

// responseCacheKey canonicalizes params (sorted keys) before hashing so
// semantically identical calls share a cache entry regardless of map
// iteration order.
func responseCacheKey(event string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	canonical := make(map[string]interface{}, len(params))
	for _, k := range keys {
		canonical[k] = params[k]
	}
	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return store.ResponseCacheKey(event, hex.EncodeToString(sum[:]))
}
