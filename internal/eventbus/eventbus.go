// Package eventbus is the Event Bus (spec.md §4.5): publish both appends
// to a durable per-type stream and fans out on a pub/sub channel;
// subscribe binds to an exact type or a prefix.* pattern; exactly-once
// consumption and ordered partitions are backed by the atomic scripts in
// store/script.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/claudebench/claudebench/internal/observability"
	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
)

// Event is the envelope every publish produces (spec.md §4.5).
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Handler processes a delivered event. Per spec.md §4.5's concurrency
// contract, a handler must not synchronously await a response from the
// same event type it is handling.
type Handler func(ctx context.Context, evt Event)

// Bus is the process-wide event bus instance (spec.md §9: shared
// singletons become a single constructed service, not globals).
type Bus struct {
	adapter store.Adapter
	pool    chan struct{} // bounds concurrent handler dispatch per spec.md §5
}

// New constructs a Bus with a bounded dispatch pool of the given size.
func New(adapter store.Adapter, poolSize int) *Bus {
	if poolSize <= 0 {
		poolSize = 64
	}
	return &Bus{adapter: adapter, pool: make(chan struct{}, poolSize)}
}

// Publish implements §4.5's Publish: assigns id/timestamp if absent,
// appends to stream:{type}, and publishes the same JSON on channel type.
func (b *Bus) Publish(ctx context.Context, eventType string, payload map[string]interface{}) error {
	return b.PublishEvent(ctx, eventType, payload, nil, "")
}

// PublishEvent is Publish with explicit metadata and an optional
// caller-supplied id (spec.md §4.5 allows the caller to supply one, used
// by idempotent retries).
func (b *Bus) PublishEvent(ctx context.Context, eventType string, payload, metadata map[string]interface{}, id string) error {
	if id == "" {
		id = fmt.Sprintf("evt-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload: %w", err)
	}
	var metaJSON []byte
	if metadata != nil {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("eventbus: marshal metadata: %w", err)
		}
	}

	evt := Event{ID: id, Type: eventType, Payload: payloadJSON, Metadata: metaJSON, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	if _, err := b.adapter.XAdd(ctx, store.EventStreamKey(eventType), 1000, map[string]string{"data": string(data)}); err != nil {
		return fmt.Errorf("eventbus: xadd: %w", err)
	}
	if err := b.adapter.Publish(ctx, eventType, string(data)); err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	observability.EventsPublished.WithLabelValues(eventType).Inc()
	return nil
}

// Subscribe binds handler to an exact event type or a glob pattern
// (spec.md §4.5) — "prefix.*" or, per §4.9's "hook.*.executed", a
// wildcard anywhere in the name. Delivery runs on the bus's dispatch
// context; each delivery is handed to the bounded pool so a slow handler
// cannot stall the subscriber's read loop.
func (b *Bus) Subscribe(ctx context.Context, typeOrPattern string, handler Handler) error {
	var (
		sub store.Subscription
		err error
	)
	if strings.Contains(typeOrPattern, "*") {
		sub, err = b.adapter.PSubscribe(ctx, typeOrPattern)
	} else {
		sub, err = b.adapter.Subscribe(ctx, typeOrPattern)
	}
	if err != nil {
		return fmt.Errorf("eventbus: subscribe %s: %w", typeOrPattern, err)
	}

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					log.Warn().Err(err).Str("pattern", typeOrPattern).Msg("eventbus: undecodable message")
					continue
				}
				b.dispatch(ctx, handler, evt)
			}
		}
	}()
	return nil
}

func (b *Bus) dispatch(ctx context.Context, handler Handler, evt Event) {
	b.pool <- struct{}{}
	go func() {
		defer func() { <-b.pool }()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("event", evt.Type).Msg("eventbus: handler panicked")
			}
		}()
		handler(ctx, evt)
	}()
}

// IsDuplicate implements event.is_duplicate: the exactly-once gate every
// subscriber must call before applying side effects.
func (b *Bus) IsDuplicate(ctx context.Context, eventType, eventID string, ttl time.Duration) (bool, error) {
	raw, err := b.adapter.EvalScript(ctx, script.EventIsDuplicate,
		[]string{store.ProcessedEventsKey()},
		[]interface{}{eventID, int64(ttl.Seconds())},
	)
	if err != nil {
		return false, fmt.Errorf("eventbus: is_duplicate: %w", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return false, err
	}
	dup := res.Detail == "1"
	if dup {
		observability.EventsDuplicate.WithLabelValues(eventType).Inc()
	}
	return dup, nil
}

// AddToPartition implements event.add_to_partition: appends to an
// insertion-ordered, trimmed, TTL'd list keyed by the caller's partition
// id, for consumers that need cross-event ordering pub/sub can't promise.
func (b *Bus) AddToPartition(ctx context.Context, partitionID string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventbus: marshal partition event: %w", err)
	}
	raw, err := b.adapter.EvalScript(ctx, script.EventAddToPartition,
		[]string{store.PartitionListKey(partitionID)},
		[]interface{}{string(data)},
	)
	if err != nil {
		return fmt.Errorf("eventbus: add_to_partition: %w", err)
	}
	_, err = script.ParseResult(raw)
	return err
}
