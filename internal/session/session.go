// Package session is the State Processor (spec.md §4.9): it subscribes
// to hook.*.executed, folds each delivery into a per-session condensed
// context with periodic snapshots, and serves get_context from that
// condensed context, or by rebuilding from the raw session stream when no
// condensed context exists yet. get_context does not read the snapshots.
// Grounded on the teacher's control_plane/agent_monitor.go pattern of a
// subscriber that folds a stream of external events into an in-memory
// summary, generalized from liveness tracking into arbitrary hook folding.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/claudebench/claudebench/internal/eventbus"
	"github.com/claudebench/claudebench/internal/observability"
	"github.com/claudebench/claudebench/internal/store"
)

// Context is the condensed per-session state spec.md §4.9 folds into
// (last prompt, rolling last-10 tools, active todos).
type Context struct {
	SessionID   string   `json:"sessionId"`
	LastPrompt  string   `json:"lastPrompt,omitempty"`
	RecentTools []string `json:"recentTools"`
	ActiveTodos []string `json:"activeTodos"`
	EventCount  int64    `json:"eventCount"`
	UpdatedAt   string   `json:"updatedAt"`
}

// Snapshot is a point-in-time aggregate written every snapshotEveryN
// events, with the event-time range it covers (spec.md §4.9).
type Snapshot struct {
	SessionID  string         `json:"sessionId"`
	ID         string         `json:"id"`
	Context    Context        `json:"context"`
	Counters   map[string]int `json:"counters"`
	FirstEvent string         `json:"firstEvent"`
	LastEvent  string         `json:"lastEvent"`
}

const maxRecentTools = 10

// Processor implements the State Processor.
type Processor struct {
	adapter        store.Adapter
	bus            *eventbus.Bus
	snapshotEveryN int64
}

func NewProcessor(adapter store.Adapter, bus *eventbus.Bus, snapshotEveryN int64) *Processor {
	if snapshotEveryN <= 0 {
		snapshotEveryN = 100
	}
	return &Processor{adapter: adapter, bus: bus, snapshotEveryN: snapshotEveryN}
}

// Start subscribes to hook.*.executed and folds deliveries until ctx is
// cancelled.
func (p *Processor) Start(ctx context.Context) error {
	return p.bus.Subscribe(ctx, "hook.*.executed", func(ctx context.Context, evt eventbus.Event) {
		if err := p.fold(ctx, evt); err != nil {
			log.Warn().Err(err).Str("event", evt.Type).Msg("session: fold failed")
		}
	})
}

func sessionIDFromPayload(evt eventbus.Event) (string, map[string]interface{}, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return "", nil, false
	}
	sid, ok := payload["sessionId"].(string)
	return sid, payload, ok
}

// fold applies a single hook.*.executed delivery (spec.md §4.9's three
// steps: stream append, counter increment, condensed-context update),
// then writes a snapshot every snapshotEveryN events.
func (p *Processor) fold(ctx context.Context, evt eventbus.Event) error {
	sid, payload, ok := sessionIDFromPayload(evt)
	if !ok || sid == "" {
		return fmt.Errorf("session: %s: missing sessionId", evt.Type)
	}

	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := p.adapter.XAdd(ctx, store.SessionStreamKey(sid), 10000, map[string]string{"data": string(raw)}); err != nil {
		return fmt.Errorf("session: append stream: %w", err)
	}

	if _, err := p.adapter.HIncrBy(ctx, store.SessionMetricsKey(sid), evt.Type, 1); err != nil {
		return fmt.Errorf("session: increment counter: %w", err)
	}
	total, err := p.adapter.HIncrBy(ctx, store.SessionMetricsKey(sid), "_total", 1)
	if err != nil {
		return fmt.Errorf("session: increment total: %w", err)
	}
	observability.SessionEventsFolded.WithLabelValues(evt.Type).Inc()

	sc, err := p.updateContext(ctx, sid, evt, payload, total)
	if err != nil {
		return err
	}

	if total%p.snapshotEveryN == 0 {
		if err := p.writeSnapshot(ctx, sid, sc); err != nil {
			log.Warn().Err(err).Str("session", sid).Msg("session: snapshot write failed")
		}
	}
	return nil
}

func (p *Processor) updateContext(ctx context.Context, sid string, evt eventbus.Event, payload map[string]interface{}, total int64) (Context, error) {
	h, err := p.adapter.HGetAll(ctx, store.SessionContextKey(sid))
	if err != nil {
		return Context{}, fmt.Errorf("session: read context: %w", err)
	}
	sc := decodeContext(sid, h)
	sc.EventCount = total
	sc.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	if prompt, ok := payload["prompt"].(string); ok && prompt != "" {
		sc.LastPrompt = prompt
	}
	if tool, ok := payload["tool"].(string); ok && tool != "" {
		sc.RecentTools = append(sc.RecentTools, tool)
		if len(sc.RecentTools) > maxRecentTools {
			sc.RecentTools = sc.RecentTools[len(sc.RecentTools)-maxRecentTools:]
		}
	}
	if todos, ok := payload["activeTodos"].([]interface{}); ok {
		sc.ActiveTodos = sc.ActiveTodos[:0]
		for _, t := range todos {
			if s, ok := t.(string); ok {
				sc.ActiveTodos = append(sc.ActiveTodos, s)
			}
		}
	}

	toolsJSON, _ := json.Marshal(sc.RecentTools)
	todosJSON, _ := json.Marshal(sc.ActiveTodos)
	err = p.adapter.HSet(ctx, store.SessionContextKey(sid), map[string]string{
		"lastPrompt":  sc.LastPrompt,
		"recentTools": string(toolsJSON),
		"activeTodos": string(todosJSON),
		"eventCount":  fmt.Sprintf("%d", sc.EventCount),
		"updatedAt":   sc.UpdatedAt,
	})
	if err != nil {
		return Context{}, fmt.Errorf("session: write context: %w", err)
	}
	return sc, nil
}

func decodeContext(sid string, h map[string]string) Context {
	sc := Context{SessionID: sid}
	sc.LastPrompt = h["lastPrompt"]
	_ = json.Unmarshal([]byte(h["recentTools"]), &sc.RecentTools)
	_ = json.Unmarshal([]byte(h["activeTodos"]), &sc.ActiveTodos)
	fmt.Sscanf(h["eventCount"], "%d", &sc.EventCount)
	sc.UpdatedAt = h["updatedAt"]
	return sc
}

func (p *Processor) writeSnapshot(ctx context.Context, sid string, sc Context) error {
	counters, err := p.adapter.HGetAll(ctx, store.SessionMetricsKey(sid))
	if err != nil {
		return fmt.Errorf("session: read counters: %w", err)
	}
	intCounters := make(map[string]int, len(counters))
	for k, v := range counters {
		var n int
		fmt.Sscanf(v, "%d", &n)
		intCounters[k] = n
	}

	firstEvent := sc.UpdatedAt
	if entries, err := p.adapter.XRange(ctx, store.SessionStreamKey(sid), "-", "+", 1); err == nil && len(entries) == 1 {
		var evt eventbus.Event
		if json.Unmarshal([]byte(entries[0].Fields["data"]), &evt) == nil {
			firstEvent = evt.Timestamp
		}
	}

	snap := Snapshot{
		SessionID:  sid,
		ID:         uuid.NewString(),
		Context:    sc,
		Counters:   intCounters,
		FirstEvent: firstEvent,
		LastEvent:  sc.UpdatedAt,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := p.adapter.Set(ctx, store.SnapshotKey(sid, snap.ID), string(data), 0); err != nil {
		return fmt.Errorf("session: write snapshot: %w", err)
	}
	observability.SessionSnapshotsWritten.Inc()
	return nil
}

// GetContext implements get_context: returns the condensed context for
// sid, rebuilding from the raw session stream if no context hash exists
// yet (spec.md §4.9's "otherwise rebuilds by folding the session stream
// on demand").
func (p *Processor) GetContext(ctx context.Context, sid string) (Context, error) {
	h, err := p.adapter.HGetAll(ctx, store.SessionContextKey(sid))
	if err != nil {
		return Context{}, fmt.Errorf("session: get_context: %w", err)
	}
	if len(h) > 0 {
		return decodeContext(sid, h), nil
	}
	return p.rebuild(ctx, sid)
}

// rebuild folds the entire stream:session:{sid} stream from scratch when
// no condensed context has ever been written — the on-demand path
// spec.md §4.9 names for a cold session read.
func (p *Processor) rebuild(ctx context.Context, sid string) (Context, error) {
	entries, err := p.adapter.XRange(ctx, store.SessionStreamKey(sid), "-", "+", 0)
	if err != nil {
		return Context{}, fmt.Errorf("session: rebuild: xrange: %w", err)
	}
	sc := Context{SessionID: sid}
	var total int64
	for _, e := range entries {
		var evt eventbus.Event
		if err := json.Unmarshal([]byte(e.Fields["data"]), &evt); err != nil {
			continue
		}
		_, payload, ok := sessionIDFromPayload(evt)
		if !ok {
			continue
		}
		total++
		if prompt, ok := payload["prompt"].(string); ok && prompt != "" {
			sc.LastPrompt = prompt
		}
		if tool, ok := payload["tool"].(string); ok && tool != "" {
			sc.RecentTools = append(sc.RecentTools, tool)
			if len(sc.RecentTools) > maxRecentTools {
				sc.RecentTools = sc.RecentTools[len(sc.RecentTools)-maxRecentTools:]
			}
		}
		if todos, ok := payload["activeTodos"].([]interface{}); ok {
			sc.ActiveTodos = sc.ActiveTodos[:0]
			for _, t := range todos {
				if s, ok := t.(string); ok {
					sc.ActiveTodos = append(sc.ActiveTodos, s)
				}
			}
		}
	}
	sc.EventCount = total
	sc.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return sc, nil
}
