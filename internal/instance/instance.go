// Package instance is the Instance Manager (spec.md §4.4): registration,
// heartbeat, role/capability indices, lease-based leader election with a
// Redis-native fencing epoch, and the health sweep that triggers
// task.reassign_failed for instances that go OFFLINE.
package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/claudebench/claudebench/internal/cberr"
	"github.com/claudebench/claudebench/internal/observability"
	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
)

type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthOffline  Health = "OFFLINE"
)

// Instance mirrors the instance:{id} hash shape (spec.md §3).
type Instance struct {
	ID            string   `json:"id"`
	Roles         []string `json:"roles"`
	Health        Health   `json:"health"`
	Status        string   `json:"status"`
	LastSeenMs    int64    `json:"lastSeen"`
	LastHeartbeat string   `json:"lastHeartbeat"`
}

// Reassigner is the narrow slice of internal/task the health sweep needs.
type Reassigner interface {
	ReassignFailed(ctx context.Context, workerID string) (int, error)
	AutoAssign(ctx context.Context, workerID string, capacity int) (bool, string, error)
}

// Manager implements the Instance Manager service.
type Manager struct {
	adapter          store.Adapter
	tasks            Reassigner
	heartbeatTimeout time.Duration
	leaderLease      time.Duration
	defaultCapacity  int
}

func NewManager(adapter store.Adapter, tasks Reassigner, heartbeatTimeout, leaderLease time.Duration, defaultCapacity int) *Manager {
	return &Manager{adapter: adapter, tasks: tasks, heartbeatTimeout: heartbeatTimeout, leaderLease: leaderLease, defaultCapacity: defaultCapacity}
}

// Register implements system.register.
func (m *Manager) Register(ctx context.Context, id string, roles []string) (becameLeader bool, err error) {
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return false, cberr.WithDetail(cberr.KindInvalidParams, "roles must be JSON-encodable", nil)
	}

	keys := []string{
		store.InstanceKey(id), store.ActiveInstancesKey(), store.CapabilitiesKey(id),
		store.LeaderCurrentKey(), store.LeaderLockKey(), store.LeaderEpochKey(),
	}
	args := []interface{}{
		id, string(rolesJSON), nowIso(), strconv.FormatInt(time.Now().UnixMilli(), 10),
		2 * int64(m.heartbeatTimeout.Seconds()), int64(m.leaderLease.Seconds()), store.Namespace() + ":role:",
	}
	for _, r := range roles {
		args = append(args, r)
	}

	raw, err := m.adapter.EvalScript(ctx, script.SystemRegister, keys, args)
	if err != nil {
		return false, cberr.Internal("system.register", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return false, cberr.Internal("system.register", err)
	}
	if res.Detail == "1" {
		observability.LeadershipTransitions.WithLabelValues(id, "acquired").Inc()
		observability.LeaderStatus.Set(1)
		log.Info().Str("instance", id).Msg("instance: became leader on registration")
	}
	observability.InstancesActive.Inc()
	return res.Detail == "1", nil
}

// Heartbeat implements system.heartbeat.
func (m *Manager) Heartbeat(ctx context.Context, id string) (isLeader bool, err error) {
	raw, err := m.adapter.EvalScript(ctx, script.SystemHeartbeat,
		[]string{store.InstanceKey(id), store.GossipHealthKey(), store.LeaderCurrentKey(), store.LeaderLockKey()},
		[]interface{}{id, nowIso(), strconv.FormatInt(time.Now().UnixMilli(), 10), 2 * int64(m.heartbeatTimeout.Seconds()), int64(m.leaderLease.Seconds())},
	)
	if err != nil {
		return false, cberr.Internal("system.heartbeat", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return false, cberr.Internal("system.heartbeat", err)
	}
	if !res.OK {
		return false, cberr.New(cberr.KindNotFound, "instance not registered").WithEvent("system.heartbeat")
	}
	return res.Detail == "1", nil
}

// CheckHealth implements system.check_health (spec.md §4.4): classifies
// every active instance by staleness and triggers reassignment for any
// that crossed into OFFLINE. Enumerates instances:active instead of a
// KEYS scan, per spec.md §9's REDESIGN FLAGS guidance.
func (m *Manager) CheckHealth(ctx context.Context) (healthy, degraded, failed []string, err error) {
	ids, err := m.adapter.SMembers(ctx, store.ActiveInstancesKey())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("instance: check_health: list active: %w", err)
	}
	now := time.Now().UnixMilli()
	threshold := m.heartbeatTimeout.Milliseconds()

	for _, id := range ids {
		h, err := m.adapter.HGetAll(ctx, store.InstanceKey(id))
		if err != nil || len(h) == 0 {
			failed = append(failed, id)
			continue
		}
		lastSeen, _ := strconv.ParseInt(h["lastSeen"], 10, 64)
		age := now - lastSeen
		switch {
		case age < threshold:
			healthy = append(healthy, id)
			observability.InstanceHealth.WithLabelValues(id).Set(0)
		case age < 2*threshold:
			degraded = append(degraded, id)
			observability.InstanceHealth.WithLabelValues(id).Set(1)
		default:
			failed = append(failed, id)
			observability.InstanceHealth.WithLabelValues(id).Set(2)
		}
	}

	for _, id := range failed {
		if _, err := m.tasks.ReassignFailed(ctx, id); err != nil {
			log.Warn().Err(err).Str("instance", id).Msg("instance: reassign_failed errored during health sweep")
		}
	}
	return healthy, degraded, failed, nil
}

func nowIso() string { return time.Now().UTC().Format(time.RFC3339Nano) }
