package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/instance"
	"github.com/claudebench/claudebench/internal/instance/gossip"
	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
	"github.com/claudebench/claudebench/internal/task"
)

// Deps bundles everything the six ticked spec.md §4.7 jobs need. health-check
// and auto-assign-delayed route through Dispatch.Execute — the same
// entry point a transport uses — so a scheduler tick carries no
// privileged path (spec.md §4.8). aggregate-metrics, sync-state,
// detect-partitions, and check-quorum have no external operation
// equivalent; they call the store/script layer directly, the way the
// registered system.health/get_state/metrics read handlers do.
type Deps struct {
	Adapter  store.Adapter
	Dispatch Dispatcher
	Tasks    *task.Service
	Gossip   *gossip.Detector
	Elector  Elector

	DefaultCapacity int
}

// BuildAll wires the six ticked jobs at their spec.md §4.7 default
// cadences into s. redistribute-tasks has no ticker of its own: the
// health sweep behind system.check_health runs task.reassign_failed
// for each instance it marks offline.
func BuildAll(s *Scheduler, d Deps) {
	s.Add(Job{Name: "aggregate-metrics", Interval: 5 * time.Second, Run: d.aggregateMetrics})
	s.Add(Job{Name: "sync-state", Interval: 10 * time.Second, Run: d.syncState})
	s.Add(Job{Name: "detect-partitions", Interval: 5 * time.Second, Run: d.detectPartitions})
	s.Add(Job{Name: "check-quorum", Interval: 15 * time.Second, Run: d.checkQuorum})
	s.Add(Job{Name: "health-check", Interval: 3 * time.Second, LeaderOnly: true, Run: d.healthCheck})
	s.Add(Job{Name: "auto-assign-delayed", Interval: 2 * time.Second, LeaderOnly: true, Run: d.autoAssignDelayed})
}

// aggregateMetrics runs metrics.aggregate, writing metrics:global and
// metrics:scaling (spec.md §4.7).
func (d Deps) aggregateMetrics(ctx context.Context) error {
	raw, err := d.Adapter.EvalScript(ctx, script.MetricsAggregate,
		[]string{store.QueueMetricsKey(), store.GlobalMetricsKey(), store.ScalingMetricsKey(), store.PendingQueueKey(), store.ActiveInstancesKey()},
		[]interface{}{time.Now().UTC().Format(time.RFC3339Nano)},
	)
	if err != nil {
		return err
	}
	_, err = script.ParseResult(raw)
	return err
}

// syncState snapshots instance+task counts into state:global with a
// bumped version (spec.md §4.7). Grounded on the same scan-based cold
// path internal/task.Service.List already accepts for a monitoring
// snapshot that has no correctness-critical atomicity requirement.
func (d Deps) syncState(ctx context.Context) error {
	activeInstances, err := d.Adapter.SMembers(ctx, store.ActiveInstancesKey())
	if err != nil {
		return err
	}
	_, totalTasks, err := d.Tasks.List(ctx, task.ListFilter{})
	if err != nil {
		return err
	}
	version, err := d.Adapter.Incr(ctx, store.GlobalStateKey()+":version")
	if err != nil {
		return err
	}
	return d.Adapter.HSet(ctx, store.GlobalStateKey(), map[string]string{
		"instances": strconv.Itoa(len(activeInstances)),
		"tasks":     strconv.Itoa(totalTasks),
		"version":   strconv.FormatInt(version, 10),
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// detectPartitions runs the gossip minority/supermajority inference
// (spec.md §4.7/§4.5).
func (d Deps) detectPartitions(ctx context.Context) error {
	_, _, err := d.Gossip.Detect(ctx)
	return err
}

// checkQuorum reads the latest quorum hash spec.md §4.7 says is "exposed
// for tests" — a lightweight liveness-count projection over the same
// active-instance set check-health classifies, recomputed here so
// system.get_state has a cheap, always-fresh read path distinct from the
// leader-only health sweep.
func (d Deps) checkQuorum(ctx context.Context) error {
	ids, err := d.Adapter.SMembers(ctx, store.ActiveInstancesKey())
	if err != nil {
		return err
	}
	total := len(ids)
	healthy := 0
	const staleAfterMs = int64(30000)
	now := time.Now().UnixMilli()
	for _, id := range ids {
		h, err := d.Adapter.HGetAll(ctx, store.InstanceKey(id))
		if err != nil || len(h) == 0 {
			continue
		}
		lastSeen, _ := strconv.ParseInt(h["lastSeen"], 10, 64)
		if now-lastSeen < staleAfterMs {
			healthy++
		}
	}
	hasQuorum := total > 0 && healthy*2 > total
	return d.Adapter.HSet(ctx, store.QuorumKey(), map[string]string{
		"total":     strconv.Itoa(total),
		"healthy":   strconv.Itoa(healthy),
		"hasQuorum": strconv.FormatBool(hasQuorum),
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// healthCheck invokes system.check_health through the dispatcher, fenced
// by the current leadership epoch so a body that reads
// instance.EpochFromContext can detect stale work from a leader that has
// since lost the lease (spec.md §9's Open Question on fencing, carried
// even though the epoch store itself is Redis-native rather than
// Postgres-durable — see DESIGN.md).
func (d Deps) healthCheck(ctx context.Context) error {
	if d.Elector != nil {
		ctx = instance.FencedContext(ctx, d.Elector.Epoch())
	}
	_, err := d.Dispatch.Execute(ctx, "system.check_health", nil, schedulerCaller("health-check"))
	return err
}

// autoAssignDelayed claims a pending task on behalf of every active
// instance, round-robin (spec.md §4.7).
func (d Deps) autoAssignDelayed(ctx context.Context) error {
	ids, err := d.Adapter.SMembers(ctx, store.ActiveInstancesKey())
	if err != nil {
		return err
	}
	capacity := d.DefaultCapacity
	if capacity <= 0 {
		capacity = 1
	}
	for _, id := range ids {
		params := map[string]interface{}{"workerId": id, "capacity": capacity}
		if _, err := d.Dispatch.Execute(ctx, "task.auto_assign", params, schedulerCaller("auto-assign-delayed")); err != nil {
			return err
		}
	}
	return nil
}

func schedulerCaller(job string) handler.CallerMetadata {
	return handler.CallerMetadata{"callerId": "scheduler", "job": job}
}
