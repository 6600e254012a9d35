package task

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

// Publisher is the narrow slice of the event bus the task subsystem needs;
// defined here rather than imported from internal/eventbus so that package
// doesn't need to depend on this one.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Service implements the Task Subsystem operations (spec.md §4.3).
type Service struct {
	adapter  store.Adapter
	events   Publisher
	maxClaim int64 // bounded claim-loop attempts, spec.md §4.3 "up to N (≈10)"
}

func NewService(adapter store.Adapter, events Publisher) *Service {
	return &Service{adapter: adapter, events: events, maxClaim: 10}
}

func nowIso() string { return time.Now().UTC().Format(time.RFC3339Nano) }
func nowMs() int64   { return time.Now().UnixMilli() }

func (s *Service) publish(ctx context.Context, eventType string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, payload); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("task: publish failed")
	}
}

// Create implements task.create.
func (s *Service) Create(ctx context.Context, text string, priority int, metadata json.RawMessage) (*Task, error) {
	if priority < 0 || priority > 100 {
		return nil, cberr.WithDetail(cberr.KindInvalidParams, "priority out of range", cberr.Detail{"field": "priority"})
	}
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	id := fmt.Sprintf("t-%d", nowMs())
	now := nowIso()

	raw, err := s.adapter.EvalScript(ctx, script.TaskCreate,
		[]string{store.TaskKey(id), store.PendingQueueKey(), store.QueueMetricsKey()},
		[]interface{}{id, text, strconv.Itoa(priority), string(metadata), strconv.FormatInt(nowMs(), 10), now},
	)
	if err != nil {
		return nil, cberr.Internal("task.create", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return nil, cberr.Internal("task.create", err)
	}
	if !res.OK {
		return nil, cberr.New(cberr.KindConflict, "task already exists").WithEvent("task.create")
	}

	observability.TasksByStatus.WithLabelValues(string(StatusPending)).Inc()
	s.publish(ctx, "task.created", map[string]interface{}{"id": id, "priority": priority})
	return s.Get(ctx, id)
}

// Claim implements task.claim. The caller is responsible for verifying the
// worker is registered and healthy before calling this (spec.md §4.3).
func (s *Service) Claim(ctx context.Context, workerID string) (bool, *Task, error) {
	raw, err := s.adapter.EvalScript(ctx, script.TaskClaim,
		[]string{store.PendingQueueKey(), store.WorkerQueueKey(workerID), store.AssignmentsHistoryKey(), store.InstanceMetricsKey(workerID)},
		[]interface{}{workerID, nowIso(), s.maxClaim},
	)
	if err != nil {
		return false, nil, cberr.Internal("task.claim", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return false, nil, cberr.Internal("task.claim", err)
	}
	if !res.OK {
		return false, nil, nil // empty queue: not an error, just {claimed:false}
	}

	t, err := s.Get(ctx, res.Detail)
	if err != nil {
		return false, nil, err
	}
	s.publish(ctx, "task.claimed", map[string]interface{}{"id": t.ID, "workerId": workerID})
	// Preserve the monotone status rules (spec.md §4.3): the claim script
	// only assigns; the transition into in_progress happens here as a
	// follow-up update, same as §4.3 describes.
	if t.Status == StatusPending {
		updated, err := s.Update(ctx, t.ID, map[string]interface{}{"status": string(StatusInProgress)})
		if err != nil {
			return false, nil, err
		}
		t = updated
	}
	observability.TaskClaimWaitSeconds.Observe(float64(nowMs()-t.CreatedAtMs) / 1000.0)
	return true, t, nil
}

// Update implements task.update.
func (s *Service) Update(ctx context.Context, id string, updates map[string]interface{}) (*Task, error) {
	priorityChanged := "0"
	newPriority := "0"
	args := []interface{}{id, priorityChanged, newPriority, nowIso()}

	for k, v := range updates {
		if k == "priority" {
			p, ok := toInt(v)
			if !ok {
				return nil, cberr.WithDetail(cberr.KindInvalidParams, "priority must be an integer", cberr.Detail{"field": "priority"})
			}
			priorityChanged = "1"
			newPriority = strconv.Itoa(p)
			args[1] = priorityChanged
			args[2] = newPriority
			args = append(args, "priority", newPriority)
			continue
		}
		if k == "metadata" {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, cberr.WithDetail(cberr.KindInvalidParams, "metadata must be JSON-encodable", cberr.Detail{"field": "metadata"})
			}
			args = append(args, "metadata", string(b))
			continue
		}
		args = append(args, k, fmt.Sprintf("%v", v))
	}

	raw, err := s.adapter.EvalScript(ctx, script.TaskUpdate,
		[]string{store.TaskKey(id), store.PendingQueueKey()}, args)
	if err != nil {
		return nil, cberr.Internal("task.update", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return nil, cberr.Internal("task.update", err)
	}
	if !res.OK {
		if res.Detail == "completed" {
			return nil, cberr.ErrTaskAlreadyCompleted.WithEvent("task.update")
		}
		return nil, cberr.ErrTaskNotFound.WithEvent("task.update")
	}
	s.publish(ctx, "task.updated", map[string]interface{}{"id": id})
	return s.Get(ctx, id)
}

// Complete implements task.complete. presence of errMsg means failed,
// otherwise completed — the single explicit discriminator spec.md §9's
// Open Questions section asks for instead of relying on an empty result
// string. The worker queue/metrics keys are derived inside the script
// from the task's own assignedTo field rather than trusted from a
// caller-supplied workerId, since workerId is optional on task.complete
// (spec.md §6) and a missing or wrong one must not leave the task
// stranded in its real worker's queue.
func (s *Service) Complete(ctx context.Context, id string, result json.RawMessage, errMsg string) (*Task, error) {
	outcome := string(StatusCompleted)
	if errMsg != "" {
		outcome = string(StatusFailed)
	}
	if result == nil {
		result = json.RawMessage("{}")
	}

	raw, err := s.adapter.EvalScript(ctx, script.TaskComplete,
		[]string{store.TaskKey(id), store.QueueMetricsKey(), store.CompletionsHistoryKey(id)},
		[]interface{}{outcome, string(result), errMsg, nowIso(), strconv.FormatInt(nowMs(), 10), id},
	)
	if err != nil {
		return nil, cberr.Internal("task.complete", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return nil, cberr.Internal("task.complete", err)
	}
	if !res.OK {
		switch res.Detail {
		case "not_found":
			return nil, cberr.ErrTaskNotFound.WithEvent("task.complete")
		case "already_terminal":
			return nil, cberr.ErrTaskAlreadyCompleted.WithEvent("task.complete")
		case "not_assigned":
			return nil, cberr.ErrTaskNotAssigned.WithEvent("task.complete")
		default:
			return nil, cberr.New(cberr.KindConflict, res.Detail).WithEvent("task.complete")
		}
	}

	observability.TasksByStatus.WithLabelValues(outcome).Inc()
	eventType := "task.completed"
	if outcome == string(StatusFailed) {
		eventType = "task.failed"
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, eventType, map[string]interface{}{"id": id, "workerId": t.AssignedTo})
	return t, nil
}

// Reassign implements task.reassign.
func (s *Service) Reassign(ctx context.Context, id, target, reason string) (string, error) {
	raw, err := s.adapter.EvalScript(ctx, script.TaskReassign,
		[]string{store.TaskKey(id), store.PendingQueueKey()},
		[]interface{}{id, target, reason, nowIso()},
	)
	if err != nil {
		return "", cberr.Internal("task.reassign", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return "", cberr.Internal("task.reassign", err)
	}
	if !res.OK {
		switch res.Detail {
		case "not_found":
			return "", cberr.ErrTaskNotFound.WithEvent("task.reassign")
		case "target_denied":
			return "", cberr.ErrTargetDenied.WithEvent("task.reassign")
		default:
			return "", cberr.New(cberr.KindConflict, res.Detail).WithEvent("task.reassign")
		}
	}
	s.publish(ctx, "task.reassigned", map[string]interface{}{"id": id, "to": res.Detail, "reason": reason})
	return res.Detail, nil
}

// Assign implements task.assign: an explicit caller-directed assignment,
// distinct from Reassign's deny-list-aware failure recovery path.
func (s *Service) Assign(ctx context.Context, taskID, instanceID string) error {
	raw, err := s.adapter.EvalScript(ctx, script.TaskAssign,
		[]string{store.TaskKey(taskID), store.PendingQueueKey()},
		[]interface{}{taskID, instanceID, nowIso()},
	)
	if err != nil {
		return cberr.Internal("task.assign", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return cberr.Internal("task.assign", err)
	}
	if !res.OK {
		return cberr.ErrTaskNotFound.WithEvent("task.assign")
	}
	s.publish(ctx, "task.assigned", map[string]interface{}{"taskId": taskID, "instanceId": instanceID})
	return nil
}

// Unassign implements task.unassign.
func (s *Service) Unassign(ctx context.Context, taskID string) (string, error) {
	raw, err := s.adapter.EvalScript(ctx, script.TaskUnassign,
		[]string{store.TaskKey(taskID), store.PendingQueueKey()},
		[]interface{}{taskID, nowIso()},
	)
	if err != nil {
		return "", cberr.Internal("task.unassign", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return "", cberr.Internal("task.unassign", err)
	}
	if !res.OK {
		return "", cberr.ErrTaskNotFound.WithEvent("task.unassign")
	}
	s.publish(ctx, "task.unassigned", map[string]interface{}{"taskId": taskID})
	return res.Detail, nil
}

// Delete implements task.delete. Idempotent at the caller per spec.md
// §4.3: a second call simply surfaces NotFound, state is unchanged.
func (s *Service) Delete(ctx context.Context, id string) error {
	raw, err := s.adapter.EvalScript(ctx, script.TaskDelete,
		[]string{store.TaskKey(id), store.PendingQueueKey()},
		[]interface{}{id},
	)
	if err != nil {
		return cberr.Internal("task.delete", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return cberr.Internal("task.delete", err)
	}
	if !res.OK {
		return cberr.ErrTaskNotFound.WithEvent("task.delete")
	}
	s.publish(ctx, "task.deleted", map[string]interface{}{"id": id})
	return nil
}

// AutoAssign implements task.auto_assign, invoked through that handler by
// the scheduler's auto-assign-delayed job.
func (s *Service) AutoAssign(ctx context.Context, workerID string, capacity int) (bool, string, error) {
	raw, err := s.adapter.EvalScript(ctx, script.TaskAutoAssign,
		[]string{store.PendingQueueKey(), store.WorkerQueueKey(workerID), store.AssignmentsHistoryKey()},
		[]interface{}{workerID, nowIso(), capacity, 50},
	)
	if err != nil {
		return false, "", cberr.Internal("task.auto_assign", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return false, "", cberr.Internal("task.auto_assign", err)
	}
	if !res.OK {
		return false, "", nil
	}
	s.publish(ctx, "task.claimed", map[string]interface{}{"id": res.Detail, "workerId": workerID, "auto": true})
	return true, res.Detail, nil
}

// ReassignFailed implements task.reassign_failed, invoked by the
// instance manager's health sweep when a worker goes OFFLINE.
func (s *Service) ReassignFailed(ctx context.Context, workerID string) (int, error) {
	raw, err := s.adapter.EvalScript(ctx, script.TaskReassignFailed,
		[]string{store.WorkerQueueKey(workerID), store.ActiveInstancesKey(), store.InstanceKey(workerID), store.RedistributedFromKey(workerID)},
		[]interface{}{workerID, nowIso()},
	)
	if err != nil {
		return 0, cberr.Internal("task.reassign_failed", err)
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return 0, cberr.Internal("task.reassign_failed", err)
	}
	moved, _ := strconv.Atoi(res.Detail)
	s.publish(ctx, "task.redistributed", map[string]interface{}{"from": workerID, "count": moved})
	return moved, nil
}

// Get fetches a single task record.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	h, err := s.adapter.HGetAll(ctx, store.TaskKey(id))
	if err != nil {
		return nil, cberr.Internal("task.get", err)
	}
	if len(h) == 0 {
		return nil, cberr.ErrTaskNotFound.WithEvent("task.get")
	}
	return fromHash(h), nil
}

// ListFilter narrows task.list per spec.md §6 — list/filter only, no rich
// query language (an explicit Non-goal).
type ListFilter struct {
	Status     Status
	AssignedTo string
	Limit      int
	Offset     int
}

// List implements task.list by scanning the task:* keyspace. This is the
// one read path in the subsystem that isn't routed through a maintained
// index, accepted per spec.md §9's REDESIGN FLAGS note on modest-cardinality
// scans; a maintained per-status index set is the natural follow-up once
// fleet size makes this hot.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Task, int, error) {
	keys, err := s.adapter.Scan(ctx, store.TaskKey("*"))
	if err != nil {
		return nil, 0, cberr.Internal("task.list", err)
	}
	var matched []*Task
	for _, key := range keys {
		h, err := s.adapter.HGetAll(ctx, key)
		if err != nil || len(h) == 0 {
			continue
		}
		t := fromHash(h)
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.AssignedTo != "" && t.AssignedTo != filter.AssignedTo {
			continue
		}
		matched = append(matched, t)
	}
	total := len(matched)
	if filter.Offset > 0 && filter.Offset < len(matched) {
		matched = matched[filter.Offset:]
	} else if filter.Offset >= len(matched) {
		matched = nil
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, ok := parseInt(n)
		return i, ok
	default:
		return 0, false
	}
}
