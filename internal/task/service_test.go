package task

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
	"github.com/claudebench/claudebench/internal/store/storetest"
)

// fakePublisher records every event the service publishes, the way the
// teacher's resilience tests hand-roll a recording stand-in rather than a
// mocking library.
type fakePublisher struct {
	events []string
}

func (p *fakePublisher) Publish(ctx context.Context, eventType string, payload map[string]interface{}) error {
	p.events = append(p.events, eventType)
	return nil
}

// wireTaskScripts stubs the subset of the atomic script library task.Service
// calls with behavior faithful enough to exercise the Go-side orchestration:
// a real pending-priority zset and real per-worker FIFO lists, backed by the
// fake adapter's own Set/Hash/ZSet primitives rather than a Lua runtime.
func wireTaskScripts(f *storetest.Fake) {
	f.Scripts[script.TaskCreate] = func(keys []string, args []interface{}) (interface{}, error) {
		taskKey, pendingKey := keys[0], keys[1]
		id, text, priority := args[0].(string), args[1].(string), args[2].(string)
		metadata, createdAtMs, createdAt := args[3].(string), args[4].(string), args[5].(string)
		if err := f.HSet(context.Background(), taskKey, map[string]string{
			"id": id, "text": text, "priority": priority, "status": string(StatusPending),
			"metadata": metadata, "createdAtMs": createdAtMs, "createdAt": createdAt, "updatedAt": createdAt,
		}); err != nil {
			return nil, err
		}
		p, _ := strconv.Atoi(priority)
		if err := f.ZAdd(context.Background(), pendingKey, float64(p), id); err != nil {
			return nil, err
		}
		return storetest.Ok(id)
	}

	f.Scripts[script.TaskClaim] = func(keys []string, args []interface{}) (interface{}, error) {
		pendingKey, workerKey := keys[0], keys[1]
		workerID := args[0].(string)
		members, _ := f.ZRange(context.Background(), pendingKey, 0, -1)
		if len(members) == 0 {
			return storetest.Fail("empty")
		}
		best := members[len(members)-1] // highest score sorts last per ZRange's ascending order
		if err := f.ZRem(context.Background(), pendingKey, best); err != nil {
			return nil, err
		}
		if err := f.RPush(context.Background(), workerKey, best); err != nil {
			return nil, err
		}
		if err := f.HSet(context.Background(), store.TaskKey(best), map[string]string{"assignedTo": workerID}); err != nil {
			return nil, err
		}
		return storetest.Ok(best)
	}

	f.Scripts[script.TaskUpdate] = func(keys []string, args []interface{}) (interface{}, error) {
		taskKey := keys[0]
		id := args[0].(string)
		h, _ := f.HGetAll(context.Background(), taskKey)
		if len(h) == 0 {
			return storetest.Fail("not_found")
		}
		if h["status"] == string(StatusCompleted) || h["status"] == string(StatusFailed) {
			return storetest.Fail("completed")
		}
		fields := map[string]string{}
		for i := 4; i+1 < len(args); i += 2 {
			fields[args[i].(string)] = args[i+1].(string)
		}
		if err := f.HSet(context.Background(), taskKey, fields); err != nil {
			return nil, err
		}
		return storetest.Ok(id)
	}

	f.Scripts[script.TaskComplete] = func(keys []string, args []interface{}) (interface{}, error) {
		taskKey := keys[0]
		outcome, result, errMsg, completedAt := args[0].(string), args[1].(string), args[2].(string), args[3].(string)
		h, _ := f.HGetAll(context.Background(), taskKey)
		if len(h) == 0 {
			return storetest.Fail("not_found")
		}
		if h["status"] == string(StatusCompleted) || h["status"] == string(StatusFailed) {
			return storetest.Fail("already_terminal")
		}
		if err := f.HSet(context.Background(), taskKey, map[string]string{
			"status": outcome, "result": result, "error": errMsg, "completedAt": completedAt,
		}); err != nil {
			return nil, err
		}
		return storetest.Ok(h["id"])
	}
}

func newService() (*Service, *storetest.Fake, *fakePublisher) {
	f := storetest.New()
	wireTaskScripts(f)
	pub := &fakePublisher{}
	return NewService(f, pub), f, pub
}

func TestCreateClaimComplete(t *testing.T) {
	svc, _, pub := newService()
	ctx := context.Background()

	created, err := svc.Create(ctx, "do the thing", 50, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}

	claimed, claimedTask, err := svc.Claim(ctx, "worker-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("expected a task to be claimed")
	}
	if claimedTask.ID != created.ID {
		t.Fatalf("claimed wrong task: got %s want %s", claimedTask.ID, created.ID)
	}
	if claimedTask.Status != StatusInProgress {
		t.Fatalf("expected in_progress after claim, got %s", claimedTask.Status)
	}

	completed, err := svc.Complete(ctx, created.ID, json.RawMessage(`{"ok":true}`), "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}

	wantEvents := []string{"task.created", "task.claimed", "task.updated", "task.completed"}
	if len(pub.events) != len(wantEvents) {
		t.Fatalf("published events = %v, want %v", pub.events, wantEvents)
	}
	for i, e := range wantEvents {
		if pub.events[i] != e {
			t.Errorf("event[%d] = %s, want %s", i, pub.events[i], e)
		}
	}
}

func TestClaimEmptyQueueIsNotAnError(t *testing.T) {
	svc, _, _ := newService()
	claimed, task, err := svc.Claim(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("claim on empty queue should not error, got %v", err)
	}
	if claimed || task != nil {
		t.Fatalf("expected claimed=false, task=nil; got claimed=%v task=%v", claimed, task)
	}
}

func TestPriorityDispatchOrder(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	priorities := []int{10, 90, 50}
	ids := make([]string, len(priorities))
	for i, p := range priorities {
		task, err := svc.Create(ctx, "task", p, nil)
		if err != nil {
			t.Fatalf("create priority %d: %v", p, err)
		}
		ids[i] = task.ID
		time.Sleep(time.Millisecond) // distinct createdAtMs, not load-bearing for ordering here
	}

	_, first, err := svc.Claim(ctx, "worker-1")
	if err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	if first.Priority != 90 {
		t.Fatalf("expected priority 90 claimed first, got %d (id %s)", first.Priority, first.ID)
	}

	_, second, err := svc.Claim(ctx, "worker-1")
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if second.Priority != 50 {
		t.Fatalf("expected priority 50 claimed second, got %d (id %s)", second.Priority, second.ID)
	}
}

func TestCompleteAlreadyTerminalFails(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	created, err := svc.Create(ctx, "task", 50, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Complete(ctx, created.ID, nil, ""); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if _, err := svc.Complete(ctx, created.ID, nil, ""); err == nil {
		t.Fatal("expected error completing an already-terminal task")
	}
}

func TestCompleteWithErrorMarksFailed(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	created, err := svc.Create(ctx, "task", 50, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	failed, err := svc.Complete(ctx, created.ID, nil, "boom")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
}

func TestCreateRejectsOutOfRangePriority(t *testing.T) {
	svc, _, _ := newService()
	if _, err := svc.Create(context.Background(), "task", 150, nil); err == nil {
		t.Fatal("expected error for out-of-range priority")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	a, _ := svc.Create(ctx, "a", 50, nil)
	time.Sleep(time.Millisecond) // ids are t-{ms}; a second create in the same ms would reuse a's id
	_, _ = svc.Create(ctx, "b", 50, nil)
	if _, err := svc.Complete(ctx, a.ID, nil, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	pending, total, err := svc.List(ctx, ListFilter{Status: StatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(pending) != 1 {
		t.Fatalf("expected exactly one pending task, got total=%d len=%d", total, len(pending))
	}
}
