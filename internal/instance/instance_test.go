package instance

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
	"github.com/claudebench/claudebench/internal/store/storetest"
)

// fakeReassigner records the health sweep's OFFLINE reassignment calls.
type fakeReassigner struct {
	reassignedFrom []string
}

func (r *fakeReassigner) ReassignFailed(ctx context.Context, workerID string) (int, error) {
	r.reassignedFrom = append(r.reassignedFrom, workerID)
	return 1, nil
}

func (r *fakeReassigner) AutoAssign(ctx context.Context, workerID string, capacity int) (bool, string, error) {
	return false, "", nil
}

func newManager(heartbeatTimeout time.Duration) (*Manager, *storetest.Fake, *fakeReassigner) {
	f := storetest.New()
	f.Scripts[script.SystemRegister] = func(keys []string, args []interface{}) (interface{}, error) {
		id, rolesJSON := args[0].(string), args[1].(string)
		lastSeenMs := args[3].(string)
		if err := f.HSet(context.Background(), keys[0], map[string]string{
			"id": id, "lastSeen": lastSeenMs, "health": string(HealthHealthy),
		}); err != nil {
			return nil, err
		}
		if err := f.SAdd(context.Background(), keys[1], id); err != nil {
			return nil, err
		}
		_ = rolesJSON
		became, err := f.SetNX(context.Background(), keys[3], id, 0)
		if err != nil {
			return nil, err
		}
		if became {
			return storetest.Ok("1")
		}
		return storetest.Ok("0")
	}
	f.Scripts[script.SystemHeartbeat] = func(keys []string, args []interface{}) (interface{}, error) {
		id, lastSeenMs := args[0].(string), args[2].(string)
		h, _ := f.HGetAll(context.Background(), keys[0])
		if len(h) == 0 {
			return storetest.Fail("not_found")
		}
		if err := f.HSet(context.Background(), keys[0], map[string]string{"lastSeen": lastSeenMs}); err != nil {
			return nil, err
		}
		current, _, _ := f.Get(context.Background(), keys[2])
		if current == id {
			return storetest.Ok("1")
		}
		return storetest.Ok("0")
	}
	r := &fakeReassigner{}
	return NewManager(f, r, heartbeatTimeout, 30*time.Second, 10), f, r
}

func TestRegisterFirstInstanceBecomesLeader(t *testing.T) {
	mgr, _, _ := newManager(30 * time.Second)
	ctx := context.Background()

	leader, err := mgr.Register(ctx, "inst-1", []string{"worker"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !leader {
		t.Fatal("expected the first registered instance to become leader")
	}

	leader2, err := mgr.Register(ctx, "inst-2", []string{"worker"})
	if err != nil {
		t.Fatalf("register second: %v", err)
	}
	if leader2 {
		t.Fatal("expected the second instance not to become leader")
	}
}

func TestHeartbeatUnknownInstanceFails(t *testing.T) {
	mgr, _, _ := newManager(30 * time.Second)
	if _, err := mgr.Heartbeat(context.Background(), "ghost"); err == nil {
		t.Fatal("expected an error heartbeating an unregistered instance")
	}
}

func TestCheckHealthClassifiesAndReassigns(t *testing.T) {
	mgr, f, reassigner := newManager(1 * time.Second)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	seed := func(id string, ageMs int64) {
		if err := f.SAdd(ctx, store.ActiveInstancesKey(), id); err != nil {
			t.Fatalf("seed sadd: %v", err)
		}
		if err := f.HSet(ctx, store.InstanceKey(id), map[string]string{
			"id": id, "lastSeen": strconv.FormatInt(now-ageMs, 10),
		}); err != nil {
			t.Fatalf("seed hset: %v", err)
		}
	}
	seed("fresh", 100)          // well within 1s timeout
	seed("degraded", 1500)      // between 1x and 2x timeout
	seed("offline", 5000)       // past 2x timeout

	healthy, degraded, failed, err := mgr.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("check_health: %v", err)
	}
	assertContains(t, healthy, "fresh")
	assertContains(t, degraded, "degraded")
	assertContains(t, failed, "offline")

	if len(reassigner.reassignedFrom) != 1 || reassigner.reassignedFrom[0] != "offline" {
		t.Fatalf("expected reassign_failed called once for 'offline', got %v", reassigner.reassignedFrom)
	}
}

func assertContains(t *testing.T, list []string, want string) {
	t.Helper()
	for _, v := range list {
		if v == want {
			return
		}
	}
	t.Fatalf("expected %v to contain %q", list, want)
}
