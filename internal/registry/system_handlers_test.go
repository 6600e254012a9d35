package registry

import (
	"context"
	"testing"
	"time"

	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/instance"
	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
	"github.com/claudebench/claudebench/internal/store/storetest"
)

// fakeReassigner satisfies instance.Reassigner without touching internal/task.
type fakeReassigner struct{}

func (fakeReassigner) ReassignFailed(ctx context.Context, workerID string) (int, error) {
	return 0, nil
}
func (fakeReassigner) AutoAssign(ctx context.Context, workerID string, capacity int) (bool, string, error) {
	return false, "", nil
}

func wireSystemScripts(f *storetest.Fake) {
	f.Scripts[script.SystemRegister] = func(keys []string, args []interface{}) (interface{}, error) {
		id, lastSeenMs := args[0].(string), args[3].(string)
		if err := f.HSet(context.Background(), keys[0], map[string]string{"id": id, "lastSeen": lastSeenMs}); err != nil {
			return nil, err
		}
		if err := f.SAdd(context.Background(), keys[1], id); err != nil {
			return nil, err
		}
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
}

func newSystemRegistry() (*Registry, *storetest.Fake) {
	f := storetest.New()
	wireSystemScripts(f)
	rt := handler.NewRuntime(f, "test-instance", func(ctx context.Context, eventType string, payload map[string]interface{}) error {
		return nil
	}, time.Minute, nil)
	r := New(rt)
	mgr := instance.NewManager(f, fakeReassigner{}, 30*time.Second, 30*time.Second, 10)
	RegisterSystemHandlers(r, mgr)
	return r, f
}

func TestSystemRegisterHandlerFirstInstanceBecomesLeader(t *testing.T) {
	r, _ := newSystemRegistry()
	result, err := r.Execute(context.Background(), "system.register", map[string]interface{}{"id": "inst-1"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["leader"] != true {
		t.Fatalf("expected leader=true for first registrant, got %v", result)
	}
}

func TestSystemHeartbeatHandlerReturnsAlive(t *testing.T) {
	r, _ := newSystemRegistry()
	if _, err := r.Execute(context.Background(), "system.register", map[string]interface{}{"id": "inst-1"}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := r.Execute(context.Background(), "system.heartbeat", map[string]interface{}{"id": "inst-1"}, nil)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if result["alive"] != true {
		t.Fatalf("expected alive=true, got %v", result)
	}
}

func TestSystemCheckHealthHandlerClassifiesInstances(t *testing.T) {
	r, _ := newSystemRegistry()
	if _, err := r.Execute(context.Background(), "system.register", map[string]interface{}{"id": "inst-1"}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := r.Execute(context.Background(), "system.check_health", map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("check_health: %v", err)
	}
	healthy, ok := result["healthy"].([]string)
	if !ok || len(healthy) != 1 || healthy[0] != "inst-1" {
		t.Fatalf("expected inst-1 classified healthy, got %v", result)
	}
}

func TestSystemHealthHandlerReportsActiveInstanceCount(t *testing.T) {
	r, _ := newSystemRegistry()
	if _, err := r.Execute(context.Background(), "system.register", map[string]interface{}{"id": "inst-1"}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := r.Execute(context.Background(), "system.health", map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if result["activeInstances"] != 1 {
		t.Fatalf("expected activeInstances=1, got %v", result)
	}
}

func TestSystemGetStateHandlerMergesGlobalStateAndQuorum(t *testing.T) {
	r, f := newSystemRegistry()
	if err := f.HSet(context.Background(), store.GlobalStateKey(), map[string]string{"tasksPending": "3"}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	result, err := r.Execute(context.Background(), "system.get_state", map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("get_state: %v", err)
	}
	if result["tasksPending"] != "3" {
		t.Fatalf("expected tasksPending=3 from state:global, got %v", result)
	}
	if _, ok := result["quorum"]; !ok {
		t.Fatalf("expected a quorum field, got %v", result)
	}
}

func TestSystemMetricsHandlerReturnsGlobalAndScaling(t *testing.T) {
	r, f := newSystemRegistry()
	if err := f.HSet(context.Background(), store.GlobalMetricsKey(), map[string]string{"eventsProcessed": "42"}); err != nil {
		t.Fatalf("seed metrics: %v", err)
	}
	result, err := r.Execute(context.Background(), "system.metrics", map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	global, ok := result["global"].(map[string]string)
	if !ok || global["eventsProcessed"] != "42" {
		t.Fatalf("expected global.eventsProcessed=42, got %v", result)
	}
	if _, ok := result["scaling"]; !ok {
		t.Fatalf("expected a scaling field, got %v", result)
	}
}
