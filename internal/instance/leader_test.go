package instance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/claudebench/claudebench/internal/store/script"
	"github.com/claudebench/claudebench/internal/store/storetest"
)

// wireLeaderScripts stubs the leader election scripts with a single
// current-leader slot plus an epoch counter, faithful enough to exercise
// LeaderElector's Go-side acquire/renew/release/callback orchestration.
func wireLeaderScripts(f *storetest.Fake) {
	epoch := int64(0)
	f.Scripts[script.LeaderAcquire] = func(keys []string, args []interface{}) (interface{}, error) {
		id := args[0].(string)
		current, ok, _ := f.Get(context.Background(), keys[0])
		if ok && current != id {
			return storetest.Fail("held")
		}
		epoch++
		if err := f.Set(context.Background(), keys[0], id, 0); err != nil {
			return nil, err
		}
		return storetest.Ok(fmt.Sprintf("%d", epoch))
	}
	f.Scripts[script.LeaderRenew] = func(keys []string, args []interface{}) (interface{}, error) {
		id := args[0].(string)
		current, ok, _ := f.Get(context.Background(), keys[0])
		if !ok || current != id {
			return storetest.Fail("not_leader")
		}
		return storetest.Ok("1")
	}
	f.Scripts[script.LeaderRelease] = func(keys []string, args []interface{}) (interface{}, error) {
		id := args[0].(string)
		current, ok, _ := f.Get(context.Background(), keys[0])
		if !ok || current != id {
			return storetest.Fail("not_leader")
		}
		if err := f.Del(context.Background(), keys[0]); err != nil {
			return nil, err
		}
		return storetest.Ok("1")
	}
}

func TestAcquireFirstInstanceBecomesLeaderWithEpochOne(t *testing.T) {
	f := storetest.New()
	wireLeaderScripts(f)
	l := NewLeaderElector(f, "inst-1", 30*time.Second)

	ok, epoch, err := l.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok || epoch != 1 {
		t.Fatalf("expected ok=true epoch=1, got ok=%v epoch=%d", ok, epoch)
	}
}

func TestAcquireFailsWhenAlreadyHeld(t *testing.T) {
	f := storetest.New()
	wireLeaderScripts(f)
	a := NewLeaderElector(f, "inst-a", 30*time.Second)
	b := NewLeaderElector(f, "inst-b", 30*time.Second)

	if ok, _, err := a.acquire(context.Background()); err != nil || !ok {
		t.Fatalf("inst-a acquire: ok=%v err=%v", ok, err)
	}
	if ok, _, err := b.acquire(context.Background()); err != nil || ok {
		t.Fatalf("expected inst-b acquire to fail while inst-a holds the lease, got ok=%v err=%v", ok, err)
	}
}

func TestBecomeLeaderInvokesOnElectedWithFencedEpoch(t *testing.T) {
	f := storetest.New()
	l := NewLeaderElector(f, "inst-1", 30*time.Second)

	var gotEpoch int64 = -1
	l.OnElected(func(ctx context.Context, epoch int64) {
		gotEpoch = epoch
		if e, ok := EpochFromContext(ctx); !ok || e != epoch {
			t.Errorf("FencedContext epoch = %d, ok=%v; want %d", e, ok, epoch)
		}
	})

	l.becomeLeader(context.Background(), 7)
	if !l.IsLeader() {
		t.Fatal("expected IsLeader() true after becomeLeader")
	}
	if l.Epoch() != 7 {
		t.Fatalf("Epoch() = %d, want 7", l.Epoch())
	}
	if gotEpoch != 7 {
		t.Fatalf("onElected epoch = %d, want 7", gotEpoch)
	}
}

func TestStepDownInvokesOnLostOnlyWhenWasLeader(t *testing.T) {
	f := storetest.New()
	l := NewLeaderElector(f, "inst-1", 30*time.Second)

	calls := 0
	l.OnLost(func() { calls++ })

	l.stepDown() // was never leader, should be a no-op
	if calls != 0 {
		t.Fatalf("expected onLost not called when never leader, got %d calls", calls)
	}

	l.becomeLeader(context.Background(), 1)
	l.stepDown()
	if calls != 1 {
		t.Fatalf("expected onLost called once after stepping down from leadership, got %d calls", calls)
	}
	if l.IsLeader() {
		t.Fatal("expected IsLeader() false after stepDown")
	}
}

func TestRenewFailsWhenNotCurrentLeader(t *testing.T) {
	f := storetest.New()
	wireLeaderScripts(f)
	l := NewLeaderElector(f, "inst-1", 30*time.Second)

	ok, err := l.renew(context.Background())
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if ok {
		t.Fatal("expected renew to fail for an instance that never acquired the lease")
	}
}

func TestReleaseIsNoopWhenNotLeader(t *testing.T) {
	f := storetest.New()
	wireLeaderScripts(f)
	l := NewLeaderElector(f, "inst-1", 30*time.Second)

	l.release(context.Background()) // should not panic or call EvalScript
	for _, c := range f.Calls {
		if c.Script == script.LeaderRelease {
			t.Fatal("expected leader.release not to be called when not leader")
		}
	}
}
