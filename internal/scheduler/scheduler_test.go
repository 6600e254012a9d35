package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/storetest"
)

type fakeDispatcher struct {
	calls int32
}

func (d *fakeDispatcher) Execute(ctx context.Context, event string, params map[string]interface{}, caller handler.CallerMetadata) (map[string]interface{}, error) {
	atomic.AddInt32(&d.calls, 1)
	return map[string]interface{}{}, nil
}

type fakeElector struct {
	leader int32
	epoch  int64
}

func (e *fakeElector) IsLeader() bool { return atomic.LoadInt32(&e.leader) == 1 }
func (e *fakeElector) Epoch() int64   { return e.epoch }

func TestRunTicksJobUntilCancelled(t *testing.T) {
	var ticks int32
	s := New(nil)
	s.Add(Job{
		Name:     "tick-test",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatal("expected the job to have ticked at least once")
	}
}

func TestLeaderOnlyJobSkipsWhenNotLeader(t *testing.T) {
	var ticks int32
	elector := &fakeElector{leader: 0}
	s := New(elector)
	s.Add(Job{
		Name:       "leader-only",
		Interval:   5 * time.Millisecond,
		LeaderOnly: true,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	if atomic.LoadInt32(&ticks) != 0 {
		t.Fatalf("expected a LeaderOnly job never to tick while not leader, got %d ticks", ticks)
	}
}

func TestLeaderOnlyJobRunsOnceLeader(t *testing.T) {
	var ticks int32
	elector := &fakeElector{leader: 1}
	s := New(elector)
	s.Add(Job{
		Name:       "leader-only",
		Interval:   5 * time.Millisecond,
		LeaderOnly: true,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatal("expected a LeaderOnly job to tick while leader")
	}
}

func TestTickRecoversJobPanic(t *testing.T) {
	s := New(nil)
	j := Job{Name: "panicky", Run: func(ctx context.Context) error { panic("boom") }}

	done := make(chan struct{})
	go func() {
		s.tick(context.Background(), j)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick did not return after a panicking job")
	}
}

func TestHealthCheckDispatchesSystemCheckHealth(t *testing.T) {
	d := &fakeDispatcher{}
	deps := Deps{Dispatch: d}
	if err := deps.healthCheck(context.Background()); err != nil {
		t.Fatalf("health_check: %v", err)
	}
	if atomic.LoadInt32(&d.calls) != 1 {
		t.Fatalf("expected dispatch called once, got %d", d.calls)
	}
}

func TestAutoAssignDelayedDispatchesPerActiveInstance(t *testing.T) {
	d := &fakeDispatcher{}
	f := storetest.New()
	if err := f.SAdd(context.Background(), store.ActiveInstancesKey(), "inst-a", "inst-b"); err != nil {
		t.Fatalf("seed active instances: %v", err)
	}
	deps := Deps{Dispatch: d, Adapter: f, DefaultCapacity: 5}

	if err := deps.autoAssignDelayed(context.Background()); err != nil {
		t.Fatalf("auto_assign_delayed: %v", err)
	}
	if atomic.LoadInt32(&d.calls) != 2 {
		t.Fatalf("expected dispatch called once per active instance (2), got %d", d.calls)
	}
}
