// Package scheduler is the repeating-job engine (spec.md §4.7): one
// goroutine per job, each on its own ticker. health-check and
// auto-assign-delayed are routed through the registry's Execute, so those
// jobs are just another caller; the other four call the store/script
// layer directly (see Deps). Grounded on the teacher's
// control_plane/scheduler.go Start/worker/poller ticker-per-concern
// layout, generalized from one queue-draining worker into the six
// ticked jobs BuildAll wires.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/observability"
)

// Dispatcher is the narrow slice of internal/registry a job needs: the
// same Execute every transport calls, so jobs carry no privileged path.
type Dispatcher interface {
	Execute(ctx context.Context, event string, params map[string]interface{}, caller handler.CallerMetadata) (map[string]interface{}, error)
}

// Elector lets jobs prefer running on the leader without requiring it
// (spec.md §4.7: "preferred but not required for correctness").
type Elector interface {
	IsLeader() bool
	Epoch() int64
}

// Job is one named, independently-ticked unit of work.
type Job struct {
	Name       string
	Interval   time.Duration
	LeaderOnly bool
	Run        func(ctx context.Context) error
}

// Scheduler runs every registered Job on its own ticker until ctx is
// cancelled. Jobs are idempotent and safe to run overlapping per spec.md
// §4.7, so no job waits on a prior tick of itself finishing — a slow tick
// is logged, not serialized against.
type Scheduler struct {
	jobs    []Job
	elector Elector
}

func New(elector Elector) *Scheduler {
	return &Scheduler{elector: elector}
}

func (s *Scheduler) Add(j Job) { s.jobs = append(s.jobs, j) }

// Run starts every job's ticker loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{})
	for _, j := range s.jobs {
		go s.runJob(ctx, j, done)
	}
	<-ctx.Done()
	for range s.jobs {
		<-done
	}
}

func (s *Scheduler) runJob(ctx context.Context, j Job, done chan struct{}) {
	defer func() { done <- struct{}{} }()
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if j.LeaderOnly && s.elector != nil && !s.elector.IsLeader() {
				continue
			}
			s.tick(ctx, j)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, j Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			observability.SchedulerJobRuns.WithLabelValues(j.Name, "panic").Inc()
			log.Error().Str("job", j.Name).Interface("panic", r).Msg("scheduler: job panicked")
		}
	}()
	err := j.Run(ctx)
	observability.SchedulerJobDuration.WithLabelValues(j.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SchedulerJobRuns.WithLabelValues(j.Name, "failure").Inc()
		log.Warn().Err(err).Str("job", j.Name).Msg("scheduler: job failed")
		return
	}
	observability.SchedulerJobRuns.WithLabelValues(j.Name, "success").Inc()
}
