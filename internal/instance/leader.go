package instance

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/claudebench/claudebench/internal/observability"
	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
)

// epochKey is a private context key type, grounded on the teacher's
// coordination/leader.go FencedContext/GetEpochFromContext pair: scheduler
// jobs read the fencing epoch they started under so stale work from a
// leader that has since lost the lease can be detected even without a
// durable relational epoch store (see DESIGN.md's open-question entry).
type epochKeyType struct{}

var epochCtxKey = epochKeyType{}

// FencedContext attaches the current fencing epoch to ctx.
func FencedContext(ctx context.Context, epoch int64) context.Context {
	return context.WithValue(ctx, epochCtxKey, epoch)
}

// EpochFromContext returns the fencing epoch FencedContext attached, if any.
func EpochFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(epochCtxKey).(int64)
	return v, ok
}

// LeaderElector runs the acquire/renew loop against leader.acquire,
// leader.renew, and leader.release, the unified set-if-absent-with-value
// scripts that resolve spec.md §9's Open Question about leader:current and
// leader:lock diverging under failure. Grounded on the teacher's
// coordination/leader.go loop() — exponential backoff on error, a renew
// failure counter that triggers step-down — generalized from a
// Postgres-fenced epoch to the Redis-native leader:epoch counter.
type LeaderElector struct {
	adapter store.Adapter
	id      string
	lease   time.Duration

	mu             sync.RWMutex
	isLeader       bool
	epoch          int64
	renewFailures  int
	onElected      func(ctx context.Context, epoch int64)
	onLost         func()
}

func NewLeaderElector(adapter store.Adapter, id string, lease time.Duration) *LeaderElector {
	return &LeaderElector{adapter: adapter, id: id, lease: lease}
}

// OnElected/OnLost register the leadership-change callbacks, mirroring the
// teacher's main.go leader callbacks (Start/Stop the scheduler).
func (l *LeaderElector) OnElected(fn func(ctx context.Context, epoch int64)) { l.onElected = fn }
func (l *LeaderElector) OnLost(fn func())                                   { l.onLost = fn }

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

func (l *LeaderElector) Epoch() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epoch
}

// Run drives the acquire/renew loop until ctx is cancelled. Intended to
// run as one of the process's long-lived work units (spec.md §5).
func (l *LeaderElector) Run(ctx context.Context) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second
	const maxRenewFailures = 3

	ticker := time.NewTicker(l.lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.release(context.Background())
			return
		case <-ticker.C:
		}

		if !l.IsLeader() {
			ok, epoch, err := l.acquire(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("leader: acquire errored")
				time.Sleep(backoff)
				backoff = minDuration(backoff*2, maxBackoff)
				continue
			}
			backoff = 500 * time.Millisecond
			if ok {
				l.becomeLeader(ctx, epoch)
			}
			continue
		}

		ok, err := l.renew(ctx)
		if err != nil || !ok {
			l.mu.Lock()
			l.renewFailures++
			failures := l.renewFailures
			l.mu.Unlock()
			log.Warn().Err(err).Int("failures", failures).Msg("leader: renew failed")
			if failures >= maxRenewFailures {
				l.stepDown()
			}
			continue
		}
		l.mu.Lock()
		l.renewFailures = 0
		l.mu.Unlock()
	}
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, int64, error) {
	raw, err := l.adapter.EvalScript(ctx, script.LeaderAcquire,
		[]string{store.LeaderCurrentKey(), store.LeaderLockKey(), store.LeaderEpochKey()},
		[]interface{}{l.id, int64(l.lease.Seconds())},
	)
	if err != nil {
		return false, 0, err
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return false, 0, err
	}
	if !res.OK {
		return false, 0, nil
	}
	epoch, _ := strconv.ParseInt(res.Detail, 10, 64)
	return true, epoch, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	raw, err := l.adapter.EvalScript(ctx, script.LeaderRenew,
		[]string{store.LeaderCurrentKey(), store.LeaderLockKey()},
		[]interface{}{l.id, int64(l.lease.Seconds())},
	)
	if err != nil {
		return false, err
	}
	res, err := script.ParseResult(raw)
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (l *LeaderElector) release(ctx context.Context) {
	if !l.IsLeader() {
		return
	}
	raw, err := l.adapter.EvalScript(ctx, script.LeaderRelease,
		[]string{store.LeaderCurrentKey(), store.LeaderLockKey()},
		[]interface{}{l.id},
	)
	if err != nil {
		log.Warn().Err(err).Msg("leader: release errored")
	} else if _, err := script.ParseResult(raw); err != nil {
		log.Warn().Err(err).Msg("leader: release result")
	}
	l.stepDown()
}

func (l *LeaderElector) becomeLeader(ctx context.Context, epoch int64) {
	l.mu.Lock()
	l.isLeader = true
	l.epoch = epoch
	l.renewFailures = 0
	l.mu.Unlock()
	observability.LeaderStatus.Set(1)
	observability.LeaderEpoch.Set(float64(epoch))
	observability.LeadershipTransitions.WithLabelValues(l.id, "acquired").Inc()
	log.Info().Str("instance", l.id).Int64("epoch", epoch).Msg("leader: acquired")
	if l.onElected != nil {
		l.onElected(FencedContext(ctx, epoch), epoch)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	wasLeader := l.isLeader
	l.isLeader = false
	l.renewFailures = 0
	l.mu.Unlock()
	if !wasLeader {
		return
	}
	observability.LeaderStatus.Set(0)
	observability.LeadershipTransitions.WithLabelValues(l.id, "lost").Inc()
	log.Warn().Str("instance", l.id).Msg("leader: stepped down")
	if l.onLost != nil {
		l.onLost()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
