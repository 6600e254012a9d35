// Package observability holds the Prometheus registrations every other
// package instruments against. ClaudeBench never mounts the scrape
// endpoint itself (spec.md §1 names it an out-of-scope external surface);
// a transport that wants the endpoint can mount promhttp.Handler() against
// the default registry, same as the teacher's main.go does.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HandlerCounters implements §4.6.7's
	// counters.{circuit|ratelimit|timeout}:{event}:{outcome} scheme as a
	// single vector keyed by the three label dimensions it names.
	HandlerCounters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claudebench_handler_counters_total",
		Help: "Handler runtime decorator outcomes by concern, event, and outcome",
	}, []string{"concern", "event", "outcome"})

	HandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claudebench_handler_latency_seconds",
		Help:    "Handler body execution latency per event",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "claudebench_circuit_state",
		Help: "Circuit breaker state per event (0=closed,1=half_open,2=open)",
	}, []string{"event"})

	QueuePendingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claudebench_queue_pending_depth",
		Help: "Current size of the global pending task queue",
	})

	WorkerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "claudebench_worker_queue_depth",
		Help: "Current size of a worker's FIFO task queue",
	}, []string{"worker"})

	TasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "claudebench_tasks_by_status",
		Help: "Number of tasks currently in each status",
	}, []string{"status"})

	TaskClaimWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "claudebench_task_claim_wait_seconds",
		Help:    "Time a task spent pending before being claimed",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	InstancesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claudebench_instances_active",
		Help: "Number of instances currently in the active set",
	})

	InstanceHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "claudebench_instance_health",
		Help: "Instance health classification (0=healthy,1=degraded,2=offline)",
	}, []string{"instance"})

	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claudebench_leader_status",
		Help: "1 if this process currently holds the leader lease",
	})

	LeaderEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claudebench_leader_epoch",
		Help: "Current fencing epoch observed by this process",
	})

	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claudebench_leadership_transitions_total",
		Help: "Leadership acquire/lose events",
	}, []string{"instance", "event"})

	PartitionDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claudebench_partition_detected",
		Help: "1 if the gossip detector currently believes the fleet is partitioned",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claudebench_events_published_total",
		Help: "Events published per event type",
	}, []string{"type"})

	EventsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claudebench_events_duplicate_total",
		Help: "Events rejected as duplicates by the exactly-once check",
	}, []string{"type"})

	SchedulerJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claudebench_scheduler_job_runs_total",
		Help: "Scheduler job executions by job name and outcome",
	}, []string{"job", "outcome"})

	SchedulerJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claudebench_scheduler_job_duration_seconds",
		Help:    "Scheduler job execution duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "claudebench_redis_latency_seconds",
		Help:    "Observed latency of store adapter round-trips",
		Buckets: prometheus.DefBuckets,
	})

	PersistHookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claudebench_persist_hook_failures_total",
		Help: "Failures from the optional relational persistence hook (logged, non-fatal)",
	})

	SessionEventsFolded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claudebench_session_events_folded_total",
		Help: "hook.*.executed deliveries folded into session state, by hook type",
	}, []string{"type"})

	SessionSnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claudebench_session_snapshots_written_total",
		Help: "Session snapshots written by the state processor",
	})
)
