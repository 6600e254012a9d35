// Package store is the KV/Stream Store Adapter (spec.md §4.1): it wraps a
// Redis-compatible server and is the only package that imports
// github.com/redis/go-redis/v9. All key names are produced here so the
// "cb:" namespace (spec.md §6) is enforced in exactly one place, the way
// the teacher's store/keys.go centralizes its "fluxforge:tenants:..."
// format.
package store

import "fmt"

const namespace = "cb"

// Namespace exposes the key prefix for callers (the atomic script library)
// that must build key names dynamically inside Lua rather than through the
// builder functions below — e.g. a script discovering a task id at runtime
// and needing to address cb:task:{id} without a round trip back to Go.
func Namespace() string { return namespace }

func TaskKey(id string) string            { return fmt.Sprintf("%s:task:%s", namespace, id) }
func PendingQueueKey() string             { return fmt.Sprintf("%s:queue:tasks:pending", namespace) }
func WorkerQueueKey(workerID string) string {
	return fmt.Sprintf("%s:queue:instance:%s", namespace, workerID)
}
func InstanceKey(id string) string  { return fmt.Sprintf("%s:instance:%s", namespace, id) }
func ActiveInstancesKey() string    { return fmt.Sprintf("%s:instances:active", namespace) }
func RoleIndexKey(role string) string      { return fmt.Sprintf("%s:role:%s", namespace, role) }
func CapabilitiesKey(instanceID string) string {
	return fmt.Sprintf("%s:capabilities:%s", namespace, instanceID)
}
func LeaderCurrentKey() string { return fmt.Sprintf("%s:leader:current", namespace) }
func LeaderLockKey() string    { return fmt.Sprintf("%s:leader:lock", namespace) }
func LeaderEpochKey() string   { return fmt.Sprintf("%s:leader:epoch", namespace) }
func GossipHealthKey() string  { return fmt.Sprintf("%s:gossip:health", namespace) }
func PartitionDetectedKey() string { return fmt.Sprintf("%s:partition:detected", namespace) }
func PartitionRecoveryKey() string { return fmt.Sprintf("%s:partition:recovery", namespace) }

func EventStreamKey(eventType string) string {
	return fmt.Sprintf("%s:stream:%s", namespace, eventType)
}
func ProcessedEventsKey() string { return fmt.Sprintf("%s:processed:events", namespace) }
func PartitionListKey(partitionID string) string {
	return fmt.Sprintf("%s:partition:%s", namespace, partitionID)
}
func AssignmentsHistoryKey() string { return fmt.Sprintf("%s:history:assignments", namespace) }
func CompletionsHistoryKey(taskID string) string {
	return fmt.Sprintf("%s:history:task:%s:completions", namespace, taskID)
}
func RedistributedFromKey(workerID string) string {
	return fmt.Sprintf("%s:redistributed:from:%s", namespace, workerID)
}
func InstanceMetricsKey(id string) string { return fmt.Sprintf("%s:metrics:instance:%s", namespace, id) }
func QueueMetricsKey() string             { return fmt.Sprintf("%s:metrics:queues", namespace) }
func GlobalMetricsKey() string            { return fmt.Sprintf("%s:metrics:global", namespace) }
func ScalingMetricsKey() string           { return fmt.Sprintf("%s:metrics:scaling", namespace) }
func GlobalStateKey() string              { return fmt.Sprintf("%s:state:global", namespace) }
func QuorumKey() string                   { return fmt.Sprintf("%s:quorum", namespace) }

func SessionStateKey(sid string) string   { return fmt.Sprintf("%s:session:state:%s", namespace, sid) }
func SessionContextKey(sid string) string { return fmt.Sprintf("%s:session:context:%s", namespace, sid) }
func SessionStreamKey(sid string) string  { return fmt.Sprintf("%s:stream:session:%s", namespace, sid) }
func SessionMetricsKey(sid string) string { return fmt.Sprintf("%s:metrics:session:%s", namespace, sid) }
func SnapshotKey(sid, snapshotID string) string {
	return fmt.Sprintf("%s:snapshot:%s:%s", namespace, sid, snapshotID)
}

func RateLimitKey(event, caller string) string {
	if caller == "" {
		return fmt.Sprintf("%s:ratelimit:%s", namespace, event)
	}
	return fmt.Sprintf("%s:ratelimit:%s:%s", namespace, event, caller)
}

func ResponseCacheKey(event, canonicalParams string) string {
	return fmt.Sprintf("%s:cache:%s:%s", namespace, event, canonicalParams)
}

func IdempotencyKey(key string) string { return fmt.Sprintf("%s:idempotency:%s", namespace, key) }
