// Package script is the Atomic Script Library (spec.md §4.2): every
// state-changing operation that touches more than one key is a single
// named Lua script, the sole writer of the keys it owns. Scripts are
// loaded once at startup by SHA (grounded on the teacher's
// control_plane/store/redis.go ScriptLoad-at-construction pattern) and
// invoked afterward by symbolic name through store.Adapter.EvalScript.
package script

// Names of every script in the library, used as the symbolic key passed
// to store.Adapter.LoadScript/EvalScript.
const (
	TaskCreate         = "task.create"
	TaskClaim          = "task.claim"
	TaskUpdate         = "task.update"
	TaskComplete       = "task.complete"
	TaskReassign       = "task.reassign"
	TaskAssign         = "task.assign"
	TaskUnassign       = "task.unassign"
	TaskDelete         = "task.delete"
	TaskAutoAssign     = "task.auto_assign"
	TaskReassignFailed = "task.reassign_failed"

	SystemRegister  = "system.register"
	SystemHeartbeat = "system.heartbeat"

	EventIsDuplicate    = "event.is_duplicate"
	EventAddToPartition = "event.add_to_partition"

	LeaderAcquire = "leader.acquire"
	LeaderRenew   = "leader.renew"
	LeaderRelease = "leader.release"

	MetricsAggregate = "metrics.aggregate"
)

// All lists every script name.
func All() []string {
	return []string{
		TaskCreate, TaskClaim, TaskUpdate, TaskComplete, TaskReassign,
		TaskAssign, TaskUnassign, TaskDelete, TaskAutoAssign, TaskReassignFailed,
		SystemRegister, SystemHeartbeat,
		EventIsDuplicate, EventAddToPartition,
		LeaderAcquire, LeaderRenew, LeaderRelease,
		MetricsAggregate,
	}
}
