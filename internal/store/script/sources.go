package script

import "fmt"

// Sources renders every script's Lua source for the given key namespace.
// Scripts that discover key names at runtime (a claimed task id, a target
// worker's queue) build them by string concatenation against this prefix
// instead of receiving them as KEYS entries, since the set of keys touched
// isn't known until the script inspects the pending queue or a task's
// assignedTo field. This assumes a non-clustered Redis deployment — the
// same simplification the REDESIGN FLAGS in spec.md §9 accept for the
// wildcard-scan janitor paths, applied here to script-internal key
// construction instead of client-side SCAN.
func Sources(namespace string) map[string]string {
	taskPrefix := namespace + ":task:"
	queuePrefix := namespace + ":queue:instance:"
	instanceMetricsPrefix := namespace + ":metrics:instance:"

	return map[string]string{
		TaskCreate: fmt.Sprintf(`
local taskKey = KEYS[1]
local pending = KEYS[2]
local queueMetrics = KEYS[3]
local id = ARGV[1]
local text = ARGV[2]
local priority = tonumber(ARGV[3])
local metadata = ARGV[4]
local createdAtMs = ARGV[5]
local nowIso = ARGV[6]

if redis.call('EXISTS', taskKey) == 1 then
  return {0, 'exists'}
end

redis.call('HSET', taskKey,
  'id', id,
  'text', text,
  'priority', tostring(priority),
  'status', 'pending',
  'assignedTo', '',
  'metadata', metadata,
  'deny', '[]',
  'createdAt', nowIso,
  'createdAtMs', createdAtMs,
  'updatedAt', nowIso)
redis.call('ZADD', pending, -priority, id)
redis.call('HINCRBY', queueMetrics, 'totalTasks', 1)
redis.call('HINCRBY', queueMetrics, 'pendingTasks', 1)
return {1, id}
`),

		TaskClaim: fmt.Sprintf(`
local pending = KEYS[1]
local workerQueue = KEYS[2]
local history = KEYS[3]
local instanceMetrics = KEYS[4]
local workerId = ARGV[1]
local nowIso = ARGV[2]
local maxAttempts = tonumber(ARGV[3])
local taskPrefix = %q

for i = 1, maxAttempts do
  local cand = redis.call('ZRANGE', pending, 0, 0)
  if #cand == 0 then
    return {0, 'empty'}
  end
  local taskId = cand[1]
  local taskKey = taskPrefix .. taskId
  local status = redis.call('HGET', taskKey, 'status')
  if not status or status ~= 'pending' then
    redis.call('ZREM', pending, taskId)
  else
    local removed = redis.call('ZREM', pending, taskId)
    if removed == 1 then
      redis.call('HSET', taskKey, 'assignedTo', workerId, 'assignedAt', nowIso, 'updatedAt', nowIso)
      redis.call('RPUSH', workerQueue, taskId)
      redis.call('LPUSH', history, cjson.encode({taskId = taskId, workerId = workerId, at = nowIso}))
      redis.call('LTRIM', history, 0, 999)
      redis.call('HINCRBY', instanceMetrics, 'tasksClaimed', 1)
      return {1, taskId}
    end
  end
end
return {0, 'empty'}
`, taskPrefix),

		TaskUpdate: fmt.Sprintf(`
local taskKey = KEYS[1]
local pending = KEYS[2]
local id = ARGV[1]
local priorityChanged = ARGV[2]
local newPriority = ARGV[3]
local nowIso = ARGV[4]

local status = redis.call('HGET', taskKey, 'status')
if not status then
  return {0, 'not_found'}
end
if status == 'completed' then
  return {0, 'completed'}
end

for i = 5, #ARGV, 2 do
  redis.call('HSET', taskKey, ARGV[i], ARGV[i + 1])
end
redis.call('HSET', taskKey, 'updatedAt', nowIso)

if priorityChanged == '1' and status == 'pending' then
  redis.call('ZADD', pending, -tonumber(newPriority), id)
end
return {1, 'ok'}
`),

		TaskComplete: fmt.Sprintf(`
local taskKey = KEYS[1]
local queueMetrics = KEYS[2]
local completions = KEYS[3]
local outcome = ARGV[1]
local result = ARGV[2]
local errMsg = ARGV[3]
local nowIso = ARGV[4]
local nowMs = tonumber(ARGV[5])
local id = ARGV[6]
local queuePrefix = %q
local instanceMetricsPrefix = %q

local status = redis.call('HGET', taskKey, 'status')
if not status then
  return {0, 'not_found'}
end
if status == 'completed' or status == 'failed' then
  return {0, 'already_terminal'}
end
local assignedTo = redis.call('HGET', taskKey, 'assignedTo')
if not assignedTo or assignedTo == '' then
  return {0, 'not_assigned'}
end
local workerQueue = queuePrefix .. assignedTo
local instanceMetrics = instanceMetricsPrefix .. assignedTo

local createdAtMs = tonumber(redis.call('HGET', taskKey, 'createdAtMs'))
local duration = nowMs - createdAtMs
redis.call('HSET', taskKey, 'status', outcome, 'completedAt', nowIso, 'duration', tostring(duration))
if outcome == 'completed' then
  redis.call('HSET', taskKey, 'result', result)
else
  redis.call('HSET', taskKey, 'error', errMsg)
end
redis.call('LREM', workerQueue, 0, id)
redis.call('HINCRBY', instanceMetrics, 'tasksCompleted', 1)
redis.call('HINCRBY', queueMetrics, 'tasksCompleted', 1)
redis.call('RPUSH', completions, cjson.encode({completedAt = nowIso, duration = duration, status = outcome}))
redis.call('LTRIM', completions, -1000, -1)
return {1, tostring(duration)}
`, queuePrefix, instanceMetricsPrefix),

		TaskReassign: fmt.Sprintf(`
local taskKey = KEYS[1]
local pending = KEYS[2]
local id = ARGV[1]
local target = ARGV[2]
local reason = ARGV[3]
local nowIso = ARGV[4]
local queuePrefix = %q

local status = redis.call('HGET', taskKey, 'status')
if not status then
  return {0, 'not_found'}
end

local denyJson = redis.call('HGET', taskKey, 'deny')
local deny = cjson.decode(denyJson ~= '' and denyJson or '[]')
local assignedTo = redis.call('HGET', taskKey, 'assignedTo')
if assignedTo and assignedTo ~= '' then
  local already = false
  for _, w in ipairs(deny) do
    if w == assignedTo then already = true end
  end
  if not already then
    table.insert(deny, assignedTo)
  end
  redis.call('LREM', queuePrefix .. assignedTo, 0, id)
end
redis.call('HSET', taskKey, 'deny', cjson.encode(deny), 'reassignedAt', nowIso, 'reassignReason', reason)

if target ~= '' then
  for _, w in ipairs(deny) do
    if w == target then
      return {0, 'target_denied'}
    end
  end
  redis.call('HSET', taskKey, 'status', 'in_progress', 'assignedTo', target, 'assignedAt', nowIso, 'updatedAt', nowIso)
  redis.call('RPUSH', queuePrefix .. target, id)
  return {1, target}
end

local priority = redis.call('HGET', taskKey, 'priority')
redis.call('HSET', taskKey, 'status', 'pending', 'assignedTo', '', 'updatedAt', nowIso)
redis.call('ZADD', pending, -tonumber(priority), id)
return {1, 'global'}
`, queuePrefix),

		TaskAssign: fmt.Sprintf(`
local taskKey = KEYS[1]
local pending = KEYS[2]
local id = ARGV[1]
local instanceId = ARGV[2]
local nowIso = ARGV[3]
local queuePrefix = %q

local status = redis.call('HGET', taskKey, 'status')
if not status then
  return {0, 'not_found'}
end
redis.call('ZREM', pending, id)
redis.call('HSET', taskKey, 'assignedTo', instanceId, 'status', 'in_progress', 'assignedAt', nowIso, 'updatedAt', nowIso)
redis.call('RPUSH', queuePrefix .. instanceId, id)
return {1, instanceId}
`, queuePrefix),

		TaskUnassign: fmt.Sprintf(`
local taskKey = KEYS[1]
local pending = KEYS[2]
local id = ARGV[1]
local nowIso = ARGV[2]
local queuePrefix = %q

local status = redis.call('HGET', taskKey, 'status')
if not status then
  return {0, 'not_found'}
end
local assignedTo = redis.call('HGET', taskKey, 'assignedTo')
if assignedTo and assignedTo ~= '' then
  redis.call('LREM', queuePrefix .. assignedTo, 0, id)
end
local priority = redis.call('HGET', taskKey, 'priority')
redis.call('HSET', taskKey, 'assignedTo', '', 'status', 'pending', 'updatedAt', nowIso)
redis.call('ZADD', pending, -tonumber(priority), id)
return {1, assignedTo or ''}
`, queuePrefix),

		TaskDelete: fmt.Sprintf(`
local taskKey = KEYS[1]
local pending = KEYS[2]
local id = ARGV[1]
local queuePrefix = %q

if redis.call('EXISTS', taskKey) == 0 then
  return {0, 'not_found'}
end
local assignedTo = redis.call('HGET', taskKey, 'assignedTo')
redis.call('ZREM', pending, id)
if assignedTo and assignedTo ~= '' then
  redis.call('LREM', queuePrefix .. assignedTo, 0, id)
end
redis.call('DEL', taskKey)
return {1, id}
`, queuePrefix),

		TaskAutoAssign: fmt.Sprintf(`
local pending = KEYS[1]
local workerQueue = KEYS[2]
local history = KEYS[3]
local workerId = ARGV[1]
local nowIso = ARGV[2]
local capacity = tonumber(ARGV[3])
local scanLimit = tonumber(ARGV[4])
local taskPrefix = %q

local currentLen = redis.call('LLEN', workerQueue)
if currentLen >= capacity then
  return {0, 'at_capacity'}
end

local candidates = redis.call('ZRANGE', pending, 0, scanLimit - 1)
for _, taskId in ipairs(candidates) do
  local taskKey = taskPrefix .. taskId
  local status = redis.call('HGET', taskKey, 'status')
  if not status or status ~= 'pending' then
    redis.call('ZREM', pending, taskId)
  else
    local denyJson = redis.call('HGET', taskKey, 'deny')
    local deny = cjson.decode(denyJson ~= '' and denyJson or '[]')
    local denied = false
    for _, w in ipairs(deny) do
      if w == workerId then denied = true end
    end
    if not denied then
      local removed = redis.call('ZREM', pending, taskId)
      if removed == 1 then
        redis.call('HSET', taskKey, 'assignedTo', workerId, 'assignedAt', nowIso, 'status', 'in_progress', 'updatedAt', nowIso)
        redis.call('RPUSH', workerQueue, taskId)
        redis.call('LPUSH', history, cjson.encode({taskId = taskId, workerId = workerId, at = nowIso, auto = true}))
        redis.call('LTRIM', history, 0, 999)
        return {1, taskId}
      end
    end
  end
end
return {0, 'none'}
`, taskPrefix),

		TaskReassignFailed: fmt.Sprintf(`
local failedQueue = KEYS[1]
local active = KEYS[2]
local instance = KEYS[3]
local redistributed = KEYS[4]
local failedId = ARGV[1]
local nowIso = ARGV[2]
local queuePrefix = %q
local taskPrefix = %q

redis.call('HSET', instance, 'health', 'OFFLINE', 'status', 'OFFLINE', 'updatedAt', nowIso)
redis.call('SREM', active, failedId)

local tasks = redis.call('LRANGE', failedQueue, 0, -1)
local targets = redis.call('SMEMBERS', active)
if #targets == 0 then
  return {1, '0'}
end

local idx = 1
local moved = 0
for _, taskId in ipairs(tasks) do
  local target = targets[idx]
  redis.call('RPUSH', queuePrefix .. target, taskId)
  redis.call('HSET', taskPrefix .. taskId, 'assignedTo', target, 'updatedAt', nowIso)
  redis.call('RPUSH', redistributed, cjson.encode({taskId = taskId, to = target, at = nowIso}))
  moved = moved + 1
  idx = idx + 1
  if idx > #targets then idx = 1 end
end
redis.call('DEL', failedQueue)
return {1, tostring(moved)}
`, queuePrefix, taskPrefix),

		SystemRegister: fmt.Sprintf(`
local instance = KEYS[1]
local active = KEYS[2]
local capabilities = KEYS[3]
local leaderCurrent = KEYS[4]
local leaderLock = KEYS[5]
local leaderEpoch = KEYS[6]
local id = ARGV[1]
local rolesJson = ARGV[2]
local nowIso = ARGV[3]
local nowMs = ARGV[4]
local instanceTtlSec = tonumber(ARGV[5])
local leaderLeaseSec = tonumber(ARGV[6])
local rolePrefix = ARGV[7]

redis.call('HSET', instance, 'id', id, 'roles', rolesJson, 'health', 'healthy', 'status', 'ACTIVE', 'lastSeen', nowMs, 'lastHeartbeat', nowIso, 'metadata', '{}')
redis.call('EXPIRE', instance, instanceTtlSec)
redis.call('SADD', active, id)
redis.call('SADD', capabilities, 'instance-' .. id)

local roles = cjson.decode(rolesJson ~= '' and rolesJson or '[]')
for _, role in ipairs(roles) do
  redis.call('SADD', rolePrefix .. role, id)
  redis.call('SADD', capabilities, role)
end

local becameLeader = 0
local current = redis.call('GET', leaderCurrent)
if not current then
  local gotLock = redis.call('SET', leaderLock, id, 'NX', 'EX', leaderLeaseSec)
  if gotLock then
    redis.call('SET', leaderCurrent, id, 'EX', leaderLeaseSec)
    redis.call('INCR', leaderEpoch)
    becameLeader = 1
  end
end
return {1, tostring(becameLeader)}
`),

		SystemHeartbeat: fmt.Sprintf(`
local instance = KEYS[1]
local gossip = KEYS[2]
local leaderCurrent = KEYS[3]
local leaderLock = KEYS[4]
local id = ARGV[1]
local nowIso = ARGV[2]
local nowMs = ARGV[3]
local instanceTtlSec = tonumber(ARGV[4])
local leaderLeaseSec = tonumber(ARGV[5])

if redis.call('EXISTS', instance) == 0 then
  return {0, 'not_registered'}
end
redis.call('HSET', instance, 'lastSeen', nowMs, 'lastHeartbeat', nowIso, 'health', 'healthy', 'status', 'ACTIVE')
redis.call('EXPIRE', instance, instanceTtlSec)
redis.call('HSET', gossip, id, cjson.encode({status = 'healthy', lastSeen = nowMs}))
redis.call('EXPIRE', gossip, 300)

local isLeader = 0
local current = redis.call('GET', leaderCurrent)
if current == id then
  redis.call('EXPIRE', leaderCurrent, leaderLeaseSec)
  redis.call('EXPIRE', leaderLock, leaderLeaseSec)
  isLeader = 1
end
return {1, tostring(isLeader)}
`),

		EventIsDuplicate: `
local processed = KEYS[1]
local eventId = ARGV[1]
local ttlSec = tonumber(ARGV[2])

local added = redis.call('SADD', processed, eventId)
redis.call('EXPIRE', processed, ttlSec)
if added == 0 then
  return {1, '1'}
end
return {1, '0'}
`,

		EventAddToPartition: `
local list = KEYS[1]
local payload = ARGV[1]

redis.call('RPUSH', list, payload)
redis.call('LTRIM', list, -1000, -1)
redis.call('EXPIRE', list, 3600)
return {1, 'ok'}
`,

		LeaderAcquire: `
local leaderCurrent = KEYS[1]
local leaderLock = KEYS[2]
local leaderEpoch = KEYS[3]
local id = ARGV[1]
local leaseSec = tonumber(ARGV[2])

local gotLock = redis.call('SET', leaderLock, id, 'NX', 'EX', leaseSec)
if not gotLock then
  local owner = redis.call('GET', leaderCurrent)
  return {0, owner or ''}
end
redis.call('SET', leaderCurrent, id, 'EX', leaseSec)
local epoch = redis.call('INCR', leaderEpoch)
return {1, tostring(epoch)}
`,

		LeaderRenew: `
local leaderCurrent = KEYS[1]
local leaderLock = KEYS[2]
local id = ARGV[1]
local leaseSec = tonumber(ARGV[2])

local current = redis.call('GET', leaderCurrent)
if current ~= id then
  return {0, current or ''}
end
redis.call('EXPIRE', leaderCurrent, leaseSec)
redis.call('EXPIRE', leaderLock, leaseSec)
return {1, 'ok'}
`,

		LeaderRelease: `
local leaderCurrent = KEYS[1]
local leaderLock = KEYS[2]
local id = ARGV[1]

local current = redis.call('GET', leaderCurrent)
if current == id then
  redis.call('DEL', leaderCurrent)
  redis.call('DEL', leaderLock)
  return {1, 'ok'}
end
return {0, 'not_owner'}
`,

		MetricsAggregate: `
local queueMetrics = KEYS[1]
local globalMetrics = KEYS[2]
local scalingMetrics = KEYS[3]
local pending = KEYS[4]
local active = KEYS[5]
local nowIso = ARGV[1]

local pendingDepth = redis.call('ZCARD', pending)
local activeInstances = redis.call('SCARD', active)
local totalTasks = redis.call('HGET', queueMetrics, 'totalTasks') or '0'
local completed = redis.call('HGET', queueMetrics, 'tasksCompleted') or '0'

redis.call('HSET', globalMetrics,
  'pendingDepth', tostring(pendingDepth),
  'activeInstances', tostring(activeInstances),
  'totalTasks', totalTasks,
  'tasksCompleted', completed,
  'updatedAt', nowIso)
redis.call('HSET', scalingMetrics, 'activeInstances', tostring(activeInstances), 'pendingDepth', tostring(pendingDepth))
return {1, tostring(pendingDepth)}
`,
	}
}
