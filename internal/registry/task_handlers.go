package registry

import (
	"encoding/json"

	"github.com/claudebench/claudebench/internal/cberr"
	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/task"
)

// RegisterTaskHandlers declares every task.* operation from spec.md §6
// against svc, wiring the Task Subsystem into the dispatcher.
func RegisterTaskHandlers(r *Registry, svc *task.Service) {
	r.MustRegister(handler.Descriptor{
		Event:       "task.create",
		Description: "Create a task and enqueue it in the pending queue",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "text", Type: handler.TypeString, Required: true},
			{Name: "priority", Type: handler.TypeInt},
			{Name: "metadata", Type: handler.TypeObject},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
			{Name: "text", Type: handler.TypeString, Required: true},
			{Name: "status", Type: handler.TypeString, Required: true},
			{Name: "priority", Type: handler.TypeInt, Required: true},
			{Name: "createdAt", Type: handler.TypeString, Required: true},
		}},
		RateLimit:  120,
		TimeoutMs:  2000,
		CacheTTLMs: 0,
		Persist:    true,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			text, _ := params["text"].(string)
			priority := 50
			if p, ok := toInt(params["priority"]); ok {
				priority = p
			}
			var metadata json.RawMessage
			if m, ok := params["metadata"]; ok {
				b, err := json.Marshal(m)
				if err != nil {
					return nil, cberr.WithDetail(cberr.KindInvalidParams, "metadata must be JSON-encodable", nil)
				}
				metadata = b
			}
			t, err := svc.Create(ec.Ctx, text, priority, metadata)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": t.ID, "text": t.Text, "status": string(t.Status), "priority": t.Priority, "createdAt": t.CreatedAt}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.update",
		Description: "Apply a partial update to a task",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
			{Name: "updates", Type: handler.TypeObject, Required: true},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
			{Name: "text", Type: handler.TypeString, Required: true},
			{Name: "status", Type: handler.TypeString, Required: true},
			{Name: "priority", Type: handler.TypeInt, Required: true},
			{Name: "updatedAt", Type: handler.TypeString, Required: true},
			{Name: "createdAt", Type: handler.TypeString, Required: true},
		}},
		RateLimit: 120,
		TimeoutMs: 2000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			id, _ := params["id"].(string)
			updates, _ := params["updates"].(map[string]interface{})
			t, err := svc.Update(ec.Ctx, id, updates)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": t.ID, "text": t.Text, "status": string(t.Status), "priority": t.Priority, "updatedAt": t.UpdatedAt, "createdAt": t.CreatedAt}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.claim",
		Description: "Pull the highest-priority unclaimed task for a worker",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "workerId", Type: handler.TypeString, Required: true},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "claimed", Type: handler.TypeBool, Required: true},
			{Name: "taskId", Type: handler.TypeString},
			{Name: "task", Type: handler.TypeAny},
		}},
		RateLimit:   300,
		TimeoutMs:   1500,
		CircuitOpen: 5,
		Fallback:    map[string]interface{}{"claimed": false},
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			workerID, _ := params["workerId"].(string)
			claimed, t, err := svc.Claim(ec.Ctx, workerID)
			if err != nil {
				return nil, err
			}
			if !claimed {
				return map[string]interface{}{"claimed": false}, nil
			}
			return map[string]interface{}{"claimed": true, "taskId": t.ID, "task": t}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.complete",
		Description: "Mark a claimed task completed or failed",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString},
			{Name: "taskId", Type: handler.TypeString},
			{Name: "workerId", Type: handler.TypeString},
			{Name: "result", Type: handler.TypeObject},
			{Name: "error", Type: handler.TypeString},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
			{Name: "status", Type: handler.TypeString, Required: true},
			{Name: "completedAt", Type: handler.TypeString, Required: true},
		}},
		RateLimit: 300,
		TimeoutMs: 2000,
		Persist:   true,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			id, _ := params["id"].(string)
			if id == "" {
				id, _ = params["taskId"].(string)
			}
			errMsg, _ := params["error"].(string)
			var result json.RawMessage
			if r, ok := params["result"]; ok {
				b, err := json.Marshal(r)
				if err != nil {
					return nil, cberr.WithDetail(cberr.KindInvalidParams, "result must be JSON-encodable", nil)
				}
				result = b
			}
			// workerId is accepted for API compatibility (spec.md §6 lists it as
			// optional) but not forwarded: task.complete derives the worker
			// queue straight from the task's own assignedTo field instead.
			t, err := svc.Complete(ec.Ctx, id, result, errMsg)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": t.ID, "status": string(t.Status), "completedAt": t.CompletedAt}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.assign",
		Description: "Explicitly assign a task to an instance",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "taskId", Type: handler.TypeString, Required: true},
			{Name: "instanceId", Type: handler.TypeString, Required: true},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "taskId", Type: handler.TypeString, Required: true},
			{Name: "instanceId", Type: handler.TypeString, Required: true},
			{Name: "assignedAt", Type: handler.TypeString, Required: true},
		}},
		RateLimit: 120,
		TimeoutMs: 1500,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			taskID, _ := params["taskId"].(string)
			instanceID, _ := params["instanceId"].(string)
			if err := svc.Assign(ec.Ctx, taskID, instanceID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"taskId": taskID, "instanceId": instanceID, "assignedAt": nowIsoForHandlers()}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.unassign",
		Description: "Revert a task's current assignment to pending",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "taskId", Type: handler.TypeString, Required: true},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "taskId", Type: handler.TypeString, Required: true},
			{Name: "previousAssignment", Type: handler.TypeString},
			{Name: "unassignedAt", Type: handler.TypeString, Required: true},
		}},
		RateLimit: 120,
		TimeoutMs: 1500,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			taskID, _ := params["taskId"].(string)
			previous, err := svc.Unassign(ec.Ctx, taskID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"taskId": taskID, "previousAssignment": previous, "unassignedAt": nowIsoForHandlers()}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.delete",
		Description: "Delete a task and its queue memberships",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
			{Name: "deleted", Type: handler.TypeBool, Required: true},
			{Name: "deletedAt", Type: handler.TypeString, Required: true},
		}},
		RateLimit: 120,
		TimeoutMs: 1500,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			id, _ := params["id"].(string)
			if err := svc.Delete(ec.Ctx, id); err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": id, "deleted": true, "deletedAt": nowIsoForHandlers()}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.list",
		Description: "List tasks with simple status/assignee filters",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "status", Type: handler.TypeString},
			{Name: "assignedTo", Type: handler.TypeString},
			{Name: "limit", Type: handler.TypeInt},
			{Name: "offset", Type: handler.TypeInt},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "tasks", Type: handler.TypeAny, Required: true},
			{Name: "totalCount", Type: handler.TypeInt, Required: true},
			{Name: "hasMore", Type: handler.TypeBool, Required: true},
		}},
		RateLimit:  300,
		TimeoutMs:  3000,
		CacheTTLMs: 1000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			filter := task.ListFilter{}
			if s, ok := params["status"].(string); ok {
				filter.Status = task.Status(s)
			}
			if a, ok := params["assignedTo"].(string); ok {
				filter.AssignedTo = a
			}
			if l, ok := toInt(params["limit"]); ok {
				filter.Limit = l
			}
			if o, ok := toInt(params["offset"]); ok {
				filter.Offset = o
			}
			tasks, total, err := svc.List(ec.Ctx, filter)
			if err != nil {
				return nil, err
			}
			hasMore := filter.Limit > 0 && filter.Offset+len(tasks) < total
			return map[string]interface{}{"tasks": tasks, "totalCount": total, "hasMore": hasMore}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.reassign",
		Description: "Move a task off its current worker, deny-list aware",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
			{Name: "target", Type: handler.TypeString},
			{Name: "reason", Type: handler.TypeString},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
			{Name: "reassignedTo", Type: handler.TypeString, Required: true},
		}},
		RateLimit: 120,
		TimeoutMs: 1500,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			id, _ := params["id"].(string)
			target, _ := params["target"].(string)
			reason, _ := params["reason"].(string)
			to, err := svc.Reassign(ec.Ctx, id, target, reason)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": id, "reassignedTo": to}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.auto_assign",
		Description: "Claim a pending task on behalf of an idle worker, scheduler-triggered",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "workerId", Type: handler.TypeString, Required: true},
			{Name: "capacity", Type: handler.TypeInt},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "assigned", Type: handler.TypeBool, Required: true},
			{Name: "taskId", Type: handler.TypeString},
		}},
		RateLimit: 600,
		TimeoutMs: 1500,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			workerID, _ := params["workerId"].(string)
			capacity := 1
			if c, ok := toInt(params["capacity"]); ok {
				capacity = c
			}
			assigned, id, err := svc.AutoAssign(ec.Ctx, workerID, capacity)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"assigned": assigned, "taskId": id}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "task.reassign_failed",
		Description: "Mark an instance offline and redistribute its queue",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "workerId", Type: handler.TypeString, Required: true},
		}},
		OutputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "workerId", Type: handler.TypeString, Required: true},
			{Name: "redistributed", Type: handler.TypeInt, Required: true},
		}},
		RateLimit: 60,
		TimeoutMs: 3000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			workerID, _ := params["workerId"].(string)
			moved, err := svc.ReassignFailed(ec.Ctx, workerID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"workerId": workerID, "redistributed": moved}, nil
		},
	})
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
