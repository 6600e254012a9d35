// Package task is the Task Subsystem (spec.md §4.3): the task record, its
// pending priority queue, per-worker FIFO queues, and the
// create/claim/update/complete/reassign/delete/auto_assign operations,
// all implemented by invoking named scripts from store/script so that a
// single server-side script is the sole writer of any key this package
// touches.
package task

import "encoding/json"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task mirrors the task:{id} hash shape from spec.md §3.
type Task struct {
	ID          string          `json:"id"`
	Text        string          `json:"text"`
	Priority    int             `json:"priority"`
	Status      Status          `json:"status"`
	AssignedTo  string          `json:"assignedTo,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"createdAt"`
	CreatedAtMs int64           `json:"createdAtMs"`
	UpdatedAt   string          `json:"updatedAt"`
	AssignedAt  string          `json:"assignedAt,omitempty"`
	CompletedAt string          `json:"completedAt,omitempty"`
	DurationMs  int64           `json:"duration,omitempty"`
	Deny        []string        `json:"deny"`
}

// fromHash decodes the flat string-map a store.Adapter.HGetAll call
// returns into a Task. Fields absent from the hash keep their zero value.
func fromHash(h map[string]string) *Task {
	t := &Task{
		ID:          h["id"],
		Text:        h["text"],
		Status:      Status(h["status"]),
		AssignedTo:  h["assignedTo"],
		Error:       h["error"],
		CreatedAt:   h["createdAt"],
		UpdatedAt:   h["updatedAt"],
		AssignedAt:  h["assignedAt"],
		CompletedAt: h["completedAt"],
	}
	if h["metadata"] != "" {
		t.Metadata = json.RawMessage(h["metadata"])
	}
	if h["result"] != "" {
		t.Result = json.RawMessage(h["result"])
	}
	if h["deny"] != "" {
		_ = json.Unmarshal([]byte(h["deny"]), &t.Deny)
	}
	if t.Deny == nil {
		t.Deny = []string{}
	}
	if v, ok := parseInt(h["priority"]); ok {
		t.Priority = v
	}
	if v, ok := parseInt64(h["createdAtMs"]); ok {
		t.CreatedAtMs = v
	}
	if v, ok := parseInt64(h["duration"]); ok {
		t.DurationMs = v
	}
	return t
}
