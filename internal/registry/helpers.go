package registry

import "time"

// nowIsoForHandlers gives handler bodies registered in this package a
// timestamp for fields the underlying service call doesn't itself return
// (e.g. task.assign's assignedAt, which the script stamps internally but
// doesn't echo back through ParseResult's two-element tuple).
func nowIsoForHandlers() string { return time.Now().UTC().Format(time.RFC3339Nano) }
