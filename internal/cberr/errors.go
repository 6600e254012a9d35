// Package cberr defines the typed error kinds that cross every handler
// boundary in ClaudeBench. Scripts and store calls never escape as raw
// errors past the handler runtime; they are converted into one of these.
package cberr

import "fmt"

// Kind is a stable, transport-independent error classification.
type Kind string

const (
	KindInvalidParams     Kind = "InvalidParams"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindRateLimited       Kind = "RateLimited"
	KindTimeout           Kind = "Timeout"
	KindCircuitOpen       Kind = "CircuitOpen"
	KindUnauthorized      Kind = "Unauthorized"
	KindServiceUnavailable Kind = "ServiceUnavailable"
	KindInternal          Kind = "Internal"
)

// Code is the stable numeric code a transport projects the error as.
// JSON-RPC mapping per spec.md §6; non-JSON-RPC transports may reuse it
// or project the Kind string directly.
func (k Kind) Code() int {
	switch k {
	case KindInvalidParams:
		return -32602
	case KindNotFound:
		return -32001 // not part of the JSON-RPC reserved range; transport-specific
	case KindConflict:
		return -32002
	case KindRateLimited:
		return -32000
	case KindCircuitOpen:
		return -32001
	case KindUnauthorized:
		return -32002
	case KindTimeout:
		return -32603
	case KindServiceUnavailable:
		return -32603
	default:
		return -32603
	}
}

// Detail carries structured, kind-specific context: a field path for
// InvalidParams, remaining-ms for RateLimited, circuit state for
// CircuitOpen, and so on. It is never a free-form string so that every
// transport can render it without reparsing a message.
type Detail map[string]interface{}

// Error is the typed error every handler body and the runtime itself
// return instead of raw store/script errors.
type Error struct {
	Kind    Kind
	Event   string
	Message string
	Detail  Detail
}

func (e *Error) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("%s: %s: %s", e.Event, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WithDetail(kind Kind, message string, detail Detail) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail}
}

// WithEvent returns a copy of e stamped with event. e itself is left
// unmodified, since several of the sentinels below (ErrTaskNotFound and
// friends) are shared package-level values called from concurrent
// handlers with different events.
func (e *Error) WithEvent(event string) *Error {
	cp := *e
	cp.Event = event
	return &cp
}

// Is reports whether err is a *Error whose Kind is kind. Kind isn't an
// error itself, so errors.Is(err, kind) does not work; Is is the check to
// use. It does not unwrap errors that wrap a *Error.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// Internal wraps an opaque underlying error (e.g. a store/connection
// failure) as a redacted Internal error. The original message never
// crosses the handler boundary.
func Internal(event string, _ error) *Error {
	return &Error{Kind: KindInternal, Event: event, Message: "internal error"}
}

var (
	ErrTaskNotFound        = New(KindNotFound, "task not found")
	ErrTaskAlreadyCompleted = New(KindConflict, "task already completed")
	ErrTaskNotAssigned     = New(KindConflict, "task not assigned")
	ErrTargetDenied        = New(KindConflict, "target worker is denied for this task")
	ErrInstanceNotFound    = New(KindNotFound, "instance not registered")
)
