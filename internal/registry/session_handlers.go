package registry

import (
	"github.com/claudebench/claudebench/internal/cberr"
	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/session"
)

// RegisterSessionHandlers declares session.get_context (spec.md §4.9)
// against proc, the one read operation the State Processor exposes
// beyond its background hook.*.executed subscription.
func RegisterSessionHandlers(r *Registry, proc *session.Processor) {
	r.MustRegister(handler.Descriptor{
		Event:       "session.get_context",
		Description: "Condensed session context, rebuilt from the stream when none is stored (snapshots are not read)",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "sessionId", Type: handler.TypeString, Required: true},
		}},
		RateLimit: 120,
		TimeoutMs: 3000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			sid, _ := params["sessionId"].(string)
			ctxState, err := proc.GetContext(ec.Ctx, sid)
			if err != nil {
				return nil, cberr.Internal("session.get_context", err)
			}
			return map[string]interface{}{
				"sessionId":   ctxState.SessionID,
				"lastPrompt":  ctxState.LastPrompt,
				"recentTools": ctxState.RecentTools,
				"activeTodos": ctxState.ActiveTodos,
				"eventCount":  ctxState.EventCount,
				"updatedAt":   ctxState.UpdatedAt,
			}, nil
		},
	})
}
