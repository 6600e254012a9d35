package registry

import (
	"github.com/claudebench/claudebench/internal/cberr"
	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/instance"
	"github.com/claudebench/claudebench/internal/store"
)

// RegisterSystemHandlers declares every system.* operation from spec.md
// §4.4 against mgr, wiring the Instance Manager into the dispatcher.
func RegisterSystemHandlers(r *Registry, mgr *instance.Manager) {
	r.MustRegister(handler.Descriptor{
		Event:       "system.register",
		Description: "Register an instance and, if none exists, contend for leadership",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
			{Name: "roles", Type: handler.TypeArray},
		}},
		RateLimit: 60,
		TimeoutMs: 2000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			id, _ := params["id"].(string)
			roles := stringSlice(params["roles"])
			becameLeader, err := mgr.Register(ec.Ctx, id, roles)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": id, "registered": true, "leader": becameLeader}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "system.heartbeat",
		Description: "Refresh an instance's liveness lease and leadership lease",
		InputSchema: handler.Schema{Fields: []handler.Field{
			{Name: "id", Type: handler.TypeString, Required: true},
		}},
		RateLimit: 300,
		TimeoutMs: 1500,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			id, _ := params["id"].(string)
			isLeader, err := mgr.Heartbeat(ec.Ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": id, "alive": true, "leader": isLeader}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "system.check_health",
		Description: "Classify every active instance as healthy, degraded, or failed",
		RateLimit:   30,
		TimeoutMs:   5000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			healthy, degraded, failed, err := mgr.CheckHealth(ec.Ctx)
			if err != nil {
				return nil, cberr.Internal("system.check_health", err)
			}
			return map[string]interface{}{"healthy": healthy, "degraded": degraded, "failed": failed}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "system.health",
		Description: "Aggregated health snapshot: active instance count and partition flags",
		RateLimit:   120,
		TimeoutMs:   1000,
		CacheTTLMs:  1000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			active, err := ec.Adapter.SMembers(ec.Ctx, store.ActiveInstancesKey())
			if err != nil {
				return nil, cberr.Internal("system.health", err)
			}
			_, detected, _ := ec.Adapter.Get(ec.Ctx, store.PartitionDetectedKey())
			_, recovering, _ := ec.Adapter.Get(ec.Ctx, store.PartitionRecoveryKey())
			return map[string]interface{}{
				"activeInstances":   len(active),
				"partitionDetected": detected,
				"partitionRecovery": recovering,
			}, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "system.get_state",
		Description: "Latest state:global snapshot written by the sync-state job",
		RateLimit:   120,
		TimeoutMs:   1000,
		CacheTTLMs:  1000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			state, err := ec.Adapter.HGetAll(ec.Ctx, store.GlobalStateKey())
			if err != nil {
				return nil, cberr.Internal("system.get_state", err)
			}
			quorum, err := ec.Adapter.HGetAll(ec.Ctx, store.QuorumKey())
			if err != nil {
				return nil, cberr.Internal("system.get_state", err)
			}
			out := make(map[string]interface{}, len(state)+1)
			for k, v := range state {
				out[k] = v
			}
			out["quorum"] = quorum
			return out, nil
		},
	})

	r.MustRegister(handler.Descriptor{
		Event:       "system.metrics",
		Description: "Latest metrics:global and metrics:scaling snapshot written by the aggregate-metrics job",
		RateLimit:   120,
		TimeoutMs:   1000,
		CacheTTLMs:  1000,
		Body: func(ec *handler.EventContext, params map[string]interface{}) (map[string]interface{}, error) {
			global, err := ec.Adapter.HGetAll(ec.Ctx, store.GlobalMetricsKey())
			if err != nil {
				return nil, cberr.Internal("system.metrics", err)
			}
			scaling, err := ec.Adapter.HGetAll(ec.Ctx, store.ScalingMetricsKey())
			if err != nil {
				return nil, cberr.Internal("system.metrics", err)
			}
			return map[string]interface{}{"global": global, "scaling": scaling}, nil
		},
	})
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
