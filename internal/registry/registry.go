// Package registry is the Registry & Dispatcher (spec.md §4.8):
// handlers self-declare by descriptor at startup, and Execute is the
// single entry point every transport and the scheduler use to invoke
// them. It never returns a transport-level object — only a typed result
// or a typed error.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/claudebench/claudebench/internal/cberr"
	"github.com/claudebench/claudebench/internal/handler"
)

// Registry is the name-indexed handler table.
type Registry struct {
	runtime *handler.Runtime

	mu          sync.RWMutex
	descriptors map[string]handler.Descriptor
}

func New(runtime *handler.Runtime) *Registry {
	return &Registry{runtime: runtime, descriptors: make(map[string]handler.Descriptor)}
}

// MustRegister registers d or panics — intended for startup wiring in
// cmd/claudebenchd where a duplicate event name is a programming error.
func (r *Registry) MustRegister(d handler.Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

func (r *Registry) Register(d handler.Descriptor) error {
	if d.Event == "" {
		return fmt.Errorf("registry: descriptor missing event name")
	}
	if d.Body == nil {
		return fmt.Errorf("registry: descriptor %q missing body", d.Event)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Event]; exists {
		return fmt.Errorf("registry: %q already registered", d.Event)
	}
	r.descriptors[d.Event] = d
	return nil
}

// Execute is the single entry point used by every transport and by the
// scheduler for internal calls (spec.md §4.8).
func (r *Registry) Execute(ctx context.Context, event string, params map[string]interface{}, caller handler.CallerMetadata) (map[string]interface{}, error) {
	r.mu.RLock()
	d, ok := r.descriptors[event]
	r.mu.RUnlock()
	if !ok {
		return nil, cberr.New(cberr.KindNotFound, "method not found").WithEvent(event)
	}
	callerKey, _ := caller["callerId"].(string)
	return r.runtime.Invoke(ctx, d, params, caller, callerKey)
}

// InventoryEntry is one row of the machine-readable inventory transports
// project as their own surface (spec.md §4.8).
type InventoryEntry struct {
	Event       string
	Description string
	RateLimit   int
}

func (r *Registry) Inventory() []InventoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]InventoryEntry, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		entries = append(entries, InventoryEntry{Event: d.Event, Description: d.Description, RateLimit: d.RateLimit})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Event < entries[j].Event })
	return entries
}
