package script

import (
	"context"
	"fmt"

	"github.com/claudebench/claudebench/internal/store"
)

// LoadAll preloads every script in the library under its symbolic name,
// the way the teacher's NewRedisStore preloads versionedSetScript and
// versionedGetScript once at construction rather than shipping Lua text on
// every call.
func LoadAll(ctx context.Context, adapter store.Adapter) error {
	for name, source := range Sources(store.Namespace()) {
		if err := adapter.LoadScript(ctx, name, source); err != nil {
			return fmt.Errorf("script: load %s: %w", name, err)
		}
	}
	return nil
}

// Result is the {ok, detail} tuple every script in this library returns
// (spec.md §4.2). ok=0 means the caller should raise a typed error built
// from Detail; ok=1 means Detail carries the script's success payload
// (an id, a count, a state name — whatever that operation documents).
type Result struct {
	OK     bool
	Detail string
}

// ParseResult converts the raw EvalScript return value (a two-element
// Lua table decoded by go-redis as []interface{}) into a Result.
func ParseResult(raw interface{}) (Result, error) {
	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 2 {
		return Result{}, fmt.Errorf("script: unexpected result shape %#v", raw)
	}
	okVal, ok := arr[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("script: unexpected ok field %#v", arr[0])
	}
	detail, _ := arr[1].(string)
	return Result{OK: okVal == 1, Detail: detail}, nil
}
