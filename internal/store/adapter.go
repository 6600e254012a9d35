package store

import (
	"context"
	"time"
)

// StreamEntry is a single durable-stream record as returned by XRange.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// PubSubMessage is a single fan-out delivery.
type PubSubMessage struct {
	Channel string
	Pattern string
	Payload string
}

// Subscription is a live pub/sub binding. Messages arrive on Channel()
// until Close is called or the underlying connection is torn down.
type Subscription interface {
	Channel() <-chan PubSubMessage
	Close() error
}

// Adapter is the subset of store operations used by the atomic script
// library and the services that call it (spec.md §4.1): kv with TTL/NX,
// hash field ops including increments, sorted-set add/range/remove, list
// push/trim/pop/pos, set add/rem/ismember, stream append/range, pub/sub,
// and a script-eval primitive taking explicit key names plus argument
// strings so a clustered deployment can route by key.
type Adapter interface {
	// Key-value
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Hash
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Sorted set (pending priority queue)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRem(ctx context.Context, key string, member string) error
	ZCard(ctx context.Context, key string) (int64, error)

	// List (FIFO worker queues)
	LPush(ctx context.Context, key string, values ...string) error
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)

	// Set
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// Stream
	XAdd(ctx context.Context, key string, maxLen int64, fields map[string]string) (string, error)
	XRange(ctx context.Context, key, start, stop string, count int64) ([]StreamEntry, error)

	// Pub/sub. Publish runs on the command connection; Subscribe/PSubscribe
	// run on the dedicated subscriber connection (§4.1 three-connection
	// rule) so a blocked subscriber never stalls command traffic.
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)

	// Scripts. LoadScript registers a named script's source once at
	// startup (by SHA, where the store supports EVALSHA); EvalScript
	// invokes it by name with explicit key names and string arguments.
	LoadScript(ctx context.Context, name, source string) error
	EvalScript(ctx context.Context, name string, keys []string, args []interface{}) (interface{}, error)

	// Scan is used only by the maintained-index-adjacent cold paths that
	// the REDESIGN FLAGS accept for now (§9): janitor-style sweeps.
	Scan(ctx context.Context, pattern string) ([]string, error)

	Close() error
}
