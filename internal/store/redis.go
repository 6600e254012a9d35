package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/claudebench/claudebench/internal/observability"
)

// RedisAdapter implements Adapter over go-redis. It opens three logical
// connections (command, publisher, subscriber) per spec.md §4.1 so that a
// subscriber blocked on PSUBSCRIBE can never stall the command or publish
// path — the same separation the teacher keeps implicit in a single
// *redis.Client pool, made explicit here because ClaudeBench's event bus
// runs a long-lived pattern subscription for its whole lifetime.
type RedisAdapter struct {
	cmd *redis.Client
	pub *redis.Client
	sub *redis.Client

	mu      sync.RWMutex
	shas    map[string]string
	sources map[string]string
}

func NewRedisAdapter(addr, password string, db int) (*RedisAdapter, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	a := &RedisAdapter{
		cmd:     redis.NewClient(opts),
		pub:     redis.NewClient(opts),
		sub:     redis.NewClient(opts),
		shas:    make(map[string]string),
		sources: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.cmd.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *RedisAdapter) observe(start time.Time) {
	observability.RedisLatency.Observe(time.Since(start).Seconds())
}

func (a *RedisAdapter) Close() error {
	_ = a.sub.Close()
	_ = a.pub.Close()
	return a.cmd.Close()
}

// --- Key-value ---

func (a *RedisAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	defer a.observe(time.Now())
	val, err := a.cmd.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (a *RedisAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	defer a.observe(time.Now())
	return a.cmd.Set(ctx, key, value, ttl).Err()
}

func (a *RedisAdapter) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer a.observe(time.Now())
	return a.cmd.SetNX(ctx, key, value, ttl).Result()
}

func (a *RedisAdapter) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	defer a.observe(time.Now())
	return a.cmd.Del(ctx, keys...).Err()
}

func (a *RedisAdapter) Incr(ctx context.Context, key string) (int64, error) {
	defer a.observe(time.Now())
	return a.cmd.Incr(ctx, key).Result()
}

func (a *RedisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	defer a.observe(time.Now())
	return a.cmd.Expire(ctx, key, ttl).Err()
}

func (a *RedisAdapter) TTL(ctx context.Context, key string) (time.Duration, error) {
	defer a.observe(time.Now())
	return a.cmd.TTL(ctx, key).Result()
}

func (a *RedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	defer a.observe(time.Now())
	n, err := a.cmd.Exists(ctx, key).Result()
	return n > 0, err
}

// --- Hash ---

func (a *RedisAdapter) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	defer a.observe(time.Now())
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return a.cmd.HSet(ctx, key, args...).Err()
}

func (a *RedisAdapter) HGet(ctx context.Context, key, field string) (string, bool, error) {
	defer a.observe(time.Now())
	val, err := a.cmd.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (a *RedisAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	defer a.observe(time.Now())
	return a.cmd.HGetAll(ctx, key).Result()
}

func (a *RedisAdapter) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	defer a.observe(time.Now())
	return a.cmd.HIncrBy(ctx, key, field, delta).Result()
}

func (a *RedisAdapter) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	defer a.observe(time.Now())
	return a.cmd.HDel(ctx, key, fields...).Err()
}

// --- Sorted set ---

func (a *RedisAdapter) ZAdd(ctx context.Context, key string, score float64, member string) error {
	defer a.observe(time.Now())
	return a.cmd.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (a *RedisAdapter) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	defer a.observe(time.Now())
	return a.cmd.ZRange(ctx, key, start, stop).Result()
}

func (a *RedisAdapter) ZRem(ctx context.Context, key string, member string) error {
	defer a.observe(time.Now())
	return a.cmd.ZRem(ctx, key, member).Err()
}

func (a *RedisAdapter) ZCard(ctx context.Context, key string) (int64, error) {
	defer a.observe(time.Now())
	return a.cmd.ZCard(ctx, key).Result()
}

// --- List ---

func (a *RedisAdapter) LPush(ctx context.Context, key string, values ...string) error {
	defer a.observe(time.Now())
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return a.cmd.LPush(ctx, key, vals...).Err()
}

func (a *RedisAdapter) RPush(ctx context.Context, key string, values ...string) error {
	defer a.observe(time.Now())
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return a.cmd.RPush(ctx, key, vals...).Err()
}

func (a *RedisAdapter) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	defer a.observe(time.Now())
	return a.cmd.LRange(ctx, key, start, stop).Result()
}

func (a *RedisAdapter) LRem(ctx context.Context, key string, count int64, value string) error {
	defer a.observe(time.Now())
	return a.cmd.LRem(ctx, key, count, value).Err()
}

func (a *RedisAdapter) LTrim(ctx context.Context, key string, start, stop int64) error {
	defer a.observe(time.Now())
	return a.cmd.LTrim(ctx, key, start, stop).Err()
}

func (a *RedisAdapter) LLen(ctx context.Context, key string) (int64, error) {
	defer a.observe(time.Now())
	return a.cmd.LLen(ctx, key).Result()
}

// --- Set ---

func (a *RedisAdapter) SAdd(ctx context.Context, key string, members ...string) error {
	defer a.observe(time.Now())
	vals := make([]interface{}, len(members))
	for i, v := range members {
		vals[i] = v
	}
	return a.cmd.SAdd(ctx, key, vals...).Err()
}

func (a *RedisAdapter) SRem(ctx context.Context, key string, members ...string) error {
	defer a.observe(time.Now())
	vals := make([]interface{}, len(members))
	for i, v := range members {
		vals[i] = v
	}
	return a.cmd.SRem(ctx, key, vals...).Err()
}

func (a *RedisAdapter) SIsMember(ctx context.Context, key, member string) (bool, error) {
	defer a.observe(time.Now())
	return a.cmd.SIsMember(ctx, key, member).Result()
}

func (a *RedisAdapter) SMembers(ctx context.Context, key string) ([]string, error) {
	defer a.observe(time.Now())
	return a.cmd.SMembers(ctx, key).Result()
}

// --- Stream ---

func (a *RedisAdapter) XAdd(ctx context.Context, key string, maxLen int64, fields map[string]string) (string, error) {
	defer a.observe(time.Now())
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	args := &redis.XAddArgs{Stream: key, Values: values}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return a.cmd.XAdd(ctx, args).Result()
}

func (a *RedisAdapter) XRange(ctx context.Context, key, start, stop string, count int64) ([]StreamEntry, error) {
	defer a.observe(time.Now())
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = a.cmd.XRangeN(ctx, key, start, stop, count).Result()
	} else {
		msgs, err = a.cmd.XRange(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, err
	}
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			fields[k] = toString(v)
		}
		out = append(out, StreamEntry{ID: m.ID, Fields: fields})
	}
	return out, nil
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// --- Pub/sub ---

func (a *RedisAdapter) Publish(ctx context.Context, channel, payload string) error {
	defer a.observe(time.Now())
	return a.pub.Publish(ctx, channel, payload).Err()
}

type redisSubscription struct {
	sub *redis.PubSub
	ch  chan PubSubMessage
}

func (s *redisSubscription) Channel() <-chan PubSubMessage { return s.ch }
func (s *redisSubscription) Close() error                  { return s.sub.Close() }

func (a *RedisAdapter) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := a.sub.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, err
	}
	return a.wrap(ps), nil
}

func (a *RedisAdapter) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	ps := a.sub.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, err
	}
	return a.wrap(ps), nil
}

func (a *RedisAdapter) wrap(ps *redis.PubSub) Subscription {
	out := make(chan PubSubMessage, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- PubSubMessage{Channel: msg.Channel, Pattern: msg.Pattern, Payload: msg.Payload}
		}
	}()
	return &redisSubscription{sub: ps, ch: out}
}

// --- Scripts ---

func (a *RedisAdapter) LoadScript(ctx context.Context, name, source string) error {
	sha, err := a.cmd.ScriptLoad(ctx, source).Result()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.shas[name] = sha
	a.sources[name] = source
	a.mu.Unlock()
	return nil
}

func (a *RedisAdapter) EvalScript(ctx context.Context, name string, keys []string, args []interface{}) (interface{}, error) {
	a.mu.RLock()
	sha, ok := a.shas[name]
	source := a.sources[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: script %q was never loaded", name)
	}

	defer a.observe(time.Now())
	res, err := a.cmd.EvalSha(ctx, sha, keys, args...).Result()
	if err != nil && strings.Contains(err.Error(), "NOSCRIPT") {
		log.Warn().Str("script", name).Msg("store: script cache miss, reloading")
		newSha, loadErr := a.cmd.ScriptLoad(ctx, source).Result()
		if loadErr != nil {
			return nil, loadErr
		}
		a.mu.Lock()
		a.shas[name] = newSha
		a.mu.Unlock()
		return a.cmd.EvalSha(ctx, newSha, keys, args...).Result()
	}
	return res, err
}

func (a *RedisAdapter) Scan(ctx context.Context, pattern string) ([]string, error) {
	defer a.observe(time.Now())
	var keys []string
	iter := a.cmd.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

