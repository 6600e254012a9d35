// Package storetest is a hand-rolled in-memory store.Adapter, grounded on
// the teacher's own preference for plain stand-in types over a mocking
// framework (resilience/reconciliation_test.go, scheduler/scheduler_test.go
// both hand-roll their fakes rather than importing one). It gives every
// service package under internal/ something to run its Go-side orchestration
// logic against without a live Redis. The atomic scripts themselves are
// data, not Go under test here: callers register per-script behavior via
// Scripts, the same way the teacher's tests stub out a dependency's return
// value rather than reimplementing it. Publish/Subscribe/PSubscribe are a
// real in-process pub/sub, so eventbus tests can exercise actual delivery.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/claudebench/claudebench/internal/store"
)

// ScriptFunc implements one named atomic script's Go-visible contract: the
// keys/args EvalScript was called with, and the raw result shape
// script.ParseResult expects back ([]interface{}{ok int64, detail string}).
type ScriptFunc func(keys []string, args []interface{}) (interface{}, error)

// Call records one EvalScript invocation for assertions.
type Call struct {
	Script string
	Keys   []string
	Args   []interface{}
}

// Fake is an in-memory store.Adapter.
type Fake struct {
	mu sync.Mutex

	kv      map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	lists   map[string][]string
	streams map[string][]store.StreamEntry

	Scripts map[string]ScriptFunc
	Calls   []Call

	subs []*fakeSub
	seq  int
}

// fakeSub is one live Subscribe/PSubscribe binding.
type fakeSub struct {
	pattern string // exact channel name, or a filepath.Match glob when isGlob
	isGlob  bool
	sub     *fakeSubscription
}

func New() *Fake {
	return &Fake{
		kv:      map[string]string{},
		hashes:  map[string]map[string]string{},
		sets:    map[string]map[string]struct{}{},
		zsets:   map[string]map[string]float64{},
		lists:   map[string][]string{},
		streams: map[string][]store.StreamEntry{},
		Scripts: map[string]ScriptFunc{},
	}
}

func (f *Fake) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	return v, ok, nil
}

func (f *Fake) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return nil
}

func (f *Fake) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kv[key]; ok {
		return false, nil
	}
	f.kv[key] = value
	return true, nil
}

func (f *Fake) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
		delete(f.hashes, k)
		delete(f.sets, k)
		delete(f.zsets, k)
		delete(f.lists, k)
		delete(f.streams, k)
	}
	return nil
}

func (f *Fake) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	fmt.Sscanf(f.kv[key], "%d", &n)
	n++
	f.kv[key] = fmt.Sprintf("%d", n)
	return n, nil
}

func (f *Fake) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }

func (f *Fake) TTL(ctx context.Context, key string) (time.Duration, error) { return 0, nil }

func (f *Fake) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kv[key]; ok {
		return true, nil
	}
	if h, ok := f.hashes[key]; ok && len(h) > 0 {
		return true, nil
	}
	return false, nil
}

func (f *Fake) HSet(ctx context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (f *Fake) HGet(ctx context.Context, key, field string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (f *Fake) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	var n int64
	fmt.Sscanf(h[field], "%d", &n)
	n += delta
	h[field] = fmt.Sprintf("%d", n)
	return n, nil
}

func (f *Fake) HDel(ctx context.Context, key string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return nil
	}
	for _, field := range fields {
		delete(h, field)
	}
	return nil
}

func (f *Fake) ZAdd(ctx context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zsets[key]
	if !ok {
		z = map[string]float64{}
		f.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (f *Fake) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	for m, s := range f.zsets[key] {
		pairs = append(pairs, pair{m, s})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score < pairs[j].score
		}
		return pairs[i].member < pairs[j].member
	})
	members := make([]string, len(pairs))
	for i, p := range pairs {
		members[i] = p.member
	}
	return sliceRange(members, start, stop), nil
}

func (f *Fake) ZRem(ctx context.Context, key string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.zsets[key], member)
	return nil
}

func (f *Fake) ZCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.zsets[key])), nil
}

func (f *Fake) LPush(ctx context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append([]string{v}, f.lists[key]...)
	}
	return nil
}

func (f *Fake) RPush(ctx context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], values...)
	return nil
}

func (f *Fake) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sliceRange(f.lists[key], start, stop), nil
}

func (f *Fake) LRem(ctx context.Context, key string, count int64, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	removed := int64(0)
	for _, v := range f.lists[key] {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	f.lists[key] = out
	return nil
}

func (f *Fake) LTrim(ctx context.Context, key string, start, stop int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = sliceRange(f.lists[key], start, stop)
	return nil
}

func (f *Fake) LLen(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *Fake) SAdd(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sets[key]
	if !ok {
		s = map[string]struct{}{}
		f.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (f *Fake) SRem(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], m)
	}
	return nil
}

func (f *Fake) SIsMember(ctx context.Context, key, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sets[key][member]
	return ok, nil
}

func (f *Fake) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (f *Fake) XAdd(ctx context.Context, key string, maxLen int64, fields map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("%d-0", f.seq)
	cp := map[string]string{}
	for k, v := range fields {
		cp[k] = v
	}
	f.streams[key] = append(f.streams[key], store.StreamEntry{ID: id, Fields: cp})
	if maxLen > 0 && int64(len(f.streams[key])) > maxLen {
		f.streams[key] = f.streams[key][int64(len(f.streams[key]))-maxLen:]
	}
	return id, nil
}

func (f *Fake) XRange(ctx context.Context, key, start, stop string, count int64) ([]store.StreamEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.streams[key]
	if count > 0 && int64(len(entries)) > count {
		entries = entries[:count]
	}
	out := make([]store.StreamEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// fakeSubscription is a real, in-process Subscription: Publish delivers to
// every live fakeSub whose pattern matches, on a buffered channel so a
// publish from the test goroutine doesn't need a concurrent reader.
type fakeSubscription struct {
	ch chan store.PubSubMessage
}

func (s *fakeSubscription) Channel() <-chan store.PubSubMessage { return s.ch }
func (s *fakeSubscription) Close() error                        { close(s.ch); return nil }

func (f *Fake) Publish(ctx context.Context, channel, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		matched := s.pattern == channel
		if s.isGlob {
			matched, _ = filepath.Match(s.pattern, channel)
		}
		if !matched {
			continue
		}
		select {
		case s.sub.ch <- store.PubSubMessage{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (f *Fake) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSubscription{ch: make(chan store.PubSubMessage, 32)}
	f.subs = append(f.subs, &fakeSub{pattern: channel, sub: sub})
	return sub, nil
}

func (f *Fake) PSubscribe(ctx context.Context, pattern string) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSubscription{ch: make(chan store.PubSubMessage, 32)}
	f.subs = append(f.subs, &fakeSub{pattern: pattern, isGlob: true, sub: sub})
	return sub, nil
}

func (f *Fake) LoadScript(ctx context.Context, name, source string) error { return nil }

func (f *Fake) EvalScript(ctx context.Context, name string, keys []string, args []interface{}) (interface{}, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Script: name, Keys: keys, Args: args})
	fn := f.Scripts[name]
	f.mu.Unlock()
	if fn == nil {
		return []interface{}{int64(0), "not_stubbed:" + name}, nil
	}
	return fn(keys, args)
}

// Scan matches real Redis SCAN in covering the whole keyspace regardless
// of type, not just hashes.
func (f *Fake) Scan(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]struct{}{}
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		if ok, _ := filepath.Match(pattern, k); ok {
			seen[k] = struct{}{}
		}
	}
	for k := range f.kv {
		add(k)
	}
	for k := range f.hashes {
		add(k)
	}
	for k := range f.sets {
		add(k)
	}
	for k := range f.zsets {
		add(k)
	}
	for k := range f.lists {
		add(k)
	}
	for k := range f.streams {
		add(k)
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (f *Fake) Close() error { return nil }

func sliceRange(s []string, start, stop int64) []string {
	n := int64(len(s))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	out := make([]string, stop-start+1)
	copy(out, s[start:stop+1])
	return out
}

// Ok builds the []interface{}{1, detail} success tuple script.ParseResult
// expects.
func Ok(detail string) (interface{}, error) { return []interface{}{int64(1), detail}, nil }

// Fail builds the []interface{}{0, detail} failure tuple.
func Fail(detail string) (interface{}, error) { return []interface{}{int64(0), detail}, nil }
