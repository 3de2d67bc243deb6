package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// Memory is an in-process Store backend with the same semantics as the
// Redis one, used by tests and local development. It additionally
// exposes TTL inspection, which tests use to assert TTL hygiene.
type Memory struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	lists    map[string][]string
	counters map[string]int64
	ttls     map[string]time.Duration
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		hashes:   make(map[string]map[string]string),
		lists:    make(map[string][]string),
		counters: make(map[string]int64),
		ttls:     make(map[string]time.Duration),
	}
}

func (m *Memory) HashSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists(key), nil
}

func (m *Memory) exists(key string) bool {
	if _, ok := m.hashes[key]; ok {
		return true
	}
	if l, ok := m.lists[key]; ok && len(l) > 0 {
		return true
	}
	_, ok := m.counters[key]
	return ok
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.hashes, key)
		delete(m.lists, key)
		delete(m.counters, key)
		delete(m.ttls, key)
	}
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttls[key] = ttl
	return nil
}

// ScanKeys matches keys with path.Match, which covers the "prefix:*"
// patterns this service uses.
func (m *Memory) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	seen := make(map[string]bool)
	match := func(key string) {
		if seen[key] {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
			seen[key] = true
		}
	}
	for k := range m.hashes {
		match(k)
	}
	for k, l := range m.lists {
		if len(l) > 0 {
			match(k)
		}
	}
	for k := range m.counters {
		match(k)
	}
	return keys, nil
}

func (m *Memory) ListPushFront(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]string{value}, m.lists[key]...)
	return nil
}

func (m *Memory) ListTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.lists[key]
	if l == nil {
		return nil
	}
	n := int64(len(l))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if start >= n || start > stop {
		m.lists[key] = nil
		return nil
	}
	if stop >= n {
		stop = n - 1
	}
	m.lists[key] = l[start : stop+1]
	return nil
}

func (m *Memory) ListLength(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *Memory) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if n == 0 || start >= n || start > stop {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// TTL reports the last TTL set on a key, or zero if none was set.
// Test-only inspection; the interface does not expose it.
func (m *Memory) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}
