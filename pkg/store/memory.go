package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Client with the same expiry and consume semantics
// as the Redis implementation.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source; tests use it to exercise expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) get(key string) (string, bool) {
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) set(key, value string, ttl time.Duration) {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *Memory) SetFlag(_ context.Context, callID, name string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	m.mu.Lock()
	m.set(flagKey(callID, name), "1", ttl)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ConsumeFlag(_ context.Context, callID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := flagKey(callID, name)
	_, ok := m.get(key)
	if ok {
		delete(m.entries, key)
	}
	return ok, nil
}

func (m *Memory) IncrProgress(_ context.Context, callID string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := progressKey(callID)
	cur, _ := m.get(key)
	n, _ := strconv.ParseInt(cur, 10, 64)
	n++
	m.set(key, strconv.FormatInt(n, 10), ttl)
	return n, nil
}

func (m *Memory) SetCallMeta(_ context.Context, callID, field, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.set(metaKey(callID, field), value, ttl)
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetCallMeta(_ context.Context, callID, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, _ := m.get(metaKey(callID, field))
	return val, nil
}

func (m *Memory) Close() error { return nil }

var _ Client = (*Memory)(nil)
