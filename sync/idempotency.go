package sync

import (
	stdsync "sync"
	"time"
)

// IdempotencyEntry is the cached response for a previously executed
// operation, keyed by the caller's idempotency key.
type IdempotencyEntry struct {
	Key       string
	Payload   string // hash of the request payload that produced Response
	Response  any
	ExpiresAt time.Time
}

// Idempotency is the C5 key->response cache contract. Implementations
// must treat Has/Get/Set as atomic per key (§5) and expire entries lazily
// — sweep-on-access, no background goroutine (§4.5).
type Idempotency interface {
	Has(key string) bool
	Get(key string) (IdempotencyEntry, bool)
	Set(key string, entry IdempotencyEntry)
}

// memIdempotency is the default in-process Idempotency implementation.
// It suffices for single-node correctness; a pluggable backing store
// (e.g. one shared across processes) can replace it via Options.Idempotency.
type memIdempotency struct {
	mu      stdsync.Mutex
	entries map[string]IdempotencyEntry
	now     func() time.Time
}

func newMemIdempotency(now func() time.Time) *memIdempotency {
	if now == nil {
		now = time.Now
	}
	return &memIdempotency{entries: make(map[string]IdempotencyEntry), now: now}
}

func (m *memIdempotency) sweep(key string) {
	e, ok := m.entries[key]
	if ok && m.now().After(e.ExpiresAt) {
		delete(m.entries, key)
	}
}

func (m *memIdempotency) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(key)
	_, ok := m.entries[key]
	return ok
}

func (m *memIdempotency) Get(key string) (IdempotencyEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(key)
	e, ok := m.entries[key]
	return e, ok
}

func (m *memIdempotency) Set(key string, entry IdempotencyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
}
