package sync

import (
	"testing"
	"time"
)

func TestMemIdempotencySetGet(t *testing.T) {
	m := newMemIdempotency(nil)
	m.Set("k1", IdempotencyEntry{Key: "k1", Response: "r1", ExpiresAt: time.Now().Add(time.Minute)})

	if !m.Has("k1") {
		t.Fatalf("expected Has to report the entry as live")
	}
	e, ok := m.Get("k1")
	if !ok || e.Response != "r1" {
		t.Fatalf("expected cached response r1, got %+v ok=%v", e, ok)
	}
}

func TestMemIdempotencySweepOnAccess(t *testing.T) {
	now := time.Now()
	clock := now
	m := newMemIdempotency(func() time.Time { return clock })
	m.Set("k1", IdempotencyEntry{Key: "k1", Response: "r1", ExpiresAt: now.Add(time.Millisecond)})

	clock = now.Add(time.Hour)
	if m.Has("k1") {
		t.Fatalf("expected expired entry to be swept")
	}
	if _, ok := m.Get("k1"); ok {
		t.Fatalf("expected expired entry to be gone")
	}
}
