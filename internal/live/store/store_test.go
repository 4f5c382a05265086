package store

import (
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "live.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	now := time.UnixMilli(1700000000000)
	if err := s.Put("socket_cache_chat_s1", []byte(`{"a":1}`), now); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, updatedAt, err := s.Get("socket_cache_chat_s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `{"a":1}` {
		t.Errorf("value = %s, want {\"a\":1}", value)
	}
	if !updatedAt.Equal(now) {
		t.Errorf("updatedAt = %v, want %v", updatedAt, now)
	}
}

func TestKVReplaceWholesale(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Put("k", []byte("old"), time.UnixMilli(1)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("k", []byte("new"), time.UnixMilli(2)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, updatedAt, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "new" {
		t.Errorf("value = %s, want new", value)
	}
	if updatedAt.UnixMilli() != 2 {
		t.Errorf("updatedAt = %d, want 2", updatedAt.UnixMilli())
	}
}

func TestKVGetMissing(t *testing.T) {
	s := setupTestStore(t)

	value, _, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != nil {
		t.Errorf("value = %v, want nil", value)
	}
}

func TestKVDelete(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Put("k", []byte("v"), time.Now()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	value, _, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != nil {
		t.Errorf("value = %v after delete, want nil", value)
	}

	// Deleting again is not an error.
	if err := s.Delete("k"); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func TestOutboxFIFO(t *testing.T) {
	s := setupTestStore(t)

	for i, name := range []string{"chat.item.send", "chat.item.edit", "chat.item.delete"} {
		_, err := s.AppendOutbox(QueuedEvent{
			ID:             "q" + name,
			ScopeKey:       "chat:s1",
			EventName:      name,
			Payload:        []byte("{}"),
			IdempotencyKey: "idem" + name,
			OptimisticID:   "opt" + name,
			CreatedAt:      time.UnixMilli(int64(i)),
		})
		if err != nil {
			t.Fatalf("AppendOutbox failed: %v", err)
		}
	}

	events, err := s.ListOutbox("chat:s1")
	if err != nil {
		t.Fatalf("ListOutbox failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	want := []string{"chat.item.send", "chat.item.edit", "chat.item.delete"}
	for i, ev := range events {
		if ev.EventName != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, ev.EventName, want[i])
		}
	}
}

func TestOutboxScopeIsolation(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.AppendOutbox(QueuedEvent{ID: "a", ScopeKey: "chat:s1", EventName: "e", Payload: []byte("{}"), CreatedAt: time.Now()}); err != nil {
		t.Fatalf("AppendOutbox failed: %v", err)
	}
	if _, err := s.AppendOutbox(QueuedEvent{ID: "b", ScopeKey: "qa:s1", EventName: "e", Payload: []byte("{}"), CreatedAt: time.Now()}); err != nil {
		t.Fatalf("AppendOutbox failed: %v", err)
	}

	n, err := s.CountOutbox("chat:s1")
	if err != nil {
		t.Fatalf("CountOutbox failed: %v", err)
	}
	if n != 1 {
		t.Errorf("chat:s1 count = %d, want 1", n)
	}
}

func TestOutboxRemove(t *testing.T) {
	s := setupTestStore(t)

	seq, err := s.AppendOutbox(QueuedEvent{ID: "a", ScopeKey: "chat:s1", EventName: "e", Payload: []byte("{}"), CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("AppendOutbox failed: %v", err)
	}
	if err := s.RemoveOutbox(seq); err != nil {
		t.Fatalf("RemoveOutbox failed: %v", err)
	}
	n, err := s.CountOutbox("chat:s1")
	if err != nil {
		t.Fatalf("CountOutbox failed: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d after remove, want 0", n)
	}
}

func TestOutboxSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s.AppendOutbox(QueuedEvent{ID: "a", ScopeKey: "chat:s1", EventName: "chat.item.send", Payload: []byte(`{"content":"hello"}`), IdempotencyKey: "k1", OptimisticID: "opt-1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("AppendOutbox failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()

	events, err := s2.ListOutbox("chat:s1")
	if err != nil {
		t.Fatalf("ListOutbox failed: %v", err)
	}
	if len(events) != 1 || events[0].IdempotencyKey != "k1" {
		t.Fatalf("queued event not durable across reopen: %+v", events)
	}
}
