package kv

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestPutGetDelete(t *testing.T) {
	s := New()
	s.Put(ScopeGlobal, "", "k", json.RawMessage(`1`), 0)

	v, ok := s.Get(ScopeGlobal, "", "k")
	if !ok || string(v) != "1" {
		t.Fatalf("got %s, %v", v, ok)
	}

	if !s.Delete(ScopeGlobal, "", "k") {
		t.Fatal("expected delete to report existed=true")
	}
	if _, ok := s.Get(ScopeGlobal, "", "k"); ok {
		t.Fatal("key should be gone after delete")
	}
}

func TestTTLZeroNeverExpires(t *testing.T) {
	s := New()
	s.Put(ScopeGlobal, "", "k", json.RawMessage(`1`), 0)
	time.Sleep(5 * time.Millisecond)
	if _, ok := s.Get(ScopeGlobal, "", "k"); !ok {
		t.Fatal("ttl=0 should mean never expire")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New()
	s.Put(ScopeGlobal, "", "k", json.RawMessage(`1`), 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	if _, ok := s.Get(ScopeGlobal, "", "k"); ok {
		t.Fatal("expired key should report exists=false")
	}
}

func TestKeysInsertionOrderAndPrefix(t *testing.T) {
	s := New()
	s.Put(ScopeAgentLocal, "agent:1", "b", json.RawMessage(`1`), 0)
	s.Put(ScopeAgentLocal, "agent:1", "a", json.RawMessage(`1`), 0)
	s.Put(ScopeAgentLocal, "agent:1", "ab", json.RawMessage(`1`), 0)
	s.Put(ScopeAgentLocal, "agent:2", "other-owner", json.RawMessage(`1`), 0)

	got := s.Keys(ScopeAgentLocal, "agent:1", "")
	want := []string{"b", "a", "ab"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("insertion order mismatch: got %v, want %v", got, want)
		}
	}

	prefixed := s.Keys(ScopeAgentLocal, "agent:1", "a")
	if len(prefixed) != 2 || prefixed[0] != "a" || prefixed[1] != "ab" {
		t.Fatalf("prefix filter mismatch: %v", prefixed)
	}
}

func TestKeysExcludesExpired(t *testing.T) {
	s := New()
	s.Put(ScopeGlobal, "", "soon", json.RawMessage(`1`), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if keys := s.Keys(ScopeGlobal, "", ""); len(keys) != 0 {
		t.Fatalf("expired key should not be enumerated: %v", keys)
	}
}

func TestSweeperReclaimsMemory(t *testing.T) {
	s := New()
	s.Put(ScopeGlobal, "", "k", json.RawMessage(`1`), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartSweeper(ctx, 20*time.Millisecond)

	time.Sleep(80 * time.Millisecond)

	s.mu.RLock()
	n := len(s.data)
	s.mu.RUnlock()
	if n != 0 {
		t.Fatalf("expected sweeper to reclaim expired entry, data has %d entries", n)
	}
}

func TestOwnerKeyWorldLocalRequiresWorld(t *testing.T) {
	if _, err := OwnerKey(ScopeWorldLocal, 1, ""); err == nil {
		t.Fatal("expected error when not joined to a world")
	}
	if owner, err := OwnerKey(ScopeWorldLocal, 1, "w1"); err != nil || owner != "world:w1" {
		t.Fatalf("got %q, %v", owner, err)
	}
}
