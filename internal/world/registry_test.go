package world

import "testing"

func TestRegistryJoinLeaveDestroy(t *testing.T) {
	r := NewRegistry()
	id := r.Create(baseConfig())

	if _, err := r.Join(1, id); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Join(2, id); err == nil {
		t.Fatal("expected second world join by different agent to fail")
	}
	if _, err := r.Join(1, "does-not-exist"); err == nil {
		t.Fatal("expected join of agent already joined elsewhere to fail")
	}

	if err := r.Destroy(id, false); err == nil {
		t.Fatal("expected destroy to refuse while a session is joined")
	}
	if err := r.Destroy(id, true); err != nil {
		t.Fatalf("expected forced destroy to succeed: %v", err)
	}
	if _, ok := r.Get(id); ok {
		t.Fatal("expected world to be gone after destroy")
	}
}

func TestRegistryRestoreCreatesNewWorld(t *testing.T) {
	r := NewRegistry()
	id := r.Create(baseConfig())
	w, _ := r.Get(id)
	snap := w.Snapshot()

	newID, err := r.RestoreFrom(id, snap)
	if err != nil {
		t.Fatal(err)
	}
	if newID == id {
		t.Fatal("expected a distinct id for the restored world")
	}
	if _, ok := r.Get(newID); !ok {
		t.Fatal("expected restored world to be registered")
	}
}

func TestRegistryLeaveAllowsRejoin(t *testing.T) {
	r := NewRegistry()
	id := r.Create(baseConfig())

	if _, err := r.Join(1, id); err != nil {
		t.Fatal(err)
	}
	r.Leave(1)
	if _, err := r.Join(1, id); err != nil {
		t.Fatalf("expected rejoin after leave to succeed: %v", err)
	}
}
