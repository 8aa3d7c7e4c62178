package session

import (
	"bytes"
	"testing"

	"github.com/ashureev/clovekernel/internal/permission"
)

func TestRegistryAssignsIncreasingIDs(t *testing.T) {
	reg := NewRegistry()
	var buf bytes.Buffer

	a := reg.Create(permission.Standard, &buf)
	b := reg.Create(permission.Standard, &buf)

	if a.ID == 0 || b.ID <= a.ID {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", a.ID, b.ID)
	}
	if reg.Get(a.ID) != a {
		t.Fatal("Get should return the same session instance")
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	var buf bytes.Buffer
	s := reg.Create(permission.Standard, &buf)

	reg.Remove(s.ID)
	if reg.Get(s.ID) != nil {
		t.Fatal("session should be gone after Remove")
	}
}

func TestSessionWorldMembership(t *testing.T) {
	s := New(1, permission.Standard, &bytes.Buffer{})
	if s.World() != "" {
		t.Fatal("new session should not be in a world")
	}
	s.SetWorld("w1")
	if s.World() != "w1" {
		t.Fatalf("got %q", s.World())
	}
}
