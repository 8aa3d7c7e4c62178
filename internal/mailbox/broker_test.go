package mailbox

import (
	"encoding/json"
	"testing"
)

func TestRegisterFirstWriterWins(t *testing.T) {
	b := NewBroker(0)
	if !b.Register(1, "alice") {
		t.Fatal("first registration should succeed")
	}
	if b.Register(2, "alice") {
		t.Fatal("second registration of the same name should fail")
	}
	id, ok := b.Resolve("alice")
	if !ok || id != 1 {
		t.Fatalf("got %d, %v", id, ok)
	}
}

func TestSendRecvFIFOOrder(t *testing.T) {
	b := NewBroker(0)
	b.Register(1, "alice")
	b.Register(2, "bob")

	if err := b.Send(1, "alice", 2, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := b.Send(1, "alice", 2, json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatal(err)
	}

	got := b.Recv(2, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if string(got[0].Message) != `{"n":1}` || string(got[1].Message) != `{"n":2}` {
		t.Fatalf("messages out of FIFO order: %+v", got)
	}
	if got[0].FromName != "alice" {
		t.Fatalf("expected from_name alice, got %q", got[0].FromName)
	}
}

func TestMailboxFullBoundary(t *testing.T) {
	b := NewBroker(2)
	for i := 0; i < 2; i++ {
		if err := b.Send(0, "", 9, json.RawMessage(`1`)); err != nil {
			t.Fatalf("send %d should succeed at capacity: %v", i, err)
		}
	}
	if err := b.Send(0, "", 9, json.RawMessage(`1`)); err == nil {
		t.Fatal("send beyond capacity should fail")
	}
}

func TestBroadcastSkipsFullMailboxes(t *testing.T) {
	b := NewBroker(1)
	b.Register(1, "alice")
	b.Register(2, "bob")
	b.Register(3, "carol")

	// Fill bob's mailbox so the broadcast to bob is skipped.
	_ = b.Send(0, "", 2, json.RawMessage(`"prefill"`))

	delivered, skipped := b.Broadcast(1, "alice", json.RawMessage(`"hi"`), false)
	if delivered != 1 {
		t.Fatalf("expected 1 delivery (carol), got %d", delivered)
	}
	if len(skipped) != 1 || skipped[0] != 2 {
		t.Fatalf("expected bob (2) to be skipped, got %v", skipped)
	}
}

func TestCloseReleasesNameAndMailbox(t *testing.T) {
	b := NewBroker(0)
	b.Register(1, "alice")
	_ = b.Send(0, "", 1, json.RawMessage(`1`))

	b.Close(1)

	if _, ok := b.Resolve("alice"); ok {
		t.Fatal("name should be released on close")
	}
	if got := b.Recv(1, 10); len(got) != 0 {
		t.Fatalf("mailbox should be empty after close, got %v", got)
	}
}
