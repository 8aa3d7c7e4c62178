package eventbus

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribePublishPoll(t *testing.T) {
	b := NewBus(0)
	b.Subscribe(1, EventAgentSpawned)

	delivered := b.Publish(Event{Type: EventAgentSpawned, Data: json.RawMessage(`{}`), At: time.Now()})
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}

	got := b.Poll(1, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 polled event, got %d", len(got))
	}
}

func TestPublishSkipsUnsubscribed(t *testing.T) {
	b := NewBus(0)
	b.Subscribe(1, EventAgentSpawned)

	delivered := b.Publish(Event{Type: EventAgentExited, At: time.Now()})
	if delivered != 0 {
		t.Fatalf("expected 0 deliveries for unmatched type, got %d", delivered)
	}
}

func TestBacklogOverflowDropsOldest(t *testing.T) {
	b := NewBus(2)
	b.Subscribe(1, EventCustom)

	for i := 0; i < 3; i++ {
		payload, _ := json.Marshal(i)
		b.Publish(Event{Type: EventCustom, Data: payload, At: time.Now()})
	}

	got := b.Poll(1, 10)
	if len(got) != 2 {
		t.Fatalf("expected backlog capped at 2, got %d", len(got))
	}
	if string(got[0].Data) != "1" || string(got[1].Data) != "2" {
		t.Fatalf("expected oldest event dropped, got %+v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(0)
	b.Subscribe(1, EventCustom)
	b.Unsubscribe(1, EventCustom)

	if delivered := b.Publish(Event{Type: EventCustom, At: time.Now()}); delivered != 0 {
		t.Fatalf("expected 0 deliveries after unsubscribe, got %d", delivered)
	}
}
