package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/clovekernel/internal/eventbus"
)

// fakeHandle and fakeBackend let tests drive the restart state machine
// deterministically without forking real processes.
type fakeHandle struct {
	mu       sync.Mutex
	exitCode int
	exitCh   chan struct{}
	signaled []string
	released bool
}

func newFakeHandle(exitCode int) *fakeHandle {
	return &fakeHandle{exitCode: exitCode, exitCh: make(chan struct{})}
}

func (h *fakeHandle) finish() { close(h.exitCh) }

func (h *fakeHandle) Signal(ctx context.Context, sig string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signaled = append(h.signaled, sig)
	if sig == "SIGTERM" || sig == "SIGKILL" {
		select {
		case <-h.exitCh:
		default:
			close(h.exitCh)
		}
	}
	return nil
}

func (h *fakeHandle) Wait(ctx context.Context) (int, error) {
	<-h.exitCh
	return h.exitCode, nil
}

func (h *fakeHandle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	return nil
}

func (h *fakeHandle) PID() int { return 1234 }

type fakeBackend struct {
	mu      sync.Mutex
	handles []*fakeHandle
	nextExit int
	spawned  int32
}

func (b *fakeBackend) Spawn(ctx context.Context, spec AgentSpec) (Handle, error) {
	atomic.AddInt32(&b.spawned, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	h := newFakeHandle(b.nextExit)
	b.handles = append(b.handles, h)
	return h, nil
}

func TestSpawnPublishesEventAndTracksInfo(t *testing.T) {
	bus := eventbus.NewBus(0)
	bus.Subscribe(99, eventbus.EventAgentSpawned)
	backend := &fakeBackend{}
	s := New(nil, bus)
	s.bare = backend

	info, err := s.Spawn(context.Background(), AgentSpec{AgentID: 1, Name: "child", RestartPolicy: RestartNever})
	if err != nil {
		t.Fatal(err)
	}
	if info.State != StateRunning || info.Name != "child" {
		t.Fatalf("unexpected info: %+v", info)
	}

	events := bus.Poll(99, 10)
	if len(events) != 1 || events[0].Type != eventbus.EventAgentSpawned {
		t.Fatalf("expected one AGENT_SPAWNED event, got %+v", events)
	}
}

func TestRestartNeverStaysExited(t *testing.T) {
	backend := &fakeBackend{nextExit: 1}
	s := New(nil, nil)
	s.bare = backend

	_, err := s.Spawn(context.Background(), AgentSpec{AgentID: 2, RestartPolicy: RestartNever})
	if err != nil {
		t.Fatal(err)
	}

	backend.mu.Lock()
	backend.handles[0].finish()
	backend.mu.Unlock()

	waitForState(t, s, 2, StateExited)
	if atomic.LoadInt32(&backend.spawned) != 1 {
		t.Fatalf("expected exactly one spawn, got %d", backend.spawned)
	}
}

func TestRestartOnFailureEscalatesAfterMaxRestarts(t *testing.T) {
	backend := &fakeBackend{nextExit: 1}
	bus := eventbus.NewBus(0)
	bus.Subscribe(3, eventbus.EventAgentEscalated)
	bus.Subscribe(3, eventbus.EventAgentExited)
	bus.Subscribe(3, eventbus.EventAgentRestarting)
	s := New(nil, bus)
	s.bare = backend

	_, err := s.Spawn(context.Background(), AgentSpec{
		AgentID: 3, RestartPolicy: RestartOnFailure, MaxRestarts: 1, RestartWindowS: 60,
	})
	if err != nil {
		t.Fatal(err)
	}

	// First exit triggers one restart.
	finishLatest(t, backend)
	waitForRestartCount(t, backend, 2)

	// Second exit exceeds MaxRestarts=1 and escalates.
	finishLatest(t, backend)
	waitForState(t, s, 3, StateEscalated)

	// spec §8 scenario 4: every exit (restarted or not) publishes
	// AGENT_EXITED before the next transition, so a restart-then-
	// escalate sequence is EXITED, RESTARTING, EXITED, ESCALATED.
	events := bus.Poll(3, 10)
	wantTypes := []string{
		eventbus.EventAgentExited, eventbus.EventAgentRestarting,
		eventbus.EventAgentExited, eventbus.EventAgentEscalated,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events %v, got %+v", len(wantTypes), wantTypes, events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s (all events: %+v)", i, want, events[i].Type, events)
		}
	}
}

func TestKillStopsMonitorPermanently(t *testing.T) {
	backend := &fakeBackend{}
	s := New(nil, nil)
	s.bare = backend

	_, err := s.Spawn(context.Background(), AgentSpec{AgentID: 4, RestartPolicy: RestartAlways, MaxRestarts: 5, RestartWindowS: 60})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Kill(context.Background(), 4); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.agentByID(4); ok {
		t.Fatal("expected agent removed from tracking after kill")
	}
	if atomic.LoadInt32(&backend.spawned) != 1 {
		t.Fatalf("expected kill to not trigger a restart, spawned=%d", backend.spawned)
	}
}

func waitForState(t *testing.T, s *Supervisor, agentID uint32, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, ok := s.agentByID(agentID)
		if ok {
			p.mu.Lock()
			state := p.state
			p.mu.Unlock()
			if state == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agent %d did not reach state %s in time", agentID, want)
}

func waitForRestartCount(t *testing.T, backend *fakeBackend, want int32) {
	t.Helper()
	// Longer than the first restart's 2s backoff (computeBackoff(1)).
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&backend.spawned) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("backend did not reach %d spawns in time", want)
}

func finishLatest(t *testing.T, backend *fakeBackend) {
	t.Helper()
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.handles) == 0 {
		t.Fatal("no handle to finish")
	}
	backend.handles[len(backend.handles)-1].finish()
}
