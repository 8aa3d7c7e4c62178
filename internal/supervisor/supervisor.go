package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/clovekernel/internal/eventbus"
)

// Supervisor owns every spawned child agent and drives each one's
// restart-policy state machine independently (spec §4.8).
type Supervisor struct {
	mu     sync.RWMutex
	agents map[uint32]*agentProc

	docker Backend // nil if Docker is unavailable; sandboxed spawns fall back to bare
	bare   Backend

	bus *eventbus.Bus
}

// New creates a Supervisor. docker may be nil — sandboxed agents then
// run under BareBackend's namespace+cgroup path instead of containers.
func New(docker Backend, bus *eventbus.Bus) *Supervisor {
	return &Supervisor{
		agents: make(map[uint32]*agentProc),
		docker: docker,
		bare:   NewBareBackend(),
		bus:    bus,
	}
}

type agentProc struct {
	mu        sync.Mutex
	spec      AgentSpec
	handle    Handle
	state     State
	startedAt time.Time
	exitCode  int
	tracker   *restartTracker
	cancel    context.CancelFunc
}

func (s *Supervisor) backendFor(spec AgentSpec) Backend {
	if spec.Sandboxed && s.docker != nil {
		return s.docker
	}
	return s.bare
}

func (s *Supervisor) publish(eventType string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("supervisor: encode event payload", "type", eventType, "error", err)
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventType, Data: data, At: time.Now()})
}

// Spawn launches spec under agentID (already allocated by the caller's
// session registry) and starts its lifecycle-monitor goroutine. It
// returns once the process (or container) is confirmed started.
func (s *Supervisor) Spawn(ctx context.Context, spec AgentSpec) (Info, error) {
	s.mu.Lock()
	if _, exists := s.agents[spec.AgentID]; exists {
		s.mu.Unlock()
		return Info{}, fmt.Errorf("supervisor: agent %d already spawned", spec.AgentID)
	}
	s.mu.Unlock()

	handle, err := s.backendFor(spec).Spawn(ctx, spec)
	if err != nil {
		return Info{}, err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	p := &agentProc{
		spec:      spec,
		handle:    handle,
		state:     StateRunning,
		startedAt: time.Now(),
		tracker:   newRestartTracker(spec.RestartWindowS),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.agents[spec.AgentID] = p
	s.mu.Unlock()

	s.publish(eventbus.EventAgentSpawned, map[string]any{"agent_id": spec.AgentID, "name": spec.Name, "pid": handle.PID()})

	go s.monitor(monitorCtx, spec.AgentID, p)

	return s.infoOf(spec.AgentID, p), nil
}

// monitor owns one agent's restart-policy state machine (spec §4.8's
// state diagram), looping spawn->wait->decide until the agent reaches
// a final state (STOPPED, EXITED with never-restart, or ESCALATED).
func (s *Supervisor) monitor(ctx context.Context, agentID uint32, p *agentProc) {
	for {
		p.mu.Lock()
		handle := p.handle
		p.mu.Unlock()

		exitCode, err := handle.Wait(context.Background())
		if err != nil {
			slog.Warn("supervisor: wait failed", "agent_id", agentID, "error", err)
		}
		_ = handle.Release(context.Background())

		p.mu.Lock()
		if p.state == StateStopped {
			// SYS_KILL already marked this a deliberate stop; no
			// restart regardless of policy.
			p.mu.Unlock()
			return
		}
		p.exitCode = exitCode
		p.state = StateExited
		shouldRestart := p.spec.RestartPolicy == RestartAlways ||
			(p.spec.RestartPolicy == RestartOnFailure && exitCode != 0)
		p.mu.Unlock()

		s.publish(eventbus.EventAgentExited, map[string]any{"agent_id": agentID, "exit_code": exitCode})

		if !shouldRestart {
			return
		}

		p.mu.Lock()
		attempt := p.tracker.record(time.Now())
		p.mu.Unlock()

		if attempt > p.spec.MaxRestarts {
			p.mu.Lock()
			p.state = StateEscalated
			p.mu.Unlock()
			s.publish(eventbus.EventAgentEscalated, map[string]any{"agent_id": agentID, "attempts": attempt})
			slog.Warn("supervisor: agent escalated, operator attention required", "agent_id", agentID, "attempts", attempt)
			return
		}

		p.mu.Lock()
		p.state = StateRestartWait
		p.mu.Unlock()
		s.publish(eventbus.EventAgentRestarting, map[string]any{"agent_id": agentID, "attempt": attempt})

		backoff := computeBackoff(attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		newHandle, err := s.backendFor(p.spec).Spawn(context.Background(), p.spec)
		if err != nil {
			slog.Error("supervisor: restart spawn failed", "agent_id", agentID, "error", err)
			p.mu.Lock()
			p.state = StateEscalated
			p.mu.Unlock()
			s.publish(eventbus.EventAgentEscalated, map[string]any{"agent_id": agentID, "reason": "restart spawn failed"})
			return
		}

		p.mu.Lock()
		p.handle = newHandle
		p.state = StateRunning
		p.startedAt = time.Now()
		p.mu.Unlock()
	}
}

// Kill sends SIGTERM, waits up to a grace period, then SIGKILL (spec
// §4.8's SYS_KILL). The monitor goroutine is told to stop restarting.
func (s *Supervisor) Kill(ctx context.Context, agentID uint32) error {
	p, ok := s.agentByID(agentID)
	if !ok {
		return fmt.Errorf("supervisor: no such agent %d", agentID)
	}

	p.mu.Lock()
	p.state = StateStopped
	handle := p.handle
	cancel := p.cancel
	p.mu.Unlock()

	if err := handle.Signal(ctx, "SIGTERM"); err != nil {
		slog.Debug("supervisor: SIGTERM delivery failed", "agent_id", agentID, "error", err)
	}

	done := make(chan struct{})
	go func() {
		_, _ = handle.Wait(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(killGracePeriod):
		if err := handle.Signal(ctx, "SIGKILL"); err != nil {
			slog.Warn("supervisor: SIGKILL delivery failed", "agent_id", agentID, "error", err)
		}
	}

	cancel()
	s.mu.Lock()
	delete(s.agents, agentID)
	s.mu.Unlock()
	return nil
}

// Pause delivers SIGSTOP (spec §4.8's SYS_PAUSE).
func (s *Supervisor) Pause(ctx context.Context, agentID uint32) error {
	p, ok := s.agentByID(agentID)
	if !ok {
		return fmt.Errorf("supervisor: no such agent %d", agentID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.handle.Signal(ctx, "SIGSTOP"); err != nil {
		return err
	}
	p.state = StatePaused
	return nil
}

// Resume delivers SIGCONT (spec §4.8's SYS_RESUME).
func (s *Supervisor) Resume(ctx context.Context, agentID uint32) error {
	p, ok := s.agentByID(agentID)
	if !ok {
		return fmt.Errorf("supervisor: no such agent %d", agentID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.handle.Signal(ctx, "SIGCONT"); err != nil {
		return err
	}
	p.state = StateRunning
	return nil
}

// List returns every tracked agent's current info (spec §4.8's
// SYS_LIST).
func (s *Supervisor) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.agents))
	for id, p := range s.agents {
		out = append(out, s.infoOf(id, p))
	}
	return out
}

// cgroupPather is implemented by handles that isolate their agent
// under a cgroup (currently only bareHandle's sandboxed path).
type cgroupPather interface {
	CgroupPath() string
}

// CgroupPathOf returns the cgroup directory backing agentID, if it was
// spawned sandboxed under a cgroup (spec §4.11's SYS_METRICS_CGROUP).
func (s *Supervisor) CgroupPathOf(agentID uint32) (string, bool) {
	p, ok := s.agentByID(agentID)
	if !ok {
		return "", false
	}
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()
	cp, ok := handle.(cgroupPather)
	if !ok {
		return "", false
	}
	path := cp.CgroupPath()
	return path, path != ""
}

// PIDOf returns the host-visible PID backing agentID, if any.
func (s *Supervisor) PIDOf(agentID uint32) (int, bool) {
	p, ok := s.agentByID(agentID)
	if !ok {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pid := p.handle.PID()
	return pid, pid != 0
}

func (s *Supervisor) agentByID(agentID uint32) (*agentProc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.agents[agentID]
	return p, ok
}

func (s *Supervisor) infoOf(id uint32, p *agentProc) Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{
		ID:        id,
		Name:      p.spec.Name,
		PID:       p.handle.PID(),
		State:     p.state,
		UptimeMs:  time.Since(p.startedAt).Milliseconds(),
		Restarts:  p.tracker.count,
		ExitCode:  p.exitCode,
		Sandboxed: p.spec.Sandboxed,
	}
}
