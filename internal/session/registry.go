package session

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/clovekernel/internal/permission"
)

// Registry tracks every live session by agent id, generalized from the
// teacher's SessionManager (which kept a userID/sessionID → *websocket.Conn
// map under one mutex); here the key space is the kernel-wide agent id
// assigned on first frame rather than a client-supplied identity.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	nextID   atomic.Uint32
}

// NewRegistry creates an empty session registry. Agent ids start at 1 so
// that 0 can be used by clients as "not yet assigned" in their first frame.
func NewRegistry() *Registry {
	r := &Registry{sessions: make(map[uint32]*Session)}
	return r
}

// Create allocates a fresh agent id and registers a new Session for it.
func (r *Registry) Create(level permission.Level, conn io.Writer) *Session {
	id := r.nextID.Add(1)
	s := New(id, level, conn)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	slog.Info("session created", "agent_id", id, "level", level)
	return s
}

// Get returns the session for id, or nil if it does not exist.
func (r *Registry) Get(id uint32) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove deletes the session for id from the registry. Callers are
// responsible for unregistering its name, subscriptions, and world
// membership first (spec §5: close-time cleanup order).
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	slog.Info("session removed", "agent_id", id)
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
