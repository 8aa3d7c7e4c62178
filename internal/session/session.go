// Package session implements the per-connection agent session described
// in spec §3: a session is created on accept(), assigned a stable agent
// id on first frame, and carries permissions, world membership, a
// restart/spawn handle, and an audit cursor until the connection closes.
package session

import (
	"io"
	"sync"
	"time"

	"github.com/ashureev/clovekernel/internal/permission"
)

// Session is the kernel's per-connection state.
type Session struct {
	ID        uint32
	CreatedAt time.Time

	mu    sync.RWMutex
	name  string // registered IPC name, empty if unregistered
	perms permission.Set
	world string // joined world id, empty if not joined

	// ChildAgentID is set when this session spawned a child agent, so
	// the supervisor can be asked for its handle without the session
	// owning it directly (spec §9: "avoid ownership cycles").
	childAgentIDs []uint32

	writeMu sync.Mutex // serializes frame writes on this connection
	conn    io.Writer
}

// New creates a session for agentID with the given initial permission
// level and underlying connection writer.
func New(agentID uint32, level permission.Level, conn io.Writer) *Session {
	return &Session{
		ID:        agentID,
		CreatedAt: time.Now(),
		perms:     permission.FromLevel(level),
		conn:      conn,
	}
}

// Name returns the session's registered IPC name, or "" if unregistered.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetName records the session's registered IPC name. Name registration
// itself (uniqueness, first-writer-wins) is mailbox.Broker's job; the
// session only remembers what it was given so it can release it on close.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// Perms returns the session's current capability set.
func (s *Session) Perms() permission.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perms
}

// SetPerms replaces the session's capability set.
func (s *Session) SetPerms(p permission.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms = p
}

// World returns the id of the world this session has joined, or "" if none.
func (s *Session) World() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world
}

// SetWorld records which world this session has joined ("" to leave).
func (s *Session) SetWorld(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world = id
}

// AddChild records a spawned child agent id for informational purposes
// only; the supervisor remains the sole owner of the child's process
// handle and lifecycle (spec §9).
func (s *Session) AddChild(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.childAgentIDs = append(s.childAgentIDs, id)
}

// Children returns the agent ids this session has spawned.
func (s *Session) Children() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint32, len(s.childAgentIDs))
	copy(out, s.childAgentIDs)
	return out
}

// WriteFrame serializes concurrent writers on this connection: "a
// connection is single-threaded from the client side... the kernel may
// process multiple connections concurrently but must serialize writes on
// each connection" (spec §4.1).
func (s *Session) WriteFrame(fn func(io.Writer) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(s.conn)
}
