// Package mailbox implements the kernel's IPC broker (spec §4.4): a
// name registry plus a bounded per-agent mailbox, generalized from the
// teacher's terminal.SessionManager (a userID/sessionID → *websocket.Conn
// map guarded by one sync.RWMutex, with register/unregister/close-all
// semantics) onto name → agent-id and agent-id → mailbox.
package mailbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCapacity is the default bounded mailbox size (spec §4.4).
const DefaultCapacity = 1024

// Entry is one delivered message (spec §3's "Mailbox entry").
type Entry struct {
	FromID     uint32          `json:"from_id"`
	FromName   string          `json:"from_name,omitempty"`
	Message    json.RawMessage `json:"message"`
	EnqueuedAt time.Time       `json:"-"`
}

type mailbox struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// Broker owns the name registry and every agent's mailbox.
type Broker struct {
	mu       sync.RWMutex
	names    map[string]uint32 // name -> agent id, first-writer-wins
	mailboxes map[uint32]*mailbox
	capacity int
}

// NewBroker creates a broker with the given default mailbox capacity (use
// DefaultCapacity if cap <= 0).
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broker{
		names:     make(map[string]uint32),
		mailboxes: make(map[uint32]*mailbox),
		capacity:  capacity,
	}
}

func (b *Broker) mailboxFor(id uint32) *mailbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.mailboxes[id]
	if !ok {
		m = &mailbox{cap: b.capacity}
		b.mailboxes[id] = m
	}
	return m
}

// Register claims name for agentID, first-writer-wins. Returns false if
// the name is already taken by a different agent.
func (b *Broker) Register(agentID uint32, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.names[name]; ok && existing != agentID {
		return false
	}
	b.names[name] = agentID
	slog.Info("agent registered name", "agent_id", agentID, "name", name)
	return true
}

// Unregister releases name, e.g. on session close. Generalizes
// SessionManager.Unregister's "only delete if current entry is still
// mine" guard.
func (b *Broker) Unregister(agentID uint32, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.names[name] == agentID {
		delete(b.names, name)
	}
}

// Resolve looks up the agent id registered under name.
func (b *Broker) Resolve(name string) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.names[name]
	return id, ok
}

// NameOf returns the name registered for agentID, if any.
func (b *Broker) NameOf(agentID uint32) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, id := range b.names {
		if id == agentID {
			return name, true
		}
	}
	return "", false
}

// RegisteredAgents returns every agent id currently holding a name, used
// by SYS_BROADCAST's "every registered agent" fan-out (spec §4.4).
func (b *Broker) RegisteredAgents() []uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]uint32, 0, len(b.names))
	for _, id := range b.names {
		out = append(out, id)
	}
	return out
}

// ErrMailboxFull is returned by Send when the recipient's mailbox is at
// capacity.
type ErrMailboxFull struct{ AgentID uint32 }

func (e *ErrMailboxFull) Error() string {
	return fmt.Sprintf("mailbox full for agent %d", e.AgentID)
}

// Send enqueues msg into toID's mailbox. Never blocks the caller: a full
// mailbox fails immediately with ErrMailboxFull (spec §4.4: "senders are
// never blocked inside the dispatcher").
func (b *Broker) Send(fromID uint32, fromName string, toID uint32, msg json.RawMessage) error {
	m := b.mailboxFor(toID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= m.cap {
		return &ErrMailboxFull{AgentID: toID}
	}
	m.entries = append(m.entries, Entry{
		FromID:     fromID,
		FromName:   fromName,
		Message:    append(json.RawMessage(nil), msg...),
		EnqueuedAt: time.Now(),
	})
	return nil
}

// Recv drains up to max entries from agentID's mailbox in FIFO order.
func (b *Broker) Recv(agentID uint32, max int) []Entry {
	m := b.mailboxFor(agentID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if max <= 0 || max > len(m.entries) {
		max = len(m.entries)
	}
	out := make([]Entry, max)
	copy(out, m.entries[:max])
	m.entries = m.entries[max:]
	return out
}

// Broadcast enqueues msg into every currently registered agent's mailbox
// except, when includeSelf is false, fromID itself. It is best-effort: a
// full mailbox is counted as skipped rather than failing the whole
// broadcast (spec §4.4).
func (b *Broker) Broadcast(fromID uint32, fromName string, msg json.RawMessage, includeSelf bool) (delivered int, skipped []uint32) {
	for _, id := range b.RegisteredAgents() {
		if !includeSelf && id == fromID {
			continue
		}
		if err := b.Send(fromID, fromName, id, msg); err != nil {
			skipped = append(skipped, id)
			continue
		}
		delivered++
	}
	return delivered, skipped
}

// Close drops an agent's mailbox and releases its name entirely, used
// when a session disconnects.
func (b *Broker) Close(agentID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, id := range b.names {
		if id == agentID {
			delete(b.names, name)
		}
	}
	delete(b.mailboxes, agentID)
}
