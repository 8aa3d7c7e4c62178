// Package recorder implements the kernel's record/replay facility
// (spec §4.10): a bounded buffer of dispatched (request, response)
// pairs, and a replay state machine that re-issues them through the
// dispatcher. Grounded on the teacher's conversation_logger test shape
// (a buffered channel drained by a background goroutine into an
// append-only structured log) generalized from chat turns to syscall
// entries.
package recorder

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity bounds the recorder buffer when unset.
const DefaultCapacity = 5000

// Entry is one recorded syscall (spec §4.10).
type Entry struct {
	Seq        uint64          `json:"seq"`
	Ts         time.Time       `json:"ts"`
	AgentID    uint32          `json:"agent_id"`
	Opcode     string          `json:"opcode"`
	Request    json.RawMessage `json:"request"`
	Response   json.RawMessage `json:"response"`
	DurationMs int64           `json:"duration_ms"`
}

// nonDeterministic lists opcodes excluded from recording by default
// (spec §4.10).
var nonDeterministic = map[string]bool{
	"SYS_THINK": true, "SYS_HTTP": true, "SYS_EXEC": true,
}

// Filter controls which opcodes get recorded (spec §4.10).
type Filter struct {
	IncludeNonDeterministic bool
	AgentIDs                map[uint32]bool // nil/empty = all agents
}

func (f Filter) allows(opcode string, agentID uint32) bool {
	if nonDeterministic[opcode] && !f.IncludeNonDeterministic {
		return false
	}
	if len(f.AgentIDs) > 0 && !f.AgentIDs[agentID] {
		return false
	}
	return true
}

// Recorder owns the bounded record buffer.
type Recorder struct {
	mu       sync.Mutex
	active   bool
	filter   Filter
	capacity int
	entries  []Entry
	seq      uint64
}

// New creates an inactive Recorder with the given capacity (use
// DefaultCapacity if cap <= 0).
func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{capacity: capacity}
}

// Start activates recording with filter.
func (r *Recorder) Start(filter Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.filter = filter
}

// Stop deactivates recording; the buffer is left intact for export.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// Record appends one dispatched syscall if recording is active and the
// filter allows it (spec §4.10).
func (r *Recorder) Record(agentID uint32, opcode string, req, resp json.RawMessage, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || !r.filter.allows(opcode, agentID) {
		return
	}
	r.seq++
	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, Entry{
		Seq: r.seq, Ts: time.Now(), AgentID: agentID, Opcode: opcode,
		Request: req, Response: resp, DurationMs: duration.Milliseconds(),
	})
}

// Status is SYS_RECORD_STATUS's response.
type Status struct {
	Active  bool   `json:"active"`
	Entries int    `json:"entries"`
	Seq     uint64 `json:"seq"`
}

// Status reports the recorder's current activity and buffer size.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Active: r.active, Entries: len(r.entries), Seq: r.seq}
}

// Export returns a JSON array of every buffered entry (spec §4.10's
// "optionally exports the buffer as a JSON array").
func (r *Recorder) Export() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := json.Marshal(r.entries)
	if err != nil {
		return nil, fmt.Errorf("recorder: export: %w", err)
	}
	return data, nil
}
