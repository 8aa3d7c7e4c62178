// Package world implements the kernel's world simulation overlay (spec
// §4.9): a per-world virtual filesystem, mocked network, and chaos
// injection, joinable by at most one session's effectors at a time,
// generalized from the teacher's LearnerSession shape (a struct
// holding layered mutable state behind small accessor methods) onto an
// environment descriptor transparently swapped in for real effectors.
package world

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/clovekernel/internal/effector"
)

// FileMode marks a VirtualFS path read-only or writable.
type FileMode string

const (
	ModeReadOnly FileMode = "readonly"
	ModeWritable FileMode = "writable"
)

// VirtualFSConfig seeds a world's in-memory filesystem (spec §4.9).
type VirtualFSConfig struct {
	Files             map[string]string `json:"files"`
	WritablePatterns  []string          `json:"writable_patterns"`
	ReadonlyPatterns  []string          `json:"readonly_patterns"`
}

// MockRoute is one exact-match or glob-pattern HTTP mock (spec §4.9).
type MockRoute struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Body      string            `json:"body"`
	LatencyMs int64             `json:"latency_ms"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// MockNetConfig seeds a world's mocked network (spec §4.9).
type MockNetConfig struct {
	Exact         map[string]MockRoute `json:"exact"`
	Globs         []MockRoute          `json:"globs"` // evaluated in declared order
	FailUnmatched bool                 `json:"fail_unmatched"`
}

// ChaosConfig is a world's base failure envelope (spec §4.9).
type ChaosConfig struct {
	FailureRate float64 `json:"failure_rate"`
	LatencyMs   int64   `json:"latency_ms"`
}

// Config fully describes a world at creation time.
type Config struct {
	Name    string          `json:"name"`
	VFS     VirtualFSConfig `json:"vfs"`
	Net     MockNetConfig   `json:"net"`
	Chaos   ChaosConfig     `json:"chaos"`
}

// World is one joinable environment descriptor. It implements
// effector.Overlay directly so a joined session's Effector can be
// pointed straight at it.
type World struct {
	mu sync.Mutex

	id   string
	name string

	files    map[string]string
	writable []string
	readonly []string

	netExact         map[string]MockRoute
	netGlobs         []MockRoute
	netFailUnmatched bool

	chaos      ChaosConfig
	oneShotFail string // e.g. "disk_fail"; cleared on first matching failure

	memberAgentID *uint32
	syscallCount  int64
}

// New creates a world from cfg under id.
func New(id string, cfg Config) *World {
	w := &World{
		id:               id,
		name:             cfg.Name,
		files:            make(map[string]string, len(cfg.VFS.Files)),
		writable:         cfg.VFS.WritablePatterns,
		readonly:         cfg.VFS.ReadonlyPatterns,
		netExact:         make(map[string]MockRoute, len(cfg.Net.Exact)),
		netGlobs:         cfg.Net.Globs,
		netFailUnmatched: cfg.Net.FailUnmatched,
		chaos:            cfg.Chaos,
	}
	for k, v := range cfg.VFS.Files {
		w.files[k] = v
	}
	for k, v := range cfg.Net.Exact {
		w.netExact[k] = v
	}
	return w
}

// ID returns the world's id.
func (w *World) ID() string { return w.id }

// Join marks agentID as the world's sole member. Returns an error if
// another session is already joined (spec §4.9: "may belong to at most
// one world; joining while already joined fails" is enforced on the
// session side — here we enforce the world's own single-occupant
// invariant used by SYS_WORLD_DESTROY).
func (w *World) Join(agentID uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.memberAgentID != nil && *w.memberAgentID != agentID {
		return fmt.Errorf("world: %s already joined by another session", w.id)
	}
	id := agentID
	w.memberAgentID = &id
	return nil
}

// Leave clears agentID's membership if it is the current member.
func (w *World) Leave(agentID uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.memberAgentID != nil && *w.memberAgentID == agentID {
		w.memberAgentID = nil
	}
}

// HasMember reports whether any session is currently joined, used by
// SYS_WORLD_DESTROY's force-required guard (spec §4.9).
func (w *World) HasMember() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.memberAgentID != nil
}

// InjectEvent sets a one-shot failure mode (e.g. "disk_fail") active
// until the next matching effector call consumes it (spec §4.9's
// SYS_WORLD_EVENT).
func (w *World) InjectEvent(mode string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.oneShotFail = mode
}

// consumeChaos rolls the world's failure envelope plus any pending
// one-shot event, returning an error if this call should fail.
func (w *World) consumeChaos() error {
	w.syscallCount++
	if w.oneShotFail != "" {
		mode := w.oneShotFail
		w.oneShotFail = ""
		return fmt.Errorf("world: injected failure %q", mode)
	}
	if w.chaos.FailureRate > 0 && chaosRoll() < w.chaos.FailureRate {
		return fmt.Errorf("world: chaos-induced failure")
	}
	if w.chaos.LatencyMs > 0 {
		time.Sleep(time.Duration(w.chaos.LatencyMs) * time.Millisecond)
	}
	return nil
}

// ReadFile implements effector.Overlay.
func (w *World) ReadFile(path string) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.consumeChaos(); err != nil {
		return nil, false, err
	}
	content, ok := w.files[path]
	if !ok {
		return nil, false, nil
	}
	return []byte(content), true, nil
}

// WriteFile implements effector.Overlay.
func (w *World) WriteFile(path, mode string, content []byte) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.consumeChaos(); err != nil {
		return false, err
	}

	if matchesFirst(path, w.readonly, w.writable) == ModeReadOnly {
		return false, fmt.Errorf("permission denied")
	}
	if !matchAny(path, w.writable) {
		return false, nil
	}

	switch mode {
	case "append":
		w.files[path] = w.files[path] + string(content)
	default:
		w.files[path] = string(content)
	}
	return true, nil
}

// matchesFirst decides readonly-vs-writable for path by evaluating
// readonly patterns first, then writable (spec §4.9: "evaluated in
// declared order" per list; readonly is checked first so an explicit
// readonly pattern always wins over an overlapping writable one).
func matchesFirst(path string, readonly, writable []string) FileMode {
	if matchAny(path, readonly) {
		return ModeReadOnly
	}
	if matchAny(path, writable) {
		return ModeWritable
	}
	return ModeReadOnly
}

func matchAny(path string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, err := filepath.Match(pat, path); err == nil && ok {
			return true
		}
	}
	return false
}

// HTTPDo implements effector.Overlay (spec §4.9's MockNet).
func (w *World) HTTPDo(req effector.HTTPRequest) (effector.HTTPResult, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.consumeChaos(); err != nil {
		return effector.HTTPResult{}, false, err
	}

	if route, ok := w.netExact[req.URL]; ok {
		return routeResult(route), true, nil
	}
	for _, route := range w.netGlobs {
		if ok, err := filepath.Match(route.URL, req.URL); err == nil && ok {
			return routeResult(route), true, nil
		}
	}
	// An unmatched URL reports matched=false with no error, whatever
	// netFailUnmatched says; the effector turns that into a
	// "no mock matches" failure and never reaches the real network.
	return effector.HTTPResult{}, false, nil
}

func routeResult(route MockRoute) effector.HTTPResult {
	return effector.HTTPResult{
		StatusCode: route.Status,
		Body:       route.Body,
		LatencyMs:  route.LatencyMs,
	}
}

// Snapshot is SYS_WORLD_SNAPSHOT's JSON-serializable capture (spec
// §4.9).
type Snapshot struct {
	Files        map[string]string `json:"files"`
	SyscallCount int64             `json:"syscall_count"`
	ChaosRate    float64           `json:"chaos_failure_rate"`
}

// Snapshot captures the world's current VFS, chaos metrics, and
// syscall count.
func (w *World) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make(map[string]string, len(w.files))
	for k, v := range w.files {
		files[k] = v
	}
	return Snapshot{Files: files, SyscallCount: w.syscallCount, ChaosRate: w.chaos.FailureRate}
}

// Restore reconstructs a world under newID from a previously captured
// Snapshot (spec §4.9's SYS_WORLD_RESTORE), preserving the original
// world's readonly/writable patterns and mock network.
func (w *World) Restore(newID string, snap Snapshot) *World {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := &World{
		id:               newID,
		name:             w.name,
		files:            make(map[string]string, len(snap.Files)),
		writable:         append([]string(nil), w.writable...),
		readonly:         append([]string(nil), w.readonly...),
		netExact:         w.netExact,
		netGlobs:         w.netGlobs,
		netFailUnmatched: w.netFailUnmatched,
		chaos:            ChaosConfig{FailureRate: snap.ChaosRate, LatencyMs: w.chaos.LatencyMs},
		syscallCount:     snap.SyscallCount,
	}
	for k, v := range snap.Files {
		out.files[k] = v
	}
	return out
}

// MarshalSnapshot is a convenience for SYS_WORLD_SNAPSHOT's response.
func (s Snapshot) MarshalSnapshot() (json.RawMessage, error) {
	return json.Marshal(s)
}

// chaosRoll is overridden in tests for determinism.
var chaosRoll = func() float64 { return rand.Float64() }
