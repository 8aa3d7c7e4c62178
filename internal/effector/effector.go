// Package effector implements the kernel's filesystem, exec, and HTTP
// syscalls (spec §4.7), each subject to a permission check and, when the
// caller has joined a world, the world overlay (spec §4.9).
package effector

import "context"

// DefaultOutputCap is the default byte cap applied to EXEC stdout/stderr
// and HTTP response bodies (spec §4.7: "captures stdout/stderr with a
// total-output cap").
const DefaultOutputCap = 256 * 1024

// Overlay is implemented by a joined world (internal/world) to
// transparently replace the real filesystem and network effectors
// with virtualized ones (spec §4.9). A session with no joined world
// passes a nil Overlay and every call falls through to the real
// effector.
type Overlay interface {
	// ReadFile returns the virtual file's content. ok is false if path
	// is not present in the virtual tree, in which case the caller
	// falls through to nothing (virtual worlds do not pass through to
	// the real filesystem).
	ReadFile(path string) (content []byte, ok bool, err error)

	// WriteFile writes to the virtual tree under the given mode
	// ("write" or "append"). ok is false if path was never matched
	// by a writable pattern.
	WriteFile(path, mode string, content []byte) (ok bool, err error)

	// HTTPDo resolves req against the world's mocked network. matched
	// is false when no exact key or glob pattern matched the URL.
	HTTPDo(req HTTPRequest) (res HTTPResult, matched bool, err error)
}

// Effector bundles the three real syscall implementations and an
// optional world Overlay.
type Effector struct {
	Overlay Overlay

	readWhitelist  []string
	writeWhitelist []string
	execAllow      []string
	httpAllow      []string

	readCapBytes   int64
	outputCapBytes int
}

// Config configures one session's Effector instance from its
// permission.Set (spec §4.2's *_paths / *_allowed fields).
type Config struct {
	ReadPaths  []string
	WritePaths []string
	ExecAllow  []string
	HTTPAllow  []string

	ReadCapBytes   int64 // 0 = DefaultReadCap
	OutputCapBytes int   // 0 = DefaultOutputCap
}

// DefaultReadCap is the default byte cap on READ's returned content.
const DefaultReadCap = 4 * 1024 * 1024

// New builds an Effector for one session from cfg. overlay is nil when
// the session has not joined a world.
func New(cfg Config, overlay Overlay) *Effector {
	e := &Effector{
		Overlay:        overlay,
		readWhitelist:  cfg.ReadPaths,
		writeWhitelist: cfg.WritePaths,
		execAllow:      cfg.ExecAllow,
		httpAllow:      cfg.HTTPAllow,
		readCapBytes:   cfg.ReadCapBytes,
		outputCapBytes: cfg.OutputCapBytes,
	}
	if e.readCapBytes <= 0 {
		e.readCapBytes = DefaultReadCap
	}
	if e.outputCapBytes <= 0 {
		e.outputCapBytes = DefaultOutputCap
	}
	return e
}

// SetOverlay attaches or clears the world overlay. The dispatcher does
// not call it: it builds a fresh Effector per request with the joined
// world's overlay passed to New.
func (e *Effector) SetOverlay(overlay Overlay) {
	e.Overlay = overlay
}

type ctxKey int

const ctxKeyAgentID ctxKey = iota

// WithAgentID attaches the originating agent id to ctx, so audit taps
// downstream of the dispatcher can tag entries without threading an
// extra parameter through every effector call.
func WithAgentID(ctx context.Context, agentID uint32) context.Context {
	return context.WithValue(ctx, ctxKeyAgentID, agentID)
}

// AgentIDFrom extracts the agent id set by WithAgentID, if any.
func AgentIDFrom(ctx context.Context) (uint32, bool) {
	id, ok := ctx.Value(ctxKeyAgentID).(uint32)
	return id, ok
}
