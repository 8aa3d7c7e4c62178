// Package dispatcher implements the kernel's top-level accept loop and
// syscall dispatcher (spec §4.1, §4.12): one goroutine per connection,
// a fixed-header frame loop, capability + world-overlay resolution, and
// an audit/record tap around every opcode handler. Grounded on the
// teacher's terminal.websocket per-connection handler shape (read loop,
// single owning goroutine per connection, serialized writes) now
// running over the kernel's own wire.Frame protocol instead of a
// websocket-wrapped PTY stream.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ashureev/clovekernel/internal/audit"
	"github.com/ashureev/clovekernel/internal/eventbus"
	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/kv"
	"github.com/ashureev/clovekernel/internal/llm"
	"github.com/ashureev/clovekernel/internal/mailbox"
	"github.com/ashureev/clovekernel/internal/metrics"
	"github.com/ashureev/clovekernel/internal/permission"
	"github.com/ashureev/clovekernel/internal/recorder"
	"github.com/ashureev/clovekernel/internal/session"
	"github.com/ashureev/clovekernel/internal/supervisor"
	"github.com/ashureev/clovekernel/internal/wire"
	"github.com/ashureev/clovekernel/internal/world"
)

// Kernel wires together every kernel-owned component and drives the
// syscall dispatch loop for each connection.
type Kernel struct {
	Sessions   *session.Registry
	Store      *kv.Store
	Mailbox    *mailbox.Broker
	Bus        *eventbus.Bus
	LLM        *llm.Scheduler
	Supervisor *supervisor.Supervisor
	Worlds     *world.Registry
	Audit      *audit.Ring
	Recorder   *recorder.Recorder
	Replayer   *recorder.Replayer
	Metrics    *metrics.Collector

	// DefaultLevel is the permission level assigned to a session on its
	// first frame. Not specified by the wire contract; New sets it to
	// Standard.
	DefaultLevel permission.Level
}

// New creates a Kernel from its component dependencies.
func New(
	sessions *session.Registry,
	store *kv.Store,
	mb *mailbox.Broker,
	bus *eventbus.Bus,
	llmSched *llm.Scheduler,
	sup *supervisor.Supervisor,
	worlds *world.Registry,
	auditRing *audit.Ring,
	rec *recorder.Recorder,
	replay *recorder.Replayer,
	metricsCollector *metrics.Collector,
) *Kernel {
	return &Kernel{
		Sessions: sessions, Store: store, Mailbox: mb, Bus: bus, LLM: llmSched,
		Supervisor: sup, Worlds: worlds, Audit: auditRing, Recorder: rec,
		Replayer: replay, Metrics: metricsCollector, DefaultLevel: permission.Standard,
	}
}

// Serve accepts connections on ln until ctx is cancelled, handling each
// on its own goroutine (spec §5: "one lightweight task per connection").
func (k *Kernel) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dispatcher: accept: %w", err)
		}
		go k.handleConn(ctx, conn)
	}
}

// handleConn owns one connection end to end: session allocation on the
// first frame, the read-dispatch-write loop, and close-time cleanup
// (spec §5's close ordering).
func (k *Kernel) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var sess *session.Session

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				// Clean close or short read at EOF: close silently
				// (spec §4.1's fail mode).
			case errors.Is(err, wire.ErrBadMagic):
				slog.Warn("dispatcher: invalid magic, closing connection")
			default:
				slog.Debug("dispatcher: read frame", "error", err)
			}
			break
		}

		if sess == nil {
			sess = k.Sessions.Create(k.DefaultLevel, conn)
		}

		if frame.Opcode == wire.OpExit {
			k.writeResponse(sess, wire.OpExit, okResponse{Success: true})
			break
		}

		respPayload := k.dispatch(ctx, sess, frame.Opcode, frame.Payload)
		k.writeResponse(sess, frame.Opcode, respPayload)
	}

	if sess != nil {
		k.closeSession(sess)
	}
}

// closeSession performs spec §5's close-time cleanup order: stop new
// work (the connection is already closed by the caller), unregister
// the name, remove subscriptions, leave any world, and detach (not
// kill) any spawned children.
func (k *Kernel) closeSession(sess *session.Session) {
	if name := sess.Name(); name != "" {
		k.Mailbox.Unregister(sess.ID, name)
	}
	k.Mailbox.Close(sess.ID)
	k.Bus.Close(sess.ID)
	k.Worlds.Leave(sess.ID)
	// Children outlive the spawner connection; the supervisor continues
	// to own and restart them (spec §5).
	slog.Debug("dispatcher: session closed", "agent_id", sess.ID, "children", sess.Children())
}

// writeResponse marshals payload and writes exactly one response frame,
// serialized against any concurrent write on this connection's session.
func (k *Kernel) writeResponse(sess *session.Session, op wire.Opcode, payload any) {
	var data []byte
	if raw, ok := payload.(rawPayload); ok {
		data = raw
	} else {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			slog.Error("dispatcher: marshal response", "error", err)
			data = []byte(`{"success":false,"error":"internal"}`)
		}
	}
	frame := wire.Frame{AgentID: sess.ID, Opcode: op, Payload: data}
	if err := sess.WriteFrame(func(w io.Writer) error { return frame.Encode(w) }); err != nil {
		slog.Debug("dispatcher: write frame", "agent_id", sess.ID, "error", err)
	}
}

// dispatch resolves capability + world overlay, invokes the opcode
// handler, and taps the result into the audit ring and recorder (spec
// §4.12). It returns the JSON-marshalable response payload.
func (k *Kernel) dispatch(ctx context.Context, sess *session.Session, op wire.Opcode, payload []byte) any {
	start := time.Now()
	category := categoryFor(op)

	resp := k.invoke(ctx, sess, op, payload)

	duration := time.Since(start)
	respBytes, _ := json.Marshal(resp)
	k.Audit.Append(category, op.Name(), sess.ID, resp)
	k.Recorder.Record(sess.ID, "SYS_"+op.Name(), append(json.RawMessage(nil), payload...), respBytes, duration)

	return resp
}

// invoke runs the handler for op, converting a returned *kerr.Error into
// the uniform {success:false,error} envelope (spec §7). A panic inside
// the handler is recovered here, mirroring chi's middleware.Recoverer:
// it becomes an Internal error response plus a security-adjacent audit
// entry instead of taking down the whole process (spec §7: "kernel
// does not abort on a single bad frame").
func (k *Kernel) invoke(ctx context.Context, sess *session.Session, op wire.Opcode, payload []byte) any {
	h, ok := handlers[op]
	if !ok {
		return errResponse(kerr.New(kerr.BadRequest, "unknown opcode"))
	}

	resp, err := k.invokeRecovered(ctx, sess, op, h, payload)
	if err != nil {
		var kerrErr *kerr.Error
		if !errors.As(err, &kerrErr) {
			kerrErr = kerr.New(kerr.Internal, "%v", err)
		}
		if kerrErr.Kind == kerr.PermissionDenied {
			k.Audit.Append(audit.CategorySecurity, op.Name(), sess.ID, map[string]string{"reason": kerrErr.Message})
			k.Bus.Publish(eventbus.Event{Type: eventbus.EventSecurity, Data: mustJSON(map[string]any{
				"agent_id": sess.ID, "opcode": op.Name(), "reason": kerrErr.Message,
			}), At: time.Now()})
		}
		return errResponse(kerrErr)
	}
	return resp
}

// invokeRecovered calls h and converts a panic into an Internal
// *kerr.Error instead of letting it unwind past the handler's
// goroutine, which would otherwise crash the whole process (Go panics
// are not scoped to the originating connection).
func (k *Kernel) invokeRecovered(ctx context.Context, sess *session.Session, op wire.Opcode, h handlerFunc, payload []byte) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatcher: handler panic", "opcode", op.Name(), "agent_id", sess.ID, "panic", r)
			k.Audit.Append(audit.CategorySecurity, op.Name(), sess.ID, map[string]any{"panic": fmt.Sprint(r)})
			resp, err = nil, kerr.New(kerr.Internal, "internal error")
		}
	}()
	return h(k, ctx, sess, payload)
}

// rawPayload marks a handler's response as already-framed bytes (used
// only by NOOP): writeResponse writes it to the wire verbatim instead of
// JSON-marshaling it, per spec §6's "opaque bytes" contract.
type rawPayload []byte

type okResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errResponse(err *kerr.Error) errorResponse {
	return errorResponse{Success: false, Error: err.Message}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// decodeStrict unmarshals payload into v, rejecting unknown fields so
// recorded/replayed opcodes round-trip exactly (spec §9's design note).
func decodeStrict(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return kerr.New(kerr.BadRequest, "malformed request: %v", err)
	}
	return nil
}

// categoryFor maps an opcode to its audit category (spec §4.10).
func categoryFor(op wire.Opcode) audit.Category {
	switch op {
	case wire.OpRead, wire.OpWrite:
		return audit.CategoryFS
	case wire.OpExec:
		return audit.CategoryExec
	case wire.OpHTTP:
		return audit.CategoryHTTP
	case wire.OpThink:
		return audit.CategoryThink
	case wire.OpSend, wire.OpRecv, wire.OpBroadcast, wire.OpRegister:
		return audit.CategoryIPC
	case wire.OpStore, wire.OpFetch, wire.OpDelete, wire.OpKeys:
		return audit.CategoryKV
	case wire.OpWorldCreate, wire.OpWorldJoin, wire.OpWorldLeave, wire.OpWorldDestroy,
		wire.OpWorldEvent, wire.OpWorldSnapshot, wire.OpWorldRestore, wire.OpWorldList, wire.OpWorldInfo:
		return audit.CategoryWorld
	case wire.OpSpawn, wire.OpKill, wire.OpList, wire.OpPause, wire.OpResume:
		return audit.CategorySupervisor
	case wire.OpGetPerms, wire.OpSetPerms:
		return audit.CategorySecurity
	case wire.OpMetricsSystem, wire.OpMetricsAgent, wire.OpMetricsCgroup, wire.OpMetricsLLM:
		return audit.CategoryMetrics
	case wire.OpGetAuditLog, wire.OpSetAuditConfig, wire.OpRecordStart, wire.OpRecordStop,
		wire.OpRecordStatus, wire.OpReplayStart, wire.OpReplayStatus:
		return audit.CategoryAudit
	case wire.OpSubscribe, wire.OpUnsubscribe, wire.OpPollEvents, wire.OpEmit:
		return audit.CategoryIPC
	default:
		return audit.CategoryIPC
	}
}

// handlerFunc is one opcode's implementation. A returned *kerr.Error
// (via errors.As) becomes the uniform error envelope; any other
// response value is marshaled as-is on success.
type handlerFunc func(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error)

var handlers map[wire.Opcode]handlerFunc

func init() {
	handlers = map[wire.Opcode]handlerFunc{
		wire.OpNoop:  handleNoop,
		wire.OpThink: handleThink,
		wire.OpExec:  handleExec,
		wire.OpRead:  handleRead,
		wire.OpWrite: handleWrite,
		wire.OpHTTP:  handleHTTP,

		wire.OpSpawn:  handleSpawn,
		wire.OpKill:   handleKill,
		wire.OpList:   handleList,
		wire.OpPause:  handlePause,
		wire.OpResume: handleResume,

		wire.OpSend:      handleSend,
		wire.OpRecv:      handleRecv,
		wire.OpBroadcast: handleBroadcast,
		wire.OpRegister:  handleRegister,

		wire.OpStore:  handleStore,
		wire.OpFetch:  handleFetch,
		wire.OpDelete: handleDelete,
		wire.OpKeys:   handleKeys,

		wire.OpGetPerms: handleGetPerms,
		wire.OpSetPerms: handleSetPerms,

		wire.OpSubscribe:   handleSubscribe,
		wire.OpUnsubscribe: handleUnsubscribe,
		wire.OpPollEvents:  handlePollEvents,
		wire.OpEmit:        handleEmit,

		wire.OpRecordStart:  handleRecordStart,
		wire.OpRecordStop:   handleRecordStop,
		wire.OpRecordStatus: handleRecordStatus,
		wire.OpReplayStart:  handleReplayStart,
		wire.OpReplayStatus: handleReplayStatus,
		wire.OpGetAuditLog:    handleGetAuditLog,
		wire.OpSetAuditConfig: handleSetAuditConfig,

		wire.OpWorldCreate:   handleWorldCreate,
		wire.OpWorldJoin:     handleWorldJoin,
		wire.OpWorldLeave:    handleWorldLeave,
		wire.OpWorldDestroy:  handleWorldDestroy,
		wire.OpWorldEvent:    handleWorldEvent,
		wire.OpWorldSnapshot: handleWorldSnapshot,
		wire.OpWorldRestore:  handleWorldRestore,
		wire.OpWorldList:     handleWorldList,
		wire.OpWorldInfo:     handleWorldInfo,

		wire.OpMetricsSystem: handleMetricsSystem,
		wire.OpMetricsAgent:  handleMetricsAgent,
		wire.OpMetricsCgroup: handleMetricsCgroup,
		wire.OpMetricsLLM:    handleMetricsLLM,
	}
}
