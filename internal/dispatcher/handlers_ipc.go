package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ashureev/clovekernel/internal/audit"
	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/mailbox"
	"github.com/ashureev/clovekernel/internal/permission"
	"github.com/ashureev/clovekernel/internal/session"
)

type registerRequest struct {
	Name string `json:"name"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	AgentID uint32 `json:"agent_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// handleRegister claims an IPC name for the caller, first-writer-wins
// (spec §4.4).
func handleRegister(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req registerRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, kerr.New(kerr.BadRequest, "name is required")
	}
	if !k.Mailbox.Register(sess.ID, req.Name) {
		return nil, kerr.New(kerr.Conflict, "name %q already registered", req.Name)
	}
	sess.SetName(req.Name)
	return registerResponse{Success: true, AgentID: sess.ID, Name: req.Name}, nil
}

type sendRequest struct {
	To      uint32          `json:"to,omitempty"`
	ToName  string          `json:"to_name,omitempty"`
	Message json.RawMessage `json:"message"`
}

type sendResponse struct {
	Success     bool `json:"success"`
	DeliveredTo uint32 `json:"delivered_to,omitempty"`
}

// handleSend resolves the recipient by id or registered name and
// enqueues into its mailbox (spec §4.4).
func handleSend(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req sendRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}

	toID := req.To
	if req.ToName != "" {
		id, ok := k.Mailbox.Resolve(req.ToName)
		if !ok {
			return nil, kerr.New(kerr.NotFound, "unknown recipient")
		}
		toID = id
	}
	if toID == 0 {
		return nil, kerr.New(kerr.NotFound, "unknown recipient")
	}

	fromName, _ := k.Mailbox.NameOf(sess.ID)
	if err := k.Mailbox.Send(sess.ID, fromName, toID, req.Message); err != nil {
		var full *mailbox.ErrMailboxFull
		if errors.As(err, &full) {
			return nil, kerr.New(kerr.ResourceExhausted, "mailbox full")
		}
		return nil, kerr.New(kerr.Internal, "%v", err)
	}
	return sendResponse{Success: true, DeliveredTo: toID}, nil
}

type recvRequest struct {
	Max int `json:"max"`
}

type recvMessage struct {
	FromID   uint32          `json:"from_id"`
	FromName string          `json:"from_name,omitempty"`
	Message  json.RawMessage `json:"message"`
	AgeMs    int64           `json:"age_ms"`
}

type recvResponse struct {
	Success  bool          `json:"success"`
	Messages []recvMessage `json:"messages"`
	Count    int           `json:"count"`
}

// handleRecv drains up to max entries from the caller's mailbox in FIFO
// order (spec §4.4).
func handleRecv(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req recvRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	entries := k.Mailbox.Recv(sess.ID, req.Max)
	out := make([]recvMessage, len(entries))
	for i, e := range entries {
		out[i] = recvMessage{
			FromID: e.FromID, FromName: e.FromName, Message: e.Message,
			AgeMs: time.Since(e.EnqueuedAt).Milliseconds(),
		}
	}
	return recvResponse{Success: true, Messages: out, Count: len(out)}, nil
}

type broadcastRequest struct {
	Message     json.RawMessage `json:"message"`
	IncludeSelf bool            `json:"include_self,omitempty"`
}

type broadcastResponse struct {
	Success        bool `json:"success"`
	DeliveredCount int  `json:"delivered_count"`
}

// handleBroadcast fans out message to every registered agent, skipping
// the caller unless include_self is set (spec §4.4).
func handleBroadcast(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req broadcastRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	fromName, _ := k.Mailbox.NameOf(sess.ID)
	delivered, skipped := k.Mailbox.Broadcast(sess.ID, fromName, req.Message, req.IncludeSelf)
	if len(skipped) > 0 {
		k.Audit.Append(audit.CategoryIPC, "BROADCAST_SKIPPED", sess.ID, map[string]any{"skipped": skipped})
	}
	return broadcastResponse{Success: true, DeliveredCount: delivered}, nil
}

type getPermsResponse struct {
	Success     bool `json:"success"`
	Permissions any  `json:"permissions"`
}

// handleGetPerms returns the caller's current capability set (spec §4.2).
func handleGetPerms(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	return getPermsResponse{Success: true, Permissions: sess.Perms()}, nil
}

type setPermsRequest struct {
	Level       string `json:"level,omitempty"`
	Permissions any    `json:"permissions,omitempty"`
	AgentID     uint32 `json:"agent_id,omitempty"`
}

// handleSetPerms requires the set-perms capability, and may only
// downgrade a target session unless the caller is unrestricted (spec
// §4.2). Concurrent SYS_SET_PERMS on the same target is last-writer-
// wins (SPEC_FULL.md's Open Question resolution: no additional locking
// beyond the session's own mutex, which already serializes field writes).
func handleSetPerms(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	caller := sess.Perms()
	if !caller.SetPerms {
		return nil, kerr.PermDenied()
	}
	var req setPermsRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	if req.Level == "" {
		return nil, kerr.New(kerr.BadRequest, "level is required")
	}

	target := sess
	if req.AgentID != 0 && req.AgentID != sess.ID {
		t := k.Sessions.Get(req.AgentID)
		if t == nil {
			return nil, kerr.New(kerr.NotFound, "no such agent %d", req.AgentID)
		}
		target = t
	}

	candidate := permission.FromLevel(permission.Level(req.Level))
	if caller.Level != permission.Unrestricted && !permission.Downgrade(target.Perms(), candidate) {
		return nil, kerr.PermDenied()
	}
	target.SetPerms(candidate)
	return successResponse{Success: true}, nil
}
