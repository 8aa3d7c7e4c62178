package dispatcher

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ashureev/clovekernel/internal/audit"
	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/recorder"
	"github.com/ashureev/clovekernel/internal/session"
	"github.com/ashureev/clovekernel/internal/wire"
)

type getAuditLogRequest struct {
	SinceID  uint64 `json:"since_id,omitempty"`
	Category string `json:"category,omitempty"`
	AgentID  uint32 `json:"agent_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type getAuditLogResponse struct {
	Success bool          `json:"success"`
	Entries []audit.Entry `json:"entries"`
}

// handleGetAuditLog returns audit entries matching the filter (spec §4.10).
func handleGetAuditLog(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req getAuditLogRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	agentFilterSet := req.AgentID != 0
	entries := k.Audit.Query(req.SinceID, audit.Category(req.Category), req.AgentID, agentFilterSet, req.Limit)
	if entries == nil {
		entries = []audit.Entry{}
	}
	return getAuditLogResponse{Success: true, Entries: entries}, nil
}

type setAuditConfigRequest struct {
	Categories map[string]bool `json:"categories,omitempty"`
	MaxEntries int             `json:"max_entries,omitempty"`
}

// handleSetAuditConfig atomically replaces the audit filter (spec §4.10).
func handleSetAuditConfig(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req setAuditConfigRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	cats := make(map[audit.Category]bool, len(req.Categories))
	for name, allowed := range req.Categories {
		cats[audit.Category(name)] = allowed
	}
	k.Audit.SetFilter(audit.Filter{Categories: cats, MaxEntries: req.MaxEntries})
	return successResponse{Success: true}, nil
}

type recordStartRequest struct {
	IncludeNonDeterministic bool     `json:"include_non_deterministic,omitempty"`
	AgentIDs                []uint32 `json:"agent_ids,omitempty"`
}

// handleRecordStart activates the recorder with the given filter (spec §4.10).
func handleRecordStart(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req recordStartRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	filter := recorder.Filter{IncludeNonDeterministic: req.IncludeNonDeterministic}
	if len(req.AgentIDs) > 0 {
		filter.AgentIDs = make(map[uint32]bool, len(req.AgentIDs))
		for _, id := range req.AgentIDs {
			filter.AgentIDs[id] = true
		}
	}
	k.Recorder.Start(filter)
	return successResponse{Success: true}, nil
}

// handleRecordStop deactivates the recorder, leaving the buffer intact
// for export (spec §4.10).
func handleRecordStop(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	k.Recorder.Stop()
	return successResponse{Success: true}, nil
}

type recordStatusResponse struct {
	Success bool            `json:"success"`
	Active  bool            `json:"active"`
	Entries int             `json:"entries"`
	Seq     uint64          `json:"seq"`
	Export  json.RawMessage `json:"export,omitempty"`
}

type recordStatusRequest struct {
	Export bool `json:"export,omitempty"`
}

// handleRecordStatus reports the recorder's activity and, if requested,
// exports its buffer as a JSON array (spec §4.10).
func handleRecordStatus(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req recordStatusRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	status := k.Recorder.Status()
	resp := recordStatusResponse{Success: true, Active: status.Active, Entries: status.Entries, Seq: status.Seq}
	if req.Export {
		data, err := k.Recorder.Export()
		if err != nil {
			return nil, kerr.New(kerr.Internal, "%v", err)
		}
		resp.Export = data
	}
	return resp, nil
}

type replayStartRequest struct {
	Entries []recorder.Entry `json:"entries"`
}

// handleReplayStart synchronously walks the supplied recording,
// re-issuing every deterministic entry through the normal dispatcher
// (spec §4.10).
func handleReplayStart(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req replayStartRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	k.Replayer.Start(req.Entries, func(agentID uint32, opcodeName string, reqPayload json.RawMessage) (json.RawMessage, error) {
		target := k.Sessions.Get(agentID)
		if target == nil {
			return nil, kerr.New(kerr.NotFound, "replay: agent %d has no live session", agentID)
		}
		op, ok := opcodeByName(opcodeName)
		if !ok {
			return nil, kerr.New(kerr.BadRequest, "replay: unknown opcode %q", opcodeName)
		}
		resp := k.invoke(ctx, target, op, reqPayload)
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}
		return data, nil
	})
	return successResponse{Success: true}, nil
}

// handleReplayStatus returns the replayer's current state (spec §4.10).
func handleReplayStatus(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	return k.Replayer.Status(), nil
}

// opcodeByName reverses wire.Opcode.Name(), accepting either the bare
// registry name ("WRITE") or the recorder's "SYS_"-prefixed opcode
// string ("SYS_WRITE").
func opcodeByName(name string) (wire.Opcode, bool) {
	name = strings.TrimPrefix(name, "SYS_")
	for op := range handlers {
		if op.Name() == name {
			return op, true
		}
	}
	return 0, false
}
