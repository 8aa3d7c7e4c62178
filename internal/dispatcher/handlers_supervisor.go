package dispatcher

import (
	"context"

	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/permission"
	"github.com/ashureev/clovekernel/internal/session"
	"github.com/ashureev/clovekernel/internal/supervisor"
)

type spawnLimits struct {
	Memory   int64 `json:"memory,omitempty"`
	CPUQuota int64 `json:"cpu_quota,omitempty"`
	MaxPIDs  int64 `json:"max_pids,omitempty"`
}

type spawnRequest struct {
	Name           string      `json:"name"`
	ScriptPath     string      `json:"script_path"`
	Cwd            string      `json:"cwd,omitempty"`
	Env            []string    `json:"env,omitempty"`
	Sandboxed      bool        `json:"sandboxed,omitempty"`
	Network        bool        `json:"network,omitempty"`
	Limits         spawnLimits `json:"limits,omitempty"`
	RestartPolicy  string      `json:"restart_policy,omitempty"`
	MaxRestarts    int         `json:"max_restarts,omitempty"`
	RestartWindowS int         `json:"restart_window_s,omitempty"`
}

type spawnResponse struct {
	Success       bool   `json:"success"`
	ID            uint32 `json:"id,omitempty"`
	PID           int    `json:"pid,omitempty"`
	Status        string `json:"status,omitempty"`
	RestartPolicy string `json:"restart_policy,omitempty"`
}

// handleSpawn requires spawn capability, allocates the child its own
// agent id, and hands the spec to the supervisor (spec §4.8).
func handleSpawn(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	if !sess.Perms().Spawn {
		return nil, kerr.PermDenied()
	}
	var req spawnRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	if req.ScriptPath == "" {
		return nil, kerr.New(kerr.BadRequest, "script_path is required")
	}

	policy := supervisor.RestartPolicy(req.RestartPolicy)
	switch policy {
	case "":
		policy = supervisor.RestartNever
	case supervisor.RestartNever, supervisor.RestartOnFailure, supervisor.RestartAlways:
	default:
		return nil, kerr.New(kerr.BadRequest, "unknown restart_policy %q", req.RestartPolicy)
	}

	// A spawned child gets its own agent id from the same id space as
	// network sessions, purely for bookkeeping (audit, SYS_LIST) — it
	// never itself drives the frame loop, since it has no connection.
	childID := k.Sessions.Create(permission.Minimal, nil).ID

	spec := supervisor.AgentSpec{
		AgentID: childID, Name: req.Name, Command: req.ScriptPath, Cwd: req.Cwd, Env: req.Env,
		Sandboxed: req.Sandboxed, Network: req.Network,
		Limits: supervisor.Limits{
			MemoryLimitBytes: req.Limits.Memory, CPUQuota: req.Limits.CPUQuota, MaxPIDs: req.Limits.MaxPIDs,
		},
		RestartPolicy: policy, MaxRestarts: req.MaxRestarts, RestartWindowS: req.RestartWindowS,
	}

	info, err := k.Supervisor.Spawn(ctx, spec)
	if err != nil {
		k.Sessions.Remove(childID)
		return nil, kerr.New(kerr.Internal, "spawn failed: %v", err)
	}
	sess.AddChild(childID)

	return spawnResponse{
		Success: true, ID: info.ID, PID: info.PID, Status: string(info.State), RestartPolicy: string(policy),
	}, nil
}

type agentRefRequest struct {
	ID   uint32 `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

func resolveAgentRef(k *Kernel, req agentRefRequest) (uint32, error) {
	if req.Name != "" {
		for _, info := range k.Supervisor.List() {
			if info.Name == req.Name {
				return info.ID, nil
			}
		}
		return 0, kerr.New(kerr.NotFound, "no such agent %q", req.Name)
	}
	if req.ID != 0 {
		return req.ID, nil
	}
	return 0, kerr.New(kerr.BadRequest, "id or name is required")
}

type killResponse struct {
	Killed bool `json:"killed"`
}

// handleKill delivers SIGTERM then SIGKILL after a grace period (spec §4.8).
func handleKill(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req agentRefRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	id, err := resolveAgentRef(k, req)
	if err != nil {
		return nil, err
	}
	if err := k.Supervisor.Kill(ctx, id); err != nil {
		return nil, kerr.New(kerr.NotFound, "%v", err)
	}
	return killResponse{Killed: true}, nil
}

// handleList returns every tracked child agent's info (spec §4.8).
func handleList(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	return k.Supervisor.List(), nil
}

type successResponse struct {
	Success bool `json:"success"`
}

// handlePause delivers SIGSTOP (spec §4.8).
func handlePause(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req agentRefRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	id, err := resolveAgentRef(k, req)
	if err != nil {
		return nil, err
	}
	if err := k.Supervisor.Pause(ctx, id); err != nil {
		return nil, kerr.New(kerr.NotFound, "%v", err)
	}
	return successResponse{Success: true}, nil
}

// handleResume delivers SIGCONT (spec §4.8).
func handleResume(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req agentRefRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	id, err := resolveAgentRef(k, req)
	if err != nil {
		return nil, err
	}
	if err := k.Supervisor.Resume(ctx, id); err != nil {
		return nil, kerr.New(kerr.NotFound, "%v", err)
	}
	return successResponse{Success: true}, nil
}
