package dispatcher

import (
	"context"

	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/session"
	"github.com/ashureev/clovekernel/internal/world"
)

type worldCreateRequest struct {
	Name  string              `json:"name,omitempty"`
	VFS   world.VirtualFSConfig `json:"vfs,omitempty"`
	Net   world.MockNetConfig   `json:"net,omitempty"`
	Chaos world.ChaosConfig     `json:"chaos,omitempty"`
}

type worldCreateResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// handleWorldCreate builds and registers a new world (spec §4.9).
func handleWorldCreate(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req worldCreateRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	id := k.Worlds.Create(world.Config{Name: req.Name, VFS: req.VFS, Net: req.Net, Chaos: req.Chaos})
	return worldCreateResponse{Success: true, ID: id}, nil
}

type worldIDRequest struct {
	ID string `json:"id"`
}

type worldJoinResponse struct {
	Success bool `json:"success"`
}

// handleWorldJoin joins the caller to a world, rejecting if already
// joined to another (spec §4.9).
func handleWorldJoin(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req worldIDRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	if _, err := k.Worlds.Join(sess.ID, req.ID); err != nil {
		return nil, kerr.New(kerr.Conflict, "%v", err)
	}
	sess.SetWorld(req.ID)
	return worldJoinResponse{Success: true}, nil
}

// handleWorldLeave removes the caller's world membership, if any (spec §4.9).
func handleWorldLeave(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	k.Worlds.Leave(sess.ID)
	sess.SetWorld("")
	return successResponse{Success: true}, nil
}

type worldDestroyRequest struct {
	ID    string `json:"id"`
	Force bool   `json:"force,omitempty"`
}

// handleWorldDestroy removes a world, refusing while occupied unless
// force is set (spec §4.9).
func handleWorldDestroy(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req worldDestroyRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	if err := k.Worlds.Destroy(req.ID, req.Force); err != nil {
		return nil, kerr.New(kerr.Conflict, "%v", err)
	}
	return successResponse{Success: true}, nil
}

type worldEventRequest struct {
	Mode string `json:"mode"`
}

// handleWorldEvent injects a one-shot failure mode into the caller's
// joined world (spec §4.9).
func handleWorldEvent(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req worldEventRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	w, ok := k.Worlds.WorldOf(sess.ID)
	if !ok {
		return nil, kerr.New(kerr.NotFound, "not joined to a world")
	}
	w.InjectEvent(req.Mode)
	return successResponse{Success: true}, nil
}

type worldSnapshotResponse struct {
	Success  bool           `json:"success"`
	Snapshot world.Snapshot `json:"snapshot"`
}

// handleWorldSnapshot captures the caller's joined world's VFS, chaos
// metrics, and syscall count (spec §4.9).
func handleWorldSnapshot(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	w, ok := k.Worlds.WorldOf(sess.ID)
	if !ok {
		return nil, kerr.New(kerr.NotFound, "not joined to a world")
	}
	return worldSnapshotResponse{Success: true, Snapshot: w.Snapshot()}, nil
}

type worldRestoreRequest struct {
	ID       string         `json:"id"`
	Snapshot world.Snapshot `json:"snapshot"`
}

// handleWorldRestore reconstructs a world from a snapshot under a new
// id (spec §4.9).
func handleWorldRestore(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req worldRestoreRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	newID, err := k.Worlds.RestoreFrom(req.ID, req.Snapshot)
	if err != nil {
		return nil, kerr.New(kerr.NotFound, "%v", err)
	}
	return worldCreateResponse{Success: true, ID: newID}, nil
}

type worldListResponse struct {
	Success bool     `json:"success"`
	Worlds  []string `json:"worlds"`
}

// handleWorldList is not individually specified by §4.9's opcode table
// beyond its hex slot; it returns every live world id, mirroring
// SYS_LIST's shape for the supervisor.
func handleWorldList(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	return worldListResponse{Success: true, Worlds: k.Worlds.IDs()}, nil
}

type worldInfoResponse struct {
	Success   bool   `json:"success"`
	ID        string `json:"id"`
	HasMember bool   `json:"has_member"`
}

// handleWorldInfo reports whether the requested world exists and is
// currently occupied.
func handleWorldInfo(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req worldIDRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	w, ok := k.Worlds.Get(req.ID)
	if !ok {
		return nil, kerr.New(kerr.NotFound, "no such world %q", req.ID)
	}
	return worldInfoResponse{Success: true, ID: req.ID, HasMember: w.HasMember()}, nil
}
