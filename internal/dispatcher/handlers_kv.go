package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/kv"
	"github.com/ashureev/clovekernel/internal/session"
)

// ownerFor resolves the (scope, owner) pair for sess per spec §4.3:
// global ignores owner, agent-local uses the caller's id, world-local
// uses the caller's joined world and is rejected if not joined.
func ownerFor(sess *session.Session, scopeStr string) (kv.Scope, string, error) {
	scope := kv.Scope(scopeStr)
	if scope == "" {
		scope = kv.ScopeGlobal
	}
	owner, err := kv.OwnerKey(scope, sess.ID, sess.World())
	if err != nil {
		return scope, "", kerr.New(kerr.BadRequest, "%v", err)
	}
	return scope, owner, nil
}

type storeRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Scope string          `json:"scope,omitempty"`
	TTL   *int64          `json:"ttl,omitempty"`
}

// handleStore upserts a key/value record with optional TTL in seconds
// (spec §4.3). TTL 0 or unset means "never expire"; a negative TTL is
// rejected as malformed (SPEC_FULL.md's Open Question resolution: spec
// §8 requires pinning this choice).
func handleStore(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req storeRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, kerr.New(kerr.BadRequest, "key is required")
	}
	scope, owner, err := ownerFor(sess, req.Scope)
	if err != nil {
		return nil, err
	}
	var ttl time.Duration
	if req.TTL != nil {
		if *req.TTL < 0 {
			return nil, kerr.New(kerr.BadRequest, "ttl must not be negative")
		}
		ttl = time.Duration(*req.TTL) * time.Second
	}
	k.Store.Put(scope, owner, req.Key, req.Value, ttl)
	return successResponse{Success: true}, nil
}

type fetchRequest struct {
	Key   string `json:"key"`
	Scope string `json:"scope,omitempty"`
}

type fetchResponse struct {
	Success bool            `json:"success"`
	Exists  bool            `json:"exists"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// handleFetch returns a stored value, honoring lazy TTL expiry (spec §4.3).
func handleFetch(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req fetchRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	scope, owner, err := ownerFor(sess, req.Scope)
	if err != nil {
		return nil, err
	}
	value, ok := k.Store.Get(scope, owner, req.Key)
	return fetchResponse{Success: true, Exists: ok, Value: value}, nil
}

type deleteRequest struct {
	Key   string `json:"key"`
	Scope string `json:"scope,omitempty"`
}

type deleteResponse struct {
	Success bool `json:"success"`
	Deleted bool `json:"deleted"`
}

// handleDelete removes a key, reporting whether it existed (spec §4.3).
func handleDelete(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req deleteRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	scope, owner, err := ownerFor(sess, req.Scope)
	if err != nil {
		return nil, err
	}
	deleted := k.Store.Delete(scope, owner, req.Key)
	return deleteResponse{Success: true, Deleted: deleted}, nil
}

type keysRequest struct {
	Prefix string `json:"prefix,omitempty"`
	Scope  string `json:"scope,omitempty"`
}

type keysResponse struct {
	Success bool     `json:"success"`
	Keys    []string `json:"keys"`
}

// handleKeys enumerates the caller's accessible keys in insertion order,
// never including expired entries (spec §4.3).
func handleKeys(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req keysRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	scope, owner, err := ownerFor(sess, req.Scope)
	if err != nil {
		return nil, err
	}
	keys := k.Store.Keys(scope, owner, req.Prefix)
	if keys == nil {
		keys = []string{}
	}
	return keysResponse{Success: true, Keys: keys}, nil
}
