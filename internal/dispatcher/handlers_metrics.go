package dispatcher

import (
	"context"

	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/metrics"
	"github.com/ashureev/clovekernel/internal/session"
)

type metricsSystemResponse struct {
	Success  bool                    `json:"success"`
	Snapshot metrics.SystemSnapshot `json:"snapshot"`
}

// handleMetricsSystem returns one system-wide resource sample (spec §4.11).
func handleMetricsSystem(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	snap, err := k.Metrics.System()
	if err != nil {
		return nil, kerr.New(kerr.Internal, "%v", err)
	}
	return metricsSystemResponse{Success: true, Snapshot: snap}, nil
}

type metricsAgentRequest struct {
	AgentID uint32 `json:"agent_id"`
}

type metricsAgentResponse struct {
	Success  bool                   `json:"success"`
	Snapshot metrics.AgentSnapshot `json:"snapshot"`
}

// handleMetricsAgent returns CPU/RSS usage for a supervised agent (spec §4.11).
func handleMetricsAgent(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req metricsAgentRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	pid, ok := k.Supervisor.PIDOf(req.AgentID)
	if !ok {
		return nil, kerr.New(kerr.NotFound, "no such agent %d", req.AgentID)
	}
	snap, err := k.Metrics.Agent(req.AgentID, pid)
	if err != nil {
		return nil, kerr.New(kerr.Internal, "%v", err)
	}
	return metricsAgentResponse{Success: true, Snapshot: snap}, nil
}

type metricsCgroupResponse struct {
	Success  bool                    `json:"success"`
	Snapshot metrics.CgroupSnapshot `json:"snapshot"`
}

// handleMetricsCgroup returns cgroup v2 stats for a sandboxed agent,
// failing if the agent was not spawned under a cgroup (spec §4.11).
func handleMetricsCgroup(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req metricsAgentRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	cgroupPath, ok := k.Supervisor.CgroupPathOf(req.AgentID)
	if !ok {
		return nil, kerr.New(kerr.NotFound, "agent %d is not sandboxed under a cgroup", req.AgentID)
	}
	snap, err := k.Metrics.Cgroup(req.AgentID, cgroupPath)
	if err != nil {
		return nil, kerr.New(kerr.Internal, "%v", err)
	}
	return metricsCgroupResponse{Success: true, Snapshot: snap}, nil
}

type metricsLLMResponse struct {
	Success    bool `json:"success"`
	QueueDepth int  `json:"queue_depth"`
	Healthy    bool `json:"healthy"`
}

// handleMetricsLLM exposes the scheduler's single-worker queue depth,
// required so a client can detect backpressure before its own
// SYS_THINK call blocks (spec §5, §4.11).
func handleMetricsLLM(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	return metricsLLMResponse{Success: true, QueueDepth: k.LLM.QueueDepth(), Healthy: k.LLM.Healthy()}, nil
}
