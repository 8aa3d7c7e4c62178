// Package adminapi implements the kernel's optional read-only operator
// surface: health, metrics, and audit-log inspection over plain HTTP,
// plus a live event-stream WebSocket — generalized from the teacher's
// cmd/server/main.go chi router assembly (RequestID/RealIP/Logger/
// Recoverer/Heartbeat middleware stack) and internal/terminal's
// per-connection websocket handler shape. There is no write surface:
// every route here only reads kernel state.
package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/clovekernel/internal/audit"
	"github.com/ashureev/clovekernel/internal/eventbus"
	"github.com/ashureev/clovekernel/internal/llm"
	"github.com/ashureev/clovekernel/internal/metrics"
	"github.com/ashureev/clovekernel/internal/supervisor"
)

// streamEventTypes is the fixed set of bus event types the operator
// stream subscribes to (spec §3's kernel-emitted lifecycle/security
// events, plus CUSTOM for SYS_EMIT traffic). The bus has no wildcard
// subscription, so the stream enumerates them explicitly.
var streamEventTypes = []string{
	eventbus.EventAgentSpawned, eventbus.EventAgentExited,
	eventbus.EventAgentRestarting, eventbus.EventAgentEscalated,
	eventbus.EventSecurity, eventbus.EventCustom,
}

// Server holds the read-only views this API exposes. It owns no
// kernel state itself.
type Server struct {
	Audit      *audit.Ring
	Metrics    *metrics.Collector
	Supervisor *supervisor.Supervisor
	LLM        *llm.Scheduler
	Bus        *eventbus.Bus

	streamIDs atomic.Uint64
}

// New creates a Server.
func New(auditRing *audit.Ring, metricsCollector *metrics.Collector, sup *supervisor.Supervisor, llmSched *llm.Scheduler, bus *eventbus.Bus) *Server {
	return &Server{Audit: auditRing, Metrics: metricsCollector, Supervisor: sup, LLM: llmSched, Bus: bus}
}

// Router assembles the admin HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/audit", s.handleAudit)
	r.Get("/agents", s.handleAgents)
	r.Get("/events", s.handleEvents)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type metricsResponse struct {
	System     metrics.SystemSnapshot `json:"system"`
	LLMQueue   int                    `json:"llm_queue_depth"`
	LLMHealthy bool                   `json:"llm_healthy"`
	Agents     int                    `json:"agent_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sys, err := s.Metrics.System()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{
		System:     sys,
		LLMQueue:   s.LLM.QueueDepth(),
		LLMHealthy: s.LLM.Healthy(),
		Agents:     len(s.Supervisor.List()),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sinceID, _ := strconv.ParseUint(q.Get("since_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	var agentID uint64
	agentFilter := q.Has("agent_id")
	if agentFilter {
		agentID, _ = strconv.ParseUint(q.Get("agent_id"), 10, 32)
	}
	entries := s.Audit.Query(sinceID, audit.Category(q.Get("category")), uint32(agentID), agentFilter, limit)
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.Supervisor.List()})
}

// handleEvents upgrades to a WebSocket and streams every bus event
// matching streamEventTypes until the client disconnects, mirroring
// the teacher's per-connection websocket read/write split but with the
// direction reversed (server push only, no client frames expected).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("adminapi: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	agentID := uint32(0x80000000) | uint32(s.streamIDs.Add(1))
	for _, t := range streamEventTypes {
		s.Bus.Subscribe(agentID, t)
	}
	defer s.Bus.Close(agentID)

	ctx := r.Context()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			for _, ev := range s.Bus.Poll(agentID, 0) {
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err = conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}
