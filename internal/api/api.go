// ABOUTME: HTTP admin API for operating the interview orchestrator.
// ABOUTME: Exposes status, agent lifecycle controls, and session assignment endpoints.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/voxhire/orchestrator/internal/auth"
	"github.com/voxhire/orchestrator/internal/orchestrator"
	"github.com/voxhire/orchestrator/internal/store"
)

// defaultAssignmentTTL bounds an assignment when the caller does not supply a
// deadline.
const defaultAssignmentTTL = time.Hour

// AgentController is the orchestration surface the API operates.
// Implemented by the agent manager.
type AgentController interface {
	StartAgent(ctx context.Context) error
	ForceStop(ctx context.Context) error
	RestartAgent(ctx context.Context) error
	RequestAssignment(ctx context.Context, sessionID string, deadline time.Time) error
	RequestEnd(ctx context.Context, sessionID string) error
	Status() orchestrator.Status
}

// SessionStore is the session persistence surface the API reads and writes.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*store.Session, error)
}

// Server holds the HTTP handlers for the admin API.
type Server struct {
	controller AgentController
	sessions   SessionStore
	verifier   auth.TokenVerifier // nil disables authentication
	logger     *slog.Logger
}

// NewServer creates an API server. A nil verifier leaves /api routes open,
// which is only appropriate for loopback deployments.
func NewServer(controller AgentController, sessions SessionStore, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		controller: controller,
		sessions:   sessions,
		verifier:   verifier,
		logger:     logger.With("component", "api"),
	}
}

// Routes returns the handler tree. /health stays unauthenticated so process
// supervisors can probe it without a token.
func (s *Server) Routes() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/status", s.handleStatus)
	apiMux.HandleFunc("/api/agent/start", s.handleAgentStart)
	apiMux.HandleFunc("/api/agent/stop", s.handleAgentStop)
	apiMux.HandleFunc("/api/agent/restart", s.handleAgentRestart)
	apiMux.HandleFunc("/api/assign", s.handleAssign)
	apiMux.HandleFunc("/api/end", s.handleEnd)
	apiMux.HandleFunc("/api/sessions", s.handleSessions)
	apiMux.HandleFunc("/api/sessions/", s.handleGetSession)

	var apiHandler http.Handler = apiMux
	if s.verifier != nil {
		apiHandler = auth.HTTPAuthMiddleware(s.verifier)(apiMux)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/api/", apiHandler)
	return mux
}

// BindingResponse is the JSON view of the session slot.
type BindingResponse struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	AssignedAt string `json:"assigned_at"`
	DeadlineAt string `json:"deadline_at"`
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Lifecycle       string           `json:"lifecycle"`
	PID             int              `json:"pid,omitempty"`
	StartedAt       string           `json:"started_at,omitempty"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
	Restarts        int              `json:"restarts"`
	LastHeartbeatAt string           `json:"last_heartbeat_at,omitempty"`
	Binding         *BindingResponse `json:"binding"`
}

// AssignRequest is the JSON request body for POST /api/assign.
type AssignRequest struct {
	SessionID       string `json:"session_id"`
	DeadlineSeconds int    `json:"deadline_seconds,omitempty"`
}

// EndRequest is the JSON request body for POST /api/end.
type EndRequest struct {
	SessionID string `json:"session_id"`
}

// CreateSessionRequest is the JSON request body for POST /api/sessions.
type CreateSessionRequest struct {
	ID             string          `json:"id"`
	CandidateName  string          `json:"candidate_name"`
	CandidateEmail string          `json:"candidate_email,omitempty"`
	Plan           json.RawMessage `json:"plan,omitempty"`
}

// SessionResponse is the JSON view of a stored session.
type SessionResponse struct {
	ID             string          `json:"id"`
	CandidateName  string          `json:"candidate_name"`
	CandidateEmail string          `json:"candidate_email,omitempty"`
	RoomName       string          `json:"room_name"`
	Plan           json.RawMessage `json:"plan,omitempty"`
	Status         string          `json:"status"`
	Detail         string          `json:"detail,omitempty"`
	CreatedAt      string          `json:"created_at"`
	CompletedAt    string          `json:"completed_at,omitempty"`
}

// handleHealth handles GET /health. Always 200 while the process is up; use
// GET /api/status for agent health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	st := s.controller.Status()
	resp := StatusResponse{
		Lifecycle:     string(st.Lifecycle),
		PID:           st.PID,
		UptimeSeconds: int64(st.Uptime.Seconds()),
		Restarts:      st.Restarts,
	}
	if !st.StartedAt.IsZero() {
		resp.StartedAt = st.StartedAt.Format(time.RFC3339)
	}
	if !st.LastHeartbeatAt.IsZero() {
		resp.LastHeartbeatAt = st.LastHeartbeatAt.Format(time.RFC3339)
	}
	if st.Binding != nil {
		resp.Binding = &BindingResponse{
			SessionID:  st.Binding.SessionID,
			State:      string(st.Binding.State),
			AssignedAt: st.Binding.AssignedAt.Format(time.RFC3339),
			DeadlineAt: st.Binding.DeadlineAt.Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleAgentStart handles POST /api/agent/start.
func (s *Server) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	s.runLifecycleAction(w, r, "start", s.controller.StartAgent)
}

// handleAgentStop handles POST /api/agent/stop.
func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	s.runLifecycleAction(w, r, "stop", s.controller.ForceStop)
}

// handleAgentRestart handles POST /api/agent/restart.
func (s *Server) handleAgentRestart(w http.ResponseWriter, r *http.Request) {
	s.runLifecycleAction(w, r, "restart", s.controller.RestartAgent)
}

func (s *Server) runLifecycleAction(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context) error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := fn(r.Context()); err != nil {
		s.logger.Error("agent lifecycle action failed", "action", action, "error", err)
		s.sendError(w, err)
		return
	}

	st := s.controller.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"action":    action,
		"lifecycle": string(st.Lifecycle),
	})
}

// handleAssign handles POST /api/assign. Returns 202 because the assignment
// is confirmed asynchronously by the agent; poll /api/status for the binding
// state.
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	ttl := defaultAssignmentTTL
	if req.DeadlineSeconds > 0 {
		ttl = time.Duration(req.DeadlineSeconds) * time.Second
	}
	deadline := time.Now().UTC().Add(ttl)

	if err := s.controller.RequestAssignment(r.Context(), req.SessionID, deadline); err != nil {
		s.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"session_id": req.SessionID,
		"deadline":   deadline.Format(time.RFC3339),
	})
}

// handleEnd handles POST /api/end.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := s.controller.RequestEnd(r.Context(), req.SessionID); err != nil {
		s.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"session_id": req.SessionID})
}

// handleSessions routes /api/sessions by HTTP method.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSessions(w, r)
	case http.MethodPost:
		s.handleCreateSession(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleCreateSession handles POST /api/sessions. Room name and interview
// plan default server-side when omitted.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.CandidateName == "" {
		s.sendJSONError(w, http.StatusBadRequest, "id and candidate_name are required")
		return
	}

	sess := &store.Session{
		ID:             req.ID,
		CandidateName:  req.CandidateName,
		CandidateEmail: req.CandidateEmail,
		Plan:           req.Plan,
	}
	if err := s.sessions.CreateSession(r.Context(), sess); err != nil {
		if errors.Is(err, store.ErrDuplicateSession) {
			s.sendJSONError(w, http.StatusConflict, fmt.Sprintf("session '%s' already exists", req.ID))
			return
		}
		s.logger.Error("creating session failed", "session_id", req.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sessionToResponse(sess))
}

// handleListSessions handles GET /api/sessions, newest first, optionally
// limited by ?limit=N (default 50, max 500).
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 500 {
			limit = 500
		}
	}

	sessions, err := s.sessions.ListSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing sessions failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]SessionResponse, len(sessions))
	for i, sess := range sessions {
		resp[i] = sessionToResponse(sess)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Path[len("/api/sessions/"):]
	if id == "" {
		s.sendJSONError(w, http.StatusBadRequest, "session id is required")
		return
	}

	sess, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("loading session failed", "session_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionToResponse(sess))
}

func sessionToResponse(sess *store.Session) SessionResponse {
	resp := SessionResponse{
		ID:             sess.ID,
		CandidateName:  sess.CandidateName,
		CandidateEmail: sess.CandidateEmail,
		RoomName:       sess.RoomName,
		Plan:           sess.Plan,
		Status:         string(sess.Status),
		Detail:         sess.Detail,
		CreatedAt:      sess.CreatedAt.Format(time.RFC3339),
	}
	if sess.CompletedAt != nil {
		resp.CompletedAt = sess.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// sendError maps orchestration errors to HTTP status codes.
func (s *Server) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrAgentBusy):
		s.sendJSONError(w, http.StatusConflict, "agent is busy with another session")
	case errors.Is(err, orchestrator.ErrAgentUnavailable):
		s.sendJSONError(w, http.StatusServiceUnavailable, "agent unavailable, administrative restart required")
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "session not found")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
