// Package api serves the HTTP and WebSocket surface over the engine: agent
// and task CRUD, human approval, scout launch, settings, and live event
// streaming.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	foreman "github.com/mkarlsen/foreman"
	"github.com/mkarlsen/foreman/tools/code"
)

// Server wires the engine to HTTP handlers.
type Server struct {
	engine    *foreman.Engine
	sandbox   *code.Tool // nil when agent tools are disabled
	heartbeat time.Duration
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSandbox exposes the code tool's sandbox mode through the settings API.
func WithSandbox(t *code.Tool) Option {
	return func(s *Server) { s.sandbox = t }
}

// WithHeartbeat sets the WS idle interval before a ping is sent.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates the server.
func New(engine *foreman.Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		heartbeat: 30 * time.Second,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route tree. BYOK headers are captured per request by
// withKeys and threaded explicitly into every engine call.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/health/details", s.handleHealthDetails)

	mux.HandleFunc("POST /api/agents", s.handleAgentCreate)
	mux.HandleFunc("GET /api/agents", s.handleAgentList)
	mux.HandleFunc("GET /api/agents/{id}", s.handleAgentGet)
	mux.HandleFunc("PATCH /api/agents/{id}", s.handleAgentUpdate)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleAgentDelete)

	mux.HandleFunc("POST /api/tasks", s.handleTaskCreate)
	mux.HandleFunc("GET /api/tasks", s.handleTaskList)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskGet)
	mux.HandleFunc("POST /api/tasks/{id}/approve", s.handleTaskApprove)

	mux.HandleFunc("POST /api/scout/launch", s.handleScoutLaunch)

	mux.HandleFunc("POST /api/settings/validate-key", s.handleValidateKey)
	mux.HandleFunc("GET /api/settings/sandbox-mode", s.handleSandboxModeGet)
	mux.HandleFunc("PUT /api/settings/sandbox-mode", s.handleSandboxModePut)

	mux.HandleFunc("GET /ws", s.handleWS)

	return mux
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthDetails(w http.ResponseWriter, r *http.Request) {
	numAgents, _ := s.engine.Agents().Count(r.Context())
	numTasks, _ := s.engine.Tasks().Count(r.Context())
	sandboxMode := "disabled"
	if s.sandbox != nil {
		sandboxMode = string(s.sandbox.SandboxMode())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(s.engine.Uptime().Seconds()),
		"num_agents":     numAgents,
		"num_tasks":      numTasks,
		"go_version":     runtime.Version(),
		"sandbox_mode":   sandboxMode,
		"llm_provider":   s.engine.Settings().DefaultProvider,
		"llm_model":      s.engine.Settings().DefaultModel,
	})
}

// --- Agents ---

func (s *Server) handleAgentCreate(w http.ResponseWriter, r *http.Request) {
	var in foreman.AgentCreate
	if !decodeBody(w, r, &in) {
		return
	}
	agent, err := s.engine.Agents().Create(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	agents, err := s.engine.Agents().List(r.Context(), skip, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if agents == nil {
		agents = []foreman.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleAgentGet(w http.ResponseWriter, r *http.Request) {
	agent, err := s.engine.Agents().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentUpdate(w http.ResponseWriter, r *http.Request) {
	var in foreman.AgentUpdate
	if !decodeBody(w, r, &in) {
		return
	}
	agent, err := s.engine.Agents().Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Agents().Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Tasks ---

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var in foreman.TaskCreate
	if !decodeBody(w, r, &in) {
		return
	}
	// Lineage fields belong to the create_task tool, not HTTP callers.
	in.ParentTaskID = ""
	in.SpawnedByAgent = ""

	task, err := s.engine.Tasks().Create(r.Context(), in, requestKeys(r))
	if err != nil {
		// Validation and lineage failures are caller errors.
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	tasks, err := s.engine.Tasks().List(r.Context(), skip, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]taskSummary, 0, len(tasks))
	for i := range tasks {
		out = append(out, summarize(&tasks[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// taskSummary is the list-view shape: no output bodies, just counts.
type taskSummary struct {
	ID              string             `json:"id"`
	Description     string             `json:"description"`
	Status          foreman.TaskStatus `json:"status"`
	AssignedAgents  []string           `json:"assigned_agents"`
	CurrentRevision int                `json:"current_revision"`
	NumOutputs      int                `json:"num_outputs"`
	NumReviews      int                `json:"num_reviews"`
	Depth           int                `json:"depth"`
	CreatedAt       int64              `json:"created_at"`
	UpdatedAt       int64              `json:"updated_at"`
}

func summarize(t *foreman.Task) taskSummary {
	return taskSummary{
		ID:              t.ID,
		Description:     t.Description,
		Status:          t.Status,
		AssignedAgents:  t.AssignedAgentIDs,
		CurrentRevision: t.CurrentRevision,
		NumOutputs:      len(t.WorkerOutputs),
		NumReviews:      len(t.SupervisorReviews),
		Depth:           t.Depth,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.Tasks().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskApprove(w http.ResponseWriter, r *http.Request) {
	var in foreman.HumanDecision
	if !decodeBody(w, r, &in) {
		return
	}
	task, err := s.engine.Approve(r.Context(), r.PathValue("id"), in, requestKeys(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- Scout ---

func (s *Server) handleScoutLaunch(w http.ResponseWriter, r *http.Request) {
	var in foreman.ScoutRequest
	if !decodeBody(w, r, &in) {
		return
	}
	task, err := s.engine.Scout().Launch(r.Context(), in, requestKeys(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"task_id":     task.ID,
		"description": task.Description,
		"status":      task.Status,
	})
}

// --- Settings ---

func (s *Server) handleSandboxModeGet(w http.ResponseWriter, r *http.Request) {
	if s.sandbox == nil {
		writeError(w, http.StatusNotFound, errors.New("agent tools disabled"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.sandbox.SandboxMode())})
}

func (s *Server) handleSandboxModePut(w http.ResponseWriter, r *http.Request) {
	if s.sandbox == nil {
		writeError(w, http.StatusNotFound, errors.New("agent tools disabled"))
		return
	}
	var in struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.sandbox.SetSandboxMode(code.SandboxMode(in.Mode)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": in.Mode})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, foreman.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, foreman.ErrNotPendingApproval):
		return http.StatusBadRequest
	case foreman.IsAutoTaskError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pagination(r *http.Request) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if skip < 0 {
		skip = 0
	}
	return skip, limit
}
