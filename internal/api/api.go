package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andthedropout/claude-dev/internal/events"
	"github.com/andthedropout/claude-dev/internal/llm"
	"github.com/andthedropout/claude-dev/internal/models"
	"github.com/andthedropout/claude-dev/internal/orchestrator"
	"github.com/andthedropout/claude-dev/internal/session"
	"github.com/andthedropout/claude-dev/internal/store"
	"github.com/andthedropout/claude-dev/internal/workspace"
)

// Server provides the REST API handlers.
type Server struct {
	store      store.Store
	orch       *orchestrator.Orchestrator
	workspaces *workspace.Manager
	sessions   *session.Registry
	bus        *events.Bus
	llm        *llm.Client
	logger     *slog.Logger
}

// NewServer creates a new API server.
// The llmClient may be nil if no API key is configured.
func NewServer(s store.Store, orch *orchestrator.Orchestrator, ws *workspace.Manager, sessions *session.Registry, bus *events.Bus, llmClient *llm.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      s,
		orch:       orch,
		workspaces: ws,
		sessions:   sessions,
		bus:        bus,
		llm:        llmClient,
		logger:     logger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/tickets", s.listTickets)
	mux.HandleFunc("POST /api/v1/tickets", s.createTicket)
	mux.HandleFunc("GET /api/v1/tickets/{id}", s.getTicket)
	mux.HandleFunc("PUT /api/v1/tickets/{id}", s.updateTicket)
	mux.HandleFunc("DELETE /api/v1/tickets/{id}", s.deleteTicket)
	mux.HandleFunc("POST /api/v1/tickets/{id}/enrich", s.enrichTicket)

	mux.HandleFunc("GET /api/v1/tickets/{id}/messages", s.listMessages)
	mux.HandleFunc("POST /api/v1/tickets/{id}/messages", s.appendMessage)

	mux.HandleFunc("GET /api/v1/board", s.board)

	mux.HandleFunc("POST /api/v1/agent/enqueue", s.enqueueAgent)
	mux.HandleFunc("POST /api/v1/agent/resume", s.resumeAgent)
	mux.HandleFunc("POST /api/v1/agent/kill", s.killAgent)
	mux.HandleFunc("GET /api/v1/agent/status", s.agentStatus)
	mux.HandleFunc("GET /api/v1/agent/jobs/{id}", s.agentJob)

	mux.HandleFunc("GET /api/v1/workspaces", s.listWorkspaces)
	mux.HandleFunc("DELETE /api/v1/workspaces/{id}", s.removeWorkspace)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("POST /api/v1/sessions/{id}/start", s.startSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/input", s.sessionInput)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.killSession)

	mux.HandleFunc("GET /api/v1/tickets/{id}/output", s.streamOutput)
	mux.HandleFunc("GET /api/v1/events", s.streamEvents)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// patchString applies a string value from a JSON patch map to the target if the key is present and non-empty.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			*target = str
		}
	}
}

func validColumn(status models.TicketStatus) bool {
	for _, c := range models.Columns() {
		if status == c {
			return true
		}
	}
	return false
}

// --- Tickets ---

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	filter := store.TicketListFilter{
		Status:   models.TicketStatus(r.URL.Query().Get("status")),
		Priority: models.TicketPriority(r.URL.Query().Get("priority")),
	}
	tickets, err := s.store.ListTickets(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ticket, err := s.store.GetTicket(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	var ticket models.Ticket
	if err := json.NewDecoder(r.Body).Decode(&ticket); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if ticket.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if ticket.Status != "" && !validColumn(ticket.Status) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %s", ticket.Status))
		return
	}

	// Auto-enrich if LLM available and no PRD supplied.
	if s.llm != nil && ticket.PRD == "" {
		enriched, err := s.llm.EnrichTicket(r.Context(), ticket.Title, ticket.Description)
		if err == nil {
			if ticket.Description == "" && enriched.Description != "" {
				ticket.Description = enriched.Description
			}
			ticket.PRD = enriched.PRD
		}
	}

	if err := s.store.CreateTicket(r.Context(), &ticket); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (s *Server) updateTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetTicket(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Selectively merge only keys present in the patch with non-empty values.
	// Empty strings are treated as "not provided" to avoid wiping existing data.
	patchString(patch, "Title", &existing.Title)
	patchString(patch, "Description", &existing.Description)
	patchString(patch, "PRD", &existing.PRD)

	var status, priority string
	patchString(patch, "Status", &status)
	patchString(patch, "Priority", &priority)
	if status != "" {
		if !validColumn(models.TicketStatus(status)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %s", status))
			return
		}
		existing.Status = models.TicketStatus(status)
	}
	if priority != "" {
		existing.Priority = models.TicketPriority(priority)
	}

	if err := s.store.UpdateTicket(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteTicket(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enrichTicket(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set anthropic.api_key)")
		return
	}

	id := r.PathValue("id")
	ticket, err := s.store.GetTicket(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	enriched, err := s.llm.EnrichTicket(r.Context(), ticket.Title, ticket.Description)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("enrichment failed: %v", err))
		return
	}

	if ticket.Description == "" && enriched.Description != "" {
		ticket.Description = enriched.Description
	}
	if enriched.PRD != "" {
		ticket.PRD = enriched.PRD
	}

	if err := s.store.UpdateTicket(r.Context(), ticket); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// --- Messages ---

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) appendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetTicket(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	msg.TicketID = id
	if msg.Sender == "" {
		msg.Sender = models.SenderHuman
	}
	switch msg.Sender {
	case models.SenderHuman, models.SenderAgent, models.SenderSystem:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid sender: %s", msg.Sender))
		return
	}

	if err := s.store.AppendMessage(r.Context(), &msg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// --- Board ---

func (s *Server) board(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.store.ListTickets(r.Context(), store.TicketListFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	columns := make(map[models.TicketStatus][]*models.Ticket)
	for _, c := range models.Columns() {
		columns[c] = []*models.Ticket{}
	}
	for _, t := range tickets {
		columns[t.Status] = append(columns[t.Status], t)
	}
	writeJSON(w, http.StatusOK, columns)
}

// --- Agent ---

type agentRequest struct {
	TicketID string `json:"ticket_id"`
	Response string `json:"response,omitempty"`
}

func (s *Server) enqueueAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TicketID == "" {
		writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}

	ticket, err := s.store.GetTicket(r.Context(), req.TicketID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.orch.Enqueue(r.Context(), ticket.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.orch.Status())
}

func (s *Server) resumeAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TicketID == "" {
		writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}
	if req.Response == "" {
		writeError(w, http.StatusBadRequest, "response is required")
		return
	}

	if err := s.orch.ResumeAgent(r.Context(), req.TicketID, req.Response); err != nil {
		if errors.Is(err, orchestrator.ErrNoActiveJob) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.orch.Status())
}

func (s *Server) killAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TicketID == "" {
		writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}

	if err := s.orch.KillAgent(req.TicketID); err != nil {
		if errors.Is(err, orchestrator.ErrNoActiveJob) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.orch.Status())
}

func (s *Server) agentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) agentJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.orch.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no agent job for ticket: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// --- Workspaces ---

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.workspaces.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workspaces)
}

func (s *Server) removeWorkspace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	force := r.URL.Query().Get("force") == "true"

	if err := s.workspaces.Remove(r.Context(), id, force); err != nil {
		if errors.Is(err, workspace.ErrWorkspaceNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ws, err := s.workspaces.Get(id)
	if err != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("no workspace for ticket %s: %v", id, err))
		return
	}

	sess := s.sessions.GetOrCreate(id, ws.Path)
	if err := sess.Start(""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) sessionInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no session for ticket: %s", id))
		return
	}

	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	if err := sess.Send(req.Input); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) killSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no session for ticket: %s", id))
		return
	}
	if err := sess.Kill(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
