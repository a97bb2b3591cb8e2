package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andthedropout/claude-dev/internal/events"
	"github.com/andthedropout/claude-dev/internal/git"
	"github.com/andthedropout/claude-dev/internal/models"
	"github.com/andthedropout/claude-dev/internal/orchestrator"
	"github.com/andthedropout/claude-dev/internal/proc"
	"github.com/andthedropout/claude-dev/internal/session"
	"github.com/andthedropout/claude-dev/internal/store"
	"github.com/andthedropout/claude-dev/internal/workspace"
)

type fixture struct {
	srv        *Server
	store      store.Store
	bus        *events.Bus
	sessions   *session.Registry
	workspaces *workspace.Manager
}

// stubRunner satisfies orchestrator.WorkerRunner; API tests never drain the
// queue, so it should not be called.
type stubRunner struct{}

func (stubRunner) RunIteration(context.Context, string, string, string, func(string)) (*orchestrator.IterationResult, error) {
	return &orchestrator.IterationResult{Output: "AGENT_COMPLETE"}, nil
}

func setupTestServer(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	repo := filepath.Join(dir, "repo")
	for _, args := range [][]string{
		{"init", "-b", "main", repo},
		{"-C", repo, "config", "user.email", "test@example.com"},
		{"-C", repo, "config", "user.name", "Test"},
		{"-C", repo, "commit", "--allow-empty", "-m", "initial"},
	} {
		out, err := exec.Command("git", args...).CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	logger := slog.Default()
	bus := events.NewBus()
	sup := proc.NewSupervisor()
	sessions := session.NewRegistry(session.Config{Executable: "cat"}, sup, bus, logger)
	t.Cleanup(sessions.KillAll)
	ws := workspace.NewManager(repo, filepath.Join(dir, "workspaces"), git.NewClient())
	orch := orchestrator.New(orchestrator.Config{}, s, ws, sessions, bus, stubRunner{}, logger)

	srv := NewServer(s, orch, ws, sessions, bus, nil, logger)
	return &fixture{srv: srv, store: s, bus: bus, sessions: sessions, workspaces: ws}
}

func seedAPITicket(t *testing.T, s store.Store, title string) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{Title: title, Description: "description of " + title}
	require.NoError(t, s.CreateTicket(context.Background(), ticket))
	return ticket
}

func TestListTickets_Empty(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/tickets", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var tickets []*models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
	assert.Empty(t, tickets)
}

func TestTicketCRUD_API(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	// Create
	body := `{"title":"add search","priority":"high"}`
	req := httptest.NewRequest("POST", "/api/v1/tickets", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	var created models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "add search", created.Title)
	assert.Equal(t, models.TicketPriorityHigh, created.Priority)
	assert.Equal(t, models.TicketStatusBacklog, created.Status)
	assert.NotEmpty(t, created.ID)

	// Get
	req = httptest.NewRequest("GET", "/api/v1/tickets/"+created.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// List
	req = httptest.NewRequest("GET", "/api/v1/tickets", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var tickets []*models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
	assert.Len(t, tickets, 1)

	// Delete
	req = httptest.NewRequest("DELETE", "/api/v1/tickets/"+created.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCreateTicket_Validation(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("POST", "/api/v1/tickets", bytes.NewBufferString(`{"description":"no title"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("POST", "/api/v1/tickets", bytes.NewBufferString(`{"title":"x","status":"shipped"}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTicket_NotFound_API(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/tickets/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateTicket_PartialUpdate_PreservesOmittedFields(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()
	ctx := context.Background()

	ticket := seedAPITicket(t, f.store, "fix login")
	got, err := f.store.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	got.PRD = "original requirements"
	require.NoError(t, f.store.UpdateTicket(ctx, got))

	patchBody := `{"Description":"Updated description","Status":"queued"}`
	req := httptest.NewRequest("PUT", "/api/v1/tickets/"+ticket.ID, bytes.NewBufferString(patchBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Updated description", updated.Description)
	assert.Equal(t, models.TicketStatusQueued, updated.Status)
	assert.Equal(t, "fix login", updated.Title, "Title should be preserved")
	assert.Equal(t, "original requirements", updated.PRD, "PRD should be preserved")
}

func TestUpdateTicket_InvalidStatus(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	ticket := seedAPITicket(t, f.store, "fix login")

	req := httptest.NewRequest("PUT", "/api/v1/tickets/"+ticket.ID, bytes.NewBufferString(`{"Status":"shipped"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessages_API(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	ticket := seedAPITicket(t, f.store, "fix login")

	// Append; sender defaults to human.
	body := `{"Content":"please prioritize the mobile flow"}`
	req := httptest.NewRequest("POST", "/api/v1/tickets/"+ticket.ID+"/messages", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	var created models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.SenderHuman, created.Sender)
	assert.NotEmpty(t, created.ID)

	// List
	req = httptest.NewRequest("GET", "/api/v1/tickets/"+ticket.ID+"/messages", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var messages []*models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Content, "mobile flow")
}

func TestAppendMessage_InvalidSender(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	ticket := seedAPITicket(t, f.store, "fix login")

	body := `{"Content":"hi","Sender":"robot"}`
	req := httptest.NewRequest("POST", "/api/v1/tickets/"+ticket.ID+"/messages", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBoard_GroupsByColumn(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()
	ctx := context.Background()

	backlog := seedAPITicket(t, f.store, "fix login")
	blocked := seedAPITicket(t, f.store, "add search")
	require.NoError(t, f.store.UpdateTicketStatus(ctx, blocked.ID, models.TicketStatusBlocked))

	req := httptest.NewRequest("GET", "/api/v1/board", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var board map[string][]*models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	require.Len(t, board["backlog"], 1)
	assert.Equal(t, backlog.ID, board["backlog"][0].ID)
	require.Len(t, board["blocked"], 1)
	assert.Equal(t, blocked.ID, board["blocked"][0].ID)
	assert.Empty(t, board["done"])
}

func TestEnrichTicket_NoLLMConfigured(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	ticket := seedAPITicket(t, f.store, "fix login")

	req := httptest.NewRequest("POST", "/api/v1/tickets/"+ticket.ID+"/enrich", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAgentEnqueue(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()
	ctx := context.Background()

	ticket := seedAPITicket(t, f.store, "fix login")

	body := `{"ticket_id":"` + ticket.ID + `"}`
	req := httptest.NewRequest("POST", "/api/v1/agent/enqueue", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var status orchestrator.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Contains(t, status.Queue, ticket.ID)

	got, err := f.store.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusQueued, got.Status)
}

func TestAgentEnqueue_TicketNotFound(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("POST", "/api/v1/agent/enqueue", bytes.NewBufferString(`{"ticket_id":"nope"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentResume_NoBlockedJob(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	body := `{"ticket_id":"t1","response":"use postgres"}`
	req := httptest.NewRequest("POST", "/api/v1/agent/resume", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAgentKill_NoActiveJob(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("POST", "/api/v1/agent/kill", bytes.NewBufferString(`{"ticket_id":"t1"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAgentRequest_Validation(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	for _, path := range []string{"/api/v1/agent/enqueue", "/api/v1/agent/resume", "/api/v1/agent/kill"} {
		req := httptest.NewRequest("POST", path, bytes.NewBufferString(`{}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestAgentStatus_Empty(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/agent/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var status orchestrator.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Empty(t, status.Queue)
	assert.Empty(t, status.Current)
}

func TestAgentJob_NotFound(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/agent/jobs/t1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkspaces_API(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()
	ctx := context.Background()

	req := httptest.NewRequest("GET", "/api/v1/workspaces", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var list []*workspace.Workspace
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list)

	_, err := f.workspaces.Create(ctx, "t1", "main")
	require.NoError(t, err)

	req = httptest.NewRequest("GET", "/api/v1/workspaces", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	req = httptest.NewRequest("DELETE", "/api/v1/workspaces/t1?force=true", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRemoveWorkspace_NotFound(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("DELETE", "/api/v1/workspaces/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_API(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("POST", "/api/v1/sessions/t1/input", bytes.NewBufferString(`{"input":"hi"}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest("DELETE", "/api/v1/sessions/t1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartSession_NoWorkspace(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("POST", "/api/v1/sessions/t1/start", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCORS(t *testing.T) {
	f := setupTestServer(t)
	router := f.srv.Router()

	req := httptest.NewRequest("OPTIONS", "/api/v1/tickets", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
