package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andthedropout/claude-dev/internal/models"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	return s
}

func TestTicketCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ticket := &models.Ticket{
		Title:       "implement login",
		Description: "users need to log in",
	}
	require.NoError(t, s.CreateTicket(ctx, ticket))
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, models.TicketStatusBacklog, ticket.Status)
	assert.Equal(t, models.TicketPriorityMedium, ticket.Priority)

	got, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "implement login", got.Title)
	assert.Nil(t, got.ClosedAt)

	got.PRD = "## Requirements\n- login form"
	got.Status = models.TicketStatusQueued
	require.NoError(t, s.UpdateTicket(ctx, got))

	got, err = s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusQueued, got.Status)
	assert.Contains(t, got.PRD, "login form")

	require.NoError(t, s.DeleteTicket(ctx, ticket.ID))
	_, err = s.GetTicket(ctx, ticket.ID)
	assert.ErrorContains(t, err, "not found")
}

func TestGetTicket_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetTicket(context.Background(), "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestListTickets_Filter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTicket(ctx, &models.Ticket{Title: "a", Status: models.TicketStatusQueued}))
	require.NoError(t, s.CreateTicket(ctx, &models.Ticket{Title: "b", Status: models.TicketStatusQueued, Priority: models.TicketPriorityHigh}))
	require.NoError(t, s.CreateTicket(ctx, &models.Ticket{Title: "c", Status: models.TicketStatusDone}))

	all, err := s.ListTickets(ctx, TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	queued, err := s.ListTickets(ctx, TicketListFilter{Status: models.TicketStatusQueued})
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	high, err := s.ListTickets(ctx, TicketListFilter{Status: models.TicketStatusQueued, Priority: models.TicketPriorityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "b", high[0].Title)
}

func TestUpdateTicketStatus_SetsClosedAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ticket := &models.Ticket{Title: "t"}
	require.NoError(t, s.CreateTicket(ctx, ticket))

	require.NoError(t, s.UpdateTicketStatus(ctx, ticket.ID, models.TicketStatusDone))
	got, err := s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusDone, got.Status)
	require.NotNil(t, got.ClosedAt)

	// Moving out of done clears closed_at
	require.NoError(t, s.UpdateTicketStatus(ctx, ticket.ID, models.TicketStatusReview))
	got, err = s.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClosedAt)
}

func TestMessages_AppendAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ticket := &models.Ticket{Title: "t"}
	require.NoError(t, s.CreateTicket(ctx, ticket))

	require.NoError(t, s.AppendMessage(ctx, &models.Message{
		TicketID: ticket.ID,
		Sender:   models.SenderAgent,
		Content:  "Which database?",
	}))
	require.NoError(t, s.AppendMessage(ctx, &models.Message{
		TicketID: ticket.ID,
		Sender:   models.SenderHuman,
		Content:  "Use PostgreSQL",
	}))

	msgs, err := s.ListMessages(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderAgent, msgs[0].Sender)
	assert.Equal(t, "Which database?", msgs[0].Content)
	assert.Equal(t, models.SenderHuman, msgs[1].Sender)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	// Second run is a no-op
	require.NoError(t, s.Migrate(context.Background()))
}
