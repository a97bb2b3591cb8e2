package store

import (
	"context"

	"github.com/andthedropout/claude-dev/internal/models"
)

// TicketListFilter specifies filters for listing tickets.
type TicketListFilter struct {
	Status   models.TicketStatus
	Priority models.TicketPriority
}

// Store defines the persistence interface for claude-dev.
//
// The orchestrator consumes a narrow slice of this: it reads a ticket's PRD,
// moves tickets between columns, and appends messages. It never deletes.
type Store interface {
	// Tickets
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListTickets(ctx context.Context, filter TicketListFilter) ([]*models.Ticket, error)
	UpdateTicket(ctx context.Context, t *models.Ticket) error
	UpdateTicketStatus(ctx context.Context, id string, status models.TicketStatus) error
	DeleteTicket(ctx context.Context, id string) error

	// Messages
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, ticketID string) ([]*models.Message, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
