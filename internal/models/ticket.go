package models

import "time"

// TicketStatus represents the board column a ticket sits in.
type TicketStatus string

const (
	TicketStatusBacklog    TicketStatus = "backlog"
	TicketStatusQueued     TicketStatus = "queued"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusBlocked    TicketStatus = "blocked"
	TicketStatusReview     TicketStatus = "review"
	TicketStatusDone       TicketStatus = "done"
)

// Columns lists the board columns in display order.
func Columns() []TicketStatus {
	return []TicketStatus{
		TicketStatusBacklog,
		TicketStatusQueued,
		TicketStatusInProgress,
		TicketStatusBlocked,
		TicketStatusReview,
		TicketStatusDone,
	}
}

// TicketPriority represents the urgency of a ticket.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Ticket represents a unit of work an agent can pick up.
type Ticket struct {
	ID          string
	Title       string
	Description string
	PRD         string // requirements document handed to the agent on iteration 1
	Status      TicketStatus
	Priority    TicketPriority
	Branch      string // workspace branch once work has begun
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}
