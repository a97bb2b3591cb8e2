// Package events provides the in-process lifecycle event bus.
//
// The orchestrator and session registry publish ticket-scoped lifecycle
// events here; HTTP stream handlers and CLI followers subscribe. Delivery
// is synchronous, at-most-once, and best-effort: a panicking handler is
// isolated and logged, and nothing is retried.
package events

import "time"

// Type identifies a lifecycle event kind.
type Type string

const (
	TicketQueued   Type = "ticket.queued"
	AgentStarted   Type = "agent.started"
	AgentIteration Type = "agent.iteration"
	AgentCompleted Type = "agent.completed"
	AgentBlocked   Type = "agent.blocked"
	AgentFailed    Type = "agent.failed"
	SessionStarted Type = "session.started"
	SessionStopped Type = "session.stopped"
)

// Event is a single lifecycle notification. TicketID is empty for
// server-global events.
type Event struct {
	Type     Type      `json:"type"`
	TicketID string    `json:"ticket_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}
