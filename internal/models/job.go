package models

import "time"

// JobStatus represents the state of an agent job's continuation loop.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusStarting  JobStatus = "starting"
	JobStatusRunning   JobStatus = "running"
	JobStatusBlocked   JobStatus = "blocked"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// AgentJob is the orchestrator's record of one ticket's continuation-loop run.
// Process handles live in the orchestrator, not here; this is the snapshot
// shape surfaced to API callers.
type AgentJob struct {
	ID         string
	TicketID   string
	Status     JobStatus
	Iteration  int
	LastOutput string
	StartedAt  time.Time
	EndedAt    *time.Time
}
