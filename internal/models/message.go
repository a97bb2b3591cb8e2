package models

import "time"

// Sender classifies who authored a ticket message.
type Sender string

const (
	SenderHuman  Sender = "human"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// Message is a single entry in a ticket's conversation log.
type Message struct {
	ID        string
	TicketID  string
	Sender    Sender
	Content   string
	CreatedAt time.Time
}
