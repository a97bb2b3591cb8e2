package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/andthedropout/claude-dev/internal/events"
	"github.com/andthedropout/claude-dev/internal/proc"
)

// Config holds registry-wide session settings.
type Config struct {
	// Executable is the worker command launched for interactive sessions.
	Executable string
	// BufferLines caps the per-session output history.
	BufferLines int
}

const defaultBufferLines = 2000

// Registry owns all worker sessions, one per ticket.
type Registry struct {
	cfg    Config
	sup    *proc.Supervisor
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(cfg Config, sup *proc.Supervisor, bus *events.Bus, logger *slog.Logger) *Registry {
	if cfg.BufferLines <= 0 {
		cfg.BufferLines = defaultBufferLines
	}
	return &Registry{
		cfg:      cfg,
		sup:      sup,
		bus:      bus,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for a ticket, creating an idle one on
// first use. dir is only applied at creation; an existing session keeps its
// original working directory.
func (r *Registry) GetOrCreate(ticketID, dir string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[ticketID]; ok {
		return s
	}
	s := newSession(ticketID, dir, r.cfg.Executable, r.cfg.BufferLines, r.sup, r.bus, r.logger)
	r.sessions[ticketID] = s
	return s
}

// Get returns the session for a ticket, if one exists.
func (r *Registry) Get(ticketID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[ticketID]
	return s, ok
}

// List returns snapshots of every session, ordered by ticket ID.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].TicketID < snaps[j].TicketID })
	return snaps
}

// KillAll terminates every running session. Used at daemon shutdown.
func (r *Registry) KillAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Kill(); err != nil {
			r.logger.Warn("kill session failed", "ticket", s.TicketID, "error", err)
		}
	}
}
