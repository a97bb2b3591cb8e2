// Package session manages one long-lived interactive worker process per
// ticket and fans its output out to any number of observers. Sessions exist
// independently of observers: detaching a viewer never stops the worker.
package session

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/andthedropout/claude-dev/internal/events"
	"github.com/andthedropout/claude-dev/internal/proc"
)

// Status is the lifecycle state of a worker session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Observer receives output lines from a session. OnLine is called with the
// session lock held, so implementations must not call back into the session
// and should return quickly.
type Observer interface {
	OnLine(ticketID, line string)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ticketID, line string)

func (f ObserverFunc) OnLine(ticketID, line string) { f(ticketID, line) }

// Session is the worker process attached to one ticket plus its output
// history and observer set.
type Session struct {
	TicketID string
	Dir      string

	sup    *proc.Supervisor
	exe    string
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.Mutex
	status    Status
	handle    *proc.InteractiveHandle
	stdin     io.Writer
	buf       *lineBuffer
	observers map[uint64]Observer
	nextObsID uint64
}

// Terminal dimensions for the worker's pty. Wide enough that the worker's
// progress output does not wrap mid-line.
const (
	termRows = 40
	termCols = 160
)

func newSession(ticketID, dir, exe string, bufferLines int, sup *proc.Supervisor, bus *events.Bus, logger *slog.Logger) *Session {
	return &Session{
		TicketID:  ticketID,
		Dir:       dir,
		sup:       sup,
		exe:       exe,
		bus:       bus,
		logger:    logger.With("ticket", ticketID),
		status:    StatusStopped,
		buf:       newLineBuffer(bufferLines),
		observers: make(map[uint64]Observer),
	}
}

// Start launches the worker process if it is not already running. A non-empty
// resumeToken continues a previous worker conversation. Calling Start on a
// running session is a no-op.
func (s *Session) Start(resumeToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusStarting || s.status == StatusRunning {
		return nil
	}

	args := []string{}
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}

	s.status = StatusStarting
	h, err := s.sup.StartInteractive(proc.Spec{Command: s.exe, Args: args, Dir: s.Dir}, termRows, termCols)
	if err != nil {
		s.status = StatusError
		return fmt.Errorf("start session for %s: %w", s.TicketID, err)
	}

	s.handle = h
	s.stdin = h.In
	s.status = StatusRunning
	s.logger.Info("session started", "pid", h.PID(), "resumed", resumeToken != "")
	s.bus.Publish(events.Event{Type: events.SessionStarted, TicketID: s.TicketID})

	go s.readLoop(h.Out)
	go s.awaitExit(h)
	return nil
}

// readLoop scans one output stream line by line into the buffer.
func (s *Session) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.Append(scanner.Text())
	}
}

// awaitExit records the process exit, appends a notice visible to observers,
// and transitions the session out of running.
func (s *Session) awaitExit(h *proc.InteractiveHandle) {
	err := h.Wait()
	// Release the terminal once the process is gone; this also unblocks the
	// read loop if the platform did not already error its reads.
	defer h.Close()

	s.mu.Lock()
	if s.handle != h {
		// Superseded by a newer Start.
		s.mu.Unlock()
		return
	}
	code := h.ExitCode()
	if err != nil && code != 0 {
		s.status = StatusError
	} else {
		s.status = StatusStopped
	}
	s.handle = nil
	s.stdin = nil
	s.appendLocked(fmt.Sprintf("[session exited with code %d]", code))
	s.mu.Unlock()

	s.logger.Info("session exited", "code", code)
	s.bus.Publish(events.Event{
		Type:     events.SessionStopped,
		TicketID: s.TicketID,
		Detail:   fmt.Sprintf("exit code %d", code),
	})
}

// Send writes a line of input to the worker's stdin. When the worker is not
// running the input is dropped with a warning rather than an error.
func (s *Session) Send(input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRunning || s.stdin == nil {
		s.logger.Warn("dropping input, session not running", "status", s.status)
		return nil
	}
	if _, err := io.WriteString(s.stdin, input+"\n"); err != nil {
		return fmt.Errorf("send to session %s: %w", s.TicketID, err)
	}
	return nil
}

// Attach registers the observer for live lines and returns a snapshot of
// the buffered history. Snapshot and registration happen under one lock, so
// a caller that writes the replay before consuming live lines sees every
// line exactly once, in order. The caller controls the pace of the replay;
// the observer only ever carries lines appended after registration.
func (s *Session) Attach(obs Observer) (uint64, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay := s.buf.Lines()

	s.nextObsID++
	id := s.nextObsID
	s.observers[id] = obs
	return id, replay
}

// Detach removes an observer. The worker keeps running regardless of how
// many observers remain.
func (s *Session) Detach(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, id)
}

// Append records a line in the buffer and broadcasts it to all observers.
// The orchestrator relays iteration output through here so that attached
// viewers see agent output and interactive output on the same stream.
func (s *Session) Append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(line)
}

func (s *Session) appendLocked(line string) {
	s.buf.Append(line)
	for _, obs := range s.observers {
		obs.OnLine(s.TicketID, line)
	}
}

// Kill terminates the worker process. Idempotent: killing a stopped session
// is a no-op.
func (s *Session) Kill() error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Close()
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot is a point-in-time view of a session, safe to serialize.
type Snapshot struct {
	TicketID    string `json:"ticket_id"`
	Status      Status `json:"status"`
	PID         int    `json:"pid,omitempty"`
	BufferLines int    `json:"buffer_lines"`
	Observers   int    `json:"observers"`
}

// Snapshot returns the session's current state without process handles.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TicketID:    s.TicketID,
		Status:      s.status,
		BufferLines: s.buf.Len(),
		Observers:   len(s.observers),
	}
	if s.handle != nil {
		snap.PID = s.handle.PID()
	}
	return snap
}
