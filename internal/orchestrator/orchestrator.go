// Package orchestrator drives each ticket's worker through a continuation
// loop: repeated bounded exchanges until the worker declares completion,
// asks for human input, or runs out of iterations. A FIFO queue enforces
// single-worker discipline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/andthedropout/claude-dev/internal/events"
	"github.com/andthedropout/claude-dev/internal/models"
	"github.com/andthedropout/claude-dev/internal/session"
	"github.com/andthedropout/claude-dev/internal/store"
	"github.com/andthedropout/claude-dev/internal/workspace"
)

// Sentinels the worker emits in its output to signal a terminal condition.
const (
	SentinelComplete   = "AGENT_COMPLETE"
	SentinelNeedsInput = "AGENT_NEEDS_INPUT:"
)

// ErrNoActiveJob is returned by resume/kill when the ticket has no matching job.
var ErrNoActiveJob = errors.New("no active agent job for ticket")

// Workspaces is the slice of the workspace manager the orchestrator needs.
type Workspaces interface {
	Create(ctx context.Context, ticketID, baseBranch string) (*workspace.Workspace, error)
	Get(ticketID string) (*workspace.Workspace, error)
	Unlock(ctx context.Context, ticketID string) error
	Remove(ctx context.Context, ticketID string, force bool) error
}

// Config holds orchestrator tunables.
type Config struct {
	BaseBranch       string
	MaxIterations    int
	IterationTimeout time.Duration
	IterationDelay   time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.BaseBranch == "" {
		out.BaseBranch = "main"
	}
	if out.MaxIterations <= 0 {
		out.MaxIterations = 10
	}
	if out.IterationTimeout <= 0 {
		out.IterationTimeout = 15 * time.Minute
	}
	if out.IterationDelay < 0 {
		out.IterationDelay = 0
	}
	return out
}

// job is the orchestrator's live record for one continuation-loop run.
type job struct {
	models.AgentJob

	resumeToken string
	cancel      context.CancelFunc
	killed      bool
}

// resumeState survives a cleared blocked job so the next run can pick up the
// worker's conversation and the human's answer.
type resumeState struct {
	token    string
	response string
}

// Orchestrator owns the ticket queue and the per-ticket continuation loops.
type Orchestrator struct {
	cfg        Config
	store      store.Store
	workspaces Workspaces
	sessions   *session.Registry
	bus        *events.Bus
	runner     WorkerRunner
	logger     *slog.Logger

	mu      sync.Mutex
	queue   []string
	current string
	jobs    map[string]*job
	resumes map[string]*resumeState

	kick chan struct{}
	done chan struct{}
}

func New(cfg Config, st store.Store, ws Workspaces, sessions *session.Registry, bus *events.Bus, runner WorkerRunner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		store:      st,
		workspaces: ws,
		sessions:   sessions,
		bus:        bus,
		runner:     runner,
		logger:     logger,
		jobs:       make(map[string]*job),
		resumes:    make(map[string]*resumeState),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Start launches the queue drain loop. It returns immediately; the loop runs
// until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	go o.drainLoop(ctx)
}

// Done is closed when the drain loop has exited.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Enqueue appends a ticket to the work queue. Idempotent: a ticket already
// queued or currently processing is left alone.
func (o *Orchestrator) Enqueue(ctx context.Context, ticketID string) error {
	o.mu.Lock()
	if ticketID == o.current || o.queued(ticketID) {
		o.mu.Unlock()
		return nil
	}
	o.queue = append(o.queue, ticketID)
	o.mu.Unlock()

	if err := o.store.UpdateTicketStatus(ctx, ticketID, models.TicketStatusQueued); err != nil {
		o.logger.Warn("mark ticket queued failed", "ticket", ticketID, "error", err)
	}
	o.bus.Publish(events.Event{Type: events.TicketQueued, TicketID: ticketID})
	o.kickDrain()
	return nil
}

// Dequeue removes a ticket from the queue. No-op if absent or already
// processing.
func (o *Orchestrator) Dequeue(ticketID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, id := range o.queue {
		if id == ticketID {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) queued(ticketID string) bool {
	for _, id := range o.queue {
		if id == ticketID {
			return true
		}
	}
	return false
}

func (o *Orchestrator) kickDrain() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// drainLoop processes queued tickets one at a time.
func (o *Orchestrator) drainLoop(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.kick:
		}

		for {
			o.mu.Lock()
			if o.current != "" || len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			ticketID := o.queue[0]
			o.queue = o.queue[1:]
			o.current = ticketID
			o.mu.Unlock()

			o.StartAgent(ctx, ticketID)

			o.mu.Lock()
			o.current = ""
			o.mu.Unlock()

			if ctx.Err() != nil {
				return
			}
		}
	}
}

// StartAgent runs one continuation-loop job for a ticket: job record,
// workspace, then iterations. Workspace creation failure is fatal to the
// job; no iteration is attempted.
func (o *Orchestrator) StartAgent(ctx context.Context, ticketID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Terminal cleanup (status writes, workspace removal) must still run
	// after a kill has cancelled jobCtx.
	cleanupCtx := context.WithoutCancel(ctx)

	j := &job{
		AgentJob: models.AgentJob{
			ID:        ulid.Make().String(),
			TicketID:  ticketID,
			Status:    models.JobStatusStarting,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}

	o.mu.Lock()
	if rs, ok := o.resumes[ticketID]; ok {
		j.resumeToken = rs.token
	}
	o.jobs[ticketID] = j
	o.mu.Unlock()

	ticket, err := o.store.GetTicket(ctx, ticketID)
	if err != nil {
		o.failJob(cleanupCtx, j, fmt.Errorf("load ticket: %w", err), false)
		return
	}

	ws, err := o.workspaces.Create(jobCtx, ticketID, o.cfg.BaseBranch)
	if errors.Is(err, workspace.ErrWorkspaceExists) {
		// A blocked ticket resuming work keeps its original workspace.
		ws, err = o.workspaces.Get(ticketID)
	}
	if err != nil {
		o.failJob(cleanupCtx, j, fmt.Errorf("create workspace: %w", err), false)
		return
	}

	if err := o.store.UpdateTicketStatus(ctx, ticketID, models.TicketStatusInProgress); err != nil {
		o.logger.Warn("mark ticket in progress failed", "ticket", ticketID, "error", err)
	}
	o.setJobStatus(j, models.JobStatusRunning)
	o.bus.Publish(events.Event{Type: events.AgentStarted, TicketID: ticketID})
	o.logger.Info("agent started", "ticket", ticketID, "job", j.ID, "workspace", ws.Path)

	o.runLoop(jobCtx, cleanupCtx, j, ticket, ws)
}

// runLoop is the continuation loop proper. ctx governs iterations; terminal
// handling uses cleanupCtx, which survives a kill.
func (o *Orchestrator) runLoop(ctx, cleanupCtx context.Context, j *job, ticket *models.Ticket, ws *workspace.Workspace) {
	sess := o.sessions.GetOrCreate(j.TicketID, ws.Path)

	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		if o.jobKilled(j) || ctx.Err() != nil {
			o.failJob(cleanupCtx, j, errors.New("agent killed"), true)
			return
		}

		o.mu.Lock()
		j.Iteration = iter
		token := j.resumeToken
		o.mu.Unlock()

		prompt := o.buildPrompt(j.TicketID, ticket, iter, token)

		iterCtx, iterCancel := context.WithTimeout(ctx, o.cfg.IterationTimeout)
		result, err := o.runner.RunIteration(iterCtx, ws.Path, prompt, token, sess.Append)
		iterCancel()

		var output string
		if result != nil {
			output = result.Output
			if result.SessionID != "" {
				o.mu.Lock()
				j.resumeToken = result.SessionID
				o.mu.Unlock()
			}
		}
		o.mu.Lock()
		j.LastOutput = output
		o.mu.Unlock()

		if o.jobKilled(j) || ctx.Err() != nil {
			o.failJob(cleanupCtx, j, errors.New("agent killed"), true)
			return
		}

		// A non-zero exit can still carry a sentinel; scan before
		// deciding whether the error was transient.
		if question, ok := scanNeedsInput(output); ok {
			o.blockJob(cleanupCtx, j, question)
			return
		}
		if strings.Contains(output, SentinelComplete) {
			o.completeJob(cleanupCtx, j)
			return
		}

		if err != nil {
			// Transient: recorded and the loop continues up to the budget.
			o.logger.Warn("iteration error", "ticket", j.TicketID, "iteration", iter, "error", err)
			o.appendMessage(ctx, j.TicketID, models.SenderSystem,
				fmt.Sprintf("iteration %d error: %v", iter, err))
		}

		o.bus.Publish(events.Event{
			Type:     events.AgentIteration,
			TicketID: j.TicketID,
			Detail:   fmt.Sprintf("iteration %d", iter),
		})

		if iter < o.cfg.MaxIterations {
			select {
			case <-time.After(o.cfg.IterationDelay):
			case <-ctx.Done():
			}
		}
	}

	// Budget exhausted: treated as a block with a synthetic question.
	o.blockJob(cleanupCtx, j, fmt.Sprintf("maximum iterations reached (%d) without completion", o.cfg.MaxIterations))
}

// buildPrompt returns the full task prompt on the first iteration and a
// short continuation instruction afterwards.
func (o *Orchestrator) buildPrompt(ticketID string, ticket *models.Ticket, iteration int, token string) string {
	if iteration == 1 && token == "" {
		doc := ticket.PRD
		if doc == "" {
			doc = ticket.Description
		}
		return fmt.Sprintf(`You are working on ticket %s: %s

%s

Work autonomously. When the task is fully done, output %s on its own line.
If you cannot proceed without a human decision, output %s followed by your question.`,
			ticketID, ticket.Title, doc, SentinelComplete, SentinelNeedsInput)
	}

	var answer string
	o.mu.Lock()
	if rs, ok := o.resumes[ticketID]; ok && rs.response != "" {
		answer = rs.response
		rs.response = ""
	}
	o.mu.Unlock()

	if answer != "" {
		return fmt.Sprintf(`The human answered your question: %s

Continue working. Output %s when done, or %s followed by a question if you are stuck again.`,
			answer, SentinelComplete, SentinelNeedsInput)
	}
	return fmt.Sprintf(`Continue working on the task. If it is fully done, output %s.
If you need a human decision, output %s followed by your question. Otherwise keep going.`,
		SentinelComplete, SentinelNeedsInput)
}

// scanNeedsInput looks for the need-input sentinel in the iteration's full
// output and extracts the trailing question text.
func scanNeedsInput(output string) (string, bool) {
	idx := strings.Index(output, SentinelNeedsInput)
	if idx < 0 {
		return "", false
	}
	rest := output[idx+len(SentinelNeedsInput):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	question := strings.TrimSpace(rest)
	if question == "" {
		question = "The agent requested input but did not include a question."
	}
	return question, true
}

// completeJob handles the completion sentinel: ticket to review, workspace
// unlocked but kept for the human to inspect and merge.
func (o *Orchestrator) completeJob(ctx context.Context, j *job) {
	o.setJobStatus(j, models.JobStatusCompleted)
	o.endJob(j)

	if err := o.store.UpdateTicketStatus(ctx, j.TicketID, models.TicketStatusReview); err != nil {
		o.logger.Warn("mark ticket review failed", "ticket", j.TicketID, "error", err)
	}
	if err := o.workspaces.Unlock(ctx, j.TicketID); err != nil {
		o.logger.Warn("unlock workspace failed", "ticket", j.TicketID, "error", err)
	}

	o.mu.Lock()
	delete(o.jobs, j.TicketID)
	delete(o.resumes, j.TicketID)
	o.mu.Unlock()

	o.bus.Publish(events.Event{Type: events.AgentCompleted, TicketID: j.TicketID})
	o.logger.Info("agent completed", "ticket", j.TicketID, "iterations", j.Iteration)
}

// blockJob handles the need-input sentinel (and budget exhaustion): the job
// is suspended in place, the workspace stays locked and intact, and the
// question is posted as an agent message.
func (o *Orchestrator) blockJob(ctx context.Context, j *job, question string) {
	o.setJobStatus(j, models.JobStatusBlocked)

	if err := o.store.UpdateTicketStatus(ctx, j.TicketID, models.TicketStatusBlocked); err != nil {
		o.logger.Warn("mark ticket blocked failed", "ticket", j.TicketID, "error", err)
	}
	o.appendMessage(ctx, j.TicketID, models.SenderAgent, question)

	o.mu.Lock()
	if rs, ok := o.resumes[j.TicketID]; ok {
		rs.token = j.resumeToken
	} else {
		o.resumes[j.TicketID] = &resumeState{token: j.resumeToken}
	}
	o.mu.Unlock()

	o.bus.Publish(events.Event{Type: events.AgentBlocked, TicketID: j.TicketID, Detail: question})
	o.logger.Info("agent blocked", "ticket", j.TicketID, "question", question)
}

// failJob handles fatal errors and kills: the job fails, the ticket moves to
// blocked for human attention, and the workspace is forcibly removed.
func (o *Orchestrator) failJob(ctx context.Context, j *job, cause error, removeWorkspace bool) {
	o.setJobStatus(j, models.JobStatusFailed)
	o.endJob(j)

	if err := o.store.UpdateTicketStatus(ctx, j.TicketID, models.TicketStatusBlocked); err != nil {
		o.logger.Warn("mark ticket blocked failed", "ticket", j.TicketID, "error", err)
	}
	o.appendMessage(ctx, j.TicketID, models.SenderSystem, fmt.Sprintf("agent job failed: %v", cause))

	if removeWorkspace {
		if err := o.workspaces.Remove(ctx, j.TicketID, true); err != nil {
			o.logger.Warn("remove workspace failed", "ticket", j.TicketID, "error", err)
		}
	}

	o.mu.Lock()
	delete(o.jobs, j.TicketID)
	delete(o.resumes, j.TicketID)
	o.mu.Unlock()

	o.bus.Publish(events.Event{Type: events.AgentFailed, TicketID: j.TicketID, Detail: cause.Error()})
	o.logger.Error("agent failed", "ticket", j.TicketID, "error", cause)
}

// ResumeAgent answers a blocked job's question: the response is recorded as
// a human message, the job is cleared, and the ticket is re-enqueued.
func (o *Orchestrator) ResumeAgent(ctx context.Context, ticketID, response string) error {
	o.mu.Lock()
	j, ok := o.jobs[ticketID]
	if !ok || j.Status != models.JobStatusBlocked {
		o.mu.Unlock()
		return fmt.Errorf("resume %s: %w", ticketID, ErrNoActiveJob)
	}
	delete(o.jobs, ticketID)
	if rs, ok := o.resumes[ticketID]; ok {
		rs.response = response
	} else {
		o.resumes[ticketID] = &resumeState{response: response}
	}
	o.mu.Unlock()

	o.appendMessage(ctx, ticketID, models.SenderHuman, response)
	return o.Enqueue(ctx, ticketID)
}

// KillAgent forcibly terminates the currently-active job for a ticket.
func (o *Orchestrator) KillAgent(ticketID string) error {
	o.mu.Lock()
	j, ok := o.jobs[ticketID]
	if !ok || (j.Status != models.JobStatusRunning && j.Status != models.JobStatusStarting) {
		o.mu.Unlock()
		return fmt.Errorf("kill %s: %w", ticketID, ErrNoActiveJob)
	}
	j.killed = true
	cancel := j.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Status is the orchestrator's externally visible state: queue snapshot plus
// job projections, no process handles.
type Status struct {
	Queue   []string          `json:"queue"`
	Current string            `json:"current,omitempty"`
	Jobs    []models.AgentJob `json:"jobs"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		Queue:   append([]string(nil), o.queue...),
		Current: o.current,
		Jobs:    make([]models.AgentJob, 0, len(o.jobs)),
	}
	for _, j := range o.jobs {
		s.Jobs = append(s.Jobs, j.AgentJob)
	}
	return s
}

// Job returns the snapshot for one ticket's job, if any.
func (o *Orchestrator) Job(ticketID string) (models.AgentJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[ticketID]
	if !ok {
		return models.AgentJob{}, false
	}
	return j.AgentJob, true
}

func (o *Orchestrator) setJobStatus(j *job, status models.JobStatus) {
	o.mu.Lock()
	j.Status = status
	o.mu.Unlock()
}

func (o *Orchestrator) endJob(j *job) {
	now := time.Now().UTC()
	o.mu.Lock()
	j.EndedAt = &now
	o.mu.Unlock()
}

func (o *Orchestrator) jobKilled(j *job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return j.killed
}

func (o *Orchestrator) appendMessage(ctx context.Context, ticketID string, sender models.Sender, content string) {
	msg := &models.Message{TicketID: ticketID, Sender: sender, Content: content}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		o.logger.Warn("append message failed", "ticket", ticketID, "error", err)
	}
}
