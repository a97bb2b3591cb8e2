// Package mcp exposes the ticket store as MCP tools over stdio, so the
// worker process can look up its ticket and report progress natively
// instead of scraping board output.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/andthedropout/claude-dev/internal/models"
	"github.com/andthedropout/claude-dev/internal/store"
)

// Server wraps the claude-dev data layer and exposes it as MCP tools.
type Server struct {
	store store.Store
}

func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("claude-dev", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listTicketsTool())
	srv.AddTool(s.getTicketTool())
	srv.AddTool(s.updateTicketStatusTool())
	srv.AddTool(s.appendMessageTool())
	srv.AddTool(s.listMessagesTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

type ticketOut struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PRD         string `json:"prd,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Branch      string `json:"branch,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func ticketJSON(t *models.Ticket) ticketOut {
	return ticketOut{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		PRD:         t.PRD,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		Branch:      t.Branch,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

// claude_dev_list_tickets
func (s *Server) listTicketsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("claude_dev_list_tickets",
		mcp.WithDescription("List tickets on the board, optionally filtered by status and/or priority. Returns a JSON array of tickets with id, title, description, prd (requirements document), status, priority, and branch."),
		mcp.WithString("status", mcp.Description("Status filter: backlog, queued, in_progress, blocked, review, done")),
		mcp.WithString("priority", mcp.Description("Priority filter: low, medium, high")),
	)
	return tool, s.handleListTickets
}

func (s *Server) handleListTickets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.TicketListFilter{}
	if status := request.GetString("status", ""); status != "" {
		filter.Status = models.TicketStatus(status)
	}
	if priority := request.GetString("priority", ""); priority != "" {
		filter.Priority = models.TicketPriority(priority)
	}

	tickets, err := s.store.ListTickets(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tickets: %v", err)), nil
	}

	out := make([]ticketOut, len(tickets))
	for i, t := range tickets {
		out[i] = ticketJSON(t)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tickets: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// claude_dev_get_ticket
func (s *Server) getTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("claude_dev_get_ticket",
		mcp.WithDescription("Get one ticket by ID (full ULID or unique prefix), including its requirements document (prd). Use the prd for implementation details."),
		mcp.WithString("ticket_id", mcp.Required(), mcp.Description("Ticket ID (full ULID or unique prefix)")),
	)
	return tool, s.handleGetTicket
}

func (s *Server) handleGetTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("ticket_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ticket_id"), nil
	}

	ticket, err := s.findTicket(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(ticketJSON(ticket))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal ticket: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// claude_dev_update_ticket_status
func (s *Server) updateTicketStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("claude_dev_update_ticket_status",
		mcp.WithDescription("Move a ticket to a different board column. Returns the updated ticket as JSON."),
		mcp.WithString("ticket_id", mcp.Required(), mcp.Description("Ticket ID (full ULID or unique prefix)")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New status: backlog, queued, in_progress, blocked, review, done")),
	)
	return tool, s.handleUpdateTicketStatus
}

func (s *Server) handleUpdateTicketStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("ticket_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ticket_id"), nil
	}
	statusStr, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}

	status := models.TicketStatus(statusStr)
	if !validStatus(status) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", statusStr)), nil
	}

	ticket, err := s.findTicket(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.store.UpdateTicketStatus(ctx, ticket.ID, status); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update ticket: %v", err)), nil
	}

	ticket.Status = status
	data, _ := json.Marshal(ticketJSON(ticket))
	return mcp.NewToolResultText(string(data)), nil
}

// claude_dev_append_message
func (s *Server) appendMessageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("claude_dev_append_message",
		mcp.WithDescription("Append a progress note to a ticket's message thread, attributed to the agent. Use this to report milestones, decisions, and problems while working."),
		mcp.WithString("ticket_id", mcp.Required(), mcp.Description("Ticket ID (full ULID or unique prefix)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	)
	return tool, s.handleAppendMessage
}

func (s *Server) handleAppendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("ticket_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ticket_id"), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}

	ticket, err := s.findTicket(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg := &models.Message{
		TicketID: ticket.ID,
		Sender:   models.SenderAgent,
		Content:  content,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to append message: %v", err)), nil
	}

	result := map[string]any{
		"id":        msg.ID,
		"ticket_id": msg.TicketID,
		"sender":    string(msg.Sender),
		"content":   msg.Content,
	}
	data, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(data)), nil
}

// claude_dev_list_messages
func (s *Server) listMessagesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("claude_dev_list_messages",
		mcp.WithDescription("List a ticket's message thread in chronological order. Messages carry a sender of human, agent, or system; human messages may answer questions the agent asked earlier."),
		mcp.WithString("ticket_id", mcp.Required(), mcp.Description("Ticket ID (full ULID or unique prefix)")),
	)
	return tool, s.handleListMessages
}

func (s *Server) handleListMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("ticket_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ticket_id"), nil
	}

	ticket, err := s.findTicket(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	messages, err := s.store.ListMessages(ctx, ticket.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list messages: %v", err)), nil
	}

	type messageOut struct {
		ID        string `json:"id"`
		Sender    string `json:"sender"`
		Content   string `json:"content"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]messageOut, len(messages))
	for i, m := range messages {
		out[i] = messageOut{
			ID:        m.ID,
			Sender:    string(m.Sender),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		}
	}

	data, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(data)), nil
}

// findTicket finds a ticket by full ID or unique prefix.
func (s *Server) findTicket(ctx context.Context, id string) (*models.Ticket, error) {
	if ticket, err := s.store.GetTicket(ctx, id); err == nil {
		return ticket, nil
	}

	upper := strings.ToUpper(id)
	tickets, err := s.store.ListTickets(ctx, store.TicketListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Ticket
	for _, t := range tickets {
		if strings.HasPrefix(t.ID, upper) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("ticket not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous ticket ID %s: matches %d tickets", id, len(matches))
	}
}

func validStatus(s models.TicketStatus) bool {
	for _, c := range models.Columns() {
		if s == c {
			return true
		}
	}
	return false
}
