package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andthedropout/claude-dev/internal/models"
	"github.com/andthedropout/claude-dev/internal/output"
	"github.com/andthedropout/claude-dev/internal/store"
)

var (
	ticketDescription string
	ticketPriority    string
	ticketEnrich      bool
)

var ticketCmd = &cobra.Command{
	Use:     "ticket",
	Aliases: []string{"tickets", "t"},
	Short:   "Manage tickets on the board",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketListRun("")
	},
}

var ticketCreateCmd = &cobra.Command{
	Use:     "create <title>",
	Aliases: []string{"add", "new"},
	Short:   "Create a ticket",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketCreateRun(strings.Join(args, " "))
	},
}

var ticketListCmd = &cobra.Command{
	Use:     "list [status]",
	Aliases: []string{"ls"},
	Short:   "List tickets, optionally filtered by column",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var status string
		if len(args) > 0 {
			status = args[0]
		}
		return ticketListRun(status)
	},
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a ticket with its PRD and message thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketShowRun(args[0])
	},
}

var ticketMoveCmd = &cobra.Command{
	Use:   "move <id> <status>",
	Short: "Move a ticket to another column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketMoveRun(args[0], args[1])
	},
}

var ticketDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a ticket",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketDeleteRun(args[0])
	},
}

var ticketCommentCmd = &cobra.Command{
	Use:   "comment <id> <text>",
	Short: "Add a message to a ticket's thread",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketCommentRun(args[0], strings.Join(args[1:], " "))
	},
}

var ticketEnrichCmd = &cobra.Command{
	Use:   "enrich <id>",
	Short: "Generate a description and PRD for a ticket with the LLM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketEnrichRun(args[0])
	},
}

func init() {
	ticketCreateCmd.Flags().StringVarP(&ticketDescription, "description", "d", "", "Ticket description")
	ticketCreateCmd.Flags().StringVarP(&ticketPriority, "priority", "p", "medium", "Priority: low, medium, high")
	ticketCreateCmd.Flags().BoolVar(&ticketEnrich, "enrich", false, "Generate a PRD with the LLM after creating")

	ticketCmd.AddCommand(ticketCreateCmd)
	ticketCmd.AddCommand(ticketListCmd)
	ticketCmd.AddCommand(ticketShowCmd)
	ticketCmd.AddCommand(ticketMoveCmd)
	ticketCmd.AddCommand(ticketDeleteCmd)
	ticketCmd.AddCommand(ticketCommentCmd)
	ticketCmd.AddCommand(ticketEnrichCmd)
	rootCmd.AddCommand(ticketCmd)
}

func ticketCreateRun(title string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ticket := &models.Ticket{
		Title:       title,
		Description: ticketDescription,
		Priority:    models.TicketPriority(ticketPriority),
	}

	if dryRun {
		ui.DryRunMsg("Would create ticket: %s", title)
		return nil
	}

	if err := s.CreateTicket(ctx, ticket); err != nil {
		return err
	}
	ui.Success("Created ticket %s: %s", output.Cyan(shortID(ticket.ID)), title)

	if ticketEnrich {
		return enrichTicket(ctx, s, ticket)
	}
	return nil
}

func ticketListRun(status string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tickets, err := s.ListTickets(ctx, store.TicketListFilter{Status: models.TicketStatus(status)})
	if err != nil {
		return err
	}

	if len(tickets) == 0 {
		ui.Info("No tickets.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Priority", "Updated"})
	for _, t := range tickets {
		table.Append([]string{
			shortID(t.ID),
			truncate(t.Title, 50),
			output.StatusColor(string(t.Status)),
			output.PriorityColor(string(t.Priority)),
			timeAgo(t.UpdatedAt),
		})
	}
	table.Render()
	return nil
}

func ticketShowRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ticket, err := findTicket(ctx, s, ref)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(ticket.ID)), ticket.Title)
	fmt.Fprintf(ui.Out, "  Status:    %s\n", output.StatusColor(string(ticket.Status)))
	fmt.Fprintf(ui.Out, "  Priority:  %s\n", output.PriorityColor(string(ticket.Priority)))
	if ticket.Branch != "" {
		fmt.Fprintf(ui.Out, "  Branch:    %s\n", ticket.Branch)
	}
	fmt.Fprintf(ui.Out, "  Created:   %s\n", timeAgo(ticket.CreatedAt))
	if ticket.Description != "" {
		fmt.Fprintf(ui.Out, "\n%s\n", ticket.Description)
	}
	if ticket.PRD != "" {
		fmt.Fprintf(ui.Out, "\n%s\n%s\n", output.Yellow("PRD"), ticket.PRD)
	}

	messages, err := s.ListMessages(ctx, ticket.ID)
	if err != nil {
		return err
	}
	if len(messages) > 0 {
		fmt.Fprintf(ui.Out, "\n%s\n", output.Yellow("Messages"))
		for _, m := range messages {
			fmt.Fprintf(ui.Out, "  [%s] %s: %s\n", timeAgo(m.CreatedAt), senderColor(m.Sender), m.Content)
		}
	}
	return nil
}

func senderColor(sender models.Sender) string {
	switch sender {
	case models.SenderAgent:
		return output.Cyan(string(sender))
	case models.SenderSystem:
		return output.Yellow(string(sender))
	default:
		return output.Green(string(sender))
	}
}

func ticketMoveRun(ref, status string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if !isColumn(status) {
		return fmt.Errorf("invalid status %q (one of: %s)", status, columnList())
	}

	ticket, err := findTicket(ctx, s, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would move %s to %s", shortID(ticket.ID), status)
		return nil
	}

	if err := s.UpdateTicketStatus(ctx, ticket.ID, models.TicketStatus(status)); err != nil {
		return err
	}
	ui.Success("Moved %s to %s", output.Cyan(shortID(ticket.ID)), output.StatusColor(status))
	return nil
}

func ticketDeleteRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ticket, err := findTicket(ctx, s, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete ticket %s", shortID(ticket.ID))
		return nil
	}

	if err := s.DeleteTicket(ctx, ticket.ID); err != nil {
		return err
	}
	ui.Success("Deleted ticket %s", shortID(ticket.ID))
	return nil
}

func ticketCommentRun(ref, content string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ticket, err := findTicket(ctx, s, ref)
	if err != nil {
		return err
	}

	msg := &models.Message{
		TicketID: ticket.ID,
		Sender:   models.SenderHuman,
		Content:  content,
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		return err
	}
	ui.Success("Comment added to %s", shortID(ticket.ID))
	return nil
}

func ticketEnrichRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ticket, err := findTicket(ctx, s, ref)
	if err != nil {
		return err
	}
	return enrichTicket(ctx, s, ticket)
}

func enrichTicket(ctx context.Context, s store.Store, ticket *models.Ticket) error {
	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("ANTHROPIC_API_KEY not set (set env var or anthropic.api_key in config)")
	}

	ui.Info("Enriching %s with the LLM...", shortID(ticket.ID))
	enriched, err := client.EnrichTicket(ctx, ticket.Title, ticket.Description)
	if err != nil {
		return fmt.Errorf("enrich ticket: %w", err)
	}

	if ticket.Description == "" && enriched.Description != "" {
		ticket.Description = enriched.Description
	}
	if enriched.PRD != "" {
		ticket.PRD = enriched.PRD
	}
	if err := s.UpdateTicket(ctx, ticket); err != nil {
		return err
	}
	ui.Success("PRD generated for %s", output.Cyan(shortID(ticket.ID)))
	return nil
}

// findTicket finds a ticket by full ID or unique prefix.
func findTicket(ctx context.Context, s store.Store, ref string) (*models.Ticket, error) {
	if ticket, err := s.GetTicket(ctx, ref); err == nil {
		return ticket, nil
	}

	upper := strings.ToUpper(ref)
	tickets, err := s.ListTickets(ctx, store.TicketListFilter{})
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
		return nil, fmt.Errorf("ticket not found: %s", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous ticket ID %s: matches %d tickets", ref, len(matches))
	}
}

func isColumn(status string) bool {
	for _, c := range models.Columns() {
		if models.TicketStatus(status) == c {
			return true
		}
	}
	return false
}

func columnList() string {
	cols := models.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
