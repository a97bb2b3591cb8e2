package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andthedropout/claude-dev/internal/models"
	"github.com/andthedropout/claude-dev/internal/store"
)

var importDryRun bool

var ticketImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import tickets from a YAML file",
	Long: `Import tickets from a YAML file.

The file holds a list of tickets under a top-level "tickets" key:

  tickets:
    - title: Add login form
      description: Users need to log in with email and password
      priority: high
      prd: |
        ## Requirements
        - email/password form with validation`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketImportRun(args[0])
	},
}

func init() {
	ticketImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Preview tickets without creating them")
	ticketCmd.AddCommand(ticketImportCmd)
}

type importFile struct {
	Tickets []importTicket `yaml:"tickets"`
}

type importTicket struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Priority    string `yaml:"priority"`
	Status      string `yaml:"status"`
	PRD         string `yaml:"prd"`
}

func ticketImportRun(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var parsed importFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	if len(parsed.Tickets) == 0 {
		ui.Info("No tickets found in file.")
		return nil
	}

	for i, t := range parsed.Tickets {
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("ticket %d has no title", i+1)
		}
		if t.Status != "" && !isColumn(t.Status) {
			return fmt.Errorf("ticket %q has invalid status %q (one of: %s)", t.Title, t.Status, columnList())
		}
	}

	table := ui.Table([]string{"#", "Title", "Priority", "Status", "PRD"})
	for i, t := range parsed.Tickets {
		hasPRD := "-"
		if t.PRD != "" {
			hasPRD = "yes"
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			truncate(t.Title, 50),
			orDefault(t.Priority, "medium"),
			orDefault(t.Status, "backlog"),
			hasPRD,
		})
	}
	table.Render()

	if importDryRun || dryRun {
		ui.DryRunMsg("Would create %d tickets", len(parsed.Tickets))
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	return createImportedTickets(context.Background(), s, parsed.Tickets)
}

func createImportedTickets(ctx context.Context, s store.Store, tickets []importTicket) error {
	created := 0
	for _, t := range tickets {
		ticket := &models.Ticket{
			Title:       t.Title,
			Description: t.Description,
			PRD:         t.PRD,
			Priority:    models.TicketPriority(t.Priority),
			Status:      models.TicketStatus(t.Status),
		}
		if err := s.CreateTicket(ctx, ticket); err != nil {
			ui.Warning("Failed to create ticket %q: %v", t.Title, err)
			continue
		}
		created++
	}
	ui.Success("Created %d tickets", created)
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
