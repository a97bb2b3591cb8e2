package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andthedropout/claude-dev/internal/models"
	"github.com/andthedropout/claude-dev/internal/output"
	"github.com/andthedropout/claude-dev/internal/store"
)

var boardCmd = &cobra.Command{
	Use:     "board",
	Aliases: []string{"b"},
	Short:   "Show the ticket board",
	RunE: func(cmd *cobra.Command, args []string) error {
		return boardRun()
	},
}

func init() {
	rootCmd.AddCommand(boardCmd)
}

func boardRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tickets, err := s.ListTickets(ctx, store.TicketListFilter{})
	if err != nil {
		return err
	}

	if len(tickets) == 0 {
		ui.Info("Board is empty. Create a ticket with 'claude-dev ticket create <title>'.")
		return nil
	}

	columns := models.Columns()
	byColumn := make(map[models.TicketStatus][]*models.Ticket)
	for _, t := range tickets {
		byColumn[t.Status] = append(byColumn[t.Status], t)
	}

	headers := make([]string, len(columns))
	rows := 0
	for i, c := range columns {
		headers[i] = fmt.Sprintf("%s (%d)", output.StatusColor(string(c)), len(byColumn[c]))
		if n := len(byColumn[c]); n > rows {
			rows = n
		}
	}

	table := ui.Table(headers)
	for r := 0; r < rows; r++ {
		row := make([]string, len(columns))
		for i, c := range columns {
			if r < len(byColumn[c]) {
				t := byColumn[c][r]
				row[i] = fmt.Sprintf("%s %s", output.Cyan(shortID(t.ID)[:8]), truncate(t.Title, 24))
			}
		}
		table.Append(row)
	}
	table.Render()
	return nil
}
