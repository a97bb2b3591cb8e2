package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andthedropout/claude-dev/internal/git"
	"github.com/andthedropout/claude-dev/internal/output"
	"github.com/andthedropout/claude-dev/internal/workspace"
)

var workspaceForce bool

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage agent workspaces (git worktrees)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspaceListRun()
	},
}

var workspaceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List agent workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspaceListRun()
	},
}

var workspaceRemoveCmd = &cobra.Command{
	Use:     "remove <ticket>",
	Aliases: []string{"rm"},
	Short:   "Remove a ticket's workspace and branch",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workspaceRemoveRun(args[0])
	},
}

func init() {
	workspaceRemoveCmd.Flags().BoolVarP(&workspaceForce, "force", "f", false, "Discard uncommitted changes")

	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceRemoveCmd)
	rootCmd.AddCommand(workspaceCmd)
}

func workspaceManager() (*workspace.Manager, error) {
	repo, err := repoPath()
	if err != nil {
		return nil, err
	}
	return workspace.NewManager(repo, viper.GetString("workspace.root"), git.NewClient()), nil
}

func workspaceListRun() error {
	m, err := workspaceManager()
	if err != nil {
		return err
	}

	workspaces, err := m.List()
	if err != nil {
		return err
	}
	if len(workspaces) == 0 {
		ui.Info("No workspaces.")
		return nil
	}

	table := ui.Table([]string{"Ticket", "Branch", "Path", "Locked"})
	for _, ws := range workspaces {
		locked := "-"
		if ws.Locked {
			locked = output.Yellow("yes")
		}
		table.Append([]string{shortID(ws.TicketID), ws.Branch, ws.Path, locked})
	}
	table.Render()
	return nil
}

func workspaceRemoveRun(ref string) error {
	m, err := workspaceManager()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove workspace for %s", ref)
		return nil
	}

	if err := m.Remove(context.Background(), ref, workspaceForce); err != nil {
		return err
	}
	ui.Success("Workspace for %s removed", output.Cyan(ref))
	return nil
}
