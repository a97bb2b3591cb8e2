package cmd

import (
	"github.com/spf13/cobra"

	"github.com/andthedropout/claude-dev/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets worker agents query and update the board natively. Configure
in Claude Code with:

  {
    "mcpServers": {
      "claude-dev": { "command": "claude-dev", "args": ["mcp"] }
    }
  }

Available tools: claude_dev_list_tickets, claude_dev_get_ticket,
claude_dev_update_ticket_status, claude_dev_append_message,
claude_dev_list_messages`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return mcp.NewServer(s).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
