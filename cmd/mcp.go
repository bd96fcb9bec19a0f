package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/xrev/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets Claude Code query past review sessions and provider status
natively. Configure in Claude Code with:

  {
    "mcpServers": {
      "xrev": { "command": "xrev", "args": ["mcp"] }
    }
  }

Available tools: xrev_list_sessions, xrev_session_history,
xrev_provider_status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(s, getReviewers())
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
