package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	taskchainmcp "github.com/valter-silva-au/taskchain/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the taskchain MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskchain MCP server on stdio",
	Long: `Start the taskchain MCP server on stdio transport.

The server exposes chain and task operations as MCP tools that AI coding
assistants can call: list_chains, get_chain, create_chain, add_task,
get_task, list_tasks, get_next_task, transition_task, update_task,
find_conflicts, check_design_links, get_metrics and get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		srv := taskchainmcp.NewServer(ChainMgr, MetricsCalc, AlertEngine, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
