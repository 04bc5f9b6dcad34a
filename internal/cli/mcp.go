package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/orgmem/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the memory tools over MCP stdio",
	Long:  "Runs a Model Context Protocol server on stdin/stdout. Logs go to stderr.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg, log, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		tools, err := mcp.NewServer(mcpConfig(rt))
		if err != nil {
			return err
		}
		return tools.Run(ctx)
	},
}
