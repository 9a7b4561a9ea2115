package main

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/DeusData/tapaconv/internal/store"
	"github.com/DeusData/tapaconv/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("no-history", false, "do not record runs")
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	var s *store.Store
	if !noHistory {
		var err error
		if path, _ := cmd.Flags().GetString("history"); path != "" {
			s, err = store.OpenPath(path)
		} else {
			s, err = store.Open()
		}
		if err != nil {
			slog.Warn("history.open.err", "err", err)
			s = nil
		}
	}

	srv := tools.NewServer(s, configPath)
	runErr := srv.MCPServer().Run(cmd.Context(), &mcp.StdioTransport{})
	if s != nil {
		s.Close()
	}
	return runErr
}
