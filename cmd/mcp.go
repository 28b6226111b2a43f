package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/flowtree/internal/engine"
	"github.com/conneroisu/flowtree/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve flowtree operations over the Model Context Protocol",
	Long: `Start an MCP server on stdin/stdout exposing explode_flows,
rebuild_flows, verify_roundtrip, and flow_status as tools for editor
integrations.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(_ *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	host, err := buildHost(cfg)
	if err != nil {
		return err
	}
	srv := mcpserver.New(engine.New(host, log), cfg.Paths.FlowsFile, cfg.Paths.SrcDir, engineOptions(cfg))
	return srv.ServeStdio()
}
