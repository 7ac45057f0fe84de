package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bascanada/epidata/pkg/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:    "mcp",
	Short:  "Starts a MCP server",
	Long:   `Starts a MCP server over stdio, exposing measurement queries, key listing and contexts as tools.`,
	PreRun: onCommandStart,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		engines, _, err := openFactories(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer engines.Close()

		bundle, err := mcpserver.Build(cfg, engines, sha1ver)
		if err != nil {
			return err
		}
		return bundle.ServeStdio()
	},
}

func init() {
	addEngineFlags(mcpCmd)
}
