package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bascanada/epidata/pkg/epidata/client/config"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage configuration contexts",
}

var useContextCmd = &cobra.Command{
	Use:               "use [context-id]",
	Short:             "Set the context used when --id is not given",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeContextIDs,
	PreRun:            onCommandStart,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		state, err := config.LoadState()
		if err != nil {
			return err
		}
		if err := state.UseContext(cfg, args[0]); err != nil {
			return err
		}
		if err := config.SaveState(state); err != nil {
			return fmt.Errorf("saving state: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q.\n", args[0])
		return nil
	},
}

var listContextsCmd = &cobra.Command{
	Use:    "list",
	Short:  "List all available contexts",
	Args:   cobra.NoArgs,
	PreRun: onCommandStart,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		current := ""
		if state, err := config.LoadState(); err == nil {
			current = state.CurrentContext
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tENGINE\tKIND\tDESCRIPTION")
		for _, name := range cfg.ContextIDs() {
			qc := cfg.Contexts[name]
			prefix := " "
			if name == current {
				prefix = "*"
			}
			kind := qc.Kind
			if kind == "" {
				kind = "original"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", prefix, name, qc.Engine, kind, qc.Description)
		}
		return w.Flush()
	},
}

func init() {
	contextCmd.AddCommand(useContextCmd)
	contextCmd.AddCommand(listContextsCmd)
}
