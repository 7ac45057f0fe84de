package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bascanada/epidata/pkg/epidata/client/config"
)

var rootCmd = &cobra.Command{
	Use:   "epidata",
	Short: "Query measurements from an epidata analytics engine",
	Long: `epidata launches or connects to an epidata analytics engine and runs
measurement queries against it: original, cleansed and summary views over a
time range, plus the list of known measurement keys.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PreRun:        onCommandStart,
	Run: func(cmd *cobra.Command, args []string) {
		if config.ResolvePath(configPath) == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No configuration found.")
			fmt.Fprintf(cmd.OutOrStdout(), "Create ~/%s/%s, set $%s, or pass --classpath/--endpoint/--data to query without one.\n\n",
				config.DefaultConfigDir, config.DefaultConfigFile, config.EnvConfigPath)
		}
		_ = cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&logger.Path, "logging-path", "", "file to output logs of the application")
	rootCmd.PersistentFlags().StringVar(&logger.Level, "logging-level", "", "logging level to output INFO WARN ERROR DEBUG TRACE")
	rootCmd.PersistentFlags().BoolVar(&logger.Stdout, "logging-stdout", false, "output application log in the stdout")
	rootCmd.PersistentFlags().BoolVar(&debugHttp, "debug-http", false, "log the requests made to remote engines")

	_ = rootCmd.RegisterFlagCompletionFunc("logging-level", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(queryCommand)
	rootCmd.AddCommand(keysCommand)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(versionCommand)
}
