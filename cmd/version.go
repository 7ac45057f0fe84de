package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// set with -ldflags "-X github.com/bascanada/epidata/cmd.sha1ver=..."
var sha1ver = "develop"

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print the version of epidata",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), sha1ver)
	},
}
