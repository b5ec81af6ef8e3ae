package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// No configuration needed.
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stim %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
