package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/stratum"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of stratum",
	// Skip config loading
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stratum version %s\n", strings.TrimSpace(stratum.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
