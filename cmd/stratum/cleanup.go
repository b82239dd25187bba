package main

import (
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Fail and reclaim sessions with no recent progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inactiveFor, _ := cmd.Flags().GetDuration("inactive-for")
		if inactiveFor <= 0 {
			inactiveFor = cfg.Cleanup.InactiveAfter
		}

		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		report, err := rt.Coordinator.Cleanup(ctx, inactiveFor)
		if err != nil {
			return err
		}
		return printer(cmd).Cleanup(report)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Duration("inactive-for", 0, "Inactivity threshold (default: cleanup.inactive_after)")
}
