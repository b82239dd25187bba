package main

import (
	"fmt"
	"path/filepath"

	"github.com/aretw0/stratum/internal/validator"
	"github.com/aretw0/stratum/pkg/adapters/process"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the strategy registry",
	Long:  `Loads the configuration and the strategy registry and reports commands that cannot be found or invalid entries.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		strategies, err := process.LoadStrategies(cfg.StrategiesFile)
		if err != nil {
			return err
		}
		if err := validator.ValidateStrategies(strategies, filepath.Dir(cfg.StrategiesFile)); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid! %d strategies ✅\n", len(strategies))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
