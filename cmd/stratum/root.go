package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/stratum/internal/cli"
	"github.com/aretw0/stratum/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	settings = config.NewViper()
	cfg      *config.Config
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum coordinates strategy sessions across a cluster of nodes",
	Long: `Stratum runs each strategy under a cluster-wide lock, drives its session through
PLANNING, LAB_ALLOCATION, EXECUTING and VALIDATING, and keeps the session state in a shared store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(settings, path)
		if err != nil {
			return err
		}
		cfg = loaded

		debug, _ := cmd.Flags().GetBool("debug")
		logger = cli.NewLogger(cfg.Log, debug)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./stratum.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("node", "", "Identity of this node")
	rootCmd.PersistentFlags().String("store", "", "Session store backend: memory or redis")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address")
	rootCmd.PersistentFlags().String("strategies", "", "Strategy registry file")
	rootCmd.PersistentFlags().StringP("output", "o", cli.FormatText, "Output format: text, json or markdown")

	bind(settings, rootCmd, "node.id", "node")
	bind(settings, rootCmd, "store.backend", "store")
	bind(settings, rootCmd, "store.redis.addr", "redis-addr")
	bind(settings, rootCmd, "strategies_file", "strategies")
}

// bind lets a flag override a config key, only when the flag is set.
func bind(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// openRuntime wires a coordinator node from the loaded configuration.
func openRuntime(ctx context.Context) (*cli.Runtime, error) {
	return cli.NewRuntime(ctx, cfg, logger)
}

func printer(cmd *cobra.Command) *cli.Printer {
	format, _ := cmd.Flags().GetString("output")
	return cli.NewPrinter(cmd.OutOrStdout(), format)
}

func newSignalContext(cmd *cobra.Command) *cli.SignalContext {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return cli.NewSignalContext(parent)
}
