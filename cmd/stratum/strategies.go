package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aretw0/stratum/internal/cli"
	"github.com/aretw0/stratum/pkg/adapters/process"
	"github.com/spf13/cobra"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the strategies this node can run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := process.LoadStrategies(cfg.StrategiesFile)
		if err != nil {
			return err
		}

		names := process.NewRunner(process.WithRegistry(configs)).Strategies()

		format, _ := cmd.Flags().GetString("output")
		if format == cli.FormatJSON {
			list := make([]process.StrategyConfig, 0, len(names))
			for _, name := range names {
				list = append(list, configs[name])
			}
			return cli.PrintJSON(cmd.OutOrStdout(), list)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCOMMAND\tTIMEOUT\tDESCRIPTION")
		for _, name := range names {
			c := configs[name]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, c.Command, time.Duration(c.Timeout), c.Description)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}
