package main

import (
	"fmt"

	"github.com/aretw0/stratum/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph [session-id]",
	Short: "Export the session state machine as a Mermaid diagram",
	Long: `Outputs a Mermaid diagram (graph TD) of the session phases and their legal transitions.
With a session id, the phases the session went through are highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(nil))
			return nil
		}

		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		s, err := rt.Coordinator.Inspect(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(graph.OverlayFor(s)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
