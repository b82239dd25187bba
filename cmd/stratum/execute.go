package main

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/orchestrator"
	"github.com/spf13/cobra"
)

var executeCmd = &cobra.Command{
	Use:   "execute <strategy-id>",
	Short: "Run a strategy once and print its result",
	Long: `Runs the strategy under its cluster-wide lock. The session context is given as a JSON object
with --context. Use --watch to follow the phases as they are entered.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawContext, _ := cmd.Flags().GetString("context")
		watch, _ := cmd.Flags().GetBool("watch")

		input := map[string]any{}
		if rawContext != "" {
			if err := json.Unmarshal([]byte(rawContext), &input); err != nil {
				return fmt.Errorf("--context must be a JSON object: %w", err)
			}
		}

		sc := newSignalContext(cmd)
		defer sc.Cancel()

		rt, err := openRuntime(sc)
		if err != nil {
			return err
		}
		defer rt.Close()

		p := printer(cmd)
		var opts []orchestrator.CallOption
		var progress chan domain.Event
		done := make(chan struct{})
		if watch {
			progress = make(chan domain.Event, 32)
			opts = append(opts, orchestrator.WithProgress(progress))
			go func() {
				defer close(done)
				for e := range progress {
					_ = p.Event(e)
				}
			}()
		} else {
			close(done)
		}

		result, err := rt.Coordinator.Execute(sc, args[0], input, opts...)
		if progress != nil {
			close(progress)
		}
		<-done

		if result != nil {
			if perr := p.Result(result); perr != nil {
				return perr
			}
		}
		if err != nil && sc.Signal() != nil {
			return fmt.Errorf("interrupted by %s: %w", sc.Signal(), err)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(executeCmd)
	executeCmd.Flags().StringP("context", "c", "", "Session context as a JSON object")
	executeCmd.Flags().BoolP("watch", "w", false, "Print phase progress while the strategy runs")
}
