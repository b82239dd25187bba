package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/stratum/internal/cli"
	"github.com/aretw0/stratum/internal/presentation/graph"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Inspect and manage strategy sessions",
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List active sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		node, _ := cmd.Flags().GetString("owner")

		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		ids, err := rt.Coordinator.ListActive(ctx, node)
		if err != nil {
			return err
		}

		sessions := make([]*domain.Session, 0, len(ids))
		for _, id := range ids {
			s, err := rt.Coordinator.Inspect(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				// Expired between the index read and the fetch.
				continue
			}
			if err != nil {
				return err
			}
			sessions = append(sessions, s)
		}
		return printer(cmd).Sessions(sessions)
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Show a session and its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showGraph, _ := cmd.Flags().GetBool("graph")

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
		if showGraph {
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(graph.OverlayFor(s)))
			return nil
		}

		result, err := rt.Coordinator.Result(ctx, args[0])
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return printer(cmd).Session(s, result)
	},
}

var sessionResultCmd = &cobra.Command{
	Use:   "result <session-id>",
	Short: "Show the stored result of a finished session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		result, err := rt.Coordinator.Result(ctx, args[0])
		if err != nil {
			return err
		}
		return printer(cmd).Result(result)
	},
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a running session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.Coordinator.Cancel(ctx, args[0], reason); err != nil {
			return err
		}
		cli.PrintSystemMessage(cmd.OutOrStdout(), "Session %s cancelled", args[0])
		return nil
	},
}

var sessionMigrateCmd = &cobra.Command{
	Use:   "migrate <session-id>",
	Short: "Move a session from one owner node to another",
	Long: `Reassigns ownership of a session. The source node must have stopped working on it;
the move is refused when the session is no longer owned by --from.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		outcome, err := rt.Coordinator.Migrate(ctx, args[0], from, to)
		if err != nil {
			return err
		}
		cli.PrintSystemMessage(cmd.OutOrStdout(), "Session %s: %s", args[0], outcome)
		return nil
	},
}

var nodeDrainCmd = &cobra.Command{
	Use:   "drain <node-id>",
	Short: "Move every active session of a node to another node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")

		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		report, err := rt.Coordinator.DrainNode(ctx, args[0], to)
		if report != nil {
			if perr := printer(cmd).Drain(report); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd, sessionInspectCmd, sessionResultCmd, sessionCancelCmd, sessionMigrateCmd)
	rootCmd.AddCommand(nodeDrainCmd)

	sessionLsCmd.Flags().String("owner", "", "Only sessions owned by this node")
	sessionInspectCmd.Flags().Bool("graph", false, "Print the phase diagram of the session in Mermaid")
	sessionCancelCmd.Flags().String("reason", "", "Reason recorded on the session")

	sessionMigrateCmd.Flags().String("from", "", "Current owner node")
	sessionMigrateCmd.Flags().String("to", "", "New owner node")
	_ = sessionMigrateCmd.MarkFlagRequired("from")
	_ = sessionMigrateCmd.MarkFlagRequired("to")

	nodeDrainCmd.Flags().String("to", "", "Node receiving the sessions")
	_ = nodeDrainCmd.MarkFlagRequired("to")
}
