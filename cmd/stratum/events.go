package main

import (
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events [session-id]",
	Short: "Follow session lifecycle events",
	Long: `Prints lifecycle events as they happen. With the redis store the stream covers the whole
cluster; with the memory store only this process is observed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessionID string
		if len(args) > 0 {
			sessionID = args[0]
		}

		sc := newSignalContext(cmd)
		defer sc.Cancel()

		rt, err := openRuntime(sc)
		if err != nil {
			return err
		}
		defer rt.Close()

		events, err := rt.Events(sc, sessionID)
		if err != nil {
			return err
		}

		p := printer(cmd)
		for {
			select {
			case <-sc.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if err := p.Event(e); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
