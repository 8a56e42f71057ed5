package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cmdWatch)
}

var cmdWatch = &cobra.Command{
	Use:   "watch",
	Short: "Print services as their control sockets appear and disappear",
	RunE: func(cmd *cobra.Command, _ []string) error {
		events, cleanup, err := state.ctl.Resolver().Watch(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = cleanup() }()

		for ev := range events {
			if ev.Err != nil {
				state.log.WithError(ev.Err).Warn("watch error")
				continue
			}
			if state.jsonOut {
				if err := printJSON(map[string]interface{}{
					"event":     ev.Type.String(),
					"service":   ev.Service.Name,
					"socket":    ev.Service.Endpoint.SocketPath,
					"reachable": ev.Service.Reachable,
				}); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(os.Stdout, "%-8s %s (%s)\n", ev.Type, ev.Service.Name, ev.Service.Endpoint.SocketPath)
		}
		return nil
	},
}
