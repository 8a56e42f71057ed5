package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(cmdHistory)
	cmdHistory.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
}

var cmdHistory = &cobra.Command{
	Use:   "history [service]",
	Short: "Show recorded results from the --history database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if state.history == nil {
			return errors.New("--history is required")
		}
		service := ""
		if len(args) == 1 {
			service = args[0]
		}
		entries, err := state.history.Recent(cmd.Context(), service, historyLimit)
		if err != nil {
			return err
		}
		if state.jsonOut {
			return printJSON(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSERVICE\tACTION\tOK\tSTOPPED\tSTARTED\tFAILED\tELAPSED\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\t%d\t%s\t%s\n",
				e.OccurredAt.Local().Format(time.DateTime), e.Service, e.Action, e.OK,
				e.Stopped, e.Started, e.Failed, e.Elapsed, e.Error)
		}
		return w.Flush()
	},
}
