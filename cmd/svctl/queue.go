package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/axondata/go-svctl/suspend"
)

var (
	suspendTimeout time.Duration
	suspendPoll    time.Duration
)

func init() {
	rootCmd.AddCommand(cmdSuspend, cmdResume, cmdSuspension, cmdWaitSuspended)
	cmdWaitSuspended.Flags().DurationVar(&suspendTimeout, "wait-timeout", 300*time.Second, "Give up after this long")
	cmdWaitSuspended.Flags().DurationVar(&suspendPoll, "poll", 5*time.Second, "Interval between worker checks")
}

// coordinator connects to the queue Redis and returns a coordinator whose
// wait loop reports progress in the log
func (a *app) coordinator(ctx context.Context) (*suspend.Coordinator, func(), error) {
	store, err := suspend.Dial(ctx, a.cfg.RedisURL, suspend.WithNoopFunc(a.cfg.NoopFunc))
	if err != nil {
		return nil, nil, err
	}
	coord := suspend.NewCoordinator(store,
		suspend.WithLogger(a.log.WithField("component", "queue")),
		suspend.WithObserver(func(pending []suspend.Worker, elapsed time.Duration) {
			names := make([]string, 0, len(pending))
			for _, w := range pending {
				names = append(names, fmt.Sprintf("%s(%s)", w.Name, w.State))
			}
			a.log.WithField("elapsed", elapsed.Round(time.Second)).
				Infof("waiting for %d worker(s): %s", len(pending), strings.Join(names, ", "))
		}),
	)
	return coord, func() { _ = store.Close() }, nil
}

var cmdSuspend = &cobra.Command{
	Use:   "suspend",
	Short: "Suspend the job queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		coord, closeFn, err := state.coordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		if err := coord.Suspend(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "queue suspended")
		return nil
	},
}

var cmdResume = &cobra.Command{
	Use:   "resume",
	Short: "Resume the job queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		coord, closeFn, err := state.coordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		removed, err := coord.Resume(cmd.Context())
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintln(os.Stdout, "queue resumed")
		} else {
			fmt.Fprintln(os.Stdout, "queue was not suspended")
		}
		return nil
	},
}

var cmdSuspension = &cobra.Command{
	Use:   "suspension",
	Short: "Show whether the job queue is suspended",
	RunE: func(cmd *cobra.Command, _ []string) error {
		coord, closeFn, err := state.coordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		suspended, err := coord.IsSuspended(cmd.Context())
		if err != nil {
			return err
		}
		if state.jsonOut {
			return printJSON(map[string]bool{"suspended": suspended})
		}
		if suspended {
			fmt.Fprintln(os.Stdout, "suspended")
		} else {
			fmt.Fprintln(os.Stdout, "not suspended")
		}
		return nil
	},
}

var cmdWaitSuspended = &cobra.Command{
	Use:   "wait-suspended",
	Short: "Wait until every queue worker reports suspended",
	RunE: func(cmd *cobra.Command, _ []string) error {
		coord, closeFn, err := state.coordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		if err := coord.WaitUntilSuspended(cmd.Context(), suspendTimeout, suspendPoll); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "all workers suspended")
		return nil
	},
}
