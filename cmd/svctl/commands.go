package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/axondata/go-svctl"
)

var (
	processNames []string
	waitFlag     bool
	noWaitFlag   bool
	waitWorkers  bool
	noWaitWorker bool
	forceKill    time.Duration
	suspendRQ    bool
	wwTimeout    time.Duration
	wwPoll       time.Duration
	migrateCmd   string
	migrateWait  time.Duration
	signalName   string
	workerSignal int
)

func init() {
	rootCmd.AddCommand(cmdStatus, cmdStop, cmdStart, cmdRestart, cmdSignal, cmdSignalWorkers)

	for _, c := range []*cobra.Command{cmdStop, cmdStart, cmdSignal} {
		c.Flags().StringSliceVarP(&processNames, "process", "p", nil, "Limit to these processes (repeatable)")
	}
	for _, c := range []*cobra.Command{cmdStop, cmdStart, cmdRestart} {
		c.Flags().BoolVar(&waitFlag, "wait", true, "Wait for each process to reach its target state")
		c.Flags().BoolVar(&noWaitFlag, "no-wait", false, "Do not wait for processes")
	}
	for _, c := range []*cobra.Command{cmdStop, cmdRestart} {
		c.Flags().BoolVar(&waitWorkers, "wait-workers", false, "Wait for workers to finish their current job")
		c.Flags().BoolVar(&noWaitWorker, "no-wait-workers", false, "Signal workers to exit on their own and do not stop them")
		c.Flags().DurationVar(&forceKill, "force-kill-timeout", 0, "Kill processes still running after this long (0 = never)")
	}

	cmdRestart.Flags().BoolVar(&suspendRQ, "suspend-rq", false, "Suspend the job queue for the duration of the restart")
	cmdRestart.Flags().DurationVar(&wwTimeout, "wait-workers-timeout", svctl.DefaultWaitWorkersTimeout, "Give up waiting for workers to suspend after this long")
	cmdRestart.Flags().DurationVar(&wwPoll, "wait-workers-poll", svctl.DefaultWaitWorkersPoll, "Interval between worker checks")
	cmdRestart.Flags().StringVar(&migrateCmd, "migrate-cmd", "", "Shell command to run after every service stopped and before any starts")
	cmdRestart.Flags().DurationVar(&migrateWait, "migrate-timeout", 300*time.Second, "Kill --migrate-cmd after this long and abort the restart")

	cmdSignal.Flags().StringVarP(&signalName, "signal", "s", "HUP", "Signal name or number")
	cmdSignalWorkers.Flags().IntVar(&workerSignal, "signal", svctl.SignalWorkerGracefulExit, "Signal number")
}

// services returns the named services, or every discovered one
func (a *app) services(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	names, err := a.ctl.Resolver().ServiceNames()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no services found in %s", a.ctl.Resolver().Dir)
	}
	return names, nil
}

// wait resolves --wait and --no-wait
func wait() bool {
	return waitFlag && !noWaitFlag
}

// workerPolicy resolves --wait-workers and --no-wait-workers into the
// tri-state the library expects
func workerPolicy(flags *pflag.FlagSet) (*bool, error) {
	yes, no := flags.Changed("wait-workers") && waitWorkers, flags.Changed("no-wait-workers") && noWaitWorker
	switch {
	case yes && no:
		return nil, errors.New("--wait-workers and --no-wait-workers are mutually exclusive")
	case yes:
		return &yes, nil
	case no:
		f := false
		return &f, nil
	}
	return nil, nil
}

// fanout runs cmd across services with a progress spinner, then reports
func (a *app) fanout(ctx context.Context, label string, services []string, cmd svctl.Command) (*svctl.Summary, error) {
	p := newProgress(label, len(services), a.jsonOut)
	sum := a.manager(svctl.WithProgress(p.Observe)).Run(ctx, services, cmd)
	p.Stop()
	return sum, a.finish(sum)
}

// finish writes the report file and prints the summary. The returned error
// is non-nil when any service failed.
func (a *app) finish(sum *svctl.Summary) error {
	if a.cfg.Report != "" {
		if err := sum.WriteFile(a.cfg.Report); err != nil {
			return err
		}
	}
	if a.jsonOut {
		if err := printJSON(sum.Report()); err != nil {
			return err
		}
	} else if sum.Action == svctl.ActionInfo {
		printStatus(sum)
	} else {
		printSummary(sum)
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d services failed", sum.Failed, len(sum.Results))
	}
	return nil
}

var cmdStatus = &cobra.Command{
	Use:   "status [service...]",
	Short: "Show process state for services",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := state.services(args)
		if err != nil {
			return err
		}
		_, err = state.fanout(cmd.Context(), "reading", services, svctl.InfoCommand{})
		return err
	},
}

var cmdStop = &cobra.Command{
	Use:   "stop [service...]",
	Short: "Stop processes",
	Long:  "Stops every process, or the ones named with --process, in each service. With no services every discovered service is stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := state.services(args)
		if err != nil {
			return err
		}
		policy, err := workerPolicy(cmd.Flags())
		if err != nil {
			return err
		}
		_, err = state.fanout(cmd.Context(), "stopping", services, svctl.StopCommand{
			Processes:        processNames,
			Wait:             wait(),
			WaitWorkers:      policy,
			ForceKillTimeout: forceKill,
		})
		return err
	},
}

var cmdStart = &cobra.Command{
	Use:   "start [service...]",
	Short: "Start processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := state.services(args)
		if err != nil {
			return err
		}
		_, err = state.fanout(cmd.Context(), "starting", services, svctl.StartCommand{
			Processes: processNames,
			Wait:      wait(),
		})
		return err
	},
}

var cmdRestart = &cobra.Command{
	Use:   "restart [service...]",
	Short: "Stop then start every process, coordinating with the job queue",
	Long: `Restarts services in two phases across the fleet: every service is stopped, then every
service whose stop phase succeeded is started.

--wait-workers suspends the job queue and waits until every worker reports suspended
before stopping. --no-wait-workers signals workers to exit after their current job and
leaves them out of the stop. The queue is always resumed afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		policy, err := workerPolicy(cmd.Flags())
		if err != nil {
			return err
		}
		services, err := state.services(args)
		if err != nil {
			return err
		}

		opts := svctl.RestartOptions{
			Services:           services,
			Wait:               wait(),
			WaitWorkers:        policy,
			SuspendQueue:       suspendRQ,
			ForceKillTimeout:   forceKill,
			WaitWorkersTimeout: wwTimeout,
			WaitWorkersPoll:    wwPoll,
		}
		if migrateCmd != "" {
			opts.BetweenPhases = runMigrate
		}

		var q svctl.Suspender
		if suspendRQ || (policy != nil && *policy) {
			coord, closeFn, err := state.coordinator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			q = coord
		}

		// one tick per service per fan-out: stop, start and maybe signal-workers
		phases := 2
		if policy != nil && !*policy {
			phases++
		}
		p := newProgress("restarting", phases*len(services), state.jsonOut)
		sum, err := svctl.GracefulRestart(ctx, state.manager(svctl.WithProgress(p.Observe)), q, opts)
		p.Stop()
		if sum == nil {
			return err
		}
		return errors.Join(err, state.finish(sum))
	},
}

// runMigrate runs --migrate-cmd between the stop and start phases. A
// failure or timeout leaves the services stopped.
func runMigrate(ctx context.Context) error {
	if migrateWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, migrateWait)
		defer cancel()
	}
	state.log.WithFields(logrus.Fields{"cmd": migrateCmd, "timeout": migrateWait}).Info("running between-phase command")
	c := exec.CommandContext(ctx, "sh", "-c", migrateCmd)
	c.Stdout = os.Stderr
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%q timed out after %s", migrateCmd, migrateWait)
		}
		return fmt.Errorf("%q: %w", migrateCmd, err)
	}
	return nil
}

var cmdSignal = &cobra.Command{
	Use:   "signal [service...] --process NAME",
	Short: "Send a signal to named processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(processNames) == 0 {
			return errors.New("--process is required")
		}
		services, err := state.services(args)
		if err != nil {
			return err
		}
		_, err = state.fanout(cmd.Context(), "signaling", services, svctl.SignalCommand{
			Processes: processNames,
			Signal:    signalName,
		})
		return err
	},
}

var cmdSignalWorkers = &cobra.Command{
	Use:   "signal-workers [service...]",
	Short: "Ask every running worker to exit after its current job",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := state.services(args)
		if err != nil {
			return err
		}
		_, err = state.fanout(cmd.Context(), "signaling", services, svctl.SignalWorkersCommand{Signal: workerSignal})
		return err
	},
}
