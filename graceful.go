package svctl

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults for waiting on queue workers during a graceful restart
const (
	DefaultWaitWorkersTimeout = 300 * time.Second
	DefaultWaitWorkersPoll    = 5 * time.Second
)

// ErrNoSuspender is returned when a restart needs queue suspension but no
// Suspender was supplied
var ErrNoSuspender = errors.New("svctl: queue suspension requested without a suspender")

// Suspender pauses and resumes the job queue consumed by worker processes
type Suspender interface {
	// Suspend sets the suspension flag and confirms it was persisted
	Suspend(ctx context.Context) error
	// Resume clears the flag and reports whether one was present
	Resume(ctx context.Context) (bool, error)
	// WaitUntilSuspended blocks until every queue worker reports suspended
	WaitUntilSuspended(ctx context.Context, timeout, poll time.Duration) error
}

// RestartOptions configures GracefulRestart
type RestartOptions struct {
	// Services to restart. Empty means every discovered service.
	Services []string
	// Wait makes supervisord block on each stop and start
	Wait bool
	// WaitWorkers true suspends the queue and waits for workers to settle
	// before stopping. False signals workers to exit on their own and
	// detaches them from the stop. Nil applies Wait to workers too.
	WaitWorkers *bool
	// SuspendQueue suspends the queue for the duration of the restart
	SuspendQueue bool
	// ForceKillTimeout enables force-kill escalation during the stop phase
	ForceKillTimeout time.Duration
	// WaitWorkersTimeout bounds the wait for workers to settle
	WaitWorkersTimeout time.Duration
	// WaitWorkersPoll is the interval between worker checks
	WaitWorkersPoll time.Duration
	// BetweenPhases runs after every service stopped and before any
	// starts. An error leaves the services stopped.
	BetweenPhases func(ctx context.Context) error
}

// GracefulRestart restarts services across the fleet in two fan-outs, stop
// then start, coordinating with the job queue. Suspension happens before
// the stop fan-out and the queue is resumed after the start fan-out, and on
// every early return once it was suspended. A service whose stop phase
// failed is never started.
func GracefulRestart(ctx context.Context, m *Manager, q Suspender, opts RestartOptions) (sum *Summary, err error) {
	log := m.ctl.logger.WithField("action", ActionRestart.String())

	services := opts.Services
	if len(services) == 0 {
		if services, err = m.ctl.resolver.ServiceNames(); err != nil {
			return nil, err
		}
	}

	waitWorkers := opts.WaitWorkers != nil && *opts.WaitWorkers
	detachWorkers := opts.WaitWorkers != nil && !*opts.WaitWorkers

	if opts.SuspendQueue || waitWorkers {
		if q == nil {
			return nil, ErrNoSuspender
		}
		if err := q.Suspend(ctx); err != nil {
			return nil, fmt.Errorf("suspend queue: %w", err)
		}
		log.Info("queue suspended")

		defer func() {
			removed, rerr := q.Resume(context.WithoutCancel(ctx))
			if rerr != nil {
				log.WithError(rerr).Error("resume queue failed, rq:suspended may need manual removal")
				err = errors.Join(err, fmt.Errorf("resume queue: %w", rerr))
				return
			}
			log.WithField("removed", removed).Info("queue resumed")
		}()

		if waitWorkers {
			timeout := opts.WaitWorkersTimeout
			if timeout <= 0 {
				timeout = DefaultWaitWorkersTimeout
			}
			poll := opts.WaitWorkersPoll
			if poll <= 0 {
				poll = DefaultWaitWorkersPoll
			}
			if err := q.WaitUntilSuspended(ctx, timeout, poll); err != nil {
				return nil, fmt.Errorf("wait for queue workers: %w", err)
			}
		}
	}

	if detachWorkers {
		signaled := m.Run(ctx, services, SignalWorkersCommand{})
		for _, r := range signaled.Sorted() {
			if r.Err != nil {
				log.WithField("service", r.Service).WithError(r.Err).Warn("signaling workers failed, restarting anyway")
			}
		}
	}

	stopped := m.Run(ctx, services, StopCommand{
		Wait:             opts.Wait,
		WaitWorkers:      opts.WaitWorkers,
		ForceKillTimeout: opts.ForceKillTimeout,
	})

	if opts.BetweenPhases != nil {
		if err := opts.BetweenPhases(ctx); err != nil {
			err = fmt.Errorf("between stop and start: %w", err)
			return mergeRestart(stopped, nil, err), err
		}
	}

	eligible := make([]string, 0, len(stopped.Results))
	for _, r := range stopped.Results {
		if r.Err == nil && (r.Stop == nil || len(r.Stop.Failed) == 0) {
			eligible = append(eligible, r.Service)
		}
	}

	started := m.Run(ctx, eligible, StartCommand{Wait: opts.Wait})
	return mergeRestart(stopped, started, nil), nil
}

// mergeRestart folds the stop and start fan-outs into one restart summary
// in stop completion order. A nil started summary means the start phase
// was skipped because of skipErr.
func mergeRestart(stopped, started *Summary, skipErr error) *Summary {
	sum := &Summary{Action: ActionRestart, Results: make([]Result, 0, len(stopped.Results))}
	sum.Elapsed = stopped.Elapsed
	if started != nil {
		sum.Elapsed += started.Elapsed
	}

	for _, stop := range stopped.Results {
		res := Result{Service: stop.Service, Action: ActionRestart, Stop: stop.Stop}

		var ce *ConnectionError
		switch {
		case errors.As(stop.Err, &ce):
			res.Err = stop.Err
		case stop.Err != nil || (stop.Stop != nil && len(stop.Stop.Failed) > 0):
			oe := &OperationFailedError{Service: stop.Service, Err: stop.Err}
			if stop.Stop != nil {
				oe.Failed = stop.Stop.Failed
			}
			res.Err = oe
		case started == nil:
			res.Err = skipErr
		default:
			if start, ok := started.Lookup(stop.Service); ok {
				res.Start = start.Start
				res.Err = start.Err
			}
		}
		res.OK = res.Err == nil && res.Start != nil
		sum.add(res)
	}
	return sum
}
