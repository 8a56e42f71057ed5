package svctl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// stop runs the stop state machine over one snapshot. Every targeted name
// lands in exactly one bucket. Faults are collected and returned after the
// loop; a transport failure aborts it and fails the remaining targets.
func (h *handler) stop(ctx context.Context, cmd StopCommand) (*StopResult, error) {
	res := newStopResult()
	requested := uniqueNames(cmd.Processes)

	snap, err := h.snapshot(ctx)
	if err != nil {
		res.Failed = append(res.Failed, requested...)
		return res, err
	}

	targets := requested
	if len(targets) == 0 {
		targets = snap.Names()
	}

	merr := &MultiError{}
	for i, name := range targets {
		log := h.log.WithField("process", name)

		p, ok := snap.Lookup(name)
		if !ok {
			log.Debug("process not defined, treating as stopped")
			res.AlreadyStopped = append(res.AlreadyStopped, name)
			continue
		}
		if p.State.IsStopped() {
			res.AlreadyStopped = append(res.AlreadyStopped, name)
			continue
		}

		wait := cmd.Wait
		if p.IsWorker && cmd.WaitWorkers != nil {
			if !*cmd.WaitWorkers {
				log.Info("worker detached, leaving it to exit on its own")
				res.AlreadyStopped = append(res.AlreadyStopped, name)
				continue
			}
			wait = true
		}

		stopped, err := h.stopOne(ctx, log, p, wait, cmd.ForceKillTimeout)
		if err != nil {
			var se *SupervisorError
			if !errors.As(err, &se) {
				res.Failed = append(res.Failed, targets[i:]...)
				merr.Add(connectionError(h.service, err))
				return res, merr.Err()
			}
			merr.Add(err)
		}
		if stopped {
			res.Stopped = append(res.Stopped, name)
		} else {
			res.Failed = append(res.Failed, name)
		}
	}
	return res, merr.Err()
}

// uniqueNames drops repeated names, keeping first occurrences in order
func uniqueNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// stopOne stops a single process and escalates when a force-kill timeout
// is set. It reports whether the process ended up stopped. Returned errors
// are either *SupervisorError or a raw transport failure.
func (h *handler) stopOne(ctx context.Context, log logrus.FieldLogger, p Process, wait bool, forceKill time.Duration) (bool, error) {
	qname := p.QualifiedName()

	if _, err := h.sup.StopProcess(ctx, qname, wait); err != nil {
		code, ok := remoteFault(err)
		if !ok {
			return false, err
		}
		if code.gone() {
			log.WithField("fault", code).Debug("process already gone")
			return true, nil
		}
		return false, supervisorError(err, h.service, p.Name, ActionStop)
	}

	if forceKill <= 0 {
		return true, nil
	}

	stopped, err := h.waitStopped(ctx, p, forceKill)
	if err != nil || stopped {
		return stopped, err
	}

	if p.IsWorker {
		log.WithField("timeout", forceKill).Warn("worker still running after force-kill timeout, sending TERM")
		if _, err := h.sup.SignalProcess(ctx, qname, "TERM"); err != nil {
			code, ok := remoteFault(err)
			if !ok {
				return false, err
			}
			if !code.gone() {
				log.WithError(err).Warn("TERM to worker failed")
			}
		}
		if err := sleep(ctx, h.c.workerTermSettle); err != nil {
			return false, err
		}
		return true, nil
	}

	log.WithField("timeout", forceKill).Warn("process still running after force-kill timeout, sending KILL")
	if _, err := h.sup.SignalProcess(ctx, qname, "KILL"); err != nil {
		code, ok := remoteFault(err)
		if !ok {
			return false, err
		}
		if code.gone() {
			return true, nil
		}
		return false, supervisorError(err, h.service, p.Name, ActionStop)
	}
	if err := sleep(ctx, h.c.killSettle); err != nil {
		return false, err
	}

	info, err := h.sup.GetProcessInfo(ctx, qname)
	if err != nil {
		code, ok := remoteFault(err)
		if !ok {
			return false, err
		}
		if code.gone() {
			return true, nil
		}
		return false, supervisorError(err, h.service, p.Name, ActionStop)
	}
	state := ProcessState(info.State)
	if state.IsStopped() {
		return true, nil
	}
	log.WithField("state", state).Error("process survived KILL")
	return false, &SupervisorError{
		Service: h.service,
		Process: p.Name,
		Action:  ActionStop,
		Code:    FaultStillRunning,
		Err:     fmt.Errorf("still %s after KILL", state),
	}
}

// waitStopped polls the process until it reaches a stopped-class state or
// the timeout elapses. The deadline is measured on the monotonic clock.
func (h *handler) waitStopped(ctx context.Context, p Process, timeout time.Duration) (bool, error) {
	qname := p.QualifiedName()
	deadline := time.Now().Add(timeout)

	for {
		info, err := h.sup.GetProcessInfo(ctx, qname)
		if err != nil {
			code, ok := remoteFault(err)
			if !ok {
				return false, err
			}
			if code.gone() {
				return true, nil
			}
			return false, supervisorError(err, h.service, p.Name, ActionStop)
		}
		if ProcessState(info.State).IsStopped() {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := sleep(ctx, min(h.c.pollInterval, remaining)); err != nil {
			return false, err
		}
	}
}
