package svctl

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
)

// signal sends a signal to the named processes, qualifying each name from a
// fresh snapshot. Processes that are gone count as signaled.
func (h *handler) signal(ctx context.Context, cmd SignalCommand) (bool, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return false, err
	}

	ok := true
	merr := &MultiError{}
	for _, name := range cmd.Processes {
		log := h.log.WithFields(logrus.Fields{"process": name, "signal": cmd.Signal})

		p, found := snap.Lookup(name)
		if !found {
			log.Debug("process not defined, nothing to signal")
			continue
		}

		if _, err := h.sup.SignalProcess(ctx, p.QualifiedName(), cmd.Signal); err != nil {
			code, isFault := remoteFault(err)
			if !isFault {
				return false, connectionError(h.service, err)
			}
			if code.gone() {
				log.WithField("fault", code).Debug("process already gone")
				continue
			}
			ok = false
			merr.Add(supervisorError(err, h.service, p.Name, ActionSignal))
			continue
		}
		log.Debug("signaled")
	}
	return ok, merr.Err()
}

// signalWorkers sends the worker signal to every worker that is not in a
// stopped-class state. Failures are logged and skipped.
func (h *handler) signalWorkers(ctx context.Context, cmd SignalWorkersCommand) ([]string, error) {
	sig := cmd.Signal
	if sig == 0 {
		sig = SignalWorkerGracefulExit
	}
	sigStr := strconv.Itoa(sig)

	snap, err := h.snapshot(ctx)
	if err != nil {
		return []string{}, err
	}

	signaled := []string{}
	for _, p := range snap.Workers() {
		if p.State.IsStopped() {
			continue
		}
		log := h.log.WithFields(logrus.Fields{"process": p.Name, "signal": sigStr})
		if _, err := h.sup.SignalProcess(ctx, p.QualifiedName(), sigStr); err != nil {
			if _, isFault := remoteFault(err); !isFault && ctx.Err() != nil {
				return signaled, ctx.Err()
			}
			log.WithError(err).Warn("signal to worker failed, skipping")
			continue
		}
		signaled = append(signaled, p.Name)
	}
	return signaled, nil
}
