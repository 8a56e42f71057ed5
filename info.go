package svctl

import (
	"context"
	"time"
)

// info returns the current process snapshot
func (h *handler) info(ctx context.Context) ([]Process, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return []Process(snap), nil
}

// WaitWorkersStopped polls the service until every worker process is in a
// stopped-class state or timeout elapses. A supervisord that is shutting
// down counts as stopped. Workers that vanish from the process list count
// as stopped too: supervisord only drops a process once its program was
// removed from the configuration, and a removed program has no running
// process left under this daemon.
func (c *Controller) WaitWorkersStopped(ctx context.Context, service string, timeout time.Duration) (bool, error) {
	sup, err := c.Connect(ctx, service)
	if err != nil {
		return false, err
	}
	defer func() { _ = sup.Close() }()

	log := c.logger.WithField("service", service)
	deadline := time.Now().Add(timeout)

	for {
		infos, err := sup.GetAllProcessInfo(ctx)
		switch {
		case err == nil:
			if allWorkersStopped(newSnapshot(infos)) {
				return true, nil
			}
		case isShutdownFault(err):
			log.Info("supervisord shutting down, assuming workers stopped")
			return true, nil
		default:
			if _, ok := remoteFault(err); !ok {
				return false, connectionError(service, err)
			}
			log.WithError(err).Warn("checking worker state failed")
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.WithField("timeout", timeout).Warn("workers still running at timeout")
			return false, nil
		}
		if err := sleep(ctx, min(c.pollInterval, remaining)); err != nil {
			return false, err
		}
	}
}

func allWorkersStopped(snap Snapshot) bool {
	for _, p := range snap.Workers() {
		if !p.State.IsStopped() {
			return false
		}
	}
	return true
}

func isShutdownFault(err error) bool {
	f, ok := faultOf(err)
	return ok && f.FaultCode() == FaultShutdownState
}
