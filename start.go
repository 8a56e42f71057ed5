package svctl

import "context"

// start starts the requested processes, or every process defined in the
// supervisord configuration. Names supervisord does not define are dropped
// with a warning. The loop is best-effort; faults are returned after it.
func (h *handler) start(ctx context.Context, cmd StartCommand) (*StartResult, error) {
	res := newStartResult()

	snap, err := h.snapshot(ctx)
	if err != nil {
		res.Failed = append(res.Failed, cmd.Processes...)
		return res, err
	}

	targets := h.startTargets(snap, cmd.Processes)

	merr := &MultiError{}
	for i, p := range targets {
		log := h.log.WithField("process", p.Name)

		_, err := h.sup.StartProcess(ctx, p.QualifiedName(), cmd.Wait)
		if err == nil {
			log.Debug("started")
			res.Started = append(res.Started, p.Name)
			continue
		}

		code, ok := remoteFault(err)
		if !ok {
			for _, rest := range targets[i:] {
				res.Failed = append(res.Failed, rest.Name)
			}
			merr.Add(connectionError(h.service, err))
			return res, merr.Err()
		}
		if code == FaultAlreadyStarted {
			res.AlreadyRunning = append(res.AlreadyRunning, p.Name)
			continue
		}

		if code.fatalStart() {
			log.WithField("fault", code).Error("start failed, process cannot be spawned")
		} else {
			log.WithField("fault", code).Warn("start failed")
		}
		res.Failed = append(res.Failed, p.Name)
		merr.Add(supervisorError(err, h.service, p.Name, ActionStart))
	}
	return res, merr.Err()
}

// startTargets intersects the requested names with the defined processes,
// keeping the request order. An empty request selects every process.
func (h *handler) startTargets(snap Snapshot, requested []string) []Process {
	if len(requested) == 0 {
		return snap
	}
	targets := make([]Process, 0, len(requested))
	seen := make(map[string]bool, len(requested))
	for _, name := range requested {
		p, ok := snap.Lookup(name)
		if !ok {
			h.log.WithField("process", name).Warn("process not defined, skipping")
			continue
		}
		if seen[p.QualifiedName()] {
			continue
		}
		seen[p.QualifiedName()] = true
		targets = append(targets, p)
	}
	return targets
}
