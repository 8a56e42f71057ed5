package svctl

import "context"

// restart stops every process and then starts every process. When the stop
// phase leaves any failure the start phase is never attempted and the error
// is an *OperationFailedError wrapping the cause. An error before any
// process was targeted, such as a failed snapshot, is returned as is.
func (h *handler) restart(ctx context.Context, cmd RestartCommand) (*StopResult, *StartResult, error) {
	stopRes, err := h.stop(ctx, StopCommand{
		Wait:             cmd.Wait,
		WaitWorkers:      cmd.WaitWorkers,
		ForceKillTimeout: cmd.ForceKillTimeout,
	})

	if len(stopRes.Failed) > 0 {
		h.log.WithField("failed", stopRes.Failed).Error("stop phase failed, not starting")
		return stopRes, nil, &OperationFailedError{Service: h.service, Failed: stopRes.Failed, Err: err}
	}
	if err != nil {
		return stopRes, nil, err
	}

	startRes, err := h.start(ctx, StartCommand{Wait: cmd.Wait})
	return stopRes, startRes, err
}
