package svctl

import (
	"context"
	"errors"
	"fmt"
)

// Connect resolves the service endpoint and validates it with a single
// liveness call. A missing socket fails without dialing. Every failure is a
// *ConnectionError carrying the cause; nothing is retried.
func (c *Controller) Connect(ctx context.Context, service string) (Supervisor, error) {
	ep, err := c.resolver.Resolve(service)
	if err != nil {
		return nil, err
	}
	if !ep.Exists() {
		return nil, &ConnectionError{Service: service, Reason: ReasonMissing, Err: ErrSocketMissing}
	}

	sup, err := c.dial(ctx, ep)
	if err != nil {
		return nil, &ConnectionError{Service: service, Reason: ReasonUnreachable, Err: err}
	}

	pctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	state, err := sup.GetState(pctx)
	if err != nil {
		_ = sup.Close()
		return nil, connectionError(service, err)
	}
	if state.Code == DaemonShutdown {
		_ = sup.Close()
		return nil, &ConnectionError{
			Service: service,
			Reason:  ReasonUnresponsive,
			Err:     fmt.Errorf("supervisord state %s", state.Name),
		}
	}
	return sup, nil
}

// connectionError classifies a failed call as a ConnectionError. Faults and
// deadlines mean the daemon answered badly or late; everything else means it
// could not be reached.
func connectionError(service string, err error) *ConnectionError {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce
	}
	reason := ReasonUnreachable
	if _, ok := faultOf(err); ok || errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonUnresponsive
	}
	return &ConnectionError{Service: service, Reason: reason, Err: err}
}

// remoteFault returns the fault code when err is a fault about the target
// process. Faults that say the daemon itself is unusable are reported as
// not ok so callers treat them like transport failures.
func remoteFault(err error) (FaultCode, bool) {
	f, ok := faultOf(err)
	if !ok {
		return FaultUnrecognized, false
	}
	code := f.FaultCode()
	if code.connectionClass() {
		return code, false
	}
	return code, true
}
