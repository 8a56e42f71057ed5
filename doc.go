// Package svctl controls a fleet of supervisord instances, one per service,
// each listening on its own UNIX socket.
//
// The Controller runs one command against one service. Every call resolves
// the socket, validates the connection with a liveness probe and then runs
// the command against a fresh process snapshot:
//
//	ctl := svctl.New(svctl.WithSocketDir("/fm-sockets"))
//
//	res, err := ctl.Execute(ctx, "frappe", svctl.StopCommand{
//	    Wait:             true,
//	    ForceKillTimeout: 30 * time.Second,
//	})
//	fmt.Println(res.Stop.Stopped, res.Stop.AlreadyStopped, res.Stop.Failed)
//
// Errors fall into a small taxonomy: *ConnectionError when the service's
// supervisord is missing, unreachable or unresponsive (retryable),
// *SupervisorError when supervisord rejected an operation,
// *OperationFailedError when a restart's stop phase failed and the start
// phase was skipped, and ErrInvalidCommand for malformed commands.
//
// # Worker processes
//
// Processes whose names contain -worker, worker-, _worker or worker_ are
// queue workers. Stop honours a separate wait policy for them, and
// force-kill escalation sends workers a TERM instead of a KILL.
//
// # Fan-out
//
// The Manager runs a command across many services concurrently. A failing
// service produces a failure-shaped Result and never aborts the batch:
//
//	m := svctl.NewManager(ctl)
//	sum := m.Run(ctx, []string{"frappe", "worker"}, svctl.RestartCommand{Wait: true})
//	for _, r := range sum.Sorted() {
//	    fmt.Println(r.Service, r.OK, r.Err)
//	}
//
// GracefulRestart combines a fan-out with job queue suspension (see the
// suspend package) so workers are not restarted mid-job.
package svctl
