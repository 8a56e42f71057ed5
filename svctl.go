package svctl

import "time"

// Socket discovery constants
const (
	// DefaultSocketDir is where supervisord instances publish their sockets
	DefaultSocketDir = "/fm-sockets"

	// SocketDirEnv overrides DefaultSocketDir when set
	SocketDirEnv = "SUPERVISOR_SOCKET_DIR"

	// SocketExt is the file extension of a supervisord control socket
	SocketExt = ".sock"
)

// Timing defaults
const (
	// DefaultDialTimeout bounds establishing a connection to a socket
	DefaultDialTimeout = 2 * time.Second

	// DefaultCallTimeout bounds a single XML-RPC round trip
	DefaultCallTimeout = 30 * time.Second

	// DefaultPollInterval is the delay between process state checks while
	// waiting for a stop to complete
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultKillSettle is how long to wait after SIGKILL before verifying
	DefaultKillSettle = 1 * time.Second

	// DefaultWorkerTermSettle is how long to wait after the extra TERM sent
	// to a worker that outlived its force-kill timeout
	DefaultWorkerTermSettle = 3 * time.Second
)

// SignalWorkerGracefulExit is the signal number job workers treat as
// "finish the current job, then exit". It is SIGRTMIN on Linux.
const SignalWorkerGracefulExit = 34

// Action identifies one lifecycle operation against a service
type Action int

const (
	// ActionUnknown is the zero value and never dispatched
	ActionUnknown Action = iota
	// ActionStop stops processes
	ActionStop
	// ActionStart starts processes
	ActionStart
	// ActionRestart stops every process, then starts every process
	ActionRestart
	// ActionSignal sends a signal to named processes
	ActionSignal
	// ActionSignalWorkers sends the graceful-exit signal to every worker
	ActionSignalWorkers
	// ActionInfo reads process information
	ActionInfo
)

// Action string constants
const (
	actionUnknownStr       = "unknown"
	actionStopStr          = "stop"
	actionStartStr         = "start"
	actionRestartStr       = "restart"
	actionSignalStr        = "signal"
	actionSignalWorkersStr = "signal_workers"
	actionInfoStr          = "info"
)

// String returns the string representation of an Action
func (a Action) String() string {
	switch a {
	case ActionStop:
		return actionStopStr
	case ActionStart:
		return actionStartStr
	case ActionRestart:
		return actionRestartStr
	case ActionSignal:
		return actionSignalStr
	case ActionSignalWorkers:
		return actionSignalWorkersStr
	case ActionInfo:
		return actionInfoStr
	default:
		return actionUnknownStr
	}
}

// MarshalText renders the action by name in JSON reports
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
