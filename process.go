package svctl

import "strings"

// ProcessState is a supervisord process state. The values are the numeric
// codes supervisord reports in the "state" field of process info.
type ProcessState int

const (
	// StateStopped indicates the process was stopped or never started
	StateStopped ProcessState = 0
	// StateStarting indicates the process is starting due to a start request
	StateStarting ProcessState = 10
	// StateRunning indicates the process is running
	StateRunning ProcessState = 20
	// StateBackoff indicates the process entered STARTING but exited too quickly
	StateBackoff ProcessState = 30
	// StateStopping indicates the process is stopping due to a stop request
	StateStopping ProcessState = 40
	// StateExited indicates the process exited from RUNNING
	StateExited ProcessState = 100
	// StateFatal indicates the process could not be started
	StateFatal ProcessState = 200
	// StateUnknown indicates supervisord lost track of the process
	StateUnknown ProcessState = 1000
)

// State string constants
const (
	stateStoppedStr  = "STOPPED"
	stateStartingStr = "STARTING"
	stateRunningStr  = "RUNNING"
	stateBackoffStr  = "BACKOFF"
	stateStoppingStr = "STOPPING"
	stateExitedStr   = "EXITED"
	stateFatalStr    = "FATAL"
	stateUnknownStr  = "UNKNOWN"
)

// String returns the supervisord state name
func (s ProcessState) String() string {
	switch s {
	case StateStopped:
		return stateStoppedStr
	case StateStarting:
		return stateStartingStr
	case StateRunning:
		return stateRunningStr
	case StateBackoff:
		return stateBackoffStr
	case StateStopping:
		return stateStoppingStr
	case StateExited:
		return stateExitedStr
	case StateFatal:
		return stateFatalStr
	default:
		return stateUnknownStr
	}
}

// IsStopped reports whether the state belongs to the stopped class:
// STOPPED, EXITED, FATAL or UNKNOWN. Codes supervisord never sends are
// treated as UNKNOWN.
func (s ProcessState) IsStopped() bool {
	switch s {
	case StateStarting, StateRunning, StateBackoff, StateStopping:
		return false
	default:
		return true
	}
}

// ProcessInfo is the struct supervisord returns from getProcessInfo and
// getAllProcessInfo.
type ProcessInfo struct {
	Name          string `xmlrpc:"name"`
	Group         string `xmlrpc:"group"`
	Description   string `xmlrpc:"description"`
	Start         int    `xmlrpc:"start"`
	Stop          int    `xmlrpc:"stop"`
	Now           int    `xmlrpc:"now"`
	State         int    `xmlrpc:"state"`
	StateName     string `xmlrpc:"statename"`
	SpawnErr      string `xmlrpc:"spawnerr"`
	ExitStatus    int    `xmlrpc:"exitstatus"`
	LogFile       string `xmlrpc:"logfile"`
	StdoutLogFile string `xmlrpc:"stdout_logfile"`
	StderrLogFile string `xmlrpc:"stderr_logfile"`
	PID           int    `xmlrpc:"pid"`
}

// Process is one supervised process as seen in a single snapshot
type Process struct {
	Name        string       `json:"name"`
	Group       string       `json:"group"`
	State       ProcessState `json:"state"`
	StateName   string       `json:"statename"`
	PID         int          `json:"pid"`
	IsWorker    bool         `json:"is_worker"`
	Description string       `json:"description,omitempty"`
	Start       int          `json:"start,omitempty"`
	Stop        int          `json:"stop,omitempty"`
	Now         int          `json:"now,omitempty"`
	ExitStatus  int          `json:"exitstatus,omitempty"`
	SpawnErr    string       `json:"spawnerr,omitempty"`
}

// newProcess converts wire info and classifies the process
func newProcess(info ProcessInfo) Process {
	return Process{
		Name:        info.Name,
		Group:       info.Group,
		State:       ProcessState(info.State),
		StateName:   info.StateName,
		PID:         info.PID,
		IsWorker:    IsWorker(info.Name),
		Description: info.Description,
		Start:       info.Start,
		Stop:        info.Stop,
		Now:         info.Now,
		ExitStatus:  info.ExitStatus,
		SpawnErr:    info.SpawnErr,
	}
}

// QualifiedName returns the group:name form supervisord expects for
// processes that live inside a group.
func (p Process) QualifiedName() string {
	return qualify(p.Group, p.Name)
}

func qualify(group, name string) string {
	if group == "" || strings.HasPrefix(name, group+":") {
		return name
	}
	return group + ":" + name
}

// Snapshot is the process list of one service at one instant. It is passed
// by value and re-fetched for every operation.
type Snapshot []Process

// newSnapshot builds a snapshot from wire info, preserving order
func newSnapshot(infos []ProcessInfo) Snapshot {
	snap := make(Snapshot, 0, len(infos))
	for _, info := range infos {
		snap = append(snap, newProcess(info))
	}
	return snap
}

// Lookup finds a process by its bare or group-qualified name
func (s Snapshot) Lookup(name string) (Process, bool) {
	for _, p := range s {
		if p.Name == name || p.QualifiedName() == name {
			return p, true
		}
	}
	return Process{}, false
}

// Names returns process names in snapshot order
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for _, p := range s {
		names = append(names, p.Name)
	}
	return names
}

// Workers returns the worker processes in snapshot order
func (s Snapshot) Workers() Snapshot {
	var out Snapshot
	for _, p := range s {
		if p.IsWorker {
			out = append(out, p)
		}
	}
	return out
}
