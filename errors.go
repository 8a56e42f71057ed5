package svctl

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by svctl operations
var (
	// ErrSocketMissing indicates no socket file exists for the service
	ErrSocketMissing = errors.New("svctl: socket missing")

	// ErrInvalidService indicates a service name that cannot map to a socket
	ErrInvalidService = errors.New("svctl: invalid service name")

	// ErrInvalidCommand indicates a command with missing or malformed parameters
	ErrInvalidCommand = errors.New("svctl: invalid command")

	// ErrStopPhaseFailed indicates a restart whose stop phase left failures
	ErrStopPhaseFailed = errors.New("svctl: stop phase failed")
)

// FaultCode is a supervisord fault from the closed set this package
// recognizes. The values are supervisord's numeric fault codes.
type FaultCode int

const (
	// FaultUnrecognized is any fault outside the known set
	FaultUnrecognized         FaultCode = 0
	FaultUnknownMethod        FaultCode = 1
	FaultIncorrectParameters  FaultCode = 2
	FaultBadArguments         FaultCode = 3
	FaultSignatureUnsupported FaultCode = 4
	FaultShutdownState        FaultCode = 6
	FaultBadName              FaultCode = 10
	FaultBadSignal            FaultCode = 11
	FaultNoFile               FaultCode = 20
	FaultNotExecutable        FaultCode = 21
	FaultFailed               FaultCode = 30
	FaultAbnormalTermination  FaultCode = 40
	FaultSpawnError           FaultCode = 50
	FaultAlreadyStarted       FaultCode = 60
	FaultNotRunning           FaultCode = 70
	FaultSuccess              FaultCode = 80
	FaultAlreadyAdded         FaultCode = 90
	FaultStillRunning         FaultCode = 91
	FaultCantReread           FaultCode = 92
)

var faultNames = map[FaultCode]string{
	FaultUnknownMethod:        "UNKNOWN_METHOD",
	FaultIncorrectParameters:  "INCORRECT_PARAMETERS",
	FaultBadArguments:         "BAD_ARGUMENTS",
	FaultSignatureUnsupported: "SIGNATURE_UNSUPPORTED",
	FaultShutdownState:        "SHUTDOWN_STATE",
	FaultBadName:              "BAD_NAME",
	FaultBadSignal:            "BAD_SIGNAL",
	FaultNoFile:               "NO_FILE",
	FaultNotExecutable:        "NOT_EXECUTABLE",
	FaultFailed:               "FAILED",
	FaultAbnormalTermination:  "ABNORMAL_TERMINATION",
	FaultSpawnError:           "SPAWN_ERROR",
	FaultAlreadyStarted:       "ALREADY_STARTED",
	FaultNotRunning:           "NOT_RUNNING",
	FaultSuccess:              "SUCCESS",
	FaultAlreadyAdded:         "ALREADY_ADDED",
	FaultStillRunning:         "STILL_RUNNING",
	FaultCantReread:           "CANT_REREAD",
}

var faultsByName = func() map[string]FaultCode {
	m := make(map[string]FaultCode, len(faultNames))
	for code, name := range faultNames {
		m[name] = code
	}
	return m
}()

// String returns supervisord's name for the fault
func (c FaultCode) String() string {
	if name, ok := faultNames[c]; ok {
		return name
	}
	return "UNRECOGNIZED"
}

// gone reports faults meaning the process is already not there
func (c FaultCode) gone() bool {
	return c == FaultNotRunning || c == FaultBadName
}

// fatalStart reports faults meaning a start attempt failed for good
func (c FaultCode) fatalStart() bool {
	return c == FaultSpawnError || c == FaultAbnormalTermination
}

// connectionClass reports faults that say the daemon itself is unusable
func (c FaultCode) connectionClass() bool {
	return c == FaultShutdownState || c == FaultNoFile
}

// Fault is a fault response from supervisord
type Fault struct {
	Code   int
	String string
}

// Error returns the fault as supervisord formats it
func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.String)
}

// FaultCode maps the fault to the known set. The numeric code wins; when it
// is unknown the leading token of the fault string ("BAD_NAME: web") must
// match a known name exactly.
func (f *Fault) FaultCode() FaultCode {
	if _, ok := faultNames[FaultCode(f.Code)]; ok {
		return FaultCode(f.Code)
	}
	token := f.String
	if i := strings.IndexByte(token, ':'); i >= 0 {
		token = token[:i]
	}
	if code, ok := faultsByName[strings.ToUpper(strings.TrimSpace(token))]; ok {
		return code
	}
	return FaultUnrecognized
}

// faultOf extracts a supervisord fault from an error chain
func faultOf(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ConnectionReason says why a service could not be reached
type ConnectionReason int

const (
	// ReasonUnreachable covers transport, protocol and OS socket failures
	ReasonUnreachable ConnectionReason = iota
	// ReasonMissing means the socket file does not exist
	ReasonMissing
	// ReasonUnresponsive means supervisord answered the probe with a fault
	// or did not answer before the deadline
	ReasonUnresponsive
)

// String returns the string representation of a ConnectionReason
func (r ConnectionReason) String() string {
	switch r {
	case ReasonMissing:
		return "missing"
	case ReasonUnresponsive:
		return "unresponsive"
	default:
		return "unreachable"
	}
}

// ConnectionError reports a service whose supervisord is missing,
// unreachable or unresponsive. It is always safe for a caller to retry.
type ConnectionError struct {
	// Service is the service name
	Service string
	// Reason classifies the failure
	Reason ConnectionReason
	// Err is the underlying cause
	Err error
}

// Error returns a formatted error message
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("svctl connect %q (%s): %v", e.Service, e.Reason, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SupervisorError reports an operation supervisord rejected for a reason
// other than "already in the desired state".
type SupervisorError struct {
	// Service is the service name
	Service string
	// Process is the process the call targeted, if any
	Process string
	// Action is the lifecycle action in progress
	Action Action
	// Code is the recognized fault
	Code FaultCode
	// Err is the underlying fault or failure
	Err error
}

// Error returns a formatted error message
func (e *SupervisorError) Error() string {
	if e.Process != "" {
		return fmt.Sprintf("svctl %s %q process %q: %v", e.Action, e.Service, e.Process, e.Err)
	}
	return fmt.Sprintf("svctl %s %q: %v", e.Action, e.Service, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *SupervisorError) Unwrap() error {
	return e.Err
}

// OperationFailedError reports a restart aborted because its stop phase
// could not stop every process. The start phase was not attempted.
type OperationFailedError struct {
	// Service is the service name
	Service string
	// Failed lists the processes the stop phase could not stop
	Failed []string
	// Err is the stop phase error, if it returned one
	Err error
}

// Error returns a formatted error message
func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("svctl restart %q: %v: %s", e.Service, ErrStopPhaseFailed, strings.Join(e.Failed, ", "))
}

// Unwrap exposes both the sentinel and the stop phase cause
func (e *OperationFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStopPhaseFailed}
	}
	return []error{ErrStopPhaseFailed, e.Err}
}

// MultiError aggregates multiple errors from bulk operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	msgs := make([]string, 0, len(m.Errors))
	for _, err := range m.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d errors occurred: %s", len(m.Errors), strings.Join(msgs, "; "))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Unwrap lets errors.Is and errors.As see every collected error
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Err returns nil if no errors occurred, the single error if exactly one
// occurred, otherwise the MultiError itself
func (m *MultiError) Err() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}

// supervisorError wraps a fault-bearing error for one process. Errors that
// carry no fault are returned unchanged so transport failures keep their
// identity.
func supervisorError(err error, service, process string, action Action) error {
	f, ok := faultOf(err)
	if !ok {
		return err
	}
	return &SupervisorError{
		Service: service,
		Process: process,
		Action:  action,
		Code:    f.FaultCode(),
		Err:     err,
	}
}
