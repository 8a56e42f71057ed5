package svctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
)

// Controller runs lifecycle commands against the supervisord instance of a
// single service. It holds no per-service state and is safe for concurrent
// use; every Execute call opens its own handle.
type Controller struct {
	resolver *Resolver
	dial     Dialer
	logger   logrus.FieldLogger

	dialTimeout      time.Duration
	callTimeout      time.Duration
	pollInterval     time.Duration
	killSettle       time.Duration
	workerTermSettle time.Duration

	dialSet bool
}

// Option configures a Controller
type Option func(*Controller)

// WithSocketDir sets the socket directory, overriding $SUPERVISOR_SOCKET_DIR
func WithSocketDir(dir string) Option {
	return func(c *Controller) {
		c.resolver = NewResolver(dir)
	}
}

// WithDialer replaces the XML-RPC dialer
func WithDialer(d Dialer) Option {
	return func(c *Controller) {
		c.dial = d
		c.dialSet = true
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithDialTimeout bounds connecting and the liveness probe
func WithDialTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.dialTimeout = d
	}
}

// WithCallTimeout bounds every remote call after the probe
func WithCallTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.callTimeout = d
	}
}

// WithPollInterval sets the delay between state checks during a forced stop
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.pollInterval = d
	}
}

// WithKillSettle sets the delay between SIGKILL and the verification read
func WithKillSettle(d time.Duration) Option {
	return func(c *Controller) {
		c.killSettle = d
	}
}

// WithWorkerTermSettle sets the delay after the extra TERM sent to a worker
// that outlived its force-kill timeout
func WithWorkerTermSettle(d time.Duration) Option {
	return func(c *Controller) {
		c.workerTermSettle = d
	}
}

// New creates a Controller with default settings
func New(opts ...Option) *Controller {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Controller{
		resolver:         NewResolver(""),
		logger:           discard,
		dialTimeout:      DefaultDialTimeout,
		callTimeout:      DefaultCallTimeout,
		pollInterval:     DefaultPollInterval,
		killSettle:       DefaultKillSettle,
		workerTermSettle: DefaultWorkerTermSettle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.dialSet {
		c.dial = UnixDialer(c.dialTimeout, c.callTimeout)
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	return c
}

// Resolver returns the resolver used to locate sockets
func (c *Controller) Resolver() *Resolver {
	return c.resolver
}

// Command is one lifecycle request. The set of commands is closed; the
// concrete types are StopCommand, StartCommand, RestartCommand,
// SignalCommand, SignalWorkersCommand and InfoCommand.
type Command interface {
	Action() Action
	validate() error
}

// StopCommand stops processes
type StopCommand struct {
	// Processes limits the stop to these names. Empty means every process.
	Processes []string
	// Wait makes supervisord block until each process has stopped
	Wait bool
	// ForceKillTimeout enables escalation when a process outlives it
	ForceKillTimeout time.Duration
	// WaitWorkers overrides Wait for worker processes. False detaches
	// workers entirely; nil falls back to Wait.
	WaitWorkers *bool
}

// StartCommand starts processes
type StartCommand struct {
	// Processes limits the start to these names. Empty means every
	// process defined in the supervisord configuration.
	Processes []string
	// Wait makes supervisord block until each process is running
	Wait bool
}

// RestartCommand stops every process and then starts every process
type RestartCommand struct {
	Wait             bool
	WaitWorkers      *bool
	ForceKillTimeout time.Duration
}

// SignalCommand sends a signal to named processes
type SignalCommand struct {
	Processes []string
	// Signal is a name such as "HUP" or a number such as "34"
	Signal string
}

// SignalWorkersCommand signals every running worker. A zero Signal sends
// SignalWorkerGracefulExit.
type SignalWorkersCommand struct {
	Signal int
}

// InfoCommand reads process information
type InfoCommand struct{}

func (StopCommand) Action() Action          { return ActionStop }
func (StartCommand) Action() Action         { return ActionStart }
func (RestartCommand) Action() Action       { return ActionRestart }
func (SignalCommand) Action() Action        { return ActionSignal }
func (SignalWorkersCommand) Action() Action { return ActionSignalWorkers }
func (InfoCommand) Action() Action          { return ActionInfo }

func (c StopCommand) validate() error {
	if c.ForceKillTimeout < 0 {
		return fmt.Errorf("%w: negative force-kill timeout %s", ErrInvalidCommand, c.ForceKillTimeout)
	}
	return nil
}

func (StartCommand) validate() error { return nil }

func (c RestartCommand) validate() error {
	if c.ForceKillTimeout < 0 {
		return fmt.Errorf("%w: negative force-kill timeout %s", ErrInvalidCommand, c.ForceKillTimeout)
	}
	return nil
}

func (c SignalCommand) validate() error {
	if len(c.Processes) == 0 {
		return fmt.Errorf("%w: signal requires process names", ErrInvalidCommand)
	}
	return ValidateSignal(c.Signal)
}

func (c SignalWorkersCommand) validate() error {
	if c.Signal < 0 {
		return fmt.Errorf("%w: signal %d", ErrInvalidCommand, c.Signal)
	}
	return nil
}

func (InfoCommand) validate() error { return nil }

// ValidateSignal checks a signal identifier. supervisord accepts names with
// or without the SIG prefix and bare numbers; anything that is not purely
// alphanumeric is rejected before it reaches the wire.
func ValidateSignal(sig string) error {
	if sig == "" {
		return fmt.Errorf("%w: signal is required", ErrInvalidCommand)
	}
	for _, r := range sig {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return fmt.Errorf("%w: malformed signal %q", ErrInvalidCommand, sig)
		}
	}
	return nil
}

// StopResult partitions the targeted names of a stop
type StopResult struct {
	Stopped        []string `json:"stopped"`
	AlreadyStopped []string `json:"already_stopped"`
	Failed         []string `json:"failed"`
}

// StartResult partitions the targeted names of a start
type StartResult struct {
	Started        []string `json:"started"`
	AlreadyRunning []string `json:"already_running"`
	Failed         []string `json:"failed"`
}

func newStopResult() *StopResult {
	return &StopResult{Stopped: []string{}, AlreadyStopped: []string{}, Failed: []string{}}
}

func newStartResult() *StartResult {
	return &StartResult{Started: []string{}, AlreadyRunning: []string{}, Failed: []string{}}
}

// Result is the outcome of one command against one service. Which fields
// are set depends on Action.
type Result struct {
	Service string `json:"service"`
	Action  Action `json:"action"`

	// Stop is set by stop and restart
	Stop *StopResult `json:"stop,omitempty"`
	// Start is set by start and by a restart that reached its start phase
	Start *StartResult `json:"start,omitempty"`
	// OK is the overall verdict of restart and signal
	OK bool `json:"ok"`
	// Signaled lists the workers signal-workers reached
	Signaled []string `json:"signaled,omitempty"`
	// Processes is the snapshot read by info
	Processes []Process `json:"processes,omitempty"`

	// Err is the error the command ended with, if any
	Err error `json:"-"`
}

// Failed reports whether the command ended with an error
func (r Result) Failed() bool {
	return r.Err != nil
}

// Execute validates the command, validates the connection and then runs the
// command's handler. Typed errors propagate; raw faults become
// *SupervisorError and any other failure becomes *ConnectionError. The
// returned Result holds whatever was accomplished even when err is set.
func (c *Controller) Execute(ctx context.Context, service string, cmd Command) (Result, error) {
	if cmd == nil {
		err := fmt.Errorf("%w: nil command", ErrInvalidCommand)
		return Result{Service: service, Err: err}, err
	}
	res := Result{Service: service, Action: cmd.Action()}
	if err := cmd.validate(); err != nil {
		res.Err = err
		return res, err
	}

	sup, err := c.Connect(ctx, service)
	if err != nil {
		res.Err = err
		return res, err
	}
	defer func() { _ = sup.Close() }()

	h := &handler{
		c:       c,
		sup:     sup,
		service: service,
		log: c.logger.WithFields(logrus.Fields{
			"service": service,
			"action":  res.Action.String(),
		}),
	}

	switch cmd := cmd.(type) {
	case StopCommand:
		res.Stop, err = h.stop(ctx, cmd)
	case StartCommand:
		res.Start, err = h.start(ctx, cmd)
	case RestartCommand:
		res.Stop, res.Start, err = h.restart(ctx, cmd)
		res.OK = err == nil
	case SignalCommand:
		res.OK, err = h.signal(ctx, cmd)
	case SignalWorkersCommand:
		res.Signaled, err = h.signalWorkers(ctx, cmd)
	case InfoCommand:
		res.Processes, err = h.info(ctx)
	default:
		err = fmt.Errorf("%w: %T", ErrInvalidCommand, cmd)
	}

	if err != nil {
		err = normalizeError(service, res.Action, err)
		res.Err = err
		h.log.WithError(err).Warn("command failed")
	}
	return res, err
}

// normalizeError maps a handler error onto the public taxonomy
func normalizeError(service string, action Action, err error) error {
	var (
		ce *ConnectionError
		se *SupervisorError
		oe *OperationFailedError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &oe), errors.As(err, &se):
		return err
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, context.Canceled):
		return err
	}
	if code, ok := remoteFault(err); ok {
		return &SupervisorError{Service: service, Action: action, Code: code, Err: err}
	}
	return connectionError(service, err)
}

// handler runs one command over one open handle
type handler struct {
	c       *Controller
	sup     Supervisor
	service string
	log     logrus.FieldLogger
}

// snapshot reads the full process list
func (h *handler) snapshot(ctx context.Context) (Snapshot, error) {
	infos, err := h.sup.GetAllProcessInfo(ctx)
	if err != nil {
		return nil, err
	}
	return newSnapshot(infos), nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
