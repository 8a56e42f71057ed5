package svctl

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Recorder observes every per-service result of a fan-out. Implementations
// are called concurrently from the fan-out goroutines.
type Recorder interface {
	Record(ctx context.Context, res Result, elapsed time.Duration)
}

// Manager runs one command across many services concurrently. One service's
// failure never prevents the others from completing or being reported.
type Manager struct {
	// Concurrency caps the number of services handled at once. Zero means
	// min(NumCPU, number of services).
	Concurrency int
	// Timeout bounds each service's operation. Zero means no bound beyond
	// the caller's context.
	Timeout time.Duration

	ctl       *Controller
	recorders []Recorder
	progress  func(Result)
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithConcurrency sets the maximum number of concurrent operations
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		m.Concurrency = n
	}
}

// WithTimeout sets the per-service timeout
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.Timeout = d
	}
}

// WithRecorder adds a recorder that sees every result
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorders = append(m.recorders, r)
		}
	}
}

// WithProgress registers a callback invoked from the collecting goroutine
// as each service completes
func WithProgress(fn func(Result)) ManagerOption {
	return func(m *Manager) {
		m.progress = fn
	}
}

// NewManager creates a Manager that executes commands through ctl
func NewManager(ctl *Controller, opts ...ManagerOption) *Manager {
	if ctl == nil {
		ctl = New()
	}
	m := &Manager{ctl: ctl}
	for _, opt := range opts {
		opt(m)
	}
	if m.Concurrency < 0 {
		m.Concurrency = 0
	}
	return m
}

// Parallelism returns the number of workers used for n services
func (m *Manager) Parallelism(n int) int {
	if n <= 0 {
		return 0
	}
	if m.Concurrency > 0 {
		return min(m.Concurrency, n)
	}
	return min(max(1, runtime.NumCPU()), n)
}

// Run executes cmd against every service and aggregates the outcome.
// Results are collected in completion order.
func (m *Manager) Run(ctx context.Context, services []string, cmd Command) *Summary {
	sum := &Summary{Results: make([]Result, 0, len(services))}
	if cmd != nil {
		sum.Action = cmd.Action()
	}
	began := time.Now()
	if len(services) == 0 {
		return sum
	}

	// Semaphore for concurrency control
	sem := make(chan struct{}, m.Parallelism(len(services)))
	results := make(chan Result, len(services))

	var wg sync.WaitGroup
	for _, service := range services {
		wg.Add(1)
		go func(svc string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- failureResult(svc, cmd, ctx.Err())
				return
			}

			results <- m.runOne(ctx, svc, cmd)
		}(service)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		sum.add(res)
		if m.progress != nil {
			m.progress(res)
		}
	}
	sum.Elapsed = time.Since(began)
	return sum
}

// runOne executes the command for one service and never panics
func (m *Manager) runOne(ctx context.Context, service string, cmd Command) (res Result) {
	opCtx := ctx
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = failureResult(service, cmd, fmt.Errorf("svctl: panic handling %q: %v", service, r))
		}
		elapsed := time.Since(began)
		m.log(res, elapsed)
		for _, rec := range m.recorders {
			rec.Record(ctx, res, elapsed)
		}
	}()

	res, err := m.ctl.Execute(opCtx, service, cmd)
	if err != nil {
		res = failureShape(res, cmd)
	}
	return res
}

func (m *Manager) log(res Result, elapsed time.Duration) {
	entry := m.ctl.logger.WithFields(logrus.Fields{
		"service": res.Service,
		"action":  res.Action.String(),
		"elapsed": elapsed.Round(time.Millisecond),
	})
	if res.Err != nil {
		entry.WithError(res.Err).Error("service failed")
		return
	}
	entry.Info("service done")
}

// failureResult synthesizes the result of a service that never ran
func failureResult(service string, cmd Command, err error) Result {
	res := Result{Service: service, Err: err}
	if cmd != nil {
		res.Action = cmd.Action()
	}
	return failureShape(res, cmd)
}

// failureShape makes sure a failed stop or start result still carries its
// buckets, with the requested names marked failed when nothing else was
// recorded
func failureShape(res Result, cmd Command) Result {
	switch cmd := cmd.(type) {
	case StopCommand:
		if res.Stop == nil {
			res.Stop = newStopResult()
			res.Stop.Failed = append(res.Stop.Failed, cmd.Processes...)
		}
	case StartCommand:
		if res.Start == nil {
			res.Start = newStartResult()
			res.Start.Failed = append(res.Start.Failed, cmd.Processes...)
		}
	case RestartCommand:
		if res.Stop == nil {
			res.Stop = newStopResult()
		}
	}
	res.OK = false
	return res
}

// StopTotals sums stop buckets across services
type StopTotals struct {
	Stopped        int `json:"stopped"`
	AlreadyStopped int `json:"already_stopped"`
	Failed         int `json:"failed"`
}

// StartTotals sums start buckets across services
type StartTotals struct {
	Started        int `json:"started"`
	AlreadyRunning int `json:"already_running"`
	Failed         int `json:"failed"`
}

// Summary aggregates a fan-out
type Summary struct {
	Action    Action        `json:"action"`
	Results   []Result      `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Stop      StopTotals    `json:"stop"`
	Start     StartTotals   `json:"start"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

func (s *Summary) add(res Result) {
	s.Results = append(s.Results, res)
	if res.Err != nil {
		s.Failed++
	} else {
		s.Succeeded++
	}
	if res.Stop != nil {
		s.Stop.Stopped += len(res.Stop.Stopped)
		s.Stop.AlreadyStopped += len(res.Stop.AlreadyStopped)
		s.Stop.Failed += len(res.Stop.Failed)
	}
	if res.Start != nil {
		s.Start.Started += len(res.Start.Started)
		s.Start.AlreadyRunning += len(res.Start.AlreadyRunning)
		s.Start.Failed += len(res.Start.Failed)
	}
}

// Sorted returns the results ordered by service name
func (s *Summary) Sorted() []Result {
	out := make([]Result, len(s.Results))
	copy(out, s.Results)
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Lookup returns the result for a service
func (s *Summary) Lookup(service string) (Result, bool) {
	for _, r := range s.Results {
		if r.Service == service {
			return r, true
		}
	}
	return Result{}, false
}

// Err returns the per-service errors, or nil when every service succeeded
func (s *Summary) Err() error {
	merr := &MultiError{}
	for _, r := range s.Sorted() {
		merr.Add(r.Err)
	}
	return merr.Err()
}
