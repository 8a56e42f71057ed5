// Package suspend coordinates RQ job queue suspension with restarts. The
// suspension flag is a rendezvous point: workers outside this process read
// it between jobs and move to the suspended state.
package suspend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNotPersisted means the flag was written but could not be read back
	ErrNotPersisted = errors.New("suspend: suspension flag not persisted")

	// ErrNoRedisURL means no Redis URL was configured
	ErrNoRedisURL = errors.New("suspend: no redis url configured")
)

// WorkerState is the state an RQ worker reports in its registry hash
type WorkerState string

const (
	StateIdle      WorkerState = "idle"
	StateBusy      WorkerState = "busy"
	StateSuspended WorkerState = "suspended"
	StateStarted   WorkerState = "started"
)

// Worker is one registered queue worker
type Worker struct {
	Name   string
	State  WorkerState
	Queues []string
}

// Store is the shared state the coordinator reads and writes
type Store interface {
	SetSuspended(ctx context.Context) error
	ClearSuspended(ctx context.Context) (bool, error)
	IsSuspended(ctx context.Context) (bool, error)
	Workers(ctx context.Context) ([]Worker, error)
	EnqueueNoop(ctx context.Context, queue string) (string, error)
}

// WaitTimeoutError reports workers that did not suspend in time
type WaitTimeoutError struct {
	Timeout time.Duration
	Pending []string
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("suspend: %d worker(s) not suspended after %s: %s",
		len(e.Pending), e.Timeout, strings.Join(e.Pending, ", "))
}

// Observer is told the pending workers after every check of the wait loop
type Observer func(pending []Worker, elapsed time.Duration)

// Coordinator suspends and resumes the queue
type Coordinator struct {
	store    Store
	logger   logrus.FieldLogger
	observer Observer
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithObserver registers a callback for wait loop progress
func WithObserver(fn Observer) Option {
	return func(c *Coordinator) {
		c.observer = fn
	}
}

// NewCoordinator creates a Coordinator over store
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Coordinator{store: store, logger: discard}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Suspend sets the flag and reads it back. A store that accepts the write
// but does not keep it yields ErrNotPersisted.
func (c *Coordinator) Suspend(ctx context.Context) error {
	if err := c.store.SetSuspended(ctx); err != nil {
		return fmt.Errorf("set suspension flag: %w", err)
	}
	ok, err := c.store.IsSuspended(ctx)
	if err != nil {
		return fmt.Errorf("verify suspension flag: %w", err)
	}
	if !ok {
		return ErrNotPersisted
	}
	c.logger.Info("queue suspension flag set")
	return nil
}

// Resume clears the flag. It reports whether a flag was present; absence is
// not an error.
func (c *Coordinator) Resume(ctx context.Context) (bool, error) {
	removed, err := c.store.ClearSuspended(ctx)
	if err != nil {
		return false, fmt.Errorf("clear suspension flag: %w", err)
	}
	if removed {
		c.logger.Info("queue suspension flag removed")
	} else {
		c.logger.Debug("queue suspension flag was not set")
	}
	return removed, nil
}

// IsSuspended reports whether the flag is set
func (c *Coordinator) IsSuspended(ctx context.Context) (bool, error) {
	return c.store.IsSuspended(ctx)
}

// WaitUntilSuspended polls the worker registry until every worker reports
// suspended. No registered workers is success. Workers that are neither
// busy nor suspended get a no-op job at the front of their first queue so
// they wake up and notice the flag. The loop gives up after timeout with a
// *WaitTimeoutError naming the pending workers.
func (c *Coordinator) WaitUntilSuspended(ctx context.Context, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Second
	}
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		workers, err := c.store.Workers(ctx)
		if err != nil {
			return err
		}

		var pending []Worker
		for _, w := range workers {
			if w.State != StateSuspended {
				pending = append(pending, w)
			}
		}
		if len(pending) == 0 {
			if len(workers) == 0 {
				c.logger.Info("no queue workers registered")
			} else {
				c.logger.WithField("workers", len(workers)).Info("all queue workers suspended")
			}
			return nil
		}

		c.nudge(ctx, pending)
		if c.observer != nil {
			c.observer(pending, time.Since(start))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &WaitTimeoutError{Timeout: timeout, Pending: names(pending)}
		}

		t := time.NewTimer(min(poll, remaining))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// nudge wakes idle workers so they observe the flag. Failures are logged.
func (c *Coordinator) nudge(ctx context.Context, pending []Worker) {
	for _, w := range pending {
		if w.State == StateBusy || len(w.Queues) == 0 {
			continue
		}
		log := c.logger.WithFields(logrus.Fields{"worker": w.Name, "queue": w.Queues[0], "state": w.State})
		id, err := c.store.EnqueueNoop(ctx, w.Queues[0])
		if err != nil {
			log.WithError(err).Warn("enqueue noop failed")
			continue
		}
		log.WithField("job", id).Debug("enqueued noop")
	}
}

func names(workers []Worker) []string {
	out := make([]string, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Name)
	}
	return out
}
