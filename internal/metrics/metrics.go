// Package metrics exports fan-out results as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/axondata/go-svctl"
)

const namespace = "svctl"

// Recorder implements svctl.Recorder on a set of Prometheus collectors
type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	processes  *prometheus.CounterVec
	signaled   *prometheus.CounterVec
}

// New creates the collectors. They are not registered.
func New() *Recorder {
	return &Recorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "operations_total",
				Help:      "Lifecycle operations per service by outcome.",
			}, []string{"service", "action", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "operation_duration_seconds",
				Help:      "Wall time of one lifecycle operation against one service.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"},
		),
		processes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "results_total",
				Help:      "Processes by stop or start bucket.",
			}, []string{"service", "action", "bucket"},
		),
		signaled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "signaled_total",
				Help:      "Workers sent the graceful exit signal.",
			}, []string{"service"},
		),
	}
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{r.operations, r.duration, r.processes, r.signaled}
}

// Register registers the collectors. Collectors that are already registered
// are kept.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Record implements svctl.Recorder
func (r *Recorder) Record(_ context.Context, res svctl.Result, elapsed time.Duration) {
	action := res.Action.String()
	r.operations.WithLabelValues(res.Service, action, outcome(res.Err)).Inc()
	r.duration.WithLabelValues(action).Observe(elapsed.Seconds())

	if s := res.Stop; s != nil {
		r.addBucket(res.Service, action, "stopped", len(s.Stopped))
		r.addBucket(res.Service, action, "already_stopped", len(s.AlreadyStopped))
		r.addBucket(res.Service, action, "stop_failed", len(s.Failed))
	}
	if s := res.Start; s != nil {
		r.addBucket(res.Service, action, "started", len(s.Started))
		r.addBucket(res.Service, action, "already_running", len(s.AlreadyRunning))
		r.addBucket(res.Service, action, "start_failed", len(s.Failed))
	}
	if n := len(res.Signaled); n > 0 {
		r.signaled.WithLabelValues(res.Service).Add(float64(n))
	}
}

func (r *Recorder) addBucket(service, action, bucket string, n int) {
	if n > 0 {
		r.processes.WithLabelValues(service, action, bucket).Add(float64(n))
	}
}

// outcome labels an error by its place in the error taxonomy
func outcome(err error) string {
	var (
		ce *svctl.ConnectionError
		se *svctl.SupervisorError
		oe *svctl.OperationFailedError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &oe):
		return "stop_phase_failed"
	case errors.As(err, &ce):
		return "connection_" + ce.Reason.String()
	case errors.As(err, &se):
		return "fault"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Push sends everything gathered by g to a Pushgateway under job. CLI runs
// are too short-lived to be scraped.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(g).PushContext(ctx)
}
