package svctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal(t *testing.T) {
	gone := proc("gone", "", StateRunning)
	gone.signalFault = &Fault{Code: int(FaultBadName), String: "BAD_NAME: gone"}

	sup := newFakeSupervisor(
		proc("web", "web", StateRunning),
		proc("idle", "", StateStopped),
		gone,
	)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", SignalCommand{
		Processes: []string{"web", "idle", "gone", "ghost"},
		Signal:    "HUP",
	})
	require.NoError(t, err)
	assert.True(t, res.OK, "gone processes count as signaled")
	assert.Equal(t, []string{
		"signalProcess web:web HUP",
		"signalProcess idle HUP",
		"signalProcess gone HUP",
	}, sup.Calls())
}

func TestSignalFailure(t *testing.T) {
	bad := proc("bad", "", StateRunning)
	bad.signalFault = &Fault{Code: int(FaultBadSignal), String: "BAD_SIGNAL: FOO"}
	sup := newFakeSupervisor(bad, proc("ok", "", StateRunning))
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", SignalCommand{Processes: []string{"bad", "ok"}, Signal: "USR1"})
	var se *SupervisorError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, FaultBadSignal, se.Code)
	assert.False(t, res.OK)
	assert.Contains(t, sup.Calls(), "signalProcess ok USR1")
}

func TestSignalWorkers(t *testing.T) {
	broken := proc("worker-broken", "q", StateRunning)
	broken.signalFault = &Fault{Code: int(FaultFailed), String: "FAILED: nope"}

	sup := newFakeSupervisor(
		proc("web", "web", StateRunning),
		proc("worker-short", "q", StateRunning),
		proc("worker-long", "q", StateStopped),
		broken,
		proc("default_worker", "q", StateStarting),
	)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", SignalWorkersCommand{})
	require.NoError(t, err, "per-worker failures are skipped")

	assert.Equal(t, []string{"worker-short", "default_worker"}, res.Signaled)
	assert.Equal(t, []string{
		"signalProcess q:worker-short 34",
		"signalProcess q:worker-broken 34",
		"signalProcess q:default_worker 34",
	}, sup.Calls())
}

func TestSignalWorkersNone(t *testing.T) {
	sup := newFakeSupervisor(proc("web", "", StateRunning), proc("scheduler", "", StateRunning))
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", SignalWorkersCommand{})
	require.NoError(t, err)
	assert.NotNil(t, res.Signaled)
	assert.Empty(t, res.Signaled)
	assert.Empty(t, sup.Calls())
}

func TestInfo(t *testing.T) {
	sup := newFakeSupervisor(proc("web", "web", StateRunning), proc("rq-worker", "web", StateStopped))
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", InfoCommand{})
	require.NoError(t, err)
	require.Len(t, res.Processes, 2)

	assert.Equal(t, "web", res.Processes[0].Name)
	assert.False(t, res.Processes[0].IsWorker)
	assert.True(t, res.Processes[1].IsWorker)
	assert.Equal(t, StateStopped, res.Processes[1].State)
	assert.Empty(t, sup.Calls(), "info is read-only")
}
