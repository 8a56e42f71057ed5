package svctl

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bucketsCover checks the stop buckets partition exactly the wanted names
func bucketsCover(t *testing.T, res *StopResult, want []string) {
	t.Helper()
	var got []string
	seen := map[string]string{}
	for bucket, names := range map[string][]string{
		"stopped":         res.Stopped,
		"already_stopped": res.AlreadyStopped,
		"failed":          res.Failed,
	} {
		for _, n := range names {
			if prev, dup := seen[n]; dup {
				t.Errorf("%q appears in both %s and %s", n, prev, bucket)
			}
			seen[n] = bucket
			got = append(got, n)
		}
	}
	sort.Strings(got)
	want = append([]string(nil), want...)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestStopWorkerDetached(t *testing.T) {
	sup := newFakeSupervisor(
		proc("web", "web", StateRunning),
		proc("worker-long", "worker-long", StateRunning),
	)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"web": sup}).controller()

	res, err := ctl.Execute(context.Background(), "web", StopCommand{WaitWorkers: boolPtr(false)})
	require.NoError(t, err)

	assert.Equal(t, []string{"web"}, res.Stop.Stopped)
	assert.Equal(t, []string{"worker-long"}, res.Stop.AlreadyStopped)
	assert.Empty(t, res.Stop.Failed)

	for _, call := range sup.Calls() {
		assert.NotContains(t, call, "worker-long", "detached worker must not receive any call")
	}
	assert.Equal(t, StateRunning, ProcessState(sup.proc("worker-long").info.State))
}

func TestStopWaitPolicy(t *testing.T) {
	tests := []struct {
		name        string
		wait        bool
		waitWorkers *bool
		wantWeb     string
		wantWorker  string
	}{
		{"unset follows wait", true, nil, "stopProcess web:web true", "stopProcess q:q_worker_1 true"},
		{"unset follows no-wait", false, nil, "stopProcess web:web false", "stopProcess q:q_worker_1 false"},
		{"workers wait regardless", false, boolPtr(true), "stopProcess web:web false", "stopProcess q:q_worker_1 true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := newFakeSupervisor(
				proc("web", "web", StateRunning),
				proc("q_worker_1", "q", StateRunning),
			)
			ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

			res, err := ctl.Execute(context.Background(), "svc", StopCommand{Wait: tt.wait, WaitWorkers: tt.waitWorkers})
			require.NoError(t, err)
			assert.Equal(t, []string{"web", "q_worker_1"}, res.Stop.Stopped)
			assert.Equal(t, []string{tt.wantWeb, tt.wantWorker}, sup.Calls())
		})
	}
}

func TestStopAlreadyStoppedStates(t *testing.T) {
	sup := newFakeSupervisor(
		proc("a", "", StateStopped),
		proc("b", "", StateExited),
		proc("c", "", StateFatal),
		proc("d", "", StateUnknown),
		proc("e", "", StateBackoff),
	)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StopCommand{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, res.Stop.AlreadyStopped)
	assert.Equal(t, []string{"e"}, res.Stop.Stopped)
	assert.Equal(t, []string{"stopProcess e false"}, sup.Calls())
}

func TestStopGoneFaultsAreSuccess(t *testing.T) {
	racing := proc("racing", "", StateRunning)
	racing.stopFault = &Fault{Code: int(FaultNotRunning), String: "NOT_RUNNING: racing"}
	vanished := proc("vanished", "", StateRunning)
	vanished.stopFault = &Fault{Code: int(FaultBadName), String: "BAD_NAME: vanished"}

	sup := newFakeSupervisor(racing, vanished)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StopCommand{})
	require.NoError(t, err)
	assert.Equal(t, []string{"racing", "vanished"}, res.Stop.Stopped)
	assert.Empty(t, res.Stop.Failed)
}

func TestStopRequestedSubset(t *testing.T) {
	sup := newFakeSupervisor(
		proc("web", "", StateRunning),
		proc("scheduler", "", StateRunning),
	)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	targets := []string{"scheduler", "ghost"}
	res, err := ctl.Execute(context.Background(), "svc", StopCommand{Processes: targets})
	require.NoError(t, err)

	bucketsCover(t, res.Stop, targets)
	assert.Equal(t, []string{"scheduler"}, res.Stop.Stopped)
	assert.Equal(t, []string{"ghost"}, res.Stop.AlreadyStopped)
	assert.Equal(t, StateRunning, ProcessState(sup.proc("web").info.State), "untargeted process untouched")
}

func TestStopRepeatedNames(t *testing.T) {
	sup := newFakeSupervisor(
		proc("web", "", StateRunning),
		proc("scheduler", "", StateStopped),
	)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StopCommand{
		Processes: []string{"web", "scheduler", "web", "ghost", "scheduler", "ghost"},
	})
	require.NoError(t, err)

	bucketsCover(t, res.Stop, []string{"web", "scheduler", "ghost"})
	assert.Equal(t, []string{"web"}, res.Stop.Stopped)
	assert.Equal(t, []string{"scheduler", "ghost"}, res.Stop.AlreadyStopped)
	assert.Equal(t, []string{"stopProcess web false"}, sup.Calls())
}

func TestStopFaultsContinueLoop(t *testing.T) {
	bad := proc("bad", "", StateRunning)
	bad.stopFault = &Fault{Code: int(FaultFailed), String: "FAILED: could not stop"}

	sup := newFakeSupervisor(
		proc("first", "", StateRunning),
		bad,
		proc("last", "", StateRunning),
	)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StopCommand{})
	require.Error(t, err)

	var se *SupervisorError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, FaultFailed, se.Code)
	assert.Equal(t, "bad", se.Process)

	assert.Equal(t, []string{"first", "last"}, res.Stop.Stopped)
	assert.Equal(t, []string{"bad"}, res.Stop.Failed)
	bucketsCover(t, res.Stop, []string{"first", "bad", "last"})
}

func TestStopTransportFailureAborts(t *testing.T) {
	sup := newFakeSupervisor(
		proc("first", "", StateRunning),
		proc("second", "", StateRunning),
		proc("third", "", StateRunning),
	)
	sup.failOn["stopProcess second"] = errors.New("read: connection reset by peer")
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StopCommand{})
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "svc", ce.Service)

	assert.Equal(t, []string{"first"}, res.Stop.Stopped)
	assert.Equal(t, []string{"second", "third"}, res.Stop.Failed)
	bucketsCover(t, res.Stop, []string{"first", "second", "third"})
}

func TestStopShutdownFaultIsConnectionError(t *testing.T) {
	p := proc("web", "", StateRunning)
	p.stopFault = &Fault{Code: int(FaultShutdownState), String: "SHUTDOWN_STATE"}
	sup := newFakeSupervisor(p)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StopCommand{})
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonUnresponsive, ce.Reason)
	assert.Equal(t, []string{"web"}, res.Stop.Failed)
}

func TestStopForceKill(t *testing.T) {
	t.Run("non-worker killed", func(t *testing.T) {
		web := proc("web", "web", StateRunning)
		web.stubborn = true
		sup := newFakeSupervisor(web)
		ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

		res, err := ctl.Execute(context.Background(), "svc", StopCommand{ForceKillTimeout: 5 * time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, []string{"web"}, res.Stop.Stopped)
		assert.Contains(t, sup.Calls(), "signalProcess web:web KILL")
	})

	t.Run("non-worker survives kill", func(t *testing.T) {
		web := proc("web", "", StateRunning)
		web.stubborn = true
		web.unkillable = true
		sup := newFakeSupervisor(web)
		ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

		res, err := ctl.Execute(context.Background(), "svc", StopCommand{ForceKillTimeout: 5 * time.Millisecond})
		var se *SupervisorError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, FaultStillRunning, se.Code)
		assert.Equal(t, []string{"web"}, res.Stop.Failed)
	})

	t.Run("worker gets TERM not KILL", func(t *testing.T) {
		w := proc("rq-worker", "", StateRunning)
		w.stubborn = true
		sup := newFakeSupervisor(w)
		ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

		res, err := ctl.Execute(context.Background(), "svc", StopCommand{ForceKillTimeout: 5 * time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, []string{"rq-worker"}, res.Stop.Stopped, "worker is treated as resolved after TERM")
		assert.Contains(t, sup.Calls(), "signalProcess rq-worker TERM")
		assert.NotContains(t, sup.Calls(), "signalProcess rq-worker KILL")
	})

	t.Run("stops within timeout", func(t *testing.T) {
		sup := newFakeSupervisor(proc("web", "", StateRunning))
		ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

		res, err := ctl.Execute(context.Background(), "svc", StopCommand{ForceKillTimeout: time.Second})
		require.NoError(t, err)
		assert.Equal(t, []string{"web"}, res.Stop.Stopped)
		assert.Equal(t, []string{"stopProcess web false"}, sup.Calls())
	})
}

func TestStopSnapshotFailure(t *testing.T) {
	sup := newFakeSupervisor(proc("web", "", StateRunning))
	sup.listErr = &Fault{Code: int(FaultShutdownState), String: "SHUTDOWN_STATE"}
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StopCommand{Processes: []string{"web"}})
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	bucketsCover(t, res.Stop, []string{"web"})
	assert.Equal(t, []string{"web"}, res.Stop.Failed)
}
