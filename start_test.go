package svctl

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAlreadyRunning(t *testing.T) {
	sup := newFakeSupervisor(
		proc("gunicorn", "web", StateRunning),
		proc("scheduler", "web", StateStopped),
	)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"web": sup}).controller()

	res, err := ctl.Execute(context.Background(), "web", StartCommand{Wait: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"scheduler"}, res.Start.Started)
	assert.Equal(t, []string{"gunicorn"}, res.Start.AlreadyRunning)
	assert.NotContains(t, res.Start.Started, "gunicorn")
	assert.Empty(t, res.Start.Failed)
	assert.Equal(t, []string{"startProcess web:gunicorn true", "startProcess web:scheduler true"}, sup.Calls())
}

func TestStartDropsUnknownNames(t *testing.T) {
	sup := newFakeSupervisor(proc("web", "", StateStopped), proc("other", "", StateStopped))
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StartCommand{Processes: []string{"ghost", "web", "web"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"web"}, res.Start.Started)
	assert.Empty(t, res.Start.AlreadyRunning)
	assert.Empty(t, res.Start.Failed)
	assert.Equal(t, []string{"startProcess web false"}, sup.Calls())
}

func TestStartFailuresAreReported(t *testing.T) {
	spawn := proc("broken", "", StateStopped)
	spawn.startFault = &Fault{Code: int(FaultSpawnError), String: "SPAWN_ERROR: broken"}
	abnormal := proc("crashy", "", StateStopped)
	abnormal.startFault = &Fault{Code: 0, String: "ABNORMAL_TERMINATION: crashy"}

	sup := newFakeSupervisor(spawn, proc("fine", "", StateStopped), abnormal)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller()

	res, err := ctl.Execute(context.Background(), "svc", StartCommand{})
	require.Error(t, err)

	assert.Equal(t, []string{"fine"}, res.Start.Started, "start is best-effort across processes")
	assert.Equal(t, []string{"broken", "crashy"}, res.Start.Failed)

	var merr *MultiError
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 2)

	var codes []FaultCode
	for _, e := range merr.Errors {
		var se *SupervisorError
		require.ErrorAs(t, e, &se)
		codes = append(codes, se.Code)
	}
	assert.Equal(t, []FaultCode{FaultSpawnError, FaultAbnormalTermination}, codes)
}

func TestStartFailureLogLevels(t *testing.T) {
	spawn := proc("broken", "", StateStopped)
	spawn.startFault = &Fault{Code: int(FaultSpawnError), String: "SPAWN_ERROR: broken"}
	refused := proc("refused", "", StateStopped)
	refused.startFault = &Fault{Code: int(FaultNotExecutable), String: "NOT_EXECUTABLE: refused"}

	logger, hook := logtest.NewNullLogger()
	sup := newFakeSupervisor(spawn, refused)
	ctl := newFakeFleet(t, map[string]*fakeSupervisor{"svc": sup}).controller(WithLogger(logger))

	_, err := ctl.Execute(context.Background(), "svc", StartCommand{})
	require.Error(t, err)

	levels := map[string]logrus.Level{}
	for _, e := range hook.AllEntries() {
		if name, ok := e.Data["process"].(string); ok && e.Data["fault"] != nil {
			levels[name] = e.Level
		}
	}
	assert.Equal(t, logrus.ErrorLevel, levels["broken"])
	assert.Equal(t, logrus.WarnLevel, levels["refused"])
}
