package svctl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeProc is one process of a fakeSupervisor
type fakeProc struct {
	info ProcessInfo

	stopFault   *Fault
	startFault  *Fault
	signalFault *Fault
	// stubborn processes ignore stop requests and TERM
	stubborn bool
	// unkillable processes also survive KILL
	unkillable bool
}

// fakeSupervisor is an in-memory supervisord. It records every mutating
// call and the order they were made in.
type fakeSupervisor struct {
	mu sync.Mutex

	procs  []*fakeProc
	calls  []string
	state  DaemonState
	closed bool

	// stateErr fails the liveness probe
	stateErr error
	// listErr fails getAllProcessInfo
	listErr error
	// failOn fails a call by "method name" key with a transport error
	failOn map[string]error
}

func newFakeSupervisor(procs ...*fakeProc) *fakeSupervisor {
	return &fakeSupervisor{
		procs:  procs,
		state:  DaemonState{Code: DaemonRunning, Name: "RUNNING"},
		failOn: map[string]error{},
	}
}

func proc(name, group string, state ProcessState) *fakeProc {
	pid := 0
	if !state.IsStopped() {
		pid = 1000 + len(name)
	}
	return &fakeProc{info: ProcessInfo{
		Name:      name,
		Group:     group,
		State:     int(state),
		StateName: state.String(),
		PID:       pid,
	}}
}

func (f *fakeSupervisor) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSupervisor) find(name string) (*fakeProc, error) {
	for _, p := range f.procs {
		if p.info.Name == name || qualify(p.info.Group, p.info.Name) == name {
			return p, nil
		}
	}
	return nil, &Fault{Code: int(FaultBadName), String: "BAD_NAME: " + name}
}

func (f *fakeSupervisor) failure(method, name string) error {
	if err, ok := f.failOn[strings.TrimSpace(method+" "+name)]; ok {
		return err
	}
	return nil
}

func (p *fakeProc) setState(s ProcessState) {
	p.info.State = int(s)
	p.info.StateName = s.String()
	if s.IsStopped() {
		p.info.PID = 0
	}
}

func (p *fakeProc) stopped() bool {
	return ProcessState(p.info.State).IsStopped()
}

func (f *fakeSupervisor) GetState(context.Context) (DaemonState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.stateErr
}

func (f *fakeSupervisor) GetAllProcessInfo(context.Context) ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	infos := make([]ProcessInfo, 0, len(f.procs))
	for _, p := range f.procs {
		infos = append(infos, p.info)
	}
	return infos, nil
}

func (f *fakeSupervisor) GetProcessInfo(_ context.Context, name string) (ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("getProcessInfo", name); err != nil {
		return ProcessInfo{}, err
	}
	p, err := f.find(name)
	if err != nil {
		return ProcessInfo{}, err
	}
	return p.info, nil
}

func (f *fakeSupervisor) StartProcess(_ context.Context, name string, wait bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("startProcess %s %t", name, wait))
	if err := f.failure("startProcess", name); err != nil {
		return false, err
	}
	p, err := f.find(name)
	if err != nil {
		return false, err
	}
	if p.startFault != nil {
		return false, p.startFault
	}
	if !p.stopped() {
		return false, &Fault{Code: int(FaultAlreadyStarted), String: "ALREADY_STARTED: " + name}
	}
	p.setState(StateRunning)
	p.info.PID = 4242
	return true, nil
}

func (f *fakeSupervisor) StopProcess(_ context.Context, name string, wait bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("stopProcess %s %t", name, wait))
	if err := f.failure("stopProcess", name); err != nil {
		return false, err
	}
	p, err := f.find(name)
	if err != nil {
		return false, err
	}
	if p.stopFault != nil {
		return false, p.stopFault
	}
	if p.stopped() {
		return false, &Fault{Code: int(FaultNotRunning), String: "NOT_RUNNING: " + name}
	}
	if !p.stubborn {
		p.setState(StateStopped)
	}
	return true, nil
}

func (f *fakeSupervisor) SignalProcess(_ context.Context, name, signal string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("signalProcess %s %s", name, signal))
	if err := f.failure("signalProcess", name); err != nil {
		return false, err
	}
	p, err := f.find(name)
	if err != nil {
		return false, err
	}
	if p.signalFault != nil {
		return false, p.signalFault
	}
	if p.stopped() {
		return false, &Fault{Code: int(FaultNotRunning), String: "NOT_RUNNING: " + name}
	}
	switch signal {
	case "KILL":
		if !p.unkillable {
			p.setState(StateStopped)
		}
	case "TERM":
		if !p.stubborn {
			p.setState(StateStopped)
		}
	}
	return true, nil
}

func (f *fakeSupervisor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSupervisor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSupervisor) proc(name string) *fakeProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := f.find(name)
	return p
}

// fakeFleet maps service names to fake supervisors and backs them with
// socket files in a temp dir
type fakeFleet struct {
	dir      string
	services map[string]*fakeSupervisor
	// delay is applied to every dial to widen concurrency windows
	delay time.Duration

	mu      sync.Mutex
	active  int
	peak    int
	dialErr map[string]error
}

func newFakeFleet(t testing.TB, services map[string]*fakeSupervisor) *fakeFleet {
	t.Helper()
	dir := socketDir(t)
	for name := range services {
		touchSocket(t, dir, name)
	}
	return &fakeFleet{dir: dir, services: services, dialErr: map[string]error{}}
}

// touchSocket binds a live UNIX socket for name that nobody serves
func touchSocket(t testing.TB, dir, name string) {
	t.Helper()
	l, err := net.Listen("unix", filepath.Join(dir, name+SocketExt))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
}

// staleSocket leaves a regular file where a socket would be, as a dead
// supervisord does
func staleSocket(t testing.TB, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+SocketExt), nil, 0o600); err != nil {
		t.Fatal(err)
	}
}

func (f *fakeFleet) dial(ctx context.Context, ep Endpoint) (Supervisor, error) {
	f.mu.Lock()
	if err, ok := f.dialErr[ep.Service]; ok {
		f.mu.Unlock()
		return nil, err
	}
	f.active++
	f.peak = max(f.peak, f.active)
	f.mu.Unlock()

	if f.delay > 0 {
		if err := sleep(ctx, f.delay); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	sup, ok := f.services[ep.Service]
	if !ok {
		return nil, errors.New("dial unix " + ep.SocketPath + ": connect: connection refused")
	}
	return sup, nil
}

func (f *fakeFleet) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeFleet) controller(opts ...Option) *Controller {
	base := []Option{
		WithSocketDir(f.dir),
		WithDialer(f.dial),
		WithPollInterval(time.Millisecond),
		WithKillSettle(0),
		WithWorkerTermSettle(0),
	}
	return New(append(base, opts...)...)
}

func boolPtr(b bool) *bool {
	return &b
}
