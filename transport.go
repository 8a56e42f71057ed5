package svctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kolo/xmlrpc"
)

// rpcURL is the request URL sent over the UNIX socket. supervisord ignores
// the host and serves XML-RPC on /RPC2.
const rpcURL = "http://localhost/RPC2"

// supervisord daemon state codes returned by supervisor.getState
const (
	DaemonFatal      = 2
	DaemonRunning    = 1
	DaemonRestarting = 0
	DaemonShutdown   = -1
)

// DaemonState is the reply to supervisor.getState
type DaemonState struct {
	Code int    `xmlrpc:"statecode"`
	Name string `xmlrpc:"statename"`
}

// Supervisor is the remote-call surface of one supervisord instance. A
// handle serves a single operation on a single goroutine and is closed
// when the operation ends.
type Supervisor interface {
	GetState(ctx context.Context) (DaemonState, error)
	GetAllProcessInfo(ctx context.Context) ([]ProcessInfo, error)
	GetProcessInfo(ctx context.Context, name string) (ProcessInfo, error)
	StartProcess(ctx context.Context, name string, wait bool) (bool, error)
	StopProcess(ctx context.Context, name string, wait bool) (bool, error)
	SignalProcess(ctx context.Context, name, signal string) (bool, error)
	Close() error
}

// Dialer opens a Supervisor handle for an endpoint. Dialing does not probe;
// Connect issues the liveness call.
type Dialer func(ctx context.Context, ep Endpoint) (Supervisor, error)

// xmlrpcSupervisor speaks supervisord's XML-RPC interface over HTTP on a
// UNIX socket
type xmlrpcSupervisor struct {
	endpoint    Endpoint
	transport   *http.Transport
	client      *http.Client
	callTimeout time.Duration
}

// UnixDialer returns a Dialer that talks XML-RPC over the endpoint's socket
func UnixDialer(dialTimeout, callTimeout time.Duration) Dialer {
	return func(_ context.Context, ep Endpoint) (Supervisor, error) {
		return newXMLRPCSupervisor(ep, dialTimeout, callTimeout), nil
	}
}

func newXMLRPCSupervisor(ep Endpoint, dialTimeout, callTimeout time.Duration) *xmlrpcSupervisor {
	d := &net.Dialer{Timeout: dialTimeout}
	tr := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return d.DialContext(ctx, "unix", ep.SocketPath)
		},
		MaxIdleConns: 1,
	}
	return &xmlrpcSupervisor{
		endpoint:    ep,
		transport:   tr,
		client:      &http.Client{Transport: tr},
		callTimeout: callTimeout,
	}
}

// call performs one XML-RPC round trip. Remote faults come back as *Fault;
// everything else is a transport or protocol failure.
func (s *xmlrpcSupervisor) call(ctx context.Context, method string, reply interface{}, args ...interface{}) error {
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	var params interface{}
	if len(args) > 0 {
		params = args
	}
	req, err := xmlrpc.NewRequest(rpcURL, method, params)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	resp, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, s.endpoint.SocketPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected HTTP status %d", method, s.endpoint.SocketPath, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, s.endpoint.SocketPath, err)
	}

	r := xmlrpc.Response(body)
	if err := r.Err(); err != nil {
		var fe xmlrpc.FaultError
		if errors.As(err, &fe) {
			return &Fault{Code: fe.Code, String: fe.String}
		}
		return fmt.Errorf("%s: decode fault: %w", method, err)
	}
	if reply == nil {
		return nil
	}
	if err := r.Unmarshal(reply); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

func (s *xmlrpcSupervisor) GetState(ctx context.Context) (DaemonState, error) {
	var st DaemonState
	err := s.call(ctx, "supervisor.getState", &st)
	return st, err
}

func (s *xmlrpcSupervisor) GetAllProcessInfo(ctx context.Context) ([]ProcessInfo, error) {
	var infos []ProcessInfo
	err := s.call(ctx, "supervisor.getAllProcessInfo", &infos)
	return infos, err
}

func (s *xmlrpcSupervisor) GetProcessInfo(ctx context.Context, name string) (ProcessInfo, error) {
	var info ProcessInfo
	err := s.call(ctx, "supervisor.getProcessInfo", &info, name)
	return info, err
}

func (s *xmlrpcSupervisor) StartProcess(ctx context.Context, name string, wait bool) (bool, error) {
	var ok bool
	err := s.call(ctx, "supervisor.startProcess", &ok, name, wait)
	return ok, err
}

func (s *xmlrpcSupervisor) StopProcess(ctx context.Context, name string, wait bool) (bool, error) {
	var ok bool
	err := s.call(ctx, "supervisor.stopProcess", &ok, name, wait)
	return ok, err
}

func (s *xmlrpcSupervisor) SignalProcess(ctx context.Context, name, signal string) (bool, error) {
	var ok bool
	err := s.call(ctx, "supervisor.signalProcess", &ok, name, signal)
	return ok, err
}

// Close releases idle connections held by the handle
func (s *xmlrpcSupervisor) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}
