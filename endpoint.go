package svctl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Endpoint addresses the supervisord instance of one service. It is resolved
// fresh for every operation and never cached.
type Endpoint struct {
	// Service is the service name
	Service string
	// SocketPath is the UNIX socket supervisord listens on
	SocketPath string
}

// Exists reports whether the socket file is present
func (e Endpoint) Exists() bool {
	_, err := os.Stat(e.SocketPath)
	return err == nil
}

// Service is a discovered supervised service
type Service struct {
	// Name is the service name, the socket file name without its extension
	Name string
	// Endpoint is where the service's supervisord listens
	Endpoint Endpoint
	// Reachable is true when the socket file is a live socket
	Reachable bool
}

// Resolver maps service names to socket paths under one directory
type Resolver struct {
	// Dir is the socket directory
	Dir string
}

// NewResolver returns a Resolver for dir. An empty dir falls back to
// $SUPERVISOR_SOCKET_DIR and then to DefaultSocketDir.
func NewResolver(dir string) *Resolver {
	if dir == "" {
		dir = os.Getenv(SocketDirEnv)
	}
	if dir == "" {
		dir = DefaultSocketDir
	}
	return &Resolver{Dir: dir}
}

// Resolve returns the endpoint for service. It does not touch the filesystem.
func (r *Resolver) Resolve(service string) (Endpoint, error) {
	if err := validateServiceName(service); err != nil {
		return Endpoint{}, err
	}
	return Endpoint{
		Service:    service,
		SocketPath: filepath.Join(r.Dir, service+SocketExt),
	}, nil
}

// Services lists the services with a socket in the directory, sorted by
// name. A missing directory yields an empty list.
func (r *Resolver) Services() ([]Service, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Service{}, nil
		}
		return nil, fmt.Errorf("read socket dir %s: %w", r.Dir, err)
	}

	services := make([]Service, 0, len(entries))
	for _, entry := range entries {
		name, ok := serviceFromSocket(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		ep := Endpoint{Service: name, SocketPath: filepath.Join(r.Dir, entry.Name())}
		services = append(services, Service{
			Name:      name,
			Endpoint:  ep,
			Reachable: entry.Type()&fs.ModeSocket != 0,
		})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// ServiceNames returns the names of the services with a live socket.
// Socket files that are not sockets, as left by a dead supervisord, are
// skipped.
func (r *Resolver) ServiceNames() ([]string, error) {
	services, err := r.Services()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(services))
	for _, s := range services {
		if s.Reachable {
			names = append(names, s.Name)
		}
	}
	return names, nil
}

// serviceFromSocket extracts the service name from a socket file name
func serviceFromSocket(file string) (string, bool) {
	if !strings.HasSuffix(file, SocketExt) || strings.HasPrefix(file, ".") {
		return "", false
	}
	name := strings.TrimSuffix(file, SocketExt)
	return name, name != ""
}

func validateServiceName(service string) error {
	if service == "" || service == "." || service == ".." || strings.ContainsRune(service, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	return nil
}
