package svctl

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// watchDebounce coalesces bursts of directory events into one rescan
const watchDebounce = 50 * time.Millisecond

// ServiceEventType says how the set of services changed
type ServiceEventType int

const (
	// ServiceAdded means a socket appeared
	ServiceAdded ServiceEventType = iota
	// ServiceRemoved means a socket disappeared
	ServiceRemoved
)

// String returns the string representation of a ServiceEventType
func (t ServiceEventType) String() string {
	if t == ServiceRemoved {
		return "removed"
	}
	return "added"
}

// ServiceEvent is one change in the set of discovered services
type ServiceEvent struct {
	Type    ServiceEventType
	Service Service
	Err     error
}

// WatchCleanupFunc stops a watch and waits for its goroutine to exit
type WatchCleanupFunc func() error

// Watch streams changes to the set of services in the socket directory.
// The services present when the watch starts are reported as added. The
// channel is closed after the cleanup function returns or ctx is done.
func (r *Resolver) Watch(ctx context.Context) (<-chan ServiceEvent, WatchCleanupFunc, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(r.Dir); err != nil {
		_ = watcher.Close()
		return nil, nil, err
	}

	ch := make(chan ServiceEvent, 16)
	known := make(map[string]Service)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		close(ch)
	})

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	send := func(ev ServiceEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-sctx.Stopping():
			return false
		}
	}

	// rescan diffs the directory against the known set
	rescan := func() bool {
		services, err := r.Services()
		if err != nil {
			return send(ServiceEvent{Err: err})
		}
		seen := make(map[string]bool, len(services))
		for _, svc := range services {
			seen[svc.Name] = true
			if _, ok := known[svc.Name]; ok {
				continue
			}
			known[svc.Name] = svc
			if !send(ServiceEvent{Type: ServiceAdded, Service: svc}) {
				return false
			}
		}
		for name, svc := range known {
			if seen[name] {
				continue
			}
			delete(known, name)
			svc.Reachable = false
			if !send(ServiceEvent{Type: ServiceRemoved, Service: svc}) {
				return false
			}
		}
		return true
	}

	sctx.Go(func(sctx *stopper.Context) error {
		if !rescan() {
			return nil
		}

		debounce := time.NewTimer(watchDebounce)
		debounce.Stop()
		defer debounce.Stop()

		for {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if _, isSocket := serviceFromSocket(filepath.Base(event.Name)); !isSocket {
					continue
				}
				debounce.Reset(watchDebounce)

			case <-debounce.C:
				if !rescan() {
					return nil
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !send(ServiceEvent{Err: err}) {
					return nil
				}
			}
		}
	})

	return ch, cleanup, nil
}
