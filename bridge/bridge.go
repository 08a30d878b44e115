// Package bridge owns the process-wide side of a transport driver: the
// one-time library initialization, the single message/error callback pair
// the driver supports, and the routing of callbacks to the connection that
// raised them.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dan-strohschein/bcp-driver/transport"
)

// Sink receives the callbacks raised for one connection.
type Sink interface {
	HandleMessage(transport.Message)
	HandleFailure(transport.Failure) transport.Action
}

// Bridge wraps a driver so several connections can share it
type Bridge struct {
	drv transport.Driver

	once    sync.Once
	initErr error

	mu     sync.RWMutex
	routes map[string]Sink

	// suspended counts open SuspendErrors calls per connection
	suspended map[string]int

	dropped atomic.Int64
}

// New creates a bridge for drv. Nothing touches the driver until Initialize.
func New(drv transport.Driver) *Bridge {
	return &Bridge{
		drv:       drv,
		routes:    make(map[string]Sink),
		suspended: make(map[string]int),
	}
}

// Driver returns the wrapped driver
func (b *Bridge) Driver() transport.Driver {
	return b.drv
}

// Initialize runs the driver's startup and installs the dispatchers. Only
// the first call does any work; every call returns the first outcome.
func (b *Bridge) Initialize() error {
	b.once.Do(func() {
		if err := b.drv.Init(); err != nil {
			b.initErr = fmt.Errorf("%s driver initialization failed: %w", b.drv.Name(), err)
			return
		}
		b.drv.SetMessageHandler(b.dispatchMessage)
		b.drv.SetErrorHandler(b.dispatchFailure)
	})
	return b.initErr
}

// Open logs in and routes callbacks tagged with login.ConnID to sink. The
// route is installed before the login so login failures reach sink; the
// caller removes it with Release, including when Open fails.
func (b *Bridge) Open(ctx context.Context, login transport.Login, server string, sink Sink) (transport.Handle, error) {
	if err := b.Initialize(); err != nil {
		return nil, err
	}
	if login.ConnID == "" {
		return nil, fmt.Errorf("login has no connection id")
	}

	b.mu.Lock()
	b.routes[login.ConnID] = sink
	b.mu.Unlock()

	return b.drv.Open(ctx, login, server)
}

// Release drops the route for connID
func (b *Bridge) Release(connID string) {
	b.mu.Lock()
	delete(b.routes, connID)
	delete(b.suspended, connID)
	b.mu.Unlock()
}

// Routes returns the number of connections with an installed route
func (b *Bridge) Routes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes)
}

// Dropped returns the number of callbacks that matched no route
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// SelectDatabase makes name the current database of h
func (b *Bridge) SelectDatabase(ctx context.Context, h transport.Handle, name string) error {
	return h.Use(ctx, name)
}

// SetSessionOption applies a session option such as "set textsize N"
func (b *Bridge) SetSessionOption(ctx context.Context, h transport.Handle, option string) error {
	return h.Exec(ctx, option)
}

// SuspendErrors stops error callbacks for connID from reaching its sink
// until restore is called. Suspensions nest and may be restored in any
// order; calling restore more than once has no further effect.
func (b *Bridge) SuspendErrors(connID string) (restore func()) {
	b.mu.Lock()
	b.suspended[connID]++
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if n := b.suspended[connID]; n > 1 {
				b.suspended[connID] = n - 1
			} else {
				delete(b.suspended, connID)
			}
		})
	}
}

// Suspended reports whether error callbacks for connID are suspended
func (b *Bridge) Suspended(connID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.suspended[connID] > 0
}

// UseInterfaces selects the server address lookup file
func (b *Bridge) UseInterfaces(path string) error {
	return b.drv.UseInterfaces(path)
}

// OpenDump starts writing protocol diagnostics to path
func (b *Bridge) OpenDump(path string) error {
	return b.drv.OpenDump(path)
}

func (b *Bridge) sink(connID string) (Sink, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.routes[connID]
	return s, ok
}

func (b *Bridge) dispatchMessage(m transport.Message) {
	s, ok := b.sink(m.ConnID)
	if !ok {
		b.dropped.Add(1)
		return
	}
	s.HandleMessage(m)
}

func (b *Bridge) dispatchFailure(f transport.Failure) transport.Action {
	b.mu.RLock()
	s, ok := b.routes[f.ConnID]
	suspended := b.suspended[f.ConnID] > 0
	b.mu.RUnlock()

	if !ok {
		b.dropped.Add(1)
		return transport.Cancel
	}
	if suspended {
		return transport.Cancel
	}
	return s.HandleFailure(f)
}
