// Package tunnel provides tunnel provider management functionality.
// This file contains the Provider capability interface and the shared
// status-change notifier embedded by concrete providers.
package tunnel

import (
	"context"
	"sync"
)

// Provider is the capability interface shared by all tunnel backends.
// Each concrete provider exclusively owns its runtime state; backend
// handles (process, external agent) never leak through this surface.
type Provider interface {
	// ID returns the stable provider identifier used in the registry.
	ID() string
	// DisplayName returns the human-readable provider name.
	DisplayName() string
	// Description returns a short summary of what the provider does.
	Description() string
	// IconName returns the symbolic icon name for UI callers.
	IconName() string

	// IsInstalled reports whether the backing tool or agent is available.
	// Synchronous, side-effect-free, no network I/O.
	IsInstalled() bool

	// Status returns the current tunnel status. Process-based providers
	// return cached state from their supervised process; the mesh provider
	// re-queries the external agent.
	Status(ctx context.Context) Status

	// Connect activates the tunnel exposing the given local port and
	// returns the public URL. Failures are returned as *Error values that
	// unwrap to the sentinels in the common package.
	Connect(ctx context.Context, port int) (string, error)

	// Disconnect tears the tunnel down. Providers that only observe an
	// externally managed connection treat this as a no-op.
	Disconnect(ctx context.Context) error

	// OnStatusChange registers a handler invoked on every status
	// transition. Registration is additive; handlers cannot be removed.
	OnStatusChange(handler func(Status))
}

// notifier fans status transitions out to registered handlers.
// Handlers run synchronously on the provider's own supervising goroutine,
// so per-provider notifications arrive in transition order.
type notifier struct {
	mu       sync.Mutex
	handlers []func(Status)
}

func (n *notifier) subscribe(handler func(Status)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

func (n *notifier) publish(status Status) {
	n.mu.Lock()
	handlers := make([]func(Status), len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.Unlock()

	for _, handler := range handlers {
		handler(status)
	}
}
