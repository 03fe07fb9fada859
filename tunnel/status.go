// Package tunnel provides tunnel provider management functionality.
// This file contains the shared status value type all providers map onto.
package tunnel

// State represents the lifecycle state of a tunnel provider.
type State int

const (
	// StateNotInstalled indicates the backing tool or agent is missing.
	StateNotInstalled State = iota
	// StateStopped indicates no active tunnel.
	StateStopped
	// StateStarting indicates a tunnel is being established.
	StateStarting
	// StateRunning indicates an active tunnel with a public URL.
	StateRunning
	// StateError indicates the tunnel failed outside a direct Connect call.
	StateError
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNotInstalled:
		return "Not installed"
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting..."
	case StateRunning:
		return "Running"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Status is the current condition of a tunnel provider. Only StateRunning
// carries a URL; only StateError carries a reason.
type Status struct {
	// State is the lifecycle state.
	State State
	// URL is the public endpoint, set only when State is StateRunning.
	URL string
	// Ephemeral marks URLs that change on every connect (quick tunnels).
	Ephemeral bool
	// Reason describes the failure, set only when State is StateError.
	Reason string
}

// Stopped returns a Status in the stopped state.
func Stopped() Status {
	return Status{State: StateStopped}
}

// NotInstalled returns a Status for a missing tool or agent.
func NotInstalled() Status {
	return Status{State: StateNotInstalled}
}

// Starting returns a Status for an in-flight connection attempt.
func Starting() Status {
	return Status{State: StateStarting}
}

// Running returns a Status carrying the tunnel's public URL.
func Running(url string, ephemeral bool) Status {
	return Status{State: StateRunning, URL: url, Ephemeral: ephemeral}
}

// Failed returns a Status describing a failure observed outside a direct
// Connect call.
func Failed(reason string) Status {
	return Status{State: StateError, Reason: reason}
}
