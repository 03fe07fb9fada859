package tunnel

import (
	"context"
	"errors"
	"testing"

	"github.com/adlara/tunnel-manager/common"
)

func newTestMeshProvider(status agentStatus) (*MeshProvider, *int, *int) {
	probes := 0
	foregrounds := 0

	m := NewMeshProvider()
	m.lookPath = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	m.probe = func(ctx context.Context) (agentStatus, error) {
		probes++
		return status, nil
	}
	m.foreground = func(ctx context.Context) error {
		foregrounds++
		return nil
	}
	return m, &probes, &foregrounds
}

func TestMeshProvider_NotInstalled(t *testing.T) {
	m, _, _ := newTestMeshProvider(agentStatus{})
	m.lookPath = func(file string) (string, error) {
		return "", errors.New("executable file not found in $PATH")
	}

	if status := m.Status(context.Background()); status.State != StateNotInstalled {
		t.Errorf("Status() = %v, want StateNotInstalled", status.State)
	}
	_, err := m.Connect(context.Background(), 8080)
	if !errors.Is(err, common.ErrNotInstalled) {
		t.Errorf("Connect() error = %v, want ErrNotInstalled", err)
	}
}

func TestMeshProvider_ConnectWhenAgentRunning(t *testing.T) {
	raw := agentStatus{BackendState: "Running"}
	raw.Self.DNSName = "mybox.tail1234.ts.net."
	m, _, foregrounds := newTestMeshProvider(raw)

	url, err := m.Connect(context.Background(), 8080)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if url != "http://mybox.tail1234.ts.net" {
		t.Errorf("Connect() url = %q", url)
	}
	if *foregrounds != 0 {
		t.Errorf("companion app opened %d times for an already-running mesh", *foregrounds)
	}

	status := m.Status(context.Background())
	if status.State != StateRunning || status.Ephemeral {
		t.Errorf("Status() = %+v, want stable running", status)
	}
}

func TestMeshProvider_ConnectWhenAgentDownRequiresUserAction(t *testing.T) {
	m, _, foregrounds := newTestMeshProvider(agentStatus{BackendState: "Stopped"})

	_, err := m.Connect(context.Background(), 8080)
	if !errors.Is(err, common.ErrUserActionRequired) {
		t.Fatalf("Connect() error = %v, want ErrUserActionRequired", err)
	}

	var uerr *Error
	if !errors.As(err, &uerr) {
		t.Fatalf("Connect() error %T is not a *tunnel.Error", err)
	}
	if uerr.Instruction == "" {
		t.Error("user action error carries no instruction")
	}
	if *foregrounds != 1 {
		t.Errorf("companion app opened %d times, want exactly 1", *foregrounds)
	}
}

func TestMeshProvider_DisconnectIsNoOp(t *testing.T) {
	raw := agentStatus{BackendState: "Running"}
	raw.Self.DNSName = "mybox.tail1234.ts.net."
	m, probes, _ := newTestMeshProvider(raw)

	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if *probes != 0 {
		t.Errorf("Disconnect() probed the agent %d times, want 0", *probes)
	}
	// The external mesh session is untouched.
	if status := m.Status(context.Background()); status.State != StateRunning {
		t.Errorf("Status() = %v after Disconnect, want StateRunning", status.State)
	}
}

func TestMeshProvider_StatusDebouncesProbes(t *testing.T) {
	m, probes, _ := newTestMeshProvider(agentStatus{BackendState: "Stopped"})

	m.Status(context.Background())
	m.Status(context.Background())
	m.Status(context.Background())

	if *probes != 1 {
		t.Errorf("agent probed %d times within the debounce window, want 1", *probes)
	}
}

func TestMeshProvider_ErrorStateBypassesDebounce(t *testing.T) {
	probes := 0
	m := NewMeshProvider()
	m.lookPath = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	m.probe = func(ctx context.Context) (agentStatus, error) {
		probes++
		return agentStatus{}, errors.New("agent not responding")
	}
	m.foreground = func(ctx context.Context) error { return nil }

	if status := m.Status(context.Background()); status.State != StateError {
		t.Fatalf("Status() = %v, want StateError", status.State)
	}
	// A failed probe must not be cached; a retry inside the debounce
	// window has to hit the agent again.
	m.Status(context.Background())

	if probes != 2 {
		t.Errorf("agent probed %d times, want 2", probes)
	}
}

func TestMapAgentState(t *testing.T) {
	running := agentStatus{BackendState: "Running"}
	running.Self.TailscaleIPs = []string{"100.64.0.7"}

	tests := []struct {
		name string
		raw  agentStatus
		want State
	}{
		{"running", running, StateRunning},
		{"starting", agentStatus{BackendState: "Starting"}, StateStarting},
		{"stopped", agentStatus{BackendState: "Stopped"}, StateStopped},
		{"needs login", agentStatus{BackendState: "NeedsLogin"}, StateStopped},
		{"needs machine auth", agentStatus{BackendState: "NeedsMachineAuth"}, StateStopped},
		{"no state", agentStatus{BackendState: "NoState"}, StateStopped},
		{"unknown", agentStatus{BackendState: "Gibberish"}, StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapAgentState(tt.raw); got.State != tt.want {
				t.Errorf("mapAgentState(%q) = %v, want %v", tt.raw.BackendState, got.State, tt.want)
			}
		})
	}
}

func TestMeshAddress(t *testing.T) {
	var withDNS agentStatus
	withDNS.Self.DNSName = "mybox.tail1234.ts.net."
	withDNS.Self.TailscaleIPs = []string{"100.64.0.7"}

	var ipOnly agentStatus
	ipOnly.Self.TailscaleIPs = []string{"100.64.0.7"}

	if got := meshAddress(withDNS); got != "http://mybox.tail1234.ts.net" {
		t.Errorf("meshAddress with DNS name = %q", got)
	}
	if got := meshAddress(ipOnly); got != "http://100.64.0.7" {
		t.Errorf("meshAddress with IP only = %q", got)
	}
	if got := meshAddress(agentStatus{}); got != "" {
		t.Errorf("meshAddress with nothing = %q", got)
	}
}
