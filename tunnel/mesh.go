// Package tunnel provides tunnel provider management functionality.
// This file contains the mesh network provider: a read-only view of a VPN
// mesh connection managed by a separate long-running agent, plus a nudge
// that brings the agent's companion app to the foreground.
package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/adlara/tunnel-manager/common"
)

// agentStatus is the raw state reported by the mesh agent CLI.
type agentStatus struct {
	BackendState string `json:"BackendState"`
	Self         struct {
		DNSName      string   `json:"DNSName"`
		TailscaleIPs []string `json:"TailscaleIPs"`
	} `json:"Self"`
}

// meshProbeDebounce caps how often Status re-runs the agent CLI. Callers
// polling for a live indicator share one probe per window.
const meshProbeDebounce = 500 * time.Millisecond

// MeshProvider observes a Tailscale-style mesh connection. It never
// authenticates or connects the mesh itself; VPN auth stays under user
// control in the agent's own app. Connect only reports the mesh address
// when the agent is already up, otherwise it nudges the companion app open
// and asks the user to act there.
type MeshProvider struct {
	notifier

	mu        sync.Mutex
	last      Status
	lastProbe time.Time

	// Injection points for tests.
	lookPath   func(file string) (string, error)
	probe      func(ctx context.Context) (agentStatus, error)
	foreground func(ctx context.Context) error
}

// NewMeshProvider creates the mesh network provider.
func NewMeshProvider() *MeshProvider {
	return &MeshProvider{
		last:       Stopped(),
		lookPath:   exec.LookPath,
		probe:      probeAgent,
		foreground: openAgentApp,
	}
}

// ID returns the stable provider identifier.
func (m *MeshProvider) ID() string { return "tailscale" }

// DisplayName returns the human-readable provider name.
func (m *MeshProvider) DisplayName() string { return "Tailscale" }

// Description returns a short summary of what the provider does.
func (m *MeshProvider) Description() string {
	return "Private access over your Tailscale mesh network"
}

// IconName returns the symbolic icon name for UI callers.
func (m *MeshProvider) IconName() string { return "network-vpn-symbolic" }

// IsInstalled reports whether the mesh agent CLI is on PATH.
func (m *MeshProvider) IsInstalled() bool {
	_, err := m.lookPath("tailscale")
	return err == nil
}

// Status re-queries the external agent, debounced to one CLI invocation
// per meshProbeDebounce window. Error states are never served from the
// debounce cache, so an immediate retry re-probes the agent.
func (m *MeshProvider) Status(ctx context.Context) Status {
	if !m.IsInstalled() {
		return NotInstalled()
	}

	m.mu.Lock()
	if time.Since(m.lastProbe) < meshProbeDebounce && m.last.State != StateError {
		status := m.last
		m.mu.Unlock()
		return status
	}
	m.mu.Unlock()

	return m.refresh(ctx)
}

// Connect reports the mesh address when the agent is already connected.
// Otherwise it opens the companion app (fire-and-forget) and returns
// ErrUserActionRequired: establishing the mesh session is deliberately a
// human decision made in the agent's own application.
func (m *MeshProvider) Connect(ctx context.Context, port int) (string, error) {
	if !m.IsInstalled() {
		return "", notInstalledErr(m.ID())
	}

	// The mesh exposes the whole host; port selects nothing here and is
	// part of the URL the caller assembles.
	status := m.refresh(ctx)
	if status.State == StateRunning {
		return status.URL, nil
	}

	if err := m.foreground(ctx); err != nil {
		common.LogDebug("Could not open mesh agent app: %v", err)
	}

	return "", userActionErr(m.ID(), "open the Tailscale app and connect, then try again")
}

// Disconnect is a no-op. The mesh session belongs to the external agent
// and may be in use by other applications; it is never severed from here.
func (m *MeshProvider) Disconnect(ctx context.Context) error {
	return nil
}

// OnStatusChange registers a handler for status transitions.
func (m *MeshProvider) OnStatusChange(handler func(Status)) {
	m.subscribe(handler)
}

// refresh probes the agent and publishes a change notification when the
// observed state differs from the previous probe.
func (m *MeshProvider) refresh(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, common.ProbeTimeout)
	defer cancel()

	raw, err := m.probe(probeCtx)

	var status Status
	if err != nil {
		status = Failed(fmt.Sprintf("mesh agent query failed: %v", err))
	} else {
		status = mapAgentState(raw)
	}

	m.mu.Lock()
	changed := status.State != m.last.State || status.URL != m.last.URL
	m.last = status
	m.lastProbe = time.Now()
	m.mu.Unlock()

	if changed {
		m.publish(status)
	}
	return status
}

// mapAgentState maps the agent's raw backend states onto the shared status.
func mapAgentState(raw agentStatus) Status {
	switch raw.BackendState {
	case "Running":
		return Running(meshAddress(raw), false)
	case "Starting":
		return Starting()
	case "Stopped", "NeedsLogin", "NeedsMachineAuth", "NoState":
		return Stopped()
	default:
		return Failed(fmt.Sprintf("unknown mesh agent state %q", raw.BackendState))
	}
}

// meshAddress picks the mesh-assigned address: the machine's MagicDNS name
// when present, the first mesh IP otherwise.
func meshAddress(raw agentStatus) string {
	if name := strings.TrimSuffix(raw.Self.DNSName, "."); name != "" {
		return "http://" + name
	}
	if len(raw.Self.TailscaleIPs) > 0 {
		return "http://" + raw.Self.TailscaleIPs[0]
	}
	return ""
}

// probeAgent queries the agent CLI for its JSON status.
func probeAgent(ctx context.Context) (agentStatus, error) {
	var status agentStatus

	out, err := exec.CommandContext(ctx, "tailscale", "status", "--json").Output()
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return status, fmt.Errorf("unexpected agent status output: %w", err)
	}
	return status, nil
}

// openAgentApp brings the mesh agent's companion app to the foreground.
// Fire-and-forget: the spawned opener is not waited on.
func openAgentApp(ctx context.Context) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", "-a", "Tailscale")
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", "", "tailscale-ipn:")
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", "https://login.tailscale.com/welcome")
	}
	return cmd.Start()
}
