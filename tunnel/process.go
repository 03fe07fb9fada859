// Package tunnel provides tunnel provider management functionality.
// This file contains the process-backed provider used for tools that print
// a public URL to stdout, plus the two built-in tool definitions.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/adlara/tunnel-manager/common"
	"github.com/adlara/tunnel-manager/credential"
)

// ProcessTunnelConfig describes one external tunnel tool.
type ProcessTunnelConfig struct {
	ID          string
	DisplayName string
	Description string
	IconName    string

	// Binary is the tool executable looked up on PATH.
	Binary string
	// Args builds the tool invocation exposing the given local port.
	Args func(port int) []string
	// URLPattern matches the success line on stdout/stderr. A capture
	// group, when present, selects the URL inside the line.
	URLPattern *regexp.Regexp

	// Credentials is the tool's credential store, nil when the tool needs
	// no auth token. Checked before spawning.
	Credentials *credential.Store
	// CredentialHint names the missing prerequisite in the error shown
	// when no credential can be found anywhere.
	CredentialHint string

	ConnectTimeout  time.Duration
	DisconnectGrace time.Duration
}

// ProcessProvider exposes a local port through a supervised child process.
// Its status is owned by the connect/monitor goroutines of this instance;
// callers only ever read it.
type ProcessProvider struct {
	cfg ProcessTunnelConfig
	sup *Supervisor

	notifier notifier

	mu     sync.RWMutex
	status Status

	lookPath func(file string) (string, error)
}

// NewProcessProvider creates a provider for one external tunnel tool.
func NewProcessProvider(cfg ProcessTunnelConfig) *ProcessProvider {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = common.ConnectTimeout
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = common.DisconnectGrace
	}
	return &ProcessProvider{
		cfg:      cfg,
		sup:      NewSupervisor(),
		status:   Stopped(),
		lookPath: exec.LookPath,
	}
}

// ID returns the stable provider identifier.
func (p *ProcessProvider) ID() string { return p.cfg.ID }

// DisplayName returns the human-readable provider name.
func (p *ProcessProvider) DisplayName() string { return p.cfg.DisplayName }

// Description returns a short summary of what the provider does.
func (p *ProcessProvider) Description() string { return p.cfg.Description }

// IconName returns the symbolic icon name for UI callers.
func (p *ProcessProvider) IconName() string { return p.cfg.IconName }

// IsInstalled reports whether the tool binary is on PATH.
func (p *ProcessProvider) IsInstalled() bool {
	_, err := p.lookPath(p.cfg.Binary)
	return err == nil
}

// Status returns the cached state of the supervised process. When nothing
// is running and the tool is missing, it reports not installed.
func (p *ProcessProvider) Status(ctx context.Context) Status {
	p.mu.RLock()
	status := p.status
	p.mu.RUnlock()

	if status.State == StateStopped && !p.IsInstalled() {
		return NotInstalled()
	}
	return status
}

// Connect spawns the tool and waits for its public URL. A second call while
// already running is a no-op that returns the cached URL; a call while an
// attempt is in flight is rejected with ErrAlreadyConnecting.
func (p *ProcessProvider) Connect(ctx context.Context, port int) (string, error) {
	if !p.IsInstalled() {
		return "", notInstalledErr(p.cfg.ID)
	}

	// Prerequisites are checked before anything is spawned.
	if p.cfg.Credentials != nil {
		if _, err := p.cfg.Credentials.Detect(); err != nil {
			return "", authFailedErr(p.cfg.ID, p.cfg.CredentialHint)
		}
	}

	p.mu.Lock()
	switch p.status.State {
	case StateRunning:
		url := p.status.URL
		p.mu.Unlock()
		return url, nil
	case StateStarting:
		p.mu.Unlock()
		return "", &Error{Sentinel: common.ErrAlreadyConnecting, ProviderID: p.cfg.ID}
	}
	p.status = Starting()
	p.mu.Unlock()
	p.notifier.publish(Starting())

	common.LogInfo("Connecting %s for local port %d", p.cfg.ID, port)

	url, err := p.sup.Start(ctx, p.cfg.Binary, p.cfg.Args(port), p.cfg.URLPattern, p.cfg.ConnectTimeout)
	if err != nil {
		// Synchronous connect failures surface to the caller; observers
		// only see the attempt end.
		p.setStatus(Stopped())
		return "", p.mapConnectError(err)
	}

	p.setStatus(Running(url, true))
	common.LogInfo("%s tunnel established: %s", p.cfg.ID, url)

	go p.monitor()

	return url, nil
}

// Disconnect terminates the tunnel process, gracefully first, and always
// leaves the provider stopped.
func (p *ProcessProvider) Disconnect(ctx context.Context) error {
	_ = p.sup.Stop(ctx, p.cfg.DisconnectGrace)
	p.setStatus(Stopped())
	common.LogInfo("%s tunnel stopped", p.cfg.ID)
	return nil
}

// OnStatusChange registers a handler for status transitions.
func (p *ProcessProvider) OnStatusChange(handler func(Status)) {
	p.notifier.subscribe(handler)
}

// monitor watches for the process dying after the tunnel was established.
// Exits requested through Disconnect are reported there, not here.
func (p *ProcessProvider) monitor() {
	done := p.sup.Done()
	<-done

	if p.sup.WasStopped() {
		return
	}

	code := p.sup.ExitCode()
	common.LogWarn("%s tunnel process died (exit code %d)", p.cfg.ID, code)
	p.setStatus(Failed(fmt.Sprintf("tunnel process terminated unexpectedly (exit code %d)", code)))
}

func (p *ProcessProvider) setStatus(status Status) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
	p.notifier.publish(status)
}

func (p *ProcessProvider) mapConnectError(err error) error {
	var exited *exitError
	switch {
	case errors.As(err, &exited):
		return terminationErr(p.cfg.ID, exited.code)
	case errors.Is(err, common.ErrTimeout):
		return timeoutErr(p.cfg.ID)
	case errors.Is(err, common.ErrAlreadyConnecting):
		return &Error{Sentinel: common.ErrAlreadyConnecting, ProviderID: p.cfg.ID}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return connectionFailedErr(p.cfg.ID, err.Error())
	}
}

// Built-in tool definitions.

var (
	quickTunnelURLPattern = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)
	tokenTunnelURLPattern = regexp.MustCompile(`url=(https://\S+)`)
)

// NewQuickTunnelProvider returns the provider for cloudflared quick
// tunnels: ephemeral, unauthenticated public URLs.
func NewQuickTunnelProvider() *ProcessProvider {
	return NewProcessProvider(ProcessTunnelConfig{
		ID:          "cloudflared",
		DisplayName: "Cloudflare Quick Tunnel",
		Description: "Ephemeral public URL via a Cloudflare relay, no account required",
		IconName:    "cloud-upload-symbolic",
		Binary:      "cloudflared",
		Args: func(port int) []string {
			return []string{"tunnel", "--url", fmt.Sprintf("http://localhost:%d", port)}
		},
		URLPattern: quickTunnelURLPattern,
	})
}

// NewTokenTunnelProvider returns the provider for ngrok tunnels, which
// require an auth token persisted through the given credential store.
func NewTokenTunnelProvider(creds *credential.Store) *ProcessProvider {
	return NewProcessProvider(ProcessTunnelConfig{
		ID:          "ngrok",
		DisplayName: "ngrok",
		Description: "Public URL via the ngrok relay, requires an auth token",
		IconName:    "network-transmit-symbolic",
		Binary:      "ngrok",
		Args: func(port int) []string {
			return []string{"http", fmt.Sprintf("%d", port), "--log", "stdout", "--log-format", "logfmt"}
		},
		URLPattern:     tokenTunnelURLPattern,
		Credentials:    creds,
		CredentialHint: "no ngrok auth token found; run with --set-token ngrok or `ngrok config add-authtoken`",
	})
}
