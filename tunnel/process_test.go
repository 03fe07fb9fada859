package tunnel

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/adlara/tunnel-manager/common"
	"github.com/adlara/tunnel-manager/credential"
)

// emptyKeyring is a SecureStore holding nothing, for credential-gate tests.
type emptyKeyring struct{}

func (emptyKeyring) Get(service, key string) (string, error) {
	return "", common.ErrCredentialNotFound
}
func (emptyKeyring) Set(service, key, secret string) error { return nil }
func (emptyKeyring) Delete(service, key string) error      { return nil }

func newShellProvider(t *testing.T, script string) *ProcessProvider {
	t.Helper()
	p := NewProcessProvider(ProcessTunnelConfig{
		ID:          "shelltest",
		DisplayName: "Shell Test",
		Binary:      "sh",
		Args: func(port int) []string {
			return []string{"-c", script}
		},
		URLPattern:     regexp.MustCompile(`url=(https://\S+)`),
		ConnectTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		_ = p.Disconnect(context.Background())
	})
	return p
}

func TestProcessProvider_InitialStatusIsNeverRunning(t *testing.T) {
	p := newShellProvider(t, "sleep 30")

	status := p.Status(context.Background())
	if status.State == StateRunning || status.State == StateStarting {
		t.Errorf("fresh provider status = %v, want stopped or not installed", status.State)
	}
}

func TestProcessProvider_NotInstalled(t *testing.T) {
	p := newShellProvider(t, "sleep 30")
	p.lookPath = func(file string) (string, error) {
		return "", errors.New("executable file not found in $PATH")
	}

	if p.IsInstalled() {
		t.Fatal("IsInstalled() = true with failing lookup")
	}
	if status := p.Status(context.Background()); status.State != StateNotInstalled {
		t.Errorf("Status() = %v, want StateNotInstalled", status.State)
	}

	_, err := p.Connect(context.Background(), 8080)
	if !errors.Is(err, common.ErrNotInstalled) {
		t.Fatalf("Connect() error = %v, want ErrNotInstalled", err)
	}
	// Nothing was spawned; the provider is still in its idle state.
	if p.sup.Pid() != 0 {
		t.Error("Connect() spawned a process despite the tool being missing")
	}
}

func TestProcessProvider_ConnectEstablishesTunnel(t *testing.T) {
	p := newShellProvider(t, `sleep 0.1; echo "url=https://one.example"; sleep 30`)

	url, err := p.Connect(context.Background(), 8080)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if url != "https://one.example" {
		t.Errorf("Connect() url = %q", url)
	}

	status := p.Status(context.Background())
	if status.State != StateRunning {
		t.Fatalf("Status() = %v after Connect, want StateRunning", status.State)
	}
	if status.URL != url {
		t.Errorf("Status().URL = %q, want %q", status.URL, url)
	}
	if !status.Ephemeral {
		t.Error("process tunnel URL should be marked ephemeral")
	}
}

func TestProcessProvider_SecondConnectReturnsCachedURL(t *testing.T) {
	p := newShellProvider(t, `echo "url=https://two.example"; sleep 30`)

	first, err := p.Connect(context.Background(), 8080)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	second, err := p.Connect(context.Background(), 8080)
	if err != nil {
		t.Fatalf("second Connect() error: %v", err)
	}
	if second != first {
		t.Errorf("second Connect() = %q, want cached %q", second, first)
	}
	if p.sup.Pid() == 0 {
		t.Error("tunnel process gone after no-op reconnect")
	}
}

func TestProcessProvider_EarlyExitSurfacesExitCode(t *testing.T) {
	p := newShellProvider(t, "exit 3")

	_, err := p.Connect(context.Background(), 8080)
	if !errors.Is(err, common.ErrUnexpectedTermination) {
		t.Fatalf("Connect() error = %v, want ErrUnexpectedTermination", err)
	}

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Connect() error %T is not a *tunnel.Error", err)
	}
	if terr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", terr.ExitCode)
	}

	// A failed synchronous attempt resets the provider; observers never see
	// StateError for it.
	if status := p.Status(context.Background()); status.State != StateStopped {
		t.Errorf("Status() = %v after failed attempt, want StateStopped", status.State)
	}
}

func TestProcessProvider_ConnectTimeout(t *testing.T) {
	p := NewProcessProvider(ProcessTunnelConfig{
		ID:     "slow",
		Binary: "sh",
		Args: func(port int) []string {
			return []string{"-c", "sleep 30"}
		},
		URLPattern:     regexp.MustCompile(`url=(https://\S+)`),
		ConnectTimeout: 200 * time.Millisecond,
	})

	_, err := p.Connect(context.Background(), 8080)
	if !errors.Is(err, common.ErrTimeout) {
		t.Fatalf("Connect() error = %v, want ErrTimeout", err)
	}
	if status := p.Status(context.Background()); status.State != StateStopped {
		t.Errorf("Status() = %v after timeout, want StateStopped", status.State)
	}
}

func TestProcessProvider_MissingCredentialBlocksSpawn(t *testing.T) {
	creds := credential.NewStore(credential.Config{
		Service:     "test-tunnel",
		Key:         "authtoken",
		ConfigPaths: []string{t.TempDir() + "/missing.yml"},
	}, emptyKeyring{})

	p := NewProcessProvider(ProcessTunnelConfig{
		ID:     "tokentool",
		Binary: "sh",
		Args: func(port int) []string {
			return []string{"-c", "sleep 30"}
		},
		URLPattern:     regexp.MustCompile(`url=(https://\S+)`),
		Credentials:    creds,
		CredentialHint: "no auth token found",
	})

	_, err := p.Connect(context.Background(), 8080)
	if !errors.Is(err, common.ErrAuthenticationFailed) {
		t.Fatalf("Connect() error = %v, want ErrAuthenticationFailed", err)
	}
	if p.sup.Pid() != 0 {
		t.Error("Connect() spawned a process despite the missing credential")
	}
}

func TestProcessProvider_DisconnectStopsTunnel(t *testing.T) {
	p := newShellProvider(t, `echo "url=https://three.example"; sleep 30`)

	if _, err := p.Connect(context.Background(), 8080); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := p.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if status := p.Status(context.Background()); status.State != StateStopped {
		t.Errorf("Status() = %v after Disconnect, want StateStopped", status.State)
	}
}

func TestProcessProvider_NotifiesTransitionsInOrder(t *testing.T) {
	p := newShellProvider(t, `echo "url=https://four.example"; sleep 30`)

	var mu sync.Mutex
	var states []State
	p.OnStatusChange(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	if _, err := p.Connect(context.Background(), 8080); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 {
		t.Fatalf("observed %d transitions, want at least 2", len(states))
	}
	if states[0] != StateStarting {
		t.Errorf("first transition = %v, want StateStarting", states[0])
	}
	if states[1] != StateRunning {
		t.Errorf("second transition = %v, want StateRunning", states[1])
	}
}

func TestProcessProvider_DeathAfterRunningReportsError(t *testing.T) {
	p := newShellProvider(t, `echo "url=https://five.example"; sleep 0.2; exit 7`)

	if _, err := p.Connect(context.Background(), 8080); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		status := p.Status(context.Background())
		if status.State == StateError {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never became StateError after process death, last %v", status.State)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProcessProvider_ChattyToolDeathStillReportsError(t *testing.T) {
	script := `echo "url=https://seven.example"
i=0
while [ $i -lt 200 ]; do echo "noise $i"; i=$((i+1)); done
sleep 0.2
exit 9`
	p := newShellProvider(t, script)

	if _, err := p.Connect(context.Background(), 8080); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		status := p.Status(context.Background())
		if status.State == StateError {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("death of a tool that logged past the line buffer was never reported, last %v", status.State)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProcessProvider_DisconnectDoesNotReportError(t *testing.T) {
	p := newShellProvider(t, `echo "url=https://six.example"; sleep 30`)

	if _, err := p.Connect(context.Background(), 8080); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := p.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	// The monitor goroutine sees the exit too; give it a moment and make
	// sure it did not flip a requested stop into an error.
	time.Sleep(100 * time.Millisecond)
	if status := p.Status(context.Background()); status.State != StateStopped {
		t.Errorf("Status() = %v after Disconnect, want StateStopped", status.State)
	}
}

func TestBuiltinProviderDefinitions(t *testing.T) {
	quick := NewQuickTunnelProvider()
	if quick.ID() != "cloudflared" {
		t.Errorf("quick tunnel id = %q", quick.ID())
	}
	args := quick.cfg.Args(8080)
	if len(args) != 3 || args[0] != "tunnel" || args[2] != "http://localhost:8080" {
		t.Errorf("quick tunnel args = %v", args)
	}
	if got := matchURL(quick.cfg.URLPattern, "INF |  https://brave-otter.trycloudflare.com  |"); got != "https://brave-otter.trycloudflare.com" {
		t.Errorf("quick tunnel pattern matched %q", got)
	}

	token := NewTokenTunnelProvider(nil)
	if token.ID() != "ngrok" {
		t.Errorf("token tunnel id = %q", token.ID())
	}
	line := `t=2026-01-02T10:00:00+0000 lvl=info msg="started tunnel" obj=tunnels name=command_line addr=http://localhost:3000 url=https://ab12cd.ngrok-free.app`
	if got := matchURL(token.cfg.URLPattern, line); got != "https://ab12cd.ngrok-free.app" {
		t.Errorf("token tunnel pattern matched %q", got)
	}
}
