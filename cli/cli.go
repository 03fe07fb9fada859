// Package cli provides command-line interface functionality for Tunnel
// Manager. It wires the built-in providers into a registry and exposes
// list, connect, status, and credential operations for the terminal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/adlara/tunnel-manager/common"
	"github.com/adlara/tunnel-manager/config"
	"github.com/adlara/tunnel-manager/credential"
	"github.com/adlara/tunnel-manager/history"
	"github.com/adlara/tunnel-manager/tunnel"
)

// CLI represents the command-line interface.
type CLI struct {
	config     *config.Config
	registry   *tunnel.Registry
	history    *history.Store
	ngrokCreds *credential.Store
}

// New creates a new CLI instance with all built-in providers registered.
func New(cfg *config.Config) (*CLI, error) {
	dataDir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(filepath.Join(dataDir, common.HistoryFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open session history: %w", err)
	}

	if pruned, err := hist.Prune(cfg.HistoryRetention()); err != nil {
		common.LogWarn("Could not prune session history: %v", err)
	} else if pruned > 0 {
		common.LogDebug("Pruned %d sessions older than %d days", pruned, cfg.HistoryRetentionDays)
	}

	ngrokCreds := newNgrokCredentialStore()

	registry := tunnel.NewRegistry()
	registry.Register(tunnel.NewQuickTunnelProvider())
	registry.Register(tunnel.NewTokenTunnelProvider(ngrokCreds))
	registry.Register(tunnel.NewMeshProvider())

	return &CLI{
		config:     cfg,
		registry:   registry,
		history:    hist,
		ngrokCreds: ngrokCreds,
	}, nil
}

// Close releases resources held by the CLI.
func (c *CLI) Close() error {
	return c.history.Close()
}

// newNgrokCredentialStore builds the two-tier credential store for the
// ngrok auth token: the tool's own config file is ground truth, the system
// keyring is a repairable cache.
func newNgrokCredentialStore() *credential.Store {
	home, _ := os.UserHomeDir()
	// Key doubles as the config-file line key, so it must match what the
	// tool itself writes ("authtoken: ..." in ngrok.yml).
	return credential.NewStore(credential.Config{
		Service: common.ConfigDirName + "-ngrok",
		Key:     "authtoken",
		ConfigPaths: []string{
			filepath.Join(home, ".config", "ngrok", "ngrok.yml"),
			filepath.Join(home, ".ngrok2", "ngrok.yml"),
		},
		CLIBinary: "ngrok",
		CLIArgs: func(token string) []string {
			return []string{"config", "add-authtoken", token}
		},
	}, credential.NewSystemKeyring())
}

// ListProviders lists all registered tunnel providers.
func (c *CLI) ListProviders() error {
	providers := c.registry.All()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tINSTALLED\tSTATUS")
	fmt.Fprintln(w, "--\t----\t---------\t------")

	for _, p := range providers {
		installed := "No"
		if p.IsInstalled() {
			installed = "Yes"
		}

		ctx, cancel := context.WithTimeout(context.Background(), common.ProbeTimeout)
		status := p.Status(ctx)
		cancel()

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			p.ID(), p.DisplayName(), installed, status.State)
	}

	w.Flush()
	return nil
}

// Connect exposes the given local port through the named provider and
// keeps the tunnel open until the context is cancelled.
func (c *CLI) Connect(ctx context.Context, providerID string, port int) error {
	p, ok := c.registry.Get(providerID)
	if !ok {
		return fmt.Errorf("unknown provider: %s (try --list)", providerID)
	}

	fmt.Printf("Connecting %s for local port %d...\n", p.DisplayName(), port)

	sessionID, err := c.history.RecordStart(p.ID(), port)
	if err != nil {
		common.LogWarn("Could not record session: %v", err)
	}

	// Detect the tunnel dying after it was established.
	died := make(chan tunnel.Status, 1)
	p.OnStatusChange(func(s tunnel.Status) {
		if s.State == tunnel.StateError {
			select {
			case died <- s:
			default:
			}
		}
	})

	url, err := p.Connect(ctx, port)
	if err != nil {
		c.recordEnd(sessionID, history.OutcomeFailed)

		var terr *tunnel.Error
		if errors.As(err, &terr) && terr.Instruction != "" {
			return fmt.Errorf("action required: %s", terr.Instruction)
		}
		return fmt.Errorf("connection failed: %w", err)
	}

	if sessionID != "" {
		if err := c.history.RecordURL(sessionID, url); err != nil {
			common.LogWarn("Could not record session URL: %v", err)
		}
	}

	fmt.Printf("✓ Tunnel established: %s\n", url)

	status := p.Status(ctx)
	if status.State == tunnel.StateRunning && status.Ephemeral {
		fmt.Println("  (URL is ephemeral and changes on every connect)")
		fmt.Println("  Press Ctrl+C to stop the tunnel.")

		select {
		case <-ctx.Done():
			fmt.Println("\nStopping tunnel...")
			stopCtx, cancel := context.WithTimeout(context.Background(), c.config.DisconnectGrace()+time.Second)
			defer cancel()
			if err := p.Disconnect(stopCtx); err != nil {
				common.LogWarn("Disconnect failed: %v", err)
			}
			c.recordEnd(sessionID, history.OutcomeDisconnected)
			fmt.Println("✓ Tunnel stopped")
		case s := <-died:
			c.recordEnd(sessionID, history.OutcomeFailed)
			return fmt.Errorf("tunnel failed: %s", s.Reason)
		}
		return nil
	}

	// Stable endpoints (the mesh) outlive this process; nothing to hold open.
	c.recordEnd(sessionID, history.OutcomeDisconnected)
	return nil
}

// Disconnect tears down the named provider's tunnel. With no name, every
// registered provider is disconnected.
func (c *CLI) Disconnect(providerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DisconnectGrace()+time.Second)
	defer cancel()

	if providerID == "" || providerID == "all" {
		for _, p := range c.registry.All() {
			if err := p.Disconnect(ctx); err != nil {
				fmt.Printf("  Warning: %s: %v\n", p.ID(), err)
			}
		}
		fmt.Println("✓ Disconnected")
		return nil
	}

	p, ok := c.registry.Get(providerID)
	if !ok {
		return fmt.Errorf("unknown provider: %s (try --list)", providerID)
	}
	if err := p.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	fmt.Printf("✓ Disconnected %s\n", p.DisplayName())
	return nil
}

// Status shows the current status of every registered provider.
func (c *CLI) Status() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSTATUS\tURL")
	fmt.Fprintln(w, "--------\t------\t---")

	for _, p := range c.registry.All() {
		ctx, cancel := context.WithTimeout(context.Background(), common.ProbeTimeout)
		status := p.Status(ctx)
		cancel()

		url := status.URL
		if url == "" {
			url = "-"
		}
		detail := status.State.String()
		if status.State == tunnel.StateError {
			detail = fmt.Sprintf("%s (%s)", detail, status.Reason)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", p.DisplayName(), detail, url)
	}

	w.Flush()
	return nil
}

// Watch follows provider status transitions until the context is
// cancelled, printing one line per change.
func (c *CLI) Watch(ctx context.Context) error {
	watcherCfg := tunnel.DefaultWatcherConfig()
	watcherCfg.Interval = c.config.WatchInterval()

	watcher := tunnel.NewWatcher(c.registry, watcherCfg)
	watcher.SetOnChange(func(providerID string, old, new tunnel.Status) {
		line := fmt.Sprintf("%s  %s: %s -> %s",
			time.Now().Format("15:04:05"), providerID, old.State, new.State)
		if new.URL != "" {
			line += "  " + new.URL
		}
		fmt.Println(line)
	})

	fmt.Printf("Watching providers every %v. Press Ctrl+C to stop.\n", watcherCfg.Interval)
	watcher.Start()
	defer watcher.Stop()

	<-ctx.Done()
	return nil
}

// History shows recent tunnel sessions.
func (c *CLI) History() error {
	sessions, err := c.history.Recent(c.config.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to read session history: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No recorded tunnel sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPROVIDER\tPORT\tURL\tOUTCOME")
	fmt.Fprintln(w, "-------\t--------\t----\t---\t-------")

	for _, sess := range sessions {
		url := sess.URL
		if url == "" {
			url = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			sess.StartedAt.Local().Format("2006-01-02 15:04"),
			sess.ProviderID, sess.Port, url, sess.Outcome)
	}

	w.Flush()
	return nil
}

// SetToken saves an auth token for a provider that requires one.
func (c *CLI) SetToken(providerID, token string) error {
	creds, err := c.credentialsFor(providerID)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	if err := creds.Save(token, ""); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	fmt.Printf("✓ Token saved for %s\n", providerID)
	return nil
}

// RemoveToken removes a provider's auth token from the secure store. The
// tool's own config file is left untouched.
func (c *CLI) RemoveToken(providerID string) error {
	creds, err := c.credentialsFor(providerID)
	if err != nil {
		return err
	}
	if err := creds.Remove(); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	fmt.Printf("✓ Token removed for %s\n", providerID)
	return nil
}

func (c *CLI) credentialsFor(providerID string) (*credential.Store, error) {
	switch providerID {
	case "ngrok":
		return c.ngrokCreds, nil
	default:
		return nil, fmt.Errorf("provider %s does not use an auth token", providerID)
	}
}

func (c *CLI) recordEnd(sessionID, outcome string) {
	if sessionID == "" {
		return
	}
	if err := c.history.RecordEnd(sessionID, outcome); err != nil {
		common.LogWarn("Could not record session end: %v", err)
	}
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`Tunnel Manager - Command Line Interface

Usage:
  tunnel-manager [OPTIONS]

Options:
  --version            Show version and exit
  --verbose            Enable verbose logging
  --list               List available tunnel providers
  --connect PROVIDER   Expose a local port through a provider
  --port PORT          Local port to expose (default 8080)
  --disconnect [ID]    Disconnect a provider (all if no id)
  --status             Show current tunnel status
  --watch              Follow provider status transitions
  --history            Show recent tunnel sessions
  --set-token PROVIDER Save an auth token (reads the token from stdin)
  --remove-token PROVIDER Remove a saved auth token
  --help               Show this help message

Examples:
  tunnel-manager --list
  tunnel-manager --connect cloudflared --port 3000
  tunnel-manager --connect tailscale
  tunnel-manager --set-token ngrok
  tunnel-manager --status

Notes:
  - cloudflared and ngrok tunnels stay open until Ctrl+C
  - ngrok requires an auth token (--set-token ngrok)
  - tailscale is observed only; connect via the Tailscale app`)
}
