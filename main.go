// Package main provides the entry point for the Tunnel Manager application.
// Tunnel Manager exposes a local port to the network through interchangeable
// tunnel providers: Cloudflare quick tunnels, ngrok, or a Tailscale mesh.
//
// Features:
//   - One lifecycle contract over unrelated tunnel backends
//   - Supervised tunnel processes that are never leaked
//   - Secure credential storage using the system keyring
//   - Session history for previously issued public URLs
//   - Command-line interface for scripting and automation
//
// Usage:
//
//	tunnel-manager [options]
//
// Environment:
//
//	Each provider requires its backing tool (cloudflared, ngrok, or
//	tailscale) to be installed; missing tools are reported, not fatal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/adlara/tunnel-manager/cli"
	"github.com/adlara/tunnel-manager/common"
	"github.com/adlara/tunnel-manager/config"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	// Command flags
	listProviders = flag.Bool("list", false, "List available tunnel providers")
	connectID     = flag.String("connect", "", "Expose a local port through a provider")
	localPort     = flag.Int("port", 8080, "Local port to expose")
	disconnectID  = flag.String("disconnect", "", "Disconnect a provider (use 'all' or provider id)")
	showStatus    = flag.Bool("status", false, "Show current tunnel status")
	watchStatus   = flag.Bool("watch", false, "Follow provider status transitions")
	showHistory   = flag.Bool("history", false, "Show recent tunnel sessions")
	setTokenID    = flag.String("set-token", "", "Save an auth token for a provider (reads token from stdin)")
	removeTokenID = flag.String("remove-token", "", "Remove a provider's saved auth token")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("Tunnel Manager v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load configuration, using defaults: %v\n", err)
		cfg = config.DefaultConfig()
	}

	if err := common.InitLogger(loggerConfig(cfg, *verbose)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// Cancelled on SIGINT/SIGTERM; --connect holds the tunnel open until then.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if *listProviders || *connectID != "" || *disconnectID != "" ||
		*showStatus || *watchStatus || *showHistory ||
		*setTokenID != "" || *removeTokenID != "" {
		runCLI(ctx, cfg)
		return
	}

	cli.PrintHelp()
}

// loggerConfig translates app settings and the verbose flag into the
// logger's configuration.
func loggerConfig(cfg *config.Config, verbose bool) common.LogConfig {
	level := common.LevelInfo
	if verbose {
		level = common.LevelDebug
	}
	return common.LogConfig{
		Level:       level,
		EnableFile:  cfg.EnableFileLog,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}
}

// runCLI dispatches the selected command.
func runCLI(ctx context.Context, cfg *config.Config) {
	app, err := cli.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	select {
	case <-ctx.Done():
		common.LogInfo("Operation cancelled before execution")
		return
	default:
	}

	var cliErr error

	switch {
	case *listProviders:
		cliErr = app.ListProviders()
	case *connectID != "":
		cliErr = app.Connect(ctx, *connectID, *localPort)
	case *disconnectID != "":
		cliErr = app.Disconnect(*disconnectID)
	case *showStatus:
		cliErr = app.Status()
	case *watchStatus:
		cliErr = app.Watch(ctx)
	case *showHistory:
		cliErr = app.History()
	case *setTokenID != "":
		token, err := readToken()
		if err != nil {
			cliErr = err
			break
		}
		cliErr = app.SetToken(*setTokenID, token)
	case *removeTokenID != "":
		cliErr = app.RemoveToken(*removeTokenID)
	}

	if cliErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cliErr)
		os.Exit(1)
	}
}

// readToken reads an auth token from stdin. On a terminal the input is not
// echoed, so the token stays out of scrollback; piped input is read as a
// single line.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("Token: ")
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context so an open tunnel is
// torn down before exit.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
