// Package credential provides two-tier persistence for tunnel auth tokens.
package credential

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adlara/tunnel-manager/common"
)

// Config describes where a tool keeps its credential and how its companion
// CLI writes it.
type Config struct {
	// Service is the namespace used in the secure store.
	Service string
	// Key is the tool-specific credential key name, e.g. "authtoken".
	Key string
	// ConfigPaths are candidate config file locations in priority order,
	// modern location first, legacy locations after.
	ConfigPaths []string
	// CLIBinary is the companion CLI that normally writes the config file.
	// When it is not on PATH the store writes the file directly.
	CLIBinary string
	// CLIArgs builds the companion CLI invocation that persists a token.
	CLIArgs func(token string) []string
}

// Store persists one tool's credential in two tiers: the tool's own config
// file (durable, survives reinstalls) and a SecureStore (fast cache). The
// config file never derives from the secure store; the secure store is
// repaired from the file, never the reverse.
type Store struct {
	cfg    Config
	secure SecureStore
	mu     sync.Mutex

	// Injection points for tests.
	lookPath func(file string) (string, error)
	runCLI   func(name string, args ...string) error
}

// NewStore creates a credential store for one tool.
func NewStore(cfg Config, secure SecureStore) *Store {
	return &Store{
		cfg:      cfg,
		secure:   secure,
		lookPath: exec.LookPath,
		runCLI: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Detect locates the credential. Config file paths are checked in priority
// order first; a token found there is copied into the secure store if the
// store doesn't already hold it (self-heal, silent). If no file has the
// token, the secure store is consulted as a fallback.
// Returns common.ErrCredentialNotFound when neither tier has it.
func (s *Store) Detect() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range s.cfg.ConfigPaths {
		token, err := readTokenLine(path, s.cfg.Key)
		if err != nil || token == "" {
			continue
		}

		if _, err := s.secure.Get(s.cfg.Service, s.cfg.Key); err != nil {
			if err := s.secure.Set(s.cfg.Service, s.cfg.Key, token); err != nil {
				// Self-heal is best effort; the file remains authoritative.
				common.LogWarn("Could not repair secure store for %s: %v", s.cfg.Service, err)
			} else {
				common.LogDebug("Secure store repaired from %s", path)
			}
		}
		return token, nil
	}

	token, err := s.secure.Get(s.cfg.Service, s.cfg.Key)
	if err != nil {
		return "", common.ErrCredentialNotFound
	}
	return token, nil
}

// Save persists a token. The secure store is always written. The config file
// is written through the companion CLI when it is available, otherwise
// directly (idempotent in-place replace, atomic temp+rename). configPath
// overrides the default target file when non-empty.
func (s *Store) Save(token, configPath string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.secure.Set(s.cfg.Service, s.cfg.Key, token); err != nil {
		return common.WrapError(common.ErrCredentialStorage, err.Error())
	}

	if s.cfg.CLIBinary != "" {
		if _, err := s.lookPath(s.cfg.CLIBinary); err == nil {
			if err := s.runCLI(s.cfg.CLIBinary, s.cfg.CLIArgs(token)...); err == nil {
				return nil
			}
			common.LogWarn("%s failed to persist token, writing config file directly", s.cfg.CLIBinary)
		}
	}

	target := configPath
	if target == "" {
		if len(s.cfg.ConfigPaths) == 0 {
			return errors.New("no config path configured for direct write")
		}
		target = s.cfg.ConfigPaths[0]
	}
	return writeTokenLine(target, s.cfg.Key, token)
}

// Remove clears only the secure-store entry. The config file line is left
// alone so the credential survives and Detect can repair the store later.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secure.Delete(s.cfg.Service, s.cfg.Key)
}

// readTokenLine scans a "key: value" config file for the credential key.
// Returns "" when the file or the key is missing.
func readTokenLine(path, key string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		k, v, found := strings.Cut(trimmed, ":")
		if !found || strings.TrimSpace(k) != key {
			continue
		}
		return strings.TrimSpace(v), nil
	}
	return "", nil
}

// writeTokenLine replaces the credential line in place or appends it,
// preserving all unrelated lines and their order. The write is atomic:
// a temp file in the same directory is renamed over the target.
func writeTokenLine(path, key, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		lines = strings.Split(string(data), "\n")
		// Drop a single trailing empty element from the final newline so we
		// don't accumulate blank lines across writes.
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
	}

	entry := key + ": " + token
	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if k, _, found := strings.Cut(trimmed, ":"); found && strings.TrimSpace(k) == key {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	content := strings.Join(lines, "\n") + "\n"

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
