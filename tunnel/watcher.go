// Package tunnel provides tunnel provider management functionality.
// This file contains the Watcher, a periodic poller that detects status
// transitions for providers without their own supervising goroutine.
package tunnel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/adlara/tunnel-manager/common"
)

// WatcherConfig holds configuration for the status watcher.
type WatcherConfig struct {
	// Interval is how often registered providers are re-polled.
	Interval time.Duration
	// ProbeRetries is how many times a failing probe is retried with
	// exponential backoff before its error state is accepted.
	ProbeRetries uint64
}

// DefaultWatcherConfig returns sensible defaults for status watching.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Interval:     common.WatchInterval,
		ProbeRetries: 2,
	}
}

// Watcher polls every registered provider and reports status transitions.
// It is purely observational: it never reconnects or tears anything down.
type Watcher struct {
	mu       sync.Mutex
	registry *Registry
	config   WatcherConfig
	running  bool
	stopChan chan struct{}
	last     map[string]Status
	onChange func(providerID string, old, new Status)
}

// NewWatcher creates a watcher over the given registry.
func NewWatcher(registry *Registry, config WatcherConfig) *Watcher {
	return &Watcher{
		registry: registry,
		config:   config,
		stopChan: make(chan struct{}),
		last:     make(map[string]Status),
	}
}

// SetOnChange sets a callback for provider status transitions.
func (w *Watcher) SetOnChange(callback func(providerID string, old, new Status)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = callback
}

// Start begins the polling loop.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	common.LogInfo("Status watcher started (interval: %v)", w.config.Interval)

	go w.runLoop()
}

// Stop stops the polling loop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	common.LogInfo("Status watcher stopped")
}

// IsRunning returns whether the watcher is currently polling.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// runLoop is the main polling loop.
func (w *Watcher) runLoop() {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkAll()
		}
	}
}

// checkAll polls every registered provider once.
func (w *Watcher) checkAll() {
	for _, p := range w.registry.All() {
		status := w.probe(p)

		w.mu.Lock()
		prev, seen := w.last[p.ID()]
		changed := seen && (prev.State != status.State || prev.URL != status.URL)
		w.last[p.ID()] = status
		callback := w.onChange
		w.mu.Unlock()

		if !changed {
			continue
		}

		common.LogInfo("Provider %s changed state: %s -> %s", p.ID(), prev.State, status.State)
		if callback != nil {
			callback(p.ID(), prev, status)
		}
	}
}

// probe queries one provider, retrying transient error states with
// exponential backoff so a flaky agent CLI doesn't flap the indicator.
func (w *Watcher) probe(p Provider) Status {
	var status Status

	operation := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), common.ProbeTimeout)
		defer cancel()

		status = p.Status(ctx)
		if status.State == StateError {
			return errors.New(status.Reason)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	if err := backoff.Retry(operation, backoff.WithMaxRetries(bo, w.config.ProbeRetries)); err != nil {
		common.LogDebug("Probe for %s still failing after retries: %v", p.ID(), err)
	}
	return status
}
