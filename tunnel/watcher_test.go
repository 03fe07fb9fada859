package tunnel

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWatcher_StartStop(t *testing.T) {
	w := NewWatcher(NewRegistry(), DefaultWatcherConfig())

	if w.IsRunning() {
		t.Error("fresh watcher reports running")
	}

	w.Start()
	if !w.IsRunning() {
		t.Error("watcher not running after Start")
	}

	// Starting twice must not panic or double-run the loop.
	w.Start()

	w.Stop()
	if w.IsRunning() {
		t.Error("watcher still running after Stop")
	}

	// Stopping twice must not panic on the closed channel.
	w.Stop()
}

func TestWatcher_ReportsStatusTransitions(t *testing.T) {
	registry := NewRegistry()
	p := newFakeProvider("cloudflared", Stopped())
	registry.Register(p)

	w := NewWatcher(registry, WatcherConfig{Interval: 20 * time.Millisecond, ProbeRetries: 0})

	type change struct {
		id       string
		old, new Status
	}
	var mu sync.Mutex
	var changes []change
	w.SetOnChange(func(providerID string, old, new Status) {
		mu.Lock()
		changes = append(changes, change{providerID, old, new})
		mu.Unlock()
	})

	w.Start()
	defer w.Stop()

	// Let the watcher record the baseline, then transition the provider.
	time.Sleep(60 * time.Millisecond)
	p.setStatus(Running("https://x.example", true))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never reported the transition")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	got := changes[0]
	if got.id != "cloudflared" {
		t.Errorf("change provider = %q", got.id)
	}
	if got.old.State != StateStopped {
		t.Errorf("change old state = %v, want StateStopped", got.old.State)
	}
	if got.new.State != StateRunning || got.new.URL != "https://x.example" {
		t.Errorf("change new status = %+v", got.new)
	}
}

func TestWatcher_FirstObservationIsNotAChange(t *testing.T) {
	registry := NewRegistry()
	registry.Register(newFakeProvider("ngrok", Running("https://y.example", true)))

	w := NewWatcher(registry, WatcherConfig{Interval: 20 * time.Millisecond, ProbeRetries: 0})

	var mu sync.Mutex
	fired := 0
	w.SetOnChange(func(string, Status, Status) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	w.Start()
	time.Sleep(100 * time.Millisecond)
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Errorf("callback fired %d times for a steady provider", fired)
	}
}

// flakyProvider fails its first Status calls, then recovers.
type flakyProvider struct {
	fakeProvider
	failures int
	calls    int
}

func (f *flakyProvider) Status(ctx context.Context) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return Failed("agent query failed")
	}
	return Running("https://z.example", false)
}

func TestWatcher_ProbeRetriesTransientErrors(t *testing.T) {
	p := &flakyProvider{failures: 2}
	p.id = "flaky"

	w := NewWatcher(NewRegistry(), WatcherConfig{Interval: time.Minute, ProbeRetries: 3})

	status := w.probe(p)
	if status.State != StateRunning {
		t.Errorf("probe() settled on %v, want StateRunning after recovery", status.State)
	}
	if p.calls != 3 {
		t.Errorf("provider probed %d times, want 3", p.calls)
	}
}

func TestWatcher_ProbeAcceptsPersistentError(t *testing.T) {
	p := &flakyProvider{failures: 100}
	p.id = "down"

	w := NewWatcher(NewRegistry(), WatcherConfig{Interval: time.Minute, ProbeRetries: 1})

	status := w.probe(p)
	if status.State != StateError {
		t.Errorf("probe() = %v for a persistently failing provider, want StateError", status.State)
	}
	if p.calls != 2 {
		t.Errorf("provider probed %d times, want 2 (initial + one retry)", p.calls)
	}
}
