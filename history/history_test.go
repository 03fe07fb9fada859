package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SessionLifecycle(t *testing.T) {
	store := openTestStore(t)

	id, err := store.RecordStart("cloudflared", 8080)
	if err != nil {
		t.Fatalf("RecordStart() error: %v", err)
	}
	if id == "" {
		t.Fatal("RecordStart() returned empty session id")
	}

	if err := store.RecordURL(id, "https://x.example"); err != nil {
		t.Fatalf("RecordURL() error: %v", err)
	}
	if err := store.RecordEnd(id, OutcomeDisconnected); err != nil {
		t.Fatalf("RecordEnd() error: %v", err)
	}

	sessions, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Recent() returned %d sessions, want 1", len(sessions))
	}

	sess := sessions[0]
	if sess.ID != id {
		t.Errorf("session id = %q, want %q", sess.ID, id)
	}
	if sess.ProviderID != "cloudflared" {
		t.Errorf("provider id = %q, want cloudflared", sess.ProviderID)
	}
	if sess.Port != 8080 {
		t.Errorf("port = %d, want 8080", sess.Port)
	}
	if sess.URL != "https://x.example" {
		t.Errorf("url = %q, want https://x.example", sess.URL)
	}
	if sess.Outcome != OutcomeDisconnected {
		t.Errorf("outcome = %q, want %q", sess.Outcome, OutcomeDisconnected)
	}
	if sess.EndedAt.IsZero() {
		t.Error("EndedAt should be set after RecordEnd")
	}
}

func TestStore_RecentOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)

	first, err := store.RecordStart("ngrok", 3000)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := store.RecordStart("cloudflared", 3001)
	if err != nil {
		t.Fatal(err)
	}

	sessions, err := store.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Recent() returned %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second || sessions[1].ID != first {
		t.Errorf("sessions not ordered newest first: %v", []string{sessions[0].ID, sessions[1].ID})
	}
}

func TestStore_RecentRespectsLimit(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := store.RecordStart("cloudflared", 8000+i); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := store.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Errorf("Recent(3) returned %d sessions", len(sessions))
	}
}

func TestStore_PruneKeepsActiveSessions(t *testing.T) {
	store := openTestStore(t)

	active, err := store.RecordStart("cloudflared", 8080)
	if err != nil {
		t.Fatal(err)
	}
	finished, err := store.RecordStart("ngrok", 9090)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RecordEnd(finished, OutcomeFailed); err != nil {
		t.Fatal(err)
	}

	// Retention window in the past prunes everything finished.
	deleted, err := store.Prune(-time.Hour)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Prune() deleted %d rows, want 1", deleted)
	}

	sessions, err := store.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != active {
		t.Errorf("active session should survive pruning, got %v", sessions)
	}
}
