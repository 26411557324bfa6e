package roster

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusworks/rollsync/internal/reconcile"
	"github.com/campusworks/rollsync/internal/store/storetest"
)

func TestWatcherAppliesOnChange(t *testing.T) {
	path := writeRoster(t, validRoster)
	rec := reconcile.New(storetest.NewIdentities(), storetest.NewProfiles(), zerolog.Nop())

	applied := make(chan Summary, 4)
	w, err := NewWatcher(path, rec, WatcherConfig{
		DebounceInterval: 50 * time.Millisecond,
		OnApply:          func(s Summary) { applied <- s },
		Logger:           zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Initial apply on startup.
	select {
	case s := <-applied:
		if s.Counts[reconcile.Created] != 2 {
			t.Errorf("initial apply created = %d, want 2", s.Counts[reconcile.Created])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial apply")
	}

	// A rewrite triggers a re-apply; idempotence makes it all Updated.
	if err := os.WriteFile(path, []byte(validRoster), 0600); err != nil {
		t.Fatalf("rewrite roster: %v", err)
	}

	select {
	case s := <-applied:
		if s.Counts[reconcile.Updated] != 2 {
			t.Errorf("re-apply updated = %d, want 2", s.Counts[reconcile.Updated])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for re-apply")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatcherReportsLoadErrors(t *testing.T) {
	path := writeRoster(t, "entries: [")
	rec := reconcile.New(storetest.NewIdentities(), storetest.NewProfiles(), zerolog.Nop())

	errs := make(chan error, 4)
	w, err := NewWatcher(path, rec, WatcherConfig{
		DebounceInterval: 50 * time.Millisecond,
		OnError:          func(err error) { errs <- err },
		Logger:           zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	select {
	case err := <-errs:
		if err == nil {
			t.Error("OnError called with nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for load error")
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	rec := reconcile.New(storetest.NewIdentities(), storetest.NewProfiles(), zerolog.Nop())
	if _, err := NewWatcher("/nonexistent/dir/roster.yaml", rec, WatcherConfig{Logger: zerolog.Nop()}); err == nil {
		t.Error("NewWatcher on missing directory = nil error")
	}
}
