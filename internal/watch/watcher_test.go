package watch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/f-sync/followback/internal/watch"
)

const (
	testDebounce     = 50 * time.Millisecond
	reloadWaitPeriod = 3 * time.Second
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatcherReloadsOnceAfterBurstOfWrites(t *testing.T) {
	directory := t.TempDir()
	followersPath := filepath.Join(directory, "followers.json")
	followingPath := filepath.Join(directory, "following.json")
	for _, path := range []string{followersPath, followingPath} {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	reloaded := make(chan struct{}, 8)
	var reloadCount atomic.Int32
	watcher, err := watch.NewWatcher(watch.Config{
		Paths:    []string{followersPath, followingPath, "https://example.com/remote.json"},
		Debounce: testDebounce,
		Reload: func(context.Context) error {
			reloadCount.Add(1)
			reloaded <- struct{}{}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	for attempt := 0; attempt < 5; attempt++ {
		if err := os.WriteFile(followingPath, []byte(`[{"title":"alice"}]`), 0o644); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(directory, "unrelated.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(reloadWaitPeriod):
		t.Fatalf("reload was not triggered")
	}
	time.Sleep(4 * testDebounce)
	if count := reloadCount.Load(); count != 1 {
		t.Fatalf("reload count = %d, want 1", count)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run error: %v", err)
	}
}

func TestNewWatcherRequiresLocalPaths(t *testing.T) {
	_, err := watch.NewWatcher(watch.Config{Paths: []string{"https://example.com/a.json", " "}})
	if !errors.Is(err, watch.ErrNothingToWatch) {
		t.Fatalf("NewWatcher error = %v, want %v", err, watch.ErrNothingToWatch)
	}
}

func TestNewWatcherFailsForMissingDirectory(t *testing.T) {
	_, err := watch.NewWatcher(watch.Config{Paths: []string{filepath.Join(t.TempDir(), "absent", "followers.json")}})
	if err == nil {
		t.Fatalf("expected error for a missing directory")
	}
}
