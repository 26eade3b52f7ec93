package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "permission.rego")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(file, []byte("package a"), 0o644); err != nil {
		t.Fatal(err)
	}

	fw, err := NewFileWatcher([]string{file}, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}

	var reloads atomic.Int32
	var lastPath atomic.Value
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- fw.Watch(ctx, func(_ context.Context, path string) error {
			lastPath.Store(path)
			reloads.Add(1)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(file, []byte("package a\n# edit"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := os.WriteFile(other, []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	if n := reloads.Load(); n != 1 {
		t.Errorf("expected 1 debounced reload, got %d", n)
	}
	if p, _ := lastPath.Load().(string); filepath.Base(p) != "permission.rego" {
		t.Errorf("expected reload for permission.rego, got %q", p)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewFileWatcher_Errors(t *testing.T) {
	if _, err := NewFileWatcher(nil, 0, nil); err == nil {
		t.Error("expected error for no files")
	}
	if _, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "missing", "x.rego")}, 0, nil); err == nil {
		t.Error("expected error for a missing directory")
	}
}
