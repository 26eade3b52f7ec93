package cli

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tkingovr/agent-governor/internal/app"
	"github.com/tkingovr/agent-governor/internal/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestServeApp_WatcherFailureStartsNothing(t *testing.T) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg = config.DefaultConfig()
	config.ApplyDefaults(cfg)
	cfg.Server.Addr = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	missing := filepath.Join(t.TempDir(), "absent", "policy.rego")
	done := make(chan error, 1)
	go func() { done <- serveApp(ctx, a, []string{missing}) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "file watcher") {
			t.Fatalf("expected file watcher error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected serveApp to return when the watcher cannot start")
	}

	// The admin server must not have been started.
	l, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		t.Fatalf("expected %s to be free, got %v", cfg.Server.Addr, err)
	}
	l.Close()
}
