package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tkingovr/agent-governor/internal/app"
	"github.com/tkingovr/agent-governor/internal/watch"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API with file watching and audit retention",
	Long: `Start the admin HTTP API. When the permission stage is enabled its Rego
policy file is watched and reloaded on change, and audit entries older than
output_guard.audit.retention_days are pruned on the configured schedule.`,
	Example: `  governor serve -c governor.yaml
  governor serve -c governor.yaml --listen :9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "listen", "l", "", "admin API listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return serveApp(ctx, a, a.WatchedFiles())
}

// serveApp runs the admin server, the retention jobs and, when files is
// non-empty, the reload watcher until ctx ends. Every component that can
// fail to start does so before the server goroutine begins.
func serveApp(ctx context.Context, a *app.App, files []string) error {
	if err := a.Retention.Start(ctx); err != nil {
		return fmt.Errorf("starting audit retention: %w", err)
	}
	defer a.Retention.Stop()
	if err := a.ApprovalRetention.Start(ctx); err != nil {
		return fmt.Errorf("starting approval retention: %w", err)
	}
	defer a.ApprovalRetention.Stop()

	var fw *watch.FileWatcher
	if len(files) > 0 {
		var err error
		fw, err = watch.NewFileWatcher(files, 0, logger)
		if err != nil {
			return fmt.Errorf("starting file watcher: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	srv := a.Server()
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if fw != nil {
		g.Go(func() error {
			return fw.Watch(ctx, a.ReloadFile)
		})
	}

	logger.Info("governor started",
		"addr", cfg.Server.Addr,
		"storage", cfg.Storage.Driver,
		"stages", len(a.Guard.Stages()),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("governor stopped")
	return nil
}
