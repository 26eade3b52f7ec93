// Package app assembles the governor runtime from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tkingovr/agent-governor/internal/admin"
	"github.com/tkingovr/agent-governor/internal/approval"
	"github.com/tkingovr/agent-governor/internal/audit"
	"github.com/tkingovr/agent-governor/internal/config"
	"github.com/tkingovr/agent-governor/internal/governor"
	"github.com/tkingovr/agent-governor/internal/guard"
	"github.com/tkingovr/agent-governor/internal/hooks"
	"github.com/tkingovr/agent-governor/internal/invalidation"
	"github.com/tkingovr/agent-governor/internal/metrics"
	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/server"
	"github.com/tkingovr/agent-governor/internal/store/sqlite"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// PrunableStore is an audit store that supports retention pruning.
type PrunableStore interface {
	audit.Store
	audit.Pruner
}

// App holds every long-lived component.
type App struct {
	Config     *config.Config
	Bus        *invalidation.Bus
	Metrics    *metrics.Collector
	Tools      *toolpolicy.Engine
	Guard      *guard.Pipeline
	Permission *guard.PermissionStage
	Hooks      *hooks.Dispatcher
	Governor   *governor.Governor
	Admin      *admin.Service
	Audit      PrunableStore
	Approvals  approval.Store
	Retention  *audit.Scheduler

	// ApprovalRetention prunes resolved and expired approval checkpoints.
	ApprovalRetention *audit.Scheduler

	logger  *slog.Logger
	closers []io.Closer
}

// New builds the runtime and seeds the configured policy and rules into
// empty stores.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{
		Config: cfg,
		Bus:    invalidation.New(),
		Metrics: metrics.NewCollector(metrics.Options{
			Enabled:   cfg.Metrics.Enabled,
			Namespace: cfg.Metrics.Namespace,
		}),
		logger: logger,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	policies, rules, err := a.openStores()
	if err != nil {
		return nil, err
	}
	approvals, err := a.openApprovals()
	if err != nil {
		return nil, err
	}
	a.Approvals = approvals

	a.Tools = toolpolicy.NewEngine(policies, a.Bus,
		toolpolicy.WithAlwaysApprove(cfg.Hooks.AlwaysApprove...),
		toolpolicy.WithLogger(logger),
	)

	a.Guard, a.Permission, err = guard.Build(cfg.Guard, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("building guard pipeline: %w", err)
	}

	a.Hooks = hooks.NewDispatcher(approvals,
		hooks.WithLogger(logger),
		hooks.WithMetrics(a.Metrics),
		hooks.WithApprovalTTL(cfg.Hooks.ApprovalTTLDuration()),
	)
	if err := governor.RegisterBuiltins(a.Hooks, a.Tools, cfg.Hooks); err != nil {
		return nil, fmt.Errorf("registering hooks: %w", err)
	}

	evaluator := outputguard.NewEvaluator(logger)
	a.Governor = governor.New(governor.Deps{
		Guard:   a.Guard,
		Hooks:   a.Hooks,
		Tools:   a.Tools,
		Output:  outputguard.NewPipeline(outputguard.NewCachedRules(rules, a.Bus, logger), evaluator, a.Metrics, logger),
		Metrics: a.Metrics,
		Logger:  logger,
	})

	a.Admin = admin.NewService(admin.Deps{
		Policies:     policies,
		Rules:        rules,
		Audit:        a.Audit,
		Bus:          a.Bus,
		Evaluator:    evaluator,
		Metrics:      a.Metrics,
		Logger:       logger,
		DefaultLimit: cfg.OutputGuard.Audit.DefaultLimit,
		MaxLimit:     cfg.OutputGuard.Audit.MaxLimit,
	})
	a.Retention = audit.NewScheduler(a.Audit, cfg.OutputGuard.Audit.RetentionDays, cfg.OutputGuard.Audit.PruneSchedule, logger)
	a.ApprovalRetention = audit.NewScheduler(approvals, cfg.Hooks.ApprovalRetentionDays, cfg.Hooks.ApprovalPruneSchedule, logger,
		audit.WithTarget("approvals"))

	if err := a.seed(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStores() (toolpolicy.Store, outputguard.RuleStore, error) {
	cfg := a.Config
	maxEntries := cfg.OutputGuard.Audit.MaxEntries

	switch cfg.Storage.Driver {
	case "sqlite":
		if err := ensureDir(cfg.Storage.Path); err != nil {
			return nil, nil, err
		}
		db, err := sqlite.Open(cfg.Storage.Path, a.logger)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db)
		auditStore := db.AuditStore(maxEntries)
		a.closers = append(a.closers, auditStore)
		a.Audit = auditStore
		return db.PolicyStore(), db.RuleStore(), nil

	case "memory", "":
		if dir := cfg.OutputGuard.Audit.JSONLDir; dir != "" {
			js, err := audit.NewJSONLStore(dir, maxEntries)
			if err != nil {
				return nil, nil, fmt.Errorf("opening audit log: %w", err)
			}
			a.closers = append(a.closers, js)
			a.Audit = js
		} else {
			ms := audit.NewMemoryStore(maxEntries)
			a.closers = append(a.closers, ms)
			a.Audit = ms
		}
		return toolpolicy.NewMemoryStore(), outputguard.NewMemoryRuleStore(), nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func (a *App) openApprovals() (approval.Store, error) {
	if a.Config.Storage.Driver != "sqlite" {
		return approval.NewQueue(), nil
	}
	path := a.Config.Storage.ApprovalsPath
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	store, err := approval.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)
	return store, nil
}

func (a *App) seed(ctx context.Context) error {
	cfg := a.Config
	if err := a.Admin.SeedPolicy(ctx, cfg.ToolPolicy); err != nil {
		return fmt.Errorf("seeding tool policy: %w", err)
	}

	rules := cfg.OutputGuard.Rules
	if cfg.OutputGuard.SeedDefaults {
		rules = append(outputguard.DefaultRules(), rules...)
	}
	if _, err := a.Admin.SeedRules(ctx, rules); err != nil {
		return err
	}
	return nil
}

// Server returns the admin HTTP server for the configured address.
func (a *App) Server() *server.Server {
	path := ""
	if a.Config.Metrics.Enabled {
		path = a.Config.Metrics.Path
	}
	return server.NewServer(a.Config.Server.Addr, server.Deps{
		Admin:       a.Admin,
		Governor:    a.Governor,
		Tools:       a.Tools,
		Revisions:   a.Bus,
		Metrics:     a.Metrics,
		MetricsPath: path,
		Logger:      a.logger,
	})
}

// WatchedFiles lists the files whose changes should trigger ReloadFile.
func (a *App) WatchedFiles() []string {
	if a.Permission == nil || !a.Config.Guard.Permission.Watch {
		return nil
	}
	return []string{a.Permission.Path()}
}

// ReloadFile reloads the component backed by path.
func (a *App) ReloadFile(ctx context.Context, path string) error {
	if a.Permission == nil {
		return nil
	}
	if err := a.Permission.Reload(ctx); err != nil {
		return err
	}
	a.logger.Info("permission policy reloaded", "path", path)
	return nil
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
