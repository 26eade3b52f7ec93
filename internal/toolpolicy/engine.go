package toolpolicy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tkingovr/agent-governor/internal/invalidation"
)

// Engine answers write-tool, evaluation and approval questions against the
// current policy document. It caches the compiled document and reloads it
// from the store when the revision changes. Evaluation never fails: a
// missing policy or an unreadable store with no prior snapshot resolves to
// Allow.
type Engine struct {
	store         Store
	revisions     invalidation.Revisioner
	alwaysApprove set
	logger        *slog.Logger

	mu       sync.Mutex
	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	revision int64
	policy   *compiled
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAlwaysApprove sets tool names that require approval regardless of
// the policy document.
func WithAlwaysApprove(tools ...string) EngineOption {
	return func(e *Engine) {
		e.alwaysApprove = newSet(tools, nil)
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine reading from store and invalidated by revisions.
func NewEngine(store Store, revisions invalidation.Revisioner, opts ...EngineOption) *Engine {
	e := &Engine{
		store:         store,
		revisions:     revisions,
		alwaysApprove: set{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "toolpolicy")
	return e
}

// IsWriteTool reports whether tool is a write tool under an enabled policy.
func (e *Engine) IsWriteTool(ctx context.Context, tool string) bool {
	return e.current(ctx).isWriteTool(tool)
}

// Evaluate decides whether tool may run on channel.
func (e *Engine) Evaluate(ctx context.Context, channel, tool string) Decision {
	d := e.current(ctx).evaluate(channel, tool)
	if deny, ok := d.(Deny); ok {
		e.logger.Info("tool call denied",
			"channel", NormalizeChannel(channel),
			"tool", tool,
			"reason", deny.Reason,
		)
	}
	return d
}

// RequiresApproval reports whether a call must go through human approval.
// It never denies; callers route a true result to the approval workflow.
func (e *Engine) RequiresApproval(ctx context.Context, tool string, _ map[string]any) bool {
	if e.alwaysApprove.has(tool) {
		return true
	}
	return e.IsWriteTool(ctx, tool)
}

func (e *Engine) current(ctx context.Context) *compiled {
	rev := e.revisions.CurrentRevision()
	if snap := e.snapshot.Load(); snap != nil && snap.revision == rev {
		return snap.policy
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another caller may have reloaded while we waited.
	rev = e.revisions.CurrentRevision()
	prev := e.snapshot.Load()
	if prev != nil && prev.revision == rev {
		return prev.policy
	}

	doc, err := e.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		doc = nil
	case err != nil:
		e.logger.Warn("tool policy reload failed, using previous snapshot",
			"error", err,
			"revision", rev,
			"has_previous", prev != nil,
		)
		if prev == nil {
			return compile(nil)
		}
		return prev.policy
	}

	c := compile(doc)
	e.snapshot.Store(&snapshot{revision: rev, policy: c})
	e.logger.Debug("tool policy snapshot reloaded", "revision", rev, "enabled", c.enabled)
	return c
}
