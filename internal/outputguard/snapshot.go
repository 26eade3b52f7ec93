package outputguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tkingovr/agent-governor/internal/invalidation"
)

// CachedRules holds the enabled rule set in priority order and reloads it
// from the store when the invalidation revision moves past the one it
// loaded at.
type CachedRules struct {
	store     RuleStore
	revisions invalidation.Revisioner
	logger    *slog.Logger

	mu       sync.Mutex
	snapshot atomic.Pointer[ruleSnapshot]
}

type ruleSnapshot struct {
	revision int64
	rules    []Rule
}

// NewCachedRules creates a snapshot holder over store.
func NewCachedRules(store RuleStore, revisions invalidation.Revisioner, logger *slog.Logger) *CachedRules {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRules{
		store:     store,
		revisions: revisions,
		logger:    logger.With("component", "outputguard.snapshot"),
	}
}

// Active returns the enabled rules. The returned slice must not be modified.
// If a reload fails and a previous snapshot exists, the previous snapshot is
// returned.
func (c *CachedRules) Active(ctx context.Context) ([]Rule, error) {
	rev := c.revisions.CurrentRevision()
	if snap := c.snapshot.Load(); snap != nil && snap.revision == rev {
		return snap.rules, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rev = c.revisions.CurrentRevision()
	prev := c.snapshot.Load()
	if prev != nil && prev.revision == rev {
		return prev.rules, nil
	}

	all, err := c.store.List(ctx)
	if err != nil {
		if prev != nil && ctx.Err() == nil {
			c.logger.Warn("rule reload failed, using previous snapshot",
				"error", err,
				"revision", rev,
				"previous_revision", prev.revision,
			)
			return prev.rules, nil
		}
		return nil, fmt.Errorf("loading output guard rules: %w", err)
	}

	rules := EnabledRules(all)
	c.snapshot.Store(&ruleSnapshot{revision: rev, rules: rules})
	c.logger.Debug("rule snapshot reloaded", "revision", rev, "rules", len(rules))
	return rules, nil
}

// Revision returns the revision of the currently cached snapshot, or -1.
func (c *CachedRules) Revision() int64 {
	if snap := c.snapshot.Load(); snap != nil {
		return snap.revision
	}
	return -1
}
