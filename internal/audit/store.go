// Package audit keeps the append-only log of output guard rule
// operations.
package audit

import (
	"context"
	"time"

	"github.com/tkingovr/agent-governor/api"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store defines the interface for audit entry persistence and retrieval.
// Entries are never updated in place.
type Store interface {
	// Write appends an entry, filling ID and CreatedAt when empty.
	Write(ctx context.Context, entry *api.AuditEntry) error

	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, q api.AuditQuery) ([]*api.AuditEntry, error)

	// Stats returns aggregate counts over the retained entries.
	Stats(ctx context.Context) (*api.AuditStats, error)

	// Subscribe returns a channel that receives new entries as they are
	// written. The returned function cancels the subscription.
	Subscribe(ctx context.Context) (<-chan *api.AuditEntry, func())

	Close() error
}

// Pruner is implemented by stores that can drop entries older than a
// cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ClampLimit maps a requested list size into [1, max]. Zero or negative
// requests use def.
func ClampLimit(requested, def, max int) int {
	if max <= 0 {
		max = MaxLimit
	}
	if def <= 0 {
		def = DefaultLimit
	}
	if def > max {
		def = max
	}
	switch {
	case requested <= 0:
		return def
	case requested > max:
		return max
	default:
		return requested
	}
}

// Matches reports whether e satisfies every set field of q.
func Matches(e *api.AuditEntry, q api.AuditQuery) bool {
	if q.RuleID != "" && e.RuleID != q.RuleID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
		return false
	}
	return true
}

// ComputeStats folds entries into an AuditStats.
func ComputeStats(entries []*api.AuditEntry) *api.AuditStats {
	stats := &api.AuditStats{ByAction: make(map[api.AuditAction]int)}
	for _, e := range entries {
		stats.Total++
		stats.ByAction[e.Action]++
		t := e.CreatedAt
		if stats.Oldest == nil || t.Before(*stats.Oldest) {
			stats.Oldest = &t
		}
		if stats.Newest == nil || t.After(*stats.Newest) {
			stats.Newest = &t
		}
	}
	return stats
}
