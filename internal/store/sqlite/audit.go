package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tkingovr/agent-governor/api"
	"github.com/tkingovr/agent-governor/internal/audit"
)

// AuditStore is the append-only rule audit log. Each write trims the
// table to the newest maxEntries rows.
type AuditStore struct {
	d          *DB
	maxEntries int
	bc         *audit.Broadcaster
}

func (d *DB) AuditStore(maxEntries int) *AuditStore {
	if maxEntries <= 0 {
		maxEntries = audit.DefaultMaxEntries
	}
	return &AuditStore{d: d, maxEntries: maxEntries, bc: audit.NewBroadcaster()}
}

func (s *AuditStore) Write(ctx context.Context, e *api.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.d.now().UTC()
	}

	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("write_audit", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO output_rule_audit (id, rule_id, action, actor, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.RuleID), string(e.Action), e.Actor, nullString(e.Detail), nanos(e.CreatedAt))
	if err != nil {
		return storageError("write_audit", err)
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM output_rule_audit WHERE seq IN (
			SELECT seq FROM output_rule_audit ORDER BY created_at DESC, seq DESC LIMIT -1 OFFSET ?
		)`, s.maxEntries)
	if err != nil {
		return storageError("trim_audit", err)
	}
	if err := tx.Commit(); err != nil {
		return storageError("write_audit", err)
	}

	out := *e
	s.bc.Publish(&out)
	return nil
}

func (s *AuditStore) Query(ctx context.Context, q api.AuditQuery) ([]*api.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if q.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, q.RuleID)
	}
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(q.Action))
	}
	if q.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, q.Actor)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, nanos(q.Since))
	}

	query := `SELECT id, rule_id, action, actor, detail, created_at FROM output_rule_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("query_audit", err)
	}
	defer rows.Close()

	var out []*api.AuditEntry
	for rows.Next() {
		var (
			e              api.AuditEntry
			action         string
			ruleID, detail sql.NullString
			created        int64
		)
		if err := rows.Scan(&e.ID, &ruleID, &action, &e.Actor, &detail, &created); err != nil {
			return nil, storageError("query_audit", err)
		}
		e.RuleID = ruleID.String
		e.Detail = detail.String
		e.Action = api.AuditAction(action)
		e.CreatedAt = fromNanos(created)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("query_audit", err)
	}
	return out, nil
}

func (s *AuditStore) Stats(ctx context.Context) (*api.AuditStats, error) {
	rows, err := s.d.db.QueryContext(ctx,
		`SELECT action, COUNT(*), MIN(created_at), MAX(created_at) FROM output_rule_audit GROUP BY action`)
	if err != nil {
		return nil, storageError("audit_stats", err)
	}
	defer rows.Close()

	stats := &api.AuditStats{ByAction: make(map[api.AuditAction]int)}
	for rows.Next() {
		var (
			action         string
			count          int
			oldest, newest int64
		)
		if err := rows.Scan(&action, &count, &oldest, &newest); err != nil {
			return nil, storageError("audit_stats", err)
		}
		stats.Total += count
		stats.ByAction[api.AuditAction(action)] = count
		o, n := fromNanos(oldest), fromNanos(newest)
		if stats.Oldest == nil || o.Before(*stats.Oldest) {
			stats.Oldest = &o
		}
		if stats.Newest == nil || n.After(*stats.Newest) {
			stats.Newest = &n
		}
	}
	return stats, rows.Err()
}

func (s *AuditStore) Subscribe(_ context.Context) (<-chan *api.AuditEntry, func()) {
	return s.bc.Subscribe()
}

// PruneBefore deletes entries created before cutoff.
func (s *AuditStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.d.db.ExecContext(ctx, `DELETE FROM output_rule_audit WHERE created_at < ?`, nanos(cutoff))
	if err != nil {
		return 0, storageError("prune_audit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("prune_audit", err)
	}
	return int(n), nil
}

// Close ends subscriptions. The underlying DB is closed by its owner.
func (s *AuditStore) Close() error {
	s.bc.Close()
	return nil
}

var (
	_ audit.Store  = (*AuditStore)(nil)
	_ audit.Pruner = (*AuditStore)(nil)
)
