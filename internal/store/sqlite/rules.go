package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tkingovr/agent-governor/internal/outputguard"
)

// RuleStore persists output guard rules.
type RuleStore struct {
	d *DB
}

func (d *DB) RuleStore() *RuleStore { return &RuleStore{d: d} }

const selectRule = `SELECT id, name, pattern, action, enabled, priority, created_at, updated_at FROM output_rules`

func (s *RuleStore) List(ctx context.Context) ([]outputguard.Rule, error) {
	rows, err := s.d.db.QueryContext(ctx, selectRule+` ORDER BY priority, name, id`)
	if err != nil {
		return nil, storageError("list_rules", err)
	}
	defer rows.Close()

	var out []outputguard.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, storageError("list_rules", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list_rules", err)
	}
	return out, nil
}

func (s *RuleStore) Get(ctx context.Context, id string) (*outputguard.Rule, error) {
	r, err := scanRule(s.d.db.QueryRowContext(ctx, selectRule+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", outputguard.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageError("get_rule", err)
	}
	return r, nil
}

func (s *RuleStore) Create(ctx context.Context, r *outputguard.Rule) (*outputguard.Rule, error) {
	rule := *r
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := s.d.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.d.db.ExecContext(ctx, `
		INSERT INTO output_rules (id, name, pattern, action, enabled, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.Pattern, string(rule.Action), rule.Enabled, rule.Priority,
		nanos(rule.CreatedAt), nanos(rule.UpdatedAt))
	if err != nil {
		return nil, storageError("create_rule", err)
	}
	return &rule, nil
}

// Update replaces every mutable column; id and created_at are never
// written.
func (s *RuleStore) Update(ctx context.Context, r *outputguard.Rule) (*outputguard.Rule, error) {
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("update_rule", err)
	}
	defer tx.Rollback()

	now := s.d.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE output_rules SET name = ?, pattern = ?, action = ?, enabled = ?, priority = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.Pattern, string(r.Action), r.Enabled, r.Priority, nanos(now), r.ID)
	if err != nil {
		return nil, storageError("update_rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", outputguard.ErrNotFound, r.ID)
	}
	updated, err := scanRule(tx.QueryRowContext(ctx, selectRule+` WHERE id = ?`, r.ID))
	if err != nil {
		return nil, storageError("update_rule", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("update_rule", err)
	}
	return updated, nil
}

func (s *RuleStore) Delete(ctx context.Context, id string) error {
	res, err := s.d.db.ExecContext(ctx, `DELETE FROM output_rules WHERE id = ?`, id)
	if err != nil {
		return storageError("delete_rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", outputguard.ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (*outputguard.Rule, error) {
	var (
		r                outputguard.Rule
		action           string
		created, updated int64
	)
	if err := sc.Scan(&r.ID, &r.Name, &r.Pattern, &action, &r.Enabled, &r.Priority, &created, &updated); err != nil {
		return nil, err
	}
	r.Action = outputguard.Action(action)
	r.CreatedAt = fromNanos(created)
	r.UpdatedAt = fromNanos(updated)
	return &r, nil
}

var _ outputguard.RuleStore = (*RuleStore)(nil)
