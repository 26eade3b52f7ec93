package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// PolicyStore keeps the singleton tool policy as one JSON row.
type PolicyStore struct {
	d *DB
}

func (d *DB) PolicyStore() *PolicyStore { return &PolicyStore{d: d} }

func (s *PolicyStore) Load(ctx context.Context) (*toolpolicy.Policy, error) {
	var (
		doc              string
		created, updated int64
	)
	err := s.d.db.QueryRowContext(ctx,
		`SELECT document, created_at, updated_at FROM tool_policy WHERE id = 1`).Scan(&doc, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, toolpolicy.ErrNotFound
	}
	if err != nil {
		return nil, storageError("load_policy", err)
	}

	var p toolpolicy.Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, storageError("decode_policy", err)
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

// Save replaces the document inside one transaction, carrying CreatedAt
// over from the existing row.
func (s *PolicyStore) Save(ctx context.Context, p *toolpolicy.Policy) (*toolpolicy.Policy, error) {
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("save_policy", err)
	}
	defer tx.Rollback()

	now := s.d.now().UTC()
	saved := p.Clone()
	saved.CreatedAt = now
	saved.UpdatedAt = now

	var created int64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM tool_policy WHERE id = 1`).Scan(&created)
	switch {
	case err == nil:
		saved.CreatedAt = fromNanos(created)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, storageError("save_policy", err)
	}

	doc, err := json.Marshal(saved)
	if err != nil {
		return nil, storageError("encode_policy", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tool_policy (id, document, created_at, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		string(doc), nanos(saved.CreatedAt), nanos(saved.UpdatedAt))
	if err != nil {
		return nil, storageError("save_policy", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("save_policy", err)
	}
	return saved.Clone(), nil
}

func (s *PolicyStore) Delete(ctx context.Context) error {
	res, err := s.d.db.ExecContext(ctx, `DELETE FROM tool_policy WHERE id = 1`)
	if err != nil {
		return storageError("delete_policy", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return toolpolicy.ErrNotFound
	}
	return nil
}

var _ toolpolicy.Store = (*PolicyStore)(nil)
