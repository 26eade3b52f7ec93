package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists approval checkpoints in a SQLite file so that a
// different process can resume a suspended dispatch.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the approval database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open approval database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize approval schema: %w", err)
	}
	return s, nil
}

// SetClock replaces the time source used for expiry and timestamps.
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS approvals (
		token TEXT PRIMARY KEY,
		approval_id TEXT NOT NULL,
		hook TEXT NOT NULL,
		kind TEXT NOT NULL,
		run_id TEXT NOT NULL,
		tool TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		state BLOB,
		status TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		decided_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status, created_at);
	`)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, req *Request) error {
	prepare(req, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (token, approval_id, hook, kind, run_id, tool, message, state, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Token, req.ApprovalID, req.Hook, req.Kind, req.RunID, req.Tool, req.Message,
		req.State, string(req.Status), req.CreatedAt.UnixNano(), req.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store approval request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, selectApproval+` WHERE token = ?`, token)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}
	return req, nil
}

// Resolve transitions a pending request exactly once. The status guard in
// the UPDATE makes concurrent resolvers race safely across processes.
func (s *SQLiteStore) Resolve(ctx context.Context, token string, d Decision) (*Request, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = CASE WHEN expires_at < ? THEN ? ELSE ? END,
			reason = CASE WHEN expires_at < ? THEN '' ELSE ? END,
			actor = ?, decided_at = ?
		WHERE token = ? AND status = ?`,
		now.UnixNano(), string(StatusExpired), string(d.status()),
		now.UnixNano(), d.Reason,
		d.Actor, now.UnixNano(),
		token, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval request: %w", err)
	}

	req, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return req, ErrAlreadyResolved
	}
	if req.Status == StatusExpired {
		return req, ErrExpired
	}
	return req, nil
}

func (s *SQLiteStore) Pending(ctx context.Context) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, selectApproval+` WHERE status = ? AND expires_at >= ? ORDER BY created_at`,
		string(StatusPending), s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	var pending []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		pending = append(pending, req)
	}
	return pending, rows.Err()
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM approvals
		WHERE (status != ? AND decided_at < ?) OR (status = ? AND expires_at < ?)`,
		string(StatusPending), cutoff.UnixNano(), string(StatusPending), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune approval requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune approval requests: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectApproval = `SELECT token, approval_id, hook, kind, run_id, tool, message, state, status, actor, reason, created_at, expires_at, decided_at FROM approvals`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(sc scanner) (*Request, error) {
	var (
		req              Request
		status           string
		created, expires int64
		decided          sql.NullInt64
	)
	err := sc.Scan(&req.Token, &req.ApprovalID, &req.Hook, &req.Kind, &req.RunID, &req.Tool,
		&req.Message, &req.State, &status, &req.Actor, &req.Reason, &created, &expires, &decided)
	if err != nil {
		return nil, err
	}
	req.Status = Status(status)
	req.CreatedAt = time.Unix(0, created)
	req.ExpiresAt = time.Unix(0, expires)
	if decided.Valid {
		t := time.Unix(0, decided.Int64)
		req.DecidedAt = &t
	}
	return &req, nil
}

var (
	_ Store = (*Queue)(nil)
	_ Store = (*SQLiteStore)(nil)
)
