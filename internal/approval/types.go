// Package approval persists suspended hook dispatches until a human
// decision arrives out of band. Nothing blocks while a request is pending.
package approval

import (
	"context"
	"errors"
	"time"
)

// Status represents the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// DefaultTTL applies to requests stored without an expiry.
const DefaultTTL = 30 * time.Minute

var (
	ErrNotFound        = errors.New("approval request not found")
	ErrAlreadyResolved = errors.New("approval request already resolved")
	ErrExpired         = errors.New("approval request expired")
)

// Request is a persisted checkpoint for one suspended dispatch. State is
// opaque to the store.
type Request struct {
	Token      string     `json:"token"`
	ApprovalID string     `json:"approval_id"`
	Hook       string     `json:"hook"`
	Kind       string     `json:"kind"`
	RunID      string     `json:"run_id"`
	Tool       string     `json:"tool,omitempty"`
	Message    string     `json:"message"`
	State      []byte     `json:"-"`
	Status     Status     `json:"status"`
	Actor      string     `json:"actor,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// Decision is the out-of-band human answer to a pending request.
type Decision struct {
	Approved bool
	Actor    string
	Reason   string
}

func (d Decision) status() Status {
	if d.Approved {
		return StatusApproved
	}
	return StatusDenied
}

// Store holds approval checkpoints. Resolve succeeds at most once per
// token; a request past its ExpiresAt resolves to StatusExpired and
// ErrExpired.
type Store interface {
	Put(ctx context.Context, req *Request) error
	Get(ctx context.Context, token string) (*Request, error)
	Resolve(ctx context.Context, token string, d Decision) (*Request, error)
	Pending(ctx context.Context) ([]*Request, error)
	// PruneBefore removes requests decided before cutoff and pending
	// requests that expired before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
