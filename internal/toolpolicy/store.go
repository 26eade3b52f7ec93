package toolpolicy

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned when no policy document exists.
var ErrNotFound = errors.New("tool policy not found")

// Store persists the singleton policy document. Save and Delete replace or
// clear the whole document atomically; readers observe either the previous
// or the new document, never a mix.
type Store interface {
	// Load returns the current document or ErrNotFound.
	Load(ctx context.Context) (*Policy, error)

	// Save replaces the document. CreatedAt is carried over from the prior
	// document when one exists; UpdatedAt is set to the operation time.
	Save(ctx context.Context, p *Policy) (*Policy, error)

	// Delete clears the document. It returns ErrNotFound if none exists.
	Delete(ctx context.Context) error
}

// MemoryStore holds the policy behind an atomic pointer and replaces it
// with compare-and-swap.
type MemoryStore struct {
	current atomic.Pointer[Policy]
	now     func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context) (*Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.current.Load()
	if p == nil {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, p *Policy) (*Policy, error) {
	if p == nil {
		return nil, errors.New("tool policy is nil")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev := s.current.Load()
		now := s.now()

		next := p.Clone()
		next.CreatedAt = now
		if prev != nil {
			next.CreatedAt = prev.CreatedAt
		}
		next.UpdatedAt = now

		if s.current.CompareAndSwap(prev, next) {
			return next.Clone(), nil
		}
	}
}

func (s *MemoryStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.current.Swap(nil) == nil {
		return ErrNotFound
	}
	return nil
}
