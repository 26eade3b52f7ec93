package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue is the in-memory Store. Subscribers receive newly queued
// requests. Resolved requests leave only a tombstone so a second Resolve
// still reports ErrAlreadyResolved; tombstones and long-expired requests
// are swept after DefaultTTL.
type Queue struct {
	mu        sync.RWMutex
	requests  map[string]*Request
	resolved  map[string]time.Time
	lastSweep time.Time
	now       func() time.Time

	subMu   sync.RWMutex
	subs    map[int]chan *Request
	nextSub int
}

// NewQueue creates an empty in-memory approval queue.
func NewQueue() *Queue {
	return &Queue{
		requests: make(map[string]*Request),
		resolved: make(map[string]time.Time),
		now:      time.Now,
		subs:     make(map[int]chan *Request),
	}
}

// SetClock replaces the time source used for expiry and timestamps.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Put stores req as pending, assigning a token when empty.
func (q *Queue) Put(_ context.Context, req *Request) error {
	q.mu.Lock()
	now := q.now()
	if now.Sub(q.lastSweep) >= DefaultTTL {
		q.lastSweep = now
		q.pruneLocked(now.Add(-DefaultTTL))
	}
	prepare(req, now)
	stored := clone(req)
	q.requests[req.Token] = stored
	q.mu.Unlock()

	q.notifySubscribers(clone(stored))
	return nil
}

func (q *Queue) Get(_ context.Context, token string) (*Request, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	req, ok := q.requests[token]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(req), nil
}

func (q *Queue) Resolve(_ context.Context, token string, d Decision) (*Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[token]
	if !ok {
		if _, done := q.resolved[token]; done {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrNotFound
	}

	now := q.now()
	delete(q.requests, token)
	q.resolved[token] = now

	req.DecidedAt = &now
	req.Actor = d.Actor
	if now.After(req.ExpiresAt) {
		req.Status = StatusExpired
		return req, ErrExpired
	}
	req.Status = d.status()
	req.Reason = d.Reason
	return req, nil
}

// PruneBefore drops tombstones of requests resolved before cutoff and
// pending requests that expired before cutoff.
func (q *Queue) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pruneLocked(cutoff), nil
}

// Len returns the number of retained requests and tombstones.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.requests) + len(q.resolved)
}

func (q *Queue) pruneLocked(cutoff time.Time) int {
	n := 0
	for token, at := range q.resolved {
		if at.Before(cutoff) {
			delete(q.resolved, token)
			n++
		}
	}
	for token, req := range q.requests {
		if req.ExpiresAt.Before(cutoff) {
			delete(q.requests, token)
			n++
		}
	}
	return n
}

// Pending returns unexpired pending requests, oldest first.
func (q *Queue) Pending(_ context.Context) ([]*Request, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := q.now()
	var pending []*Request
	for _, req := range q.requests {
		if !now.After(req.ExpiresAt) {
			pending = append(pending, clone(req))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// Subscribe returns a channel that receives new approval requests.
func (q *Queue) Subscribe() (<-chan *Request, func()) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	ch := make(chan *Request, 50)
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			q.subMu.Lock()
			defer q.subMu.Unlock()
			delete(q.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (q *Queue) Close() error { return nil }

func (q *Queue) notifySubscribers(req *Request) {
	q.subMu.RLock()
	defer q.subMu.RUnlock()

	for _, ch := range q.subs {
		select {
		case ch <- req:
		default:
		}
	}
}

func prepare(req *Request, now time.Time) {
	if req.Token == "" {
		req.Token = uuid.NewString()
	}
	if req.ApprovalID == "" {
		req.ApprovalID = req.Token
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = req.CreatedAt.Add(DefaultTTL)
	}
	req.Status = StatusPending
	req.DecidedAt = nil
}

func clone(req *Request) *Request {
	cp := *req
	if req.State != nil {
		cp.State = append([]byte(nil), req.State...)
	}
	if req.DecidedAt != nil {
		t := *req.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}
