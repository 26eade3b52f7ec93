package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkingovr/agent-governor/api"
)

// DefaultMaxEntries bounds a MemoryStore created with a non-positive size.
const DefaultMaxEntries = 10000

// MemoryStore retains the most recent entries in a ring buffer. Once
// full, each new entry overwrites the oldest.
type MemoryStore struct {
	mu   sync.Mutex
	ring []*api.AuditEntry
	head int // index of the oldest entry
	size int
	now  func() time.Time
	bc   *Broadcaster
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		ring: make([]*api.AuditEntry, maxEntries),
		now:  time.Now,
		bc:   NewBroadcaster(),
	}
}

// SetClock replaces the time source used to stamp entries.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// at returns the i-th oldest entry. Caller holds s.mu.
func (s *MemoryStore) at(i int) *api.AuditEntry {
	return s.ring[(s.head+i)%len(s.ring)]
}

func (s *MemoryStore) Write(_ context.Context, entry *api.AuditEntry) error {
	s.mu.Lock()
	stamp(entry, s.now)
	stored := *entry
	if s.size < len(s.ring) {
		s.ring[(s.head+s.size)%len(s.ring)] = &stored
		s.size++
	} else {
		s.ring[s.head] = &stored
		s.head = (s.head + 1) % len(s.ring)
	}
	s.mu.Unlock()

	out := stored
	s.bc.Publish(&out)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, q api.AuditQuery) ([]*api.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*api.AuditEntry
	for i := s.size - 1; i >= 0; i-- {
		e := s.at(i)
		if !Matches(e, q) {
			continue
		}
		cp := *e
		results = append(results, &cp)
		if q.Limit > 0 && len(results) == q.Limit {
			break
		}
	}
	return results, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*api.AuditStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputeStats(s.ordered()), nil
}

// ordered returns the retained entries oldest first. Caller holds s.mu.
func (s *MemoryStore) ordered() []*api.AuditEntry {
	out := make([]*api.AuditEntry, s.size)
	for i := range out {
		out[i] = s.at(i)
	}
	return out
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *MemoryStore) Subscribe(_ context.Context) (<-chan *api.AuditEntry, func()) {
	return s.bc.Subscribe()
}

// PruneBefore drops entries created before cutoff.
func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.ordered()
	clear(s.ring)
	s.head, s.size = 0, 0
	for _, e := range entries {
		if !e.CreatedAt.Before(cutoff) {
			s.ring[s.size] = e
			s.size++
		}
	}
	return len(entries) - s.size, nil
}

func (s *MemoryStore) Close() error {
	s.bc.Close()
	return nil
}

func stamp(e *api.AuditEntry, now func() time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now().UTC()
	}
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Pruner = (*MemoryStore)(nil)
	_ Store  = (*JSONLStore)(nil)
	_ Pruner = (*JSONLStore)(nil)
)
