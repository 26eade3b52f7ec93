package outputguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New("output guard rule not found")

// RuleStore persists output guard rules.
type RuleStore interface {
	// List returns all rules, enabled or not, in priority order.
	List(ctx context.Context) ([]Rule, error)

	// Get returns the rule with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Rule, error)

	// Create stores a new rule. An empty ID is assigned; timestamps are set.
	Create(ctx context.Context, r *Rule) (*Rule, error)

	// Update replaces the rule with r.ID, preserving its ID and CreatedAt
	// and refreshing UpdatedAt.
	Update(ctx context.Context, r *Rule) (*Rule, error)

	// Delete removes the rule permanently.
	Delete(ctx context.Context, id string) error
}

// MemoryRuleStore is a concurrent-safe in-memory RuleStore.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]Rule
	now   func() time.Time
}

// NewMemoryRuleStore creates an empty rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{
		rules: make(map[string]Rule),
		now:   time.Now,
	}
}

// SetClock overrides the time source.
func (s *MemoryRuleStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryRuleStore) List(ctx context.Context) ([]Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	s.mu.RUnlock()

	SortRules(out)
	return out, nil
}

func (s *MemoryRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &r, nil
}

func (s *MemoryRuleStore) Create(ctx context.Context, r *Rule) (*Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rule := *r
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if _, exists := s.rules[rule.ID]; exists {
		return nil, fmt.Errorf("output guard rule %q already exists", rule.ID)
	}
	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return &rule, nil
}

func (s *MemoryRuleStore) Update(ctx context.Context, r *Rule) (*Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.rules[r.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	rule := *r
	rule.CreatedAt = prev.CreatedAt
	rule.UpdatedAt = s.now()
	s.rules[rule.ID] = rule
	return &rule, nil
}

func (s *MemoryRuleStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.rules, id)
	return nil
}
