package outputguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRuleStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleStore()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	s.SetClock(func() time.Time { return now })

	created, err := s.Create(ctx, &Rule{Name: "ssn", Pattern: `\d{3}-\d{2}-\d{4}`, Action: ActionMask, Enabled: true, Priority: 5})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if !created.CreatedAt.Equal(t0) || !created.UpdatedAt.Equal(t0) {
		t.Errorf("unexpected timestamps %v/%v", created.CreatedAt, created.UpdatedAt)
	}

	now = t0.Add(time.Minute)
	updated, err := s.Update(ctx, &Rule{ID: created.ID, Name: "ssn-v2", Pattern: `\d{9}`, Action: ActionReject, Priority: 1, CreatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != created.ID {
		t.Errorf("expected id preserved, got %s", updated.ID)
	}
	if !updated.CreatedAt.Equal(t0) {
		t.Errorf("expected createdAt preserved, got %v", updated.CreatedAt)
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Errorf("expected updatedAt %v, got %v", now, updated.UpdatedAt)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "ssn-v2" || got.Action != ActionReject {
		t.Errorf("expected updated rule, got %+v", got)
	}

	if err := s.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryRuleStore_UpdateMissing(t *testing.T) {
	s := NewMemoryRuleStore()
	_, err := s.Update(context.Background(), &Rule{ID: "nope", Name: "x", Pattern: "x", Action: ActionMask})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRuleStore_ListSortedByPriority(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleStore()
	for _, r := range []Rule{
		{ID: "c", Name: "c", Pattern: "c", Action: ActionMask, Priority: 30},
		{ID: "a", Name: "a", Pattern: "a", Action: ActionMask, Priority: 10},
		{ID: "b", Name: "b", Pattern: "b", Action: ActionMask, Priority: 20},
	} {
		if _, err := s.Create(ctx, &r); err != nil {
			t.Fatal(err)
		}
	}

	rules, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	for i, r := range rules {
		if r.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], r.ID)
		}
	}
}

func TestMemoryRuleStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleStore()
	if _, err := s.Create(ctx, &Rule{ID: "dup", Name: "x", Pattern: "x", Action: ActionMask}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, &Rule{ID: "dup", Name: "y", Pattern: "y", Action: ActionMask}); err == nil {
		t.Error("expected error for duplicate id")
	}
}
