package admin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tkingovr/agent-governor/api"
	"github.com/tkingovr/agent-governor/internal/audit"
	"github.com/tkingovr/agent-governor/internal/invalidation"
	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

type fixture struct {
	svc      *Service
	bus      *invalidation.Bus
	rules    *outputguard.MemoryRuleStore
	policies *toolpolicy.MemoryStore
	audit    *audit.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:      invalidation.New(),
		rules:    outputguard.NewMemoryRuleStore(),
		policies: toolpolicy.NewMemoryStore(),
		audit:    audit.NewMemoryStore(100),
	}
	f.svc = NewService(Deps{
		Policies: f.policies,
		Rules:    f.rules,
		Audit:    f.audit,
		Bus:      f.bus,
	})
	return f
}

func maskRule(name string) outputguard.Rule {
	return outputguard.Rule{
		Name:     name,
		Pattern:  `(?i)password\s*:\s*\S+`,
		Action:   outputguard.ActionMask,
		Enabled:  true,
		Priority: 10,
	}
}

func TestCreateRule_TouchesAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.bus.CurrentRevision()
	created, err := f.svc.CreateRule(ctx, "alice", maskRule("passwords"))
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if got := f.bus.CurrentRevision(); got != before+1 {
		t.Errorf("expected revision %d, got %d", before+1, got)
	}

	entries, err := f.svc.ListAudit(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != api.AuditCreate || e.RuleID != created.ID || e.Actor != "alice" {
		t.Errorf("unexpected audit entry %+v", e)
	}
}

func TestCreateRule_VisibleToCachedRulesAfterTouch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cached := outputguard.NewCachedRules(f.rules, f.bus, nil)
	pipeline := outputguard.NewPipeline(cached, outputguard.NewEvaluator(nil), nil, nil)

	ev, err := pipeline.Evaluate(ctx, "password: hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Content != "password: hunter2" {
		t.Fatalf("expected content untouched before rule exists, got %q", ev.Content)
	}

	if _, err := f.svc.CreateRule(ctx, "alice", maskRule("passwords")); err != nil {
		t.Fatal(err)
	}

	ev, err = pipeline.Evaluate(ctx, "password: hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Content != outputguard.RedactionToken {
		t.Errorf("expected %q, got %q", outputguard.RedactionToken, ev.Content)
	}
}

func TestCreateRule_InvalidPatternRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := maskRule("broken")
	r.Pattern = "(?"
	_, err := f.svc.CreateRule(ctx, "alice", r)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if rev := f.bus.CurrentRevision(); rev != 0 {
		t.Errorf("expected revision 0, got %d", rev)
	}
	rules, _ := f.rules.List(ctx)
	if len(rules) != 0 {
		t.Errorf("expected no rules stored, got %d", len(rules))
	}
	entries, _ := f.svc.ListAudit(ctx, 0)
	if len(entries) != 0 {
		t.Errorf("expected no audit entries, got %d", len(entries))
	}
}

func TestUpdateAndDeleteRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateRule(ctx, "alice", maskRule("passwords"))
	if err != nil {
		t.Fatal(err)
	}

	upd := *created
	upd.Action = outputguard.ActionReject
	updated, err := f.svc.UpdateRule(ctx, "bob", upd)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Action != outputguard.ActionReject {
		t.Errorf("expected REJECT, got %s", updated.Action)
	}

	if err := f.svc.DeleteRule(ctx, "carol", created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetRule(ctx, created.ID); !errors.Is(err, outputguard.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if rev := f.bus.CurrentRevision(); rev != 3 {
		t.Errorf("expected revision 3, got %d", rev)
	}

	entries, err := f.svc.ListAudit(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		action api.AuditAction
		actor  string
	}{
		{api.AuditDelete, "carol"},
		{api.AuditUpdate, "bob"},
		{api.AuditCreate, "alice"},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, w := range want {
		if entries[i].Action != w.action || entries[i].Actor != w.actor {
			t.Errorf("entry %d: expected %s by %s, got %s by %s", i, w.action, w.actor, entries[i].Action, entries[i].Actor)
		}
	}
}

func TestDeleteRule_NotFound(t *testing.T) {
	f := newFixture(t)
	err := f.svc.DeleteRule(context.Background(), "alice", "missing")
	if !errors.Is(err, outputguard.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if rev := f.bus.CurrentRevision(); rev != 0 {
		t.Errorf("expected no touch, got revision %d", rev)
	}
}

func TestSimulate_AuditsWithoutTouch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rules := []outputguard.Rule{
		{ID: "broken", Name: "broken", Pattern: "(?", Action: outputguard.ActionReject, Enabled: true},
		{ID: "good", Name: "good", Pattern: "(?i)secret", Action: outputguard.ActionReject, Enabled: true, Priority: 1},
	}
	ev, err := f.svc.Simulate(ctx, "alice", "secret", rules)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Blocked || ev.BlockedBy == nil || ev.BlockedBy.RuleID != "good" {
		t.Errorf("expected block by good, got %+v", ev)
	}
	if len(ev.InvalidRules) != 1 || ev.InvalidRules[0].RuleID != "broken" {
		t.Errorf("expected broken to be reported invalid, got %+v", ev.InvalidRules)
	}
	if rev := f.bus.CurrentRevision(); rev != 0 {
		t.Errorf("expected no touch, got revision %d", rev)
	}

	entries, _ := f.svc.ListAudit(ctx, 0)
	if len(entries) != 1 || entries[0].Action != api.AuditSimulate {
		t.Fatalf("expected one SIMULATE entry, got %+v", entries)
	}
	if entries[0].RuleID != "good" {
		t.Errorf("expected rule id good, got %q", entries[0].RuleID)
	}
}

func TestSimulate_DefaultsToStoredEnabledRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateRule(ctx, "alice", maskRule("passwords")); err != nil {
		t.Fatal(err)
	}
	off := maskRule("disabled-reject")
	off.Action = outputguard.ActionReject
	off.Enabled = false
	if _, err := f.svc.CreateRule(ctx, "alice", off); err != nil {
		t.Fatal(err)
	}

	ev, err := f.svc.Simulate(ctx, "", "password: x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Blocked {
		t.Error("expected the disabled reject rule to be skipped")
	}
	if ev.Content != outputguard.RedactionToken {
		t.Errorf("expected masked content, got %q", ev.Content)
	}

	entries, _ := f.svc.ListAudit(ctx, 1)
	if len(entries) != 1 || entries[0].Actor != SystemActor {
		t.Errorf("expected simulate by %s, got %+v", SystemActor, entries)
	}
}

func TestSimulate_EmptyRulesLeaveContentUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateRule(ctx, "alice", maskRule("passwords")); err != nil {
		t.Fatal(err)
	}

	ev, err := f.svc.Simulate(ctx, "alice", "password: x", []outputguard.Rule{})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Blocked || ev.Content != "password: x" {
		t.Errorf("expected content unchanged with no rules, got %+v", ev)
	}
	if len(ev.MatchedRules) != 0 {
		t.Errorf("expected no matches, got %+v", ev.MatchedRules)
	}
}

func TestListAudit_ClampsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	f.audit.SetClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	})
	for i := 0; i < 60; i++ {
		if err := f.audit.Write(ctx, &api.AuditEntry{RuleID: fmt.Sprintf("r%d", i), Action: api.AuditCreate, Actor: "a"}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, audit.DefaultLimit},
		{-3, audit.DefaultLimit},
		{5, 5},
		{10000, 60},
	}
	for _, tt := range tests {
		entries, err := f.svc.ListAudit(ctx, tt.limit)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != tt.want {
			t.Errorf("limit %d: expected %d entries, got %d", tt.limit, tt.want, len(entries))
		}
	}

	entries, _ := f.svc.ListAudit(ctx, 2)
	if entries[0].RuleID != "r59" || entries[1].RuleID != "r58" {
		t.Errorf("expected newest first, got %s, %s", entries[0].RuleID, entries[1].RuleID)
	}
}

func TestSavePolicy_VisibleToEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := toolpolicy.NewEngine(f.policies, f.bus)

	if d := engine.Evaluate(ctx, "slack", "delete_file"); !toolpolicy.Allowed(d) {
		t.Fatalf("expected allow with no policy, got %#v", d)
	}

	_, err := f.svc.SavePolicy(ctx, "alice", &toolpolicy.Policy{
		Enabled:           true,
		WriteToolNames:    []string{"delete_file"},
		DenyWriteChannels: []string{"slack"},
		DenyWriteMessage:  "no writes from slack",
	})
	if err != nil {
		t.Fatal(err)
	}

	d := engine.Evaluate(ctx, "slack", "delete_file")
	deny, ok := d.(toolpolicy.Deny)
	if !ok {
		t.Fatalf("expected Deny, got %#v", d)
	}
	if deny.Reason != "no writes from slack" {
		t.Errorf("expected configured message, got %q", deny.Reason)
	}

	if err := f.svc.DeletePolicy(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if d := engine.Evaluate(ctx, "slack", "delete_file"); !toolpolicy.Allowed(d) {
		t.Errorf("expected allow after delete, got %#v", d)
	}
	if _, err := f.svc.GetPolicy(ctx); !errors.Is(err, toolpolicy.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSavePolicy_RejectsNil(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SavePolicy(context.Background(), "alice", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSeed_OnlyWhenEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.SeedRules(ctx, outputguard.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if n != len(outputguard.DefaultRules()) {
		t.Errorf("expected %d seeded, got %d", len(outputguard.DefaultRules()), n)
	}
	n, err = f.svc.SeedRules(ctx, outputguard.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected second seed to be a no-op, got %d", n)
	}

	p := &toolpolicy.Policy{Enabled: true, WriteToolNames: []string{"write"}}
	if err := f.svc.SeedPolicy(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SeedPolicy(ctx, &toolpolicy.Policy{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.GetPolicy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled {
		t.Error("expected the first seeded policy to be kept")
	}
}
