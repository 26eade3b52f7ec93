// Package admin implements the administrative operations on the tool
// policy, output guard rules and rule audit log. Every mutation is
// followed by an invalidation touch.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tkingovr/agent-governor/api"
	"github.com/tkingovr/agent-governor/internal/audit"
	"github.com/tkingovr/agent-governor/internal/metrics"
	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// SystemActor is recorded when no caller identity is supplied.
const SystemActor = "system"

// ErrInvalidInput marks requests rejected before any mutation.
var ErrInvalidInput = errors.New("invalid input")

// Toucher bumps the invalidation revision.
type Toucher interface {
	Touch() int64
}

// Deps are the collaborators of a Service.
type Deps struct {
	Policies  toolpolicy.Store
	Rules     outputguard.RuleStore
	Audit     audit.Store
	Bus       Toucher
	Evaluator *outputguard.Evaluator
	Metrics   *metrics.Collector
	Logger    *slog.Logger

	// Audit listing bounds. Zero uses the audit package defaults.
	DefaultLimit int
	MaxLimit     int
}

type Service struct {
	policies  toolpolicy.Store
	rules     outputguard.RuleStore
	audit     audit.Store
	bus       Toucher
	evaluator *outputguard.Evaluator
	metrics   *metrics.Collector
	logger    *slog.Logger

	defaultLimit int
	maxLimit     int
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ev := d.Evaluator
	if ev == nil {
		ev = outputguard.NewEvaluator(logger)
	}
	return &Service{
		policies:     d.Policies,
		rules:        d.Rules,
		audit:        d.Audit,
		bus:          d.Bus,
		evaluator:    ev,
		metrics:      d.Metrics,
		logger:       logger.With("component", "admin"),
		defaultLimit: d.DefaultLimit,
		maxLimit:     d.MaxLimit,
	}
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return SystemActor
	}
	return actor
}

func (s *Service) touch(op string) {
	rev := s.bus.Touch()
	s.metrics.SetRevision(rev)
	s.logger.Debug("revision bumped", "operation", op, "revision", rev)
}

func (s *Service) record(ctx context.Context, entry *api.AuditEntry) error {
	if err := s.audit.Write(ctx, entry); err != nil {
		s.logger.Error("audit write failed", "action", string(entry.Action), "rule_id", entry.RuleID, "error", err)
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// GetPolicy returns the current tool policy or toolpolicy.ErrNotFound.
func (s *Service) GetPolicy(ctx context.Context) (*toolpolicy.Policy, error) {
	return s.policies.Load(ctx)
}

// SavePolicy validates and replaces the whole tool policy document.
func (s *Service) SavePolicy(ctx context.Context, actor string, p *toolpolicy.Policy) (saved *toolpolicy.Policy, err error) {
	defer func() { s.metrics.RecordAdminOperation("save_policy", err) }()

	if p == nil {
		return nil, fmt.Errorf("%w: policy document is required", ErrInvalidInput)
	}
	if err := toolpolicy.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	saved, err = s.policies.Save(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("saving tool policy: %w", err)
	}
	s.touch("save_policy")
	s.logger.Info("tool policy saved", "actor", actorOrSystem(actor), "enabled", saved.Enabled)
	return saved, nil
}

// DeletePolicy clears the tool policy.
func (s *Service) DeletePolicy(ctx context.Context, actor string) (err error) {
	defer func() { s.metrics.RecordAdminOperation("delete_policy", err) }()

	if err := s.policies.Delete(ctx); err != nil {
		return fmt.Errorf("deleting tool policy: %w", err)
	}
	s.touch("delete_policy")
	s.logger.Info("tool policy deleted", "actor", actorOrSystem(actor))
	return nil
}

// ListRules returns every rule in priority order.
func (s *Service) ListRules(ctx context.Context) ([]outputguard.Rule, error) {
	return s.rules.List(ctx)
}

func (s *Service) GetRule(ctx context.Context, id string) (*outputguard.Rule, error) {
	return s.rules.Get(ctx, id)
}

// CreateRule validates and stores a new rule. Patterns that do not compile
// are rejected here; the evaluator still tolerates them if they reach a
// store some other way.
func (s *Service) CreateRule(ctx context.Context, actor string, r outputguard.Rule) (created *outputguard.Rule, err error) {
	defer func() { s.metrics.RecordAdminOperation("create_rule", err) }()

	if err := outputguard.ValidateRule(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	created, err = s.rules.Create(ctx, &r)
	if err != nil {
		return nil, fmt.Errorf("creating rule: %w", err)
	}
	s.touch("create_rule")
	s.logger.Info("output rule created", "actor", actorOrSystem(actor), "rule_id", created.ID, "name", created.Name)

	return created, s.record(ctx, &api.AuditEntry{
		RuleID: created.ID,
		Action: api.AuditCreate,
		Actor:  actorOrSystem(actor),
		Detail: describeRule(created),
	})
}

// UpdateRule replaces the rule with r.ID.
func (s *Service) UpdateRule(ctx context.Context, actor string, r outputguard.Rule) (updated *outputguard.Rule, err error) {
	defer func() { s.metrics.RecordAdminOperation("update_rule", err) }()

	if r.ID == "" {
		return nil, fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}
	if err := outputguard.ValidateRule(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	updated, err = s.rules.Update(ctx, &r)
	if err != nil {
		return nil, fmt.Errorf("updating rule: %w", err)
	}
	s.touch("update_rule")
	s.logger.Info("output rule updated", "actor", actorOrSystem(actor), "rule_id", updated.ID)

	return updated, s.record(ctx, &api.AuditEntry{
		RuleID: updated.ID,
		Action: api.AuditUpdate,
		Actor:  actorOrSystem(actor),
		Detail: describeRule(updated),
	})
}

// DeleteRule removes a rule permanently.
func (s *Service) DeleteRule(ctx context.Context, actor, id string) (err error) {
	defer func() { s.metrics.RecordAdminOperation("delete_rule", err) }()

	if err := s.rules.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	s.touch("delete_rule")
	s.logger.Info("output rule deleted", "actor", actorOrSystem(actor), "rule_id", id)

	return s.record(ctx, &api.AuditEntry{
		RuleID: id,
		Action: api.AuditDelete,
		Actor:  actorOrSystem(actor),
	})
}

// Simulate evaluates content without releasing it. A nil rules slice
// selects the enabled stored rules; an empty one evaluates against nothing. Simulation does not touch the revision.
func (s *Service) Simulate(ctx context.Context, actor, content string, rules []outputguard.Rule) (ev *outputguard.Evaluation, err error) {
	defer func() { s.metrics.RecordAdminOperation("simulate", err) }()

	if rules == nil {
		stored, err := s.rules.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading rules: %w", err)
		}
		rules = outputguard.EnabledRules(stored)
	} else {
		rules = append([]outputguard.Rule(nil), rules...)
		outputguard.SortRules(rules)
	}

	ev, err = s.evaluator.Evaluate(ctx, content, rules)
	if err != nil {
		return nil, err
	}

	var ruleID string
	if ev.BlockedBy != nil {
		ruleID = ev.BlockedBy.RuleID
	}
	return ev, s.record(ctx, &api.AuditEntry{
		RuleID: ruleID,
		Action: api.AuditSimulate,
		Actor:  actorOrSystem(actor),
		Detail: fmt.Sprintf("blocked=%t matched=%d invalid=%d", ev.Blocked, len(ev.MatchedRules), len(ev.InvalidRules)),
	})
}

// ListAudit returns the newest audit entries, limit clamped to the
// configured bounds.
func (s *Service) ListAudit(ctx context.Context, limit int) ([]*api.AuditEntry, error) {
	return s.QueryAudit(ctx, api.AuditQuery{Limit: limit})
}

// QueryAudit filters the audit log, newest first, with a clamped limit.
func (s *Service) QueryAudit(ctx context.Context, q api.AuditQuery) ([]*api.AuditEntry, error) {
	q.Limit = audit.ClampLimit(q.Limit, s.defaultLimit, s.maxLimit)
	entries, err := s.audit.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	if entries == nil {
		entries = []*api.AuditEntry{}
	}
	return entries, nil
}

// SubscribeAudit streams audit entries as they are written.
func (s *Service) SubscribeAudit(ctx context.Context) (<-chan *api.AuditEntry, func()) {
	return s.audit.Subscribe(ctx)
}

func (s *Service) AuditStats(ctx context.Context) (*api.AuditStats, error) {
	return s.audit.Stats(ctx)
}

func describeRule(r *outputguard.Rule) string {
	return fmt.Sprintf("name=%s action=%s priority=%d enabled=%t", r.Name, r.Action, r.Priority, r.Enabled)
}
