package outputguard

import (
	"context"
	"log/slog"
	"time"

	"github.com/tkingovr/agent-governor/internal/metrics"
)

// Pipeline evaluates agent output against the active rule snapshot.
type Pipeline struct {
	rules     *CachedRules
	evaluator *Evaluator
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewPipeline creates an output guard pipeline. m may be nil.
func NewPipeline(rules *CachedRules, evaluator *Evaluator, m *metrics.Collector, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		rules:     rules,
		evaluator: evaluator,
		metrics:   m,
		logger:    logger.With("component", "outputguard.pipeline"),
	}
}

// Evaluate checks content against the currently active rules.
func (p *Pipeline) Evaluate(ctx context.Context, content string) (*Evaluation, error) {
	start := time.Now()

	rules, err := p.rules.Active(ctx)
	if err != nil {
		return nil, err
	}

	result, err := p.evaluator.Evaluate(ctx, content, rules)
	if err != nil {
		return nil, err
	}

	outcome := "released"
	switch {
	case result.Blocked:
		outcome = "blocked"
		p.logger.Info("output blocked",
			"rule_id", result.BlockedBy.RuleID,
			"rule_name", result.BlockedBy.RuleName,
			"matched", len(result.MatchedRules),
		)
	case result.Modified():
		outcome = "masked"
	}
	p.metrics.RecordOutputEvaluation(outcome, len(result.InvalidRules), time.Since(start))

	return result, nil
}
