package outputguard

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
)

const maxCachedPatterns = 1024

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// Evaluator applies rules to content. Compiled patterns, including compile
// failures, are cached by source so hot-path evaluation does not recompile.
type Evaluator struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]compiledPattern
}

// NewEvaluator creates an evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		logger: logger.With("component", "outputguard"),
		cache:  make(map[string]compiledPattern),
	}
}

// Evaluate runs rules, in the order given, against content. Each rule sees
// the content as masked by the rules before it. A rule whose pattern fails
// to compile is reported in InvalidRules and skipped. The first matching
// REJECT rule stops evaluation. The only error returned is the context's.
func (e *Evaluator) Evaluate(ctx context.Context, content string, rules []Rule) (*Evaluation, error) {
	result := &Evaluation{
		Content:      content,
		MatchedRules: []Match{},
		InvalidRules: []InvalidRule{},
	}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		re, err := e.compile(rule.Pattern)
		if err != nil {
			e.logger.Warn("skipping invalid output guard rule",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err,
			)
			result.InvalidRules = append(result.InvalidRules, InvalidRule{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Reason:   err.Error(),
			})
			continue
		}

		if !re.MatchString(result.Content) {
			continue
		}

		match := Match{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Action:   rule.Action,
			Priority: rule.Priority,
		}
		result.MatchedRules = append(result.MatchedRules, match)

		switch rule.Action {
		case ActionReject:
			result.Blocked = true
			result.BlockedBy = &match
			return result, nil
		case ActionMask:
			result.Content = re.ReplaceAllLiteralString(result.Content, RedactionToken)
		default:
			// Unknown actions are reported as invalid.
			result.MatchedRules = result.MatchedRules[:len(result.MatchedRules)-1]
			result.InvalidRules = append(result.InvalidRules, InvalidRule{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Reason:   "unknown action " + string(rule.Action),
			})
		}
	}

	return result, nil
}

func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	cp, ok := e.cache[pattern]
	e.mu.RUnlock()
	if ok {
		return cp.re, cp.err
	}

	re, err := regexp.Compile(pattern)

	e.mu.Lock()
	if len(e.cache) >= maxCachedPatterns {
		e.cache = make(map[string]compiledPattern)
	}
	e.cache[pattern] = compiledPattern{re: re, err: err}
	e.mu.Unlock()

	return re, err
}
