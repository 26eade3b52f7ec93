// Package outputguard evaluates an ordered, runtime-mutable rule set against
// agent output, masking or rejecting matched content.
package outputguard

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// RedactionToken replaces every match of a MASK rule.
const RedactionToken = "[REDACTED]"

// Action is what a rule does when its pattern matches.
type Action string

const (
	ActionMask   Action = "MASK"
	ActionReject Action = "REJECT"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionMask || a == ActionReject
}

// Rule is a single output guard rule. Lower Priority is evaluated first.
type Rule struct {
	ID        string    `yaml:"id,omitempty" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Pattern   string    `yaml:"pattern" json:"pattern"`
	Action    Action    `yaml:"action" json:"action"`
	Enabled   bool      `yaml:"enabled" json:"enabled"`
	Priority  int       `yaml:"priority" json:"priority"`
	CreatedAt time.Time `yaml:"-" json:"created_at"`
	UpdatedAt time.Time `yaml:"-" json:"updated_at"`
}

// Match records a rule that matched during an evaluation.
type Match struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Action   Action `json:"action"`
	Priority int    `json:"priority"`
}

// InvalidRule records a rule whose pattern failed to compile.
type InvalidRule struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Reason   string `json:"reason"`
}

// Evaluation is the outcome of evaluating content against a rule list.
// Content holds the text as masked up to the point of return.
type Evaluation struct {
	Blocked      bool          `json:"blocked"`
	Content      string        `json:"content"`
	MatchedRules []Match       `json:"matched_rules"`
	BlockedBy    *Match        `json:"blocked_by,omitempty"`
	InvalidRules []InvalidRule `json:"invalid_rules"`
}

// Modified reports whether content was masked and released.
func (e *Evaluation) Modified() bool {
	if e.Blocked {
		return false
	}
	for _, m := range e.MatchedRules {
		if m.Action == ActionMask {
			return true
		}
	}
	return false
}

// ErrInvalidRule is wrapped by ValidateRule failures.
var ErrInvalidRule = errors.New("invalid output guard rule")

// ValidateRule checks the fields an administrator supplies.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Pattern == "" {
		return fmt.Errorf("%w: pattern is required", ErrInvalidRule)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: action %q must be MASK or REJECT", ErrInvalidRule, r.Action)
	}
	if _, err := regexp.Compile(r.Pattern); err != nil {
		return fmt.Errorf("%w: pattern: %v", ErrInvalidRule, err)
	}
	return nil
}

// SortRules orders rules by ascending priority, then name, then id.
func SortRules(rules []Rule) {
	slices.SortStableFunc(rules, func(a, b Rule) int {
		return cmp.Or(
			cmp.Compare(a.Priority, b.Priority),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// EnabledRules returns the enabled rules of rules in priority order.
func EnabledRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	SortRules(out)
	return out
}
