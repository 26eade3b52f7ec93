// Package api holds the wire types shared by the admin HTTP surface, the
// CLI and the audit stores.
package api

import (
	"time"

	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// GuardCheckRequest asks the guard pipeline to evaluate a command.
type GuardCheckRequest struct {
	UserID   string            `json:"user_id"`
	Text     string            `json:"text"`
	Channel  string            `json:"channel,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GuardCheckResponse is the guard pipeline result in wire form.
type GuardCheckResponse struct {
	Allowed  bool     `json:"allowed"`
	Hints    []string `json:"hints,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Category string   `json:"category,omitempty"`
	Stage    string   `json:"stage,omitempty"`
}

// ToolEvaluateRequest asks the tool policy engine about one call.
type ToolEvaluateRequest struct {
	Channel string         `json:"channel"`
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
}

// ToolEvaluateResponse is the tool policy decision in wire form.
type ToolEvaluateResponse struct {
	Decision         string `json:"decision"`
	Reason           string `json:"reason,omitempty"`
	WriteTool        bool   `json:"write_tool"`
	RequiresApproval bool   `json:"requires_approval"`
}

// ToolPolicyRequest replaces the tool policy document.
type ToolPolicyRequest = toolpolicy.Policy

// RuleRequest creates or updates an output guard rule.
type RuleRequest struct {
	Name     string             `json:"name"`
	Pattern  string             `json:"pattern"`
	Action   outputguard.Action `json:"action"`
	Enabled  *bool              `json:"enabled,omitempty"`
	Priority int                `json:"priority"`
}

// SimulateRequest evaluates content without releasing it. When Rules is
// absent the active rule set is used; an explicit empty list evaluates
// against no rules.
type SimulateRequest struct {
	Content string             `json:"content"`
	Rules   []outputguard.Rule `json:"rules,omitempty"`
}

// ApprovalDecisionRequest carries the out-of-band decision for a
// suspended dispatch.
type ApprovalDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ResumeResponse describes how a resumed dispatch ended.
type ResumeResponse struct {
	Outcome     string         `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
	Hook        string         `json:"hook,omitempty"`
	RunID       string         `json:"run_id"`
	Tool        string         `json:"tool,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	ResumeToken string         `json:"resume_token,omitempty"`
	ApprovalID  string         `json:"approval_id,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// ErrorResponse is returned for any non-2xx admin response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
