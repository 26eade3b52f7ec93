package hooks

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// Names of the built-in hooks.
const (
	ToolPolicyHookName = "tool-policy"
	ApprovalHookName   = "tool-approval"
	ToolUsageHookName  = "tool-usage"
)

// ToolEvaluator decides whether a tool may run on a channel.
type ToolEvaluator interface {
	Evaluate(ctx context.Context, channel, tool string) toolpolicy.Decision
}

// ApprovalPolicy decides whether a tool call needs a human decision.
type ApprovalPolicy interface {
	RequiresApproval(ctx context.Context, tool string, args map[string]any) bool
}

// NewToolPolicyHook rejects tool calls the policy engine denies for the
// run's channel.
func NewToolPolicyHook(ev ToolEvaluator, order int) Hook {
	d := Descriptor{Name: ToolPolicyHookName, Kind: BeforeToolCall, Order: order, Enabled: true, FailOnError: true}
	return New(d, func(ctx context.Context, inv *Invocation) (Result, error) {
		if inv.Tool == nil {
			return Continue{}, nil
		}
		switch dec := ev.Evaluate(ctx, inv.Agent.Channel, inv.Tool.Name).(type) {
		case toolpolicy.Allow:
			return Continue{}, nil
		case toolpolicy.Deny:
			return Reject{Reason: dec.Reason}, nil
		default:
			return nil, fmt.Errorf("unknown tool decision %T", dec)
		}
	})
}

// NewApprovalHook suspends tool calls that require approval.
func NewApprovalHook(policy ApprovalPolicy, order int) Hook {
	d := Descriptor{Name: ApprovalHookName, Kind: BeforeToolCall, Order: order, Enabled: true, FailOnError: true}
	return New(d, func(ctx context.Context, inv *Invocation) (Result, error) {
		if inv.Tool == nil || !policy.RequiresApproval(ctx, inv.Tool.Name, inv.Tool.Params) {
			return Continue{}, nil
		}
		return PendingApproval{
			ApprovalID: uuid.NewString(),
			Message:    fmt.Sprintf("tool %q requires approval", inv.Tool.Name),
		}, nil
	})
}

// NewToolUsageHook records each completed tool call in the run's
// ToolsUsed.
func NewToolUsageHook() Hook {
	d := Descriptor{Name: ToolUsageHookName, Kind: AfterToolCall, Order: 0, Enabled: true}
	return New(d, func(_ context.Context, inv *Invocation) (Result, error) {
		if inv.Tool != nil {
			inv.Agent.RecordToolUse(inv.Tool.Name)
		}
		return Continue{}, nil
	})
}
