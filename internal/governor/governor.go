// Package governor runs one agent request through admission, lifecycle
// hooks, tool authorization and output release.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/tkingovr/agent-governor/internal/approval"
	"github.com/tkingovr/agent-governor/internal/config"
	"github.com/tkingovr/agent-governor/internal/guard"
	"github.com/tkingovr/agent-governor/internal/hooks"
	"github.com/tkingovr/agent-governor/internal/metrics"
	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// ToolPolicyOrder places the policy hook ahead of the approval hook so a
// denied call never waits on a human.
const ToolPolicyOrder = 50

// WithheldMessage replaces agent output blocked by a REJECT rule.
const WithheldMessage = "response withheld by output policy"

// ErrNoOutputGuard is returned by Finish when no output pipeline is set.
var ErrNoOutputGuard = errors.New("output guard pipeline not configured")

// ToolPolicy is the part of toolpolicy.Engine the governor needs.
type ToolPolicy interface {
	hooks.ToolEvaluator
	hooks.ApprovalPolicy
}

// Deps are the collaborators of a Governor.
type Deps struct {
	Guard   *guard.Pipeline
	Hooks   *hooks.Dispatcher
	Tools   ToolPolicy
	Output  *outputguard.Pipeline
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

type Governor struct {
	guard   *guard.Pipeline
	hooks   *hooks.Dispatcher
	tools   ToolPolicy
	output  *outputguard.Pipeline
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

func New(d Deps) *Governor {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		guard:   d.Guard,
		hooks:   d.Hooks,
		tools:   d.Tools,
		output:  d.Output,
		metrics: d.Metrics,
		logger:  logger.With("component", "governor"),
		now:     time.Now,
	}
}

// RegisterBuiltins adds the tool policy, approval and tool usage hooks.
func RegisterBuiltins(d *hooks.Dispatcher, tools ToolPolicy, cfg config.HooksConfig) error {
	return d.Register(
		hooks.NewToolPolicyHook(tools, ToolPolicyOrder),
		hooks.NewApprovalHook(tools, cfg.ApprovalOrder),
		hooks.NewToolUsageHook(),
	)
}

// Run is the state of one admitted request.
type Run struct {
	Agent *hooks.Context

	nextCall int
}

// Authorization is the answer to a tool call request. Call carries the
// parameters after any Modify results.
type Authorization struct {
	Outcome hooks.Outcome
	Call    *hooks.ToolCall
}

// Allowed reports whether the tool may be invoked now.
func (a *Authorization) Allowed() bool {
	_, ok := a.Outcome.(hooks.Proceed)
	return ok
}

// Completion is the released (or withheld) agent response.
type Completion struct {
	Response   hooks.AgentResponse
	Evaluation *outputguard.Evaluation
}

// Admit runs the guard pipeline.
func (g *Governor) Admit(ctx context.Context, cmd guard.Command) guard.Result {
	return g.guard.Guard(ctx, cmd)
}

// StartRun creates the run context and dispatches BeforeAgentStart. The
// run is returned even when the outcome is not Proceed.
func (g *Governor) StartRun(ctx context.Context, cmd guard.Command) (*Run, hooks.Outcome, error) {
	agent := hooks.NewContext(cmd.UserID, cmd.Text, cmd.Channel)
	for k, v := range cmd.Metadata {
		agent.SetMetadata(k, v)
	}
	run := &Run{Agent: agent}

	out, err := g.hooks.Dispatch(ctx, &hooks.Invocation{Kind: hooks.BeforeAgentStart, Agent: agent})
	if err != nil {
		return run, nil, err
	}
	g.logOutcome("run start", run, out)
	return run, out, nil
}

// AuthorizeToolCall dispatches BeforeToolCall and then applies the tool
// policy to the resulting call.
func (g *Governor) AuthorizeToolCall(ctx context.Context, run *Run, tool string, params map[string]any) (*Authorization, error) {
	call := &hooks.ToolCall{Name: tool, Params: maps.Clone(params), CallIndex: run.nextCall}
	run.nextCall++

	out, err := g.hooks.Dispatch(ctx, &hooks.Invocation{Kind: hooks.BeforeToolCall, Agent: run.Agent, Tool: call})
	if err != nil {
		g.metrics.RecordToolDecision(false)
		return nil, err
	}
	return g.decide(ctx, run, call, out), nil
}

func (g *Governor) decide(ctx context.Context, run *Run, call *hooks.ToolCall, out hooks.Outcome) *Authorization {
	if _, ok := out.(hooks.Proceed); ok {
		switch dec := g.tools.Evaluate(ctx, run.Agent.Channel, call.Name).(type) {
		case toolpolicy.Allow:
		case toolpolicy.Deny:
			out = hooks.Rejected{Hook: hooks.ToolPolicyHookName, Reason: dec.Reason}
		default:
			out = hooks.Rejected{Hook: hooks.ToolPolicyHookName, Reason: fmt.Sprintf("unknown tool decision %T", dec)}
		}
	}

	switch out.(type) {
	case hooks.Proceed:
		g.metrics.RecordToolDecision(true)
	case hooks.Rejected:
		g.metrics.RecordToolDecision(false)
	}
	g.logOutcome("tool call", run, out, "tool", call.Name, "call_index", call.CallIndex)
	return &Authorization{Outcome: out, Call: call}
}

// Resumed is a suspended dispatch after its approval decision. Call is
// set when the suspension happened on a tool call.
type Resumed struct {
	Kind    hooks.Kind
	Run     *Run
	Outcome hooks.Outcome
	Call    *hooks.ToolCall
}

// Resume applies an approval decision. Resumed tool calls are checked
// against the tool policy current at resume time.
func (g *Governor) Resume(ctx context.Context, token string, decision approval.Decision) (*Resumed, error) {
	res, err := g.hooks.Resume(ctx, token, decision)
	if err != nil {
		return nil, err
	}
	inv := res.Invocation
	run := &Run{Agent: inv.Agent}
	out := &Resumed{Kind: inv.Kind, Run: run, Outcome: res.Outcome, Call: inv.Tool}

	if inv.Kind == hooks.BeforeToolCall && inv.Tool != nil {
		run.nextCall = inv.Tool.CallIndex + 1
		out.Outcome = g.decide(ctx, run, inv.Tool, res.Outcome).Outcome
	}
	return out, nil
}

// Pending lists dispatches waiting on an approval decision.
func (g *Governor) Pending(ctx context.Context) ([]*approval.Request, error) {
	return g.hooks.Pending(ctx)
}

// CompleteToolCall dispatches AfterToolCall. Only a fail-close hook error
// is returned.
func (g *Governor) CompleteToolCall(ctx context.Context, run *Run, call *hooks.ToolCall, result hooks.ToolCallResult) error {
	_, err := g.hooks.Dispatch(ctx, &hooks.Invocation{
		Kind:       hooks.AfterToolCall,
		Agent:      run.Agent,
		Tool:       call,
		ToolResult: &result,
	})
	return err
}

// Finish dispatches AfterAgentComplete and passes the response text
// through the output guard. A blocked response is withheld.
func (g *Governor) Finish(ctx context.Context, run *Run, resp hooks.AgentResponse) (*Completion, error) {
	if resp.ToolsUsed == nil {
		resp.ToolsUsed = run.Agent.ToolsUsed()
	}
	if resp.TotalDurationMs == 0 {
		resp.TotalDurationMs = g.now().Sub(run.Agent.StartedAt).Milliseconds()
	}

	if _, err := g.hooks.Dispatch(ctx, &hooks.Invocation{
		Kind:     hooks.AfterAgentComplete,
		Agent:    run.Agent,
		Response: &resp,
	}); err != nil {
		return nil, err
	}

	if !resp.Success || resp.Response == "" {
		return &Completion{Response: resp}, nil
	}
	if g.output == nil {
		return nil, ErrNoOutputGuard
	}

	ev, err := g.output.Evaluate(ctx, resp.Response)
	if err != nil {
		return nil, fmt.Errorf("evaluating output: %w", err)
	}
	if ev.Blocked {
		g.logger.Warn("response withheld",
			"run_id", run.Agent.RunID,
			"rule_id", ev.BlockedBy.RuleID,
		)
		resp.Success = false
		resp.Response = ""
		resp.ErrorMessage = WithheldMessage
	} else {
		resp.Response = ev.Content
	}
	return &Completion{Response: resp, Evaluation: ev}, nil
}

func (g *Governor) logOutcome(msg string, run *Run, out hooks.Outcome, attrs ...any) {
	attrs = append(attrs, "run_id", run.Agent.RunID)
	switch o := out.(type) {
	case hooks.Proceed:
		g.logger.Debug(msg+" proceeding", attrs...)
	case hooks.Rejected:
		g.logger.Info(msg+" rejected", append(attrs, "hook", o.Hook, "reason", o.Reason)...)
	case hooks.Suspended:
		g.logger.Info(msg+" awaiting approval", append(attrs, "hook", o.Hook, "approval_id", o.ApprovalID)...)
	}
}
