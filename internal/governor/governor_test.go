package governor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/tkingovr/agent-governor/internal/approval"
	"github.com/tkingovr/agent-governor/internal/config"
	"github.com/tkingovr/agent-governor/internal/guard"
	"github.com/tkingovr/agent-governor/internal/hooks"
	"github.com/tkingovr/agent-governor/internal/invalidation"
	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

type harness struct {
	gov      *Governor
	bus      *invalidation.Bus
	policies *toolpolicy.MemoryStore
	rules    *outputguard.MemoryRuleStore
	hooks    *hooks.Dispatcher
}

func newHarness(t *testing.T, extra ...hooks.Hook) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		bus:      invalidation.New(),
		policies: toolpolicy.NewMemoryStore(),
		rules:    outputguard.NewMemoryRuleStore(),
	}
	_, err := h.policies.Save(ctx, &toolpolicy.Policy{
		Enabled:           true,
		WriteToolNames:    []string{"delete_file", "deploy"},
		DenyWriteChannels: []string{"slack"},
		DenyWriteMessage:  "write tools are disabled on slack",
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := toolpolicy.NewEngine(h.policies, h.bus, toolpolicy.WithAlwaysApprove("send_email"))

	h.hooks = hooks.NewDispatcher(approval.NewQueue())
	if err := RegisterBuiltins(h.hooks, engine, config.HooksConfig{ApprovalOrder: 100}); err != nil {
		t.Fatal(err)
	}
	if len(extra) > 0 {
		if err := h.hooks.Register(extra...); err != nil {
			t.Fatal(err)
		}
	}

	pipeline, err := guard.NewPipeline([]guard.Stage{
		guard.NewInputValidationStage(2, 100),
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	cached := outputguard.NewCachedRules(h.rules, h.bus, nil)
	h.gov = New(Deps{
		Guard:  pipeline,
		Hooks:  h.hooks,
		Tools:  engine,
		Output: outputguard.NewPipeline(cached, outputguard.NewEvaluator(nil), nil, nil),
	})
	return h
}

func (h *harness) addRule(t *testing.T, r outputguard.Rule) {
	t.Helper()
	if _, err := h.rules.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	h.bus.Touch()
}

func TestAdmit_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	res := h.gov.Admit(context.Background(), guard.Command{UserID: "u1", Text: ""})
	rej, ok := res.(guard.Rejected)
	if !ok {
		t.Fatalf("expected Rejected, got %#v", res)
	}
	if rej.Category != guard.InvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", rej.Category)
	}
}

func TestFullRun_MasksOutputAndRecordsTools(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addRule(t, outputguard.Rule{
		Name:    "passwords",
		Pattern: `(?i)password\s*:\s*\S+`,
		Action:  outputguard.ActionMask,
		Enabled: true,
	})

	cmd := guard.Command{UserID: "u1", Text: "look up my notes", Channel: "web", Metadata: map[string]string{"tenant": "acme"}}
	if _, ok := h.gov.Admit(ctx, cmd).(guard.Allowed); !ok {
		t.Fatal("expected command to be admitted")
	}

	run, out, err := h.gov.StartRun(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(hooks.Proceed); !ok {
		t.Fatalf("expected Proceed, got %#v", out)
	}
	if v, _ := run.Agent.Metadata("tenant"); v != "acme" {
		t.Errorf("expected command metadata on the run, got %v", v)
	}

	auth, err := h.gov.AuthorizeToolCall(ctx, run, "read_file", map[string]any{"path": "notes.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if !auth.Allowed() {
		t.Fatalf("expected read_file to be allowed, got %#v", auth.Outcome)
	}
	if auth.Call.CallIndex != 0 {
		t.Errorf("expected call index 0, got %d", auth.Call.CallIndex)
	}
	if err := h.gov.CompleteToolCall(ctx, run, auth.Call, hooks.ToolCallResult{Success: true, Output: "ok"}); err != nil {
		t.Fatal(err)
	}

	done, err := h.gov.Finish(ctx, run, hooks.AgentResponse{Success: true, Response: "your password: hunter2"})
	if err != nil {
		t.Fatal(err)
	}
	if done.Response.Response != "your "+outputguard.RedactionToken {
		t.Errorf("expected masked response, got %q", done.Response.Response)
	}
	if !reflect.DeepEqual(done.Response.ToolsUsed, []string{"read_file"}) {
		t.Errorf("expected tools used [read_file], got %v", done.Response.ToolsUsed)
	}
	if done.Evaluation == nil || !done.Evaluation.Modified() {
		t.Error("expected a modified evaluation")
	}
}

func TestAuthorizeToolCall_DeniedByPolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, _, err := h.gov.StartRun(ctx, guard.Command{UserID: "u1", Text: "clean up", Channel: "Slack "})
	if err != nil {
		t.Fatal(err)
	}
	auth, err := h.gov.AuthorizeToolCall(ctx, run, "delete_file", nil)
	if err != nil {
		t.Fatal(err)
	}
	rej, ok := auth.Outcome.(hooks.Rejected)
	if !ok {
		t.Fatalf("expected Rejected, got %#v", auth.Outcome)
	}
	if rej.Hook != hooks.ToolPolicyHookName || rej.Reason != "write tools are disabled on slack" {
		t.Errorf("unexpected rejection %+v", rej)
	}

	pending, err := h.hooks.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no approval request for a denied call, got %d", len(pending))
	}
}

func TestAuthorizeToolCall_ApprovalThenResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, _, err := h.gov.StartRun(ctx, guard.Command{UserID: "u1", Text: "ship it", Channel: "web"})
	if err != nil {
		t.Fatal(err)
	}
	auth, err := h.gov.AuthorizeToolCall(ctx, run, "deploy", map[string]any{"env": "prod"})
	if err != nil {
		t.Fatal(err)
	}
	susp, ok := auth.Outcome.(hooks.Suspended)
	if !ok {
		t.Fatalf("expected Suspended, got %#v", auth.Outcome)
	}
	if auth.Allowed() {
		t.Error("expected a suspended call not to be allowed")
	}

	resumed, err := h.gov.Resume(ctx, susp.ResumeToken, approval.Decision{Approved: true, Actor: "ops"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resumed.Outcome.(hooks.Proceed); !ok {
		t.Fatalf("expected Proceed after approval, got %#v", resumed.Outcome)
	}
	if resumed.Kind != hooks.BeforeToolCall || resumed.Call == nil || resumed.Call.Name != "deploy" {
		t.Fatalf("unexpected resumed call %+v", resumed)
	}
	if resumed.Call.Params["env"] != "prod" {
		t.Errorf("expected params to survive the checkpoint, got %v", resumed.Call.Params)
	}
	if resumed.Run.Agent.RunID != run.Agent.RunID {
		t.Errorf("expected run id %s, got %s", run.Agent.RunID, resumed.Run.Agent.RunID)
	}

	if _, err := h.gov.Resume(ctx, susp.ResumeToken, approval.Decision{Approved: true}); !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved on reuse, got %v", err)
	}
}

func TestResume_RechecksPolicyChangedWhileSuspended(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, _, err := h.gov.StartRun(ctx, guard.Command{UserID: "u1", Text: "mail", Channel: "web"})
	if err != nil {
		t.Fatal(err)
	}
	auth, err := h.gov.AuthorizeToolCall(ctx, run, "send_email", nil)
	if err != nil {
		t.Fatal(err)
	}
	susp, ok := auth.Outcome.(hooks.Suspended)
	if !ok {
		t.Fatalf("expected Suspended, got %#v", auth.Outcome)
	}

	_, err = h.policies.Save(ctx, &toolpolicy.Policy{
		Enabled:           true,
		WriteToolNames:    []string{"send_email"},
		DenyWriteChannels: []string{"web"},
		DenyWriteMessage:  "email is blocked",
	})
	if err != nil {
		t.Fatal(err)
	}
	h.bus.Touch()

	resumed, err := h.gov.Resume(ctx, susp.ResumeToken, approval.Decision{Approved: true})
	if err != nil {
		t.Fatal(err)
	}
	rej, ok := resumed.Outcome.(hooks.Rejected)
	if !ok {
		t.Fatalf("expected Rejected, got %#v", resumed.Outcome)
	}
	if rej.Reason != "email is blocked" {
		t.Errorf("expected current policy message, got %q", rej.Reason)
	}
}

func TestResume_Denied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, _, _ := h.gov.StartRun(ctx, guard.Command{UserID: "u1", Text: "ship", Channel: "web"})
	auth, err := h.gov.AuthorizeToolCall(ctx, run, "deploy", nil)
	if err != nil {
		t.Fatal(err)
	}
	susp := auth.Outcome.(hooks.Suspended)

	resumed, err := h.gov.Resume(ctx, susp.ResumeToken, approval.Decision{Approved: false, Reason: "not today"})
	if err != nil {
		t.Fatal(err)
	}
	rej, ok := resumed.Outcome.(hooks.Rejected)
	if !ok || rej.Reason != "not today" {
		t.Fatalf("expected Rejected(not today), got %#v", resumed.Outcome)
	}
}

func TestStartRun_ModifyAndReject(t *testing.T) {
	tag := hooks.New(hooks.Descriptor{Name: "tag", Kind: hooks.BeforeAgentStart, Order: 1, Enabled: true},
		func(context.Context, *hooks.Invocation) (hooks.Result, error) {
			return hooks.Modify{Params: map[string]any{"tier": "gold"}}, nil
		})
	block := hooks.New(hooks.Descriptor{Name: "block", Kind: hooks.BeforeAgentStart, Order: 2, Enabled: true},
		func(_ context.Context, inv *hooks.Invocation) (hooks.Result, error) {
			if v, _ := inv.Agent.Metadata("tier"); v == "gold" && inv.Agent.UserID == "banned" {
				return hooks.Reject{Reason: "user is banned"}, nil
			}
			return hooks.Continue{}, nil
		})
	h := newHarness(t, tag, block)
	ctx := context.Background()

	run, out, err := h.gov.StartRun(ctx, guard.Command{UserID: "banned", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	rej, ok := out.(hooks.Rejected)
	if !ok || rej.Hook != "block" {
		t.Fatalf("expected rejection by block, got %#v", out)
	}
	if v, _ := run.Agent.Metadata("tier"); v != "gold" {
		t.Errorf("expected modified metadata, got %v", v)
	}
}

func TestStartRun_FailCloseHookError(t *testing.T) {
	boom := hooks.New(hooks.Descriptor{Name: "boom", Kind: hooks.BeforeAgentStart, Order: 10, Enabled: true, FailOnError: true},
		func(context.Context, *hooks.Invocation) (hooks.Result, error) {
			return nil, errors.New("boom")
		})
	h := newHarness(t, boom)

	_, _, err := h.gov.StartRun(context.Background(), guard.Command{UserID: "u1", Text: "hi"})
	var hookErr *hooks.HookError
	if !errors.As(err, &hookErr) || hookErr.Hook != "boom" {
		t.Fatalf("expected HookError from boom, got %v", err)
	}
}

func TestFinish_WithholdsBlockedResponse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addRule(t, outputguard.Rule{
		Name:    "internal",
		Pattern: `(?i)internal use only`,
		Action:  outputguard.ActionReject,
		Enabled: true,
	})

	run, _, _ := h.gov.StartRun(ctx, guard.Command{UserID: "u1", Text: "hi"})
	done, err := h.gov.Finish(ctx, run, hooks.AgentResponse{Success: true, Response: "INTERNAL USE ONLY: roadmap"})
	if err != nil {
		t.Fatal(err)
	}
	if done.Response.Success {
		t.Error("expected a withheld response to be unsuccessful")
	}
	if done.Response.Response != "" || done.Response.ErrorMessage != WithheldMessage {
		t.Errorf("unexpected response %+v", done.Response)
	}
	if !done.Evaluation.Blocked {
		t.Error("expected evaluation to be blocked")
	}
}

func TestFinish_SkipsGuardForFailedRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, _, _ := h.gov.StartRun(ctx, guard.Command{UserID: "u1", Text: "hi"})
	done, err := h.gov.Finish(ctx, run, hooks.AgentResponse{Success: false, ErrorMessage: "llm timeout"})
	if err != nil {
		t.Fatal(err)
	}
	if done.Evaluation != nil {
		t.Error("expected no output evaluation for a failed run")
	}
	if done.Response.ErrorMessage != "llm timeout" {
		t.Errorf("expected error message preserved, got %q", done.Response.ErrorMessage)
	}
}
