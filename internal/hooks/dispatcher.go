package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/tkingovr/agent-governor/internal/approval"
	"github.com/tkingovr/agent-governor/internal/metrics"
)

// DefaultApprovalTTL bounds how long a suspended dispatch may wait.
const DefaultApprovalTTL = 30 * time.Minute

// Dispatcher runs enabled hooks of a kind in ascending (order, name).
// Suspended dispatches are checkpointed in the approval store and hold no
// goroutine.
type Dispatcher struct {
	mu    sync.RWMutex
	hooks map[Kind][]Hook
	names map[string]struct{}

	approvals approval.Store
	ttl       time.Duration
	now       func() time.Time
	metrics   *metrics.Collector
	logger    *slog.Logger
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithApprovalTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher registers hooks. A nil approval store uses an in-memory
// queue.
func NewDispatcher(approvals approval.Store, opts ...Option) *Dispatcher {
	if approvals == nil {
		approvals = approval.NewQueue()
	}
	d := &Dispatcher{
		hooks:     make(map[Kind][]Hook),
		names:     make(map[string]struct{}),
		approvals: approvals,
		ttl:       DefaultApprovalTTL,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "hooks")
	return d
}

// Register adds hooks. Names must be unique across all kinds.
func (d *Dispatcher) Register(hooks ...Hook) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range hooks {
		desc := h.Descriptor()
		if desc.Name == "" {
			return fmt.Errorf("hook name is required")
		}
		if !desc.Kind.Valid() {
			return fmt.Errorf("hook %q: unknown kind %q", desc.Name, desc.Kind)
		}
		if _, dup := d.names[desc.Name]; dup {
			return fmt.Errorf("hook %q already registered", desc.Name)
		}
		d.names[desc.Name] = struct{}{}

		list := append(append([]Hook(nil), d.hooks[desc.Kind]...), h)
		sort.SliceStable(list, func(i, j int) bool {
			return less(list[i].Descriptor(), list[j].Descriptor())
		})
		d.hooks[desc.Kind] = list
	}
	return nil
}

// Hooks returns the descriptors registered for kind in dispatch order.
func (d *Dispatcher) Hooks(kind Kind) []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Descriptor, 0, len(d.hooks[kind]))
	for _, h := range d.hooks[kind] {
		out = append(out, h.Descriptor())
	}
	return out
}

func less(a, b Descriptor) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.Name < b.Name
}

func (d *Dispatcher) enabled(kind Kind) []Hook {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Hook
	for _, h := range d.hooks[kind] {
		if h.Descriptor().Enabled {
			out = append(out, h)
		}
	}
	return out
}

// Dispatch runs every enabled hook of inv.Kind. The returned error is a
// *HookError from a fail-close hook, a context error, or a failure to
// persist an approval checkpoint.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) (Outcome, error) {
	if inv == nil || inv.Agent == nil {
		return nil, fmt.Errorf("dispatch requires an invocation with an agent context")
	}
	return d.run(ctx, inv, d.enabled(inv.Kind))
}

func (d *Dispatcher) run(ctx context.Context, inv *Invocation, hooks []Hook) (Outcome, error) {
	kind := string(inv.Kind)
	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc := h.Descriptor()

		res, err := d.handle(ctx, h, inv)
		if err == nil && !inv.Kind.Observational() && !known(res) {
			err = fmt.Errorf("unknown hook result %T", res)
		}
		if err != nil {
			d.metrics.RecordHookError(kind, desc.Name, desc.FailOnError)
			if desc.FailOnError {
				return nil, &HookError{Hook: desc.Name, Kind: inv.Kind, Err: err}
			}
			d.logger.Warn("hook failed, continuing",
				"hook", desc.Name,
				"kind", kind,
				"run_id", inv.Agent.RunID,
				"error", err,
			)
			continue
		}

		if inv.Kind.Observational() {
			d.metrics.RecordHookOutcome(kind, "observed")
			continue
		}

		switch r := res.(type) {
		case nil, Continue:
			d.metrics.RecordHookOutcome(kind, "continue")
		case Reject:
			d.metrics.RecordHookOutcome(kind, "reject")
			d.logger.Info("hook rejected",
				"hook", desc.Name,
				"kind", kind,
				"run_id", inv.Agent.RunID,
				"reason", r.Reason,
			)
			return Rejected{Hook: desc.Name, Reason: r.Reason}, nil
		case Modify:
			d.metrics.RecordHookOutcome(kind, "modify")
			applyModify(inv, r.Params)
		case PendingApproval:
			d.metrics.RecordHookOutcome(kind, "pending")
			return d.suspend(ctx, inv, desc, r)
		}
	}
	return Proceed{}, nil
}

// handle calls the hook, converting a panic into an error.
func (d *Dispatcher) handle(ctx context.Context, h Hook, inv *Invocation) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()
	return h.Handle(ctx, inv)
}

func known(res Result) bool {
	switch res.(type) {
	case nil, Continue, Reject, Modify, PendingApproval:
		return true
	}
	return false
}

func applyModify(inv *Invocation, params map[string]any) {
	if len(params) == 0 {
		return
	}
	if inv.Tool != nil {
		if inv.Tool.Params == nil {
			inv.Tool.Params = make(map[string]any, len(params))
		}
		maps.Copy(inv.Tool.Params, params)
		return
	}
	inv.Agent.mergeMetadata(params)
}

// checkpoint is the persisted resumption point of a suspended dispatch.
type checkpoint struct {
	Kind       Kind           `json:"kind"`
	Hook       string         `json:"hook"`
	Order      int            `json:"order"`
	RunID      string         `json:"run_id"`
	UserID     string         `json:"user_id"`
	UserPrompt string         `json:"user_prompt"`
	Channel    string         `json:"channel,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	ToolsUsed  []string       `json:"tools_used,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Tool       *ToolCall      `json:"tool,omitempty"`
}

func (d *Dispatcher) suspend(ctx context.Context, inv *Invocation, desc Descriptor, p PendingApproval) (Outcome, error) {
	cp := checkpoint{
		Kind:       inv.Kind,
		Hook:       desc.Name,
		Order:      desc.Order,
		RunID:      inv.Agent.RunID,
		UserID:     inv.Agent.UserID,
		UserPrompt: inv.Agent.UserPrompt,
		Channel:    inv.Agent.Channel,
		StartedAt:  inv.Agent.StartedAt,
		ToolsUsed:  inv.Agent.ToolsUsed(),
		Metadata:   inv.Agent.MetadataSnapshot(),
		Tool:       inv.Tool,
	}
	state, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encoding approval checkpoint: %w", err)
	}

	now := d.now()
	req := &approval.Request{
		ApprovalID: p.ApprovalID,
		Hook:       desc.Name,
		Kind:       string(inv.Kind),
		RunID:      inv.Agent.RunID,
		Message:    p.Message,
		State:      state,
		CreatedAt:  now,
		ExpiresAt:  now.Add(d.ttl),
	}
	if inv.Tool != nil {
		req.Tool = inv.Tool.Name
	}
	if err := d.approvals.Put(ctx, req); err != nil {
		return nil, fmt.Errorf("storing approval checkpoint: %w", err)
	}
	d.metrics.AddPendingApprovals(1)

	d.logger.Info("dispatch suspended for approval",
		"hook", desc.Name,
		"kind", string(inv.Kind),
		"run_id", inv.Agent.RunID,
		"approval_id", req.ApprovalID,
	)
	return Suspended{
		ResumeToken: req.Token,
		ApprovalID:  req.ApprovalID,
		Message:     p.Message,
		Hook:        desc.Name,
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

// Resumption is the result of resuming a suspended dispatch. Invocation is
// rebuilt from the checkpoint, including any Modify applied before the
// suspension.
type Resumption struct {
	Outcome    Outcome
	Invocation *Invocation
}

// Resume applies an approval decision to a suspended dispatch and, when
// approved, continues with the hooks ordered after the one that
// suspended. A token resolves at most once.
func (d *Dispatcher) Resume(ctx context.Context, token string, decision approval.Decision) (*Resumption, error) {
	req, err := d.approvals.Resolve(ctx, token, decision)
	switch {
	case errors.Is(err, approval.ErrExpired):
		d.metrics.AddPendingApprovals(-1)
		cp, cpErr := decodeCheckpoint(req.State)
		if cpErr != nil {
			return nil, cpErr
		}
		return &Resumption{Outcome: Rejected{Hook: req.Hook, Reason: "approval expired"}, Invocation: cp.inv}, nil
	case err != nil:
		return nil, err
	}
	d.metrics.AddPendingApprovals(-1)

	cp, err := decodeCheckpoint(req.State)
	if err != nil {
		return nil, err
	}

	if !decision.Approved {
		reason := decision.Reason
		if reason == "" {
			reason = "approval denied"
		}
		d.logger.Info("approval denied", "hook", req.Hook, "run_id", req.RunID, "actor", decision.Actor)
		return &Resumption{Outcome: Rejected{Hook: req.Hook, Reason: reason}, Invocation: cp.inv}, nil
	}

	d.logger.Info("approval granted, resuming dispatch", "hook", req.Hook, "run_id", req.RunID, "actor", decision.Actor)
	after := Descriptor{Name: cp.Hook, Order: cp.Order}
	var rest []Hook
	for _, h := range d.enabled(cp.Kind) {
		if less(after, h.Descriptor()) {
			rest = append(rest, h)
		}
	}
	out, err := d.run(ctx, cp.inv, rest)
	if err != nil {
		return nil, err
	}
	return &Resumption{Outcome: out, Invocation: cp.inv}, nil
}

// Pending lists unresolved approval requests.
func (d *Dispatcher) Pending(ctx context.Context) ([]*approval.Request, error) {
	return d.approvals.Pending(ctx)
}

type decoded struct {
	checkpoint
	inv *Invocation
}

func decodeCheckpoint(state []byte) (*decoded, error) {
	var cp checkpoint
	if err := json.Unmarshal(state, &cp); err != nil {
		return nil, fmt.Errorf("decoding approval checkpoint: %w", err)
	}
	agent := &Context{
		RunID:      cp.RunID,
		UserID:     cp.UserID,
		UserPrompt: cp.UserPrompt,
		Channel:    cp.Channel,
		StartedAt:  cp.StartedAt,
		toolsUsed:  cp.ToolsUsed,
		metadata:   cp.Metadata,
	}
	if agent.metadata == nil {
		agent.metadata = make(map[string]any)
	}
	return &decoded{
		checkpoint: cp,
		inv:        &Invocation{Kind: cp.Kind, Agent: agent, Tool: cp.Tool},
	}, nil
}
