// Package hooks dispatches ordered lifecycle hooks around an agent run and
// its tool calls.
package hooks

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a lifecycle point.
type Kind string

const (
	BeforeAgentStart   Kind = "BeforeAgentStart"
	BeforeToolCall     Kind = "BeforeToolCall"
	AfterToolCall      Kind = "AfterToolCall"
	AfterAgentComplete Kind = "AfterAgentComplete"
)

// Observational reports whether hook results of this kind are ignored.
func (k Kind) Observational() bool {
	return k == AfterToolCall || k == AfterAgentComplete
}

func (k Kind) Valid() bool {
	switch k {
	case BeforeAgentStart, BeforeToolCall, AfterToolCall, AfterAgentComplete:
		return true
	}
	return false
}

// Context is the per-run state shared by every hook of one agent run.
// ToolsUsed and metadata may be mutated concurrently by hooks.
type Context struct {
	RunID      string
	UserID     string
	UserPrompt string
	Channel    string
	StartedAt  time.Time

	mu        sync.Mutex
	toolsUsed []string
	metadata  map[string]any
}

// NewContext starts a run with a fresh run id.
func NewContext(userID, prompt, channel string) *Context {
	return &Context{
		RunID:      uuid.NewString(),
		UserID:     userID,
		UserPrompt: prompt,
		Channel:    channel,
		StartedAt:  time.Now(),
		metadata:   make(map[string]any),
	}
}

func (c *Context) RecordToolUse(name string) {
	c.mu.Lock()
	c.toolsUsed = append(c.toolsUsed, name)
	c.mu.Unlock()
}

func (c *Context) ToolsUsed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.toolsUsed...)
}

func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	c.metadata[key] = value
	c.mu.Unlock()
}

func (c *Context) Metadata(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// MetadataSnapshot returns a copy of the metadata map.
func (c *Context) MetadataSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.metadata)
}

func (c *Context) mergeMetadata(m map[string]any) {
	c.mu.Lock()
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	maps.Copy(c.metadata, m)
	c.mu.Unlock()
}

// ToolCall describes one tool invocation requested by the agent.
type ToolCall struct {
	Name      string         `json:"name"`
	Params    map[string]any `json:"params,omitempty"`
	CallIndex int            `json:"call_index"`
}

type ToolCallResult struct {
	Success      bool   `json:"success"`
	Output       string `json:"output,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

type AgentResponse struct {
	Success         bool     `json:"success"`
	Response        string   `json:"response,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	ToolsUsed       []string `json:"tools_used"`
	TotalDurationMs int64    `json:"total_duration_ms"`
}

// Invocation is what a hook sees. Tool is set for tool-call kinds,
// ToolResult for AfterToolCall and Response for AfterAgentComplete.
type Invocation struct {
	Kind       Kind
	Agent      *Context
	Tool       *ToolCall
	ToolResult *ToolCallResult
	Response   *AgentResponse
}

// Result is the closed set of hook answers.
type Result interface {
	isResult()
}

type Continue struct{}

type Reject struct {
	Reason string
}

// Modify merges Params into the tool parameters (tool-call kinds) or the
// run metadata (BeforeAgentStart).
type Modify struct {
	Params map[string]any
}

// PendingApproval suspends the dispatch until a decision arrives.
type PendingApproval struct {
	ApprovalID string
	Message    string
}

func (Continue) isResult()        {}
func (Reject) isResult()          {}
func (Modify) isResult()          {}
func (PendingApproval) isResult() {}

// Descriptor configures a hook. FailOnError makes handler errors abort
// the dispatch instead of being logged and skipped.
type Descriptor struct {
	Name        string `yaml:"name" json:"name"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	Order       int    `yaml:"order" json:"order"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	FailOnError bool   `yaml:"fail_on_error" json:"fail_on_error"`
}

// Hook is a single lifecycle handler.
type Hook interface {
	Descriptor() Descriptor
	Handle(ctx context.Context, inv *Invocation) (Result, error)
}

// HandlerFunc adapts a function to Hook.
type HandlerFunc func(ctx context.Context, inv *Invocation) (Result, error)

type funcHook struct {
	desc Descriptor
	fn   HandlerFunc
}

// New wraps fn as a Hook described by d.
func New(d Descriptor, fn HandlerFunc) Hook {
	return &funcHook{desc: d, fn: fn}
}

func (h *funcHook) Descriptor() Descriptor { return h.desc }

func (h *funcHook) Handle(ctx context.Context, inv *Invocation) (Result, error) {
	return h.fn(ctx, inv)
}

// HookError is returned by Dispatch when a fail-close hook fails.
type HookError struct {
	Hook string
	Kind Kind
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %q (%s) failed: %v", e.Hook, e.Kind, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Outcome is the closed set of dispatch results.
type Outcome interface {
	isOutcome()
}

type Proceed struct{}

type Rejected struct {
	Hook   string
	Reason string
}

// Suspended reports a dispatch parked on a human decision. Pass
// ResumeToken to Dispatcher.Resume to continue it.
type Suspended struct {
	ResumeToken string
	ApprovalID  string
	Message     string
	Hook        string
	ExpiresAt   time.Time
}

func (Proceed) isOutcome()   {}
func (Rejected) isOutcome()  {}
func (Suspended) isOutcome() {}
