// Package guard admits or rejects inbound agent requests through an
// ordered, fail-close pipeline of stages.
package guard

import (
	"context"
	"maps"
)

// Command is one inbound request. Stages receive their own copy.
type Command struct {
	UserID   string            `json:"user_id"`
	Text     string            `json:"text"`
	Channel  string            `json:"channel,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (c Command) clone() Command {
	c.Metadata = maps.Clone(c.Metadata)
	return c
}

// Category classifies a rejection.
type Category string

const (
	RateLimited     Category = "RATE_LIMITED"
	InvalidInput    Category = "INVALID_INPUT"
	PromptInjection Category = "PROMPT_INJECTION"
	OffTopic        Category = "OFF_TOPIC"
	Unauthorized    Category = "UNAUTHORIZED"
	SystemError     Category = "SYSTEM_ERROR"
)

// Result is either Allowed or Rejected.
type Result interface {
	isResult()
}

type Allowed struct {
	Hints []string
}

// Rejected stops the pipeline. Stage is filled by the pipeline when the
// stage leaves it blank.
type Rejected struct {
	Reason   string
	Category Category
	Stage    string
}

func (Allowed) isResult()  {}
func (Rejected) isResult() {}

// Stage is a single admission check. Check returns an error only for
// internal failures; the pipeline turns those into SYSTEM_ERROR.
type Stage interface {
	Name() string
	Order() int
	Enabled() bool
	Check(ctx context.Context, cmd Command) (Result, error)
}

// CheckFunc is the body of a stage built with NewStage.
type CheckFunc func(ctx context.Context, cmd Command) (Result, error)

type funcStage struct {
	name  string
	order int
	fn    CheckFunc
}

// NewStage returns an always-enabled stage running fn.
func NewStage(name string, order int, fn CheckFunc) Stage {
	return &funcStage{name: name, order: order, fn: fn}
}

func (s *funcStage) Name() string  { return s.name }
func (s *funcStage) Order() int    { return s.order }
func (s *funcStage) Enabled() bool { return true }

func (s *funcStage) Check(ctx context.Context, cmd Command) (Result, error) {
	return s.fn(ctx, cmd)
}

func reject(category Category, reason string) Rejected {
	return Rejected{Reason: reason, Category: category}
}
