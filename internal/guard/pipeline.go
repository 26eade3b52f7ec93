package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tkingovr/agent-governor/internal/metrics"
)

// Pipeline executes enabled stages in ascending (order, name).
type Pipeline struct {
	stages  []Stage
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewPipeline sorts stages and rejects duplicate names.
func NewPipeline(stages []Stage, m *metrics.Collector, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]struct{}, len(stages))
	sorted := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s.Name() == "" {
			return nil, fmt.Errorf("guard stage name is required")
		}
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("guard stage %q registered twice", s.Name())
		}
		seen[s.Name()] = struct{}{}
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order() != sorted[j].Order() {
			return sorted[i].Order() < sorted[j].Order()
		}
		return sorted[i].Name() < sorted[j].Name()
	})
	return &Pipeline{
		stages:  sorted,
		metrics: m,
		logger:  logger.With("component", "guard"),
	}, nil
}

// Stages returns the registered stages in execution order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Guard runs every enabled stage until one rejects. Hints from allowing
// stages are concatenated in stage order.
func (p *Pipeline) Guard(ctx context.Context, cmd Command) Result {
	start := time.Now()
	var hints []string

	for _, s := range p.stages {
		if !s.Enabled() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return p.rejected(s.Name(), start, Rejected{
				Reason:   fmt.Sprintf("guard aborted: %v", err),
				Category: SystemError,
				Stage:    s.Name(),
			})
		}

		res, err := p.check(ctx, s, cmd.clone())
		if err != nil {
			p.logger.Error("guard stage failed", "stage", s.Name(), "user_id", cmd.UserID, "error", err)
			return p.rejected(s.Name(), start, Rejected{
				Reason:   fmt.Sprintf("stage %s failed: %v", s.Name(), err),
				Category: SystemError,
				Stage:    s.Name(),
			})
		}

		switch r := res.(type) {
		case Allowed:
			hints = append(hints, r.Hints...)
			p.logger.Debug("guard stage allowed", "stage", s.Name(), "hints", len(r.Hints))
		case Rejected:
			if r.Stage == "" {
				r.Stage = s.Name()
			}
			p.logger.Info("guard rejected request",
				"stage", r.Stage,
				"category", string(r.Category),
				"user_id", cmd.UserID,
				"reason", r.Reason,
			)
			return p.rejected(r.Stage, start, r)
		default:
			return p.rejected(s.Name(), start, Rejected{
				Reason:   fmt.Sprintf("stage %s returned no result", s.Name()),
				Category: SystemError,
				Stage:    s.Name(),
			})
		}
	}

	p.metrics.RecordGuardDecision(true, "", "", time.Since(start))
	return Allowed{Hints: hints}
}

// check calls the stage, converting a panic into an error.
func (p *Pipeline) check(ctx context.Context, s Stage, cmd Command) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Check(ctx, cmd)
}

func (p *Pipeline) rejected(stage string, start time.Time, r Rejected) Result {
	p.metrics.RecordGuardDecision(false, stage, string(r.Category), time.Since(start))
	return r
}
