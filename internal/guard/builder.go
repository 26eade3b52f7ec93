package guard

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/tkingovr/agent-governor/internal/config"
	"github.com/tkingovr/agent-governor/internal/metrics"
)

// Build constructs the configured pipeline. The permission stage is
// returned separately (nil when disabled) so its policy can be reloaded.
func Build(cfg config.GuardConfig, m *metrics.Collector, logger *slog.Logger, extra ...Stage) (*Pipeline, *PermissionStage, error) {
	var stages []Stage

	if rl := cfg.RateLimit; rl.Enabled {
		stages = append(stages, NewRateLimitStage(rl.Order, toLimit(rl.PerUser), toLimit(rl.Global)))
	}
	if iv := cfg.InputValidation; iv.Enabled {
		stages = append(stages, NewInputValidationStage(iv.Order, iv.MaxLength))
	}
	if inj := cfg.Injection; inj.Enabled {
		opts := []InjectionOption{WithEntropyThreshold(inj.EntropyThreshold)}
		if len(inj.Patterns) > 0 {
			patterns := DefaultInjectionPatterns()
			for _, p := range inj.Patterns {
				re, err := regexp.Compile(p.Regex)
				if err != nil {
					return nil, nil, fmt.Errorf("injection pattern %q: %w", p.Name, err)
				}
				patterns = append(patterns, InjectionPattern{Name: p.Name, Regex: re})
			}
			opts = append(opts, WithInjectionPatterns(patterns))
		}
		stages = append(stages, NewInjectionStage(inj.Order, opts...))
	}
	if cl := cfg.Classification; cl.Enabled {
		stages = append(stages, NewClassificationStage(cl.Order, toTopics(cl.DeniedTopics), toTopics(cl.AllowedTopics)))
	}

	var perm *PermissionStage
	if pc := cfg.Permission; pc.Enabled {
		var err error
		perm, err = NewPermissionStage(pc.Order, pc.PolicyFile)
		if err != nil {
			return nil, nil, err
		}
		stages = append(stages, perm)
	}

	stages = append(stages, extra...)
	p, err := NewPipeline(stages, m, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, perm, nil
}

func toLimit(l *config.LimitConfig) *RateLimit {
	if l == nil {
		return nil
	}
	return &RateLimit{Max: l.Max, Window: l.WindowDuration()}
}

func toTopics(in []config.TopicConfig) []Topic {
	out := make([]Topic, 0, len(in))
	for _, t := range in {
		out = append(out, Topic{Name: t.Name, Keywords: t.Keywords})
	}
	return out
}
