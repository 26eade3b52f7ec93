package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// SeedPolicy stores p when no policy exists yet.
func (s *Service) SeedPolicy(ctx context.Context, p *toolpolicy.Policy) error {
	if p == nil {
		return nil
	}
	_, err := s.policies.Load(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, toolpolicy.ErrNotFound):
		return fmt.Errorf("checking tool policy: %w", err)
	}
	_, err = s.SavePolicy(ctx, SystemActor, p)
	return err
}

// SeedRules creates rules when the rule store is empty. Each seeded rule
// gets a CREATE audit entry.
func (s *Service) SeedRules(ctx context.Context, rules []outputguard.Rule) (int, error) {
	if len(rules) == 0 {
		return 0, nil
	}
	existing, err := s.rules.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("checking rules: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, r := range rules {
		if _, err := s.CreateRule(ctx, SystemActor, r); err != nil {
			return i, fmt.Errorf("seeding rule %q: %w", r.Name, err)
		}
	}
	s.logger.Info("seeded output rules", "count", len(rules))
	return len(rules), nil
}
