package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path, e.g. "guard.rate_limit.per_user.window".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the whole configuration and returns a ValidationError
// listing every problem, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Server.Addr == "" {
		add("server.addr", "is required")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		add("logging.format", "must be json or text; got %q", cfg.Logging.Format)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}
	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite":
		if cfg.Storage.Path == "" {
			add("storage.path", "is required for the sqlite driver")
		}
	default:
		add("storage.driver", "must be memory or sqlite; got %q", cfg.Storage.Driver)
	}

	g := cfg.Guard
	if g.RateLimit.Enabled {
		if g.RateLimit.PerUser == nil && g.RateLimit.Global == nil {
			add("guard.rate_limit", "enabled but neither per_user nor global is set")
		}
		validateLimit("guard.rate_limit.per_user", g.RateLimit.PerUser, add)
		validateLimit("guard.rate_limit.global", g.RateLimit.Global, add)
	}
	if g.InputValidation.MaxLength < 0 {
		add("guard.input_validation.max_length", "must not be negative")
	}
	for i, p := range g.Injection.Patterns {
		field := fmt.Sprintf("guard.injection.patterns[%d]", i)
		if p.Name == "" {
			add(field+".name", "is required")
		}
		if _, err := regexp.Compile(p.Regex); err != nil {
			add(field+".regex", "does not compile: %v", err)
		}
	}
	for i, t := range append(append([]TopicConfig{}, g.Classification.DeniedTopics...), g.Classification.AllowedTopics...) {
		if t.Name == "" || len(t.Keywords) == 0 {
			add(fmt.Sprintf("guard.classification.topics[%d]", i), "name and keywords are required")
		}
	}
	if g.Permission.Enabled && g.Permission.PolicyFile == "" {
		add("guard.permission.policy_file", "is required when the permission stage is enabled")
	}

	if d, err := time.ParseDuration(cfg.Hooks.ApprovalTTL); err != nil || d <= 0 {
		add("hooks.approval_ttl", "must be a positive duration; got %q", cfg.Hooks.ApprovalTTL)
	}
	if cfg.Hooks.ApprovalRetentionDays < 0 {
		add("hooks.approval_retention_days", "must not be negative")
	}

	if cfg.ToolPolicy != nil {
		if err := toolpolicy.Validate(cfg.ToolPolicy); err != nil {
			add("tool_policy", "%v", err)
		}
	}

	for i := range cfg.OutputGuard.Rules {
		if err := outputguard.ValidateRule(&cfg.OutputGuard.Rules[i]); err != nil {
			add(fmt.Sprintf("output_guard.rules[%d]", i), "%v", err)
		}
	}
	a := cfg.OutputGuard.Audit
	if a.MaxEntries <= 0 {
		add("output_guard.audit.max_entries", "must be positive")
	}
	if a.DefaultLimit <= 0 || a.MaxLimit <= 0 || a.DefaultLimit > a.MaxLimit {
		add("output_guard.audit.default_limit", "must be positive and not exceed max_limit")
	}
	if a.RetentionDays < 0 {
		add("output_guard.audit.retention_days", "must not be negative")
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateLimit(field string, l *LimitConfig, add func(string, string, ...any)) {
	if l == nil {
		return
	}
	if l.Max <= 0 {
		add(field+".max", "must be positive")
	}
	if d, err := time.ParseDuration(l.Window); err != nil || d <= 0 {
		add(field+".window", "must be a positive duration; got %q", l.Window)
	}
}
