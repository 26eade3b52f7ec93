package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes([]byte("server:\n  addr: \"127.0.0.1:9090\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Errorf("expected addr override, got %s", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != DefaultStorageDriver {
		t.Errorf("expected default driver %s, got %s", DefaultStorageDriver, cfg.Storage.Driver)
	}
	if !cfg.Guard.InputValidation.Enabled || cfg.Guard.InputValidation.Order != OrderInputValidation {
		t.Errorf("expected input validation enabled at band 2, got %+v", cfg.Guard.InputValidation)
	}
	if cfg.Hooks.ApprovalTTLDuration() != DefaultApprovalTTL {
		t.Errorf("expected default approval ttl, got %s", cfg.Hooks.ApprovalTTLDuration())
	}
	if cfg.OutputGuard.Audit.MaxLimit != DefaultAuditMaxListLimit {
		t.Errorf("expected default max limit, got %d", cfg.OutputGuard.Audit.MaxLimit)
	}
}

func TestLoadBytes_ExplicitFalseKept(t *testing.T) {
	cfg, err := LoadBytes([]byte("guard:\n  injection:\n    enabled: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Guard.Injection.Enabled {
		t.Error("expected injection stage disabled")
	}
}

func TestLoadBytes_FullDocument(t *testing.T) {
	data := `
logging:
  level: debug
  format: text
storage:
  driver: sqlite
  path: /tmp/governor-test.db
guard:
  rate_limit:
    enabled: true
    per_user: {max: 5, window: 1m}
  classification:
    enabled: true
    order: 35
    denied_topics:
      - name: gambling
        keywords: [casino, poker]
hooks:
  always_approve: [send_email]
  approval_ttl: 10m
tool_policy:
  enabled: true
  write_tool_names: [delete_file]
  deny_write_channels: [slack]
output_guard:
  seed_defaults: false
  rules:
    - name: ssn
      pattern: '\d{3}-\d{2}-\d{4}'
      action: MASK
      enabled: true
      priority: 10
`
	cfg, err := LoadBytes([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Guard.RateLimit.PerUser.WindowDuration() != time.Minute {
		t.Errorf("expected 1m window, got %s", cfg.Guard.RateLimit.PerUser.WindowDuration())
	}
	if cfg.Guard.Classification.Order != 35 {
		t.Errorf("expected custom order 35, got %d", cfg.Guard.Classification.Order)
	}
	if cfg.Hooks.ApprovalTTLDuration() != 10*time.Minute {
		t.Errorf("expected 10m ttl, got %s", cfg.Hooks.ApprovalTTLDuration())
	}
	if cfg.ToolPolicy == nil || !cfg.ToolPolicy.Enabled {
		t.Fatal("expected seeded tool policy")
	}
	if len(cfg.OutputGuard.Rules) != 1 || cfg.OutputGuard.Rules[0].Action != "MASK" {
		t.Errorf("unexpected rules %+v", cfg.OutputGuard.Rules)
	}
}

func TestLoadBytes_ValidationCollectsAllErrors(t *testing.T) {
	data := `
logging:
  level: loud
storage:
  driver: postgres
guard:
  rate_limit:
    enabled: true
    global: {max: 0, window: soon}
  permission:
    enabled: true
hooks:
  approval_ttl: never
output_guard:
  rules:
    - name: broken
      pattern: '(?'
      action: MASK
`
	_, err := LoadBytes([]byte(data))
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	fields := make(map[string]bool)
	for _, fe := range verr.Errors {
		fields[fe.Field] = true
	}
	for _, want := range []string{
		"logging.level",
		"storage.driver",
		"guard.rate_limit.global.max",
		"guard.rate_limit.global.window",
		"guard.permission.policy_file",
		"hooks.approval_ttl",
		"output_guard.rules[0]",
	} {
		if !fields[want] {
			t.Errorf("expected field error for %s, got %v", want, verr.Errors)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GOVERNOR_SERVER_ADDR", "0.0.0.0:7000")
	t.Setenv("GOVERNOR_LOG_LEVEL", "DEBUG")
	t.Setenv("GOVERNOR_METRICS_ENABLED", "false")

	cfg, err := LoadBytes([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:7000" {
		t.Errorf("expected env addr, got %s", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled by env")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "governor.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  format: text\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path != path {
		t.Errorf("expected path %s, got %s", path, cfg.Path)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected text format, got %s", cfg.Logging.Format)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
