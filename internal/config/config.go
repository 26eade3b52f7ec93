// Package config loads the governor runtime configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration for the governor.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Storage     StorageConfig      `yaml:"storage"`
	Guard       GuardConfig        `yaml:"guard"`
	Hooks       HooksConfig        `yaml:"hooks"`
	ToolPolicy  *toolpolicy.Policy `yaml:"tool_policy,omitempty"`
	OutputGuard OutputGuardConfig  `yaml:"output_guard"`

	// Path is the file the config was loaded from, if any.
	Path string `yaml:"-"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// StorageConfig selects the backend for the policy, rule and audit stores.
// Driver is "memory" or "sqlite".
type StorageConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	ApprovalsPath string `yaml:"approvals_path"`
}

type GuardConfig struct {
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	InputValidation InputValidationConfig `yaml:"input_validation"`
	Injection       InjectionConfig       `yaml:"injection"`
	Classification  ClassificationConfig  `yaml:"classification"`
	Permission      PermissionConfig      `yaml:"permission"`
}

type RateLimitConfig struct {
	Enabled bool         `yaml:"enabled"`
	Order   int          `yaml:"order"`
	PerUser *LimitConfig `yaml:"per_user,omitempty"`
	Global  *LimitConfig `yaml:"global,omitempty"`
}

// LimitConfig allows Max requests per Window (a Go duration string).
type LimitConfig struct {
	Max    int    `yaml:"max"`
	Window string `yaml:"window"`
}

// WindowDuration returns the parsed window. Validate guarantees it parses.
func (l *LimitConfig) WindowDuration() time.Duration {
	d, _ := time.ParseDuration(l.Window)
	return d
}

type InputValidationConfig struct {
	Enabled   bool `yaml:"enabled"`
	Order     int  `yaml:"order"`
	MaxLength int  `yaml:"max_length"`
}

type InjectionConfig struct {
	Enabled          bool            `yaml:"enabled"`
	Order            int             `yaml:"order"`
	EntropyThreshold float64         `yaml:"entropy_threshold"`
	Patterns         []PatternConfig `yaml:"patterns,omitempty"`
}

type PatternConfig struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

type ClassificationConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Order         int           `yaml:"order"`
	DeniedTopics  []TopicConfig `yaml:"denied_topics,omitempty"`
	AllowedTopics []TopicConfig `yaml:"allowed_topics,omitempty"`
}

type TopicConfig struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type PermissionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Order      int    `yaml:"order"`
	PolicyFile string `yaml:"policy_file"`
	Watch      bool   `yaml:"watch"`
}

type HooksConfig struct {
	AlwaysApprove []string `yaml:"always_approve,omitempty"`
	ApprovalTTL   string   `yaml:"approval_ttl"`
	ApprovalOrder int      `yaml:"approval_order"`

	// Resolved and expired approvals older than this are pruned on
	// ApprovalPruneSchedule.
	ApprovalRetentionDays int    `yaml:"approval_retention_days"`
	ApprovalPruneSchedule string `yaml:"approval_prune_schedule"`
}

// ApprovalTTLDuration returns the parsed approval TTL.
func (h *HooksConfig) ApprovalTTLDuration() time.Duration {
	d, err := time.ParseDuration(h.ApprovalTTL)
	if err != nil {
		return DefaultApprovalTTL
	}
	return d
}

type OutputGuardConfig struct {
	SeedDefaults bool               `yaml:"seed_defaults"`
	Rules        []outputguard.Rule `yaml:"rules,omitempty"`
	Audit        AuditConfig        `yaml:"audit"`
}

// AuditConfig bounds the output guard rule audit log.
type AuditConfig struct {
	MaxEntries    int    `yaml:"max_entries"`
	DefaultLimit  int    `yaml:"default_limit"`
	MaxLimit      int    `yaml:"max_limit"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"`
	JSONLDir      string `yaml:"jsonl_dir,omitempty"`
}

// Load reads a YAML config file and produces a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// LoadBytes parses YAML data on top of DefaultConfig, applies environment
// overrides and validates the result.
func LoadBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields that YAML explicitly blanked.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNS
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.ApprovalsPath == "" {
		cfg.Storage.ApprovalsPath = DefaultApprovalsPath
	}
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Storage.ApprovalsPath = expandHome(cfg.Storage.ApprovalsPath)

	g := &cfg.Guard
	if g.RateLimit.Order == 0 {
		g.RateLimit.Order = OrderRateLimit
	}
	if g.InputValidation.Order == 0 {
		g.InputValidation.Order = OrderInputValidation
	}
	if g.InputValidation.MaxLength == 0 {
		g.InputValidation.MaxLength = DefaultMaxInputLength
	}
	if g.Injection.Order == 0 {
		g.Injection.Order = OrderInjectionDetection
	}
	if g.Injection.EntropyThreshold == 0 {
		g.Injection.EntropyThreshold = DefaultEntropyThreshold
	}
	if g.Classification.Order == 0 {
		g.Classification.Order = OrderClassification
	}
	if g.Permission.Order == 0 {
		g.Permission.Order = OrderPermission
	}
	g.Permission.PolicyFile = expandHome(g.Permission.PolicyFile)

	if cfg.Hooks.ApprovalTTL == "" {
		cfg.Hooks.ApprovalTTL = DefaultApprovalTTL.String()
	}
	if cfg.Hooks.ApprovalOrder == 0 {
		cfg.Hooks.ApprovalOrder = DefaultApprovalOrder
	}
	if cfg.Hooks.ApprovalRetentionDays == 0 {
		cfg.Hooks.ApprovalRetentionDays = DefaultApprovalRetentionDays
	}
	if cfg.Hooks.ApprovalPruneSchedule == "" {
		cfg.Hooks.ApprovalPruneSchedule = DefaultApprovalPruneSchedule
	}

	a := &cfg.OutputGuard.Audit
	if a.MaxEntries == 0 {
		a.MaxEntries = DefaultAuditMaxEntries
	}
	if a.DefaultLimit == 0 {
		a.DefaultLimit = DefaultAuditListLimit
	}
	if a.MaxLimit == 0 {
		a.MaxLimit = DefaultAuditMaxListLimit
	}
	if a.RetentionDays > 0 && a.PruneSchedule == "" {
		a.PruneSchedule = DefaultPruneSchedule
	}
	a.JSONLDir = expandHome(a.JSONLDir)
}

// ApplyEnvOverrides applies GOVERNOR_* environment variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOVERNOR_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GOVERNOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("GOVERNOR_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("GOVERNOR_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("GOVERNOR_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("GOVERNOR_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = expandHome(v)
	}
	if v := os.Getenv("GOVERNOR_APPROVALS_PATH"); v != "" {
		cfg.Storage.ApprovalsPath = expandHome(v)
	}
	if v := os.Getenv("GOVERNOR_PERMISSION_POLICY"); v != "" {
		cfg.Guard.Permission.PolicyFile = expandHome(v)
		cfg.Guard.Permission.Enabled = true
	}
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// YAML serializes the config for display.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
