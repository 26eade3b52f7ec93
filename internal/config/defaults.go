package config

import "time"

const (
	DefaultServerAddr    = "127.0.0.1:8080"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultMetricsPath   = "/metrics"
	DefaultMetricsNS     = "governor"
	DefaultStorageDriver = "memory"
	DefaultStoragePath   = "~/.governor/governor.db"
	DefaultApprovalsPath = "~/.governor/approvals.db"

	DefaultMaxInputLength   = 8000
	DefaultEntropyThreshold = 4.5
	DefaultApprovalTTL      = 30 * time.Minute
	DefaultApprovalOrder    = 100

	DefaultApprovalRetentionDays = 7
	DefaultApprovalPruneSchedule = "@hourly"

	DefaultAuditMaxEntries   = 10000
	DefaultAuditListLimit    = 50
	DefaultAuditMaxListLimit = 500
	DefaultPruneSchedule     = "0 3 * * *"
)

// Guard stage order bands. Custom stages may use any value in between.
const (
	OrderRateLimit          = 1
	OrderInputValidation    = 2
	OrderInjectionDetection = 3
	OrderClassification     = 4
	OrderPermission         = 5
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: DefaultServerAddr},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: DefaultMetricsNS,
			Path:      DefaultMetricsPath,
		},
		Storage: StorageConfig{
			Driver:        DefaultStorageDriver,
			Path:          DefaultStoragePath,
			ApprovalsPath: DefaultApprovalsPath,
		},
		Guard: GuardConfig{
			RateLimit: RateLimitConfig{Order: OrderRateLimit},
			InputValidation: InputValidationConfig{
				Enabled:   true,
				Order:     OrderInputValidation,
				MaxLength: DefaultMaxInputLength,
			},
			Injection: InjectionConfig{
				Enabled:          true,
				Order:            OrderInjectionDetection,
				EntropyThreshold: DefaultEntropyThreshold,
			},
			Classification: ClassificationConfig{Order: OrderClassification},
			Permission:     PermissionConfig{Order: OrderPermission, Watch: true},
		},
		Hooks: HooksConfig{
			ApprovalTTL:   DefaultApprovalTTL.String(),
			ApprovalOrder: DefaultApprovalOrder,

			ApprovalRetentionDays: DefaultApprovalRetentionDays,
			ApprovalPruneSchedule: DefaultApprovalPruneSchedule,
		},
		OutputGuard: OutputGuardConfig{
			SeedDefaults: true,
			Audit: AuditConfig{
				MaxEntries:   DefaultAuditMaxEntries,
				DefaultLimit: DefaultAuditListLimit,
				MaxLimit:     DefaultAuditMaxListLimit,
			},
		},
	}
}
