package api

import "time"

// AuditAction is the administrative action recorded by an audit entry.
type AuditAction string

const (
	AuditCreate   AuditAction = "CREATE"
	AuditUpdate   AuditAction = "UPDATE"
	AuditDelete   AuditAction = "DELETE"
	AuditSimulate AuditAction = "SIMULATE"
)

// AuditEntry is one append-only record of an output guard rule operation.
// RuleID and Detail are empty when absent.
type AuditEntry struct {
	ID        string      `json:"id"`
	RuleID    string      `json:"rule_id,omitempty"`
	Action    AuditAction `json:"action"`
	Actor     string      `json:"actor"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// AuditQuery selects audit entries. Results are newest first.
type AuditQuery struct {
	RuleID string      `json:"rule_id,omitempty"`
	Action AuditAction `json:"action,omitempty"`
	Actor  string      `json:"actor,omitempty"`
	Since  time.Time   `json:"since,omitempty"`
	Limit  int         `json:"limit,omitempty"`
}

// AuditStats summarizes the retained audit entries.
type AuditStats struct {
	Total    int                 `json:"total"`
	ByAction map[AuditAction]int `json:"by_action"`
	Oldest   *time.Time          `json:"oldest,omitempty"`
	Newest   *time.Time          `json:"newest,omitempty"`
}
