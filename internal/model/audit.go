package model

import "time"

// AuditResult is the outcome recorded for an audited operation.
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditError   AuditResult = "error"
)

// AuditLogEntry records the outcome of one mutating storage operation.
type AuditLogEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Action    string      `json:"action"`
	EmailID   string      `json:"emailId,omitempty"`
	Result    AuditResult `json:"result"`
	Details   string      `json:"details,omitempty"`
}
