package models

import "time"

// AuditAction constants represent operator mutations to be logged.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionPolicyUpdate   = "POLICY_UPDATE"
	AuditActionPriorityUpdate = "PRIORITY_UPDATE"
	AuditActionWorkerCreate   = "WORKER_CREATE"
	AuditActionWorkerUpdate   = "WORKER_UPDATE"
	AuditActionWorkerDisable  = "WORKER_DISABLE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	AccountID  *string   `db:"account_id" json:"account_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
