package models

import "time"

// AuditAction constants represent planning workflow transitions.
const (
	AuditActionDraftCreate     = "PLAN_DRAFT_CREATE"
	AuditActionDraftDelete     = "PLAN_DRAFT_DELETE"
	AuditActionDraftSubmit     = "PLAN_DRAFT_SUBMIT"
	AuditActionDraftApprove    = "PLAN_DRAFT_APPROVE"
	AuditActionDraftReject     = "PLAN_DRAFT_REJECT"
	AuditActionTemplateApply   = "PLAN_TEMPLATE_APPLY"
	AuditActionTemplateSave    = "PLAN_TEMPLATE_SAVE"
	AuditActionTemplateDelete  = "PLAN_TEMPLATE_DELETE"
	AuditActionCatalogImported = "CATALOG_IMPORT"
	AuditActionDraftExport     = "PLAN_DRAFT_EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
