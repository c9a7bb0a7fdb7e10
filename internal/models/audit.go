package models

import "time"

// Audit actions recorded alongside state changes.
const (
	AuditActionApplicationCreate   = "APPLICATION_CREATE"
	AuditActionApplicationFormEdit = "APPLICATION_FORM_UPDATE"
	AuditActionApplicationStatus   = "APPLICATION_STATUS_CHANGE"
	AuditActionApplicationArchive  = "APPLICATION_ARCHIVE"
	AuditActionDocumentUpload      = "DOCUMENT_UPLOAD"
	AuditActionDocumentDelete      = "DOCUMENT_DELETE"
	AuditActionDocumentResync      = "DOCUMENT_MARK_DIRTY"
	AuditActionDocumentPush        = "DOCUMENT_SYNC_PUSH"
	AuditActionDocumentPull        = "DOCUMENT_SYNC_PULL"
	AuditActionDocumentConflict    = "DOCUMENT_SYNC_CONFLICT"
)

// Audit resources.
const (
	AuditResourceApplication = "application"
	AuditResourceDocument    = "document"
)

// AuditLog represents an append-only audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"userId,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resourceId,omitempty"`
	OldValues  []byte    `db:"old_values" json:"oldValues,omitempty"`
	NewValues  []byte    `db:"new_values" json:"newValues,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ipAddress"`
	UserAgent  string    `db:"user_agent" json:"userAgent"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
