package models

import (
	"encoding/json"
	"time"
)

// MaxDocumentSize is the upper bound on a single document's size in bytes.
const MaxDocumentSize int64 = 100 * 1024 * 1024

// DocumentType classifies the content of an uploaded document.
type DocumentType string

const (
	DocumentTypePassport          DocumentType = "passport"
	DocumentTypeIdentity          DocumentType = "identity_document"
	DocumentTypePhotograph        DocumentType = "photograph"
	DocumentTypeBirthCertificate  DocumentType = "birth_certificate"
	DocumentTypeMarriageCert      DocumentType = "marriage_certificate"
	DocumentTypeEducation         DocumentType = "education_record"
	DocumentTypeEmployment        DocumentType = "employment_record"
	DocumentTypeFinancial         DocumentType = "financial_statement"
	DocumentTypePoliceCertificate DocumentType = "police_certificate"
	DocumentTypeMedical           DocumentType = "medical_exam"
	DocumentTypeCorrespondence    DocumentType = "correspondence"
	DocumentTypeOther             DocumentType = "other"
)

var documentTypes = map[DocumentType]struct{}{
	DocumentTypePassport:          {},
	DocumentTypeIdentity:          {},
	DocumentTypePhotograph:        {},
	DocumentTypeBirthCertificate:  {},
	DocumentTypeMarriageCert:      {},
	DocumentTypeEducation:         {},
	DocumentTypeEmployment:        {},
	DocumentTypeFinancial:         {},
	DocumentTypePoliceCertificate: {},
	DocumentTypeMedical:           {},
	DocumentTypeCorrespondence:    {},
	DocumentTypeOther:             {},
}

// Valid reports whether t is a known classification.
func (t DocumentType) Valid() bool {
	_, ok := documentTypes[t]
	return ok
}

// ScanStatus is the virus scan state reported by the scanning collaborator.
type ScanStatus string

const (
	ScanStatusPending  ScanStatus = "pending"
	ScanStatusClean    ScanStatus = "clean"
	ScanStatusInfected ScanStatus = "infected"
	ScanStatusError    ScanStatus = "error"
)

// Document is a file attached to an application.
type Document struct {
	ID                string           `db:"id" json:"id"`
	ApplicationID     string           `db:"application_id" json:"applicationId"`
	FileName          string           `db:"file_name" json:"fileName"`
	StoragePath       *string          `db:"storage_path" json:"-"`
	FileSize          int64            `db:"file_size" json:"fileSize"`
	MimeType          string           `db:"mime_type" json:"mimeType"`
	DocumentType      DocumentType     `db:"document_type" json:"documentType"`
	Verified          bool             `db:"verified" json:"verified"`
	Version           int              `db:"version" json:"version"`
	PreviousVersionID *string          `db:"previous_version_id" json:"previousVersionId,omitempty"`
	IsCurrentVersion  bool             `db:"is_current_version" json:"isCurrentVersion"`
	ExternalSystem    *string          `db:"external_system" json:"externalSystem,omitempty"`
	ExternalDMSID     *string          `db:"external_dms_id" json:"externalDmsId,omitempty"`
	ExternalURL       *string          `db:"external_url" json:"externalUrl,omitempty"`
	ProviderMetadata  *json.RawMessage `db:"provider_metadata" json:"providerMetadata,omitempty"`
	RemoteModifiedAt  *time.Time       `db:"remote_modified_at" json:"remoteModifiedAt,omitempty"`
	SyncedAt          *time.Time       `db:"synced_at" json:"syncedAt,omitempty"`
	SyncDirty         bool             `db:"sync_dirty" json:"syncDirty"`
	SyncConflict      bool             `db:"sync_conflict" json:"syncConflict"`
	ConflictPayload   *json.RawMessage `db:"conflict_payload" json:"conflictPayload,omitempty"`
	ScanStatus        ScanStatus       `db:"scan_status" json:"scanStatus"`
	UploadedBy        *string          `db:"uploaded_by" json:"uploadedBy,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
	DeletedAt         *time.Time       `db:"deleted_at" json:"deletedAt,omitempty"`
}

// NeedsSync reports whether the document has to be pushed to an external system.
func (d *Document) NeedsSync() bool {
	return d.DeletedAt == nil && (d.ExternalDMSID == nil || d.SyncDirty)
}

// DocumentFilter narrows document listing.
type DocumentFilter struct {
	ApplicationID  string
	CurrentOnly    bool
	IncludeDeleted bool
}

// SyncScope selects push candidates. An empty id list selects every document
// that needs sync.
type SyncScope struct {
	DocumentIDs []string `json:"documentIds,omitempty"`
}

// DocumentPatch is the unit applied by the reconciler. When ID is set the row
// with that id is updated; otherwise the row matching (ExternalSystem,
// ExternalDMSID) is updated or created. An update by id keeps local file
// fields the patch leaves empty unless OverwriteFields is set; the document
// type is only replaced when the patch carries one.
type DocumentPatch struct {
	ID               string          `db:"id"`
	ApplicationID    string          `db:"application_id"`
	FileName         string          `db:"file_name"`
	FileSize         int64           `db:"file_size"`
	MimeType         string          `db:"mime_type"`
	DocumentType     DocumentType    `db:"document_type"`
	ExternalSystem   string          `db:"external_system"`
	ExternalDMSID    string          `db:"external_dms_id"`
	ExternalURL      *string         `db:"external_url"`
	ProviderMetadata json.RawMessage `db:"provider_metadata"`
	RemoteModifiedAt *time.Time      `db:"remote_modified_at"`
	SyncedAt         time.Time       `db:"synced_at"`
	OverwriteFields  bool            `db:"overwrite_fields"`
}

// ExternalDocument describes a document as reported by an external system.
type ExternalDocument struct {
	ExternalID    string          `json:"externalId"`
	ApplicationID string          `json:"applicationId,omitempty"`
	FileName      string          `json:"fileName"`
	FileSize      int64           `json:"fileSize"`
	MimeType      string          `json:"mimeType"`
	DocumentType  DocumentType    `json:"documentType"`
	URL           string          `json:"url,omitempty"`
	ModifiedAt    time.Time       `json:"modifiedAt"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}
