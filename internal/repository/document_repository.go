package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

const documentColumns = `id, application_id, file_name, storage_path, file_size, mime_type, document_type, verified,
       version, previous_version_id, is_current_version, external_system, external_dms_id, external_url,
       provider_metadata, remote_modified_at, synced_at, sync_dirty, sync_conflict, conflict_payload,
       scan_status, uploaded_by, created_at, updated_at, deleted_at`

// DocumentRepository is the only component reading and writing document rows.
type DocumentRepository struct {
	db sqlx.ExtContext
}

// NewDocumentRepository constructs the repository over a pool or a transaction.
func NewDocumentRepository(db sqlx.ExtContext) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create stores metadata for an uploaded document.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.ScanStatus == "" {
		doc.ScanStatus = models.ScanStatusPending
	}
	if doc.ProviderMetadata == nil || len(*doc.ProviderMetadata) == 0 {
		empty := json.RawMessage(`{}`)
		doc.ProviderMetadata = &empty
	}
	const query = `INSERT INTO documents
	(id, application_id, file_name, storage_path, file_size, mime_type, document_type, verified, version,
	 previous_version_id, is_current_version, provider_metadata, sync_dirty, scan_status, uploaded_by, created_at, updated_at)
	VALUES (:id, :application_id, :file_name, :storage_path, :file_size, :mime_type, :document_type, :verified, :version,
	 :previous_version_id, :is_current_version, :provider_metadata, :sync_dirty, :scan_status, :uploaded_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID loads one document including soft deleted rows.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var doc models.Document
	if err := sqlx.GetContext(ctx, r.db, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns the documents of an application.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE application_id = $1`
	if filter.CurrentOnly {
		query += ` AND is_current_version = TRUE`
	}
	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY document_type, version DESC`
	var docs []models.Document
	if err := sqlx.SelectContext(ctx, r.db, &docs, query, filter.ApplicationID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// FindNeedingSync returns live documents without an external id or flagged
// dirty. An explicit id list narrows the candidates but never widens the predicate.
func (r *DocumentRepository) FindNeedingSync(ctx context.Context, scope models.SyncScope) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
	WHERE deleted_at IS NULL AND (external_dms_id IS NULL OR sync_dirty = TRUE)`
	args := make([]interface{}, 0, 1)
	if len(scope.DocumentIDs) > 0 {
		args = append(args, pq.Array(scope.DocumentIDs))
		query += ` AND id = ANY($1)`
	}
	query += ` ORDER BY created_at, id`
	var docs []models.Document
	if err := sqlx.SelectContext(ctx, r.db, &docs, query, args...); err != nil {
		return nil, fmt.Errorf("find documents needing sync: %w", err)
	}
	return docs, nil
}

// FindByExternalID returns the live document mapped to an external id, or sql.ErrNoRows.
func (r *DocumentRepository) FindByExternalID(ctx context.Context, system, externalID string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
	WHERE external_system = $1 AND external_dms_id = $2 AND deleted_at IS NULL`
	var doc models.Document
	if err := sqlx.GetContext(ctx, r.db, &doc, query, system, externalID); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Upsert applies a reconciler patch and reports whether a row was created.
// With an id the existing row is updated; without one the row owning the
// external id is updated or a new row is inserted. Replaying a patch leaves
// the same final state and never duplicates rows.
func (r *DocumentRepository) Upsert(ctx context.Context, patch models.DocumentPatch) (bool, error) {
	if patch.ExternalSystem == "" || patch.ExternalDMSID == "" {
		return false, errors.New("upsert document: external system and id are required")
	}
	if len(patch.ProviderMetadata) == 0 {
		patch.ProviderMetadata = json.RawMessage(`{}`)
	}
	if patch.SyncedAt.IsZero() {
		patch.SyncedAt = time.Now().UTC()
	}
	if patch.ID != "" {
		return false, r.updateByID(ctx, patch)
	}
	return r.upsertByExternalID(ctx, patch)
}

func (r *DocumentRepository) updateByID(ctx context.Context, patch models.DocumentPatch) error {
	const query = `UPDATE documents SET
		file_name = COALESCE(NULLIF(:file_name, ''), file_name),
		file_size = CASE WHEN :overwrite_fields OR :file_size > 0 THEN :file_size ELSE file_size END,
		mime_type = CASE WHEN :overwrite_fields THEN :mime_type ELSE COALESCE(NULLIF(:mime_type, ''), mime_type) END,
		document_type = COALESCE(NULLIF(:document_type, ''), document_type),
		external_system = :external_system,
		external_dms_id = :external_dms_id,
		external_url = COALESCE(:external_url, external_url),
		provider_metadata = :provider_metadata,
		remote_modified_at = COALESCE(:remote_modified_at, remote_modified_at),
		synced_at = :synced_at,
		sync_dirty = FALSE,
		sync_conflict = FALSE,
		conflict_payload = NULL,
		updated_at = :synced_at
	WHERE id = :id AND deleted_at IS NULL`
	res, err := sqlx.NamedExecContext(ctx, r.db, query, patch)
	if err != nil {
		return fmt.Errorf("update synced document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check synced document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *DocumentRepository) upsertByExternalID(ctx context.Context, patch models.DocumentPatch) (bool, error) {
	if patch.ApplicationID == "" {
		return false, errors.New("upsert document: application id is required for new documents")
	}
	if patch.DocumentType == "" {
		patch.DocumentType = models.DocumentTypeOther
	}
	params := struct {
		models.DocumentPatch
		NewID string `db:"new_id"`
	}{DocumentPatch: patch, NewID: uuid.NewString()}

	const query = `INSERT INTO documents
	(id, application_id, file_name, file_size, mime_type, document_type, verified, version, is_current_version,
	 external_system, external_dms_id, external_url, provider_metadata, remote_modified_at, synced_at,
	 sync_dirty, scan_status, created_at, updated_at)
	VALUES (:new_id, :application_id, :file_name, :file_size, :mime_type, :document_type, FALSE, 1, TRUE,
	 :external_system, :external_dms_id, :external_url, :provider_metadata, :remote_modified_at, :synced_at,
	 FALSE, 'pending', :synced_at, :synced_at)
	ON CONFLICT (external_system, external_dms_id) WHERE deleted_at IS NULL DO UPDATE SET
		file_name = EXCLUDED.file_name,
		file_size = EXCLUDED.file_size,
		mime_type = EXCLUDED.mime_type,
		document_type = EXCLUDED.document_type,
		external_url = EXCLUDED.external_url,
		provider_metadata = EXCLUDED.provider_metadata,
		remote_modified_at = EXCLUDED.remote_modified_at,
		synced_at = EXCLUDED.synced_at,
		sync_dirty = FALSE,
		updated_at = EXCLUDED.synced_at
	RETURNING (xmax = 0) AS inserted`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, params)
	if err != nil {
		return false, fmt.Errorf("upsert document by external id: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	inserted := false
	if rows.Next() {
		if err := rows.Scan(&inserted); err != nil {
			return false, fmt.Errorf("scan upsert result: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("read upsert result: %w", err)
	}
	return inserted, nil
}

// MarkConflict flags a document for manual review and stores the remote snapshot.
func (r *DocumentRepository) MarkConflict(ctx context.Context, id string, payload []byte, at time.Time) error {
	const query = `UPDATE documents SET sync_conflict = TRUE, conflict_payload = $2, updated_at = $3
	WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, payload, at)
	if err != nil {
		return fmt.Errorf("mark document conflict: %w", err)
	}
	return requireAffected(res, "document conflict")
}

// MarkDirty requests a re-push of an already synced document.
func (r *DocumentRepository) MarkDirty(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE documents SET sync_dirty = TRUE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark document dirty: %w", err)
	}
	return requireAffected(res, "document dirty")
}

// Supersede clears the current-version flag of a document. It fails with
// ErrStaleVersion when the document is no longer current.
func (r *DocumentRepository) Supersede(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE documents SET is_current_version = FALSE, updated_at = $2
	WHERE id = $1 AND is_current_version = TRUE AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("supersede document: %w", err)
	}
	return expectOneRow(res, "document supersede")
}

// SoftDelete marks a document as deleted.
func (r *DocumentRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE documents SET deleted_at = $2, is_current_version = FALSE, updated_at = $2
	WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	return requireAffected(res, "document delete")
}

func requireAffected(res sql.Result, label string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", label, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
