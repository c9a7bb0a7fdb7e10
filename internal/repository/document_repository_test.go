package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

var documentRowColumns = []string{"id", "application_id", "file_name", "storage_path", "file_size", "mime_type", "document_type", "verified",
	"version", "previous_version_id", "is_current_version", "external_system", "external_dms_id", "external_url",
	"provider_metadata", "remote_modified_at", "synced_at", "sync_dirty", "sync_conflict", "conflict_payload",
	"scan_status", "uploaded_by", "created_at", "updated_at", "deleted_at"}

func documentRow(rows *sqlmock.Rows, id string, externalID interface{}, dirty bool) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, "app-1", id+".pdf", "app-1/"+id+".pdf", 1024, "application/pdf", "passport", false,
		1, nil, true, nil, externalID, nil,
		[]byte(`{}`), nil, nil, dirty, false, nil,
		"clean", "user-1", now, now, nil)
}

func TestDocumentRepositoryFindNeedingSync(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	rows := sqlmock.NewRows(documentRowColumns)
	documentRow(rows, "doc-1", nil, false)
	documentRow(rows, "doc-2", "ext-2", true)
	mock.ExpectQuery(regexp.QuoteMeta("(external_dms_id IS NULL OR sync_dirty = TRUE) ORDER BY created_at, id")).
		WillReturnRows(rows)

	docs, err := repo.FindNeedingSync(context.Background(), models.SyncScope{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.True(t, docs[0].NeedsSync())
	assert.True(t, docs[1].NeedsSync())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryListNullJSONColumns(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(documentRowColumns).
		AddRow("doc-1", "app-1", "doc-1.pdf", "app-1/doc-1.pdf", 1024, "application/pdf", "passport", false,
			1, nil, true, nil, nil, nil,
			nil, nil, nil, false, false, nil,
			"pending", "user-1", now, now, nil).
		AddRow("doc-2", "app-1", "doc-2.pdf", "app-1/doc-2.pdf", 2048, "application/pdf", "passport", false,
			1, nil, true, "sharepoint", "ext-2", nil,
			[]byte(`{"etag":"1"}`), now, now, false, true, []byte(`{"externalId":"ext-2"}`),
			"clean", "user-1", now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE application_id = $1")).
		WithArgs("app-1").
		WillReturnRows(rows)

	docs, err := repo.List(context.Background(), models.DocumentFilter{ApplicationID: "app-1"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Nil(t, docs[0].ProviderMetadata)
	assert.Nil(t, docs[0].ConflictPayload)
	require.NotNil(t, docs[1].ProviderMetadata)
	assert.JSONEq(t, `{"etag":"1"}`, string(*docs[1].ProviderMetadata))
	require.NotNil(t, docs[1].ConflictPayload)
	assert.JSONEq(t, `{"externalId":"ext-2"}`, string(*docs[1].ConflictPayload))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryFindNeedingSyncScoped(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("AND id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(documentRowColumns))

	docs, err := repo.FindNeedingSync(context.Background(), models.SyncScope{DocumentIDs: []string{"doc-9"}})
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryFindByExternalIDMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE external_system = $1 AND external_dms_id = $2")).
		WithArgs("sharepoint", "ext-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns))

	_, err := repo.FindByExternalID(context.Background(), "sharepoint", "ext-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryUpsertByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Upsert(context.Background(), models.DocumentPatch{
		ID:             "doc-1",
		ExternalSystem: "sharepoint",
		ExternalDMSID:  "ext-1",
	})
	require.NoError(t, err)
	assert.False(t, created)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = repo.Upsert(context.Background(), models.DocumentPatch{ID: "gone", ExternalSystem: "sharepoint", ExternalDMSID: "ext-1"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryUpsertByIDOverwritesFields(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	mock.ExpectExec(`file_size = CASE WHEN \$\d+ OR \$\d+ > 0 THEN \$\d+ ELSE file_size END,\s+mime_type = CASE WHEN \$\d+ THEN \$\d+ ELSE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := repo.Upsert(context.Background(), models.DocumentPatch{
		ID:              "doc-1",
		ExternalSystem:  "sharepoint",
		ExternalDMSID:   "ext-1",
		OverwriteFields: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryUpsertByExternalID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	patch := models.DocumentPatch{
		ApplicationID:  "app-1",
		FileName:       "remote.pdf",
		ExternalSystem: "filenet",
		ExternalDMSID:  "fn-1",
	}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (external_system, external_dms_id)")).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	created, err := repo.Upsert(context.Background(), patch)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectQuery(regexp.QuoteMeta("RETURNING (xmax = 0) AS inserted")).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))
	created, err = repo.Upsert(context.Background(), patch)
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryUpsertRequiresIdentity(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	_, err := repo.Upsert(context.Background(), models.DocumentPatch{ExternalSystem: "filenet"})
	require.Error(t, err)

	_, err = repo.Upsert(context.Background(), models.DocumentPatch{ExternalSystem: "filenet", ExternalDMSID: "fn-1"})
	require.Error(t, err)
}

func TestDocumentRepositorySupersedeStale(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("SET is_current_version = FALSE")).
		WithArgs("doc-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Supersede(context.Background(), "doc-1", at)
	assert.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryMarkConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDocumentRepository(db)
	at := time.Now()
	payload := []byte(`{"externalId":"ext-1"}`)
	mock.ExpectExec(regexp.QuoteMeta("SET sync_conflict = TRUE")).
		WithArgs("doc-1", payload, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkConflict(context.Background(), "doc-1", payload, at))
	require.NoError(t, mock.ExpectationsWereMet())
}
