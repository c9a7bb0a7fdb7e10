package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

var syncLogRowColumns = []string{"id", "external_system", "action", "status", "total_items", "successful_items", "failed_items",
	"results", "error_message", "triggered_by", "started_at", "finished_at", "pull_watermark"}

func TestSyncLogRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSyncLogRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.SyncLogEntry{System: "sharepoint", Action: models.SyncActionPush, Status: models.SyncRunCompleted, StartedAt: time.Now()}
	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.JSONEq(t, `[]`, string(entry.Results))
	assert.False(t, entry.FinishedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLogRepositoryLatest(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSyncLogRepository(db)
	started := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	watermark := time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(syncLogRowColumns).
		AddRow("log-1", "sharepoint", "pull", "completed", 4, 4, 0, []byte(`[]`), nil, "scheduler", started, started.Add(time.Minute), watermark)
	mock.ExpectQuery(regexp.QuoteMeta("AND action = ANY($3) ORDER BY started_at DESC LIMIT 1")).
		WithArgs("sharepoint", "completed", sqlmock.AnyArg()).
		WillReturnRows(rows)

	entry, err := repo.Latest(context.Background(), "sharepoint", models.SyncActionPull, models.SyncActionFullSync)
	require.NoError(t, err)
	assert.Equal(t, started, entry.StartedAt)
	assert.Equal(t, models.SyncActionPull, entry.Action)
	require.NotNil(t, entry.Watermark)
	assert.Equal(t, watermark, *entry.Watermark)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLogRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSyncLogRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE external_system = $1 AND status = $2 ORDER BY started_at DESC LIMIT 10 OFFSET 0")).
		WithArgs("filenet", "failed").
		WillReturnRows(sqlmock.NewRows(syncLogRowColumns))

	entries, err := repo.List(context.Background(), models.SyncLogFilter{System: "filenet", Status: models.SyncRunFailed, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.NoError(t, mock.ExpectationsWereMet())
}
