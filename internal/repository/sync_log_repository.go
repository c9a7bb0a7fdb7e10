package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

const syncLogColumns = `id, external_system, action, status, total_items, successful_items, failed_items,
       results, error_message, triggered_by, started_at, finished_at, pull_watermark`

// SyncLogRepository persists one row per sync run.
type SyncLogRepository struct {
	db sqlx.ExtContext
}

// NewSyncLogRepository constructs the repository.
func NewSyncLogRepository(db sqlx.ExtContext) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Create appends a sync log entry.
func (r *SyncLogRepository) Create(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now().UTC()
	}
	if len(entry.Results) == 0 {
		entry.Results = json.RawMessage(`[]`)
	}
	const query = `INSERT INTO sync_logs
	(id, external_system, action, status, total_items, successful_items, failed_items, results, error_message, triggered_by, started_at, finished_at, pull_watermark)
	VALUES (:id, :external_system, :action, :status, :total_items, :successful_items, :failed_items, :results, :error_message, :triggered_by, :started_at, :finished_at, :pull_watermark)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, entry); err != nil {
		return fmt.Errorf("create sync log: %w", err)
	}
	return nil
}

// GetByID loads one sync log entry.
func (r *SyncLogRepository) GetByID(ctx context.Context, id string) (*models.SyncLogEntry, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE id = $1`
	var entry models.SyncLogEntry
	if err := sqlx.GetContext(ctx, r.db, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns entries newest first.
func (r *SyncLogRepository) List(ctx context.Context, filter models.SyncLogFilter) ([]models.SyncLogEntry, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + syncLogColumns + ` FROM sync_logs`)
	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)
	if filter.System != "" {
		args = append(args, filter.System)
		conditions = append(conditions, fmt.Sprintf("external_system = $%d", len(args)))
	}
	if len(filter.Actions) > 0 {
		args = append(args, pq.Array(actionStrings(filter.Actions)))
		conditions = append(conditions, fmt.Sprintf("action = ANY($%d)", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY started_at DESC")
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var entries []models.SyncLogEntry
	if err := sqlx.SelectContext(ctx, r.db, &entries, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	return entries, nil
}

// Latest returns the newest completed entry for a system restricted to the
// given actions, or sql.ErrNoRows.
func (r *SyncLogRepository) Latest(ctx context.Context, system string, actions ...models.SyncAction) (*models.SyncLogEntry, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE external_system = $1 AND status = $2`
	args := []interface{}{system, models.SyncRunCompleted}
	if len(actions) > 0 {
		args = append(args, pq.Array(actionStrings(actions)))
		query += ` AND action = ANY($3)`
	}
	query += ` ORDER BY started_at DESC LIMIT 1`
	var entry models.SyncLogEntry
	if err := sqlx.GetContext(ctx, r.db, &entry, query, args...); err != nil {
		return nil, err
	}
	return &entry, nil
}

func actionStrings(actions []models.SyncAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
