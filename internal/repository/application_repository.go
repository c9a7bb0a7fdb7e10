package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

const applicationColumns = `id, application_number, applicant_id, assigned_officer_id, application_type, status, priority,
       form_data, submitted_at, review_started_at, decision_date, appeal_decision_date, expiry_date,
       version, created_at, updated_at, archived_at`

// ApplicationRepository persists applications.
type ApplicationRepository struct {
	db sqlx.ExtContext
}

// NewApplicationRepository constructs the repository over a pool or a transaction.
func NewApplicationRepository(db sqlx.ExtContext) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts a new application, deriving its number when absent.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	if app.UpdatedAt.IsZero() {
		app.UpdatedAt = app.CreatedAt
	}
	if app.ApplicationNumber == "" {
		app.ApplicationNumber = models.ApplicationNumberFor(app.ID, app.CreatedAt)
	}
	if len(app.FormData) == 0 {
		app.FormData = json.RawMessage(`{}`)
	}
	if app.Version == 0 {
		app.Version = 1
	}
	const query = `INSERT INTO applications
	(id, application_number, applicant_id, assigned_officer_id, application_type, status, priority, form_data,
	 submitted_at, review_started_at, decision_date, appeal_decision_date, expiry_date, version, created_at, updated_at)
	VALUES (:id, :application_number, :applicant_id, :assigned_officer_id, :application_type, :status, :priority, :form_data,
	 :submitted_at, :review_started_at, :decision_date, :appeal_decision_date, :expiry_date, :version, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// GetByID loads an application including archived rows.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	var app models.Application
	if err := sqlx.GetContext(ctx, r.db, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// List returns one page of applications matching the filter ordered by
// creation time, together with the number of matching rows.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	args := make([]interface{}, 0, 4)
	conditions := make([]string, 0, 5)

	if !filter.IncludeArchived {
		conditions = append(conditions, "archived_at IS NULL")
	}
	if filter.ApplicantID != "" {
		args = append(args, filter.ApplicantID)
		conditions = append(conditions, fmt.Sprintf("applicant_id = $%d", len(args)))
	}
	if filter.OfficerID != "" {
		args = append(args, filter.OfficerID)
		conditions = append(conditions, fmt.Sprintf("assigned_officer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("application_type = $%d", len(args)))
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf("SELECT %s FROM applications%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		applicationColumns, whereClause, limit, offset)

	var apps []models.Application
	if err := sqlx.SelectContext(ctx, r.db, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, "SELECT COUNT(*) FROM applications"+whereClause, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return apps, total, nil
}

// UpdateStatus applies a transition when the stored version still matches and
// bumps the version by one.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, update models.StatusUpdate) error {
	const query = `UPDATE applications SET
		status = :status,
		submitted_at = :submitted_at,
		review_started_at = :review_started_at,
		decision_date = :decision_date,
		appeal_decision_date = :appeal_decision_date,
		updated_at = :updated_at,
		version = version + 1
	WHERE id = :id AND version = :expected_version AND archived_at IS NULL`
	res, err := sqlx.NamedExecContext(ctx, r.db, query, update)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	return expectOneRow(res, "application status")
}

// UpdateFormData replaces form data when the stored version still matches and
// bumps the version by one.
func (r *ApplicationRepository) UpdateFormData(ctx context.Context, update models.FormDataUpdate) error {
	const query = `UPDATE applications SET
		form_data = :form_data,
		updated_at = :updated_at,
		version = version + 1
	WHERE id = :id AND version = :expected_version AND archived_at IS NULL`
	res, err := sqlx.NamedExecContext(ctx, r.db, query, update)
	if err != nil {
		return fmt.Errorf("update application form: %w", err)
	}
	return expectOneRow(res, "application form")
}

// Archive soft deletes an application. Archiving does not change the version.
func (r *ApplicationRepository) Archive(ctx context.Context, id string, expectedVersion int, at time.Time) error {
	const query = `UPDATE applications SET archived_at = $3, updated_at = $3
	WHERE id = $1 AND version = $2 AND archived_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, expectedVersion, at)
	if err != nil {
		return fmt.Errorf("archive application: %w", err)
	}
	return expectOneRow(res, "application archive")
}

func expectOneRow(res sql.Result, label string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", label, err)
	}
	if affected == 0 {
		return ErrStaleVersion
	}
	return nil
}
