package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

// ErrStaleVersion is returned by conditional updates whose expected version no
// longer matches the stored row.
var ErrStaleVersion = errors.New("stale version")

// ApplicationWriter is the application surface available inside a transaction.
type ApplicationWriter interface {
	Create(ctx context.Context, app *models.Application) error
	GetByID(ctx context.Context, id string) (*models.Application, error)
	UpdateStatus(ctx context.Context, update models.StatusUpdate) error
	UpdateFormData(ctx context.Context, update models.FormDataUpdate) error
	Archive(ctx context.Context, id string, expectedVersion int, at time.Time) error
}

// DocumentWriter is the document surface available inside a transaction.
type DocumentWriter interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	Upsert(ctx context.Context, patch models.DocumentPatch) (bool, error)
	MarkConflict(ctx context.Context, id string, payload []byte, at time.Time) error
	MarkDirty(ctx context.Context, id string, at time.Time) error
	Supersede(ctx context.Context, id string, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// AuditWriter appends audit records.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// TxRepos groups repositories bound to the same transaction.
type TxRepos struct {
	Applications ApplicationWriter
	Documents    DocumentWriter
	Audit        AuditWriter
}

// SQLUnitOfWork runs callbacks inside a database transaction.
type SQLUnitOfWork struct {
	db *sqlx.DB
}

// NewSQLUnitOfWork constructs the unit of work.
func NewSQLUnitOfWork(db *sqlx.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db}
}

// WithinTx commits when fn returns nil and rolls back otherwise.
func (u *SQLUnitOfWork) WithinTx(ctx context.Context, fn func(r TxRepos) error) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	repos := TxRepos{
		Applications: NewApplicationRepository(tx),
		Documents:    NewDocumentRepository(tx),
		Audit:        NewAuditRepository(tx),
	}
	if err := fn(repos); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
