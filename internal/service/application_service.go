package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/repository"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

type applicationStore interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error)
}

// ApplicationService manages application records outside status changes.
type ApplicationService struct {
	uow       unitOfWork
	repo      applicationStore
	machine   *StatusMachine
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewApplicationService constructs the service.
func NewApplicationService(uow unitOfWork, repo applicationStore, machine *StatusMachine, logger *zap.Logger) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = NewStatusMachine()
	}
	return &ApplicationService{
		uow:       uow,
		repo:      repo,
		machine:   machine,
		validator: newRequestValidator(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a draft application.
func (s *ApplicationService) Create(ctx context.Context, actor models.Actor, req dto.CreateApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if err := validateJSONObject(req.FormData); err != nil {
		return nil, err
	}
	applicantID := actor.ID
	if actor.Role.IsStaff() && req.ApplicantID != "" {
		applicantID = req.ApplicantID
	}
	if applicantID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "applicantId is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	now := s.now()
	app := &models.Application{
		ApplicantID: applicantID,
		Type:        req.Type,
		Status:      models.StatusDraft,
		Priority:    priority,
		FormData:    req.FormData,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.ExpiryDate != nil {
		expiry, err := time.Parse("2006-01-02", *req.ExpiryDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "expiryDate must be YYYY-MM-DD")
		}
		app.ExpiryDate = &expiry
	}

	err := s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
		if err := r.Applications.Create(ctx, app); err != nil {
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to create application")
		}
		entry := newAuditLog(ctx, actor, models.AuditActionApplicationCreate, models.AuditResourceApplication, app.ID, nil,
			map[string]interface{}{"applicationNumber": app.ApplicationNumber, "type": app.Type, "status": app.Status}, now)
		return writeAudit(ctx, r.Audit, entry)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("application created", zap.String("application_id", app.ID), zap.String("number", app.ApplicationNumber))
	return app, nil
}

// Get returns one application visible to actor.
func (s *ApplicationService) Get(ctx context.Context, actor models.Actor, id string) (*models.Application, error) {
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to load application")
	}
	if app.ArchivedAt != nil && !actor.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	if !actor.Role.IsStaff() && app.ApplicantID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another applicant")
	}
	return app, nil
}

// List returns applications visible to actor. Applicants only see their own.
func (s *ApplicationService) List(ctx context.Context, actor models.Actor, query dto.ApplicationListQuery) ([]models.Application, *models.Pagination, error) {
	if query.Status != "" && !query.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
	}
	if query.Type != "" && !query.Type.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown type filter")
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	filter := models.ApplicationFilter{
		Status: query.Status,
		Type:   query.Type,
		Limit:  size,
		Offset: (page - 1) * size,
	}
	if !actor.Role.IsStaff() {
		filter.ApplicantID = actor.ID
	}
	apps, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to list applications")
	}
	if apps == nil {
		apps = []models.Application{}
	}
	return apps, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UpdateFormData replaces form data at the expected version. Applicants may
// edit while drafting or when more information was requested; staff may edit
// any non-terminal application.
func (s *ApplicationService) UpdateFormData(ctx context.Context, actor models.Actor, id string, req dto.UpdateFormDataRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if err := validateJSONObject(req.FormData); err != nil {
		return nil, err
	}

	var updated *models.Application
	err := s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
		app, err := s.loadForWrite(ctx, r, actor, id, req.Version)
		if err != nil {
			return err
		}
		if !s.formEditable(actor, app.Status) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "form data cannot be edited in status "+string(app.Status))
		}
		now := s.now()
		if err := r.Applications.UpdateFormData(ctx, models.FormDataUpdate{
			ID:              app.ID,
			ExpectedVersion: app.Version,
			FormData:        req.FormData,
			UpdatedAt:       now,
		}); err != nil {
			if errors.Is(err, repository.ErrStaleVersion) {
				return appErrors.Clone(appErrors.ErrConcurrentModification, "application was modified concurrently")
			}
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to update form data")
		}
		entry := newAuditLog(ctx, actor, models.AuditActionApplicationFormEdit, models.AuditResourceApplication, app.ID,
			app.FormData, json.RawMessage(req.FormData), now)
		if err := writeAudit(ctx, r.Audit, entry); err != nil {
			return err
		}
		next := *app
		next.FormData = req.FormData
		next.Version = app.Version + 1
		next.UpdatedAt = now
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Archive soft deletes an application. Applicants may only archive their own drafts.
func (s *ApplicationService) Archive(ctx context.Context, actor models.Actor, id string, version int) error {
	return s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
		app, err := s.loadForWrite(ctx, r, actor, id, version)
		if err != nil {
			return err
		}
		if !actor.Role.IsStaff() && app.Status != models.StatusDraft {
			return appErrors.Clone(appErrors.ErrForbidden, "only draft applications can be archived by applicants")
		}
		now := s.now()
		if err := r.Applications.Archive(ctx, app.ID, app.Version, now); err != nil {
			if errors.Is(err, repository.ErrStaleVersion) {
				return appErrors.Clone(appErrors.ErrConcurrentModification, "application was modified concurrently")
			}
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to archive application")
		}
		entry := newAuditLog(ctx, actor, models.AuditActionApplicationArchive, models.AuditResourceApplication, app.ID,
			map[string]interface{}{"status": app.Status}, map[string]interface{}{"archivedAt": now}, now)
		return writeAudit(ctx, r.Audit, entry)
	})
}

func (s *ApplicationService) loadForWrite(ctx context.Context, r repository.TxRepos, actor models.Actor, id string, version int) (*models.Application, error) {
	app, err := r.Applications.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to load application")
	}
	if app.ArchivedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	if !actor.Role.IsStaff() && app.ApplicantID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another applicant")
	}
	if app.Version != version {
		return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "application version does not match")
	}
	return app, nil
}

func (s *ApplicationService) formEditable(actor models.Actor, status models.ApplicationStatus) bool {
	if actor.Role.IsStaff() {
		return !s.machine.IsTerminal(status)
	}
	return status == models.StatusDraft || status == models.StatusAdditionalInfoRequired
}
