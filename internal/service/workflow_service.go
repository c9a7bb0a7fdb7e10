package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/repository"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

type unitOfWork interface {
	WithinTx(ctx context.Context, fn func(r repository.TxRepos) error) error
}

type applicationReader interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
}

type statusChangePublisher interface {
	PublishStatusChange(ctx context.Context, evt models.StatusChangeEvent)
}

// applicantTargets are the only statuses an applicant may request.
var applicantTargets = map[models.ApplicationStatus]struct{}{
	models.StatusSubmitted: {},
	models.StatusWithdrawn: {},
	models.StatusAppealed:  {},
}

// WorkflowService moves applications through their lifecycle.
type WorkflowService struct {
	uow       unitOfWork
	reader    applicationReader
	machine   *StatusMachine
	forms     FormValidator
	events    statusChangePublisher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkflowService constructs the engine.
func NewWorkflowService(uow unitOfWork, reader applicationReader, machine *StatusMachine, forms FormValidator, events statusChangePublisher, metrics *MetricsService, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = NewStatusMachine()
	}
	return &WorkflowService{
		uow:       uow,
		reader:    reader,
		machine:   machine,
		forms:     forms,
		events:    events,
		metrics:   metrics,
		validator: newRequestValidator(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Transition applies req to the application. The status change, its
// timestamps, the version bump and the audit entry commit together; the
// status change event is published only after the commit.
func (s *WorkflowService) Transition(ctx context.Context, actor models.Actor, id string, req dto.TransitionRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	target := req.Status

	var (
		updated *models.Application
		from    models.ApplicationStatus
	)
	err := s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
		app, err := r.Applications.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to load application")
		}
		if app.ArchivedAt != nil {
			return appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		if err := authorizeTransition(actor, app, target); err != nil {
			return err
		}
		if app.Version != req.Version {
			return appErrors.Clone(appErrors.ErrConcurrentModification,
				fmt.Sprintf("application is at version %d, request was for version %d", app.Version, req.Version))
		}
		if target == models.StatusSubmitted {
			if app.Status != models.StatusDraft {
				return invalidTransition(app.Status, target)
			}
			if s.forms != nil {
				if err := s.forms.Validate(app.Type, app.FormData); err != nil {
					return err
				}
			}
		}
		if err := s.machine.Apply(ctx, app.Status, target); err != nil {
			return err
		}

		now := s.now()
		update := buildStatusUpdate(app, target, now)
		if err := r.Applications.UpdateStatus(ctx, update); err != nil {
			if errors.Is(err, repository.ErrStaleVersion) {
				return appErrors.Clone(appErrors.ErrConcurrentModification, "application was modified concurrently")
			}
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to update application status")
		}

		from = app.Status
		next := *app
		next.Status = target
		next.SubmittedAt = update.SubmittedAt
		next.ReviewStartedAt = update.ReviewStartedAt
		next.DecisionDate = update.DecisionDate
		next.AppealDecisionDate = update.AppealDecisionDate
		next.Version = app.Version + 1
		next.UpdatedAt = now

		entry := newAuditLog(ctx, actor, models.AuditActionApplicationStatus, models.AuditResourceApplication, app.ID,
			map[string]interface{}{"status": app.Status, "version": app.Version},
			map[string]interface{}{"status": target, "version": next.Version, "reason": req.Reason},
			now)
		if err := writeAudit(ctx, r.Audit, entry); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(from, target)
	s.logger.Info("application status changed",
		zap.String("application_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", actor.ID),
	)
	if s.events != nil {
		s.events.PublishStatusChange(ctx, models.StatusChangeEvent{
			ApplicationID:     updated.ID,
			ApplicationNumber: updated.ApplicationNumber,
			OldStatus:         from,
			NewStatus:         target,
			Actor:             actor.ID,
			Timestamp:         updated.UpdatedAt,
		})
	}
	return updated, nil
}

// AllowedTransitions lists the statuses the actor may move the application to.
func (s *WorkflowService) AllowedTransitions(ctx context.Context, actor models.Actor, id string) (*dto.AllowedTransitionsResponse, error) {
	app, err := s.reader.GetByID(ctx, id)
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
	allowed := make([]models.ApplicationStatus, 0)
	for _, status := range s.machine.Allowed(app.Status) {
		if !actor.Role.IsStaff() {
			if _, ok := applicantTargets[status]; !ok {
				continue
			}
		}
		allowed = append(allowed, status)
	}
	return &dto.AllowedTransitionsResponse{Current: app.Status, Allowed: allowed, Version: app.Version}, nil
}

func authorizeTransition(actor models.Actor, app *models.Application, target models.ApplicationStatus) error {
	if actor.Role.IsStaff() {
		return nil
	}
	if actor.Role != models.RoleApplicant || app.ApplicantID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "application belongs to another applicant")
	}
	if _, ok := applicantTargets[target]; !ok {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("applicants cannot move applications to %s", target))
	}
	return nil
}

// buildStatusUpdate derives the persisted timestamps. Each lifecycle timestamp
// is written once; a decision after an appeal goes to AppealDecisionDate.
func buildStatusUpdate(app *models.Application, target models.ApplicationStatus, now time.Time) models.StatusUpdate {
	update := models.StatusUpdate{
		ID:                 app.ID,
		ExpectedVersion:    app.Version,
		Status:             target,
		SubmittedAt:        app.SubmittedAt,
		ReviewStartedAt:    app.ReviewStartedAt,
		DecisionDate:       app.DecisionDate,
		AppealDecisionDate: app.AppealDecisionDate,
		UpdatedAt:          now,
	}
	if app.Status == models.StatusDraft && update.SubmittedAt == nil {
		update.SubmittedAt = timePtr(now)
	}
	if target == models.StatusUnderReview && update.ReviewStartedAt == nil {
		update.ReviewStartedAt = timePtr(now)
	}
	if target.IsDecision() {
		if update.DecisionDate == nil {
			update.DecisionDate = timePtr(now)
		} else {
			update.AppealDecisionDate = timePtr(now)
		}
	}
	return update
}

func timePtr(t time.Time) *time.Time {
	return &t
}
