package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/middleware"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
	"github.com/noah-isme/immigration-dms-api/pkg/response"
)

type applicationService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateApplicationRequest) (*models.Application, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Application, error)
	List(ctx context.Context, actor models.Actor, query dto.ApplicationListQuery) ([]models.Application, *models.Pagination, error)
	UpdateFormData(ctx context.Context, actor models.Actor, id string, req dto.UpdateFormDataRequest) (*models.Application, error)
	Archive(ctx context.Context, actor models.Actor, id string, version int) error
}

type workflowService interface {
	Transition(ctx context.Context, actor models.Actor, id string, req dto.TransitionRequest) (*models.Application, error)
	AllowedTransitions(ctx context.Context, actor models.Actor, id string) (*dto.AllowedTransitionsResponse, error)
}

// ApplicationHandler exposes application and status workflow endpoints.
type ApplicationHandler struct {
	apps     applicationService
	workflow workflowService
}

// NewApplicationHandler constructs the handler.
func NewApplicationHandler(apps applicationService, workflow workflowService) *ApplicationHandler {
	return &ApplicationHandler{apps: apps, workflow: workflow}
}

// Create godoc
// @Summary Open a draft application
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.CreateApplicationRequest true "Application"
// @Success 201 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid application payload"))
		return
	}
	app, err := h.apps.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, app)
}

// List godoc
// @Summary List applications visible to the caller
// @Tags Applications
// @Produce json
// @Param status query string false "Status filter"
// @Param type query string false "Type filter"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ApplicationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	apps, pagination, err := h.apps.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get an application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	app, err := h.apps.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// UpdateForm godoc
// @Summary Replace application form data
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.UpdateFormDataRequest true "Form data"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/form [put]
func (h *ApplicationHandler) UpdateForm(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateFormDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid form payload"))
		return
	}
	app, err := h.apps.UpdateFormData(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Archive godoc
// @Summary Archive an application
// @Tags Applications
// @Param id path string true "Application ID"
// @Param version query int true "Expected version"
// @Success 204
// @Router /applications/{id} [delete]
func (h *ApplicationHandler) Archive(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	version, err := strconv.Atoi(c.Query("version"))
	if err != nil || version < 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "version is required"))
		return
	}
	if err := h.apps.Archive(c.Request.Context(), actor, c.Param("id"), version); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Transition godoc
// @Summary Change application status
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.TransitionRequest true "Target status and expected version"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/transitions [post]
func (h *ApplicationHandler) Transition(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	app, err := h.workflow.Transition(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// AllowedTransitions godoc
// @Summary List statuses the caller may move the application to
// @Tags Workflow
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/transitions [get]
func (h *ApplicationHandler) AllowedTransitions(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	allowed, err := h.workflow.AllowedTransitions(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, allowed, nil)
}
