package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/middleware"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
	"github.com/noah-isme/immigration-dms-api/pkg/response"
)

type syncService interface {
	Trigger(ctx context.Context, actor models.Actor, system string, req dto.SyncTriggerRequest) (interface{}, error)
	Status(ctx context.Context, system string) ([]models.SystemSyncStatus, error)
}

type syncLogService interface {
	List(ctx context.Context, system string, query dto.SyncLogQuery) ([]models.SyncLogEntry, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.SyncLogEntry, error)
	Export(ctx context.Context, system string, query dto.SyncLogQuery) (*models.SyncLogExport, error)
	OpenExport(token string) (*os.File, models.ExportFormat, error)
}

// syncErrorKinds names run level failures on the trigger contract.
var syncErrorKinds = map[string]string{
	appErrors.ErrAuthentication.Code:     models.ErrorKindAuthentication,
	appErrors.ErrTransientNetwork.Code:   models.ErrorKindTransientNetwork,
	appErrors.ErrRejected.Code:           models.ErrorKindRejected,
	appErrors.ErrSyncAlreadyRunning.Code: models.ErrorKindLeaseConflict,
	appErrors.ErrSyncUnavailable.Code:    models.ErrorKindUnavailable,
	appErrors.ErrValidation.Code:         models.ErrorKindValidation,
}

// SyncHandler exposes the sync trigger, status and log endpoints.
type SyncHandler struct {
	sync syncService
	logs syncLogService
	now  func() time.Time
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(sync syncService, logs syncLogService) *SyncHandler {
	return &SyncHandler{sync: sync, logs: logs, now: func() time.Time { return time.Now().UTC() }}
}

// Trigger godoc
// @Summary Run a sync action against one external system
// @Description Item level failures are reported inside a successful response; a run that could not start returns success=false.
// @Tags Sync
// @Accept json
// @Produce json
// @Param system path string true "External system"
// @Param payload body dto.SyncTriggerRequest true "Action, scope and options"
// @Success 200 {object} dto.SyncTriggerResponse
// @Failure 409 {object} dto.SyncErrorResponse
// @Failure 502 {object} dto.SyncErrorResponse
// @Router /sync/systems/{system} [post]
func (h *SyncHandler) Trigger(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.SyncTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.triggerError(c, appErrors.Clone(appErrors.ErrValidation, "invalid sync request"))
		return
	}
	result, err := h.sync.Trigger(c.Request.Context(), actor, c.Param("system"), req)
	if err != nil {
		h.triggerError(c, err)
		return
	}
	response.Raw(c, http.StatusOK, dto.SyncTriggerResponse{
		Success:   true,
		Action:    req.Action,
		Result:    result,
		Timestamp: h.now(),
	})
}

func (h *SyncHandler) triggerError(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	kind, ok := syncErrorKinds[appErr.Code]
	if !ok {
		kind = appErr.Code
	}
	if appErr.Status >= http.StatusInternalServerError && appErr.Err != nil {
		_ = c.Error(appErr.Err)
	}
	response.Raw(c, appErr.Status, dto.SyncErrorResponse{
		Success:   false,
		Error:     kind,
		Message:   appErr.Error(),
		Timestamp: h.now(),
	})
}

// Status godoc
// @Summary Last run and lease state of every external system
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sync/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	statuses, err := h.sync.Status(c.Request.Context(), c.Param("system"))
	if err != nil {
		response.Error(c, err)
		return
	}
	running := 0
	for _, status := range statuses {
		if status.Running {
			running++
		}
	}
	middleware.SetMeta(c, "running", running)
	response.JSON(c, http.StatusOK, statuses, nil, middleware.ExtractMeta(c))
}

// Logs godoc
// @Summary List sync runs of one system
// @Tags Sync
// @Produce json
// @Param system path string true "External system"
// @Param action query string false "Action filter"
// @Param status query string false "completed or failed"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sync/systems/{system}/logs [get]
func (h *SyncHandler) Logs(c *gin.Context) {
	var query dto.SyncLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	entries, pagination, err := h.logs.List(c.Request.Context(), c.Param("system"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination, middleware.ExtractMeta(c))
}

// Log godoc
// @Summary Get one sync run with its item results
// @Tags Sync
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /sync/logs/{id} [get]
func (h *SyncHandler) Log(c *gin.Context) {
	entry, err := h.logs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// ExportLogs godoc
// @Summary Render sync runs as CSV or PDF behind a signed link
// @Tags Sync
// @Produce json
// @Param system path string true "External system"
// @Param format query string false "csv or pdf"
// @Param action query string false "Action filter"
// @Param status query string false "completed or failed"
// @Success 201 {object} response.Envelope
// @Router /sync/systems/{system}/logs/export [post]
func (h *SyncHandler) ExportLogs(c *gin.Context) {
	var query dto.SyncLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	result, err := h.logs.Export(c.Request.Context(), c.Param("system"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// DownloadExport godoc
// @Summary Download a rendered sync log export
// @Tags Sync
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /sync/exports/{token} [get]
func (h *SyncHandler) DownloadExport(c *gin.Context) {
	file, format, err := h.logs.OpenExport(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	contentType := "text/csv"
	if format == models.ExportFormatPDF {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "sync-log."+string(format)))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}
