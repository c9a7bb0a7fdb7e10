package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/middleware"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/service"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
	"github.com/noah-isme/immigration-dms-api/pkg/response"
)

type documentService interface {
	Upload(ctx context.Context, actor models.Actor, applicationID string, meta dto.UploadDocumentRequest, upload service.DocumentUpload) (*models.Document, error)
	List(ctx context.Context, actor models.Actor, applicationID string, history bool) ([]models.Document, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Document, error)
	GetDownloadURL(ctx context.Context, actor models.Actor, id string) (string, time.Time, error)
	Download(ctx context.Context, id, token string) (*service.DocumentDownload, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	MarkDirty(ctx context.Context, actor models.Actor, id string) error
}

// DocumentHandler manages application document endpoints.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// Upload godoc
// @Summary Upload a document for an application
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Application ID"
// @Param documentType formData string false "Document type"
// @Param replaces formData string false "Document ID superseded by this upload"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Router /applications/{id}/documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UploadDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid document payload"))
		return
	}
	if req.Replaces != nil && strings.TrimSpace(*req.Replaces) == "" {
		req.Replaces = nil
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close() //nolint:errcheck

	reader, ok := src.(io.ReadSeeker)
	if !ok {
		buf, readErr := io.ReadAll(src)
		if readErr != nil {
			response.Error(c, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
			return
		}
		reader = bytes.NewReader(buf)
	}
	upload := service.DocumentUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  reader,
	}
	doc, err := h.service.Upload(c.Request.Context(), actor, c.Param("id"), req, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, doc, nil)
}

// List godoc
// @Summary List documents of an application
// @Tags Documents
// @Produce json
// @Param id path string true "Application ID"
// @Param history query bool false "Include superseded versions"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	docs, err := h.service.List(c.Request.Context(), actor, c.Param("id"), queryBool(c, "history"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, nil)
}

// Get godoc
// @Summary Get document metadata with a signed download link
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	downloadURL, expiresAt, err := h.service.GetDownloadURL(c.Request.Context(), actor, doc.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "download_expires_at", expiresAt)
	response.JSON(c, http.StatusOK, dto.DocumentDownloadResponse{
		Document:    *doc,
		DownloadURL: downloadURL,
	}, nil, middleware.ExtractMeta(c))
}

// Download godoc
// @Summary Download document content via signed token
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.Download(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, result.MimeType, result.File, nil)
}

// Delete godoc
// @Summary Soft delete a document
// @Tags Documents
// @Param id path string true "Document ID"
// @Success 204
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Resync godoc
// @Summary Flag a synced document for re-upload on the next push
// @Tags Documents
// @Param id path string true "Document ID"
// @Success 202 {object} response.Envelope
// @Router /documents/{id}/resync [post]
func (h *DocumentHandler) Resync(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.MarkDirty(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"id": c.Param("id"), "syncDirty": true}, nil)
}
