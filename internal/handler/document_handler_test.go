package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/service"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

type documentServiceMock struct {
	doc        *models.Document
	download   *service.DocumentDownload
	err        error
	lastMeta   dto.UploadDocumentRequest
	lastBody   []byte
	lastUpload service.DocumentUpload
	dirtied    string
}

func (m *documentServiceMock) Upload(_ context.Context, _ models.Actor, _ string, meta dto.UploadDocumentRequest, upload service.DocumentUpload) (*models.Document, error) {
	m.lastMeta = meta
	m.lastUpload = upload
	m.lastBody, _ = io.ReadAll(upload.Content)
	return m.doc, m.err
}

func (m *documentServiceMock) List(context.Context, models.Actor, string, bool) ([]models.Document, error) {
	return []models.Document{*m.doc}, m.err
}

func (m *documentServiceMock) Get(context.Context, models.Actor, string) (*models.Document, error) {
	return m.doc, m.err
}

func (m *documentServiceMock) GetDownloadURL(context.Context, models.Actor, string) (string, time.Time, error) {
	return "/api/v1/documents/doc-1/download?token=abc", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), m.err
}

func (m *documentServiceMock) Download(context.Context, string, string) (*service.DocumentDownload, error) {
	return m.download, m.err
}

func (m *documentServiceMock) Delete(context.Context, models.Actor, string) error {
	return m.err
}

func (m *documentServiceMock) MarkDirty(_ context.Context, _ models.Actor, id string) error {
	m.dirtied = id
	return m.err
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestDocumentHandlerUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &documentServiceMock{doc: &models.Document{ID: "doc-1", FileName: "passport.pdf"}}
	h := NewDocumentHandler(svc)

	body, contentType := multipartUpload(t, map[string]string{"documentType": "passport", "replaces": " "}, "passport.pdf", []byte("%PDF-1.4"))
	c, w := newGinContext(http.MethodPost, "/applications/app-1/documents", nil)
	c.Request, _ = http.NewRequest(http.MethodPost, "/applications/app-1/documents", body)
	c.Request.Header.Set("Content-Type", contentType)
	c.Params = gin.Params{{Key: "id", Value: "app-1"}}
	withUser(c, "applicant-1", models.RoleApplicant)

	h.Upload(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.DocumentTypePassport, svc.lastMeta.DocumentType)
	assert.Nil(t, svc.lastMeta.Replaces)
	assert.Equal(t, "passport.pdf", svc.lastUpload.Filename)
	assert.Equal(t, int64(8), svc.lastUpload.Size)
	assert.Equal(t, []byte("%PDF-1.4"), svc.lastBody)
}

func TestDocumentHandlerUploadRequiresFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewDocumentHandler(&documentServiceMock{})

	body, contentType := multipartUpload(t, map[string]string{"documentType": "passport"}, "", nil)
	c, w := newGinContext(http.MethodPost, "/applications/app-1/documents", nil)
	c.Request, _ = http.NewRequest(http.MethodPost, "/applications/app-1/documents", body)
	c.Request.Header.Set("Content-Type", contentType)
	withUser(c, "applicant-1", models.RoleApplicant)

	h.Upload(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandlerGetIncludesSignedURL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewDocumentHandler(&documentServiceMock{doc: &models.Document{ID: "doc-1"}})
	c, w := newGinContext(http.MethodGet, "/documents/doc-1", nil)
	withUser(c, "officer-1", models.RoleOfficer)

	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"downloadUrl":"/api/v1/documents/doc-1/download?token=abc"`)
	assert.Contains(t, w.Body.String(), `"download_expires_at":"2026-01-01T00:00:00Z"`)
}

func TestDocumentHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	svc := &documentServiceMock{download: &service.DocumentDownload{File: file, Filename: "visa.pdf", MimeType: "application/pdf", SizeBytes: 7}}
	h := NewDocumentHandler(svc)

	c, w := newGinContext(http.MethodGet, "/documents/doc-1/download", nil)
	h.Download(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/documents/doc-1/download?token=abc", nil)
	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "content", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="visa.pdf"`)
}

func TestDocumentHandlerDownloadExpiredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewDocumentHandler(&documentServiceMock{err: appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")})
	c, w := newGinContext(http.MethodGet, "/documents/doc-1/download?token=old", nil)
	h.Download(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDocumentHandlerResync(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &documentServiceMock{}
	h := NewDocumentHandler(svc)
	c, w := newGinContext(http.MethodPost, "/documents/doc-9/resync", nil)
	c.Params = gin.Params{{Key: "id", Value: "doc-9"}}
	withUser(c, "officer-1", models.RoleOfficer)

	h.Resync(c)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "doc-9", svc.dirtied)
}
