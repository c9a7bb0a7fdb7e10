package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
	"github.com/noah-isme/immigration-dms-api/pkg/storage"
)

const pdfBody = "%PDF-1.4\n1 0 obj <<>> endobj\ntrailer <<>>\n%%EOF"

type documentFixture struct {
	store *memStore
	root  string
	svc   *DocumentService
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()
	root := t.TempDir()
	local, err := storage.NewLocalStorage(root)
	require.NoError(t, err)
	store := newMemStore()
	store.putApp(models.Application{ID: "app-1", ApplicantID: applicant.ID, Status: models.StatusDraft, Version: 1})
	svc := NewDocumentService(&memUoW{store: store}, memReader{store}, memDocReader{store}, local,
		storage.NewSignedURLSigner("secret", time.Minute), nil, DocumentServiceConfig{MaxFileSize: 1024})
	return &documentFixture{store: store, root: root, svc: svc}
}

func pdfUpload(name string) DocumentUpload {
	return DocumentUpload{Filename: name, Size: int64(len(pdfBody)), Content: bytes.NewReader([]byte(pdfBody))}
}

func TestDocumentUploadSniffsAndStores(t *testing.T) {
	fx := newDocumentFixture(t)

	doc, err := fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{DocumentType: models.DocumentTypePassport}, pdfUpload("passport.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.Equal(t, 1, doc.Version)
	assert.True(t, doc.IsCurrentVersion)
	assert.Equal(t, models.ScanStatusPending, doc.ScanStatus)
	require.NotNil(t, doc.StoragePath)
	assert.True(t, strings.HasPrefix(*doc.StoragePath, "applications/app-1/"))

	data, err := os.ReadFile(filepath.Join(fx.root, filepath.FromSlash(*doc.StoragePath)))
	require.NoError(t, err)
	assert.Equal(t, pdfBody, string(data))
	assert.Equal(t, []string{models.AuditActionDocumentUpload}, fx.store.auditActions())
	stored := fx.store.doc(doc.ID)
	assert.True(t, stored.NeedsSync())
}

func TestDocumentUploadCreatesNewVersion(t *testing.T) {
	fx := newDocumentFixture(t)
	first, err := fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{DocumentType: models.DocumentTypePassport}, pdfUpload("passport.pdf"))
	require.NoError(t, err)

	second, err := fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{DocumentType: models.DocumentTypePassport, Replaces: &first.ID}, pdfUpload("passport-renewed.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	require.NotNil(t, second.PreviousVersionID)
	assert.Equal(t, first.ID, *second.PreviousVersionID)
	assert.False(t, fx.store.doc(first.ID).IsCurrentVersion)

	current, err := fx.svc.List(context.Background(), applicant, "app-1", false)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, second.ID, current[0].ID)

	history, err := fx.svc.List(context.Background(), applicant, "app-1", true)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{DocumentType: models.DocumentTypePassport, Replaces: &first.ID}, pdfUpload("again.pdf"))
	assert.ErrorIs(t, err, appErrors.ErrConcurrentModification)
}

func TestDocumentUploadValidation(t *testing.T) {
	fx := newDocumentFixture(t)

	text := DocumentUpload{Filename: "notes.txt", Size: 5, Content: bytes.NewReader([]byte("hello"))}
	_, err := fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{}, text)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	big := pdfUpload("big.pdf")
	big.Size = 4096
	_, err = fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{}, big)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{DocumentType: "selfie"}, pdfUpload("x.pdf"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	stranger := models.Actor{ID: "applicant-2", Role: models.RoleApplicant}
	_, err = fx.svc.Upload(context.Background(), stranger, "app-1", dto.UploadDocumentRequest{}, pdfUpload("x.pdf"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Zero(t, fx.store.docCount())
}

func TestDocumentUploadAuditFailureRemovesFile(t *testing.T) {
	fx := newDocumentFixture(t)
	fx.store.setAuditErr(errors.New("audit down"))

	_, err := fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{}, pdfUpload("passport.pdf"))
	assert.ErrorIs(t, err, appErrors.ErrAuditWrite)
	assert.Zero(t, fx.store.docCount())

	entries, err := os.ReadDir(filepath.Join(fx.root, "applications", "app-1"))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestDocumentDownloadWithSignedURL(t *testing.T) {
	fx := newDocumentFixture(t)
	doc, err := fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{}, pdfUpload("passport.pdf"))
	require.NoError(t, err)

	link, expiresAt, err := fx.svc.GetDownloadURL(context.Background(), applicant, doc.ID)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/documents/"+doc.ID+"/download", parsed.Path)

	download, err := fx.svc.Download(context.Background(), doc.ID, parsed.Query().Get("token"))
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck
	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, pdfBody, string(body))
	assert.Equal(t, "passport.pdf", download.Filename)

	_, err = fx.svc.Download(context.Background(), doc.ID, "forged")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestDocumentMarkDirtyAndDelete(t *testing.T) {
	fx := newDocumentFixture(t)
	doc, err := fx.svc.Upload(context.Background(), applicant, "app-1", dto.UploadDocumentRequest{}, pdfUpload("passport.pdf"))
	require.NoError(t, err)

	assert.ErrorIs(t, fx.svc.MarkDirty(context.Background(), applicant, doc.ID), appErrors.ErrForbidden)
	require.NoError(t, fx.svc.MarkDirty(context.Background(), officer, doc.ID))
	assert.True(t, fx.store.doc(doc.ID).SyncDirty)

	require.NoError(t, fx.svc.Delete(context.Background(), applicant, doc.ID))
	assert.NotNil(t, fx.store.doc(doc.ID).DeletedAt)
	_, err = fx.svc.Get(context.Background(), officer, doc.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, []string{models.AuditActionDocumentUpload, models.AuditActionDocumentResync, models.AuditActionDocumentDelete}, fx.store.auditActions())
}
