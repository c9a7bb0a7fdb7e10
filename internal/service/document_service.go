package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/repository"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

type documentStore interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
}

type documentFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type documentURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

// DocumentUpload carries upload metadata and stream reader.
type DocumentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// DocumentDownload bundles file reader metadata for streaming.
type DocumentDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// DocumentServiceConfig holds upload validation parameters.
type DocumentServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	APIPrefix    string
}

// DocumentService manages document metadata, versions and storage IO.
type DocumentService struct {
	uow     unitOfWork
	apps    applicationReader
	repo    documentStore
	storage documentFileStorage
	signer  documentURLSigner
	logger  *zap.Logger
	cfg     DocumentServiceConfig
	mimeSet map[string]struct{}
	now     func() time.Time
}

// NewDocumentService constructs the service with defaults.
func NewDocumentService(uow unitOfWork, apps applicationReader, repo documentStore, storage documentFileStorage, signer documentURLSigner, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 || cfg.MaxFileSize > models.MaxDocumentSize {
		cfg.MaxFileSize = models.MaxDocumentSize
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"application/pdf", "image/jpeg", "image/png", "image/tiff"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &DocumentService{
		uow:     uow,
		apps:    apps,
		repo:    repo,
		storage: storage,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		mimeSet: mimeSet,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores the file and its metadata. When meta.Replaces names the
// current version of the same document type, the new row becomes the next
// version and the previous one stops being current.
func (s *DocumentService) Upload(ctx context.Context, actor models.Actor, applicationID string, meta dto.UploadDocumentRequest, upload DocumentUpload) (*models.Document, error) {
	app, err := s.visibleApplication(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() && app.Status != models.StatusDraft && app.Status != models.StatusAdditionalInfoRequired {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "documents can only be added while drafting or when more information is requested")
	}
	docType := meta.DocumentType
	if docType == "" {
		docType = models.DocumentTypeOther
	}
	if !docType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown document type")
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	mimeType, err := s.detectMime(upload)
	if err != nil {
		return nil, err
	}
	if _, allowed := s.mimeSet[strings.ToLower(mimeType)]; !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}

	docID := uuid.NewString()
	filename := filepath.ToSlash(filepath.Join("applications", app.ID, docID+fileExtension(upload.Filename, mimeType)))
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	path, err := s.storage.SaveStream(filename, upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist document file")
	}

	now := s.now()
	uploader := actor.ID
	doc := &models.Document{
		ID:               docID,
		ApplicationID:    app.ID,
		FileName:         filepath.Base(upload.Filename),
		StoragePath:      &path,
		FileSize:         upload.Size,
		MimeType:         mimeType,
		DocumentType:     docType,
		Version:          1,
		IsCurrentVersion: true,
		ScanStatus:       models.ScanStatusPending,
		UploadedBy:       &uploader,
		CreatedAt:        now,
	}
	err = s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
		if meta.Replaces != nil && strings.TrimSpace(*meta.Replaces) != "" {
			prev, err := r.Documents.GetByID(ctx, strings.TrimSpace(*meta.Replaces))
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrNotFound, "replaced document not found")
				}
				return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to load replaced document")
			}
			if prev.ApplicationID != app.ID || prev.DocumentType != docType || prev.DeletedAt != nil {
				return appErrors.Clone(appErrors.ErrValidation, "replaced document must be a live document of the same type and application")
			}
			if err := r.Documents.Supersede(ctx, prev.ID, now); err != nil {
				if errors.Is(err, repository.ErrStaleVersion) {
					return appErrors.Clone(appErrors.ErrConcurrentModification, "replaced document is no longer the current version")
				}
				return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to supersede document")
			}
			doc.Version = prev.Version + 1
			doc.PreviousVersionID = &prev.ID
		}
		if err := r.Documents.Create(ctx, doc); err != nil {
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to create document metadata")
		}
		entry := newAuditLog(ctx, actor, models.AuditActionDocumentUpload, models.AuditResourceDocument, doc.ID, nil,
			map[string]interface{}{"applicationId": app.ID, "fileName": doc.FileName, "documentType": doc.DocumentType, "version": doc.Version}, now)
		return writeAudit(ctx, r.Audit, entry)
	})
	if err != nil {
		if delErr := s.storage.Delete(path); delErr != nil {
			s.logger.Warn("failed to remove orphaned document file", zap.String("path", path), zap.Error(delErr))
		}
		return nil, err
	}
	return doc, nil
}

// List returns the documents of an application, current versions only unless
// history is requested.
func (s *DocumentService) List(ctx context.Context, actor models.Actor, applicationID string, history bool) ([]models.Document, error) {
	if _, err := s.visibleApplication(ctx, actor, applicationID); err != nil {
		return nil, err
	}
	docs, err := s.repo.List(ctx, models.DocumentFilter{ApplicationID: applicationID, CurrentOnly: !history})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// Get returns document metadata enforcing permissions.
func (s *DocumentService) Get(ctx context.Context, actor models.Actor, id string) (*models.Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if doc.DeletedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	if _, err := s.visibleApplication(ctx, actor, doc.ApplicationID); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDownloadURL generates a signed URL for downloading the file.
func (s *DocumentService) GetDownloadURL(ctx context.Context, actor models.Actor, id string) (string, time.Time, error) {
	if s.signer == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	doc, err := s.Get(ctx, actor, id)
	if err != nil {
		return "", time.Time{}, err
	}
	if doc.StoragePath == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "document has no local copy")
	}
	token, expiresAt, err := s.signer.Generate(doc.ID, *doc.StoragePath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/documents/%s/download?token=%s", base, doc.ID, token), expiresAt, nil
}

// Download validates the token and opens the document file. The token is the
// only credential required.
func (s *DocumentService) Download(ctx context.Context, id, token string) (*DocumentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	docID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if doc.DeletedAt != nil || doc.StoragePath == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	if docID != doc.ID || relPath != *doc.StoragePath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read document metadata")
	}
	return &DocumentDownload{
		File:      file,
		Filename:  doc.FileName,
		MimeType:  doc.MimeType,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

// Delete soft deletes a document. The stored file is kept for retention.
func (s *DocumentService) Delete(ctx context.Context, actor models.Actor, id string) error {
	doc, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !actor.Role.IsStaff() && (doc.UploadedBy == nil || *doc.UploadedBy != actor.ID) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the uploader or staff can delete a document")
	}
	return s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
		now := s.now()
		if err := r.Documents.SoftDelete(ctx, doc.ID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "document not found")
			}
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to delete document")
		}
		entry := newAuditLog(ctx, actor, models.AuditActionDocumentDelete, models.AuditResourceDocument, doc.ID,
			map[string]interface{}{"fileName": doc.FileName, "version": doc.Version}, nil, now)
		return writeAudit(ctx, r.Audit, entry)
	})
}

// MarkDirty flags a document so the next push uploads it again.
func (s *DocumentService) MarkDirty(ctx context.Context, actor models.Actor, id string) error {
	if !actor.Role.IsStaff() {
		return appErrors.Clone(appErrors.ErrForbidden, "only staff can request a resync")
	}
	doc, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	return s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
		now := s.now()
		if err := r.Documents.MarkDirty(ctx, doc.ID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "document not found")
			}
			return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to flag document")
		}
		entry := newAuditLog(ctx, actor, models.AuditActionDocumentResync, models.AuditResourceDocument, doc.ID,
			map[string]interface{}{"syncDirty": doc.SyncDirty}, map[string]interface{}{"syncDirty": true}, now)
		return writeAudit(ctx, r.Audit, entry)
	})
}

func (s *DocumentService) visibleApplication(ctx context.Context, actor models.Actor, applicationID string) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if app.ArchivedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	if !actor.Role.IsStaff() && app.ApplicantID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another applicant")
	}
	return app, nil
}

func (s *DocumentService) detectMime(upload DocumentUpload) (string, error) {
	if upload.MimeType != "" && upload.MimeType != "application/octet-stream" {
		return upload.MimeType, nil
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	mimeType := http.DetectContentType(header[:n])
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return mimeType, nil
}

func fileExtension(original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext != "" {
		return ext
	}
	switch strings.ToLower(mimeType) {
	case "application/pdf":
		return ".pdf"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/tiff":
		return ".tiff"
	default:
		return ".bin"
	}
}
