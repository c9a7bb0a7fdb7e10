package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
	"github.com/noah-isme/immigration-dms-api/pkg/export"
)

type syncLogReader interface {
	GetByID(ctx context.Context, id string) (*models.SyncLogEntry, error)
	List(ctx context.Context, filter models.SyncLogFilter) ([]models.SyncLogEntry, error)
}

type exportStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type exportSigner interface {
	Generate(subject, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (subject, relPath string, expiresAt time.Time, err error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// SyncLogConfig tunes sync log exports.
type SyncLogConfig struct {
	APIPrefix  string
	ResultTTL  time.Duration
	MaxEntries int
}

// SyncLogService lists sync runs and renders them for download.
type SyncLogService struct {
	repo    syncLogReader
	systems func() []string
	storage exportStorage
	signer  exportSigner
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	cfg     SyncLogConfig
	now     func() time.Time
}

// NewSyncLogService constructs the service. systems reports the configured
// external system names.
func NewSyncLogService(repo syncLogReader, systems func() []string, storage exportStorage, signer exportSigner, cfg SyncLogConfig, logger *zap.Logger) *SyncLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 500
	}
	return &SyncLogService{
		repo:    repo,
		systems: systems,
		storage: storage,
		signer:  signer,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List returns one page of runs for a system, newest first.
func (s *SyncLogService) List(ctx context.Context, system string, query dto.SyncLogQuery) ([]models.SyncLogEntry, *models.Pagination, error) {
	filter, page, size, err := s.filter(system, query)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to list sync logs")
	}
	if entries == nil {
		entries = []models.SyncLogEntry{}
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: len(entries)}, nil
}

// Get returns one run.
func (s *SyncLogService) Get(ctx context.Context, id string) (*models.SyncLogEntry, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "sync log not found")
		}
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to load sync log")
	}
	return entry, nil
}

// Export renders the matching runs and stores the file behind a signed link.
func (s *SyncLogService) Export(ctx context.Context, system string, query dto.SyncLogQuery) (*models.SyncLogExport, error) {
	format := models.ExportFormat(strings.ToLower(query.Format))
	if format == "" {
		format = models.ExportFormatCSV
	}
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", query.Format))
	}
	query.Page, query.PageSize = 1, s.cfg.MaxEntries
	filter, _, _, err := s.filter(system, query)
	if err != nil {
		return nil, err
	}
	filter.Limit = s.cfg.MaxEntries
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to list sync logs")
	}

	dataset := syncLogDataset(entries)
	var payload []byte
	switch format {
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("Sync log %s", system))
	default:
		payload, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to render sync log export")
	}

	filename := fmt.Sprintf("exports/sync_%s_%s.%s", exportName(system), s.now().Format("20060102_150405"), format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to store sync log export")
	}
	token, expiresAt, err := s.signer.Generate(system, relPath)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to sign sync log export")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("sync log exported", zap.String("system", system), zap.Int("entries", len(entries)), zap.String("format", string(format)))
	return &models.SyncLogExport{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/sync/exports/%s", prefix, token),
		Format:       format,
		Entries:      len(entries),
		ExpiresAt:    expiresAt,
	}, nil
}

// OpenExport resolves a download token to the stored file.
func (s *SyncLogService) OpenExport(token string) (*os.File, models.ExportFormat, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired export link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export not found")
		}
		return nil, "", appErrors.WrapAs(appErrors.ErrInternal, err, "failed to open export")
	}
	format := models.ExportFormatCSV
	if strings.HasSuffix(relPath, ".pdf") {
		format = models.ExportFormatPDF
	}
	return file, format, nil
}

// Cleanup removes exports older than the configured TTL.
func (s *SyncLogService) Cleanup() ([]string, error) {
	return s.storage.CleanupOlderThan(s.cfg.ResultTTL)
}

func (s *SyncLogService) filter(system string, query dto.SyncLogQuery) (models.SyncLogFilter, int, int, error) {
	if !s.knownSystem(system) {
		return models.SyncLogFilter{}, 0, 0, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown external system %q", system))
	}
	if query.Action != "" && !query.Action.Valid() {
		return models.SyncLogFilter{}, 0, 0, appErrors.Clone(appErrors.ErrValidation, "unknown action filter")
	}
	if query.Status != "" && query.Status != models.SyncRunCompleted && query.Status != models.SyncRunFailed {
		return models.SyncLogFilter{}, 0, 0, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 || size > 500 {
		size = 20
	}
	filter := models.SyncLogFilter{System: system, Status: query.Status, Limit: size, Offset: (page - 1) * size}
	if query.Action != "" {
		filter.Actions = []models.SyncAction{query.Action}
	}
	return filter, page, size, nil
}

func (s *SyncLogService) knownSystem(system string) bool {
	if s.systems == nil {
		return system != ""
	}
	for _, name := range s.systems() {
		if name == system {
			return true
		}
	}
	return false
}

func syncLogDataset(entries []models.SyncLogEntry) export.Dataset {
	headers := []string{"Run ID", "Action", "Status", "Total", "Successful", "Failed", "Triggered By", "Started At", "Finished At", "Error"}
	rows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		errMsg := ""
		if entry.Error != nil {
			errMsg = *entry.Error
		}
		rows = append(rows, map[string]string{
			"Run ID":       entry.ID,
			"Action":       string(entry.Action),
			"Status":       string(entry.Status),
			"Total":        fmt.Sprintf("%d", entry.TotalItems),
			"Successful":   fmt.Sprintf("%d", entry.Successful),
			"Failed":       fmt.Sprintf("%d", entry.Failed),
			"Triggered By": entry.TriggeredBy,
			"Started At":   entry.StartedAt.UTC().Format(time.RFC3339),
			"Finished At":  entry.FinishedAt.UTC().Format(time.RFC3339),
			"Error":        errMsg,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func exportName(raw string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	name := replacer.Replace(raw)
	if len(name) > 64 {
		return name[:64]
	}
	return name
}
