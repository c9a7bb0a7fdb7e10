package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/immigration-dms-api/internal/dms"
	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/repository"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
	"github.com/noah-isme/immigration-dms-api/pkg/middleware/requestid"
)

type syncDocumentStore interface {
	FindNeedingSync(ctx context.Context, scope models.SyncScope) ([]models.Document, error)
	FindByExternalID(ctx context.Context, system, externalID string) (*models.Document, error)
}

type syncLogWriter interface {
	Create(ctx context.Context, entry *models.SyncLogEntry) error
	Latest(ctx context.Context, system string, actions ...models.SyncAction) (*models.SyncLogEntry, error)
	List(ctx context.Context, filter models.SyncLogFilter) ([]models.SyncLogEntry, error)
}

type leaseStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*repository.Lease, error)
	Release(ctx context.Context, lease *repository.Lease) error
	Held(ctx context.Context, key string) (bool, error)
}

type blobSource interface {
	Open(filename string) (*os.File, error)
}

type syncFailurePublisher interface {
	PublishSyncFailure(ctx context.Context, evt models.SyncFailureEvent)
}

type statusCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Invalidate(ctx context.Context, keys ...string)
}

// SyncServiceConfig tunes reconciliation runs.
type SyncServiceConfig struct {
	Concurrency     int
	UploadRetry     dms.RetryPolicy
	LeaseTTL        time.Duration
	DefaultConflict models.ConflictPolicy
	StatusCacheTTL  time.Duration
}

// SyncService reconciles local documents with the configured external
// systems. At most one run per system is active at a time.
type SyncService struct {
	stores  map[string]dms.Store
	names   []string
	uow     unitOfWork
	docs    syncDocumentStore
	logs    syncLogWriter
	leases  leaseStore
	blobs   blobSource
	events  syncFailurePublisher
	cache   statusCache
	metrics *MetricsService
	logger  *zap.Logger
	cfg     SyncServiceConfig
	now     func() time.Time
}

// NewSyncService constructs the reconciler.
func NewSyncService(stores map[string]dms.Store, uow unitOfWork, docs syncDocumentStore, logs syncLogWriter, leases leaseStore, blobs blobSource, events syncFailurePublisher, cache statusCache, metrics *MetricsService, logger *zap.Logger, cfg SyncServiceConfig) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Minute
	}
	if !cfg.DefaultConflict.Valid() {
		cfg.DefaultConflict = models.ConflictManual
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = 15 * time.Second
	}
	names := make([]string, 0, len(stores))
	for name := range stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return &SyncService{
		stores:  stores,
		names:   names,
		uow:     uow,
		docs:    docs,
		logs:    logs,
		leases:  leases,
		blobs:   blobs,
		events:  events,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Systems lists configured system names in order.
func (s *SyncService) Systems() []string {
	return append([]string(nil), s.names...)
}

// Trigger executes a trigger request against one system. The status action
// returns []models.SystemSyncStatus; every other action returns *models.SyncReport.
func (s *SyncService) Trigger(ctx context.Context, actor models.Actor, system string, req dto.SyncTriggerRequest) (interface{}, error) {
	if !req.Action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", req.Action))
	}
	if req.Options.ConflictResolution != "" && !req.Options.ConflictResolution.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown conflict resolution %q", req.Options.ConflictResolution))
	}
	scope := models.SyncScope{}
	if req.Scope != nil {
		scope = *req.Scope
	}
	switch req.Action {
	case models.SyncActionStatus:
		return s.Status(ctx, system)
	case models.SyncActionPush:
		return s.Push(ctx, actor, system, scope, req.Options)
	case models.SyncActionPull:
		return s.Pull(ctx, actor, system, req.Since, req.Options)
	default:
		return s.FullSync(ctx, actor, system, scope, req.Since, req.Options)
	}
}

// Push uploads every local document in scope that needs sync.
func (s *SyncService) Push(ctx context.Context, actor models.Actor, system string, scope models.SyncScope, opts models.SyncOptions) (*models.SyncReport, error) {
	return s.run(ctx, actor, system, models.SyncActionPush, func(ctx context.Context, store dms.Store, report *models.SyncReport) error {
		return s.push(ctx, actor, store, scope, opts, report)
	})
}

// Pull applies remote changes since the given time. A nil since resumes from
// the watermark of the latest completed pull or full sync.
func (s *SyncService) Pull(ctx context.Context, actor models.Actor, system string, since *time.Time, opts models.SyncOptions) (*models.SyncReport, error) {
	return s.run(ctx, actor, system, models.SyncActionPull, func(ctx context.Context, store dms.Store, report *models.SyncReport) error {
		return s.pull(ctx, actor, store, since, opts, report)
	})
}

// FullSync pushes then pulls under a single lease.
func (s *SyncService) FullSync(ctx context.Context, actor models.Actor, system string, scope models.SyncScope, since *time.Time, opts models.SyncOptions) (*models.SyncReport, error) {
	return s.run(ctx, actor, system, models.SyncActionFullSync, func(ctx context.Context, store dms.Store, report *models.SyncReport) error {
		pushReport := models.NewSyncReport(store.System(), models.SyncActionPush, s.now())
		if err := s.push(ctx, actor, store, scope, opts, pushReport); err != nil {
			report.Merge(pushReport)
			return err
		}
		report.Merge(pushReport)
		pullReport := models.NewSyncReport(store.System(), models.SyncActionPull, s.now())
		err := s.pull(ctx, actor, store, since, opts, pullReport)
		report.Merge(pullReport)
		return err
	})
}

type runFunc func(ctx context.Context, store dms.Store, report *models.SyncReport) error

func (s *SyncService) run(ctx context.Context, actor models.Actor, system string, action models.SyncAction, fn runFunc) (*models.SyncReport, error) {
	store, ok := s.stores[system]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown external system %q", system))
	}
	lease, err := s.leases.Acquire(ctx, system, s.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, repository.ErrLeaseHeld) {
			s.metrics.ObserveSyncRejected(system, "lease_held")
			return nil, appErrors.Clone(appErrors.ErrSyncAlreadyRunning, fmt.Sprintf("a sync run is already in progress for %s", system))
		}
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to acquire sync lease")
	}
	log := s.logger.With(zap.String("system", system), zap.String("action", string(action)))
	if id := requestid.FromContext(ctx); id != "" {
		log = log.With(zap.String("request_id", id))
	}
	defer func() {
		if err := s.leases.Release(context.WithoutCancel(ctx), lease); err != nil {
			log.Warn("failed to release sync lease", zap.Error(err))
		}
		s.invalidateStatus(context.WithoutCancel(ctx), system)
	}()
	s.invalidateStatus(ctx, system)

	report := models.NewSyncReport(system, action, s.now())
	log.Info("sync run started", zap.String("actor", actor.ID))
	runErr := fn(ctx, store, report)
	report.FinishedAt = s.now()

	s.metrics.ObserveSyncRun(report, runErr)
	s.recordRun(context.WithoutCancel(ctx), actor, report, runErr)
	s.publishFailures(context.WithoutCancel(ctx), report, runErr)

	if runErr != nil {
		log.Warn("sync run failed", zap.Error(runErr))
		return report, runErr
	}
	log.Info("sync run finished",
		zap.Int("total", report.TotalDocuments),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
		zap.Bool("incomplete", report.Incomplete),
	)
	return report, nil
}

func (s *SyncService) push(ctx context.Context, actor models.Actor, store dms.Store, scope models.SyncScope, opts models.SyncOptions, report *models.SyncReport) error {
	docs, err := s.docs.FindNeedingSync(ctx, scope)
	if err != nil {
		return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to load documents needing sync")
	}
	if len(docs) == 0 {
		return nil
	}
	if !opts.DryRun {
		if err := store.Authenticate(ctx); err != nil {
			return unavailable(store.System(), err)
		}
	}

	results := make([]models.ItemResult, len(docs))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range docs {
		i, doc := i, docs[i]
		if ctx.Err() != nil {
			results[i] = models.ItemResult{DocumentID: doc.ID, Direction: models.DirectionPush, Outcome: models.OutcomeCancelled}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = models.ItemResult{DocumentID: doc.ID, Direction: models.DirectionPush, Outcome: models.OutcomeCancelled}
				return nil
			}
			results[i] = s.pushOne(ctx, actor, store, doc, opts)
			return nil
		})
	}
	_ = g.Wait()
	for _, item := range results {
		report.Add(item)
	}
	if ctx.Err() != nil && report.Cancelled > 0 {
		report.Incomplete = true
		report.Warning = joinWarning(report.Warning, "run cancelled before every document was attempted")
	}
	return nil
}

// pushOne uploads one document. Once started, the upload is not cancelled
// with the run; only its per-call timeout bounds it.
func (s *SyncService) pushOne(ctx context.Context, actor models.Actor, store dms.Store, doc models.Document, opts models.SyncOptions) models.ItemResult {
	result := models.ItemResult{DocumentID: doc.ID, Direction: models.DirectionPush}
	if doc.ExternalDMSID != nil {
		result.ExternalID = *doc.ExternalDMSID
	}
	if opts.DryRun {
		result.Outcome = models.OutcomeWouldSync
		return result
	}
	if doc.StoragePath == nil || *doc.StoragePath == "" {
		return failed(result, models.ErrorKindBlobFetch, errors.New("document has no stored content"))
	}
	file, err := s.blobs.Open(*doc.StoragePath)
	if err != nil {
		return failed(result, models.ErrorKindBlobFetch, err)
	}
	defer file.Close() //nolint:errcheck

	size := doc.FileSize
	if info, statErr := file.Stat(); statErr == nil {
		size = info.Size()
	}

	uploadCtx := context.WithoutCancel(ctx)
	var uploaded *dms.UploadResult
	attempts, err := dms.Retry(uploadCtx, s.cfg.UploadRetry, func() error {
		res, err := store.Upload(uploadCtx, dms.UploadRequest{Document: doc, Content: file, Size: size})
		if err != nil {
			return err
		}
		uploaded = res
		return nil
	})
	result.Attempts = attempts
	if err != nil {
		return failed(result, itemErrorKind(err), err)
	}
	result.ExternalID = uploaded.ExternalID

	now := s.now()
	patch := models.DocumentPatch{
		ID:               doc.ID,
		ExternalSystem:   store.System(),
		ExternalDMSID:    uploaded.ExternalID,
		ProviderMetadata: uploaded.ProviderMetadata,
		SyncedAt:         now,
	}
	if uploaded.ExternalURL != "" {
		link := uploaded.ExternalURL
		patch.ExternalURL = &link
	}
	if !uploaded.ModifiedAt.IsZero() {
		modified := uploaded.ModifiedAt.UTC()
		patch.RemoteModifiedAt = &modified
	}
	err = s.uow.WithinTx(uploadCtx, func(r repository.TxRepos) error {
		if _, err := r.Documents.Upsert(uploadCtx, patch); err != nil {
			return err
		}
		entry := newAuditLog(uploadCtx, actor, models.AuditActionDocumentPush, models.AuditResourceDocument, doc.ID, nil,
			map[string]interface{}{"system": store.System(), "externalId": uploaded.ExternalID, "attempts": attempts}, now)
		return writeAudit(uploadCtx, r.Audit, entry)
	})
	if err != nil {
		return failed(result, localErrorKind(err), err)
	}
	result.Outcome = models.OutcomeSynced
	return result
}

func (s *SyncService) pull(ctx context.Context, actor models.Actor, store dms.Store, since *time.Time, opts models.SyncOptions, report *models.SyncReport) error {
	from, err := s.resolveSince(ctx, store.System(), since)
	if err != nil {
		return err
	}
	policy := opts.ConflictResolution
	if policy == "" {
		policy = s.cfg.DefaultConflict
	}
	if err := store.Authenticate(ctx); err != nil {
		return unavailable(store.System(), err)
	}

	var (
		mu      sync.Mutex
		results = make(map[int]pulledItem)
		g       errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	it := store.ListChangedSince(ctx, from)
	index := 0
	for it.Next(ctx) {
		remote, i := it.Document(), index
		index++
		g.Go(func() error {
			item := s.pullOne(ctx, actor, store.System(), remote, policy, opts)
			mu.Lock()
			results[i] = pulledItem{result: item, modified: remote.ModifiedAt}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	watermark := report.StartedAt
	if opts.DryRun {
		watermark = from
	}
	for i := 0; i < index; i++ {
		item := results[i]
		report.Add(item.result)
		if retriesOnNextPull(item.result) {
			watermark = earliest(watermark, item.modified, from)
		}
	}

	if err := it.Err(); err != nil {
		switch {
		case ctx.Err() != nil:
			report.Incomplete = true
			report.Warning = joinWarning(report.Warning, "run cancelled before the listing was exhausted")
		case it.Pages() == 0:
			return unavailable(store.System(), err)
		default:
			report.Incomplete = true
			report.Warning = joinWarning(report.Warning, fmt.Sprintf("listing stopped after %d pages: %v", it.Pages(), err))
		}
		watermark = earliest(watermark, from, from)
	}
	report.Watermark = &watermark
	return nil
}

type pulledItem struct {
	result   models.ItemResult
	modified time.Time
}

// retriesOnNextPull reports whether a failed pull item has to be listed again.
// Validation failures only clear once the remote document changes.
func retriesOnNextPull(item models.ItemResult) bool {
	return item.Outcome == models.OutcomeFailed && item.ErrorKind != models.ErrorKindValidation
}

// earliest returns the smaller of current and candidate; a zero candidate
// stands for fallback.
func earliest(current, candidate, fallback time.Time) time.Time {
	if candidate.IsZero() {
		candidate = fallback
	}
	if candidate.Before(current) {
		return candidate
	}
	return current
}

func (s *SyncService) pullOne(ctx context.Context, actor models.Actor, system string, remote models.ExternalDocument, policy models.ConflictPolicy, opts models.SyncOptions) models.ItemResult {
	result := models.ItemResult{ExternalID: remote.ExternalID, Direction: models.DirectionPull}
	if remote.ExternalID == "" {
		return failed(result, models.ErrorKindValidation, errors.New("remote document has no id"))
	}
	ctx = context.WithoutCancel(ctx)

	existing, err := s.docs.FindByExternalID(ctx, system, remote.ExternalID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return failed(result, models.ErrorKindLocalStore, err)
	}
	patch := remotePatch(system, remote, s.now())

	if existing == nil {
		if remote.ApplicationID == "" {
			return failed(result, models.ErrorKindValidation, errors.New("remote document is not linked to an application"))
		}
		if opts.DryRun {
			result.Outcome = models.OutcomeWouldSync
			return result
		}
		var inserted bool
		err := s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
			var err error
			if inserted, err = r.Documents.Upsert(ctx, patch); err != nil {
				return err
			}
			entry := newAuditLog(ctx, actor, models.AuditActionDocumentPull, models.AuditResourceDocument, "", nil,
				map[string]interface{}{"system": system, "externalId": remote.ExternalID, "applicationId": remote.ApplicationID}, patch.SyncedAt)
			return writeAudit(ctx, r.Audit, entry)
		})
		if err != nil {
			return failed(result, localErrorKind(err), err)
		}
		result.Outcome = models.OutcomeUpdated
		if inserted {
			result.Outcome = models.OutcomeCreated
		}
		return result
	}

	result.DocumentID = existing.ID
	if existing.RemoteModifiedAt != nil && !remote.ModifiedAt.After(*existing.RemoteModifiedAt) {
		result.Outcome = models.OutcomeUnchanged
		return result
	}
	if policy == models.ConflictLocalWins {
		result.Outcome = models.OutcomeUnchanged
		return result
	}
	if opts.DryRun {
		result.Outcome = models.OutcomeWouldSync
		return result
	}

	switch policy {
	case models.ConflictRemoteWins:
		patch.ID = existing.ID
		patch.OverwriteFields = true
		err = s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
			if _, err := r.Documents.Upsert(ctx, patch); err != nil {
				return err
			}
			entry := newAuditLog(ctx, actor, models.AuditActionDocumentPull, models.AuditResourceDocument, existing.ID,
				map[string]interface{}{"fileName": existing.FileName, "fileSize": existing.FileSize},
				map[string]interface{}{"fileName": remote.FileName, "fileSize": remote.FileSize, "system": system}, patch.SyncedAt)
			return writeAudit(ctx, r.Audit, entry)
		})
		if err != nil {
			return failed(result, localErrorKind(err), err)
		}
		result.Outcome = models.OutcomeUpdated
	default:
		payload, _ := json.Marshal(remote)
		err = s.uow.WithinTx(ctx, func(r repository.TxRepos) error {
			if err := r.Documents.MarkConflict(ctx, existing.ID, payload, patch.SyncedAt); err != nil {
				return err
			}
			entry := newAuditLog(ctx, actor, models.AuditActionDocumentConflict, models.AuditResourceDocument, existing.ID, nil,
				json.RawMessage(payload), patch.SyncedAt)
			return writeAudit(ctx, r.Audit, entry)
		})
		if err != nil {
			return failed(result, localErrorKind(err), err)
		}
		result.Outcome = models.OutcomeConflictFlagged
	}
	return result
}

func (s *SyncService) resolveSince(ctx context.Context, system string, since *time.Time) (time.Time, error) {
	if since != nil {
		return since.UTC(), nil
	}
	latest, err := s.logs.Latest(ctx, system, models.SyncActionPull, models.SyncActionFullSync)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to resolve last pull time")
	}
	if latest == nil {
		return time.Time{}, nil
	}
	if latest.Watermark != nil {
		return latest.Watermark.UTC(), nil
	}
	return latest.StartedAt, nil
}

// Status reports the last run and lease state of one system, or of every
// system when name is empty.
func (s *SyncService) Status(ctx context.Context, name string) ([]models.SystemSyncStatus, error) {
	names := s.names
	if name != "" {
		if _, ok := s.stores[name]; !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown external system %q", name))
		}
		names = []string{name}
	}
	out := make([]models.SystemSyncStatus, 0, len(names))
	for _, system := range names {
		status, err := s.systemStatus(ctx, system)
		if err != nil {
			return nil, err
		}
		out = append(out, *status)
	}
	return out, nil
}

func (s *SyncService) systemStatus(ctx context.Context, system string) (*models.SystemSyncStatus, error) {
	var cached models.SystemSyncStatus
	if s.cache != nil && s.cache.Get(ctx, statusCacheKey(system), &cached) {
		return &cached, nil
	}
	status := &models.SystemSyncStatus{System: system, Provider: s.stores[system].Provider()}
	running, err := s.leases.Held(ctx, system)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to read sync lease")
	}
	status.Running = running
	recent, err := s.logs.List(ctx, models.SyncLogFilter{System: system, Limit: 1})
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to load last sync run")
	}
	if len(recent) > 0 {
		status.LastRun = &recent[0]
	}
	if s.cache != nil {
		s.cache.Set(ctx, statusCacheKey(system), status, s.cfg.StatusCacheTTL)
	}
	return status, nil
}

func (s *SyncService) invalidateStatus(ctx context.Context, system string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, statusCacheKey(system))
	}
}

func (s *SyncService) recordRun(ctx context.Context, actor models.Actor, report *models.SyncReport, runErr error) {
	results, err := json.Marshal(report.Results)
	if err != nil {
		results = json.RawMessage(`[]`)
	}
	entry := &models.SyncLogEntry{
		System:      report.System,
		Action:      report.Action,
		Status:      models.SyncRunCompleted,
		TotalItems:  report.TotalDocuments,
		Successful:  report.Successful,
		Failed:      report.Failed,
		Results:     results,
		TriggeredBy: actor.ID,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Watermark:   report.Watermark,
	}
	if runErr != nil {
		entry.Status = models.SyncRunFailed
		msg := runErr.Error()
		entry.Error = &msg
	} else if report.Warning != "" {
		msg := report.Warning
		entry.Error = &msg
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error("failed to record sync run", zap.String("system", report.System), zap.Error(err))
	}
}

func (s *SyncService) publishFailures(ctx context.Context, report *models.SyncReport, runErr error) {
	if s.events == nil {
		return
	}
	at := report.FinishedAt
	if runErr != nil {
		s.events.PublishSyncFailure(ctx, models.SyncFailureEvent{
			System:    report.System,
			ErrorKind: runErrorKind(runErr),
			Message:   runErr.Error(),
			Timestamp: at,
		})
	}
	for _, item := range report.Results {
		if item.Outcome != models.OutcomeFailed {
			continue
		}
		itemID := item.DocumentID
		if itemID == "" {
			itemID = item.ExternalID
		}
		s.events.PublishSyncFailure(ctx, models.SyncFailureEvent{
			System:    report.System,
			ItemID:    itemID,
			ErrorKind: item.ErrorKind,
			Message:   item.Error,
			Timestamp: at,
		})
	}
}

func statusCacheKey(system string) string {
	return "sync:status:" + system
}

func failed(result models.ItemResult, kind string, err error) models.ItemResult {
	result.Outcome = models.OutcomeFailed
	result.ErrorKind = kind
	result.Error = err.Error()
	return result
}

func itemErrorKind(err error) string {
	switch dms.KindOf(err) {
	case dms.KindAuthentication:
		return models.ErrorKindAuthentication
	case dms.KindTransientNetwork:
		return models.ErrorKindTransientNetwork
	case dms.KindRejected:
		return models.ErrorKindRejected
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.ErrorKindTransientNetwork
	}
	return models.ErrorKindRejected
}

func localErrorKind(err error) string {
	if errors.Is(err, appErrors.ErrAuditWrite) {
		return models.ErrorKindAuditWrite
	}
	return models.ErrorKindLocalStore
}

func runErrorKind(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrAuthentication):
		return models.ErrorKindAuthentication
	case errors.Is(err, appErrors.ErrTransientNetwork):
		return models.ErrorKindTransientNetwork
	case errors.Is(err, appErrors.ErrSyncUnavailable):
		return models.ErrorKindUnavailable
	}
	return models.ErrorKindLocalStore
}

// unavailable converts a failure to reach the provider before any item was
// attempted into a run level error.
func unavailable(system string, err error) error {
	msg := fmt.Sprintf("cannot reach %s", system)
	switch dms.KindOf(err) {
	case dms.KindAuthentication:
		return appErrors.WrapAs(appErrors.ErrAuthentication, err, msg)
	case dms.KindTransientNetwork:
		return appErrors.WrapAs(appErrors.ErrTransientNetwork, err, msg)
	}
	return appErrors.WrapAs(appErrors.ErrSyncUnavailable, err, msg)
}

func remotePatch(system string, remote models.ExternalDocument, now time.Time) models.DocumentPatch {
	patch := models.DocumentPatch{
		ApplicationID:    remote.ApplicationID,
		FileName:         remote.FileName,
		FileSize:         remote.FileSize,
		MimeType:         remote.MimeType,
		DocumentType:     remote.DocumentType,
		ExternalSystem:   system,
		ExternalDMSID:    remote.ExternalID,
		ProviderMetadata: remote.Metadata,
		SyncedAt:         now,
	}
	if patch.FileName == "" {
		patch.FileName = remote.ExternalID
	}
	if remote.URL != "" {
		link := remote.URL
		patch.ExternalURL = &link
	}
	if !remote.ModifiedAt.IsZero() {
		modified := remote.ModifiedAt.UTC()
		patch.RemoteModifiedAt = &modified
	}
	return patch
}

func joinWarning(current, next string) string {
	if current == "" {
		return next
	}
	return current + "; " + next
}
