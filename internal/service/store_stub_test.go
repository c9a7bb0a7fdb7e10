package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/repository"
)

// memStore is an in-memory record store. The unit of work holds the lock for
// the whole callback and restores a snapshot when the callback fails.
type memStore struct {
	mu       sync.Mutex
	apps     map[string]models.Application
	docs     map[string]models.Document
	audits   []models.AuditLog
	auditErr error
	upserts  int
}

func newMemStore() *memStore {
	return &memStore{
		apps: make(map[string]models.Application),
		docs: make(map[string]models.Document),
	}
}

type memSnapshot struct {
	apps   map[string]models.Application
	docs   map[string]models.Document
	audits []models.AuditLog
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		apps:   make(map[string]models.Application, len(s.apps)),
		docs:   make(map[string]models.Document, len(s.docs)),
		audits: append([]models.AuditLog(nil), s.audits...),
	}
	for k, v := range s.apps {
		snap.apps[k] = v
	}
	for k, v := range s.docs {
		snap.docs[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.apps = snap.apps
	s.docs = snap.docs
	s.audits = snap.audits
}

func (s *memStore) putApp(app models.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.ID] = app
}

func (s *memStore) app(id string) models.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apps[id]
}

func (s *memStore) putDoc(doc models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
}

func (s *memStore) doc(id string) models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *memStore) docCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *memStore) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.audits))
	for _, a := range s.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

func (s *memStore) setAuditErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditErr = err
}

type memUoW struct {
	store *memStore
}

func (u *memUoW) WithinTx(ctx context.Context, fn func(r repository.TxRepos) error) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	snap := u.store.snapshot()
	err := fn(repository.TxRepos{
		Applications: memApps{u.store},
		Documents:    memDocs{u.store},
		Audit:        memAudit{u.store},
	})
	if err != nil {
		u.store.restore(snap)
	}
	return err
}

// memApps and memDocs assume the caller holds the store lock.
type memApps struct{ s *memStore }

func (r memApps) Create(_ context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.ApplicationNumber == "" {
		app.ApplicationNumber = models.ApplicationNumberFor(app.ID, app.CreatedAt)
	}
	if app.Version == 0 {
		app.Version = 1
	}
	r.s.apps[app.ID] = *app
	return nil
}

func (r memApps) GetByID(_ context.Context, id string) (*models.Application, error) {
	app, ok := r.s.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &app, nil
}

func (r memApps) UpdateStatus(_ context.Context, u models.StatusUpdate) error {
	app, ok := r.s.apps[u.ID]
	if !ok || app.Version != u.ExpectedVersion || app.ArchivedAt != nil {
		return repository.ErrStaleVersion
	}
	app.Status = u.Status
	app.SubmittedAt = u.SubmittedAt
	app.ReviewStartedAt = u.ReviewStartedAt
	app.DecisionDate = u.DecisionDate
	app.AppealDecisionDate = u.AppealDecisionDate
	app.UpdatedAt = u.UpdatedAt
	app.Version++
	r.s.apps[u.ID] = app
	return nil
}

func (r memApps) UpdateFormData(_ context.Context, u models.FormDataUpdate) error {
	app, ok := r.s.apps[u.ID]
	if !ok || app.Version != u.ExpectedVersion || app.ArchivedAt != nil {
		return repository.ErrStaleVersion
	}
	app.FormData = u.FormData
	app.UpdatedAt = u.UpdatedAt
	app.Version++
	r.s.apps[u.ID] = app
	return nil
}

func (r memApps) Archive(_ context.Context, id string, expectedVersion int, at time.Time) error {
	app, ok := r.s.apps[id]
	if !ok || app.Version != expectedVersion || app.ArchivedAt != nil {
		return repository.ErrStaleVersion
	}
	app.ArchivedAt = &at
	r.s.apps[id] = app
	return nil
}

type memDocs struct{ s *memStore }

func (r memDocs) Create(_ context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	r.s.docs[doc.ID] = *doc
	return nil
}

func (r memDocs) GetByID(_ context.Context, id string) (*models.Document, error) {
	doc, ok := r.s.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &doc, nil
}

func (r memDocs) Upsert(_ context.Context, p models.DocumentPatch) (bool, error) {
	r.s.upserts++
	system, extID := p.ExternalSystem, p.ExternalDMSID
	apply := func(doc *models.Document) {
		if p.FileName != "" {
			doc.FileName = p.FileName
		}
		if p.FileSize > 0 || p.OverwriteFields {
			doc.FileSize = p.FileSize
		}
		if p.MimeType != "" || p.OverwriteFields {
			doc.MimeType = p.MimeType
		}
		if p.DocumentType != "" {
			doc.DocumentType = p.DocumentType
		}
		doc.ExternalSystem = &system
		doc.ExternalDMSID = &extID
		if p.ExternalURL != nil {
			doc.ExternalURL = p.ExternalURL
		}
		meta := p.ProviderMetadata
		doc.ProviderMetadata = &meta
		if p.RemoteModifiedAt != nil {
			doc.RemoteModifiedAt = p.RemoteModifiedAt
		}
		synced := p.SyncedAt
		doc.SyncedAt = &synced
		doc.SyncDirty = false
		doc.SyncConflict = false
		doc.ConflictPayload = nil
	}
	if p.ID != "" {
		doc, ok := r.s.docs[p.ID]
		if !ok || doc.DeletedAt != nil {
			return false, sql.ErrNoRows
		}
		apply(&doc)
		r.s.docs[p.ID] = doc
		return false, nil
	}
	for id, doc := range r.s.docs {
		if doc.DeletedAt == nil && doc.ExternalSystem != nil && *doc.ExternalSystem == system &&
			doc.ExternalDMSID != nil && *doc.ExternalDMSID == extID {
			apply(&doc)
			r.s.docs[id] = doc
			return false, nil
		}
	}
	if p.ApplicationID == "" {
		return false, fmt.Errorf("application id is required for new documents")
	}
	doc := models.Document{
		ID:               uuid.NewString(),
		ApplicationID:    p.ApplicationID,
		Version:          1,
		IsCurrentVersion: true,
		ScanStatus:       models.ScanStatusPending,
		CreatedAt:        p.SyncedAt,
	}
	apply(&doc)
	r.s.docs[doc.ID] = doc
	return true, nil
}

func (r memDocs) MarkConflict(_ context.Context, id string, payload []byte, _ time.Time) error {
	doc, ok := r.s.docs[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.SyncConflict = true
	raw := json.RawMessage(payload)
	doc.ConflictPayload = &raw
	r.s.docs[id] = doc
	return nil
}

func (r memDocs) MarkDirty(_ context.Context, id string, _ time.Time) error {
	doc, ok := r.s.docs[id]
	if !ok || doc.DeletedAt != nil {
		return sql.ErrNoRows
	}
	doc.SyncDirty = true
	r.s.docs[id] = doc
	return nil
}

func (r memDocs) Supersede(_ context.Context, id string, _ time.Time) error {
	doc, ok := r.s.docs[id]
	if !ok || !doc.IsCurrentVersion || doc.DeletedAt != nil {
		return repository.ErrStaleVersion
	}
	doc.IsCurrentVersion = false
	r.s.docs[id] = doc
	return nil
}

func (r memDocs) SoftDelete(_ context.Context, id string, at time.Time) error {
	doc, ok := r.s.docs[id]
	if !ok || doc.DeletedAt != nil {
		return sql.ErrNoRows
	}
	doc.DeletedAt = &at
	doc.IsCurrentVersion = false
	r.s.docs[id] = doc
	return nil
}

type memAudit struct{ s *memStore }

func (r memAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	if r.s.auditErr != nil {
		return r.s.auditErr
	}
	r.s.audits = append(r.s.audits, *log)
	return nil
}

// memReader exposes the locked read side used outside transactions.
type memReader struct{ s *memStore }

func (r memReader) GetByID(ctx context.Context, id string) (*models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memApps{r.s}.GetByID(ctx, id)
}

func (r memReader) List(_ context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Application, 0)
	for _, app := range r.s.apps {
		if filter.ApplicantID != "" && app.ApplicantID != filter.ApplicantID {
			continue
		}
		if filter.Status != "" && app.Status != filter.Status {
			continue
		}
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if filter.Offset >= len(out) {
		return []models.Application{}, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

type memDocReader struct{ s *memStore }

func (r memDocReader) GetByID(ctx context.Context, id string) (*models.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memDocs{r.s}.GetByID(ctx, id)
}

func (r memDocReader) List(_ context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Document, 0)
	for _, doc := range r.s.docs {
		if doc.ApplicationID != filter.ApplicationID {
			continue
		}
		if filter.CurrentOnly && !doc.IsCurrentVersion {
			continue
		}
		if !filter.IncludeDeleted && doc.DeletedAt != nil {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memDocReader) FindNeedingSync(_ context.Context, scope models.SyncScope) ([]models.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[string]struct{}, len(scope.DocumentIDs))
	for _, id := range scope.DocumentIDs {
		wanted[id] = struct{}{}
	}
	out := make([]models.Document, 0)
	for _, doc := range r.s.docs {
		if !doc.NeedsSync() {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[doc.ID]; !ok {
				continue
			}
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memDocReader) FindByExternalID(_ context.Context, system, externalID string) (*models.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, doc := range r.s.docs {
		if doc.DeletedAt == nil && doc.ExternalSystem != nil && *doc.ExternalSystem == system &&
			doc.ExternalDMSID != nil && *doc.ExternalDMSID == externalID {
			found := doc
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

type recordingPublisher struct {
	mu            sync.Mutex
	statusChanges []models.StatusChangeEvent
	syncFailures  []models.SyncFailureEvent
}

func (p *recordingPublisher) PublishStatusChange(_ context.Context, evt models.StatusChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanges = append(p.statusChanges, evt)
}

func (p *recordingPublisher) PublishSyncFailure(_ context.Context, evt models.SyncFailureEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncFailures = append(p.syncFailures, evt)
}

func (p *recordingPublisher) failures() []models.SyncFailureEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SyncFailureEvent(nil), p.syncFailures...)
}
