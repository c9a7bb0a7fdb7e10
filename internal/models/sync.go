package models

import (
	"encoding/json"
	"time"
)

// SyncAction selects what a sync trigger does.
type SyncAction string

const (
	SyncActionPush     SyncAction = "push"
	SyncActionPull     SyncAction = "pull"
	SyncActionFullSync SyncAction = "full_sync"
	SyncActionStatus   SyncAction = "status"
)

// Valid reports whether a is a known action.
func (a SyncAction) Valid() bool {
	switch a {
	case SyncActionPush, SyncActionPull, SyncActionFullSync, SyncActionStatus:
		return true
	}
	return false
}

// ConflictPolicy decides how pull treats a document that exists on both sides.
type ConflictPolicy string

const (
	ConflictLocalWins  ConflictPolicy = "local_wins"
	ConflictRemoteWins ConflictPolicy = "remote_wins"
	ConflictManual     ConflictPolicy = "manual"
)

// Valid reports whether p is a known policy.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictLocalWins, ConflictRemoteWins, ConflictManual:
		return true
	}
	return false
}

// SyncDirection tags an item result with the phase that produced it.
type SyncDirection string

const (
	DirectionPush SyncDirection = "push"
	DirectionPull SyncDirection = "pull"
)

// ItemOutcome is the recorded result of one reconciled document.
type ItemOutcome string

const (
	OutcomeSynced          ItemOutcome = "synced"
	OutcomeWouldSync       ItemOutcome = "would_sync"
	OutcomeCreated         ItemOutcome = "created"
	OutcomeUpdated         ItemOutcome = "updated"
	OutcomeUnchanged       ItemOutcome = "unchanged"
	OutcomeConflictFlagged ItemOutcome = "conflict_flagged"
	OutcomeFailed          ItemOutcome = "failed"
	OutcomeCancelled       ItemOutcome = "cancelled"
)

// Succeeded reports whether the outcome counts toward the successful total.
func (o ItemOutcome) Succeeded() bool {
	switch o {
	case OutcomeSynced, OutcomeCreated, OutcomeUpdated, OutcomeUnchanged:
		return true
	}
	return false
}

// Error kinds recorded on failed items.
const (
	ErrorKindAuthentication   = "AuthenticationError"
	ErrorKindRejected         = "RejectedError"
	ErrorKindTransientNetwork = "TransientNetworkError"
	ErrorKindBlobFetch        = "BlobFetchError"
	ErrorKindValidation       = "ValidationError"
	ErrorKindLocalStore       = "LocalStoreError"
	ErrorKindAuditWrite       = "AuditWriteError"
	ErrorKindLeaseConflict    = "SyncAlreadyRunningError"
	ErrorKindUnavailable      = "SyncUnavailableError"
)

// SyncOptions tunes one sync run.
type SyncOptions struct {
	DryRun             bool           `json:"dryRun"`
	ConflictResolution ConflictPolicy `json:"conflictResolution,omitempty"`
}

// ItemResult is the outcome of one document within a run.
type ItemResult struct {
	DocumentID string        `json:"documentId,omitempty"`
	ExternalID string        `json:"externalId,omitempty"`
	Direction  SyncDirection `json:"direction"`
	Outcome    ItemOutcome   `json:"outcome"`
	ErrorKind  string        `json:"errorKind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
}

// SyncReport aggregates the item results of a run.
type SyncReport struct {
	System         string       `json:"system"`
	Action         SyncAction   `json:"action"`
	TotalDocuments int          `json:"totalDocuments"`
	Successful     int          `json:"successful"`
	Failed         int          `json:"failed"`
	DryRun         int          `json:"dryRun"`
	Conflicts      int          `json:"conflicts"`
	Cancelled      int          `json:"cancelled"`
	Incomplete     bool         `json:"incomplete"`
	Warning        string       `json:"warning,omitempty"`
	Results        []ItemResult `json:"results"`
	StartedAt      time.Time    `json:"startedAt"`
	FinishedAt     time.Time    `json:"finishedAt"`
	// Watermark is where the next incremental pull resumes. Only pulls set it.
	Watermark      *time.Time   `json:"watermark,omitempty"`
}

// NewSyncReport returns an empty report for a run.
func NewSyncReport(system string, action SyncAction, startedAt time.Time) *SyncReport {
	return &SyncReport{System: system, Action: action, Results: []ItemResult{}, StartedAt: startedAt}
}

// Add records one item and updates the aggregate counters.
func (r *SyncReport) Add(item ItemResult) {
	r.Results = append(r.Results, item)
	r.TotalDocuments++
	switch {
	case item.Outcome.Succeeded():
		r.Successful++
	case item.Outcome == OutcomeFailed:
		r.Failed++
	case item.Outcome == OutcomeWouldSync:
		r.DryRun++
	case item.Outcome == OutcomeConflictFlagged:
		r.Conflicts++
	case item.Outcome == OutcomeCancelled:
		r.Cancelled++
	}
}

// Merge appends the items of other, as full sync does with its push and pull phases.
func (r *SyncReport) Merge(other *SyncReport) {
	if other == nil {
		return
	}
	for _, item := range other.Results {
		r.Add(item)
	}
	r.Incomplete = r.Incomplete || other.Incomplete
	if other.Watermark != nil {
		r.Watermark = other.Watermark
	}
	if other.Warning != "" {
		if r.Warning != "" {
			r.Warning += "; "
		}
		r.Warning += other.Warning
	}
}

// SyncRunStatus marks whether a logged run completed.
type SyncRunStatus string

const (
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
)

// SyncLogEntry is the immutable record of one run against one external system.
type SyncLogEntry struct {
	ID          string          `db:"id" json:"id"`
	System      string          `db:"external_system" json:"system"`
	Action      SyncAction      `db:"action" json:"action"`
	Status      SyncRunStatus   `db:"status" json:"status"`
	TotalItems  int             `db:"total_items" json:"totalItems"`
	Successful  int             `db:"successful_items" json:"successful"`
	Failed      int             `db:"failed_items" json:"failed"`
	Results     json.RawMessage `db:"results" json:"results"`
	Error       *string         `db:"error_message" json:"error,omitempty"`
	TriggeredBy string          `db:"triggered_by" json:"triggeredBy"`
	StartedAt   time.Time       `db:"started_at" json:"startedAt"`
	FinishedAt  time.Time       `db:"finished_at" json:"finishedAt"`
	Watermark   *time.Time      `db:"pull_watermark" json:"pullWatermark,omitempty"`
}

// SyncLogFilter narrows sync log listing.
type SyncLogFilter struct {
	System  string
	Actions []SyncAction
	Status  SyncRunStatus
	Limit   int
	Offset  int
}

// SystemSyncStatus summarises the state of one external system.
type SystemSyncStatus struct {
	System   string        `json:"system"`
	Provider string        `json:"provider"`
	Running  bool          `json:"running"`
	LastRun  *SyncLogEntry `json:"lastRun,omitempty"`
}

// ExportFormat selects the rendering of a sync log export.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// SyncLogExport describes a rendered export stored for download.
type SyncLogExport struct {
	RelativePath string       `json:"-"`
	Token        string       `json:"token"`
	URL          string       `json:"url"`
	Format       ExportFormat `json:"format"`
	Entries      int          `json:"entries"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}
