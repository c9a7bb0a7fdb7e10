package dto

import (
	"time"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

// SyncTriggerRequest is the body accepted by the sync trigger.
type SyncTriggerRequest struct {
	Action  models.SyncAction  `json:"action" validate:"required,syncAction"`
	Scope   *models.SyncScope  `json:"scope"`
	Since   *time.Time         `json:"since"`
	Options models.SyncOptions `json:"options"`
}

// SyncTriggerResponse is returned when a trigger completes, including runs
// whose items partially failed.
type SyncTriggerResponse struct {
	Success   bool              `json:"success"`
	Action    models.SyncAction `json:"action"`
	Result    interface{}       `json:"result"`
	Timestamp time.Time         `json:"timestamp"`
}

// SyncErrorResponse is returned when a run could not start or was aborted.
type SyncErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncLogQuery captures sync log filters from the query string.
type SyncLogQuery struct {
	Action   models.SyncAction    `form:"action"`
	Status   models.SyncRunStatus `form:"status"`
	Page     int                  `form:"page"`
	PageSize int                  `form:"pageSize"`
	Format   string               `form:"format"`
}
