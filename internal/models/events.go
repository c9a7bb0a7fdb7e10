package models

import "time"

// StatusChangeEvent is emitted after an application transition has been persisted.
type StatusChangeEvent struct {
	ApplicationID     string            `json:"applicationId"`
	ApplicationNumber string            `json:"applicationNumber"`
	OldStatus         ApplicationStatus `json:"oldStatus"`
	NewStatus         ApplicationStatus `json:"newStatus"`
	Actor             string            `json:"actor"`
	Timestamp         time.Time         `json:"timestamp"`
}

// SyncFailureEvent is emitted for every failed sync item and for runs that
// could not start. ItemID is empty for run level failures.
type SyncFailureEvent struct {
	System    string    `json:"system"`
	ItemID    string    `json:"itemId,omitempty"`
	ErrorKind string    `json:"errorKind"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification kinds used on the wire and in metrics.
const (
	NotificationStatusChange = "status_change"
	NotificationSyncFailure  = "sync_failure"
)

// NotificationMessage is the envelope handed to delivery sinks.
type NotificationMessage struct {
	ID      string      `json:"id"`
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}
