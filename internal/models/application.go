package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ApplicationType is the immigration service category of an application.
type ApplicationType string

const (
	ApplicationTypeVisitorVisa         ApplicationType = "visitor_visa"
	ApplicationTypeStudyPermit         ApplicationType = "study_permit"
	ApplicationTypeWorkPermit          ApplicationType = "work_permit"
	ApplicationTypePermanentResidence  ApplicationType = "permanent_residence"
	ApplicationTypeFamilySponsorship   ApplicationType = "family_sponsorship"
	ApplicationTypeCitizenship         ApplicationType = "citizenship"
	ApplicationTypeRefugeeProtection   ApplicationType = "refugee_protection"
	ApplicationTypeBusinessImmigration ApplicationType = "business_immigration"
)

// ApplicationTypes lists every supported category.
var ApplicationTypes = []ApplicationType{
	ApplicationTypeVisitorVisa,
	ApplicationTypeStudyPermit,
	ApplicationTypeWorkPermit,
	ApplicationTypePermanentResidence,
	ApplicationTypeFamilySponsorship,
	ApplicationTypeCitizenship,
	ApplicationTypeRefugeeProtection,
	ApplicationTypeBusinessImmigration,
}

// Valid reports whether t is a known category.
func (t ApplicationType) Valid() bool {
	for _, known := range ApplicationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ApplicationStatus is a lifecycle state of an application.
type ApplicationStatus string

const (
	StatusDraft                  ApplicationStatus = "draft"
	StatusSubmitted              ApplicationStatus = "submitted"
	StatusUnderReview            ApplicationStatus = "under_review"
	StatusAdditionalInfoRequired ApplicationStatus = "additional_info_required"
	StatusInterviewScheduled     ApplicationStatus = "interview_scheduled"
	StatusDecisionPending        ApplicationStatus = "decision_pending"
	StatusApproved               ApplicationStatus = "approved"
	StatusRejected               ApplicationStatus = "rejected"
	StatusWithdrawn              ApplicationStatus = "withdrawn"
	StatusOnHold                 ApplicationStatus = "on_hold"
	StatusAppealed               ApplicationStatus = "appealed"
	StatusExpired                ApplicationStatus = "expired"
)

// ApplicationStatuses lists every lifecycle state.
var ApplicationStatuses = []ApplicationStatus{
	StatusDraft,
	StatusSubmitted,
	StatusUnderReview,
	StatusAdditionalInfoRequired,
	StatusInterviewScheduled,
	StatusDecisionPending,
	StatusApproved,
	StatusRejected,
	StatusWithdrawn,
	StatusOnHold,
	StatusAppealed,
	StatusExpired,
}

// Valid reports whether s is a known state.
func (s ApplicationStatus) Valid() bool {
	for _, known := range ApplicationStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsDecision reports whether s records a decision on the case.
func (s ApplicationStatus) IsDecision() bool {
	return s == StatusApproved || s == StatusRejected
}

// Priority is an ordered urgency level.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

var priorityRank = map[Priority]int{
	PriorityLow:       0,
	PriorityNormal:    1,
	PriorityHigh:      2,
	PriorityUrgent:    3,
	PriorityEmergency: 4,
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank returns the position of p in the priority order, or -1 when unknown.
func (p Priority) Rank() int {
	rank, ok := priorityRank[p]
	if !ok {
		return -1
	}
	return rank
}

// Application is an immigration case.
type Application struct {
	ID                 string            `db:"id" json:"id"`
	ApplicationNumber  string            `db:"application_number" json:"applicationNumber"`
	ApplicantID        string            `db:"applicant_id" json:"applicantId"`
	AssignedOfficerID  *string           `db:"assigned_officer_id" json:"assignedOfficerId,omitempty"`
	Type               ApplicationType   `db:"application_type" json:"applicationType"`
	Status             ApplicationStatus `db:"status" json:"status"`
	Priority           Priority          `db:"priority" json:"priority"`
	FormData           json.RawMessage   `db:"form_data" json:"formData"`
	SubmittedAt        *time.Time        `db:"submitted_at" json:"submittedAt,omitempty"`
	ReviewStartedAt    *time.Time        `db:"review_started_at" json:"reviewStartedAt,omitempty"`
	DecisionDate       *time.Time        `db:"decision_date" json:"decisionDate,omitempty"`
	AppealDecisionDate *time.Time        `db:"appeal_decision_date" json:"appealDecisionDate,omitempty"`
	ExpiryDate         *time.Time        `db:"expiry_date" json:"expiryDate,omitempty"`
	Version            int               `db:"version" json:"version"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updatedAt"`
	ArchivedAt         *time.Time        `db:"archived_at" json:"archivedAt,omitempty"`
}

// ApplicationNumberFor derives the human readable number from the creation
// time and the leading hex characters of the id.
func ApplicationNumberFor(id string, createdAt time.Time) string {
	fragment := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(fragment) > 8 {
		fragment = fragment[:8]
	}
	return fmt.Sprintf("IMM-%s-%s", createdAt.UTC().Format("20060102"), fragment)
}

// ApplicationFilter narrows application listing.
type ApplicationFilter struct {
	ApplicantID     string
	OfficerID       string
	Status          ApplicationStatus
	Type            ApplicationType
	IncludeArchived bool
	Limit           int
	Offset          int
}

// StatusUpdate carries the persisted effect of one accepted transition.
type StatusUpdate struct {
	ID                 string            `db:"id"`
	ExpectedVersion    int               `db:"expected_version"`
	Status             ApplicationStatus `db:"status"`
	SubmittedAt        *time.Time        `db:"submitted_at"`
	ReviewStartedAt    *time.Time        `db:"review_started_at"`
	DecisionDate       *time.Time        `db:"decision_date"`
	AppealDecisionDate *time.Time        `db:"appeal_decision_date"`
	UpdatedAt          time.Time         `db:"updated_at"`
}

// FormDataUpdate replaces the form payload of an application.
type FormDataUpdate struct {
	ID              string          `db:"id"`
	ExpectedVersion int             `db:"expected_version"`
	FormData        json.RawMessage `db:"form_data"`
	UpdatedAt       time.Time       `db:"updated_at"`
}
