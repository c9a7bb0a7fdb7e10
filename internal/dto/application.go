package dto

import (
	"encoding/json"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

// CreateApplicationRequest opens a draft application. Staff may open one on
// behalf of an applicant by setting ApplicantID.
type CreateApplicationRequest struct {
	ApplicantID string                 `json:"applicantId" validate:"omitempty,uuid"`
	Type        models.ApplicationType `json:"applicationType" validate:"required,applicationType"`
	Priority    models.Priority        `json:"priority" validate:"omitempty,priority"`
	FormData    json.RawMessage        `json:"formData"`
	ExpiryDate  *string                `json:"expiryDate" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateFormDataRequest replaces form data at a known version.
type UpdateFormDataRequest struct {
	Version  int             `json:"version" validate:"required,min=1"`
	FormData json.RawMessage `json:"formData" validate:"required"`
}

// TransitionRequest moves an application to a new status at a known version.
type TransitionRequest struct {
	Status  models.ApplicationStatus `json:"status" validate:"required,applicationStatus"`
	Version int                      `json:"version" validate:"required,min=1"`
	Reason  string                   `json:"reason" validate:"max=1000"`
}

// ApplicationListQuery captures list filters from the query string.
type ApplicationListQuery struct {
	Status   models.ApplicationStatus `form:"status"`
	Type     models.ApplicationType   `form:"type"`
	Page     int                      `form:"page"`
	PageSize int                      `form:"pageSize"`
}

// AllowedTransitionsResponse lists the statuses reachable by the caller.
type AllowedTransitionsResponse struct {
	Current models.ApplicationStatus   `json:"current"`
	Allowed []models.ApplicationStatus `json:"allowed"`
	Version int                        `json:"version"`
}
