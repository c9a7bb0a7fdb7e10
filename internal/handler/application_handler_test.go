package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/middleware"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

type applicationServiceMock struct {
	app        *models.Application
	err        error
	lastActor  models.Actor
	lastQuery  dto.ApplicationListQuery
	archivedAt int
}

func (m *applicationServiceMock) Create(_ context.Context, actor models.Actor, _ dto.CreateApplicationRequest) (*models.Application, error) {
	m.lastActor = actor
	return m.app, m.err
}

func (m *applicationServiceMock) Get(_ context.Context, actor models.Actor, _ string) (*models.Application, error) {
	m.lastActor = actor
	return m.app, m.err
}

func (m *applicationServiceMock) List(_ context.Context, actor models.Actor, query dto.ApplicationListQuery) ([]models.Application, *models.Pagination, error) {
	m.lastActor = actor
	m.lastQuery = query
	if m.err != nil {
		return nil, nil, m.err
	}
	return []models.Application{*m.app}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (m *applicationServiceMock) UpdateFormData(_ context.Context, actor models.Actor, _ string, _ dto.UpdateFormDataRequest) (*models.Application, error) {
	m.lastActor = actor
	return m.app, m.err
}

func (m *applicationServiceMock) Archive(_ context.Context, actor models.Actor, _ string, version int) error {
	m.lastActor = actor
	m.archivedAt = version
	return m.err
}

type workflowServiceMock struct {
	app     *models.Application
	allowed *dto.AllowedTransitionsResponse
	err     error
	lastReq dto.TransitionRequest
}

func (m *workflowServiceMock) Transition(_ context.Context, _ models.Actor, _ string, req dto.TransitionRequest) (*models.Application, error) {
	m.lastReq = req
	return m.app, m.err
}

func (m *workflowServiceMock) AllowedTransitions(context.Context, models.Actor, string) (*dto.AllowedTransitionsResponse, error) {
	return m.allowed, m.err
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func withUser(c *gin.Context, id string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: id, Role: role})
}

func TestApplicationHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	apps := &applicationServiceMock{app: &models.Application{ID: "app-1", Status: models.StatusDraft, Version: 1}}
	h := NewApplicationHandler(apps, &workflowServiceMock{})

	payload, _ := json.Marshal(dto.CreateApplicationRequest{Type: models.ApplicationTypeVisitorVisa})
	c, w := newGinContext(http.MethodPost, "/applications", payload)
	withUser(c, "applicant-1", models.RoleApplicant)

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.Actor{ID: "applicant-1", Role: models.RoleApplicant}, apps.lastActor)
	assert.Contains(t, w.Body.String(), `"id":"app-1"`)
}

func TestApplicationHandlerRequiresUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewApplicationHandler(&applicationServiceMock{}, &workflowServiceMock{})
	c, w := newGinContext(http.MethodGet, "/applications/app-1", nil)
	h.Get(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApplicationHandlerListBindsQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	apps := &applicationServiceMock{app: &models.Application{ID: "app-1"}}
	h := NewApplicationHandler(apps, &workflowServiceMock{})
	c, w := newGinContext(http.MethodGet, "/applications?status=submitted&page=2&pageSize=5", nil)
	withUser(c, "officer-1", models.RoleOfficer)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusSubmitted, apps.lastQuery.Status)
	assert.Equal(t, 2, apps.lastQuery.Page)
	assert.Equal(t, 5, apps.lastQuery.PageSize)
	assert.Contains(t, w.Body.String(), `"pagination"`)
}

func TestApplicationHandlerTransitionErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid transition", err: appErrors.Clone(appErrors.ErrInvalidTransition, "submitted -> approved"), status: http.StatusConflict},
		{name: "stale version", err: appErrors.Clone(appErrors.ErrConcurrentModification, "stale"), status: http.StatusConflict},
		{name: "incomplete form", err: appErrors.Clone(appErrors.ErrValidation, "form data is incomplete"), status: http.StatusBadRequest},
		{name: "forbidden", err: appErrors.ErrForbidden, status: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			workflow := &workflowServiceMock{err: tc.err}
			h := NewApplicationHandler(&applicationServiceMock{}, workflow)
			payload := []byte(`{"status":"approved","version":3,"reason":"ok"}`)
			c, w := newGinContext(http.MethodPost, "/applications/app-1/transitions", payload)
			c.Params = gin.Params{{Key: "id", Value: "app-1"}}
			withUser(c, "officer-1", models.RoleOfficer)

			h.Transition(c)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, models.StatusApproved, workflow.lastReq.Status)
			assert.Equal(t, 3, workflow.lastReq.Version)
		})
	}
}

func TestApplicationHandlerAllowedTransitions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	workflow := &workflowServiceMock{allowed: &dto.AllowedTransitionsResponse{
		Current: models.StatusDraft,
		Allowed: []models.ApplicationStatus{models.StatusSubmitted, models.StatusWithdrawn},
		Version: 1,
	}}
	h := NewApplicationHandler(&applicationServiceMock{}, workflow)
	c, w := newGinContext(http.MethodGet, "/applications/app-1/transitions", nil)
	withUser(c, "applicant-1", models.RoleApplicant)

	h.AllowedTransitions(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":["submitted","withdrawn"]`)
}

func TestApplicationHandlerArchiveNeedsVersion(t *testing.T) {
	gin.SetMode(gin.TestMode)
	apps := &applicationServiceMock{}
	h := NewApplicationHandler(apps, &workflowServiceMock{})

	c, w := newGinContext(http.MethodDelete, "/applications/app-1", nil)
	withUser(c, "applicant-1", models.RoleApplicant)
	h.Archive(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, _ = newGinContext(http.MethodDelete, "/applications/app-1?version=4", nil)
	withUser(c, "applicant-1", models.RoleApplicant)
	h.Archive(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, 4, apps.archivedAt)
}
