package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/internal/service"
)

func TestMetricsHandlerSnapshotAndPrometheus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	started := time.Now().Add(-time.Second)
	report := models.NewSyncReport("sharepoint", models.SyncActionPush, started)
	report.Add(models.ItemResult{DocumentID: "doc-1", Direction: models.DirectionPush, Outcome: models.OutcomeFailed})
	report.FinishedAt = time.Now()
	metrics.ObserveSyncRun(report, nil)
	metrics.ObserveTransition(models.StatusDraft, models.StatusSubmitted)

	h := NewMetricsHandler(metrics)

	c, w := newGinContext(http.MethodGet, "/metrics/snapshot", nil)
	h.Snapshot(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"syncRuns":1`)
	assert.Contains(t, w.Body.String(), `"syncItemsFailed":1`)
	assert.Contains(t, w.Body.String(), `"statusTransitions":1`)

	c, w = newGinContext(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `dms_sync_items_total{outcome="failed",system="sharepoint"} 1`)
	assert.Contains(t, w.Body.String(), `application_status_transitions_total{from="draft",to="submitted"} 1`)
}

func TestMetricsHandlerHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, w := newGinContext(http.MethodGet, "/health", nil)
	NewMetricsHandler(nil).Health(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
