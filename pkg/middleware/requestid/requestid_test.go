package requestid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewarePropagatesID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, Value(c)+"|"+FromContext(c.Request.Context()))
	})

	const given = "6c3f2b1a-9d8e-4f70-8a6b-5c4d3e2f1a0b"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerKey, given)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, given+"|"+given, rec.Body.String())
	assert.Equal(t, given, rec.Header().Get(headerKey))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerKey, "not-a-uuid")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	generated := rec.Header().Get(headerKey)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", generated)
}

func TestFromContextEmpty(t *testing.T) {
	assert.Equal(t, "", FromContext(context.Background()))
	assert.Equal(t, "job-1", FromContext(WithContext(context.Background(), "job-1")))
}
