package dms

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseWithStatus(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestClassifyResponse(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusServiceUnavailable, KindTransientNetwork},
		{http.StatusBadGateway, KindTransientNetwork},
		{http.StatusTooManyRequests, KindTransientNetwork},
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindAuthentication},
		{http.StatusBadRequest, KindRejected},
		{http.StatusConflict, KindRejected},
		{http.StatusRequestEntityTooLarge, KindRejected},
	}
	for _, tc := range cases {
		err := classifyResponse("sharepoint", "upload", responseWithStatus(tc.status, "nope"))
		assert.Equal(t, tc.kind, KindOf(err), "status %d", tc.status)
		assert.Equal(t, tc.kind == KindTransientNetwork, IsRetryable(err), "status %d", tc.status)
	}

	err := classifyResponse("filenet", "list", responseWithStatus(http.StatusNotFound, " missing repository \n"))
	var dmsErr *Error
	require.ErrorAs(t, err, &dmsErr)
	assert.Equal(t, "missing repository", dmsErr.Message)
	assert.Contains(t, err.Error(), "[filenet] list: status 404")
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("disk on fire")))
	assert.False(t, IsRetryable(nil))
}

func TestRetryStopsOnBudgetAndPermanentErrors(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	transient := &Error{Kind: KindTransientNetwork, StatusCode: 503}

	attempts, err := Retry(context.Background(), policy, func() error { return transient })
	assert.Equal(t, 3, attempts)
	assert.Equal(t, KindTransientNetwork, KindOf(err))

	rejected := &Error{Kind: KindRejected, StatusCode: 400}
	attempts, err = Retry(context.Background(), policy, func() error { return rejected })
	assert.Equal(t, 1, attempts)
	assert.Equal(t, KindRejected, KindOf(err))

	calls := 0
	attempts, err = Retry(context.Background(), policy, func() error {
		calls++
		if calls < 2 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
