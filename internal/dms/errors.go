package dms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindAuthentication   Kind = "AuthenticationError"
	KindTransientNetwork Kind = "TransientNetworkError"
	KindRejected         Kind = "RejectedError"
)

// Error is returned by every Store operation that reached, or tried to reach, a provider.
type Error struct {
	Kind       Kind
	System     string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.System != "" {
		b.WriteString(" [" + e.System + "]")
	}
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or an empty Kind when err did not
// originate from a provider.
func KindOf(err error) Kind {
	var dmsErr *Error
	if errors.As(err, &dmsErr) {
		return dmsErr.Kind
	}
	return ""
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientNetwork
}

func networkError(system, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransientNetwork, System: system, Op: op, Message: "cancelled", Err: err}
	}
	return &Error{Kind: KindTransientNetwork, System: system, Op: op, Err: err}
}

// classifyResponse maps a non-2xx response onto the failure taxonomy. The body
// is drained up to a small limit for the message.
func classifyResponse(system, op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	e := &Error{System: system, Op: op, StatusCode: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		e.Kind = KindTransientNetwork
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuthentication
	default:
		e.Kind = KindRejected
	}
	return e
}
