package dms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.uber.org/zap"
)

// httpClient is the transport shared by every provider variant.
type httpClient struct {
	system      string
	baseURL     string
	http        *http.Client
	auth        Authenticator
	callTimeout time.Duration
	pageSize    int
	retry       RetryPolicy
	logger      *zap.Logger
}

// do sends req with credentials and a per-call timeout, decoding a 2xx JSON
// body into out. A 401 or 403 drops cached credentials.
func (c *httpClient) do(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error), out interface{}) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	req, err := build(ctx)
	if err != nil {
		return &Error{Kind: KindRejected, System: c.system, Op: op, Message: "build request", Err: err}
	}
	if err := c.auth.Apply(ctx, req); err != nil {
		if req.Body != nil {
			req.Body.Close() //nolint:errcheck
		}
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return networkError(c.system, op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := classifyResponse(c.system, op, resp)
		if KindOf(classified) == KindAuthentication {
			c.auth.Invalidate()
		}
		c.logger.Debug("dms call failed",
			zap.String("system", c.system),
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
		)
		return classified
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &Error{Kind: KindTransientNetwork, System: c.system, Op: op, Message: "decode response", Err: err}
	}
	return nil
}

// getJSON fetches a listing page with bounded retry on transient failures.
func (c *httpClient) getJSON(ctx context.Context, op, target string, out interface{}) error {
	_, err := Retry(ctx, c.retry, func() error {
		return c.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		}, out)
	})
	return err
}

// multipartBody streams a metadata part followed by the file content.
func multipartBody(metadata interface{}, metadataField, fileField, fileName, mimeType string, content io.Reader) (io.ReadCloser, string, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", fmt.Errorf("marshal metadata: %w", err)
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeParts(mw, meta, metadataField, fileField, fileName, mimeType, content)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType(), nil
}

func writeParts(mw *multipart.Writer, meta []byte, metadataField, fileField, fileName, mimeType string, content io.Reader) error {
	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, metadataField))
	metaHeader.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return err
	}
	if _, err := part.Write(meta); err != nil {
		return err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, escapeQuotes(fileName)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	fileHeader.Set("Content-Type", mimeType)
	filePart, err := mw.CreatePart(fileHeader)
	if err != nil {
		return err
	}
	_, err = io.Copy(filePart, content)
	return err
}

func escapeQuotes(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '"' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// latestTime returns the latest parseable timestamp among values.
func latestTime(values ...string) time.Time {
	var out time.Time
	for _, v := range values {
		if t := parseTime(v); t.After(out) {
			out = t
		}
	}
	return out
}

func parseTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
