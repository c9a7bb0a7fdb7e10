package dms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

// FileNetStore stores documents in a FileNet object store over its REST API.
type FileNetStore struct {
	client     *httpClient
	repository string
	folder     string
}

type fnDocument struct {
	ID               string            `json:"id"`
	VersionSeriesID  string            `json:"versionSeriesId"`
	MajorVersion     int               `json:"majorVersion"`
	Name             string            `json:"name"`
	ContentSize      int64             `json:"contentSize"`
	MimeType         string            `json:"mimeType"`
	DateLastModified string            `json:"dateLastModified"`
	URL              string            `json:"url"`
	Properties       map[string]string `json:"properties"`
}

type fnListResponse struct {
	Documents []fnDocument `json:"documents"`
	Page      int          `json:"page"`
	HasMore   bool         `json:"hasMore"`
}

func (s *FileNetStore) System() string   { return s.client.system }
func (s *FileNetStore) Provider() string { return ProviderFileNet }

func (s *FileNetStore) Authenticate(ctx context.Context) error {
	return s.client.authenticate(ctx)
}

// Upload creates a document, or checks in a new version when the document is
// already mapped to a version series.
func (s *FileNetStore) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := rewind(req.Content); err != nil {
		return nil, err
	}
	doc := req.Document
	target := fmt.Sprintf("%s/repositories/%s/documents", s.client.baseURL, url.PathEscape(s.repository))
	if doc.ExternalDMSID != nil && *doc.ExternalDMSID != "" {
		target = fmt.Sprintf("%s/%s/versions", target, url.PathEscape(*doc.ExternalDMSID))
	}
	properties := map[string]string{
		"DocumentTitle":    doc.FileName,
		"ApplicationId":    doc.ApplicationID,
		"DocumentType":     string(doc.DocumentType),
		"PortalDocumentId": doc.ID,
	}
	if s.folder != "" {
		properties["FolderPath"] = s.folder
	}

	var created fnDocument
	err := s.client.do(ctx, "upload", func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := multipartBody(properties, "properties", "content", doc.FileName, doc.MimeType, req.Content)
		if err != nil {
			return nil, err
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
		if err != nil {
			body.Close() //nolint:errcheck
			return nil, err
		}
		r.Header.Set("Content-Type", contentType)
		return r, nil
	}, &created)
	if err != nil {
		return nil, err
	}
	externalID := created.VersionSeriesID
	if externalID == "" {
		externalID = created.ID
	}
	if externalID == "" {
		return nil, &Error{Kind: KindRejected, System: s.client.system, Op: "upload", Message: "response carried no document id"}
	}
	return &UploadResult{
		ExternalID:  externalID,
		ExternalURL: created.URL,
		ModifiedAt:  parseTime(created.DateLastModified),
		ProviderMetadata: metadataJSON(map[string]interface{}{
			"objectId":     created.ID,
			"majorVersion": created.MajorVersion,
			"repository":   s.repository,
		}),
	}, nil
}

// ListChangedSince pages by page number until the service reports no more results.
func (s *FileNetStore) ListChangedSince(_ context.Context, since time.Time) *Iterator {
	return NewIterator(func(ctx context.Context, cursor string) (Page, error) {
		pageNo := 1
		if cursor != "" {
			n, err := strconv.Atoi(cursor)
			if err != nil {
				return Page{}, &Error{Kind: KindRejected, System: s.client.system, Op: "list", Message: "bad page cursor", Err: err}
			}
			pageNo = n
		}
		query := url.Values{}
		query.Set("modifiedSince", since.UTC().Format(time.RFC3339))
		query.Set("pageSize", strconv.Itoa(s.client.pageSize))
		query.Set("page", strconv.Itoa(pageNo))
		target := fmt.Sprintf("%s/repositories/%s/documents?%s", s.client.baseURL, url.PathEscape(s.repository), query.Encode())

		var resp fnListResponse
		if err := s.client.getJSON(ctx, "list", target, &resp); err != nil {
			return Page{}, err
		}
		page := Page{Documents: make([]models.ExternalDocument, 0, len(resp.Documents))}
		for _, d := range resp.Documents {
			page.Documents = append(page.Documents, s.describe(d))
		}
		if resp.HasMore && len(resp.Documents) > 0 {
			page.Next = strconv.Itoa(pageNo + 1)
		}
		return page, nil
	})
}

func (s *FileNetStore) describe(d fnDocument) models.ExternalDocument {
	externalID := d.VersionSeriesID
	if externalID == "" {
		externalID = d.ID
	}
	name := d.Name
	if name == "" {
		name = d.Properties["DocumentTitle"]
	}
	return models.ExternalDocument{
		ExternalID:    externalID,
		ApplicationID: d.Properties["ApplicationId"],
		FileName:      name,
		FileSize:      d.ContentSize,
		MimeType:      d.MimeType,
		DocumentType:  models.DocumentType(d.Properties["DocumentType"]),
		URL:           d.URL,
		ModifiedAt:    parseTime(d.DateLastModified),
		Metadata: metadataJSON(map[string]interface{}{
			"objectId":     d.ID,
			"majorVersion": d.MajorVersion,
		}),
	}
}
