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

// DocumentumStore stores documents in a Documentum repository over the REST services.
type DocumentumStore struct {
	client     *httpClient
	repository string
	folder     string
}

type dctmLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type dctmObject struct {
	Properties map[string]interface{} `json:"properties"`
	Links      []dctmLink             `json:"links"`
}

type dctmEntry struct {
	ID      string     `json:"id"`
	Content dctmObject `json:"content"`
}

type dctmFeed struct {
	Entries []dctmEntry `json:"entries"`
	Links   []dctmLink  `json:"links"`
}

func (s *DocumentumStore) System() string   { return s.client.system }
func (s *DocumentumStore) Provider() string { return ProviderDocumentum }

func (s *DocumentumStore) Authenticate(ctx context.Context) error {
	return s.client.authenticate(ctx)
}

func (s *DocumentumStore) repoURL() string {
	return fmt.Sprintf("%s/repositories/%s", s.client.baseURL, url.PathEscape(s.repository))
}

// Upload imports a dm_document with content, or checks in a new version of
// an object that is already mapped.
func (s *DocumentumStore) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := rewind(req.Content); err != nil {
		return nil, err
	}
	doc := req.Document
	var target string
	switch {
	case doc.ExternalDMSID != nil && *doc.ExternalDMSID != "":
		target = fmt.Sprintf("%s/objects/%s/versions", s.repoURL(), url.PathEscape(*doc.ExternalDMSID))
	case s.folder != "":
		target = fmt.Sprintf("%s/folders/%s/documents", s.repoURL(), url.PathEscape(s.folder))
	default:
		target = s.repoURL() + "/documents"
	}
	metadata := dctmObject{Properties: map[string]interface{}{
		"r_object_type":      "dm_document",
		"object_name":        doc.FileName,
		"a_content_type":     doc.MimeType,
		"application_id":     doc.ApplicationID,
		"document_type":      string(doc.DocumentType),
		"portal_document_id": doc.ID,
	}}

	var created dctmObject
	err := s.client.do(ctx, "upload", func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := multipartBody(metadata, "metadata", "content", doc.FileName, doc.MimeType, req.Content)
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
	objectID := stringProp(created.Properties, "i_chronicle_id")
	if objectID == "" {
		objectID = stringProp(created.Properties, "r_object_id")
	}
	if objectID == "" {
		return nil, &Error{Kind: KindRejected, System: s.client.system, Op: "upload", Message: "response carried no object id"}
	}
	return &UploadResult{
		ExternalID:  objectID,
		ExternalURL: linkHref(created.Links, "self"),
		ModifiedAt:  parseTime(stringProp(created.Properties, "r_modify_date")),
		ProviderMetadata: metadataJSON(map[string]interface{}{
			"objectId":     stringProp(created.Properties, "r_object_id"),
			"versionLabel": created.Properties["r_version_label"],
			"modifiedAt":   stringProp(created.Properties, "r_modify_date"),
			"repository":   s.repository,
		}),
	}, nil
}

// ListChangedSince pages through the repository feed following next links.
func (s *DocumentumStore) ListChangedSince(_ context.Context, since time.Time) *Iterator {
	query := url.Values{}
	query.Set("inline", "true")
	query.Set("items-per-page", strconv.Itoa(s.client.pageSize))
	query.Set("filter", fmt.Sprintf("r_modify_date>=date('%s')", since.UTC().Format(time.RFC3339)))
	first := s.repoURL() + "/documents?" + query.Encode()

	return NewIterator(func(ctx context.Context, cursor string) (Page, error) {
		target := first
		if cursor != "" {
			target = cursor
		}
		var feed dctmFeed
		if err := s.client.getJSON(ctx, "list", target, &feed); err != nil {
			return Page{}, err
		}
		page := Page{Next: linkHref(feed.Links, "next"), Documents: make([]models.ExternalDocument, 0, len(feed.Entries))}
		for _, entry := range feed.Entries {
			page.Documents = append(page.Documents, s.describe(entry))
		}
		return page, nil
	})
}

func (s *DocumentumStore) describe(entry dctmEntry) models.ExternalDocument {
	props := entry.Content.Properties
	externalID := stringProp(props, "i_chronicle_id")
	if externalID == "" {
		externalID = stringProp(props, "r_object_id")
	}
	var size int64
	if v, ok := props["r_content_size"].(float64); ok {
		size = int64(v)
	}
	return models.ExternalDocument{
		ExternalID:    externalID,
		ApplicationID: stringProp(props, "application_id"),
		FileName:      stringProp(props, "object_name"),
		FileSize:      size,
		MimeType:      stringProp(props, "a_content_type"),
		DocumentType:  models.DocumentType(stringProp(props, "document_type")),
		URL:           linkHref(entry.Content.Links, "self"),
		ModifiedAt:    parseTime(stringProp(props, "r_modify_date")),
		Metadata: metadataJSON(map[string]interface{}{
			"objectId":     stringProp(props, "r_object_id"),
			"versionLabel": props["r_version_label"],
		}),
	}
}

func stringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func linkHref(links []dctmLink, rel string) string {
	for _, l := range links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}
