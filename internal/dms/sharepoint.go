package dms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

// SharePointStore stores documents in a SharePoint document library through
// the Graph drive API.
type SharePointStore struct {
	client  *httpClient
	site    string
	library string
	folder  string
}

type spFile struct {
	MimeType string `json:"mimeType"`
}

type spDriveItem struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	WebURL               string  `json:"webUrl"`
	ETag                 string  `json:"eTag"`
	Size                 int64   `json:"size"`
	LastModifiedDateTime string  `json:"lastModifiedDateTime"`
	File                 *spFile `json:"file,omitempty"`
}

// spFieldValues is the field set returned after a list item update.
type spFieldValues struct {
	Modified string `json:"Modified"`
}

type spListItem struct {
	ID                   string            `json:"id"`
	WebURL               string            `json:"webUrl"`
	LastModifiedDateTime string            `json:"lastModifiedDateTime"`
	Fields               map[string]string `json:"fields"`
	DriveItem            spDriveItem       `json:"driveItem"`
}

type spListResponse struct {
	Value    []spListItem `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

func (s *SharePointStore) System() string   { return s.client.system }
func (s *SharePointStore) Provider() string { return ProviderSharePoint }

func (s *SharePointStore) Authenticate(ctx context.Context) error {
	return s.client.authenticate(ctx)
}

func (s *SharePointStore) itemPath(doc models.Document) string {
	segments := []string{}
	if s.folder != "" {
		segments = append(segments, strings.Trim(s.folder, "/"))
	}
	segments = append(segments, doc.ApplicationID, doc.ID+"-"+doc.FileName)
	escaped := make([]string, 0, len(segments))
	for _, seg := range strings.Split(path.Join(segments...), "/") {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return strings.Join(escaped, "/")
}

// Upload writes the content by path, which replaces any earlier upload of the
// same document, then stamps the portal identifiers on the list item.
func (s *SharePointStore) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := rewind(req.Content); err != nil {
		return nil, err
	}
	target := fmt.Sprintf("%s/sites/%s/drives/%s/root:/%s:/content",
		s.client.baseURL, url.PathEscape(s.site), url.PathEscape(s.library), s.itemPath(req.Document))

	var item spDriveItem
	err := s.client.do(ctx, "upload", func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPut, target, io.NopCloser(req.Content))
		if err != nil {
			return nil, err
		}
		r.ContentLength = req.Size
		contentType := req.Document.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		r.Header.Set("Content-Type", contentType)
		return r, nil
	}, &item)
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, &Error{Kind: KindRejected, System: s.client.system, Op: "upload", Message: "response carried no item id"}
	}

	fields := map[string]string{
		"ApplicationId":    req.Document.ApplicationID,
		"DocumentType":     string(req.Document.DocumentType),
		"PortalDocumentId": req.Document.ID,
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal sharepoint fields: %w", err)
	}
	var stamped spFieldValues
	fieldsURL := fmt.Sprintf("%s/sites/%s/drives/%s/items/%s/listItem/fields",
		s.client.baseURL, url.PathEscape(s.site), url.PathEscape(s.library), url.PathEscape(item.ID))
	err = s.client.do(ctx, "update fields", func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPatch, fieldsURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}, &stamped)
	if err != nil {
		return nil, err
	}

	return &UploadResult{
		ExternalID:  item.ID,
		ExternalURL: item.WebURL,
		ModifiedAt:  latestTime(item.LastModifiedDateTime, stamped.Modified),
		ProviderMetadata: metadataJSON(map[string]interface{}{
			"eTag":         item.ETag,
			"lastModified": item.LastModifiedDateTime,
			"site":         s.site,
			"library":      s.library,
		}),
	}, nil
}

// ListChangedSince pages through list items modified at or after since,
// following the service's next links.
func (s *SharePointStore) ListChangedSince(_ context.Context, since time.Time) *Iterator {
	query := url.Values{}
	query.Set("$expand", "driveItem,fields")
	query.Set("$filter", fmt.Sprintf("fields/Modified ge '%s'", since.UTC().Format(time.RFC3339)))
	query.Set("$top", fmt.Sprintf("%d", s.client.pageSize))
	first := fmt.Sprintf("%s/sites/%s/lists/%s/items?%s",
		s.client.baseURL, url.PathEscape(s.site), url.PathEscape(s.library), query.Encode())

	return NewIterator(func(ctx context.Context, cursor string) (Page, error) {
		target := first
		if cursor != "" {
			target = cursor
		}
		var resp spListResponse
		if err := s.client.getJSON(ctx, "list", target, &resp); err != nil {
			return Page{}, err
		}
		page := Page{Next: resp.NextLink, Documents: make([]models.ExternalDocument, 0, len(resp.Value))}
		for _, item := range resp.Value {
			page.Documents = append(page.Documents, s.describe(item))
		}
		return page, nil
	})
}

func (s *SharePointStore) describe(item spListItem) models.ExternalDocument {
	externalID := item.DriveItem.ID
	if externalID == "" {
		externalID = item.ID
	}
	name := item.DriveItem.Name
	if name == "" {
		name = item.Fields["FileLeafRef"]
	}
	mimeType := ""
	if item.DriveItem.File != nil {
		mimeType = item.DriveItem.File.MimeType
	}
	webURL := item.DriveItem.WebURL
	if webURL == "" {
		webURL = item.WebURL
	}
	modified := item.DriveItem.LastModifiedDateTime
	if modified == "" {
		modified = item.LastModifiedDateTime
	}
	return models.ExternalDocument{
		ExternalID:    externalID,
		ApplicationID: item.Fields["ApplicationId"],
		FileName:      name,
		FileSize:      item.DriveItem.Size,
		MimeType:      mimeType,
		DocumentType:  models.DocumentType(item.Fields["DocumentType"]),
		URL:           webURL,
		ModifiedAt:    parseTime(modified),
		Metadata: metadataJSON(map[string]interface{}{
			"eTag":       item.DriveItem.ETag,
			"listItemId": item.ID,
		}),
	}
}
