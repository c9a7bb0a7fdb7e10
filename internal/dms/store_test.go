package dms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/pkg/config"
)

func testOptions(client *http.Client) Options {
	return Options{
		HTTPClient:  client,
		CallTimeout: 5 * time.Second,
		PageSize:    2,
		Retry:       RetryPolicy{Attempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
}

func sampleDocument() models.Document {
	return models.Document{
		ID:            "doc-1",
		ApplicationID: "app-1",
		FileName:      "passport.pdf",
		MimeType:      "application/pdf",
		DocumentType:  models.DocumentTypePassport,
	}
}

func TestNewStoreValidatesConfiguration(t *testing.T) {
	opts := Options{}
	_, err := NewStore(config.DMSSystemConfig{Name: "sp", Provider: "sharepoint", BaseURL: "http://x", TokenURL: "http://t", ClientID: "c", ClientSecret: "s"}, opts)
	assert.ErrorContains(t, err, "site and library")

	_, err = NewStore(config.DMSSystemConfig{Name: "sp", Provider: "sharepoint", BaseURL: "http://x", Site: "s", Library: "l"}, opts)
	assert.ErrorContains(t, err, "oauth2 requires")

	_, err = NewStore(config.DMSSystemConfig{Name: "fn", Provider: "filenet", BaseURL: "http://x", Repository: "OS1"}, opts)
	assert.ErrorContains(t, err, "api_key requires")

	_, err = NewStore(config.DMSSystemConfig{Name: "x", Provider: "alfresco", BaseURL: "http://x", APIKey: "k", Auth: "api_key"}, opts)
	assert.ErrorContains(t, err, "unsupported provider")

	_, err = NewStore(config.DMSSystemConfig{Name: "dc", Provider: "documentum", BaseURL: "http://x", Repository: "r", Auth: "kerberos"}, opts)
	assert.ErrorContains(t, err, "unsupported auth scheme")

	stores, err := NewStores([]config.DMSSystemConfig{
		{Name: "filenet", BaseURL: "http://x", Repository: "OS1", APIKey: "k"},
		{Name: "dctm", Provider: "documentum", BaseURL: "http://y", Repository: "r", Auth: "api_key", APIKey: "k"},
	}, opts)
	require.NoError(t, err)
	assert.Equal(t, ProviderFileNet, stores["filenet"].Provider())
	assert.Equal(t, ProviderDocumentum, stores["dctm"].Provider())
	assert.Equal(t, "dctm", stores["dctm"].System())
}

func TestSharePointUploadAndList(t *testing.T) {
	var uploaded []byte
	var fields map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, "sp-token", 3600)
	})
	mux.HandleFunc("/sites/portal/drives/Applications/root:/intake/app-1/doc-1-passport.pdf:/content", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Bearer sp-token", r.Header.Get("Authorization"))
		uploaded, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(spDriveItem{ID: "01ABC", WebURL: "https://sp/01ABC", ETag: "\"1\"", LastModifiedDateTime: "2026-02-01T10:00:00Z"})
	})
	mux.HandleFunc("/sites/portal/drives/Applications/items/01ABC/listItem/fields", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&fields)
		_ = json.NewEncoder(w).Encode(map[string]string{"PortalDocumentId": fields["PortalDocumentId"], "Modified": "2026-02-01T10:00:05Z"})
	})
	var server *httptest.Server
	mux.HandleFunc("/sites/portal/lists/Applications/items", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_ = json.NewEncoder(w).Encode(spListResponse{Value: []spListItem{
				{ID: "7", Fields: map[string]string{"FileLeafRef": "photo.jpg"}, DriveItem: spDriveItem{ID: "01DEF", Size: 10, LastModifiedDateTime: "2026-02-02T10:00:00Z"}},
			}})
			return
		}
		assert.Contains(t, r.URL.Query().Get("$filter"), "fields/Modified ge '2026-01-01T00:00:00Z'")
		_ = json.NewEncoder(w).Encode(spListResponse{
			Value: []spListItem{{
				ID:        "6",
				Fields:    map[string]string{"ApplicationId": "app-1", "DocumentType": "passport"},
				DriveItem: spDriveItem{ID: "01ABC", Name: "passport.pdf", Size: 4, File: &spFile{MimeType: "application/pdf"}, WebURL: "https://sp/01ABC", LastModifiedDateTime: "2026-02-01T10:00:00Z"},
			}},
			NextLink: server.URL + "/sites/portal/lists/Applications/items?page=2",
		})
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	store, err := NewStore(config.DMSSystemConfig{
		Name: "sharepoint", BaseURL: server.URL, TokenURL: server.URL + "/token", ClientID: "c", ClientSecret: "s",
		Site: "portal", Library: "Applications", Folder: "/intake/",
	}, testOptions(server.Client()))
	require.NoError(t, err)
	require.NoError(t, store.Authenticate(context.Background()))

	content := bytes.NewReader([]byte("%PDF"))
	_, _ = content.Seek(2, io.SeekStart)
	result, err := store.Upload(context.Background(), UploadRequest{Document: sampleDocument(), Content: content, Size: 4})
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(uploaded))
	assert.Equal(t, "01ABC", result.ExternalID)
	assert.Equal(t, "https://sp/01ABC", result.ExternalURL)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 5, 0, time.UTC), result.ModifiedAt)
	assert.Equal(t, "doc-1", fields["PortalDocumentId"])
	assert.Equal(t, "app-1", fields["ApplicationId"])

	it := store.ListChangedSince(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var docs []models.ExternalDocument
	for it.Next(context.Background()) {
		docs = append(docs, it.Document())
	}
	require.NoError(t, it.Err())
	require.Len(t, docs, 2)
	assert.Equal(t, "01ABC", docs[0].ExternalID)
	assert.Equal(t, "app-1", docs[0].ApplicationID)
	assert.Equal(t, models.DocumentTypePassport, docs[0].DocumentType)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), docs[0].ModifiedAt)
	assert.Equal(t, "photo.jpg", docs[1].FileName)
	assert.Empty(t, docs[1].ApplicationID)
}

func TestSharePointUploadAcceptsEmptyFieldResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, "sp-token", 3600)
	})
	mux.HandleFunc("/sites/portal/drives/Applications/root:/app-1/doc-1-passport.pdf:/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = json.NewEncoder(w).Encode(spDriveItem{ID: "01ABC", LastModifiedDateTime: "2026-02-01T10:00:00Z"})
	})
	mux.HandleFunc("/sites/portal/drives/Applications/items/01ABC/listItem/fields", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewStore(config.DMSSystemConfig{
		Name: "sharepoint", BaseURL: server.URL, TokenURL: server.URL + "/token", ClientID: "c", ClientSecret: "s",
		Site: "portal", Library: "Applications",
	}, testOptions(server.Client()))
	require.NoError(t, err)

	result, err := store.Upload(context.Background(), UploadRequest{Document: sampleDocument(), Content: strings.NewReader("%PDF"), Size: 4})
	require.NoError(t, err)
	assert.Equal(t, "01ABC", result.ExternalID)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), result.ModifiedAt)
}

func TestFileNetUploadCreatesAndVersions(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fn-key", r.Header.Get("X-FileNet-Key"))
		paths = append(paths, r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		var props map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("properties")), &props))
		assert.Equal(t, "app-1", props["ApplicationId"])
		file, header, err := r.FormFile("content")
		require.NoError(t, err)
		body, _ := io.ReadAll(file)
		assert.Equal(t, "passport.pdf", header.Filename)
		assert.Equal(t, "scan", string(body))
		_ = json.NewEncoder(w).Encode(fnDocument{ID: "{OBJ-2}", VersionSeriesID: "{VS-1}", MajorVersion: len(paths), URL: "https://fn/VS-1", DateLastModified: "2026-02-03T08:30:00Z"})
	}))
	defer server.Close()

	store, err := NewStore(config.DMSSystemConfig{
		Name: "filenet", BaseURL: server.URL, APIKey: "fn-key", APIKeyHeader: "X-FileNet-Key", Repository: "OS1",
	}, testOptions(server.Client()))
	require.NoError(t, err)

	doc := sampleDocument()
	result, err := store.Upload(context.Background(), UploadRequest{Document: doc, Content: strings.NewReader("scan"), Size: 4})
	require.NoError(t, err)
	assert.Equal(t, "{VS-1}", result.ExternalID)
	assert.Equal(t, time.Date(2026, 2, 3, 8, 30, 0, 0, time.UTC), result.ModifiedAt)

	doc.ExternalDMSID = &result.ExternalID
	_, err = store.Upload(context.Background(), UploadRequest{Document: doc, Content: strings.NewReader("scan"), Size: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"/repositories/OS1/documents", "/repositories/OS1/documents/{VS-1}/versions"}, paths)
}

func TestFileNetListPagesAndRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		page := r.URL.Query().Get("page")
		assert.Equal(t, "2", r.URL.Query().Get("pageSize"))
		switch page {
		case "1":
			_ = json.NewEncoder(w).Encode(fnListResponse{Documents: []fnDocument{
				{ID: "o1", VersionSeriesID: "vs1", Properties: map[string]string{"ApplicationId": "app-1", "DocumentTitle": "a.pdf"}},
				{ID: "o2", VersionSeriesID: "vs2"},
			}, HasMore: true})
		default:
			_ = json.NewEncoder(w).Encode(fnListResponse{Documents: []fnDocument{{ID: "o3"}}, HasMore: false})
		}
	}))
	defer server.Close()

	store, err := NewStore(config.DMSSystemConfig{Name: "filenet", BaseURL: server.URL, APIKey: "k", Repository: "OS1"}, testOptions(server.Client()))
	require.NoError(t, err)

	it := store.ListChangedSince(context.Background(), time.Time{})
	var ids []string
	for it.Next(context.Background()) {
		ids = append(ids, it.Document().ExternalID)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"vs1", "vs2", "o3"}, ids)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDocumentumUploadClassifiesFailures(t *testing.T) {
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if status != http.StatusCreated {
			w.WriteHeader(status)
			return
		}
		assert.Equal(t, "/repositories/REPO/folders/0b01/documents", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(dctmObject{
			Properties: map[string]interface{}{"r_object_id": "0901", "i_chronicle_id": "0900", "r_modify_date": "2026-03-01T09:00:00Z"},
			Links:      []dctmLink{{Rel: "self", Href: "https://dctm/objects/0901"}},
		})
	}))
	defer server.Close()

	store, err := NewStore(config.DMSSystemConfig{
		Name: "documentum", BaseURL: server.URL, Auth: "api_key", APIKey: "k", Repository: "REPO", Folder: "0b01",
	}, testOptions(server.Client()))
	require.NoError(t, err)

	req := UploadRequest{Document: sampleDocument(), Content: strings.NewReader("blob"), Size: 4}
	_, err = store.Upload(context.Background(), req)
	assert.Equal(t, KindTransientNetwork, KindOf(err))

	status = http.StatusUnprocessableEntity
	_, err = store.Upload(context.Background(), req)
	assert.Equal(t, KindRejected, KindOf(err))

	status = http.StatusForbidden
	_, err = store.Upload(context.Background(), req)
	assert.Equal(t, KindAuthentication, KindOf(err))

	status = http.StatusCreated
	result, err := store.Upload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "0900", result.ExternalID)
	assert.Equal(t, "https://dctm/objects/0901", result.ExternalURL)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), result.ModifiedAt)
}

func TestDocumentumListFollowsNextLinks(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_ = json.NewEncoder(w).Encode(dctmFeed{})
			return
		}
		assert.Equal(t, "true", r.URL.Query().Get("inline"))
		entry := dctmEntry{Content: dctmObject{Properties: map[string]interface{}{
			"r_object_id": "0901", "object_name": "visa.pdf", "r_content_size": float64(2048),
			"application_id": "app-7", "document_type": "correspondence", "r_modify_date": "2026-03-01T09:00:00Z",
		}}}
		_ = json.NewEncoder(w).Encode(dctmFeed{
			Entries: []dctmEntry{entry},
			Links:   []dctmLink{{Rel: "next", Href: fmt.Sprintf("%s/repositories/REPO/documents?page=2", server.URL)}},
		})
	}))
	defer server.Close()

	store, err := NewStore(config.DMSSystemConfig{Name: "documentum", BaseURL: server.URL, Auth: "api_key", APIKey: "k", Repository: "REPO"}, testOptions(server.Client()))
	require.NoError(t, err)

	it := store.ListChangedSince(context.Background(), time.Now())
	require.True(t, it.Next(context.Background()))
	doc := it.Document()
	assert.Equal(t, "0901", doc.ExternalID)
	assert.Equal(t, int64(2048), doc.FileSize)
	assert.Equal(t, "app-7", doc.ApplicationID)
	assert.False(t, it.Next(context.Background()))
	require.NoError(t, it.Err())
	assert.Equal(t, 2, it.Pages())
}
