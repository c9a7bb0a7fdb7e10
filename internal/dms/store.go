package dms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/pkg/config"
)

// Provider names accepted in configuration.
const (
	ProviderSharePoint = "sharepoint"
	ProviderFileNet    = "filenet"
	ProviderDocumentum = "documentum"
)

// UploadRequest carries one local document and its content. Content is
// rewound before every attempt.
type UploadRequest struct {
	Document models.Document
	Content  io.ReadSeeker
	Size     int64
}

// UploadResult is what the provider reports for a stored document.
type UploadResult struct {
	ExternalID       string
	ExternalURL      string
	ProviderMetadata json.RawMessage
	// ModifiedAt is the remote last-modified time after the upload, zero when
	// the provider did not report one.
	ModifiedAt time.Time
}

// Store is one configured external document management system.
type Store interface {
	System() string
	Provider() string
	// Authenticate acquires credentials up front so that a run which cannot
	// reach the provider at all fails before any item is attempted.
	Authenticate(ctx context.Context) error
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
	ListChangedSince(ctx context.Context, since time.Time) *Iterator
}

// Options are shared by every store built from configuration.
type Options struct {
	HTTPClient      *http.Client
	CallTimeout     time.Duration
	PageSize        int
	TokenExpirySkew time.Duration
	Retry           RetryPolicy
	Logger          *zap.Logger
}

// NewStore selects the provider variant and auth scheme for one system.
func NewStore(cfg config.DMSSystemConfig, opts Options) (Store, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = strings.ToLower(cfg.Name)
	}

	auth, err := newAuthenticator(cfg, provider, opts)
	if err != nil {
		return nil, err
	}
	client := &httpClient{
		system:      cfg.Name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        opts.HTTPClient,
		auth:        auth,
		callTimeout: opts.CallTimeout,
		pageSize:    opts.PageSize,
		retry:       opts.Retry,
		logger:      opts.Logger.With(zap.String("system", cfg.Name), zap.String("provider", provider)),
	}

	switch provider {
	case ProviderSharePoint:
		if cfg.Site == "" || cfg.Library == "" {
			return nil, fmt.Errorf("dms system %q: sharepoint requires site and library", cfg.Name)
		}
		return &SharePointStore{client: client, site: cfg.Site, library: cfg.Library, folder: cfg.Folder}, nil
	case ProviderFileNet:
		if cfg.Repository == "" {
			return nil, fmt.Errorf("dms system %q: filenet requires a repository", cfg.Name)
		}
		return &FileNetStore{client: client, repository: cfg.Repository, folder: cfg.Folder}, nil
	case ProviderDocumentum:
		if cfg.Repository == "" {
			return nil, fmt.Errorf("dms system %q: documentum requires a repository", cfg.Name)
		}
		return &DocumentumStore{client: client, repository: cfg.Repository, folder: cfg.Folder}, nil
	default:
		return nil, fmt.Errorf("dms system %q: unsupported provider %q", cfg.Name, provider)
	}
}

// NewStores builds every configured system keyed by name.
func NewStores(systems []config.DMSSystemConfig, opts Options) (map[string]Store, error) {
	stores := make(map[string]Store, len(systems))
	for _, sys := range systems {
		store, err := NewStore(sys, opts)
		if err != nil {
			return nil, err
		}
		stores[sys.Name] = store
	}
	return stores, nil
}

func defaultAuthFor(provider string) string {
	switch provider {
	case ProviderSharePoint:
		return AuthOAuth2
	case ProviderDocumentum:
		return AuthJWTAssertion
	default:
		return AuthAPIKey
	}
}

func newAuthenticator(cfg config.DMSSystemConfig, provider string, opts Options) (Authenticator, error) {
	scheme := cfg.Auth
	if scheme == "" {
		scheme = defaultAuthFor(provider)
	}
	switch scheme {
	case AuthOAuth2:
		if cfg.TokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("dms system %q: oauth2 requires token url, client id and client secret", cfg.Name)
		}
		return NewOAuth2ClientCredentials(opts.HTTPClient, cfg.Name, cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scope, opts.TokenExpirySkew), nil
	case AuthAPIKey:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("dms system %q: api_key requires a key", cfg.Name)
		}
		return NewAPIKeyAuth(cfg.APIKeyHeader, cfg.APIKey), nil
	case AuthJWTAssertion:
		if cfg.TokenURL == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("dms system %q: jwt_assertion requires token url and private key path", cfg.Name)
		}
		key, err := LoadRSAPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("dms system %q: %w", cfg.Name, err)
		}
		issuer := cfg.Issuer
		if issuer == "" {
			issuer = cfg.ClientID
		}
		return NewJWTAssertion(opts.HTTPClient, cfg.Name, cfg.TokenURL, key, cfg.KeyID, issuer, cfg.Audience, cfg.Scope, opts.TokenExpirySkew), nil
	default:
		return nil, fmt.Errorf("dms system %q: unsupported auth scheme %q", cfg.Name, scheme)
	}
}

// authenticate warms the credential cache. API keys need no exchange.
func (c *httpClient) authenticate(ctx context.Context) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	probe, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return &Error{Kind: KindAuthentication, System: c.system, Op: "authenticate", Err: err}
	}
	_, err = Retry(ctx, c.retry, func() error { return c.auth.Apply(ctx, probe) })
	return err
}

func rewind(content io.ReadSeeker) error {
	if content == nil {
		return fmt.Errorf("upload content is required")
	}
	_, err := content.Seek(0, io.SeekStart)
	return err
}

func metadataJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
