package dms

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Authenticator decorates outgoing provider requests with credentials.
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request) error
	// Invalidate drops any cached credential so the next Apply re-acquires it.
	Invalidate()
	Scheme() string
}

// Auth schemes accepted in configuration.
const (
	AuthOAuth2       = "oauth2"
	AuthAPIKey       = "api_key"
	AuthJWTAssertion = "jwt_assertion"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type fetchTokenFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// tokenCache holds one bearer token per provider configuration. Refreshes are
// collapsed so concurrent callers share a single in-flight acquisition.
type tokenCache struct {
	mu      sync.RWMutex
	token   string
	expires time.Time
	skew    time.Duration
	now     func() time.Time
	group   singleflight.Group
	fetch   fetchTokenFunc
}

func newTokenCache(skew time.Duration, fetch fetchTokenFunc) *tokenCache {
	if skew < 0 {
		skew = 0
	}
	return &tokenCache{skew: skew, now: time.Now, fetch: fetch}
}

func (c *tokenCache) get(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expires := c.token, c.expires
	c.mu.RUnlock()
	if token != "" && c.now().Add(c.skew).Before(expires) {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		c.mu.RLock()
		if c.token != "" && c.now().Add(c.skew).Before(c.expires) {
			t := c.token
			c.mu.RUnlock()
			return t, nil
		}
		c.mu.RUnlock()

		fresh, ttl, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = fresh
		c.expires = c.now().Add(ttl)
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

// requestToken posts a token grant and decodes the standard response.
func requestToken(ctx context.Context, client *http.Client, system, tokenURL string, form url.Values) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, &Error{Kind: KindAuthentication, System: system, Op: "token", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, networkError(system, "token", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := classifyResponse(system, "token", resp)
		var dmsErr *Error
		if errors.As(classified, &dmsErr) && dmsErr.Kind == KindRejected {
			dmsErr.Kind = KindAuthentication
		}
		return "", 0, classified
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, &Error{Kind: KindAuthentication, System: system, Op: "token", Message: "decode token response", Err: err}
	}
	if payload.AccessToken == "" {
		return "", 0, &Error{Kind: KindAuthentication, System: system, Op: "token", Message: "empty access token"}
	}
	ttl := time.Duration(payload.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return payload.AccessToken, ttl, nil
}

// OAuth2ClientCredentials acquires bearer tokens with the client credentials grant.
type OAuth2ClientCredentials struct {
	cache *tokenCache
}

// NewOAuth2ClientCredentials constructs the authenticator.
func NewOAuth2ClientCredentials(client *http.Client, system, tokenURL, clientID, clientSecret, scope string, skew time.Duration) *OAuth2ClientCredentials {
	fetch := func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", clientID)
		form.Set("client_secret", clientSecret)
		if scope != "" {
			form.Set("scope", scope)
		}
		return requestToken(ctx, client, system, tokenURL, form)
	}
	return &OAuth2ClientCredentials{cache: newTokenCache(skew, fetch)}
}

func (a *OAuth2ClientCredentials) Apply(ctx context.Context, req *http.Request) error {
	token, err := a.cache.get(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *OAuth2ClientCredentials) Invalidate() { a.cache.invalidate() }

func (a *OAuth2ClientCredentials) Scheme() string { return AuthOAuth2 }

// APIKeyAuth sends a static key in a header.
type APIKeyAuth struct {
	header string
	key    string
}

// NewAPIKeyAuth constructs the authenticator. The header defaults to X-API-Key.
func NewAPIKeyAuth(header, key string) *APIKeyAuth {
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKeyAuth{header: header, key: key}
}

func (a *APIKeyAuth) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set(a.header, a.key)
	return nil
}

func (a *APIKeyAuth) Invalidate() {}

func (a *APIKeyAuth) Scheme() string { return AuthAPIKey }

// JWTAssertion signs an RS256 client assertion and exchanges it for a bearer
// token using the jwt-bearer grant.
type JWTAssertion struct {
	cache    *tokenCache
	key      *rsa.PrivateKey
	keyID    string
	issuer   string
	audience string
	now      func() time.Time
}

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// NewJWTAssertion constructs the authenticator from a parsed private key.
func NewJWTAssertion(client *http.Client, system, tokenURL string, key *rsa.PrivateKey, keyID, issuer, audience, scope string, skew time.Duration) *JWTAssertion {
	if audience == "" {
		audience = tokenURL
	}
	a := &JWTAssertion{key: key, keyID: keyID, issuer: issuer, audience: audience, now: time.Now}
	a.cache = newTokenCache(skew, func(ctx context.Context) (string, time.Duration, error) {
		assertion, err := a.assertion()
		if err != nil {
			return "", 0, &Error{Kind: KindAuthentication, System: system, Op: "token", Message: "sign assertion", Err: err}
		}
		form := url.Values{}
		form.Set("grant_type", jwtBearerGrant)
		form.Set("assertion", assertion)
		if scope != "" {
			form.Set("scope", scope)
		}
		return requestToken(ctx, client, system, tokenURL, form)
	})
	return a
}

func (a *JWTAssertion) assertion() (string, error) {
	now := a.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   a.issuer,
		Audience:  jwt.ClaimStrings{a.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if a.keyID != "" {
		token.Header["kid"] = a.keyID
	}
	return token.SignedString(a.key)
}

func (a *JWTAssertion) Apply(ctx context.Context, req *http.Request) error {
	token, err := a.cache.get(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *JWTAssertion) Invalidate() { a.cache.invalidate() }

func (a *JWTAssertion) Scheme() string { return AuthJWTAssertion }

// LoadRSAPrivateKey reads a PEM encoded RSA key.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
