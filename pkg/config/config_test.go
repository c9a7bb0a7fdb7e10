package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DMS_SYSTEMS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, int64(100*1024*1024), cfg.Documents.MaxFileSizeBytes)
	assert.Equal(t, 3, cfg.Sync.UploadAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Sync.LeaseTTL)
	assert.Equal(t, "local_wins", cfg.Sync.ConflictResolution)
	assert.Empty(t, cfg.DMS)
}

func TestLoadDMSSystems(t *testing.T) {
	t.Setenv("DMS_SYSTEMS", "SharePoint, filenet")
	t.Setenv("DMS_SHAREPOINT_BASE_URL", "https://graph.example.test/v1.0/")
	t.Setenv("DMS_SHAREPOINT_AUTH", "OAuth2")
	t.Setenv("DMS_SHAREPOINT_CLIENT_ID", "portal")
	t.Setenv("DMS_SHAREPOINT_SITE", "site-1")
	t.Setenv("DMS_FILENET_PROVIDER", "filenet")
	t.Setenv("DMS_FILENET_BASE_URL", "https://filenet.example.test")
	t.Setenv("DMS_FILENET_AUTH", "api_key")
	t.Setenv("DMS_FILENET_API_KEY", "k-123")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.DMS, 2)

	sp, ok := cfg.System("sharepoint")
	require.True(t, ok)
	assert.Equal(t, "sharepoint", sp.Provider)
	assert.Equal(t, "oauth2", sp.Auth)
	assert.Equal(t, "https://graph.example.test/v1.0", sp.BaseURL)
	assert.Equal(t, "site-1", sp.Site)

	fn, ok := cfg.System("FILENET")
	require.True(t, ok)
	assert.Equal(t, "k-123", fn.APIKey)

	_, ok = cfg.System("documentum")
	assert.False(t, ok)
}

func TestLoadDMSSystemRequiresBaseURL(t *testing.T) {
	t.Setenv("DMS_SYSTEMS", "documentum")
	t.Setenv("DMS_DOCUMENTUM_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DMS_DOCUMENTUM_BASE_URL")
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
