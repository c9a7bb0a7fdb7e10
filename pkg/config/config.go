package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Documents     DocumentsConfig
	Sync          SyncConfig
	Notifications NotificationsConfig
	DMS           []DMSSystemConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DocumentsConfig controls document storage, upload validation and signed downloads.
type DocumentsConfig struct {
	StorageDir       string
	ExportDir        string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// SyncConfig tunes the DMS reconciler and its scheduler.
type SyncConfig struct {
	SchedulerEnabled     bool
	Interval             time.Duration
	ScheduledAction      string
	Concurrency          int
	UploadAttempts       int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	LeaseTTL             time.Duration
	CallTimeout          time.Duration
	PageSize             int
	ConflictResolution   string
	StatusCacheTTL       time.Duration
	TokenExpirySkew      time.Duration
}

// NotificationsConfig configures the asynchronous notification fan-out.
type NotificationsConfig struct {
	Enabled      bool
	Workers      int
	BufferSize   int
	MaxRetries   int
	RedisChannel string
}

// DMSSystemConfig describes one external document management system.
type DMSSystemConfig struct {
	Name           string
	Provider       string
	BaseURL        string
	Auth           string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Scope          string
	APIKey         string
	APIKeyHeader   string
	PrivateKeyPath string
	KeyID          string
	Issuer         string
	Audience       string
	Site           string
	Library        string
	Repository     string
	Folder         string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxFileSize := v.GetInt64("DOCUMENTS_MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 100 * 1024 * 1024
	}
	cfg.Documents = DocumentsConfig{
		StorageDir:       v.GetString("DOCUMENTS_STORAGE_DIR"),
		ExportDir:        v.GetString("DOCUMENTS_EXPORT_DIR"),
		SignedURLSecret:  v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("DOCUMENTS_SIGNED_URL_TTL"), 15*time.Minute),
		MaxFileSizeBytes: maxFileSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("DOCUMENTS_ALLOWED_MIME_TYPES")),
	}

	cfg.Sync = SyncConfig{
		SchedulerEnabled:     v.GetBool("SYNC_SCHEDULER_ENABLED"),
		Interval:             parseDuration(v.GetString("SYNC_INTERVAL"), 15*time.Minute),
		ScheduledAction:      v.GetString("SYNC_SCHEDULED_ACTION"),
		Concurrency:          v.GetInt("SYNC_CONCURRENCY"),
		UploadAttempts:       v.GetInt("SYNC_UPLOAD_ATTEMPTS"),
		RetryInitialInterval: parseDuration(v.GetString("SYNC_RETRY_INITIAL_INTERVAL"), 500*time.Millisecond),
		RetryMaxInterval:     parseDuration(v.GetString("SYNC_RETRY_MAX_INTERVAL"), 10*time.Second),
		LeaseTTL:             parseDuration(v.GetString("SYNC_LEASE_TTL"), 30*time.Minute),
		CallTimeout:          parseDuration(v.GetString("SYNC_CALL_TIMEOUT"), 60*time.Second),
		PageSize:             v.GetInt("SYNC_PAGE_SIZE"),
		ConflictResolution:   v.GetString("SYNC_CONFLICT_RESOLUTION"),
		StatusCacheTTL:       parseDuration(v.GetString("SYNC_STATUS_CACHE_TTL"), 30*time.Second),
		TokenExpirySkew:      parseDuration(v.GetString("DMS_TOKEN_EXPIRY_SKEW"), 30*time.Second),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:      v.GetBool("NOTIFICATIONS_ENABLED"),
		Workers:      v.GetInt("NOTIFICATIONS_WORKERS"),
		BufferSize:   v.GetInt("NOTIFICATIONS_BUFFER_SIZE"),
		MaxRetries:   v.GetInt("NOTIFICATIONS_MAX_RETRIES"),
		RedisChannel: v.GetString("NOTIFICATIONS_REDIS_CHANNEL"),
	}

	systems, err := loadDMSSystems(v)
	if err != nil {
		return nil, err
	}
	cfg.DMS = systems

	return cfg, nil
}

// System returns the named DMS configuration.
func (c *Config) System(name string) (DMSSystemConfig, bool) {
	for _, sys := range c.DMS {
		if strings.EqualFold(sys.Name, name) {
			return sys, true
		}
	}
	return DMSSystemConfig{}, false
}

func loadDMSSystems(v *viper.Viper) ([]DMSSystemConfig, error) {
	names := splitAndTrim(v.GetString("DMS_SYSTEMS"))
	systems := make([]DMSSystemConfig, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.ToLower(name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("dms system %q configured twice", name)
		}
		seen[name] = struct{}{}

		prefix := "DMS_" + strings.ToUpper(name) + "_"
		get := func(key string) string { return strings.TrimSpace(v.GetString(prefix + key)) }

		sys := DMSSystemConfig{
			Name:           name,
			Provider:       strings.ToLower(get("PROVIDER")),
			BaseURL:        strings.TrimRight(get("BASE_URL"), "/"),
			Auth:           strings.ToLower(get("AUTH")),
			TokenURL:       get("TOKEN_URL"),
			ClientID:       get("CLIENT_ID"),
			ClientSecret:   get("CLIENT_SECRET"),
			Scope:          get("SCOPE"),
			APIKey:         get("API_KEY"),
			APIKeyHeader:   get("API_KEY_HEADER"),
			PrivateKeyPath: get("PRIVATE_KEY_PATH"),
			KeyID:          get("KEY_ID"),
			Issuer:         get("ISSUER"),
			Audience:       get("AUDIENCE"),
			Site:           get("SITE"),
			Library:        get("LIBRARY"),
			Repository:     get("REPOSITORY"),
			Folder:         get("FOLDER"),
		}
		if sys.Provider == "" {
			sys.Provider = name
		}
		if sys.BaseURL == "" {
			return nil, fmt.Errorf("dms system %q: %sBASE_URL is required", name, prefix)
		}
		systems = append(systems, sys)
	}
	return systems, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "immigration_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DOCUMENTS_STORAGE_DIR", "./documents")
	v.SetDefault("DOCUMENTS_EXPORT_DIR", "./exports")
	v.SetDefault("DOCUMENTS_SIGNED_URL_SECRET", "dev_documents_secret")
	v.SetDefault("DOCUMENTS_SIGNED_URL_TTL", "15m")
	v.SetDefault("DOCUMENTS_MAX_FILE_SIZE", 100*1024*1024)
	v.SetDefault("DOCUMENTS_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png,image/tiff,application/vnd.openxmlformats-officedocument.wordprocessingml.document")

	v.SetDefault("SYNC_SCHEDULER_ENABLED", false)
	v.SetDefault("SYNC_INTERVAL", "15m")
	v.SetDefault("SYNC_SCHEDULED_ACTION", "full_sync")
	v.SetDefault("SYNC_CONCURRENCY", 4)
	v.SetDefault("SYNC_UPLOAD_ATTEMPTS", 3)
	v.SetDefault("SYNC_RETRY_INITIAL_INTERVAL", "500ms")
	v.SetDefault("SYNC_RETRY_MAX_INTERVAL", "10s")
	v.SetDefault("SYNC_LEASE_TTL", "30m")
	v.SetDefault("SYNC_CALL_TIMEOUT", "60s")
	v.SetDefault("SYNC_PAGE_SIZE", 100)
	v.SetDefault("SYNC_CONFLICT_RESOLUTION", "local_wins")
	v.SetDefault("SYNC_STATUS_CACHE_TTL", "30s")
	v.SetDefault("DMS_TOKEN_EXPIRY_SKEW", "30s")
	v.SetDefault("DMS_SYSTEMS", "")

	v.SetDefault("NOTIFICATIONS_ENABLED", true)
	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_BUFFER_SIZE", 256)
	v.SetDefault("NOTIFICATIONS_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_REDIS_CHANNEL", "portal:notifications")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
