package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// DDALAB Go Backend - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	JobQueue   JobQueueConfig   `yaml:"job_queue"`
	Jobs       JobsConfig       `yaml:"jobs"`
	DDA        DDAConfig        `yaml:"dda"`
	Streaming  StreamingConfig  `yaml:"streaming"`
	Overview   OverviewConfig   `yaml:"overview"`
	Session    SessionConfig    `yaml:"session"`
	Federation FederationConfig `yaml:"federation"`
	SyncBroker SyncBrokerConfig `yaml:"sync_broker"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// DatabaseConfig holds the Postgres DSN backing the federation store and the
// sync broker's share store.
type DatabaseConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// JobQueueConfig tunes the DDA job dispatcher.
type JobQueueConfig struct {
	MaxConcurrentJobs    int `yaml:"max_concurrent_jobs"`
	NotificationCapacity int `yaml:"notification_capacity"`

	// Optional external submission ingress via Cloud Pub/Sub, alongside the
	// REST upload/submit-server-file handlers.
	PubSubEnabled        bool   `yaml:"pubsub_enabled"`
	PubSubProjectID      string `yaml:"pubsub_project_id"`
	PubSubSubscriptionID string `yaml:"pubsub_subscription_id"`
}

// JobsConfig configures the REST upload/submission surface.
type JobsConfig struct {
	UploadDirectory    string `yaml:"upload_directory"`
	ServerFilesDir     string `yaml:"server_files_directory"`
	MaxUploadSizeBytes int64  `yaml:"max_upload_size_bytes"`
}

// DDAConfig locates the external DDA analysis binary.
type DDAConfig struct {
	BinaryPath string `yaml:"binary_path"`
}

// StreamingConfig tunes ring-buffer capacity and overflow behavior for
// real-time stream sources.
type StreamingConfig struct {
	BufferCapacity   int    `yaml:"buffer_capacity"`
	OverflowStrategy string `yaml:"overflow_strategy"` // drop_oldest | drop_newest | block
}

// OverviewConfig locates the SQLite progressive-overview cache.
type OverviewConfig struct {
	CachePath     string `yaml:"cache_path"`
	DefaultMaxPts int    `yaml:"default_max_points"`
}

// SessionConfig tunes session TTL and the auth rate limiter.
type SessionConfig struct {
	TimeoutSeconds         int64 `yaml:"timeout_seconds"`
	RateLimitMaxAttempts   int   `yaml:"rate_limit_max_attempts"`
	RateLimitWindowSeconds int64 `yaml:"rate_limit_window_seconds"`
}

// FederationConfig identifies this institution in the bilateral trust graph.
type FederationConfig struct {
	InstitutionID   string `yaml:"institution_id"`
	InstitutionName string `yaml:"institution_name"`

	// Optional SPIFFE/SPIRE peer verification for invite acceptance. Left
	// blank, AcceptInvite falls back to trusting the caller-supplied
	// institution id, same as the original handler.
	SpiffeSocketPath string `yaml:"spiffe_socket_path"`
	TrustDomain      string `yaml:"trust_domain"`
}

// SyncBrokerConfig tunes the WebSocket sync broker's identity and auth.
type SyncBrokerConfig struct {
	ServerVersion string `yaml:"server_version"`
	PasswordHash  string `yaml:"password_hash"`
	RequireAuth   bool   `yaml:"require_auth"`
	MaxClients    int    `yaml:"max_clients"`
}

// RedisConfig backs the job queue's optional cross-process progress mirror.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

type MonitoringConfig struct {
	EnablePrometheus bool `yaml:"enable_prometheus"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from YAML file
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// Server
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("DDALAB_ENV", c.Server.Env)
	c.Server.Interface = getEnv("DDALAB_INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	// Database
	c.Database.PostgresDSN = getEnv("DATABASE_URL", c.Database.PostgresDSN)

	// Job queue
	if v := getEnvInt("JOB_QUEUE_MAX_CONCURRENT", 0); v > 0 {
		c.JobQueue.MaxConcurrentJobs = v
	}
	if v := getEnvInt("JOB_QUEUE_NOTIFICATION_CAPACITY", 0); v > 0 {
		c.JobQueue.NotificationCapacity = v
	}
	c.JobQueue.PubSubEnabled = getEnvBool("JOB_QUEUE_PUBSUB_ENABLED", c.JobQueue.PubSubEnabled)
	c.JobQueue.PubSubProjectID = getEnv("JOB_QUEUE_PUBSUB_PROJECT_ID", c.JobQueue.PubSubProjectID)
	c.JobQueue.PubSubSubscriptionID = getEnv("JOB_QUEUE_PUBSUB_SUBSCRIPTION_ID", c.JobQueue.PubSubSubscriptionID)

	// Jobs/uploads
	c.Jobs.UploadDirectory = getEnv("UPLOAD_DIRECTORY", c.Jobs.UploadDirectory)
	c.Jobs.ServerFilesDir = getEnv("SERVER_FILES_DIRECTORY", c.Jobs.ServerFilesDir)
	if v := getEnvInt64("MAX_UPLOAD_SIZE_BYTES", 0); v > 0 {
		c.Jobs.MaxUploadSizeBytes = v
	}

	// DDA binary
	c.DDA.BinaryPath = getEnv("DDA_BINARY_PATH", c.DDA.BinaryPath)

	// Streaming
	if v := getEnvInt("STREAMING_BUFFER_CAPACITY", 0); v > 0 {
		c.Streaming.BufferCapacity = v
	}
	c.Streaming.OverflowStrategy = getEnv("STREAMING_OVERFLOW_STRATEGY", c.Streaming.OverflowStrategy)

	// Overview cache
	c.Overview.CachePath = getEnv("OVERVIEW_CACHE_PATH", c.Overview.CachePath)
	if v := getEnvInt("OVERVIEW_DEFAULT_MAX_POINTS", 0); v > 0 {
		c.Overview.DefaultMaxPts = v
	}

	// Session
	if v := getEnvInt64("SESSION_TIMEOUT_SECONDS", 0); v > 0 {
		c.Session.TimeoutSeconds = v
	}
	if v := getEnvInt("SESSION_RATE_LIMIT_MAX_ATTEMPTS", 0); v > 0 {
		c.Session.RateLimitMaxAttempts = v
	}
	if v := getEnvInt64("SESSION_RATE_LIMIT_WINDOW_SECONDS", 0); v > 0 {
		c.Session.RateLimitWindowSeconds = v
	}

	// Federation
	c.Federation.InstitutionID = getEnv("DDALAB_INSTITUTION_ID", c.Federation.InstitutionID)
	c.Federation.InstitutionName = getEnv("DDALAB_INSTITUTION_NAME", c.Federation.InstitutionName)
	c.Federation.SpiffeSocketPath = getEnv("FEDERATION_SPIFFE_SOCKET_PATH", c.Federation.SpiffeSocketPath)
	c.Federation.TrustDomain = getEnv("FEDERATION_TRUST_DOMAIN", c.Federation.TrustDomain)

	// Sync broker
	c.SyncBroker.ServerVersion = getEnv("SYNC_SERVER_VERSION", c.SyncBroker.ServerVersion)
	c.SyncBroker.PasswordHash = getEnv("SYNC_PASSWORD_HASH", c.SyncBroker.PasswordHash)
	c.SyncBroker.RequireAuth = getEnvBool("SYNC_REQUIRE_AUTH", c.SyncBroker.RequireAuth)
	if v := getEnvInt("SYNC_MAX_CLIENTS", 0); v > 0 {
		c.SyncBroker.MaxClients = v
	}

	// Redis
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)

	// Monitoring
	c.Monitoring.EnablePrometheus = getEnvBool("ENABLE_PROMETHEUS", c.Monitoring.EnablePrometheus)

	// Apply defaults for zero values
	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.JobQueue.MaxConcurrentJobs == 0 {
		c.JobQueue.MaxConcurrentJobs = 2
	}
	if c.JobQueue.NotificationCapacity == 0 {
		c.JobQueue.NotificationCapacity = 1000
	}
	if c.Jobs.UploadDirectory == "" {
		c.Jobs.UploadDirectory = "./uploads"
	}
	if c.Jobs.MaxUploadSizeBytes == 0 {
		c.Jobs.MaxUploadSizeBytes = 500 * 1024 * 1024 // 500MB
	}
	if c.DDA.BinaryPath == "" {
		c.DDA.BinaryPath = "./bin/run_DDA_ASCII"
	}
	if c.Streaming.BufferCapacity == 0 {
		c.Streaming.BufferCapacity = 1024
	}
	if c.Streaming.OverflowStrategy == "" {
		c.Streaming.OverflowStrategy = "drop_oldest"
	}
	if c.Overview.CachePath == "" {
		c.Overview.CachePath = "./overview_cache.db"
	}
	if c.Overview.DefaultMaxPts == 0 {
		c.Overview.DefaultMaxPts = 2000
	}
	if c.Session.TimeoutSeconds == 0 {
		c.Session.TimeoutSeconds = 3600
	}
	if c.Session.RateLimitMaxAttempts == 0 {
		c.Session.RateLimitMaxAttempts = 10
	}
	if c.Session.RateLimitWindowSeconds == 0 {
		c.Session.RateLimitWindowSeconds = 60
	}
	if c.Federation.InstitutionID == "" {
		c.Federation.InstitutionID = "ddalab-local"
	}
	if c.SyncBroker.ServerVersion == "" {
		c.SyncBroker.ServerVersion = "1.0.0"
	}
	if c.SyncBroker.MaxClients == 0 {
		c.SyncBroker.MaxClients = 100
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
