package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ACCESSGATE_"

// Backends for the rate limiter and the permission cache.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server          ServerConfig
	Database        DatabaseConfig
	Redis           RedisConfig
	Auth            AuthConfig
	Emulation       EmulationConfig
	RateLimit       RateLimitConfig
	PermissionCache PermissionCacheConfig
	Breaker         BreakerConfig
	Audit           AuditConfig
	Observability   ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// SecureCookies sets the Secure flag on session, CSRF and emulation
	// cookies. Disable only for local development over plain HTTP.
	SecureCookies bool

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// Addr is the API listen address.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// HealthAddr is the health and metrics listen address.
func (s ServerConfig) HealthAddr() string { return s.Host + ":" + s.HealthPort }

// DatabaseConfig configures the PostgreSQL pool. An empty URL runs without
// a database: permissions come from the static table and audit events go
// to the log only.
type DatabaseConfig struct {
	URL            string
	ReplicaURLs    []string
	MaxConns       int
	MinConns       int
	ConnectTimeout time.Duration
	MaxLifetime    time.Duration
	MaxIdleTime    time.Duration
}

// Enabled reports whether a database URL is configured.
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

// RedisConfig configures the optional redis client.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// Enabled reports whether a redis URL is configured.
func (r RedisConfig) Enabled() bool { return r.URL != "" }

// AuthConfig configures session token verification and CSRF.
type AuthConfig struct {
	SessionSecret string
	Issuer        string
	Leeway        time.Duration
	CSRFSecret    string
	CSRFTokenTTL  time.Duration

	// OIDCIssuer switches session verification from the shared secret to
	// an OpenID Connect provider. OIDCClientID is the expected audience.
	OIDCIssuer    string
	OIDCClientID  string
	OIDCRoleClaim string
}

// OIDCEnabled reports whether sessions are verified against an OIDC issuer.
func (a AuthConfig) OIDCEnabled() bool { return a.OIDCIssuer != "" }

// EmulationConfig configures the signed emulation cookie.
type EmulationConfig struct {
	Secret string
	TTL    time.Duration
}

// RateLimitConfig selects the limiter backend and the admin preset.
type RateLimitConfig struct {
	Backend       string
	RedisPrefix   string
	AdminWindow   time.Duration
	AdminMax      int
	SweepInterval time.Duration
}

// PermissionCacheConfig configures role permission caching.
type PermissionCacheConfig struct {
	Backend       string
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration

	// PermissionsFile is an optional YAML role table used when no database
	// is configured.
	PermissionsFile string

	// WatchFile reloads PermissionsFile on change and clears the cache.
	WatchFile bool
}

// BreakerConfig configures the database circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	QueryTimeout     time.Duration
}

// AuditConfig configures audit retention.
type AuditConfig struct {
	RetentionDays   int
	CleanupSchedule string

	// Archive uploads expired events to S3 before retention deletes them.
	Archive ArchiveConfig
}

// ArchiveConfig configures the S3 audit archive. Empty keys use the default
// AWS credential chain; Endpoint and UsePathStyle are for MinIO.
type ArchiveConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Enabled reports whether an archive bucket is configured.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// Load reads .env from the working directory (if present), then builds and
// validates Config from the environment. Environment variables override the
// file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(envFile string) (*Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server:          loadServerConfig(v),
		Database:        loadDatabaseConfig(v),
		Redis:           loadRedisConfig(v),
		Auth:            loadAuthConfig(v),
		Emulation:       loadEmulationConfig(v),
		RateLimit:       loadRateLimitConfig(v),
		PermissionCache: loadPermissionCacheConfig(v),
		Breaker:         loadBreakerConfig(v),
		Audit:           loadAuditConfig(v),
		Observability:   loadObservabilityConfig(v),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func key(name string) string { return EnvPrefix + name }

func setDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		"HOST":             "0.0.0.0",
		"PORT":             "8080",
		"HEALTH_PORT":      "9090",
		"READ_TIMEOUT":     "15s",
		"WRITE_TIMEOUT":    "15s",
		"IDLE_TIMEOUT":     "60s",
		"SHUTDOWN_TIMEOUT": "30s",
		"MAX_BODY_BYTES":   1 << 20,
		"SECURE_COOKIES":   true,

		"DB_MAX_CONNS":       20,
		"DB_MIN_CONNS":       2,
		"DB_CONNECT_TIMEOUT": "10s",
		"DB_MAX_LIFETIME":    "30m",
		"DB_MAX_IDLE_TIME":   "5m",

		"REDIS_DB":          0,
		"REDIS_POOL_SIZE":   10,
		"REDIS_MAX_RETRIES": 3,

		"SESSION_ISSUER":  "accessgate",
		"SESSION_LEEWAY":  "30s",
		"OIDC_ROLE_CLAIM": "user_role",
		"CSRF_TOKEN_TTL":  "1h",

		"EMULATION_TTL": "4h",

		"RATE_LIMIT_BACKEND":        BackendMemory,
		"RATE_LIMIT_REDIS_PREFIX":   "accessgate:rl",
		"RATE_LIMIT_ADMIN_WINDOW":   "1m",
		"RATE_LIMIT_ADMIN_MAX":      30,
		"RATE_LIMIT_SWEEP_INTERVAL": "1m",

		"PERMISSION_CACHE_BACKEND":        BackendMemory,
		"PERMISSION_CACHE_TTL":            "5m",
		"PERMISSION_CACHE_MAX_ENTRIES":    256,
		"PERMISSION_CACHE_SWEEP_INTERVAL": "1m",

		"BREAKER_FAILURE_THRESHOLD": 5,
		"BREAKER_COOLDOWN":          "60s",
		"BREAKER_QUERY_TIMEOUT":     "5s",

		"AUDIT_RETENTION_DAYS":   90,
		"AUDIT_CLEANUP_SCHEDULE": "@daily",
		"AUDIT_ARCHIVE_PREFIX":   "audit/",
		"AUDIT_ARCHIVE_REGION":   "us-east-1",

		"LOG_LEVEL":            "info",
		"LOG_FORMAT":           "json",
		"METRICS_ENABLED":      true,
		"OTEL_ENABLED":         false,
		"OTEL_ENDPOINT":        "localhost:4317",
		"OTEL_SERVICE_NAME":    "accessgate",
		"OTEL_SERVICE_VERSION": "1.0.0",
		"OTEL_INSECURE":        true,
		"OTEL_SAMPLE_RATIO":    1.0,
	}
	for name, value := range defaults {
		v.SetDefault(key(name), value)
	}
}

func loadServerConfig(v *viper.Viper) ServerConfig {
	return ServerConfig{
		Host:            v.GetString(key("HOST")),
		Port:            v.GetString(key("PORT")),
		ReadTimeout:     v.GetDuration(key("READ_TIMEOUT")),
		WriteTimeout:    v.GetDuration(key("WRITE_TIMEOUT")),
		IdleTimeout:     v.GetDuration(key("IDLE_TIMEOUT")),
		ShutdownTimeout: v.GetDuration(key("SHUTDOWN_TIMEOUT")),
		MaxBodyBytes:    v.GetInt64(key("MAX_BODY_BYTES")),
		SecureCookies:   v.GetBool(key("SECURE_COOKIES")),
		HealthPort:      v.GetString(key("HEALTH_PORT")),
	}
}

func loadDatabaseConfig(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		URL:            v.GetString(key("DATABASE_URL")),
		ReplicaURLs:    splitList(v.GetString(key("DATABASE_REPLICA_URLS"))),
		MaxConns:       v.GetInt(key("DB_MAX_CONNS")),
		MinConns:       v.GetInt(key("DB_MIN_CONNS")),
		ConnectTimeout: v.GetDuration(key("DB_CONNECT_TIMEOUT")),
		MaxLifetime:    v.GetDuration(key("DB_MAX_LIFETIME")),
		MaxIdleTime:    v.GetDuration(key("DB_MAX_IDLE_TIME")),
	}
}

func loadRedisConfig(v *viper.Viper) RedisConfig {
	return RedisConfig{
		URL:        v.GetString(key("REDIS_URL")),
		Password:   v.GetString(key("REDIS_PASSWORD")),
		DB:         v.GetInt(key("REDIS_DB")),
		PoolSize:   v.GetInt(key("REDIS_POOL_SIZE")),
		MaxRetries: v.GetInt(key("REDIS_MAX_RETRIES")),
	}
}

func loadAuthConfig(v *viper.Viper) AuthConfig {
	cfg := AuthConfig{
		SessionSecret: v.GetString(key("SESSION_SECRET")),
		Issuer:        v.GetString(key("SESSION_ISSUER")),
		Leeway:        v.GetDuration(key("SESSION_LEEWAY")),
		CSRFSecret:    v.GetString(key("CSRF_SECRET")),
		CSRFTokenTTL:  v.GetDuration(key("CSRF_TOKEN_TTL")),
		OIDCIssuer:    v.GetString(key("OIDC_ISSUER")),
		OIDCClientID:  v.GetString(key("OIDC_CLIENT_ID")),
		OIDCRoleClaim: v.GetString(key("OIDC_ROLE_CLAIM")),
	}
	if cfg.CSRFSecret == "" {
		cfg.CSRFSecret = cfg.SessionSecret
	}
	return cfg
}

func loadEmulationConfig(v *viper.Viper) EmulationConfig {
	return EmulationConfig{
		Secret: v.GetString(key("EMULATION_SECRET")),
		TTL:    v.GetDuration(key("EMULATION_TTL")),
	}
}

func loadRateLimitConfig(v *viper.Viper) RateLimitConfig {
	return RateLimitConfig{
		Backend:       strings.ToLower(v.GetString(key("RATE_LIMIT_BACKEND"))),
		RedisPrefix:   v.GetString(key("RATE_LIMIT_REDIS_PREFIX")),
		AdminWindow:   v.GetDuration(key("RATE_LIMIT_ADMIN_WINDOW")),
		AdminMax:      v.GetInt(key("RATE_LIMIT_ADMIN_MAX")),
		SweepInterval: v.GetDuration(key("RATE_LIMIT_SWEEP_INTERVAL")),
	}
}

func loadPermissionCacheConfig(v *viper.Viper) PermissionCacheConfig {
	return PermissionCacheConfig{
		Backend:         strings.ToLower(v.GetString(key("PERMISSION_CACHE_BACKEND"))),
		TTL:             v.GetDuration(key("PERMISSION_CACHE_TTL")),
		MaxEntries:      v.GetInt(key("PERMISSION_CACHE_MAX_ENTRIES")),
		SweepInterval:   v.GetDuration(key("PERMISSION_CACHE_SWEEP_INTERVAL")),
		PermissionsFile: v.GetString(key("PERMISSIONS_FILE")),
		WatchFile:       v.GetBool(key("PERMISSIONS_WATCH")),
	}
}

func loadBreakerConfig(v *viper.Viper) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: v.GetInt(key("BREAKER_FAILURE_THRESHOLD")),
		Cooldown:         v.GetDuration(key("BREAKER_COOLDOWN")),
		QueryTimeout:     v.GetDuration(key("BREAKER_QUERY_TIMEOUT")),
	}
}

func loadAuditConfig(v *viper.Viper) AuditConfig {
	return AuditConfig{
		RetentionDays:   v.GetInt(key("AUDIT_RETENTION_DAYS")),
		CleanupSchedule: v.GetString(key("AUDIT_CLEANUP_SCHEDULE")),
		Archive: ArchiveConfig{
			Bucket:       v.GetString(key("AUDIT_ARCHIVE_BUCKET")),
			Prefix:       v.GetString(key("AUDIT_ARCHIVE_PREFIX")),
			Region:       v.GetString(key("AUDIT_ARCHIVE_REGION")),
			Endpoint:     v.GetString(key("AUDIT_ARCHIVE_ENDPOINT")),
			AccessKey:    v.GetString(key("AUDIT_ARCHIVE_ACCESS_KEY")),
			SecretKey:    v.GetString(key("AUDIT_ARCHIVE_SECRET_KEY")),
			UsePathStyle: v.GetBool(key("AUDIT_ARCHIVE_PATH_STYLE")),
		},
	}
}

func loadObservabilityConfig(v *viper.Viper) ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(v.GetString(key("LOG_LEVEL"))),
		LogFormat:          strings.ToLower(v.GetString(key("LOG_FORMAT"))),
		MetricsEnabled:     v.GetBool(key("METRICS_ENABLED")),
		OTelEnabled:        v.GetBool(key("OTEL_ENABLED")),
		OTelEndpoint:       v.GetString(key("OTEL_ENDPOINT")),
		OTelServiceName:    v.GetString(key("OTEL_SERVICE_NAME")),
		OTelServiceVersion: v.GetString(key("OTEL_SERVICE_VERSION")),
		OTelInsecure:       v.GetBool(key("OTEL_INSECURE")),
		OTelSampleRatio:    v.GetFloat64(key("OTEL_SAMPLE_RATIO")),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.OIDCEnabled() {
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("%sOIDC_CLIENT_ID is required with %sOIDC_ISSUER", EnvPrefix, EnvPrefix)
		}
	} else if c.Auth.SessionSecret == "" {
		return fmt.Errorf("%sSESSION_SECRET is required", EnvPrefix)
	}
	if c.Auth.CSRFSecret == "" {
		return fmt.Errorf("%sCSRF_SECRET is required when no session secret is set", EnvPrefix)
	}
	if c.Emulation.Secret == "" {
		return fmt.Errorf("%sEMULATION_SECRET is required", EnvPrefix)
	}
	if c.Emulation.Secret == c.Auth.SessionSecret {
		return fmt.Errorf("emulation secret must differ from the session secret")
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.RateLimit.AdminMax <= 0 {
		return fmt.Errorf("admin rate limit must be positive")
	}

	durations := map[string]time.Duration{
		"breaker cooldown":         c.Breaker.Cooldown,
		"breaker query timeout":    c.Breaker.QueryTimeout,
		"emulation TTL":            c.Emulation.TTL,
		"CSRF token TTL":           c.Auth.CSRFTokenTTL,
		"permission cache TTL":     c.PermissionCache.TTL,
		"admin rate limit window":  c.RateLimit.AdminWindow,
		"rate limit sweep":         c.RateLimit.SweepInterval,
		"permission cache sweep":   c.PermissionCache.SweepInterval,
		"server shutdown timeout":  c.Server.ShutdownTimeout,
		"database connect timeout": c.Database.ConnectTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	for _, b := range []struct{ name, value string }{
		{"rate limit", c.RateLimit.Backend},
		{"permission cache", c.PermissionCache.Backend},
	} {
		switch b.value {
		case BackendMemory:
		case BackendRedis:
			if !c.Redis.Enabled() {
				return fmt.Errorf("%s backend redis requires %sREDIS_URL", b.name, EnvPrefix)
			}
		default:
			return fmt.Errorf("invalid %s backend: %s (must be memory or redis)", b.name, b.value)
		}
	}

	if c.PermissionCache.WatchFile && c.PermissionCache.PermissionsFile == "" {
		return fmt.Errorf("%sPERMISSIONS_WATCH requires %sPERMISSIONS_FILE", EnvPrefix, EnvPrefix)
	}
	if c.Audit.Archive.Enabled() {
		if !c.Database.Enabled() {
			return fmt.Errorf("audit archive requires %sDATABASE_URL", EnvPrefix)
		}
		if (c.Audit.Archive.AccessKey == "") != (c.Audit.Archive.SecretKey == "") {
			return fmt.Errorf("audit archive access key and secret key must be set together")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	// SetConfigFile with a missing path surfaces the os error instead.
	return errors.Is(err, fs.ErrNotExist)
}

// splitList parses a comma-separated list, dropping empty items.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
