package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Secrets       SecretsConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	TLS                struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds identity-provider and token verification settings
type AuthConfig struct {
	Authority    string
	TenantID     string
	ClientID     string
	ClientSecret string

	// JWKSEndpoints overrides the discovery endpoints derived from Authority and TenantID
	JWKSEndpoints []string

	HTTPTimeout        time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	KeyCacheTTL        time.Duration
	MinRefreshInterval time.Duration
	ClockSkew          time.Duration

	DemoTokenEnabled  bool
	DemoToken         string
	DegradedMode      bool
	RelaxedStrategies bool
}

// SecretsConfig selects where identity-provider credentials come from
type SecretsConfig struct {
	Source       string // env or vault
	VaultAddress string
	VaultToken   string
	VaultMount   string
	VaultPath    string
}

// RedisConfig holds the optional shared key-set cache
type RedisConfig struct {
	URL string
	Key string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
	MetricsPort    int
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	environment := envString("ENVIRONMENT", "development")
	cfg := &Config{
		Environment: environment,
		Server: ServerConfig{
			Host:               envString("SERVER_HOST", "0.0.0.0"),
			Port:               serverPort(),
			ReadTimeout:        envDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       envDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    envDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  envBool("TLS_ENABLED", false),
				CertFile: envString("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  envString("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			Authority:          envString("AZURE_AUTHORITY", "https://login.microsoftonline.com"),
			TenantID:           envString("AZURE_TENANT_ID", ""),
			ClientID:           envString("AZURE_CLIENT_ID", ""),
			ClientSecret:       envString("AZURE_CLIENT_SECRET", ""),
			JWKSEndpoints:      envList("JWKS_ENDPOINTS", nil),
			HTTPTimeout:        envDuration("JWKS_HTTP_TIMEOUT", 10*time.Second),
			MaxRetries:         envInt("JWKS_MAX_RETRIES", 2),
			RetryBaseDelay:     envDuration("JWKS_RETRY_BASE_DELAY", 200*time.Millisecond),
			RetryMaxDelay:      envDuration("JWKS_RETRY_MAX_DELAY", 5*time.Second),
			KeyCacheTTL:        envDuration("JWKS_CACHE_TTL", time.Hour),
			MinRefreshInterval: envDuration("JWKS_MIN_REFRESH_INTERVAL", 30*time.Second),
			ClockSkew:          envDuration("AUTH_CLOCK_SKEW", 0),
			DemoTokenEnabled:   envBool("AUTH_DEMO_TOKEN_ENABLED", isDevelopment(environment)),
			DemoToken:          envString("AUTH_DEMO_TOKEN", "demo-token"),
			DegradedMode:       envBool("AUTH_DEGRADED_MODE", false),
			RelaxedStrategies:  envBool("AUTH_RELAXED_STRATEGIES", true),
		},
		Secrets: SecretsConfig{
			Source:       envString("SECRETS_SOURCE", "env"),
			VaultAddress: envString("VAULT_ADDR", ""),
			VaultToken:   envString("VAULT_TOKEN", ""),
			VaultMount:   envString("VAULT_KV_MOUNT", "secret"),
			VaultPath:    envString("VAULT_SECRET_PATH", "bookshelf/identity"),
		},
		Redis: RedisConfig{
			URL: envString("REDIS_URL", ""),
			Key: envString("REDIS_JWKS_KEY", "bookshelf:jwks"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       envString("LOG_LEVEL", "info"),
			LogFormat:      envString("LOG_FORMAT", "json"),
			MetricsEnabled: envBool("METRICS_ENABLED", true),
			MetricsPort:    envInt("METRICS_PORT", 9090),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	switch c.Secrets.Source {
	case "env":
		// Credentials come from AZURE_* directly; required in production
		if c.IsProduction() {
			if c.Auth.TenantID == "" {
				return fmt.Errorf("azure tenant ID is required in production")
			}
			if c.Auth.ClientID == "" {
				return fmt.Errorf("azure client ID is required in production")
			}
		}
	case "vault":
		if c.Secrets.VaultAddress == "" {
			return fmt.Errorf("VAULT_ADDR is required when SECRETS_SOURCE=vault")
		}
		if c.Secrets.VaultPath == "" {
			return fmt.Errorf("VAULT_SECRET_PATH is required when SECRETS_SOURCE=vault")
		}
	default:
		return fmt.Errorf("unknown secrets source %q (want env or vault)", c.Secrets.Source)
	}

	if c.IsProduction() {
		if c.Auth.DemoTokenEnabled {
			return fmt.Errorf("demo token must not be enabled in production")
		}
		if c.Auth.DegradedMode {
			return fmt.Errorf("degraded auth mode must not be enabled in production")
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (a *AuthConfig) validate() error {
	if a.MaxRetries < 0 {
		return fmt.Errorf("JWKS max retries must be >= 0")
	}
	if a.HTTPTimeout <= 0 {
		return fmt.Errorf("JWKS HTTP timeout must be positive")
	}
	if a.Authority == "" && len(a.JWKSEndpoints) == 0 {
		return fmt.Errorf("either AZURE_AUTHORITY or JWKS_ENDPOINTS is required")
	}
	if a.DemoTokenEnabled && a.DemoToken == "" {
		return fmt.Errorf("demo token value is required when the demo token is enabled")
	}
	return nil
}

// Endpoints returns the JWKS discovery endpoints in fallback order: the
// tenant endpoint first, then the multi-tenant "common" endpoint.
func (a *AuthConfig) Endpoints() []string {
	if len(a.JWKSEndpoints) > 0 {
		return append([]string(nil), a.JWKSEndpoints...)
	}
	authority := strings.TrimRight(a.Authority, "/")
	var endpoints []string
	if a.TenantID != "" {
		endpoints = append(endpoints, fmt.Sprintf("%s/%s/discovery/v2.0/keys", authority, a.TenantID))
	}
	return append(endpoints, authority+"/common/discovery/v2.0/keys")
}

// ApplyCredentials overrides the identity-provider credentials with
// non-empty values resolved from a secret store
func (a *AuthConfig) ApplyCredentials(clientID, clientSecret, tenantID string) {
	if clientID != "" {
		a.ClientID = clientID
	}
	if clientSecret != "" {
		a.ClientSecret = clientSecret
	}
	if tenantID != "" {
		a.TenantID = tenantID
	}
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return isDevelopment(c.Environment)
}

func isDevelopment(environment string) bool {
	return environment == "development" || environment == "dev"
}

// DSN prefers DATABASE_URL and otherwise assembles a lib/pq key=value string
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LogString describes the target database without credentials
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString == "" {
		return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
	}
	u, err := url.Parse(c.ConnectionString)
	if err != nil {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		ConnectionString: envString("DATABASE_URL", ""),
		MaxOpenConns:     envInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     envInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if cfg.ConnectionString != "" {
		return cfg
	}
	cfg.Host = envString("DB_HOST", "localhost")
	cfg.Port = envInt("DB_PORT", 5432)
	cfg.User = envString("DB_USER", "bookshelf")
	cfg.Password = envString("DB_PASSWORD", "bookshelf")
	cfg.Database = envString("DB_NAME", "bookshelf")
	cfg.SSLMode = envString("DB_SSLMODE", "disable")
	return cfg
}

func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// env reads key through parse. Unset, blank or unparsable values yield def.
func env[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func envString(key, def string) string {
	return env(key, def, func(s string) (string, error) { return s, nil })
}

func envInt(key string, def int) int {
	return env(key, def, strconv.Atoi)
}

func envBool(key string, def bool) bool {
	return env(key, def, strconv.ParseBool)
}

func envDuration(key string, def time.Duration) time.Duration {
	return env(key, def, time.ParseDuration)
}

// envList splits a comma-separated value and drops blank items
func envList(key string, def []string) []string {
	return env(key, def, func(s string) ([]string, error) {
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			return nil, errors.New("empty list")
		}
		return items, nil
	})
}

// serverPort honours PORT (set by most PaaS runtimes) before SERVER_PORT
func serverPort() int {
	return envInt("PORT", envInt("SERVER_PORT", 8080))
}
