package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSAllowedOrigins)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "bookshelf", cfg.Database.User)
				assert.Equal(t, "env", cfg.Secrets.Source)
				assert.Empty(t, cfg.Redis.URL)
			},
		},
		{
			name: "auth defaults",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://login.microsoftonline.com", cfg.Auth.Authority)
				assert.Equal(t, 10*time.Second, cfg.Auth.HTTPTimeout)
				assert.Equal(t, 2, cfg.Auth.MaxRetries)
				assert.Equal(t, 200*time.Millisecond, cfg.Auth.RetryBaseDelay)
				assert.Equal(t, 5*time.Second, cfg.Auth.RetryMaxDelay)
				assert.Equal(t, time.Hour, cfg.Auth.KeyCacheTTL)
				assert.Equal(t, 30*time.Second, cfg.Auth.MinRefreshInterval)
				assert.Equal(t, time.Duration(0), cfg.Auth.ClockSkew)
				assert.True(t, cfg.Auth.DemoTokenEnabled)
				assert.Equal(t, "demo-token", cfg.Auth.DemoToken)
				assert.False(t, cfg.Auth.DegradedMode)
				assert.True(t, cfg.Auth.RelaxedStrategies)
			},
		},
		{
			name: "demo token off outside development",
			envVars: map[string]string{
				"ENVIRONMENT": "staging",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Auth.DemoTokenEnabled)
			},
		},
		{
			name: "production configuration",
			envVars: map[string]string{
				"ENVIRONMENT":     "production",
				"SERVER_PORT":     "9000",
				"DB_HOST":         "prod-db.example.com",
				"DB_PORT":         "5433",
				"AZURE_TENANT_ID": "tenant-1",
				"AZURE_CLIENT_ID": "client123",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.False(t, cfg.IsDevelopment())
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, "prod-db.example.com", cfg.Database.Host)
				assert.Equal(t, 5433, cfg.Database.Port)
				assert.Equal(t, "tenant-1", cfg.Auth.TenantID)
				assert.False(t, cfg.Auth.DemoTokenEnabled)
			},
		},
		{
			name: "custom jwks settings",
			envVars: map[string]string{
				"JWKS_ENDPOINTS":            "https://a.example.com/keys, https://b.example.com/keys,",
				"JWKS_MAX_RETRIES":          "4",
				"JWKS_RETRY_BASE_DELAY":     "50ms",
				"JWKS_CACHE_TTL":            "15m",
				"JWKS_MIN_REFRESH_INTERVAL": "1m",
				"AUTH_CLOCK_SKEW":           "30s",
				"AUTH_RELAXED_STRATEGIES":   "false",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"https://a.example.com/keys", "https://b.example.com/keys"}, cfg.Auth.JWKSEndpoints)
				assert.Equal(t, 4, cfg.Auth.MaxRetries)
				assert.Equal(t, 50*time.Millisecond, cfg.Auth.RetryBaseDelay)
				assert.Equal(t, 15*time.Minute, cfg.Auth.KeyCacheTTL)
				assert.Equal(t, time.Minute, cfg.Auth.MinRefreshInterval)
				assert.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
				assert.False(t, cfg.Auth.RelaxedStrategies)
			},
		},
		{
			name: "custom timeouts and pool settings",
			envVars: map[string]string{
				"SERVER_READ_TIMEOUT":  "60s",
				"SERVER_WRITE_TIMEOUT": "90s",
				"DB_MAX_OPEN_CONNS":    "50",
				"DB_MAX_IDLE_CONNS":    "10",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
				assert.Equal(t, 50, cfg.Database.MaxOpenConns)
				assert.Equal(t, 10, cfg.Database.MaxIdleConns)
			},
		},
		{
			name: "observability configuration",
			envVars: map[string]string{
				"LOG_LEVEL":       "debug",
				"LOG_FORMAT":      "text",
				"METRICS_ENABLED": "false",
				"METRICS_PORT":    "9091",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Observability.LogLevel)
				assert.Equal(t, "text", cfg.Observability.LogFormat)
				assert.False(t, cfg.Observability.MetricsEnabled)
				assert.Equal(t, 9091, cfg.Observability.MetricsPort)
			},
		},
		{
			name: "vault secrets and redis",
			envVars: map[string]string{
				"SECRETS_SOURCE":    "vault",
				"VAULT_ADDR":        "http://bao:8200",
				"VAULT_TOKEN":       "root",
				"VAULT_SECRET_PATH": "apps/bookshelf",
				"REDIS_URL":         "redis://cache:6379/0",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "vault", cfg.Secrets.Source)
				assert.Equal(t, "http://bao:8200", cfg.Secrets.VaultAddress)
				assert.Equal(t, "secret", cfg.Secrets.VaultMount)
				assert.Equal(t, "apps/bookshelf", cfg.Secrets.VaultPath)
				assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
				assert.Equal(t, "bookshelf:jwks", cfg.Redis.Key)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
				"PORT":        "9443",
				"SERVER_PORT": "9000",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "production without azure config",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
			},
			wantErr: true,
		},
		{
			name: "production with demo token",
			envVars: map[string]string{
				"ENVIRONMENT":             "production",
				"AZURE_TENANT_ID":         "tenant-1",
				"AZURE_CLIENT_ID":         "client123",
				"AUTH_DEMO_TOKEN_ENABLED": "true",
			},
			wantErr: true,
		},
		{
			name: "production with degraded mode",
			envVars: map[string]string{
				"ENVIRONMENT":        "production",
				"AZURE_TENANT_ID":    "tenant-1",
				"AZURE_CLIENT_ID":    "client123",
				"AUTH_DEGRADED_MODE": "true",
			},
			wantErr: true,
		},
		{
			name: "vault without address",
			envVars: map[string]string{
				"SECRETS_SOURCE": "vault",
			},
			wantErr: true,
		},
		{
			name: "unknown secrets source",
			envVars: map[string]string{
				"SECRETS_SOURCE": "keyvault",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			// Create config
			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Database: DatabaseConfig{
			Host:     "localhost",
			User:     "user",
			Database: "db",
		},
		Auth: AuthConfig{
			Authority:   "https://login.microsoftonline.com",
			HTTPTimeout: time.Second,
		},
		Secrets: SecretsConfig{Source: "env"},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid development config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: true,
			errMsg:  "database configuration required",
		},
		{
			name:    "missing database user",
			mutate:  func(c *Config) { c.Database.User = "" },
			wantErr: true,
			errMsg:  "database user is required",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Auth.MaxRetries = -1 },
			wantErr: true,
			errMsg:  "max retries",
		},
		{
			name:    "no authority and no endpoints",
			mutate:  func(c *Config) { c.Auth.Authority = "" },
			wantErr: true,
			errMsg:  "JWKS_ENDPOINTS",
		},
		{
			name: "demo token enabled without value",
			mutate: func(c *Config) {
				c.Auth.DemoTokenEnabled = true
				c.Auth.DemoToken = ""
			},
			wantErr: true,
			errMsg:  "demo token value",
		},
		{
			name: "production vault source defers azure ids",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.Secrets = SecretsConfig{Source: "vault", VaultAddress: "http://bao:8200", VaultPath: "p"}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthConfig_Endpoints(t *testing.T) {
	t.Run("tenant then common", func(t *testing.T) {
		cfg := AuthConfig{Authority: "https://login.microsoftonline.com/", TenantID: "tenant-1"}
		assert.Equal(t, []string{
			"https://login.microsoftonline.com/tenant-1/discovery/v2.0/keys",
			"https://login.microsoftonline.com/common/discovery/v2.0/keys",
		}, cfg.Endpoints())
	})

	t.Run("common only without tenant", func(t *testing.T) {
		cfg := AuthConfig{Authority: "https://login.microsoftonline.com"}
		assert.Equal(t, []string{"https://login.microsoftonline.com/common/discovery/v2.0/keys"}, cfg.Endpoints())
	})

	t.Run("explicit endpoints win", func(t *testing.T) {
		cfg := AuthConfig{Authority: "https://login.microsoftonline.com", TenantID: "t", JWKSEndpoints: []string{"http://localhost/keys"}}
		assert.Equal(t, []string{"http://localhost/keys"}, cfg.Endpoints())
	})
}

func TestAuthConfig_ApplyCredentials(t *testing.T) {
	cfg := AuthConfig{ClientID: "from-env", TenantID: "env-tenant"}
	cfg.ApplyCredentials("from-vault", "s3cret", "")

	assert.Equal(t, "from-vault", cfg.ClientID)
	assert.Equal(t, "s3cret", cfg.ClientSecret)
	assert.Equal(t, "env-tenant", cfg.TenantID)
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"dev", "dev", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"development", "development", true},
		{"dev", "dev", true},
		{"production", "production", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsDevelopment())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())

	cfg.ConnectionString = "postgres://u:p@db.example.com/books"
	assert.Equal(t, "postgres://u:p@db.example.com/books", cfg.DSN())
	assert.Equal(t, "host=db.example.com port=5432 database=books", cfg.LogString())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestEnvHelpers(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		t.Setenv("TEST_INT", "42")
		assert.Equal(t, 42, envInt("TEST_INT", 10))

		t.Setenv("TEST_INT", "not-a-number")
		assert.Equal(t, 10, envInt("TEST_INT", 10))

		t.Setenv("TEST_INT", "")
		assert.Equal(t, 10, envInt("TEST_INT", 10))
	})

	t.Run("bool", func(t *testing.T) {
		t.Setenv("TEST_BOOL", "false")
		assert.False(t, envBool("TEST_BOOL", true))

		t.Setenv("TEST_BOOL", "maybe")
		assert.True(t, envBool("TEST_BOOL", true))
	})

	t.Run("duration", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "250ms")
		assert.Equal(t, 250*time.Millisecond, envDuration("TEST_DURATION", time.Second))

		t.Setenv("TEST_DURATION", "250")
		assert.Equal(t, time.Second, envDuration("TEST_DURATION", time.Second))
	})

	t.Run("string is trimmed", func(t *testing.T) {
		t.Setenv("TEST_STRING", "  value ")
		assert.Equal(t, "value", envString("TEST_STRING", "default"))

		t.Setenv("TEST_STRING", "   ")
		assert.Equal(t, "default", envString("TEST_STRING", "default"))
	})
}

func TestEnvList(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"single", "a", []string{"a"}},
		{"trimmed", " a , b ", []string{"a", "b"}},
		{"only separators", ",,", []string{"default"}},
		{"empty value", "", []string{"default"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_SLICE", tt.value)
			assert.Equal(t, tt.want, envList("TEST_SLICE", []string{"default"}))
		})
	}
}

func TestServerPort(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SERVER_PORT", "9000")
	assert.Equal(t, 9000, serverPort())

	t.Setenv("PORT", "3000")
	assert.Equal(t, 3000, serverPort())
}
