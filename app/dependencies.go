package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/config"
	"github.com/upb/bookshelf-api/internal/observability"
	"github.com/upb/bookshelf-api/middleware"
	"github.com/upb/bookshelf-api/repositories"
	"github.com/upb/bookshelf-api/repositories/postgres"
	"github.com/upb/bookshelf-api/secrets"
	"github.com/upb/bookshelf-api/services"
	"github.com/upb/bookshelf-api/tokenauth"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Redis   *redis.Client // nil unless REDIS_URL is set

	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Books     repositories.BookRepository
	TxManager repositories.TransactionManager

	// Services
	BookService *services.BookService

	// Auth
	KeySource      *tokenauth.HTTPKeySource
	KeyCache       *tokenauth.CachingKeySource
	Verifier       *tokenauth.Verifier
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
// Credentials are resolved before anything that depends on them is built.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	}

	if err := deps.initSecrets(ctx); err != nil {
		return nil, fmt.Errorf("failed to resolve identity credentials: %w", err)
	}

	if err := deps.initAuth(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.initDatabase(ctx); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initServices()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initSecrets merges credentials from the configured secret source into
// the auth configuration.
func (d *Dependencies) initSecrets(ctx context.Context) error {
	cfg := d.Config

	var provider secrets.Provider
	switch cfg.Secrets.Source {
	case "vault":
		vault, err := secrets.NewVaultProvider(secrets.VaultConfig{
			Address: cfg.Secrets.VaultAddress,
			Token:   cfg.Secrets.VaultToken,
			Mount:   cfg.Secrets.VaultMount,
			Path:    cfg.Secrets.VaultPath,
		}, d.Logger)
		if err != nil {
			return err
		}
		provider = vault
	default:
		provider = secrets.NewEnvProvider(cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.TenantID)
	}

	creds, err := secrets.Resolve(ctx, provider)
	if err != nil {
		// env credentials are optional outside production; the demo token
		// and signature-only strategies still work without them
		if cfg.Secrets.Source != "vault" && !cfg.IsProduction() && errors.Is(err, secrets.ErrMissingCredential) {
			d.Logger.Warn("identity provider credentials incomplete", zap.Error(err))
			return nil
		}
		return err
	}

	cfg.Auth.ApplyCredentials(creds.ClientID, creds.ClientSecret, creds.TenantID)
	d.Logger.Info("identity credentials resolved",
		zap.String("source", cfg.Secrets.Source),
		zap.String("tenant_id", creds.TenantID))
	return nil
}

// initAuth builds the key source, key cache and verifier chain
func (d *Dependencies) initAuth(ctx context.Context) error {
	auth := d.Config.Auth

	var metrics tokenauth.Metrics = tokenauth.NopMetrics{}
	if d.Metrics != nil {
		metrics = d.Metrics
	}

	d.KeySource = tokenauth.NewHTTPKeySource(tokenauth.KeySourceConfig{
		Endpoints:  auth.Endpoints(),
		Timeout:    auth.HTTPTimeout,
		MaxRetries: auth.MaxRetries,
		BaseDelay:  auth.RetryBaseDelay,
		MaxDelay:   auth.RetryMaxDelay,
	}, d.Logger, metrics)

	cacheCfg := tokenauth.CacheConfig{
		TTL:                auth.KeyCacheTTL,
		MinRefreshInterval: auth.MinRefreshInterval,
	}
	if d.Config.Redis.URL != "" {
		store, client, err := tokenauth.NewRedisKeySetStoreFromURL(d.Config.Redis.URL, d.Config.Redis.Key)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			// the shared store is an optimisation; run without it
			d.Logger.Warn("redis unavailable, key set cache is process-local", zap.Error(err))
			_ = client.Close()
		} else {
			d.Redis = client
			cacheCfg.Store = store
			d.Logger.Info("shared key set cache enabled", zap.String("key", d.Config.Redis.Key))
		}
	}
	d.KeyCache = tokenauth.NewCachingKeySource(d.KeySource, cacheCfg, d.Logger, metrics)

	strategies := tokenauth.DefaultStrategies(auth.Authority, auth.TenantID, auth.ClientID, auth.RelaxedStrategies)
	d.Verifier = tokenauth.NewVerifier(tokenauth.VerifierConfig{
		Strategies:       strategies,
		DemoToken:        auth.DemoToken,
		DemoTokenEnabled: auth.DemoTokenEnabled,
		DegradedMode:     auth.DegradedMode,
		Leeway:           auth.ClockSkew,
	}, d.KeyCache, d.Logger, tokenauth.WithMetrics(metrics))

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Verifier, d.Logger)

	d.Logger.Info("token verification initialized",
		zap.Strings("jwks_endpoints", d.KeySource.Endpoints()),
		zap.Int("strategies", len(strategies)),
		zap.Bool("demo_token", auth.DemoTokenEnabled),
		zap.Bool("degraded_mode", auth.DegradedMode))
	return nil
}

// initDatabase opens PostgreSQL and ensures the schema exists
func (d *Dependencies) initDatabase(ctx context.Context) error {
	factory, err := postgres.NewRepositoryFactory(d.Config.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.DB()

	if err := d.DB.InitSchema(ctx); err != nil {
		return err
	}
	return nil
}

func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Books = repos.Books
	d.TxManager = d.RepoFactory.Transactions()

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices() {
	d.BookService = services.NewBookService(d.Books, d.TxManager, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
