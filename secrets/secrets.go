package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/openbao/openbao/api/v2"
	"go.uber.org/zap"
)

// Key names used in the secret store, shared with the deployment tooling
const (
	ClientIDKey     = "azure-client-id"
	ClientSecretKey = "azure-client-secret"
	TenantIDKey     = "azure-tenant-id"
)

// ErrMissingCredential is returned when a required credential is empty
var ErrMissingCredential = errors.New("missing identity provider credential")

// Credentials are the identity-provider application credentials
type Credentials struct {
	ClientID     string
	ClientSecret string
	TenantID     string
}

// Provider supplies identity-provider credentials
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Resolve reads credentials from provider and checks the ones token
// verification depends on. The client secret is optional.
func Resolve(ctx context.Context, provider Provider) (Credentials, error) {
	creds, err := provider.Credentials(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if creds.ClientID == "" {
		return Credentials{}, fmt.Errorf("%w: client id", ErrMissingCredential)
	}
	if creds.TenantID == "" {
		return Credentials{}, fmt.Errorf("%w: tenant id", ErrMissingCredential)
	}
	return creds, nil
}

// EnvProvider returns credentials already loaded from the environment
type EnvProvider struct {
	creds Credentials
}

// NewEnvProvider creates a provider over static values
func NewEnvProvider(clientID, clientSecret, tenantID string) *EnvProvider {
	return &EnvProvider{creds: Credentials{ClientID: clientID, ClientSecret: clientSecret, TenantID: tenantID}}
}

func (p *EnvProvider) Credentials(context.Context) (Credentials, error) {
	return p.creds, nil
}

// VaultConfig configures VaultProvider
type VaultConfig struct {
	Address string
	Token   string
	Mount   string
	Path    string
}

// VaultProvider reads credentials from an OpenBao (or Vault) KV v2 secret
type VaultProvider struct {
	client *api.Client
	mount  string
	path   string
	logger *zap.Logger
}

// NewVaultProvider creates a provider for the KV v2 secret at cfg.Mount/cfg.Path
func NewVaultProvider(cfg VaultConfig, logger *zap.Logger) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, errors.New("vault address is required")
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := api.DefaultConfig()
	if clientCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault client defaults: %w", clientCfg.Error)
	}
	clientCfg.Address = cfg.Address

	client, err := api.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &VaultProvider{
		client: client,
		mount:  cfg.Mount,
		path:   cfg.Path,
		logger: logger,
	}, nil
}

func (p *VaultProvider) Credentials(ctx context.Context) (Credentials, error) {
	secret, err := p.client.KVv2(p.mount).Get(ctx, p.path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read secret %s/%s: %w", p.mount, p.path, err)
	}

	clientID, err := stringField(secret.Data, ClientIDKey)
	if err != nil {
		return Credentials{}, err
	}
	tenantID, err := stringField(secret.Data, TenantIDKey)
	if err != nil {
		return Credentials{}, err
	}
	// client secret is only needed for token issuance
	clientSecret, _ := secret.Data[ClientSecretKey].(string)

	p.logger.Info("identity credentials loaded from secret store",
		zap.String("mount", p.mount),
		zap.String("path", p.path))

	return Credentials{ClientID: clientID, ClientSecret: clientSecret, TenantID: tenantID}, nil
}

func stringField(data map[string]interface{}, key string) (string, error) {
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: secret has no %s", ErrMissingCredential, key)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s is empty or not a string", ErrMissingCredential, key)
	}
	return value, nil
}
