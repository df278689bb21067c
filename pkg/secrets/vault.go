package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"

	"cad-copilot/backend/pkg/config"
	"cad-copilot/backend/pkg/logger"
)

var (
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// VaultConfig holds configuration for the Vault client
type VaultConfig struct {
	Address     string
	Token       string
	Mount       string
	SecretsPath string
	Timeout     time.Duration
	MaxRetries  int
	CacheTTL    time.Duration
}

// VaultConfigFromConfig reads the Vault section of the application config.
func VaultConfigFromConfig(cfg *config.Config) VaultConfig {
	return VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Mount:       cfg.Vault.Mount,
		SecretsPath: cfg.Vault.SecretsPath,
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		CacheTTL:    5 * time.Minute,
	}
}

type cachedSecret struct {
	data    map[string]interface{}
	fetched time.Time
}

// VaultBackend reads provider keys from one KV v2 secret.
type VaultBackend struct {
	client *vault.Client
	config VaultConfig
	log    *logger.Logger

	mu     sync.Mutex
	cached *cachedSecret
}

// NewVaultBackend creates a Vault backed secret source
func NewVaultBackend(cfg VaultConfig, log *logger.Logger) (*VaultBackend, error) {
	if cfg.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if cfg.Token == "" {
		return nil, ErrNoVaultToken
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if cfg.SecretsPath == "" {
		cfg.SecretsPath = "cad-copilot"
	}
	if log == nil {
		log = logger.Nop()
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		vaultConfig.Timeout = cfg.Timeout
	}
	vaultConfig.MaxRetries = cfg.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &VaultBackend{client: client, config: cfg, log: log}, nil
}

// Lookup implements Backend.
func (v *VaultBackend) Lookup(ctx context.Context, key string) (string, error) {
	data, err := v.read(ctx)
	if err != nil {
		return "", err
	}
	value, ok := data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (v *VaultBackend) read(ctx context.Context) (map[string]interface{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cached != nil && time.Since(v.cached.fetched) < v.config.CacheTTL {
		return v.cached.data, nil
	}

	secret, err := v.client.KVv2(v.config.Mount).Get(ctx, v.config.SecretsPath)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, ErrSecretNotFound
		}
		v.log.Error("Failed to read secret from Vault", "path", v.config.SecretsPath, "error", err.Error())
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrSecretNotFound
	}

	v.cached = &cachedSecret{data: secret.Data, fetched: time.Now()}
	return secret.Data, nil
}

// Invalidate drops the cached secret so the next lookup hits Vault.
func (v *VaultBackend) Invalidate() {
	v.mu.Lock()
	v.cached = nil
	v.mu.Unlock()
}
