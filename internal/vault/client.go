package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"license-server/config"
)

// ErrDisabled is returned by lookups when Vault is not configured
var ErrDisabled = errors.New("vault is disabled")

// Client wraps the HashiCorp Vault client and reads service secrets from
// a KV v2 mount.
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]string // field -> value
}

// NewClient creates a new Vault client. A disabled config yields a client
// whose lookups return ErrDisabled.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		config: cfg,
		cache:  make(map[string]string),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// JWTSecret reads the token signing secret from the configured field
func (c *Client) JWTSecret(ctx context.Context) (string, error) {
	return c.Field(ctx, c.config.SecretField)
}

// Field reads one string field of the service secret. Values are cached
// for the life of the client.
func (c *Client) Field(ctx context.Context, field string) (string, error) {
	if !c.config.Enabled {
		return "", ErrDisabled
	}

	c.mu.RLock()
	cached, ok := c.cache[field]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret %s not found", c.secretPath())
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid secret format")
	}

	value := strings.TrimSpace(getString(data, field))
	if value == "" {
		return "", fmt.Errorf("field %q missing from secret %s", field, c.secretPath())
	}

	c.mu.Lock()
	c.cache[field] = value
	c.mu.Unlock()
	return value, nil
}

// ClearCache drops cached secret values
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]string)
	c.mu.Unlock()
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// secretPath returns the KV v2 data path of the service secret
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
