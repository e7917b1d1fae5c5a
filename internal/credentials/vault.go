package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// vaultReadTimeout bounds a shared secret read.
const vaultReadTimeout = 10 * time.Second

// Vault reads destination credentials from a KV v2 secret. The secret
// holds either username and password or token. Values are cached for the
// configured TTL. Concurrent misses share one read.
type Vault struct {
	client   *vaultapi.Client
	fullPath string
	ttl      time.Duration
	logger   observability.Logger

	reads singleflight.Group

	mu        sync.RWMutex
	cached    rfc.Credentials
	expiresAt time.Time
}

// NewVault creates a Vault credential provider.
func NewVault(cfg config.VaultConfig, logger observability.Logger) (*Vault, error) {
	apiConfig := vaultapi.DefaultConfig()
	if cfg.Address != "" {
		apiConfig.Address = cfg.Address
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}

	return &Vault{
		client:   client,
		fullPath: fmt.Sprintf("%s/data/%s", mount, cfg.Path),
		ttl:      cfg.CacheTTL.Duration(),
		logger:   logger,
	}, nil
}

// Credentials implements rfc.CredentialProvider.
func (v *Vault) Credentials(ctx context.Context) (rfc.Credentials, error) {
	if creds, ok := v.fresh(); ok {
		return creds, nil
	}

	// The read is shared, so it must not end with the first caller's context.
	ch := v.reads.DoChan(v.fullPath, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), vaultReadTimeout)
		defer cancel()
		return v.read(readCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return rfc.Credentials{}, res.Err
		}
		return res.Val.(rfc.Credentials), nil
	case <-ctx.Done():
		return rfc.Credentials{}, ctx.Err()
	}
}

func (v *Vault) fresh() (rfc.Credentials, bool) {
	if v.ttl <= 0 {
		return rfc.Credentials{}, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cached, time.Now().Before(v.expiresAt)
}

func (v *Vault) read(ctx context.Context) (rfc.Credentials, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.fullPath)
	if err != nil {
		return rfc.Credentials{}, fmt.Errorf("failed to read secret %s: %w", v.fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return rfc.Credentials{}, fmt.Errorf("secret %s not found", v.fullPath)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return rfc.Credentials{}, fmt.Errorf("secret %s has no data", v.fullPath)
	}

	creds := rfc.Credentials{
		User:     stringValue(data, "username", "user"),
		Password: stringValue(data, "password"),
		Token:    stringValue(data, "token"),
	}
	if creds.Empty() {
		return rfc.Credentials{}, fmt.Errorf("secret %s holds neither username nor token", v.fullPath)
	}

	v.mu.Lock()
	v.cached = creds
	v.expiresAt = time.Now().Add(v.ttl)
	v.mu.Unlock()

	v.logger.Debug("destination credentials read from vault",
		observability.String("path", v.fullPath),
	)
	return creds, nil
}

func stringValue(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := data[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
