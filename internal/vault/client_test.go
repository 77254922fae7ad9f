package vault

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-server/config"
)

func TestDisabledClient(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	require.NoError(t, err)

	assert.False(t, c.IsEnabled())
	assert.NoError(t, c.Health(context.Background()))

	_, err = c.JWTSecret(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)
}

func newVaultStub(t *testing.T, body string, hits *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/license-server" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		*hits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJWTSecretFromKV(t *testing.T) {
	hits := 0
	srv := newVaultStub(t, `{"data":{"data":{"jwt_secret":"  s3cret  "},"metadata":{"version":1}}}`, &hits)

	c, err := NewClient(config.VaultConfig{
		Enabled:     true,
		Address:     srv.URL,
		Token:       "root-token",
		MountPath:   "secret",
		SecretPath:  "license-server",
		SecretField: "jwt_secret",
	})
	require.NoError(t, err)

	secret, err := c.JWTSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)

	_, err = c.JWTSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second read is served from cache")

	c.ClearCache()
	_, err = c.JWTSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}

func TestJWTSecretMissingField(t *testing.T) {
	hits := 0
	srv := newVaultStub(t, `{"data":{"data":{"other":"x"}}}`, &hits)

	c, err := NewClient(config.VaultConfig{
		Enabled:     true,
		Address:     srv.URL,
		Token:       "root-token",
		MountPath:   "secret",
		SecretPath:  "license-server",
		SecretField: "jwt_secret",
	})
	require.NoError(t, err)

	_, err = c.JWTSecret(context.Background())
	assert.ErrorContains(t, err, "jwt_secret")
}
