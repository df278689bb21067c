package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreMemoryWinsOverEnvironment(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	s := NewStore(nil, nil)
	ctx := context.Background()

	v, err := s.GetSecret(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	require.NoError(t, s.SetSecret(ctx, "anthropic_api_key", "from-user"))
	v, err = s.GetSecret(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, "from-user", v)

	require.NoError(t, s.SetSecret(ctx, "anthropic_api_key", ""))
	v, _ = s.GetSecret(ctx, "anthropic_api_key")
	assert.Equal(t, "from-env", v)
}

func TestStoreMissing(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.GetSecret(context.Background(), "gemini_api_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.False(t, s.Has(context.Background(), "gemini_api_key"))
	assert.ErrorIs(t, s.SetSecret(context.Background(), "", "x"), ErrEmptyKey)
}

func vaultServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/v1/secret/data/cad-copilot", r.URL.Path)
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"openai_api_key":"sk-vault"},"metadata":{"created_time":"2024-06-01T00:00:00Z","custom_metadata":null,"deletion_time":"","destroyed":false,"version":1}}}`))
	}))
}

func TestVaultBackendLookup(t *testing.T) {
	var hits int32
	server := vaultServer(t, &hits)
	defer server.Close()

	backend, err := NewVaultBackend(VaultConfig{
		Address:  server.URL,
		Token:    "root-token",
		CacheTTL: time.Minute,
	}, nil)
	require.NoError(t, err)

	s := NewStore(backend, nil)
	ctx := context.Background()

	v, err := s.GetSecret(ctx, "openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-vault", v)

	_, err = s.GetSecret(ctx, "anthropic_api_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "secret should be cached")

	backend.Invalidate()
	_, _ = s.GetSecret(ctx, "openai_api_key")
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestNewVaultBackendValidates(t *testing.T) {
	_, err := NewVaultBackend(VaultConfig{Token: "x"}, nil)
	assert.ErrorIs(t, err, ErrNoVaultAddress)
	_, err = NewVaultBackend(VaultConfig{Address: "http://127.0.0.1:8200"}, nil)
	assert.ErrorIs(t, err, ErrNoVaultToken)
}
