package secret

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

func newVaultServer(t *testing.T, fetches *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" || r.Header.Get("X-Vault-Namespace") != "ci" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/v1/sys/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/kv/data/ci/npm":
			atomic.AddInt32(fetches, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"data":{"value":"npm-123","token":"tok","port":8080}}}`))
		case "/v1/kv/data/ci/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("sealed"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultProvider(t *testing.T) {
	var fetches int32
	srv := newVaultServer(t, &fetches)
	p, err := NewVaultProvider(VaultConfig{Address: srv.URL + "/", Token: "root", MountPath: "/kv/", Namespace: "ci"}, srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	v, err := p.Resolve(ctx, "ci/npm")
	require.NoError(t, err)
	assert.Equal(t, "npm-123", v)

	v, err = p.Resolve(ctx, "ci/npm#token")
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	v, err = p.Resolve(ctx, "ci/npm#port")
	require.NoError(t, err)
	assert.Equal(t, "8080", v)

	_, err = p.Resolve(ctx, "ci/npm#missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeSecretNotFound))

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	require.NoError(t, p.Health(ctx))
}

func TestVaultProviderMissingPathFallsThrough(t *testing.T) {
	var fetches int32
	srv := newVaultServer(t, &fetches)
	p, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "root", MountPath: "kv", Namespace: "ci"}, srv.Client())
	require.NoError(t, err)

	_, err = p.Resolve(context.Background(), "ci/none")
	assert.True(t, errors.HasCode(err, errors.ErrCodeSecretNotFound))

	v, err := Chain(p, MapProvider{"ci/none": "fallback"}).Resolve(context.Background(), "ci/none")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestVaultProviderBackendError(t *testing.T) {
	var fetches int32
	srv := newVaultServer(t, &fetches)
	p, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "root", MountPath: "kv", Namespace: "ci"}, srv.Client())
	require.NoError(t, err)

	_, err = Chain(p, MapProvider{"ci/broken": "never"}).Resolve(context.Background(), "ci/broken")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSecretBackend))
	assert.Contains(t, err.Error(), "status 500")
}

func TestNewVaultProviderRequiresToken(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")
	_, err := NewVaultProvider(VaultConfig{Address: "http://127.0.0.1:8200"}, nil)
	assert.ErrorContains(t, err, "token is required")

	t.Setenv("VAULT_TOKEN", "from-env")
	p, err := NewVaultProvider(VaultConfig{Address: "http://127.0.0.1:8200"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", p.token)
	assert.Equal(t, "secret", p.mountPath)

	_, err = NewVaultProvider(VaultConfig{}, nil)
	assert.ErrorContains(t, err, "address is required")
}
