package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultServer(t *testing.T, failures int32, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		assert.Equal(t, "/v1/secret/data/costing/worker", r.URL.Path)
		if n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(addr string) VaultConfig {
	return VaultConfig{
		Enabled:   true,
		Addr:      addr,
		Token:     "test-token",
		Mount:     "secret",
		Path:      "costing/worker",
		KVVersion: 2,
		Prefixes:  DefaultPrefixes,
	}
}

func TestApplyVaultSecrets_LoadsAllowedKeys(t *testing.T) {
	srv, _ := vaultServer(t, 0, `{"data":{"data":{"DB_PASSWORD":"s3cret","COSTING_STORE_MUTATE_ATTEMPTS":7,"UNRELATED":"x"}}}`)
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("COSTING_STORE_MUTATE_ATTEMPTS", "")
	t.Setenv("UNRELATED", "")

	result, err := ApplyVaultSecrets(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"COSTING_STORE_MUTATE_ATTEMPTS", "DB_PASSWORD"}, result.Loaded)
	assert.Equal(t, []string{"UNRELATED"}, result.Skipped)
	assert.Equal(t, "s3cret", os.Getenv("DB_PASSWORD"))
	assert.Equal(t, "7", os.Getenv("COSTING_STORE_MUTATE_ATTEMPTS"))
	assert.Empty(t, os.Getenv("UNRELATED"))
}

func TestApplyVaultSecrets_KeepsExistingUnlessOverwrite(t *testing.T) {
	srv, _ := vaultServer(t, 0, `{"data":{"data":{"DB_PASSWORD":"from-vault"}}}`)
	t.Setenv("DB_PASSWORD", "from-env")

	result, err := ApplyVaultSecrets(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_PASSWORD"}, result.Skipped)
	assert.Equal(t, "from-env", os.Getenv("DB_PASSWORD"))

	cfg := testConfig(srv.URL)
	cfg.Overwrite = true
	_, err = ApplyVaultSecrets(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "from-vault", os.Getenv("DB_PASSWORD"))
}

func TestApplyVaultSecrets_RetriesUnavailable(t *testing.T) {
	srv, calls := vaultServer(t, 1, `{"data":{"data":{"REDIS_PASSWORD":"r"}}}`)
	t.Setenv("REDIS_PASSWORD", "")

	result, err := ApplyVaultSecrets(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"REDIS_PASSWORD"}, result.Loaded)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestApplyVaultSecrets_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := ApplyVaultSecrets(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestApplyVaultSecrets_DisabledOrIncomplete(t *testing.T) {
	result, err := ApplyVaultSecrets(context.Background(), VaultConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, result.Enabled)

	_, err = ApplyVaultSecrets(context.Background(), VaultConfig{Enabled: true, Path: "x"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildVaultURL(t *testing.T) {
	url, err := buildVaultURL("http://vault:8200/", "/secret/", "/costing/worker", 2)
	require.NoError(t, err)
	assert.Equal(t, "http://vault:8200/v1/secret/data/costing/worker", url)

	url, err = buildVaultURL("http://vault:8200", "kv", "costing", 1)
	require.NoError(t, err)
	assert.Equal(t, "http://vault:8200/v1/kv/costing", url)

	_, err = buildVaultURL("", "kv", "costing", 1)
	assert.Error(t, err)
}

func TestStringifyVaultValue(t *testing.T) {
	assert.Equal(t, "x", stringifyVaultValue("x"))
	assert.Equal(t, "", stringifyVaultValue(nil))
	assert.Equal(t, "true", stringifyVaultValue(true))
	assert.Equal(t, "2.5", stringifyVaultValue(2.5))
	assert.Equal(t, `["a","b"]`, stringifyVaultValue([]interface{}{"a", "b"}))
}
