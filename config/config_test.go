package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsApplyWithNoSource(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxDBConnections)
	assert.Equal(t, 9, cfg.TierManager.MaxWorkingItems)
	assert.True(t, cfg.FallbackEnabled)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := "max_db_connections: 50\ntier_manager:\n  max_working_items: 12\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxDBConnections)
	assert.Equal(t, 12, cfg.TierManager.MaxWorkingItems)
	// Unset fields still carry their defaults.
	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_db_connections: 50\n"), 0o600))
	t.Setenv("MAX_DB_CONNECTIONS", "77")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.MaxDBConnections)
}

func TestLoad_FetchesRemoteConfigOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("port: 9090\n"))
	}))
	defer server.Close()
	t.Setenv("CONFIG_TOKEN", "secret")

	cfg, err := Load(server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
}

func TestLoad_RemoteConfigNonOKStatusFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := Load(server.URL, nil)
	require.Error(t, err)
}
