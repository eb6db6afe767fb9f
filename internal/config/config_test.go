package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unsetEnv clears keys for the duration of the test
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestNewDefaults(t *testing.T) {
	unsetEnv(t, "BUNDLER_URL", "PAYMASTER_SERVICE_URL", "PAYMASTER_ID", "CHAIN_ID", "PORT", "ALLOWED_ORIGINS", "NODE_ENV", "UPSTREAM_TIMEOUT", "ENTRY_POINT_ADDRESS")

	cfg, err := New(context.Background(), "")
	require.NoError(t, err)

	require.Equal(t, 3001, cfg.Port)
	require.Equal(t, "0x0000000071727De22E5E9d8BAf0edAc6f37da032", cfg.EntryPointAddress)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.Origins())
	require.Equal(t, 30*time.Second, cfg.UpstreamTimeout)
	require.Empty(t, cfg.BundlerURL)
	require.Empty(t, cfg.PaymasterID)
	require.True(t, cfg.IsDevelopment())
}

func TestNewFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envpath := filepath.Join(dir, ".env")

	err := os.WriteFile(envpath, []byte(`BUNDLER_URL=http://bundler.local
PAYMASTER_SERVICE_URL=http://paymaster.local
PAYMASTER_ID=pm_test123
CHAIN_ID=1946
PORT=4000
ALLOWED_ORIGINS= http://a.local , ,http://b.local
`), 0o600)
	require.NoError(t, err)

	// godotenv does not override variables that are already set
	unsetEnv(t, "BUNDLER_URL", "PAYMASTER_SERVICE_URL", "PAYMASTER_ID", "CHAIN_ID", "PORT", "ALLOWED_ORIGINS", "ENTRY_POINT_ADDRESS")

	cfg, err := New(context.Background(), envpath)
	require.NoError(t, err)

	require.Equal(t, "http://bundler.local", cfg.BundlerURL)
	require.Equal(t, int64(1946), cfg.ChainID)
	require.Equal(t, 4000, cfg.Port)
	require.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.Origins())
	require.Equal(t, "http://paymaster.local", cfg.PaymasterServiceURL)
	require.Equal(t, "pm_test123", cfg.PaymasterID)
}

func TestNewMissingEnvFile(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
