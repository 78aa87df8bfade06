package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/cryptsync/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRootForTest() *cobra.Command {
	cmd := &cobra.Command{Use: "cryptsync"}
	addPersistentFlags(cmd)
	return cmd
}

func TestLoadConfigEnv(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("CRYPTSYNC_CONFIG_PATH", filepath.Join(tmp, "config.test.json"))
	t.Setenv("CRYPTSYNC_DATA_DIR", filepath.Join(tmp, "data"))
	t.Setenv("CRYPTSYNC_SERVER_URL", "https://test.cryptsync.io")
	t.Setenv("CRYPTSYNC_API_KEY", "env-api-key")
	t.Setenv("CRYPTSYNC_MASTER_KEYS", "first second")
	t.Setenv("CRYPTSYNC_SYNC_INTERVAL", "30")
	t.Setenv("CRYPTSYNC_BANDWIDTH_LIMIT", "1048576")

	cfg, err := loadConfig(newRootForTest())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(tmp, "config.test.json"), cfg.Path)
	assert.Equal(t, filepath.Join(tmp, "data"), cfg.DataDir)
	assert.Equal(t, "https://test.cryptsync.io", cfg.ServerURL)
	assert.Equal(t, "env-api-key", cfg.APIKey)
	assert.Equal(t, []string{"first", "second"}, cfg.Keys)
	assert.Equal(t, 30, cfg.IntervalSeconds)
	assert.Equal(t, 1048576, cfg.BandwidthLimit)
	assert.True(t, cfg.LoggedIn())
}

func TestLoadConfigJSON(t *testing.T) {
	tmp := t.TempDir()
	dummyConfig := `
{
	"data_dir": "/tmp/cryptsync-test-json",
	"server_url": "https://test-json.cryptsync.io",
	"api_key": "json-api-key",
	"master_keys": ["k1", "k2"],
	"sync_interval": 10
}
`
	cfgPath := filepath.Join(tmp, "dummy.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(dummyConfig), 0o600))

	cmd := newRootForTest()
	require.NoError(t, cmd.PersistentFlags().Set("config", cfgPath))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, cfgPath, cfg.Path)
	assert.Equal(t, "/tmp/cryptsync-test-json", cfg.DataDir)
	assert.Equal(t, "https://test-json.cryptsync.io", cfg.ServerURL)
	assert.Equal(t, "json-api-key", cfg.APIKey)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Keys)
	assert.Equal(t, 10, cfg.IntervalSeconds)
}

func TestLoadConfigPrecedence(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"server_url": "https://file.cryptsync.io", "data_dir": "/tmp/from-file"}`), 0o600))

	t.Setenv("CRYPTSYNC_SERVER_URL", "https://env.cryptsync.io")

	cmd := newRootForTest()
	require.NoError(t, cmd.PersistentFlags().Set("config", cfgPath))
	require.NoError(t, cmd.PersistentFlags().Set("datadir", "/tmp/from-flag"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "https://env.cryptsync.io", cfg.ServerURL)
	assert.Equal(t, "/tmp/from-flag", cfg.DataDir)
}

func TestLoadConfigDefaults(t *testing.T) {
	withHome(t, t.TempDir())
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := loadConfig(newRootForTest())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDataDir, cfg.DataDir)
	assert.Equal(t, config.DefaultServerURL, cfg.ServerURL)
	assert.False(t, cfg.LoggedIn())
}

func TestLoadConfigBadFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{not json`), 0o600))

	cmd := newRootForTest()
	require.NoError(t, cmd.PersistentFlags().Set("config", cfgPath))

	_, err := loadConfig(cmd)
	assert.Error(t, err)
}
