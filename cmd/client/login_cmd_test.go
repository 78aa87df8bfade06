package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/openmined/cryptsync/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "good-key"

// newAuthServer accepts only testAPIKey
func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"present":false,"trash":false}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runLogin(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "cryptsync", SilenceErrors: true, SilenceUsage: true}
	addPersistentFlags(root)
	root.AddCommand(newLoginCmd())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"login"}, args...))

	err := root.Execute()
	return stripANSI(out.String()), err
}

func withoutTerminal(t *testing.T) {
	t.Helper()
	old := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = old })
}

func TestLogin_SavesConfig(t *testing.T) {
	withoutTerminal(t)
	srv := newAuthServer(t)
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.json")
	dataDir := filepath.Join(tmp, "data")

	out, err := runLogin(t,
		"--config", cfgPath, "--datadir", dataDir, "--server", srv.URL,
		"--api-key", testAPIKey, "--master-key", "correct horse battery")
	require.NoError(t, err, out)
	assert.Contains(t, out, "CryptSync is ready")
	assert.NotContains(t, out, testAPIKey)

	cfg, err := config.LoadFromFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, testAPIKey, cfg.APIKey)
	assert.Equal(t, []string{"correct horse battery"}, cfg.Keys)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, srv.URL, cfg.ServerURL)
}

func TestLogin_KeepsOlderMasterKeys(t *testing.T) {
	withoutTerminal(t)
	srv := newAuthServer(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	common := []string{"--config", cfgPath, "--server", srv.URL, "--datadir", t.TempDir(), "--api-key", testAPIKey}

	_, err := runLogin(t, append(common, "--master-key", "first key 123")...)
	require.NoError(t, err)
	_, err = runLogin(t, append(common, "--master-key", "second key 456", "--master-key", "first key 123")...)
	require.NoError(t, err)

	cfg, err := config.LoadFromFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"first key 123", "second key 456"}, cfg.Keys)
}

func TestLogin_Errors(t *testing.T) {
	withoutTerminal(t)
	srv := newAuthServer(t)

	tests := []struct {
		name    string
		args    []string
		wantErr error
		msg     string
	}{
		{
			name:    "rejected api key",
			args:    []string{"--api-key", "bad-key", "--master-key", "correct horse battery"},
			wantErr: errInvalidAPIKey,
		},
		{
			name:    "missing master key without a terminal",
			args:    []string{"--api-key", testAPIKey},
			wantErr: errMissingLogin,
		},
		{
			name:    "missing everything without a terminal",
			wantErr: errMissingLogin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "config.json")
			args := append([]string{"--config", cfgPath, "--server", srv.URL, "--datadir", t.TempDir()}, tt.args...)

			_, err := runLogin(t, args...)
			require.ErrorIs(t, err, tt.wantErr)
			assert.NoFileExists(t, cfgPath)
		})
	}
}

func TestLogin_BadServerURL(t *testing.T) {
	withoutTerminal(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")

	_, err := runLogin(t, "--config", cfgPath, "--server", "ftp://nope", "--api-key", "k", "--master-key", "correct horse battery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestLogin_AlreadyLoggedIn(t *testing.T) {
	withoutTerminal(t)
	tmp := t.TempDir()
	cfg := &config.Config{
		DataDir:   filepath.Join(tmp, "data"),
		ServerURL: "http://127.0.0.1:1",
		APIKey:    "stored-api-key-123",
		Keys:      []string{"stored master key"},
		Path:      filepath.Join(tmp, "config.json"),
	}
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Save())

	out, err := runLogin(t, "--config", cfg.Path)
	require.NoError(t, err)
	assert.Contains(t, out, "Already logged in")
	assert.Contains(t, out, cfg.DataDir)
	assert.NotContains(t, out, "stored-api-key-123")

	out, err = runLogin(t, "--config", cfg.Path, "--quiet")
	require.NoError(t, err)
	assert.Empty(t, out)
}
