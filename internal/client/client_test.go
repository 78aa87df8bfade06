package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/openmined/cryptsync/internal/client/config"
	"github.com/openmined/cryptsync/internal/client/sync"
	"github.com/openmined/cryptsync/internal/client/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a client at a backend that only knows which folders exist
func newTestClient(t *testing.T, folders map[string]bool) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/dir/present" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			UUID string `json:"uuid"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"present": folders[body.UUID]})
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		DataDir:   t.TempDir(),
		ServerURL: srv.URL,
		APIKey:    "secret",
		Keys:      []string{"master"},
	}
	require.NoError(t, cfg.Validate())

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_RequiresLogin(t *testing.T) {
	_, err := New(&config.Config{DataDir: t.TempDir(), ServerURL: "http://127.0.0.1"})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestClient_AddLocation(t *testing.T) {
	c := newTestClient(t, map[string]bool{"remote-1": true})

	loc, err := c.AddLocation(t.Context(), &sync.Location{Local: t.TempDir(), Remote: "/Photos", RemoteUUID: "remote-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, loc.UUID)
	assert.Equal(t, sync.ModeTwoWay, loc.Type)

	_, err = c.AddLocation(t.Context(), &sync.Location{Local: t.TempDir(), RemoteUUID: "nope"})
	assert.ErrorIs(t, err, ErrRemoteNotFolder)

	inside := filepath.Join(c.Workspace().Root, "inside")
	_, err = c.AddLocation(t.Context(), &sync.Location{Local: inside, RemoteUUID: "remote-1"})
	assert.ErrorIs(t, err, ErrInsideWorkspace)

	locs, err := c.Manager().Locations()
	require.NoError(t, err)
	require.Len(t, locs, 1)

	require.NoError(t, c.RemoveLocation(loc.UUID))
	locs, err = c.Manager().Locations()
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestClient_RunOnce(t *testing.T) {
	c := newTestClient(t, nil)

	// nothing configured, the tick ends before touching the backend
	require.NoError(t, c.RunOnce(t.Context()))
	assert.NoFileExists(t, filepath.Join(c.Workspace().StateDir, "cryptsync.lock"), "lock released")

	other, err := workspace.NewWorkspace(c.Workspace().Root)
	require.NoError(t, err)
	require.NoError(t, other.Lock())
	t.Cleanup(func() { _ = other.Unlock() })

	assert.ErrorIs(t, c.RunOnce(t.Context()), workspace.ErrWorkspaceLocked)
}
