package syncsdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSDK(t *testing.T, handler http.Handler) *SyncSDK {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sdk, err := New(&Config{
		BaseURL:       srv.URL,
		APIKey:        "secret-key",
		RetryCount:    2,
		RetryInterval: 10 * time.Millisecond,
		Timeout:       5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(sdk.Close)
	return sdk
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestConfigValidate(t *testing.T) {
	_, err := New(&Config{})
	assert.ErrorIs(t, err, ErrNoServerURL)
	_, err = New(&Config{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestAcquireLock_Locked(t *testing.T) {
	sdk := newTestSDK(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, v1LockAcquire, r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get(HeaderDeviceID))

		var params LockParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "sync", params.Resource)

		writeJSON(w, http.StatusConflict, map[string]string{"code": CodeLocked, "error": "held by other"})
	}))

	err := sdk.AcquireLock(context.Background(), &LockParams{Resource: "sync", LockID: "abc"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)

	var sdkErr SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, CodeLocked, sdkErr.ErrorCode())
}

func TestDirTree_ReturnsRawBody(t *testing.T) {
	body := `{"folders":[{"uuid":"f1","metadata":"m1","parent":"base"}],"files":[{"uuid":"x1","metadata":"m2","parent":"f1","bucket":"b","region":"r","chunks":2,"version":2}]}`
	sdk := newTestSDK(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params DirTreeParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "root-uuid", params.UUID)
		assert.True(t, params.SkipCache)
		assert.Equal(t, DeviceID, params.DeviceID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))

	raw, tree, err := sdk.DirTree(context.Background(), &DirTreeParams{UUID: "root-uuid", SkipCache: true})
	require.NoError(t, err)
	assert.JSONEq(t, body, string(raw))
	require.Len(t, tree.Folders, 1)
	require.Len(t, tree.Files, 1)
	assert.Equal(t, BaseParent, tree.Folders[0].Parent)
	assert.Equal(t, 2, tree.Files[0].Chunks)
	assert.Equal(t, int64(len(raw)), sdk.Stats().BytesReceived)
}

func TestTrash_NotFoundMapsToSentinel(t *testing.T) {
	sdk := newTestSDK(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": CodeFileMissing, "error": "gone"})
	}))

	err := sdk.TrashFile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotEmpty(t, sdk.Stats().LastError)
}

func TestCreateFolder_AlreadyExists(t *testing.T) {
	sdk := newTestSDK(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"code": CodeAlreadyExists, "error": "exists"})
	}))

	_, err := sdk.CreateFolder(context.Background(), &CreateFolderParams{UUID: "u", Metadata: "m", Parent: "base"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUploadAndDownloadChunk(t *testing.T) {
	payload := []byte("encrypted-chunk-bytes")
	mux := http.NewServeMux()
	mux.HandleFunc(v1UploadChunk, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "file-1", q.Get("uuid"))
		assert.Equal(t, "3", q.Get("index"))
		assert.Equal(t, "parent-1", q.Get("parent"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		got, _ := io.ReadAll(r.Body)
		assert.Equal(t, payload, got)
		writeJSON(w, http.StatusOK, UploadChunkResponse{Bucket: "bkt", Region: "eu"})
	})
	mux.HandleFunc("/api/v1/download/eu/bkt/file-1/3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	})
	sdk := newTestSDK(t, mux)

	up, err := sdk.UploadChunk(context.Background(), &UploadChunkParams{
		UUID: "file-1", Index: 3, Parent: "parent-1", UploadKey: "k", Data: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, "bkt", up.Bucket)

	data, err := sdk.DownloadChunk(context.Background(), &DownloadChunkParams{UUID: "file-1", Bucket: "bkt", Region: "eu", Index: 3})
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	stats := sdk.Stats()
	assert.Equal(t, int64(len(payload)), stats.BytesSent)
	assert.Equal(t, int64(len(payload)), stats.BytesReceived)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	sdk := newTestSDK(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusBadGateway, map[string]string{"code": CodeInternalError, "error": "try later"})
			return
		}
		writeJSON(w, http.StatusOK, DirPresentResponse{Present: true})
	}))

	out, err := sdk.DirPresent(context.Background(), "root")
	require.NoError(t, err)
	assert.True(t, out.Present)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUnknownErrorBody(t *testing.T) {
	sdk := newTestSDK(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "plain text failure")
	}))

	err := sdk.MoveFile(context.Background(), &MoveParams{UUID: "a", To: "b"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeUnknownError, apiErr.Code)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestThrottle_SplitsAboveBurst(t *testing.T) {
	sdk := newTestSDK(t, http.NotFoundHandler())
	sdk.SetBandwidthLimit(4 * ChunkSize)

	// larger than burst must not error out
	require.NoError(t, sdk.throttle(context.Background(), 6*ChunkSize))

	sdk.SetBandwidthLimit(0)
	require.NoError(t, sdk.throttle(context.Background(), 100*ChunkSize))
}

func TestBareUnauthorizedMapsToSentinel(t *testing.T) {
	sdk := newTestSDK(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := sdk.DirPresent(context.Background(), BaseParent)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
