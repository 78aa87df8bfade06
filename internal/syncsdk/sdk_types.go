package syncsdk

import (
	"log/slog"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/openmined/cryptsync/internal/version"
)

const (
	HeaderDeviceID      = "X-Device-Id"
	HeaderClientVersion = "X-Client-Version"

	// ChunkSize is the plaintext size of one transfer chunk
	ChunkSize = 1024 * 1024

	// BaseParent is the parent id the backend reports for direct children of a sync root
	BaseParent = "base"

	defaultRetryCount    = 3
	defaultRetryInterval = time.Second
	defaultTimeout       = 5 * time.Minute
)

// DeviceID identifies this machine to the backend so incremental tree listings
// can be computed per device. Falls back to a random id when the OS hides it.
var DeviceID = resolveDeviceID()

func resolveDeviceID() string {
	id, err := machineid.ProtectedID(version.AppName)
	if err != nil {
		slog.Warn("machine id unavailable, using random device id", "error", err)
		return uuid.NewString()
	}
	return id
}

type LockParams struct {
	Resource string `json:"resource"`
	LockID   string `json:"lockId"`
}

type DirTreeParams struct {
	UUID      string `json:"uuid"`
	DeviceID  string `json:"deviceId"`
	SkipCache bool   `json:"skipCache"`
}

// TreeFolder is one encrypted folder in a flat tree listing
type TreeFolder struct {
	UUID     string `json:"uuid"`
	Metadata string `json:"metadata"`
	Parent   string `json:"parent"`
}

// TreeFile is one encrypted file in a flat tree listing
type TreeFile struct {
	UUID     string `json:"uuid"`
	Metadata string `json:"metadata"`
	Parent   string `json:"parent"`
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Chunks   int    `json:"chunks"`
	Version  int    `json:"version"`
}

type DirTreeResponse struct {
	Folders []TreeFolder `json:"folders"`
	Files   []TreeFile   `json:"files"`
}

type DirPresentResponse struct {
	Present bool `json:"present"`
	Trash   bool `json:"trash"`
}

type CreateFolderParams struct {
	UUID     string `json:"uuid"`
	Metadata string `json:"metadata"`
	Parent   string `json:"parent"`
}

type CreateFolderResponse struct {
	UUID string `json:"uuid"`
}

type RenameParams struct {
	UUID     string `json:"uuid"`
	Metadata string `json:"metadata"`
}

type MoveParams struct {
	UUID string `json:"uuid"`
	To   string `json:"to"`
}

type TrashParams struct {
	UUID string `json:"uuid"`
}

type UploadChunkParams struct {
	UUID      string
	Index     int
	Parent    string
	UploadKey string
	Data      []byte
}

type UploadChunkResponse struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
}

type UploadDoneParams struct {
	UUID      string `json:"uuid"`
	Metadata  string `json:"metadata"`
	Parent    string `json:"parent"`
	Chunks    int    `json:"chunks"`
	Size      int64  `json:"size"`
	UploadKey string `json:"uploadKey"`
	Version   int    `json:"version"`
}

type UploadDoneResponse struct {
	Chunks int   `json:"chunks"`
	Size   int64 `json:"size"`
}

type DownloadChunkParams struct {
	UUID   string
	Bucket string
	Region string
	Index  int
}
