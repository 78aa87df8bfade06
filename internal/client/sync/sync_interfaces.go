package sync

import (
	"context"

	"github.com/openmined/cryptsync/internal/syncsdk"
)

// RemoteAPI is the slice of the backend the engine talks to.
// *syncsdk.SyncSDK implements it.
type RemoteAPI interface {
	AcquireLock(ctx context.Context, params *syncsdk.LockParams) error
	RefreshLock(ctx context.Context, params *syncsdk.LockParams) error
	ReleaseLock(ctx context.Context, params *syncsdk.LockParams) error

	DirTree(ctx context.Context, params *syncsdk.DirTreeParams) ([]byte, *syncsdk.DirTreeResponse, error)
	DirPresent(ctx context.Context, uuid string) (*syncsdk.DirPresentResponse, error)

	CreateFolder(ctx context.Context, params *syncsdk.CreateFolderParams) (*syncsdk.CreateFolderResponse, error)
	RenameFolder(ctx context.Context, params *syncsdk.RenameParams) error
	MoveFolder(ctx context.Context, params *syncsdk.MoveParams) error
	TrashFolder(ctx context.Context, uuid string) error

	RenameFile(ctx context.Context, params *syncsdk.RenameParams) error
	MoveFile(ctx context.Context, params *syncsdk.MoveParams) error
	TrashFile(ctx context.Context, uuid string) error

	UploadChunk(ctx context.Context, params *syncsdk.UploadChunkParams) (*syncsdk.UploadChunkResponse, error)
	UploadDone(ctx context.Context, params *syncsdk.UploadDoneParams) (*syncsdk.UploadDoneResponse, error)
	DownloadChunk(ctx context.Context, params *syncsdk.DownloadChunkParams) ([]byte, error)
}

// Cryptor encrypts metadata with master keys and file content with per-file keys.
// *crypt.Cryptor implements it.
type Cryptor interface {
	EncryptMetadata(plaintext []byte, masterKey string) (string, error)
	DecryptMetadata(blob string, masterKey string) ([]byte, error)
	NewFileKey() (string, error)
	EncryptChunk(data []byte, fileKey string) ([]byte, error)
	DecryptChunk(data []byte, fileKey string) ([]byte, error)
}

// Store is a durable key/value store. *kvstore.Store implements it.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Credentials supplies the login state and the master keys, oldest first
type Credentials interface {
	LoggedIn() bool
	MasterKeys() []string
}

// fileMetadata is the decrypted metadata of a remote file
type fileMetadata struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Mime         string `json:"mime"`
	Key          string `json:"key"`
	LastModified int64  `json:"lastModified"`
	Creation     int64  `json:"creation,omitempty"`
}

// folderMetadata is the decrypted metadata of a remote folder
type folderMetadata struct {
	Name string `json:"name"`
}
