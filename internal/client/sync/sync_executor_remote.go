package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/openmined/cryptsync/internal/syncsdk"
	"github.com/openmined/cryptsync/internal/utils"
	"golang.org/x/sync/errgroup"
)

// metadataVersion is stored with uploads so readers know the metadata scheme
const metadataVersion = 2

// remoteIndex resolves remote uuids for tree paths while a cycle's tasks
// change the remote layout. The planning tree is never modified.
type remoteIndex struct {
	root string
	tree *Tree

	mu      sync.Mutex
	created map[string]string
	moves   pathRewriter
	// files relocated this cycle by new path, an empty id marks a vacated path
	files map[string]string
}

func newRemoteIndex(root string, tree *Tree) *remoteIndex {
	return &remoteIndex{
		root:    root,
		tree:    tree,
		created: make(map[string]string),
		files:   make(map[string]string),
	}
}

// fileUUID returns the uuid of the file currently at p
func (r *remoteIndex) fileUUID(p string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.files[p]; ok {
		return id, id != ""
	}
	if f, ok := r.tree.Files[r.moves.reverse(p)]; ok {
		return f.Identity, true
	}
	return "", false
}

func (r *remoteIndex) addFileMove(from, to, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[from] = ""
	r.files[to] = id
}

// folderUUID returns the uuid of the folder currently at p
func (r *remoteIndex) folderUUID(p string) (string, bool) {
	if p == "" {
		return r.root, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.created[p]; ok {
		return id, true
	}
	if f, ok := r.tree.Folders[r.moves.reverse(p)]; ok {
		return f.Identity, true
	}
	return "", false
}

func (r *remoteIndex) addFolder(p, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[p] = id
}

func (r *remoteIndex) addMove(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves.add(from, to)
	// folders created under the old path moved along
	moved := make(map[string]string)
	for p, id := range r.created {
		if utils.IsSubPath(from, p) {
			delete(r.created, p)
			moved[to+p[len(from):]] = id
		}
	}
	for p, id := range moved {
		r.created[p] = id
	}
}

func (x *execution) newestMasterKey() (string, error) {
	keys := x.creds.MasterKeys()
	if len(keys) == 0 {
		return "", ErrNoMasterKeys
	}
	return keys[len(keys)-1], nil
}

func (x *execution) encryptMetadata(v any) (string, error) {
	key, err := x.newestMasterKey()
	if err != nil {
		return "", err
	}
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return x.crypt.EncryptMetadata(plain, key)
}

// ensureRemoteFolder returns the uuid of the folder at p, creating it and any
// missing ancestors. Every folder created here is reported as done.
func (x *execution) ensureRemoteFolder(ctx context.Context, p string) (string, error) {
	if id, ok := x.remote.folderUUID(p); ok {
		return id, nil
	}

	v, err, _ := x.mkdir.Do(p, func() (any, error) {
		if id, ok := x.remote.folderUUID(p); ok {
			return id, nil
		}

		parentID, err := x.ensureRemoteFolder(ctx, utils.ParentPath(p))
		if err != nil {
			return "", err
		}

		name := baseName(p)
		metadata, err := x.encryptMetadata(&folderMetadata{Name: name})
		if err != nil {
			return "", err
		}

		id := uuid.NewString()
		err = x.apiCall(ctx, func() error {
			_, err := x.api.CreateFolder(ctx, &syncsdk.CreateFolderParams{
				UUID:     id,
				Metadata: metadata,
				Parent:   parentID,
			})
			return err
		})
		if errors.Is(err, syncsdk.ErrAlreadyExists) {
			// a resent request of ours may have gone through, anything else
			// under that name belongs to someone else
			live, perr := x.remoteFolderLive(ctx, id)
			if perr != nil {
				return "", fmt.Errorf("create remote folder %q: %w", p, perr)
			}
			if !live {
				return "", fmt.Errorf("create remote folder %q: %w", p, ErrRemoteNameTaken)
			}
			err = nil
		}
		if err != nil {
			return "", fmt.Errorf("create remote folder %q: %w", p, err)
		}

		x.remote.addFolder(p, id)
		x.addDone(&DoneTask{
			Task:   newTask(ActionUpload, ItemFolder, p),
			Folder: &FolderEntry{Name: name, Identity: id},
		})
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (x *execution) uploadFolder(ctx context.Context, t *Task) (*DoneTask, error) {
	id, err := x.ensureRemoteFolder(ctx, t.Path)
	if err != nil {
		return nil, err
	}
	return &DoneTask{Task: t, Folder: &FolderEntry{Name: baseName(t.Path), Identity: id}}, nil
}

// relocateRemote renames or moves the remote item that sat at t.From when
// the cycle was planned
func (x *execution) relocateRemote(ctx context.Context, t *Task) (*DoneTask, error) {
	id, itemType, ok := x.in.RemoteNow.IdentityAt(t.From)
	if !ok || itemType != t.Type {
		// nothing to relocate, the next scan picks up whatever is there
		return &DoneTask{Task: t}, nil
	}

	if t.Action == ActionMoveRemote {
		parentID, err := x.ensureRemoteFolder(ctx, utils.ParentPath(t.To))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRemoteParent, err)
		}
		params := &syncsdk.MoveParams{UUID: id, To: parentID}
		err = x.apiCall(ctx, func() error {
			if t.Type == ItemFolder {
				return x.api.MoveFolder(ctx, params)
			}
			return x.api.MoveFile(ctx, params)
		})
		switch {
		case isGone(err):
			// not found covers both the item and the target folder
			live, perr := x.remoteFolderLive(ctx, parentID)
			if perr != nil {
				return nil, fmt.Errorf("remote move: %w", perr)
			}
			if !live {
				return nil, fmt.Errorf("remote move: %w", ErrRemoteParent)
			}
			return &DoneTask{Task: t}, nil
		case errors.Is(err, syncsdk.ErrAlreadyExists):
			return nil, fmt.Errorf("remote move to %q: %w", t.To, ErrRemoteNameTaken)
		case err != nil:
			return nil, fmt.Errorf("remote move: %w", err)
		}
	}

	if baseName(t.From) != baseName(t.To) {
		if err := x.renameRemote(ctx, t, id); err != nil {
			return nil, err
		}
	}

	if t.Type == ItemFolder {
		x.remote.addMove(t.From, t.To)
	} else {
		x.remote.addFileMove(t.From, t.To, id)
	}
	return &DoneTask{Task: t}, nil
}

func (x *execution) renameRemote(ctx context.Context, t *Task, id string) error {
	name := baseName(t.To)

	var meta any = &folderMetadata{Name: name}
	if t.Type == ItemFile {
		f, ok := x.in.RemoteNow.Files[t.From]
		if !ok {
			return nil
		}
		meta = &fileMetadata{
			Name:         name,
			Size:         f.Size,
			Mime:         f.Mime,
			Key:          f.Key,
			LastModified: f.LastModified,
		}
	}
	metadata, err := x.encryptMetadata(meta)
	if err != nil {
		return err
	}

	params := &syncsdk.RenameParams{UUID: id, Metadata: metadata}
	err = x.apiCall(ctx, func() error {
		if t.Type == ItemFolder {
			return x.api.RenameFolder(ctx, params)
		}
		return x.api.RenameFile(ctx, params)
	})
	switch {
	case err == nil, isGone(err):
		return nil
	case errors.Is(err, syncsdk.ErrAlreadyExists):
		return fmt.Errorf("remote rename to %q: %w", t.To, ErrRemoteNameTaken)
	default:
		return fmt.Errorf("remote rename: %w", err)
	}
}

// remoteFolderLive reports whether a remote folder exists outside the trash
func (x *execution) remoteFolderLive(ctx context.Context, id string) (bool, error) {
	var resp *syncsdk.DirPresentResponse
	err := x.apiCall(ctx, func() error {
		var err error
		resp, err = x.api.DirPresent(ctx, id)
		return err
	})
	if isGone(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Present && !resp.Trash, nil
}

// deleteRemote trashes the remote item, a missing item counts as deleted
func (x *execution) deleteRemote(ctx context.Context, t *Task) (*DoneTask, error) {
	id, itemType, ok := x.in.RemoteNow.IdentityAt(t.Path)
	if !ok || itemType != t.Type {
		return &DoneTask{Task: t}, nil
	}

	err := x.apiCall(ctx, func() error {
		if t.Type == ItemFolder {
			return x.api.TrashFolder(ctx, id)
		}
		return x.api.TrashFile(ctx, id)
	})
	if err != nil && !isGone(err) {
		return nil, fmt.Errorf("remote trash: %w", err)
	}
	return &DoneTask{Task: t}, nil
}

// uploadFile encrypts the local file chunk by chunk and finalizes it as a new
// remote item. The previous remote version at the same path, including one
// relocated there earlier in the cycle, is trashed afterwards.
func (x *execution) uploadFile(ctx context.Context, t *Task) (*DoneTask, error) {
	abs := x.localPath(t.Path)
	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		// removed since the scan, the next cycle sees the delete
		return &DoneTask{Task: t}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", t.Path, err)
	}
	defer f.Close()

	before, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := before.Size()
	mtime := before.ModTime().UnixMilli()

	parentID, err := x.ensureRemoteFolder(ctx, utils.ParentPath(t.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteParent, err)
	}

	fileKey, err := x.crypt.NewFileKey()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	uploadKey := uuid.NewString()
	chunks := int((size + syncsdk.ChunkSize - 1) / syncsdk.ChunkSize)

	var (
		sent   atomic.Int64
		bucket string
		region string
		once   sync.Once
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < chunks; i++ {
		if err := x.limits.threads.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer x.limits.threads.Release(1)

			buf := make([]byte, syncsdk.ChunkSize)
			n, err := f.ReadAt(buf, int64(i)*syncsdk.ChunkSize)
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read chunk %d: %w", i, err)
			}
			data, err := x.crypt.EncryptChunk(buf[:n], fileKey)
			if err != nil {
				return err
			}

			resp, err := x.api.UploadChunk(gctx, &syncsdk.UploadChunkParams{
				UUID:      id,
				Index:     i,
				Parent:    parentID,
				UploadKey: uploadKey,
				Data:      data,
			})
			if err != nil {
				return fmt.Errorf("upload chunk %d: %w", i, err)
			}
			once.Do(func() {
				bucket, region = resp.Bucket, resp.Region
			})

			x.status.TaskProgress(x.loc.UUID, t, sent.Add(int64(n)), size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the file changed under us, the retry reads it again
	after, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if after.Size() != size || after.ModTime().UnixMilli() != mtime {
		return nil, fmt.Errorf("%q changed during upload", t.Path)
	}

	mime := utils.DetectMime(t.Path)
	name := baseName(t.Path)
	metadata, err := x.encryptMetadata(&fileMetadata{
		Name:         name,
		Size:         size,
		Mime:         mime,
		Key:          fileKey,
		LastModified: mtime,
		Creation:     time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	err = x.apiCall(ctx, func() error {
		_, err := x.api.UploadDone(ctx, &syncsdk.UploadDoneParams{
			UUID:      id,
			Metadata:  metadata,
			Parent:    parentID,
			Chunks:    chunks,
			Size:      size,
			UploadKey: uploadKey,
			Version:   metadataVersion,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("finish upload: %w", err)
	}

	if prevID, ok := x.remote.fileUUID(t.Path); ok && prevID != id {
		err := x.apiCall(ctx, func() error { return x.api.TrashFile(ctx, prevID) })
		if err != nil && !isGone(err) {
			return nil, fmt.Errorf("trash previous version: %w", err)
		}
	}

	return &DoneTask{
		Task: t,
		File: &FileEntry{
			Name:         name,
			Size:         size,
			LastModified: mtime,
			Identity:     id,
			Bucket:       bucket,
			Region:       region,
			Chunks:       chunks,
			Key:          fileKey,
			Mime:         mime,
			Version:      metadataVersion,
		},
	}, nil
}

// downloadFile fetches and decrypts all chunks into a temp file, then moves it
// into place carrying the remote modification time
func (x *execution) downloadFile(ctx context.Context, t *Task) (*DoneTask, error) {
	item := t.Item
	if item == nil {
		item = x.in.RemoteNow.Files[t.Path]
	}
	if item == nil {
		return nil, fmt.Errorf("download %q: %w", t.Path, syncsdk.ErrNotFound)
	}

	tmp, err := createTempFile(x.loc.Local, t.Path)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var received atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < item.Chunks; i++ {
		if err := x.limits.threads.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer x.limits.threads.Release(1)

			data, err := x.api.DownloadChunk(gctx, &syncsdk.DownloadChunkParams{
				UUID:   item.Identity,
				Bucket: item.Bucket,
				Region: item.Region,
				Index:  i,
			})
			if err != nil {
				return fmt.Errorf("download chunk %d: %w", i, err)
			}
			plain, err := x.crypt.DecryptChunk(data, item.Key)
			if err != nil {
				return fmt.Errorf("decrypt chunk %d: %w", i, err)
			}
			if _, err := tmp.WriteAt(plain, int64(i)*syncsdk.ChunkSize); err != nil {
				return fmt.Errorf("write chunk %d: %w", i, err)
			}

			x.status.TaskProgress(x.loc.UUID, t, received.Add(int64(len(plain))), item.Size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if received.Load() != item.Size {
		return nil, fmt.Errorf("download %q: got %d bytes, want %d", t.Path, received.Load(), item.Size)
	}

	var mtime time.Time
	if item.LastModified > 0 {
		mtime = time.UnixMilli(item.LastModified)
	}

	abs := x.localPath(t.Path)
	committed = true
	if err := commitTempFile(tmp, abs, mtime); err != nil {
		return nil, err
	}

	entry, err := localFileEntry(abs)
	if err != nil {
		return nil, err
	}
	return &DoneTask{Task: t, File: entry}, nil
}
