package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/openmined/cryptsync/internal/syncsdk"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "master-key-1"

// fakeCreds is always logged in unless told otherwise
type fakeCreds struct {
	keys      []string
	loggedOut bool
}

func (c *fakeCreds) LoggedIn() bool       { return !c.loggedOut }
func (c *fakeCreds) MasterKeys() []string { return c.keys }

// memStore is an in-memory Store
type memStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// fakeCryptor tags metadata with the key so decrypting with the wrong key fails.
// Chunks pass through untouched.
type fakeCryptor struct{}

func (fakeCryptor) EncryptMetadata(plaintext []byte, masterKey string) (string, error) {
	return masterKey + ":" + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (fakeCryptor) DecryptMetadata(blob string, masterKey string) ([]byte, error) {
	rest, ok := strings.CutPrefix(blob, masterKey+":")
	if !ok {
		return nil, errors.New("wrong key")
	}
	return base64.StdEncoding.DecodeString(rest)
}

func (fakeCryptor) NewFileKey() (string, error) { return uuid.NewString(), nil }

func (fakeCryptor) EncryptChunk(data []byte, _ string) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (fakeCryptor) DecryptChunk(data []byte, _ string) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

type fakeFile struct {
	syncsdk.TreeFile
	data [][]byte
}

// fakeRemote is an in-memory backend. Items are listed in creation order.
type fakeRemote struct {
	mu      sync.Mutex
	root    string
	crypt   Cryptor
	key     string
	folders map[string]*syncsdk.TreeFolder
	files   map[string]*fakeFile
	order   []string
	trashed map[string]bool
	pending map[string][][]byte

	rootGone   bool
	lockHolder string
	refreshes  int
	calls      map[string]int
	// failures makes the next n calls of an operation fail
	failures map[string]int
	// errs makes every call of an operation fail with a given error
	errs map[string]error
	// hooks run on every call of an operation, with the fake locked
	hooks map[string]func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		root:     uuid.NewString(),
		crypt:    fakeCryptor{},
		key:      testMasterKey,
		folders:  make(map[string]*syncsdk.TreeFolder),
		files:    make(map[string]*fakeFile),
		trashed:  make(map[string]bool),
		pending:  make(map[string][][]byte),
		calls:    make(map[string]int),
		failures: make(map[string]int),
		errs:     make(map[string]error),
		hooks:    make(map[string]func()),
	}
}

// call counts op and returns an injected failure if one is pending
func (r *fakeRemote) call(op string) error {
	r.calls[op]++
	if hook := r.hooks[op]; hook != nil {
		hook()
	}
	if err := r.errs[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if r.failures[op] > 0 {
		r.failures[op]--
		return fmt.Errorf("%s: injected failure", op)
	}
	return nil
}

func (r *fakeRemote) callCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *fakeRemote) failNext(op string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = n
}

func (r *fakeRemote) failWith(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[op] = err
}

func (r *fakeRemote) onCall(op string, hook func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[op] = hook
}

// mutations counts every call that changes remote state
func (r *fakeRemote) mutations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range []string{"CreateFolder", "RenameFolder", "MoveFolder", "TrashFolder", "RenameFile", "MoveFile", "TrashFile", "UploadDone"} {
		n += r.calls[op]
	}
	return n
}

func (r *fakeRemote) parentExists(parent string) bool {
	if parent == r.root {
		return true
	}
	_, ok := r.folders[parent]
	return ok && !r.trashed[parent]
}

func (r *fakeRemote) AcquireLock(_ context.Context, p *syncsdk.LockParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("AcquireLock"); err != nil {
		return err
	}
	if r.lockHolder != "" && r.lockHolder != p.LockID {
		return fmt.Errorf("acquire lock: %w", syncsdk.ErrLocked)
	}
	r.lockHolder = p.LockID
	return nil
}

func (r *fakeRemote) RefreshLock(_ context.Context, _ *syncsdk.LockParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	return r.call("RefreshLock")
}

func (r *fakeRemote) ReleaseLock(_ context.Context, p *syncsdk.LockParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ReleaseLock"); err != nil {
		return err
	}
	if r.lockHolder == p.LockID {
		r.lockHolder = ""
	}
	return nil
}

func (r *fakeRemote) DirTree(_ context.Context, _ *syncsdk.DirTreeParams) ([]byte, *syncsdk.DirTreeResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("DirTree"); err != nil {
		return nil, nil, err
	}

	resp := &syncsdk.DirTreeResponse{
		Folders: []syncsdk.TreeFolder{},
		Files:   []syncsdk.TreeFile{},
	}
	for _, id := range r.order {
		if r.trashed[id] {
			continue
		}
		if f, ok := r.folders[id]; ok {
			resp.Folders = append(resp.Folders, *f)
		}
		if f, ok := r.files[id]; ok {
			resp.Files = append(resp.Files, f.TreeFile)
		}
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, err
	}
	return raw, resp, nil
}

func (r *fakeRemote) DirPresent(_ context.Context, id string) (*syncsdk.DirPresentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("DirPresent"); err != nil {
		return nil, err
	}
	if id == r.root {
		return &syncsdk.DirPresentResponse{Present: !r.rootGone}, nil
	}
	_, ok := r.folders[id]
	return &syncsdk.DirPresentResponse{Present: ok, Trash: r.trashed[id]}, nil
}

func (r *fakeRemote) CreateFolder(_ context.Context, p *syncsdk.CreateFolderParams) (*syncsdk.CreateFolderResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("CreateFolder"); err != nil {
		return nil, err
	}
	if _, ok := r.folders[p.UUID]; ok {
		return nil, fmt.Errorf("create folder: %w", syncsdk.ErrAlreadyExists)
	}
	if !r.parentExists(p.Parent) {
		return nil, fmt.Errorf("create folder: %w", syncsdk.ErrNotFound)
	}
	r.folders[p.UUID] = &syncsdk.TreeFolder{UUID: p.UUID, Metadata: p.Metadata, Parent: p.Parent}
	r.order = append(r.order, p.UUID)
	return &syncsdk.CreateFolderResponse{UUID: p.UUID}, nil
}

func (r *fakeRemote) RenameFolder(_ context.Context, p *syncsdk.RenameParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("RenameFolder"); err != nil {
		return err
	}
	f, ok := r.folders[p.UUID]
	if !ok {
		return syncsdk.ErrNotFound
	}
	f.Metadata = p.Metadata
	return nil
}

func (r *fakeRemote) MoveFolder(_ context.Context, p *syncsdk.MoveParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MoveFolder"); err != nil {
		return err
	}
	f, ok := r.folders[p.UUID]
	if !ok || !r.parentExists(p.To) {
		return syncsdk.ErrNotFound
	}
	f.Parent = p.To
	return nil
}

func (r *fakeRemote) TrashFolder(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("TrashFolder"); err != nil {
		return err
	}
	if _, ok := r.folders[id]; !ok {
		return syncsdk.ErrNotFound
	}
	r.trashed[id] = true
	return nil
}

func (r *fakeRemote) RenameFile(_ context.Context, p *syncsdk.RenameParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("RenameFile"); err != nil {
		return err
	}
	f, ok := r.files[p.UUID]
	if !ok {
		return syncsdk.ErrNotFound
	}
	f.Metadata = p.Metadata
	return nil
}

func (r *fakeRemote) MoveFile(_ context.Context, p *syncsdk.MoveParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MoveFile"); err != nil {
		return err
	}
	f, ok := r.files[p.UUID]
	if !ok || !r.parentExists(p.To) {
		return syncsdk.ErrNotFound
	}
	f.Parent = p.To
	return nil
}

func (r *fakeRemote) TrashFile(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("TrashFile"); err != nil {
		return err
	}
	if _, ok := r.files[id]; !ok {
		return syncsdk.ErrNotFound
	}
	r.trashed[id] = true
	return nil
}

func (r *fakeRemote) UploadChunk(_ context.Context, p *syncsdk.UploadChunkParams) (*syncsdk.UploadChunkResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("UploadChunk"); err != nil {
		return nil, err
	}
	chunks := r.pending[p.UploadKey]
	for len(chunks) <= p.Index {
		chunks = append(chunks, nil)
	}
	chunks[p.Index] = append([]byte(nil), p.Data...)
	r.pending[p.UploadKey] = chunks
	return &syncsdk.UploadChunkResponse{Bucket: "bucket-1", Region: "region-1"}, nil
}

func (r *fakeRemote) UploadDone(_ context.Context, p *syncsdk.UploadDoneParams) (*syncsdk.UploadDoneResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("UploadDone"); err != nil {
		return nil, err
	}
	if !r.parentExists(p.Parent) {
		return nil, fmt.Errorf("upload done: %w", syncsdk.ErrNotFound)
	}
	chunks := r.pending[p.UploadKey]
	if len(chunks) != p.Chunks {
		return nil, fmt.Errorf("upload done: have %d chunks, want %d", len(chunks), p.Chunks)
	}
	delete(r.pending, p.UploadKey)

	r.files[p.UUID] = &fakeFile{
		TreeFile: syncsdk.TreeFile{
			UUID:     p.UUID,
			Metadata: p.Metadata,
			Parent:   p.Parent,
			Bucket:   "bucket-1",
			Region:   "region-1",
			Chunks:   p.Chunks,
			Version:  p.Version,
		},
		data: chunks,
	}
	r.order = append(r.order, p.UUID)
	return &syncsdk.UploadDoneResponse{Chunks: p.Chunks, Size: p.Size}, nil
}

func (r *fakeRemote) DownloadChunk(_ context.Context, p *syncsdk.DownloadChunkParams) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("DownloadChunk"); err != nil {
		return nil, err
	}
	f, ok := r.files[p.UUID]
	if !ok || p.Index >= len(f.data) {
		return nil, syncsdk.ErrNotFound
	}
	return append([]byte(nil), f.data[p.Index]...), nil
}

// seedFolder creates a remote folder directly, parent "" means the root
func (r *fakeRemote) seedFolder(t *testing.T, name, parent string) string {
	t.Helper()
	if parent == "" {
		parent = r.root
	}
	meta, err := json.Marshal(&folderMetadata{Name: name})
	require.NoError(t, err)
	blob, err := r.crypt.EncryptMetadata(meta, r.key)
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.folders[id] = &syncsdk.TreeFolder{UUID: id, Metadata: blob, Parent: parent}
	r.order = append(r.order, id)
	return id
}

// seedFile creates a remote file directly, parent "" means the root
func (r *fakeRemote) seedFile(t *testing.T, name, parent string, content []byte, mtime time.Time) string {
	t.Helper()
	if parent == "" {
		parent = r.root
	}
	meta, err := json.Marshal(&fileMetadata{
		Name:         name,
		Size:         int64(len(content)),
		Mime:         "application/octet-stream",
		Key:          "file-key",
		LastModified: mtime.UnixMilli(),
	})
	require.NoError(t, err)
	blob, err := r.crypt.EncryptMetadata(meta, r.key)
	require.NoError(t, err)

	var chunks [][]byte
	for off := 0; off < len(content); off += syncsdk.ChunkSize {
		end := min(off+syncsdk.ChunkSize, len(content))
		chunks = append(chunks, append([]byte(nil), content[off:end]...))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.files[id] = &fakeFile{
		TreeFile: syncsdk.TreeFile{
			UUID:     id,
			Metadata: blob,
			Parent:   parent,
			Bucket:   "bucket-1",
			Region:   "region-1",
			Chunks:   len(chunks),
			Version:  metadataVersion,
		},
		data: chunks,
	}
	r.order = append(r.order, id)
	return id
}

// remoteTree scans the fake the way the engine does
func remoteTree(t *testing.T, r *fakeRemote) *Tree {
	t.Helper()
	s, err := NewRemoteScanner(r, fakeCryptor{}, &fakeCreds{keys: []string{testMasterKey}}, 0)
	require.NoError(t, err)
	_, tree, err := s.Scan(t.Context(), &Location{UUID: "scan", RemoteUUID: r.root})
	require.NoError(t, err)
	return tree
}

// remoteContent reassembles a remote file by path
func remoteContent(t *testing.T, r *fakeRemote, p string) []byte {
	t.Helper()
	f, ok := remoteTree(t, r).Files[p]
	require.True(t, ok, "remote file %q missing", p)

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, chunk := range r.files[f.Identity].data {
		out = append(out, chunk...)
	}
	return out
}

func writeFile(t *testing.T, root, rel, content string, mtime time.Time) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(abs, mtime, mtime))
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

// treeOf builds a tree from path specs. A trailing slash makes a folder.
// Identities are "id:<path>" unless given as path=identity.
func treeOf(specs ...string) *Tree {
	tree := NewTree()
	for _, spec := range specs {
		p, id, found := strings.Cut(spec, "=")
		if !found {
			id = "id:" + strings.TrimSuffix(p, "/")
		}
		if strings.HasSuffix(p, "/") {
			p = strings.TrimSuffix(p, "/")
			tree.AddFolder(p, &FolderEntry{Name: baseName(p), Identity: id})
			continue
		}
		tree.AddFile(p, &FileEntry{Name: baseName(p), Size: 1, LastModified: 1000, Identity: id})
	}
	return tree
}

func taskPaths(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.Action.IsRelocation() {
			out = append(out, t.From+"->"+t.To)
		} else {
			out = append(out, t.Path)
		}
	}
	return out
}
