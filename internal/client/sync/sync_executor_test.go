package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/cryptsync/internal/syncsdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, api RemoteAPI) *Executor {
	t.Helper()
	return NewExecutor(api, fakeCryptor{}, &fakeCreds{keys: []string{testMasterKey}}, NewSyncStatus(), &EngineConfig{
		MaxTaskRetries: 2,
		TaskRetryDelay: time.Millisecond,
		TrashDir:       t.TempDir(),
	}, nil)
}

func execInput(t *testing.T, root string, remote *fakeRemote, tasks ...*Task) *ExecInput {
	t.Helper()
	return &ExecInput{
		Location:  &Location{UUID: "loc-1", Local: root, RemoteUUID: remote.root, Type: ModeTwoWay},
		Tasks:     listsOf(tasks...),
		LocalNow:  NewTree(),
		RemoteNow: remoteTree(t, remote),
	}
}

func TestExecutor_TaskTwice(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, root string, remote *fakeRemote) *Task
		between func(t *testing.T, root string)
		check   func(t *testing.T, root string, remote *fakeRemote)
	}{
		{
			name: "rename local",
			setup: func(t *testing.T, root string, _ *fakeRemote) *Task {
				writeFile(t, root, "a.txt", "alpha", time.Time{})
				return relocation(ActionRenameLocal, ItemFile, "a.txt", "b.txt")
			},
			check: func(t *testing.T, root string, _ *fakeRemote) {
				assert.Equal(t, "alpha", readFile(t, root, "b.txt"))
				assert.NoFileExists(t, filepath.Join(root, "a.txt"))
			},
		},
		{
			name: "rename local, destination removed in between",
			setup: func(t *testing.T, root string, _ *fakeRemote) *Task {
				writeFile(t, root, "a.txt", "alpha", time.Time{})
				return relocation(ActionRenameLocal, ItemFile, "a.txt", "b.txt")
			},
			between: func(t *testing.T, root string) {
				require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
			},
			check: func(t *testing.T, root string, _ *fakeRemote) {
				assert.NoFileExists(t, filepath.Join(root, "a.txt"))
				assert.NoFileExists(t, filepath.Join(root, "b.txt"))
			},
		},
		{
			name: "move local folder",
			setup: func(t *testing.T, root string, _ *fakeRemote) *Task {
				writeFile(t, root, "docs/a.txt", "alpha", time.Time{})
				require.NoError(t, os.MkdirAll(filepath.Join(root, "archive"), 0o755))
				return relocation(ActionMoveLocal, ItemFolder, "docs", "archive/docs")
			},
			check: func(t *testing.T, root string, _ *fakeRemote) {
				assert.Equal(t, "alpha", readFile(t, root, "archive/docs/a.txt"))
				assert.NoDirExists(t, filepath.Join(root, "docs"))
			},
		},
		{
			name: "delete local",
			setup: func(t *testing.T, root string, _ *fakeRemote) *Task {
				writeFile(t, root, "a.txt", "alpha", time.Time{})
				return task(ActionDeleteLocal, ItemFile, "a.txt")
			},
			check: func(t *testing.T, root string, _ *fakeRemote) {
				assert.NoFileExists(t, filepath.Join(root, "a.txt"))
			},
		},
		{
			name: "delete remote",
			setup: func(t *testing.T, _ string, remote *fakeRemote) *Task {
				remote.seedFile(t, "a.txt", "", []byte("alpha"), time.Now())
				return task(ActionDeleteRemote, ItemFile, "a.txt")
			},
			check: func(t *testing.T, _ string, remote *fakeRemote) {
				assert.Zero(t, liveRemoteFiles(remote))
			},
		},
		{
			name: "rename remote",
			setup: func(t *testing.T, _ string, remote *fakeRemote) *Task {
				remote.seedFile(t, "a.txt", "", []byte("alpha"), time.Now())
				return relocation(ActionRenameRemote, ItemFile, "a.txt", "b.txt")
			},
			check: func(t *testing.T, _ string, remote *fakeRemote) {
				assert.Equal(t, []string{"b.txt"}, keys(remoteTree(t, remote).Files))
			},
		},
		{
			name: "move remote",
			setup: func(t *testing.T, _ string, remote *fakeRemote) *Task {
				remote.seedFolder(t, "x", "")
				remote.seedFile(t, "a.txt", "", []byte("alpha"), time.Now())
				return relocation(ActionMoveRemote, ItemFile, "a.txt", "x/a.txt")
			},
			check: func(t *testing.T, _ string, remote *fakeRemote) {
				assert.Equal(t, []string{"x/a.txt"}, keys(remoteTree(t, remote).Files))
			},
		},
		{
			name: "upload folder",
			setup: func(t *testing.T, root string, _ *fakeRemote) *Task {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))
				return task(ActionUpload, ItemFolder, "dir")
			},
			check: func(t *testing.T, _ string, remote *fakeRemote) {
				assert.Equal(t, []string{"dir"}, keys(remoteTree(t, remote).Folders))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			remote := newFakeRemote()
			planned := tt.setup(t, root, remote)
			x := newTestExecutor(t, remote)

			res, err := x.Execute(t.Context(), execInput(t, root, remote, planned))
			require.NoError(t, err)
			require.Empty(t, res.Failed)

			// what the user or a crash changed before the task runs again
			if tt.between != nil {
				tt.between(t, root)
			}

			// the redo journal replays the same task against a fresh scan
			again := *planned
			res, err = x.Execute(t.Context(), execInput(t, root, remote, &again))
			require.NoError(t, err)
			assert.Empty(t, res.Failed)
			assert.Empty(t, res.Issues)
			assert.Len(t, res.Done, 1)

			tt.check(t, root, remote)
		})
	}
}

// resentCreate reports already exists for a folder create that went through,
// the way a resent request is answered
type resentCreate struct {
	*fakeRemote
}

func (r resentCreate) CreateFolder(ctx context.Context, p *syncsdk.CreateFolderParams) (*syncsdk.CreateFolderResponse, error) {
	if _, err := r.fakeRemote.CreateFolder(ctx, p); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("create folder: %w", syncsdk.ErrAlreadyExists)
}

func TestExecutor_RemoteNameClashes(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, remote *fakeRemote) *Task
		failingOp string
	}{
		{
			name: "rename file onto a taken name",
			setup: func(t *testing.T, remote *fakeRemote) *Task {
				remote.seedFile(t, "a.txt", "", []byte("alpha"), time.Now())
				return relocation(ActionRenameRemote, ItemFile, "a.txt", "b.txt")
			},
			failingOp: "RenameFile",
		},
		{
			name: "rename folder onto a taken name",
			setup: func(t *testing.T, remote *fakeRemote) *Task {
				remote.seedFolder(t, "docs", "")
				return relocation(ActionRenameRemote, ItemFolder, "docs", "papers")
			},
			failingOp: "RenameFolder",
		},
		{
			name: "move file onto a taken name",
			setup: func(t *testing.T, remote *fakeRemote) *Task {
				remote.seedFolder(t, "x", "")
				remote.seedFile(t, "a.txt", "", []byte("alpha"), time.Now())
				return relocation(ActionMoveRemote, ItemFile, "a.txt", "x/a.txt")
			},
			failingOp: "MoveFile",
		},
		{
			name: "create folder over someone else's",
			setup: func(t *testing.T, _ *fakeRemote) *Task {
				return task(ActionUpload, ItemFolder, "dir")
			},
			failingOp: "CreateFolder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			remote := newFakeRemote()
			planned := tt.setup(t, remote)
			remote.failWith(tt.failingOp, syncsdk.ErrAlreadyExists)

			res, err := newTestExecutor(t, remote).Execute(t.Context(), execInput(t, root, remote, planned))
			require.NoError(t, err)

			assert.Empty(t, res.Done)
			require.Len(t, res.Failed, 1)
			require.Len(t, res.Issues, 1)
			assert.Contains(t, res.Issues[0].Message, ErrRemoteNameTaken.Error())
			assert.Equal(t, 1, remote.callCount(tt.failingOp), "a name clash is not retried")
		})
	}
}

func TestExecutor_CreateFolderResentRequest(t *testing.T) {
	root := t.TempDir()
	remote := newFakeRemote()
	api := resentCreate{remote}

	res, err := newTestExecutor(t, api).Execute(t.Context(), execInput(t, root, remote, task(ActionUpload, ItemFolder, "dir")))
	require.NoError(t, err)

	assert.Empty(t, res.Failed)
	require.Len(t, res.Done, 2, "the created folder and the task itself")
	assert.Equal(t, []string{"dir"}, keys(remoteTree(t, remote).Folders))
	assert.Equal(t, 1, remote.callCount("DirPresent"))
}

func TestExecutor_RemoteMoveNotFound(t *testing.T) {
	tests := []struct {
		name     string
		breakIt  func(t *testing.T, remote *fakeRemote, folderID, fileID string)
		wantDone bool
	}{
		{
			name: "item already gone",
			breakIt: func(_ *testing.T, remote *fakeRemote, _, fileID string) {
				remote.mu.Lock()
				defer remote.mu.Unlock()
				delete(remote.files, fileID)
			},
			wantDone: true,
		},
		{
			name: "target folder trashed",
			breakIt: func(t *testing.T, remote *fakeRemote, folderID, _ string) {
				require.NoError(t, remote.TrashFolder(t.Context(), folderID))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			remote := newFakeRemote()
			folderID := remote.seedFolder(t, "x", "")
			fileID := remote.seedFile(t, "a.txt", "", []byte("alpha"), time.Now())

			// planned against the listing from before the breakage
			in := execInput(t, root, remote, relocation(ActionMoveRemote, ItemFile, "a.txt", "x/a.txt"))
			tt.breakIt(t, remote, folderID, fileID)

			res, err := newTestExecutor(t, remote).Execute(t.Context(), in)
			require.NoError(t, err)

			if tt.wantDone {
				assert.Len(t, res.Done, 1)
				assert.Empty(t, res.Failed)
				return
			}
			assert.Empty(t, res.Done)
			require.Len(t, res.Issues, 1)
			assert.Contains(t, res.Issues[0].Message, ErrRemoteParent.Error())
		})
	}
}

func TestExecutor_UploadAfterRenameReplacesRenamedVersion(t *testing.T) {
	root := t.TempDir()
	remote := newFakeRemote()
	oldID := remote.seedFile(t, "a.txt", "", []byte("old content"), time.UnixMilli(1700000000000))
	writeFile(t, root, "b.txt", "new content", time.UnixMilli(1700000010000))

	upload := task(ActionUpload, ItemFile, "b.txt")
	upload.Relocated = true

	res, err := newTestExecutor(t, remote).Execute(t.Context(), execInput(t, root, remote,
		relocation(ActionRenameRemote, ItemFile, "a.txt", "b.txt"),
		upload,
	))
	require.NoError(t, err)
	require.Empty(t, res.Failed)

	assert.Equal(t, "new content", string(remoteContent(t, remote, "b.txt")))
	assert.Equal(t, 1, liveRemoteFiles(remote))
	remote.mu.Lock()
	assert.True(t, remote.trashed[oldID])
	remote.mu.Unlock()
}

func TestExecutor_TransfersHoldTaskSlots(t *testing.T) {
	root := t.TempDir()
	remote := newFakeRemote()
	writeFile(t, root, "a.txt", "alpha", time.Time{})
	x := newTestExecutor(t, remote)

	require.NoError(t, x.limits.tasks.Acquire(t.Context(), x.cfg.MaxSyncTasks))
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := x.Execute(ctx, execInput(t, root, remote, task(ActionUpload, ItemFile, "a.txt")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, remote.callCount("UploadChunk"), "no transfer starts without a task slot")

	x.limits.tasks.Release(x.cfg.MaxSyncTasks)
	res, err := x.Execute(t.Context(), execInput(t, root, remote, task(ActionUpload, ItemFile, "a.txt")))
	require.NoError(t, err)
	assert.Len(t, res.Done, 1)
	assert.Equal(t, "alpha", string(remoteContent(t, remote, "a.txt")))
}
