package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openmined/cryptsync/internal/utils"
)

func (x *execution) localPath(rel string) string {
	return filepath.Join(x.loc.Local, filepath.FromSlash(rel))
}

// relocateLocal renames or moves a local item. A missing source counts as
// done: an earlier attempt or the user already moved it, and the next scan
// sees wherever it ended up.
func (x *execution) relocateLocal(t *Task) (*DoneTask, error) {
	src := x.localPath(t.SourcePath())
	dst := x.localPath(t.To)

	if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
		return &DoneTask{Task: t}, nil
	}

	if err := utils.EnsureParent(dst); err != nil {
		return nil, fmt.Errorf("ensure parent: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("local %s: %w", t.Action, err)
	}
	return &DoneTask{Task: t}, nil
}

// deleteLocal moves the item to the location's trash
func (x *execution) deleteLocal(t *Task) (*DoneTask, error) {
	trash := ""
	if x.cfg.TrashDir != "" {
		trash = filepath.Join(x.cfg.TrashDir, x.loc.UUID)
	}
	if err := moveToTrash(trash, x.loc.Local, t.Path); err != nil {
		return nil, err
	}

	// leftover folders the remote never had are dropped too
	cleanupEmptyParentDirs(filepath.Dir(x.localPath(t.Path)), x.loc.Local, func(dir string) bool {
		rel, err := filepath.Rel(x.loc.Local, dir)
		if err != nil {
			return true
		}
		_, tracked := x.in.RemoteNow.Folders[utils.ToSlashRel(rel)]
		return tracked
	})

	return &DoneTask{Task: t}, nil
}

func (x *execution) downloadFolder(t *Task) (*DoneTask, error) {
	abs := x.localPath(t.Path)
	if err := utils.EnsureDir(abs); err != nil {
		return nil, fmt.Errorf("create local folder: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	return &DoneTask{
		Task: t,
		Folder: &FolderEntry{
			Name:         info.Name(),
			LastModified: info.ModTime().UnixMilli(),
			Identity:     inodeOf(abs, info),
		},
	}, nil
}

// localFileEntry stats a file the way the scanner would record it
func localFileEntry(abs string) (*FileEntry, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Name:         info.Name(),
		Size:         info.Size(),
		LastModified: info.ModTime().UnixMilli(),
		Identity:     inodeOf(abs, info),
	}, nil
}
