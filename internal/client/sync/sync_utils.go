package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openmined/cryptsync/internal/utils"
)

// tmpDirName holds partial downloads inside the location root so the final
// rename stays on one filesystem. The scanner skips it as a dotfile.
const tmpDirName = ".cryptsync.tmp"

// createTempFile opens a temp file for a download into path
func createTempFile(root, path string) (*os.File, error) {
	tmpDir := filepath.Join(root, tmpDirName)
	if err := utils.EnsureDir(tmpDir); err != nil {
		return nil, fmt.Errorf("ensure temp directory: %w", err)
	}
	f, err := os.CreateTemp(tmpDir, filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// commitTempFile syncs and closes tmp, stamps the modification time and
// renames it over path
func commitTempFile(tmp *os.File, path string, mtime time.Time) error {
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
			return fmt.Errorf("set mtime: %w", err)
		}
	}
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("ensure parent: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	success = true
	return nil
}

// moveToTrash moves path under trashDir keeping its relative layout.
// Without a trash dir, or across filesystems, the path is removed instead.
func moveToTrash(trashDir, root, rel string) error {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if _, err := os.Lstat(abs); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if trashDir != "" {
		stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		dst := filepath.Join(trashDir, stamp, filepath.FromSlash(rel))
		err := utils.EnsureParent(dst)
		if err == nil {
			err = os.Rename(abs, dst)
		}
		if err == nil {
			return nil
		}
		slog.Debug("trash failed, removing", "path", rel, "error", err)
	}

	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// cleanupEmptyParentDirs removes empty directories from dir up to root.
// keep stops the walk at directories that must stay even when empty.
func cleanupEmptyParentDirs(dir, root string, keep func(dir string) bool) {
	current := dir

	for current != root && strings.HasPrefix(current, root+string(filepath.Separator)) {
		if keep != nil && keep(current) {
			break
		}

		entries, err := os.ReadDir(current)
		if err != nil {
			break
		}

		remaining := 0
		for _, entry := range entries {
			if defaultIgnoreNames.Contains(entry.Name()) {
				_ = os.RemoveAll(filepath.Join(current, entry.Name()))
			} else {
				remaining++
			}
		}
		if remaining > 0 {
			break
		}

		if err := os.Remove(current); err != nil {
			slog.Debug("cleanup empty dir", "path", current, "error", err)
			break
		}
		current = filepath.Dir(current)
	}
}
