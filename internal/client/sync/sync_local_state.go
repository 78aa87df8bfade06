package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/openmined/cryptsync/internal/utils"
)

const maxScanBackoff = 250 * time.Millisecond

// LocalScanner snapshots a location's local directory
type LocalScanner struct {
	journal    *SyncJournal
	maxRetries int
}

func NewLocalScanner(journal *SyncJournal, maxRetries int) *LocalScanner {
	if maxRetries <= 0 {
		maxRetries = defaultMaxScanRetries
	}
	return &LocalScanner{journal: journal, maxRetries: maxRetries}
}

// Scan walks the location root. Without force, a location the watcher hasn't
// flagged returns the cached snapshot with changed=false.
func (s *LocalScanner) Scan(ctx context.Context, loc *Location, force bool) (bool, *Tree, error) {
	cached, hasCache, err := s.journal.LocalTree(loc.UUID)
	if err != nil {
		return false, nil, fmt.Errorf("load local tree: %w", err)
	}
	flagged, err := s.journal.LocalChanged(loc.UUID)
	if err != nil {
		return false, nil, fmt.Errorf("load changed flag: %w", err)
	}
	if !force && !flagged && hasCache {
		return false, cached, nil
	}
	if !hasCache {
		cached = NewTree()
	}

	// cleared before walking so events during the walk flag the next cycle
	if err := s.journal.SetLocalChanged(loc.UUID, false); err != nil {
		return false, nil, fmt.Errorf("clear changed flag: %w", err)
	}

	start := time.Now()
	tree, err := s.walk(ctx, loc.Local, cached)
	if err != nil {
		// the walk didn't finish, make sure the next cycle rescans
		_ = s.journal.SetLocalChanged(loc.UUID, true)
		return false, nil, err
	}

	if err := s.journal.SaveLocalTree(loc.UUID, tree); err != nil {
		return false, nil, fmt.Errorf("save local tree: %w", err)
	}

	slog.Debug("local scan", "location", loc.UUID, "files", len(tree.Files), "folders", len(tree.Folders), "took", time.Since(start))
	return true, tree, nil
}

func (s *LocalScanner) walk(ctx context.Context, root string, cached *Tree) (*Tree, error) {
	tree := NewTree()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if path == root {
			if walkErr != nil {
				return fmt.Errorf("walk root: %w", walkErr)
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		rel = utils.ToSlashRel(rel)

		if walkErr != nil {
			// unreadable directory, drop it with everything below
			slog.Debug("local scan skip", "path", rel, "error", walkErr)
			tree.Remove(rel)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if isDefaultIgnored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := s.lstat(ctx, path)
		if err != nil {
			if isTransientFSError(err) {
				fallbackToCached(tree, cached, rel)
			} else if !errors.Is(err, fs.ErrPermission) && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("local scan stat", "path", rel, "error", err)
			}
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		identity := inodeOf(path, info)
		mtime := info.ModTime().UnixMilli()

		switch {
		case info.IsDir():
			tree.AddFolder(rel, &FolderEntry{
				Name:         info.Name(),
				LastModified: mtime,
				Identity:     identity,
			})
		case info.Mode().IsRegular():
			if info.Size() == 0 {
				return nil
			}
			tree.AddFile(rel, &FileEntry{
				Name:         info.Name(),
				Size:         info.Size(),
				LastModified: mtime,
				Identity:     identity,
			})
		}
		// symlinks, sockets and devices are not synced
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan: %w", err)
	}
	return tree, nil
}

// lstat retries transient errors with a bounded backoff
func (s *LocalScanner) lstat(ctx context.Context, path string) (fs.FileInfo, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		info, err := os.Lstat(path)
		if err == nil {
			return info, nil
		}
		if !isTransientFSError(err) {
			return nil, err
		}
		lastErr = err

		backoff := min(time.Duration(attempt+1)*10*time.Millisecond, maxScanBackoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func isTransientFSError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EWOULDBLOCK)
}

// fallbackToCached keeps the previous snapshot's entry for a path that can't be stat'd right now
func fallbackToCached(tree, cached *Tree, rel string) {
	if f, ok := cached.Files[rel]; ok {
		cp := *f
		tree.AddFile(rel, &cp)
	}
	if d, ok := cached.Folders[rel]; ok {
		cp := *d
		tree.AddFolder(rel, &cp)
	}
}
