package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/cryptsync/internal/utils"
)

const (
	logsDir  = "logs"
	trashDir = ".trash"
	stateDir = ".data"
	lockFile = "cryptsync.lock"
	dbFile   = "state.db"
	logFile  = "cryptsync.log"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
)

// Workspace is the client's data directory: the state db, logs and the local trash.
// Synced locations live elsewhere on disk.
type Workspace struct {
	Root     string
	LogsDir  string
	TrashDir string
	StateDir string
	DBPath   string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	state := filepath.Join(root, stateDir)
	return &Workspace{
		Root:     root,
		LogsDir:  filepath.Join(root, logsDir),
		TrashDir: filepath.Join(root, trashDir),
		StateDir: state,
		DBPath:   filepath.Join(state, dbFile),
		flock:    flock.New(filepath.Join(state, lockFile)),
	}, nil
}

// LogFile is where the rotating client log is written
func (w *Workspace) LogFile() string {
	return filepath.Join(w.LogsDir, logFile)
}

// Lock makes sure only one process syncs out of this workspace
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.StateDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.StateDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup creates the layout and takes the workspace lock
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)

	for _, dir := range []string{w.LogsDir, w.TrashDir, w.StateDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Contains reports whether path is inside the workspace. Locations may not live there.
func (w *Workspace) Contains(path string) bool {
	abs, err := utils.ResolvePath(path)
	if err != nil {
		return false
	}
	return utils.IsSubPath(filepath.ToSlash(w.Root), filepath.ToSlash(abs))
}
