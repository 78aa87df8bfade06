package sync

import "errors"

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrIssuesPresent      = errors.New("sync issues present, clear them to resume")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrPaused             = errors.New("sync paused")

	ErrMissingUUID      = errors.New("missing uuid")
	ErrMissingLocalPath = errors.New("missing local path")
	ErrMissingRemote    = errors.New("missing remote folder")
	ErrInvalidSyncMode  = errors.New("invalid sync mode")
	ErrLocationNotFound = errors.New("location not found")

	ErrRemoteFolderGone = errors.New("remote folder missing or trashed")
	ErrLocalUnusable    = errors.New("local directory not readable and writable")
	ErrLowDiskSpace     = errors.New("not enough free disk space")
	ErrNoMasterKeys     = errors.New("no master keys")
	ErrUndecryptable    = errors.New("metadata could not be decrypted with any master key")
	ErrTaskExhausted    = errors.New("task failed after all retries")
	ErrRemoteParent     = errors.New("remote parent folder unresolved")
	ErrRemoteNameTaken  = errors.New("remote name already taken by another item")
)
