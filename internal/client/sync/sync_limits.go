package sync

import (
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultSyncInterval      = 5 * time.Second
	defaultMaxSyncTasks      = 1024
	defaultMaxTransfers      = 8
	defaultMaxThreads        = 64
	defaultMaxAPICalls       = 32
	defaultMaxTaskRetries    = 8
	defaultTaskRetryDelay    = time.Second
	defaultLockTimeout       = 30 * time.Second
	defaultLockRetryInterval = time.Second
	defaultMinFreeDiskBytes  = 512 * 1024 * 1024
	defaultMaxScanRetries    = 64
	defaultMetadataCacheSize = 65536

	// SyncLockResource is the name of the cross-client lock on the backend
	SyncLockResource = "sync"
)

// EngineConfig holds the engine tunables. Zero fields take defaults.
type EngineConfig struct {
	SyncInterval      time.Duration
	MaxSyncTasks      int64
	MaxTransfers      int64
	MaxThreads        int64
	MaxAPICalls       int64
	MaxTaskRetries    int
	TaskRetryDelay    time.Duration
	LockTimeout       time.Duration
	LockRetryInterval time.Duration
	MinFreeDiskBytes  uint64
	MaxScanRetries    int
	MetadataCacheSize int
	// TrashDir receives local deletes, one subdirectory per location
	TrashDir string
}

func (c *EngineConfig) withDefaults() *EngineConfig {
	out := *c
	if out.SyncInterval <= 0 {
		out.SyncInterval = defaultSyncInterval
	}
	if out.MaxSyncTasks <= 0 {
		out.MaxSyncTasks = defaultMaxSyncTasks
	}
	if out.MaxTransfers <= 0 {
		out.MaxTransfers = defaultMaxTransfers
	}
	if out.MaxThreads <= 0 {
		out.MaxThreads = defaultMaxThreads
	}
	if out.MaxAPICalls <= 0 {
		out.MaxAPICalls = defaultMaxAPICalls
	}
	if out.MaxTaskRetries <= 0 {
		out.MaxTaskRetries = defaultMaxTaskRetries
	}
	if out.TaskRetryDelay <= 0 {
		out.TaskRetryDelay = defaultTaskRetryDelay
	}
	if out.LockTimeout <= 0 {
		out.LockTimeout = defaultLockTimeout
	}
	if out.LockRetryInterval <= 0 {
		out.LockRetryInterval = defaultLockRetryInterval
	}
	if out.MinFreeDiskBytes == 0 {
		out.MinFreeDiskBytes = defaultMinFreeDiskBytes
	}
	if out.MaxScanRetries <= 0 {
		out.MaxScanRetries = defaultMaxScanRetries
	}
	if out.MetadataCacheSize <= 0 {
		out.MetadataCacheSize = defaultMetadataCacheSize
	}
	return &out
}

// limits are the process wide gates shared by every location
type limits struct {
	tasks     *semaphore.Weighted
	transfers *semaphore.Weighted
	threads   *semaphore.Weighted
	apiCalls  *semaphore.Weighted
}

func newLimits(cfg *EngineConfig) *limits {
	return &limits{
		tasks:     semaphore.NewWeighted(cfg.MaxSyncTasks),
		transfers: semaphore.NewWeighted(cfg.MaxTransfers),
		threads:   semaphore.NewWeighted(cfg.MaxThreads),
		apiCalls:  semaphore.NewWeighted(cfg.MaxAPICalls),
	}
}
