package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/cryptsync/internal/utils"
	"github.com/shirou/gopsutil/v4/disk"
)

// SyncEngine runs sync cycles over every configured location
type SyncEngine struct {
	api        RemoteAPI
	creds      Credentials
	cfg        *EngineConfig
	journal    *SyncJournal
	local      *LocalScanner
	remote     *RemoteScanner
	executor   *Executor
	lock       *SyncLock
	syncStatus *SyncStatus

	// freeSpace is swapped in tests
	freeSpace func(ctx context.Context, path string) (uint64, error)

	watch     bool
	watchers  map[string]*FileWatcher
	watcherMu sync.Mutex

	// locations synced at least once by this process
	synced   map[string]bool
	syncedMu sync.Mutex

	paused atomic.Bool
	muSync sync.Mutex
	wg     sync.WaitGroup
}

func NewSyncEngine(api RemoteAPI, crypt Cryptor, creds Credentials, store Store, cfg *EngineConfig) (*SyncEngine, error) {
	if cfg == nil {
		cfg = &EngineConfig{}
	}
	cfg = cfg.withDefaults()

	journal := NewSyncJournal(store)
	syncStatus := NewSyncStatus()

	remote, err := NewRemoteScanner(api, crypt, creds, cfg.MetadataCacheSize)
	if err != nil {
		return nil, err
	}

	se := &SyncEngine{
		api:        api,
		creds:      creds,
		cfg:        cfg,
		journal:    journal,
		local:      NewLocalScanner(journal, cfg.MaxScanRetries),
		remote:     remote,
		lock:       NewSyncLock(api, SyncLockResource, cfg.LockTimeout, cfg.LockRetryInterval),
		syncStatus: syncStatus,
		freeSpace:  diskFree,
		watchers:   make(map[string]*FileWatcher),
		synced:     make(map[string]bool),
	}
	se.executor = NewExecutor(api, crypt, creds, syncStatus, cfg, se.paused.Load)
	return se, nil
}

func diskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

func (se *SyncEngine) Journal() *SyncJournal {
	return se.journal
}

func (se *SyncEngine) Status() *SyncStatus {
	return se.syncStatus
}

// Pause stops new cycles and makes a running cycle stop at the next category or transfer
func (se *SyncEngine) Pause() {
	se.paused.Store(true)
}

func (se *SyncEngine) Resume() {
	se.paused.Store(false)
}

func (se *SyncEngine) Paused() bool {
	return se.paused.Load()
}

// Start runs a cycle right away and then one every SyncInterval until ctx ends.
// Location roots are watched while the loop runs.
func (se *SyncEngine) Start(ctx context.Context) error {
	slog.Info("sync start", "interval", se.cfg.SyncInterval)
	se.watch = true

	// a crash mid cycle leaves the flag behind
	if locs, err := se.journal.Locations(); err == nil {
		for _, loc := range locs {
			if loc.Busy {
				se.setBusy(loc, false)
			}
		}
	}

	se.wg.Add(1)
	go func() {
		defer se.wg.Done()

		se.runLoggedSync(ctx)

		// using a timer and not a ticker to avoid queued ticks when
		// a cycle takes more than SyncInterval to complete
		timer := time.NewTimer(se.cfg.SyncInterval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				se.runLoggedSync(ctx)
				timer.Reset(se.cfg.SyncInterval)
			}
		}
	}()

	return nil
}

func (se *SyncEngine) Stop() error {
	slog.Info("sync stop")
	se.wg.Wait()

	se.watcherMu.Lock()
	for id, w := range se.watchers {
		w.Stop()
		delete(se.watchers, id)
	}
	se.watcherMu.Unlock()

	se.syncStatus.Close()
	return nil
}

func (se *SyncEngine) runLoggedSync(ctx context.Context) {
	err := se.RunSync(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, ErrIssuesPresent), errors.Is(err, ErrPaused),
		errors.Is(err, ErrNotLoggedIn), errors.Is(err, ErrSyncAlreadyRunning):
		slog.Debug("sync skipped", "reason", err)
	default:
		slog.Error("sync", "error", err)
	}
}

// RunSync runs a single cycle over all locations
func (se *SyncEngine) RunSync(ctx context.Context) (err error) {
	se.syncStatus.Stage("", StageTick, StatusStart, nil)
	defer func() {
		if err != nil {
			se.syncStatus.Stage("", StageTick, StatusError, err)
		} else {
			se.syncStatus.Stage("", StageTick, StatusDone, nil)
		}
	}()

	if !se.creds.LoggedIn() {
		return ErrNotLoggedIn
	}

	locations, err := se.journal.Locations()
	if err != nil {
		return fmt.Errorf("load locations: %w", err)
	}
	se.reapWatchers(locations)

	issues, err := se.journal.Issues()
	if err != nil {
		return fmt.Errorf("load issues: %w", err)
	}
	if len(issues) > 0 {
		return ErrIssuesPresent
	}

	if se.paused.Load() {
		return ErrPaused
	}

	if !se.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer se.muSync.Unlock()

	active := make([]*Location, 0, len(locations))
	for _, loc := range locations {
		if !loc.Paused {
			active = append(active, loc)
		}
	}
	if len(active) == 0 {
		return nil
	}

	se.syncStatus.Reset()

	if err := se.lock.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := se.lock.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("sync lock release", "error", err)
		}
	}()

	tStart := time.Now()
	for _, loc := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if se.paused.Load() {
			return ErrPaused
		}

		se.setBusy(loc, true)
		err := se.syncLocation(ctx, loc)
		se.setBusy(loc, false)

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, ErrPaused):
			return err
		default:
			slog.Error("sync location", "location", loc.UUID, "local", loc.Local, "error", err)
			se.recordLocationIssue(loc, err)
		}
	}

	slog.Debug("sync tick", "locations", len(active), "took", time.Since(tStart))
	return nil
}

// recordLocationIssue keeps precondition failures around until the user clears them
func (se *SyncEngine) recordLocationIssue(loc *Location, err error) {
	switch {
	case errors.Is(err, ErrRemoteFolderGone), errors.Is(err, ErrLocalUnusable),
		errors.Is(err, ErrLowDiskSpace), errors.Is(err, ErrNoMasterKeys):
		if err := se.journal.AddIssues(NewSyncIssue(IssueLocation, loc.UUID, "", err)); err != nil {
			slog.Error("record sync issue", "location", loc.UUID, "error", err)
		}
	}
}

// stage wraps one step of a location cycle in start/done/err events
func (se *SyncEngine) stage(loc *Location, name string, fn func() error) error {
	se.syncStatus.Stage(loc.UUID, name, StatusStart, nil)
	if err := fn(); err != nil {
		se.syncStatus.Stage(loc.UUID, name, StatusError, err)
		return err
	}
	se.syncStatus.Stage(loc.UUID, name, StatusDone, nil)
	return nil
}

func (se *SyncEngine) syncLocation(ctx context.Context, loc *Location) error {
	if err := se.stage(loc, StageSmokeTest, func() error { return se.smokeTest(ctx, loc) }); err != nil {
		return err
	}

	if se.watch {
		if err := se.stage(loc, StageWatcher, func() error { return se.ensureWatcher(ctx, loc) }); err != nil {
			// scanning still works without events, only slower to notice changes
			slog.Warn("file watcher", "location", loc.UUID, "error", err)
		}
	}

	redo, err := se.journal.Redo(loc.UUID)
	if err != nil {
		return fmt.Errorf("load redo tasks: %w", err)
	}
	firstRun := !se.isSynced(loc.UUID)

	var (
		localChanged, remoteChanged bool
		localNow, remoteNow         *Tree
	)
	err = se.stage(loc, StageTrees, func() error {
		var err error
		if localChanged, localNow, err = se.local.Scan(ctx, loc, firstRun || len(redo) > 0); err != nil {
			return err
		}
		remoteChanged, remoteNow, err = se.remote.Scan(ctx, loc)
		return err
	})
	if err != nil {
		return err
	}

	if !localChanged && !remoteChanged && !firstRun && len(redo) == 0 {
		return nil
	}

	var lastLocal, lastRemote *Tree
	var hasLast bool
	err = se.stage(loc, StageLastTrees, func() error {
		var err error
		lastLocal, lastRemote, hasLast, err = se.journal.LastTrees(loc.UUID)
		if err != nil || hasLast {
			return err
		}
		// nothing to diff against yet. Seeding with the current trees lets the
		// presence rules copy whatever exists on one side only.
		return se.journal.SaveLastTrees(loc.UUID, localNow, remoteNow)
	})
	if err != nil {
		return err
	}
	if !hasLast {
		slog.Info("sync location seeded", "location", loc.UUID, "local", len(localNow.Files), "remote", len(remoteNow.Files))
		// the next pass must not skip, nothing changed since the seed
		if err := se.journal.SetLocalChanged(loc.UUID, true); err != nil {
			return err
		}
		return nil
	}

	var lists *TaskLists
	err = se.stage(loc, StagePlan, func() error {
		localDeltas := GetDeltas(lastLocal, localNow)
		remoteDeltas := GetDeltas(lastRemote, remoteNow)

		raw := ConsumeDeltas(&PlanInput{
			LocalDeltas:  localDeltas,
			RemoteDeltas: remoteDeltas,
			LocalNow:     localNow,
			RemoteNow:    remoteNow,
		})

		ignore := NewSyncIgnoreList(loc.Local, loc.Excluded)
		ignore.Load()
		lists = SortTasks(raw, loc, ignore)
		return nil
	})
	if err != nil {
		return err
	}

	var result *ExecResult
	if lists.Count() > 0 {
		slog.Info("sync location",
			"location", loc.UUID,
			"uploads", len(lists.UploadToRemote),
			"downloads", len(lists.DownloadFromRemote),
			"localDeletes", len(lists.DeleteInLocal),
			"remoteDeletes", len(lists.DeleteInRemote),
			"localRelocations", len(lists.RenameInLocal)+len(lists.MoveInLocal),
			"remoteRelocations", len(lists.RenameInRemote)+len(lists.MoveInRemote),
			"uploadBytes", humanize.IBytes(uint64(transferBytes(lists.UploadToRemote))),
			"downloadBytes", humanize.IBytes(uint64(transferBytes(lists.DownloadFromRemote))),
		)
	}

	err = se.stage(loc, StageExecute, func() error {
		var err error
		result, err = se.executor.Execute(ctx, &ExecInput{
			Location:  loc,
			Tasks:     lists,
			LocalNow:  localNow,
			RemoteNow: remoteNow,
		})
		if err != nil {
			return err
		}

		if len(result.Issues) > 0 {
			if err := se.journal.AppendRedo(loc.UUID, result.Failed...); err != nil {
				return err
			}
			if err := se.journal.AddIssues(result.Issues...); err != nil {
				return err
			}
			return fmt.Errorf("%d tasks failed: %w", len(result.Failed), ErrIssuesPresent)
		}
		return nil
	})
	if err != nil {
		// whatever did run shows up in the next scan on both sides
		_ = se.journal.SetLocalChanged(loc.UUID, true)
		return err
	}

	return se.stage(loc, StageApply, func() error {
		ApplyDoneTasks(localNow, remoteNow, result.Done)

		if err := se.journal.SaveLastTrees(loc.UUID, localNow, remoteNow); err != nil {
			return fmt.Errorf("save trees: %w", err)
		}
		if err := se.journal.SaveLocalTree(loc.UUID, localNow); err != nil {
			return fmt.Errorf("save local tree: %w", err)
		}
		if len(result.Done) > 0 {
			// local writes have to be confirmed by a real scan
			if err := se.journal.SetLocalChanged(loc.UUID, true); err != nil {
				return err
			}
		}
		if err := se.journal.ClearRedo(loc.UUID); err != nil {
			return err
		}
		se.markSynced(loc.UUID)
		return nil
	})
}

// setBusy stores the busy flag so other readers of the store see which
// location is syncing
func (se *SyncEngine) setBusy(loc *Location, busy bool) {
	loc.Busy = busy
	err := se.journal.UpdateLocation(loc.UUID, func(l *Location) error {
		l.Busy = busy
		return nil
	})
	if err != nil {
		slog.Warn("sync location busy flag", "location", loc.UUID, "busy", busy, "error", err)
	}
}

// smokeTest checks the preconditions that make a cycle safe to run
func (se *SyncEngine) smokeTest(ctx context.Context, loc *Location) error {
	if err := utils.IsReadWritableDir(loc.Local); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLocalUnusable, loc.Local, err)
	}

	free, err := se.freeSpace(ctx, loc.Local)
	if err != nil {
		slog.Warn("disk usage", "path", loc.Local, "error", err)
	} else if free < se.cfg.MinFreeDiskBytes {
		return fmt.Errorf("%w: %s free", ErrLowDiskSpace, humanize.IBytes(free))
	}

	present, err := se.api.DirPresent(ctx, loc.RemoteUUID)
	if err != nil {
		return fmt.Errorf("remote folder check: %w", err)
	}
	if !present.Present || present.Trash {
		return fmt.Errorf("%w: %s", ErrRemoteFolderGone, loc.RemoteUUID)
	}
	return nil
}

func (se *SyncEngine) ensureWatcher(ctx context.Context, loc *Location) error {
	se.watcherMu.Lock()
	defer se.watcherMu.Unlock()

	if _, ok := se.watchers[loc.UUID]; ok {
		return nil
	}

	id := loc.UUID
	w := NewFileWatcher(loc.Local, func(string) {
		if err := se.journal.SetLocalChanged(id, true); err != nil {
			slog.Warn("set changed flag", "location", id, "error", err)
		}
	})
	w.FilterPaths(watcherFilter(loc.Local))
	if err := w.Start(ctx); err != nil {
		return err
	}
	se.watchers[loc.UUID] = w
	return nil
}

// reapWatchers stops watchers of locations that are gone or paused
func (se *SyncEngine) reapWatchers(locations []*Location) {
	keep := make(map[string]bool, len(locations))
	for _, loc := range locations {
		keep[loc.UUID] = !loc.Paused
	}

	se.watcherMu.Lock()
	defer se.watcherMu.Unlock()
	for id, w := range se.watchers {
		if !keep[id] {
			w.Stop()
			delete(se.watchers, id)
		}
	}
}

func (se *SyncEngine) isSynced(loc string) bool {
	se.syncedMu.Lock()
	defer se.syncedMu.Unlock()
	return se.synced[loc]
}

func (se *SyncEngine) markSynced(loc string) {
	se.syncedMu.Lock()
	defer se.syncedMu.Unlock()
	se.synced[loc] = true
}

func transferBytes(tasks []*Task) int64 {
	var n int64
	for _, t := range tasks {
		if t.Item != nil {
			n += t.Item.Size
		}
	}
	return n
}
