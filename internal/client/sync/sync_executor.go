package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/cryptsync/internal/queue"
	"github.com/openmined/cryptsync/internal/syncsdk"
	"github.com/openmined/cryptsync/internal/utils"
	"golang.org/x/sync/singleflight"
)

// Executor runs sorted task lists against the local filesystem and the backend
type Executor struct {
	api    RemoteAPI
	crypt  Cryptor
	creds  Credentials
	status *SyncStatus
	limits *limits
	cfg    *EngineConfig
	paused func() bool
}

func NewExecutor(api RemoteAPI, crypt Cryptor, creds Credentials, status *SyncStatus, cfg *EngineConfig, paused func() bool) *Executor {
	cfg = cfg.withDefaults()
	if paused == nil {
		paused = func() bool { return false }
	}
	return &Executor{
		api:    api,
		crypt:  crypt,
		creds:  creds,
		status: status,
		limits: newLimits(cfg),
		cfg:    cfg,
		paused: paused,
	}
}

// ExecInput is one location's sorted work plus the trees it was planned from
type ExecInput struct {
	Location  *Location
	Tasks     *TaskLists
	LocalNow  *Tree
	RemoteNow *Tree
}

// ExecResult collects completed tasks in execution order along with the
// tasks that ran out of retries
type ExecResult struct {
	Done   []*DoneTask
	Failed []*Task
	Issues []*SyncIssue
}

// execution is the state of one Execute call
type execution struct {
	*Executor
	in     *ExecInput
	loc    *Location
	remote *remoteIndex
	mkdir  singleflight.Group

	mu     sync.Mutex
	result *ExecResult
}

func (x *execution) addDone(d *DoneTask) {
	x.mu.Lock()
	x.result.Done = append(x.result.Done, d)
	x.mu.Unlock()
}

func (x *execution) addFailed(t *Task, err error) {
	x.mu.Lock()
	x.result.Failed = append(x.result.Failed, t)
	x.result.Issues = append(x.result.Issues, NewSyncIssue(IssueTask, x.loc.UUID, t.Path, fmt.Errorf("%s: %w", t, err)))
	x.mu.Unlock()
}

// Execute runs categories in executionOrder. Tasks inside a category run
// concurrently and a failing task never stops its siblings. Pausing stops
// before the next category or transfer and returns ErrPaused.
func (e *Executor) Execute(ctx context.Context, in *ExecInput) (*ExecResult, error) {
	x := &execution{
		Executor: e,
		in:       in,
		loc:      in.Location,
		remote:   newRemoteIndex(in.Location.RemoteUUID, in.RemoteNow),
		result:   &ExecResult{},
	}

	for _, action := range executionOrder {
		tasks := in.Tasks.Get(action)
		if len(tasks) == 0 {
			continue
		}
		if e.paused() {
			return x.result, ErrPaused
		}
		if err := ctx.Err(); err != nil {
			return x.result, err
		}

		slog.Debug("sync category", "location", x.loc.UUID, "action", action, "tasks", len(tasks))

		var err error
		switch {
		case action.IsRelocation():
			err = x.runWaves(ctx, tasks)
		case action.IsTransfer():
			err = x.runTransfers(ctx, tasks)
		default:
			x.runAll(ctx, tasks)
		}
		if err != nil {
			return x.result, err
		}
	}

	if err := ctx.Err(); err != nil {
		return x.result, err
	}
	return x.result, nil
}

// runAll runs tasks concurrently and waits for all of them to settle
func (x *execution) runAll(ctx context.Context, tasks []*Task) {
	var wg sync.WaitGroup
	for _, t := range tasks {
		if err := x.limits.tasks.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer x.limits.tasks.Release(1)
			x.runTask(ctx, t)
		}(t)
	}
	wg.Wait()
}

// runWaves runs relocations shallowest first so a nested item is only touched
// after its ancestors have landed
func (x *execution) runWaves(ctx context.Context, tasks []*Task) error {
	for _, wave := range groupByDepth(tasks, (*Task).SourcePath) {
		x.runAll(ctx, wave)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// runTransfers creates folders parents first, then moves files smallest first
func (x *execution) runTransfers(ctx context.Context, tasks []*Task) error {
	var files []*Task
	var folders []*Task
	for _, t := range tasks {
		if t.Type == ItemFolder {
			folders = append(folders, t)
		} else {
			files = append(files, t)
		}
	}

	for _, wave := range groupByDepth(folders, func(t *Task) string { return t.Path }) {
		x.runAll(ctx, wave)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	pq := queue.NewPriorityQueue[*Task]()
	for _, t := range files {
		var size int64
		if t.Item != nil {
			size = t.Item.Size
		}
		pq.Enqueue(t, size)
	}

	var wg sync.WaitGroup
	var paused bool
	for pq.Len() > 0 {
		if x.paused() {
			paused = true
			break
		}
		if err := x.limits.tasks.Acquire(ctx, 1); err != nil {
			break
		}
		if err := x.limits.transfers.Acquire(ctx, 1); err != nil {
			x.limits.tasks.Release(1)
			break
		}
		t, _ := pq.Dequeue()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer x.limits.tasks.Release(1)
			defer x.limits.transfers.Release(1)
			x.runTask(ctx, t)
		}()
	}
	wg.Wait()

	if paused {
		return ErrPaused
	}
	return ctx.Err()
}

// runTask runs one task with retries and records the outcome
func (x *execution) runTask(ctx context.Context, t *Task) {
	x.status.TaskStarted(x.loc.UUID, t)

	done, err := x.withRetry(ctx, t, func(ctx context.Context) (*DoneTask, error) {
		return x.dispatch(ctx, t)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("sync task failed", "location", x.loc.UUID, "action", t.Action, "path", t.Path, "error", err)
		x.status.TaskFailed(x.loc.UUID, t, err)
		x.addFailed(t, err)
		return
	}

	slog.Info("sync", "op", t.Action, "type", t.Type, "path", t.Path, "from", t.From)
	x.status.TaskDone(x.loc.UUID, t)
	x.addDone(done)
}

func (x *execution) withRetry(ctx context.Context, t *Task, run func(context.Context) (*DoneTask, error)) (*DoneTask, error) {
	for attempt := 1; ; attempt++ {
		done, err := run(ctx)
		if err == nil {
			return done, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// a name clash stays until someone renames one side
		if attempt >= x.cfg.MaxTaskRetries || errors.Is(err, ErrRemoteNameTaken) {
			return nil, fmt.Errorf("%w: %w", ErrTaskExhausted, err)
		}

		slog.Warn("sync task retry", "action", t.Action, "path", t.Path, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(x.cfg.TaskRetryDelay):
		}
	}
}

func (x *execution) dispatch(ctx context.Context, t *Task) (*DoneTask, error) {
	switch t.Action {
	case ActionRenameRemote, ActionMoveRemote:
		return x.relocateRemote(ctx, t)
	case ActionRenameLocal, ActionMoveLocal:
		return x.relocateLocal(t)
	case ActionDeleteRemote:
		return x.deleteRemote(ctx, t)
	case ActionDeleteLocal:
		return x.deleteLocal(t)
	case ActionUpload:
		if t.Type == ItemFolder {
			return x.uploadFolder(ctx, t)
		}
		return x.uploadFile(ctx, t)
	case ActionDownload:
		if t.Type == ItemFolder {
			return x.downloadFolder(t)
		}
		return x.downloadFile(ctx, t)
	}
	return nil, fmt.Errorf("unknown task action %q", t.Action)
}

// apiCall runs fn inside the metadata call gate
func (x *execution) apiCall(ctx context.Context, fn func() error) error {
	if err := x.limits.apiCalls.Acquire(ctx, 1); err != nil {
		return err
	}
	defer x.limits.apiCalls.Release(1)
	return fn()
}

// isGone reports errors meaning the target item no longer exists remotely
func isGone(err error) bool {
	return errors.Is(err, syncsdk.ErrNotFound)
}

// groupByDepth splits tasks into waves of equal path depth, shallowest first
func groupByDepth(tasks []*Task, key func(*Task) string) [][]*Task {
	byDepth := make(map[int][]*Task)
	maxDepth := 0
	for _, t := range tasks {
		d := utils.PathDepth(key(t))
		byDepth[d] = append(byDepth[d], t)
		maxDepth = max(maxDepth, d)
	}

	waves := make([][]*Task, 0, len(byDepth))
	for d := 0; d <= maxDepth; d++ {
		if wave, ok := byDepth[d]; ok {
			waves = append(waves, wave)
		}
	}
	return waves
}
