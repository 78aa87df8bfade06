package sync

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	keyLastLocalTree  = "lastLocalTree:"
	keyLastRemoteTree = "lastRemoteTree:"
	keyLocalTree      = "localTree:"
	keyLocalChanged   = "localChanged:"
	keyRedoTasks      = "redoTasks:"
	keySyncIssues     = "syncIssues"
	keyLocations      = "syncLocations"
)

// IssueType classifies a SyncIssue
type IssueType string

const (
	IssueTask     IssueType = "task"
	IssueLocation IssueType = "location"
	IssueCritical IssueType = "critical"
)

// SyncIssue is a durable record of something the user has to look at.
// Any recorded issue stops new sync cycles until cleared.
type SyncIssue struct {
	UUID      string    `json:"uuid"`
	Type      IssueType `json:"type"`
	Location  string    `json:"location,omitempty"`
	Path      string    `json:"path,omitempty"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"`
}

func NewSyncIssue(typ IssueType, loc, p string, err error) *SyncIssue {
	return &SyncIssue{
		UUID:      uuid.NewString(),
		Type:      typ,
		Location:  loc,
		Path:      p,
		Message:   err.Error(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// SyncJournal is the engine's durable state on top of a Store
type SyncJournal struct {
	store Store
	mu    sync.Mutex
}

func NewSyncJournal(store Store) *SyncJournal {
	return &SyncJournal{store: store}
}

func (j *SyncJournal) getJSON(key string, v any) (bool, error) {
	raw, ok, err := j.store.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (j *SyncJournal) setJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return j.store.Set(key, raw)
}

func (j *SyncJournal) getTree(key string) (*Tree, bool, error) {
	var t Tree
	ok, err := j.getJSON(key, &t)
	if err != nil || !ok {
		return nil, false, err
	}
	return t.ensure(), true, nil
}

// LastTrees returns the trees both sides agreed on after the last clean cycle
func (j *SyncJournal) LastTrees(loc string) (local, remote *Tree, ok bool, err error) {
	local, okLocal, err := j.getTree(keyLastLocalTree + loc)
	if err != nil {
		return nil, nil, false, err
	}
	remote, okRemote, err := j.getTree(keyLastRemoteTree + loc)
	if err != nil {
		return nil, nil, false, err
	}
	if !okLocal || !okRemote {
		return nil, nil, false, nil
	}
	return local, remote, true, nil
}

func (j *SyncJournal) SaveLastTrees(loc string, local, remote *Tree) error {
	if err := j.setJSON(keyLastLocalTree+loc, local); err != nil {
		return err
	}
	return j.setJSON(keyLastRemoteTree+loc, remote)
}

// LocalTree is the most recent local scan, used to short-circuit unchanged scans
func (j *SyncJournal) LocalTree(loc string) (*Tree, bool, error) {
	return j.getTree(keyLocalTree + loc)
}

func (j *SyncJournal) SaveLocalTree(loc string, t *Tree) error {
	return j.setJSON(keyLocalTree+loc, t)
}

// LocalChanged reports the watcher's changed flag. A location never flagged
// before counts as changed.
func (j *SyncJournal) LocalChanged(loc string) (bool, error) {
	var changed bool
	ok, err := j.getJSON(keyLocalChanged+loc, &changed)
	if err != nil {
		return true, err
	}
	return !ok || changed, nil
}

func (j *SyncJournal) SetLocalChanged(loc string, changed bool) error {
	return j.setJSON(keyLocalChanged+loc, changed)
}

func (j *SyncJournal) Issues() ([]*SyncIssue, error) {
	var issues []*SyncIssue
	if _, err := j.getJSON(keySyncIssues, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (j *SyncJournal) AddIssues(issues ...*SyncIssue) error {
	if len(issues) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	existing, err := j.Issues()
	if err != nil {
		return err
	}
	return j.setJSON(keySyncIssues, append(existing, issues...))
}

func (j *SyncJournal) ClearIssues() error {
	return j.store.Remove(keySyncIssues)
}

func (j *SyncJournal) Redo(loc string) ([]*Task, error) {
	var tasks []*Task
	if _, err := j.getJSON(keyRedoTasks+loc, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (j *SyncJournal) AppendRedo(loc string, tasks ...*Task) error {
	if len(tasks) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	existing, err := j.Redo(loc)
	if err != nil {
		return err
	}
	return j.setJSON(keyRedoTasks+loc, append(existing, tasks...))
}

func (j *SyncJournal) ClearRedo(loc string) error {
	return j.store.Remove(keyRedoTasks + loc)
}

func (j *SyncJournal) Locations() ([]*Location, error) {
	var locs []*Location
	if _, err := j.getJSON(keyLocations, &locs); err != nil {
		return nil, err
	}
	return locs, nil
}

func (j *SyncJournal) SaveLocations(locs []*Location) error {
	return j.setJSON(keyLocations, locs)
}

// UpdateLocation applies fn to the stored location with the given uuid
func (j *SyncJournal) UpdateLocation(id string, fn func(*Location) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	locs, err := j.Locations()
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(locs, func(l *Location) bool { return l.UUID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	if err := fn(locs[idx]); err != nil {
		return err
	}
	return j.SaveLocations(locs)
}

// RemoveLocation deletes a location and every key stored for it
func (j *SyncJournal) RemoveLocation(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	locs, err := j.Locations()
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(locs, func(l *Location) bool { return l.UUID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	if err := j.SaveLocations(slices.Delete(locs, idx, idx+1)); err != nil {
		return err
	}

	for _, prefix := range []string{keyLastLocalTree, keyLastRemoteTree, keyLocalTree, keyLocalChanged, keyRedoTasks} {
		if err := j.store.Remove(prefix + id); err != nil {
			return err
		}
	}
	return nil
}
