package sync

import (
	"fmt"

	"github.com/google/uuid"
)

type TaskAction string

const (
	ActionUpload       TaskAction = "uploadToRemote"
	ActionDownload     TaskAction = "downloadFromRemote"
	ActionRenameLocal  TaskAction = "renameInLocal"
	ActionRenameRemote TaskAction = "renameInRemote"
	ActionMoveLocal    TaskAction = "moveInLocal"
	ActionMoveRemote   TaskAction = "moveInRemote"
	ActionDeleteLocal  TaskAction = "deleteInLocal"
	ActionDeleteRemote TaskAction = "deleteInRemote"
)

// executionOrder is fixed: relocations settle before deletes, deletes before transfers
var executionOrder = []TaskAction{
	ActionRenameRemote,
	ActionRenameLocal,
	ActionMoveRemote,
	ActionMoveLocal,
	ActionDeleteRemote,
	ActionDeleteLocal,
	ActionUpload,
	ActionDownload,
}

func (a TaskAction) IsRelocation() bool {
	switch a {
	case ActionRenameLocal, ActionRenameRemote, ActionMoveLocal, ActionMoveRemote:
		return true
	}
	return false
}

// WritesLocal reports whether the action mutates the local filesystem
func (a TaskAction) WritesLocal() bool {
	switch a {
	case ActionDownload, ActionRenameLocal, ActionMoveLocal, ActionDeleteLocal:
		return true
	}
	return false
}

func (a TaskAction) IsTransfer() bool {
	return a == ActionUpload || a == ActionDownload
}

// Task is one unit of cross-side work. Item carries the source side's file entry
// for transfers. Source is where a local relocation finds the item once earlier
// relocations in the same cycle have run.
type Task struct {
	UUID   string     `json:"uuid"`
	Path   string     `json:"path"`
	Type   ItemType   `json:"type"`
	Action TaskAction `json:"action"`
	From   string     `json:"from,omitempty"`
	To     string     `json:"to,omitempty"`
	Source string     `json:"source,omitempty"`
	Item   *FileEntry `json:"item,omitempty"`
	// Relocated marks a transfer for content that changed while its item was
	// renamed or moved, it runs after the relocation
	Relocated bool `json:"relocated,omitempty"`
}

func newTask(action TaskAction, itemType ItemType, p string) *Task {
	return &Task{
		UUID:   uuid.NewString(),
		Path:   p,
		Type:   itemType,
		Action: action,
	}
}

func newRelocationTask(action TaskAction, itemType ItemType, d Delta) *Task {
	t := newTask(action, itemType, d.To)
	t.From = d.From
	t.To = d.To
	return t
}

// SourcePath returns where the item is expected to be when the task runs
func (t *Task) SourcePath() string {
	if t.Source != "" {
		return t.Source
	}
	if t.From != "" {
		return t.From
	}
	return t.Path
}

// Key identifies the work, two tasks with the same key do the same thing
func (t *Task) Key() string {
	if t.Action.IsRelocation() {
		return fmt.Sprintf("%s:%s:%s->%s", t.Action, t.Type, t.From, t.To)
	}
	return fmt.Sprintf("%s:%s:%s", t.Action, t.Type, t.Path)
}

func (t *Task) String() string {
	if t.Action.IsRelocation() {
		return fmt.Sprintf("%s %s %q -> %q", t.Action, t.Type, t.From, t.To)
	}
	return fmt.Sprintf("%s %s %q", t.Action, t.Type, t.Path)
}

// TaskLists holds one list per action
type TaskLists struct {
	UploadToRemote     []*Task `json:"uploadToRemote"`
	DownloadFromRemote []*Task `json:"downloadFromRemote"`
	RenameInLocal      []*Task `json:"renameInLocal"`
	RenameInRemote     []*Task `json:"renameInRemote"`
	MoveInLocal        []*Task `json:"moveInLocal"`
	MoveInRemote       []*Task `json:"moveInRemote"`
	DeleteInLocal      []*Task `json:"deleteInLocal"`
	DeleteInRemote     []*Task `json:"deleteInRemote"`
}

func NewTaskLists() *TaskLists {
	return &TaskLists{}
}

func (l *TaskLists) list(action TaskAction) *[]*Task {
	switch action {
	case ActionUpload:
		return &l.UploadToRemote
	case ActionDownload:
		return &l.DownloadFromRemote
	case ActionRenameLocal:
		return &l.RenameInLocal
	case ActionRenameRemote:
		return &l.RenameInRemote
	case ActionMoveLocal:
		return &l.MoveInLocal
	case ActionMoveRemote:
		return &l.MoveInRemote
	case ActionDeleteLocal:
		return &l.DeleteInLocal
	case ActionDeleteRemote:
		return &l.DeleteInRemote
	}
	panic("unknown task action " + string(action))
}

func (l *TaskLists) Get(action TaskAction) []*Task {
	return *l.list(action)
}

func (l *TaskLists) Set(action TaskAction, tasks []*Task) {
	*l.list(action) = tasks
}

func (l *TaskLists) Add(t *Task) {
	lst := l.list(t.Action)
	*lst = append(*lst, t)
}

func (l *TaskLists) Count() int {
	n := 0
	for _, a := range executionOrder {
		n += len(l.Get(a))
	}
	return n
}

// All returns every task in execution order
func (l *TaskLists) All() []*Task {
	all := make([]*Task, 0, l.Count())
	for _, a := range executionOrder {
		all = append(all, l.Get(a)...)
	}
	return all
}

// DoneTask is a task that completed, with whatever the side effect produced.
// Uploads carry the new remote entry, downloads the new local entry.
type DoneTask struct {
	Task   *Task
	File   *FileEntry
	Folder *FolderEntry
}

type SyncMode string

const (
	ModeTwoWay       SyncMode = "twoWay"
	ModeLocalToCloud SyncMode = "localToCloud"
	ModeCloudToLocal SyncMode = "cloudToLocal"
	ModeLocalBackup  SyncMode = "localBackup"
	ModeCloudBackup  SyncMode = "cloudBackup"
)

func (m SyncMode) Valid() bool {
	switch m {
	case ModeTwoWay, ModeLocalToCloud, ModeCloudToLocal, ModeLocalBackup, ModeCloudBackup:
		return true
	}
	return false
}

// Allows reports whether the mode lets action run
func (m SyncMode) Allows(action TaskAction) bool {
	switch m {
	case ModeLocalToCloud:
		return !action.WritesLocal()
	case ModeLocalBackup:
		return !action.WritesLocal() && action != ActionDeleteRemote
	case ModeCloudToLocal:
		return action.WritesLocal()
	case ModeCloudBackup:
		return action.WritesLocal() && action != ActionDeleteLocal
	}
	return true
}

// Location pairs a local directory with a remote folder
type Location struct {
	UUID       string   `json:"uuid" yaml:"uuid"`
	Local      string   `json:"local" yaml:"local"`
	Remote     string   `json:"remote" yaml:"remote"`
	RemoteUUID string   `json:"remoteUUID" yaml:"remoteUUID"`
	RemoteName string   `json:"remoteName" yaml:"remoteName"`
	Type       SyncMode `json:"type" yaml:"type"`
	Paused     bool     `json:"paused" yaml:"paused"`
	// Busy is set while a cycle runs for the location
	Busy bool `json:"busy" yaml:"busy"`
	// Excluded holds selective sync patterns, matched against tree paths
	Excluded []string `json:"excluded,omitempty" yaml:"excluded,omitempty"`
}

func (l *Location) Validate() error {
	switch {
	case l.UUID == "":
		return fmt.Errorf("location: %w", ErrMissingUUID)
	case l.Local == "":
		return fmt.Errorf("location %s: %w", l.UUID, ErrMissingLocalPath)
	case l.RemoteUUID == "":
		return fmt.Errorf("location %s: %w", l.UUID, ErrMissingRemote)
	case !l.Type.Valid():
		return fmt.Errorf("location %s: %w %q", l.UUID, ErrInvalidSyncMode, l.Type)
	}
	return nil
}
