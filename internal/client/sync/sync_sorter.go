package sync

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/cryptsync/internal/utils"
)

// Ignorer decides whether a tree path is excluded from syncing
type Ignorer interface {
	ShouldIgnore(path string) bool
}

// SortTasks filters planner output by ignore rules and sync mode, then prunes
// redundant work. The returned lists are safe to execute in executionOrder.
func SortTasks(lists *TaskLists, loc *Location, ignorer Ignorer) *TaskLists {
	out := NewTaskLists()

	for _, action := range executionOrder {
		if !loc.Type.Allows(action) {
			continue
		}
		keep := make([]*Task, 0, len(lists.Get(action)))
		for _, t := range lists.Get(action) {
			if ignorer != nil && isTaskIgnored(t, ignorer) {
				continue
			}
			keep = append(keep, t)
		}
		out.Set(action, keep)
	}

	for _, action := range executionOrder {
		out.Set(action, dedupeTasks(out.Get(action)))
	}

	out.DeleteInLocal = reduceToBaseParents(out.DeleteInLocal)
	out.DeleteInRemote = reduceToBaseParents(out.DeleteInRemote)

	out.RenameInLocal, out.MoveInLocal = reduceRelocations(out.RenameInLocal, out.MoveInLocal, true)
	out.RenameInRemote, out.MoveInRemote = reduceRelocations(out.RenameInRemote, out.MoveInRemote, false)

	crossCancel(out, out.RenameInRemote, out.MoveInRemote, ActionDeleteRemote)
	crossCancel(out, out.RenameInLocal, out.MoveInLocal, ActionDeleteLocal)

	// whatever lands inside a folder that is about to be removed on the same side is moot
	out.UploadToRemote = dropUnder(out.UploadToRemote, out.DeleteInLocal)
	out.DownloadFromRemote = dropUnder(out.DownloadFromRemote, out.DeleteInRemote)

	return out
}

func isTaskIgnored(t *Task, ignorer Ignorer) bool {
	for _, p := range []string{t.Path, t.From, t.To} {
		if p != "" && ignorer.ShouldIgnore(p) {
			return true
		}
	}
	return false
}

// dedupeTasks keeps the first task for every distinct piece of work,
// which also collapses the old/new path pair a relocation is emitted under
func dedupeTasks(tasks []*Task) []*Task {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if seen.Add(t.Key()) {
			out = append(out, t)
		}
	}
	return out
}

// reduceToBaseParents drops tasks whose path sits under another task's folder
func reduceToBaseParents(tasks []*Task) []*Task {
	sortTasksByDepth(tasks, func(t *Task) string { return t.Path })

	out := make([]*Task, 0, len(tasks))
	var folders []string
	for _, t := range tasks {
		if underAny(t.Path, folders) {
			continue
		}
		out = append(out, t)
		if t.Type == ItemFolder {
			folders = append(folders, t.Path)
		}
	}
	return out
}

// reduceRelocations drops relocations already implied by an ancestor folder
// relocation. For the local side it also records where each remaining item
// will be by the time its task runs.
func reduceRelocations(renames, moves []*Task, local bool) ([]*Task, []*Task) {
	sortTasksByDepth(renames, func(t *Task) string { return t.From })
	sortTasksByDepth(moves, func(t *Task) string { return t.From })

	var kept []*Task
	implied := func(t *Task) bool {
		for _, a := range kept {
			if a.Type != ItemFolder || a.From == t.From || !utils.IsSubPath(a.From, t.From) {
				continue
			}
			if t.To == a.To+strings.TrimPrefix(t.From, a.From) {
				return true
			}
		}
		return false
	}

	var rw pathRewriter
	outRenames := make([]*Task, 0, len(renames))
	for _, t := range renames {
		if implied(t) {
			continue
		}
		kept = append(kept, t)
		outRenames = append(outRenames, t)
	}
	// renames never nest inside each other, they all run before any move
	for _, t := range outRenames {
		rw.add(t.From, t.To)
	}

	outMoves := make([]*Task, 0, len(moves))
	for _, t := range moves {
		if implied(t) {
			continue
		}
		kept = append(kept, t)
		if local {
			if src := rw.resolve(t.From); src != t.From {
				t.Source = src
			}
			rw.add(t.SourcePath(), t.To)
		}
		outMoves = append(outMoves, t)
	}
	return outRenames, outMoves
}

// crossCancel removes paths covered by a relocation from the same side's
// delete list and from both transfer lists. Transfers that carry an edit made
// along with the relocation stay.
func crossCancel(lists *TaskLists, renames, moves []*Task, deleteAction TaskAction) {
	covered := mapset.NewThreadUnsafeSet[string]()
	for _, t := range append(append([]*Task{}, renames...), moves...) {
		covered.Append(t.From, t.To)
	}
	if covered.Cardinality() == 0 {
		return
	}

	filter := func(tasks []*Task) []*Task {
		out := tasks[:0:0]
		for _, t := range tasks {
			if t.Relocated || !covered.Contains(t.Path) {
				out = append(out, t)
			}
		}
		return out
	}

	lists.Set(deleteAction, filter(lists.Get(deleteAction)))
	lists.UploadToRemote = filter(lists.UploadToRemote)
	lists.DownloadFromRemote = filter(lists.DownloadFromRemote)
}

func dropUnder(tasks []*Task, deletes []*Task) []*Task {
	var folders []string
	for _, d := range deletes {
		if d.Type == ItemFolder {
			folders = append(folders, d.Path)
		}
	}
	if len(folders) == 0 {
		return tasks
	}
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if !underAny(t.Path, folders) {
			out = append(out, t)
		}
	}
	return out
}

func underAny(p string, folders []string) bool {
	for _, f := range folders {
		if utils.IsSubPath(f, p) {
			return true
		}
	}
	return false
}

func sortTasksByDepth(tasks []*Task, key func(*Task) string) {
	byKey := make(map[string][]*Task, len(tasks))
	keys := make([]string, 0, len(tasks))
	for _, t := range tasks {
		k := key(t)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], t)
	}
	sortByDepth(keys)
	i := 0
	for _, k := range keys {
		for _, t := range byKey[k] {
			tasks[i] = t
			i++
		}
	}
}

// pathRewriter replays relocations in order to find where a path ends up
type pathRewriter []pathRewrite

type pathRewrite struct {
	from string
	to   string
}

func (r *pathRewriter) add(from, to string) {
	*r = append(*r, pathRewrite{from: from, to: to})
}

func (r pathRewriter) resolve(p string) string {
	for _, rw := range r {
		if utils.IsSubPath(rw.from, p) {
			p = rw.to + strings.TrimPrefix(p, rw.from)
		}
	}
	return p
}

// reverse maps a path after all relocations back to where it was before them
func (r pathRewriter) reverse(p string) string {
	for i := len(r) - 1; i >= 0; i-- {
		if utils.IsSubPath(r[i].to, p) {
			p = r[i].from + strings.TrimPrefix(p, r[i].to)
		}
	}
	return p
}
