package sync

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// PlanInput is everything the planner looks at for one location
type PlanInput struct {
	LocalDeltas  *Deltas
	RemoteDeltas *Deltas
	LocalNow     *Tree
	RemoteNow    *Tree
}

// ConsumeDeltas turns per-side deltas into cross-side tasks.
// Folders are planned before files, parents before children. Each path gets
// at most one task. Conflicting content changes go to the newer side.
func ConsumeDeltas(in *PlanInput) *TaskLists {
	p := &planner{
		in:    in,
		lists: NewTaskLists(),
		seen:  mapset.NewThreadUnsafeSet[string](),
	}

	for _, path := range unionPaths(in.LocalDeltas.Folders, in.RemoteDeltas.Folders) {
		p.plan(ItemFolder, path)
	}

	// files live in a separate namespace from folders in the seen set
	p.seen = mapset.NewThreadUnsafeSet[string]()
	for _, path := range unionPaths(in.LocalDeltas.Files, in.RemoteDeltas.Files) {
		p.plan(ItemFile, path)
	}

	return p.lists
}

type planner struct {
	in    *PlanInput
	lists *TaskLists
	seen  mapset.Set[string]
}

func (p *planner) plan(itemType ItemType, path string) {
	if p.seen.Contains(path) {
		return
	}

	local, hasLocalDelta := p.in.LocalDeltas.of(itemType)[path]
	remote, hasRemoteDelta := p.in.RemoteDeltas.of(itemType)[path]
	inLocal := p.has(p.in.LocalNow, itemType, path)
	inRemote := p.has(p.in.RemoteNow, itemType, path)

	switch {
	case hasLocalDelta && local.IsCaseOnly():
		p.seen.Append(local.From, local.To)
	case hasRemoteDelta && remote.IsCaseOnly():
		p.seen.Append(remote.From, remote.To)

	case hasLocalDelta && local.IsRelocation():
		if !(hasRemoteDelta && remote.SameRelocation(local)) {
			action := ActionRenameRemote
			if local.Kind == DeltaMoved {
				action = ActionMoveRemote
			}
			p.lists.Add(newRelocationTask(action, itemType, local))
			remote = Delta{}
		}
		p.seen.Append(local.From, local.To)
		p.planRelocatedContent(local.To, local, remote)

	case hasLocalDelta && local.Kind == DeltaDeleted:
		if inRemote {
			p.lists.Add(newTask(ActionDeleteRemote, itemType, path))
		}
		p.seen.Add(path)

	case hasRemoteDelta && remote.IsRelocation():
		action := ActionRenameLocal
		if remote.Kind == DeltaMoved {
			action = ActionMoveLocal
		}
		p.lists.Add(newRelocationTask(action, itemType, remote))
		p.seen.Append(remote.From, remote.To)
		p.planRelocatedContent(remote.To, Delta{}, remote)

	case hasRemoteDelta && remote.Kind == DeltaDeleted:
		if inLocal {
			p.lists.Add(newTask(ActionDeleteLocal, itemType, path))
		}
		p.seen.Add(path)

	case inLocal && !inRemote:
		p.addTransfer(ActionUpload, itemType, path)

	case inRemote && !inLocal:
		p.addTransfer(ActionDownload, itemType, path)

	case inLocal && inRemote && itemType == ItemFile:
		p.planFileChange(path, local, remote)
	}
}

// planFileChange handles a file present on both sides
func (p *planner) planFileChange(path string, local, remote Delta) {
	localChanged := local.IsChange()
	remoteChanged := remote.IsChange()

	switch {
	case localChanged && remoteChanged:
		lm := p.in.LocalNow.Files[path].LastModified
		rm := p.in.RemoteNow.Files[path].LastModified
		if lm > rm {
			p.addTransfer(ActionUpload, ItemFile, path)
		} else if rm > lm {
			p.addTransfer(ActionDownload, ItemFile, path)
		}
		// equal timestamps: both sides are kept as they are
		p.seen.Add(path)
	case remoteChanged:
		p.addTransfer(ActionDownload, ItemFile, path)
	case localChanged:
		p.addTransfer(ActionUpload, ItemFile, path)
	}
}

// planRelocatedContent carries an edit made together with a rename or move.
// Either delta may be empty when that side did not relocate the file.
func (p *planner) planRelocatedContent(path string, local, remote Delta) {
	var action TaskAction
	switch {
	case local.Modified && remote.Modified:
		lm := p.in.LocalNow.Files[path].LastModified
		rm := p.in.RemoteNow.Files[path].LastModified
		if lm > rm {
			action = ActionUpload
		} else if rm > lm {
			action = ActionDownload
		}
	case local.Modified:
		action = ActionUpload
	case remote.Modified:
		action = ActionDownload
	}
	if action == "" {
		return
	}
	p.addTransfer(action, ItemFile, path).Relocated = true
}

func (p *planner) addTransfer(action TaskAction, itemType ItemType, path string) *Task {
	t := newTask(action, itemType, path)
	if itemType == ItemFile {
		src := p.in.LocalNow
		if action == ActionDownload {
			src = p.in.RemoteNow
		}
		if f, ok := src.Files[path]; ok {
			cp := *f
			t.Item = &cp
		}
	}
	p.lists.Add(t)
	p.seen.Add(path)
	return t
}

func (p *planner) has(t *Tree, itemType ItemType, path string) bool {
	if itemType == ItemFolder {
		_, ok := t.Folders[path]
		return ok
	}
	_, ok := t.Files[path]
	return ok
}

func unionPaths(a, b map[string]Delta) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for p := range a {
		set[p] = struct{}{}
	}
	for p := range b {
		set[p] = struct{}{}
	}
	return sortedPaths(set)
}
