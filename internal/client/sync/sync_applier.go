package sync

// ApplyDoneTasks folds completed work into the current trees so they describe
// both sides after the cycle. Tasks are applied in execution order. Paths
// planned against the pre-cycle layout are replayed through the relocations
// already applied on the same side.
func ApplyDoneTasks(local, remote *Tree, done []*DoneTask) {
	byAction := make(map[TaskAction][]*DoneTask, len(executionOrder))
	for _, d := range done {
		byAction[d.Task.Action] = append(byAction[d.Task.Action], d)
	}

	var localRw, remoteRw pathRewriter

	for _, action := range executionOrder {
		tasks := byAction[action]
		if action.IsRelocation() {
			// shallow relocations first, deeper ones were planned relative to them
			sortDoneByDepth(tasks)
		}

		for _, d := range tasks {
			t := d.Task
			switch action {
			case ActionRenameRemote, ActionMoveRemote:
				from := remoteRw.resolve(t.From)
				remote.Rewrite(from, t.To)
				remoteRw.add(from, t.To)

			case ActionRenameLocal, ActionMoveLocal:
				from := localRw.resolve(t.From)
				local.Rewrite(from, t.To)
				localRw.add(from, t.To)

			case ActionDeleteRemote:
				remote.Remove(remoteRw.resolve(t.Path))

			case ActionDeleteLocal:
				local.Remove(localRw.resolve(t.Path))

			case ActionUpload:
				applyEntry(remote, t, d)

			case ActionDownload:
				applyEntry(local, t, d)
			}
		}
	}
}

// applyEntry inserts a transferred item, replacing whatever stood at its path
func applyEntry(tree *Tree, t *Task, d *DoneTask) {
	switch {
	case d.File != nil:
		if prev, ok := tree.Files[t.Path]; ok {
			tree.dropIdentity(prev.Identity, t.Path)
		}
		tree.AddFile(t.Path, d.File)
	case d.Folder != nil:
		if prev, ok := tree.Folders[t.Path]; ok {
			tree.dropIdentity(prev.Identity, t.Path)
		}
		tree.AddFolder(t.Path, d.Folder)
	}
}

func sortDoneByDepth(done []*DoneTask) {
	tasks := make([]*Task, len(done))
	byTask := make(map[*Task]*DoneTask, len(done))
	for i, d := range done {
		tasks[i] = d.Task
		byTask[d.Task] = d
	}
	sortTasksByDepth(tasks, func(t *Task) string { return t.From })
	for i, t := range tasks {
		done[i] = byTask[t]
	}
}
