package sync

import (
	"strings"

	"github.com/openmined/cryptsync/internal/utils"
)

type DeltaKind string

const (
	DeltaNew       DeltaKind = "new"
	DeltaUnchanged DeltaKind = "unchanged"
	DeltaNewer     DeltaKind = "newer"
	DeltaOlder     DeltaKind = "older"
	DeltaDeleted   DeltaKind = "deleted"
	DeltaRenamed   DeltaKind = "renamed"
	DeltaMoved     DeltaKind = "moved"
)

// Delta classifies one path between two snapshots of the same side.
// From and To are only set for renames and moves. Modified marks a relocated
// file whose modification time changed too.
type Delta struct {
	Kind     DeltaKind `json:"kind"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Modified bool      `json:"modified,omitempty"`
}

func (d Delta) IsRelocation() bool {
	return d.Kind == DeltaRenamed || d.Kind == DeltaMoved
}

// IsChange is true for content changes (new, newer, older)
func (d Delta) IsChange() bool {
	return d.Kind == DeltaNew || d.Kind == DeltaNewer || d.Kind == DeltaOlder
}

// IsCaseOnly marks a rename that only changed letter case
func (d Delta) IsCaseOnly() bool {
	return d.Kind == DeltaUnchanged && d.From != ""
}

func (d Delta) SameRelocation(o Delta) bool {
	return d.Kind == o.Kind && d.From == o.From && d.To == o.To
}

type Deltas struct {
	Files   map[string]Delta
	Folders map[string]Delta
}

func newDeltas() *Deltas {
	return &Deltas{
		Files:   make(map[string]Delta),
		Folders: make(map[string]Delta),
	}
}

func (d *Deltas) of(t ItemType) map[string]Delta {
	if t == ItemFolder {
		return d.Folders
	}
	return d.Files
}

// GetDeltas diffs two snapshots of the same side. It does no I/O.
func GetDeltas(before, now *Tree) *Deltas {
	deltas := newDeltas()

	for p := range now.Folders {
		if _, ok := before.Folders[p]; ok {
			deltas.Folders[p] = Delta{Kind: DeltaUnchanged}
		} else {
			deltas.Folders[p] = Delta{Kind: DeltaNew}
		}
	}
	for p := range before.Folders {
		if _, ok := now.Folders[p]; !ok {
			deltas.Folders[p] = Delta{Kind: DeltaDeleted}
		}
	}

	for p, f := range now.Files {
		prev, ok := before.Files[p]
		switch {
		case !ok:
			deltas.Files[p] = Delta{Kind: DeltaNew}
		case f.LastModified == prev.LastModified:
			deltas.Files[p] = Delta{Kind: DeltaUnchanged}
		case f.LastModified > prev.LastModified:
			deltas.Files[p] = Delta{Kind: DeltaNewer}
		default:
			deltas.Files[p] = Delta{Kind: DeltaOlder}
		}
	}
	for p := range before.Files {
		if _, ok := now.Files[p]; !ok {
			deltas.Files[p] = Delta{Kind: DeltaDeleted}
		}
	}

	for id, ref := range now.Identities {
		prev, ok := before.Identities[id]
		if !ok || prev.Type != ref.Type || prev.Path == ref.Path {
			continue
		}

		// a different item now lives at the old path, or the new path was
		// already taken by a different item: delete+create, not a rename
		if otherID, _, live := now.IdentityAt(prev.Path); live && otherID != id {
			continue
		}
		if otherID, _, live := before.IdentityAt(ref.Path); live && otherID != id {
			continue
		}

		target := deltas.of(ref.Type)

		// case only rename, can't tell it apart from case folding on the filesystem.
		// From/To are kept so the planner leaves both paths alone.
		if strings.EqualFold(prev.Path, ref.Path) {
			d := Delta{Kind: DeltaUnchanged, From: prev.Path, To: ref.Path}
			target[prev.Path] = d
			target[ref.Path] = d
			continue
		}

		kind := DeltaRenamed
		if utils.ParentPath(prev.Path) != utils.ParentPath(ref.Path) {
			kind = DeltaMoved
		}
		d := Delta{Kind: kind, From: prev.Path, To: ref.Path}
		if ref.Type == ItemFile {
			was, wasOK := before.Files[prev.Path]
			is, isOK := now.Files[ref.Path]
			d.Modified = wasOK && isOK && was.LastModified != is.LastModified
		}
		target[prev.Path] = d
		target[ref.Path] = d
	}

	return deltas
}
