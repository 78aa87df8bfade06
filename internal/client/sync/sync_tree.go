package sync

import (
	"maps"
	"sort"
	"strings"

	"github.com/openmined/cryptsync/internal/utils"
)

type ItemType string

const (
	ItemFile   ItemType = "file"
	ItemFolder ItemType = "folder"
)

// FileEntry describes a file in a tree. Identity is the inode (local) or the item uuid (remote).
// Bucket, Region, Chunks, Key, Mime and Version are only set on the remote side.
type FileEntry struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"`
	Identity     string `json:"identity"`
	Bucket       string `json:"bucket,omitempty"`
	Region       string `json:"region,omitempty"`
	Chunks       int    `json:"chunks,omitempty"`
	Key          string `json:"key,omitempty"`
	Mime         string `json:"mime,omitempty"`
	Version      int    `json:"version,omitempty"`
}

type FolderEntry struct {
	Name         string `json:"name"`
	LastModified int64  `json:"lastModified,omitempty"`
	Identity     string `json:"identity"`
}

type IdentityRef struct {
	Type ItemType `json:"type"`
	Path string   `json:"path"`
}

// Tree is a snapshot of one side of a sync location keyed by `/` separated
// paths relative to the location root. The root itself is never an entry.
type Tree struct {
	Files      map[string]*FileEntry   `json:"files"`
	Folders    map[string]*FolderEntry `json:"folders"`
	Identities map[string]IdentityRef  `json:"identities"`
}

func NewTree() *Tree {
	return &Tree{
		Files:      make(map[string]*FileEntry),
		Folders:    make(map[string]*FolderEntry),
		Identities: make(map[string]IdentityRef),
	}
}

// ensure fills nil maps, trees decoded from older state may lack some
func (t *Tree) ensure() *Tree {
	if t.Files == nil {
		t.Files = make(map[string]*FileEntry)
	}
	if t.Folders == nil {
		t.Folders = make(map[string]*FolderEntry)
	}
	if t.Identities == nil {
		t.Identities = make(map[string]IdentityRef)
	}
	return t
}

func (t *Tree) AddFile(p string, entry *FileEntry) {
	t.Files[p] = entry
	if entry.Identity != "" {
		t.Identities[entry.Identity] = IdentityRef{Type: ItemFile, Path: p}
	}
}

func (t *Tree) AddFolder(p string, entry *FolderEntry) {
	t.Folders[p] = entry
	if entry.Identity != "" {
		t.Identities[entry.Identity] = IdentityRef{Type: ItemFolder, Path: p}
	}
}

// Has reports whether p is a live file or folder
func (t *Tree) Has(p string) bool {
	_, isFile := t.Files[p]
	_, isFolder := t.Folders[p]
	return isFile || isFolder
}

// IdentityAt returns the identity of whatever lives at p
func (t *Tree) IdentityAt(p string) (string, ItemType, bool) {
	if f, ok := t.Files[p]; ok {
		return f.Identity, ItemFile, true
	}
	if d, ok := t.Folders[p]; ok {
		return d.Identity, ItemFolder, true
	}
	return "", "", false
}

// Remove drops p and, when p is a folder, everything nested below it
func (t *Tree) Remove(p string) {
	if f, ok := t.Files[p]; ok {
		t.dropIdentity(f.Identity, p)
		delete(t.Files, p)
	}
	if _, ok := t.Folders[p]; !ok {
		return
	}
	for fp, f := range t.Files {
		if utils.IsSubPath(p, fp) {
			t.dropIdentity(f.Identity, fp)
			delete(t.Files, fp)
		}
	}
	for dp, d := range t.Folders {
		if utils.IsSubPath(p, dp) {
			t.dropIdentity(d.Identity, dp)
			delete(t.Folders, dp)
		}
	}
}

// Rewrite moves p to np. Folder moves carry the whole subtree along.
func (t *Tree) Rewrite(p, np string) {
	if p == np {
		return
	}

	if f, ok := t.Files[p]; ok {
		delete(t.Files, p)
		f.Name = baseName(np)
		t.AddFile(np, f)
	}

	if _, ok := t.Folders[p]; !ok {
		return
	}

	prefix := p + "/"

	// collect first, a rewritten key may collide with one not yet visited
	movedFiles := make(map[string]*FileEntry)
	for fp, f := range t.Files {
		if strings.HasPrefix(fp, prefix) {
			delete(t.Files, fp)
			movedFiles[np+"/"+strings.TrimPrefix(fp, prefix)] = f
		}
	}
	for fp, f := range movedFiles {
		t.AddFile(fp, f)
	}

	moved := make(map[string]*FolderEntry)
	for dp, d := range t.Folders {
		if dp == p || strings.HasPrefix(dp, prefix) {
			delete(t.Folders, dp)
			moved[np+strings.TrimPrefix(dp, p)] = d
		}
	}
	for dp, d := range moved {
		if dp == np {
			d.Name = baseName(np)
		}
		t.AddFolder(dp, d)
	}
}

func (t *Tree) dropIdentity(id, p string) {
	if ref, ok := t.Identities[id]; ok && ref.Path == p {
		delete(t.Identities, id)
	}
}

func (t *Tree) Clone() *Tree {
	c := NewTree()
	for p, f := range t.Files {
		cp := *f
		c.Files[p] = &cp
	}
	for p, d := range t.Folders {
		cp := *d
		c.Folders[p] = &cp
	}
	c.Identities = maps.Clone(t.Identities)
	if c.Identities == nil {
		c.Identities = make(map[string]IdentityRef)
	}
	return c
}

func (t *Tree) Len() int {
	return len(t.Files) + len(t.Folders)
}

// sortedPaths orders parents before children, then lexically
func sortedPaths[V any](m map[string]V) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sortByDepth(paths)
	return paths
}

func sortByDepth(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := utils.PathDepth(paths[i]), utils.PathDepth(paths[j])
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
