package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/cryptsync/internal/syncsdk"
)

// RemoteScanner builds decrypted trees from the backend's flat listings
type RemoteScanner struct {
	api   RemoteAPI
	crypt Cryptor
	creds Credentials

	// decrypted metadata keyed by identity + ":" + encrypted blob
	cache *lru.Cache[string, []byte]

	mu        sync.Mutex
	hashes    map[string]uint64
	trees     map[string]*Tree
	requested map[string]bool
}

func NewRemoteScanner(api RemoteAPI, crypt Cryptor, creds Credentials, cacheSize int) (*RemoteScanner, error) {
	if cacheSize <= 0 {
		cacheSize = defaultMetadataCacheSize
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("metadata cache: %w", err)
	}
	return &RemoteScanner{
		api:       api,
		crypt:     crypt,
		creds:     creds,
		cache:     cache,
		hashes:    make(map[string]uint64),
		trees:     make(map[string]*Tree),
		requested: make(map[string]bool),
	}, nil
}

// Scan fetches the listing under the location's remote folder. An identical
// response body returns the previous tree with changed=false.
func (s *RemoteScanner) Scan(ctx context.Context, loc *Location) (bool, *Tree, error) {
	s.mu.Lock()
	first := !s.requested[loc.UUID]
	s.mu.Unlock()

	raw, resp, err := s.api.DirTree(ctx, &syncsdk.DirTreeParams{
		UUID:      loc.RemoteUUID,
		DeviceID:  syncsdk.DeviceID,
		SkipCache: first,
	})
	if err != nil {
		return false, nil, fmt.Errorf("remote tree: %w", err)
	}

	hash := xxhash.Sum64(raw)

	s.mu.Lock()
	s.requested[loc.UUID] = true
	prevHash, hasPrev := s.hashes[loc.UUID]
	prevTree := s.trees[loc.UUID]
	s.mu.Unlock()

	if hasPrev && prevHash == hash && prevTree != nil {
		return false, prevTree.Clone(), nil
	}

	start := time.Now()
	tree, err := s.buildTree(loc, resp)
	if err != nil {
		return false, nil, err
	}

	s.mu.Lock()
	s.hashes[loc.UUID] = hash
	s.trees[loc.UUID] = tree.Clone()
	s.mu.Unlock()

	slog.Debug("remote scan", "location", loc.UUID, "files", len(tree.Files), "folders", len(tree.Folders), "took", time.Since(start))
	return true, tree, nil
}

// Forget drops the cached listing of a location so the next scan rebuilds it
func (s *RemoteScanner) Forget(loc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, loc)
	delete(s.trees, loc)
}

type remoteFolderNode struct {
	name   string
	parent string
}

func (s *RemoteScanner) buildTree(loc *Location, resp *syncsdk.DirTreeResponse) (*Tree, error) {
	keys := s.creds.MasterKeys()
	if len(keys) == 0 {
		return nil, ErrNoMasterKeys
	}

	nodes := make(map[string]*remoteFolderNode, len(resp.Folders))
	order := make([]string, 0, len(resp.Folders))
	for _, f := range resp.Folders {
		if f.UUID == loc.RemoteUUID {
			continue
		}
		var meta folderMetadata
		if err := s.decrypt(f.UUID, f.Metadata, keys, &meta); err != nil {
			slog.Warn("remote scan skip folder", "uuid", f.UUID, "error", err)
			continue
		}
		if !validName(meta.Name) {
			continue
		}
		nodes[f.UUID] = &remoteFolderNode{name: meta.Name, parent: f.Parent}
		order = append(order, f.UUID)
	}

	r := &pathResolver{
		root:    loc.RemoteUUID,
		nodes:   nodes,
		paths:   make(map[string]string, len(nodes)),
		claimed: make(map[string]string, len(nodes)+len(resp.Files)),
	}

	tree := NewTree()
	for _, id := range order {
		p, ok := r.resolve(id)
		if !ok {
			continue
		}
		tree.AddFolder(p, &FolderEntry{Name: nodes[id].name, Identity: id})
	}

	for _, f := range resp.Files {
		var meta fileMetadata
		if err := s.decrypt(f.UUID, f.Metadata, keys, &meta); err != nil {
			slog.Warn("remote scan skip file", "uuid", f.UUID, "error", err)
			continue
		}
		if !validName(meta.Name) || meta.Size <= 0 {
			continue
		}

		parent, ok := r.parentPath(f.Parent)
		if !ok {
			continue
		}
		p := joinTreePath(parent, meta.Name)
		if !r.claim(p, f.UUID) {
			continue
		}

		tree.AddFile(p, &FileEntry{
			Name:         meta.Name,
			Size:         meta.Size,
			LastModified: meta.LastModified,
			Identity:     f.UUID,
			Bucket:       f.Bucket,
			Region:       f.Region,
			Chunks:       f.Chunks,
			Key:          meta.Key,
			Mime:         meta.Mime,
			Version:      f.Version,
		})
	}

	return tree, nil
}

// decrypt tries master keys newest first, the first one yielding valid JSON wins
func (s *RemoteScanner) decrypt(identity, blob string, keys []string, v any) error {
	cacheKey := identity + ":" + blob
	if plain, ok := s.cache.Get(cacheKey); ok {
		return json.Unmarshal(plain, v)
	}

	for i := len(keys) - 1; i >= 0; i-- {
		plain, err := s.crypt.DecryptMetadata(blob, keys[i])
		if err != nil || !json.Valid(plain) {
			continue
		}
		if err := json.Unmarshal(plain, v); err != nil {
			continue
		}
		s.cache.Add(cacheKey, plain)
		return nil
	}
	return ErrUndecryptable
}

// pathResolver turns parent pointers into tree paths. Orphans, cycles and
// case-insensitive sibling collisions resolve to nothing.
type pathResolver struct {
	root    string
	nodes   map[string]*remoteFolderNode
	paths   map[string]string
	claimed map[string]string
}

func (r *pathResolver) isRoot(parent string) bool {
	return parent == syncsdk.BaseParent || parent == r.root
}

func (r *pathResolver) parentPath(parent string) (string, bool) {
	if r.isRoot(parent) {
		return "", true
	}
	return r.resolve(parent)
}

func (r *pathResolver) resolve(id string) (string, bool) {
	if p, ok := r.paths[id]; ok {
		return p, p != ""
	}

	// walk up until a resolved ancestor or the root
	var chain []string
	visiting := make(map[string]bool)
	cur := id
	base := ""
	for {
		if p, ok := r.paths[cur]; ok {
			if p == "" {
				return r.fail(chain)
			}
			base = p
			break
		}
		node, ok := r.nodes[cur]
		if !ok || visiting[cur] {
			return r.fail(chain)
		}
		visiting[cur] = true
		chain = append(chain, cur)
		if r.isRoot(node.parent) {
			break
		}
		cur = node.parent
	}

	// assign from the top of the chain down
	for i := len(chain) - 1; i >= 0; i-- {
		nid := chain[i]
		p := joinTreePath(base, r.nodes[nid].name)
		if !r.claim(p, nid) {
			return r.fail(chain[:i+1])
		}
		r.paths[nid] = p
		base = p
	}
	return r.paths[id], true
}

func (r *pathResolver) fail(chain []string) (string, bool) {
	for _, id := range chain {
		r.paths[id] = ""
	}
	return "", false
}

// claim reserves p for id, first come first served ignoring case
func (r *pathResolver) claim(p, id string) bool {
	key := strings.ToLower(p)
	if owner, ok := r.claimed[key]; ok && owner != id {
		return false
	}
	r.claimed[key] = id
	return true
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\")
}

func joinTreePath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
