// Package index implements the directory's in-memory file table.
//
// The table is the source of truth for file existence, placement, ownership
// and permissions. It is rebuilt from node-sent records whenever a node
// registers, so nothing here is persisted. One read-write lock guards the
// whole table including the folder registry; every operation holds it for
// its full duration.
package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/wire"
)

// Record is a file's directory-side description.
type Record struct {
	Name      string
	NodeIndex int
	Owner     string
	Folder    string
	ACL       []wire.ACLEntry
	Stats     wire.MetadataStats
}

// clone returns a deep copy safe to hand out after the lock is released.
func (r *Record) clone() Record {
	out := *r
	out.ACL = append([]wire.ACLEntry(nil), r.ACL...)
	return out
}

// Folder is a named container for files. Folders exist only on the
// directory; nodes record a file's folder as an opaque string.
type Folder struct {
	Name  string
	Owner string
}

// Index is the file table plus the folder registry.
type Index struct {
	mu      sync.RWMutex
	files   map[string]*Record
	folders map[string]string // folder name -> owner
}

// New returns an empty index.
func New() *Index {
	return &Index{
		files:   make(map[string]*Record),
		folders: make(map[string]string),
	}
}

// Add inserts a freshly created file. Fails with ErrExists if the name is
// taken.
func (ix *Index) Add(rec Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.files[rec.Name]; ok {
		return ErrExists
	}
	stored := rec.clone()
	ix.files[rec.Name] = &stored
	return nil
}

// RebuildAdd merges a record streamed by a registering node. A record for a
// name already owned by the same node refreshes in place; a collision with
// a record owned by a different active node is rejected with ErrConflict.
func (ix *Index) RebuildAdd(nodeIndex int, rec wire.FileRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if existing, ok := ix.files[rec.Filename]; ok {
		if existing.NodeIndex != nodeIndex {
			return ErrConflict
		}
	}

	ix.files[rec.Filename] = &Record{
		Name:      rec.Filename,
		NodeIndex: nodeIndex,
		Owner:     rec.Owner,
		Folder:    rec.Folder,
		ACL:       append([]wire.ACLEntry(nil), rec.ACL...),
		Stats: wire.MetadataStats{
			WordCount:      rec.WordCount,
			CharCount:      rec.CharCount,
			Created:        rec.Created,
			Modified:       rec.Modified,
			LastAccessed:   rec.LastAccessed,
			LastAccessedBy: rec.LastAccessedBy,
		},
	}
	if rec.Folder != "" {
		if _, ok := ix.folders[rec.Folder]; !ok {
			ix.folders[rec.Folder] = rec.Owner
		}
	}
	return nil
}

// Find returns a copy of the record for name.
func (ix *Index) Find(name string) (Record, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rec, ok := ix.files[name]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

// NodeOf returns the owning node index for name.
func (ix *Index) NodeOf(name string) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rec, ok := ix.files[name]
	if !ok {
		return -1, ErrNotFound
	}
	return rec.NodeIndex, nil
}

// Delete removes name. Only the owner may delete; the owning node index is
// returned so the caller can propagate the deletion.
func (ix *Index) Delete(name, requester string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.files[name]
	if !ok {
		return -1, ErrNotFound
	}
	if rec.Owner != requester {
		return -1, ErrNotOwner
	}
	delete(ix.files, name)
	return rec.NodeIndex, nil
}

// Check reports whether identity holds at least perm on name. The owner
// always passes.
func (ix *Index) Check(name, identity string, perm wire.Permission) (bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rec, ok := ix.files[name]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Owner == identity {
		return true, nil
	}
	for _, e := range rec.ACL {
		if e.Identity == identity && e.Permission.Implies(perm) {
			return true, nil
		}
	}
	return false, nil
}

// Grant gives identity the permission perm on name, updating an existing
// entry in place. Granting to the owner is a no-op since the owner already
// holds every permission and must never appear in the ACL.
func (ix *Index) Grant(name, identity string, perm wire.Permission) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.files[name]
	if !ok {
		return ErrNotFound
	}
	if rec.Owner == identity {
		return nil
	}
	for i := range rec.ACL {
		if rec.ACL[i].Identity == identity {
			rec.ACL[i].Permission = perm
			return nil
		}
	}
	if len(rec.ACL) >= wire.MaxACLEntries {
		return ErrACLFull
	}
	rec.ACL = append(rec.ACL, wire.ACLEntry{Identity: identity, Permission: perm})
	return nil
}

// Revoke removes identity's ACL entry on name.
func (ix *Index) Revoke(name, identity string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.files[name]
	if !ok {
		return ErrNotFound
	}
	for i := range rec.ACL {
		if rec.ACL[i].Identity == identity {
			rec.ACL[i] = rec.ACL[len(rec.ACL)-1]
			rec.ACL = rec.ACL[:len(rec.ACL)-1]
			return nil
		}
	}
	return nil
}

// Owner returns the owning identity of name.
func (ix *Index) Owner(name string) (string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rec, ok := ix.files[name]
	if !ok {
		return "", ErrNotFound
	}
	return rec.Owner, nil
}

// UpdateStats replaces the cached statistics block for name. Unknown names
// are ignored since the file may have been deleted while the refresh was in
// flight.
func (ix *Index) UpdateStats(name string, stats wire.MetadataStats) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if rec, ok := ix.files[name]; ok {
		rec.Stats = stats
	}
}

// SetFolder moves name into folder. Owner-only. The owning node index is
// returned for propagation.
func (ix *Index) SetFolder(name, folder, requester string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.files[name]
	if !ok {
		return -1, ErrNotFound
	}
	if rec.Owner != requester {
		return -1, ErrNotOwner
	}
	rec.Folder = folder
	return rec.NodeIndex, nil
}

// AddFolder registers a folder name owned by requester.
func (ix *Index) AddFolder(name, owner string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.folders[name]; ok {
		return ErrExists
	}
	ix.folders[name] = owner
	return nil
}

// FolderExists reports whether a folder is registered.
func (ix *Index) FolderExists(name string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	_, ok := ix.folders[name]
	return ok
}

// MovedFile identifies a record whose folder changed during MoveFolder.
type MovedFile struct {
	Name      string
	NodeIndex int
	Folder    string
}

// MoveFolder renames folder src to dst, rewriting every record whose folder
// path is src or begins with src plus the separator. The affected records
// are returned so the caller can propagate the new folder to each node.
func (ix *Index) MoveFolder(src, dst string) ([]MovedFile, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	owner, ok := ix.folders[src]
	if !ok {
		return nil, ErrNotFound
	}
	if _, ok := ix.folders[dst]; ok {
		return nil, ErrExists
	}
	delete(ix.folders, src)
	ix.folders[dst] = owner

	prefix := src + "/"
	var moved []MovedFile
	for _, rec := range ix.files {
		switch {
		case rec.Folder == src:
			rec.Folder = dst
		case strings.HasPrefix(rec.Folder, prefix):
			rec.Folder = dst + "/" + rec.Folder[len(prefix):]
		default:
			continue
		}
		moved = append(moved, MovedFile{Name: rec.Name, NodeIndex: rec.NodeIndex, Folder: rec.Folder})
	}
	sort.Slice(moved, func(i, j int) bool { return moved[i].Name < moved[j].Name })
	return moved, nil
}

// PurgeByNode drops every record owned by the given node and returns the
// removed names so location cache entries can be invalidated.
func (ix *Index) PurgeByNode(nodeIndex int) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var purged []string
	for name, rec := range ix.files {
		if rec.NodeIndex == nodeIndex {
			delete(ix.files, name)
			purged = append(purged, name)
		}
	}
	if len(purged) > 0 {
		logger.Info("Purged %d file(s) for node slot %d", len(purged), nodeIndex)
	}
	sort.Strings(purged)
	return purged
}

// All returns copies of every record, sorted by name.
func (ix *Index) All() []Record {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]Record, 0, len(ix.files))
	for _, rec := range ix.files {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Folders returns every registered folder sorted by name.
func (ix *Index) Folders() []Folder {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]Folder, 0, len(ix.folders))
	for name, owner := range ix.folders {
		out = append(out, Folder{Name: name, Owner: owner})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
