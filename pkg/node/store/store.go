// Package store implements a node's on-disk state: live file content,
// persisted metadata, undo journals with their backups, checkpoints, and
// access-request logs.
//
// Everything lives under one base directory, ss_<port>/:
//
//	files/              live content and in-progress swap files
//	metadata/           metadata.txt, one comma-delimited record per file
//	undo/<f>.undo       pipe-delimited undo journal
//	versions/           pre-commit backups referenced by the journals
//	checkpoints/        tagged snapshots
//	checkpoint_meta/    per-file checkpoint metadata
//	access_requests/    per-file access request logs
//	logs/               node log output
//
// The in-memory metadata table is guarded by one mutex; content I/O happens
// under it too, which serialises mutations per node. Live file replacement
// is atomic (temp file plus rename) so concurrent readers observe either
// the pre-commit or the post-commit content, never a mix.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/sentence"
	"github.com/prosefs/prosefs/pkg/wire"
)

var swapPattern = regexp.MustCompile(`_\d+_\d+\.swap$`)

// Store owns one node's disk directory.
type Store struct {
	base string

	mu   sync.Mutex
	meta map[string]*FileMeta
}

// Open prepares the base directory under root for the given public port,
// creating the layout if needed, loading persisted metadata and removing
// orphan swap files left behind by a previous run.
func Open(root string, port int) (*Store, error) {
	base := filepath.Join(root, fmt.Sprintf("ss_%d", port))
	for _, dir := range []string{
		"files", "metadata", "undo", "versions",
		"checkpoints", "checkpoint_meta", "access_requests", "logs",
	} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	s := &Store{
		base: base,
		meta: make(map[string]*FileMeta),
	}
	if err := s.loadMetadata(); err != nil {
		return nil, err
	}
	s.cleanOrphanSwaps()
	return s, nil
}

// BaseDir returns the node's base directory.
func (s *Store) BaseDir() string { return s.base }

// LogDir returns the directory for node log output.
func (s *Store) LogDir() string { return filepath.Join(s.base, "logs") }

func (s *Store) filePath(name string) string {
	return filepath.Join(s.base, "files", name)
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.base, "metadata", "metadata.txt")
}

// cleanOrphanSwaps deletes swap files orphaned by sessions of a previous
// run.
func (s *Store) cleanOrphanSwaps() {
	entries, err := os.ReadDir(filepath.Join(s.base, "files"))
	if err != nil {
		return
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() && swapPattern.MatchString(e.Name()) {
			if err := os.Remove(filepath.Join(s.base, "files", e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		logger.Info("Removed %d orphan swap file(s)", removed)
	}
}

func (s *Store) sortedNamesLocked() []string {
	names := make([]string, 0, len(s.meta))
	for name := range s.meta {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns a copy of every metadata record sorted by name.
func (s *Store) List() []FileMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FileMeta, 0, len(s.meta))
	for _, name := range s.sortedNamesLocked() {
		m := *s.meta[name]
		m.ACL = append([]wire.ACLEntry(nil), m.ACL...)
		out = append(out, m)
	}
	return out
}

// Meta returns a copy of the metadata record for name.
func (s *Store) Meta(name string) (FileMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meta[name]
	if !ok {
		return FileMeta{}, false
	}
	out := *m
	out.ACL = append([]wire.ACLEntry(nil), m.ACL...)
	return out, true
}

// Exists reports whether the node holds name.
func (s *Store) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.meta[name]
	return ok
}

// Create adds an empty file. The name is validated here because it becomes
// a path under files/ and a field in metadata.txt.
func (s *Store) Create(name, owner string) error {
	if !wire.ValidFileName(name) {
		return ErrBadName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[name]; ok {
		return ErrExists
	}
	if err := os.WriteFile(s.filePath(name), nil, 0o644); err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	now := time.Now().Unix()
	s.meta[name] = &FileMeta{
		Name:     name,
		Owner:    owner,
		Created:  now,
		Modified: now,
	}
	return s.saveMetadataLocked()
}

// Delete removes the file and everything derived from it: metadata, undo
// journal, checkpoints and access requests. Backups under versions/ are
// kept for inspection.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[name]; !ok {
		return ErrNotFound
	}
	delete(s.meta, name)

	_ = os.Remove(s.filePath(name))
	_ = os.Remove(s.undoPath(name))
	_ = os.Remove(s.checkpointMetaPath(name))
	_ = os.Remove(s.requestsPath(name))
	if tags, err := filepath.Glob(filepath.Join(s.base, "checkpoints", name+"_*.checkpoint")); err == nil {
		for _, t := range tags {
			_ = os.Remove(t)
		}
	}
	return s.saveMetadataLocked()
}

// ReadFile returns the live content of name and stamps the last access.
func (s *Store) ReadFile(name, reader string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meta[name]
	if !ok {
		return "", ErrNotFound
	}
	data, err := os.ReadFile(s.filePath(name))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	m.LastAccessed = time.Now().Unix()
	m.LastAccessedBy = reader
	if err := s.saveMetadataLocked(); err != nil {
		logger.Warn("Failed to persist last-access update for %s: %v", name, err)
	}
	return string(data), nil
}

// Content returns the live content without touching access metadata.
func (s *Store) Content(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentLocked(name)
}

func (s *Store) contentLocked(name string) (string, error) {
	if _, ok := s.meta[name]; !ok {
		return "", ErrNotFound
	}
	data, err := os.ReadFile(s.filePath(name))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), nil
}

// WriteContent atomically replaces the live content of name and refreshes
// the derived statistics.
func (s *Store) WriteContent(name, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeContentLocked(name, content)
}

func (s *Store) writeContentLocked(name, content string) error {
	m, ok := s.meta[name]
	if !ok {
		return ErrNotFound
	}
	if err := atomicWrite(s.filePath(name), []byte(content)); err != nil {
		return err
	}

	words, chars := sentence.Stats(content)
	m.WordCount = words
	m.Size = chars
	m.Modified = time.Now().Unix()
	return s.saveMetadataLocked()
}

// Commit folds a session's swap view for (name, sentenceIdx) into the live
// file: read live, merge, back up, write, all under one lock hold. Two
// commits to different sentences of the same file therefore serialise, and
// each one merges against the content the other persisted. Returns false
// when the session never wrote a swap.
func (s *Store) Commit(name string, sentenceIdx int, session int64, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, err := os.ReadFile(s.SwapPath(name, sentenceIdx, session))
	if err != nil {
		return false, nil
	}
	live, err := s.contentLocked(name)
	if err != nil {
		return false, err
	}
	merged := sentence.Merge(live, string(swap), sentenceIdx)

	if err := s.backupLocked(name, identity); err != nil {
		return false, err
	}
	if err := s.writeContentLocked(name, merged); err != nil {
		return false, err
	}
	_ = os.Remove(s.SwapPath(name, sentenceIdx, session))
	return true, nil
}

// SetOwner records the owning identity for name.
func (s *Store) SetOwner(name, owner string) error {
	return s.updateMeta(name, func(m *FileMeta) { m.Owner = owner })
}

// SetFolder records the directory-side folder for name.
func (s *Store) SetFolder(name, folder string) error {
	return s.updateMeta(name, func(m *FileMeta) { m.Folder = folder })
}

// SetACL grants or updates identity's permission on name.
func (s *Store) SetACL(name, identity string, perm wire.Permission) error {
	return s.updateMeta(name, func(m *FileMeta) {
		for i := range m.ACL {
			if m.ACL[i].Identity == identity {
				m.ACL[i].Permission = perm
				return
			}
		}
		if len(m.ACL) < wire.MaxACLEntries {
			m.ACL = append(m.ACL, wire.ACLEntry{Identity: identity, Permission: perm})
		}
	})
}

// RemoveACL revokes identity's entry on name.
func (s *Store) RemoveACL(name, identity string) error {
	return s.updateMeta(name, func(m *FileMeta) {
		for i := range m.ACL {
			if m.ACL[i].Identity == identity {
				m.ACL[i] = m.ACL[len(m.ACL)-1]
				m.ACL = m.ACL[:len(m.ACL)-1]
				return
			}
		}
	})
}

func (s *Store) updateMeta(name string, fn func(*FileMeta)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meta[name]
	if !ok {
		return ErrNotFound
	}
	fn(m)
	return s.saveMetadataLocked()
}

// SwapPath returns the scratch file path for an editing session.
func (s *Store) SwapPath(name string, sentenceIdx int, session int64) string {
	return filepath.Join(s.base, "files",
		fmt.Sprintf("%s_%d_%d.swap", name, sentenceIdx, session))
}

// ReadSwap returns the swap content for a session, with ok=false when no
// swap file exists yet.
func (s *Store) ReadSwap(name string, sentenceIdx int, session int64) (string, bool) {
	data, err := os.ReadFile(s.SwapPath(name, sentenceIdx, session))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// WriteSwap stores the session's edited view.
func (s *Store) WriteSwap(name string, sentenceIdx int, session int64, content string) error {
	if err := os.WriteFile(s.SwapPath(name, sentenceIdx, session), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write swap: %w", err)
	}
	return nil
}

// DeleteSwap removes the session's swap file if present.
func (s *Store) DeleteSwap(name string, sentenceIdx int, session int64) {
	_ = os.Remove(s.SwapPath(name, sentenceIdx, session))
}
