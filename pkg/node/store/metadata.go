package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/wire"
)

// FileMeta is one file's persisted metadata record.
type FileMeta struct {
	Name           string
	Size           int64
	WordCount      int64
	Created        int64
	Modified       int64
	LastAccessed   int64
	LastAccessedBy string
	Owner          string
	Folder         string
	ACL            []wire.ACLEntry
}

// Stats converts the record to its wire statistics block.
func (m *FileMeta) Stats() wire.MetadataStats {
	return wire.MetadataStats{
		WordCount:      m.WordCount,
		CharCount:      m.Size,
		Created:        m.Created,
		Modified:       m.Modified,
		LastAccessed:   m.LastAccessed,
		LastAccessedBy: m.LastAccessedBy,
	}
}

// Record converts the record to the wire form streamed at registration.
func (m *FileMeta) Record() wire.FileRecord {
	return wire.FileRecord{
		Filename:       m.Name,
		Owner:          m.Owner,
		ACL:            append([]wire.ACLEntry(nil), m.ACL...),
		WordCount:      m.WordCount,
		CharCount:      m.Size,
		Created:        m.Created,
		Modified:       m.Modified,
		LastAccessed:   m.LastAccessed,
		LastAccessedBy: m.LastAccessedBy,
		Folder:         m.Folder,
	}
}

// orDash maps empty strings to the placeholder used on disk.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// dashEmpty maps the on-disk placeholder back to an empty string.
func dashEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// formatMeta renders one metadata.txt line:
//
//	name,size,words,created,modified,accessed,accessed_by,owner,folder,acl_count,user:perm;...
func formatMeta(m *FileMeta) string {
	acl := make([]string, 0, len(m.ACL))
	for _, e := range m.ACL {
		acl = append(acl, fmt.Sprintf("%s:%d", e.Identity, e.Permission))
	}
	return fmt.Sprintf("%s,%d,%d,%d,%d,%d,%s,%s,%s,%d,%s",
		m.Name, m.Size, m.WordCount, m.Created, m.Modified, m.LastAccessed,
		orDash(m.LastAccessedBy), orDash(m.Owner), orDash(m.Folder),
		len(m.ACL), strings.Join(acl, ";"))
}

// parseMeta parses one metadata.txt line. Malformed lines return an error
// so the loader can skip them without dropping the whole table.
func parseMeta(line string) (*FileMeta, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 10 {
		return nil, fmt.Errorf("metadata line has %d fields, want at least 10", len(parts))
	}

	m := &FileMeta{Name: parts[0]}

	ints := make([]int64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad numeric field %q: %w", parts[i+1], err)
		}
		ints[i] = v
	}
	m.Size, m.WordCount, m.Created, m.Modified, m.LastAccessed =
		ints[0], ints[1], ints[2], ints[3], ints[4]

	m.LastAccessedBy = dashEmpty(parts[6])
	m.Owner = dashEmpty(parts[7])
	m.Folder = dashEmpty(parts[8])

	count, err := strconv.Atoi(parts[9])
	if err != nil {
		return nil, fmt.Errorf("bad acl count %q: %w", parts[9], err)
	}
	if count > 0 && len(parts) > 10 && parts[10] != "" {
		for _, pair := range strings.Split(parts[10], ";") {
			identity, permStr, ok := strings.Cut(pair, ":")
			if !ok {
				continue
			}
			perm, err := strconv.Atoi(permStr)
			if err != nil {
				continue
			}
			m.ACL = append(m.ACL, wire.ACLEntry{
				Identity:   identity,
				Permission: wire.Permission(perm),
			})
		}
	}
	return m, nil
}

// loadMetadata reads metadata.txt into the in-memory table.
func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m, err := parseMeta(line)
		if err != nil {
			logger.Warn("Skipping malformed metadata line: %v", err)
			continue
		}
		s.meta[m.Name] = m
	}
	logger.Info("Loaded metadata for %d file(s)", len(s.meta))
	return nil
}

// saveMetadataLocked rewrites metadata.txt from the in-memory table. The
// caller must hold s.mu.
func (s *Store) saveMetadataLocked() error {
	var b strings.Builder
	for _, name := range s.sortedNamesLocked() {
		b.WriteString(formatMeta(s.meta[name]))
		b.WriteByte('\n')
	}
	return atomicWrite(s.metadataPath(), []byte(b.String()))
}

// atomicWrite writes data via a temp file and rename so readers never see a
// partial file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
