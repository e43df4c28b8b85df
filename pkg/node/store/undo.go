package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
)

// journalEntry is one line of a file's undo journal:
//
//	timestamp|backup-filename|identity|used
//
// Journals written by older nodes may lack the used field; those entries
// parse as unused.
type journalEntry struct {
	ts     int64
	backup string
	user   string
	used   bool
}

func (e *journalEntry) format() string {
	used := 0
	if e.used {
		used = 1
	}
	return fmt.Sprintf("%d|%s|%s|%d", e.ts, e.backup, e.user, used)
}

func parseJournalEntry(line string) (journalEntry, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 3 {
		return journalEntry{}, false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return journalEntry{}, false
	}
	e := journalEntry{ts: ts, backup: parts[1], user: parts[2]}
	if len(parts) >= 4 && parts[3] == "1" {
		e.used = true
	}
	return e, true
}

func (s *Store) undoPath(name string) string {
	return filepath.Join(s.base, "undo", name+".undo")
}

func (s *Store) readJournal(name string) []journalEntry {
	data, err := os.ReadFile(s.undoPath(name))
	if err != nil {
		return nil
	}
	var entries []journalEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if e, ok := parseJournalEntry(line); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func (s *Store) writeJournal(name string, entries []journalEntry) error {
	var b strings.Builder
	for i := range entries {
		b.WriteString(entries[i].format())
		b.WriteByte('\n')
	}
	return atomicWrite(s.undoPath(name), []byte(b.String()))
}

// Backup snapshots the current live content of name into versions/ and
// appends an unused journal entry attributed to identity. Call it
// immediately before every committed mutation.
func (s *Store) Backup(name, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupLocked(name, identity)
}

func (s *Store) backupLocked(name, identity string) error {
	content, err := s.contentLocked(name)
	if err != nil {
		return err
	}

	// Nanosecond timestamps keep backup names unique across rapid commits.
	ts := time.Now().UnixNano()
	backup := fmt.Sprintf("%s_%d.bak", name, ts)
	if err := os.WriteFile(filepath.Join(s.base, "versions", backup), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	entries := s.readJournal(name)
	entries = append(entries, journalEntry{ts: ts, backup: backup, user: identity})
	return s.writeJournal(name, entries)
}

// Undo restores the newest unused backup of name and marks its journal
// entry used. Consumed entries stay in the journal, so repeated undos walk
// further back until ErrNoHistory.
func (s *Store) Undo(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[name]; !ok {
		return ErrNotFound
	}

	entries := s.readJournal(name)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].used {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.base, "versions", entries[i].backup))
		if err != nil {
			logger.Warn("Backup %s unreadable, skipping: %v", entries[i].backup, err)
			continue
		}
		if err := s.writeContentLocked(name, string(data)); err != nil {
			return err
		}

		entries[i].used = true
		if err := s.writeJournal(name, entries); err != nil {
			return err
		}
		logger.Info("Undo restored %s from %s", name, entries[i].backup)
		return nil
	}
	return ErrNoHistory
}
