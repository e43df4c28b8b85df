package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CheckpointInfo describes one tagged snapshot of a file.
type CheckpointInfo struct {
	Tag     string
	Created int64
	Creator string
	Size    int64
}

func (s *Store) checkpointPath(name, tag string) string {
	return filepath.Join(s.base, "checkpoints", fmt.Sprintf("%s_%s.checkpoint", name, tag))
}

func (s *Store) checkpointMetaPath(name string) string {
	return filepath.Join(s.base, "checkpoint_meta", name+".meta")
}

// Checkpoints returns the snapshots recorded for name, in creation order.
func (s *Store) Checkpoints(name string) []CheckpointInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointsLocked(name)
}

func (s *Store) checkpointsLocked(name string) []CheckpointInfo {
	data, err := os.ReadFile(s.checkpointMetaPath(name))
	if err != nil {
		return nil
	}

	var out []CheckpointInfo
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 4 {
			continue
		}
		ts, err1 := strconv.ParseInt(parts[0], 10, 64)
		size, err2 := strconv.ParseInt(parts[3], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, CheckpointInfo{Tag: parts[1], Created: ts, Creator: parts[2], Size: size})
	}
	return out
}

// CreateCheckpoint snapshots the current live content of name under tag.
// Tags are unique per file and snapshots are immutable once written.
func (s *Store) CreateCheckpoint(name, tag, creator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.contentLocked(name)
	if err != nil {
		return err
	}
	for _, cp := range s.checkpointsLocked(name) {
		if cp.Tag == tag {
			return ErrTagExists
		}
	}

	if err := os.WriteFile(s.checkpointPath(name, tag), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	meta := fmt.Sprintf("%d|%s|%s|%d\n", time.Now().Unix(), tag, creator, len(content))
	f, err := os.OpenFile(s.checkpointMetaPath(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint meta: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(meta); err != nil {
		return fmt.Errorf("failed to append checkpoint meta: %w", err)
	}
	return nil
}

// ReadCheckpoint returns the snapshot content for (name, tag).
func (s *Store) ReadCheckpoint(name, tag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[name]; !ok {
		return "", ErrNotFound
	}
	data, err := os.ReadFile(s.checkpointPath(name, tag))
	if err != nil {
		return "", ErrCheckpointNotFound
	}
	return string(data), nil
}

// Revert rewrites the live content of name from the tagged snapshot. The
// pre-revert content is backed up first, so a single undo restores it.
func (s *Store) Revert(name, tag, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[name]; !ok {
		return ErrNotFound
	}
	data, err := os.ReadFile(s.checkpointPath(name, tag))
	if err != nil {
		return ErrCheckpointNotFound
	}

	if err := s.backupLocked(name, identity); err != nil {
		return err
	}
	return s.writeContentLocked(name, string(data))
}
