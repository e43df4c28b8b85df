// Package locks implements the node's sentence-level advisory locks.
//
// A lock is held by a session (identified by an opaque session id) on one
// (file, sentence) pair. At most one lock exists per pair at any instant; a
// session may hold many locks across files and sentences, and every lock it
// holds is released when the session terminates.
package locks

import "sync"

type key struct {
	file     string
	sentence int
}

// Table is the in-memory lock registry, guarded by one mutex.
type Table struct {
	mu    sync.Mutex
	locks map[key]int64 // (file, sentence) -> holding session
}

// NewTable returns an empty lock table.
func NewTable() *Table {
	return &Table{locks: make(map[key]int64)}
}

// Acquire takes the (file, sentence) lock for session. Re-acquiring a lock
// already held by the same session is a no-op. Returns false if another
// session holds it.
func (t *Table) Acquire(file string, sentence int, session int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{file, sentence}
	if holder, ok := t.locks[k]; ok {
		return holder == session
	}
	t.locks[k] = session
	return true
}

// Release drops the (file, sentence) lock if session holds it.
func (t *Table) Release(file string, sentence int, session int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{file, sentence}
	if holder, ok := t.locks[k]; ok && holder == session {
		delete(t.locks, k)
	}
}

// ReleaseSession drops every lock held by session and returns the affected
// (file, sentence) pairs.
func (t *Table) ReleaseSession(session int64) []Held {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []Held
	for k, holder := range t.locks {
		if holder == session {
			delete(t.locks, k)
			released = append(released, Held{File: k.file, Sentence: k.sentence})
		}
	}
	return released
}

// Held names one lock a session holds.
type Held struct {
	File     string
	Sentence int
}

// Locked reports whether any sentence of file is locked by any session.
func (t *Table) Locked(file string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k := range t.locks {
		if k.file == file {
			return true
		}
	}
	return false
}

// HeldBy reports whether session holds the (file, sentence) lock.
func (t *Table) HeldBy(file string, sentence int, session int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	holder, ok := t.locks[key{file, sentence}]
	return ok && holder == session
}
