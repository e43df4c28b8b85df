// Package users tracks the identities holding a live directory session.
package users

import (
	"sort"
	"sync"
)

// Set is the active-user list. Duplicate logins of the same identity
// deduplicate by reference counting, so one of two concurrent sessions
// logging out does not evict the other.
type Set struct {
	mu       sync.Mutex
	sessions map[string]int
}

// NewSet returns an empty active-user set.
func NewSet() *Set {
	return &Set{sessions: make(map[string]int)}
}

// Login records a session for identity.
func (s *Set) Login(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[identity]++
}

// Logout removes one session for identity.
func (s *Set) Logout(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.sessions[identity]; ok {
		if n <= 1 {
			delete(s.sessions, identity)
		} else {
			s.sessions[identity] = n - 1
		}
	}
}

// Active returns the logged-in identities sorted by name.
func (s *Set) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
