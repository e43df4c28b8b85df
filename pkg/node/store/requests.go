package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prosefs/prosefs/pkg/wire"
)

// Request statuses as persisted in the per-file request log.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusDenied   = "DENIED"
)

// AccessRequest is one entry of a file's access-request log.
type AccessRequest struct {
	Requested  int64
	Requester  string
	Permission wire.Permission
	Status     string
}

func (s *Store) requestsPath(name string) string {
	return filepath.Join(s.base, "access_requests", name+".requests")
}

func (s *Store) readRequests(name string) []AccessRequest {
	data, err := os.ReadFile(s.requestsPath(name))
	if err != nil {
		return nil
	}

	var out []AccessRequest
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
		perm, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, AccessRequest{
			Requested:  ts,
			Requester:  parts[1],
			Permission: wire.Permission(perm),
			Status:     parts[3],
		})
	}
	return out
}

func (s *Store) writeRequests(name string, reqs []AccessRequest) error {
	var b strings.Builder
	for _, r := range reqs {
		fmt.Fprintf(&b, "%d|%s|%d|%s\n", r.Requested, r.Requester, r.Permission, r.Status)
	}
	return atomicWrite(s.requestsPath(name), []byte(b.String()))
}

// AddRequest appends a pending access request. At most one pending entry
// may exist per (file, requester, permission).
func (s *Store) AddRequest(name, requester string, perm wire.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[name]; !ok {
		return ErrNotFound
	}
	reqs := s.readRequests(name)
	for _, r := range reqs {
		if r.Status == StatusPending && r.Requester == requester && r.Permission == perm {
			return ErrDuplicateRequest
		}
	}

	reqs = append(reqs, AccessRequest{
		Requested:  time.Now().Unix(),
		Requester:  requester,
		Permission: perm,
		Status:     StatusPending,
	})
	return s.writeRequests(name, reqs)
}

// PendingRequests returns the pending entries for name, oldest first.
func (s *Store) PendingRequests(name string) []AccessRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AccessRequest
	for _, r := range s.readRequests(name) {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out
}

// ResolveRequest marks the oldest pending request from requester approved
// or denied, returning the permission that was asked for.
func (s *Store) ResolveRequest(name, requester string, approve bool) (wire.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meta[name]; !ok {
		return wire.PermNone, ErrNotFound
	}

	reqs := s.readRequests(name)
	for i := range reqs {
		if reqs[i].Status != StatusPending || reqs[i].Requester != requester {
			continue
		}
		if approve {
			reqs[i].Status = StatusApproved
		} else {
			reqs[i].Status = StatusDenied
		}
		if err := s.writeRequests(name, reqs); err != nil {
			return wire.PermNone, err
		}
		return reqs[i].Permission, nil
	}
	return wire.PermNone, ErrRequestNotFound
}
