package wire

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Permission is a per-identity access level. Write implies read.
type Permission uint32

const (
	PermNone  Permission = 0
	PermRead  Permission = 1
	PermWrite Permission = 2
)

// Implies reports whether p grants at least the level of q.
func (p Permission) Implies(q Permission) bool {
	return p >= q
}

func (p Permission) String() string {
	switch p {
	case PermRead:
		return "READ"
	case PermWrite:
		return "WRITE"
	default:
		return "NONE"
	}
}

// ParsePermissionFlag maps the -R/-W command flags to a permission.
func ParsePermissionFlag(flag string) (Permission, bool) {
	switch flag {
	case "-R":
		return PermRead, true
	case "-W":
		return PermWrite, true
	default:
		return PermNone, false
	}
}

// NodeAddr is the public address of a node. Carried by registration frames,
// redirect and locate responses, and dead-node reports.
type NodeAddr struct {
	IP   string
	Port int32
}

func (a NodeAddr) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// AccessControl asks for a permission change on a target identity.
type AccessControl struct {
	Target     string
	Permission Permission
}

// ACLEntry is one identity-permission pair of a file's access list.
type ACLEntry struct {
	Identity   string
	Permission Permission
}

// MetadataStats is the per-file statistics block a node reports back on
// MsgInternalGetMetadata.
type MetadataStats struct {
	WordCount      int64
	CharCount      int64
	Created        int64
	Modified       int64
	LastAccessed   int64
	LastAccessedBy string
}

// FileRecord is the complete file description a node streams to the
// directory during registration sync.
type FileRecord struct {
	Filename       string
	Owner          string
	ACL            []ACLEntry
	WordCount      int64
	CharCount      int64
	Created        int64
	Modified       int64
	LastAccessed   int64
	LastAccessedBy string
	Folder         string
}

// FileInfo is the MsgInfoResponse payload: the full record plus the owning
// node's public address.
type FileInfo struct {
	Filename       string
	Owner          string
	NodeIP         string
	NodePort       int32
	ACL            []ACLEntry
	WordCount      int64
	CharCount      int64
	Created        int64
	Modified       int64
	LastAccessed   int64
	LastAccessedBy string
}

// ViewRequest carries the listing flags and, for folder listings, the
// folder name.
type ViewRequest struct {
	Flags  int32
	Folder string
}

// EncodePayload XDR-encodes v into a payload byte slice.
func EncodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload XDR-decodes a payload byte slice into v, which must be a
// pointer.
func DecodePayload(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
