package index

import "errors"

var (
	// ErrNotFound reports a file or folder absent from the index.
	ErrNotFound = errors.New("file not found")

	// ErrExists reports an insert colliding with an existing name.
	ErrExists = errors.New("file already exists")

	// ErrNotOwner reports an owner-only operation attempted by a non-owner.
	ErrNotOwner = errors.New("not the file owner")

	// ErrACLFull reports a grant against a file whose access list is at
	// capacity.
	ErrACLFull = errors.New("access control list full")

	// ErrConflict reports a registration sync record that collides with a
	// record owned by a different node.
	ErrConflict = errors.New("conflicting record from another node")
)
