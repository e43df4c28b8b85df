package store

import "errors"

var (
	// ErrNotFound reports an operation on a file the node does not hold.
	ErrNotFound = errors.New("file not found")

	// ErrExists reports a create colliding with an existing file.
	ErrExists = errors.New("file already exists")

	// ErrBadName reports a file name that would escape the files
	// directory or corrupt a delimited metadata record.
	ErrBadName = errors.New("invalid file name")

	// ErrNoHistory reports an undo with no unused journal entry left.
	ErrNoHistory = errors.New("no undo history")

	// ErrTagExists reports a checkpoint tag already taken for the file.
	ErrTagExists = errors.New("checkpoint tag already exists")

	// ErrCheckpointNotFound reports a missing checkpoint tag.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrRequestNotFound reports a missing pending access request.
	ErrRequestNotFound = errors.New("access request not found")

	// ErrDuplicateRequest reports a pending access request that already
	// exists for the same file, requester and permission.
	ErrDuplicateRequest = errors.New("access request already exists")
)
