package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prosefs/prosefs/pkg/wire"
)

func addFile(t *testing.T, ix *Index, name, owner string, node int) {
	t.Helper()
	require.NoError(t, ix.Add(Record{Name: name, Owner: owner, NodeIndex: node}))
}

func TestAddAndFind(t *testing.T) {
	t.Run("RoutingIsStable", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 2)

		for i := 0; i < 3; i++ {
			node, err := ix.NodeOf("a.txt")
			require.NoError(t, err)
			assert.Equal(t, 2, node)
		}
	})

	t.Run("DuplicateNameRejected", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 0)
		err := ix.Add(Record{Name: "a.txt", Owner: "bob", NodeIndex: 1})
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("MissingFileNotFound", func(t *testing.T) {
		ix := New()
		_, err := ix.Find("ghost.txt")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPermissions(t *testing.T) {
	t.Run("OwnerAlwaysPasses", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 0)

		ok, err := ix.Check("a.txt", "alice", wire.PermWrite)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("GrantIsMonotonic", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 0)
		require.NoError(t, ix.Grant("a.txt", "bob", wire.PermWrite))

		for _, perm := range []wire.Permission{wire.PermRead, wire.PermWrite} {
			ok, err := ix.Check("a.txt", "bob", perm)
			require.NoError(t, err)
			assert.True(t, ok, "write grant should imply %s", perm)
		}
	})

	t.Run("ReadGrantDoesNotImplyWrite", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 0)
		require.NoError(t, ix.Grant("a.txt", "bob", wire.PermRead))

		ok, err := ix.Check("a.txt", "bob", wire.PermWrite)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RevokeRemovesAccess", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 0)
		require.NoError(t, ix.Grant("a.txt", "bob", wire.PermRead))
		require.NoError(t, ix.Revoke("a.txt", "bob"))

		ok, err := ix.Check("a.txt", "bob", wire.PermRead)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("OwnerNeverEntersACL", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 0)
		require.NoError(t, ix.Grant("a.txt", "alice", wire.PermRead))

		rec, err := ix.Find("a.txt")
		require.NoError(t, err)
		assert.Empty(t, rec.ACL)
	})

	t.Run("ACLCapacityEnforced", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 0)

		for i := 0; i < wire.MaxACLEntries; i++ {
			require.NoError(t, ix.Grant("a.txt", string(rune('b'+i))+"-user", wire.PermRead))
		}
		err := ix.Grant("a.txt", "overflow", wire.PermRead)
		assert.ErrorIs(t, err, ErrACLFull)

		// Updating an existing entry still works at capacity.
		assert.NoError(t, ix.Grant("a.txt", "b-user", wire.PermWrite))
	})
}

func TestDelete(t *testing.T) {
	t.Run("OwnerOnly", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 3)

		_, err := ix.Delete("a.txt", "bob")
		assert.ErrorIs(t, err, ErrNotOwner)

		node, err := ix.Delete("a.txt", "alice")
		require.NoError(t, err)
		assert.Equal(t, 3, node)

		_, err = ix.NodeOf("a.txt")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRebuildAdd(t *testing.T) {
	t.Run("SameNodeRefreshes", func(t *testing.T) {
		ix := New()
		require.NoError(t, ix.RebuildAdd(1, wire.FileRecord{Filename: "a.txt", Owner: "alice", WordCount: 2}))
		require.NoError(t, ix.RebuildAdd(1, wire.FileRecord{Filename: "a.txt", Owner: "alice", WordCount: 9}))

		rec, err := ix.Find("a.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(9), rec.Stats.WordCount)
	})

	t.Run("CrossNodeConflictRejected", func(t *testing.T) {
		ix := New()
		require.NoError(t, ix.RebuildAdd(1, wire.FileRecord{Filename: "a.txt", Owner: "alice"}))
		err := ix.RebuildAdd(2, wire.FileRecord{Filename: "a.txt", Owner: "mallory"})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestPurgeByNode(t *testing.T) {
	ix := New()
	addFile(t, ix, "a.txt", "alice", 0)
	addFile(t, ix, "b.txt", "alice", 1)
	addFile(t, ix, "c.txt", "bob", 0)

	purged := ix.PurgeByNode(0)
	assert.Equal(t, []string{"a.txt", "c.txt"}, purged)

	_, err := ix.NodeOf("a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	node, err := ix.NodeOf("b.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, node)
}

func TestFolders(t *testing.T) {
	t.Run("MoveFolderRewritesPrefixes", func(t *testing.T) {
		ix := New()
		require.NoError(t, ix.AddFolder("docs", "alice"))
		addFile(t, ix, "a.txt", "alice", 0)
		addFile(t, ix, "b.txt", "alice", 1)
		addFile(t, ix, "c.txt", "alice", 0)
		_, err := ix.SetFolder("a.txt", "docs", "alice")
		require.NoError(t, err)
		_, err = ix.SetFolder("b.txt", "docs/sub", "alice")
		require.NoError(t, err)

		moved, err := ix.MoveFolder("docs", "archive")
		require.NoError(t, err)
		require.Len(t, moved, 2)
		assert.Equal(t, "archive", moved[0].Folder)
		assert.Equal(t, "archive/sub", moved[1].Folder)

		rec, err := ix.Find("c.txt")
		require.NoError(t, err)
		assert.Empty(t, rec.Folder)
	})

	t.Run("MoveRejectsUnknownSource", func(t *testing.T) {
		ix := New()
		_, err := ix.MoveFolder("ghost", "new")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SetFolderIsOwnerOnly", func(t *testing.T) {
		ix := New()
		addFile(t, ix, "a.txt", "alice", 0)
		_, err := ix.SetFolder("a.txt", "docs", "bob")
		assert.ErrorIs(t, err, ErrNotOwner)
	})
}
