package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	t.Run("PreservesAllFields", func(t *testing.T) {
		var buf bytes.Buffer

		h := NewHeader(MsgCreate, ComponentClient, ComponentDirectory, "notes.txt")
		h.PayloadLen = 42
		require.NoError(t, WriteHeader(&buf, &h))

		got, err := ReadHeader(&buf)
		require.NoError(t, err)
		assert.Equal(t, MsgCreate, got.Type)
		assert.Equal(t, ComponentClient, got.Source)
		assert.Equal(t, ComponentDirectory, got.Dest)
		assert.Equal(t, uint32(42), got.PayloadLen)
		assert.Equal(t, "notes.txt", got.Name())
	})

	t.Run("TruncatesOverlongNames", func(t *testing.T) {
		h := NewHeader(MsgRead, ComponentClient, ComponentDirectory, strings.Repeat("x", 400))
		assert.Len(t, h.Name(), MaxName-1)
	})

	t.Run("EmptyNameDecodesEmpty", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewHeader(MsgAck, ComponentDirectory, ComponentClient, "")
		require.NoError(t, WriteHeader(&buf, &h))

		got, err := ReadHeader(&buf)
		require.NoError(t, err)
		assert.Equal(t, "", got.Name())
	})
}

func TestFrameRoundTrip(t *testing.T) {
	t.Run("CarriesPayloadBytes", func(t *testing.T) {
		var buf bytes.Buffer
		payload, err := EncodePayload(&NodeAddr{IP: "10.0.0.7", Port: 9090})
		require.NoError(t, err)

		h := NewHeader(MsgRegister, ComponentNode, ComponentDirectory, "")
		require.NoError(t, WriteFrame(&buf, h, payload))

		gotHeader, gotPayload, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, MsgRegister, gotHeader.Type)
		assert.Equal(t, uint32(len(payload)), gotHeader.PayloadLen)

		var addr NodeAddr
		require.NoError(t, DecodePayload(gotPayload, &addr))
		assert.Equal(t, "10.0.0.7", addr.IP)
		assert.Equal(t, int32(9090), addr.Port)
	})

	t.Run("EmptyPayloadReadsNil", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewHeader(MsgRegisterComplete, ComponentNode, ComponentDirectory, "")
		require.NoError(t, WriteFrame(&buf, h, nil))

		gotHeader, gotPayload, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, MsgRegisterComplete, gotHeader.Type)
		assert.Nil(t, gotPayload)
	})

	t.Run("FileRecordSurvivesEncoding", func(t *testing.T) {
		rec := FileRecord{
			Filename: "report.txt",
			Owner:    "alice",
			ACL: []ACLEntry{
				{Identity: "bob", Permission: PermRead},
				{Identity: "carol", Permission: PermWrite},
			},
			WordCount:      12,
			CharCount:      80,
			Created:        1700000000,
			Modified:       1700000100,
			LastAccessed:   1700000200,
			LastAccessedBy: "bob",
			Folder:         "projects",
		}

		payload, err := EncodePayload(&rec)
		require.NoError(t, err)

		var got FileRecord
		require.NoError(t, DecodePayload(payload, &got))
		assert.Equal(t, rec, got)
	})
}

func TestPermission(t *testing.T) {
	t.Run("WriteImpliesRead", func(t *testing.T) {
		assert.True(t, PermWrite.Implies(PermRead))
		assert.True(t, PermWrite.Implies(PermWrite))
		assert.False(t, PermRead.Implies(PermWrite))
		assert.False(t, PermNone.Implies(PermRead))
	})

	t.Run("ParsesCommandFlags", func(t *testing.T) {
		perm, ok := ParsePermissionFlag("-R")
		require.True(t, ok)
		assert.Equal(t, PermRead, perm)

		perm, ok = ParsePermissionFlag("-W")
		require.True(t, ok)
		assert.Equal(t, PermWrite, perm)

		_, ok = ParsePermissionFlag("-X")
		assert.False(t, ok)
	})
}

func TestNameValidation(t *testing.T) {
	t.Run("FileNames", func(t *testing.T) {
		for _, name := range []string{"notes.txt", "report-v2.txt", "a.b.c"} {
			assert.True(t, ValidFileName(name), "name %q", name)
		}
		for _, name := range []string{
			"", ".", "..", "../escape.txt", "a/b.txt", `a\b.txt`,
			"a,b.txt", "a|b.txt", "a b.txt", "a\tb", strings.Repeat("x", MaxName),
		} {
			assert.False(t, ValidFileName(name), "name %q", name)
		}
	})

	t.Run("FolderNames", func(t *testing.T) {
		assert.True(t, ValidFolderName("docs"))
		assert.True(t, ValidFolderName("docs/papers"))
		assert.False(t, ValidFolderName(""))
		assert.False(t, ValidFolderName("docs//papers"))
		assert.False(t, ValidFolderName("docs/../papers"))
		assert.False(t, ValidFolderName("a,b"))
	})
}
