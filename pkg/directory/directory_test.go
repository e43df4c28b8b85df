package directory

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prosefs/prosefs/pkg/wire"
)

func newTestServer(cfg Config) *Server {
	return New(cfg)
}

// fakeNode speaks the node side of the registration handshake and control
// protocol over a pipe.
type fakeNode struct {
	t    *testing.T
	addr wire.NodeAddr
	conn net.Conn

	mu     sync.Mutex
	files  map[string]string
	owners map[string]string
}

func startFakeNode(t *testing.T, s *Server, addr wire.NodeAddr, records []wire.FileRecord) *fakeNode {
	t.Helper()
	nodeSide, dirSide := net.Pipe()
	go s.serveConn(dirSide)
	t.Cleanup(func() { nodeSide.Close() })

	f := &fakeNode{
		t:      t,
		addr:   addr,
		conn:   nodeSide,
		files:  make(map[string]string),
		owners: make(map[string]string),
	}
	for _, rec := range records {
		f.files[rec.Filename] = ""
		f.owners[rec.Filename] = rec.Owner
	}

	payload, err := wire.EncodePayload(&addr)
	require.NoError(t, err)
	h := wire.NewHeader(wire.MsgRegister, wire.ComponentNode, wire.ComponentDirectory, "")
	require.NoError(t, wire.WriteFrame(nodeSide, h, payload))

	reply, _, err := wire.ReadFrame(nodeSide)
	require.NoError(t, err)
	require.Equal(t, wire.MsgAck, reply.Type)

	for i := range records {
		body, err := wire.EncodePayload(&records[i])
		require.NoError(t, err)
		fh := wire.NewHeader(wire.MsgRegisterFile, wire.ComponentNode, wire.ComponentDirectory, records[i].Filename)
		require.NoError(t, wire.WriteFrame(nodeSide, fh, body))
	}
	done := wire.NewHeader(wire.MsgRegisterComplete, wire.ComponentNode, wire.ComponentDirectory, "")
	require.NoError(t, wire.WriteFrame(nodeSide, done, nil))

	require.Eventually(t, func() bool {
		_, ok := s.nodes.FindByAddr(addr)
		return ok
	}, time.Second, time.Millisecond, "slot never activated")

	go f.serve()
	return f
}

func (f *fakeNode) serve() {
	for {
		h, payload, err := wire.ReadFrame(f.conn)
		if err != nil {
			return
		}
		name := h.Name()
		ack := wire.NewHeader(wire.MsgAck, wire.ComponentNode, wire.ComponentDirectory, name)

		f.mu.Lock()
		switch h.Type {
		case wire.MsgCreate:
			f.files[name] = ""
			err = wire.WriteFrame(f.conn, ack, nil)
		case wire.MsgDelete:
			delete(f.files, name)
			delete(f.owners, name)
			err = wire.WriteFrame(f.conn, ack, nil)
		case wire.MsgInternalSetOwner:
			f.owners[name] = string(payload)
		case wire.MsgInternalGetMetadata:
			content := f.files[name]
			stats := wire.MetadataStats{
				WordCount:    int64(len(content)/5 + 1),
				CharCount:    int64(len(content)),
				LastAccessed: 1700000000,
			}
			var body []byte
			body, err = wire.EncodePayload(&stats)
			if err == nil {
				resp := wire.NewHeader(wire.MsgInternalMetadataResp, wire.ComponentNode, wire.ComponentDirectory, name)
				err = wire.WriteFrame(f.conn, resp, body)
			}
		case wire.MsgInternalRead:
			resp := wire.NewHeader(wire.MsgInternalData, wire.ComponentNode, wire.ComponentDirectory, name)
			err = wire.WriteFrame(f.conn, resp, []byte(f.files[name]))
		default:
			err = wire.WriteFrame(f.conn, ack, nil)
		}
		f.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (f *fakeNode) setContent(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = content
}

func (f *fakeNode) hasFile(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[name]
	return ok
}

func (f *fakeNode) ownerOf(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owners[name]
}

// testDirClient speaks the client side of the framed protocol.
type testDirClient struct {
	t    *testing.T
	conn net.Conn
}

func connectClient(t *testing.T, s *Server, identity string) *testDirClient {
	t.Helper()
	clientSide, dirSide := net.Pipe()
	go s.serveConn(dirSide)
	t.Cleanup(func() { clientSide.Close() })

	c := &testDirClient{t: t, conn: clientSide}
	h := wire.NewHeader(wire.MsgRegisterClient, wire.ComponentClient, wire.ComponentDirectory, identity)
	require.NoError(t, wire.WriteFrame(clientSide, h, nil))
	reply, _ := c.recv()
	require.Equal(t, wire.MsgAck, reply.Type)
	return c
}

func (c *testDirClient) send(typ wire.MsgType, name string, payload []byte) {
	c.t.Helper()
	h := wire.NewHeader(typ, wire.ComponentClient, wire.ComponentDirectory, name)
	require.NoError(c.t, wire.WriteFrame(c.conn, h, payload))
}

func (c *testDirClient) recv() (wire.Header, []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	h, payload, err := wire.ReadFrame(c.conn)
	require.NoError(c.t, err)
	return h, payload
}

func (c *testDirClient) request(typ wire.MsgType, name string, payload []byte) (wire.Header, []byte) {
	c.t.Helper()
	c.send(typ, name, payload)
	return c.recv()
}

func TestClientHandshake(t *testing.T) {
	t.Run("AcceptsIdentity", func(t *testing.T) {
		s := newTestServer(Config{})
		connectClient(t, s, "alice")
		assert.Equal(t, []string{"alice"}, s.users.Active())
	})

	t.Run("RejectsEmptyIdentity", func(t *testing.T) {
		s := newTestServer(Config{})
		clientSide, dirSide := net.Pipe()
		defer clientSide.Close()
		go s.serveConn(dirSide)

		h := wire.NewHeader(wire.MsgRegisterClient, wire.ComponentClient, wire.ComponentDirectory, "")
		require.NoError(t, wire.WriteFrame(clientSide, h, nil))
		reply, _, err := wire.ReadFrame(clientSide)
		require.NoError(t, err)
		assert.Equal(t, wire.MsgError, reply.Type)
	})

	t.Run("RejectsUnexpectedFirstFrame", func(t *testing.T) {
		s := newTestServer(Config{})
		clientSide, dirSide := net.Pipe()
		defer clientSide.Close()
		go s.serveConn(dirSide)

		h := wire.NewHeader(wire.MsgRead, wire.ComponentClient, wire.ComponentDirectory, "a.txt")
		require.NoError(t, wire.WriteFrame(clientSide, h, nil))
		reply, _, err := wire.ReadFrame(clientSide)
		require.NoError(t, err)
		assert.Equal(t, wire.MsgError, reply.Type)
	})
}

func TestCreate(t *testing.T) {
	t.Run("NoActiveNodes", func(t *testing.T) {
		s := newTestServer(Config{})
		c := connectClient(t, s, "alice")
		h, _ := c.request(wire.MsgCreate, "a.txt", nil)
		assert.Equal(t, wire.MsgError, h.Type)
		assert.Equal(t, errNoActiveNodes, h.Name())
	})

	t.Run("UnsafeNameRejected", func(t *testing.T) {
		s := newTestServer(Config{})
		startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
		c := connectClient(t, s, "alice")

		for _, name := range []string{
			"../../etc/passwd",
			"a/b.txt",
			"a,b.txt",
			"a|b.txt",
			"a b.txt",
		} {
			h, _ := c.request(wire.MsgCreate, name, nil)
			assert.Equal(t, wire.MsgError, h.Type, "name %q", name)
			assert.Equal(t, errBadFileName, h.Name(), "name %q", name)
		}
	})

	t.Run("RoundRobinPlacement", func(t *testing.T) {
		s := newTestServer(Config{})
		n1 := startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
		n2 := startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.2", Port: 7002}, nil)
		c := connectClient(t, s, "alice")

		h, _ := c.request(wire.MsgCreate, "a.txt", nil)
		require.Equal(t, wire.MsgAck, h.Type)
		h, _ = c.request(wire.MsgCreate, "b.txt", nil)
		require.Equal(t, wire.MsgAck, h.Type)

		aNode, err := s.index.NodeOf("a.txt")
		require.NoError(t, err)
		bNode, err := s.index.NodeOf("b.txt")
		require.NoError(t, err)
		assert.NotEqual(t, aNode, bNode)
		assert.True(t, n1.hasFile("a.txt") || n2.hasFile("a.txt"))
		assert.True(t, n1.hasFile("b.txt") || n2.hasFile("b.txt"))
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		s := newTestServer(Config{})
		startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
		c := connectClient(t, s, "alice")

		h, _ := c.request(wire.MsgCreate, "a.txt", nil)
		require.Equal(t, wire.MsgAck, h.Type)
		h, _ = c.request(wire.MsgCreate, "a.txt", nil)
		assert.Equal(t, wire.MsgError, h.Type)
		assert.Equal(t, errFileExists, h.Name())
	})

	t.Run("OwnerPropagated", func(t *testing.T) {
		s := newTestServer(Config{})
		n := startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
		c := connectClient(t, s, "alice")

		h, _ := c.request(wire.MsgCreate, "a.txt", nil)
		require.Equal(t, wire.MsgAck, h.Type)
		require.Eventually(t, func() bool { return n.ownerOf("a.txt") == "alice" },
			time.Second, time.Millisecond)
	})
}

func TestRedirects(t *testing.T) {
	setup := func(t *testing.T) (*Server, *testDirClient, *testDirClient, wire.NodeAddr) {
		s := newTestServer(Config{})
		addr := wire.NodeAddr{IP: "10.0.0.1", Port: 7001}
		startFakeNode(t, s, addr, nil)
		alice := connectClient(t, s, "alice")
		h, _ := alice.request(wire.MsgCreate, "a.txt", nil)
		require.Equal(t, wire.MsgAck, h.Type)
		bob := connectClient(t, s, "bob")
		return s, alice, bob, addr
	}

	t.Run("OwnerGetsNodeAddress", func(t *testing.T) {
		_, alice, _, addr := setup(t)
		h, payload := alice.request(wire.MsgRead, "a.txt", nil)
		require.Equal(t, wire.MsgReadRedirect, h.Type)
		var got wire.NodeAddr
		require.NoError(t, wire.DecodePayload(payload, &got))
		assert.Equal(t, addr, got)
	})

	t.Run("ReadPermissionRequired", func(t *testing.T) {
		_, _, bob, _ := setup(t)
		h, _ := bob.request(wire.MsgRead, "a.txt", nil)
		assert.Equal(t, wire.MsgError, h.Type)
		assert.Equal(t, errReadRequired, h.Name())
	})

	t.Run("WritePermissionRequired", func(t *testing.T) {
		_, alice, bob, _ := setup(t)
		body, err := wire.EncodePayload(&wire.AccessControl{Target: "bob", Permission: wire.PermRead})
		require.NoError(t, err)
		h, _ := alice.request(wire.MsgAddAccess, "a.txt", body)
		require.Equal(t, wire.MsgAck, h.Type)

		h, _ = bob.request(wire.MsgRead, "a.txt", nil)
		assert.Equal(t, wire.MsgReadRedirect, h.Type)
		h, _ = bob.request(wire.MsgWrite, "a.txt", nil)
		assert.Equal(t, wire.MsgError, h.Type)
		assert.Equal(t, errWriteRequired, h.Name())
	})

	t.Run("LocateSkipsPermissionCheck", func(t *testing.T) {
		_, _, bob, addr := setup(t)
		h, payload := bob.request(wire.MsgLocateFile, "a.txt", nil)
		require.Equal(t, wire.MsgLocateResponse, h.Type)
		var got wire.NodeAddr
		require.NoError(t, wire.DecodePayload(payload, &got))
		assert.Equal(t, addr, got)
	})

	t.Run("UnknownFile", func(t *testing.T) {
		_, alice, _, _ := setup(t)
		h, _ := alice.request(wire.MsgRead, "missing.txt", nil)
		assert.Equal(t, wire.MsgError, h.Type)
		assert.Equal(t, errFileNotFound, h.Name())
	})
}

func TestDelete(t *testing.T) {
	s := newTestServer(Config{})
	n := startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
	alice := connectClient(t, s, "alice")
	bob := connectClient(t, s, "bob")

	h, _ := alice.request(wire.MsgCreate, "a.txt", nil)
	require.Equal(t, wire.MsgAck, h.Type)

	h, _ = bob.request(wire.MsgDelete, "a.txt", nil)
	assert.Equal(t, wire.MsgError, h.Type)
	assert.Equal(t, errAccessDenied, h.Name())

	h, _ = alice.request(wire.MsgDelete, "a.txt", nil)
	require.Equal(t, wire.MsgAck, h.Type)
	assert.False(t, n.hasFile("a.txt"))

	h, _ = alice.request(wire.MsgRead, "a.txt", nil)
	assert.Equal(t, wire.MsgError, h.Type)
	assert.Equal(t, errFileNotFound, h.Name())
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(Config{})
	startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
	alice := connectClient(t, s, "alice")
	bob := connectClient(t, s, "bob")
	h, _ := alice.request(wire.MsgCreate, "a.txt", nil)
	require.Equal(t, wire.MsgAck, h.Type)

	grant := func(c *testDirClient, target string, perm wire.Permission) wire.Header {
		body, err := wire.EncodePayload(&wire.AccessControl{Target: target, Permission: perm})
		require.NoError(t, err)
		h, _ := c.request(wire.MsgAddAccess, "a.txt", body)
		return h
	}

	t.Run("OnlyOwnerGrants", func(t *testing.T) {
		h := grant(bob, "bob", wire.PermWrite)
		assert.Equal(t, wire.MsgError, h.Type)
		assert.Equal(t, errAccessDenied, h.Name())
	})

	t.Run("GrantThenRevoke", func(t *testing.T) {
		require.Equal(t, wire.MsgAck, grant(alice, "bob", wire.PermWrite).Type)
		h, _ := bob.request(wire.MsgWrite, "a.txt", nil)
		assert.Equal(t, wire.MsgReadRedirect, h.Type)

		h, _ = alice.request(wire.MsgRemAccess, "a.txt", []byte("bob"))
		require.Equal(t, wire.MsgAck, h.Type)
		h, _ = bob.request(wire.MsgRead, "a.txt", nil)
		assert.Equal(t, wire.MsgError, h.Type)
	})
}

func TestInfo(t *testing.T) {
	s := newTestServer(Config{})
	n := startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
	alice := connectClient(t, s, "alice")
	h, _ := alice.request(wire.MsgCreate, "a.txt", nil)
	require.Equal(t, wire.MsgAck, h.Type)
	n.setContent("a.txt", "hello world.")

	h, payload := alice.request(wire.MsgInfo, "a.txt", nil)
	require.Equal(t, wire.MsgInfoResponse, h.Type)
	var info wire.FileInfo
	require.NoError(t, wire.DecodePayload(payload, &info))
	assert.Equal(t, "a.txt", info.Filename)
	assert.Equal(t, "alice", info.Owner)
	assert.Equal(t, "10.0.0.1", info.NodeIP)
	assert.Equal(t, int32(7001), info.NodePort)
	assert.Equal(t, int64(12), info.CharCount)

	// The refreshed statistics stick in the index.
	rec, err := s.index.Find("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.Stats.CharCount)
}

func TestListActiveUsers(t *testing.T) {
	s := newTestServer(Config{})
	alice := connectClient(t, s, "alice")
	connectClient(t, s, "bob")

	h, payload := alice.request(wire.MsgList, "", nil)
	require.Equal(t, wire.MsgListResponse, h.Type)
	text := string(payload)
	assert.Contains(t, text, "Active users (2):")
	assert.Contains(t, text, "  alice")
	assert.Contains(t, text, "  bob")
}

func TestView(t *testing.T) {
	setup := func(t *testing.T) (*Server, *testDirClient, *testDirClient) {
		s := newTestServer(Config{})
		startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
		alice := connectClient(t, s, "alice")
		bob := connectClient(t, s, "bob")
		for _, name := range []string{"mine.txt", "shared.txt"} {
			h, _ := alice.request(wire.MsgCreate, name, nil)
			require.Equal(t, wire.MsgAck, h.Type)
		}
		return s, alice, bob
	}

	viewReq := func(t *testing.T, flags int32, folder string) []byte {
		body, err := wire.EncodePayload(&wire.ViewRequest{Flags: flags, Folder: folder})
		require.NoError(t, err)
		return body
	}

	t.Run("FiltersUnreadableFiles", func(t *testing.T) {
		_, alice, bob := setup(t)
		h, payload := alice.request(wire.MsgView, "", viewReq(t, 0, ""))
		require.Equal(t, wire.MsgViewResponse, h.Type)
		assert.Contains(t, string(payload), "--> mine.txt")

		h, payload = bob.request(wire.MsgView, "", viewReq(t, 0, ""))
		require.Equal(t, wire.MsgViewResponse, h.Type)
		assert.Equal(t, "No files found.\n", string(payload))
	})

	t.Run("AllFlagShowsEverything", func(t *testing.T) {
		_, _, bob := setup(t)
		h, payload := bob.request(wire.MsgView, "", viewReq(t, wire.ViewFlagAll, ""))
		require.Equal(t, wire.MsgViewResponse, h.Type)
		assert.Contains(t, string(payload), "--> mine.txt")
		assert.Contains(t, string(payload), "--> shared.txt")
	})

	t.Run("LongFlagRefreshesStats", func(t *testing.T) {
		s, alice, _ := setup(t)
		h, payload := alice.request(wire.MsgView, "", viewReq(t, wire.ViewFlagLong, ""))
		require.Equal(t, wire.MsgViewResponse, h.Type)
		text := string(payload)
		assert.Contains(t, text, "| T |")
		assert.Contains(t, text, "| F | mine.txt")
		assert.Contains(t, text, "alice")

		rec, err := s.index.Find("mine.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), rec.Stats.LastAccessed)
	})
}

func TestFolders(t *testing.T) {
	s := newTestServer(Config{})
	startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
	alice := connectClient(t, s, "alice")
	h, _ := alice.request(wire.MsgCreate, "a.txt", nil)
	require.Equal(t, wire.MsgAck, h.Type)

	viewReq := func(flags int32, folder string) []byte {
		body, err := wire.EncodePayload(&wire.ViewRequest{Flags: flags, Folder: folder})
		require.NoError(t, err)
		return body
	}

	h, _ = alice.request(wire.MsgCreateFolder, "docs", nil)
	require.Equal(t, wire.MsgAck, h.Type)
	h, _ = alice.request(wire.MsgCreateFolder, "docs", nil)
	assert.Equal(t, wire.MsgError, h.Type)
	assert.Equal(t, errFolderExists, h.Name())

	h, _ = alice.request(wire.MsgCreateFolder, "a,b", nil)
	assert.Equal(t, wire.MsgError, h.Type)
	assert.Equal(t, errBadFolderName, h.Name())

	h, _ = alice.request(wire.MsgMoveFile, "a.txt", []byte("docs"))
	require.Equal(t, wire.MsgAck, h.Type)

	h, payload := alice.request(wire.MsgView, "", viewReq(0, ""))
	require.Equal(t, wire.MsgViewResponse, h.Type)
	assert.Contains(t, string(payload), "[D] docs")
	assert.NotContains(t, string(payload), "--> a.txt")

	h, payload = alice.request(wire.MsgViewFolder, "docs", viewReq(0, "docs"))
	require.Equal(t, wire.MsgViewResponse, h.Type)
	assert.Contains(t, string(payload), "--> a.txt")

	h, _ = alice.request(wire.MsgMoveFolder, "docs", []byte("papers"))
	require.Equal(t, wire.MsgAck, h.Type)
	rec, err := s.index.Find("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "papers", rec.Folder)

	h, _ = alice.request(wire.MsgViewFolder, "docs", viewReq(0, "docs"))
	assert.Equal(t, wire.MsgError, h.Type)
	assert.Equal(t, errFolderNotFound, h.Name())
}

func TestDeadReport(t *testing.T) {
	s := newTestServer(Config{})
	addr := wire.NodeAddr{IP: "10.0.0.1", Port: 7001}
	startFakeNode(t, s, addr, []wire.FileRecord{{Filename: "x.txt", Owner: "alice"}})
	alice := connectClient(t, s, "alice")

	h, _ := alice.request(wire.MsgRead, "x.txt", nil)
	require.Equal(t, wire.MsgReadRedirect, h.Type)

	body, err := wire.EncodePayload(&addr)
	require.NoError(t, err)
	h, _ = alice.request(wire.MsgNodeDeadReport, "", body)
	require.Equal(t, wire.MsgAck, h.Type)

	require.Eventually(t, func() bool {
		_, err := s.index.NodeOf("x.txt")
		return err != nil
	}, time.Second, time.Millisecond, "files never purged")

	h, _ = alice.request(wire.MsgRead, "x.txt", nil)
	assert.Equal(t, wire.MsgError, h.Type)
	assert.Equal(t, errFileNotFound, h.Name())
	_, hit := s.cache.Lookup("x.txt")
	assert.False(t, hit)
}

func TestNodeReregistration(t *testing.T) {
	s := newTestServer(Config{})
	addr := wire.NodeAddr{IP: "10.0.0.1", Port: 7001}
	n1 := startFakeNode(t, s, addr, []wire.FileRecord{{Filename: "x.txt", Owner: "alice"}})
	n1.conn.Close()
	alice := connectClient(t, s, "alice")

	// The dead control link surfaces on the next dispatched request, which
	// deactivates the slot and purges its files.
	alice.request(wire.MsgInfo, "x.txt", nil)
	require.Eventually(t, func() bool {
		_, ok := s.nodes.FindByAddr(addr)
		return !ok
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := s.index.NodeOf("x.txt")
		return err != nil
	}, time.Second, time.Millisecond)

	// A re-registering node restores availability with its own file list.
	startFakeNode(t, s, addr, []wire.FileRecord{{Filename: "x.txt", Owner: "alice"}})
	h, _ := alice.request(wire.MsgRead, "x.txt", nil)
	assert.Equal(t, wire.MsgReadRedirect, h.Type)
}

func TestDuplicateNodeRejected(t *testing.T) {
	s := newTestServer(Config{})
	addr := wire.NodeAddr{IP: "10.0.0.1", Port: 7001}
	startFakeNode(t, s, addr, nil)

	nodeSide, dirSide := net.Pipe()
	defer nodeSide.Close()
	go s.serveConn(dirSide)

	payload, err := wire.EncodePayload(&addr)
	require.NoError(t, err)
	h := wire.NewHeader(wire.MsgRegister, wire.ComponentNode, wire.ComponentDirectory, "")
	require.NoError(t, wire.WriteFrame(nodeSide, h, payload))

	reply, _, err := wire.ReadFrame(nodeSide)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgError, reply.Type)
	assert.Equal(t, "Node already registered.", reply.Name())
}

func TestExec(t *testing.T) {
	t.Run("DisabledByDefault", func(t *testing.T) {
		s := newTestServer(Config{})
		startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
		alice := connectClient(t, s, "alice")
		h, _ := alice.request(wire.MsgCreate, "cmd.txt", nil)
		require.Equal(t, wire.MsgAck, h.Type)

		h, _ = alice.request(wire.MsgExec, "cmd.txt", nil)
		assert.Equal(t, wire.MsgError, h.Type)
		assert.Equal(t, errExecDisabled, h.Name())
	})

	t.Run("RunnerRejectsMetacharacters", func(t *testing.T) {
		s := newTestServer(Config{EnableExec: true})
		for _, line := range []string{
			"echo hi; rm -rf /",
			"cat /etc/passwd | wc -l",
			"echo $HOME",
			"echo `id`",
			"echo a > b",
		} {
			_, err := s.runCommand(line)
			assert.ErrorIs(t, err, errUnsafeCommand, line)
		}
	})

	t.Run("RunnerRejectsEmptyCommand", func(t *testing.T) {
		s := newTestServer(Config{EnableExec: true})
		_, err := s.runCommand("   \n")
		assert.ErrorIs(t, err, errEmptyCommand)
	})

	t.Run("RunnerExecutesArgv", func(t *testing.T) {
		s := newTestServer(Config{EnableExec: true})
		out, err := s.runCommand("echo hello world")
		require.NoError(t, err)
		assert.Equal(t, "hello world\n", string(out))
	})

	t.Run("OutputStreamsThenConnectionCloses", func(t *testing.T) {
		s := newTestServer(Config{EnableExec: true})
		n := startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
		alice := connectClient(t, s, "alice")
		h, _ := alice.request(wire.MsgCreate, "cmd.txt", nil)
		require.Equal(t, wire.MsgAck, h.Type)
		n.setContent("cmd.txt", "echo hi")

		alice.send(wire.MsgExec, "cmd.txt", nil)
		out, err := io.ReadAll(alice.conn)
		require.NoError(t, err)
		assert.Equal(t, "hi\n", string(out))
	})

	t.Run("RefusedCommandReportsError", func(t *testing.T) {
		s := newTestServer(Config{EnableExec: true})
		n := startFakeNode(t, s, wire.NodeAddr{IP: "10.0.0.1", Port: 7001}, nil)
		alice := connectClient(t, s, "alice")
		h, _ := alice.request(wire.MsgCreate, "cmd.txt", nil)
		require.Equal(t, wire.MsgAck, h.Type)
		n.setContent("cmd.txt", "echo hi | cat")

		alice.send(wire.MsgExec, "cmd.txt", nil)
		reply, _ := alice.recv()
		assert.Equal(t, wire.MsgError, reply.Type)
		assert.Equal(t, "Command rejected: shell metacharacters are not allowed.", reply.Name())
	})
}
