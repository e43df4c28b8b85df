package directory

import (
	"errors"
	"fmt"
	"net"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/directory/index"
	"github.com/prosefs/prosefs/pkg/directory/registry"
	"github.com/prosefs/prosefs/pkg/wire"
)

// Directory-side error strings. These travel in the name field of MsgError
// frames and are shown to users verbatim.
const (
	errFileExists     = "File already exists."
	errFileNotFound   = "File not found."
	errAccessDenied   = "Access Denied."
	errReadRequired   = "Access Denied (Read Permission Required)."
	errWriteRequired  = "Access Denied (Write Permission Required)."
	errNodeInactive   = "File is on an inactive server."
	errNoActiveNodes  = "No active storage servers available."
	errFolderExists   = "Folder already exists."
	errFolderNotFound = "Folder not found."
	errACLFull        = "Access control list is full."
	errBadFileName    = "Invalid file name."
	errBadFolderName  = "Invalid folder name."
	errExecDisabled   = "Remote execution is disabled."
)

// clientSession is one authenticated client connection to the directory.
type clientSession struct {
	srv      *Server
	conn     net.Conn
	identity string
}

// handleClientSession acknowledges the REGISTER_CLIENT frame, records the
// identity as active, and loops on framed commands until disconnect.
func (s *Server) handleClientSession(conn net.Conn, identity string) {
	defer func() {
		s.dropConn(conn)
		conn.Close()
	}()

	if identity == "" {
		h := wire.NewHeader(wire.MsgError, wire.ComponentDirectory, wire.ComponentClient, "Identity required.")
		_ = wire.WriteFrame(conn, h, nil)
		return
	}

	cs := &clientSession{srv: s, conn: conn, identity: identity}
	if err := cs.ack(""); err != nil {
		return
	}
	s.users.Login(identity)
	defer s.users.Logout(identity)
	logger.Info("Client '%s' connected", identity)

	for {
		h, payload, err := wire.ReadFrame(conn)
		if err != nil {
			logger.Debug("Client '%s' disconnected: %v", identity, err)
			return
		}
		if !cs.dispatch(h, payload) {
			return
		}
	}
}

// dispatch handles one client frame; returns false when the session must
// end (EXEC closes the connection after streaming output).
func (cs *clientSession) dispatch(h wire.Header, payload []byte) bool {
	name := h.Name()

	var err error
	switch h.Type {
	case wire.MsgCreate:
		err = cs.handleCreate(name)
	case wire.MsgDelete:
		err = cs.handleDelete(name)
	case wire.MsgUndo:
		err = cs.handleUndo(name)
	case wire.MsgInfo:
		err = cs.handleInfo(name)
	case wire.MsgList:
		err = cs.handleList()
	case wire.MsgView, wire.MsgViewFolder:
		err = cs.handleView(payload)
	case wire.MsgAddAccess:
		err = cs.handleAddAccess(name, payload)
	case wire.MsgRemAccess:
		err = cs.handleRemAccess(name, payload)
	case wire.MsgCreateFolder:
		err = cs.handleCreateFolder(name)
	case wire.MsgMoveFile:
		err = cs.handleMoveFile(name, string(payload))
	case wire.MsgMoveFolder:
		err = cs.handleMoveFolder(name, string(payload))
	case wire.MsgNodeDeadReport:
		err = cs.handleDeadReport(payload)
	case wire.MsgExec:
		cs.handleExec(name)
		return false

	case wire.MsgRead, wire.MsgStream, wire.MsgViewCheckpoint, wire.MsgListCheckpoints:
		err = cs.handleRedirect(name, wire.PermRead, wire.MsgReadRedirect)
	case wire.MsgWrite, wire.MsgCheckpoint, wire.MsgRevert:
		err = cs.handleRedirect(name, wire.PermWrite, wire.MsgReadRedirect)
	case wire.MsgLocateFile:
		// Deliberately unchecked: a user needs the node address to submit
		// an access request against a file they cannot yet read.
		err = cs.handleLocate(name)

	default:
		err = cs.fail("Unsupported operation.")
	}

	if err != nil {
		logger.Debug("Client '%s' write failed: %v", cs.identity, err)
		return false
	}
	return true
}

func (cs *clientSession) ack(name string) error {
	h := wire.NewHeader(wire.MsgAck, wire.ComponentDirectory, wire.ComponentClient, name)
	return wire.WriteFrame(cs.conn, h, nil)
}

func (cs *clientSession) fail(text string) error {
	h := wire.NewHeader(wire.MsgError, wire.ComponentDirectory, wire.ComponentClient, text)
	return wire.WriteFrame(cs.conn, h, nil)
}

func (cs *clientSession) reply(t wire.MsgType, name string, payload []byte) error {
	h := wire.NewHeader(t, wire.ComponentDirectory, wire.ComponentClient, name)
	return wire.WriteFrame(cs.conn, h, payload)
}

// slotFor resolves name to its active node slot.
func (cs *clientSession) slotFor(name string) (*registry.Slot, error) {
	nodeIdx, err := cs.srv.locate(name)
	if err != nil {
		return nil, err
	}
	slot, ok := cs.srv.nodes.Get(nodeIdx)
	if !ok {
		return nil, registry.ErrNodeInactive
	}
	return slot, nil
}

func (cs *clientSession) handleCreate(name string) error {
	if name == "" {
		return cs.fail("Filename required.")
	}
	if !wire.ValidFileName(name) {
		return cs.fail(errBadFileName)
	}
	if _, err := cs.srv.index.NodeOf(name); err == nil {
		return cs.fail(errFileExists)
	}

	slot, err := cs.srv.nodes.NextActive()
	if err != nil {
		return cs.fail(errNoActiveNodes)
	}

	req := wire.NewHeader(wire.MsgCreate, wire.ComponentDirectory, wire.ComponentNode, name)
	rep, err := slot.Do(req, nil)
	if err != nil {
		return cs.fail(errNodeInactive)
	}
	if rep.Header.Type != wire.MsgAck {
		return cs.fail(rep.Header.Name())
	}

	if err := cs.srv.index.Add(index.Record{
		Name:      name,
		NodeIndex: slot.Index(),
		Owner:     cs.identity,
	}); err != nil {
		// Lost the race to a concurrent create; the node-side file is
		// already owned by the index winner's record.
		return cs.fail(errFileExists)
	}
	cs.srv.cache.Add(name, slot.Index())

	// Ownership reaches the node asynchronously; the node accepts the
	// file as ownerless until then.
	owner := wire.NewHeader(wire.MsgInternalSetOwner, wire.ComponentDirectory, wire.ComponentNode, name)
	if err := slot.Send(owner, []byte(cs.identity)); err != nil {
		logger.Warn("Failed to propagate owner of '%s': %v", name, err)
	}

	logger.Info("Client '%s' created '%s' on slot %d", cs.identity, name, slot.Index())
	return cs.ack(name)
}

func (cs *clientSession) handleDelete(name string) error {
	nodeIdx, err := cs.srv.index.Delete(name, cs.identity)
	switch {
	case errors.Is(err, index.ErrNotFound):
		return cs.fail(errFileNotFound)
	case errors.Is(err, index.ErrNotOwner):
		return cs.fail(errAccessDenied)
	case err != nil:
		return cs.fail(errFileNotFound)
	}
	cs.srv.cache.Invalidate(name)

	// Best effort: the index is the source of truth for existence, so a
	// node-side failure does not resurrect the file.
	if slot, ok := cs.srv.nodes.Get(nodeIdx); ok {
		req := wire.NewHeader(wire.MsgDelete, wire.ComponentDirectory, wire.ComponentNode, name)
		if rep, err := slot.Do(req, nil); err != nil {
			logger.Warn("Failed to propagate delete of '%s': %v", name, err)
		} else if rep.Header.Type != wire.MsgAck {
			logger.Warn("Node refused delete of '%s': %s", name, rep.Header.Name())
		}
	}

	logger.Info("Client '%s' deleted '%s'", cs.identity, name)
	return cs.ack(name)
}

func (cs *clientSession) handleUndo(name string) error {
	ok, err := cs.srv.index.Check(name, cs.identity, wire.PermWrite)
	if err != nil {
		return cs.fail(errFileNotFound)
	}
	if !ok {
		return cs.fail(errWriteRequired)
	}

	slot, err := cs.slotFor(name)
	if err != nil {
		return cs.fail(errNodeInactive)
	}
	req := wire.NewHeader(wire.MsgUndo, wire.ComponentDirectory, wire.ComponentNode, name)
	rep, err := slot.Do(req, nil)
	if err != nil {
		return cs.fail(errNodeInactive)
	}
	if rep.Header.Type != wire.MsgAck {
		return cs.fail(rep.Header.Name())
	}
	return cs.ack(name)
}

// handleRedirect answers content operations with the owning node's public
// address. The client reconnects there directly.
func (cs *clientSession) handleRedirect(name string, perm wire.Permission, respType wire.MsgType) error {
	ok, err := cs.srv.index.Check(name, cs.identity, perm)
	if err != nil {
		return cs.fail(errFileNotFound)
	}
	if !ok {
		if perm == wire.PermWrite {
			return cs.fail(errWriteRequired)
		}
		return cs.fail(errReadRequired)
	}

	slot, err := cs.slotFor(name)
	if err != nil {
		return cs.fail(errNodeInactive)
	}
	addr := slot.Addr()
	payload, err := wire.EncodePayload(&addr)
	if err != nil {
		return cs.fail("Internal server error.")
	}
	return cs.reply(respType, name, payload)
}

func (cs *clientSession) handleLocate(name string) error {
	slot, err := cs.slotFor(name)
	switch {
	case errors.Is(err, index.ErrNotFound):
		return cs.fail(errFileNotFound)
	case err != nil:
		return cs.fail(errNodeInactive)
	}
	addr := slot.Addr()
	payload, err := wire.EncodePayload(&addr)
	if err != nil {
		return cs.fail("Internal server error.")
	}
	return cs.reply(wire.MsgLocateResponse, name, payload)
}

func (cs *clientSession) handleInfo(name string) error {
	rec, err := cs.srv.index.Find(name)
	if err != nil {
		return cs.fail(errFileNotFound)
	}
	ok, _ := cs.srv.index.Check(name, cs.identity, wire.PermRead)
	if !ok {
		return cs.fail(errReadRequired)
	}

	info := wire.FileInfo{
		Filename:       rec.Name,
		Owner:          rec.Owner,
		ACL:            rec.ACL,
		WordCount:      rec.Stats.WordCount,
		CharCount:      rec.Stats.CharCount,
		Created:        rec.Stats.Created,
		Modified:       rec.Stats.Modified,
		LastAccessed:   rec.Stats.LastAccessed,
		LastAccessedBy: rec.Stats.LastAccessedBy,
	}

	// Refresh the statistics from the owning node when it is reachable;
	// otherwise the cached block serves.
	if slot, ok := cs.srv.nodes.Get(rec.NodeIndex); ok {
		addr := slot.Addr()
		info.NodeIP, info.NodePort = addr.IP, addr.Port

		req := wire.NewHeader(wire.MsgInternalGetMetadata, wire.ComponentDirectory, wire.ComponentNode, name)
		if rep, err := slot.Do(req, nil); err == nil && rep.Header.Type == wire.MsgInternalMetadataResp {
			var stats wire.MetadataStats
			if err := wire.DecodePayload(rep.Payload, &stats); err == nil {
				cs.srv.index.UpdateStats(name, stats)
				info.WordCount = stats.WordCount
				info.CharCount = stats.CharCount
				info.Created = stats.Created
				info.Modified = stats.Modified
				info.LastAccessed = stats.LastAccessed
				info.LastAccessedBy = stats.LastAccessedBy
			}
		}
	}

	payload, err := wire.EncodePayload(&info)
	if err != nil {
		return cs.fail("Internal server error.")
	}
	return cs.reply(wire.MsgInfoResponse, name, payload)
}

func (cs *clientSession) handleList() error {
	active := cs.srv.users.Active()
	text := fmt.Sprintf("Active users (%d):\n", len(active))
	for _, id := range active {
		text += "  " + id + "\n"
	}
	return cs.reply(wire.MsgListResponse, "", []byte(text))
}

func (cs *clientSession) handleView(payload []byte) error {
	var req wire.ViewRequest
	if len(payload) > 0 {
		if err := wire.DecodePayload(payload, &req); err != nil {
			return cs.fail("Bad payload.")
		}
	}
	if req.Folder != "" && !cs.srv.index.FolderExists(req.Folder) {
		return cs.fail(errFolderNotFound)
	}
	text := cs.srv.renderView(cs.identity, req)
	return cs.reply(wire.MsgViewResponse, req.Folder, []byte(text))
}

func (cs *clientSession) handleAddAccess(name string, payload []byte) error {
	var ac wire.AccessControl
	if err := wire.DecodePayload(payload, &ac); err != nil {
		return cs.fail("Bad payload.")
	}

	owner, err := cs.srv.index.Owner(name)
	if err != nil {
		return cs.fail(errFileNotFound)
	}
	if owner != cs.identity {
		return cs.fail(errAccessDenied)
	}

	switch err := cs.srv.index.Grant(name, ac.Target, ac.Permission); {
	case errors.Is(err, index.ErrACLFull):
		return cs.fail(errACLFull)
	case err != nil:
		return cs.fail(errFileNotFound)
	}

	if slot, err := cs.slotFor(name); err == nil {
		req := wire.NewHeader(wire.MsgInternalAddAccess, wire.ComponentDirectory, wire.ComponentNode, name)
		if rep, err := slot.Do(req, payload); err != nil || rep.Header.Type != wire.MsgAck {
			logger.Warn("Failed to propagate grant on '%s' to node", name)
		}
	}

	logger.Info("Client '%s' granted %s on '%s' to '%s'", cs.identity, ac.Permission, name, ac.Target)
	return cs.ack(name)
}

func (cs *clientSession) handleRemAccess(name string, payload []byte) error {
	target := string(payload)
	if target == "" {
		return cs.fail("Identity required.")
	}

	owner, err := cs.srv.index.Owner(name)
	if err != nil {
		return cs.fail(errFileNotFound)
	}
	if owner != cs.identity {
		return cs.fail(errAccessDenied)
	}
	if err := cs.srv.index.Revoke(name, target); err != nil {
		return cs.fail(errFileNotFound)
	}

	if slot, err := cs.slotFor(name); err == nil {
		req := wire.NewHeader(wire.MsgInternalRemAccess, wire.ComponentDirectory, wire.ComponentNode, name)
		if rep, err := slot.Do(req, payload); err != nil || rep.Header.Type != wire.MsgAck {
			logger.Warn("Failed to propagate revoke on '%s' to node", name)
		}
	}
	return cs.ack(name)
}

func (cs *clientSession) handleCreateFolder(name string) error {
	if name == "" {
		return cs.fail("Folder name required.")
	}
	if !wire.ValidFolderName(name) {
		return cs.fail(errBadFolderName)
	}
	if err := cs.srv.index.AddFolder(name, cs.identity); err != nil {
		return cs.fail(errFolderExists)
	}
	logger.Info("Client '%s' created folder '%s'", cs.identity, name)
	return cs.ack(name)
}

func (cs *clientSession) handleMoveFile(name, folder string) error {
	if folder != "" && !cs.srv.index.FolderExists(folder) {
		return cs.fail(errFolderNotFound)
	}

	nodeIdx, err := cs.srv.index.SetFolder(name, folder, cs.identity)
	switch {
	case errors.Is(err, index.ErrNotFound):
		return cs.fail(errFileNotFound)
	case errors.Is(err, index.ErrNotOwner):
		return cs.fail(errAccessDenied)
	case err != nil:
		return cs.fail(errFileNotFound)
	}

	if slot, ok := cs.srv.nodes.Get(nodeIdx); ok {
		cs.propagateFolder(slot, name, folder)
	}
	return cs.ack(name)
}

func (cs *clientSession) handleMoveFolder(src, dst string) error {
	if src == "" || dst == "" {
		return cs.fail("Folder name required.")
	}
	if !cs.folderOwnedBy(src, cs.identity) {
		return cs.fail(errAccessDenied)
	}

	moved, err := cs.srv.index.MoveFolder(src, dst)
	switch {
	case errors.Is(err, index.ErrNotFound):
		return cs.fail(errFolderNotFound)
	case errors.Is(err, index.ErrExists):
		return cs.fail(errFolderExists)
	case err != nil:
		return cs.fail(errFolderNotFound)
	}

	// Partial propagation failure is logged, not rolled back; the index
	// already reflects the move.
	for _, m := range moved {
		if slot, ok := cs.srv.nodes.Get(m.NodeIndex); ok {
			cs.propagateFolder(slot, m.Name, m.Folder)
		}
	}
	logger.Info("Client '%s' moved folder '%s' to '%s' (%d file(s))", cs.identity, src, dst, len(moved))
	return cs.ack(dst)
}

func (cs *clientSession) propagateFolder(slot *registry.Slot, name, folder string) {
	req := wire.NewHeader(wire.MsgInternalSetFolder, wire.ComponentDirectory, wire.ComponentNode, name)
	if rep, err := slot.Do(req, []byte(folder)); err != nil || rep.Header.Type != wire.MsgAck {
		logger.Warn("Failed to propagate folder of '%s' to node", name)
	}
}

func (cs *clientSession) folderOwnedBy(folder, identity string) bool {
	for _, f := range cs.srv.index.Folders() {
		if f.Name == folder {
			return f.Owner == identity
		}
	}
	return false
}

// handleDeadReport removes a node a client found unreachable. The reported
// address must match an active slot; stale reports are acknowledged without
// effect.
func (cs *clientSession) handleDeadReport(payload []byte) error {
	var addr wire.NodeAddr
	if err := wire.DecodePayload(payload, &addr); err != nil {
		return cs.fail("Bad payload.")
	}
	if slot, ok := cs.srv.nodes.FindByAddr(addr); ok {
		logger.Warn("Client '%s' reported node %s dead", cs.identity, addr)
		cs.srv.nodes.Remove(slot.Index())
	}
	return cs.ack("")
}
