package node

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/node/store"
	"github.com/prosefs/prosefs/pkg/sentence"
	"github.com/prosefs/prosefs/pkg/wire"
)

const timeLayout = "2006-01-02 15:04:05"

// writeSession is an open WRITE sub-protocol: the session holds the
// sentence lock and edits a swap file until ETIRW.
type writeSession struct {
	file     string
	sentence int
}

// session is one direct client connection.
type session struct {
	node  *Node
	id    int64
	conn  net.Conn
	r     *bufio.Reader
	user  string
	write *writeSession
}

// serveClient drives one client connection from USER handshake to EXIT or
// disconnect. Whatever the exit path, every sentence lock the session holds
// is released and its swap file removed.
func (n *Node) serveClient(conn net.Conn) {
	s := &session{
		node: n,
		id:   n.sessions.Add(1),
		conn: conn,
		r:    bufio.NewReader(conn),
	}
	defer func() {
		s.abandonWrite()
		n.locks.ReleaseSession(s.id)
		n.dropClient(conn)
		conn.Close()
		logger.Debug("Session %d closed", s.id)
	}()

	line, err := s.readLine()
	if err != nil {
		return
	}
	verb, rest, _ := strings.Cut(line, " ")
	if verb != "USER" || strings.TrimSpace(rest) == "" {
		s.sendLine("%s Expected USER <identity>", wire.StatusBadRequest)
		return
	}
	s.user = strings.TrimSpace(rest)
	s.sendLine("%s USER_ACCEPTED", wire.StatusOK)
	logger.Info("Session %d authenticated as %s", s.id, s.user)

	for {
		line, err := s.readLine()
		if err != nil {
			return
		}
		if line == "" {
			continue
		}
		if !s.dispatch(line) {
			return
		}
	}
}

func (s *session) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *session) sendLine(format string, v ...any) {
	fmt.Fprintf(s.conn, format+"\n", v...)
}

// abandonWrite drops the in-progress write session without committing.
func (s *session) abandonWrite() {
	if s.write == nil {
		return
	}
	s.node.store.DeleteSwap(s.write.file, s.write.sentence, s.id)
	s.node.locks.Release(s.write.file, s.write.sentence, s.id)
	s.write = nil
}

// dispatch handles one command line; returns false when the session should
// end.
func (s *session) dispatch(line string) bool {
	verb, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)

	// Inside a write session, lines starting with a number are edits.
	if s.write != nil {
		if _, err := strconv.Atoi(verb); err == nil {
			s.handleInsert(verb, rest)
			return true
		}
	}

	switch verb {
	case "EXIT":
		s.sendLine("%s BYE", wire.StatusOK)
		return false
	case "READ":
		s.handleRead(args)
	case "WRITE":
		s.handleWrite(args)
	case "ETIRW":
		s.handleCommit()
	case "STREAM":
		s.handleStream(args)
	case "UNDO":
		s.handleUndo(args)
	case "CREATE":
		s.handleCreate(args)
	case "DELETE":
		s.handleDelete(args)
	case "CHECKPOINT":
		s.handleCheckpoint(args)
	case "VIEWCHECKPOINT":
		s.handleViewCheckpoint(args)
	case "REVERT":
		s.handleRevert(args)
	case "LISTCHECKPOINTS":
		s.handleListCheckpoints(args)
	case "REQUESTACCESS":
		s.handleRequestAccess(args)
	case "VIEWREQUESTS":
		s.handleViewRequests(args)
	case "APPROVEREQUEST":
		s.handleResolveRequest(args, true)
	case "DENYREQUEST":
		s.handleResolveRequest(args, false)
	default:
		s.sendLine("%s Unknown command", wire.StatusBadRequest)
	}
	return true
}

// permitted checks the session user against the file's node-side ACL.
func (s *session) permitted(name string, perm wire.Permission) bool {
	m, ok := s.node.store.Meta(name)
	if !ok {
		return false
	}
	if m.Owner == "" || m.Owner == s.user {
		return true
	}
	for _, e := range m.ACL {
		if e.Identity == s.user && e.Permission.Implies(perm) {
			return true
		}
	}
	return false
}

func (s *session) handleRead(args []string) {
	if len(args) != 1 {
		s.sendLine("%s Usage: READ <filename>", wire.StatusBadRequest)
		return
	}
	name := args[0]
	if !s.node.store.Exists(name) {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if !s.permitted(name, wire.PermRead) {
		s.sendLine("%s Read permission required", wire.StatusForbidden)
		return
	}

	content, err := s.node.store.ReadFile(name, s.user)
	if err != nil {
		s.sendLine("%s Failed to read file", wire.StatusInternalErr)
		return
	}
	if content == "" {
		s.sendLine("%s EMPTY_FILE", wire.StatusOK)
		return
	}
	s.sendLine("%s FILE_CONTENT", wire.StatusOK)
	fmt.Fprintf(s.conn, "%s\n%s\n", content, wire.EndOfFile)
}

func (s *session) handleWrite(args []string) {
	if len(args) != 2 {
		s.sendLine("%s Usage: WRITE <filename> <sentence>", wire.StatusBadRequest)
		return
	}
	name := args[0]
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		s.sendLine("%s Sentence number must be an integer", wire.StatusBadRequest)
		return
	}
	if !s.node.store.Exists(name) {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if !s.permitted(name, wire.PermWrite) {
		s.sendLine("%s Write permission required", wire.StatusForbidden)
		return
	}
	if s.write != nil {
		// Re-entering the held (file, sentence) pair is a no-op.
		if s.write.file == name && s.write.sentence == idx {
			s.sendLine("%s WRITE MODE ENABLED", wire.StatusOK)
			return
		}
		s.sendLine("%s Another write session is already open", wire.StatusConflict)
		return
	}

	content, err := s.node.store.Content(name)
	if err != nil {
		s.sendLine("%s Failed to read file", wire.StatusInternalErr)
		return
	}
	if max := sentence.MaxWritable(content); idx < 1 || idx > max {
		s.sendLine("%s Sentence %d not available. File allows sentences 1-%d.",
			wire.StatusNotFound, idx, max)
		return
	}

	if !s.node.locks.Acquire(name, idx, s.id) {
		s.sendLine("%s This sentence is currently being edited by another user", wire.StatusConflict)
		return
	}
	s.write = &writeSession{file: name, sentence: idx}
	s.sendLine("%s WRITE MODE ENABLED", wire.StatusOK)
}

// handleInsert applies one "<word_index> <content>" edit line to the swap
// file. The live file is never touched here.
func (s *session) handleInsert(idxStr, rest string) {
	wordIdx, _ := strconv.Atoi(idxStr)
	if strings.TrimSpace(rest) == "" {
		s.sendLine("%s Nothing to insert", wire.StatusBadRequest)
		return
	}

	view, ok := s.node.store.ReadSwap(s.write.file, s.write.sentence, s.id)
	if !ok {
		live, err := s.node.store.Content(s.write.file)
		if err != nil {
			s.sendLine("%s Failed to read file", wire.StatusInternalErr)
			return
		}
		view = live
	}

	edited, err := sentence.Insert(view, s.write.sentence, wordIdx, rest)
	if err != nil {
		words := 0
		if sent, ok := sentence.Sentence(view, s.write.sentence); ok {
			words = len(sent)
		}
		if errors.Is(err, sentence.ErrWordOutOfRange) {
			s.sendLine("%s Word index %d out of range. Sentence %d has %d words (positions 1-%d available)",
				wire.StatusNotFound, wordIdx, s.write.sentence, words, words+1)
		} else {
			s.sendLine("%s Sentence %d not available", wire.StatusNotFound, s.write.sentence)
		}
		return
	}

	if err := s.node.store.WriteSwap(s.write.file, s.write.sentence, s.id, edited); err != nil {
		s.sendLine("%s Failed to write swap", wire.StatusInternalErr)
		return
	}
	s.sendLine("%s CONTENT INSERTED", wire.StatusOK)
}

// handleCommit folds the swap into the live file and releases the lock.
// The store does the read-merge-write atomically, so commits to other
// sentences that landed mid-session survive.
func (s *session) handleCommit() {
	if s.write == nil {
		s.sendLine("%s No write session open", wire.StatusBadRequest)
		return
	}
	name, idx := s.write.file, s.write.sentence

	if _, err := s.node.store.Commit(name, idx, s.id, s.user); err != nil {
		s.sendLine("%s Failed to write file", wire.StatusInternalErr)
		return
	}
	s.node.locks.Release(name, idx, s.id)
	s.write = nil
	s.sendLine("%s WRITE COMPLETED", wire.StatusOK)
}

func (s *session) handleUndo(args []string) {
	if len(args) != 1 {
		s.sendLine("%s Usage: UNDO <filename>", wire.StatusBadRequest)
		return
	}
	name := args[0]
	if !s.node.store.Exists(name) {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if !s.permitted(name, wire.PermWrite) {
		s.sendLine("%s Write permission required", wire.StatusForbidden)
		return
	}
	if s.node.locks.Locked(name) {
		s.sendLine("%s Cannot undo: file is currently being edited", wire.StatusConflict)
		return
	}

	switch err := s.node.store.Undo(name); {
	case err == nil:
		s.sendLine("%s UNDO COMPLETED", wire.StatusOK)
	case errors.Is(err, store.ErrNoHistory):
		s.sendLine("%s No undo history available for this file", wire.StatusNotFound)
	default:
		s.sendLine("%s Undo failed", wire.StatusInternalErr)
	}
}

func (s *session) handleCreate(args []string) {
	if len(args) != 1 {
		s.sendLine("%s Usage: CREATE <filename>", wire.StatusBadRequest)
		return
	}
	switch err := s.node.store.Create(args[0], s.user); {
	case err == nil:
		s.sendLine("%s CREATED", wire.StatusCreated)
	case errors.Is(err, store.ErrExists):
		s.sendLine("%s File already exists", wire.StatusConflict)
	case errors.Is(err, store.ErrBadName):
		s.sendLine("%s Invalid file name", wire.StatusBadRequest)
	default:
		s.sendLine("%s Failed to create file", wire.StatusInternalErr)
	}
}

func (s *session) handleDelete(args []string) {
	if len(args) != 1 {
		s.sendLine("%s Usage: DELETE <filename>", wire.StatusBadRequest)
		return
	}
	name := args[0]
	m, ok := s.node.store.Meta(name)
	if !ok {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if m.Owner != "" && m.Owner != s.user {
		s.sendLine("%s Only the owner can delete this file", wire.StatusForbidden)
		return
	}
	if s.node.locks.Locked(name) {
		s.sendLine("%s Cannot delete: file is currently being edited", wire.StatusConflict)
		return
	}
	if err := s.node.store.Delete(name); err != nil {
		s.sendLine("%s Failed to delete file", wire.StatusInternalErr)
		return
	}
	s.sendLine("%s DELETED", wire.StatusOK)
}

func (s *session) handleCheckpoint(args []string) {
	if len(args) != 2 {
		s.sendLine("%s Usage: CHECKPOINT <filename> <tag>", wire.StatusBadRequest)
		return
	}
	name, tag := args[0], args[1]
	if !s.node.store.Exists(name) {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if !s.permitted(name, wire.PermWrite) {
		s.sendLine("%s Write permission required", wire.StatusForbidden)
		return
	}
	if s.node.locks.Locked(name) {
		s.sendLine("%s Cannot checkpoint: file is currently being edited", wire.StatusConflict)
		return
	}

	switch err := s.node.store.CreateCheckpoint(name, tag, s.user); {
	case err == nil:
		s.sendLine("%s CHECKPOINT CREATED", wire.StatusOK)
	case errors.Is(err, store.ErrTagExists):
		s.sendLine("%s Checkpoint tag already exists", wire.StatusConflict)
	default:
		s.sendLine("%s Failed to create checkpoint", wire.StatusInternalErr)
	}
}

func (s *session) handleViewCheckpoint(args []string) {
	if len(args) != 2 {
		s.sendLine("%s Usage: VIEWCHECKPOINT <filename> <tag>", wire.StatusBadRequest)
		return
	}
	name, tag := args[0], args[1]
	if !s.node.store.Exists(name) {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if !s.permitted(name, wire.PermRead) {
		s.sendLine("%s Read permission required", wire.StatusForbidden)
		return
	}

	content, err := s.node.store.ReadCheckpoint(name, tag)
	if err != nil {
		s.sendLine("%s Checkpoint not found", wire.StatusNotFound)
		return
	}
	if content == "" {
		s.sendLine("%s EMPTY_CHECKPOINT", wire.StatusOK)
		return
	}
	s.sendLine("%s CHECKPOINT_CONTENT", wire.StatusOK)
	fmt.Fprintf(s.conn, "%s\n%s\n", content, wire.EndOfCheckpoint)
}

func (s *session) handleRevert(args []string) {
	if len(args) != 2 {
		s.sendLine("%s Usage: REVERT <filename> <tag>", wire.StatusBadRequest)
		return
	}
	name, tag := args[0], args[1]
	if !s.node.store.Exists(name) {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if !s.permitted(name, wire.PermWrite) {
		s.sendLine("%s Write permission required", wire.StatusForbidden)
		return
	}
	if s.node.locks.Locked(name) {
		s.sendLine("%s Cannot revert: file is currently being edited", wire.StatusConflict)
		return
	}

	switch err := s.node.store.Revert(name, tag, s.user); {
	case err == nil:
		s.sendLine("%s REVERT COMPLETED", wire.StatusOK)
	case errors.Is(err, store.ErrCheckpointNotFound):
		s.sendLine("%s Checkpoint not found", wire.StatusNotFound)
	default:
		s.sendLine("%s Failed to revert file", wire.StatusInternalErr)
	}
}

func (s *session) handleListCheckpoints(args []string) {
	if len(args) != 1 {
		s.sendLine("%s Usage: LISTCHECKPOINTS <filename>", wire.StatusBadRequest)
		return
	}
	name := args[0]
	if !s.node.store.Exists(name) {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if !s.permitted(name, wire.PermRead) {
		s.sendLine("%s Read permission required", wire.StatusForbidden)
		return
	}

	list := s.node.store.Checkpoints(name)
	s.sendLine("%s CHECKPOINT_LIST", wire.StatusOK)
	s.sendLine("Checkpoints for file: %s", name)
	for _, cp := range list {
		s.sendLine("  Tag: %s | Created: %s | By: %s | Size: %d bytes",
			cp.Tag, time.Unix(cp.Created, 0).Format(timeLayout), cp.Creator, cp.Size)
	}
	s.sendLine("Total checkpoints: %d", len(list))
	s.sendLine("%s", wire.EndOfList)
}

func (s *session) handleRequestAccess(args []string) {
	if len(args) != 2 {
		s.sendLine("%s Usage: REQUESTACCESS <filename> <-R|-W>", wire.StatusBadRequest)
		return
	}
	name := args[0]
	perm, ok := wire.ParsePermissionFlag(args[1])
	if !ok {
		s.sendLine("%s Invalid permission. Use -R for read or -W for write", wire.StatusBadRequest)
		return
	}
	m, found := s.node.store.Meta(name)
	if !found {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if m.Owner == s.user {
		s.sendLine("%s You already own this file", wire.StatusBadRequest)
		return
	}
	if s.permitted(name, perm) {
		s.sendLine("%s You already have the requested access to this file", wire.StatusConflict)
		return
	}

	switch err := s.node.store.AddRequest(name, s.user, perm); {
	case err == nil:
		s.sendLine("%s ACCESS REQUEST SUBMITTED", wire.StatusOK)
	case errors.Is(err, store.ErrDuplicateRequest):
		s.sendLine("%s Access request already exists", wire.StatusConflict)
	default:
		s.sendLine("%s Failed to record request", wire.StatusInternalErr)
	}
}

func (s *session) handleViewRequests(args []string) {
	if len(args) > 1 {
		s.sendLine("%s Usage: VIEWREQUESTS [filename]", wire.StatusBadRequest)
		return
	}

	if len(args) == 1 {
		name := args[0]
		m, ok := s.node.store.Meta(name)
		if !ok {
			s.sendLine("%s File not found", wire.StatusNotFound)
			return
		}
		if m.Owner != s.user {
			s.sendLine("%s You can only view requests for files you own", wire.StatusForbidden)
			return
		}

		pending := s.node.store.PendingRequests(name)
		s.sendLine("%s ACCESS_REQUESTS", wire.StatusOK)
		s.sendLine("Access requests for file: %s", name)
		for _, r := range pending {
			s.sendRequestLine(r)
		}
		s.sendLine("Total pending requests: %d", len(pending))
		s.sendLine("%s", wire.EndOfRequests)
		return
	}

	// No filename: list pending requests for every file the caller owns.
	total := 0
	s.sendLine("%s ACCESS_REQUESTS", wire.StatusOK)
	s.sendLine("All pending access requests for your files:")
	for _, m := range s.node.store.List() {
		if m.Owner != s.user {
			continue
		}
		pending := s.node.store.PendingRequests(m.Name)
		if len(pending) == 0 {
			continue
		}
		s.sendLine("File: %s", m.Name)
		for _, r := range pending {
			s.sendRequestLine(r)
		}
		total += len(pending)
	}
	s.sendLine("Total pending requests: %d", total)
	s.sendLine("%s", wire.EndOfRequests)
}

func (s *session) sendRequestLine(r store.AccessRequest) {
	s.sendLine("  User: %s | Permission: %s | Requested: %s",
		r.Requester, r.Permission, time.Unix(r.Requested, 0).Format(timeLayout))
}

func (s *session) handleResolveRequest(args []string, approve bool) {
	verb := "deny"
	if approve {
		verb = "approve"
	}
	if len(args) != 2 {
		s.sendLine("%s Usage: %sREQUEST <filename> <user>", wire.StatusBadRequest, strings.ToUpper(verb))
		return
	}
	name, requester := args[0], args[1]
	m, ok := s.node.store.Meta(name)
	if !ok {
		s.sendLine("%s File not found", wire.StatusNotFound)
		return
	}
	if m.Owner != s.user {
		s.sendLine("%s You can only %s requests for files you own", wire.StatusForbidden, verb)
		return
	}

	perm, err := s.node.store.ResolveRequest(name, requester, approve)
	if err != nil {
		s.sendLine("%s Access request not found", wire.StatusNotFound)
		return
	}

	if approve {
		if err := s.node.store.SetACL(name, requester, perm); err != nil {
			s.sendLine("%s Failed to update access list", wire.StatusInternalErr)
			return
		}
		s.sendLine("%s ACCESS REQUEST APPROVED", wire.StatusOK)
	} else {
		s.sendLine("%s ACCESS REQUEST DENIED", wire.StatusOK)
	}
}
