package directory

import (
	"errors"
	"net"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/directory/registry"
	"github.com/prosefs/prosefs/pkg/wire"
)

// handleNodeRegistration runs the node registration handshake and file sync
// on the raw connection, then activates the slot so the connection actor
// takes over. The handler goroutine exits after activation; the control
// connection stays alive inside the registry.
func (s *Server) handleNodeRegistration(conn net.Conn, payload []byte) {
	s.dropConn(conn) // lifetime managed by the registry from here on

	var addr wire.NodeAddr
	if err := wire.DecodePayload(payload, &addr); err != nil {
		logger.Warn("Bad node registration payload: %v", err)
		s.refuseNode(conn, "Bad payload.")
		return
	}

	slot, err := s.nodes.Register(addr, conn)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrDuplicateNode):
			s.refuseNode(conn, "Node already registered.")
		case errors.Is(err, registry.ErrRegistryFull):
			s.refuseNode(conn, "Node registry full.")
		default:
			s.refuseNode(conn, "Registration failed.")
		}
		return
	}

	ack := wire.NewHeader(wire.MsgAck, wire.ComponentDirectory, wire.ComponentNode, "")
	if err := wire.WriteFrame(conn, ack, nil); err != nil {
		s.nodes.Remove(slot.Index())
		return
	}

	// Sync phase: the node streams one record per file it holds, then
	// MsgRegisterComplete. A record colliding with a file held by another
	// active node is skipped; the node keeps its on-disk copy but the
	// directory routes the name to the earlier registrant.
	synced := 0
	for {
		h, payload, err := wire.ReadFrame(conn)
		if err != nil {
			logger.Warn("Node %s dropped during registration sync: %v", addr, err)
			s.nodes.Remove(slot.Index())
			return
		}
		if h.Type == wire.MsgRegisterComplete {
			break
		}
		if h.Type != wire.MsgRegisterFile {
			logger.Warn("Unexpected frame type %d during registration sync", h.Type)
			continue
		}

		var rec wire.FileRecord
		if err := wire.DecodePayload(payload, &rec); err != nil {
			logger.Warn("Skipping malformed file record from %s: %v", addr, err)
			continue
		}
		if err := s.index.RebuildAdd(slot.Index(), rec); err != nil {
			logger.Warn("Skipping '%s' from %s: held by another node", rec.Filename, addr)
			continue
		}
		s.cache.Invalidate(rec.Filename)
		synced++
	}

	s.nodes.Activate(slot)
	logger.Info("Node %s active on slot %d with %d file(s)", addr, slot.Index(), synced)
}

func (s *Server) refuseNode(conn net.Conn, text string) {
	h := wire.NewHeader(wire.MsgError, wire.ComponentDirectory, wire.ComponentNode, text)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = wire.WriteFrame(conn, h, nil)
	conn.Close()
}
