package node

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/node/store"
	"github.com/prosefs/prosefs/pkg/wire"
)

// RegisterWithDirectory dials the directory, announces the node's public
// address, streams one record per held file and closes the sync phase.
// On success the control link keeps serving directory requests in the
// background until the connection drops or ctx is cancelled.
func (n *Node) RegisterWithDirectory(ctx context.Context, dirAddr string) error {
	dialer := net.Dialer{Timeout: n.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", dirAddr)
	if err != nil {
		return fmt.Errorf("failed to dial directory: %w", err)
	}

	payload, err := wire.EncodePayload(&n.cfg.Addr)
	if err != nil {
		conn.Close()
		return err
	}
	h := wire.NewHeader(wire.MsgRegister, wire.ComponentNode, wire.ComponentDirectory, "")
	if err := wire.WriteFrame(conn, h, payload); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send registration: %w", err)
	}

	reply, _, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read registration reply: %w", err)
	}
	if reply.Type != wire.MsgAck {
		conn.Close()
		return fmt.Errorf("directory rejected registration: %s", reply.Name())
	}

	// Sync phase: stream every known file record.
	files := n.store.List()
	for i := range files {
		rec := files[i].Record()
		payload, err := wire.EncodePayload(&rec)
		if err != nil {
			conn.Close()
			return err
		}
		fh := wire.NewHeader(wire.MsgRegisterFile, wire.ComponentNode, wire.ComponentDirectory, rec.Filename)
		if err := wire.WriteFrame(conn, fh, payload); err != nil {
			conn.Close()
			return fmt.Errorf("failed to sync file list: %w", err)
		}
	}
	done := wire.NewHeader(wire.MsgRegisterComplete, wire.ComponentNode, wire.ComponentDirectory, "")
	if err := wire.WriteFrame(conn, done, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to finish registration: %w", err)
	}
	logger.Info("Registered with directory at %s (%d files synced)", dirAddr, len(files))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go n.serveDirectory(conn)
	return nil
}

// serveDirectory answers framed control requests from the directory. One
// goroutine owns the connection, so replies never interleave.
func (n *Node) serveDirectory(conn net.Conn) {
	defer conn.Close()

	for {
		h, payload, err := wire.ReadFrame(conn)
		if err != nil {
			logger.Warn("Directory control link closed: %v", err)
			return
		}
		if err := n.handleControl(conn, h, payload); err != nil {
			logger.Warn("Control link write failed: %v", err)
			return
		}
	}
}

func (n *Node) handleControl(conn net.Conn, h wire.Header, payload []byte) error {
	name := h.Name()
	ack := func() error {
		return wire.WriteFrame(conn,
			wire.NewHeader(wire.MsgAck, wire.ComponentNode, wire.ComponentDirectory, name), nil)
	}
	fail := func(text string) error {
		return wire.WriteFrame(conn,
			wire.NewHeader(wire.MsgError, wire.ComponentNode, wire.ComponentDirectory, text), nil)
	}

	switch h.Type {
	case wire.MsgCreate:
		// Ownership arrives separately via MsgInternalSetOwner.
		switch err := n.store.Create(name, ""); {
		case err == nil:
			return ack()
		case errors.Is(err, store.ErrExists):
			return fail("File already exists.")
		case errors.Is(err, store.ErrBadName):
			return fail("Invalid file name.")
		default:
			return fail("Failed to create file.")
		}

	case wire.MsgDelete:
		switch err := n.store.Delete(name); {
		case err == nil:
			return ack()
		case errors.Is(err, store.ErrNotFound):
			return fail("File not found.")
		default:
			return fail("Failed to delete file.")
		}

	case wire.MsgUndo:
		if n.locks.Locked(name) {
			return fail("File is currently being edited.")
		}
		switch err := n.store.Undo(name); {
		case err == nil:
			return ack()
		case errors.Is(err, store.ErrNoHistory):
			return fail("No undo history available for this file.")
		case errors.Is(err, store.ErrNotFound):
			return fail("File not found.")
		default:
			return fail("Undo failed.")
		}

	case wire.MsgInternalGetMetadata:
		m, ok := n.store.Meta(name)
		if !ok {
			return fail("File not found.")
		}
		stats := m.Stats()
		body, err := wire.EncodePayload(&stats)
		if err != nil {
			return fail("Failed to encode metadata.")
		}
		resp := wire.NewHeader(wire.MsgInternalMetadataResp, wire.ComponentNode, wire.ComponentDirectory, name)
		return wire.WriteFrame(conn, resp, body)

	case wire.MsgInternalRead:
		content, err := n.store.Content(name)
		if err != nil {
			return fail("File not found.")
		}
		resp := wire.NewHeader(wire.MsgInternalData, wire.ComponentNode, wire.ComponentDirectory, name)
		return wire.WriteFrame(conn, resp, []byte(content))

	case wire.MsgInternalSetOwner:
		// Fire-and-forget: no reply expected.
		if err := n.store.SetOwner(name, string(payload)); err != nil {
			logger.Warn("Failed to set owner on %s: %v", name, err)
		}
		return nil

	case wire.MsgInternalSetFolder:
		if err := n.store.SetFolder(name, string(payload)); err != nil {
			return fail("File not found.")
		}
		return ack()

	case wire.MsgInternalAddAccess:
		var ac wire.AccessControl
		if err := wire.DecodePayload(payload, &ac); err != nil {
			return fail("Bad payload.")
		}
		if err := n.store.SetACL(name, ac.Target, ac.Permission); err != nil {
			return fail("File not found.")
		}
		return ack()

	case wire.MsgInternalRemAccess:
		if err := n.store.RemoveACL(name, string(payload)); err != nil {
			return fail("File not found.")
		}
		return ack()

	default:
		return fail("Unsupported control message.")
	}
}
