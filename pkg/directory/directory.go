// Package directory implements the central coordinator.
//
// The directory owns the file index, the location cache, the node registry
// and the active-user set. It accepts TCP connections from both clients and
// nodes and tells them apart by the first framed message: MsgRegister opens
// a node registration, MsgRegisterClient opens a client session. Everything
// else is rejected.
package directory

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/directory/cache"
	"github.com/prosefs/prosefs/pkg/directory/index"
	"github.com/prosefs/prosefs/pkg/directory/registry"
	"github.com/prosefs/prosefs/pkg/directory/users"
	"github.com/prosefs/prosefs/pkg/wire"
)

// DefaultExecTimeout bounds a single EXEC invocation.
const DefaultExecTimeout = 30 * time.Second

// Config carries the directory's tunables.
type Config struct {
	// Port is the TCP port the directory listens on.
	Port int

	// CacheCapacity sizes the location cache. Zero means the cache default.
	CacheCapacity int

	// RegistryCapacity sizes the node slot table. Zero means the registry
	// default.
	RegistryCapacity int

	// EnableExec turns the EXEC operation on. Off by default: EXEC runs
	// file content as a local command.
	EnableExec bool

	// ExecTimeout bounds one EXEC invocation. Zero means
	// DefaultExecTimeout.
	ExecTimeout time.Duration
}

// Server is one directory instance.
type Server struct {
	cfg   Config
	index *index.Index
	cache *cache.Cache
	nodes *registry.Registry
	users *users.Set

	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New builds a directory server.
func New(cfg Config) *Server {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	s := &Server{
		cfg:   cfg,
		index: index.New(),
		cache: cache.New(cfg.CacheCapacity),
		users: users.NewSet(),
		conns: make(map[net.Conn]struct{}),
	}
	s.nodes = registry.New(cfg.RegistryCapacity, s.onNodeDead)
	return s
}

// onNodeDead purges a removed node's files from the index and drops their
// location cache entries. Fired by the registry without its locks held.
func (s *Server) onNodeDead(slotIndex int) {
	purged := s.index.PurgeByNode(slotIndex)
	s.cache.InvalidateNode(slotIndex)
	if len(purged) > 0 {
		logger.Warn("Node slot %d lost; %d file(s) no longer available", slotIndex, len(purged))
	}
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.listener = listener
	logger.Info("Directory listening on port %d", s.cfg.Port)

	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.closeConns()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}
		s.trackConn(conn)
		go s.serveConn(conn)
	}
}

// serveConn reads the first frame and routes the connection to the node
// registration or client session handler. Ownership of the connection
// transfers to the handler.
func (s *Server) serveConn(conn net.Conn) {
	h, payload, err := wire.ReadFrame(conn)
	if err != nil {
		s.dropConn(conn)
		conn.Close()
		return
	}

	switch h.Type {
	case wire.MsgRegister:
		s.handleNodeRegistration(conn, payload)
	case wire.MsgRegisterClient:
		s.handleClientSession(conn, h.Name())
	default:
		logger.Warn("Rejecting connection with unexpected first frame type %d", h.Type)
		errh := wire.NewHeader(wire.MsgError, wire.ComponentDirectory, h.Source, "Expected registration.")
		_ = wire.WriteFrame(conn, errh, nil)
		s.dropConn(conn)
		conn.Close()
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) dropConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// closeConns force-closes every tracked connection at shutdown. Node control
// connections are closed through the registry instead, so their teardown
// path runs.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// locate resolves a file name to its node slot index, consulting the
// location cache first.
func (s *Server) locate(name string) (int, error) {
	if idx, ok := s.cache.Lookup(name); ok {
		return idx, nil
	}
	idx, err := s.index.NodeOf(name)
	if err != nil {
		return -1, err
	}
	s.cache.Add(name, idx)
	return idx, nil
}
