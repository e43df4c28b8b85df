// Package node implements a storage node: the authoritative holder of file
// content.
//
// A node runs two concurrent activities. Its public listener accepts direct
// client connections speaking the line-based text dialogue (session.go,
// stream.go); its control link answers framed requests from the directory
// (control.go). All content and metadata mutations go through the store,
// and concurrent edits are arbitrated by the sentence lock table.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/node/locks"
	"github.com/prosefs/prosefs/pkg/node/store"
	"github.com/prosefs/prosefs/pkg/wire"
)

// DefaultStreamDelay is the pause between streamed words.
const DefaultStreamDelay = 100 * time.Millisecond

// Config carries the node's identity and tunables.
type Config struct {
	// Addr is the public address clients are redirected to.
	Addr wire.NodeAddr

	// StreamDelay is the gap between words during STREAM. Zero means
	// DefaultStreamDelay.
	StreamDelay time.Duration

	// DialTimeout bounds the directory registration dial. Zero means no
	// bound.
	DialTimeout time.Duration
}

// Node is one storage server instance.
type Node struct {
	cfg   Config
	store *store.Store
	locks *locks.Table

	listener net.Listener
	sessions atomic.Int64

	mu      sync.Mutex
	clients map[net.Conn]struct{}
}

// New builds a node around an opened store.
func New(cfg Config, st *store.Store) *Node {
	if cfg.StreamDelay <= 0 {
		cfg.StreamDelay = DefaultStreamDelay
	}
	return &Node{
		cfg:     cfg,
		store:   st,
		locks:   locks.NewTable(),
		clients: make(map[net.Conn]struct{}),
	}
}

// Store exposes the node's store, mainly for tests and the control link.
func (n *Node) Store() *store.Store { return n.store }

// Serve accepts direct client connections until ctx is cancelled.
func (n *Node) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", n.cfg.Addr.Port))
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	n.listener = listener
	logger.Info("Node listening on port %d", n.cfg.Addr.Port)

	go func() {
		<-ctx.Done()
		n.listener.Close()
		n.closeClients()
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
		n.trackClient(conn)
		go n.serveClient(conn)
	}
}

func (n *Node) trackClient(conn net.Conn) {
	n.mu.Lock()
	n.clients[conn] = struct{}{}
	n.mu.Unlock()
}

func (n *Node) dropClient(conn net.Conn) {
	n.mu.Lock()
	delete(n.clients, conn)
	n.mu.Unlock()
}

// closeClients force-closes every open client connection at shutdown.
func (n *Node) closeClients() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn := range n.clients {
		_ = conn.Close()
	}
}
