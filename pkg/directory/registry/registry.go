// Package registry implements the directory's table of registered nodes.
//
// Each registered node occupies one slot holding its public address and the
// persistent control connection. The control connection is owned by a
// dedicated actor goroutine: callers submit work items over a channel and
// receive replies over per-request channels, so request/response pairs are
// serialised without ever sharing the socket between goroutines.
//
// Any I/O failure on a control connection deactivates the slot and fires
// the registry's onDead callback, which the directory server uses to purge
// the node's files from the index and location cache.
package registry

import (
	"errors"
	"net"
	"sync"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/wire"
)

// DefaultCapacity is the number of node slots a directory keeps by default.
const DefaultCapacity = 10

var (
	// ErrRegistryFull reports that every slot is taken.
	ErrRegistryFull = errors.New("node registry full")

	// ErrDuplicateNode reports a registration for an address that already
	// occupies an active slot.
	ErrDuplicateNode = errors.New("node already registered")

	// ErrNodeInactive reports a dispatch against a slot that is gone or not
	// yet past registration sync.
	ErrNodeInactive = errors.New("node inactive")

	// ErrNoActiveNodes reports that placement found no active node.
	ErrNoActiveNodes = errors.New("no active nodes")
)

// Reply is a framed response read off a control connection.
type Reply struct {
	Header  wire.Header
	Payload []byte
}

type result struct {
	reply Reply
	err   error
}

type workItem struct {
	header      wire.Header
	payload     []byte
	expectReply bool
	reply       chan result
}

// Slot is one registered node: its address plus the actor that owns the
// control connection.
type Slot struct {
	index int
	addr  wire.NodeAddr
	conn  net.Conn

	work chan workItem
	done chan struct{}

	closeOnce sync.Once
	registry  *Registry
}

// Registry is the fixed-capacity slot table.
type Registry struct {
	mu        sync.Mutex
	slots     []*Slot
	activated []bool
	cursor    int
	onDead    func(index int)
}

// New returns a registry with the given capacity. onDead is invoked, without
// registry locks held, whenever a slot is deactivated for any reason.
func New(capacity int, onDead func(index int)) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if onDead == nil {
		onDead = func(int) {}
	}
	return &Registry{
		slots:     make([]*Slot, capacity),
		activated: make([]bool, capacity),
		onDead:    onDead,
	}
}

// Register reserves a slot for a node. The slot is not dispatchable until
// Activate is called, which lets the caller finish the registration file
// sync on the raw connection first.
func (r *Registry) Register(addr wire.NodeAddr, conn net.Conn) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := -1
	for i, s := range r.slots {
		if s == nil {
			if free == -1 {
				free = i
			}
			continue
		}
		if s.addr == addr {
			return nil, ErrDuplicateNode
		}
	}
	if free == -1 {
		return nil, ErrRegistryFull
	}

	slot := &Slot{
		index:    free,
		addr:     addr,
		conn:     conn,
		work:     make(chan workItem, 16),
		done:     make(chan struct{}),
		registry: r,
	}
	r.slots[free] = slot
	logger.Info("Node %s registered on slot %d", addr, free)
	return slot, nil
}

// Activate makes the slot dispatchable and starts its connection actor.
func (r *Registry) Activate(s *Slot) {
	r.mu.Lock()
	r.activated[s.index] = true
	r.mu.Unlock()
	go s.run()
}

// Get returns the active slot at index.
func (r *Registry) Get(index int) (*Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.slots) {
		return nil, false
	}
	if r.slots[index] == nil || !r.activated[index] {
		return nil, false
	}
	return r.slots[index], true
}

// FindByAddr returns the active slot whose public address matches.
func (r *Registry) FindByAddr(addr wire.NodeAddr) (*Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.slots {
		if s != nil && r.activated[i] && s.addr == addr {
			return s, true
		}
	}
	return nil, false
}

// NextActive picks a node for new-file placement, round-robin over active
// slots starting from a rolling cursor.
func (r *Registry) NextActive() (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.slots)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		if r.slots[idx] != nil && r.activated[idx] {
			r.cursor = (idx + 1) % n
			return r.slots[idx], nil
		}
	}
	return nil, ErrNoActiveNodes
}

// Remove deactivates the slot at index, closing its control connection. The
// onDead callback fires exactly once per slot lifetime.
func (r *Registry) Remove(index int) {
	r.mu.Lock()
	slot := (*Slot)(nil)
	if index >= 0 && index < len(r.slots) {
		slot = r.slots[index]
	}
	r.mu.Unlock()

	if slot != nil {
		slot.teardown()
	}
}

// detach clears a slot from the table; returns true the first time.
func (r *Registry) detach(s *Slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slots[s.index] != s {
		return false
	}
	r.slots[s.index] = nil
	r.activated[s.index] = false
	return true
}

// Index returns the slot's position in the registry.
func (s *Slot) Index() int { return s.index }

// Addr returns the node's public address.
func (s *Slot) Addr() wire.NodeAddr { return s.addr }

// Do submits a request expecting a framed reply and waits for it.
func (s *Slot) Do(header wire.Header, payload []byte) (Reply, error) {
	item := workItem{
		header:      header,
		payload:     payload,
		expectReply: true,
		reply:       make(chan result, 1),
	}

	select {
	case s.work <- item:
	case <-s.done:
		return Reply{}, ErrNodeInactive
	}

	select {
	case res := <-item.reply:
		return res.reply, res.err
	case <-s.done:
		return Reply{}, ErrNodeInactive
	}
}

// Send submits a fire-and-forget frame. The write still goes through the
// actor so it cannot interleave with a pending request/response pair.
func (s *Slot) Send(header wire.Header, payload []byte) error {
	item := workItem{
		header:  header,
		payload: payload,
		reply:   make(chan result, 1),
	}

	select {
	case s.work <- item:
	case <-s.done:
		return ErrNodeInactive
	}

	select {
	case res := <-item.reply:
		return res.err
	case <-s.done:
		return ErrNodeInactive
	}
}

// run is the connection actor: the only goroutine that touches s.conn after
// activation.
func (s *Slot) run() {
	for {
		select {
		case <-s.done:
			return
		case item := <-s.work:
			err := wire.WriteFrame(s.conn, item.header, item.payload)
			var rep Reply
			if err == nil && item.expectReply {
				rep.Header, rep.Payload, err = wire.ReadFrame(s.conn)
			}
			item.reply <- result{reply: rep, err: err}

			if err != nil {
				logger.Warn("Node slot %d control link failed: %v", s.index, err)
				s.teardown()
				return
			}
		}
	}
}

// teardown deactivates the slot: detaches it from the table, closes the
// connection, and fires the registry callback.
func (s *Slot) teardown() {
	s.closeOnce.Do(func() {
		detached := s.registry.detach(s)
		close(s.done)
		_ = s.conn.Close()
		if detached {
			logger.Info("Node slot %d (%s) deactivated", s.index, s.addr)
			s.registry.onDead(s.index)
		}
	})
}
