package session

import (
	"net"
	"sync"
	"time"

	"gridnet/internal/pkg/reliable"

	"github.com/google/uuid"
)

// Peer is one endpoint's view of a remote connection: its identity, its
// negotiated protocol version, its lifecycle state and its reliability
// engine. Room is a back-reference (a lookup key into the room registry),
// never an owning pointer, so no peer/room cycle can form.
type Peer struct {
	UUID         uuid.UUID
	Name         string
	Addr         net.Addr
	VersionMajor uint8
	VersionMinor uint8
	State        State
	Conn         *reliable.Conn

	// LastActivity is refreshed by any received packet, not only
	// heartbeats.
	LastActivity time.Time

	// HeartbeatDue is the next scheduled heartbeat send.
	HeartbeatDue time.Time

	// Room is the name of the peer's current room, or "" when in none.
	Room string
}

// Transition moves the peer to next, enforcing the lifecycle graph.
func (p *Peer) Transition(next State) error {
	if !p.State.CanTransition(next) {
		return ErrBadTransition
	}
	p.State = next
	return nil
}

// Store indexes peers by remote address.
type Store interface {
	Add(p *Peer) error
	Get(addr net.Addr) (*Peer, bool)
	Remove(addr net.Addr)
	Len() int
	Each(fn func(p *Peer))
}

// MemoryStore is an in-memory Store. The event loop is the only writer, but
// the lock keeps snapshot readers (stats, tests) safe.
type MemoryStore struct {
	peers map[string]*Peer
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		peers: make(map[string]*Peer),
	}
}

func (s *MemoryStore) Add(p *Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.Addr.String()
	if _, ok := s.peers[key]; ok {
		return ErrPeerAlreadyExists
	}
	s.peers[key] = p
	return nil
}

func (s *MemoryStore) Get(addr net.Addr) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[addr.String()]
	return p, ok
}

func (s *MemoryStore) Remove(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, addr.String())
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Each visits every peer. The callback must not call back into the store.
func (s *MemoryStore) Each(fn func(p *Peer)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		fn(p)
	}
}
