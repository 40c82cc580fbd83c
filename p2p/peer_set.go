package p2p

import (
	"errors"
	"sync"

	"github.com/ethsync/ethsync/metrics"
)

var (
	// ErrMaxPeers is returned when the peer set is full.
	ErrMaxPeers = errors.New("p2p: max peers reached")

	// ErrPeerAlreadyRegistered is returned when adding a duplicate peer.
	ErrPeerAlreadyRegistered = errors.New("p2p: peer already registered")

	// ErrPeerNotRegistered is returned when removing an unknown peer.
	ErrPeerNotRegistered = errors.New("p2p: peer not registered")

	// ErrPeerSetClosed is returned when operating on a closed peer set.
	ErrPeerSetClosed = errors.New("p2p: peer set closed")
)

// PeerEventObserver receives connect and disconnect notifications. Callbacks
// run on the caller's goroutine after the set mutation has been applied;
// observers must not call back into the PeerSet while handling an event.
type PeerEventObserver interface {
	OnPeerConnected(p *Peer)
	OnPeerDisconnected(p *Peer)
}

// PeerSet is the pool of live peers. It owns peer lifetimes: peers are
// admitted after the transport handshake and dropped on disconnect, with
// observers notified of both transitions.
type PeerSet struct {
	mu        sync.RWMutex
	peers     map[string]*Peer
	observers []PeerEventObserver
	maxPeers  int
	closed    bool
}

// NewPeerSet creates a peer set with the given maximum capacity.
func NewPeerSet(maxPeers int) *PeerSet {
	return &PeerSet{
		peers:    make(map[string]*Peer),
		maxPeers: maxPeers,
	}
}

// RegisterObserver subscribes an observer to peer events.
func (ps *PeerSet) RegisterObserver(obs PeerEventObserver) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.observers = append(ps.observers, obs)
}

// Register admits a peer into the set and notifies observers.
func (ps *PeerSet) Register(p *Peer) error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return ErrPeerSetClosed
	}
	if _, exists := ps.peers[p.id]; exists {
		ps.mu.Unlock()
		return ErrPeerAlreadyRegistered
	}
	if ps.maxPeers > 0 && len(ps.peers) >= ps.maxPeers {
		ps.mu.Unlock()
		return ErrMaxPeers
	}
	ps.peers[p.id] = p
	metrics.PeersConnected.Set(int64(len(ps.peers)))
	obs := append([]PeerEventObserver(nil), ps.observers...)
	ps.mu.Unlock()

	for _, o := range obs {
		o.OnPeerConnected(p)
	}
	return nil
}

// Unregister removes a peer by id and notifies observers.
func (ps *PeerSet) Unregister(id string) error {
	ps.mu.Lock()
	p, exists := ps.peers[id]
	if !exists {
		ps.mu.Unlock()
		return ErrPeerNotRegistered
	}
	delete(ps.peers, id)
	metrics.PeersConnected.Set(int64(len(ps.peers)))
	obs := append([]PeerEventObserver(nil), ps.observers...)
	ps.mu.Unlock()

	for _, o := range obs {
		o.OnPeerDisconnected(p)
	}
	return nil
}

// Peer returns the peer with the given id, or nil.
func (ps *PeerSet) Peer(id string) *Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.peers[id]
}

// Len returns the number of live peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// Peers returns a snapshot of all live peers.
func (ps *PeerSet) Peers() []*Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	list := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		list = append(list, p)
	}
	return list
}

// Close marks the set as closed and drops all peers without notification.
func (ps *PeerSet) Close() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.closed = true
	for id := range ps.peers {
		delete(ps.peers, id)
	}
}
