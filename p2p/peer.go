package p2p

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/types"
)

// Peer is a connected remote node. Identity is the stable id assigned by the
// pool at admission; equality and map keys derive from it only, never from
// the observed chain view.
type Peer struct {
	id        string
	transport Transport

	mu          sync.RWMutex
	head        types.Hash
	headNumber  uint64
	td          *uint256.Int
	initialized bool
	version     uint32
}

// NewPeer creates a peer with the given id and transport.
func NewPeer(id string, t Transport) *Peer {
	return &Peer{id: id, transport: t}
}

// ID returns the peer's stable identifier.
func (p *Peer) ID() string { return p.id }

// Transport returns the peer's message transport.
func (p *Peer) Transport() Transport { return p.transport }

// SetHead updates the peer's observed best block hash and total difficulty
// and marks the chain view initialized.
func (p *Peer) SetHead(hash types.Hash, td *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.head = hash
	if td != nil {
		p.td = new(uint256.Int).Set(td)
	}
	p.initialized = true
}

// Head returns the peer's best known block hash.
func (p *Peer) Head() types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.head
}

// TD returns a copy of the peer's best known total difficulty, or zero if
// the view is uninitialized.
func (p *Peer) TD() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.td == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(p.td)
}

// Initialized reports whether the handshake populated the chain view.
func (p *Peer) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// SetHeadNumber records the peer's best known block number.
func (p *Peer) SetHeadNumber(num uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if num > p.headNumber {
		p.headNumber = num
	}
}

// HeadNumber returns the peer's best known block number.
func (p *Peer) HeadNumber() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.headNumber
}

// SetVersion records the negotiated protocol version.
func (p *Peer) SetVersion(v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.version = v
}

// Version returns the negotiated protocol version.
func (p *Peer) Version() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}
