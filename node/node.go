package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/ethsync/ethsync/core"
	"github.com/ethsync/ethsync/core/rawdb"
	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/eth"
	"github.com/ethsync/ethsync/log"
	"github.com/ethsync/ethsync/p2p"
	"github.com/ethsync/ethsync/sync"
)

// ErrNodeStopped is returned when operating on a node after Close.
var ErrNodeStopped = errors.New("node: stopped")

// Node assembles a full syncing peer: the chain database, the peer pool,
// the wire protocol, and the sync engine. A node serves header and body
// queries to its peers while it syncs from them.
type Node struct {
	cfg    Config
	logger *log.Logger

	db      rawdb.Database
	chain   *core.ChainStore
	tracker *eth.RequestTracker
	server  *eth.Handler
	engine  *sync.Engine
	peers   *p2p.PeerSet
	dialer  p2p.Dialer

	mu       gosync.Mutex
	ethPeers map[string]*eth.Peer
	listener p2p.Listener
	stopped  bool

	peerWG gosync.WaitGroup
}

// New creates a node from the given configuration. The chain database is
// opened (or created) and initialized with the genesis header; the sync
// window opens at the locally persisted head.
func New(cfg Config, genesis *types.Header) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.New(log.LevelFromString(cfg.LogLevel)).With("node", cfg.Name)

	var db rawdb.Database
	if dir := cfg.ChainDBDir(); dir != "" {
		ldb, err := rawdb.NewLevelDB(dir)
		if err != nil {
			return nil, fmt.Errorf("node: open chain database: %w", err)
		}
		db = ldb
	} else {
		db = rawdb.NewMemoryDB()
	}

	chain, err := core.SetupGenesis(db, genesis, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		chain:    chain,
		tracker:  eth.NewRequestTracker(cfg.Sync.RequestTimeout),
		server:   eth.NewHandler(chain, logger),
		engine:   sync.NewEngine(cfg.Sync, chain, logger),
		peers:    p2p.NewPeerSet(cfg.MaxPeers),
		dialer:   &p2p.TCPDialer{},
		ethPeers: make(map[string]*eth.Peer),
	}
	n.peers.RegisterObserver(n)
	return n, nil
}

// Chain returns the node's chain store.
func (n *Node) Chain() *core.ChainStore { return n.chain }

// Engine returns the node's sync engine.
func (n *Node) Engine() *sync.Engine { return n.engine }

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int { return n.peers.Len() }

// Run starts listening, dials the static peers, and drives the sync engine
// until it finishes or ctx is cancelled. The node is closed before Run
// returns.
func (n *Node) Run(ctx context.Context) (sync.Result, error) {
	defer n.Close()

	if n.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", n.cfg.ListenAddr)
		if err != nil {
			return sync.NotEnoughPeers, fmt.Errorf("node: listen %s: %w", n.cfg.ListenAddr, err)
		}
		n.mu.Lock()
		n.listener = p2p.NewTCPListener(ln)
		n.mu.Unlock()
		n.logger.Info("listening for peers", "addr", ln.Addr().String())
		go n.acceptLoop(n.listener)
	}

	var dials errgroup.Group
	for _, addr := range n.cfg.StaticPeers {
		addr := addr
		dials.Go(func() error {
			t, err := n.dialer.Dial(addr)
			if err != nil {
				n.logger.Warn("static peer unreachable", "addr", addr, "err", err)
				return nil
			}
			n.peerWG.Add(1)
			go n.runPeer(t)
			return nil
		})
	}
	dials.Wait()

	result, err := n.engine.Run(ctx)
	n.logger.Info("sync finished", "result", result.String(),
		"head", n.engine.Progress().Finalized.String())
	return result, err
}

// acceptLoop admits inbound connections until the listener closes.
func (n *Node) acceptLoop(ln p2p.Listener) {
	for {
		t, err := ln.Accept()
		if err != nil {
			return
		}
		n.peerWG.Add(1)
		go n.runPeer(t)
	}
}

// runPeer owns one connection for its lifetime: handshake, registration,
// the protocol read loop, and teardown.
func (n *Node) runPeer(t p2p.ConnTransport) {
	defer n.peerWG.Done()

	id := t.RemoteAddr()
	base := p2p.NewPeer(id, t)
	peer := eth.NewPeer(base, n.tracker, n, n.server, n.logger)

	if err := peer.Handshake(n.status()); err != nil {
		n.logger.Debug("handshake failed", "peer", id, "err", err)
		peer.Close()
		return
	}

	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		peer.Close()
		return
	}
	n.ethPeers[id] = peer
	n.mu.Unlock()

	if err := n.peers.Register(base); err != nil {
		n.mu.Lock()
		delete(n.ethPeers, id)
		n.mu.Unlock()
		n.logger.Debug("peer not admitted", "peer", id, "err", err)
		peer.Disconnect(p2p.DiscUselessPeer)
		return
	}

	err := peer.Run()
	n.logger.Debug("peer connection closed", "peer", id, "err", err)

	n.mu.Lock()
	delete(n.ethPeers, id)
	n.mu.Unlock()
	n.peers.Unregister(id)
	peer.Close()
}

// status builds the local handshake status from the current chain state.
func (n *Node) status() p2p.StatusData {
	head := n.chain.CurrentHeader()
	return p2p.StatusData{
		ProtocolVersion: eth.ETH63,
		NetworkID:       n.cfg.NetworkID,
		TD:              n.chain.TotalDifficulty(),
		Head:            head.Hash(),
		Genesis:         n.chain.GenesisHash(),
	}
}

// ethPeer returns the protocol peer for an id, or nil.
func (n *Node) ethPeer(id string) *eth.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ethPeers[id]
}

// OnPeerConnected hands an admitted peer to the sync engine.
func (n *Node) OnPeerConnected(p *p2p.Peer) {
	if peer := n.ethPeer(p.ID()); peer != nil {
		n.engine.HandlePeerConnected(peer)
	}
}

// OnPeerDisconnected clears a dropped peer from the sync engine.
func (n *Node) OnPeerDisconnected(p *p2p.Peer) {
	n.engine.HandlePeerDisconnected(p.ID())
}

// HandleAnnounce forwards block announcements from a peer to the sync
// engine so the window can extend past the announced number.
func (n *Node) HandleAnnounce(p *eth.Peer, entries []p2p.NewBlockHashesEntry) {
	for _, e := range entries {
		n.engine.NotifyHead(p, e.Number)
	}
}

// Close tears down the node: the listener, all peers, the sync engine, and
// the database. It is safe to call more than once.
func (n *Node) Close() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	ln := n.listener
	peers := make([]*eth.Peer, 0, len(n.ethPeers))
	for _, p := range n.ethPeers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, p := range peers {
		p.Close()
	}
	n.peerWG.Wait()

	n.engine.Stop()
	n.tracker.Close()
	n.peers.Close()
	n.db.Close()
	n.logger.Info("node shut down")
}
