package eth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/log"
	"github.com/ethsync/ethsync/p2p"
)

// handshakeTimeout bounds the status message exchange.
const handshakeTimeout = 5 * time.Second

// AnnounceHandler observes block hash announcements arriving from a peer.
type AnnounceHandler interface {
	HandleAnnounce(p *Peer, entries []p2p.NewBlockHashesEntry)
}

// Peer drives the block-exchange protocol on a single connection. It owns
// the read loop for the connection and exposes blocking request calls that
// are matched to responses by request ID.
type Peer struct {
	*p2p.Peer

	tracker  *RequestTracker
	announce AnnounceHandler
	server   *Handler
	logger   *log.Logger

	closeOnce sync.Once
	closed    chan struct{}
	readErr   error
}

// NewPeer wraps a registered p2p peer for protocol use. Inbound queries
// are answered by server when one is supplied. The read loop is not
// started until Run is called.
func NewPeer(base *p2p.Peer, tracker *RequestTracker, announce AnnounceHandler, server *Handler, logger *log.Logger) *Peer {
	return &Peer{
		Peer:     base,
		tracker:  tracker,
		announce: announce,
		server:   server,
		logger:   logger.With("peer", base.ID()),
		closed:   make(chan struct{}),
	}
}

// Handshake exchanges status messages with the remote peer and validates
// that both sides share a network, genesis block, and protocol version.
// On success the peer's chain view is initialized from the remote status.
func (p *Peer) Handshake(local p2p.StatusData) error {
	errc := make(chan error, 2)
	var remote p2p.StatusData

	go func() {
		msg, err := p2p.EncodeMsg(p2p.StatusMsg, &local)
		if err != nil {
			errc <- err
			return
		}
		errc <- p.Transport().WriteMsg(msg)
	}()
	go func() {
		msg, err := p.Transport().ReadMsg()
		if err != nil {
			errc <- err
			return
		}
		if msg.Code != p2p.StatusMsg {
			errc <- fmt.Errorf("eth: first message is %s, want Status", p2p.MessageName(msg.Code))
			return
		}
		errc <- p2p.DecodeMsg(msg, &remote)
	}()

	timeout := time.NewTimer(handshakeTimeout)
	defer timeout.Stop()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			if err != nil {
				return err
			}
		case <-timeout.C:
			return ErrHandshakeTimeout
		}
	}

	switch {
	case remote.NetworkID != local.NetworkID:
		return fmt.Errorf("%w: %d != %d", ErrNetworkIDMismatch, remote.NetworkID, local.NetworkID)
	case remote.Genesis != local.Genesis:
		return fmt.Errorf("%w: %x != %x", ErrGenesisMismatch, remote.Genesis, local.Genesis)
	case remote.ProtocolVersion != local.ProtocolVersion:
		return fmt.Errorf("%w: %d != %d", ErrProtocolVersionMismatch, remote.ProtocolVersion, local.ProtocolVersion)
	}

	p.SetVersion(remote.ProtocolVersion)
	p.SetHead(remote.Head, remote.TD)
	return nil
}

// Run reads and dispatches inbound messages until the connection fails or
// the peer is closed. It always returns a non-nil error.
func (p *Peer) Run() error {
	for {
		msg, err := p.Transport().ReadMsg()
		if err != nil {
			p.shutdown(err)
			return err
		}
		if err := p.handle(msg); err != nil {
			p.shutdown(err)
			return err
		}
	}
}

// handle dispatches a single inbound message.
func (p *Peer) handle(msg p2p.Msg) error {
	switch msg.Code {
	case p2p.BlockHeadersMsg:
		var pkt p2p.BlockHeadersPacket
		if err := p2p.DecodeMsg(msg, &pkt); err != nil {
			return err
		}
		if err := p.tracker.Deliver(pkt.RequestID, msg.Code, pkt.Headers); err != nil {
			p.logger.Debug("dropping unsolicited headers", "reqid", pkt.RequestID)
		}
		return nil

	case p2p.BlockBodiesMsg:
		var pkt p2p.BlockBodiesPacket
		if err := p2p.DecodeMsg(msg, &pkt); err != nil {
			return err
		}
		if err := p.tracker.Deliver(pkt.RequestID, msg.Code, pkt.Bodies); err != nil {
			p.logger.Debug("dropping unsolicited bodies", "reqid", pkt.RequestID)
		}
		return nil

	case p2p.NewBlockHashesMsg:
		var entries []p2p.NewBlockHashesEntry
		if err := p2p.DecodeMsg(msg, &entries); err != nil {
			return err
		}
		for _, e := range entries {
			p.SetHeadNumber(e.Number)
		}
		if p.announce != nil {
			p.announce.HandleAnnounce(p, entries)
		}
		return nil

	case p2p.GetBlockHeadersMsg, p2p.GetBlockBodiesMsg:
		if p.server == nil {
			return fmt.Errorf("eth: unexpected query %s", p2p.MessageName(msg.Code))
		}
		return p.server.HandleMsg(p.Transport(), msg)

	case p2p.DisconnectMsg:
		var pkt p2p.DisconnectPacket
		if err := p2p.DecodeMsg(msg, &pkt); err != nil {
			return err
		}
		return fmt.Errorf("eth: remote disconnect: %s", pkt.Reason)

	default:
		return fmt.Errorf("eth: unexpected message %s", p2p.MessageName(msg.Code))
	}
}

// RequestHeadersByNumber fetches up to amount headers starting at origin,
// blocking until the response arrives, the request times out, or ctx is
// cancelled.
func (p *Peer) RequestHeadersByNumber(ctx context.Context, origin uint64, amount, skip int, reverse bool) ([]*types.Header, error) {
	req := p2p.GetBlockHeadersRequest{
		Origin:  p2p.HashOrNumber{Number: origin},
		Amount:  uint64(amount),
		Skip:    uint64(skip),
		Reverse: reverse,
	}
	return p.requestHeaders(ctx, req)
}

// RequestHeadersByHash fetches up to amount headers starting at the block
// with the given hash.
func (p *Peer) RequestHeadersByHash(ctx context.Context, origin types.Hash, amount, skip int, reverse bool) ([]*types.Header, error) {
	req := p2p.GetBlockHeadersRequest{
		Origin:  p2p.HashOrNumber{Hash: origin},
		Amount:  uint64(amount),
		Skip:    uint64(skip),
		Reverse: reverse,
	}
	return p.requestHeaders(ctx, req)
}

func (p *Peer) requestHeaders(ctx context.Context, req p2p.GetBlockHeadersRequest) ([]*types.Header, error) {
	if req.Amount > MaxHeadersPerRequest {
		req.Amount = MaxHeadersPerRequest
	}
	id, resp := p.tracker.Track(p2p.GetBlockHeadersMsg)
	msg, err := p2p.EncodeMsg(p2p.GetBlockHeadersMsg, &p2p.GetBlockHeadersPacket{RequestID: id, Request: req})
	if err != nil {
		p.tracker.Cancel(id)
		return nil, err
	}
	if err := p.Transport().WriteMsg(msg); err != nil {
		p.tracker.Cancel(id)
		return nil, err
	}

	value, err := p.await(ctx, id, resp)
	if err != nil {
		return nil, err
	}
	return value.([]*types.Header), nil
}

// RequestBodies fetches the block bodies for the given header hashes. The
// response preserves request order.
func (p *Peer) RequestBodies(ctx context.Context, hashes []types.Hash) ([]*types.Body, error) {
	if len(hashes) > MaxBodiesPerRequest {
		hashes = hashes[:MaxBodiesPerRequest]
	}
	id, resp := p.tracker.Track(p2p.GetBlockBodiesMsg)
	msg, err := p2p.EncodeMsg(p2p.GetBlockBodiesMsg, &p2p.GetBlockBodiesPacket{RequestID: id, Hashes: hashes})
	if err != nil {
		p.tracker.Cancel(id)
		return nil, err
	}
	if err := p.Transport().WriteMsg(msg); err != nil {
		p.tracker.Cancel(id)
		return nil, err
	}

	value, err := p.await(ctx, id, resp)
	if err != nil {
		return nil, err
	}
	return value.([]*types.Body), nil
}

// await blocks for a tracked response. A closed channel without a value
// means the request expired or the peer shut down.
func (p *Peer) await(ctx context.Context, id uint64, resp chan interface{}) (interface{}, error) {
	select {
	case value, ok := <-resp:
		if !ok {
			return nil, ErrRequestTimeout
		}
		return value, nil
	case <-p.closed:
		p.tracker.Cancel(id)
		return nil, ErrPeerClosed
	case <-ctx.Done():
		p.tracker.Cancel(id)
		return nil, ctx.Err()
	}
}

// BestHash returns the hash of the best block the peer has advertised.
func (p *Peer) BestHash() types.Hash { return p.Head() }

// BestTD returns the peer's advertised total difficulty.
func (p *Peer) BestTD() *uint256.Int { return p.TD() }

// Disconnect sends a disconnect reason to the remote side and tears down
// the connection.
func (p *Peer) Disconnect(reason p2p.DisconnectReason) {
	if msg, err := p2p.EncodeMsg(p2p.DisconnectMsg, &p2p.DisconnectPacket{Reason: reason}); err == nil {
		p.Transport().WriteMsg(msg)
	}
	p.shutdown(fmt.Errorf("eth: disconnected: %s", reason))
}

// Close tears down the connection without sending a reason.
func (p *Peer) Close() {
	p.shutdown(ErrPeerClosed)
}

func (p *Peer) shutdown(err error) {
	p.closeOnce.Do(func() {
		p.readErr = err
		close(p.closed)
		p.Transport().Close()
	})
}

// Closed reports the channel closed when the peer shuts down.
func (p *Peer) Closed() <-chan struct{} { return p.closed }
