package eth

import (
	"fmt"

	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/log"
	"github.com/ethsync/ethsync/p2p"
)

// Handler answers inbound block-exchange queries from local chain storage.
// It serves the passive side of the protocol while the sync engine drives
// the active side.
type Handler struct {
	chain  ChainReader
	logger *log.Logger
}

// NewHandler creates a serve-side handler reading from chain.
func NewHandler(chain ChainReader, logger *log.Logger) *Handler {
	return &Handler{chain: chain, logger: logger.Module("eth")}
}

// Serve reads query messages from the transport and answers them until the
// connection fails.
func (h *Handler) Serve(t p2p.Transport) error {
	for {
		msg, err := t.ReadMsg()
		if err != nil {
			return err
		}
		if err := h.HandleMsg(t, msg); err != nil {
			return err
		}
	}
}

// HandleMsg answers a single query message.
func (h *Handler) HandleMsg(t p2p.Transport, msg p2p.Msg) error {
	switch msg.Code {
	case p2p.GetBlockHeadersMsg:
		var pkt p2p.GetBlockHeadersPacket
		if err := p2p.DecodeMsg(msg, &pkt); err != nil {
			return err
		}
		headers := h.answerGetBlockHeaders(pkt.Request)
		reply, err := p2p.EncodeMsg(p2p.BlockHeadersMsg, &p2p.BlockHeadersPacket{
			RequestID: pkt.RequestID,
			Headers:   headers,
		})
		if err != nil {
			return err
		}
		return t.WriteMsg(reply)

	case p2p.GetBlockBodiesMsg:
		var pkt p2p.GetBlockBodiesPacket
		if err := p2p.DecodeMsg(msg, &pkt); err != nil {
			return err
		}
		bodies := h.answerGetBlockBodies(pkt.Hashes)
		reply, err := p2p.EncodeMsg(p2p.BlockBodiesMsg, &p2p.BlockBodiesPacket{
			RequestID: pkt.RequestID,
			Bodies:    bodies,
		})
		if err != nil {
			return err
		}
		return t.WriteMsg(reply)

	default:
		return fmt.Errorf("eth: unexpected query %s", p2p.MessageName(msg.Code))
	}
}

// answerGetBlockHeaders collects headers for a range query, walking from
// the origin by skip+1 in the requested direction. The walk stops at the
// first locally unknown block.
func (h *Handler) answerGetBlockHeaders(req p2p.GetBlockHeadersRequest) []*types.Header {
	amount := req.Amount
	if amount > MaxHeadersPerRequest {
		amount = MaxHeadersPerRequest
	}

	var origin *types.Header
	if req.Origin.IsHash() {
		origin = h.chain.HeaderByHash(req.Origin.Hash)
	} else {
		origin = h.chain.HeaderByNumber(req.Origin.Number)
	}

	headers := make([]*types.Header, 0, amount)
	step := req.Skip + 1
	for origin != nil && uint64(len(headers)) < amount {
		headers = append(headers, origin)
		num := origin.NumberU64()
		if req.Reverse {
			if num < step {
				break
			}
			origin = h.chain.HeaderByNumber(num - step)
		} else {
			origin = h.chain.HeaderByNumber(num + step)
		}
	}
	return headers
}

// answerGetBlockBodies collects the bodies of locally known blocks,
// skipping unknown hashes.
func (h *Handler) answerGetBlockBodies(hashes []types.Hash) []*types.Body {
	if len(hashes) > MaxBodiesPerRequest {
		hashes = hashes[:MaxBodiesPerRequest]
	}
	bodies := make([]*types.Body, 0, len(hashes))
	for _, hash := range hashes {
		if body := h.chain.BodyByHash(hash); body != nil {
			bodies = append(bodies, body)
		}
	}
	return bodies
}
