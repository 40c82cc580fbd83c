package p2p

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/types"
)

// Block-exchange protocol message codes.
const (
	StatusMsg          = 0x00
	NewBlockHashesMsg  = 0x01
	TransactionsMsg    = 0x02
	GetBlockHeadersMsg = 0x03
	BlockHeadersMsg    = 0x04
	GetBlockBodiesMsg  = 0x05
	BlockBodiesMsg     = 0x06
	NewBlockMsg        = 0x07
	DisconnectMsg      = 0x08
)

// DisconnectReason is sent to a peer when the local node drops it.
type DisconnectReason uint8

const (
	DiscRequested DisconnectReason = iota
	DiscNetworkError
	DiscProtocolError
	DiscUselessPeer
	DiscSubprotocolError DisconnectReason = 0x10
)

// String returns a human-readable name for the disconnect reason.
func (r DisconnectReason) String() string {
	switch r {
	case DiscRequested:
		return "requested"
	case DiscNetworkError:
		return "network error"
	case DiscProtocolError:
		return "breach of protocol"
	case DiscUselessPeer:
		return "useless peer"
	case DiscSubprotocolError:
		return "subprotocol error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// StatusData is the status message exchanged during the protocol handshake.
// It carries the peer's chain view: best block hash and total difficulty.
type StatusData struct {
	ProtocolVersion uint32
	NetworkID       uint64
	TD              *uint256.Int
	Head            types.Hash
	Genesis         types.Hash
}

// NewBlockHashesEntry is a single block hash announcement.
type NewBlockHashesEntry struct {
	Hash   types.Hash
	Number uint64
}

// HashOrNumber is a combined field for requesting a block header either by
// hash or by number. Exactly one must be set.
type HashOrNumber struct {
	Hash   types.Hash // If non-zero, look up by hash.
	Number uint64     // If Hash is zero, look up by number.
}

// IsHash returns true if the origin specifies a hash rather than a number.
func (hn *HashOrNumber) IsHash() bool { return !hn.Hash.IsZero() }

// EncodeRLP is a specialized encoder for HashOrNumber to encode only one of
// the two contained union fields.
func (hn *HashOrNumber) EncodeRLP(w io.Writer) error {
	if hn.Hash.IsZero() {
		return rlp.Encode(w, hn.Number)
	}
	if hn.Number != 0 {
		return fmt.Errorf("p2p: both origin hash (%x) and number (%d) provided", hn.Hash, hn.Number)
	}
	return rlp.Encode(w, hn.Hash)
}

// DecodeRLP is a specialized decoder for HashOrNumber to decode the contents
// into either a block hash or a block number.
func (hn *HashOrNumber) DecodeRLP(s *rlp.Stream) error {
	_, size, err := s.Kind()
	switch {
	case err != nil:
		return err
	case size == types.HashLength:
		hn.Number = 0
		return s.Decode(&hn.Hash)
	case size <= 8:
		hn.Hash = types.Hash{}
		return s.Decode(&hn.Number)
	default:
		return fmt.Errorf("p2p: invalid origin size %d (want hash or number)", size)
	}
}

// GetBlockHeadersRequest is a request for a range of block headers.
type GetBlockHeadersRequest struct {
	Origin  HashOrNumber // Block from which to retrieve headers.
	Amount  uint64       // Maximum number of headers to retrieve.
	Skip    uint64       // Blocks to skip between consecutive headers.
	Reverse bool         // Whether to walk towards the genesis block.
}

// GetBlockHeadersPacket wraps a GetBlockHeadersRequest with a request ID.
type GetBlockHeadersPacket struct {
	RequestID uint64
	Request   GetBlockHeadersRequest
}

// BlockHeadersPacket is the response to a header request.
type BlockHeadersPacket struct {
	RequestID uint64
	Headers   []*types.Header
}

// GetBlockBodiesPacket requests block bodies by block hash.
type GetBlockBodiesPacket struct {
	RequestID uint64
	Hashes    []types.Hash
}

// BlockBodiesPacket is the response to a bodies request.
type BlockBodiesPacket struct {
	RequestID uint64
	Bodies    []*types.Body
}

// DisconnectPacket carries the reason for an imminent disconnect.
type DisconnectPacket struct {
	Reason DisconnectReason
}
