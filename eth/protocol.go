// Package eth implements the block-exchange wire protocol on top of the
// p2p framed transport: a handshaking peer client with blocking
// request/response calls, a request tracker that correlates responses by
// request ID, and a serve-side handler answering queries from a chain
// reader.
package eth

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/types"
)

// ETH63 is the supported protocol version.
const ETH63 = 63

// Per-request hard caps. Requests beyond these bounds are truncated by the
// serving side and never issued by the requesting side.
const (
	// MaxHeadersPerRequest bounds a single GetBlockHeaders response.
	MaxHeadersPerRequest = 192

	// MaxBodiesPerRequest bounds a single GetBlockBodies request.
	MaxBodiesPerRequest = 128

	// MaxReceiptsPerRequest bounds a single receipts query.
	MaxReceiptsPerRequest = 256

	// MaxStatePerRequest bounds a single state trie node query.
	MaxStatePerRequest = 384
)

var (
	// ErrNetworkIDMismatch is returned when the remote peer is on a
	// different network.
	ErrNetworkIDMismatch = errors.New("eth: network id mismatch")

	// ErrGenesisMismatch is returned when the remote peer has a different
	// genesis block.
	ErrGenesisMismatch = errors.New("eth: genesis mismatch")

	// ErrProtocolVersionMismatch is returned when no common protocol
	// version exists.
	ErrProtocolVersionMismatch = errors.New("eth: protocol version mismatch")

	// ErrHandshakeTimeout is returned when the status exchange does not
	// complete in time.
	ErrHandshakeTimeout = errors.New("eth: handshake timeout")

	// ErrRequestTimeout is returned when a tracked request expires before
	// a response arrives.
	ErrRequestTimeout = errors.New("eth: request timed out")

	// ErrPeerClosed is returned when issuing a request on a closed peer.
	ErrPeerClosed = errors.New("eth: peer closed")

	// ErrUnexpectedResponse is returned when a response arrives for an
	// unknown request ID.
	ErrUnexpectedResponse = errors.New("eth: unexpected response")
)

// HeaderReader serves header queries from local storage.
type HeaderReader interface {
	HeaderByHash(hash types.Hash) *types.Header
	HeaderByNumber(number uint64) *types.Header
}

// BodyReader serves body queries from local storage.
type BodyReader interface {
	BodyByHash(hash types.Hash) *types.Body
}

// ChainReader combines the read-side queries the serve handler needs,
// plus the local chain view advertised in the status handshake.
type ChainReader interface {
	HeaderReader
	BodyReader
	CurrentHeader() *types.Header
	TotalDifficulty() *uint256.Int
	GenesisHash() types.Hash
}
