package types

import (
	"math/big"
	"sync/atomic"
)

// Header represents a block header. Headers are treated as opaque payloads by
// the sync engine; only ParentHash, Number and the derived Hash participate
// in sync decisions.
type Header struct {
	ParentHash  Hash
	UncleHash   Hash
	Coinbase    Address
	Root        Hash
	TxHash      Hash
	ReceiptHash Hash
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	MixDigest   Hash
	Nonce       BlockNonce

	// Cache field, not serialized.
	hash atomic.Pointer[Hash]
}

// Hash returns the keccak256 hash of the RLP-encoded header. The hash is
// computed on the first call and cached; fields changed afterwards are not
// reflected.
func (h *Header) Hash() Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	hash := computeHeaderHash(h)
	h.hash.Store(&hash)
	return hash
}

// NumberU64 returns the header's block number as a uint64. A nil Number is
// treated as zero.
func (h *Header) NumberU64() uint64 {
	if h.Number == nil {
		return 0
	}
	return h.Number.Uint64()
}

// BlockNumber returns the header's block number. A nil or out-of-range
// Number is treated as zero.
func (h *Header) BlockNumber() BlockNumber {
	n, ok := BlockNumberFromBig(h.Number)
	if !ok {
		return BlockNumber{}
	}
	return n
}

// CopyHeader creates a deep copy of a header, dropping the hash cache.
func CopyHeader(h *Header) *Header {
	cp := &Header{
		ParentHash:  h.ParentHash,
		UncleHash:   h.UncleHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		MixDigest:   h.MixDigest,
		Nonce:       h.Nonce,
	}
	if h.Difficulty != nil {
		cp.Difficulty = new(big.Int).Set(h.Difficulty)
	}
	if h.Number != nil {
		cp.Number = new(big.Int).Set(h.Number)
	}
	if len(h.Extra) > 0 {
		cp.Extra = make([]byte, len(h.Extra))
		copy(cp.Extra, h.Extra)
	}
	return cp
}
