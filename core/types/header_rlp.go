package types

import (
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// extHeader mirrors Header for RLP coding, leaving out cache fields.
type extHeader struct {
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
}

// EncodeRLP implements rlp.Encoder.
func (h *Header) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &extHeader{
		ParentHash:  h.ParentHash,
		UncleHash:   h.UncleHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Difficulty:  h.Difficulty,
		Number:      h.Number,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		Extra:       h.Extra,
		MixDigest:   h.MixDigest,
		Nonce:       h.Nonce,
	})
}

// DecodeRLP implements rlp.Decoder.
func (h *Header) DecodeRLP(s *rlp.Stream) error {
	var ext extHeader
	if err := s.Decode(&ext); err != nil {
		return err
	}
	h.ParentHash = ext.ParentHash
	h.UncleHash = ext.UncleHash
	h.Coinbase = ext.Coinbase
	h.Root = ext.Root
	h.TxHash = ext.TxHash
	h.ReceiptHash = ext.ReceiptHash
	h.Difficulty = ext.Difficulty
	h.Number = ext.Number
	h.GasLimit = ext.GasLimit
	h.GasUsed = ext.GasUsed
	h.Time = ext.Time
	h.Extra = ext.Extra
	h.MixDigest = ext.MixDigest
	h.Nonce = ext.Nonce
	h.hash.Store(nil)
	return nil
}
