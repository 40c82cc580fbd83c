package types

import (
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// Keccak256 computes the keccak256 hash of the concatenation of the inputs.
func Keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

// rlpHash RLP-encodes v directly into a keccak256 hasher.
func rlpHash(v interface{}) Hash {
	d := sha3.NewLegacyKeccak256()
	rlp.Encode(d, v)
	var h Hash
	d.Sum(h[:0])
	return h
}

func computeHeaderHash(h *Header) Hash {
	return rlpHash(h)
}
