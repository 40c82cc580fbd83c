// Package rawdb manages the low-level key-value schema for synced chain
// data: headers, bodies, canonical number-to-hash mappings, and the head
// pointers the sync engine resumes from.
package rawdb

import (
	"encoding/binary"

	"github.com/ethsync/ethsync/core/types"
)

// Key prefixes for the database schema. Prefix-based keys keep the record
// families disjoint within a single key-value store.
var (
	headerPrefix       = []byte("h") // h + num (8 bytes BE) + hash -> header RLP
	headerNumberPrefix = []byte("H") // H + hash -> num (8 bytes BE)
	bodyPrefix         = []byte("b") // b + num (8 bytes BE) + hash -> body RLP
	tdPrefix           = []byte("t") // t + num (8 bytes BE) + hash -> total difficulty RLP

	canonicalPrefix = []byte("c")  // c + num (8 bytes BE) -> canonical hash
	headHeaderKey   = []byte("hh") // -> hash of the current head header
	genesisKey      = []byte("g")  // -> hash of the genesis block
)

// encodeBlockNumber encodes a block number as an 8-byte big-endian value.
func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

// headerKey = headerPrefix + num + hash
func headerKey(number uint64, hash types.Hash) []byte {
	return append(append(headerPrefix, encodeBlockNumber(number)...), hash[:]...)
}

// headerNumberKey = headerNumberPrefix + hash
func headerNumberKey(hash types.Hash) []byte {
	return append(headerNumberPrefix, hash[:]...)
}

// bodyKey = bodyPrefix + num + hash
func bodyKey(number uint64, hash types.Hash) []byte {
	return append(append(bodyPrefix, encodeBlockNumber(number)...), hash[:]...)
}

// tdKey = tdPrefix + num + hash
func tdKey(number uint64, hash types.Hash) []byte {
	return append(append(tdPrefix, encodeBlockNumber(number)...), hash[:]...)
}

// canonicalKey = canonicalPrefix + num
func canonicalKey(number uint64) []byte {
	return append(canonicalPrefix, encodeBlockNumber(number)...)
}
