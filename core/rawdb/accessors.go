package rawdb

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/types"
)

// WriteHeader stores a header together with its hash-to-number mapping.
func WriteHeader(db KeyValueWriter, header *types.Header) error {
	data, err := rlp.EncodeToBytes(header)
	if err != nil {
		return fmt.Errorf("rawdb: encode header: %w", err)
	}
	number := header.NumberU64()
	hash := header.Hash()
	if err := db.Put(headerKey(number, hash), data); err != nil {
		return err
	}
	return db.Put(headerNumberKey(hash), encodeBlockNumber(number))
}

// ReadHeader retrieves a header, or nil if absent.
func ReadHeader(db KeyValueReader, number uint64, hash types.Hash) *types.Header {
	data, err := db.Get(headerKey(number, hash))
	if err != nil {
		return nil
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(data, header); err != nil {
		return nil
	}
	return header
}

// ReadHeaderNumber retrieves the block number recorded for a header hash.
func ReadHeaderNumber(db KeyValueReader, hash types.Hash) (uint64, bool) {
	data, err := db.Get(headerNumberKey(hash))
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// HasHeader checks if a header exists.
func HasHeader(db KeyValueReader, number uint64, hash types.Hash) bool {
	ok, _ := db.Has(headerKey(number, hash))
	return ok
}

// WriteBody stores a block body.
func WriteBody(db KeyValueWriter, number uint64, hash types.Hash, body *types.Body) error {
	data, err := rlp.EncodeToBytes(body)
	if err != nil {
		return fmt.Errorf("rawdb: encode body: %w", err)
	}
	return db.Put(bodyKey(number, hash), data)
}

// ReadBody retrieves a block body, or nil if absent.
func ReadBody(db KeyValueReader, number uint64, hash types.Hash) *types.Body {
	data, err := db.Get(bodyKey(number, hash))
	if err != nil {
		return nil
	}
	body := new(types.Body)
	if err := rlp.DecodeBytes(data, body); err != nil {
		return nil
	}
	return body
}

// HasBody checks if a block body exists.
func HasBody(db KeyValueReader, number uint64, hash types.Hash) bool {
	ok, _ := db.Has(bodyKey(number, hash))
	return ok
}

// WriteTD stores the total difficulty accumulated at a block.
func WriteTD(db KeyValueWriter, number uint64, hash types.Hash, td *uint256.Int) error {
	data, err := rlp.EncodeToBytes(td)
	if err != nil {
		return fmt.Errorf("rawdb: encode td: %w", err)
	}
	return db.Put(tdKey(number, hash), data)
}

// ReadTD retrieves the total difficulty at a block, or nil if absent.
func ReadTD(db KeyValueReader, number uint64, hash types.Hash) *uint256.Int {
	data, err := db.Get(tdKey(number, hash))
	if err != nil {
		return nil
	}
	td := new(uint256.Int)
	if err := rlp.DecodeBytes(data, td); err != nil {
		return nil
	}
	return td
}

// WriteCanonicalHash maps a block number to its canonical hash.
func WriteCanonicalHash(db KeyValueWriter, number uint64, hash types.Hash) error {
	return db.Put(canonicalKey(number), hash[:])
}

// ReadCanonicalHash retrieves the canonical hash at a number, or the zero
// hash if absent.
func ReadCanonicalHash(db KeyValueReader, number uint64) types.Hash {
	data, err := db.Get(canonicalKey(number))
	if err != nil || len(data) != types.HashLength {
		return types.Hash{}
	}
	return types.BytesToHash(data)
}

// WriteHeadHeaderHash stores the hash of the current chain head.
func WriteHeadHeaderHash(db KeyValueWriter, hash types.Hash) error {
	return db.Put(headHeaderKey, hash[:])
}

// ReadHeadHeaderHash retrieves the hash of the current chain head, or the
// zero hash if no head has been recorded.
func ReadHeadHeaderHash(db KeyValueReader) types.Hash {
	data, err := db.Get(headHeaderKey)
	if err != nil || len(data) != types.HashLength {
		return types.Hash{}
	}
	return types.BytesToHash(data)
}

// WriteGenesisHash stores the genesis block hash.
func WriteGenesisHash(db KeyValueWriter, hash types.Hash) error {
	return db.Put(genesisKey, hash[:])
}

// ReadGenesisHash retrieves the genesis block hash, or the zero hash if
// the database is uninitialized.
func ReadGenesisHash(db KeyValueReader) types.Hash {
	data, err := db.Get(genesisKey)
	if err != nil || len(data) != types.HashLength {
		return types.Hash{}
	}
	return types.BytesToHash(data)
}
