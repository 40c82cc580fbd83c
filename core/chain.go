// Package core maintains the locally persisted chain: an append-only
// sequence of canonical blocks written in strict order by the sync engine
// and served back to remote peers over the wire protocol.
package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/rawdb"
	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/log"
)

var (
	// ErrUnknownAncestor is returned when a persisted batch does not
	// attach to the current head.
	ErrUnknownAncestor = errors.New("core: unknown ancestor")

	// ErrNonContiguous is returned when a batch's headers are not a
	// parent-linked run of consecutive numbers.
	ErrNonContiguous = errors.New("core: non-contiguous batch")

	// ErrBodyCountMismatch is returned when a batch carries a different
	// number of bodies than headers.
	ErrBodyCountMismatch = errors.New("core: body count mismatch")

	// ErrNoGenesis is returned when opening a chain store on an
	// uninitialized database without a genesis block.
	ErrNoGenesis = errors.New("core: database has no genesis")
)

// ChainStore is the canonical chain database. Writes happen in strictly
// increasing block number order; the store validates parent linkage before
// committing a batch.
type ChainStore struct {
	mu sync.RWMutex

	db      rawdb.Database
	genesis types.Hash
	head    *types.Header
	td      *uint256.Int
	logger  *log.Logger
}

// NewChainStore opens a chain store over db. The database must have been
// initialized with a genesis block.
func NewChainStore(db rawdb.Database, logger *log.Logger) (*ChainStore, error) {
	genesis := rawdb.ReadGenesisHash(db)
	if genesis.IsZero() {
		return nil, ErrNoGenesis
	}
	headHash := rawdb.ReadHeadHeaderHash(db)
	number, ok := rawdb.ReadHeaderNumber(db, headHash)
	if !ok {
		return nil, fmt.Errorf("core: head header %x missing number", headHash)
	}
	head := rawdb.ReadHeader(db, number, headHash)
	if head == nil {
		return nil, fmt.Errorf("core: head header %x missing", headHash)
	}
	td := rawdb.ReadTD(db, number, headHash)
	if td == nil {
		td = new(uint256.Int)
	}
	return &ChainStore{
		db:      db,
		genesis: genesis,
		head:    head,
		td:      td,
		logger:  logger.Module("chain"),
	}, nil
}

// SetupGenesis initializes an empty database with the given genesis header
// and returns a chain store over it. An already initialized database is
// left untouched.
func SetupGenesis(db rawdb.Database, genesis *types.Header, logger *log.Logger) (*ChainStore, error) {
	if stored := rawdb.ReadGenesisHash(db); stored.IsZero() {
		hash := genesis.Hash()
		if err := rawdb.WriteHeader(db, genesis); err != nil {
			return nil, err
		}
		if err := rawdb.WriteBody(db, genesis.NumberU64(), hash, &types.Body{}); err != nil {
			return nil, err
		}
		td := difficultyOf(genesis)
		if err := rawdb.WriteTD(db, genesis.NumberU64(), hash, td); err != nil {
			return nil, err
		}
		if err := rawdb.WriteCanonicalHash(db, genesis.NumberU64(), hash); err != nil {
			return nil, err
		}
		if err := rawdb.WriteGenesisHash(db, hash); err != nil {
			return nil, err
		}
		if err := rawdb.WriteHeadHeaderHash(db, hash); err != nil {
			return nil, err
		}
	}
	return NewChainStore(db, logger)
}

// BestHeader returns a copy of the current chain head.
func (c *ChainStore) BestHeader() *types.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.CopyHeader(c.head)
}

// CurrentHeader returns a copy of the current chain head.
func (c *ChainStore) CurrentHeader() *types.Header {
	return c.BestHeader()
}

// TotalDifficulty returns a copy of the accumulated difficulty at the head.
func (c *ChainStore) TotalDifficulty() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(uint256.Int).Set(c.td)
}

// GenesisHash returns the genesis block hash.
func (c *ChainStore) GenesisHash() types.Hash {
	return c.genesis
}

// Persist appends a batch of blocks to the chain. The batch must be a
// parent-linked run starting at head number + 1 with one body per header.
// The whole batch commits atomically.
func (c *ChainStore) Persist(headers []*types.Header, bodies []*types.Body) error {
	if len(headers) == 0 {
		return nil
	}
	if len(headers) != len(bodies) {
		return fmt.Errorf("%w: %d headers, %d bodies", ErrBodyCountMismatch, len(headers), len(bodies))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if headers[0].NumberU64() != c.head.NumberU64()+1 || headers[0].ParentHash != c.head.Hash() {
		return fmt.Errorf("%w: batch starts at %d parent %x, head is %d (%x)",
			ErrUnknownAncestor, headers[0].NumberU64(), headers[0].ParentHash, c.head.NumberU64(), c.head.Hash())
	}
	for i := 1; i < len(headers); i++ {
		if headers[i].NumberU64() != headers[i-1].NumberU64()+1 || headers[i].ParentHash != headers[i-1].Hash() {
			return fmt.Errorf("%w: break at index %d (block %d)", ErrNonContiguous, i, headers[i].NumberU64())
		}
	}

	batch := c.db.NewBatch()
	td := new(uint256.Int).Set(c.td)
	for i, header := range headers {
		number := header.NumberU64()
		hash := header.Hash()
		if err := rawdb.WriteHeader(batch, header); err != nil {
			return err
		}
		if err := rawdb.WriteBody(batch, number, hash, bodies[i]); err != nil {
			return err
		}
		td.Add(td, difficultyOf(header))
		if err := rawdb.WriteTD(batch, number, hash, td); err != nil {
			return err
		}
		if err := rawdb.WriteCanonicalHash(batch, number, hash); err != nil {
			return err
		}
	}
	tail := headers[len(headers)-1]
	if err := rawdb.WriteHeadHeaderHash(batch, tail.Hash()); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}

	c.head = types.CopyHeader(tail)
	c.td = td
	c.logger.Debug("persisted blocks",
		"from", headers[0].NumberU64(), "to", tail.NumberU64(), "head", tail.Hash())
	return nil
}

// difficultyOf returns a header's difficulty as a uint256, treating nil or
// overflowing values as zero.
func difficultyOf(h *types.Header) *uint256.Int {
	if h.Difficulty == nil {
		return new(uint256.Int)
	}
	diff, overflow := uint256.FromBig(h.Difficulty)
	if overflow {
		return new(uint256.Int)
	}
	return diff
}

// HeaderByHash retrieves a header by hash, or nil if unknown.
func (c *ChainStore) HeaderByHash(hash types.Hash) *types.Header {
	number, ok := rawdb.ReadHeaderNumber(c.db, hash)
	if !ok {
		return nil
	}
	return rawdb.ReadHeader(c.db, number, hash)
}

// HeaderByNumber retrieves the canonical header at a number, or nil.
func (c *ChainStore) HeaderByNumber(number uint64) *types.Header {
	hash := rawdb.ReadCanonicalHash(c.db, number)
	if hash.IsZero() {
		return nil
	}
	return rawdb.ReadHeader(c.db, number, hash)
}

// BodyByHash retrieves a block body by header hash, or nil.
func (c *ChainStore) BodyByHash(hash types.Hash) *types.Body {
	number, ok := rawdb.ReadHeaderNumber(c.db, hash)
	if !ok {
		return nil
	}
	return rawdb.ReadBody(c.db, number, hash)
}

// HasBlock reports whether both header and body are stored for a block.
func (c *ChainStore) HasBlock(number uint64, hash types.Hash) bool {
	return rawdb.HasHeader(c.db, number, hash) && rawdb.HasBody(c.db, number, hash)
}
