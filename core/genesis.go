package core

import (
	"math/big"

	"github.com/ethsync/ethsync/core/types"
)

// DefaultGenesis returns the genesis header shared by nodes that do not
// supply their own. Peers only interoperate when their genesis hashes
// match, so every field here is fixed.
func DefaultGenesis() *types.Header {
	return &types.Header{
		Difficulty: big.NewInt(131072),
		Number:     big.NewInt(0),
		GasLimit:   5000,
		Time:       0,
		Extra:      []byte("ethsync genesis"),
	}
}
