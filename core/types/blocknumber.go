package types

import (
	"math/big"

	"github.com/holiman/uint256"
)

// BlockNumber is a 256-bit unsigned block number. All arithmetic on it
// saturates at the protocol maximum; wraparound never occurs.
type BlockNumber struct {
	x uint256.Int
}

// MaxBlockNumber is the largest representable block number.
var MaxBlockNumber = BlockNumber{x: *new(uint256.Int).SetAllOne()}

// NewBlockNumber returns the block number for a uint64 value.
func NewBlockNumber(v uint64) BlockNumber {
	var n BlockNumber
	n.x.SetUint64(v)
	return n
}

// BlockNumberFromBig converts a big.Int into a BlockNumber. Returns false
// if b is nil, negative, or does not fit in 256 bits.
func BlockNumberFromBig(b *big.Int) (BlockNumber, bool) {
	if b == nil || b.Sign() < 0 {
		return BlockNumber{}, false
	}
	var n BlockNumber
	if overflow := n.x.SetFromBig(b); overflow {
		return BlockNumber{}, false
	}
	return n, true
}

// Uint64 returns the low 64 bits of the block number. The caller is
// expected to have bounded the value first; chain heights in practice
// fit comfortably.
func (n BlockNumber) Uint64() uint64 { return n.x.Uint64() }

// Big returns the block number as a new big.Int.
func (n BlockNumber) Big() *big.Int { return n.x.ToBig() }

// AddUint64 returns n + v, saturating at the protocol maximum.
func (n BlockNumber) AddUint64(v uint64) BlockNumber {
	var out BlockNumber
	var d uint256.Int
	d.SetUint64(v)
	if _, overflow := out.x.AddOverflow(&n.x, &d); overflow {
		return MaxBlockNumber
	}
	return out
}

// SubUint64 returns n - v, saturating at zero.
func (n BlockNumber) SubUint64(v uint64) BlockNumber {
	var d uint256.Int
	d.SetUint64(v)
	if n.x.Lt(&d) {
		return BlockNumber{}
	}
	var out BlockNumber
	out.x.Sub(&n.x, &d)
	return out
}

// Next returns n + 1, saturating at the protocol maximum.
func (n BlockNumber) Next() BlockNumber { return n.AddUint64(1) }

// Distance returns m - n clamped to [0, max uint64]. It is the number of
// blocks strictly above n up to and including m when m > n.
func (n BlockNumber) Distance(m BlockNumber) uint64 {
	if !n.x.Lt(&m.x) {
		return 0
	}
	var diff uint256.Int
	diff.Sub(&m.x, &n.x)
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}

// Cmp compares n and m, returning -1, 0 or 1.
func (n BlockNumber) Cmp(m BlockNumber) int { return n.x.Cmp(&m.x) }

// Less reports whether n < m.
func (n BlockNumber) Less(m BlockNumber) bool { return n.x.Lt(&m.x) }

// IsZero reports whether the block number is zero.
func (n BlockNumber) IsZero() bool { return n.x.IsZero() }

// String implements fmt.Stringer.
func (n BlockNumber) String() string { return n.x.Dec() }
