package types

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// Body contains the transactions and uncle headers of a block. Transactions
// are carried as raw RLP items; the sync engine never inspects their
// contents, it only moves them from the wire into the database.
type Body struct {
	Transactions []rlp.RawValue
	Uncles       []*Header
}

// CopyBody creates a deep copy of a body.
func CopyBody(b *Body) *Body {
	cp := &Body{}
	if b.Transactions != nil {
		cp.Transactions = make([]rlp.RawValue, len(b.Transactions))
		for i, tx := range b.Transactions {
			cp.Transactions[i] = append(rlp.RawValue(nil), tx...)
		}
	}
	if b.Uncles != nil {
		cp.Uncles = make([]*Header, len(b.Uncles))
		for i, u := range b.Uncles {
			cp.Uncles[i] = CopyHeader(u)
		}
	}
	return cp
}
