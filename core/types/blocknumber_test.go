package types

import (
	"math"
	"math/big"
	"testing"
)

func TestBlockNumber_Arithmetic(t *testing.T) {
	n := NewBlockNumber(100)

	if got := n.AddUint64(92).Uint64(); got != 192 {
		t.Errorf("AddUint64 = %d, want 192", got)
	}
	if got := n.SubUint64(50).Uint64(); got != 50 {
		t.Errorf("SubUint64 = %d, want 50", got)
	}
	if got := n.Next().Uint64(); got != 101 {
		t.Errorf("Next = %d, want 101", got)
	}
}

func TestBlockNumber_SubSaturatesAtZero(t *testing.T) {
	n := NewBlockNumber(5)
	if got := n.SubUint64(10); !got.IsZero() {
		t.Errorf("SubUint64 below zero = %s, want 0", got)
	}
}

func TestBlockNumber_AddSaturatesAtMax(t *testing.T) {
	if got := MaxBlockNumber.AddUint64(1); got.Cmp(MaxBlockNumber) != 0 {
		t.Errorf("AddUint64 past max = %s, want max", got)
	}
	if got := MaxBlockNumber.Next(); got.Cmp(MaxBlockNumber) != 0 {
		t.Errorf("Next past max = %s, want max", got)
	}
}

func TestBlockNumber_Distance(t *testing.T) {
	tests := []struct {
		n, m uint64
		want uint64
	}{
		{100, 500, 400},
		{500, 100, 0},
		{100, 100, 0},
		{0, 1, 1},
	}
	for _, tt := range tests {
		if got := NewBlockNumber(tt.n).Distance(NewBlockNumber(tt.m)); got != tt.want {
			t.Errorf("Distance(%d, %d) = %d, want %d", tt.n, tt.m, got, tt.want)
		}
	}
}

func TestBlockNumber_DistanceClampsToUint64(t *testing.T) {
	far := MaxBlockNumber
	if got := NewBlockNumber(0).Distance(far); got != math.MaxUint64 {
		t.Errorf("Distance to max = %d, want MaxUint64", got)
	}
}

func TestBlockNumber_FromBig(t *testing.T) {
	if _, ok := BlockNumberFromBig(nil); ok {
		t.Error("BlockNumberFromBig(nil) accepted")
	}
	if _, ok := BlockNumberFromBig(big.NewInt(-1)); ok {
		t.Error("BlockNumberFromBig(-1) accepted")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	if _, ok := BlockNumberFromBig(huge); ok {
		t.Error("BlockNumberFromBig(2^300) accepted")
	}
	n, ok := BlockNumberFromBig(big.NewInt(42))
	if !ok || n.Uint64() != 42 {
		t.Errorf("BlockNumberFromBig(42) = (%s, %v)", n, ok)
	}
}

func TestBlockNumber_Compare(t *testing.T) {
	a, b := NewBlockNumber(1), NewBlockNumber(2)
	if !a.Less(b) || b.Less(a) || a.Less(a) {
		t.Error("Less ordering wrong")
	}
	if a.Cmp(b) != -1 || b.Cmp(a) != 1 || a.Cmp(a) != 0 {
		t.Error("Cmp ordering wrong")
	}
}

func TestBlockNumber_String(t *testing.T) {
	if got := NewBlockNumber(12345).String(); got != "12345" {
		t.Errorf("String = %q, want %q", got, "12345")
	}
}
