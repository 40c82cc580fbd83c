package eth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/p2p"
)

// mockChain is an in-memory ChainReader over a run of linked headers
// numbered from zero.
type mockChain struct {
	headers []*types.Header
	byHash  map[types.Hash]*types.Header
	bodies  map[types.Hash]*types.Body
}

func newMockChain(n int) *mockChain {
	c := &mockChain{
		byHash: make(map[types.Hash]*types.Header),
		bodies: make(map[types.Hash]*types.Body),
	}
	parent := types.Hash{}
	for i := 0; i <= n; i++ {
		h := &types.Header{
			ParentHash: parent,
			Number:     big.NewInt(int64(i)),
			Difficulty: big.NewInt(1),
		}
		c.headers = append(c.headers, h)
		c.byHash[h.Hash()] = h
		c.bodies[h.Hash()] = &types.Body{
			Transactions: []rlp.RawValue{{byte(i)}},
		}
		parent = h.Hash()
	}
	return c
}

func (c *mockChain) HeaderByHash(hash types.Hash) *types.Header {
	return c.byHash[hash]
}

func (c *mockChain) HeaderByNumber(number uint64) *types.Header {
	if number >= uint64(len(c.headers)) {
		return nil
	}
	return c.headers[number]
}

func (c *mockChain) BodyByHash(hash types.Hash) *types.Body {
	return c.bodies[hash]
}

func (c *mockChain) CurrentHeader() *types.Header {
	return c.headers[len(c.headers)-1]
}

func (c *mockChain) TotalDifficulty() *uint256.Int {
	return uint256.NewInt(uint64(len(c.headers)))
}

func (c *mockChain) GenesisHash() types.Hash {
	return c.headers[0].Hash()
}

func headerNumbers(headers []*types.Header) []uint64 {
	nums := make([]uint64, len(headers))
	for i, h := range headers {
		nums[i] = h.NumberU64()
	}
	return nums
}

func TestHandler_AnswerHeaders(t *testing.T) {
	chain := newMockChain(300)
	h := NewHandler(chain, testLogger())

	tests := []struct {
		name string
		req  p2p.GetBlockHeadersRequest
		want []uint64
	}{
		{
			name: "forward",
			req:  p2p.GetBlockHeadersRequest{Origin: p2p.HashOrNumber{Number: 10}, Amount: 5},
			want: []uint64{10, 11, 12, 13, 14},
		},
		{
			name: "reverse",
			req:  p2p.GetBlockHeadersRequest{Origin: p2p.HashOrNumber{Number: 10}, Amount: 3, Reverse: true},
			want: []uint64{10, 9, 8},
		},
		{
			name: "reverse stops at genesis",
			req:  p2p.GetBlockHeadersRequest{Origin: p2p.HashOrNumber{Number: 2}, Amount: 5, Reverse: true},
			want: []uint64{2, 1, 0},
		},
		{
			name: "skip",
			req:  p2p.GetBlockHeadersRequest{Origin: p2p.HashOrNumber{Number: 0}, Amount: 4, Skip: 2},
			want: []uint64{0, 3, 6, 9},
		},
		{
			name: "truncated at chain head",
			req:  p2p.GetBlockHeadersRequest{Origin: p2p.HashOrNumber{Number: 298}, Amount: 10},
			want: []uint64{298, 299, 300},
		},
		{
			name: "unknown origin",
			req:  p2p.GetBlockHeadersRequest{Origin: p2p.HashOrNumber{Number: 9999}, Amount: 5},
			want: []uint64{},
		},
		{
			name: "by hash",
			req:  p2p.GetBlockHeadersRequest{Origin: p2p.HashOrNumber{Hash: chain.headers[7].Hash()}, Amount: 2},
			want: []uint64{7, 8},
		},
	}
	for _, tt := range tests {
		got := headerNumbers(h.answerGetBlockHeaders(tt.req))
		if len(got) != len(tt.want) {
			t.Errorf("%s: headers = %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: headers = %v, want %v", tt.name, got, tt.want)
				break
			}
		}
	}
}

func TestHandler_AnswerHeadersCapped(t *testing.T) {
	chain := newMockChain(300)
	h := NewHandler(chain, testLogger())

	got := h.answerGetBlockHeaders(p2p.GetBlockHeadersRequest{
		Origin: p2p.HashOrNumber{Number: 0},
		Amount: 1000,
	})
	if len(got) != MaxHeadersPerRequest {
		t.Errorf("oversized request served %d headers, want %d", len(got), MaxHeadersPerRequest)
	}
}

func TestHandler_AnswerBodies(t *testing.T) {
	chain := newMockChain(10)
	h := NewHandler(chain, testLogger())

	hashes := []types.Hash{
		chain.headers[3].Hash(),
		types.BytesToHash([]byte("unknown")),
		chain.headers[5].Hash(),
	}
	bodies := h.answerGetBlockBodies(hashes)
	if len(bodies) != 2 {
		t.Fatalf("bodies = %d entries, want 2 (unknown hash skipped)", len(bodies))
	}
	if bodies[0].Transactions[0][0] != 3 || bodies[1].Transactions[0][0] != 5 {
		t.Error("bodies returned out of request order")
	}
}

func TestHandler_HandleMsg(t *testing.T) {
	chain := newMockChain(20)
	h := NewHandler(chain, testLogger())
	local, remote := p2p.MsgPipe()
	defer local.Close()

	msg, err := p2p.EncodeMsg(p2p.GetBlockHeadersMsg, &p2p.GetBlockHeadersPacket{
		RequestID: 77,
		Request:   p2p.GetBlockHeadersRequest{Origin: p2p.HashOrNumber{Number: 1}, Amount: 2},
	})
	if err != nil {
		t.Fatalf("EncodeMsg: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- h.HandleMsg(local, msg) }()

	reply, err := remote.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("HandleMsg: %v", err)
	}
	if reply.Code != p2p.BlockHeadersMsg {
		t.Fatalf("reply code = %#x, want BlockHeaders", reply.Code)
	}
	var pkt p2p.BlockHeadersPacket
	if err := p2p.DecodeMsg(reply, &pkt); err != nil {
		t.Fatalf("DecodeMsg: %v", err)
	}
	if pkt.RequestID != 77 {
		t.Errorf("reply request ID = %d, want 77", pkt.RequestID)
	}
	if len(pkt.Headers) != 2 || pkt.Headers[0].NumberU64() != 1 {
		t.Errorf("reply headers = %v", headerNumbers(pkt.Headers))
	}
}

func TestHandler_HandleMsgUnexpectedCode(t *testing.T) {
	h := NewHandler(newMockChain(1), testLogger())
	local, _ := p2p.MsgPipe()
	defer local.Close()

	if err := h.HandleMsg(local, p2p.Msg{Code: p2p.BlockHeadersMsg}); err == nil {
		t.Fatal("HandleMsg accepted a non-query message")
	}
}
