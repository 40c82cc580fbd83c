package sync

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	gosync "sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/p2p"
)

func testEngineConfig() Config {
	return Config{
		MinPeersToStartSync: 2,
		MaxTrustedPeers:     16,
		BootTimeout:         2 * time.Second,
		StallTimeout:        5 * time.Second,
		RequestTimeout:      time.Second,
		StuckRequestAge:     200 * time.Millisecond,
	}
}

// testChain is a canned canonical chain served by scripted peers. Index
// equals block number; index 0 is the genesis.
type testChain struct {
	headers []*types.Header
	byHash  map[types.Hash]int
	bodies  map[types.Hash]*types.Body
}

func newTestChain(length int) *testChain {
	c := &testChain{
		byHash: make(map[types.Hash]int),
		bodies: make(map[types.Hash]*types.Body),
	}
	parent := types.Hash{}
	for i := 0; i <= length; i++ {
		h := &types.Header{
			ParentHash: parent,
			Difficulty: big.NewInt(1),
			Number:     big.NewInt(int64(i)),
		}
		c.headers = append(c.headers, h)
		c.byHash[h.Hash()] = i
		c.bodies[h.Hash()] = &types.Body{}
		parent = h.Hash()
	}
	return c
}

func (c *testChain) tip() *types.Header { return c.headers[len(c.headers)-1] }

// chainPeer serves header and body requests straight from a testChain.
type chainPeer struct {
	id    string
	chain *testChain

	// shortHeaders makes every range response one header short, which a
	// downloader must treat as a protocol violation.
	shortHeaders bool

	mu           gosync.Mutex
	disconnected bool
}

func newChainPeer(id string, chain *testChain) *chainPeer {
	return &chainPeer{id: id, chain: chain}
}

func (p *chainPeer) ID() string { return p.id }

func (p *chainPeer) BestHash() types.Hash { return p.chain.tip().Hash() }

func (p *chainPeer) HeadNumber() uint64 { return p.chain.tip().NumberU64() }

func (p *chainPeer) BestTD() *uint256.Int {
	return uint256.NewInt(uint64(len(p.chain.headers)))
}

func (p *chainPeer) RequestHeadersByHash(_ context.Context, origin types.Hash, amount, _ int, _ bool) ([]*types.Header, error) {
	i, ok := p.chain.byHash[origin]
	if !ok {
		return nil, nil
	}
	if amount < 1 {
		amount = 1
	}
	return []*types.Header{p.chain.headers[i]}, nil
}

func (p *chainPeer) RequestHeadersByNumber(_ context.Context, origin uint64, amount, _ int, _ bool) ([]*types.Header, error) {
	var headers []*types.Header
	for n := origin; n < uint64(len(p.chain.headers)) && len(headers) < amount; n++ {
		headers = append(headers, p.chain.headers[n])
	}
	if p.shortHeaders && len(headers) > 0 {
		headers = headers[:len(headers)-1]
	}
	return headers, nil
}

func (p *chainPeer) RequestBodies(_ context.Context, hashes []types.Hash) ([]*types.Body, error) {
	bodies := make([]*types.Body, 0, len(hashes))
	for _, h := range hashes {
		body, ok := p.chain.bodies[h]
		if !ok {
			return nil, fmt.Errorf("unknown block %x", h)
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

func (p *chainPeer) Disconnect(p2p.DisconnectReason) {
	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()
}

func (p *chainPeer) isDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// memSink collects persisted batches, validating attachment like a real
// chain store would.
type memSink struct {
	mu       gosync.Mutex
	head     *types.Header
	batches  int
	failures int
}

func newMemSink(genesis *types.Header) *memSink {
	return &memSink{head: genesis}
}

func (s *memSink) BestHeader() *types.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

func (s *memSink) Persist(headers []*types.Header, bodies []*types.Body) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("simulated sink failure")
	}
	if len(headers) == 0 || len(headers) != len(bodies) {
		return errors.New("bad batch shape")
	}
	if headers[0].NumberU64() != s.head.NumberU64()+1 {
		return fmt.Errorf("batch starts at %d, head is %d", headers[0].NumberU64(), s.head.NumberU64())
	}
	if headers[0].ParentHash != s.head.Hash() {
		return errors.New("batch does not attach to head")
	}
	s.head = headers[len(headers)-1]
	s.batches++
	return nil
}

func (s *memSink) headNumber() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head.NumberU64()
}

func TestEngine_SyncToTarget(t *testing.T) {
	chain := newTestChain(500)
	sink := newMemSink(chain.headers[0])
	e := NewEngine(testEngineConfig(), sink, testLogger())

	e.HandlePeerConnected(newChainPeer("p1", chain))
	e.HandlePeerConnected(newChainPeer("p2", chain))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != Success {
		t.Fatalf("Run = %v, want success", result)
	}
	if got := sink.headNumber(); got != 500 {
		t.Errorf("sink head = %d, want 500", got)
	}
	if prog := e.Progress(); prog.Finalized.Uint64() != 500 || prog.OutOfOrder {
		t.Errorf("Progress = %+v, want finalized 500 in order", prog)
	}
	e.Stop()
}

func TestEngine_NotEnoughPeers(t *testing.T) {
	cfg := testEngineConfig()
	cfg.BootTimeout = 50 * time.Millisecond
	chain := newTestChain(10)
	e := NewEngine(cfg, newMemSink(chain.headers[0]), testLogger())

	result, err := e.Run(context.Background())
	if err != nil || result != NotEnoughPeers {
		t.Fatalf("Run = (%v, %v), want (not enough peers, nil)", result, err)
	}
	e.Stop()
}

func TestEngine_SinglePeerBelowThreshold(t *testing.T) {
	cfg := testEngineConfig()
	cfg.BootTimeout = 200 * time.Millisecond
	chain := newTestChain(10)
	e := NewEngine(cfg, newMemSink(chain.headers[0]), testLogger())

	e.HandlePeerConnected(newChainPeer("solo", chain))

	result, err := e.Run(context.Background())
	if err != nil || result != NotEnoughPeers {
		t.Fatalf("Run = (%v, %v), want (not enough peers, nil)", result, err)
	}
	e.Stop()
}

func TestEngine_SinkRetryRecovers(t *testing.T) {
	chain := newTestChain(100)
	sink := newMemSink(chain.headers[0])
	sink.failures = 1
	e := NewEngine(testEngineConfig(), sink, testLogger())

	e.HandlePeerConnected(newChainPeer("p1", chain))
	e.HandlePeerConnected(newChainPeer("p2", chain))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := e.Run(ctx)
	if err != nil || result != Success {
		t.Fatalf("Run = (%v, %v), want (success, nil)", result, err)
	}
	if got := sink.headNumber(); got != 100 {
		t.Errorf("sink head = %d, want 100", got)
	}
	e.Stop()
}

func TestEngine_SinkFailureAborts(t *testing.T) {
	chain := newTestChain(100)
	sink := newMemSink(chain.headers[0])
	sink.failures = 1 << 30
	e := NewEngine(testEngineConfig(), sink, testLogger())

	e.HandlePeerConnected(newChainPeer("p1", chain))
	e.HandlePeerConnected(newChainPeer("p2", chain))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := e.Run(ctx)
	if !errors.Is(err, ErrSinkFailed) {
		t.Fatalf("Run error = %v, want ErrSinkFailed", err)
	}
	e.Stop()
}

func TestEngine_MisbehavingPeerDropped(t *testing.T) {
	chain := newTestChain(300)
	sink := newMemSink(chain.headers[0])
	e := NewEngine(testEngineConfig(), sink, testLogger())

	good := newChainPeer("good", chain)
	bad := newChainPeer("bad", chain)
	bad.shortHeaders = true

	e.HandlePeerConnected(good)
	e.HandlePeerConnected(bad)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	result, err := e.Run(ctx)
	if err != nil || result != Success {
		t.Fatalf("Run = (%v, %v), want (success, nil)", result, err)
	}
	if !bad.isDisconnected() {
		t.Error("misbehaving peer was not disconnected")
	}
	if e.Trusted().Contains("bad") {
		t.Error("misbehaving peer still trusted")
	}
	if got := sink.headNumber(); got != 300 {
		t.Errorf("sink head = %d, want 300", got)
	}
	e.Stop()
}

func TestEngine_NotifyHead(t *testing.T) {
	chain := newTestChain(10)
	e := NewEngine(testEngineConfig(), newMemSink(chain.headers[0]), testLogger())

	trusted := newChainPeer("trusted", chain)
	e.trust.add(trusted)
	stranger := newChainPeer("stranger", chain)

	e.NotifyHead(stranger, 900)
	if got := e.Queue().Target(); got.Uint64() != 0 {
		t.Errorf("untrusted announcement moved target to %d", got.Uint64())
	}

	e.NotifyHead(trusted, 900)
	if got := e.Queue().Target(); got.Uint64() != 900 {
		t.Errorf("target = %d, want 900", got.Uint64())
	}
	e.NotifyHead(trusted, 800)
	if got := e.Queue().Target(); got.Uint64() != 900 {
		t.Errorf("target lowered to %d", got.Uint64())
	}
}

func TestEngine_RunTwice(t *testing.T) {
	chain := newTestChain(10)
	cfg := testEngineConfig()
	cfg.BootTimeout = 10 * time.Millisecond
	e := NewEngine(cfg, newMemSink(chain.headers[0]), testLogger())

	e.Run(context.Background())
	if _, err := e.Run(context.Background()); !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("second Run error = %v, want ErrEngineStopped", err)
	}
}

func TestEngine_ContextCancel(t *testing.T) {
	chain := newTestChain(10)
	e := NewEngine(testEngineConfig(), newMemSink(chain.headers[0]), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := e.Run(ctx)
	if err != nil || result != NotEnoughPeers {
		t.Fatalf("Run = (%v, %v), want (not enough peers, nil)", result, err)
	}
	e.Stop()
}
