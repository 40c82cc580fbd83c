package node

import (
	"context"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ethsync/ethsync/core"
	"github.com/ethsync/ethsync/core/rawdb"
	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/eth"
	"github.com/ethsync/ethsync/log"
	"github.com/ethsync/ethsync/p2p"
	"github.com/ethsync/ethsync/sync"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *log.Logger {
	return log.NewWithHandler(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// populatedChain builds an in-memory chain store holding n blocks on top of
// the default genesis.
func populatedChain(t *testing.T, n int) *core.ChainStore {
	t.Helper()
	chain, err := core.SetupGenesis(rawdb.NewMemoryDB(), core.DefaultGenesis(), testLogger())
	if err != nil {
		t.Fatalf("SetupGenesis: %v", err)
	}
	parent := chain.CurrentHeader()
	headers := make([]*types.Header, n)
	bodies := make([]*types.Body, n)
	for i := 0; i < n; i++ {
		headers[i] = &types.Header{
			ParentHash: parent.Hash(),
			Number:     big.NewInt(int64(i + 1)),
			Difficulty: big.NewInt(100),
			GasLimit:   5000,
			Time:       uint64(i + 1),
		}
		bodies[i] = &types.Body{}
		parent = headers[i]
	}
	if err := chain.Persist(headers, bodies); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	return chain
}

// serveChain runs a minimal serving peer over TCP: it accepts connections,
// handshakes, and answers header and body queries from chain. It returns
// the listen address.
func serveChain(t *testing.T, chain *core.ChainStore, networkID uint64) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	listener := p2p.NewTCPListener(ln)
	t.Cleanup(func() { listener.Close() })

	tracker := eth.NewRequestTracker(time.Second)
	t.Cleanup(tracker.Close)
	handler := eth.NewHandler(chain, testLogger())
	status := p2p.StatusData{
		ProtocolVersion: eth.ETH63,
		NetworkID:       networkID,
		TD:              chain.TotalDifficulty(),
		Head:            chain.CurrentHeader().Hash(),
		Genesis:         chain.GenesisHash(),
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			base := p2p.NewPeer(conn.RemoteAddr(), conn)
			peer := eth.NewPeer(base, tracker, nil, handler, testLogger())
			go func() {
				if err := peer.Handshake(status); err != nil {
					peer.Close()
					return
				}
				peer.Run()
			}()
		}
	}()
	return ln.Addr().String()
}

func testNodeConfig(serverAddr string) Config {
	return Config{
		DataDir:     "",
		Name:        "test-node",
		NetworkID:   1,
		ListenAddr:  "",
		StaticPeers: []string{serverAddr},
		MaxPeers:    10,
		LogLevel:    "error",
		Sync: sync.Config{
			MinPeersToStartSync: 1,
			MaxTrustedPeers:     8,
			BootTimeout:         5 * time.Second,
			StallTimeout:        10 * time.Second,
			RequestTimeout:      2 * time.Second,
			StuckRequestAge:     time.Second,
		},
	}
}

func TestNode_SyncFromServingPeer(t *testing.T) {
	const chainLen = 300

	server := populatedChain(t, chainLen)
	addr := serveChain(t, server, 1)

	n, err := New(testNodeConfig(addr), core.DefaultGenesis())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := n.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != sync.Success {
		t.Fatalf("Run = %s, want success", result)
	}

	head := n.Chain().CurrentHeader()
	if head.NumberU64() != chainLen {
		t.Errorf("synced head = %d, want %d", head.NumberU64(), chainLen)
	}
	if head.Hash() != server.CurrentHeader().Hash() {
		t.Error("synced head hash differs from serving chain")
	}
	if !n.Chain().TotalDifficulty().Eq(server.TotalDifficulty()) {
		t.Errorf("synced TD = %v, want %v", n.Chain().TotalDifficulty(), server.TotalDifficulty())
	}
	if got := n.Engine().Progress().Finalized.Uint64(); got != chainLen {
		t.Errorf("finalized = %d, want %d", got, chainLen)
	}
}

func TestNode_NetworkMismatchNotAdmitted(t *testing.T) {
	server := populatedChain(t, 10)
	addr := serveChain(t, server, 2)

	cfg := testNodeConfig(addr)
	cfg.Sync.BootTimeout = 300 * time.Millisecond

	n, err := New(cfg, core.DefaultGenesis())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := n.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != sync.NotEnoughPeers {
		t.Fatalf("Run = %s, want not enough peers", result)
	}
	if n.Chain().CurrentHeader().NumberU64() != 0 {
		t.Error("chain advanced past genesis without an admitted peer")
	}
}

func TestNode_UnreachableStaticPeer(t *testing.T) {
	cfg := testNodeConfig("127.0.0.1:1")
	cfg.Sync.BootTimeout = 300 * time.Millisecond

	n, err := New(cfg, core.DefaultGenesis())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := n.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != sync.NotEnoughPeers {
		t.Fatalf("Run = %s, want not enough peers", result)
	}
}

func TestNode_PersistsAcrossRestart(t *testing.T) {
	const chainLen = 64

	server := populatedChain(t, chainLen)
	addr := serveChain(t, server, 1)

	dataDir := t.TempDir()
	cfg := testNodeConfig(addr)
	cfg.DataDir = dataDir

	n, err := New(cfg, core.DefaultGenesis())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if result, err := n.Run(context.Background()); err != nil || result != sync.Success {
		t.Fatalf("Run = (%s, %v), want success", result, err)
	}

	// Reopening the data directory resumes from the persisted head.
	reopened, err := New(cfg, core.DefaultGenesis())
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	defer reopened.Close()
	if head := reopened.Chain().CurrentHeader().NumberU64(); head != chainLen {
		t.Errorf("head after restart = %d, want %d", head, chainLen)
	}
}
