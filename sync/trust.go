package sync

import (
	"context"
	"math/rand"
	gosync "sync"

	"github.com/holiman/uint256"

	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/log"
	"github.com/ethsync/ethsync/p2p"
)

// Peer is the view of a remote peer the engine downloads from. Identity is
// stable; the chain view fields come from the protocol handshake and later
// announcements.
type Peer interface {
	ID() string
	BestHash() types.Hash
	BestTD() *uint256.Int
	HeadNumber() uint64
	RequestHeadersByNumber(ctx context.Context, origin uint64, amount, skip int, reverse bool) ([]*types.Header, error)
	RequestHeadersByHash(ctx context.Context, origin types.Hash, amount, skip int, reverse bool) ([]*types.Header, error)
	RequestBodies(ctx context.Context, hashes []types.Hash) ([]*types.Body, error)
	Disconnect(reason p2p.DisconnectReason)
}

// Verdict is the outcome of evaluating a candidate for the trust set.
type Verdict int

const (
	// VerdictAdmitted means the candidate joined the trust set.
	VerdictAdmitted Verdict = iota

	// VerdictAdmittedEviction means the candidate joined and a single
	// dissenting incumbent was evicted.
	VerdictAdmittedEviction

	// VerdictRejected means the candidate failed the agreement checks.
	VerdictRejected

	// VerdictFull means the trust set is at capacity.
	VerdictFull
)

// TrustSet holds the peers whose chain view has been cross-validated.
// Membership never implies ownership: peer lifetimes belong to the pool,
// and entries are dropped on disconnect.
type TrustSet struct {
	// admit serializes admission protocol runs so concurrent connects
	// observe each other's verdicts.
	admit gosync.Mutex

	mu    gosync.RWMutex
	peers map[string]Peer
	max   int

	logger *log.Logger
}

// NewTrustSet creates a trust set capped at max peers. Zero means
// unbounded.
func NewTrustSet(max int, logger *log.Logger) *TrustSet {
	return &TrustSet{
		peers:  make(map[string]Peer),
		max:    max,
		logger: logger.Module("trust"),
	}
}

// peersAgreeOnChain checks whether two peers share a canonical tip. The
// peer reporting the lower total difficulty is asked for the header of the
// other's best hash; agreement holds iff it answers with at least one
// header. A failed request counts as disagreement.
func peersAgreeOnChain(ctx context.Context, a, b Peer) bool {
	lower, higher := a, b
	if b.BestTD().Lt(a.BestTD()) {
		lower, higher = b, a
	}
	headers, err := lower.RequestHeadersByHash(ctx, higher.BestHash(), 1, 0, true)
	if err != nil {
		return false
	}
	return len(headers) > 0
}

// Evaluate runs the admission protocol on a newly connected candidate.
// The first peer is admitted unconditionally. While the set is below min,
// the candidate is cross-checked against every incumbent: full agreement
// admits it, a single dissenter is evicted in its favor, two or more
// dissenters reject it. At or above min, the candidate is checked against
// one randomly chosen incumbent.
//
// On eviction the removed peer is returned; the caller decides whether to
// disconnect it.
func (ts *TrustSet) Evaluate(ctx context.Context, candidate Peer, min int) (Verdict, Peer) {
	ts.admit.Lock()
	defer ts.admit.Unlock()

	ts.mu.RLock()
	if ts.max > 0 && len(ts.peers) >= ts.max {
		ts.mu.RUnlock()
		return VerdictFull, nil
	}
	incumbents := make([]Peer, 0, len(ts.peers))
	for _, p := range ts.peers {
		incumbents = append(incumbents, p)
	}
	ts.mu.RUnlock()

	if len(incumbents) == 0 {
		ts.add(candidate)
		ts.logger.Info("seeded trust set", "peer", candidate.ID())
		return VerdictAdmitted, nil
	}

	if len(incumbents) < min {
		var dissenters []Peer
		for _, t := range incumbents {
			if !peersAgreeOnChain(ctx, candidate, t) {
				dissenters = append(dissenters, t)
			}
		}
		switch len(dissenters) {
		case 0:
			ts.add(candidate)
			ts.logger.Info("peer admitted", "peer", candidate.ID(), "trusted", ts.Len())
			return VerdictAdmitted, nil
		case 1:
			evicted := dissenters[0]
			ts.Remove(evicted.ID())
			ts.add(candidate)
			ts.logger.Warn("evicted dissenting peer",
				"evicted", evicted.ID(), "admitted", candidate.ID())
			return VerdictAdmittedEviction, evicted
		default:
			ts.logger.Info("peer rejected", "peer", candidate.ID(), "dissenters", len(dissenters))
			return VerdictRejected, nil
		}
	}

	probe := incumbents[rand.Intn(len(incumbents))]
	if !peersAgreeOnChain(ctx, candidate, probe) {
		ts.logger.Info("peer rejected", "peer", candidate.ID(), "probe", probe.ID())
		return VerdictRejected, nil
	}
	ts.add(candidate)
	ts.logger.Info("peer admitted", "peer", candidate.ID(), "trusted", ts.Len())
	return VerdictAdmitted, nil
}

func (ts *TrustSet) add(p Peer) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.peers[p.ID()] = p
}

// Remove drops a peer from the set. Unknown ids are ignored.
func (ts *TrustSet) Remove(id string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.peers, id)
}

// Contains reports whether a peer id is trusted.
func (ts *TrustSet) Contains(id string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.peers[id]
	return ok
}

// Len returns the trust set size.
func (ts *TrustSet) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.peers)
}

// Peers returns a snapshot of the trusted peers.
func (ts *TrustSet) Peers() []Peer {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	list := make([]Peer, 0, len(ts.peers))
	for _, p := range ts.peers {
		list = append(list, p)
	}
	return list
}
