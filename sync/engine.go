package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/ethsync/ethsync/core/types"
	"github.com/ethsync/ethsync/log"
	"github.com/ethsync/ethsync/metrics"
	"github.com/ethsync/ethsync/p2p"
)

// Engine errors.
var (
	// ErrSinkFailed is returned when the chain sink rejects a batch twice.
	ErrSinkFailed = errors.New("sync: chain sink failed to persist batch")

	// ErrEngineStopped is returned when Run is called on an engine that has
	// already been run.
	ErrEngineStopped = errors.New("sync: engine stopped")
)

// Result is the outcome of a sync run.
type Result int

const (
	// Success means the window drained with every block persisted.
	Success Result = iota

	// NotEnoughPeers means the trust set never reached the start
	// threshold within the boot timeout.
	NotEnoughPeers

	// TimedOut means persistence stopped making progress within the
	// stall timeout.
	TimedOut
)

// String returns a short name for the result.
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NotEnoughPeers:
		return "not enough peers"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// ChainSink accepts ordered block batches for persistence and reports the
// locally known best header the sync resumes from.
type ChainSink interface {
	BestHeader() *types.Header
	Persist(headers []*types.Header, bodies []*types.Body) error
}

// Progress is a snapshot of sync state for reporting.
type Progress struct {
	Finalized    types.BlockNumber
	Target       types.BlockNumber
	TrustedPeers int
	OutOfOrder   bool
}

// Engine orchestrates the fast sync: it admits peers through the trust
// protocol, runs one download task per trusted peer against the shared
// work queue, and drains received ranges to the chain sink in strict
// ascending order.
type Engine struct {
	cfg    Config
	sink   ChainSink
	queue  *WorkQueue
	trust  *TrustSet
	logger *log.Logger

	mu        gosync.Mutex
	tasks     map[string]struct{}
	started   bool
	sinkErr   error
	drainBusy bool

	downloadsOn chan struct{}
	startOnce   gosync.Once

	// lifeCtx spans the engine's lifetime; every spawned task derives
	// from it so Stop and abort reach all of them.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	wg gosync.WaitGroup
}

// NewEngine creates a sync engine targeting sink. The work window opens at
// the sink's current best header.
func NewEngine(cfg Config, sink ChainSink, logger *log.Logger) *Engine {
	head := sink.BestHeader().BlockNumber()
	e := &Engine{
		cfg:         cfg,
		sink:        sink,
		queue:       NewWorkQueue(head, head),
		trust:       NewTrustSet(cfg.MaxTrustedPeers, logger),
		logger:      logger.Module("sync"),
		tasks:       make(map[string]struct{}),
		downloadsOn: make(chan struct{}),
	}
	e.lifeCtx, e.lifeCancel = context.WithCancel(context.Background())
	return e
}

// Queue exposes the work queue for inspection.
func (e *Engine) Queue() *WorkQueue { return e.queue }

// Trusted exposes the trust set for inspection.
func (e *Engine) Trusted() *TrustSet { return e.trust }

// Progress returns a snapshot of the current sync state.
func (e *Engine) Progress() Progress {
	return Progress{
		Finalized:    e.queue.Finalized(),
		Target:       e.queue.Target(),
		TrustedPeers: e.trust.Len(),
		OutOfOrder:   e.queue.HasOutOfOrder(),
	}
}

// HandlePeerConnected runs the trust protocol on a new peer and, once the
// trust set is large enough, launches download tasks. Intended to be
// called from the peer pool's connect callback; it spawns its own task and
// returns immediately.
func (e *Engine) HandlePeerConnected(p Peer) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		verdict, evicted := e.trust.Evaluate(e.lifeCtx, p, e.cfg.MinPeersToStartSync)
		if evicted != nil {
			metrics.PeersEvicted.Inc()
			evicted.Disconnect(p2p.DiscUselessPeer)
		}
		switch verdict {
		case VerdictRejected, VerdictFull:
			return
		}

		if e.trust.Len() >= e.cfg.MinPeersToStartSync {
			e.startOnce.Do(func() {
				for _, t := range e.trust.Peers() {
					e.startDownloadTask(t)
				}
				close(e.downloadsOn)
			})
			e.startDownloadTask(p)
		}
	}()
}

// HandlePeerDisconnected clears a peer from the trust set. Its download
// task, if any, terminates on its next network error; the stuck-slot
// sweeper reclaims any range it abandoned.
func (e *Engine) HandlePeerDisconnected(id string) {
	e.trust.Remove(id)
}

// NotifyHead records a block announcement from a trusted peer, extending
// the sync window when the announced number is beyond the current target.
func (e *Engine) NotifyHead(p Peer, number uint64) {
	if !e.trust.Contains(p.ID()) {
		return
	}
	if e.queue.RaiseTarget(types.NewBlockNumber(number)) {
		e.logger.Debug("sync target raised", "peer", p.ID(), "target", number)
	}
}

// startDownloadTask launches the per-peer download loop unless one is
// already running for this peer.
func (e *Engine) startDownloadTask(p Peer) {
	e.mu.Lock()
	if _, running := e.tasks[p.ID()]; running {
		e.mu.Unlock()
		return
	}
	e.tasks[p.ID()] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.tasks, p.ID())
			e.mu.Unlock()
		}()
		e.obtainBlocksFromPeer(e.lifeCtx, p)
	}()
}

// taskAlive reports whether a download task currently runs for a peer id.
func (e *Engine) taskAlive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tasks[id]
	return ok
}

// taskCount returns the number of live download tasks.
func (e *Engine) taskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// obtainBlocksFromPeer is the per-peer download loop. It probes the peer's
// best block to extend the window, then repeatedly claims a range, fetches
// its headers and bodies, and feeds the reorder drain. Any failure reverts
// the claimed range, disconnects the peer, and ends the task.
func (e *Engine) obtainBlocksFromPeer(ctx context.Context, p Peer) {
	logger := e.logger.With("peer", p.ID())

	if best := e.probeBest(ctx, p); best != nil {
		if e.queue.RaiseTarget(best.BlockNumber()) {
			metrics.SyncTarget.Set(int64(best.NumberU64()))
			logger.Info("sync target raised", "target", best.NumberU64())
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		idx, ok := e.queue.ClaimAvailable(p.ID())
		if !ok {
			logger.Debug("sync window exhausted, worker exiting")
			return
		}
		start, numBlocks, err := e.queue.Range(idx)
		if err != nil {
			return
		}

		headers, bodies, err := e.fetchRange(ctx, p, start, numBlocks)
		if err != nil {
			e.queue.Revert(idx)
			metrics.SlotsReverted.Inc()
			logger.Warn("range download failed, dropping peer",
				"start", start.String(), "blocks", numBlocks, "err", err)
			e.dropPeer(p)
			return
		}

		if err := e.queue.MarkReceived(idx, headers, bodies); err != nil {
			e.queue.Revert(idx)
			logger.Warn("slot update failed", "err", err)
			e.dropPeer(p)
			return
		}
		if err := e.drain(); err != nil {
			logger.Error("persistence failed, aborting sync", "err", err)
			e.abort(err)
			return
		}
	}
}

// probeBest resolves the peer's advertised best hash into a header. A
// failed probe is tolerated; the window simply is not extended.
func (e *Engine) probeBest(ctx context.Context, p Peer) *types.Header {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	headers, err := p.RequestHeadersByHash(rctx, p.BestHash(), 1, 0, false)
	if err != nil || len(headers) == 0 {
		return nil
	}
	return headers[0]
}

// fetchRange downloads numBlocks headers starting at start plus their
// bodies. The header run must exactly cover the requested range and every
// header must get a body.
func (e *Engine) fetchRange(ctx context.Context, p Peer, start types.BlockNumber, numBlocks int) ([]*types.Header, []*types.Body, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	headers, err := p.RequestHeadersByNumber(rctx, start.Uint64(), numBlocks, 0, false)
	cancel()
	if err != nil {
		return nil, nil, err
	}
	if len(headers) != numBlocks {
		return nil, nil, errors.New("sync: header count short of requested range")
	}
	for i, h := range headers {
		if h.BlockNumber().Cmp(start.AddUint64(uint64(i))) != 0 {
			return nil, nil, errors.New("sync: header run is not contiguous from requested start")
		}
	}

	hashes := make([]types.Hash, len(headers))
	for i, h := range headers {
		hashes[i] = h.Hash()
	}

	bodies := make([]*types.Body, 0, len(hashes))
	for off := 0; off < len(hashes); off += MaxBodiesPerRequest {
		end := off + MaxBodiesPerRequest
		if end > len(hashes) {
			end = len(hashes)
		}
		rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		batch, err := p.RequestBodies(rctx, hashes[off:end])
		cancel()
		if err != nil {
			return nil, nil, err
		}
		bodies = append(bodies, batch...)
	}
	if len(bodies) != len(headers) {
		return nil, nil, errors.New("sync: body count does not match header count")
	}
	return headers, bodies, nil
}

// drain persists every ready range in order. A failing batch is retried
// once; a second failure aborts the sync run.
func (e *Engine) drain() error {
	e.mu.Lock()
	if e.sinkErr != nil {
		err := e.sinkErr
		e.mu.Unlock()
		return err
	}
	e.drainBusy = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.drainBusy = false
		e.mu.Unlock()
	}()

	_, err := e.queue.DrainReady(func(headers []*types.Header, bodies []*types.Body) error {
		if err := e.sink.Persist(headers, bodies); err != nil {
			e.logger.Warn("persist failed, retrying batch once", "err", err)
			if err := e.sink.Persist(headers, bodies); err != nil {
				return err
			}
		}
		metrics.BlocksPersisted.Mark(int64(len(headers)))
		metrics.ChainHeight.Set(int64(headers[len(headers)-1].NumberU64()))
		return nil
	})
	if err != nil {
		return errors.Join(ErrSinkFailed, err)
	}
	return nil
}

// dropPeer disconnects a peer for a subprotocol failure and clears it from
// the trust set.
func (e *Engine) dropPeer(p Peer) {
	e.trust.Remove(p.ID())
	p.Disconnect(p2p.DiscSubprotocolError)
}

// abort records a fatal sink error and stops the run.
func (e *Engine) abort(err error) {
	e.mu.Lock()
	if e.sinkErr == nil {
		e.sinkErr = err
	}
	e.mu.Unlock()
	e.lifeCancel()
}

// Run drives a sync to completion. It blocks until the window drains, the
// trust threshold is never met, progress stalls, or ctx is cancelled. The
// returned error is non-nil for fatal sink failures, and is ErrEngineStopped
// when Run is called a second time.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return TimedOut, ErrEngineStopped
	}
	e.started = true
	e.mu.Unlock()

	sweeper := time.NewTicker(e.cfg.StuckRequestAge)
	defer sweeper.Stop()

	boot := time.NewTimer(e.cfg.BootTimeout)
	defer boot.Stop()

	select {
	case <-e.downloadsOn:
	case <-boot.C:
		return NotEnoughPeers, nil
	case <-ctx.Done():
		return NotEnoughPeers, nil
	case <-e.lifeCtx.Done():
		return NotEnoughPeers, e.fatalErr()
	}

	lastFinalized := e.queue.Finalized()
	lastProgress := time.Now()
	check := time.NewTicker(100 * time.Millisecond)
	defer check.Stop()

	for {
		select {
		case <-check.C:
			if err := e.fatalErr(); err != nil {
				return TimedOut, err
			}
			if e.queue.Done() && !e.queue.HasOutOfOrder() && e.taskCount() == 0 {
				e.logger.Info("sync complete", "head", e.queue.Finalized().String())
				return Success, nil
			}
			if fin := e.queue.Finalized(); lastFinalized.Less(fin) {
				lastFinalized = fin
				lastProgress = time.Now()
			} else if time.Since(lastProgress) > e.cfg.StallTimeout {
				return TimedOut, nil
			}
		case <-sweeper.C:
			if n := e.queue.SweepStuck(e.cfg.StuckRequestAge, e.taskAlive); n > 0 {
				e.logger.Warn("reclaimed abandoned ranges", "count", n)
			}
		case <-ctx.Done():
			e.lifeCancel()
			if e.queue.Done() {
				return Success, nil
			}
			return TimedOut, nil
		case <-e.lifeCtx.Done():
			if err := e.fatalErr(); err != nil {
				return TimedOut, err
			}
			if e.queue.Done() {
				return Success, nil
			}
			return TimedOut, nil
		}
	}
}

// fatalErr returns the recorded sink failure, if any.
func (e *Engine) fatalErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sinkErr
}

// Stop cancels a running sync and waits for all tasks to exit.
func (e *Engine) Stop() {
	e.lifeCancel()
	e.wg.Wait()
}
