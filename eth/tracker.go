package eth

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ethsync/ethsync/p2p"
)

// pendingRequest is a single in-flight request awaiting its response.
type pendingRequest struct {
	id       uint64
	code     uint64
	deadline time.Time
	resp     chan interface{}
}

// RequestTracker correlates responses to in-flight requests by request ID
// and expires requests whose deadline passes without a response.
type RequestTracker struct {
	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	timeout time.Duration
	quit    chan struct{}
	closed  bool
}

// NewRequestTracker creates a tracker whose requests expire after timeout.
// The expiry loop runs until Close.
func NewRequestTracker(timeout time.Duration) *RequestTracker {
	t := &RequestTracker{
		pending: make(map[uint64]*pendingRequest),
		timeout: timeout,
		quit:    make(chan struct{}),
	}
	go t.expireLoop()
	return t
}

// Track registers a new in-flight request and returns its assigned request
// ID together with the channel the response will be delivered on. The
// channel is closed without a value if the request expires or the tracker
// shuts down.
func (t *RequestTracker) Track(code uint64) (uint64, chan interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := rand.Uint64()
	for {
		if _, busy := t.pending[id]; !busy && id != 0 {
			break
		}
		id = rand.Uint64()
	}
	req := &pendingRequest{
		id:       id,
		code:     code,
		deadline: time.Now().Add(t.timeout),
		resp:     make(chan interface{}, 1),
	}
	if t.closed {
		close(req.resp)
		return id, req.resp
	}
	t.pending[id] = req
	return id, req.resp
}

// Deliver routes a response to the request with the given ID. The response
// code must match the expected response for the tracked request code.
func (t *RequestTracker) Deliver(id, code uint64, value interface{}) error {
	t.mu.Lock()
	req, ok := t.pending[id]
	if ok && responseCode(req.code) == code {
		delete(t.pending, id)
	} else {
		ok = false
	}
	t.mu.Unlock()

	if !ok {
		return ErrUnexpectedResponse
	}
	req.resp <- value
	close(req.resp)
	return nil
}

// Cancel drops a tracked request without delivering a response.
func (t *RequestTracker) Cancel(id uint64) {
	t.mu.Lock()
	req, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok {
		close(req.resp)
	}
}

// Close shuts down the tracker and fails all in-flight requests.
func (t *RequestTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[uint64]*pendingRequest)
	t.mu.Unlock()

	close(t.quit)
	for _, req := range pending {
		close(req.resp)
	}
}

// responseCode maps a request message code to the code its response
// arrives with.
func responseCode(requestCode uint64) uint64 {
	switch requestCode {
	case p2p.GetBlockHeadersMsg:
		return p2p.BlockHeadersMsg
	case p2p.GetBlockBodiesMsg:
		return p2p.BlockBodiesMsg
	default:
		return 0
	}
}

// expireLoop periodically fails requests whose deadline has passed.
func (t *RequestTracker) expireLoop() {
	tick := time.NewTicker(t.timeout / 4)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			now := time.Now()
			var expired []*pendingRequest
			t.mu.Lock()
			for id, req := range t.pending {
				if now.After(req.deadline) {
					delete(t.pending, id)
					expired = append(expired, req)
				}
			}
			t.mu.Unlock()
			for _, req := range expired {
				close(req.resp)
			}
		case <-t.quit:
			return
		}
	}
}
