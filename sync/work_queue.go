package sync

import (
	"errors"
	gosync "sync"
	"time"

	"github.com/ethsync/ethsync/core/types"
)

// Work queue errors.
var (
	ErrBadSlotIndex  = errors.New("sync: slot index out of range")
	ErrSlotState     = errors.New("sync: slot is not in the required state")
	ErrCountMismatch = errors.New("sync: header and body counts disagree with slot size")
)

// SlotState is the per-slot download state.
type SlotState int

const (
	// SlotInitial marks a range awaiting a worker.
	SlotInitial SlotState = iota

	// SlotRequested marks a range claimed by exactly one worker.
	SlotRequested

	// SlotReceived marks a range fully downloaded, awaiting in-order
	// persistence.
	SlotReceived

	// SlotPersisted marks a range handed to the chain sink. Persisted
	// slots are recycled for new ranges.
	SlotPersisted
)

// String returns a short name for the state.
func (s SlotState) String() string {
	switch s {
	case SlotInitial:
		return "initial"
	case SlotRequested:
		return "requested"
	case SlotReceived:
		return "received"
	case SlotPersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// slot is a reservation for a contiguous block range inside the sync
// window.
type slot struct {
	start     types.BlockNumber
	numBlocks int
	state     SlotState

	headers []*types.Header
	bodies  []*types.Body

	owner     string
	claimedAt time.Time
}

// end returns the last block number covered by the slot, inclusive.
func (s *slot) end() types.BlockNumber {
	return s.start.AddUint64(uint64(s.numBlocks - 1))
}

// WorkQueue is a sliding window of block-range slots. It owns the
// finalized watermark and the sync target: slots cover disjoint ranges of
// the interval (finalized, target], persisted slots are recycled for new
// ranges, and the window never grows beyond the worker count plus the
// reorder tail.
type WorkQueue struct {
	mu gosync.Mutex

	slots      []*slot
	finalized  types.BlockNumber
	target     types.BlockNumber
	outOfOrder bool
}

// NewWorkQueue creates a queue whose window starts above head and extends
// to target, both inclusive of target.
func NewWorkQueue(head, target types.BlockNumber) *WorkQueue {
	return &WorkQueue{finalized: head, target: target}
}

// ClaimAvailable atomically selects the next range to download and marks
// it claimed by owner. Initial slots are recycled before the window is
// extended; extension reuses the lowest-index persisted slot before
// appending. Returns false when the window is exhausted.
func (q *WorkQueue) ClaimAvailable(owner string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	maxPending := q.finalized
	firstInitial := -1
	reusable := -1
	for i, s := range q.slots {
		if s.state != SlotPersisted && maxPending.Less(s.end()) {
			maxPending = s.end()
		}
		if s.state == SlotInitial && firstInitial < 0 {
			firstInitial = i
		}
		if s.state == SlotPersisted && reusable < 0 {
			reusable = i
		}
	}
	if firstInitial >= 0 {
		q.claimLocked(firstInitial, owner)
		return firstInitial, true
	}

	nextStart := maxPending.Next()
	if q.target.Less(nextStart) {
		return 0, false
	}
	numBlocks := uint64(MaxHeadersPerRequest)
	if remaining := nextStart.Distance(q.target); remaining < MaxHeadersPerRequest {
		numBlocks = remaining + 1
	}

	s := &slot{start: nextStart, numBlocks: int(numBlocks)}
	idx := reusable
	if idx >= 0 {
		q.slots[idx] = s
	} else {
		q.slots = append(q.slots, s)
		idx = len(q.slots) - 1
	}
	q.claimLocked(idx, owner)
	return idx, true
}

// claimLocked transitions a slot to SlotRequested for owner.
func (q *WorkQueue) claimLocked(idx int, owner string) {
	s := q.slots[idx]
	s.state = SlotRequested
	s.owner = owner
	s.claimedAt = time.Now()
}

// Range returns the block range covered by a slot.
func (q *WorkQueue) Range(idx int) (start types.BlockNumber, numBlocks int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx < 0 || idx >= len(q.slots) {
		return types.BlockNumber{}, 0, ErrBadSlotIndex
	}
	s := q.slots[idx]
	return s.start, s.numBlocks, nil
}

// MarkReceived stores downloaded material into a claimed slot. Header and
// body counts must both equal the slot size.
func (q *WorkQueue) MarkReceived(idx int, headers []*types.Header, bodies []*types.Body) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx < 0 || idx >= len(q.slots) {
		return ErrBadSlotIndex
	}
	s := q.slots[idx]
	if s.state != SlotRequested {
		return ErrSlotState
	}
	if len(headers) != s.numBlocks || len(bodies) != s.numBlocks {
		return ErrCountMismatch
	}
	s.headers = headers
	s.bodies = bodies
	s.state = SlotReceived
	s.owner = ""
	if s.start.Cmp(q.finalized.Next()) != 0 {
		q.outOfOrder = true
	}
	return nil
}

// Revert returns a claimed slot to the pool, discarding partial data. It
// is the only backward state transition.
func (q *WorkQueue) Revert(idx int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx < 0 || idx >= len(q.slots) {
		return ErrBadSlotIndex
	}
	s := q.slots[idx]
	if s.state != SlotRequested {
		return ErrSlotState
	}
	s.state = SlotInitial
	s.headers = nil
	s.bodies = nil
	s.owner = ""
	s.claimedAt = time.Time{}
	return nil
}

// DrainReady hands received slots to persist in strictly ascending order,
// starting at the block just above the finalized watermark and continuing
// until the next range is missing. It returns the number of slots
// persisted. Repeated invocations on an unchanged queue are no-ops.
//
// persist runs with the queue locked; it must not call back into the
// queue.
func (q *WorkQueue) DrainReady(persist func(headers []*types.Header, bodies []*types.Body) error) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := 0
	for {
		idx := -1
		for i, s := range q.slots {
			if s.state == SlotReceived && s.start.Cmp(q.finalized.Next()) == 0 {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		s := q.slots[idx]
		if err := persist(s.headers, s.bodies); err != nil {
			return drained, err
		}
		q.finalized = s.end()
		s.state = SlotPersisted
		s.headers = nil
		s.bodies = nil
		drained++
	}

	q.outOfOrder = false
	for _, s := range q.slots {
		if s.state == SlotReceived {
			q.outOfOrder = true
			break
		}
	}
	return drained, nil
}

// SweepStuck reverts claimed slots older than maxAge whose owner is no
// longer alive, and returns how many were reverted.
func (q *WorkQueue) SweepStuck(maxAge time.Duration, alive func(owner string) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	swept := 0
	for _, s := range q.slots {
		if s.state != SlotRequested {
			continue
		}
		if now.Sub(s.claimedAt) < maxAge {
			continue
		}
		if alive != nil && alive(s.owner) {
			continue
		}
		s.state = SlotInitial
		s.headers = nil
		s.bodies = nil
		s.owner = ""
		s.claimedAt = time.Time{}
		swept++
	}
	return swept
}

// RaiseTarget extends the sync window to target. The target only moves
// forward; a lower value is ignored. Reports whether the window changed.
func (q *WorkQueue) RaiseTarget(target types.BlockNumber) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.target.Less(target) {
		return false
	}
	q.target = target
	return true
}

// Finalized returns the highest block number persisted so far.
func (q *WorkQueue) Finalized() types.BlockNumber {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finalized
}

// Target returns the current end of the sync window, inclusive.
func (q *WorkQueue) Target() types.BlockNumber {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.target
}

// HasOutOfOrder reports whether any received slot awaits earlier ranges.
func (q *WorkQueue) HasOutOfOrder() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outOfOrder
}

// Done reports whether the finalized watermark has reached the target.
func (q *WorkQueue) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.finalized.Less(q.target)
}

// SlotStates returns a snapshot of slot states, for diagnostics.
func (q *WorkQueue) SlotStates() []SlotState {
	q.mu.Lock()
	defer q.mu.Unlock()
	states := make([]SlotState, len(q.slots))
	for i, s := range q.slots {
		states[i] = s.state
	}
	return states
}
