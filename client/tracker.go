package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/types"
)

// ErrDetached is returned by waits on a tracker after Detach.
var ErrDetached = errors.New("tracker detached")

// State is the lifecycle position of a tracked transaction.
type State int32

const (
	StateCreated State = iota
	StateSubmitted
	StateIncluded
	StateApplied
	StateSubmissionRejected
	StateOrphaned
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateSubmitted:
		return "Submitted"
	case StateIncluded:
		return "Included"
	case StateApplied:
		return "Applied"
	case StateSubmissionRejected:
		return "SubmissionRejected"
	case StateOrphaned:
		return "Orphaned"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == StateApplied || s == StateSubmissionRejected || s == StateOrphaned
}

// Outcome is the ledger's verdict on an applied transaction. Err is a
// *registry.TxError for a dispatch failure and nil on success.
type Outcome struct {
	Block  types.BlockID
	Index  uint32
	Err    error
	Events []types.Event
	Data   []byte
}

// Tracker follows one submitted transaction to inclusion and
// application. It never resubmits.
type Tracker struct {
	hash    types.Hash
	state   atomic.Int32
	cancel  context.CancelFunc
	metrics *Metrics
	start   time.Time

	inclOnce sync.Once
	included chan struct{}
	block    types.BlockID
	inclErr  error

	doneOnce sync.Once
	done     chan struct{}
	outcome  Outcome
	err      error
}

func newTracker(hash types.Hash, m *Metrics) *Tracker {
	return &Tracker{
		hash:     hash,
		metrics:  m,
		start:    time.Now(),
		included: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Hash returns the transaction hash.
func (t *Tracker) Hash() types.Hash { return t.hash }

// State returns the current lifecycle state.
func (t *Tracker) State() State { return State(t.state.Load()) }

func (t *Tracker) transition(from, to State) bool {
	if !t.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if to.Terminal() {
		t.metrics.observeTerminal(to)
	}
	return true
}

// Included waits for the including block. It fails with
// registry.ErrSubmissionRejected if the oracle drops the transaction and
// with registry.ErrSubscriptionLost if the event stream ends first.
func (t *Tracker) Included(ctx context.Context) (types.BlockID, error) {
	select {
	case <-t.included:
		return t.block, t.inclErr
	case <-ctx.Done():
		return types.BlockID{}, ctx.Err()
	}
}

// Result waits for the transaction's outcome. A timeout of zero or less
// waits without bound. Giving up on the wait leaves the transaction in
// flight.
func (t *Tracker) Result(ctx context.Context, timeout time.Duration) (Outcome, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-t.done:
		return t.outcome, t.err
	case <-expired:
		return Outcome{}, registry.ErrTimeout
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Detach stops observing the transaction. Pending waits return
// ErrDetached unless the tracker already resolved.
func (t *Tracker) Detach() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Tracker) resolveIncluded(block types.BlockID, err error) {
	t.inclOnce.Do(func() {
		t.block, t.inclErr = block, err
		close(t.included)
	})
}

func (t *Tracker) resolve(out Outcome, err error) {
	t.doneOnce.Do(func() {
		t.outcome, t.err = out, err
		close(t.done)
	})
}

func (t *Tracker) fail(err error) {
	t.resolveIncluded(types.BlockID{}, err)
	t.resolve(Outcome{}, err)
}

// follow consumes the oracle's event stream until a terminal event,
// the end of the stream, or Detach.
func (t *Tracker) follow(ctx context.Context, events <-chan types.InclusionEvent) {
	defer t.cancel()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.fail(registry.ErrSubscriptionLost)
				return
			}
			if t.handle(ev) {
				return
			}
		case <-ctx.Done():
			t.fail(ErrDetached)
			return
		}
	}
}

// handle applies one event and reports whether the tracker resolved.
// Events that do not fit the current state are ignored.
func (t *Tracker) handle(ev types.InclusionEvent) bool {
	switch ev.Status {
	case types.StatusIncluded:
		t.include(ev.Block)

	case types.StatusApplied:
		t.include(ev.Block)
		if ev.Outcome == nil || !t.transition(StateIncluded, StateApplied) {
			return false
		}
		t.metrics.observeInclusion(time.Since(t.start))
		t.resolve(Outcome{
			Block:  ev.Block,
			Index:  ev.Index,
			Err:    registry.OutcomeError(*ev.Outcome),
			Events: ev.Outcome.Events,
			Data:   ev.Outcome.Data,
		}, nil)
		return true

	case types.StatusRetracted:
		t.include(ev.Block)
		if !t.transition(StateIncluded, StateOrphaned) {
			return false
		}
		t.resolve(Outcome{}, fmt.Errorf("%w: block %d", registry.ErrChainReorganized, ev.Block.Height))
		return true

	case types.StatusDropped, types.StatusRejected:
		if !t.transition(StateSubmitted, StateSubmissionRejected) {
			return false
		}
		t.fail(fmt.Errorf("%w: %w", registry.ErrSubmissionRejected,
			&registry.TxError{Code: registry.Code(ev.Code), Detail: ev.Reason}))
		return true
	}
	return false
}

func (t *Tracker) include(block types.BlockID) {
	if t.transition(StateSubmitted, StateIncluded) {
		t.resolveIncluded(block, nil)
	}
}
