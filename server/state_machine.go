// Package server provides the host-side wrapper that enforces the
// ledger lifecycle state machine and routes capability-gated calls.
package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blockberries/registry"
)

// ErrOutOfOrder is wrapped by every *OrderError.
var ErrOutOfOrder = errors.New("lifecycle call out of order")

// OrderError reports a lifecycle call made in the wrong state.
type OrderError struct {
	Call  string
	State string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("registry: %s called in state %s", e.Call, e.State)
}

func (e *OrderError) Unwrap() error { return ErrOutOfOrder }

// lifecycleState is a state of the guard.
type lifecycleState uint32

const (
	stateInit       lifecycleState = iota // waiting for Handshake
	stateHandshake                        // Handshake in flight
	stateReady                            // reads allowed, next block may execute
	stateExecuting                        // ExecuteBlock in flight
	stateExecuted                         // staged; only Commit may follow
	stateCommitting                       // Commit in flight
	stateHalted                           // ExecuteBlock halted the chain; absorbing
)

var stateNames = [...]string{"Init", "Handshake", "Ready", "Executing", "Executed", "Committing", "Halted"}

func (s lifecycleState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", uint32(s))
}

// LifecycleGuard enforces Handshake, then (ExecuteBlock, Commit)*.
// Out-of-order calls fail with an *OrderError.
//
// Each Begin call must be paired with its End call when it succeeds.
type LifecycleGuard struct {
	state atomic.Uint32
	// Held from BeginExecute to EndExecute and BeginCommit to EndCommit.
	seqMu sync.Mutex
}

// NewLifecycleGuard creates a guard in the Init state.
func NewLifecycleGuard() *LifecycleGuard {
	return &LifecycleGuard{}
}

// State returns the name of the current state.
func (g *LifecycleGuard) State() string {
	return g.load().String()
}

func (g *LifecycleGuard) load() lifecycleState { return lifecycleState(g.state.Load()) }

// BeginHandshake claims the single handshake.
func (g *LifecycleGuard) BeginHandshake() error {
	if !g.state.CompareAndSwap(uint32(stateInit), uint32(stateHandshake)) {
		return &OrderError{Call: "Handshake", State: g.State()}
	}
	return nil
}

// EndHandshake opens reads on success and returns to Init on failure
// so the handshake can be retried.
func (g *LifecycleGuard) EndHandshake(err error) {
	next := stateReady
	if err != nil {
		next = stateInit
	}
	g.state.Store(uint32(next))
}

// BeginExecute moves Ready to Executing, waiting out an in-flight Commit.
func (g *LifecycleGuard) BeginExecute() error {
	g.seqMu.Lock()
	if s := g.load(); s != stateReady {
		g.seqMu.Unlock()
		return &OrderError{Call: "ExecuteBlock", State: s.String()}
	}
	g.state.Store(uint32(stateExecuting))
	return nil
}

// EndExecute records the result of ExecuteBlock: Executed on success,
// Halted on a *registry.HaltError, Ready for a retry on anything else.
func (g *LifecycleGuard) EndExecute(err error) {
	next := stateExecuted
	if err != nil {
		next = stateReady
		if _, ok := registry.IsHalt(err); ok {
			next = stateHalted
		}
	}
	g.state.Store(uint32(next))
	g.seqMu.Unlock()
}

// BeginCommit moves Executed to Committing.
func (g *LifecycleGuard) BeginCommit() error {
	g.seqMu.Lock()
	if s := g.load(); s != stateExecuted {
		g.seqMu.Unlock()
		return &OrderError{Call: "Commit", State: s.String()}
	}
	g.state.Store(uint32(stateCommitting))
	return nil
}

// EndCommit returns to Ready.
func (g *LifecycleGuard) EndCommit() {
	g.state.Store(uint32(stateReady))
	g.seqMu.Unlock()
}

// CheckRead allows concurrent reads once the handshake completed.
func (g *LifecycleGuard) CheckRead(call string) error {
	if s := g.load(); s == stateInit || s == stateHandshake {
		return &OrderError{Call: call, State: s.String()}
	}
	return nil
}

// Halted reports whether ExecuteBlock halted the chain.
func (g *LifecycleGuard) Halted() bool { return g.load() == stateHalted }

// Ready reports whether the next block may execute.
func (g *LifecycleGuard) Ready() bool { return g.load() == stateReady }
