// Package registrytest provides test utilities for the registry: a
// configurable mock ledger, a mock ordering oracle, a lifecycle
// harness, and a compliance suite of ledger invariants.
package registrytest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/types"
)

// Compile-time check that MockApp satisfies all interfaces.
var _ registry.Application = (*MockApp)(nil)

// MockApp is a configurable mock ledger for host testing.
// Unconfigured methods return zero-value defaults.
//
// MockApp implements all optional interfaces so it can be used to
// test capability discovery. DeclaredCapabilities controls which are
// declared.
type MockApp struct {
	// DeclaredCapabilities controls the bitfield returned at handshake.
	DeclaredCapabilities types.Capabilities

	HandshakeFn      func(context.Context, types.HandshakeRequest) (types.HandshakeResponse, error)
	CheckTxFn        func(context.Context, types.Tx, types.MempoolContext) (types.GateVerdict, error)
	ExecuteBlockFn   func(context.Context, types.FinalizedBlock) (types.BlockOutcome, error)
	CommitFn         func(context.Context) (types.CommitResult, error)
	QueryFn          func(context.Context, types.StateQuery) (types.StateQueryResult, error)
	BuildProposalFn  func(context.Context, types.ProposalContext) (types.BuiltProposal, error)
	VerifyProposalFn func(context.Context, types.ReceivedProposal) (types.ProposalVerdict, error)
	SimulateFn       func(context.Context, types.Tx) (types.TxOutcome, error)

	HandshakeCalls    atomic.Int64
	CheckTxCalls      atomic.Int64
	ExecuteBlockCalls atomic.Int64
	CommitCalls       atomic.Int64
	QueryCalls        atomic.Int64
}

func (m *MockApp) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	m.HandshakeCalls.Add(1)
	if m.HandshakeFn != nil {
		return m.HandshakeFn(ctx, req)
	}
	return types.HandshakeResponse{Capabilities: m.DeclaredCapabilities}, nil
}

func (m *MockApp) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	m.CheckTxCalls.Add(1)
	if m.CheckTxFn != nil {
		return m.CheckTxFn(ctx, tx, mctx)
	}
	return types.GateVerdict{Sender: string(tx)}, nil
}

func (m *MockApp) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	m.ExecuteBlockCalls.Add(1)
	if m.ExecuteBlockFn != nil {
		return m.ExecuteBlockFn(ctx, block)
	}
	outcomes := make([]types.TxOutcome, len(block.Txs))
	for i := range block.Txs {
		outcomes[i] = types.TxOutcome{Index: uint32(i)}
	}
	return types.BlockOutcome{TxOutcomes: outcomes, AppHash: types.AppHash{0x01}}, nil
}

func (m *MockApp) Commit(ctx context.Context) (types.CommitResult, error) {
	m.CommitCalls.Add(1)
	if m.CommitFn != nil {
		return m.CommitFn(ctx)
	}
	return types.CommitResult{}, nil
}

func (m *MockApp) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	m.QueryCalls.Add(1)
	if m.QueryFn != nil {
		return m.QueryFn(ctx, req)
	}
	return types.StateQueryResult{Code: types.QueryAbsent}, nil
}

func (m *MockApp) BuildProposal(ctx context.Context, pctx types.ProposalContext) (types.BuiltProposal, error) {
	if m.BuildProposalFn != nil {
		return m.BuildProposalFn(ctx, pctx)
	}
	return types.BuiltProposal{Txs: pctx.MempoolTxs}, nil
}

func (m *MockApp) VerifyProposal(ctx context.Context, prop types.ReceivedProposal) (types.ProposalVerdict, error) {
	if m.VerifyProposalFn != nil {
		return m.VerifyProposalFn(ctx, prop)
	}
	return types.ProposalVerdict{Accept: true}, nil
}

func (m *MockApp) AvailableSnapshots(context.Context) ([]types.SnapshotDescriptor, error) {
	return nil, nil
}

func (m *MockApp) ExportSnapshot(_ context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	ch := make(chan types.SnapshotChunk)
	close(ch)
	return ch, &types.SnapshotDescriptor{Height: height, Format: format}, nil
}

func (m *MockApp) ImportSnapshot(_ context.Context, _ types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	for range chunks {
	}
	ah := types.AppHash{0x01}
	return types.ImportResult{Status: types.ImportOK, AppHash: &ah}, nil
}

func (m *MockApp) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	if m.SimulateFn != nil {
		return m.SimulateFn(ctx, tx)
	}
	return types.TxOutcome{}, nil
}

// Stream is a hand-driven inclusion event stream.
type Stream struct {
	ch   chan types.InclusionEvent
	once sync.Once
}

// NewStream returns a stream buffering up to 16 events.
func NewStream() *Stream {
	return &Stream{ch: make(chan types.InclusionEvent, 16)}
}

// Send delivers ev to the subscriber.
func (s *Stream) Send(ev types.InclusionEvent) { s.ch <- ev }

// Close ends the stream. Safe to call more than once.
func (s *Stream) Close() { s.once.Do(func() { close(s.ch) }) }

// C returns the receive side.
func (s *Stream) C() <-chan types.InclusionEvent { return s.ch }

// MockOracle is a scriptable ordering oracle for client tests.
// Without SubmitFn each submission gets a fresh Stream, made
// available on Streams.
type MockOracle struct {
	SubmitFn func(context.Context, types.Tx) (<-chan types.InclusionEvent, error)
	QueryFn  func(context.Context, string) ([]byte, bool, error)
	StatusFn func(context.Context) (types.ChainStatus, error)

	// Streams receives the stream created for each default submission.
	Streams chan *Stream

	SubmitCalls atomic.Int64

	mu        sync.Mutex
	submitted []types.Tx
}

// NewMockOracle returns a MockOracle with a buffered Streams channel.
func NewMockOracle() *MockOracle {
	return &MockOracle{Streams: make(chan *Stream, 16)}
}

func (m *MockOracle) Submit(ctx context.Context, tx types.Tx) (<-chan types.InclusionEvent, error) {
	m.SubmitCalls.Add(1)
	m.mu.Lock()
	m.submitted = append(m.submitted, tx)
	m.mu.Unlock()
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, tx)
	}
	s := NewStream()
	m.Streams <- s
	return s.C(), nil
}

func (m *MockOracle) Query(ctx context.Context, key string) ([]byte, bool, error) {
	if m.QueryFn != nil {
		return m.QueryFn(ctx, key)
	}
	return nil, false, nil
}

func (m *MockOracle) Status(ctx context.Context) (types.ChainStatus, error) {
	if m.StatusFn != nil {
		return m.StatusFn(ctx)
	}
	return types.ChainStatus{}, nil
}

// Submitted returns every transaction passed to Submit.
func (m *MockOracle) Submitted() []types.Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Tx(nil), m.submitted...)
}
