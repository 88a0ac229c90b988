// Package registry defines the contract between the registry ledger
// and the host that orders its blocks.
//
// The core [Lifecycle] interface is required. All other interfaces
// are optional capabilities discovered via Go type assertion at
// handshake time.
package registry

import (
	"context"

	"github.com/blockberries/registry/types"
)

// Lifecycle is the core interface the ledger implements for its host.
//
// The host guarantees the following call order:
//  1. Handshake is called exactly once, before anything else.
//  2. ExecuteBlock(h) is called exactly once per committed height h.
//  3. Commit is called exactly once after each ExecuteBlock.
//  4. CheckTx, Query may be called concurrently at any time after Handshake.
type Lifecycle interface {
	// Handshake is called once on every startup (cold start or restart).
	//
	// If LastCommitted is nil this is a fresh chain and Genesis is set.
	// The ledger returns its own view of its state so the host can
	// detect divergence.
	Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error)

	// CheckTx gate-checks a transaction before it enters the mempool.
	// It runs against committed state only.
	//
	// This method MUST be safe for concurrent use.
	CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error)

	// ExecuteBlock deterministically executes an ordered block.
	//
	// Every transaction is executed in order. State changes are staged,
	// not persisted; that happens in Commit. All hosts executing the same
	// block from the same state must produce the same AppHash.
	ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error)

	// Commit atomically persists the changes of the last ExecuteBlock.
	Commit(ctx context.Context) (types.CommitResult, error)

	// Query reads committed state. Safe for concurrent use, including
	// concurrently with ExecuteBlock.
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
}

// ProposalControl lets the ledger choose which mempool transactions go
// into a block. Without it the host takes its mempool in order.
//
// Declared via: types.CapProposalControl in HandshakeResponse.Capabilities
type ProposalControl interface {
	// BuildProposal returns the ordered transactions for the next block.
	BuildProposal(ctx context.Context, pctx types.ProposalContext) (types.BuiltProposal, error)

	// VerifyProposal structurally validates a proposal without
	// executing it. MUST be deterministic.
	VerifyProposal(ctx context.Context, proposal types.ReceivedProposal) (types.ProposalVerdict, error)
}

// StateSync exports and imports the committed store as chunked
// snapshots for fast node bootstrapping.
//
// Declared via: types.CapStateSync in HandshakeResponse.Capabilities
type StateSync interface {
	// AvailableSnapshots lists snapshots the ledger can export.
	AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error)

	// ExportSnapshot yields the chunks of a snapshot in order on the
	// returned channel, which is closed after the last chunk.
	ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error)

	// ImportSnapshot consumes chunks, rebuilds state and reports the
	// resulting AppHash.
	ImportSnapshot(ctx context.Context, descriptor types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error)
}

// Simulator dry-runs a transaction against committed state.
//
// Declared via: types.CapSimulation in HandshakeResponse.Capabilities
type Simulator interface {
	// Simulate executes tx without persisting anything.
	// This method MUST be safe for concurrent use.
	Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error)
}

// Application embeds every interface. The ledger implements it.
type Application interface {
	Lifecycle
	ProposalControl
	StateSync
	Simulator
}

// Connection is a transport-agnostic handle to a ledger application.
type Connection interface {
	Lifecycle

	// Capabilities returns the capabilities discovered at handshake.
	// Must only be called after Handshake completes.
	Capabilities() types.Capabilities

	// AsProposalControl returns the ProposalControl interface if
	// available, or nil if the app does not support it.
	AsProposalControl() ProposalControl

	// AsStateSync returns the StateSync interface if available.
	AsStateSync() StateSync

	// AsSimulator returns the Simulator interface if available.
	AsSimulator() Simulator

	// Close terminates the connection.
	Close() error
}
