package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/types"
)

// Server wraps a ledger application with lifecycle enforcement
// and capability routing. The host interacts with the ledger
// exclusively through this server.
type Server struct {
	app   registry.Lifecycle
	guard *LifecycleGuard
	caps  types.Capabilities
	log   *slog.Logger

	// Optional interfaces (nil if not supported).
	proposalCtl registry.ProposalControl
	stateSync   registry.StateSync
	simulator   registry.Simulator

	mu          sync.Mutex
	lastOutcome *types.BlockOutcome
	halt        *registry.HaltError
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for capability and halt reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a new Server wrapping the given application.
func New(app registry.Lifecycle, opts ...Option) *Server {
	s := &Server{
		app:   app,
		guard: NewLifecycleGuard(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Pre-discover optional interfaces (validated after handshake).
	s.proposalCtl, _ = app.(registry.ProposalControl)
	s.stateSync, _ = app.(registry.StateSync)
	s.simulator, _ = app.(registry.Simulator)
	return s
}

// Handshake performs the startup handshake, validates capability
// declarations, and transitions the state machine to Ready.
func (s *Server) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	if err := s.guard.BeginHandshake(); err != nil {
		return types.HandshakeResponse{}, err
	}

	resp, err := s.app.Handshake(ctx, req)
	if err == nil {
		err = s.discoverCapabilities(resp.Capabilities)
	}
	if err == nil {
		s.caps = resp.Capabilities
	}
	s.guard.EndHandshake(err)
	return resp, err
}

// CheckTx gate-checks a transaction for mempool admission.
// Safe for concurrent use.
func (s *Server) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	if err := s.guard.CheckRead("CheckTx"); err != nil {
		return types.GateVerdict{}, err
	}
	return s.app.CheckTx(ctx, tx, mctx)
}

// ExecuteBlock deterministically executes an ordered block. After a
// HaltError every further call returns that error.
func (s *Server) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	if h := s.Halted(); h != nil {
		return types.BlockOutcome{}, h
	}
	if err := s.guard.BeginExecute(); err != nil {
		return types.BlockOutcome{}, err
	}

	outcome, err := s.app.ExecuteBlock(ctx, block)
	s.mu.Lock()
	if err == nil {
		s.lastOutcome = &outcome
	} else if h, ok := registry.IsHalt(err); ok {
		s.halt = h
		s.log.Error("ledger halted", "height", h.Height, "reason", h.Reason)
	}
	s.mu.Unlock()

	s.guard.EndExecute(err)
	return outcome, err
}

// Commit persists state changes from the last ExecuteBlock.
func (s *Server) Commit(ctx context.Context) (types.CommitResult, error) {
	if err := s.guard.BeginCommit(); err != nil {
		return types.CommitResult{}, err
	}

	result, err := s.app.Commit(ctx)

	s.mu.Lock()
	s.lastOutcome = nil
	s.mu.Unlock()

	s.guard.EndCommit()
	return result, err
}

// Query reads committed state. Safe for concurrent use.
func (s *Server) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	if err := s.guard.CheckRead("Query"); err != nil {
		return types.StateQueryResult{}, err
	}
	return s.app.Query(ctx, req)
}

// Capabilities returns the application's declared capabilities.
// Only valid after Handshake completes.
func (s *Server) Capabilities() types.Capabilities {
	return s.caps
}

// Halted returns the HaltError that stopped the ledger, or nil.
func (s *Server) Halted() *registry.HaltError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halt
}

// --- Capability-gated optional methods ---

// BuildProposal delegates to ProposalControl if supported. Otherwise
// the mempool order is taken as is.
func (s *Server) BuildProposal(ctx context.Context, pctx types.ProposalContext) (types.BuiltProposal, error) {
	if pc := s.AsProposalControl(); pc != nil {
		return pc.BuildProposal(ctx, pctx)
	}
	return types.BuiltProposal{Txs: pctx.MempoolTxs}, nil
}

// VerifyProposal delegates to ProposalControl if supported.
// Returns Accept by default if not supported.
func (s *Server) VerifyProposal(ctx context.Context, prop types.ReceivedProposal) (types.ProposalVerdict, error) {
	if pc := s.AsProposalControl(); pc != nil {
		return pc.VerifyProposal(ctx, prop)
	}
	return types.ProposalVerdict{Accept: true}, nil
}

// AvailableSnapshots delegates to StateSync if supported.
func (s *Server) AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error) {
	if s.stateSync == nil {
		return nil, fmt.Errorf("registry: StateSync not supported")
	}
	return s.stateSync.AvailableSnapshots(ctx)
}

// ExportSnapshot delegates to StateSync if supported.
func (s *Server) ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	if s.stateSync == nil {
		return nil, nil, fmt.Errorf("registry: StateSync not supported")
	}
	return s.stateSync.ExportSnapshot(ctx, height, format)
}

// ImportSnapshot delegates to StateSync if supported.
func (s *Server) ImportSnapshot(ctx context.Context, desc types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	if s.stateSync == nil {
		return types.ImportResult{}, fmt.Errorf("registry: StateSync not supported")
	}
	return s.stateSync.ImportSnapshot(ctx, desc, chunks)
}

// Simulate delegates to Simulator if supported.
// Safe for concurrent use.
func (s *Server) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	if s.simulator == nil {
		return types.TxOutcome{}, fmt.Errorf("registry: Simulator not supported")
	}
	if err := s.guard.CheckRead("Simulate"); err != nil {
		return types.TxOutcome{}, err
	}
	return s.simulator.Simulate(ctx, tx)
}

// AsProposalControl returns the ProposalControl interface or nil.
func (s *Server) AsProposalControl() registry.ProposalControl {
	if s.caps.Has(types.CapProposalControl) {
		return s.proposalCtl
	}
	return nil
}

// AsStateSync returns the StateSync interface or nil.
func (s *Server) AsStateSync() registry.StateSync {
	if s.caps.Has(types.CapStateSync) {
		return s.stateSync
	}
	return nil
}

// AsSimulator returns the Simulator interface or nil.
func (s *Server) AsSimulator() registry.Simulator {
	if s.caps.Has(types.CapSimulation) {
		return s.simulator
	}
	return nil
}

// LastOutcome returns the most recent BlockOutcome (between
// ExecuteBlock and Commit). Returns nil if no outcome is pending.
func (s *Server) LastOutcome() *types.BlockOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

// Close is a no-op for the server wrapper.
func (s *Server) Close() error { return nil }

// discoverCapabilities checks which optional interfaces the app
// implements and verifies consistency with declared capabilities.
func (s *Server) discoverCapabilities(declared types.Capabilities) error {
	checks := []struct {
		cap  types.Capabilities
		name string
		has  bool
	}{
		{types.CapProposalControl, "ProposalControl", s.proposalCtl != nil},
		{types.CapStateSync, "StateSync", s.stateSync != nil},
		{types.CapSimulation, "Simulator", s.simulator != nil},
	}
	for _, c := range checks {
		if declared.Has(c.cap) && !c.has {
			return fmt.Errorf("registry: app declared %s but does not implement it", c.name)
		}
		if !declared.Has(c.cap) && c.has {
			s.log.Warn("app implements capability but did not declare it; capability will not be used",
				"capability", c.name)
		}
	}
	return nil
}
