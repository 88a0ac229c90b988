package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/store"
	"github.com/blockberries/registry/types"
)

// Compile-time interface checks.
var (
	_ registry.Lifecycle       = (*App)(nil)
	_ registry.ProposalControl = (*App)(nil)
	_ registry.StateSync       = (*App)(nil)
	_ registry.Simulator       = (*App)(nil)
)

// QueryKeyPath reads one canonical key; Data holds the key.
const QueryKeyPath types.QueryPath = "/key"

// Capabilities declared by the ledger at handshake.
const Capabilities = types.CapProposalControl | types.CapStateSync | types.CapSimulation

// ErrNoState is returned by a restart handshake against an empty store.
var ErrNoState = errors.New("ledger: no committed state")

// pendingBlock is an executed block waiting for Commit.
type pendingBlock struct {
	height  uint64
	appHash types.AppHash
	batch   store.Batch
}

// App is the registry ledger. It serves committed state from a
// store.Store and stages each block in an overlay until Commit.
type App struct {
	st        store.Store
	log       *slog.Logger
	machine   *Machine
	chunkSize int

	mu          sync.RWMutex
	genesisHash types.Hash
	height      uint64
	appHash     types.AppHash
	ready       bool

	staged *pendingBlock
}

// New returns a ledger over st.
func New(st store.Store, opts ...Option) *App {
	a := &App{
		st:        st,
		log:       slog.Default(),
		machine:   NewMachine(DefaultMaxAncestryDepth),
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Status returns the committed height, app hash and genesis hash.
func (a *App) Status() (uint64, types.AppHash, types.Hash) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height, a.appHash, a.genesisHash
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (a *App) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	found, err := a.loadMeta()
	if err != nil {
		return types.HandshakeResponse{}, err
	}

	if req.LastCommitted == nil {
		if req.Genesis == nil {
			return types.HandshakeResponse{}, fmt.Errorf("ledger: fresh handshake without genesis")
		}
		gh, err := req.Genesis.Hash()
		if err != nil {
			return types.HandshakeResponse{}, err
		}
		if found {
			if gh != a.genesisHash {
				return types.HandshakeResponse{}, fmt.Errorf("ledger: store holds genesis %s, host sent %s", a.genesisHash, gh)
			}
			a.log.Info("genesis already applied", "height", a.height, "app_hash", a.appHash.String())
			a.ready = true
			return a.handshakeResponse(), nil
		}
		if err := a.applyGenesis(ctx, *req.Genesis, gh); err != nil {
			return types.HandshakeResponse{}, err
		}
		a.ready = true
		resp := a.handshakeResponse()
		resp.LastBlock = nil
		return resp, nil
	}

	if !found {
		return types.HandshakeResponse{}, ErrNoState
	}
	if req.LastCommitted.Height != a.height {
		a.log.Warn("host and ledger heights differ",
			"host_height", req.LastCommitted.Height, "ledger_height", a.height)
	}
	a.ready = true
	return a.handshakeResponse(), nil
}

func (a *App) handshakeResponse() types.HandshakeResponse {
	h := a.appHash
	resp := types.HandshakeResponse{
		AppHash:      &h,
		Capabilities: Capabilities,
		GenesisHash:  a.genesisHash,
	}
	if a.height > 0 {
		resp.LastBlock = &types.BlockID{Height: a.height}
	}
	return resp
}

// loadMeta reads the committed bookkeeping keys. Callers hold a.mu.
func (a *App) loadMeta() (bool, error) {
	gh, found, err := a.st.Get(types.KeyGenesisHash)
	if err != nil {
		return false, fmt.Errorf("read genesis hash: %w", err)
	}
	if !found {
		return false, nil
	}
	if len(gh) != len(a.genesisHash) {
		return false, fmt.Errorf("corrupt %s", types.KeyGenesisHash)
	}
	copy(a.genesisHash[:], gh)

	h, _, err := a.st.Get(types.KeyHeight)
	if err != nil {
		return false, fmt.Errorf("read height: %w", err)
	}
	if len(h) == 8 {
		a.height = binary.BigEndian.Uint64(h)
	}
	ah, _, err := a.st.Get(types.KeyAppHash)
	if err != nil {
		return false, fmt.Errorf("read app hash: %w", err)
	}
	copy(a.appHash[:], ah)
	return true, nil
}

func metaWrites(height uint64, appHash types.AppHash) store.Batch {
	h := make([]byte, 8)
	binary.BigEndian.PutUint64(h, height)
	return store.Batch{
		{Key: types.KeyHeight, Value: h},
		{Key: types.KeyAppHash, Value: appHash[:]},
	}
}

// applyGenesis writes the endowed accounts and bookkeeping. Callers hold a.mu.
func (a *App) applyGenesis(ctx context.Context, doc types.GenesisDoc, gh types.Hash) error {
	gs, err := types.ParseGenesisState(doc.AppState)
	if err != nil {
		return err
	}
	ov := store.NewOverlay(a.st)
	st := NewState(ov)
	seen := make(map[types.AccountId]bool, len(gs.Accounts))
	for _, acct := range gs.Accounts {
		if seen[acct.ID] {
			return fmt.Errorf("genesis: duplicate account %s", acct.ID)
		}
		seen[acct.ID] = true
		if err := st.SetAccount(acct.ID, types.Account{Balance: acct.Balance}); err != nil {
			return err
		}
	}
	writes := ov.Writes()
	appHash, err := store.NextAppHash(types.AppHash{}, writes)
	if err != nil {
		return err
	}
	var height uint64
	if doc.InitialHeight > 1 {
		height = doc.InitialHeight - 1
	}
	batch := append(writes, store.Write{Key: types.KeyGenesisHash, Value: gh[:]})
	batch = append(batch, metaWrites(height, appHash)...)
	if err := a.st.Apply(ctx, batch); err != nil {
		return fmt.Errorf("persist genesis: %w", err)
	}

	a.genesisHash = gh
	a.height = height
	a.appHash = appHash
	a.log.Info("genesis applied",
		"chain_id", doc.ChainID,
		"accounts", len(gs.Accounts),
		"genesis_hash", gh.String(),
		"app_hash", appHash.String())
	return nil
}

func (a *App) env(height uint64, author *types.AccountId) Env {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Env{Height: height, GenesisHash: a.genesisHash, Author: author}
}

// CheckTx runs the signature, genesis and balance gates against
// committed state. A nonce ahead of the account is accepted so a sender
// may queue several transactions.
func (a *App) CheckTx(_ context.Context, raw types.Tx, _ types.MempoolContext) (types.GateVerdict, error) {
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return verdict(registry.CodeDecodeFailed, err.Error()), nil
	}
	if !tx.VerifySignature() {
		return verdict(registry.CodeInvalidSignature, "bad signature"), nil
	}
	env := a.env(0, nil)
	if tx.GenesisHash != env.GenesisHash {
		return verdict(registry.CodeWrongChain, "genesis hash mismatch"), nil
	}
	acct, err := NewView(a.st).Account(tx.Signer)
	if err != nil {
		return types.GateVerdict{}, err
	}
	if tx.Nonce < acct.Nonce {
		return verdict(registry.CodeInvalidNonce,
			fmt.Sprintf("nonce %d already used (account at %d)", tx.Nonce, acct.Nonce)), nil
	}
	if acct.Balance < types.MinimumFee {
		return verdict(registry.CodeInsufficientFunds,
			fmt.Sprintf("balance %d below fee %d", acct.Balance, types.MinimumFee)), nil
	}
	return types.GateVerdict{
		Sender:       tx.Signer.String(),
		Nonce:        tx.Nonce,
		AccountNonce: acct.Nonce,
	}, nil
}

func verdict(code registry.Code, info string) types.GateVerdict {
	return types.GateVerdict{Code: uint32(code), Info: info}
}

// executeTx runs one encoded transaction on st.
func (a *App) executeTx(st State, raw types.Tx, env Env, index uint32) (types.TxOutcome, error) {
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return types.TxOutcome{Index: index, Code: uint32(registry.CodeDecodeFailed), Info: err.Error()}, nil
	}
	res, err := a.machine.Apply(st, tx, env)
	if err != nil {
		return types.TxOutcome{}, err
	}
	return res.Outcome(index), nil
}

func (a *App) ExecuteBlock(_ context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	a.mu.RLock()
	prevHeight, prevHash, ready := a.height, a.appHash, a.ready
	a.mu.RUnlock()

	if !ready {
		return types.BlockOutcome{}, fmt.Errorf("ledger: ExecuteBlock before Handshake")
	}
	if block.Height != prevHeight+1 {
		return types.BlockOutcome{}, fmt.Errorf("ledger: block height %d, expected %d", block.Height, prevHeight+1)
	}

	env := a.env(block.Height, block.Author)
	ov := store.NewOverlay(a.st)
	st := NewState(ov)
	outcomes := make([]types.TxOutcome, len(block.Txs))
	for i, raw := range block.Txs {
		outcome, err := a.executeTx(st, raw, env, uint32(i))
		if err != nil {
			return types.BlockOutcome{}, registry.NewHaltError(block.Height, err.Error())
		}
		outcomes[i] = outcome

		// A repeated tx keeps the receipt of its first inclusion.
		h := raw.Hash()
		if _, seen, err := st.Receipt(h); err != nil {
			return types.BlockOutcome{}, registry.NewHaltError(block.Height, err.Error())
		} else if !seen {
			err := st.SetReceipt(h, types.Receipt{
				Height: block.Height,
				Index:  outcome.Index,
				Code:   outcome.Code,
				Info:   outcome.Info,
				Data:   outcome.Data,
				Events: outcome.Events,
			})
			if err != nil {
				return types.BlockOutcome{}, registry.NewHaltError(block.Height, err.Error())
			}
		}
	}

	writes := ov.Writes()
	appHash, err := store.NextAppHash(prevHash, writes)
	if err != nil {
		return types.BlockOutcome{}, registry.NewHaltError(block.Height, err.Error())
	}
	a.staged = &pendingBlock{
		height:  block.Height,
		appHash: appHash,
		batch:   append(writes, metaWrites(block.Height, appHash)...),
	}
	a.log.Debug("block executed", "height", block.Height, "txs", len(block.Txs), "app_hash", appHash.String())
	return types.BlockOutcome{TxOutcomes: outcomes, AppHash: appHash}, nil
}

func (a *App) Commit(ctx context.Context) (types.CommitResult, error) {
	p := a.staged
	if p == nil {
		return types.CommitResult{}, fmt.Errorf("ledger: Commit without ExecuteBlock")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.st.Apply(ctx, p.batch); err != nil {
		return types.CommitResult{}, fmt.Errorf("commit height %d: %w", p.height, err)
	}
	a.height = p.height
	a.appHash = p.appHash
	a.staged = nil
	// Receipts are state; nothing is pruned.
	return types.CommitResult{RetainHeight: 0}, nil
}

// Query serves QueryKeyPath. A list:<kind> key returns an encoded
// types.EntryList of every entity of that kind.
func (a *App) Query(_ context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	height := a.height

	if req.Path != QueryKeyPath {
		return types.StateQueryResult{Code: types.QueryError, Info: fmt.Sprintf("unknown query path %q", req.Path), Height: height}, nil
	}
	key := string(req.Data)

	if prefix, err := types.ListPrefix(key); err == nil {
		entries, err := store.Collect(a.st, prefix)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		list := types.EntryList{Entries: make([]types.Entry, len(entries))}
		for i, e := range entries {
			list.Entries[i] = types.Entry{Key: []byte(e.Key), Value: e.Value}
		}
		data, err := cramberry.Marshal(list)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		return types.StateQueryResult{Code: types.QueryFound, Key: req.Data, Value: data, Height: height}, nil
	}

	v, found, err := a.st.Get(key)
	if err != nil {
		return types.StateQueryResult{}, err
	}
	if !found {
		return types.StateQueryResult{Code: types.QueryAbsent, Key: req.Data, Height: height}, nil
	}
	return types.StateQueryResult{Code: types.QueryFound, Key: req.Data, Value: v, Height: height}, nil
}

// ---------------------------------------------------------------------------
// ProposalControl
// ---------------------------------------------------------------------------

// BuildProposal replays mempool transactions in order on a scratch
// overlay and keeps those that pass the gates, within MaxTxBytes.
// Dispatch failures are kept: they still pay the fee.
func (a *App) BuildProposal(_ context.Context, pctx types.ProposalContext) (types.BuiltProposal, error) {
	env := a.env(pctx.Height, pctx.Author)
	st := NewState(store.NewOverlay(a.st))

	var (
		txs   []types.Tx
		total uint64
	)
	for _, raw := range pctx.MempoolTxs {
		size := uint64(len(raw))
		if pctx.MaxTxBytes > 0 && total+size > pctx.MaxTxBytes {
			continue
		}
		tx, err := types.DecodeTransaction(raw)
		if err != nil {
			continue
		}
		res, err := a.machine.Apply(st, tx, env)
		if err != nil {
			return types.BuiltProposal{}, err
		}
		if !res.Charged() {
			continue
		}
		txs = append(txs, raw)
		total += size
	}
	return types.BuiltProposal{Txs: txs}, nil
}

// VerifyProposal accepts a proposal whose transactions all decode and
// carry a valid signature for this chain.
func (a *App) VerifyProposal(_ context.Context, proposal types.ReceivedProposal) (types.ProposalVerdict, error) {
	gh := a.env(0, nil).GenesisHash
	for i, raw := range proposal.Txs {
		tx, err := types.DecodeTransaction(raw)
		if err != nil {
			return types.ProposalVerdict{RejectReason: fmt.Sprintf("tx %d: %v", i, err)}, nil
		}
		if !tx.VerifySignature() {
			return types.ProposalVerdict{RejectReason: fmt.Sprintf("tx %d: bad signature", i)}, nil
		}
		if tx.GenesisHash != gh {
			return types.ProposalVerdict{RejectReason: fmt.Sprintf("tx %d: wrong chain", i)}, nil
		}
	}
	return types.ProposalVerdict{Accept: true}, nil
}

// ---------------------------------------------------------------------------
// Simulator
// ---------------------------------------------------------------------------

// Simulate executes tx on a throwaway overlay of committed state. The
// outcome reflects the next block with no author.
func (a *App) Simulate(_ context.Context, raw types.Tx) (types.TxOutcome, error) {
	a.mu.RLock()
	height := a.height
	a.mu.RUnlock()
	st := NewState(store.NewOverlay(a.st))
	return a.executeTx(st, raw, a.env(height+1, nil), 0)
}
