package registrytest

import (
	"context"
	"testing"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/crypto"
	"github.com/blockberries/registry/server"
	"github.com/blockberries/registry/types"
)

// Harness drives a ledger through the lifecycle state machine and
// fails the test on any lifecycle error.
type Harness struct {
	t           testing.TB
	srv         *server.Server
	height      uint64
	genesisHash types.Hash
}

// NewHarness creates a test harness wrapping the given application.
func NewHarness(t testing.TB, app registry.Lifecycle) *Harness {
	t.Helper()
	return &Harness{t: t, srv: server.New(app)}
}

// Server returns the underlying server for direct access.
func (h *Harness) Server() *server.Server {
	return h.srv
}

// Height returns the last committed height seen by the harness.
func (h *Harness) Height() uint64 { return h.height }

// GenesisHash returns the hash reported at handshake.
func (h *Harness) GenesisHash() types.Hash { return h.genesisHash }

// Genesis performs a genesis handshake with the given genesis doc.
func (h *Harness) Genesis(genesis types.GenesisDoc) types.HandshakeResponse {
	h.t.Helper()
	resp, err := h.srv.Handshake(context.Background(), types.HandshakeRequest{
		Genesis: &genesis,
	})
	if err != nil {
		h.t.Fatalf("Handshake (genesis) failed: %v", err)
	}
	h.genesisHash = resp.GenesisHash
	if genesis.InitialHeight > 1 {
		h.height = genesis.InitialHeight - 1
	}
	return resp
}

// GenesisDefault performs a genesis handshake with DefaultGenesis.
func (h *Harness) GenesisDefault() types.HandshakeResponse {
	h.t.Helper()
	return h.Genesis(DefaultGenesis())
}

// GenesisWith performs a genesis handshake endowing the given accounts.
func (h *Harness) GenesisWith(accounts ...types.GenesisAccount) types.HandshakeResponse {
	h.t.Helper()
	return h.Genesis(GenesisWith(h.t, accounts...))
}

// Restart performs a restart handshake at the given block.
func (h *Harness) Restart(block types.BlockID) types.HandshakeResponse {
	h.t.Helper()
	resp, err := h.srv.Handshake(context.Background(), types.HandshakeRequest{
		LastCommitted: &block,
	})
	if err != nil {
		h.t.Fatalf("Handshake (restart) failed: %v", err)
	}
	h.genesisHash = resp.GenesisHash
	if resp.LastBlock != nil {
		h.height = resp.LastBlock.Height
	}
	return resp
}

// ExecuteBlock executes a block without committing.
func (h *Harness) ExecuteBlock(block types.FinalizedBlock) types.BlockOutcome {
	h.t.Helper()
	outcome, err := h.srv.ExecuteBlock(context.Background(), block)
	if err != nil {
		h.t.Fatalf("ExecuteBlock (height=%d) failed: %v", block.Height, err)
	}
	return outcome
}

// Commit commits the last executed block.
func (h *Harness) Commit() types.CommitResult {
	h.t.Helper()
	result, err := h.srv.Commit(context.Background())
	if err != nil {
		h.t.Fatalf("Commit failed: %v", err)
	}
	return result
}

// ExecuteAndCommit executes a block and commits, returning the
// block outcome.
func (h *Harness) ExecuteAndCommit(block types.FinalizedBlock) types.BlockOutcome {
	h.t.Helper()
	outcome := h.ExecuteBlock(block)
	h.Commit()
	h.height = block.Height
	return outcome
}

// NextBlock executes and commits txs at the next height.
func (h *Harness) NextBlock(txs ...types.Tx) types.BlockOutcome {
	h.t.Helper()
	return h.ExecuteAndCommit(MakeBlock(h.height+1, txs...))
}

// CheckTx submits a transaction for mempool gate-checking.
func (h *Harness) CheckTx(tx types.Tx) types.GateVerdict {
	h.t.Helper()
	verdict, err := h.srv.CheckTx(context.Background(), tx, types.MempoolFirstSeen)
	if err != nil {
		h.t.Fatalf("CheckTx failed: %v", err)
	}
	return verdict
}

// Query reads committed state.
func (h *Harness) Query(path types.QueryPath, data []byte) types.StateQueryResult {
	h.t.Helper()
	result, err := h.srv.Query(context.Background(), types.StateQuery{
		Path: path,
		Data: data,
	})
	if err != nil {
		h.t.Fatalf("Query failed: %v", err)
	}
	return result
}

// Get reads one canonical key.
func (h *Harness) Get(key string) ([]byte, bool) {
	h.t.Helper()
	res := h.Query("/key", []byte(key))
	if res.Code == types.QueryError {
		h.t.Fatalf("Query %q: %s", key, res.Info)
	}
	return res.Value, res.Code == types.QueryFound
}

// Account reads an account, zero if absent.
func (h *Harness) Account(id types.AccountId) types.Account {
	h.t.Helper()
	var a types.Account
	if raw, ok := h.Get(types.AccountKey(id)); ok {
		if err := cramberry.Unmarshal(raw, &a); err != nil {
			h.t.Fatalf("decode account %s: %v", id, err)
		}
	}
	return a
}

// Sign builds a signed, encoded transaction for this chain.
func (h *Harness) Sign(key crypto.PrivateKey, p types.Payload, nonce uint32) types.Tx {
	h.t.Helper()
	return SignTx(h.t, key, p, nonce, h.genesisHash)
}

// MustAcceptTx asserts that a transaction is accepted.
func (h *Harness) MustAcceptTx(tx types.Tx) {
	h.t.Helper()
	v := h.CheckTx(tx)
	if !v.Accepted() {
		h.t.Fatalf("expected tx accepted, got code=%d info=%q", v.Code, v.Info)
	}
}

// MustRejectTx asserts that a transaction is rejected with code.
func (h *Harness) MustRejectTx(tx types.Tx, code registry.Code) {
	h.t.Helper()
	v := h.CheckTx(tx)
	if registry.Code(v.Code) != code {
		h.t.Fatalf("expected rejection %s, got %s (%q)", code, registry.Code(v.Code), v.Info)
	}
}

// --- Helper Factories ---

var genesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultGenesis returns a minimal genesis document with no accounts.
func DefaultGenesis() types.GenesisDoc {
	return types.GenesisDoc{
		ChainID:       "test-chain",
		GenesisTime:   types.TimeToTimestamp(genesisTime),
		InitialHeight: 1,
		ConsensusParams: types.ConsensusParams{
			MaxBlockBytes: 1024 * 1024, // 1 MiB
			MaxTxBytes:    64 * 1024,   // 64 KiB
		},
	}
}

// GenesisWith returns DefaultGenesis endowing accounts.
func GenesisWith(t testing.TB, accounts ...types.GenesisAccount) types.GenesisDoc {
	t.Helper()
	doc := DefaultGenesis()
	raw, err := types.GenesisState{Accounts: accounts}.Marshal()
	if err != nil {
		t.Fatalf("encode genesis state: %v", err)
	}
	doc.AppState = raw
	return doc
}

// MakeBlock creates a FinalizedBlock at the given height with
// the provided transactions and no author.
func MakeBlock(height uint64, txs ...types.Tx) types.FinalizedBlock {
	return types.FinalizedBlock{
		Height: height,
		Time:   types.TimeToTimestamp(genesisTime.Add(time.Duration(height) * 5 * time.Second)),
		Txs:    txs,
	}
}

// MakeEmptyBlock creates an empty FinalizedBlock at the given height.
func MakeEmptyBlock(height uint64) types.FinalizedBlock {
	return MakeBlock(height)
}
