// Package node is a single-process ordering oracle for the registry
// ledger. It admits transactions into a FIFO mempool, orders them into
// blocks with instant finality, and reports each transaction's progress
// to its submitter.
//
// The node never reorganizes: an included transaction is final once
// its block commits.
package node

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/crypto"
	"github.com/blockberries/registry/ledger"
	"github.com/blockberries/registry/types"
)

// ErrNotStarted is returned before Start completes.
var ErrNotStarted = errors.New("node: not started")

const tracerName = "github.com/blockberries/registry/node"

// Each subscriber sees at most Pending, Included and a terminal event.
const subscriberBuffer = 4

// Node orders transactions into blocks for one ledger connection.
type Node struct {
	conn    registry.Connection
	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	clock   func() time.Time
	author  *types.AccountId
	instant bool

	// produceMu serializes ExecuteBlock and Commit.
	produceMu sync.Mutex

	mu         sync.Mutex
	started    bool
	status     types.ChainStatus
	maxTxBytes uint64
	maxBlock   uint64
	pool       *mempool
	subs       map[types.Hash][]*subscriber
	halt       *registry.HaltError
}

// New returns a node over conn. Call Start before use.
func New(conn registry.Connection, opts ...Option) *Node {
	n := &Node{
		conn:   conn,
		log:    slog.Default(),
		tracer: otel.Tracer(tracerName),
		clock:  time.Now,
		pool:   newMempool(),
		subs:   make(map[types.Hash][]*subscriber),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start performs the genesis handshake. A ledger that already applied
// this genesis resumes from its committed height.
func (n *Node) Start(ctx context.Context, genesis types.GenesisDoc) error {
	resp, err := n.conn.Handshake(ctx, types.HandshakeRequest{Genesis: &genesis})
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = types.ChainStatus{GenesisHash: resp.GenesisHash}
	if resp.AppHash != nil {
		n.status.AppHash = *resp.AppHash
	}
	switch {
	case resp.LastBlock != nil:
		n.status.Height = resp.LastBlock.Height
		n.status.BlockHash = resp.LastBlock.Hash
	case genesis.InitialHeight > 1:
		n.status.Height = genesis.InitialHeight - 1
	}
	n.maxTxBytes = genesis.ConsensusParams.MaxTxBytes
	n.maxBlock = genesis.ConsensusParams.MaxBlockBytes
	// A tx that cannot fit in any block must not be admitted.
	if n.maxBlock > 0 && (n.maxTxBytes == 0 || n.maxTxBytes > n.maxBlock) {
		n.maxTxBytes = n.maxBlock
	}
	n.started = true
	n.log.Info("node started",
		"chain_id", genesis.ChainID,
		"height", n.status.Height,
		"genesis_hash", n.status.GenesisHash.String(),
		"capabilities", resp.Capabilities.String())
	return nil
}

// Status returns the committed chain tip.
func (n *Node) Status(context.Context) (types.ChainStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return types.ChainStatus{}, ErrNotStarted
	}
	return n.status, nil
}

// Pending returns the number of transactions in the mempool.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pool.len()
}

// Query reads one canonical key from committed state.
func (n *Node) Query(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := n.conn.Query(ctx, types.StateQuery{Path: ledger.QueryKeyPath, Data: []byte(key)})
	if err != nil {
		return nil, false, fmt.Errorf("query %q: %w", key, err)
	}
	switch res.Code {
	case types.QueryFound:
		return res.Value, true, nil
	case types.QueryAbsent:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("query %q: %s", key, res.Info)
	}
}

// Submit admits tx to the mempool and returns a channel reporting its
// progress: Pending, then Included and Applied, or Dropped. The channel
// closes after the terminal event or when ctx is done; cancelling ctx
// does not withdraw the transaction.
//
// A refused transaction returns a *registry.TxError and no channel.
func (n *Node) Submit(ctx context.Context, tx types.Tx) (<-chan types.InclusionEvent, error) {
	hash := tx.Hash()
	ctx, span := n.tracer.Start(ctx, "node.Submit", trace.WithAttributes(
		attribute.String("tx.hash", hash.String()),
		attribute.Int("tx.bytes", len(tx)),
	))
	defer span.End()

	ch, err := n.submit(ctx, tx, hash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if n.instant {
		if _, err := n.ProduceBlock(context.WithoutCancel(ctx)); err != nil {
			n.log.Error("instant block failed", "tx", hash.String(), "error", err)
		}
	}
	return ch, nil
}

func (n *Node) submit(ctx context.Context, tx types.Tx, hash types.Hash) (<-chan types.InclusionEvent, error) {
	n.mu.Lock()
	started, maxTx := n.started, n.maxTxBytes
	n.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	if h := n.halted(); h != nil {
		return nil, h
	}
	if maxTx > 0 && uint64(len(tx)) > maxTx {
		return nil, n.refuse(registry.NewTxError(registry.CodeDecodeFailed, "tx is %d bytes, limit %d", len(tx), maxTx))
	}

	v, err := n.conn.CheckTx(ctx, tx, types.MempoolFirstSeen)
	if err != nil {
		return nil, fmt.Errorf("check tx: %w", err)
	}
	if !v.Accepted() {
		return nil, n.refuse(registry.NewTxError(registry.Code(v.Code), "%s", v.Info))
	}

	n.mu.Lock()
	if txErr := n.pool.add(tx, hash, v); txErr != nil {
		n.mu.Unlock()
		return nil, n.refuse(txErr)
	}
	sub := newSubscriber()
	n.subs[hash] = append(n.subs[hash], sub)
	sub.send(types.InclusionEvent{Status: types.StatusPending, TxHash: hash})
	n.metrics.setMempool(n.pool.len())
	n.mu.Unlock()

	n.metrics.observeSubmission(nil)
	n.log.Debug("tx admitted", "tx", hash.String(), "sender", v.Sender, "nonce", v.Nonce)
	go n.watch(ctx, hash, sub)
	return sub.ch, nil
}

func (n *Node) refuse(err *registry.TxError) error {
	n.metrics.observeSubmission(err)
	return err
}

// halted returns the error that stopped production, or nil.
func (n *Node) halted() *registry.HaltError {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.halt
}

// watch detaches sub when the submitter's context ends first.
func (n *Node) watch(ctx context.Context, hash types.Hash, sub *subscriber) {
	select {
	case <-ctx.Done():
		n.mu.Lock()
		n.unsubscribeLocked(hash, sub)
		n.mu.Unlock()
	case <-sub.done:
	}
}

func (n *Node) unsubscribeLocked(hash types.Hash, sub *subscriber) {
	subs := n.subs[hash]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(n.subs, hash)
	} else {
		n.subs[hash] = subs
	}
	sub.close()
}

// publishLocked delivers ev to every subscriber of its transaction.
func (n *Node) publishLocked(ev types.InclusionEvent) {
	subs := n.subs[ev.TxHash]
	for _, s := range subs {
		s.send(ev)
	}
	if ev.Status.Terminal() {
		delete(n.subs, ev.TxHash)
	}
}

// ProduceBlock orders the mempool into the next block, executes and
// commits it, then notifies subscribers and revalidates what is left.
// After the ledger halts every call fails with its *registry.HaltError.
func (n *Node) ProduceBlock(ctx context.Context) (types.BlockID, error) {
	n.produceMu.Lock()
	defer n.produceMu.Unlock()

	ctx, span := n.tracer.Start(ctx, "node.ProduceBlock")
	defer span.End()

	id, err := n.produce(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.BlockID{}, err
	}
	span.SetAttributes(attribute.Int64("block.height", int64(id.Height)))
	return id, nil
}

func (n *Node) produce(ctx context.Context) (types.BlockID, error) {
	start := time.Now()

	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return types.BlockID{}, ErrNotStarted
	}
	tip := n.status
	pending := n.pool.txs()
	maxBlock := n.maxBlock
	n.mu.Unlock()

	if h := n.halted(); h != nil {
		return types.BlockID{}, h
	}

	height := tip.Height + 1
	now := types.TimeToTimestamp(n.clock())
	txs := pending
	if pc := n.conn.AsProposalControl(); pc != nil {
		built, err := pc.BuildProposal(ctx, types.ProposalContext{
			Height:     height,
			Time:       now,
			Author:     n.author,
			MempoolTxs: pending,
			MaxTxBytes: maxBlock,
		})
		if err != nil {
			return types.BlockID{}, fmt.Errorf("build proposal %d: %w", height, err)
		}
		txs = built.Txs
	}

	block := types.FinalizedBlock{
		Height:        height,
		Time:          now,
		Txs:           txs,
		LastBlockHash: tip.BlockHash,
		Author:        n.author,
	}
	outcome, err := n.conn.ExecuteBlock(ctx, block)
	if err != nil {
		if h, ok := registry.IsHalt(err); ok {
			n.mu.Lock()
			n.halt = h
			n.mu.Unlock()
			n.log.Error("block production stopped", "height", h.Height, "reason", h.Reason)
			return types.BlockID{}, h
		}
		return types.BlockID{}, fmt.Errorf("execute block %d: %w", height, err)
	}
	if len(outcome.TxOutcomes) != len(txs) {
		return types.BlockID{}, fmt.Errorf("execute block %d: %d outcomes for %d txs", height, len(outcome.TxOutcomes), len(txs))
	}
	if _, err := n.conn.Commit(ctx); err != nil {
		return types.BlockID{}, fmt.Errorf("commit block %d: %w", height, err)
	}
	n.metrics.observeBlock(start)
	id := types.BlockID{Height: height, Hash: blockHash(block, outcome.AppHash)}

	n.mu.Lock()
	n.status.Height = height
	n.status.AppHash = outcome.AppHash
	n.status.BlockHash = id.Hash

	included := make(map[types.Hash]bool, len(txs))
	for i, raw := range txs {
		hash := raw.Hash()
		out := outcome.TxOutcomes[i]
		included[hash] = true
		n.publishLocked(types.InclusionEvent{Status: types.StatusIncluded, TxHash: hash, Block: id, Index: uint32(i)})
		n.publishLocked(types.InclusionEvent{Status: types.StatusApplied, TxHash: hash, Block: id, Index: uint32(i), Outcome: &out})
		n.metrics.observeOutcome(registry.Code(out.Code))
	}
	n.pool.remove(included)
	dropped := n.pool.revalidate(func(tx types.Tx) (types.GateVerdict, bool) {
		v, err := n.conn.CheckTx(ctx, tx, types.MempoolRevalidation)
		if err != nil {
			n.log.Warn("revalidation failed", "tx", tx.Hash().String(), "error", err)
			return types.GateVerdict{}, false
		}
		return v, true
	})
	for _, d := range dropped {
		n.publishLocked(types.InclusionEvent{
			Status: types.StatusDropped,
			TxHash: d.hash,
			Code:   uint32(d.err.Code),
			Reason: d.err.Detail,
		})
		n.log.Info("tx dropped", "tx", d.hash.String(), "code", d.err.Code.String(), "reason", d.err.Detail)
	}
	n.metrics.setMempool(n.pool.len())
	n.mu.Unlock()

	n.metrics.observeDropped(len(dropped))
	n.log.Info("block committed",
		"height", height,
		"txs", len(txs),
		"dropped", len(dropped),
		"app_hash", outcome.AppHash.String())
	return id, nil
}

// Run produces a block every interval while the mempool is non-empty.
// It returns nil when ctx ends and the halt error if the ledger halts.
func (n *Node) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n.Pending() == 0 {
				continue
			}
			if _, err := n.ProduceBlock(ctx); err != nil {
				if h, ok := registry.IsHalt(err); ok {
					return h
				}
				if ctx.Err() != nil {
					return nil
				}
				n.log.Error("block production failed", "error", err)
			}
		}
	}
}

// blockHash commits to the block's position, its transactions and
// the resulting state.
func blockHash(b types.FinalizedBlock, appHash types.AppHash) types.Hash {
	parts := make([][]byte, 0, len(b.Txs)+3)
	parts = append(parts, binary.BigEndian.AppendUint64(nil, b.Height), b.LastBlockHash[:], appHash[:])
	for _, tx := range b.Txs {
		h := tx.Hash()
		parts = append(parts, h[:])
	}
	return types.Hash(crypto.Hash256(parts...))
}

type subscriber struct {
	ch     chan types.InclusionEvent
	done   chan struct{}
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch:   make(chan types.InclusionEvent, subscriberBuffer),
		done: make(chan struct{}),
	}
}

// send never blocks: the buffer covers every event one transaction
// can produce. Callers hold Node.mu.
func (s *subscriber) send(ev types.InclusionEvent) {
	if s.closed {
		return
	}
	s.ch <- ev
	if ev.Status.Terminal() {
		s.close()
	}
}

func (s *subscriber) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
		close(s.done)
	}
}
