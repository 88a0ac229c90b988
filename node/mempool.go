package node

import (
	"github.com/blockberries/registry"
	"github.com/blockberries/registry/types"
)

type poolEntry struct {
	tx     types.Tx
	hash   types.Hash
	sender string
	nonce  uint32
}

type droppedTx struct {
	hash types.Hash
	err  *registry.TxError
}

// mempool is a FIFO queue holding at most one transaction per hash and
// a contiguous nonce run per sender. Callers hold Node.mu.
type mempool struct {
	entries []*poolEntry
	byHash  map[types.Hash]*poolEntry
	next    map[string]uint32
}

func newMempool() *mempool {
	return &mempool{
		byHash: make(map[types.Hash]*poolEntry),
		next:   make(map[string]uint32),
	}
}

// add admits a transaction that already passed CheckTx. The first
// pending transaction of a sender must carry the account nonce; each
// later one must follow its predecessor.
func (p *mempool) add(tx types.Tx, hash types.Hash, v types.GateVerdict) *registry.TxError {
	if _, known := p.byHash[hash]; known {
		return registry.NewTxError(registry.CodeTxAlreadyKnown, "tx %s is already pending", hash)
	}
	want, queued := p.next[v.Sender]
	if !queued {
		want = v.AccountNonce
	}
	if v.Nonce != want {
		return registry.NewTxError(registry.CodeInvalidNonce, "nonce %d, next expected %d", v.Nonce, want)
	}
	e := &poolEntry{tx: tx, hash: hash, sender: v.Sender, nonce: v.Nonce}
	p.entries = append(p.entries, e)
	p.byHash[hash] = e
	p.next[v.Sender] = v.Nonce + 1
	return nil
}

func (p *mempool) len() int { return len(p.entries) }

// txs returns the pending transactions in arrival order.
func (p *mempool) txs() []types.Tx {
	out := make([]types.Tx, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.tx
	}
	return out
}

// remove deletes the given hashes and recomputes each sender's next nonce.
func (p *mempool) remove(hashes map[types.Hash]bool) {
	kept := p.entries[:0]
	for _, e := range p.entries {
		if hashes[e.hash] {
			delete(p.byHash, e.hash)
			continue
		}
		kept = append(kept, e)
	}
	clear(p.entries[len(kept):])
	p.entries = kept
	clear(p.next)
	for _, e := range p.entries {
		p.next[e.sender] = e.nonce + 1
	}
}

// revalidate re-checks every entry in order against committed state.
// check returns false when the ledger could not answer; such entries
// are kept. Entries that fail, or that no longer continue their
// sender's nonce run, are removed and returned.
func (p *mempool) revalidate(check func(types.Tx) (types.GateVerdict, bool)) []droppedTx {
	var dropped []droppedTx
	drop := func(e *poolEntry, err *registry.TxError) {
		delete(p.byHash, e.hash)
		dropped = append(dropped, droppedTx{hash: e.hash, err: err})
	}

	entries := p.entries
	p.entries = nil
	clear(p.next)
	for _, e := range entries {
		v, ok := check(e.tx)
		if !ok {
			p.entries = append(p.entries, e)
			p.next[e.sender] = e.nonce + 1
			continue
		}
		if !v.Accepted() {
			drop(e, registry.NewTxError(registry.Code(v.Code), "%s", v.Info))
			continue
		}
		want, queued := p.next[e.sender]
		if !queued {
			want = v.AccountNonce
		}
		if e.nonce != want {
			drop(e, registry.NewTxError(registry.CodeInvalidNonce, "nonce %d, next expected %d", e.nonce, want))
			continue
		}
		p.entries = append(p.entries, e)
		p.next[e.sender] = e.nonce + 1
	}
	return dropped
}
