package node

import (
	"testing"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/types"
)

func pooled(p *mempool, hash types.Hash) bool {
	_, ok := p.byHash[hash]
	return ok
}

func verdict(sender string, nonce, account uint32) types.GateVerdict {
	return types.GateVerdict{Sender: sender, Nonce: nonce, AccountNonce: account}
}

func addTx(t *testing.T, p *mempool, raw string, v types.GateVerdict) *registry.TxError {
	t.Helper()
	tx := types.Tx(raw)
	return p.add(tx, tx.Hash(), v)
}

func TestMempoolAdmission(t *testing.T) {
	p := newMempool()
	if err := addTx(t, p, "a0", verdict("a", 3, 3)); err != nil {
		t.Fatal(err)
	}
	if err := addTx(t, p, "a1", verdict("a", 4, 3)); err != nil {
		t.Fatal(err)
	}
	if err := addTx(t, p, "b0", verdict("b", 0, 0)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		raw  string
		v    types.GateVerdict
		want registry.Code
	}{
		{"duplicate hash", "a0", verdict("a", 5, 3), registry.CodeTxAlreadyKnown},
		{"gap after queue", "a3", verdict("a", 6, 3), registry.CodeInvalidNonce},
		{"replays queued nonce", "a1'", verdict("a", 4, 3), registry.CodeInvalidNonce},
		{"ahead of account", "c1", verdict("c", 1, 0), registry.CodeInvalidNonce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := addTx(t, p, tt.raw, tt.v)
			if err == nil || err.Code != tt.want {
				t.Fatalf("add = %v, want %s", err, tt.want)
			}
		})
	}

	got := p.txs()
	want := []string{"a0", "a1", "b0"}
	if len(got) != len(want) {
		t.Fatalf("txs = %q", got)
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("txs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMempoolRemove(t *testing.T) {
	p := newMempool()
	addTx(t, p, "a0", verdict("a", 0, 0))
	addTx(t, p, "a1", verdict("a", 1, 0))
	addTx(t, p, "b0", verdict("b", 0, 0))

	p.remove(map[types.Hash]bool{types.Tx("a0").Hash(): true, types.Tx("b0").Hash(): true})
	if p.len() != 1 || !pooled(p, types.Tx("a1").Hash()) {
		t.Fatalf("after remove: %q", p.txs())
	}
	if err := addTx(t, p, "a2", verdict("a", 2, 1)); err != nil {
		t.Fatalf("queue continues after remove: %v", err)
	}
	// b has nothing queued, so the account nonce applies again.
	if err := addTx(t, p, "b1", verdict("b", 1, 1)); err != nil {
		t.Fatalf("b restarts from account nonce: %v", err)
	}
}

func TestMempoolRevalidate(t *testing.T) {
	p := newMempool()
	addTx(t, p, "a0", verdict("a", 0, 0))
	addTx(t, p, "a1", verdict("a", 1, 0))
	addTx(t, p, "b0", verdict("b", 0, 0))
	addTx(t, p, "c0", verdict("c", 0, 0))

	dropped := p.revalidate(func(tx types.Tx) (types.GateVerdict, bool) {
		switch string(tx) {
		case "a0":
			return types.GateVerdict{Code: uint32(registry.CodeInsufficientFunds), Info: "broke"}, true
		case "a1":
			return verdict("a", 1, 0), true
		case "c0":
			return types.GateVerdict{}, false
		}
		return verdict("b", 0, 0), true
	})

	if len(dropped) != 2 {
		t.Fatalf("dropped %d, want 2", len(dropped))
	}
	if dropped[0].hash != types.Tx("a0").Hash() || dropped[0].err.Code != registry.CodeInsufficientFunds {
		t.Errorf("dropped[0] = %+v", dropped[0])
	}
	// a1 no longer continues a run once a0 is gone.
	if dropped[1].hash != types.Tx("a1").Hash() || dropped[1].err.Code != registry.CodeInvalidNonce {
		t.Errorf("dropped[1] = %+v", dropped[1])
	}
	if p.len() != 2 || !pooled(p, types.Tx("b0").Hash()) || !pooled(p, types.Tx("c0").Hash()) {
		t.Fatalf("kept %q", p.txs())
	}
}
