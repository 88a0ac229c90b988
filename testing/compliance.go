package registrytest

import (
	"context"
	"sync"
	"testing"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/types"
)

// RunComplianceSuite checks lifecycle behavior and the ledger's
// transition invariants against a fresh application per subtest.
func RunComplianceSuite(t *testing.T, factory func() registry.Lifecycle) {
	t.Helper()

	alice, bob := Key(1), Key(2)
	endowed := func(t *testing.T) *Harness {
		h := NewHarness(t, factory())
		h.GenesisWith(Endow(1000, alice, bob)...)
		return h
	}
	code := func(t *testing.T, o types.TxOutcome, want registry.Code) {
		t.Helper()
		if registry.Code(o.Code) != want {
			t.Fatalf("tx %d: code %s (%q), want %s", o.Index, registry.Code(o.Code), o.Info, want)
		}
	}

	t.Run("genesis_handshake", func(t *testing.T) {
		h := NewHarness(t, factory())
		resp := h.GenesisDefault()
		if resp.LastBlock != nil {
			t.Error("genesis handshake should return nil LastBlock")
		}
		if resp.AppHash == nil {
			t.Error("genesis handshake should return a non-nil AppHash")
		}
		if resp.GenesisHash.IsZero() {
			t.Error("genesis handshake should report the genesis hash")
		}
	})

	t.Run("genesis_endows_accounts", func(t *testing.T) {
		h := endowed(t)
		if a := h.Account(types.AccountOf(alice)); a.Balance != 1000 || a.Nonce != 0 {
			t.Errorf("alice at genesis: %+v", a)
		}
	})

	t.Run("execute_commit_cycle", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.GenesisDefault()
		var prev types.AppHash
		for i := uint64(1); i <= 5; i++ {
			outcome := h.ExecuteAndCommit(MakeEmptyBlock(i))
			if outcome.AppHash == (types.AppHash{}) || outcome.AppHash == prev {
				t.Errorf("height %d: app hash did not advance", i)
			}
			prev = outcome.AppHash
		}
	})

	t.Run("deterministic_with_txs", func(t *testing.T) {
		h1, h2 := endowed(t), endowed(t)
		txs := []types.Tx{
			h1.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0),
			h1.Sign(bob, &types.Transfer{Recipient: types.AccountOf(alice), Amount: 5}, 0),
			{0xde, 0xad},
		}
		o1 := h1.NextBlock(txs...)
		o2 := h2.NextBlock(txs...)
		if o1.AppHash != o2.AppHash {
			t.Errorf("non-deterministic: %x != %x", o1.AppHash, o2.AppHash)
		}
		for i, o := range o1.TxOutcomes {
			if o.Index != uint32(i) {
				t.Errorf("tx %d: index %d", i, o.Index)
			}
		}
	})

	t.Run("nonce_monotonicity", func(t *testing.T) {
		h := endowed(t)
		me := types.AccountOf(alice)
		o := h.NextBlock(
			h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0),
			h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 1), // dispatch failure
			h.Sign(alice, &types.RegisterOrg{OrgID: "beta"}, 1), // replayed nonce
			h.Sign(alice, &types.RegisterOrg{OrgID: "beta"}, 3), // gap
		)
		code(t, o.TxOutcomes[0], registry.CodeOK)
		code(t, o.TxOutcomes[1], registry.CodeOrgExists)
		code(t, o.TxOutcomes[2], registry.CodeInvalidNonce)
		code(t, o.TxOutcomes[3], registry.CodeInvalidNonce)
		if n := h.Account(me).Nonce; n != 2 {
			t.Fatalf("nonce %d, want 2", n)
		}
	})

	t.Run("fee_invariance", func(t *testing.T) {
		h := endowed(t)
		me := types.AccountOf(alice)
		before := h.Account(me).Balance
		o := h.NextBlock(
			h.Sign(alice, &types.RegisterUser{UserID: "alice"}, 0),
			h.Sign(alice, &types.UnregisterOrg{OrgID: "nope"}, 1),
			h.Sign(bob, &types.RegisterUser{UserID: "bob"}, 0),
		)
		code(t, o.TxOutcomes[0], registry.CodeOK)
		code(t, o.TxOutcomes[1], registry.CodeOrgNotFound)
		if got := h.Account(me).Balance; got != before-2*types.MinimumFee {
			t.Fatalf("balance %d, want %d", got, before-2*types.MinimumFee)
		}
		if _, ok := types.FindEvent(o.TxOutcomes[1].Events, types.EventFeePaid); !ok {
			t.Error("dispatch failure should still report the fee")
		}

		// Rejections cost nothing.
		wrongChain := SignTx(t, alice, &types.RegisterOrg{OrgID: "acme"}, 2, types.Hash{0x42})
		forged := h.Sign(bob, &types.RegisterOrg{OrgID: "acme"}, 1)
		forged[len(forged)-1] ^= 0xff
		o = h.NextBlock(wrongChain, forged)
		code(t, o.TxOutcomes[0], registry.CodeWrongChain)
		if registry.Code(o.TxOutcomes[1].Code) == registry.CodeOK {
			t.Fatal("forged tx should fail")
		}
		if got := h.Account(me).Balance; got != before-2*types.MinimumFee {
			t.Fatalf("rejection charged a fee: %d", got)
		}

		// Authoring a block does not refund the author's own fee.
		block := MakeBlock(h.Height()+1, h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 2))
		block.Author = &me
		code(t, h.ExecuteAndCommit(block).TxOutcomes[0], registry.CodeOK)
		if got := h.Account(me).Balance; got != before-3*types.MinimumFee {
			t.Fatalf("self-authored balance %d, want %d", got, before-3*types.MinimumFee)
		}
	})

	t.Run("fee_credited_to_author", func(t *testing.T) {
		h := endowed(t)
		author := Account(9)
		block := MakeBlock(h.Height()+1, h.Sign(alice, &types.RegisterUser{UserID: "alice"}, 0))
		block.Author = &author
		h.ExecuteAndCommit(block)
		want := types.MinimumFee - types.FeeBurn
		if got := h.Account(author).Balance; got != want {
			t.Fatalf("author balance %d, want %d", got, want)
		}
	})

	t.Run("insufficient_funds", func(t *testing.T) {
		h := endowed(t)
		poor := Key(7)
		o := h.NextBlock(h.Sign(poor, &types.RegisterOrg{OrgID: "acme"}, 0))
		code(t, o.TxOutcomes[0], registry.CodeInsufficientFunds)
		if a := h.Account(types.AccountOf(poor)); a.Nonce != 0 {
			t.Fatalf("rejected tx consumed the nonce: %+v", a)
		}
	})

	t.Run("org_uniqueness", func(t *testing.T) {
		h := endowed(t)
		o := h.NextBlock(
			h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0),
			h.Sign(bob, &types.RegisterOrg{OrgID: "acme"}, 0),
		)
		code(t, o.TxOutcomes[0], registry.CodeOK)
		code(t, o.TxOutcomes[1], registry.CodeOrgExists)
	})

	t.Run("checkpoint_monotonicity", func(t *testing.T) {
		h := endowed(t)
		c0, _ := types.NewCheckpoint(nil, types.Hash{0})
		c1, _ := types.NewCheckpoint(&c0.ID, types.Hash{1})
		c2, _ := types.NewCheckpoint(&c1.ID, types.Hash{2})
		side, _ := types.NewCheckpoint(&c0.ID, types.Hash{9})

		o := h.NextBlock(
			h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0),
			h.Sign(alice, &types.CreateCheckpoint{ContentHash: c0.ContentHash}, 1),
			h.Sign(alice, &types.CreateCheckpoint{Parent: &c0.ID, ContentHash: c1.ContentHash}, 2),
			h.Sign(alice, &types.CreateCheckpoint{Parent: &c1.ID, ContentHash: c2.ContentHash}, 3),
			h.Sign(alice, &types.CreateCheckpoint{Parent: &c0.ID, ContentHash: side.ContentHash}, 4),
			h.Sign(alice, &types.RegisterProject{OrgID: "acme", ProjectName: "web", Checkpoint: &c0.ID}, 5),
		)
		for _, out := range o.TxOutcomes {
			code(t, out, registry.CodeOK)
		}
		if data := o.TxOutcomes[3].Data; len(data) != len(c2.ID) || types.CheckpointId(data) != c2.ID {
			t.Fatalf("CreateCheckpoint data %x, want %s", data, c2.ID)
		}

		set := func(id types.CheckpointId) *types.SetCheckpoint {
			return &types.SetCheckpoint{OrgID: "acme", ProjectName: "web", Checkpoint: id}
		}
		o = h.NextBlock(
			h.Sign(alice, set(c0.ID), 6),   // same checkpoint
			h.Sign(alice, set(c2.ID), 7),   // skips c1
			h.Sign(alice, set(c1.ID), 8),   // backwards
			h.Sign(alice, set(side.ID), 9), // sibling branch
			h.Sign(bob, set(c2.ID), 0),     // not a member
		)
		code(t, o.TxOutcomes[0], registry.CodeOK)
		code(t, o.TxOutcomes[1], registry.CodeOK)
		code(t, o.TxOutcomes[2], registry.CodeCheckpointAncestryViolation)
		code(t, o.TxOutcomes[3], registry.CodeCheckpointAncestryViolation)
		code(t, o.TxOutcomes[4], registry.CodeNotOrgMember)
	})

	t.Run("transfer_from_org_underflow_is_atomic", func(t *testing.T) {
		h := endowed(t)
		orgAcct := types.OrgAccount("acme")
		o := h.NextBlock(
			h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0),
			h.Sign(alice, &types.Transfer{Recipient: orgAcct, Amount: 50}, 1),
			h.Sign(alice, &types.TransferFromOrg{OrgID: "acme", Recipient: types.AccountOf(bob), Amount: 51}, 2),
			h.Sign(alice, &types.TransferFromOrg{OrgID: "acme", Recipient: types.AccountOf(bob), Amount: 0}, 3),
		)
		code(t, o.TxOutcomes[2], registry.CodeUnderflow)
		code(t, o.TxOutcomes[3], registry.CodeInvalidAmount)
		if b := h.Account(orgAcct).Balance; b != 50 {
			t.Errorf("org balance %d, want 50", b)
		}
		if b := h.Account(types.AccountOf(bob)).Balance; b != 1000 {
			t.Errorf("recipient balance %d, want 1000", b)
		}
	})

	t.Run("end_to_end_scenario", func(t *testing.T) {
		h := endowed(t)
		me := types.AccountOf(alice)
		steps := []struct {
			tx      types.Tx
			code    registry.Code
			balance types.Balance
		}{
			{h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0), registry.CodeOK, 990},
			{h.Sign(alice, &types.RegisterProject{OrgID: "acme", ProjectName: "widgets", Metadata: types.Metadata("v1")}, 1), registry.CodeOK, 980},
			{h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 2), registry.CodeOrgExists, 970},
		}
		for i, s := range steps {
			o := h.NextBlock(s.tx)
			code(t, o.TxOutcomes[0], s.code)
			if b := h.Account(me).Balance; b != s.balance {
				t.Fatalf("step %d: balance %d, want %d", i, b, s.balance)
			}
		}
		if n := h.Account(me).Nonce; n != 3 {
			t.Fatalf("nonce %d, want 3", n)
		}
		var p types.Project
		raw, ok := h.Get(types.ProjectKey("acme", "widgets"))
		if !ok {
			t.Fatal("project acme/widgets missing")
		}
		if err := cramberry.Unmarshal(raw, &p); err != nil {
			t.Fatal(err)
		}
		if p.Checkpoint != nil {
			t.Fatalf("new project has checkpoint %s", p.Checkpoint)
		}
	})

	t.Run("receipt_per_included_tx", func(t *testing.T) {
		h := endowed(t)
		tx := h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0)
		h.NextBlock(tx)
		if _, ok := h.Get(types.ReceiptKey(tx.Hash())); !ok {
			t.Fatal("no receipt for included tx")
		}
	})

	t.Run("checktx_gates", func(t *testing.T) {
		h := endowed(t)
		h.MustAcceptTx(h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0))
		h.MustAcceptTx(h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 4)) // queued ahead
		h.MustRejectTx(SignTx(t, alice, &types.RegisterOrg{OrgID: "acme"}, 0, types.Hash{1}), registry.CodeWrongChain)
		h.MustRejectTx(h.Sign(Key(7), &types.RegisterOrg{OrgID: "acme"}, 0), registry.CodeInsufficientFunds)
		h.MustRejectTx(types.Tx{0x01}, registry.CodeDecodeFailed)

		h.NextBlock(h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0))
		h.MustRejectTx(h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0), registry.CodeInvalidNonce)
	})

	t.Run("concurrent_reads_after_handshake", func(t *testing.T) {
		h := endowed(t)
		tx := h.Sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := h.Server().CheckTx(context.Background(), tx, types.MempoolFirstSeen); err != nil {
					t.Errorf("concurrent CheckTx failed: %v", err)
				}
				if _, err := h.Server().Query(context.Background(), types.StateQuery{Path: "/key", Data: []byte(types.ListOrgs)}); err != nil {
					t.Errorf("concurrent Query failed: %v", err)
				}
			}()
		}
		wg.Wait()
	})
}
