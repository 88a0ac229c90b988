package node_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/crypto"
	"github.com/blockberries/registry/ledger"
	"github.com/blockberries/registry/local"
	"github.com/blockberries/registry/node"
	"github.com/blockberries/registry/store"
	registrytest "github.com/blockberries/registry/testing"
	"github.com/blockberries/registry/types"
)

var (
	alice = registrytest.Key(1)
	bob   = registrytest.Key(2)
)

type testNode struct {
	*node.Node
	t       *testing.T
	genesis types.Hash
}

func startNode(t *testing.T, st store.Store, accounts []types.GenesisAccount, opts ...node.Option) *testNode {
	t.Helper()
	n := node.New(local.NewConnection(ledger.New(st)), opts...)
	if err := n.Start(context.Background(), registrytest.GenesisWith(t, accounts...)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status, err := n.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return &testNode{Node: n, t: t, genesis: status.GenesisHash}
}

func newNode(t *testing.T, opts ...node.Option) *testNode {
	t.Helper()
	return startNode(t, store.NewMemory(), registrytest.Endow(1000, alice, bob), opts...)
}

func (n *testNode) sign(key crypto.PrivateKey, p types.Payload, nonce uint32) types.Tx {
	n.t.Helper()
	return registrytest.SignTx(n.t, key, p, nonce, n.genesis)
}

func (n *testNode) submit(tx types.Tx) <-chan types.InclusionEvent {
	n.t.Helper()
	ch, err := n.Submit(context.Background(), tx)
	if err != nil {
		n.t.Fatalf("Submit: %v", err)
	}
	return ch
}

func (n *testNode) produce() types.BlockID {
	n.t.Helper()
	id, err := n.ProduceBlock(context.Background())
	if err != nil {
		n.t.Fatalf("ProduceBlock: %v", err)
	}
	return id
}

func (n *testNode) account(key crypto.PrivateKey) types.Account {
	n.t.Helper()
	raw, ok, err := n.Query(context.Background(), types.AccountKey(types.AccountOf(key)))
	if err != nil {
		n.t.Fatal(err)
	}
	var a types.Account
	if ok {
		if err := cramberry.Unmarshal(raw, &a); err != nil {
			n.t.Fatal(err)
		}
	}
	return a
}

func next(t *testing.T, ch <-chan types.InclusionEvent) types.InclusionEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return types.InclusionEvent{}
}

func expectClosed(t *testing.T, ch <-chan types.InclusionEvent) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %s", ev.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestSubmitLifecycle(t *testing.T) {
	n := newNode(t)
	tx := n.sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0)
	ch := n.submit(tx)

	if ev := next(t, ch); ev.Status != types.StatusPending || ev.TxHash != tx.Hash() {
		t.Fatalf("first event = %+v", ev)
	}
	if n.Pending() != 1 {
		t.Fatalf("Pending = %d", n.Pending())
	}

	id := n.produce()
	if id.Height != 1 || id.Hash.IsZero() {
		t.Fatalf("block id = %+v", id)
	}
	ev := next(t, ch)
	if ev.Status != types.StatusIncluded || ev.Block != id || ev.Index != 0 {
		t.Fatalf("included event = %+v", ev)
	}
	ev = next(t, ch)
	if ev.Status != types.StatusApplied || ev.Outcome == nil || !ev.Outcome.OK() {
		t.Fatalf("applied event = %+v", ev)
	}
	expectClosed(t, ch)

	status, err := n.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Height != 1 || status.BlockHash != id.Hash {
		t.Fatalf("status = %+v", status)
	}
	if n.Pending() != 0 {
		t.Fatalf("mempool not drained: %d", n.Pending())
	}
}

func TestSubmitRefusals(t *testing.T) {
	n := newNode(t)
	tx := n.sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0)
	n.submit(tx)

	tests := []struct {
		name string
		tx   types.Tx
		want registry.Code
	}{
		{"duplicate", tx, registry.CodeTxAlreadyKnown},
		{"nonce gap", n.sign(alice, &types.RegisterOrg{OrgID: "beta"}, 2), registry.CodeInvalidNonce},
		{"wrong chain", registrytest.SignTx(t, bob, &types.RegisterOrg{OrgID: "b"}, 0, types.Hash{1}), registry.CodeWrongChain},
		{"malformed", types.Tx{0x01, 0x02}, registry.CodeDecodeFailed},
		{"unfunded", n.sign(registrytest.Key(9), &types.RegisterOrg{OrgID: "c"}, 0), registry.CodeInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := n.Submit(context.Background(), tt.tx)
			if ch != nil {
				t.Fatal("refused submission returned a channel")
			}
			te, ok := registry.AsTxError(err)
			if !ok || te.Code != tt.want {
				t.Fatalf("err = %v, want %s", err, tt.want)
			}
			if !registry.IsRejection(err) {
				t.Fatal("refusal should be a rejection")
			}
		})
	}
}

func TestSubmitRefusesTxLargerThanBlock(t *testing.T) {
	call := &types.RegisterProject{
		OrgID:       "acme",
		ProjectName: "widgets",
		Metadata:    types.Metadata(make([]byte, types.MaxMetadataLength)),
	}
	doc := registrytest.GenesisWith(t, registrytest.Endow(1000, alice)...)
	// The metadata alone fills the block.
	doc.ConsensusParams = types.ConsensusParams{MaxBlockBytes: types.MaxMetadataLength, MaxTxBytes: 64 * 1024}
	n := node.New(local.NewConnection(ledger.New(store.NewMemory())))
	if err := n.Start(context.Background(), doc); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status, err := n.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	_, err = n.Submit(context.Background(), registrytest.SignTx(t, alice, call, 0, status.GenesisHash))
	if te, ok := registry.AsTxError(err); !ok || te.Code != registry.CodeDecodeFailed {
		t.Fatalf("err = %v, want DecodeFailed", err)
	}
}

func TestSenderQueue(t *testing.T) {
	n := newNode(t)
	var chans []<-chan types.InclusionEvent
	for i := uint32(0); i < 3; i++ {
		chans = append(chans, n.submit(n.sign(alice, &types.RegisterUser{UserID: types.UserId("u" + string(rune('a'+i)))}, i)))
	}
	n.produce()
	for i, ch := range chans {
		next(t, ch) // pending
		if ev := next(t, ch); ev.Index != uint32(i) {
			t.Errorf("tx %d at index %d", i, ev.Index)
		}
		ev := next(t, ch)
		if i == 0 && !ev.Outcome.OK() {
			t.Errorf("tx 0: %s", ev.Outcome.Info)
		}
		if i > 0 && registry.Code(ev.Outcome.Code) != registry.CodeAccountHasUser {
			t.Errorf("tx %d: code %s", i, registry.Code(ev.Outcome.Code))
		}
	}
	if a := n.account(alice); a.Nonce != 3 || a.Balance != 970 {
		t.Fatalf("alice = %+v", a)
	}
}

func TestDroppedOnRevalidation(t *testing.T) {
	poor := registrytest.Key(5)
	n := startNode(t, store.NewMemory(), registrytest.Endow(15, poor))
	first := n.submit(n.sign(poor, &types.RegisterOrg{OrgID: "acme"}, 0))
	second := n.submit(n.sign(poor, &types.RegisterOrg{OrgID: "beta"}, 1))

	n.produce()
	next(t, first)
	next(t, first)
	if ev := next(t, first); ev.Status != types.StatusApplied {
		t.Fatalf("first = %+v", ev)
	}

	next(t, second)
	ev := next(t, second)
	if ev.Status != types.StatusDropped || registry.Code(ev.Code) != registry.CodeInsufficientFunds {
		t.Fatalf("second = %+v", ev)
	}
	expectClosed(t, second)
	if n.Pending() != 0 {
		t.Fatalf("Pending = %d", n.Pending())
	}
}

func TestInstantBlocks(t *testing.T) {
	n := newNode(t, node.WithInstantBlocks())
	ch := n.submit(n.sign(alice, &types.CreateCheckpoint{ContentHash: types.Hash{1}}, 0))
	want := []types.InclusionStatus{types.StatusPending, types.StatusIncluded, types.StatusApplied}
	for _, s := range want {
		if ev := next(t, ch); ev.Status != s {
			t.Fatalf("event %s, want %s", ev.Status, s)
		}
	}
	status, _ := n.Status(context.Background())
	if status.Height != 1 {
		t.Fatalf("height = %d", status.Height)
	}
}

func TestAuthorCredited(t *testing.T) {
	author := registrytest.Key(7)
	n := newNode(t, node.WithAuthor(types.AccountOf(author)), node.WithInstantBlocks())
	n.submit(n.sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0))
	if got := n.account(author).Balance; got != types.MinimumFee-types.FeeBurn {
		t.Fatalf("author balance %d", got)
	}
}

func TestCancelDoesNotWithdraw(t *testing.T) {
	n := newNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := n.Submit(ctx, n.sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0))
	if err != nil {
		t.Fatal(err)
	}
	next(t, ch)
	cancel()
	expectClosed(t, ch)

	n.produce()
	if a := n.account(alice); a.Nonce != 1 {
		t.Fatalf("cancelled tx was not executed: %+v", a)
	}
}

func TestResumeAfterRestart(t *testing.T) {
	mem := store.NewMemory()
	accounts := registrytest.Endow(1000, alice)
	n := startNode(t, mem, accounts)
	n.submit(n.sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0))
	n.produce()

	again := startNode(t, mem, accounts)
	status, _ := again.Status(context.Background())
	if status.Height != 1 {
		t.Fatalf("resumed at height %d, want 1", status.Height)
	}
	again.submit(again.sign(alice, &types.RegisterOrg{OrgID: "beta"}, 1))
	if id := again.produce(); id.Height != 2 {
		t.Fatalf("next block at %d", id.Height)
	}
}

func TestRun(t *testing.T) {
	n := newNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, 5*time.Millisecond) }()

	ch := n.submit(n.sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0))
	next(t, ch)
	next(t, ch)
	if ev := next(t, ch); ev.Status != types.StatusApplied {
		t.Fatalf("event = %+v", ev)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestHaltStopsProduction(t *testing.T) {
	app := &registrytest.MockApp{
		ExecuteBlockFn: func(_ context.Context, b types.FinalizedBlock) (types.BlockOutcome, error) {
			return types.BlockOutcome{}, registry.NewHaltError(b.Height, "disk on fire")
		},
	}
	n := node.New(local.NewConnection(app))
	if err := n.Start(context.Background(), registrytest.DefaultGenesis()); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Submit(context.Background(), types.Tx("a")); err != nil {
		t.Fatal(err)
	}

	_, err := n.ProduceBlock(context.Background())
	if _, ok := registry.IsHalt(err); !ok {
		t.Fatalf("ProduceBlock = %v, want halt", err)
	}
	if _, err := n.Submit(context.Background(), types.Tx("b")); err == nil {
		t.Fatal("Submit after halt should fail")
	}
	if _, ok := registry.IsHalt(n.Run(context.Background(), time.Millisecond)); !ok {
		t.Fatal("Run should return the halt")
	}
}

func TestNotStarted(t *testing.T) {
	n := node.New(local.NewConnection(ledger.New(store.NewMemory())))
	if _, err := n.Submit(context.Background(), types.Tx("a")); !errors.Is(err, node.ErrNotStarted) {
		t.Fatalf("Submit = %v", err)
	}
	if _, err := n.ProduceBlock(context.Background()); !errors.Is(err, node.ErrNotStarted) {
		t.Fatalf("ProduceBlock = %v", err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := node.NewMetrics(reg)
	n := newNode(t, node.WithMetrics(m))

	n.submit(n.sign(alice, &types.RegisterOrg{OrgID: "acme"}, 0))
	n.submit(n.sign(bob, &types.RegisterOrg{OrgID: "acme"}, 0))
	if _, err := n.Submit(context.Background(), types.Tx{0x01}); err == nil {
		t.Fatal("expected refusal")
	}
	if got := testutil.ToFloat64(m.MempoolSize); got != 2 {
		t.Errorf("mempool gauge = %v", got)
	}
	n.produce()

	if got := testutil.ToFloat64(m.BlocksProduced); got != 1 {
		t.Errorf("blocks = %v", got)
	}
	if got := testutil.ToFloat64(m.TxsExecuted.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok txs = %v", got)
	}
	if got := testutil.ToFloat64(m.TxsExecuted.WithLabelValues("dispatch")); got != 1 {
		t.Errorf("dispatch txs = %v", got)
	}
	if got := testutil.ToFloat64(m.Submissions.WithLabelValues("rejected", "DecodeFailed")); got != 1 {
		t.Errorf("rejected submissions = %v", got)
	}
	if got := testutil.ToFloat64(m.MempoolSize); got != 0 {
		t.Errorf("mempool gauge after block = %v", got)
	}
}
