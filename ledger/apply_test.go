package ledger

import (
	"math"
	"testing"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/crypto"
	"github.com/blockberries/registry/store"
	registrytest "github.com/blockberries/registry/testing"
	"github.com/blockberries/registry/types"
)

var testGenesis = types.Hash{0x9e}

// fixture applies signed calls against an in-memory state, tracking
// each sender's next nonce.
type fixture struct {
	t      *testing.T
	st     State
	m      *Machine
	env    Env
	nonces map[types.AccountId]uint32
}

func newFixture(t *testing.T, balances map[types.AccountId]types.Balance) *fixture {
	t.Helper()
	st := NewState(store.NewOverlay(store.NewMemory()))
	for id, b := range balances {
		if err := st.SetAccount(id, types.Account{Balance: b}); err != nil {
			t.Fatal(err)
		}
	}
	return &fixture{
		t:      t,
		st:     st,
		m:      NewMachine(DefaultMaxAncestryDepth),
		env:    Env{Height: 1, GenesisHash: testGenesis},
		nonces: make(map[types.AccountId]uint32),
	}
}

func (f *fixture) run(key crypto.PrivateKey, p types.Payload) Result {
	f.t.Helper()
	sender := types.AccountOf(key)
	tx, err := types.SignTransaction(key, types.NewMessage(p), f.nonces[sender], testGenesis)
	if err != nil {
		f.t.Fatal(err)
	}
	res, err := f.m.Apply(f.st, tx, f.env)
	if err != nil {
		f.t.Fatalf("Apply: %v", err)
	}
	if res.Charged() {
		f.nonces[sender]++
	}
	return res
}

func (f *fixture) must(key crypto.PrivateKey, p types.Payload) Result {
	f.t.Helper()
	res := f.run(key, p)
	if res.Err != nil {
		f.t.Fatalf("%s: %v", p.Kind(), res.Err)
	}
	return res
}

func (f *fixture) balance(id types.AccountId) types.Balance {
	f.t.Helper()
	a, err := f.st.Account(id)
	if err != nil {
		f.t.Fatal(err)
	}
	return a.Balance
}

func code(r Result) registry.Code {
	if r.Err == nil {
		return registry.CodeOK
	}
	return r.Err.Code
}

var (
	owner    = registrytest.Key(1)
	outsider = registrytest.Key(2)
	rich     = registrytest.Key(3)
)

func funded() map[types.AccountId]types.Balance {
	return map[types.AccountId]types.Balance{
		types.AccountOf(owner):    1000,
		types.AccountOf(outsider): 1000,
	}
}

func TestDispatchCodes(t *testing.T) {
	c0, _ := types.NewCheckpoint(nil, types.Hash{0})
	c1, _ := types.NewCheckpoint(&c0.ID, types.Hash{1})
	ghost := types.CheckpointId{0xff}
	full := types.AccountOf(rich)

	// base registers org "acme" with project "web" at c0 and a funded org
	// account, all owned by owner.
	base := func(f *fixture) {
		f.must(owner, &types.RegisterOrg{OrgID: "acme"})
		f.must(owner, &types.CreateCheckpoint{ContentHash: c0.ContentHash})
		f.must(owner, &types.CreateCheckpoint{Parent: &c0.ID, ContentHash: c1.ContentHash})
		f.must(owner, &types.RegisterProject{OrgID: "acme", ProjectName: "web", Checkpoint: &c0.ID})
		f.must(owner, &types.Transfer{Recipient: types.OrgAccount("acme"), Amount: 100})
		f.must(owner, &types.RegisterUser{UserID: "own"})
	}

	tests := []struct {
		name string
		key  crypto.PrivateKey
		call types.Payload
		want registry.Code
	}{
		{"register org", owner, &types.RegisterOrg{OrgID: "beta"}, registry.CodeOK},
		{"register org twice", outsider, &types.RegisterOrg{OrgID: "acme"}, registry.CodeOrgExists},

		{"unregister missing org", owner, &types.UnregisterOrg{OrgID: "nope"}, registry.CodeOrgNotFound},
		{"unregister by outsider", outsider, &types.UnregisterOrg{OrgID: "acme"}, registry.CodeNotOrgMember},
		{"unregister org with projects", owner, &types.UnregisterOrg{OrgID: "acme"}, registry.CodeUnregisterableOrg},

		{"add member", owner, &types.RegisterMember{OrgID: "acme", Account: types.AccountOf(outsider)}, registry.CodeOK},
		{"add member twice", owner, &types.RegisterMember{OrgID: "acme", Account: types.AccountOf(owner)}, registry.CodeAlreadyOrgMember},
		{"add member by outsider", outsider, &types.RegisterMember{OrgID: "acme", Account: types.AccountOf(outsider)}, registry.CodeNotOrgMember},
		{"add member to missing org", owner, &types.RegisterMember{OrgID: "nope", Account: types.AccountOf(outsider)}, registry.CodeOrgNotFound},

		{"register project", owner, &types.RegisterProject{OrgID: "acme", ProjectName: "api"}, registry.CodeOK},
		{"register project twice", owner, &types.RegisterProject{OrgID: "acme", ProjectName: "web"}, registry.CodeProjectExists},
		{"register project at unknown checkpoint", owner, &types.RegisterProject{OrgID: "acme", ProjectName: "api", Checkpoint: &ghost}, registry.CodeCheckpointNotFound},
		{"register project by outsider", outsider, &types.RegisterProject{OrgID: "acme", ProjectName: "api"}, registry.CodeNotOrgMember},
		{"register project in missing org", owner, &types.RegisterProject{OrgID: "nope", ProjectName: "api"}, registry.CodeOrgNotFound},

		{"transfer from org", owner, &types.TransferFromOrg{OrgID: "acme", Recipient: types.AccountOf(outsider), Amount: 100}, registry.CodeOK},
		{"transfer from org zero", owner, &types.TransferFromOrg{OrgID: "acme", Recipient: types.AccountOf(outsider)}, registry.CodeInvalidAmount},
		{"transfer from org underflow", owner, &types.TransferFromOrg{OrgID: "acme", Recipient: types.AccountOf(outsider), Amount: 101}, registry.CodeUnderflow},
		{"transfer from org overflow", owner, &types.TransferFromOrg{OrgID: "acme", Recipient: full, Amount: 1}, registry.CodeOverflow},
		{"transfer from org by outsider", outsider, &types.TransferFromOrg{OrgID: "acme", Recipient: types.AccountOf(outsider), Amount: 1}, registry.CodeNotOrgMember},

		{"create root checkpoint", outsider, &types.CreateCheckpoint{ContentHash: types.Hash{7}}, registry.CodeOK},
		{"create existing checkpoint", outsider, &types.CreateCheckpoint{ContentHash: c0.ContentHash}, registry.CodeCheckpointExists},
		{"create checkpoint with unknown parent", owner, &types.CreateCheckpoint{Parent: &ghost, ContentHash: types.Hash{7}}, registry.CodeCheckpointNotFound},

		{"set checkpoint forward", owner, &types.SetCheckpoint{OrgID: "acme", ProjectName: "web", Checkpoint: c1.ID}, registry.CodeOK},
		{"set unknown checkpoint", owner, &types.SetCheckpoint{OrgID: "acme", ProjectName: "web", Checkpoint: ghost}, registry.CodeCheckpointNotFound},
		{"set checkpoint in missing org", owner, &types.SetCheckpoint{OrgID: "nope", ProjectName: "web", Checkpoint: c1.ID}, registry.CodeOrgNotFound},
		{"set checkpoint of missing project", owner, &types.SetCheckpoint{OrgID: "acme", ProjectName: "api", Checkpoint: c1.ID}, registry.CodeProjectNotFound},
		{"set checkpoint by outsider", outsider, &types.SetCheckpoint{OrgID: "acme", ProjectName: "web", Checkpoint: c1.ID}, registry.CodeNotOrgMember},

		{"transfer", owner, &types.Transfer{Recipient: types.AccountOf(outsider), Amount: 5}, registry.CodeOK},
		{"transfer to self", owner, &types.Transfer{Recipient: types.AccountOf(owner), Amount: 5}, registry.CodeOK},
		{"transfer zero", owner, &types.Transfer{Recipient: types.AccountOf(outsider)}, registry.CodeInvalidAmount},
		{"transfer underflow", owner, &types.Transfer{Recipient: types.AccountOf(outsider), Amount: 1000}, registry.CodeUnderflow},
		{"transfer overflow", owner, &types.Transfer{Recipient: full, Amount: 1}, registry.CodeOverflow},

		{"register user", outsider, &types.RegisterUser{UserID: "out"}, registry.CodeOK},
		{"register taken user", outsider, &types.RegisterUser{UserID: "own"}, registry.CodeUserNameTaken},
		{"register second user", owner, &types.RegisterUser{UserID: "other"}, registry.CodeAccountHasUser},
		{"unregister user", owner, &types.UnregisterUser{UserID: "own"}, registry.CodeOK},
		{"unregister missing user", owner, &types.UnregisterUser{UserID: "ghost"}, registry.CodeUserNotFound},
		{"unregister foreign user", outsider, &types.UnregisterUser{UserID: "own"}, registry.CodeNotUserOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := funded()
			balances[full] = math.MaxUint64
			f := newFixture(t, balances)
			base(f)

			sender := types.AccountOf(tt.key)
			before := f.balance(sender)
			res := f.run(tt.key, tt.call)
			if got := code(res); got != tt.want {
				t.Fatalf("code = %s (%v), want %s", got, res.Err, tt.want)
			}
			if !res.Charged() {
				t.Fatal("dispatch outcome should be charged")
			}
			if _, ok := types.FindEvent(res.Events, types.EventFeePaid); !ok {
				t.Error("missing fee_paid event")
			}
			if tt.want != registry.CodeOK {
				if len(res.Events) != 1 {
					t.Errorf("failed dispatch emitted %d events, want only the fee", len(res.Events))
				}
				if got := f.balance(sender); got != before-types.MinimumFee {
					t.Errorf("balance %d, want %d", got, before-types.MinimumFee)
				}
			}
		})
	}
}

func TestGateRejections(t *testing.T) {
	f := newFixture(t, funded())
	me := types.AccountOf(owner)

	sign := func(key crypto.PrivateKey, nonce uint32, genesis types.Hash) types.Transaction {
		tx, err := types.SignTransaction(key, types.NewMessage(&types.RegisterOrg{OrgID: "acme"}), nonce, genesis)
		if err != nil {
			t.Fatal(err)
		}
		return tx
	}

	forged := sign(owner, 0, testGenesis)
	forged.Nonce = 1

	// Signed directly, skipping the checks DecodeTransaction applies.
	empty, err := types.SignTransaction(owner, types.Message{}, 0, testGenesis)
	if err != nil {
		t.Fatal(err)
	}
	badID, err := types.SignTransaction(owner, types.NewMessage(&types.RegisterOrg{OrgID: ""}), 0, testGenesis)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		tx   types.Transaction
		want registry.Code
	}{
		{"bad signature", forged, registry.CodeInvalidSignature},
		{"wrong chain", sign(owner, 0, types.Hash{1}), registry.CodeWrongChain},
		{"future nonce", sign(owner, 1, testGenesis), registry.CodeInvalidNonce},
		{"unfunded", sign(registrytest.Key(8), 0, testGenesis), registry.CodeInsufficientFunds},
		{"no call", empty, registry.CodeDecodeFailed},
		{"invalid call", badID, registry.CodeDecodeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.m.Apply(f.st, tt.tx, f.env)
			if err != nil {
				t.Fatal(err)
			}
			if got := code(res); got != tt.want {
				t.Fatalf("code = %s, want %s", got, tt.want)
			}
			if res.Charged() || len(res.Events) != 0 {
				t.Fatal("rejection should not be charged")
			}
		})
	}
	if a, _ := f.st.Account(me); a.Nonce != 0 || a.Balance != 1000 {
		t.Fatalf("rejections mutated the sender: %+v", a)
	}
	if f.st.ov.Len() != 2 {
		t.Fatalf("rejections wrote state: %d writes", f.st.ov.Len())
	}
}

func TestExhaustedNonce(t *testing.T) {
	f := newFixture(t, nil)
	me := types.AccountOf(owner)
	if err := f.st.SetAccount(me, types.Account{Balance: 1000, Nonce: math.MaxUint32}); err != nil {
		t.Fatal(err)
	}
	f.nonces[me] = math.MaxUint32
	if got := code(f.run(owner, &types.RegisterOrg{OrgID: "acme"})); got != registry.CodeInvalidNonce {
		t.Fatalf("code = %s, want InvalidNonce", got)
	}
}

func TestFeeSplit(t *testing.T) {
	author := registrytest.Account(5)

	t.Run("with author", func(t *testing.T) {
		f := newFixture(t, funded())
		f.env.Author = &author
		res := f.must(owner, &types.RegisterOrg{OrgID: "acme"})
		if got := f.balance(author); got != types.MinimumFee-types.FeeBurn {
			t.Fatalf("author got %d, want %d", got, types.MinimumFee-types.FeeBurn)
		}
		ev, _ := types.FindEvent(res.Events, types.EventFeePaid)
		if v, _ := ev.Attr("author"); v != author.String() {
			t.Errorf("author attr = %q", v)
		}
		if v, _ := ev.Attr("burned"); v != "1" {
			t.Errorf("burned = %q, want 1", v)
		}
	})

	t.Run("without author", func(t *testing.T) {
		f := newFixture(t, funded())
		res := f.must(owner, &types.RegisterOrg{OrgID: "acme"})
		ev, _ := types.FindEvent(res.Events, types.EventFeePaid)
		if v, _ := ev.Attr("burned"); v != "10" {
			t.Errorf("burned = %q, want 10", v)
		}
		if _, ok := ev.Attr("author"); ok {
			t.Error("author attr present without an author")
		}
	})

	t.Run("author overflow burns", func(t *testing.T) {
		balances := funded()
		balances[author] = math.MaxUint64
		f := newFixture(t, balances)
		f.env.Author = &author
		res := f.must(owner, &types.RegisterOrg{OrgID: "acme"})
		if got := f.balance(author); got != math.MaxUint64 {
			t.Fatalf("author balance moved: %d", got)
		}
		ev, _ := types.FindEvent(res.Events, types.EventFeePaid)
		if v, _ := ev.Attr("burned"); v != "10" {
			t.Errorf("burned = %q, want 10", v)
		}
	})

	t.Run("author pays itself", func(t *testing.T) {
		f := newFixture(t, funded())
		me := types.AccountOf(owner)
		f.env.Author = &me
		res := f.must(owner, &types.RegisterOrg{OrgID: "acme"})
		if got := f.balance(me); got != 1000-types.MinimumFee {
			t.Fatalf("balance %d, want %d", got, 1000-types.MinimumFee)
		}
		ev, _ := types.FindEvent(res.Events, types.EventFeePaid)
		if v, _ := ev.Attr("burned"); v != "10" {
			t.Errorf("burned = %q, want 10", v)
		}
	})
}

func TestAncestryDepthCap(t *testing.T) {
	f := newFixture(t, funded())
	f.must(owner, &types.RegisterOrg{OrgID: "acme"})

	var chain []types.CheckpointId
	var parent *types.CheckpointId
	for i := byte(0); i < 4; i++ {
		res := f.must(owner, &types.CreateCheckpoint{Parent: parent, ContentHash: types.Hash{i}})
		id := types.CheckpointId(res.Data)
		chain = append(chain, id)
		parent = &id
	}
	f.must(owner, &types.RegisterProject{OrgID: "acme", ProjectName: "web", Checkpoint: &chain[0]})

	set := &types.SetCheckpoint{OrgID: "acme", ProjectName: "web", Checkpoint: chain[3]}
	f.m = NewMachine(2)
	if got := code(f.run(owner, set)); got != registry.CodeAncestryDepthExceeded {
		t.Fatalf("depth 2: code = %s, want AncestryDepthExceeded", got)
	}
	f.m = NewMachine(3)
	if got := code(f.run(owner, set)); got != registry.CodeOK {
		t.Fatalf("depth 3: code = %s, want OK", got)
	}
	p, _, err := f.st.Project("acme", "web")
	if err != nil {
		t.Fatal(err)
	}
	if p.Checkpoint == nil || *p.Checkpoint != chain[3] {
		t.Fatalf("project checkpoint = %v, want %s", p.Checkpoint, chain[3])
	}
}

func TestUnregisterReleasesNames(t *testing.T) {
	f := newFixture(t, funded())
	f.must(owner, &types.RegisterOrg{OrgID: "acme"})
	f.must(owner, &types.UnregisterOrg{OrgID: "acme"})
	f.must(outsider, &types.RegisterOrg{OrgID: "acme"})

	f.must(owner, &types.RegisterUser{UserID: "ann"})
	f.must(owner, &types.UnregisterUser{UserID: "ann"})
	f.must(outsider, &types.RegisterUser{UserID: "ann"})
	if _, has, _ := f.st.UserOf(types.AccountOf(owner)); has {
		t.Fatal("owner still bound to a user")
	}
	f.must(owner, &types.RegisterUser{UserID: "bea"})
}

func TestUnregisterOrgRefusals(t *testing.T) {
	t.Run("members", func(t *testing.T) {
		f := newFixture(t, funded())
		f.must(owner, &types.RegisterOrg{OrgID: "acme"})
		f.must(owner, &types.RegisterMember{OrgID: "acme", Account: types.AccountOf(outsider)})
		if got := code(f.run(owner, &types.UnregisterOrg{OrgID: "acme"})); got != registry.CodeUnregisterableOrg {
			t.Fatalf("code = %s", got)
		}
	})
	t.Run("funds", func(t *testing.T) {
		f := newFixture(t, funded())
		f.must(owner, &types.RegisterOrg{OrgID: "acme"})
		f.must(owner, &types.Transfer{Recipient: types.OrgAccount("acme"), Amount: 1})
		if got := code(f.run(owner, &types.UnregisterOrg{OrgID: "acme"})); got != registry.CodeUnregisterableOrg {
			t.Fatalf("code = %s", got)
		}
	})
}
