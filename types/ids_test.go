package types_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/blockberries/registry/types"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"acme", true},
		{"a", true},
		{"a-b-c", true},
		{"0x9", true},
		{strings.Repeat("a", 32), true},
		{strings.Repeat("a", 33), false},
		{"", false},
		{"-acme", false},
		{"acme-", false},
		{"ac--me", false},
		{"Acme", false},
		{"ac_me", false},
		{"ac me", false},
	}
	for _, tt := range tests {
		err := types.OrgId(tt.id).Validate()
		if (err == nil) != tt.ok {
			t.Errorf("OrgId(%q).Validate() = %v, want ok=%v", tt.id, err, tt.ok)
		}
		if err != nil && !errors.Is(err, types.ErrInvalidID) {
			t.Errorf("OrgId(%q): error does not wrap ErrInvalidID: %v", tt.id, err)
		}
		if (types.UserId(tt.id).Validate() == nil) != tt.ok {
			t.Errorf("UserId(%q) disagrees with OrgId", tt.id)
		}
	}
}

func TestMetadata_Validate(t *testing.T) {
	if err := types.Metadata(make([]byte, 128)).Validate(); err != nil {
		t.Fatalf("128 bytes should pass: %v", err)
	}
	if err := types.Metadata(make([]byte, 129)).Validate(); err == nil {
		t.Fatalf("129 bytes should fail")
	}
}

func TestAccountId_TextRoundTrip(t *testing.T) {
	id := types.AccountId{0xde, 0xad, 0xbe, 0xef}
	text, err := id.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var got types.AccountId
	if err := got.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Fatalf("got %s, want %s", got, id)
	}
	if _, err := types.ParseAccountId("abcd"); err == nil {
		t.Fatalf("short id should fail")
	}
	if _, err := types.ParseAccountId("zz"); err == nil {
		t.Fatalf("non-hex id should fail")
	}
}

func TestOrgAccount_Deterministic(t *testing.T) {
	a := types.OrgAccount("acme")
	if a != types.OrgAccount("acme") {
		t.Fatalf("org account not deterministic")
	}
	if a == types.OrgAccount("acme2") {
		t.Fatalf("distinct orgs share an account")
	}
}

func TestNewCheckpoint_ContentAddressed(t *testing.T) {
	root, err := types.NewCheckpoint(nil, types.Hash{1})
	if err != nil {
		t.Fatal(err)
	}
	again, _ := types.NewCheckpoint(nil, types.Hash{1})
	if root.ID != again.ID {
		t.Fatalf("same content, different ids")
	}
	child, _ := types.NewCheckpoint(&root.ID, types.Hash{1})
	if child.ID == root.ID {
		t.Fatalf("parent must contribute to the id")
	}
	if child.Parent == nil || *child.Parent != root.ID {
		t.Fatalf("child parent not recorded")
	}
}

func TestListPrefix(t *testing.T) {
	p, err := types.ListPrefix(types.ListProjects)
	if err != nil || p != types.PrefixProject {
		t.Fatalf("ListPrefix(projects) = %q, %v", p, err)
	}
	if _, err := types.ListPrefix("list:nope"); err == nil {
		t.Fatalf("unknown list should fail")
	}
	if _, err := types.ListPrefix("org:acme"); err == nil {
		t.Fatalf("non-list key should fail")
	}
	if k := types.ProjectKey("acme", "web"); k != "project:acme/web" {
		t.Fatalf("ProjectKey = %q", k)
	}
}

func TestGenesisState_JSON(t *testing.T) {
	gs := types.GenesisState{Accounts: []types.GenesisAccount{{ID: types.AccountId{1}, Balance: 1000}}}
	raw, err := gs.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := types.ParseGenesisState(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Accounts) != 1 || got.Accounts[0] != gs.Accounts[0] {
		t.Fatalf("got %+v", got)
	}
	empty, err := types.ParseGenesisState(nil)
	if err != nil || len(empty.Accounts) != 0 {
		t.Fatalf("empty app state: %+v, %v", empty, err)
	}
	if _, err := types.ParseGenesisState([]byte("{")); err == nil {
		t.Fatalf("bad json should fail")
	}
}
