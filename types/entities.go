package types

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry/crypto"
)

// Account holds an account's balance and next expected nonce.
type Account struct {
	Balance Balance `cramberry:"1"`
	Nonce   uint32  `cramberry:"2"`
}

// Org is a named collective account that owns projects and funds.
type Org struct {
	ID OrgId `cramberry:"1"`
	// Account holding the org's funds, derived from ID.
	Account AccountId `cramberry:"2"`
	// Members in the order they joined. Never empty.
	Members []AccountId `cramberry:"3"`
	// Projects in ascending order.
	Projects []ProjectName `cramberry:"4"`
}

// OrgAccount derives the account that holds an org's funds.
func OrgAccount(id OrgId) AccountId {
	return AccountId(crypto.Hash256([]byte("org-account-id"), []byte(id)))
}

// HasMember reports whether acct is a member of the org.
func (o Org) HasMember(acct AccountId) bool {
	for _, m := range o.Members {
		if m == acct {
			return true
		}
	}
	return false
}

// User binds a globally unique name to an account.
type User struct {
	ID      UserId    `cramberry:"1"`
	Account AccountId `cramberry:"2"`
}

// Project is a named unit of work under an org.
type Project struct {
	Org        OrgId         `cramberry:"1"`
	Name       ProjectName   `cramberry:"2"`
	Metadata   Metadata      `cramberry:"3"`
	Checkpoint *CheckpointId `cramberry:"4"`
}

// Checkpoint is an immutable, hash-chained snapshot reference.
type Checkpoint struct {
	ID          CheckpointId  `cramberry:"1"`
	Parent      *CheckpointId `cramberry:"2"`
	ContentHash Hash          `cramberry:"3"`
}

// checkpointBody is the hashed part of a checkpoint.
type checkpointBody struct {
	Parent      *CheckpointId `cramberry:"1"`
	ContentHash Hash          `cramberry:"2"`
}

// NewCheckpoint builds a checkpoint and derives its id.
func NewCheckpoint(parent *CheckpointId, content Hash) (Checkpoint, error) {
	data, err := cramberry.Marshal(checkpointBody{Parent: parent, ContentHash: content})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	return Checkpoint{
		ID:          CheckpointId(crypto.Hash256(data)),
		Parent:      parent,
		ContentHash: content,
	}, nil
}

// Receipt is the permanent record of an included transaction.
type Receipt struct {
	Height uint64  `cramberry:"1"`
	Index  uint32  `cramberry:"2"`
	Code   uint32  `cramberry:"3"`
	Info   string  `cramberry:"4"`
	Data   []byte  `cramberry:"5"`
	Events []Event `cramberry:"6"`
}
