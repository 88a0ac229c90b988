package types

import (
	"encoding/json"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry/crypto"
)

// GenesisDoc is the raw genesis document for chain initialization.
type GenesisDoc struct {
	ChainID         string          `cramberry:"1"`
	GenesisTime     Timestamp       `cramberry:"2"`
	InitialHeight   uint64          `cramberry:"3"`
	ConsensusParams ConsensusParams `cramberry:"4"`
	// Ledger genesis state as JSON (see GenesisState).
	AppState []byte `cramberry:"5"`
}

// Hash returns the genesis hash embedded in every transaction
// for this chain.
func (g GenesisDoc) Hash() (Hash, error) {
	data, err := cramberry.Marshal(g)
	if err != nil {
		return Hash{}, fmt.Errorf("encode genesis: %w", err)
	}
	return Hash(crypto.Hash256(data)), nil
}

// GenesisAccount is an endowed account.
type GenesisAccount struct {
	ID      AccountId `json:"id"`
	Balance Balance   `json:"balance"`
}

// GenesisState is the decoded form of GenesisDoc.AppState.
type GenesisState struct {
	Accounts []GenesisAccount `json:"accounts"`
}

// ParseGenesisState decodes AppState. Empty input yields an empty state.
func ParseGenesisState(raw []byte) (GenesisState, error) {
	var gs GenesisState
	if len(raw) == 0 {
		return gs, nil
	}
	if err := json.Unmarshal(raw, &gs); err != nil {
		return gs, fmt.Errorf("parse genesis app state: %w", err)
	}
	return gs, nil
}

// Marshal encodes the state for GenesisDoc.AppState.
func (gs GenesisState) Marshal() ([]byte, error) {
	return json.Marshal(gs)
}
