package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/blockberries/registry/types"
)

// Defaults for a genesis without explicit bounds.
const (
	DefaultMaxBlockBytes = 1 << 20
	DefaultMaxTxBytes    = 64 << 10
)

// genesisFile is the on-disk JSON genesis document.
type genesisFile struct {
	ChainID       string                 `json:"chain_id"`
	GenesisTime   time.Time              `json:"genesis_time"`
	InitialHeight uint64                 `json:"initial_height"`
	MaxBlockBytes uint64                 `json:"max_block_bytes"`
	MaxTxBytes    uint64                 `json:"max_tx_bytes"`
	Accounts      []types.GenesisAccount `json:"accounts"`
}

// Genesis returns the genesis document: the parsed GenesisFile, or an
// empty development chain named ChainID when no file is set.
func (c Config) Genesis() (types.GenesisDoc, error) {
	if c.GenesisFile == "" {
		return buildGenesis(genesisFile{ChainID: c.ChainID, GenesisTime: time.Unix(0, 0).UTC()})
	}
	raw, err := os.ReadFile(c.GenesisFile)
	if err != nil {
		return types.GenesisDoc{}, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(raw)
}

// ParseGenesis decodes a JSON genesis document.
func ParseGenesis(raw []byte) (types.GenesisDoc, error) {
	var f genesisFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return types.GenesisDoc{}, fmt.Errorf("parse genesis: %w", err)
	}
	if f.ChainID == "" {
		return types.GenesisDoc{}, fmt.Errorf("parse genesis: chain_id is required")
	}
	return buildGenesis(f)
}

func buildGenesis(f genesisFile) (types.GenesisDoc, error) {
	if f.InitialHeight == 0 {
		f.InitialHeight = 1
	}
	if f.MaxBlockBytes == 0 {
		f.MaxBlockBytes = DefaultMaxBlockBytes
	}
	if f.MaxTxBytes == 0 {
		f.MaxTxBytes = min(DefaultMaxTxBytes, f.MaxBlockBytes)
	}
	if f.MaxTxBytes > f.MaxBlockBytes {
		return types.GenesisDoc{}, fmt.Errorf("genesis: max_tx_bytes %d exceeds max_block_bytes %d", f.MaxTxBytes, f.MaxBlockBytes)
	}
	state, err := types.GenesisState{Accounts: f.Accounts}.Marshal()
	if err != nil {
		return types.GenesisDoc{}, fmt.Errorf("encode genesis state: %w", err)
	}
	return types.GenesisDoc{
		ChainID:       f.ChainID,
		GenesisTime:   types.TimeToTimestamp(f.GenesisTime),
		InitialHeight: f.InitialHeight,
		ConsensusParams: types.ConsensusParams{
			MaxBlockBytes: f.MaxBlockBytes,
			MaxTxBytes:    f.MaxTxBytes,
		},
		AppState: state,
	}, nil
}
