package registrytest

import (
	"testing"

	"github.com/blockberries/registry/crypto"
	"github.com/blockberries/registry/types"
)

// Key returns a deterministic private key derived from n.
func Key(n byte) crypto.PrivateKey {
	seed := make([]byte, crypto.SeedSize)
	for i := range seed {
		seed[i] = n
	}
	key, err := crypto.KeyFromSeed(seed)
	if err != nil {
		panic(err)
	}
	return key
}

// Account returns the account of Key(n).
func Account(n byte) types.AccountId { return types.AccountOf(Key(n)) }

// Endow returns genesis accounts giving each key the same balance.
func Endow(balance types.Balance, keys ...crypto.PrivateKey) []types.GenesisAccount {
	out := make([]types.GenesisAccount, len(keys))
	for i, k := range keys {
		out[i] = types.GenesisAccount{ID: types.AccountOf(k), Balance: balance}
	}
	return out
}

// SignTx signs and encodes a transaction carrying p.
func SignTx(t testing.TB, key crypto.PrivateKey, p types.Payload, nonce uint32, genesis types.Hash) types.Tx {
	t.Helper()
	tx, err := types.SignTransaction(key, types.NewMessage(p), nonce, genesis)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := tx.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}
