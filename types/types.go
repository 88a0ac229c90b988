// Package types defines the data types shared by the registry ledger,
// its host and its clients.
//
// These are plain Go structs with cramberry struct tags for
// deterministic binary serialization. The same encoding is used for
// hashing, for state storage and on the wire.
package types

import (
	"encoding/hex"

	"github.com/blockberries/registry/crypto"
)

// Hash is a 32-byte cryptographic hash.
type Hash [32]byte

// String returns the lowercase hex form.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether every byte is zero.
func (h Hash) IsZero() bool { return h == Hash{} }

// AppHash is a deterministic fingerprint of the ledger state
// after execution.
type AppHash [32]byte

// String returns the lowercase hex form.
func (h AppHash) String() string { return hex.EncodeToString(h[:]) }

// Tx is an encoded transaction as carried by blocks and the mempool.
type Tx []byte

// Hash returns the Blake2b-256 hash of the encoded transaction.
// It does not require the bytes to decode.
func (tx Tx) Hash() Hash { return Hash(crypto.Hash256(tx)) }

// QueryPath selects a query handler (e.g., "/key").
type QueryPath string

// BlockID uniquely identifies a point in the chain.
type BlockID struct {
	Height uint64 `cramberry:"1"`
	Hash   Hash   `cramberry:"2"`
}
