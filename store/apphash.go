package store

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry/crypto"
	"github.com/blockberries/registry/types"
)

// hashedWrite is the canonical encoding of one write in the app hash.
type hashedWrite struct {
	Key    []byte `cramberry:"1"`
	Value  []byte `cramberry:"2"`
	Delete bool   `cramberry:"3"`
}

type hashedBatch struct {
	Writes []hashedWrite `cramberry:"1"`
}

// NextAppHash chains the writes of one block onto prev:
// Blake2b-256(prev || encode(sorted writes)). Writes under the meta:
// prefix are excluded so bookkeeping never changes the hash.
func NextAppHash(prev types.AppHash, b Batch) (types.AppHash, error) {
	var hb hashedBatch
	for _, w := range b.Sorted() {
		if hasPrefix(w.Key, types.PrefixMeta) {
			continue
		}
		hb.Writes = append(hb.Writes, hashedWrite{Key: []byte(w.Key), Value: w.Value, Delete: w.Delete})
	}
	data, err := cramberry.Marshal(hb)
	if err != nil {
		return types.AppHash{}, fmt.Errorf("encode writes: %w", err)
	}
	return types.AppHash(crypto.Hash256(prev[:], data)), nil
}
