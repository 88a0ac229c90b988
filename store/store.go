// Package store is the ledger's ordered key/value state.
//
// Committed state lives in a Store backend (memory, SQLite or
// Postgres). Uncommitted changes are staged in an Overlay and flushed
// as one Batch.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Reader reads ordered state.
type Reader interface {
	// Get returns the value at key and whether it exists.
	Get(key string) ([]byte, bool, error)
	// Iterate calls fn for every key with the given prefix in ascending
	// byte order. Returning false from fn stops the iteration.
	Iterate(prefix string, fn func(key string, value []byte) bool) error
}

// Store is a durable Reader that applies batches atomically.
type Store interface {
	Reader
	Apply(ctx context.Context, b Batch) error
	Close() error
}

// Write is a single put or delete.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Batch is an ordered list of writes applied together.
type Batch []Write

// Sorted returns a copy of b ordered by key.
func (b Batch) Sorted() Batch {
	out := make(Batch, len(b))
	copy(out, b)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// prefixEnd returns the smallest key greater than every key with the
// given prefix, or "" if there is none.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// Collect returns every entry with the given prefix, in order.
func Collect(r Reader, prefix string) ([]Write, error) {
	var out []Write
	err := r.Iterate(prefix, func(k string, v []byte) bool {
		out = append(out, Write{Key: k, Value: v})
		return true
	})
	return out, err
}

func hasPrefix(key, prefix string) bool { return strings.HasPrefix(key, prefix) }
