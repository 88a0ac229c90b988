package store

import (
	"bytes"
	"sort"
)

type staged struct {
	value   []byte
	deleted bool
}

// Overlay stages writes over a Reader. Reads see staged writes first.
//
// A child overlay (see Child) commits into its parent or is discarded,
// which gives per-message atomicity inside a block. Not safe for
// concurrent use.
type Overlay struct {
	base   Reader
	parent *Overlay
	writes map[string]staged
}

// NewOverlay returns an empty overlay over base.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{base: base, writes: make(map[string]staged)}
}

// Child returns a nested overlay whose writes reach o only on Commit.
func (o *Overlay) Child() *Overlay {
	c := NewOverlay(o)
	c.parent = o
	return c
}

func (o *Overlay) Get(key string) ([]byte, bool, error) {
	if w, ok := o.writes[key]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return bytes.Clone(w.value), true, nil
	}
	return o.base.Get(key)
}

// Iterate merges staged writes with the underlying range.
func (o *Overlay) Iterate(prefix string, fn func(string, []byte) bool) error {
	merged := make(map[string][]byte)
	if err := o.base.Iterate(prefix, func(k string, v []byte) bool {
		merged[k] = v
		return true
	}); err != nil {
		return err
	}
	for k, w := range o.writes {
		if !hasPrefix(k, prefix) {
			continue
		}
		if w.deleted {
			delete(merged, k)
		} else {
			merged[k] = w.value
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(k, bytes.Clone(merged[k])) {
			return nil
		}
	}
	return nil
}

// Set stages a put.
func (o *Overlay) Set(key string, value []byte) {
	o.writes[key] = staged{value: bytes.Clone(value)}
}

// Delete stages a delete.
func (o *Overlay) Delete(key string) {
	o.writes[key] = staged{deleted: true}
}

// Commit moves a child's writes into its parent and clears the child.
// It is a no-op on a root overlay.
func (o *Overlay) Commit() {
	if o.parent == nil {
		return
	}
	for k, w := range o.writes {
		o.parent.writes[k] = w
	}
	o.writes = make(map[string]staged)
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.writes = make(map[string]staged)
}

// Len returns the number of staged writes.
func (o *Overlay) Len() int { return len(o.writes) }

// Writes returns the staged writes as a batch sorted by key.
func (o *Overlay) Writes() Batch {
	b := make(Batch, 0, len(o.writes))
	for k, w := range o.writes {
		b = append(b, Write{Key: k, Value: bytes.Clone(w.value), Delete: w.deleted})
	}
	sort.Slice(b, func(i, j int) bool { return b[i].Key < b[j].Key })
	return b
}
