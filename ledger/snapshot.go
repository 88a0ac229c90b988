package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry/crypto"
	"github.com/blockberries/registry/store"
	"github.com/blockberries/registry/types"
)

const (
	snapshotFormat   uint32 = 1
	defaultChunkSize        = 64 * 1024
)

// snapshotLocked encodes the whole committed store. Callers hold a.mu.
func (a *App) snapshotLocked() ([]byte, error) {
	entries, err := store.Collect(a.st, "")
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	payload := types.SnapshotPayload{
		Height:  a.height,
		AppHash: a.appHash,
		Entries: make([]types.Entry, len(entries)),
	}
	for i, e := range entries {
		payload.Entries[i] = types.Entry{Key: []byte(e.Key), Value: e.Value}
	}
	data, err := cramberry.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func (a *App) describe(data []byte) types.SnapshotDescriptor {
	size := uint32(a.chunkSize)
	return types.SnapshotDescriptor{
		Height:  a.height,
		Format:  snapshotFormat,
		Chunks:  (uint32(len(data)) + size - 1) / size,
		Hash:    types.Hash(crypto.Hash256(data)),
		AppHash: a.appHash,
	}
}

// AvailableSnapshots offers the latest committed height.
func (a *App) AvailableSnapshots(_ context.Context) ([]types.SnapshotDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.ready || a.height == 0 {
		return nil, nil
	}
	data, err := a.snapshotLocked()
	if err != nil {
		return nil, err
	}
	return []types.SnapshotDescriptor{a.describe(data)}, nil
}

func (a *App) ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if format != snapshotFormat {
		return nil, nil, fmt.Errorf("unsupported snapshot format %d", format)
	}
	if a.height != height {
		return nil, nil, fmt.Errorf("snapshot at height %d not available (current: %d)", height, a.height)
	}
	data, err := a.snapshotLocked()
	if err != nil {
		return nil, nil, err
	}
	desc := a.describe(data)
	size := a.chunkSize

	ch := make(chan types.SnapshotChunk)
	go func() {
		defer close(ch)
		for i := uint32(0); i < desc.Chunks; i++ {
			start := int(i) * size
			end := min(start+size, len(data))
			select {
			case ch <- types.SnapshotChunk{Index: i, Data: data[start:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, &desc, nil
}

func rejectImport(format string, args ...any) types.ImportResult {
	return types.ImportResult{Status: types.ImportReject, Reason: fmt.Sprintf(format, args...)}
}

// ImportSnapshot replaces the committed store with the snapshot's
// entries after checking the payload hash and the reproduced app hash.
func (a *App) ImportSnapshot(ctx context.Context, descriptor types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	if descriptor.Format != snapshotFormat {
		return rejectImport("unsupported format %d", descriptor.Format), nil
	}

	received := make(map[uint32][]byte)
collect:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break collect
			}
			received[chunk.Index] = chunk.Data
		case <-ctx.Done():
			return types.ImportResult{}, ctx.Err()
		}
	}

	var missing []uint32
	for i := uint32(0); i < descriptor.Chunks; i++ {
		if _, ok := received[i]; !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return types.ImportResult{Status: types.ImportRetryChunks, RetryIndices: missing}, nil
	}

	var full []byte
	for i := uint32(0); i < descriptor.Chunks; i++ {
		full = append(full, received[i]...)
	}
	if types.Hash(crypto.Hash256(full)) != descriptor.Hash {
		return rejectImport("snapshot hash mismatch"), nil
	}

	var payload types.SnapshotPayload
	if err := cramberry.Unmarshal(full, &payload); err != nil {
		return rejectImport("decode snapshot: %v", err), nil
	}
	if payload.AppHash != descriptor.AppHash || payload.Height != descriptor.Height {
		return rejectImport("payload is height %d app hash %s, descriptor says %d %s",
			payload.Height, payload.AppHash, descriptor.Height, descriptor.AppHash), nil
	}
	if !sort.SliceIsSorted(payload.Entries, func(i, j int) bool {
		return string(payload.Entries[i].Key) < string(payload.Entries[j].Key)
	}) {
		return rejectImport("entries out of order"), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := store.Collect(a.st, "")
	if err != nil {
		return types.ImportResult{}, err
	}
	incoming := make(map[string]bool, len(payload.Entries))
	batch := make(store.Batch, 0, len(payload.Entries)+len(existing))
	for _, e := range payload.Entries {
		incoming[string(e.Key)] = true
		batch = append(batch, store.Write{Key: string(e.Key), Value: e.Value})
	}
	for _, e := range existing {
		if !incoming[e.Key] {
			batch = append(batch, store.Write{Key: e.Key, Delete: true})
		}
	}
	if err := a.st.Apply(ctx, batch); err != nil {
		return types.ImportResult{}, fmt.Errorf("apply snapshot: %w", err)
	}
	found, err := a.loadMeta()
	if err != nil {
		return types.ImportResult{}, err
	}
	if !found || a.appHash != descriptor.AppHash || a.height != descriptor.Height {
		return rejectImport("imported state does not carry the advertised app hash"), nil
	}
	a.ready = true
	a.log.Info("snapshot imported", "height", a.height, "entries", len(payload.Entries), "app_hash", a.appHash.String())

	h := a.appHash
	return types.ImportResult{Status: types.ImportOK, AppHash: &h}, nil
}
