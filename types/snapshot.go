package types

// SnapshotDescriptor describes an available snapshot.
type SnapshotDescriptor struct {
	Height uint64 `cramberry:"1"`
	Format uint32 `cramberry:"2"`
	// Total number of chunks.
	Chunks uint32 `cramberry:"3"`
	// Blake2b-256 of the full snapshot payload.
	Hash Hash `cramberry:"4"`
	// App hash the snapshot reproduces.
	AppHash AppHash `cramberry:"5"`
}

// SnapshotChunk is a single piece of a snapshot.
type SnapshotChunk struct {
	Index uint32 `cramberry:"1"`
	Data  []byte `cramberry:"2"`
}

// SnapshotPayload is the reassembled content of a snapshot: the
// whole committed store in ascending key order.
type SnapshotPayload struct {
	Height  uint64  `cramberry:"1"`
	AppHash AppHash `cramberry:"2"`
	Entries []Entry `cramberry:"3"`
}

// ImportStatus describes the outcome of a snapshot import.
type ImportStatus uint8

const (
	// ImportOK means the snapshot was applied successfully.
	ImportOK ImportStatus = 1
	// ImportReject means the snapshot was rejected; try a different one.
	ImportReject ImportStatus = 2
	// ImportRetryChunks means some chunks were missing;
	// request these indices again.
	ImportRetryChunks ImportStatus = 3
)

// ImportResult is the outcome of importing a snapshot.
type ImportResult struct {
	Status ImportStatus `cramberry:"1"`
	// Set when Status is ImportOK.
	AppHash *AppHash `cramberry:"2"`
	// Set when Status is ImportReject.
	Reason string `cramberry:"3"`
	// Set when Status is ImportRetryChunks.
	RetryIndices []uint32 `cramberry:"4"`
}
