package types

// StateQuery is a request to read committed ledger state.
type StateQuery struct {
	Path QueryPath `cramberry:"1"`
	Data []byte    `cramberry:"2"`
}

// StateQueryResult is the ledger's response to a state query.
type StateQueryResult struct {
	// 0 = found, 1 = absent, anything else is a query error.
	Code   uint32 `cramberry:"1"`
	Key    []byte `cramberry:"2"`
	Value  []byte `cramberry:"3"`
	Height uint64 `cramberry:"4"`
	Info   string `cramberry:"5"`
}

// Query result codes.
const (
	QueryFound  uint32 = 0
	QueryAbsent uint32 = 1
	QueryError  uint32 = 2
)

// Entry is a single key/value pair of ledger state.
type Entry struct {
	Key   []byte `cramberry:"1"`
	Value []byte `cramberry:"2"`
}

// EntryList is the encoded answer to a list:<kind> query.
type EntryList struct {
	Entries []Entry `cramberry:"1"`
}
