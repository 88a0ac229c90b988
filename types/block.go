package types

// TxOutcome is the result of executing a single transaction.
type TxOutcome struct {
	// Position of this tx in the block (0-indexed).
	Index uint32 `cramberry:"1"`
	// Result code. 0 = success; see registry.Code for the rest.
	Code uint32 `cramberry:"2"`
	// Human-readable detail of a failure.
	Info string `cramberry:"3"`
	// Message-specific result data (e.g., a new checkpoint id).
	Data []byte `cramberry:"4"`
	// Events emitted by this transaction.
	Events []Event `cramberry:"5"`
}

// OK returns true if the transaction executed successfully.
func (t TxOutcome) OK() bool { return t.Code == 0 }

// BlockOutcome is the output of executing a finalized block.
type BlockOutcome struct {
	// Per-transaction results, in block order.
	TxOutcomes []TxOutcome `cramberry:"1"`
	// Block-level events.
	BlockEvents []Event `cramberry:"2"`
	// New state root after this block.
	AppHash AppHash `cramberry:"3"`
}

// FinalizedBlock is an ordered block delivered to the ledger
// for execution.
type FinalizedBlock struct {
	Height        uint64    `cramberry:"1"`
	Time          Timestamp `cramberry:"2"`
	Txs           []Tx      `cramberry:"3"`
	LastBlockHash Hash      `cramberry:"4"`
	// Account credited with the non-burned share of fees.
	// Nil burns the whole fee.
	Author *AccountId `cramberry:"5"`
}

// CommitResult is returned after the ledger persists state.
type CommitResult struct {
	// Minimum height the ledger still needs for queries.
	// 0 = keep everything.
	RetainHeight uint64 `cramberry:"1"`
}
