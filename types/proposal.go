package types

// ProposalContext is provided to the ledger when the host
// assembles a block.
type ProposalContext struct {
	Height uint64     `cramberry:"1"`
	Time   Timestamp  `cramberry:"2"`
	Author *AccountId `cramberry:"3"`
	// Pending transactions in submission order.
	MempoolTxs []Tx `cramberry:"4"`
	// Maximum total bytes for the block's tx payload.
	MaxTxBytes uint64 `cramberry:"5"`
}

// BuiltProposal is the ledger's assembled block contents.
type BuiltProposal struct {
	Txs []Tx `cramberry:"1"`
}

// ReceivedProposal is a proposal received for verification.
type ReceivedProposal struct {
	Height uint64     `cramberry:"1"`
	Time   Timestamp  `cramberry:"2"`
	Author *AccountId `cramberry:"3"`
	Txs    []Tx       `cramberry:"4"`
}

// ProposalVerdict is the ledger's decision on a received proposal.
type ProposalVerdict struct {
	// Accept is true if the proposal is structurally valid.
	Accept bool `cramberry:"1"`
	// Reason for rejection (only set when Accept is false).
	RejectReason string `cramberry:"2"`
}
