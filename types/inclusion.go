package types

import "fmt"

// InclusionStatus is the progress reported for a submitted transaction.
type InclusionStatus uint8

const (
	// StatusPending: accepted into the mempool.
	StatusPending InclusionStatus = 1
	// StatusIncluded: ordered into a block.
	StatusIncluded InclusionStatus = 2
	// StatusApplied: executed; Outcome is set.
	StatusApplied InclusionStatus = 3
	// StatusRetracted: the including block is no longer canonical.
	StatusRetracted InclusionStatus = 4
	// StatusDropped: removed from the mempool without inclusion.
	StatusDropped InclusionStatus = 5
	// StatusRejected: refused at submission; Code is set.
	StatusRejected InclusionStatus = 6
)

func (s InclusionStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusIncluded:
		return "Included"
	case StatusApplied:
		return "Applied"
	case StatusRetracted:
		return "Retracted"
	case StatusDropped:
		return "Dropped"
	case StatusRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Terminal reports whether no further events follow.
func (s InclusionStatus) Terminal() bool {
	switch s {
	case StatusApplied, StatusRetracted, StatusDropped, StatusRejected:
		return true
	}
	return false
}

// InclusionEvent reports a milestone for one submitted transaction.
type InclusionEvent struct {
	Status InclusionStatus `cramberry:"1"`
	TxHash Hash            `cramberry:"2"`
	Block  BlockID         `cramberry:"3"`
	Index  uint32          `cramberry:"4"`
	// Set for StatusApplied.
	Outcome *TxOutcome `cramberry:"5"`
	// Rejection or drop code.
	Code   uint32 `cramberry:"6"`
	Reason string `cramberry:"7"`
}
