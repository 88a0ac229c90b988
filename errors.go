package registry

import (
	"errors"
	"fmt"

	"github.com/blockberries/registry/types"
)

// HaltError signals that the ledger detected an irrecoverable
// inconsistency and requests an immediate chain halt.
//
// When the host receives a HaltError from ExecuteBlock, it must
// stop producing blocks, log the error, and not proceed to Commit.
type HaltError struct {
	Reason string
	Height uint64
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("HALT at height %d: %s", e.Height, e.Reason)
}

// NewHaltError creates a new HaltError.
func NewHaltError(height uint64, reason string) *HaltError {
	return &HaltError{Height: height, Reason: reason}
}

// IsHalt checks whether an error is a HaltError and returns it.
func IsHalt(err error) (*HaltError, bool) {
	var h *HaltError
	if errors.As(err, &h) {
		return h, true
	}
	return nil, false
}

// Code is a transaction result code, carried in TxOutcome.Code.
//
// 0 is success. 1..99 are rejections: the transaction was refused at a
// gate and consumed nothing. 100 and above are dispatch failures: the
// fee and nonce were charged but the call had no other effect.
type Code uint32

const (
	CodeOK Code = 0

	CodeDecodeFailed      Code = 1
	CodeInvalidSignature  Code = 2
	CodeWrongChain        Code = 3
	CodeInvalidNonce      Code = 4
	CodeInsufficientFunds Code = 5
	CodeTxAlreadyKnown    Code = 6

	CodeOrgExists         Code = 100
	CodeOrgNotFound       Code = 101
	CodeNotOrgMember      Code = 102
	CodeUnregisterableOrg Code = 103
	CodeAlreadyOrgMember  Code = 104

	CodeProjectExists   Code = 110
	CodeProjectNotFound Code = 111

	CodeCheckpointExists            Code = 120
	CodeCheckpointNotFound          Code = 121
	CodeCheckpointAncestryViolation Code = 122
	CodeAncestryDepthExceeded       Code = 123

	CodeUserNameTaken  Code = 130
	CodeAccountHasUser Code = 131
	CodeUserNotFound   Code = 132
	CodeNotUserOwner   Code = 133

	CodeUnderflow     Code = 140
	CodeInvalidAmount Code = 141
	CodeOverflow      Code = 142
)

// dispatchBase is the first dispatch code.
const dispatchBase Code = 100

var codeNames = map[Code]string{
	CodeOK:                          "OK",
	CodeDecodeFailed:                "DecodeFailed",
	CodeInvalidSignature:            "InvalidSignature",
	CodeWrongChain:                  "WrongChain",
	CodeInvalidNonce:                "InvalidNonce",
	CodeInsufficientFunds:           "InsufficientFunds",
	CodeTxAlreadyKnown:              "TxAlreadyKnown",
	CodeOrgExists:                   "OrgExists",
	CodeOrgNotFound:                 "OrgNotFound",
	CodeNotOrgMember:                "NotOrgMember",
	CodeUnregisterableOrg:           "UnregisterableOrg",
	CodeAlreadyOrgMember:            "AlreadyOrgMember",
	CodeProjectExists:               "ProjectExists",
	CodeProjectNotFound:             "ProjectNotFound",
	CodeCheckpointExists:            "CheckpointExists",
	CodeCheckpointNotFound:          "CheckpointNotFound",
	CodeCheckpointAncestryViolation: "CheckpointAncestryViolation",
	CodeAncestryDepthExceeded:       "AncestryDepthExceeded",
	CodeUserNameTaken:               "UserNameTaken",
	CodeAccountHasUser:              "AccountHasUser",
	CodeUserNotFound:                "UserNotFound",
	CodeNotUserOwner:                "NotUserOwner",
	CodeUnderflow:                   "Underflow",
	CodeInvalidAmount:               "InvalidAmount",
	CodeOverflow:                    "Overflow",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// IsRejection reports whether c is a gate rejection.
func (c Code) IsRejection() bool { return c != CodeOK && c < dispatchBase }

// IsDispatch reports whether c is a dispatch failure.
func (c Code) IsDispatch() bool { return c >= dispatchBase }

// TxError is a typed transaction failure.
type TxError struct {
	Code   Code
	Detail string
}

// NewTxError creates a TxError. Detail is formatted with args.
func NewTxError(code Code, format string, args ...any) *TxError {
	return &TxError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func (e *TxError) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Detail
}

// Is matches another *TxError with the same code, so
// errors.Is(err, &TxError{Code: CodeOrgExists}) works.
func (e *TxError) Is(target error) bool {
	t, ok := target.(*TxError)
	return ok && t.Code == e.Code
}

// AsTxError extracts a *TxError from err.
func AsTxError(err error) (*TxError, bool) {
	var te *TxError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRejection reports whether err carries a gate rejection.
func IsRejection(err error) bool {
	te, ok := AsTxError(err)
	return ok && te.Code.IsRejection()
}

// IsDispatch reports whether err carries a dispatch failure.
func IsDispatch(err error) bool {
	te, ok := AsTxError(err)
	return ok && te.Code.IsDispatch()
}

// OutcomeError returns the TxError recorded in an outcome,
// or nil if it succeeded.
func OutcomeError(o types.TxOutcome) error {
	if o.OK() {
		return nil
	}
	return &TxError{Code: Code(o.Code), Detail: o.Info}
}

// Infrastructure failures reported by the lifecycle tracker. They are
// distinct from TxError: a TxError is a ledger verdict, these mean no
// verdict was observed.
var (
	ErrTimeout            = errors.New("timed out waiting for result")
	ErrChainReorganized   = errors.New("including block was reorganized away")
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrSubscriptionLost   = errors.New("subscription ended before a final event")
)
