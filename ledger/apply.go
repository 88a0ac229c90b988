// Package ledger implements the registry state-transition function
// and the ledger application built on it.
package ledger

import (
	"math"
	"strconv"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/types"
)

// DefaultMaxAncestryDepth bounds the parent walk of SetCheckpoint.
const DefaultMaxAncestryDepth = 1024

// Env is the per-block context of a transition.
type Env struct {
	Height      uint64
	GenesisHash types.Hash
	// Author receives the non-burned share of the fee. Nil burns it all.
	Author *types.AccountId
}

// Result is the verdict of one transition.
type Result struct {
	// Err is nil on success. A rejection means state is untouched. A
	// dispatch failure means only the fee and nonce were charged.
	Err    *registry.TxError
	Events []types.Event
	Data   []byte
}

// Charged reports whether the fee and nonce were consumed.
func (r Result) Charged() bool { return r.Err == nil || r.Err.Code.IsDispatch() }

// Outcome converts the result for a block at position index.
func (r Result) Outcome(index uint32) types.TxOutcome {
	o := types.TxOutcome{Index: index, Events: r.Events, Data: r.Data}
	if r.Err != nil {
		o.Code = uint32(r.Err.Code)
		o.Info = r.Err.Detail
	}
	return o
}

// Machine is the transition function with its tunables.
type Machine struct {
	maxAncestryDepth int
}

// NewMachine returns a Machine with the given ancestry depth cap.
// Values below 1 select DefaultMaxAncestryDepth.
func NewMachine(maxAncestryDepth int) *Machine {
	if maxAncestryDepth < 1 {
		maxAncestryDepth = DefaultMaxAncestryDepth
	}
	return &Machine{maxAncestryDepth: maxAncestryDepth}
}

// Apply runs one transaction against st using the default machine.
func Apply(st State, tx types.Transaction, env Env) (Result, error) {
	return NewMachine(DefaultMaxAncestryDepth).Apply(st, tx, env)
}

func reject(code registry.Code, format string, args ...any) Result {
	return Result{Err: registry.NewTxError(code, format, args...)}
}

// Apply runs the gates then dispatches the call.
//
// A malformed call is rejected first. The gates (signature, genesis,
// nonce, fee) mutate nothing unless all pass. Dispatch runs in a child
// state that is discarded on failure. The error return is reserved for
// store failures.
func (m *Machine) Apply(st State, tx types.Transaction, env Env) (Result, error) {
	call, err := tx.Call.Payload()
	if err == nil {
		err = call.Validate()
	}
	if err != nil {
		return reject(registry.CodeDecodeFailed, "%v", err), nil
	}
	if !tx.VerifySignature() {
		return reject(registry.CodeInvalidSignature, "signature does not match signer %s", tx.Signer), nil
	}
	if tx.GenesisHash != env.GenesisHash {
		return reject(registry.CodeWrongChain, "genesis %s, chain is %s", tx.GenesisHash, env.GenesisHash), nil
	}
	sender := tx.Signer
	acct, err := st.Account(sender)
	if err != nil {
		return Result{}, err
	}
	if tx.Nonce != acct.Nonce {
		return reject(registry.CodeInvalidNonce, "nonce %d, account expects %d", tx.Nonce, acct.Nonce), nil
	}
	if acct.Nonce == math.MaxUint32 {
		return reject(registry.CodeInvalidNonce, "account nonce exhausted"), nil
	}
	if acct.Balance < types.MinimumFee {
		return reject(registry.CodeInsufficientFunds, "balance %d below fee %d", acct.Balance, types.MinimumFee), nil
	}

	acct.Nonce++
	acct.Balance -= types.MinimumFee
	if err := st.SetAccount(sender, acct); err != nil {
		return Result{}, err
	}
	feeEvent, err := payFee(st, sender, env.Author)
	if err != nil {
		return Result{}, err
	}

	child := st.child()
	d := dispatcher{st: child, sender: sender, maxDepth: m.maxAncestryDepth}
	res, err := d.dispatch(call)
	if err != nil {
		return Result{}, err
	}
	if res.Err != nil {
		child.ov.Discard()
		return Result{Err: res.Err, Events: []types.Event{feeEvent}}, nil
	}
	child.ov.Commit()
	res.Events = append([]types.Event{feeEvent}, res.Events...)
	return res, nil
}

// payFee splits MinimumFee: FeeBurn is burned and the rest goes to the
// author. Without an author, when the author is the payer, or if
// crediting would overflow, the whole fee is burned.
func payFee(st State, payer types.AccountId, author *types.AccountId) (types.Event, error) {
	fee := types.MinimumFee
	burned := types.FeeBurn
	credited := fee - burned

	kv := []string{"payer", payer.String(), "amount", strconv.FormatUint(uint64(fee), 10)}
	if author != nil && *author != payer {
		a, err := st.Account(*author)
		if err != nil {
			return types.Event{}, err
		}
		if a.Balance <= math.MaxUint64-credited {
			a.Balance += credited
			if err := st.SetAccount(*author, a); err != nil {
				return types.Event{}, err
			}
			kv = append(kv, "author", author.String())
		} else {
			burned = fee
		}
	} else {
		burned = fee
	}
	kv = append(kv, "burned", strconv.FormatUint(uint64(burned), 10))
	return types.NewEvent(types.EventFeePaid, kv...), nil
}
