package types

import (
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry/crypto"
)

// MinimumFee is charged to the signer of every transaction that
// passes the signature, chain, nonce and balance gates.
const MinimumFee Balance = 10

// FeeBurn is the share of MinimumFee that is always burned: 1%,
// rounded up.
const FeeBurn = (MinimumFee + 99) / 100

// Transaction is a signed call to the ledger.
type Transaction struct {
	Call        Message   `cramberry:"1"`
	Nonce       uint32    `cramberry:"2"`
	GenesisHash Hash      `cramberry:"3"`
	Signature   Signature `cramberry:"4"`
	Signer      AccountId `cramberry:"5"`
}

// signingPayload is the part of a transaction covered by the signature.
type signingPayload struct {
	Call        Message `cramberry:"1"`
	Nonce       uint32  `cramberry:"2"`
	GenesisHash Hash    `cramberry:"3"`
}

// SigningBytes returns the canonical encoding of (call, nonce, genesis_hash).
func (tx Transaction) SigningBytes() ([]byte, error) {
	data, err := cramberry.Marshal(signingPayload{
		Call:        tx.Call,
		Nonce:       tx.Nonce,
		GenesisHash: tx.GenesisHash,
	})
	if err != nil {
		return nil, fmt.Errorf("encode signing payload: %w", err)
	}
	return data, nil
}

// VerifySignature checks the signature against Signer.
func (tx Transaction) VerifySignature() bool {
	msg, err := tx.SigningBytes()
	if err != nil {
		return false
	}
	return crypto.Verify(tx.Signer, msg, tx.Signature)
}

// SignTransaction builds and signs a transaction.
func SignTransaction(key crypto.PrivateKey, call Message, nonce uint32, genesis Hash) (Transaction, error) {
	tx := Transaction{
		Call:        call,
		Nonce:       nonce,
		GenesisHash: genesis,
		Signer:      AccountOf(key),
	}
	msg, err := tx.SigningBytes()
	if err != nil {
		return Transaction{}, err
	}
	tx.Signature = key.Sign(msg)
	return tx, nil
}

// Encode returns the wire form of the transaction.
func (tx Transaction) Encode() (Tx, error) {
	data, err := cramberry.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return Tx(data), nil
}

// ErrDecode is wrapped by every DecodeTransaction failure.
var ErrDecode = errors.New("decode transaction")

// DecodeTransaction parses the wire form and checks the message's
// construction invariants. It does not verify the signature.
func DecodeTransaction(raw Tx) (Transaction, error) {
	var tx Transaction
	if len(raw) == 0 {
		return tx, fmt.Errorf("%w: empty", ErrDecode)
	}
	if err := cramberry.Unmarshal(raw, &tx); err != nil {
		return tx, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := tx.Call.Validate(); err != nil {
		return tx, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return tx, nil
}
