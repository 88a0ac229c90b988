package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/blockberries/registry/crypto"
)

// MaxIDLength bounds OrgId, ProjectName and UserId.
const MaxIDLength = 32

// MaxMetadataLength bounds project metadata.
const MaxMetadataLength = 128

// AccountId is an Ed25519 public key. It owns a balance and a nonce.
type AccountId [crypto.PublicKeySize]byte

// AccountOf returns the account controlled by key.
func AccountOf(key crypto.PrivateKey) AccountId {
	return AccountId(key.Public())
}

// String returns the lowercase hex form.
func (a AccountId) String() string { return hex.EncodeToString(a[:]) }

// MarshalText implements encoding.TextMarshaler.
func (a AccountId) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccountId) UnmarshalText(text []byte) error {
	id, err := ParseAccountId(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// ParseAccountId parses the hex form of an account id.
func ParseAccountId(s string) (AccountId, error) {
	var id AccountId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("account id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("account id: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Balance is a non-negative amount of currency.
type Balance uint64

// CheckpointId is the content address of a checkpoint.
type CheckpointId Hash

// String returns the lowercase hex form.
func (c CheckpointId) String() string { return Hash(c).String() }

// ParseCheckpointId parses the hex form of a checkpoint id.
func ParseCheckpointId(s string) (CheckpointId, error) {
	var id CheckpointId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("checkpoint id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("checkpoint id: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Signature is an Ed25519 signature.
type Signature [crypto.SignatureSize]byte

// OrgId names an org.
type OrgId string

// ProjectName names a project within its org.
type ProjectName string

// UserId names a user.
type UserId string

// Validate checks the bounded-identifier rules.
func (id OrgId) Validate() error { return validateID("org id", string(id)) }

// Validate checks the bounded-identifier rules.
func (n ProjectName) Validate() error { return validateID("project name", string(n)) }

// Validate checks the bounded-identifier rules.
func (id UserId) Validate() error { return validateID("user id", string(id)) }

// ErrInvalidID is wrapped by every identifier validation failure.
var ErrInvalidID = errors.New("invalid identifier")

// validateID accepts 1..32 bytes of [a-z0-9-] with no leading,
// trailing or doubled dash.
func validateID(what, s string) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidID, what)
	}
	if len(s) > MaxIDLength {
		return fmt.Errorf("%w: %s %q exceeds %d bytes", ErrInvalidID, what, s, MaxIDLength)
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return fmt.Errorf("%w: %s %q starts or ends with '-'", ErrInvalidID, what, s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-':
			if s[i-1] == '-' {
				return fmt.Errorf("%w: %s %q contains '--'", ErrInvalidID, what, s)
			}
		default:
			return fmt.Errorf("%w: %s %q contains %q", ErrInvalidID, what, s, c)
		}
	}
	return nil
}

// Metadata is an opaque project description of at most 128 bytes.
type Metadata []byte

// Validate checks the length bound.
func (m Metadata) Validate() error {
	if len(m) > MaxMetadataLength {
		return fmt.Errorf("metadata is %d bytes, max %d", len(m), MaxMetadataLength)
	}
	return nil
}
