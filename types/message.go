package types

import (
	"errors"
	"fmt"
)

// MessageKind identifies a message variant.
type MessageKind uint8

const (
	KindInvalid MessageKind = iota
	KindRegisterOrg
	KindUnregisterOrg
	KindRegisterMember
	KindRegisterProject
	KindTransferFromOrg
	KindCreateCheckpoint
	KindSetCheckpoint
	KindTransfer
	KindRegisterUser
	KindUnregisterUser
)

var kindNames = [...]string{
	KindInvalid:          "Invalid",
	KindRegisterOrg:      "RegisterOrg",
	KindUnregisterOrg:    "UnregisterOrg",
	KindRegisterMember:   "RegisterMember",
	KindRegisterProject:  "RegisterProject",
	KindTransferFromOrg:  "TransferFromOrg",
	KindCreateCheckpoint: "CreateCheckpoint",
	KindSetCheckpoint:    "SetCheckpoint",
	KindTransfer:         "Transfer",
	KindRegisterUser:     "RegisterUser",
	KindUnregisterUser:   "UnregisterUser",
}

func (k MessageKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// Message is the closed set of calls a transaction can carry.
// Exactly one field is set.
type Message struct {
	RegisterOrg      *RegisterOrg      `cramberry:"1"`
	UnregisterOrg    *UnregisterOrg    `cramberry:"2"`
	RegisterMember   *RegisterMember   `cramberry:"3"`
	RegisterProject  *RegisterProject  `cramberry:"4"`
	TransferFromOrg  *TransferFromOrg  `cramberry:"5"`
	CreateCheckpoint *CreateCheckpoint `cramberry:"6"`
	SetCheckpoint    *SetCheckpoint    `cramberry:"7"`
	Transfer         *Transfer         `cramberry:"8"`
	RegisterUser     *RegisterUser     `cramberry:"9"`
	UnregisterUser   *UnregisterUser   `cramberry:"10"`
}

// Payload is implemented by every message variant.
type Payload interface {
	Kind() MessageKind
	Validate() error
	wrap() Message
}

// NewMessage wraps a variant payload.
func NewMessage(p Payload) Message { return p.wrap() }

// ErrMalformedMessage is wrapped when a message does not carry
// exactly one valid variant.
var ErrMalformedMessage = errors.New("malformed message")

// Payload returns the single variant carried by m.
func (m Message) Payload() (Payload, error) {
	var found []Payload
	if m.RegisterOrg != nil {
		found = append(found, m.RegisterOrg)
	}
	if m.UnregisterOrg != nil {
		found = append(found, m.UnregisterOrg)
	}
	if m.RegisterMember != nil {
		found = append(found, m.RegisterMember)
	}
	if m.RegisterProject != nil {
		found = append(found, m.RegisterProject)
	}
	if m.TransferFromOrg != nil {
		found = append(found, m.TransferFromOrg)
	}
	if m.CreateCheckpoint != nil {
		found = append(found, m.CreateCheckpoint)
	}
	if m.SetCheckpoint != nil {
		found = append(found, m.SetCheckpoint)
	}
	if m.Transfer != nil {
		found = append(found, m.Transfer)
	}
	if m.RegisterUser != nil {
		found = append(found, m.RegisterUser)
	}
	if m.UnregisterUser != nil {
		found = append(found, m.UnregisterUser)
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("%w: %d variants set", ErrMalformedMessage, len(found))
	}
	return found[0], nil
}

// Kind returns the variant kind, or KindInvalid.
func (m Message) Kind() MessageKind {
	p, err := m.Payload()
	if err != nil {
		return KindInvalid
	}
	return p.Kind()
}

// Validate checks that exactly one variant is set and that it
// satisfies its construction invariants.
func (m Message) Validate() error {
	p, err := m.Payload()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedMessage, p.Kind(), err)
	}
	return nil
}

// --- Variants ---

// RegisterOrg creates an org with the sender as its only member.
type RegisterOrg struct {
	OrgID OrgId `cramberry:"1"`
}

func (m *RegisterOrg) Kind() MessageKind { return KindRegisterOrg }
func (m *RegisterOrg) Validate() error { return m.OrgID.Validate() }
func (m *RegisterOrg) wrap() Message { return Message{RegisterOrg: m} }

// UnregisterOrg removes an empty org.
type UnregisterOrg struct {
	OrgID OrgId `cramberry:"1"`
}

func (m *UnregisterOrg) Kind() MessageKind { return KindUnregisterOrg }
func (m *UnregisterOrg) Validate() error { return m.OrgID.Validate() }
func (m *UnregisterOrg) wrap() Message { return Message{UnregisterOrg: m} }

// RegisterMember adds an account to an org.
type RegisterMember struct {
	OrgID   OrgId     `cramberry:"1"`
	Account AccountId `cramberry:"2"`
}

func (m *RegisterMember) Kind() MessageKind { return KindRegisterMember }
func (m *RegisterMember) Validate() error { return m.OrgID.Validate() }
func (m *RegisterMember) wrap() Message { return Message{RegisterMember: m} }

// RegisterProject creates a project under an org.
type RegisterProject struct {
	OrgID       OrgId         `cramberry:"1"`
	ProjectName ProjectName   `cramberry:"2"`
	Metadata    Metadata      `cramberry:"3"`
	Checkpoint  *CheckpointId `cramberry:"4"`
}

func (m *RegisterProject) Kind() MessageKind { return KindRegisterProject }
func (m *RegisterProject) wrap() Message { return Message{RegisterProject: m} }
func (m *RegisterProject) Validate() error {
	if err := m.OrgID.Validate(); err != nil {
		return err
	}
	if err := m.ProjectName.Validate(); err != nil {
		return err
	}
	return m.Metadata.Validate()
}

// TransferFromOrg moves funds out of an org's account.
type TransferFromOrg struct {
	OrgID     OrgId     `cramberry:"1"`
	Recipient AccountId `cramberry:"2"`
	Amount    Balance   `cramberry:"3"`
}

func (m *TransferFromOrg) Kind() MessageKind { return KindTransferFromOrg }
func (m *TransferFromOrg) Validate() error { return m.OrgID.Validate() }
func (m *TransferFromOrg) wrap() Message { return Message{TransferFromOrg: m} }

// CreateCheckpoint records a new root (nil Parent) or child checkpoint.
type CreateCheckpoint struct {
	Parent      *CheckpointId `cramberry:"1"`
	ContentHash Hash          `cramberry:"2"`
}

func (m *CreateCheckpoint) Kind() MessageKind { return KindCreateCheckpoint }
func (m *CreateCheckpoint) Validate() error { return nil }
func (m *CreateCheckpoint) wrap() Message { return Message{CreateCheckpoint: m} }

// SetCheckpoint moves a project forward along its checkpoint lineage.
type SetCheckpoint struct {
	OrgID       OrgId        `cramberry:"1"`
	ProjectName ProjectName  `cramberry:"2"`
	Checkpoint  CheckpointId `cramberry:"3"`
}

func (m *SetCheckpoint) Kind() MessageKind { return KindSetCheckpoint }
func (m *SetCheckpoint) wrap() Message { return Message{SetCheckpoint: m} }
func (m *SetCheckpoint) Validate() error {
	if err := m.OrgID.Validate(); err != nil {
		return err
	}
	return m.ProjectName.Validate()
}

// Transfer moves funds from the sender.
type Transfer struct {
	Recipient AccountId `cramberry:"1"`
	Amount    Balance   `cramberry:"2"`
}

func (m *Transfer) Kind() MessageKind { return KindTransfer }
func (m *Transfer) Validate() error { return nil }
func (m *Transfer) wrap() Message { return Message{Transfer: m} }

// RegisterUser binds a user name to the sender's account.
type RegisterUser struct {
	UserID UserId `cramberry:"1"`
}

func (m *RegisterUser) Kind() MessageKind { return KindRegisterUser }
func (m *RegisterUser) Validate() error { return m.UserID.Validate() }
func (m *RegisterUser) wrap() Message { return Message{RegisterUser: m} }

// UnregisterUser removes the sender's user.
type UnregisterUser struct {
	UserID UserId `cramberry:"1"`
}

func (m *UnregisterUser) Kind() MessageKind { return KindUnregisterUser }
func (m *UnregisterUser) Validate() error { return m.UserID.Validate() }
func (m *UnregisterUser) wrap() Message { return Message{UnregisterUser: m} }
