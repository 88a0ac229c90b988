package types

// EventAttribute is a single key-value tag within an event.
type EventAttribute struct {
	Key   string `cramberry:"1"`
	Value string `cramberry:"2"`
	Index bool   `cramberry:"3"` // Whether indexers should pick this up.
}

// Event is emitted by a successful message or by fee payment.
type Event struct {
	Kind       string           `cramberry:"1"`
	Attributes []EventAttribute `cramberry:"2"`
}

// Event kinds emitted by the ledger.
const (
	EventFeePaid           = "fee_paid"
	EventOrgRegistered     = "org_registered"
	EventOrgUnregistered   = "org_unregistered"
	EventMemberRegistered  = "member_registered"
	EventProjectRegistered = "project_registered"
	EventCheckpointCreated = "checkpoint_created"
	EventCheckpointSet     = "checkpoint_set"
	EventTransfer          = "transfer"
	EventUserRegistered    = "user_registered"
	EventUserUnregistered  = "user_unregistered"
)

// NewEvent builds an event whose attributes are all indexed.
// kv alternates keys and values.
func NewEvent(kind string, kv ...string) Event {
	ev := Event{Kind: kind}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, EventAttribute{Key: kv[i], Value: kv[i+1], Index: true})
	}
	return ev
}

// Attr returns the value of the first attribute named key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// FindEvent returns the first event of the given kind.
func FindEvent(events []Event, kind string) (Event, bool) {
	for _, e := range events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}
