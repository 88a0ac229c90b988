package types_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry/types"
)

// roundTrip marshals v, unmarshals into a new T, and returns it.
func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	data, err := cramberry.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out T
	if err := cramberry.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return out
}

func TestTimestamp_RoundTrip(t *testing.T) {
	ts := types.TimeToTimestamp(time.Date(2024, 6, 15, 12, 30, 45, 123456789, time.UTC))
	got := roundTrip(t, ts)
	if got != ts {
		t.Fatalf("Timestamp round-trip failed: got %+v, want %+v", got, ts)
	}
	goTime := got.ToTime()
	if goTime.Year() != 2024 || goTime.Month() != 6 || goTime.Day() != 15 {
		t.Fatalf("Timestamp.ToTime date wrong: %v", goTime)
	}
	if goTime.Nanosecond() != 123456789 {
		t.Fatalf("Timestamp.ToTime nanos wrong: %d", goTime.Nanosecond())
	}
}

func TestFinalizedBlock_RoundTrip(t *testing.T) {
	author := types.AccountId{0x07}
	v := types.FinalizedBlock{
		Height:        100,
		Time:          types.TimeToTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Txs:           []types.Tx{[]byte("tx1"), []byte("tx2")},
		LastBlockHash: types.Hash{0xFF},
		Author:        &author,
	}
	got := roundTrip(t, v)
	if got.Height != v.Height || got.LastBlockHash != v.LastBlockHash {
		t.Fatalf("FinalizedBlock round-trip failed: %+v", got)
	}
	if got.Author == nil || *got.Author != author {
		t.Fatalf("FinalizedBlock.Author lost")
	}
	if len(got.Txs) != 2 || !bytes.Equal(got.Txs[1], []byte("tx2")) {
		t.Fatalf("FinalizedBlock.Txs wrong")
	}
}

func TestBlockOutcome_RoundTrip(t *testing.T) {
	v := types.BlockOutcome{
		TxOutcomes: []types.TxOutcome{
			{Index: 0, Code: 0, Events: []types.Event{types.NewEvent(types.EventFeePaid, "amount", "10")}},
			{Index: 1, Code: 101, Info: "org not found"},
		},
		AppHash: types.AppHash{0xAB},
	}
	got := roundTrip(t, v)
	if got.AppHash != v.AppHash {
		t.Fatalf("BlockOutcome.AppHash mismatch")
	}
	if len(got.TxOutcomes) != 2 || got.TxOutcomes[1].Code != 101 || got.TxOutcomes[1].OK() {
		t.Fatalf("BlockOutcome.TxOutcomes wrong: %+v", got.TxOutcomes)
	}
	if amt, ok := got.TxOutcomes[0].Events[0].Attr("amount"); !ok || amt != "10" {
		t.Fatalf("event attribute lost")
	}
}

func TestHandshakeResponse_RoundTrip(t *testing.T) {
	ah := types.AppHash{0xBE, 0xEF}
	v := types.HandshakeResponse{
		AppHash:      &ah,
		Capabilities: types.CapProposalControl | types.CapSimulation,
		GenesisHash:  types.Hash{0x01},
	}
	got := roundTrip(t, v)
	if got.AppHash == nil || *got.AppHash != ah {
		t.Fatalf("HandshakeResponse.AppHash mismatch")
	}
	if !got.Capabilities.Has(types.CapProposalControl) || got.Capabilities.Has(types.CapStateSync) {
		t.Fatalf("HandshakeResponse.Capabilities wrong: %s", got.Capabilities)
	}
	if got.LastBlock != nil {
		t.Fatalf("nil LastBlock should stay nil")
	}
}

func TestCapabilities_String(t *testing.T) {
	if s := types.Capabilities(0).String(); s != "none" {
		t.Fatalf("got %q", s)
	}
	if s := (types.CapProposalControl | types.CapStateSync).String(); s != "ProposalControl|StateSync" {
		t.Fatalf("got %q", s)
	}
}

func TestGenesisDoc_HashStable(t *testing.T) {
	doc := types.GenesisDoc{
		ChainID:       "test",
		GenesisTime:   types.TimeToTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		InitialHeight: 1,
		AppState:      []byte(`{"accounts":[]}`),
	}
	h1, err := doc.Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := roundTrip(t, doc).Hash()
	if h1 != h2 {
		t.Fatalf("genesis hash changed across round trip")
	}
	doc.ChainID = "other"
	h3, _ := doc.Hash()
	if h3 == h1 {
		t.Fatalf("different genesis docs hash the same")
	}
}

func TestInclusionEvent_RoundTrip(t *testing.T) {
	v := types.InclusionEvent{
		Status:  types.StatusApplied,
		TxHash:  types.Hash{0x09},
		Block:   types.BlockID{Height: 3, Hash: types.Hash{0x03}},
		Index:   2,
		Outcome: &types.TxOutcome{Index: 2, Code: 0},
	}
	got := roundTrip(t, v)
	if got.Status != types.StatusApplied || got.Block != v.Block || got.Outcome == nil {
		t.Fatalf("InclusionEvent round-trip failed: %+v", got)
	}
}

func TestInclusionStatus_Terminal(t *testing.T) {
	for _, s := range []types.InclusionStatus{types.StatusPending, types.StatusIncluded} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []types.InclusionStatus{types.StatusApplied, types.StatusRetracted, types.StatusDropped, types.StatusRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestSnapshotPayload_RoundTrip(t *testing.T) {
	v := types.SnapshotPayload{
		Height:  7,
		AppHash: types.AppHash{0x01},
		Entries: []types.Entry{
			{Key: []byte("account:aa"), Value: []byte{1}},
			{Key: []byte("org:acme"), Value: []byte{2}},
		},
	}
	got := roundTrip(t, v)
	if got.Height != 7 || len(got.Entries) != 2 || string(got.Entries[1].Key) != "org:acme" {
		t.Fatalf("SnapshotPayload round-trip failed: %+v", got)
	}
}
