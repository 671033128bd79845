package validate

import (
	"testing"

	"github.com/aguiran/p2play-js/wire"
)

func TestAcceptValidMove(t *testing.T) {
	v := New()
	envelope := wire.Envelope{
		T: wire.MessageMove, From: "alice", Ts: 1,
		Position: &wire.Vector{X: 1, Y: 2},
	}
	if !v.Accept(envelope) {
		t.Fatal("expected valid move to be accepted")
	}
}

func TestRejectMoveMissingPosition(t *testing.T) {
	v := New()
	envelope := wire.Envelope{T: wire.MessageMove, From: "alice", Ts: 1}
	if v.Accept(envelope) {
		t.Fatal("expected move without position to be rejected")
	}
}

func TestRejectMoveMissingFrom(t *testing.T) {
	v := New()
	envelope := wire.Envelope{T: wire.MessageMove, Ts: 1, Position: &wire.Vector{X: 1, Y: 2}}
	if v.Accept(envelope) {
		t.Fatal("expected move without from to be rejected")
	}
}

func TestAcceptValidTransfer(t *testing.T) {
	v := New()
	envelope := wire.Envelope{
		T: wire.MessageTransfer, From: "bob", Ts: 1, To: "alice",
		Item: &wire.InventoryItem{ID: "potion", Quantity: 1},
	}
	if !v.Accept(envelope) {
		t.Fatal("expected valid transfer to be accepted")
	}
}

func TestRejectTransferMissingItem(t *testing.T) {
	v := New()
	envelope := wire.Envelope{T: wire.MessageTransfer, From: "bob", Ts: 1, To: "alice"}
	if v.Accept(envelope) {
		t.Fatal("expected transfer without item to be rejected")
	}
}

func TestAcceptValidInventory(t *testing.T) {
	v := New()
	envelope := wire.Envelope{
		T: wire.MessageInventory, From: "bob", Ts: 1,
		Items: []wire.InventoryItem{{ID: "potion", Quantity: 1}},
	}
	if !v.Accept(envelope) {
		t.Fatal("expected valid inventory to be accepted")
	}
}

func TestRejectInventoryMissingItems(t *testing.T) {
	v := New()
	envelope := wire.Envelope{T: wire.MessageInventory, From: "bob", Ts: 1}
	if v.Accept(envelope) {
		t.Fatal("expected inventory without items to be rejected")
	}
}

func TestAcceptValidStateFullAndDelta(t *testing.T) {
	v := New()
	full := wire.Envelope{T: wire.MessageStateFull, From: "host", Ts: 1, State: wire.New()}
	if !v.Accept(full) {
		t.Fatal("expected valid state_full to be accepted")
	}

	delta := wire.Envelope{T: wire.MessageStateDelta, From: "host", Ts: 1, Delta: &wire.StateDelta{Tick: 1}}
	if !v.Accept(delta) {
		t.Fatal("expected valid state_delta to be accepted")
	}
}

func TestAcceptPayloadWithNoAdditionalConstraint(t *testing.T) {
	v := New()
	envelope := wire.Envelope{T: wire.MessagePayload, From: "carol", Ts: 1, Payload: "anything"}
	if !v.Accept(envelope) {
		t.Fatal("expected payload to be accepted with only base fields required")
	}
}

func TestRejectUnknownType(t *testing.T) {
	v := New()
	envelope := wire.Envelope{T: "sabotage", From: "carol", Ts: 1}
	if v.Accept(envelope) {
		t.Fatal("expected unknown message type to be rejected")
	}
}

func TestRejectPingAndPong(t *testing.T) {
	v := New()
	for _, mt := range []wire.MessageType{wire.MessagePing, wire.MessagePong} {
		envelope := wire.Envelope{T: mt, From: "dave", Ts: 1}
		if v.Accept(envelope) {
			t.Fatalf("expected %s to be rejected by the application-layer validator", mt)
		}
	}
}
