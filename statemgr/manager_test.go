package statemgr

import (
	"testing"

	"github.com/aguiran/p2play-js/eventbus"
	"github.com/aguiran/p2play-js/resolve"
	"github.com/aguiran/p2play-js/validate"
	"github.com/aguiran/p2play-js/wire"
)

func newTestManager(localID wire.PlayerId) (*Manager, *eventbus.Bus) {
	bus := eventbus.New(nil)
	mgr := New(localID, bus, validate.New(), resolve.New(resolve.ModeTimestamp, nil))
	return mgr, bus
}

func TestHandleMoveEmitsPlayerMove(t *testing.T) {
	mgr, bus := newTestManager("local")

	var got *eventbus.PlayerMoveEvent
	bus.OnPlayerMove(func(e eventbus.PlayerMoveEvent) { got = &e })

	mgr.Handle(wire.Envelope{
		T: wire.MessageMove, From: "alice", Ts: 1,
		Position: &wire.Vector{X: 1, Y: 2},
	})

	if got == nil {
		t.Fatal("expected playerMove event")
	}
	if got.PlayerId != "alice" || got.Position.X != 1 {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHandleDropsStructurallyInvalidEnvelope(t *testing.T) {
	mgr, bus := newTestManager("local")

	fired := false
	bus.OnPlayerMove(func(eventbus.PlayerMoveEvent) { fired = true })

	mgr.Handle(wire.Envelope{T: wire.MessageMove, From: "alice", Ts: 1})

	if fired {
		t.Fatal("expected invalid move to be dropped before dispatch")
	}
}

func TestHandleDropsStaleSequence(t *testing.T) {
	mgr, bus := newTestManager("local")

	var events []eventbus.PlayerMoveEvent
	bus.OnPlayerMove(func(e eventbus.PlayerMoveEvent) { events = append(events, e) })

	high, low := int64(5), int64(3)
	mgr.Handle(wire.Envelope{T: wire.MessageMove, From: "alice", Ts: 1, Seq: &high, Position: &wire.Vector{X: 1, Y: 1}})
	mgr.Handle(wire.Envelope{T: wire.MessageMove, From: "alice", Ts: 2, Seq: &low, Position: &wire.Vector{X: 9, Y: 9}})

	if len(events) != 1 {
		t.Fatalf("expected exactly one applied move, got %d", len(events))
	}
	state := mgr.State()
	if state.Players["alice"].Position.X != 1 {
		t.Fatalf("expected stale move to be dropped, got %+v", state.Players["alice"])
	}
}

func TestHandleEqualSequenceIsDropped(t *testing.T) {
	mgr, bus := newTestManager("local")

	count := 0
	bus.OnPlayerMove(func(eventbus.PlayerMoveEvent) { count++ })

	seq := int64(1)
	mgr.Handle(wire.Envelope{T: wire.MessageMove, From: "alice", Ts: 1, Seq: &seq, Position: &wire.Vector{X: 1, Y: 1}})
	mgr.Handle(wire.Envelope{T: wire.MessageMove, From: "alice", Ts: 2, Seq: &seq, Position: &wire.Vector{X: 2, Y: 2}})

	if count != 1 {
		t.Fatalf("expected second envelope with equal seq to be dropped, got %d applications", count)
	}
}

func TestHandleEmitsNetMessageBeforeSemanticEvent(t *testing.T) {
	mgr, bus := newTestManager("local")

	var order []string
	bus.OnNetMessage(func(eventbus.NetMessageEvent) { order = append(order, "net") })
	bus.OnPlayerMove(func(eventbus.PlayerMoveEvent) { order = append(order, "move") })

	mgr.Handle(wire.Envelope{T: wire.MessageMove, From: "alice", Ts: 1, Position: &wire.Vector{X: 1, Y: 1}})

	if len(order) != 2 || order[0] != "net" || order[1] != "move" {
		t.Fatalf("expected net message before semantic event, got %v", order)
	}
}

func TestHandleTransferEmitsObjectTransfer(t *testing.T) {
	mgr, bus := newTestManager("local")
	mgr.state.Inventories["bob"] = []wire.InventoryItem{{ID: "potion", Type: "heal", Quantity: 2}}

	var got *eventbus.ObjectTransferEvent
	bus.OnObjectTransfer(func(e eventbus.ObjectTransferEvent) { got = &e })

	mgr.Handle(wire.Envelope{
		T: wire.MessageTransfer, From: "bob", Ts: 1, To: "alice",
		Item: &wire.InventoryItem{ID: "potion", Type: "heal", Quantity: 1},
	})

	if got == nil || got.From != "bob" || got.To != "alice" || got.Item.Quantity != 1 {
		t.Fatalf("unexpected transfer event: %+v", got)
	}
}

func TestHandlePayloadEmitsSharedPayload(t *testing.T) {
	mgr, bus := newTestManager("local")

	var got *eventbus.SharedPayloadEvent
	bus.OnSharedPayload(func(e eventbus.SharedPayloadEvent) { got = &e })

	mgr.Handle(wire.Envelope{T: wire.MessagePayload, From: "carol", Ts: 1, Payload: "hi", Channel: "chat"})

	if got == nil || got.Channel != "chat" || got.Payload != "hi" {
		t.Fatalf("unexpected shared payload event: %+v", got)
	}
}

func TestHandleStateDeltaAppliesAndEmits(t *testing.T) {
	mgr, bus := newTestManager("local")

	var got *eventbus.StateDeltaEvent
	bus.OnStateDelta(func(e eventbus.StateDeltaEvent) { got = &e })

	mgr.Handle(wire.Envelope{
		T: wire.MessageStateDelta, From: "host", Ts: 1,
		Delta: &wire.StateDelta{Tick: 1, Changes: []wire.PathChange{{Path: "objects.rock.kind", Value: "boulder"}}},
	})

	if got == nil {
		t.Fatal("expected stateDelta event")
	}
	if mgr.state.Objects["rock"].Kind != "boulder" {
		t.Fatalf("expected delta applied, got %+v", mgr.state.Objects["rock"])
	}
}

func TestSnapshotOverwritesRemotePlayer(t *testing.T) {
	mgr, bus := newTestManager("local")
	mgr.state.Players["remote"] = &wire.PlayerState{ID: "remote", Position: wire.Vector{X: 1, Y: 1}}

	var got *eventbus.StateSyncEvent
	bus.OnStateSync(func(e eventbus.StateSyncEvent) { got = &e })

	incoming := wire.New()
	incoming.Players["remote"] = &wire.PlayerState{ID: "remote", Position: wire.Vector{X: 9, Y: 9}}
	incoming.Tick = 5

	mgr.Handle(wire.Envelope{T: wire.MessageStateFull, From: "host", Ts: 1, State: incoming})

	if got == nil {
		t.Fatal("expected stateSync event")
	}
	if mgr.state.Players["remote"].Position.X != 9 {
		t.Fatalf("expected remote player overwritten, got %+v", mgr.state.Players["remote"])
	}
	if mgr.state.Tick != 5 {
		t.Fatalf("expected tick advanced to 5, got %d", mgr.state.Tick)
	}
}

func TestSnapshotAppliesLocalOnlyOnInitialJoin(t *testing.T) {
	mgr, _ := newTestManager("local")

	firstSnapshot := wire.New()
	firstSnapshot.Players["local"] = &wire.PlayerState{ID: "local", Position: wire.Vector{X: 1, Y: 1}}
	mgr.Handle(wire.Envelope{T: wire.MessageStateFull, From: "host", Ts: 1, State: firstSnapshot})

	if mgr.state.Players["local"].Position.X != 1 {
		t.Fatalf("expected initial join to apply local snapshot, got %+v", mgr.state.Players["local"])
	}

	mgr.state.Players["local"].Position = wire.Vector{X: 50, Y: 50}

	secondSnapshot := wire.New()
	secondSnapshot.Players["local"] = &wire.PlayerState{ID: "local", Position: wire.Vector{X: 0, Y: 0}}
	mgr.Handle(wire.Envelope{T: wire.MessageStateFull, From: "host2", Ts: 2, State: secondSnapshot})

	if mgr.state.Players["local"].Position.X != 50 {
		t.Fatalf("expected live local position preserved after rejoin snapshot, got %+v", mgr.state.Players["local"])
	}
}

func TestSnapshotReplacesObjectsWholesale(t *testing.T) {
	mgr, _ := newTestManager("local")
	mgr.state.Objects["stale"] = wire.GameObject{ID: "stale", Kind: "rock"}

	incoming := wire.New()
	incoming.Objects["fresh"] = wire.GameObject{ID: "fresh", Kind: "tree"}
	mgr.Handle(wire.Envelope{T: wire.MessageStateFull, From: "host", Ts: 1, State: incoming})

	if _, exists := mgr.state.Objects["stale"]; exists {
		t.Fatal("expected stale object to be dropped on wholesale replace")
	}
	if mgr.state.Objects["fresh"].Kind != "tree" {
		t.Fatal("expected fresh object to be present")
	}
}

func TestBuildDeltaIncrementsTick(t *testing.T) {
	mgr, _ := newTestManager("local")
	mgr.state.Objects["rock"] = wire.GameObject{ID: "rock", Kind: "boulder"}

	delta, err := mgr.BuildDelta([]string{"objects.rock.kind"})
	if err != nil {
		t.Fatalf("BuildDelta: %v", err)
	}
	if mgr.state.Tick != 1 {
		t.Fatalf("expected BuildDelta to increment the manager tick from 0 to 1, got %d", mgr.state.Tick)
	}
	if delta.Tick != mgr.state.Tick {
		t.Fatalf("expected delta tick to match manager tick, got %d vs %d", delta.Tick, mgr.state.Tick)
	}
	if len(delta.Changes) != 1 || delta.Changes[0].Value != "boulder" {
		t.Fatalf("unexpected delta changes: %+v", delta.Changes)
	}
}

func TestStateReturnsIndependentCopy(t *testing.T) {
	mgr, _ := newTestManager("local")
	mgr.state.Players["alice"] = &wire.PlayerState{ID: "alice", Position: wire.Vector{X: 1, Y: 1}}

	copy1 := mgr.State()
	copy1.Players["alice"].Position.X = 999

	if mgr.state.Players["alice"].Position.X != 1 {
		t.Fatal("expected State() snapshot to be independent of internal state")
	}
}

func TestDeletePlayerRemovesPlayerAndInventory(t *testing.T) {
	mgr, _ := newTestManager("local")
	mgr.state.Players["bob"] = &wire.PlayerState{ID: "bob", Position: wire.Vector{X: 1, Y: 1}}
	mgr.state.Inventories["bob"] = []wire.InventoryItem{{ID: "potion", Type: "heal", Quantity: 1}}

	mgr.DeletePlayer("bob")

	if _, present := mgr.state.Players["bob"]; present {
		t.Fatal("expected bob to be removed from Players")
	}
	if _, present := mgr.state.Inventories["bob"]; present {
		t.Fatal("expected bob to be removed from Inventories")
	}
}

func TestInsertLocalPresenceBypassesAuthorityGate(t *testing.T) {
	bus := eventbus.New(nil)
	authority := resolve.AuthorityProvider(func() wire.PlayerId { return "host" })
	mgr := New("local", bus, validate.New(), resolve.New(resolve.ModeAuthoritative, authority))

	vy := 5.0
	mgr.InsertLocalPresence("local", wire.Vector{X: 1, Y: 2}, &wire.Vector{Y: vy})

	player := mgr.state.Players["local"]
	if player == nil || player.Position.X != 1 || player.Velocity == nil || player.Velocity.Y != vy {
		t.Fatalf("expected local presence inserted despite non-authoritative sender, got %+v", player)
	}
}

func TestInsertLocalPresenceDeepCopiesVector(t *testing.T) {
	mgr, _ := newTestManager("local")

	position := wire.Vector{X: 1, Y: 1}
	mgr.InsertLocalPresence("local", position, nil)
	position.X = 999

	if mgr.state.Players["local"].Position.X != 1 {
		t.Fatal("expected InsertLocalPresence to deep-copy the position, not alias the caller's vector")
	}
}

func TestMutateStateOperatesOnLiveState(t *testing.T) {
	mgr, _ := newTestManager("local")
	mgr.state.Players["alice"] = &wire.PlayerState{ID: "alice", Position: wire.Vector{X: 1, Y: 1}}

	mgr.MutateState(func(state *wire.GlobalGameState) {
		state.Players["alice"].Position.X = 42
	})

	if mgr.state.Players["alice"].Position.X != 42 {
		t.Fatal("expected MutateState to mutate the manager's own live state, not a copy")
	}
}
