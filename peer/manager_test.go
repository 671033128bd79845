package peer

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aguiran/p2play-js/eventbus"
	"github.com/aguiran/p2play-js/internal/clock"
	"github.com/aguiran/p2play-js/serialize"
	"github.com/aguiran/p2play-js/signaling/memory"
	"github.com/aguiran/p2play-js/wire"
)

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestManager(t *testing.T, hub *memory.Hub, id wire.PlayerId, opts ...Option) (*Manager, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	adapter := memory.NewAdapter(hub, id)
	serializer, err := serialize.New(serialize.SchemeJSON)
	if err != nil {
		t.Fatalf("serialize.New: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(Config{LocalID: id, MaxPlayers: 4}, bus, adapter, serializer, append([]Option{WithLogger(logger)}, opts...)...)
	t.Cleanup(func() { _ = m.Dispose() })
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, bus
}

func TestMeshFormsBetweenTwoPeers(t *testing.T) {
	hub := memory.NewHub()
	alice, aliceBus := newTestManager(t, hub, "alice")

	var aliceJoined, bobJoined bool
	aliceBus.OnPeerJoin(func(e eventbus.PeerJoinEvent) {
		if e.PeerId == "bob" {
			aliceJoined = true
		}
	})

	// The memory hub signals synchronously, so both peerJoin events fire
	// inside bob's Start: bob's subscription must exist before it.
	serializer, _ := serialize.New(serialize.SchemeJSON)
	bobBus := eventbus.New(nil)
	bob := New(Config{LocalID: "bob", MaxPlayers: 4}, bobBus, memory.NewAdapter(hub, "bob"), serializer)
	t.Cleanup(func() { _ = bob.Dispose() })
	bobBus.OnPeerJoin(func(e eventbus.PeerJoinEvent) {
		if e.PeerId == "alice" {
			bobJoined = true
		}
	})
	if err := bob.Start(); err != nil {
		t.Fatalf("bob Start: %v", err)
	}

	waitFor(t, func() bool { return aliceJoined && bobJoined })

	if peers := alice.PeerIDs(); len(peers) != 1 || peers[0] != "bob" {
		t.Fatalf("alice's peers = %v, want [bob]", peers)
	}
}

func TestHostElectionPicksLowestID(t *testing.T) {
	hub := memory.NewHub()
	alice, _ := newTestManager(t, hub, "alice")
	bob, _ := newTestManager(t, hub, "bob")

	// hostChange events fire synchronously inside Start, before a
	// subscription made here could see them, so poll HostID instead.
	waitFor(t, func() bool {
		aliceHost, _ := alice.HostID()
		bobHost, _ := bob.HostID()
		return aliceHost == "alice" && bobHost == "alice"
	})
}

func TestApplicationMessageCarriesIdentityDiscipline(t *testing.T) {
	hub := memory.NewHub()
	serializer, _ := serialize.New(serialize.SchemeJSON)

	aliceBus := eventbus.New(nil)
	alice := New(Config{LocalID: "alice", MaxPlayers: 4}, aliceBus, memory.NewAdapter(hub, "alice"), serializer)
	t.Cleanup(func() { _ = alice.Dispose() })
	if err := alice.Start(); err != nil {
		t.Fatalf("alice Start: %v", err)
	}

	var received wire.Envelope
	receivedCh := make(chan struct{}, 1)
	bobBus := eventbus.New(nil)
	bob := New(Config{LocalID: "bob", MaxPlayers: 4}, bobBus, memory.NewAdapter(hub, "bob"), serializer,
		WithMessageHandler(func(e wire.Envelope) {
			received = e
			select {
			case receivedCh <- struct{}{}:
			default:
			}
		}))
	t.Cleanup(func() { _ = bob.Dispose() })
	if err := bob.Start(); err != nil {
		t.Fatalf("bob Start: %v", err)
	}

	waitFor(t, func() bool { return len(alice.PeerIDs()) == 1 && len(bob.PeerIDs()) == 1 })

	z := 1.5
	alice.Broadcast(wire.Envelope{
		T: wire.MessageMove, From: "someone-else", Ts: 100,
		Position: &wire.Vector{X: 1, Y: 2, Z: &z},
	}, nil)

	select {
	case <-receivedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("bob never received alice's move envelope")
	}

	if received.From != "alice" {
		t.Fatalf("From = %q, want %q: identity discipline must overwrite the claimed sender with the transport peer id", received.From, "alice")
	}
	if received.T != wire.MessageMove {
		t.Fatalf("T = %q, want %q", received.T, wire.MessageMove)
	}
}

func TestPingPongNeverReachesMessageHandler(t *testing.T) {
	hub := memory.NewHub()
	serializer, _ := serialize.New(serialize.SchemeJSON)

	var forwarded []wire.MessageType
	aliceBus := eventbus.New(nil)
	alice := New(Config{LocalID: "alice", MaxPlayers: 4}, aliceBus, memory.NewAdapter(hub, "alice"), serializer,
		WithMessageHandler(func(e wire.Envelope) { forwarded = append(forwarded, e.T) }))
	t.Cleanup(func() { _ = alice.Dispose() })
	if err := alice.Start(); err != nil {
		t.Fatalf("alice Start: %v", err)
	}

	var pinged bool
	bobBus := eventbus.New(nil)
	bob := New(Config{LocalID: "bob", MaxPlayers: 4}, bobBus, memory.NewAdapter(hub, "bob"), serializer)
	t.Cleanup(func() { _ = bob.Dispose() })
	bobBus.OnPing(func(eventbus.PingEvent) { pinged = true })
	if err := bob.Start(); err != nil {
		t.Fatalf("bob Start: %v", err)
	}

	waitFor(t, func() bool { return len(alice.PeerIDs()) == 1 && len(bob.PeerIDs()) == 1 })

	// The internal 2s ping loop runs on a real ticker in this test
	// (both managers use clock.Real by default), so just wait for one
	// round trip rather than driving it explicitly.
	waitFor(t, func() bool { return pinged })

	for _, t2 := range forwarded {
		if t2 == wire.MessagePing || t2 == wire.MessagePong {
			t.Fatalf("ping/pong leaked to the application message handler: %v", forwarded)
		}
	}
}

func TestPendingOfferExpiresWithoutAnswer(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	hub := memory.NewHub()
	serializer, _ := serialize.New(serialize.SchemeJSON)
	bus := eventbus.New(nil)

	m := New(Config{LocalID: "alice", MaxPlayers: 4}, bus, memory.NewAdapter(hub, "alice"), serializer, WithClock(fake))
	t.Cleanup(func() { _ = m.Dispose() })
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.maybeConnect("zeta") // "alice" < "zeta" under compareIDs, so alice initiates

	waitFor(t, func() bool { return fake.PendingCount() >= 1 })
	fake.Advance(31 * time.Second)

	m.mu.Lock()
	_, stillPending := m.pendingInitiators["zeta"]
	m.mu.Unlock()
	if stillPending {
		t.Fatal("expected the pending offer to expire after 30s with no answer")
	}
}

func TestMaxCapacityReachedEmittedInsteadOfConnecting(t *testing.T) {
	hub := memory.NewHub()
	serializer, _ := serialize.New(serialize.SchemeJSON)
	bus := eventbus.New(nil)

	m := New(Config{LocalID: "alice", MaxPlayers: 1}, bus, memory.NewAdapter(hub, "alice"), serializer)
	t.Cleanup(func() { _ = m.Dispose() })
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var capacityHit bool
	bus.OnMaxCapacityReached(func(eventbus.MaxCapacityReachedEvent) { capacityHit = true })

	m.maybeConnect("bob")

	if !capacityHit {
		t.Fatal("expected maxCapacityReached with MaxPlayers=1, which leaves room for zero peers")
	}
	m.mu.Lock()
	pendingCount := len(m.pendingInitiators)
	m.mu.Unlock()
	if pendingCount != 0 {
		t.Fatal("expected no connection attempt when already at capacity")
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	hub := memory.NewHub()
	serializer, _ := serialize.New(serialize.SchemeJSON)
	bus := eventbus.New(nil)

	m := New(Config{LocalID: "alice", MaxPlayers: 4}, bus, memory.NewAdapter(hub, "alice"), serializer)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Dispose(); err != nil {
		t.Fatalf("first Dispose: %v", err)
	}
	if err := m.Dispose(); err != nil {
		t.Fatalf("second Dispose should be a no-op, got: %v", err)
	}
}

func TestRouteUnreliableFollowsMessageTypeByDefault(t *testing.T) {
	hub := memory.NewHub()
	m, _ := newTestManager(t, hub, "alice")

	move := wire.Envelope{T: wire.MessageMove}
	if !m.routeUnreliable(move, nil) {
		t.Fatal("move envelope should route unreliable by default")
	}

	inventory := wire.Envelope{T: wire.MessageInventory}
	if m.routeUnreliable(inventory, nil) {
		t.Fatal("inventory envelope should route reliable by default")
	}
}

func TestRouteUnreliableOverrideFlipsRoutingForOneCall(t *testing.T) {
	hub := memory.NewHub()
	m, _ := newTestManager(t, hub, "alice")

	unreliableTrue, unreliableFalse := true, false

	inventory := wire.Envelope{T: wire.MessageInventory}
	if !m.routeUnreliable(inventory, &unreliableTrue) {
		t.Fatal("override=true should force the unreliable channel regardless of message type")
	}

	move := wire.Envelope{T: wire.MessageMove}
	if m.routeUnreliable(move, &unreliableFalse) {
		t.Fatal("override=false should force the reliable channel regardless of message type")
	}
}
