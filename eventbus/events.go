package eventbus

import "github.com/aguiran/p2play-js/wire"

// Name is the closed set of event names the bus will deliver. Treating
// this as a Go string-const enum (rather than a bare string) means a
// typo in a Subscribe/Emit call is a broken reference, not a silently
// dead subscription.
type Name string

const (
	PeerJoin           Name = "peerJoin"
	PeerLeave          Name = "peerLeave"
	HostChange         Name = "hostChange"
	PlayerMove         Name = "playerMove"
	InventoryUpdate    Name = "inventoryUpdate"
	ObjectTransfer     Name = "objectTransfer"
	StateSync          Name = "stateSync"
	StateDelta         Name = "stateDelta"
	SharedPayload      Name = "sharedPayload"
	NetMessage         Name = "netMessage"
	Ping               Name = "ping"
	MaxCapacityReached Name = "maxCapacityReached"
)

// PeerJoinEvent is emitted after a remote peer is promoted to the
// active peer set.
type PeerJoinEvent struct {
	PeerId wire.PlayerId
}

// PeerLeaveEvent is emitted when a remote peer's transport closes or
// it is evicted from the roster.
type PeerLeaveEvent struct {
	PeerId wire.PlayerId
}

// HostChangeEvent is emitted only when the elected host actually
// changes.
type HostChangeEvent struct {
	HostId wire.PlayerId
}

// PlayerMoveEvent is emitted after a move envelope is accepted and
// applied to the replicated state.
type PlayerMoveEvent struct {
	PlayerId wire.PlayerId
	Position wire.Vector
	Velocity *wire.Vector
}

// InventoryUpdateEvent is emitted after an inventory replace mutates a
// player's inventory. An accepted transfer emits ObjectTransferEvent
// instead.
type InventoryUpdateEvent struct {
	PlayerId  wire.PlayerId
	Inventory []wire.InventoryItem
}

// ObjectTransferEvent is emitted once per accepted transfer.
type ObjectTransferEvent struct {
	From wire.PlayerId
	To   wire.PlayerId
	Item wire.InventoryItem
}

// StateSyncEvent is emitted after a state_full snapshot is merged.
type StateSyncEvent struct {
	From  wire.PlayerId
	State *wire.GlobalGameState
}

// StateDeltaEvent is emitted after a state_delta is applied.
type StateDeltaEvent struct {
	From  wire.PlayerId
	Delta wire.StateDelta
}

// SharedPayloadEvent is emitted for accepted `payload` messages.
type SharedPayloadEvent struct {
	From    wire.PlayerId
	Payload any
	Channel string
}

// NetMessageEvent carries every accepted-for-dispatch envelope
// verbatim, before the state manager's own semantic events fire. The
// peer manager guarantees From always equals the transport peer id
// regardless of wire content (see peer.Manager's identity discipline).
type NetMessageEvent struct {
	Envelope wire.Envelope
}

// PingEvent reports a measured round-trip time to a peer, computed
// from an internal ping/pong exchange. Raw ping/pong traffic never
// reaches NetMessageEvent.
type PingEvent struct {
	PeerId    wire.PlayerId
	RTTMillis int64
}

// MaxCapacityReachedEvent is emitted instead of attempting a
// connection when the mesh is already at capacity.
type MaxCapacityReachedEvent struct {
	MaxPlayers int
}
