package wire

// MessageType is the closed set of `t` values a NetMessage envelope
// may carry. Every dispatch site in this module switches over
// MessageType exhaustively (a `default` case that logs or returns an
// error, since Go has no sum types to enforce this at compile time —
// see DESIGN.md).
type MessageType string

const (
	MessageMove        MessageType = "move"
	MessageInventory   MessageType = "inventory"
	MessageTransfer    MessageType = "transfer"
	MessageStateFull   MessageType = "state_full"
	MessageStateDelta  MessageType = "state_delta"
	MessagePayload     MessageType = "payload"
	MessagePing        MessageType = "ping"
	MessagePong        MessageType = "pong"
)

// ApplicationTypes returns the message types the state manager
// dispatches (excludes ping/pong, which the peer manager answers
// internally and never forwards to the bus).
func ApplicationTypes() []MessageType {
	return []MessageType{
		MessageMove, MessageInventory, MessageTransfer,
		MessageStateFull, MessageStateDelta, MessagePayload,
	}
}

// Envelope is the on-wire message shape shared by every message type,
// per spec section 3's NetMessage table. Fields are flattened into a
// single struct rather than a Go interface hierarchy — Go has no
// tagged unions, and a flattened struct with omitempty fields is what
// this style of client/server protocol reaches for in practice
// (compare the clientMessage/stateMessage shape used elsewhere in the
// reference pack). T is the discriminant every dispatch site switches
// on.
type Envelope struct {
	T    MessageType `json:"t" cbor:"t"`
	From PlayerId    `json:"from" cbor:"from"`
	Ts   float64     `json:"ts" cbor:"ts"`
	Seq  *int64      `json:"seq,omitempty" cbor:"seq,omitempty"`
	TTL  *int64      `json:"ttl,omitempty" cbor:"ttl,omitempty"` // reserved, no relay logic defined

	// move
	Position *Vector `json:"position,omitempty" cbor:"position,omitempty"`
	Velocity *Vector `json:"velocity,omitempty" cbor:"velocity,omitempty"`

	// inventory
	Items []InventoryItem `json:"items,omitempty" cbor:"items,omitempty"`

	// transfer
	To   PlayerId       `json:"to,omitempty" cbor:"to,omitempty"`
	Item *InventoryItem `json:"item,omitempty" cbor:"item,omitempty"`

	// state_full
	State *GlobalGameState `json:"state,omitempty" cbor:"state,omitempty"`

	// state_delta
	Delta *StateDelta `json:"delta,omitempty" cbor:"delta,omitempty"`

	// payload
	Payload any    `json:"payload,omitempty" cbor:"payload,omitempty"`
	Channel string `json:"channel,omitempty" cbor:"channel,omitempty"`
}

// IsUnreliable reports whether t is routed to the unreliable data
// channel by default (move, ping, pong). Callers can still force
// either routing for one call via the override argument of
// peer.Manager.Broadcast and Send.
func (t MessageType) IsUnreliable() bool {
	return t == MessageMove || t == MessagePing || t == MessagePong
}
