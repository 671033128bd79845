package wire

// PlayerId is an opaque, non-empty identifier for a participant. Its
// only semantic use outside identity comparison is participation in
// the total order defined by the peer package (numeric-aware,
// otherwise byte-wise lexicographic).
type PlayerId = string

// PlayerState is exclusively owned by the replicated state: created by
// the first accepted move or a snapshot merge, mutated by the conflict
// resolver and the movement integrator, removed on explicit cleanup or
// snapshot overwrite.
type PlayerState struct {
	ID       PlayerId `json:"id" cbor:"id"`
	Position Vector   `json:"position" cbor:"position"`
	Velocity *Vector  `json:"velocity,omitempty" cbor:"velocity,omitempty"`
}

// Clone returns a deep copy of the player state.
func (p *PlayerState) Clone() *PlayerState {
	if p == nil {
		return nil
	}
	clone := &PlayerState{ID: p.ID, Position: p.Position.Clone()}
	if p.Velocity != nil {
		v := p.Velocity.Clone()
		clone.Velocity = &v
	}
	return clone
}

// InventoryItem is a stack of a single item type. The resolver prunes
// items that reach quantity 0 on inventory and transfer writes;
// snapshot and delta application store inventory lists as received.
type InventoryItem struct {
	ID       string `json:"id" cbor:"id"`
	Type     string `json:"type" cbor:"type"`
	Quantity int    `json:"quantity" cbor:"quantity"`
}

// GameObject is a free-form world object addressed by string id.
// Objects are replaced wholesale on state_full and mutated
// path-addressably on state_delta; Data is opaque application payload.
type GameObject struct {
	ID   string `json:"id" cbor:"id"`
	Kind string `json:"kind" cbor:"kind"`
	Data any    `json:"data,omitempty" cbor:"data,omitempty"`
}

// GlobalGameState is the single per-session replicated world. Exactly
// one instance exists per session, owned by the state manager.
//
// Invariants (enforced by statemgr, not by this type):
//   - Tick is non-decreasing over the session's lifetime.
//   - Inventories[p] never holds two entries with the same item id.
//   - Objects is replaced wholesale on snapshot, mutated path-addressably
//     on delta.
type GlobalGameState struct {
	Players     map[PlayerId]*PlayerState  `json:"players" cbor:"players"`
	Inventories map[PlayerId][]InventoryItem `json:"inventories" cbor:"inventories"`
	Objects     map[string]GameObject      `json:"objects" cbor:"objects"`
	Tick        int64                      `json:"tick" cbor:"tick"`
}

// New returns an empty, ready-to-use GlobalGameState.
func New() *GlobalGameState {
	return &GlobalGameState{
		Players:     make(map[PlayerId]*PlayerState),
		Inventories: make(map[PlayerId][]InventoryItem),
		Objects:     make(map[string]GameObject),
	}
}

// Clone returns a deep copy: mutating the result never affects the
// receiver. This backs both the snapshot-merge machinery and the
// public Session.GetState contract (spec invariant: GetState is a pure
// function).
func (s *GlobalGameState) Clone() *GlobalGameState {
	if s == nil {
		return nil
	}
	clone := &GlobalGameState{
		Players:     make(map[PlayerId]*PlayerState, len(s.Players)),
		Inventories: make(map[PlayerId][]InventoryItem, len(s.Inventories)),
		Objects:     make(map[string]GameObject, len(s.Objects)),
		Tick:        s.Tick,
	}
	for id, player := range s.Players {
		clone.Players[id] = player.Clone()
	}
	for id, items := range s.Inventories {
		cloned := make([]InventoryItem, len(items))
		copy(cloned, items)
		clone.Inventories[id] = cloned
	}
	for id, obj := range s.Objects {
		obj.Data = deepCopyValue(obj.Data)
		clone.Objects[id] = obj
	}
	return clone
}

// PruneEmptyInventory removes any InventoryItem with Quantity <= 0
// from items, preserving order of the remainder.
func PruneEmptyInventory(items []InventoryItem) []InventoryItem {
	pruned := items[:0:0]
	for _, item := range items {
		if item.Quantity > 0 {
			pruned = append(pruned, item)
		}
	}
	return pruned
}
