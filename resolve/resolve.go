// Package resolve implements the conflict resolver of spec section
// 4.3: the rules for applying one already-validated, already-dedup'd
// envelope to the replicated state. It is stateless with respect to
// sequence numbers — those live in the state manager, which calls
// into this package only after its own per-sender LWW check passes.
package resolve

import (
	"github.com/aguiran/p2play-js/wire"
)

// Mode selects whether move/inventory/transfer are gated by authority.
type Mode string

const (
	// ModeTimestamp accepts move/inventory/transfer from any sender;
	// last-writer-wins is entirely a function of the state manager's
	// per-sender sequence tracking.
	ModeTimestamp Mode = "timestamp"

	// ModeAuthoritative additionally rejects any move/inventory/transfer
	// whose From does not match the current AuthorityProvider result.
	// Snapshots and deltas are never gated by authority.
	ModeAuthoritative Mode = "authoritative"
)

// AuthorityProvider returns the id currently treated as authoritative
// in ModeAuthoritative. The session facade wires this to either a
// pinned configuration value or the live host id (see mesh.Session).
type AuthorityProvider func() wire.PlayerId

// Resolver applies accepted envelopes to a GlobalGameState.
type Resolver struct {
	mode      Mode
	authority AuthorityProvider
}

// New constructs a Resolver. authority may be nil when mode is
// ModeTimestamp, since it is never consulted.
func New(mode Mode, authority AuthorityProvider) *Resolver {
	return &Resolver{mode: mode, authority: authority}
}

// allowed reports whether from is permitted to mutate the
// authoritative fields (move/inventory/transfer). Always true in
// ModeTimestamp.
func (r *Resolver) allowed(from wire.PlayerId) bool {
	if r.mode != ModeAuthoritative {
		return true
	}
	if r.authority == nil {
		return true
	}
	return from == r.authority()
}

// ApplyMove upserts players[from], merging position and velocity
// field-wise so that a message omitting velocity does not clear the
// player's last known velocity. Returns false if the authority gate
// rejects the sender.
func (r *Resolver) ApplyMove(state *wire.GlobalGameState, envelope wire.Envelope) bool {
	if !r.allowed(envelope.From) {
		return false
	}
	if envelope.Position == nil {
		return false
	}

	existing := state.Players[envelope.From]

	var existingPosition *wire.Vector
	if existing != nil {
		existingPosition = &existing.Position
	}
	position := wire.MergeVector(existingPosition, *envelope.Position)

	var velocity *wire.Vector
	switch {
	case envelope.Velocity != nil:
		var existingVelocity *wire.Vector
		if existing != nil {
			existingVelocity = existing.Velocity
		}
		merged := wire.MergeVector(existingVelocity, *envelope.Velocity)
		velocity = &merged
	case existing != nil:
		velocity = existing.Velocity
	}

	state.Players[envelope.From] = &wire.PlayerState{
		ID:       envelope.From,
		Position: position,
		Velocity: velocity,
	}
	return true
}

// ApplyInventory replaces inventories[from] with a deep, deduplicated,
// pruned copy of the provided list. Returns false if the authority
// gate rejects the sender.
func (r *Resolver) ApplyInventory(state *wire.GlobalGameState, envelope wire.Envelope) bool {
	if !r.allowed(envelope.From) {
		return false
	}
	state.Inventories[envelope.From] = normalizeInventory(envelope.Items)
	return true
}

// ApplyTransfer moves one item stack from envelope.From to
// envelope.To. Rejects (returns false, without mutating state) if
// From's inventory lacks the item or holds an insufficient quantity,
// or if the authority gate rejects the sender.
func (r *Resolver) ApplyTransfer(state *wire.GlobalGameState, envelope wire.Envelope) bool {
	if !r.allowed(envelope.From) {
		return false
	}
	if envelope.Item == nil || envelope.To == "" {
		return false
	}

	senderItems := state.Inventories[envelope.From]
	index, found := indexOfItem(senderItems, envelope.Item.ID)
	if !found || senderItems[index].Quantity < envelope.Item.Quantity {
		return false
	}

	senderItems[index].Quantity -= envelope.Item.Quantity
	state.Inventories[envelope.From] = wire.PruneEmptyInventory(senderItems)

	receiverItems := state.Inventories[envelope.To]
	if receiverIndex, found := indexOfItem(receiverItems, envelope.Item.ID); found {
		receiverItems[receiverIndex].Quantity += envelope.Item.Quantity
	} else {
		receiverItems = append(receiverItems, wire.InventoryItem{
			ID:       envelope.Item.ID,
			Type:     envelope.Item.Type,
			Quantity: envelope.Item.Quantity,
		})
	}
	state.Inventories[envelope.To] = receiverItems

	return true
}

// ApplyDelta walks delta's paths against state, per wire.ApplyDelta.
// Deltas are never gated by authority: the state manager's per-sender
// dedup already rate-limits how often any one sender's deltas apply.
func (r *Resolver) ApplyDelta(state *wire.GlobalGameState, delta wire.StateDelta) error {
	return wire.ApplyDelta(state, delta)
}

func indexOfItem(items []wire.InventoryItem, id string) (int, bool) {
	for i, item := range items {
		if item.ID == id {
			return i, true
		}
	}
	return 0, false
}

// normalizeInventory deep-copies items, merging duplicate item ids by
// summing quantities and pruning any entry that nets to zero or
// below — enforcing the "never two entries with the same item id, and
// zero-quantity entries are pruned" invariant regardless of what the
// sender's list looked like on the wire.
func normalizeInventory(items []wire.InventoryItem) []wire.InventoryItem {
	order := make([]string, 0, len(items))
	byID := make(map[string]wire.InventoryItem, len(items))

	for _, item := range items {
		if existing, ok := byID[item.ID]; ok {
			existing.Quantity += item.Quantity
			byID[item.ID] = existing
			continue
		}
		byID[item.ID] = item
		order = append(order, item.ID)
	}

	normalized := make([]wire.InventoryItem, 0, len(order))
	for _, id := range order {
		if byID[id].Quantity > 0 {
			normalized = append(normalized, byID[id])
		}
	}
	return normalized
}
