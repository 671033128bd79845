// Package statemgr implements the state manager of spec section 4.4:
// the sole owner of the replicated GlobalGameState and the per-sender
// sequence table that gives last-writer-wins ordering. Manager is not
// safe for concurrent use — per the session's single-threaded
// cooperative scheduling model, every call is expected to run on one
// goroutine, so no internal locking is used or needed.
package statemgr

import (
	"fmt"
	"log/slog"

	"github.com/aguiran/p2play-js/eventbus"
	"github.com/aguiran/p2play-js/resolve"
	"github.com/aguiran/p2play-js/validate"
	"github.com/aguiran/p2play-js/wire"
)

// Manager dispatches accepted envelopes against a GlobalGameState and
// emits the corresponding domain event on its bus.
type Manager struct {
	logger    *slog.Logger
	bus       *eventbus.Bus
	validator *validate.Validator
	resolver  *resolve.Resolver
	localID   wire.PlayerId

	state          *wire.GlobalGameState
	lastAppliedSeq map[wire.PlayerId]int64
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New constructs a Manager for localID, dispatching accepted envelopes
// to resolver and announcing outcomes on bus.
func New(localID wire.PlayerId, bus *eventbus.Bus, validator *validate.Validator, resolver *resolve.Resolver, opts ...Option) *Manager {
	m := &Manager{
		logger:         slog.Default(),
		bus:            bus,
		validator:      validator,
		resolver:       resolver,
		localID:        localID,
		state:          wire.New(),
		lastAppliedSeq: make(map[wire.PlayerId]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a deep copy of the replicated state. Safe to retain
// and mutate; it can never affect the manager's internal state.
func (m *Manager) State() *wire.GlobalGameState {
	return m.state.Clone()
}

// Handle runs envelope through structural validation, per-sender
// sequence gating, and dispatch, in that order, per spec section 4.4.
// A rejection at any step is a silent drop; a debug trace is logged at
// Debug level so a caller that wants visibility can raise the logger's
// level rather than flip a separate switch.
func (m *Manager) Handle(envelope wire.Envelope) {
	if !m.validator.Accept(envelope) {
		m.logger.Debug("statemgr: rejected envelope, failed structural validation", "type", envelope.T, "from", envelope.From)
		return
	}

	if envelope.Seq != nil {
		last, seen := m.lastAppliedSeq[envelope.From]
		if !seen {
			last = -1
		}
		if *envelope.Seq <= last {
			m.logger.Debug("statemgr: dropped stale envelope", "from", envelope.From, "seq", *envelope.Seq, "last", last)
			return
		}
		m.lastAppliedSeq[envelope.From] = *envelope.Seq
	}

	m.bus.EmitNetMessage(eventbus.NetMessageEvent{Envelope: envelope})

	switch envelope.T {
	case wire.MessageMove:
		m.handleMove(envelope)
	case wire.MessageInventory:
		m.handleInventory(envelope)
	case wire.MessageTransfer:
		m.handleTransfer(envelope)
	case wire.MessageStateFull:
		m.handleStateFull(envelope)
	case wire.MessageStateDelta:
		m.handleStateDelta(envelope)
	case wire.MessagePayload:
		m.handlePayload(envelope)
	default:
		m.logger.Debug("statemgr: no dispatch handler for accepted type", "type", envelope.T)
	}
}

func (m *Manager) handleMove(envelope wire.Envelope) {
	if !m.resolver.ApplyMove(m.state, envelope) {
		m.logger.Debug("statemgr: move rejected by resolver", "from", envelope.From)
		return
	}
	player := m.state.Players[envelope.From]
	m.bus.EmitPlayerMove(eventbus.PlayerMoveEvent{
		PlayerId: envelope.From,
		Position: player.Position,
		Velocity: player.Velocity,
	})
}

func (m *Manager) handleInventory(envelope wire.Envelope) {
	if !m.resolver.ApplyInventory(m.state, envelope) {
		m.logger.Debug("statemgr: inventory update rejected by resolver", "from", envelope.From)
		return
	}
	m.bus.EmitInventoryUpdate(eventbus.InventoryUpdateEvent{
		PlayerId:  envelope.From,
		Inventory: cloneItems(m.state.Inventories[envelope.From]),
	})
}

func (m *Manager) handleTransfer(envelope wire.Envelope) {
	if !m.resolver.ApplyTransfer(m.state, envelope) {
		m.logger.Debug("statemgr: transfer rejected by resolver", "from", envelope.From, "to", envelope.To)
		return
	}
	m.bus.EmitObjectTransfer(eventbus.ObjectTransferEvent{
		From: envelope.From,
		To:   envelope.To,
		Item: *envelope.Item,
	})
}

// handleStateFull applies the snapshot merge rule: remote peers are
// overwritten unconditionally, the local player's own entry is
// applied only on initial join (detected by the absence of any entry
// for localID in lastAppliedSeq), objects are always replaced
// wholesale, and tick only ever advances.
func (m *Manager) handleStateFull(envelope wire.Envelope) {
	if envelope.State == nil {
		return
	}
	incoming := envelope.State
	_, alreadyJoined := m.lastAppliedSeq[m.localID]

	for id, player := range incoming.Players {
		if id == m.localID {
			if alreadyJoined {
				continue
			}
			m.state.Players[id] = player.Clone()
			continue
		}
		m.state.Players[id] = player.Clone()
	}

	for id, items := range incoming.Inventories {
		if id == m.localID {
			if alreadyJoined {
				continue
			}
			m.state.Inventories[id] = cloneItems(items)
			continue
		}
		m.state.Inventories[id] = cloneItems(items)
	}

	m.state.Objects = make(map[string]wire.GameObject, len(incoming.Objects))
	for id, obj := range incoming.Objects {
		obj.Data = wire.DeepCopyValue(obj.Data)
		m.state.Objects[id] = obj
	}

	if m.state.Tick < incoming.Tick {
		m.state.Tick = incoming.Tick
	}

	if !alreadyJoined {
		m.lastAppliedSeq[m.localID] = 0
	}

	m.bus.EmitStateSync(eventbus.StateSyncEvent{From: envelope.From, State: m.state.Clone()})
}

func (m *Manager) handleStateDelta(envelope wire.Envelope) {
	if envelope.Delta == nil {
		return
	}
	if err := m.resolver.ApplyDelta(m.state, *envelope.Delta); err != nil {
		m.logger.Debug("statemgr: failed to apply delta", "from", envelope.From, "err", err)
		return
	}
	m.bus.EmitStateDelta(eventbus.StateDeltaEvent{From: envelope.From, Delta: *envelope.Delta})
}

func (m *Manager) handlePayload(envelope wire.Envelope) {
	m.bus.EmitSharedPayload(eventbus.SharedPayloadEvent{
		From:    envelope.From,
		Payload: envelope.Payload,
		Channel: envelope.Channel,
	})
}

// BuildDelta increments tick and returns a delta carrying the current
// value at each requested path, ready to broadcast.
func (m *Manager) BuildDelta(paths []string) (wire.StateDelta, error) {
	delta, err := wire.BuildDeltaFromPaths(m.state, paths)
	if err != nil {
		return wire.StateDelta{}, fmt.Errorf("statemgr: building delta: %w", err)
	}
	return delta, nil
}

// SetState replaces the replicated state wholesale — used by
// setStateAndBroadcast, which bypasses the resolver and validator
// entirely since it originates locally and is authoritative by
// definition.
func (m *Manager) SetState(next *wire.GlobalGameState) {
	m.state = next.Clone()
}

// DeletePlayer removes id's player and inventory entries from the
// local state. Used by the session facade's cleanupOnPeerLeave path,
// which then broadcasts a delta over the same two paths so remote
// peers converge on the same removal.
func (m *Manager) DeletePlayer(id wire.PlayerId) {
	delete(m.state.Players, id)
	delete(m.state.Inventories, id)
}

// InsertLocalPresence upserts id's player entry unconditionally,
// bypassing both the sequence gate and the conflict resolver's
// authority check. Used exclusively by the session facade's
// announcePresence, which must always succeed locally regardless of
// the configured conflict-resolution mode: a peer must always be able
// to establish its own initial presence, even one that is not (and
// may never become) the authoritative client.
func (m *Manager) InsertLocalPresence(id wire.PlayerId, position wire.Vector, velocity *wire.Vector) {
	player := &wire.PlayerState{ID: id, Position: position.Clone()}
	if velocity != nil {
		v := velocity.Clone()
		player.Velocity = &v
	}
	m.state.Players[id] = player
}

// MutateState runs fn against the live replicated state, not a copy.
// The only caller is the session facade's per-tick pass, which hands
// the same state pointer to the movement integrator so its
// extrapolation and collision separation persist frame over frame
// instead of being discarded with each deep copy.
func (m *Manager) MutateState(fn func(*wire.GlobalGameState)) {
	fn(m.state)
}

func cloneItems(items []wire.InventoryItem) []wire.InventoryItem {
	cloned := make([]wire.InventoryItem, len(items))
	copy(cloned, items)
	return cloned
}
