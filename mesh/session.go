// Package mesh assembles wire, eventbus, serialize, validate, resolve,
// statemgr, movement, peer, and signaling into the single public
// entry point of the module: Session, per spec sections 4.1 and 6.
package mesh

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/aguiran/p2play-js/eventbus"
	"github.com/aguiran/p2play-js/internal/clock"
	"github.com/aguiran/p2play-js/movement"
	"github.com/aguiran/p2play-js/peer"
	"github.com/aguiran/p2play-js/resolve"
	"github.com/aguiran/p2play-js/serialize"
	"github.com/aguiran/p2play-js/signaling"
	"github.com/aguiran/p2play-js/statemgr"
	"github.com/aguiran/p2play-js/validate"
	"github.com/aguiran/p2play-js/wire"
)

// Option configures a Session beyond Config.
type Option func(*Session)

// WithLogger overrides the default slog.Default() logger, propagated
// to every sub-component that accepts one.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithClock overrides the default real clock, propagated to the peer
// manager and the movement integrator. Intended for deterministic
// tests of host migration and extrapolation.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// Session is the facade a host application drives: one per mesh room.
// Every public method that returns an error, other than the idempotent
// Dispose, checks disposed first and fails with an error wrapping
// ErrDisposed once Dispose has run, per spec section 4.8. The On*
// subscription methods and PingOverlayEnabled do not check.
type Session struct {
	logger *slog.Logger
	clock  clock.Clock

	bus        *eventbus.Bus
	validator  *validate.Validator
	resolver   *resolve.Resolver
	state      *statemgr.Manager
	integrator *movement.Integrator
	peers      *peer.Manager
	serializer serialize.Serializer

	cfg     Config
	localID wire.PlayerId
	traceID string

	mu               sync.Mutex
	seq              int64
	disposed         bool
	currentAuthority wire.PlayerId
	pingOverlayOn    bool
}

// New wires every sub-component per SPEC_FULL section 6 and returns a
// Session ready for Start. adapter is the signaling transport this
// session's peer manager will use to form its mesh.
func New(cfg Config, adapter signaling.Adapter, opts ...Option) (*Session, error) {
	cfg.Normalize()

	s := &Session{
		logger:           slog.Default(),
		clock:            clock.Real(),
		cfg:              cfg,
		localID:          cfg.LocalID,
		traceID:          uuid.NewString(),
		currentAuthority: cfg.AuthoritativeClientID,
		pingOverlayOn:    cfg.PingOverlay.Enabled,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("traceId", s.traceID, "localId", s.localID)

	serializer, err := serialize.New(cfg.Serialization)
	if err != nil {
		return nil, fmt.Errorf("mesh: %w: %w", ErrUnknownSerializer, err)
	}
	s.serializer = serializer

	s.bus = eventbus.New(s.logger)
	s.validator = validate.New()
	s.resolver = resolve.New(cfg.resolverMode(), s.authority)
	s.state = statemgr.New(cfg.LocalID, s.bus, s.validator, s.resolver, statemgr.WithLogger(s.logger))
	s.integrator = movement.New(cfg.Movement.toIntegratorConfig(), movement.WithClock(s.clock))
	s.peers = peer.New(peer.Config{
		LocalID:    cfg.LocalID,
		MaxPlayers: cfg.MaxPlayers,
		ICEServers: s.iceServers(),
		Backpressure: peer.BackpressureConfig{
			Strategy:       cfg.Backpressure.Strategy,
			ThresholdBytes: cfg.Backpressure.ThresholdBytes,
		},
	}, s.bus, adapter, s.serializer,
		peer.WithLogger(s.logger),
		peer.WithClock(s.clock),
		peer.WithMessageHandler(s.handleNetMessage),
	)

	s.bus.OnHostChange(s.onHostChange)
	s.bus.OnPeerJoin(s.onPeerJoin)
	s.bus.OnPeerLeave(s.onPeerLeave)
	s.bus.OnPlayerMove(func(e eventbus.PlayerMoveEvent) { s.integrator.RecordMove(e.PlayerId) })
	s.bus.OnPeerLeave(func(e eventbus.PeerLeaveEvent) { s.integrator.Forget(e.PeerId) })

	return s, nil
}

func (s *Session) iceServers() []webrtc.ICEServer {
	if len(s.cfg.ICEServerURLs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: s.cfg.ICEServerURLs}}
}

// authority is the resolve.AuthorityProvider wired into the resolver:
// a pinned configuration value if one was set, otherwise the live
// elected host.
func (s *Session) authority() wire.PlayerId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentAuthority
}

func (s *Session) checkDisposed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	return nil
}

func (s *Session) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Start registers with the signaling adapter and begins mesh
// formation. Call once, after New.
func (s *Session) Start() error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	return s.peers.Start()
}

// Dispose tears down the mesh and releases every sub-component's
// resources. Idempotent.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()

	err := s.peers.Dispose()
	s.bus.Clear()
	return err
}

// OnPeerJoin registers handler for every peer join, including the
// promotion this session itself triggers when the joiner becomes the
// host.
func (s *Session) OnPeerJoin(handler func(eventbus.PeerJoinEvent)) eventbus.Unsubscribe {
	return s.bus.OnPeerJoin(handler)
}

// OnPeerLeave registers handler for every peer departure.
func (s *Session) OnPeerLeave(handler func(eventbus.PeerLeaveEvent)) eventbus.Unsubscribe {
	return s.bus.OnPeerLeave(handler)
}

// OnHostChange registers handler for every host election outcome.
func (s *Session) OnHostChange(handler func(eventbus.HostChangeEvent)) eventbus.Unsubscribe {
	return s.bus.OnHostChange(handler)
}

// OnPlayerMove registers handler for every accepted move, local or
// remote.
func (s *Session) OnPlayerMove(handler func(eventbus.PlayerMoveEvent)) eventbus.Unsubscribe {
	return s.bus.OnPlayerMove(handler)
}

// OnInventoryUpdate registers handler for every accepted inventory
// replacement.
func (s *Session) OnInventoryUpdate(handler func(eventbus.InventoryUpdateEvent)) eventbus.Unsubscribe {
	return s.bus.OnInventoryUpdate(handler)
}

// OnObjectTransfer registers handler for every accepted item transfer.
func (s *Session) OnObjectTransfer(handler func(eventbus.ObjectTransferEvent)) eventbus.Unsubscribe {
	return s.bus.OnObjectTransfer(handler)
}

// OnStateSync registers handler for every applied full-state snapshot.
func (s *Session) OnStateSync(handler func(eventbus.StateSyncEvent)) eventbus.Unsubscribe {
	return s.bus.OnStateSync(handler)
}

// OnStateDelta registers handler for every applied delta.
func (s *Session) OnStateDelta(handler func(eventbus.StateDeltaEvent)) eventbus.Unsubscribe {
	return s.bus.OnStateDelta(handler)
}

// OnSharedPayload registers handler for every application-defined
// payload message.
func (s *Session) OnSharedPayload(handler func(eventbus.SharedPayloadEvent)) eventbus.Unsubscribe {
	return s.bus.OnSharedPayload(handler)
}

// OnPing registers handler for every measured round trip to a peer.
func (s *Session) OnPing(handler func(eventbus.PingEvent)) eventbus.Unsubscribe {
	return s.bus.OnPing(handler)
}

// OnMaxCapacityReached registers handler for every rejected connection
// attempt beyond MaxPlayers.
func (s *Session) OnMaxCapacityReached(handler func(eventbus.MaxCapacityReachedEvent)) eventbus.Unsubscribe {
	return s.bus.OnMaxCapacityReached(handler)
}

// GetState returns a deep copy of the replicated world state. Safe to
// retain and mutate; can never affect the session's own state.
func (s *Session) GetState() (*wire.GlobalGameState, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	return s.state.State(), nil
}

// GetHostID reports the currently elected host, if the mesh has
// formed enough to elect one.
func (s *Session) GetHostID() (wire.PlayerId, bool, error) {
	if err := s.checkDisposed(); err != nil {
		return "", false, err
	}
	id, ok := s.peers.HostID()
	return id, ok, nil
}

// Tick advances extrapolation and separates overlapping players. The
// embedding application calls this once per animation frame.
func (s *Session) Tick() error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	s.state.MutateState(func(gs *wire.GlobalGameState) {
		s.integrator.Interpolate(gs)
		s.integrator.ResolveCollisions(gs)
	})
	return nil
}

// SetPingOverlayEnabled toggles the debug ping overlay. The mesh core
// carries no rendering surface of its own (see SPEC_FULL non-goals);
// this only tracks the flag so an embedding application's overlay can
// poll or be constructed with it.
func (s *Session) SetPingOverlayEnabled(enabled bool) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	s.mu.Lock()
	s.pingOverlayOn = enabled
	s.mu.Unlock()
	return nil
}

// PingOverlayEnabled reports the current ping overlay flag.
func (s *Session) PingOverlayEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingOverlayOn
}

// AnnouncePresence inserts id's initial player entry directly into the
// local state, bypassing the resolver's authority gate, then
// broadcasts a move envelope that deliberately omits seq. Omitting
// seq keeps the local id absent from the sequence table, so the
// host's subsequent targeted state_full on this peer's join can still
// take the initial-join branch in statemgr's snapshot merge rather
// than being skipped as "already joined".
func (s *Session) AnnouncePresence(position wire.Vector, velocity *wire.Vector) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	s.state.InsertLocalPresence(s.localID, position, velocity)
	s.integrator.RecordMove(s.localID)

	envelope := wire.Envelope{
		T:        wire.MessageMove,
		From:     s.localID,
		Ts:       s.nowMillis(),
		Position: &position,
		Velocity: velocity,
	}
	s.dispatchOutbound(envelope, nil)
	return nil
}

// BroadcastMove applies position/velocity locally via the same
// resolver-gated path a remote peer's move takes, then broadcasts it
// unreliably with a fresh seq.
func (s *Session) BroadcastMove(position wire.Vector, velocity *wire.Vector) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	seq := s.nextSeq()
	envelope := wire.Envelope{
		T:        wire.MessageMove,
		From:     s.localID,
		Ts:       s.nowMillis(),
		Seq:      &seq,
		Position: &position,
		Velocity: velocity,
	}
	s.state.Handle(envelope)
	s.dispatchOutbound(envelope, nil)
	return nil
}

// UpdateInventory replaces the local player's inventory and broadcasts
// it reliably with a fresh seq.
func (s *Session) UpdateInventory(items []wire.InventoryItem) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	seq := s.nextSeq()
	envelope := wire.Envelope{
		T:     wire.MessageInventory,
		From:  s.localID,
		Ts:    s.nowMillis(),
		Seq:   &seq,
		Items: items,
	}
	s.state.Handle(envelope)
	s.dispatchOutbound(envelope, nil)
	return nil
}

// TransferItem moves one item stack from the local player to to and
// broadcasts the transfer reliably with a fresh seq.
func (s *Session) TransferItem(to wire.PlayerId, item wire.InventoryItem) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	seq := s.nextSeq()
	envelope := wire.Envelope{
		T:    wire.MessageTransfer,
		From: s.localID,
		Ts:   s.nowMillis(),
		Seq:  &seq,
		To:   to,
		Item: &item,
	}
	s.state.Handle(envelope)
	s.dispatchOutbound(envelope, nil)
	return nil
}

// BroadcastPayload sends an application-defined payload to every peer
// on channel, reliably.
func (s *Session) BroadcastPayload(payload any, channel string) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	envelope := s.payloadEnvelope(payload, channel)
	s.dispatchOutbound(envelope, nil)
	return nil
}

// SendPayload sends an application-defined payload to a single peer,
// reliably.
func (s *Session) SendPayload(to wire.PlayerId, payload any, channel string) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	envelope := s.payloadEnvelope(payload, channel)
	return s.sendOne(to, envelope, nil)
}

func (s *Session) payloadEnvelope(payload any, channel string) wire.Envelope {
	seq := s.nextSeq()
	return wire.Envelope{
		T:       wire.MessagePayload,
		From:    s.localID,
		Ts:      s.nowMillis(),
		Seq:     &seq,
		Payload: payload,
		Channel: channel,
	}
}

// BroadcastFullState sends the current state as a targeted-to-everyone
// state_full snapshot, reliably, with a fresh seq.
func (s *Session) BroadcastFullState() error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	return s.broadcastFullStateEnvelope()
}

func (s *Session) broadcastFullStateEnvelope() error {
	seq := s.nextSeq()
	envelope := wire.Envelope{
		T:     wire.MessageStateFull,
		From:  s.localID,
		Ts:    s.nowMillis(),
		Seq:   &seq,
		State: s.state.State(),
	}
	s.state.Handle(envelope)
	s.dispatchOutbound(envelope, nil)
	return nil
}

// BroadcastDelta builds a delta over paths from the current state and
// broadcasts it reliably with a fresh seq.
func (s *Session) BroadcastDelta(paths []string) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	delta, err := s.state.BuildDelta(paths)
	if err != nil {
		return err
	}
	seq := s.nextSeq()
	envelope := wire.Envelope{
		T:     wire.MessageStateDelta,
		From:  s.localID,
		Ts:    s.nowMillis(),
		Seq:   &seq,
		Delta: &delta,
	}
	s.state.Handle(envelope)
	s.dispatchOutbound(envelope, nil)
	return nil
}

// SetStateAndBroadcast replaces the local state wholesale, bypassing
// the resolver and validator entirely since it originates locally and
// is authoritative by definition, then broadcasts the new state as a
// state_full snapshot.
func (s *Session) SetStateAndBroadcast(next *wire.GlobalGameState) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	s.state.SetState(next)
	return s.broadcastFullStateEnvelope()
}

// handleNetMessage is the peer manager's inbound application-message
// callback: it hands the (identity-disciplined) envelope straight to
// the state manager. NetMessageEvent for external observers is
// emitted from inside statemgr.Manager.Handle, not here.
func (s *Session) handleNetMessage(envelope wire.Envelope) {
	s.state.Handle(envelope)
}

// dispatchOutbound fires the debug onSend hook, if configured, then
// hands envelope to the peer manager for mesh-wide broadcast.
func (s *Session) dispatchOutbound(envelope wire.Envelope, unreliableOverride *bool) {
	if s.cfg.Debug.Enabled && s.cfg.Debug.OnSend != nil {
		s.cfg.Debug.OnSend(envelope)
	}
	s.peers.Broadcast(envelope, unreliableOverride)
}

func (s *Session) sendOne(to wire.PlayerId, envelope wire.Envelope, unreliableOverride *bool) error {
	if s.cfg.Debug.Enabled && s.cfg.Debug.OnSend != nil {
		s.cfg.Debug.OnSend(envelope)
	}
	return s.peers.Send(to, envelope, unreliableOverride)
}

// onHostChange adopts the new host as the resolver's live authority
// when no configuration-pinned authoritative client is set, and, if
// the new host is this session, broadcasts a full snapshot so every
// mesh member converges on the promoted host's view of the world.
func (s *Session) onHostChange(e eventbus.HostChangeEvent) {
	if s.cfg.AuthoritativeClientID == "" {
		s.mu.Lock()
		s.currentAuthority = e.HostId
		s.mu.Unlock()
	}
	if e.HostId == s.localID {
		if err := s.broadcastFullStateEnvelope(); err != nil {
			s.logger.Error("mesh: host promotion snapshot broadcast failed", "err", err)
		}
	}
}

// onPeerJoin sends the joiner a targeted full-state snapshot when this
// session is host. Deferred one scheduling turn (via go func) so it
// never runs synchronously inside the peer manager's own connection
// setup, matching the "next tick" semantics the JS original relied on
// its single-threaded event loop for.
func (s *Session) onPeerJoin(e eventbus.PeerJoinEvent) {
	host, ok := s.peers.HostID()
	if !ok || host != s.localID {
		return
	}
	peerID := e.PeerId
	go func() {
		seq := s.nextSeq()
		envelope := wire.Envelope{
			T:     wire.MessageStateFull,
			From:  s.localID,
			Ts:    s.nowMillis(),
			Seq:   &seq,
			State: s.state.State(),
		}
		if s.cfg.Debug.Enabled && s.cfg.Debug.OnSend != nil {
			s.cfg.Debug.OnSend(envelope)
		}
		if err := s.peers.Send(peerID, envelope, nil); err != nil {
			s.logger.Debug("mesh: targeted join snapshot failed", "to", peerID, "err", err)
		}
	}()
}

// onPeerLeave removes the departed peer's player and inventory from
// the local state when this session is host and cleanup is enabled,
// then broadcasts a delta over both paths so every remaining peer
// converges on the removal (see the wire package's delta semantics: a
// nil-valued path write leaves a nil map entry rather than deleting
// the key, so every consumer of Players/Inventories must nil-check).
func (s *Session) onPeerLeave(e eventbus.PeerLeaveEvent) {
	if !s.cfg.CleanupOnPeerLeave {
		return
	}
	host, ok := s.peers.HostID()
	if !ok || host != s.localID {
		return
	}
	s.state.DeletePlayer(e.PeerId)
	if err := s.BroadcastDelta([]string{
		"players." + e.PeerId,
		"inventories." + e.PeerId,
	}); err != nil {
		s.logger.Debug("mesh: peer-leave cleanup delta failed", "peer", e.PeerId, "err", err)
	}
}

func (s *Session) nowMillis() float64 {
	return float64(s.clock.Now().UnixMilli())
}
