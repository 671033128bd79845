// Package peer drives mesh formation over a signaling.Adapter: it
// turns a roster into a full mesh of pion/webrtc PeerConnections, each
// carrying the two data channels defined by spec section 4.5
// (game-unreliable, game-reliable), applies the backpressure policy on
// outbound unreliable traffic, answers ping/pong internally, and
// elects a host by total order over the participant set, per spec
// section 4.7.
//
// Unlike statemgr and movement, Manager guards its state with a mutex.
// The rest of this module follows the single-threaded cooperative
// scheduling model the mesh core was designed around, but pion/webrtc
// fires OnICECandidate, OnDataChannel, and OnMessage callbacks on
// goroutines it owns, not on any goroutine of the caller's choosing —
// so unlike the JS runtime this design originates from, "no locks are
// used or needed" does not hold here. The pack's own WebRTC transport
// reaches for the same sync.Mutex-around-a-peer-map shape for the same
// reason.
package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/aguiran/p2play-js/eventbus"
	"github.com/aguiran/p2play-js/internal/clock"
	"github.com/aguiran/p2play-js/serialize"
	"github.com/aguiran/p2play-js/signaling"
	"github.com/aguiran/p2play-js/wire"
)

const (
	labelUnreliable = "game-unreliable"
	labelReliable   = "game-reliable"

	pendingOfferTimeout = 30 * time.Second
	pingInterval        = 2 * time.Second
)

// Backpressure policy names, per spec section 4.5.
const (
	BackpressureOff           = "off"
	BackpressureDropMoves     = "drop-moves"
	BackpressureCoalesceMoves = "coalesce-moves"
)

// ErrDisposed is returned by every Manager method once Dispose has run.
var ErrDisposed = errors.New("peer: manager disposed")

// BackpressureConfig controls how outbound traffic on the unreliable
// channel behaves once the underlying SCTP send buffer backs up.
type BackpressureConfig struct {
	Strategy       string
	ThresholdBytes int
}

// Config configures a Manager.
type Config struct {
	LocalID      wire.PlayerId
	MaxPlayers   int
	ICEServers   []webrtc.ICEServer
	Backpressure BackpressureConfig
}

// Option customizes a Manager beyond Config.
type Option func(*Manager)

// WithLogger overrides the default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the default clock.Real(), for deterministic tests
// of the pending-offer timeout and the ping loop.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMessageHandler registers the callback invoked for every inbound
// application envelope (everything except ping/pong, which Manager
// answers internally). The mesh session facade wires this to
// statemgr.Manager.Handle.
func WithMessageHandler(handler func(wire.Envelope)) Option {
	return func(m *Manager) { m.onMessage = handler }
}

// outboxEntry is one queued frame awaiting an open data channel.
type outboxEntry struct {
	msgType wire.MessageType
	data    []byte
}

// channelState tracks one of a peer's two data channels.
type channelState struct {
	dc     *webrtc.DataChannel
	open   bool
	outbox []outboxEntry
}

// peerConn is one established mesh connection.
type peerConn struct {
	id wire.PlayerId
	pc *webrtc.PeerConnection

	mu         sync.Mutex
	unreliable channelState
	reliable   channelState
}

// pendingPeer is an outbound connection attempt awaiting an answer.
type pendingPeer struct {
	peerConn *peerConn
	timer    *clock.Timer
}

// Manager owns every PeerConnection in the local mesh.
type Manager struct {
	logger       *slog.Logger
	bus          *eventbus.Bus
	adapter      signaling.Adapter
	clock        clock.Clock
	serializer   serialize.Serializer
	localID      wire.PlayerId
	maxPlayers   int
	iceServers   []webrtc.ICEServer
	backpressure BackpressureConfig
	onMessage    func(wire.Envelope)

	mu                sync.Mutex
	disposed          bool
	peers             map[wire.PlayerId]*peerConn
	pendingInitiators map[wire.PlayerId]*pendingPeer
	bufferedRemoteICE map[wire.PlayerId][]signaling.Candidate
	hostID            wire.PlayerId

	pingTicker *clock.Ticker
	pingDone   chan struct{}
}

// New constructs a Manager. It does not start mesh formation; call
// Start for that.
func New(cfg Config, bus *eventbus.Bus, adapter signaling.Adapter, serializer serialize.Serializer, opts ...Option) *Manager {
	maxPlayers := cfg.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = 4
	}
	strategy := cfg.Backpressure.Strategy
	if strategy == "" {
		strategy = BackpressureCoalesceMoves
	}

	m := &Manager{
		logger:     slog.Default(),
		bus:        bus,
		adapter:    adapter,
		clock:      clock.Real(),
		serializer: serializer,
		localID:    cfg.LocalID,
		maxPlayers: maxPlayers,
		iceServers: cfg.ICEServers,
		backpressure: BackpressureConfig{
			Strategy:       strategy,
			ThresholdBytes: cfg.Backpressure.ThresholdBytes,
		},
		peers:             make(map[wire.PlayerId]*peerConn),
		pendingInitiators: make(map[wire.PlayerId]*pendingPeer),
		bufferedRemoteICE: make(map[wire.PlayerId][]signaling.Candidate),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start elects the initial (solo) host, subscribes to the signaling
// adapter, registers with it, and starts the ping loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	_, newHost := m.electHostLocked()
	m.mu.Unlock()
	m.bus.EmitHostChange(eventbus.HostChangeEvent{HostId: newHost})

	m.adapter.OnRemoteDescription(m.handleRemoteDescription)
	m.adapter.OnICECandidate(m.handleICECandidate)
	m.adapter.OnRoster(m.handleRoster)

	if err := m.adapter.Register(); err != nil {
		return fmt.Errorf("peer: registering with signaling adapter: %w", err)
	}
	m.startPingLoop()
	return nil
}

// HostID returns the currently elected host, if one has been elected
// (false only before Start runs).
func (m *Manager) HostID() (wire.PlayerId, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hostID == "" {
		return "", false
	}
	return m.hostID, true
}

// PeerIDs returns the ids of every currently connected remote peer.
func (m *Manager) PeerIDs() []wire.PlayerId {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]wire.PlayerId, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return compareIDs(ids[i], ids[j]) < 0 })
	return ids
}

// Broadcast sends envelope to every connected peer. override, if
// non-nil, forces reliable/unreliable routing regardless of
// envelope.T's default.
func (m *Manager) Broadcast(envelope wire.Envelope, override *bool) {
	m.mu.Lock()
	peers := make([]*peerConn, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	for _, p := range peers {
		m.sendToPeer(p, envelope, override)
	}
}

// Send delivers envelope to a single connected peer. It is a no-op if
// to is not currently connected.
func (m *Manager) Send(to wire.PlayerId, envelope wire.Envelope, override *bool) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	p, ok := m.peers[to]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.sendToPeer(p, envelope, override)
	return nil
}

// Dispose closes every connection and stops all timers. Idempotent.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true

	if m.pingTicker != nil {
		m.pingTicker.Stop()
	}
	if m.pingDone != nil {
		close(m.pingDone)
	}

	peers := make([]*peerConn, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	pending := make([]*pendingPeer, 0, len(m.pendingInitiators))
	for _, p := range m.pendingInitiators {
		pending = append(pending, p)
	}
	m.peers = make(map[wire.PlayerId]*peerConn)
	m.pendingInitiators = make(map[wire.PlayerId]*pendingPeer)
	m.bufferedRemoteICE = make(map[wire.PlayerId][]signaling.Candidate)
	m.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		_ = p.peerConn.pc.Close()
	}
	for _, p := range peers {
		_ = p.pc.Close()
	}
	return m.adapter.Close()
}

// electHostLocked recomputes the host as the least id, under
// compareIDs, among the local participant and every connected peer.
// Callers must hold m.mu.
func (m *Manager) electHostLocked() (changed bool, host wire.PlayerId) {
	candidates := make([]wire.PlayerId, 0, len(m.peers)+1)
	candidates = append(candidates, m.localID)
	for id := range m.peers {
		candidates = append(candidates, id)
	}
	newHost := lowestID(candidates)
	changed = newHost != m.hostID
	m.hostID = newHost
	return changed, newHost
}

// handleRoster reconciles the connected/pending peer sets against the
// relay's roster: connections to ids no longer listed are torn down,
// and every listed id that isn't already connected or pending is
// passed to maybeConnect, which initiates only toward ids that compare
// higher than the local id.
func (m *Manager) handleRoster(roster []wire.PlayerId) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	inRoster := make(map[wire.PlayerId]bool, len(roster))
	for _, id := range roster {
		inRoster[id] = true
	}

	var closed []*peerConn
	for id, p := range m.peers {
		if !inRoster[id] {
			closed = append(closed, p)
			delete(m.peers, id)
		}
	}
	for id, p := range m.pendingInitiators {
		if !inRoster[id] {
			p.timer.Stop()
			closed = append(closed, p.peerConn)
			delete(m.pendingInitiators, id)
		}
	}
	hostChanged, newHost := m.electHostLocked()
	m.mu.Unlock()

	for _, p := range closed {
		_ = p.pc.Close()
		m.bus.EmitPeerLeave(eventbus.PeerLeaveEvent{PeerId: p.id})
	}
	if hostChanged {
		m.bus.EmitHostChange(eventbus.HostChangeEvent{HostId: newHost})
	}

	for _, id := range roster {
		if id == m.localID {
			continue
		}
		m.maybeConnect(id)
	}
}

// maybeConnect starts an outbound connection attempt toward p if the
// mesh has capacity and no attempt is already underway. Per spec
// section 4.7, only the participant whose id compares lower initiates
// — the other side waits for an offer.
func (m *Manager) maybeConnect(p wire.PlayerId) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	if _, active := m.peers[p]; active {
		m.mu.Unlock()
		return
	}
	if _, pending := m.pendingInitiators[p]; pending {
		m.mu.Unlock()
		return
	}
	if len(m.peers)+len(m.pendingInitiators) >= m.maxPlayers-1 {
		m.mu.Unlock()
		m.bus.EmitMaxCapacityReached(eventbus.MaxCapacityReachedEvent{MaxPlayers: m.maxPlayers})
		return
	}
	initiator := compareIDs(m.localID, p) < 0
	m.mu.Unlock()

	if initiator {
		m.initiate(p)
	}
}

func (m *Manager) newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: m.iceServers})
}

func boolPtr(v bool) *bool       { return &v }
func uint16Ptr(v uint16) *uint16 { return &v }

// initiate opens a PeerConnection to p, creates both data channels,
// and sends an offer. The connection is tracked as pending until an
// answer arrives or pendingOfferTimeout elapses.
func (m *Manager) initiate(p wire.PlayerId) {
	pc, err := m.newPeerConnection()
	if err != nil {
		m.logger.Error("peer: creating outbound connection failed", "peer", p, "err", err)
		return
	}

	conn := &peerConn{id: p, pc: pc}

	unreliable, err := pc.CreateDataChannel(labelUnreliable, &webrtc.DataChannelInit{
		Ordered:        boolPtr(false),
		MaxRetransmits: uint16Ptr(0),
	})
	if err != nil {
		m.logger.Error("peer: creating unreliable channel failed", "peer", p, "err", err)
		_ = pc.Close()
		return
	}
	m.wireDataChannel(conn, unreliable, true)

	reliable, err := pc.CreateDataChannel(labelReliable, &webrtc.DataChannelInit{Ordered: boolPtr(true)})
	if err != nil {
		m.logger.Error("peer: creating reliable channel failed", "peer", p, "err", err)
		_ = pc.Close()
		return
	}
	m.wireDataChannel(conn, reliable, false)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = m.adapter.SendICECandidate(toSignalingCandidate(c), p)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.logger.Error("peer: creating offer failed", "peer", p, "err", err)
		_ = pc.Close()
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.logger.Error("peer: setting local description failed", "peer", p, "err", err)
		_ = pc.Close()
		return
	}
	// Registered before announcing: a synchronous signaler (such as
	// signaling/memory) delivers the answer before Announce returns.
	timer := m.clock.AfterFunc(pendingOfferTimeout, func() { m.expirePendingOffer(p) })

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		timer.Stop()
		_ = pc.Close()
		return
	}
	m.pendingInitiators[p] = &pendingPeer{peerConn: conn, timer: timer}
	m.mu.Unlock()

	if err := m.adapter.Announce(signaling.Description{Kind: signaling.KindOffer, SDP: offer.SDP}, p); err != nil {
		m.logger.Error("peer: announcing offer failed", "peer", p, "err", err)
		m.mu.Lock()
		if cur, ok := m.pendingInitiators[p]; ok && cur.peerConn == conn {
			delete(m.pendingInitiators, p)
		}
		m.mu.Unlock()
		timer.Stop()
		_ = pc.Close()
		return
	}
}

func (m *Manager) expirePendingOffer(p wire.PlayerId) {
	m.mu.Lock()
	pending, ok := m.pendingInitiators[p]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pendingInitiators, p)
	m.mu.Unlock()

	m.logger.Debug("peer: pending offer expired", "peer", p)
	_ = pending.peerConn.pc.Close()
}

// handleRemoteDescription routes an inbound offer to the responder
// path and an inbound answer to the initiator path.
func (m *Manager) handleRemoteDescription(desc signaling.Description, from wire.PlayerId) {
	switch desc.Kind {
	case signaling.KindOffer:
		m.handleOffer(desc, from)
	case signaling.KindAnswer:
		m.handleAnswer(desc, from)
	}
}

// handleOffer implements the responder role: capacity check, create a
// PeerConnection, attach OnDataChannel, install the remote
// description, flush any ICE candidates that arrived first, and
// answer.
func (m *Manager) handleOffer(desc signaling.Description, from wire.PlayerId) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	if _, active := m.peers[from]; active {
		m.mu.Unlock()
		return
	}
	if len(m.peers)+len(m.pendingInitiators) >= m.maxPlayers-1 {
		m.mu.Unlock()
		m.bus.EmitMaxCapacityReached(eventbus.MaxCapacityReachedEvent{MaxPlayers: m.maxPlayers})
		return
	}
	m.mu.Unlock()

	pc, err := m.newPeerConnection()
	if err != nil {
		m.logger.Error("peer: creating inbound connection failed", "peer", from, "err", err)
		return
	}
	conn := &peerConn{id: from, pc: pc}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case labelUnreliable:
			m.wireDataChannel(conn, dc, true)
		case labelReliable:
			m.wireDataChannel(conn, dc, false)
		}
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = m.adapter.SendICECandidate(toSignalingCandidate(c), from)
	})

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		m.logger.Error("peer: setting remote offer failed", "peer", from, "err", err)
		_ = pc.Close()
		return
	}
	m.flushBufferedICE(pc, from)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.logger.Error("peer: creating answer failed", "peer", from, "err", err)
		_ = pc.Close()
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		m.logger.Error("peer: setting local answer failed", "peer", from, "err", err)
		_ = pc.Close()
		return
	}
	if err := m.adapter.Announce(signaling.Description{Kind: signaling.KindAnswer, SDP: answer.SDP}, from); err != nil {
		m.logger.Error("peer: announcing answer failed", "peer", from, "err", err)
		_ = pc.Close()
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		_ = pc.Close()
		return
	}
	m.peers[from] = conn
	hostChanged, newHost := m.electHostLocked()
	m.mu.Unlock()

	if hostChanged {
		m.bus.EmitHostChange(eventbus.HostChangeEvent{HostId: newHost})
	}
	m.bus.EmitPeerJoin(eventbus.PeerJoinEvent{PeerId: from})
}

// handleAnswer implements the initiator role's completion: install the
// remote answer on the pending connection, flush buffered ICE, and
// promote it to an active peer.
func (m *Manager) handleAnswer(desc signaling.Description, from wire.PlayerId) {
	m.mu.Lock()
	pending, ok := m.pendingInitiators[from]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pendingInitiators, from)
	pending.timer.Stop()
	m.mu.Unlock()

	pc := pending.peerConn.pc
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		m.logger.Error("peer: setting remote answer failed", "peer", from, "err", err)
		_ = pc.Close()
		return
	}
	m.flushBufferedICE(pc, from)

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		_ = pc.Close()
		return
	}
	m.peers[from] = pending.peerConn
	hostChanged, newHost := m.electHostLocked()
	m.mu.Unlock()

	if hostChanged {
		m.bus.EmitHostChange(eventbus.HostChangeEvent{HostId: newHost})
	}
	m.bus.EmitPeerJoin(eventbus.PeerJoinEvent{PeerId: from})
}

// handleICECandidate applies candidate immediately if a remote
// description is already installed for from, or buffers it otherwise
// (trickle ICE can outrun signaling delivery order).
func (m *Manager) handleICECandidate(candidate signaling.Candidate, from wire.PlayerId) {
	m.mu.Lock()
	var pc *webrtc.PeerConnection
	if p, ok := m.peers[from]; ok {
		pc = p.pc
	} else if p, ok := m.pendingInitiators[from]; ok {
		pc = p.peerConn.pc
	}
	if pc == nil || pc.RemoteDescription() == nil {
		m.bufferedRemoteICE[from] = append(m.bufferedRemoteICE[from], candidate)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.applyICECandidate(pc, candidate)
}

func (m *Manager) applyICECandidate(pc *webrtc.PeerConnection, candidate signaling.Candidate) {
	sdpMid := candidate.SDPMid
	lineIndex := candidate.SDPMLineIndex
	err := pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &lineIndex,
	})
	if err != nil {
		m.logger.Debug("peer: failed to add remote ICE candidate", "err", err)
	}
}

func (m *Manager) flushBufferedICE(pc *webrtc.PeerConnection, from wire.PlayerId) {
	m.mu.Lock()
	buffered := m.bufferedRemoteICE[from]
	delete(m.bufferedRemoteICE, from)
	m.mu.Unlock()

	for _, c := range buffered {
		m.applyICECandidate(pc, c)
	}
}

func toSignalingCandidate(c *webrtc.ICECandidate) signaling.Candidate {
	init := c.ToJSON()
	var mid string
	if init.SDPMid != nil {
		mid = *init.SDPMid
	}
	var lineIndex uint16
	if init.SDPMLineIndex != nil {
		lineIndex = *init.SDPMLineIndex
	}
	return signaling.Candidate{Candidate: init.Candidate, SDPMid: mid, SDPMLineIndex: lineIndex}
}

// wireDataChannel attaches the open/close/message handlers shared by
// both the initiator- and responder-created instance of a channel.
func (m *Manager) wireDataChannel(p *peerConn, dc *webrtc.DataChannel, unreliable bool) {
	p.mu.Lock()
	if unreliable {
		p.unreliable.dc = dc
	} else {
		p.reliable.dc = dc
	}
	p.mu.Unlock()

	dc.OnOpen(func() {
		var flush []outboxEntry
		p.mu.Lock()
		if unreliable {
			p.unreliable.open = true
			flush = p.unreliable.outbox
			p.unreliable.outbox = nil
		} else {
			p.reliable.open = true
			flush = p.reliable.outbox
			p.reliable.outbox = nil
		}
		p.mu.Unlock()
		for _, entry := range flush {
			_ = dc.Send(entry.data)
		}
	})

	dc.OnClose(func() {
		p.mu.Lock()
		if unreliable {
			p.unreliable.open = false
		} else {
			p.reliable.open = false
		}
		p.mu.Unlock()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m.handleInboundMessage(p, msg)
	})
}

// handleInboundMessage decodes one data channel frame, applies
// identity discipline (the wire envelope's from is never trusted; it
// is always overwritten with the transport-level peer id), answers
// ping/pong internally, and otherwise forwards to onMessage.
func (m *Manager) handleInboundMessage(p *peerConn, msg webrtc.DataChannelMessage) {
	envelope, err := m.serializer.Decode(msg.Data)
	if err != nil {
		m.logger.Debug("peer: dropping malformed inbound frame", "peer", p.id, "err", err)
		return
	}
	envelope.From = p.id

	switch envelope.T {
	case wire.MessagePing:
		m.respondPong(p, envelope.Ts)
		return
	case wire.MessagePong:
		m.recordPong(p, envelope.Ts)
		return
	}

	if m.onMessage != nil {
		m.onMessage(envelope)
	}
}

func (m *Manager) respondPong(p *peerConn, originalTs float64) {
	m.sendRaw(p, wire.Envelope{T: wire.MessagePong, From: m.localID, Ts: originalTs}, true)
}

func (m *Manager) recordPong(p *peerConn, originalTs float64) {
	now := float64(m.clock.Now().UnixMilli())
	m.bus.EmitPing(eventbus.PingEvent{PeerId: p.id, RTTMillis: int64(now - originalTs)})
}

func (m *Manager) startPingLoop() {
	m.mu.Lock()
	m.pingTicker = m.clock.NewTicker(pingInterval)
	m.pingDone = make(chan struct{})
	ticker := m.pingTicker
	done := m.pingDone
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.sendPingToAll()
			}
		}
	}()
}

func (m *Manager) sendPingToAll() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	peers := make([]*peerConn, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	envelope := wire.Envelope{T: wire.MessagePing, From: m.localID, Ts: float64(m.clock.Now().UnixMilli())}
	for _, p := range peers {
		m.sendRaw(p, envelope, true)
	}
}

// sendRaw sends an internal (ping/pong) frame directly to the
// unreliable channel, bypassing the outbox and backpressure policy:
// these frames are small, latency-sensitive, and never queued.
func (m *Manager) sendRaw(p *peerConn, envelope wire.Envelope, unreliable bool) {
	encoded, err := m.serializer.Encode(envelope)
	if err != nil {
		return
	}
	p.mu.Lock()
	open := p.unreliable.open
	dc := p.unreliable.dc
	p.mu.Unlock()
	if unreliable && open && dc != nil {
		_ = dc.Send(encoded)
	}
}

func (m *Manager) routeUnreliable(envelope wire.Envelope, override *bool) bool {
	if override != nil {
		return *override
	}
	return envelope.T.IsUnreliable()
}

func (m *Manager) sendToPeer(p *peerConn, envelope wire.Envelope, override *bool) {
	encoded, err := m.serializer.Encode(envelope)
	if err != nil {
		m.logger.Error("peer: encoding outbound envelope failed", "err", err)
		return
	}
	if m.routeUnreliable(envelope, override) {
		m.enqueueUnreliable(p, envelope, encoded)
		return
	}
	m.enqueueReliable(p, encoded)
}

func (m *Manager) enqueueReliable(p *peerConn, encoded []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reliable.open && p.reliable.dc != nil {
		_ = p.reliable.dc.Send(encoded)
		return
	}
	p.reliable.outbox = append(p.reliable.outbox, outboxEntry{data: encoded})
}

// enqueueUnreliable applies the configured backpressure policy before
// sending or queueing a frame on the unreliable channel, per spec
// section 4.5: "off" never drops or coalesces, "drop-moves" discards a
// move frame outright once the channel's buffered amount exceeds the
// threshold, "coalesce-moves" collapses a queued move behind another
// queued move rather than growing the outbox unbounded.
func (m *Manager) enqueueUnreliable(p *peerConn, envelope wire.Envelope, encoded []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	isMove := envelope.T == wire.MessageMove

	if m.backpressure.Strategy == BackpressureDropMoves && isMove {
		var buffered uint64
		if p.unreliable.dc != nil {
			buffered = p.unreliable.dc.BufferedAmount()
		}
		if buffered > uint64(m.backpressure.ThresholdBytes) {
			return
		}
	}

	if p.unreliable.open && p.unreliable.dc != nil {
		_ = p.unreliable.dc.Send(encoded)
		return
	}

	if m.backpressure.Strategy == BackpressureCoalesceMoves && isMove &&
		len(p.unreliable.outbox) > 0 &&
		p.unreliable.outbox[len(p.unreliable.outbox)-1].msgType == wire.MessageMove {
		p.unreliable.outbox[len(p.unreliable.outbox)-1] = outboxEntry{msgType: envelope.T, data: encoded}
		return
	}

	p.unreliable.outbox = append(p.unreliable.outbox, outboxEntry{msgType: envelope.T, data: encoded})
}
