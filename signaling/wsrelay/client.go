package wsrelay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aguiran/p2play-js/signaling"
	"github.com/aguiran/p2play-js/wire"
)

// Adapter is a signaling.Adapter that speaks the relay wire format
// over a single websocket connection.
type Adapter struct {
	conn    *websocket.Conn
	roomID  string
	localID wire.PlayerId
	logger  *slog.Logger

	writeMu sync.Mutex

	mu             sync.Mutex
	onRemoteDesc   []func(signaling.Description, wire.PlayerId)
	onICECandidate []func(signaling.Candidate, wire.PlayerId)
	onRoster       []func([]wire.PlayerId)

	closeOnce sync.Once
	done      chan struct{}
}

var _ signaling.Adapter = (*Adapter)(nil)

// Dial connects to the relay at url and constructs an Adapter for
// roomID/localID. The connection's read loop starts immediately;
// Register still must be called to join the room's roster.
func Dial(url, roomID string, localID wire.PlayerId, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsrelay: dialing %s: %w", url, err)
	}

	a := &Adapter{
		conn:    conn,
		roomID:  roomID,
		localID: localID,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go a.readLoop()
	return a, nil
}

func (a *Adapter) LocalID() wire.PlayerId { return a.localID }

func (a *Adapter) Register() error {
	return a.send(Envelope{RoomID: a.roomID, From: a.localID, Kind: KindRegister, Announce: true})
}

func (a *Adapter) Announce(desc signaling.Description, to wire.PlayerId) error {
	return a.send(Envelope{
		RoomID: a.roomID, From: a.localID, To: to, Kind: KindDesc,
		Payload: descPayload{Kind: string(desc.Kind), SDP: desc.SDP},
	})
}

func (a *Adapter) SendICECandidate(candidate signaling.Candidate, to wire.PlayerId) error {
	return a.send(Envelope{
		RoomID: a.roomID, From: a.localID, To: to, Kind: KindICE,
		Payload: icePayload{
			Candidate:     candidate.Candidate,
			SDPMid:        candidate.SDPMid,
			SDPMLineIndex: candidate.SDPMLineIndex,
		},
	})
}

func (a *Adapter) OnRemoteDescription(cb func(signaling.Description, wire.PlayerId)) signaling.Unsubscribe {
	a.mu.Lock()
	defer a.mu.Unlock()
	index := len(a.onRemoteDesc)
	a.onRemoteDesc = append(a.onRemoteDesc, cb)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.onRemoteDesc[index] = nil
	}
}

func (a *Adapter) OnICECandidate(cb func(signaling.Candidate, wire.PlayerId)) signaling.Unsubscribe {
	a.mu.Lock()
	defer a.mu.Unlock()
	index := len(a.onICECandidate)
	a.onICECandidate = append(a.onICECandidate, cb)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.onICECandidate[index] = nil
	}
}

func (a *Adapter) OnRoster(cb func([]wire.PlayerId)) signaling.Unsubscribe {
	a.mu.Lock()
	defer a.mu.Unlock()
	index := len(a.onRoster)
	a.onRoster = append(a.onRoster, cb)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.onRoster[index] = nil
	}
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	return a.conn.Close()
}

func (a *Adapter) send(envelope Envelope) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("wsrelay: encoding envelope: %w", err)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := a.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("wsrelay: writing envelope: %w", err)
	}
	return nil
}

func (a *Adapter) readLoop() {
	for {
		_, raw, err := a.conn.ReadMessage()
		if err != nil {
			select {
			case <-a.done:
			default:
				a.logger.Debug("wsrelay: read loop terminated", "err", err)
			}
			return
		}
		a.dispatch(raw)
	}
}

func (a *Adapter) dispatch(raw []byte) {
	var probe struct {
		Sys string `json:"sys"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Sys == "roster" {
		var msg rosterMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		a.fireRoster(msg.Roster)
		return
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.To != "" && envelope.To != a.localID {
		return
	}

	switch envelope.Kind {
	case KindDesc:
		payload, ok := decodePayload[descPayload](envelope.Payload)
		if !ok {
			return
		}
		a.fireRemoteDescription(signaling.Description{Kind: signaling.DescriptionKind(payload.Kind), SDP: payload.SDP}, envelope.From)
	case KindICE:
		payload, ok := decodePayload[icePayload](envelope.Payload)
		if !ok {
			return
		}
		a.fireICECandidate(signaling.Candidate{
			Candidate:     payload.Candidate,
			SDPMid:        payload.SDPMid,
			SDPMLineIndex: payload.SDPMLineIndex,
		}, envelope.From)
	}
}

// decodePayload round-trips envelope.Payload (already decoded as
// map[string]any by the outer json.Unmarshal) into a typed struct.
func decodePayload[T any](payload any) (T, bool) {
	var zero T
	raw, err := json.Marshal(payload)
	if err != nil {
		return zero, false
	}
	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return zero, false
	}
	return decoded, true
}

func (a *Adapter) fireRemoteDescription(desc signaling.Description, from wire.PlayerId) {
	a.mu.Lock()
	callbacks := append([]func(signaling.Description, wire.PlayerId){}, a.onRemoteDesc...)
	a.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(desc, from)
		}
	}
}

func (a *Adapter) fireICECandidate(candidate signaling.Candidate, from wire.PlayerId) {
	a.mu.Lock()
	callbacks := append([]func(signaling.Candidate, wire.PlayerId){}, a.onICECandidate...)
	a.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(candidate, from)
		}
	}
}

func (a *Adapter) fireRoster(roster []wire.PlayerId) {
	a.mu.Lock()
	callbacks := append([]func([]wire.PlayerId){}, a.onRoster...)
	a.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(roster)
		}
	}
}
