// Package wsrelay implements the reference signaling relay of spec
// section 6.2: a gorilla/websocket server that rooms participants by
// roomId and forwards session descriptions and ICE candidates between
// them, plus a client-side signaling.Adapter that speaks the same wire
// format. The reader/writer goroutine split per connection, and the
// upgrader configuration, are grounded on the reference pack's own
// gorilla/websocket transport server.
package wsrelay

import "github.com/aguiran/p2play-js/wire"

// Kind is the closed set of relay envelope kinds.
type Kind string

const (
	KindDesc     Kind = "desc"
	KindICE      Kind = "ice"
	KindRegister Kind = "register"
)

// Envelope is the wire shape of every client-to-server message, per
// spec section 6.2.
type Envelope struct {
	RoomID   string        `json:"roomId"`
	From     wire.PlayerId `json:"from"`
	To       wire.PlayerId `json:"to,omitempty"`
	Kind     Kind          `json:"kind"`
	Payload  any           `json:"payload,omitempty"`
	Announce bool          `json:"announce,omitempty"`
}

// rosterMessage is the server-to-client shape published whenever a
// room's membership changes.
type rosterMessage struct {
	Sys    string          `json:"sys"`
	RoomID string          `json:"roomId"`
	Roster []wire.PlayerId `json:"roster"`
}

// descPayload is the JSON shape carried in Envelope.Payload for
// KindDesc.
type descPayload struct {
	Kind string `json:"kind"`
	SDP  string `json:"sdp"`
}

// icePayload is the JSON shape carried in Envelope.Payload for
// KindICE.
type icePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}
