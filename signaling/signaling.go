// Package signaling defines the out-of-band contract the peer manager
// uses to exchange session descriptions, ICE candidates, and roster
// membership before a direct peer connection exists, per spec section
// 6.1. It has no opinion on transport: signaling/memory backs tests
// and cmd/meshsim, signaling/wsrelay backs the reference relay server
// and its client.
package signaling

import "github.com/aguiran/p2play-js/wire"

// DescriptionKind distinguishes an SDP offer from an SDP answer.
type DescriptionKind string

const (
	KindOffer  DescriptionKind = "offer"
	KindAnswer DescriptionKind = "answer"
)

// Description is a session description exchanged between two peers.
type Description struct {
	Kind DescriptionKind
	SDP  string
}

// Candidate is an ICE candidate exchanged between two peers.
type Candidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
}

// Unsubscribe cancels a subscription registered via one of the On*
// hooks below. Safe to call more than once.
type Unsubscribe func()

// Adapter is the signaling contract the peer manager consumes. An
// implementation must provide a stable localId, register the local
// participant with the relay, and deliver remote descriptions, ICE
// candidates, and roster updates via the three subscription hooks.
type Adapter interface {
	// LocalID returns this participant's id, stable for the adapter's
	// lifetime.
	LocalID() wire.PlayerId

	// Register announces local presence to the relay and requests the
	// current roster.
	Register() error

	// Announce sends a session description. If to is empty, it is
	// broadcast to every other participant in the room (used only for
	// discovery in adapters that support it; the mesh core always
	// targets a specific peer).
	Announce(desc Description, to wire.PlayerId) error

	// SendICECandidate sends an ICE candidate targeted at to.
	SendICECandidate(candidate Candidate, to wire.PlayerId) error

	// OnRemoteDescription registers a callback invoked for every
	// session description addressed to the local participant.
	OnRemoteDescription(cb func(desc Description, from wire.PlayerId)) Unsubscribe

	// OnICECandidate registers a callback invoked for every ICE
	// candidate addressed to the local participant.
	OnICECandidate(cb func(candidate Candidate, from wire.PlayerId)) Unsubscribe

	// OnRoster registers a callback invoked whenever the relay
	// publishes an updated room roster.
	OnRoster(cb func(roster []wire.PlayerId)) Unsubscribe

	// Close releases the adapter's resources. Optional in spirit but
	// always safe to call; implementations with nothing to release
	// treat it as a no-op.
	Close() error
}
