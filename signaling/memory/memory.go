// Package memory is an in-process signaling.Adapter backed by a shared
// Hub, used by tests and cmd/meshsim to run multiple sessions in one
// process without a network round trip. It mirrors the shape of the
// reference pack's in-process signaler (a shared map guarded by one
// mutex, fanning events out to registered participants) adapted to
// the push-based hook contract signaling.Adapter requires.
package memory

import (
	"sort"
	"sync"

	"github.com/aguiran/p2play-js/signaling"
	"github.com/aguiran/p2play-js/wire"
)

// Hub is a shared room: every Adapter constructed against the same Hub
// participates in one roster and can exchange descriptions and ICE
// candidates with every other participant.
type Hub struct {
	mu           sync.Mutex
	participants map[wire.PlayerId]*Adapter
}

// NewHub creates an empty room.
func NewHub() *Hub {
	return &Hub{participants: make(map[wire.PlayerId]*Adapter)}
}

func (h *Hub) roster() []wire.PlayerId {
	ids := make([]wire.PlayerId, 0, len(h.participants))
	for id := range h.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) broadcastRoster() {
	roster := h.roster()
	for _, participant := range h.participants {
		participant.deliverRoster(roster)
	}
}

// Adapter is one participant's view of a Hub.
type Adapter struct {
	hub     *Hub
	localID wire.PlayerId

	mu                sync.Mutex
	onRemoteDesc      []func(signaling.Description, wire.PlayerId)
	onICECandidate    []func(signaling.Candidate, wire.PlayerId)
	onRoster          []func([]wire.PlayerId)
	registered        bool
}

// NewAdapter constructs an Adapter for localID on hub. Register must
// be called before the adapter takes part in the room.
func NewAdapter(hub *Hub, localID wire.PlayerId) *Adapter {
	return &Adapter{hub: hub, localID: localID}
}

var _ signaling.Adapter = (*Adapter)(nil)

func (a *Adapter) LocalID() wire.PlayerId { return a.localID }

func (a *Adapter) Register() error {
	a.hub.mu.Lock()
	a.hub.participants[a.localID] = a
	a.hub.mu.Unlock()

	a.mu.Lock()
	a.registered = true
	a.mu.Unlock()

	a.hub.broadcastRoster()
	return nil
}

func (a *Adapter) Announce(desc signaling.Description, to wire.PlayerId) error {
	a.hub.mu.Lock()
	target, ok := a.hub.participants[to]
	a.hub.mu.Unlock()
	if !ok {
		return nil
	}
	target.deliverDescription(desc, a.localID)
	return nil
}

func (a *Adapter) SendICECandidate(candidate signaling.Candidate, to wire.PlayerId) error {
	a.hub.mu.Lock()
	target, ok := a.hub.participants[to]
	a.hub.mu.Unlock()
	if !ok {
		return nil
	}
	target.deliverICECandidate(candidate, a.localID)
	return nil
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

// Close removes this participant from the hub and rebroadcasts the
// updated roster, mirroring the reference relay's disconnect handling.
func (a *Adapter) Close() error {
	a.hub.mu.Lock()
	delete(a.hub.participants, a.localID)
	a.hub.mu.Unlock()
	a.hub.broadcastRoster()
	return nil
}

func (a *Adapter) deliverDescription(desc signaling.Description, from wire.PlayerId) {
	a.mu.Lock()
	callbacks := append([]func(signaling.Description, wire.PlayerId){}, a.onRemoteDesc...)
	a.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(desc, from)
		}
	}
}

func (a *Adapter) deliverICECandidate(candidate signaling.Candidate, from wire.PlayerId) {
	a.mu.Lock()
	callbacks := append([]func(signaling.Candidate, wire.PlayerId){}, a.onICECandidate...)
	a.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(candidate, from)
		}
	}
}

func (a *Adapter) deliverRoster(roster []wire.PlayerId) {
	a.mu.Lock()
	callbacks := append([]func([]wire.PlayerId){}, a.onRoster...)
	a.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(roster)
		}
	}
}
