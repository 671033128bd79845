package wsrelay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aguiran/p2play-js/wire"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	outboxSize   = 32
)

// Server is the reference signaling relay: an http.Handler that
// upgrades to websocket and rooms connections by roomId.
type Server struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

// room holds every connected socket for one roomId, keyed by the id
// each socket announced with register.
type room struct {
	roster map[wire.PlayerId]*connection
}

type connection struct {
	id  wire.PlayerId
	out chan []byte
}

// NewServer constructs a relay server. Pass nil for logger to use
// slog.Default().
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8 * 1024,
			WriteBufferSize: 8 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// Handler returns the http.HandlerFunc to mount at the relay's
// websocket endpoint.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.serveConnection(conn)
	}
}

func (s *Server) serveConnection(conn *websocket.Conn) {
	out := make(chan []byte, outboxSize)
	done := make(chan struct{})
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(done) }) }

	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-out:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					stop()
					return
				}
			}
		}
	}()

	var roomID string
	var localID wire.PlayerId

	defer func() {
		stop()
		if roomID != "" && localID != "" {
			s.evict(roomID, localID)
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			s.logger.Debug("wsrelay: dropping malformed envelope", "err", err)
			continue
		}
		if envelope.RoomID == "" || envelope.From == "" {
			continue
		}

		roomID = envelope.RoomID
		localID = envelope.From
		s.register(roomID, localID, out)
		s.route(envelope)
	}
}

func (s *Server) register(roomID string, id wire.PlayerId, out chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{roster: make(map[wire.PlayerId]*connection)}
		s.rooms[roomID] = r
	}
	if _, exists := r.roster[id]; !exists {
		r.roster[id] = &connection{id: id, out: out}
		s.broadcastRosterLocked(roomID, r)
	}
}

func (s *Server) route(envelope Envelope) {
	s.mu.Lock()
	r, ok := s.rooms[envelope.RoomID]
	if !ok {
		s.mu.Unlock()
		return
	}

	if envelope.Announce {
		s.broadcastRosterLocked(envelope.RoomID, r)
		s.mu.Unlock()
		return
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		s.mu.Unlock()
		return
	}

	if envelope.To != "" {
		if target, exists := r.roster[envelope.To]; exists {
			enqueue(target.out, raw)
		}
		s.mu.Unlock()
		return
	}

	targets := make([]*connection, 0, len(r.roster))
	for id, c := range r.roster {
		if id != envelope.From {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		enqueue(c.out, raw)
	}
}

func (s *Server) evict(roomID string, id wire.PlayerId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(r.roster, id)
	if len(r.roster) == 0 {
		delete(s.rooms, roomID)
		return
	}
	s.broadcastRosterLocked(roomID, r)
}

// broadcastRosterLocked publishes the current roster to every socket
// in the room. Callers must hold s.mu.
func (s *Server) broadcastRosterLocked(roomID string, r *room) {
	roster := make([]wire.PlayerId, 0, len(r.roster))
	for id := range r.roster {
		roster = append(roster, id)
	}
	msg, err := json.Marshal(rosterMessage{Sys: "roster", RoomID: roomID, Roster: roster})
	if err != nil {
		return
	}
	for _, c := range r.roster {
		enqueue(c.out, msg)
	}
}

// enqueue drops the message rather than blocking a slow reader; the
// relay is a best-effort forwarding layer, not a durable queue.
func enqueue(out chan []byte, msg []byte) {
	select {
	case out <- msg:
	default:
	}
}
