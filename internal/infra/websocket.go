package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pixelponies/pvp/internal/domain"
)

// WSHub fans match events out to WebSocket subscribers, one room per
// match. The hub also remembers the last view snapshot per room and
// replays it to new joiners, so a subscriber never starts blind waiting
// for the next tick.
type WSHub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*WSConn // room -> connID -> conn
	lastView map[string][]byte
	closed   bool
	logger   *slog.Logger
}

// WSConn represents one subscriber connection (abstracted for testability).
type WSConn struct {
	ID   string
	Send chan []byte
}

// NewWSHub creates a hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		rooms:    make(map[string]map[string]*WSConn),
		lastView: make(map[string][]byte),
		logger:   logger,
	}
}

// MatchRoom names the room for one match.
func MatchRoom(id domain.MatchID) string {
	return "match:" + id.String()
}

// Join adds a connection to a room and replays the latest view
// snapshot, if one exists.
func (h *WSHub) Join(room string, conn *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*WSConn)
	}
	h.rooms[room][conn.ID] = conn

	if snapshot := h.lastView[room]; snapshot != nil {
		select {
		case conn.Send <- snapshot:
		default:
		}
	}
}

// Leave removes a connection from a room.
func (h *WSHub) Leave(room string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// PublishEvent delivers a match event to its room. Slow consumers are
// skipped, not waited on; the next snapshot supersedes anything missed.
// Sends happen under the same mutex Shutdown closes channels under, so
// a publish can never race a close.
func (h *WSHub) PublishEvent(ev domain.MatchEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("ws marshal error", "error", err, "type", ev.Type)
		return
	}
	room := MatchRoom(ev.MatchID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if ev.Type == domain.EventViewUpdated {
		h.lastView[room] = payload
	}
	for _, conn := range h.rooms[room] {
		select {
		case conn.Send <- payload:
		default:
			h.logger.Warn("ws send buffer full, dropping", "connID", conn.ID, "room", room)
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *WSHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conns := range h.rooms {
		count += len(conns)
	}
	return count
}

// Forget drops the cached snapshot for a match, e.g. on unfollow.
func (h *WSHub) Forget(id domain.MatchID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastView, MatchRoom(id))
}

// Shutdown closes all connections. Later publishes and joins become
// no-ops.
func (h *WSHub) Shutdown(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for room, conns := range h.rooms {
		for _, conn := range conns {
			close(conn.Send)
		}
		delete(h.rooms, room)
	}
}
