package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pixelponies/pvp/internal/infra"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon serves a local UI; origin enforcement happens at the
	// CORS layer for the REST routes and is not repeated here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SubscribeMatch upgrades to WebSocket and streams the match's events.
// The latest view snapshot is replayed on join, then every event as it
// happens. The client sends nothing meaningful; its messages are read
// only to service pings and detect the close.
func (h *Handler) SubscribeMatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.matchID(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	h.controller.Follow(h.baseCtx, id)

	wsConn := &infra.WSConn{ID: uuid.NewString(), Send: make(chan []byte, wsSendBuffer)}
	room := infra.MatchRoom(id)
	h.hub.Join(room, wsConn)
	h.logger.Info("ws subscriber joined", "match", id, "conn", wsConn.ID)

	go h.writePump(conn, wsConn)
	go h.readPump(conn, wsConn, room)
}

func (h *Handler) writePump(conn *websocket.Conn, wsConn *infra.WSConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-wsConn.Send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readPump(conn *websocket.Conn, wsConn *infra.WSConn, room string) {
	defer func() {
		h.hub.Leave(room, wsConn.ID)
		conn.Close()
		h.logger.Info("ws subscriber left", "conn", wsConn.ID)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
