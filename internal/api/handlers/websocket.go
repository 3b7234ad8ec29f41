package handlers

import (
	"net/http"

	"github.com/dom/news-unpacked/internal/websocket"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // participants join from phones on the LAN
	},
}

// WebSocketHandler upgrades feed requests. Each socket receives full
// snapshots of one room document or one message log.
type WebSocketHandler struct {
	hub *websocket.Hub
	log zerolog.Logger
}

func NewWebSocketHandler(hub *websocket.Hub, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		log: log.With().Str("handler", "ws").Logger(),
	}
}

func (h *WebSocketHandler) Room(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, websocket.FeedKey{Kind: websocket.FeedRoom, RoomID: roomID(r)})
}

func (h *WebSocketHandler) Messages(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, websocket.FeedKey{Kind: websocket.FeedMessages, RoomID: roomID(r)})
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, feed websocket.FeedKey) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("feed", feed.String()).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, feed)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
