package websocket

import (
	"encoding/json"
	"sync"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/rs/zerolog"
)

type FeedKind string

const (
	FeedRoom     FeedKind = "room"
	FeedMessages FeedKind = "messages"
)

// FeedKey names one stream of snapshots: either a room document or its
// message log.
type FeedKey struct {
	Kind   FeedKind
	RoomID string
}

func (k FeedKey) String() string {
	return string(k.Kind) + ":" + k.RoomID
}

// feed holds a single store subscription shared by every client watching
// the same key, plus the last frame so late joiners start from it.
type feed struct {
	clients     map[*Client]bool
	unsubscribe repository.Unsubscribe
	last        []byte
}

// frame carries the feed that produced it. A watcher from a feed that has
// since closed may still publish, and its frames must not reach a newer feed
// opened for the same key.
type frame struct {
	key  FeedKey
	feed *feed
	data []byte
}

type Hub struct {
	store      repository.Store
	feeds      map[FeedKey]*feed
	register   chan *Client
	unregister chan *Client
	broadcast  chan frame
	stop       chan struct{}
	done       chan struct{}
	stopped    bool
	mu         sync.RWMutex
	log        zerolog.Logger
}

func NewHub(store repository.Store, log zerolog.Logger) *Hub {
	return &Hub{
		store:      store,
		feeds:      make(map[FeedKey]*feed),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan frame),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for key, f := range h.feeds {
				f.unsubscribe()
				for client := range f.clients {
					client.close()
				}
				delete(h.feeds, key)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case fr := <-h.broadcast:
			h.fanOut(fr)
		}
	}
}

// Stop shuts down the hub and blocks until Run has exited.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	close(h.stop)
	<-h.done
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// FeedCount reports how many store subscriptions are open.
func (h *Hub) FeedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.feeds)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok := h.feeds[client.feed]
	if !ok {
		f = &feed{clients: make(map[*Client]bool)}
		h.feeds[client.feed] = f
		f.unsubscribe = h.subscribe(client.feed, f)
		h.log.Debug().Str("feed", client.feed.String()).Msg("feed opened")
	}
	f.clients[client] = true

	if f.last != nil {
		h.trySend(f, client, f.last)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok := h.feeds[client.feed]
	if !ok || !f.clients[client] {
		return
	}
	delete(f.clients, client)
	client.close()
	h.closeIfIdle(client.feed, f)
}

func (h *Hub) fanOut(fr frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok := h.feeds[fr.key]
	if !ok || f != fr.feed {
		return
	}
	f.last = fr.data
	for client := range f.clients {
		h.trySend(f, client, fr.data)
	}
	h.closeIfIdle(fr.key, f)
}

// trySend drops clients whose buffer is full. Every frame is a full
// snapshot, so a reconnecting client loses nothing.
func (h *Hub) trySend(f *feed, client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.log.Warn().Str("feed", client.feed.String()).Msg("dropping slow client")
		delete(f.clients, client)
		client.close()
	}
}

func (h *Hub) closeIfIdle(key FeedKey, f *feed) {
	if len(f.clients) > 0 {
		return
	}
	f.unsubscribe()
	delete(h.feeds, key)
	h.log.Debug().Str("feed", key.String()).Msg("feed closed")
}

func (h *Hub) subscribe(key FeedKey, f *feed) repository.Unsubscribe {
	switch key.Kind {
	case FeedMessages:
		return h.store.WatchMessages(key.RoomID, func(messages []domain.ChatMessage, err error) {
			if err != nil {
				h.publishError(key, f, err)
				return
			}
			if messages == nil {
				messages = []domain.ChatMessage{}
			}
			h.publish(key, f, MessageTypeMessagesSnapshot, MessagesSnapshotPayload{Messages: messages})
		})
	default:
		return h.store.WatchRoom(key.RoomID, func(room *domain.Room, err error) {
			if err != nil {
				h.publishError(key, f, err)
				return
			}
			h.publish(key, f, MessageTypeRoomSnapshot, RoomSnapshotPayload{Room: room})
		})
	}
}

func (h *Hub) publishError(key FeedKey, f *feed, err error) {
	h.log.Warn().Err(err).Str("feed", key.String()).Msg("feed reload failed")
	h.publish(key, f, MessageTypeError, ErrorPayload{Code: ErrorCode(err), Message: err.Error()})
}

func (h *Hub) publish(key FeedKey, f *feed, msgType MessageType, payload interface{}) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		h.log.Error().Err(err).Str("feed", key.String()).Msg("encode snapshot")
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("feed", key.String()).Msg("encode frame")
		return
	}

	select {
	case h.broadcast <- frame{key: key, feed: f, data: data}:
	case <-h.stop:
	}
}
