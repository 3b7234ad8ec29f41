package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/websocket"
	gorillaWS "github.com/gorilla/websocket"
)

func (s *Store) WatchRoom(id string, fn repository.RoomListener) repository.Unsubscribe {
	return s.watch(roomPath(id)+"/ws", func(msg *websocket.Message) {
		var payload websocket.RoomSnapshotPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			fn(nil, fmt.Errorf("%w: decode room snapshot: %v", domain.ErrTransport, err))
			return
		}
		fn(payload.Room, nil)
	}, func(err error) {
		fn(nil, err)
	})
}

func (s *Store) WatchMessages(roomID string, fn repository.MessagesListener) repository.Unsubscribe {
	return s.watch(roomPath(roomID)+"/messages/ws", func(msg *websocket.Message) {
		var payload websocket.MessagesSnapshotPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			fn(nil, fmt.Errorf("%w: decode messages snapshot: %v", domain.ErrTransport, err))
			return
		}
		if payload.Messages == nil {
			payload.Messages = []domain.ChatMessage{}
		}
		fn(payload.Messages, nil)
	}, func(err error) {
		fn(nil, err)
	})
}

// subscription keeps one feed socket open until cancelled, reconnecting with
// exponential backoff. Every frame is a full snapshot so nothing needs to be
// replayed after a reconnect.
type subscription struct {
	store    *Store
	endpoint string
	onFrame  func(*websocket.Message)
	onError  func(error)

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	conn   *gorillaWS.Conn
}

func (s *Store) watch(path string, onFrame func(*websocket.Message), onError func(error)) repository.Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		store:    s,
		endpoint: wsURL(s.baseURL) + apiPrefix + path,
		onFrame:  onFrame,
		onError:  onError,
		ctx:      ctx,
		cancel:   cancel,
	}
	go sub.run()

	var once sync.Once
	return func() {
		once.Do(sub.stop)
	}
}

func (sub *subscription) stop() {
	sub.cancel()
	sub.mu.Lock()
	if sub.conn != nil {
		sub.conn.Close()
	}
	sub.mu.Unlock()
}

func (sub *subscription) run() {
	backoff := sub.store.minBackoff
	for {
		delivered, err := sub.session()
		if sub.ctx.Err() != nil {
			return
		}
		if delivered {
			backoff = sub.store.minBackoff
		}
		sub.store.log.Debug().Err(err).Str("endpoint", sub.endpoint).Dur("retry_in", backoff).Msg("feed disconnected")
		sub.onError(fmt.Errorf("%w: %v", domain.ErrTransport, err))

		select {
		case <-sub.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > sub.store.maxBackoff {
			backoff = sub.store.maxBackoff
		}
	}
}

// session runs one connection until it fails. delivered reports whether at
// least one frame arrived.
func (sub *subscription) session() (delivered bool, err error) {
	conn, _, err := sub.store.dialer.DialContext(sub.ctx, sub.endpoint, nil)
	if err != nil {
		return false, err
	}

	sub.mu.Lock()
	if sub.ctx.Err() != nil {
		sub.mu.Unlock()
		conn.Close()
		return false, sub.ctx.Err()
	}
	sub.conn = conn
	sub.mu.Unlock()

	defer func() {
		sub.mu.Lock()
		sub.conn = nil
		sub.mu.Unlock()
		conn.Close()
	}()

	// The server pings; answering keeps the read deadline moving.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return conn.WriteControl(gorillaWS.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var msg websocket.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return delivered, fmt.Errorf("decode frame: %w", err)
		}
		if sub.ctx.Err() != nil {
			return delivered, sub.ctx.Err()
		}

		delivered = true
		switch msg.Type {
		case websocket.MessageTypeError:
			var payload websocket.ErrorPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return delivered, fmt.Errorf("decode error frame: %w", err)
			}
			sub.onError(websocket.ErrorFromPayload(payload))
		default:
			sub.onFrame(&msg)
		}
	}
}

func wsURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.Replace(base, "http", "ws", 1)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
