// Package memory is an in-process document store. It honours the same
// create-if-absent, versioned replace and snapshot delivery contracts as
// the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/repository/notify"
)

type Store struct {
	mu       sync.RWMutex
	rooms    map[string]*domain.Room
	messages map[string][]domain.ChatMessage
	updated  map[string]time.Time
	notifier notify.Notifier
	now      func() time.Time
}

// NewStore creates an empty store. A nil notifier gets an in-process one.
func NewStore(notifier notify.Notifier) *Store {
	if notifier == nil {
		notifier = notify.NewLocal()
	}
	return &Store{
		rooms:    make(map[string]*domain.Room),
		messages: make(map[string][]domain.ChatMessage),
		updated:  make(map[string]time.Time),
		notifier: notifier,
		now:      time.Now,
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	s.mu.Lock()
	if _, exists := s.rooms[room.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("room %s: %w", room.ID, domain.ErrCreateConflict)
	}
	stored := room.Clone()
	stored.Version = 1
	s.rooms[room.ID] = stored
	s.updated[room.ID] = s.now()
	s.mu.Unlock()

	room.Version = 1
	return s.notifier.Publish(ctx, notify.RoomChannel(room.ID))
}

func (s *Store) GetRoom(_ context.Context, id string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	return room.Clone(), nil
}

func (s *Store) ReplaceRoom(ctx context.Context, room *domain.Room, expectedVersion int64) error {
	s.mu.Lock()
	current, ok := s.rooms[room.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("room %s: %w", room.ID, domain.ErrRoomNotFound)
	}
	if current.Version != expectedVersion {
		s.mu.Unlock()
		return fmt.Errorf("room %s at version %d, expected %d: %w", room.ID, current.Version, expectedVersion, domain.ErrConflict)
	}
	stored := room.Clone()
	stored.Version = current.Version + 1
	s.rooms[room.ID] = stored
	s.updated[room.ID] = s.now()
	s.mu.Unlock()

	return s.notifier.Publish(ctx, notify.RoomChannel(room.ID))
}

func (s *Store) PatchRoom(ctx context.Context, id string, patch domain.RoomPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, id, func(room *domain.Room) bool {
		patch.Apply(room)
		return true
	})
}

func (s *Store) AddTopic(ctx context.Context, id string, topic domain.Topic) error {
	return s.mutate(ctx, id, func(room *domain.Room) bool {
		return room.AddTopic(topic)
	})
}

func (s *Store) mutate(ctx context.Context, id string, fn func(room *domain.Room) bool) error {
	s.mu.Lock()
	current, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	next := current.Clone()
	if !fn(next) {
		s.mu.Unlock()
		return nil
	}
	next.Version = current.Version + 1
	s.rooms[id] = next
	s.updated[id] = s.now()
	s.mu.Unlock()

	return s.notifier.Publish(ctx, notify.RoomChannel(id))
}

// DeleteRoom removes a room and its messages. Clients never delete rooms;
// this exists for retention sweeps and tests.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.rooms, id)
	delete(s.messages, id)
	delete(s.updated, id)
	s.mu.Unlock()

	return s.notifier.Publish(ctx, notify.RoomChannel(id))
}

// DeleteInactiveBefore sweeps rooms not written since cutoff.
func (s *Store) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	var stale []string
	for id, at := range s.updated {
		if at.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		if err := s.DeleteRoom(ctx, id); err != nil {
			return 0, err
		}
	}
	return int64(len(stale)), nil
}

func (s *Store) WatchRoom(id string, fn repository.RoomListener) repository.Unsubscribe {
	w := repository.NewWatcher(
		func(ctx context.Context) (*domain.Room, error) {
			s.mu.RLock()
			defer s.mu.RUnlock()
			return s.rooms[id].Clone(), nil
		},
		repository.SameRoom,
		fn,
	)
	cancel := s.notifier.Subscribe(notify.RoomChannel(id), w.Poke)
	w.Start()
	return func() {
		cancel()
		w.Stop()
	}
}

func (s *Store) AppendMessage(ctx context.Context, roomID string, msg domain.ChatMessage) (domain.ChatMessage, error) {
	s.mu.Lock()
	if _, ok := s.rooms[roomID]; !ok {
		s.mu.Unlock()
		return domain.ChatMessage{}, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	log := s.messages[roomID]
	msg.CreatedAt = s.now().UnixMilli()
	if n := len(log); n > 0 && log[n-1].CreatedAt > msg.CreatedAt {
		msg.CreatedAt = log[n-1].CreatedAt
	}
	msg = msg.Clone()
	s.messages[roomID] = append(log, msg)
	s.mu.Unlock()

	return msg, s.notifier.Publish(ctx, notify.MessagesChannel(roomID))
}

func (s *Store) ListMessages(_ context.Context, roomID string) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[roomID]
	out := make([]domain.ChatMessage, len(log))
	for i, msg := range log {
		out[i] = msg.Clone()
	}
	return out, nil
}

func (s *Store) WatchMessages(roomID string, fn repository.MessagesListener) repository.Unsubscribe {
	w := repository.NewWatcher(
		func(ctx context.Context) ([]domain.ChatMessage, error) {
			return s.ListMessages(ctx, roomID)
		},
		repository.SameMessages,
		fn,
	)
	cancel := s.notifier.Subscribe(notify.MessagesChannel(roomID), w.Poke)
	w.Start()
	return func() {
		cancel()
		w.Stop()
	}
}
