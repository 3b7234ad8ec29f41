package repository

import (
	"context"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
)

// RoomListener receives the full room document on every change. A nil room
// with a nil error means the document does not exist (or was deleted).
type RoomListener func(room *domain.Room, err error)

// MessagesListener receives the full createdAt-ordered message log of a room.
type MessagesListener func(messages []domain.ChatMessage, err error)

// Unsubscribe detaches a listener. It is safe to call more than once.
type Unsubscribe func()

// RoomStore is the document-store surface for Room documents.
type RoomStore interface {
	// CreateRoom writes room only if no document with its id exists and
	// returns domain.ErrCreateConflict otherwise.
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, id string) (*domain.Room, error)
	// ReplaceRoom overwrites the whole document if its current version equals
	// expectedVersion and returns domain.ErrConflict otherwise.
	ReplaceRoom(ctx context.Context, room *domain.Room, expectedVersion int64) error
	PatchRoom(ctx context.Context, id string, patch domain.RoomPatch) error
	// AddTopic appends topic with set semantics: a topic id already present
	// is not added twice.
	AddTopic(ctx context.Context, id string, topic domain.Topic) error
	WatchRoom(id string, fn RoomListener) Unsubscribe
}

// MessageStore is the document-store surface for the messages sub-collection.
type MessageStore interface {
	// AppendMessage stores msg and assigns its CreatedAt.
	AppendMessage(ctx context.Context, roomID string, msg domain.ChatMessage) (domain.ChatMessage, error)
	ListMessages(ctx context.Context, roomID string) ([]domain.ChatMessage, error)
	WatchMessages(roomID string, fn MessagesListener) Unsubscribe
}

// Store bundles both surfaces of one backend.
type Store interface {
	RoomStore
	MessageStore
}

// Sweeper is implemented by server-side backends that can expire rooms.
type Sweeper interface {
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
