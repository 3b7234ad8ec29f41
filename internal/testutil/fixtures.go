package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/google/uuid"
)

var codeSeq atomic.Int64

// UniqueRoomCode returns a valid code that no other fixture in this process
// has used.
func UniqueRoomCode() string {
	return fmt.Sprintf("T%05d", codeSeq.Add(1)%100000)
}

// RoomBuilder helps create test rooms
type RoomBuilder struct {
	room *domain.Room
}

// NewRoomBuilder starts a lobby with a host called "Host".
func NewRoomBuilder() *RoomBuilder {
	host := domain.Player{ID: uuid.NewString(), Name: "Host", IsHost: true}
	return &RoomBuilder{
		room: domain.NewRoom(UniqueRoomCode(), host, time.Now().UnixMilli()),
	}
}

func (b *RoomBuilder) WithCode(code string) *RoomBuilder {
	b.room.ID = code
	return b
}

func (b *RoomBuilder) WithStatus(status domain.RoomStatus) *RoomBuilder {
	b.room.Status = status
	return b
}

// WithPlayer adds a non-host player.
func (b *RoomBuilder) WithPlayer(name string) *RoomBuilder {
	b.room.Players = append(b.room.Players, domain.Player{ID: uuid.NewString(), Name: name})
	return b
}

// WithTopic adds a topic authored by the player at index author.
func (b *RoomBuilder) WithTopic(author int, text string, masks ...int) *RoomBuilder {
	b.room.Topics = append(b.room.Topics, domain.Topic{
		ID:           uuid.NewString(),
		AuthorID:     b.room.Players[author].ID,
		OriginalText: text,
		MaskIndices:  domain.SanitizeMaskIndices(text, masks),
	})
	return b
}

func (b *RoomBuilder) WithSettings(settings domain.Settings) *RoomBuilder {
	b.room.Settings = settings
	return b
}

// Room returns a copy of the room built so far without storing it.
func (b *RoomBuilder) Room() *domain.Room {
	return b.room.Clone()
}

// Build stores the room and returns the stored copy.
func (b *RoomBuilder) Build(t *testing.T, store repository.RoomStore) *domain.Room {
	t.Helper()

	room := b.room.Clone()
	if err := store.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	return room
}
